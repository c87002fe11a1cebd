package orch

import (
	"sync"

	"flock/internal/engine"
)

// Registry — устройство → работающий движок. Запись/снятие идут под
// замком конкретного устройства: цикл опроса и ручные start/stop не
// гоняются между собой, а несвязанные устройства не сериализуются.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu  sync.Mutex
	eng *engine.Engine
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

func (r *Registry) entry(deviceID string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[deviceID]
	if !ok {
		e = &entry{}
		r.entries[deviceID] = e
	}
	return e
}

// Get — текущий движок устройства (nil, если нет).
func (r *Registry) Get(deviceID string) *engine.Engine {
	e := r.entry(deviceID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.eng
}

// Leased — занято ли устройство движком; реализует sched.LeaseChecker.
func (r *Registry) Leased(deviceID string) bool {
	return r.Get(deviceID) != nil
}

// clear снимает регистрацию, только если там всё ещё ожидаемый движок.
func (r *Registry) clear(deviceID string, eng *engine.Engine) {
	e := r.entry(deviceID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.eng == eng {
		e.eng = nil
	}
}

// Snapshot — копия отображения для статуса и общей остановки.
func (r *Registry) Snapshot() map[string]*engine.Engine {
	r.mu.Lock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	out := make(map[string]*engine.Engine)
	for _, k := range keys {
		if eng := r.Get(k); eng != nil {
			out[k] = eng
		}
	}
	return out
}
