package actions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"flock/internal/automation"
	"flock/internal/models"
)

// Виды действий.
const (
	KindEngage   = "engage"
	KindFollow   = "follow"
	KindUnfollow = "unfollow"
	KindLike     = "like"
	KindScrape   = "scrape"
	KindStory    = "story"
)

// ActionError — восстановимая ошибка одного действия (элемент не
// найден, неожиданный попап). Движок делает bounded-восстановление и
// продолжает сессию, не завершая её.
type ActionError struct {
	Kind string
	Err  error
}

func (e *ActionError) Error() string { return fmt.Sprintf("action %s: %v", e.Kind, e.Err) }
func (e *ActionError) Unwrap() error { return e.Err }

// Outcome — результат одного выполнения.
type Outcome struct {
	Performed int    `json:"performed"`
	Detail    string `json:"detail,omitempty"`
}

// Executor — одна подключаемая стратегия действия. Потребляет хэндл
// автоматизации и настройки аккаунта; каждая стратегия отказоустойчива
// и ретраится независимо от остальных.
type Executor interface {
	Kind() string
	Execute(ctx context.Context, h automation.Handle, id *models.Identity, set *models.IdentitySettings) (*Outcome, error)
}

type Registry struct {
	mu     sync.RWMutex
	byKind map[string]Executor
}

func NewRegistry(execs ...Executor) *Registry {
	r := &Registry{byKind: make(map[string]Executor)}
	for _, e := range execs {
		r.byKind[e.Kind()] = e
	}
	return r
}

// DefaultRegistry — полный набор стратегий.
func DefaultRegistry() *Registry {
	return NewRegistry(
		&Engage{},
		&Follow{},
		&Unfollow{},
		&Like{},
		&Scrape{},
		&Story{},
	)
}

func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKind[e.Kind()] = e
}

func (r *Registry) Get(kind string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byKind[kind]
	return e, ok
}

func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.byKind))
	for k := range r.byKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
