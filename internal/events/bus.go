package events

import (
	"sync"
	"time"
)

// Типы событий. Публикуются синхронно с переходом состояния; доставку
// наружу делает websocket-хаб, ядру она безразлична.
type Type string

const (
	DeviceConnected    Type = "device_connected"
	DeviceDisconnected Type = "device_disconnected"
	SessionStarted     Type = "session_started"
	SessionStopped     Type = "session_stopped"
	SessionFaulted     Type = "session_faulted"
	TaskCompleted      Type = "task_completed"
	TaskAbandoned      Type = "task_abandoned"
)

type Event struct {
	Type       Type      `json:"type"`
	DeviceUUID string    `json:"device_uuid,omitempty"`
	Username   string    `json:"username,omitempty"`
	TaskUUID   string    `json:"task_uuid,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// Bus — внутрипроцессная шина. Publish не блокируется на медленных
// подписчиках: переполненный канал пропускает событие.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe возвращает канал событий и функцию отписки.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, 64)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}
