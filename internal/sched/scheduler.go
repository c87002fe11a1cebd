package sched

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"flock/internal/events"
	"flock/internal/models"
)

var (
	ErrDeviceBusy  = errors.New("device busy")
	ErrUnknownKind = errors.New("unknown action kind")
)

// Политика для задачи на устройство с активной сессией движка.
type BusyPolicy string

const (
	BusyWait   BusyPolicy = "wait"   // задача ждёт освобождения лиза
	BusyReject BusyPolicy = "reject" // немедленный отказ DeviceBusy
)

type Config struct {
	MaxRetries   int
	BusyPolicy   BusyPolicy
	Workers      int
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BusyPolicy == "" {
		c.BusyPolicy = BusyWait
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	return c
}

// LeaseChecker — занято ли устройство сессией движка (реестр
// оркестратора или менеджер соединений).
type LeaseChecker interface {
	Leased(deviceID string) bool
}

// TaskLog — персистентность задач; очередь живёт в памяти, статусы
// уходят в стор на каждом переходе.
type TaskLog interface {
	Create(ctx context.Context, t *models.Task) error
	Update(ctx context.Context, t *models.Task) error
}

/* ───── приоритетная очередь ───── */

type item struct {
	task *models.Task
	seq  uint64 // порядок вставки — tie-break внутри приоритета
}

type taskHeap []*item

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)        { *h = append(*h, x.(*item)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

/* ───── планировщик ───── */

// Scheduler — очередь одиночных задач: приоритет, потом порядок
// вставки; не более одной running-задачи на устройство; ограниченные
// ретраи, дальше abandoned (никогда не теряется молча).
type Scheduler struct {
	cfg    Config
	store  TaskLog
	leases LeaseChecker
	bus    *events.Bus
	log    *logrus.Entry

	mu      sync.Mutex
	pq      taskHeap
	running map[string]string // deviceUUID → task UUID
	seq     uint64
}

func New(cfg Config, store TaskLog, leases LeaseChecker, bus *events.Bus, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		cfg:     cfg.withDefaults(),
		store:   store,
		leases:  leases,
		bus:     bus,
		log:     log,
		running: make(map[string]string),
	}
}

// Enqueue принимает задачу, выдаёт её id.
func (s *Scheduler) Enqueue(ctx context.Context, t *models.Task) (string, error) {
	if t.UUID == "" {
		t.UUID = uuid.NewString()
	}
	t.Status = models.TaskPending
	if err := s.store.Create(ctx, t); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.seq++
	heap.Push(&s.pq, &item{task: t, seq: s.seq})
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{"task": t.UUID, "kind": t.Kind, "device": t.DeviceUUID}).
		Debug("task enqueued")
	return t.UUID, nil
}

// NextRunnable отдаёт старшую задачу, которую можно запустить.
// deviceID == "" — любое устройство. Задача помечается running.
// Занятые устройства: политика wait пропускает, reject проваливает
// задачу сразу с DeviceBusy (в ретраи не идёт).
func (s *Scheduler) NextRunnable(ctx context.Context, deviceID string) *models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var skipped []*item
	var picked *models.Task
	for s.pq.Len() > 0 {
		it := heap.Pop(&s.pq).(*item)
		t := it.task
		if deviceID != "" && t.DeviceUUID != deviceID {
			skipped = append(skipped, it)
			continue
		}
		if _, busy := s.running[t.DeviceUUID]; busy {
			skipped = append(skipped, it)
			continue
		}
		if s.leases != nil && s.leases.Leased(t.DeviceUUID) {
			if s.cfg.BusyPolicy == BusyReject {
				t.Status = models.TaskFailed
				t.LastError = ErrDeviceBusy.Error()
				_ = s.store.Update(ctx, t)
				s.log.WithField("task", t.UUID).Warn("task rejected: device busy")
				continue
			}
			skipped = append(skipped, it)
			continue
		}
		picked = t
		break
	}
	for _, it := range skipped {
		heap.Push(&s.pq, it)
	}
	if picked == nil {
		return nil
	}
	picked.Status = models.TaskRunning
	s.running[picked.DeviceUUID] = picked.UUID
	_ = s.store.Update(ctx, picked)
	return picked
}

// Requeue возвращает задачу в pending без инкремента ретраев
// (устройство оказалось занято уже после выборки).
func (s *Scheduler) Requeue(ctx context.Context, t *models.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, t.DeviceUUID)
	t.Status = models.TaskPending
	_ = s.store.Update(ctx, t)
	s.seq++
	heap.Push(&s.pq, &item{task: t, seq: s.seq})
}

// MarkResult фиксирует исход. Неуспех ретраится до MaxRetries, каждая
// попытка уходит в хвост своего приоритета (не мгновенно, чтобы не
// молотить мёртвое устройство). Исчерпали — abandoned + событие.
func (s *Scheduler) MarkResult(ctx context.Context, t *models.Task, outcome error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, t.DeviceUUID)

	if outcome == nil {
		t.Status = models.TaskSucceeded
		t.LastError = ""
		_ = s.store.Update(ctx, t)
		s.bus.Publish(events.Event{Type: events.TaskCompleted, DeviceUUID: t.DeviceUUID, TaskUUID: t.UUID})
		return
	}

	t.LastError = outcome.Error()
	if t.RetryCount < s.cfg.MaxRetries {
		t.RetryCount++
		t.Status = models.TaskPending
		_ = s.store.Update(ctx, t)
		s.seq++
		heap.Push(&s.pq, &item{task: t, seq: s.seq})
		s.log.WithFields(logrus.Fields{"task": t.UUID, "retry": t.RetryCount}).
			Warn("task failed, requeued")
		return
	}

	t.Status = models.TaskAbandoned
	_ = s.store.Update(ctx, t)
	s.bus.Publish(events.Event{
		Type: events.TaskAbandoned, DeviceUUID: t.DeviceUUID, TaskUUID: t.UUID, Detail: t.LastError,
	})
	s.log.WithFields(logrus.Fields{"task": t.UUID, "error": t.LastError}).
		Error("task abandoned")
}

// Pending — размер очереди (для статуса/тестов).
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pq.Len()
}
