package sched

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flock/internal/events"
	"flock/internal/models"
	"flock/internal/repo"
)

type fakeLeases struct{ leased map[string]bool }

func (f *fakeLeases) Leased(id string) bool { return f.leased[id] }

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func newTestScheduler(cfg Config, leases LeaseChecker) (*Scheduler, *repo.MemTaskStore) {
	store := repo.NewMemTaskStore()
	s := New(cfg, store, leases, events.NewBus(), testLog())
	return s, store
}

func enqueue(t *testing.T, s *Scheduler, device, kind string, prio int) *models.Task {
	t.Helper()
	task := &models.Task{DeviceUUID: device, Kind: kind, Priority: prio}
	_, err := s.Enqueue(context.Background(), task)
	require.NoError(t, err)
	return task
}

func TestPriorityThenFIFO(t *testing.T) {
	s, _ := newTestScheduler(Config{}, nil)
	ctx := context.Background()

	a := enqueue(t, s, "d1", "like", 1)
	b := enqueue(t, s, "d2", "follow", 5)
	c := enqueue(t, s, "d3", "like", 5)

	first := s.NextRunnable(ctx, "")
	require.NotNil(t, first)
	assert.Equal(t, b.UUID, first.UUID, "higher priority first")

	second := s.NextRunnable(ctx, "")
	require.NotNil(t, second)
	assert.Equal(t, c.UUID, second.UUID, "same priority: insertion order")

	third := s.NextRunnable(ctx, "")
	require.NotNil(t, third)
	assert.Equal(t, a.UUID, third.UUID)
}

func TestOneRunningPerDevice(t *testing.T) {
	s, _ := newTestScheduler(Config{}, nil)
	ctx := context.Background()

	t1 := enqueue(t, s, "d1", "like", 0)
	enqueue(t, s, "d1", "follow", 0)

	got := s.NextRunnable(ctx, "")
	require.NotNil(t, got)
	assert.Equal(t, t1.UUID, got.UUID)

	// вторая задача того же устройства ждёт завершения первой
	assert.Nil(t, s.NextRunnable(ctx, ""))

	s.MarkResult(ctx, got, nil)
	next := s.NextRunnable(ctx, "")
	require.NotNil(t, next)
	assert.Equal(t, "follow", next.Kind)
}

func TestNextRunnableByDevice(t *testing.T) {
	s, _ := newTestScheduler(Config{}, nil)
	ctx := context.Background()

	enqueue(t, s, "d1", "like", 0)
	t2 := enqueue(t, s, "d2", "follow", 0)

	got := s.NextRunnable(ctx, "d2")
	require.NotNil(t, got)
	assert.Equal(t, t2.UUID, got.UUID)
	// d1 остался в очереди
	assert.Equal(t, 1, s.Pending())
}

func TestRetryBoundThenAbandoned(t *testing.T) {
	s, store := newTestScheduler(Config{MaxRetries: 3}, nil)
	ctx := context.Background()
	bus := s.bus
	ch, cancel := bus.Subscribe()
	defer cancel()

	task := enqueue(t, s, "d1", "like", 0)
	boom := errors.New("element not found")

	// ровно MaxRetries повторов, потом abandoned
	for i := 0; i < 4; i++ {
		got := s.NextRunnable(ctx, "")
		require.NotNil(t, got, "attempt %d", i)
		assert.Equal(t, task.UUID, got.UUID)
		s.MarkResult(ctx, got, boom)
	}
	assert.Nil(t, s.NextRunnable(ctx, ""), "abandoned task never requeued")

	rows, err := store.ListByStatus(ctx, models.TaskAbandoned, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].RetryCount)
	assert.Equal(t, boom.Error(), rows[0].LastError)

	// abandoned виден наружу событием
	var sawAbandoned bool
	for {
		select {
		case e := <-ch:
			if e.Type == events.TaskAbandoned {
				sawAbandoned = true
			}
			continue
		default:
		}
		break
	}
	assert.True(t, sawAbandoned)
}

func TestBusyWaitSkips(t *testing.T) {
	leases := &fakeLeases{leased: map[string]bool{"d1": true}}
	s, _ := newTestScheduler(Config{BusyPolicy: BusyWait}, leases)
	ctx := context.Background()

	task := enqueue(t, s, "d1", "like", 0)
	assert.Nil(t, s.NextRunnable(ctx, ""), "leased device: task waits")
	assert.Equal(t, 1, s.Pending())

	leases.leased["d1"] = false
	got := s.NextRunnable(ctx, "")
	require.NotNil(t, got)
	assert.Equal(t, task.UUID, got.UUID)
}

func TestBusyRejectFails(t *testing.T) {
	leases := &fakeLeases{leased: map[string]bool{"d1": true}}
	s, store := newTestScheduler(Config{BusyPolicy: BusyReject}, leases)
	ctx := context.Background()

	enqueue(t, s, "d1", "like", 0)
	assert.Nil(t, s.NextRunnable(ctx, ""))
	assert.Equal(t, 0, s.Pending(), "rejected task leaves the queue")

	rows, err := store.ListByStatus(ctx, models.TaskFailed, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ErrDeviceBusy.Error(), rows[0].LastError)
}

func TestRequeueKeepsRetryCount(t *testing.T) {
	s, _ := newTestScheduler(Config{}, nil)
	ctx := context.Background()

	task := enqueue(t, s, "d1", "like", 0)
	got := s.NextRunnable(ctx, "")
	require.NotNil(t, got)

	s.Requeue(ctx, got)
	again := s.NextRunnable(ctx, "")
	require.NotNil(t, again)
	assert.Equal(t, task.UUID, again.UUID)
	assert.Equal(t, 0, again.RetryCount)
}
