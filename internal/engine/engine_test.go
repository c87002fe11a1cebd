package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flock/internal/actions"
	"flock/internal/automation"
	"flock/internal/connmgr"
	"flock/internal/events"
	"flock/internal/models"
	"flock/internal/repo"
	"flock/internal/secrets"
)

type fakeHandle struct {
	mu     sync.Mutex
	screen automation.ScreenState
}

func (h *fakeHandle) LaunchApp(context.Context, string) error { return nil }
func (h *fakeHandle) ClassifyScreen(context.Context) (automation.ScreenState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.screen, nil
}
func (h *fakeHandle) Perform(context.Context, automation.Gesture) error { return nil }
func (h *fakeHandle) InputText(context.Context, string) error           { return nil }
func (h *fakeHandle) Capture(context.Context) ([]byte, error)           { return []byte{1}, nil }
func (h *fakeHandle) Close() error                                      { return nil }

type fakeConn struct {
	mu         sync.Mutex
	handle     automation.Handle
	acquireErr error
	releases   int
}

func (c *fakeConn) Acquire(context.Context, string, string) (automation.Handle, error) {
	if c.acquireErr != nil {
		return nil, c.acquireErr
	}
	return c.handle, nil
}

func (c *fakeConn) Release(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releases++
}

func (c *fakeConn) released() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.releases
}

// scriptedExec отдаёт ошибки по порядку вызовов, дальше успехи.
type scriptedExec struct {
	mu    sync.Mutex
	errs  []error
	idle  bool // ничего не делать: Performed == 0
	calls int
}

func (s *scriptedExec) Kind() string { return "noop" }
func (s *scriptedExec) Execute(context.Context, automation.Handle, *models.Identity, *models.IdentitySettings) (*actions.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if s.idle {
		return &actions.Outcome{Performed: 0, Detail: "nothing to do"}, nil
	}
	return &actions.Outcome{Performed: 1}, nil
}

func (s *scriptedExec) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fixture struct {
	eng      *Engine
	conn     *fakeConn
	exec     *scriptedExec
	sessions *repo.MemSessionStore
	alog     *repo.MemActionStore
	devices  *repo.MemDeviceStore
	dev      *models.Device
	bus      *events.Bus
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func newFixture(t *testing.T, screen automation.ScreenState, hour int, windows []models.Window) *fixture {
	t.Helper()
	f := &fixture{
		conn:     &fakeConn{handle: &fakeHandle{screen: screen}},
		exec:     &scriptedExec{},
		sessions: repo.NewMemSessionStore(),
		alog:     repo.NewMemActionStore(),
		devices:  repo.NewMemDeviceStore(),
		bus:      events.NewBus(),
	}
	dev, err := f.devices.Create(context.Background(), repo.DeviceInput{Name: "pixel", Address: "10.0.0.7:5555"})
	require.NoError(t, err)
	f.dev = dev
	id := models.Identity{ID: 1, Username: "alice", DeviceUUID: dev.UUID, Enabled: true}
	set := &models.IdentitySettings{
		EnabledActions: []string{"noop"},
		DailyLimits:    map[string]int{"noop": 1000},
	}
	picker := actions.NewPicker(actions.NewRegistry(f.exec), f.alog, nil)
	cfg := Config{
		CooldownMin:      time.Millisecond,
		CooldownMax:      2 * time.Millisecond,
		LoginAttempts:    3,
		AppSettle:        time.Millisecond,
		RecoveryAttempts: 2,
	}
	f.eng = New(*dev, id, set, windows, f.conn, picker, f.sessions, f.alog, f.devices,
		secrets.NewTOTPResolver(), f.bus, cfg, testLog())
	f.eng.SetClock(func() time.Time {
		return time.Date(2026, 3, 14, hour, 30, 0, 0, time.UTC)
	})
	return f
}

func TestRunCooperativeStop(t *testing.T) {
	f := newFixture(t, automation.ScreenHome, 10, []models.Window{{Start: 9, End: 17}})
	ch, cancel := f.bus.Subscribe()
	defer cancel()

	go f.eng.Run(context.Background())

	require.Eventually(t, func() bool { return f.exec.count() >= 2 },
		2*time.Second, time.Millisecond, "engine never reached active loop")

	// пока сессия жива, устройство в инвентаре числится подключённым
	d, err := f.devices.GetByUUID(context.Background(), f.dev.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.DeviceConnected, d.State)

	f.eng.Stop()
	select {
	case <-f.eng.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}

	assert.NoError(t, f.eng.Err())
	assert.Equal(t, StateStopped, f.eng.State())
	assert.Equal(t, 1, f.conn.released(), "lease released exactly once")

	rows := f.sessions.All()
	require.Len(t, rows, 1)
	assert.Equal(t, models.SessionCompleted, rows[0].Status)
	assert.GreaterOrEqual(t, rows[0].ActionsPerformed, 2)
	assert.Empty(t, rows[0].FaultClass)

	var sawConnected bool
	for {
		select {
		case e := <-ch:
			if e.Type == events.DeviceConnected {
				sawConnected = true
			}
			continue
		default:
		}
		break
	}
	assert.True(t, sawConnected, "device_connected published on acquire")
}

func TestRunAuthFault(t *testing.T) {
	f := newFixture(t, automation.ScreenChallenge, 10, []models.Window{{Start: 9, End: 17}})

	err := f.eng.Run(context.Background())
	require.Error(t, err)
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "alice", ae.Username)

	assert.Equal(t, StateFaulted, f.eng.State())
	assert.Equal(t, 1, f.conn.released())

	rows := f.sessions.All()
	require.Len(t, rows, 1)
	assert.Equal(t, models.SessionAborted, rows[0].Status)
	assert.Equal(t, FaultAuth, rows[0].FaultClass)
}

func TestRunConnectionFault(t *testing.T) {
	f := newFixture(t, automation.ScreenHome, 10, []models.Window{{Start: 9, End: 17}})
	f.conn.acquireErr = &connmgr.ConnectionError{DeviceID: "dev-1", Err: errors.New("offline")}

	err := f.eng.Run(context.Background())
	require.Error(t, err)
	var ce *connmgr.ConnectionError
	assert.ErrorAs(t, err, &ce)

	// лиза не было — и релиза быть не должно
	assert.Equal(t, 0, f.conn.released())

	rows := f.sessions.All()
	require.Len(t, rows, 1)
	assert.Equal(t, models.SessionAborted, rows[0].Status)
	assert.Equal(t, FaultConnection, rows[0].FaultClass)
}

func TestRunOutsideWindow(t *testing.T) {
	// логин прошёл, но час вне окна: штатное завершение без действий
	f := newFixture(t, automation.ScreenHome, 18, []models.Window{{Start: 9, End: 17}})

	err := f.eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateStopped, f.eng.State())
	assert.Equal(t, 0, f.exec.count())
	assert.Equal(t, 1, f.conn.released())

	rows := f.sessions.All()
	require.Len(t, rows, 1)
	assert.Equal(t, models.SessionCompleted, rows[0].Status)
}

func TestRunRecoversFromActionError(t *testing.T) {
	f := newFixture(t, automation.ScreenHome, 10, []models.Window{{Start: 9, End: 17}})
	f.exec.errs = []error{&actions.ActionError{Kind: "noop", Err: errors.New("element not found")}}

	go f.eng.Run(context.Background())

	require.Eventually(t, func() bool { return f.exec.count() >= 2 },
		2*time.Second, time.Millisecond)
	f.eng.Stop()
	select {
	case <-f.eng.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}

	// ошибка действия не валит сессию
	assert.NoError(t, f.eng.Err())
	rows := f.sessions.All()
	require.Len(t, rows, 1)
	assert.Equal(t, models.SessionCompleted, rows[0].Status)
	assert.Equal(t, 1, rows[0].ErrorsCount)
	assert.GreaterOrEqual(t, rows[0].ActionsPerformed, 1)
}

func TestSkippedActionRecorded(t *testing.T) {
	f := newFixture(t, automation.ScreenHome, 10, []models.Window{{Start: 9, End: 17}})
	f.exec.idle = true

	go f.eng.Run(context.Background())
	require.Eventually(t, func() bool { return f.exec.count() >= 1 },
		2*time.Second, time.Millisecond)
	f.eng.Stop()
	<-f.eng.Done()

	recs := f.alog.All()
	require.NotEmpty(t, recs)
	assert.Equal(t, models.OutcomeSkipped, recs[0].Outcome)
	assert.Equal(t, "nothing to do", recs[0].Detail)

	// skipped не ест дневной лимит
	n, err := f.alog.CountToday(context.Background(), f.dev.UUID, "alice", "noop")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunWithoutWindows(t *testing.T) {
	// пустые окна: ручной запуск, сессия живёт до явного стопа даже
	// вне любого расписания
	f := newFixture(t, automation.ScreenHome, 3, nil)
	f.eng.SetWindows(nil)

	go f.eng.Run(context.Background())
	require.Eventually(t, func() bool { return f.exec.count() >= 1 },
		2*time.Second, time.Millisecond, "engine exited instead of running unrestricted")
	f.eng.Stop()
	<-f.eng.Done()

	assert.NoError(t, f.eng.Err())
	rows := f.sessions.All()
	require.Len(t, rows, 1)
	assert.Equal(t, models.SessionCompleted, rows[0].Status)
}

func TestRunInternalFaultClass(t *testing.T) {
	f := newFixture(t, automation.ScreenHome, 10, []models.Window{{Start: 9, End: 17}})
	f.exec.errs = []error{errors.New("driver crashed")}

	err := f.eng.Run(context.Background())
	require.Error(t, err)

	rows := f.sessions.All()
	require.Len(t, rows, 1)
	assert.Equal(t, models.SessionAborted, rows[0].Status)
	assert.Equal(t, FaultInternal, rows[0].FaultClass)
	assert.Equal(t, 1, f.conn.released())
}
