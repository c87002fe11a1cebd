package connmgr

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flock/internal/automation"
)

type fakeHandle struct {
	mu         sync.Mutex
	classifyFn func() (automation.ScreenState, error)
	closed     bool
}

func (h *fakeHandle) LaunchApp(context.Context, string) error { return nil }
func (h *fakeHandle) ClassifyScreen(context.Context) (automation.ScreenState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.classifyFn != nil {
		return h.classifyFn()
	}
	return automation.ScreenHome, nil
}
func (h *fakeHandle) Perform(context.Context, automation.Gesture) error { return nil }
func (h *fakeHandle) InputText(context.Context, string) error           { return nil }
func (h *fakeHandle) Capture(context.Context) ([]byte, error)           { return []byte{1}, nil }
func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

type fakeDriver struct {
	mu         sync.Mutex
	connectErr []error // исходы Connect по порядку вызовов
	calls      int
	hardResets int
	handle     *fakeHandle
}

func (d *fakeDriver) Connect(context.Context, string) (automation.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.calls
	d.calls++
	if i < len(d.connectErr) && d.connectErr[i] != nil {
		return nil, d.connectErr[i]
	}
	if d.handle == nil {
		d.handle = &fakeHandle{}
	}
	return d.handle, nil
}

func (d *fakeDriver) Reset(_ context.Context, _ string, hard bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if hard {
		d.hardResets++
	}
	return nil
}

func testConfig() Config {
	return Config{
		SettleDelay:   time.Millisecond,
		ReadyInterval: time.Millisecond,
		ReadyRetries:  3,
	}
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestAcquireRelease(t *testing.T) {
	d := &fakeDriver{}
	m := New(d, testConfig(), testLog())

	h, err := m.Acquire(context.Background(), "dev1", "127.0.0.1:5555")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.True(t, m.Leased("dev1"))

	// устройство занято вторым владельцем
	_, err = m.Acquire(context.Background(), "dev1", "127.0.0.1:5555")
	assert.ErrorIs(t, err, ErrDeviceLeased)

	m.Release("dev1")
	assert.False(t, m.Leased("dev1"))
	// повторный Release — no-op
	m.Release("dev1")

	_, err = m.Acquire(context.Background(), "dev1", "127.0.0.1:5555")
	require.NoError(t, err)
}

func TestAcquireHardResetRetry(t *testing.T) {
	d := &fakeDriver{connectErr: []error{errors.New("offline")}}
	m := New(d, testConfig(), testLog())

	h, err := m.Acquire(context.Background(), "dev1", "emulator-5554")
	require.NoError(t, err)
	require.NotNil(t, h)
	// вторая попытка шла после жёсткого reset
	assert.Equal(t, 1, d.hardResets)
}

func TestAcquireReadinessFlaky(t *testing.T) {
	// connect проходит, готовность падает дважды и затем успех —
	// всё внутри одного Acquire, наружу ошибок нет
	fails := 2
	h := &fakeHandle{}
	h.classifyFn = func() (automation.ScreenState, error) {
		if fails > 0 {
			fails--
			return automation.ScreenUnknown, errors.New("uiautomator not ready")
		}
		return automation.ScreenHome, nil
	}
	d := &fakeDriver{handle: h}
	m := New(d, testConfig(), testLog())

	got, err := m.Acquire(context.Background(), "dev1", "emulator-5554")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, d.calls)
}

func TestAcquireSurfacesConnectionError(t *testing.T) {
	d := &fakeDriver{connectErr: []error{errors.New("down"), errors.New("still down")}}
	m := New(d, testConfig(), testLog())

	_, err := m.Acquire(context.Background(), "dev1", "10.0.0.7:5555")
	require.Error(t, err)
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "dev1", ce.DeviceID)
}

func TestProbe(t *testing.T) {
	d := &fakeDriver{}
	m := New(d, testConfig(), testLog())

	// свободное устройство: короткий connect + классификация
	assert.True(t, m.Probe(context.Background(), "dev1", "emulator-5554"))

	// занятое устройство живо по определению, connect не дёргаем
	_, err := m.Acquire(context.Background(), "dev1", "emulator-5554")
	require.NoError(t, err)
	before := d.calls
	assert.True(t, m.Probe(context.Background(), "dev1", "emulator-5554"))
	assert.Equal(t, before, d.calls)
}

func TestProbeUnreachable(t *testing.T) {
	d := &fakeDriver{connectErr: []error{errors.New("offline"), errors.New("offline")}}
	m := New(d, testConfig(), testLog())
	assert.False(t, m.Probe(context.Background(), "dev1", "10.0.0.7:5555"))
}

func TestHealthCheck(t *testing.T) {
	d := &fakeDriver{}
	m := New(d, testConfig(), testLog())
	h, err := m.Acquire(context.Background(), "dev1", "emulator-5554")
	require.NoError(t, err)
	assert.True(t, m.HealthCheck(context.Background(), h))

	bad := &fakeHandle{classifyFn: func() (automation.ScreenState, error) {
		return automation.ScreenUnknown, errors.New("gone")
	}}
	assert.False(t, m.HealthCheck(context.Background(), bad))
}
