package connmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"flock/internal/automation"
)

// ErrDeviceLeased — устройство уже занято другим владельцем.
var ErrDeviceLeased = errors.New("device already leased")

// ConnectionError — транзиентная ошибка подключения. Наружу уходит уже
// после внутренних ретраев менеджера: политика повторов живёт здесь,
// движок сам подключение не ретраит.
type ConnectionError struct {
	DeviceID string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("device %s: connection failed: %v", e.DeviceID, e.Err)
}
func (e *ConnectionError) Unwrap() error { return e.Err }

type Config struct {
	SettleDelay   time.Duration // пауза после reset перед connect
	ReadyInterval time.Duration // шаг опроса готовности
	ReadyRetries  uint64        // сколько раз опрашиваем готовность
	HealthTimeout time.Duration // бюджет health_check
}

func (c Config) withDefaults() Config {
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.ReadyInterval <= 0 {
		c.ReadyInterval = time.Second
	}
	if c.ReadyRetries == 0 {
		c.ReadyRetries = 10
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 3 * time.Second
	}
	return c
}

// Manager владеет отображением устройство → живой Handle.
// Слот на устройство со своим мьютексом: несвязанные устройства не
// сериализуются друг на друге.
type Manager struct {
	drv automation.Driver
	cfg Config
	log *logrus.Entry

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	mu     sync.Mutex
	handle automation.Handle
}

func New(drv automation.Driver, cfg Config, log *logrus.Entry) *Manager {
	return &Manager{
		drv:   drv,
		cfg:   cfg.withDefaults(),
		log:   log,
		slots: make(map[string]*slot),
	}
}

func (m *Manager) slot(deviceID string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[deviceID]
	if !ok {
		s = &slot{}
		m.slots[deviceID] = s
	}
	return s
}

// Acquire: reset службы → settle-пауза → connect → опрос готовности.
// При неудаче один повтор с жёстким reset, дальше ConnectionError.
func (m *Manager) Acquire(ctx context.Context, deviceID, address string) (automation.Handle, error) {
	s := m.slot(deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		return nil, ErrDeviceLeased
	}

	h, err := m.connect(ctx, address, false)
	if err != nil {
		m.log.WithField("device", deviceID).WithError(err).
			Warn("connect failed, retrying with hard reset")
		h, err = m.connect(ctx, address, true)
		if err != nil {
			return nil, &ConnectionError{DeviceID: deviceID, Err: err}
		}
	}
	s.handle = h
	return h, nil
}

func (m *Manager) connect(ctx context.Context, address string, hard bool) (automation.Handle, error) {
	if err := m.drv.Reset(ctx, address, hard); err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}
	select {
	case <-time.After(m.cfg.SettleDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	h, err := m.drv.Connect(ctx, address)
	if err != nil {
		return nil, err
	}
	// готовность: экран должен классифицироваться без ошибки
	ready := func() error {
		_, err := h.ClassifyScreen(ctx)
		return err
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.cfg.ReadyInterval), m.cfg.ReadyRetries), ctx)
	if err := backoff.Retry(ready, b); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("readiness poll: %w", err)
	}
	return h, nil
}

// Release возвращает устройство; повторный Release — no-op.
func (m *Manager) Release(deviceID string) {
	s := m.slot(deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil {
		_ = s.handle.Close()
		s.handle = nil
	}
}

// Leased — занято ли устройство сейчас.
func (m *Manager) Leased(deviceID string) bool {
	s := m.slot(deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil
}

// HealthCheck — дешёвая проверка живости хэндла, с коротким бюджетом.
func (m *Manager) HealthCheck(ctx context.Context, h automation.Handle) bool {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.HealthTimeout)
	defer cancel()
	_, err := h.ClassifyScreen(ctx)
	return err == nil
}

// Probe — доступно ли устройство, без захвата слота. Занятое движком
// устройство по определению живо; свободное коротко подключаем и
// проверяем, что экран классифицируется.
func (m *Manager) Probe(ctx context.Context, deviceID, address string) bool {
	if m.Leased(deviceID) {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.HealthTimeout)
	defer cancel()
	h, err := m.drv.Connect(ctx, address)
	if err != nil {
		return false
	}
	ok := m.HealthCheck(ctx, h)
	_ = h.Close()
	return ok
}
