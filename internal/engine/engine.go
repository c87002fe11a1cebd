package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"flock/internal/actions"
	"flock/internal/automation"
	"flock/internal/connmgr"
	"flock/internal/events"
	"flock/internal/models"
	"flock/internal/secrets"
)

// Состояния движка.
const (
	StateIdle       = "idle"
	StateConnecting = "connecting"
	StateLoggingIn  = "logging_in"
	StateActive     = "active"
	StateCooldown   = "cooldown"
	StateStopped    = "stopped"
	StateFaulted    = "faulted"
)

// Классы фолтов в Session.FaultClass.
const (
	FaultConnection = "connection"
	FaultAuth       = "auth"
	FaultInternal   = "internal"
)

// Интерфейсы потребителя: движку нужны ровно эти операции сторов.
type Connections interface {
	Acquire(ctx context.Context, deviceID, address string) (automation.Handle, error)
	Release(deviceID string)
}

type SessionLog interface {
	Open(ctx context.Context, s *models.Session) error
	Close(ctx context.Context, id uint, status string, actions, errCount int, faultClass string) error
}

type ActionLog interface {
	Record(ctx context.Context, rec *models.ActionRecord) error
}

// DeviceLog — отражение состояния подключения устройства в инвентаре.
type DeviceLog interface {
	UpdateState(ctx context.Context, deviceUUID, state string) error
}

type Config struct {
	CooldownMin      time.Duration // нижняя граница паузы между действиями
	CooldownMax      time.Duration
	LoginAttempts    int           // попыток классифицировать/починить экран логина
	AppSettle        time.Duration // пауза после запуска приложения
	RecoveryAttempts int           // in-place восстановление после ActionError
}

func (c Config) withDefaults() Config {
	if c.CooldownMin <= 0 {
		c.CooldownMin = 20 * time.Second
	}
	if c.CooldownMax < c.CooldownMin {
		c.CooldownMax = c.CooldownMin + 40*time.Second
	}
	if c.LoginAttempts <= 0 {
		c.LoginAttempts = 5
	}
	if c.AppSettle <= 0 {
		c.AppSettle = 5 * time.Second
	}
	if c.RecoveryAttempts <= 0 {
		c.RecoveryAttempts = 3
	}
	return c
}

// Engine — сессия для пары (устройство, аккаунт). Владеет лизом
// устройства весь свой жизненный цикл. Остановка кооперативная: флаг
// проверяется на границах переходов, посреди действия не убиваем.
type Engine struct {
	dev     models.Device
	id      models.Identity
	set     *models.IdentitySettings
	windows []models.Window

	cm       Connections
	picker   *actions.Picker
	sessions SessionLog
	alog     ActionLog
	devlog   DeviceLog
	twofa    secrets.Resolver
	bus      *events.Bus
	cfg      Config
	log      *logrus.Entry
	now      func() time.Time
	rnd      *rand.Rand

	mu        sync.Mutex
	state     string
	startedAt time.Time
	performed int
	errs      int
	runErr    error

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func New(dev models.Device, id models.Identity, set *models.IdentitySettings, windows []models.Window,
	cm Connections, picker *actions.Picker, sessions SessionLog, alog ActionLog, devlog DeviceLog,
	twofa secrets.Resolver, bus *events.Bus, cfg Config, log *logrus.Entry) *Engine {
	return &Engine{
		dev:      dev,
		id:       id,
		set:      set,
		windows:  windows,
		cm:       cm,
		picker:   picker,
		sessions: sessions,
		alog:     alog,
		devlog:   devlog,
		twofa:    twofa,
		bus:      bus,
		cfg:      cfg.withDefaults(),
		log: log.WithFields(logrus.Fields{
			"device":   dev.UUID,
			"identity": id.Username,
		}),
		now:   time.Now,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
		state: StateIdle,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// SetClock — подмена часов в тестах.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// SetWindows переопределяет окна расписания до Run. Пустой срез снимает
// ограничение по окну — так работает ручной запуск оператором.
func (e *Engine) SetWindows(ws []models.Window) { e.windows = ws }

func (e *Engine) Stop() { e.stopOnce.Do(func() { close(e.stop) }) }

func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) State() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Identity() models.Identity { return e.id }

func (e *Engine) StartedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startedAt
}

// Err — ошибка завершившегося прогона; валидна после Done().
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runErr
}

func (e *Engine) setState(s string) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	e.log.WithField("state", s).Debug("engine state")
}

func (e *Engine) stopped(ctx context.Context) bool {
	select {
	case <-e.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Run гоняет машину состояний до Stopped или Faulted. Возвращает nil
// при штатной остановке; класс фолта различается по errors.As.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)

	sess := &models.Session{
		DeviceUUID: e.dev.UUID,
		IdentityID: e.id.ID,
		Username:   e.id.Username,
		StartedAt:  e.now().UTC(),
	}
	if err := e.sessions.Open(ctx, sess); err != nil {
		e.mu.Lock()
		e.runErr = err
		e.mu.Unlock()
		return err
	}
	e.mu.Lock()
	e.startedAt = sess.StartedAt
	e.mu.Unlock()
	e.bus.Publish(events.Event{Type: events.SessionStarted, DeviceUUID: e.dev.UUID, Username: e.id.Username})

	acquired, err := e.run(ctx)
	if acquired {
		e.cm.Release(e.dev.UUID)
	}

	e.mu.Lock()
	e.runErr = err
	performed, errs := e.performed, e.errs
	e.mu.Unlock()

	if err != nil {
		e.setState(StateFaulted)
		class := faultClass(err)
		_ = e.sessions.Close(context.Background(), sess.ID, models.SessionAborted, performed, errs, class)
		e.bus.Publish(events.Event{Type: events.SessionFaulted, DeviceUUID: e.dev.UUID, Username: e.id.Username, Detail: class})
		e.log.WithError(err).WithField("class", class).Warn("session aborted")
		return err
	}
	e.setState(StateStopped)
	_ = e.sessions.Close(context.Background(), sess.ID, models.SessionCompleted, performed, errs, "")
	e.bus.Publish(events.Event{Type: events.SessionStopped, DeviceUUID: e.dev.UUID, Username: e.id.Username})
	e.log.WithField("actions", performed).Info("session completed")
	return nil
}

func faultClass(err error) string {
	var ce *connmgr.ConnectionError
	if errors.As(err, &ce) {
		return FaultConnection
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return FaultAuth
	}
	return FaultInternal
}

// run возвращает (успели ли занять устройство, ошибка-фолт).
func (e *Engine) run(ctx context.Context) (bool, error) {
	if e.stopped(ctx) {
		return false, nil
	}

	e.setState(StateConnecting)
	_ = e.devlog.UpdateState(ctx, e.dev.UUID, models.DeviceConnecting)
	h, err := e.cm.Acquire(ctx, e.dev.UUID, e.dev.Address)
	if err != nil {
		// менеджер уже отретраил внутри себя; наша политика — фолт
		return false, err
	}
	_ = e.devlog.UpdateState(ctx, e.dev.UUID, models.DeviceConnected)
	e.bus.Publish(events.Event{Type: events.DeviceConnected, DeviceUUID: e.dev.UUID, Username: e.id.Username})

	if e.stopped(ctx) {
		return true, nil
	}
	e.setState(StateLoggingIn)
	if err := e.login(ctx, h); err != nil {
		return true, err
	}

	for {
		if e.stopped(ctx) {
			return true, nil
		}
		// пустые окна не ограничивают (ручной запуск)
		if len(e.windows) > 0 && !models.InAnyWindow(e.windows, e.now().Hour()) {
			return true, nil
		}

		e.setState(StateActive)
		if err := e.performOne(ctx, h); err != nil {
			return true, err
		}

		e.setState(StateCooldown)
		if !e.sleepCooldown(ctx) {
			return true, nil
		}
	}
}

// performOne выполняет одно действие. ActionError не валит сессию:
// bounded-восстановление и дальше в cooldown.
func (e *Engine) performOne(ctx context.Context, h automation.Handle) error {
	ex, err := e.picker.Next(ctx, e.dev.UUID, &e.id, e.set)
	if err != nil {
		return err
	}
	if ex == nil {
		e.log.Debug("daily limits exhausted, idling")
		return nil
	}

	out, execErr := ex.Execute(ctx, h, &e.id, e.set)
	rec := &models.ActionRecord{
		DeviceUUID: e.dev.UUID,
		Username:   e.id.Username,
		Kind:       ex.Kind(),
		CreatedAt:  e.now().UTC(),
	}
	switch {
	case execErr != nil:
		rec.Outcome = models.OutcomeError
		rec.Detail = execErr.Error()
	case out == nil || out.Performed == 0:
		// стратегия отработала, но делать было нечего; в дневной
		// лимит не попадает
		rec.Outcome = models.OutcomeSkipped
		if out != nil {
			rec.Detail = out.Detail
		}
	default:
		rec.Outcome = models.OutcomeOK
		rec.Detail = out.Detail
	}
	if err := e.alog.Record(ctx, rec); err != nil {
		e.log.WithError(err).Error("action record write failed")
	}

	if execErr == nil {
		e.mu.Lock()
		if out != nil && out.Performed > 0 {
			e.performed++
		}
		e.mu.Unlock()
		return nil
	}

	var ae *actions.ActionError
	if errors.As(execErr, &ae) {
		e.mu.Lock()
		e.errs++
		e.mu.Unlock()
		e.log.WithError(execErr).Warn("action failed, recovering in place")
		if rerr := actions.Recover(ctx, h, e.cfg.RecoveryAttempts); rerr != nil {
			return rerr
		}
		return nil
	}
	return execErr
}

// sleepCooldown спит случайный интервал [min, max]; false — пора
// выходить (stop/отмена).
func (e *Engine) sleepCooldown(ctx context.Context) bool {
	span := e.cfg.CooldownMax - e.cfg.CooldownMin
	d := e.cfg.CooldownMin
	if span > 0 {
		d += time.Duration(e.rnd.Int63n(int64(span)))
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-e.stop:
		return false
	case <-ctx.Done():
		return false
	}
}
