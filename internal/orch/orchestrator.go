package orch

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"flock/internal/engine"
	"flock/internal/events"
	"flock/internal/models"
)

// Интерфейсы потребителя поверх сторов.
type Devices interface {
	List(ctx context.Context) ([]models.Device, error)
	UpdateState(ctx context.Context, deviceUUID, state string) error
}

type Identities interface {
	ListEnabledForDevice(ctx context.Context, deviceUUID string) ([]models.Identity, error)
}

type ActionCounts interface {
	CountDeviceToday(ctx context.Context, deviceUUID string) (int64, error)
}

// Health — доступно ли устройство; недоступные пропускаем до
// следующего цикла, не тратя попытку сессии.
type Health interface {
	Probe(ctx context.Context, deviceID, address string) bool
}

// EngineFactory собирает движок под пару (устройство, аккаунт); фабрика
// отделяет цикл оркестратора от проводки зависимостей движка и
// подменяется в тестах.
type EngineFactory func(dev models.Device, id models.Identity) (*engine.Engine, error)

type Config struct {
	PollInterval time.Duration // период цикла опроса
	StopTimeout  time.Duration // сколько ждём движки на Stop()
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 90 * time.Second
	}
	return c
}

// Orchestrator — флотовый цикл управления: каждый период решает, какой
// аккаунт должен быть активен на каждом устройстве, и стартует/гасит
// движки. Инвариант «не более одной сессии на устройство» держится на
// том, что второй движок не регистрируется, пока слот занят.
type Orchestrator struct {
	cfg       Config
	devices   Devices
	idents    Identities
	counts    ActionCounts
	health    Health
	newEngine EngineFactory
	reg       *Registry
	bus       *events.Bus
	log       *logrus.Entry
	now       func() time.Time

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	loopDone chan struct{}
	wg       sync.WaitGroup

	// устройство после connection-фолта пропускаем один цикл
	faultedUntil map[string]time.Time
	// аккаунт после auth-фолта припаркован до конца его окна
	parkedUntil map[string]time.Time
}

func New(cfg Config, devices Devices, idents Identities, counts ActionCounts, health Health,
	factory EngineFactory, reg *Registry, bus *events.Bus, log *logrus.Entry) *Orchestrator {
	return &Orchestrator{
		cfg:          cfg.withDefaults(),
		devices:      devices,
		idents:       idents,
		counts:       counts,
		health:       health,
		newEngine:    factory,
		reg:          reg,
		bus:          bus,
		log:          log,
		now:          time.Now,
		faultedUntil: make(map[string]time.Time),
		parkedUntil:  make(map[string]time.Time),
	}
}

// SetClock — подмена часов в тестах.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// Start поднимает цикл опроса; повторный вызов — no-op.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.loopDone = make(chan struct{})
	o.running = true
	go o.loop(ctx)
	o.log.Info("orchestrator started")
}

// Stop гасит цикл и все движки; ждёт освобождения лизов не дольше
// StopTimeout. Идемпотентен.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	cancel := o.cancel
	loopDone := o.loopDone
	o.mu.Unlock()

	cancel()
	<-loopDone

	for _, eng := range o.reg.Snapshot() {
		eng.Stop()
	}
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(o.cfg.StopTimeout):
		o.log.Warn("stop timeout: some engines still draining")
	}
	o.log.Info("orchestrator stopped")
}

// Running — работает ли цикл.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Orchestrator) loop(ctx context.Context) {
	defer close(o.loopDone)
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	o.Cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Cycle(ctx)
		}
	}
}

// Cycle — один проход по всем устройствам. Экспортирован: ручные
// start/stop и тесты дёргают его напрямую.
func (o *Orchestrator) Cycle(ctx context.Context) {
	devs, err := o.devices.List(ctx)
	if err != nil {
		// системная ошибка уровня всего цикла (стор недоступен)
		o.log.WithError(err).Error("device list failed, skipping cycle")
		return
	}
	hour := o.now().Hour()
	for _, d := range devs {
		o.evaluate(ctx, d, hour)
	}
}

// evaluate — решение по одному устройству. Паника здесь — фолт только
// этого устройства, остальной флот цикл дойдёт.
func (o *Orchestrator) evaluate(ctx context.Context, dev models.Device, hour int) {
	defer func() {
		if rec := recover(); rec != nil {
			o.log.WithFields(logrus.Fields{"device": dev.UUID, "panic": rec}).
				Errorf("device evaluation panicked\nstack:\n%s", debug.Stack())
		}
	}()

	ent := o.reg.entry(dev.UUID)
	ent.mu.Lock()
	defer ent.mu.Unlock()

	if eng := ent.eng; eng != nil {
		// окно сменилось — сигналим движку остановиться; слот
		// освободится, когда движок реально отдаст лиз
		id := eng.Identity()
		ws, err := models.DecodeSchedule(&id)
		if err != nil || !models.InAnyWindow(ws, hour) {
			eng.Stop()
		}
		return
	}

	if until, ok := o.cooldownUntil(dev.UUID); ok && o.now().Before(until) {
		return
	}

	if o.health != nil && !o.health.Probe(ctx, dev.UUID, dev.Address) {
		o.log.WithField("device", dev.UUID).Warn("device unhealthy, skipping this cycle")
		return
	}

	cand, err := o.candidates(ctx, dev.UUID, hour)
	if err != nil {
		o.log.WithField("device", dev.UUID).WithError(err).Error("candidate lookup failed")
		return
	}
	if len(cand) == 0 {
		return
	}
	if len(cand) > 1 {
		// пересечение окон — аномалия конфигурации; детерминированно
		// берём наименьший id, двух сессий не будет
		names := make([]string, len(cand))
		for i, c := range cand {
			names[i] = c.Username
		}
		o.log.WithFields(logrus.Fields{"device": dev.UUID, "candidates": names}).
			Warn("overlapping schedule windows, picking lowest id")
	}
	o.startLocked(ent, dev, cand[0])
}

// candidates — включённые аккаунты устройства, чьё окно содержит
// текущий час и которые не припаркованы; отсортированы по id.
func (o *Orchestrator) candidates(ctx context.Context, deviceUUID string, hour int) ([]models.Identity, error) {
	ids, err := o.idents.ListEnabledForDevice(ctx, deviceUUID)
	if err != nil {
		return nil, err
	}
	now := o.now()
	var out []models.Identity
	for _, id := range ids {
		if o.parked(id.Username, now) {
			continue
		}
		ws, err := models.DecodeSchedule(&id)
		if err != nil {
			o.log.WithField("identity", id.Username).WithError(err).Warn("bad schedule, skipping")
			continue
		}
		if models.InAnyWindow(ws, hour) {
			out = append(out, id)
		}
	}
	return out, nil
}

// startLocked стартует движок; вызывается под ent.mu.
func (o *Orchestrator) startLocked(ent *entry, dev models.Device, id models.Identity) {
	eng, err := o.newEngine(dev, id)
	if err != nil {
		o.log.WithFields(logrus.Fields{"device": dev.UUID, "identity": id.Username}).
			WithError(err).Error("engine build failed")
		return
	}
	ent.eng = eng
	o.wg.Add(1)
	go o.runEngine(dev, id, eng)
	o.log.WithFields(logrus.Fields{"device": dev.UUID, "identity": id.Username}).
		Info("engine started")
}

func (o *Orchestrator) runEngine(dev models.Device, id models.Identity, eng *engine.Engine) {
	defer o.wg.Done()
	err := eng.Run(context.Background())
	o.reg.clear(dev.UUID, eng)

	ctx := context.Background()
	switch {
	case err == nil:
		_ = o.devices.UpdateState(ctx, dev.UUID, models.DeviceDisconnected)
	default:
		_ = o.devices.UpdateState(ctx, dev.UUID, models.DeviceFaulted)
		o.noteFault(dev.UUID, id, err)
	}
	o.bus.Publish(events.Event{Type: events.DeviceDisconnected, DeviceUUID: dev.UUID, Username: id.Username})
}

// noteFault — политика после фолта: connection → пропускаем устройство
// один цикл; auth → аккаунт паркуется до конца текущего окна.
func (o *Orchestrator) noteFault(deviceUUID string, id models.Identity, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var ae *engine.AuthError
	if errors.As(err, &ae) {
		ws, derr := models.DecodeSchedule(&id)
		if derr == nil {
			if end, ok := currentWindowEnd(ws, o.now()); ok {
				o.parkedUntil[id.Username] = end
				o.log.WithFields(logrus.Fields{"identity": id.Username, "until": end}).
					Warn("identity parked after auth fault")
				return
			}
		}
		// окно не вычислить — паркуем на час
		o.parkedUntil[id.Username] = o.now().Add(time.Hour)
		return
	}
	o.faultedUntil[deviceUUID] = o.now().Add(o.cfg.PollInterval)
}

func (o *Orchestrator) cooldownUntil(deviceUUID string) (time.Time, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.faultedUntil[deviceUUID]
	if ok && !o.now().Before(t) {
		delete(o.faultedUntil, deviceUUID)
		return time.Time{}, false
	}
	return t, ok
}

func (o *Orchestrator) parked(username string, now time.Time) bool {
	t, ok := o.parkedUntil[username]
	if !ok {
		return false
	}
	if !now.Before(t) {
		delete(o.parkedUntil, username)
		return false
	}
	return true
}

// currentWindowEnd — ближайший момент, когда закончится окно,
// содержащее now.
func currentWindowEnd(ws []models.Window, now time.Time) (time.Time, bool) {
	for _, w := range ws {
		if !w.Contains(now.Hour()) {
			continue
		}
		end := time.Date(now.Year(), now.Month(), now.Day(), w.End, 0, 0, 0, now.Location())
		if !end.After(now) {
			end = end.Add(24 * time.Hour)
		}
		return end, true
	}
	return time.Time{}, false
}

/* ───── ручное управление и статус ───── */

// StartDevice — вмешательство оператора: сбрасывает фолтовый кулдаун,
// снимает парковку выбранного аккаунта и стартует сессию, не глядя на
// расписание. Следующий штатный цикл оценивает устройство как обычно,
// так что вне окна сессия проживёт ровно один цикл.
func (o *Orchestrator) StartDevice(ctx context.Context, dev models.Device) {
	o.mu.Lock()
	delete(o.faultedUntil, dev.UUID)
	o.mu.Unlock()

	ent := o.reg.entry(dev.UUID)
	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.eng != nil {
		return
	}

	ids, err := o.idents.ListEnabledForDevice(ctx, dev.UUID)
	if err != nil {
		o.log.WithField("device", dev.UUID).WithError(err).Error("candidate lookup failed")
		return
	}
	if len(ids) == 0 {
		o.log.WithField("device", dev.UUID).Warn("manual start: no enabled identities")
		return
	}
	// предпочитаем аккаунт в своём окне; вне окна берём наименьший id
	pick := ids[0]
	hour := o.now().Hour()
	for _, id := range ids {
		ws, derr := models.DecodeSchedule(&id)
		if derr == nil && models.InAnyWindow(ws, hour) {
			pick = id
			break
		}
	}

	o.mu.Lock()
	delete(o.parkedUntil, pick.Username)
	o.mu.Unlock()

	eng, err := o.newEngine(dev, pick)
	if err != nil {
		o.log.WithFields(logrus.Fields{"device": dev.UUID, "identity": pick.Username}).
			WithError(err).Error("engine build failed")
		return
	}
	// окно на этот запуск не действует
	eng.SetWindows(nil)
	ent.eng = eng
	o.wg.Add(1)
	go o.runEngine(dev, pick, eng)
	o.log.WithFields(logrus.Fields{"device": dev.UUID, "identity": pick.Username}).
		Info("engine started manually")
}

// StopDevice сигналит движку устройства остановиться; идемпотентен.
func (o *Orchestrator) StopDevice(deviceUUID string) {
	if eng := o.reg.Get(deviceUUID); eng != nil {
		eng.Stop()
	}
}

type DeviceStatus struct {
	DeviceUUID       string     `json:"device_uuid"`
	Name             string     `json:"name"`
	State            string     `json:"state"`
	EngineState      string     `json:"engine_state,omitempty"`
	ActiveIdentity   string     `json:"active_identity,omitempty"`
	SessionStartedAt *time.Time `json:"session_started_at,omitempty"`
	ActionsToday     int64      `json:"actions_today"`
}

type Snapshot struct {
	Running bool           `json:"running"`
	Devices []DeviceStatus `json:"devices"`
}

// Status — снимок флота для админки.
func (o *Orchestrator) Status(ctx context.Context) (*Snapshot, error) {
	devs, err := o.devices.List(ctx)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Running: o.Running()}
	for _, d := range devs {
		st := DeviceStatus{DeviceUUID: d.UUID, Name: d.Name, State: d.State}
		if eng := o.reg.Get(d.UUID); eng != nil {
			st.EngineState = eng.State()
			st.ActiveIdentity = eng.Identity().Username
			if t := eng.StartedAt(); !t.IsZero() {
				st.SessionStartedAt = &t
			}
		}
		if n, err := o.counts.CountDeviceToday(ctx, d.UUID); err == nil {
			st.ActionsToday = n
		}
		snap.Devices = append(snap.Devices, st)
	}
	return snap, nil
}
