package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flock/config"
	"flock/internal/actions"
	"flock/internal/api"
	"flock/internal/automation"
	"flock/internal/connmgr"
	"flock/internal/db"
	"flock/internal/engine"
	"flock/internal/events"
	"flock/internal/health"
	"flock/internal/logs"
	"flock/internal/middleware"
	"flock/internal/models"
	"flock/internal/orch"
	"flock/internal/repo"
	"flock/internal/sched"
	"flock/internal/secrets"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

// Интерфейсы сторов: gorm-реализации и in-memory (режим без БД)
// взаимозаменяемы.
type deviceStore interface {
	Create(ctx context.Context, in repo.DeviceInput) (*models.Device, error)
	List(ctx context.Context) ([]models.Device, error)
	GetByUUID(ctx context.Context, deviceUUID string) (*models.Device, error)
	UpdateState(ctx context.Context, deviceUUID, state string) error
}

type identityStore interface {
	List(ctx context.Context) ([]models.Identity, error)
	ListEnabledForDevice(ctx context.Context, deviceUUID string) ([]models.Identity, error)
	GetByID(ctx context.Context, id uint) (*models.Identity, error)
}

type sessionStore interface {
	Open(ctx context.Context, s *models.Session) error
	Close(ctx context.Context, id uint, status string, actions, errCount int, faultClass string) error
	GetRunningForDevice(ctx context.Context, deviceUUID string) (*models.Session, error)
}

type actionStore interface {
	Record(ctx context.Context, rec *models.ActionRecord) error
	CountToday(ctx context.Context, deviceUUID, username, kind string) (int64, error)
	CountDeviceToday(ctx context.Context, deviceUUID string) (int64, error)
}

type taskStore interface {
	Create(ctx context.Context, t *models.Task) error
	Update(ctx context.Context, t *models.Task) error
	ListByStatus(ctx context.Context, status string, limit int) ([]models.Task, error)
}

type App struct {
	cfg        *config.Config
	db         *gorm.DB
	Router     *mux.Router
	httpServer *http.Server

	orch   *orch.Orchestrator
	runner *sched.Runner

	ctx    context.Context
	cancel context.CancelFunc
}

func (a *App) Initialize(cfg *config.Config) {
	a.cfg = cfg

	/* 1) Логи */
	logs.Init(logs.Options{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
		File:   a.cfg.Logging.File,
	})

	/* 2) DB (опционально) */
	if drv := a.cfg.Database.Driver; drv != "" {
		d, err := db.Open(drv, a.cfg.Database.DSN)
		if err != nil {
			log.Fatalf("db open failed: %v", err)
		}
		a.db = d

		if err := a.db.AutoMigrate(
			&models.Device{},
			&models.Identity{},
			&models.Session{},
			&models.Task{},
			&models.ActionRecord{}); err != nil {
			log.Fatalf("db migrate failed: %v", err)
		}
	}

	/* 3) Сторы: gorm либо in-memory */
	var (
		devices  deviceStore
		idents   identityStore
		sessions sessionStore
		alog     actionStore
		tasks    taskStore
	)
	if a.db != nil {
		devices = repo.NewDeviceStore(a.db)
		idents = repo.NewIdentityStore(a.db)
		sessions = repo.NewSessionStore(a.db)
		alog = repo.NewActionStore(a.db)
		tasks = repo.NewTaskStore(a.db)
	} else {
		devices = repo.NewMemDeviceStore()
		idents = repo.NewMemIdentityStore()
		sessions = repo.NewMemSessionStore()
		alog = repo.NewMemActionStore()
		tasks = repo.NewMemTaskStore()
	}

	/* 4) Ядро: драйвер → соединения → действия → движки → оркестратор */
	bus := events.NewBus()
	drv := automation.NewADBDriver(a.cfg.ADB.Bin)
	cm := connmgr.New(drv, connmgr.Config{
		SettleDelay:   time.Duration(a.cfg.Connection.SettleDelaySec) * time.Second,
		ReadyInterval: time.Duration(a.cfg.Connection.ReadyIntervalSec) * time.Second,
		ReadyRetries:  uint64(a.cfg.Connection.ReadyRetries),
	}, logs.Component("connmgr"))

	reg := actions.DefaultRegistry()
	twofa := secrets.NewTOTPResolver()
	engCfg := engine.Config{
		CooldownMin:      time.Duration(a.cfg.Engine.CooldownMinSec) * time.Second,
		CooldownMax:      time.Duration(a.cfg.Engine.CooldownMaxSec) * time.Second,
		LoginAttempts:    a.cfg.Engine.LoginAttempts,
		RecoveryAttempts: a.cfg.Engine.RecoveryAttempts,
	}
	factory := func(dev models.Device, id models.Identity) (*engine.Engine, error) {
		set, err := models.DecodeSettings(&id)
		if err != nil {
			return nil, err
		}
		ws, err := models.DecodeSchedule(&id)
		if err != nil {
			return nil, err
		}
		picker := actions.NewPicker(reg, alog, nil)
		return engine.New(dev, id, set, ws, cm, picker, sessions, alog, devices,
			twofa, bus, engCfg, logs.Component("engine")), nil
	}

	engReg := orch.NewRegistry()
	a.orch = orch.New(orch.Config{
		PollInterval: time.Duration(a.cfg.Orchestrator.PollIntervalSec) * time.Second,
		StopTimeout:  time.Duration(a.cfg.Orchestrator.StopTimeoutSec) * time.Second,
	}, devices, idents, alog, cm, factory, engReg, bus, logs.Component("orchestrator"))

	scheduler := sched.New(sched.Config{
		MaxRetries:   a.cfg.Scheduler.MaxRetries,
		BusyPolicy:   sched.BusyPolicy(a.cfg.Scheduler.BusyPolicy),
		Workers:      a.cfg.Scheduler.Workers,
		PollInterval: time.Duration(a.cfg.Scheduler.PollIntervalSec) * time.Second,
	}, tasks, engReg, bus, logs.Component("scheduler"))
	a.runner = sched.NewRunner(scheduler, cm, reg, idents, devices, alog, logs.Component("task_runner"))

	/* 5) Router + middleware */
	a.Router = mux.NewRouter().StrictSlash(true)
	a.Router.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.LoggerMW,
	)

	/* 6) Health */
	if a.db != nil {
		health.RegisterRoutesWithDB(a.Router, a.db) // /healthz, /readyz
	} else {
		health.RegisterRoutes(a.Router) // только /healthz
	}

	api.RegisterRoutes(a.Router, api.NewHandler(a.orch, scheduler, devices, idents, tasks, sessions))
	events.RegisterRoutes(a.Router, events.NewHub(bus, logs.Component("ws_hub")))

	/* (необязательно) вывести известные маршруты в лог при старте */
	_ = a.Router.Walk(func(rt *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, _ := rt.GetPathTemplate()
		methods, _ := rt.GetMethods()
		if len(methods) == 0 {
			methods = []string{"ANY"}
		}
		log.Printf("route: %-6v %s", methods, path)
		return nil
	})
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return fmt.Errorf("server not initialized")
	}

	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		logs.Logger.Infof("shutdown signal: %s", s)
		a.cancel()
	}()

	// Жёсткие таймауты — это важно для production
	a.httpServer = &http.Server{
		Addr:              bind,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logs.Logger.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Logger.Fatalf("http server error: %v", err)
		}
	}()

	a.orch.Start()
	go a.runner.Run(a.ctx)

	<-a.ctx.Done()

	// сначала перестаём принимать запросы, потом гасим флот
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logs.Logger.Errorf("http shutdown: %v", err)
	}
	a.orch.Stop()
	return nil
}
