package sched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"flock/internal/actions"
	"flock/internal/automation"
	"flock/internal/connmgr"
	"flock/internal/models"
)

// Зависимости раннера — интерфейсы потребителя.
type Connections interface {
	Acquire(ctx context.Context, deviceID, address string) (automation.Handle, error)
	Release(deviceID string)
}

type Identities interface {
	GetByID(ctx context.Context, id uint) (*models.Identity, error)
}

type Devices interface {
	GetByUUID(ctx context.Context, deviceUUID string) (*models.Device, error)
}

type ActionLog interface {
	Record(ctx context.Context, rec *models.ActionRecord) error
}

// Runner вытягивает runnable-задачи и исполняет их в пуле воркеров.
// Одна задача — один лиз устройства на время выполнения.
type Runner struct {
	sched   *Scheduler
	cm      Connections
	reg     *actions.Registry
	idents  Identities
	devices Devices
	alog    ActionLog
	log     *logrus.Entry
}

func NewRunner(s *Scheduler, cm Connections, reg *actions.Registry,
	idents Identities, devices Devices, alog ActionLog, log *logrus.Entry) *Runner {
	return &Runner{sched: s, cm: cm, reg: reg, idents: idents, devices: devices, alog: alog, log: log}
}

// Run крутится до отмены контекста.
func (r *Runner) Run(ctx context.Context) {
	sem := make(chan struct{}, r.sched.cfg.Workers)
	ticker := time.NewTicker(r.sched.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			t := r.sched.NextRunnable(ctx, "")
			if t == nil {
				break
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				r.sched.Requeue(ctx, t)
				return
			}
			go func(t *models.Task) {
				defer func() { <-sem }()
				r.execute(ctx, t)
			}(t)
		}
	}
}

func (r *Runner) execute(ctx context.Context, t *models.Task) {
	log := r.log.WithFields(logrus.Fields{"task": t.UUID, "kind": t.Kind, "device": t.DeviceUUID})

	ex, ok := r.reg.Get(t.Kind)
	if !ok {
		r.sched.MarkResult(ctx, t, fmt.Errorf("%w: %s", ErrUnknownKind, t.Kind))
		return
	}
	dev, err := r.devices.GetByUUID(ctx, t.DeviceUUID)
	if err != nil {
		r.sched.MarkResult(ctx, t, fmt.Errorf("device lookup: %w", err))
		return
	}
	ident, err := r.idents.GetByID(ctx, t.IdentityID)
	if err != nil {
		r.sched.MarkResult(ctx, t, fmt.Errorf("identity lookup: %w", err))
		return
	}
	set, err := models.DecodeSettings(ident)
	if err != nil {
		r.sched.MarkResult(ctx, t, err)
		return
	}

	h, err := r.cm.Acquire(ctx, dev.UUID, dev.Address)
	if err != nil {
		// гонка с движком за лиз — не ошибка задачи, просто ждём
		if errors.Is(err, connmgr.ErrDeviceLeased) && r.sched.cfg.BusyPolicy == BusyWait {
			r.sched.Requeue(ctx, t)
			return
		}
		r.sched.MarkResult(ctx, t, err)
		return
	}
	defer r.cm.Release(dev.UUID)

	out, execErr := ex.Execute(ctx, h, ident, set)
	rec := &models.ActionRecord{
		DeviceUUID: dev.UUID,
		Username:   ident.Username,
		Kind:       t.Kind,
		CreatedAt:  time.Now().UTC(),
	}
	switch {
	case execErr != nil:
		rec.Outcome = models.OutcomeError
		rec.Detail = execErr.Error()
	case out == nil || out.Performed == 0:
		rec.Outcome = models.OutcomeSkipped
		if out != nil {
			rec.Detail = out.Detail
		}
	default:
		rec.Outcome = models.OutcomeOK
		rec.Detail = out.Detail
	}
	if err := r.alog.Record(ctx, rec); err != nil {
		log.WithError(err).Error("action record write failed")
	}
	r.sched.MarkResult(ctx, t, execErr)
}
