package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"flock/internal/models"
	"flock/internal/orch"
	"flock/internal/repo"
	"flock/internal/sched"
)

// Стор-интерфейсы ровно под нужды ручек.
type Devices interface {
	List(ctx context.Context) ([]models.Device, error)
	GetByUUID(ctx context.Context, deviceUUID string) (*models.Device, error)
	Create(ctx context.Context, in repo.DeviceInput) (*models.Device, error)
}

type Identities interface {
	List(ctx context.Context) ([]models.Identity, error)
}

type Tasks interface {
	ListByStatus(ctx context.Context, status string, limit int) ([]models.Task, error)
}

type Sessions interface {
	GetRunningForDevice(ctx context.Context, deviceUUID string) (*models.Session, error)
}

type Handler struct {
	orch    *orch.Orchestrator
	sched   *sched.Scheduler
	devices Devices
	idents  Identities
	tasks   Tasks
	sess    Sessions
}

func NewHandler(o *orch.Orchestrator, s *sched.Scheduler, devices Devices, idents Identities, tasks Tasks, sess Sessions) *Handler {
	return &Handler{orch: o, sched: s, devices: devices, idents: idents, tasks: tasks, sess: sess}
}

// GET /api/v1/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	snap, err := h.orch.Status(r.Context())
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Status Failed", err.Error(), nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, snap)
}

// POST /api/v1/orchestrator/start — идемпотентен.
func (h *Handler) StartOrchestrator(w http.ResponseWriter, _ *http.Request) {
	h.orch.Start()
	models.WriteJSON(w, http.StatusOK, map[string]any{"running": true})
}

// POST /api/v1/orchestrator/stop — идемпотентен.
func (h *Handler) StopOrchestrator(w http.ResponseWriter, _ *http.Request) {
	h.orch.Stop()
	models.WriteJSON(w, http.StatusOK, map[string]any{"running": false})
}

// POST /api/v1/devices/{uuid}/start — ручной запуск вне расписания
// одного цикла; дальше ротация обычная.
func (h *Handler) StartDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := h.devices.GetByUUID(r.Context(), mux.Vars(r)["uuid"])
	if errors.Is(err, repo.ErrNotFound) {
		models.WriteProblem(w, http.StatusNotFound, "Not Found", "unknown device", nil)
		return
	}
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Lookup Failed", err.Error(), nil)
		return
	}
	h.orch.StartDevice(r.Context(), *dev)
	models.WriteJSON(w, http.StatusAccepted, map[string]any{"device": dev.UUID})
}

// POST /api/v1/devices/{uuid}/stop
func (h *Handler) StopDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := h.devices.GetByUUID(r.Context(), mux.Vars(r)["uuid"])
	if errors.Is(err, repo.ErrNotFound) {
		models.WriteProblem(w, http.StatusNotFound, "Not Found", "unknown device", nil)
		return
	}
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Lookup Failed", err.Error(), nil)
		return
	}
	h.orch.StopDevice(dev.UUID)
	models.WriteJSON(w, http.StatusAccepted, map[string]any{"device": dev.UUID})
}

// GET /api/v1/devices
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devs, err := h.devices.List(r.Context())
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "List Failed", err.Error(), nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, devs)
}

// POST /api/v1/devices
func (h *Handler) CreateDevice(w http.ResponseWriter, r *http.Request) {
	var in repo.DeviceInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid json body", nil)
		return
	}
	dev, err := h.devices.Create(r.Context(), in)
	if err != nil {
		models.WriteProblem(w, http.StatusUnprocessableEntity, "Create Failed", err.Error(), nil)
		return
	}
	models.WriteJSON(w, http.StatusCreated, dev)
}

// GET /api/v1/devices/{uuid}/session — текущая running-сессия.
func (h *Handler) RunningSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sess.GetRunningForDevice(r.Context(), mux.Vars(r)["uuid"])
	if errors.Is(err, repo.ErrNotFound) {
		models.WriteProblem(w, http.StatusNotFound, "Not Found", "no running session", nil)
		return
	}
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Lookup Failed", err.Error(), nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, sess)
}

// GET /api/v1/identities — read-only: конфигурацию аккаунтов мутирует
// внешняя админка, ядру она только на чтение.
func (h *Handler) ListIdentities(w http.ResponseWriter, r *http.Request) {
	ids, err := h.idents.List(r.Context())
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "List Failed", err.Error(), nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, ids)
}

type enqueueRequest struct {
	DeviceUUID string          `json:"device_uuid"`
	IdentityID uint            `json:"identity_id"`
	Kind       string          `json:"kind"`
	Priority   int             `json:"priority"`
	Params     json.RawMessage `json:"params,omitempty"`
}

// POST /api/v1/tasks
func (h *Handler) EnqueueTask(w http.ResponseWriter, r *http.Request) {
	var in enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid json body", nil)
		return
	}
	if in.DeviceUUID == "" || in.Kind == "" {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "device_uuid and kind are required", nil)
		return
	}
	t := &models.Task{
		DeviceUUID: in.DeviceUUID,
		IdentityID: in.IdentityID,
		Kind:       in.Kind,
		Priority:   in.Priority,
		Params:     []byte(in.Params),
	}
	id, err := h.sched.Enqueue(r.Context(), t)
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Enqueue Failed", err.Error(), nil)
		return
	}
	models.WriteJSON(w, http.StatusAccepted, map[string]any{"task_id": id})
}

// GET /api/v1/tasks?status=
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.tasks.ListByStatus(r.Context(), r.URL.Query().Get("status"), 0)
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "List Failed", err.Error(), nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, tasks)
}
