package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"flock/internal/models"
)

// In-memory варианты сторов — режим без БД (database.driver == "")
// и тесты. Интерфейсы у потребителей те же.

type MemDeviceStore struct {
	mu   sync.RWMutex
	next uint
	byID map[string]*models.Device
}

func NewMemDeviceStore() *MemDeviceStore {
	return &MemDeviceStore{byID: make(map[string]*models.Device)}
}

func (s *MemDeviceStore) Create(_ context.Context, in DeviceInput) (*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	d := &models.Device{
		ID:      s.next,
		UUID:    uuid.NewString(),
		Name:    in.Name,
		Address: in.Address,
		State:   models.DeviceDisconnected,
	}
	s.byID[d.UUID] = d
	return d, nil
}

func (s *MemDeviceStore) List(_ context.Context) ([]models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Device, 0, len(s.byID))
	for _, d := range s.byID {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemDeviceStore) GetByUUID(_ context.Context, deviceUUID string) (*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byID[deviceUUID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemDeviceStore) UpdateState(_ context.Context, deviceUUID, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[deviceUUID]
	if !ok {
		return ErrNotFound
	}
	d.State = state
	if state == models.DeviceConnected {
		now := time.Now().UTC()
		d.LastSeenAt = &now
	}
	return nil
}

type MemIdentityStore struct {
	mu   sync.RWMutex
	next uint
	ids  []*models.Identity
}

func NewMemIdentityStore() *MemIdentityStore { return &MemIdentityStore{} }

// Put — для посева конфигурации в режиме без БД.
func (s *MemIdentityStore) Put(id *models.Identity) *models.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id.ID == 0 {
		s.next++
		id.ID = s.next
	} else if id.ID > s.next {
		s.next = id.ID
	}
	s.ids = append(s.ids, id)
	return id
}

func (s *MemIdentityStore) ListEnabledForDevice(_ context.Context, deviceUUID string) ([]models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Identity
	for _, id := range s.ids {
		if id.Enabled && id.DeviceUUID == deviceUUID {
			out = append(out, *id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemIdentityStore) GetByID(_ context.Context, id uint) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ident := range s.ids {
		if ident.ID == id {
			cp := *ident
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemIdentityStore) List(_ context.Context) ([]models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Identity, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, *id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type MemSessionStore struct {
	mu   sync.Mutex
	next uint
	rows []*models.Session
}

func NewMemSessionStore() *MemSessionStore { return &MemSessionStore{} }

func (s *MemSessionStore) Open(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	sess.ID = s.next
	sess.Status = models.SessionRunning
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}
	cp := *sess
	s.rows = append(s.rows, &cp)
	return nil
}

func (s *MemSessionStore) Close(_ context.Context, id uint, status string, actions, errCount int, faultClass string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.ID == id {
			now := time.Now().UTC()
			r.Status = status
			r.EndedAt = &now
			r.ActionsPerformed = actions
			r.ErrorsCount = errCount
			r.FaultClass = faultClass
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemSessionStore) GetRunningForDevice(_ context.Context, deviceUUID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.DeviceUUID == deviceUUID && r.Status == models.SessionRunning {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// All — для тестов и статуса.
func (s *MemSessionStore) All() []models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Session, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, *r)
	}
	return out
}

type MemActionStore struct {
	mu   sync.Mutex
	rows []models.ActionRecord
}

func NewMemActionStore() *MemActionStore { return &MemActionStore{} }

func (s *MemActionStore) Record(_ context.Context, rec *models.ActionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.ID = uint(len(s.rows) + 1)
	s.rows = append(s.rows, *rec)
	return nil
}

// All — для тестов.
func (s *MemActionStore) All() []models.ActionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ActionRecord, len(s.rows))
	copy(out, s.rows)
	return out
}

func (s *MemActionStore) CountToday(_ context.Context, deviceUUID, username, kind string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.rows {
		if r.DeviceUUID == deviceUUID && r.Username == username && r.Kind == kind &&
			r.Outcome == models.OutcomeOK && !r.CreatedAt.Before(midnight()) {
			n++
		}
	}
	return n, nil
}

func (s *MemActionStore) CountDeviceToday(_ context.Context, deviceUUID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.rows {
		if r.DeviceUUID == deviceUUID && r.Outcome == models.OutcomeOK && !r.CreatedAt.Before(midnight()) {
			n++
		}
	}
	return n, nil
}

type MemTaskStore struct {
	mu   sync.Mutex
	next uint
	rows []*models.Task
}

func NewMemTaskStore() *MemTaskStore { return &MemTaskStore{} }

func (s *MemTaskStore) Create(_ context.Context, t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	t.ID = s.next
	cp := *t
	s.rows = append(s.rows, &cp)
	return nil
}

func (s *MemTaskStore) Update(_ context.Context, t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.UUID == t.UUID {
			r.Status = t.Status
			r.RetryCount = t.RetryCount
			r.LastError = t.LastError
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemTaskStore) ListByStatus(_ context.Context, status string, limit int) ([]models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	var out []models.Task
	for i := len(s.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if status == "" || s.rows[i].Status == status {
			out = append(out, *s.rows[i])
		}
	}
	return out, nil
}
