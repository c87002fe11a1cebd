package repo

import (
	"context"

	"gorm.io/gorm"

	"flock/internal/models"
)

type TaskStore struct{ db *gorm.DB }

func NewTaskStore(db *gorm.DB) *TaskStore { return &TaskStore{db: db} }

func (s *TaskStore) Create(ctx context.Context, t *models.Task) error {
	return s.db.WithContext(ctx).Create(t).Error
}

func (s *TaskStore) Update(ctx context.Context, t *models.Task) error {
	return s.db.WithContext(ctx).Model(&models.Task{}).Where("uuid = ?", t.UUID).
		Updates(map[string]any{
			"status":      t.Status,
			"retry_count": t.RetryCount,
			"last_error":  t.LastError,
		}).Error
}

// ListByStatus; пустой status — всё, свежие сверху.
func (s *TaskStore) ListByStatus(ctx context.Context, status string, limit int) ([]models.Task, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	q := s.db.WithContext(ctx).Order("id desc").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var tasks []models.Task
	if err := q.Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}
