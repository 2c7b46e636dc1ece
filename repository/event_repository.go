package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/camden-git/visionsysbackend/database"
	"github.com/camden-git/visionsysbackend/models"
)

// EventRepository handles database operations for DetectionEvent entities.
// Writes go through GORM; the filtered search surface runs on the underlying
// sql.DB via the query builder.
type EventRepository struct {
	DB    *gorm.DB
	sqlDB *sql.DB
}

// Ensure EventRepository implements EventRepositoryInterface
var _ EventRepositoryInterface = (*EventRepository)(nil)

// NewEventRepository creates a new instance of EventRepository
func NewEventRepository(db *gorm.DB) (*EventRepository, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB for event repository: %w", err)
	}
	return &EventRepository{DB: db, sqlDB: sqlDB}, nil
}

// Create persists a detection event
func (r *EventRepository) Create(event *models.DetectionEvent) error {
	if event.CreatedAt == 0 {
		event.CreatedAt = time.Now().Unix()
	}

	err := r.DB.Create(event).Error
	if err != nil {
		return fmt.Errorf("failed to create detection event %s: %w", event.ID, err)
	}
	return nil
}

// GetByID retrieves a detection event by its ID, preloading the identity
func (r *EventRepository) GetByID(id string) (*models.DetectionEvent, error) {
	var event models.DetectionEvent
	err := r.DB.Preload("Identity").First(&event, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get detection event by ID %s: %w", id, err)
	}
	return &event, nil
}

// Search runs a filtered, paginated event query
func (r *EventRepository) Search(filter database.EventFilter) ([]models.DetectionEvent, error) {
	return database.SearchEvents(r.sqlDB, filter)
}

// Count returns the total number of events matching the filter
func (r *EventRepository) Count(filter database.EventFilter) (int64, error) {
	return database.CountEvents(r.sqlDB, filter)
}

// SummarizeByCamera aggregates event counts per camera
func (r *EventRepository) SummarizeByCamera(filter database.EventFilter) ([]database.EventCameraSummary, error) {
	return database.SummarizeEventsByCamera(r.sqlDB, filter)
}

// DeleteOlderThan removes events captured before the cutoff and returns how
// many were deleted. Used by retention cleanup.
func (r *EventRepository) DeleteOlderThan(cutoff int64) (int64, error) {
	result := r.DB.Where("captured_at < ?", cutoff).Delete(&models.DetectionEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete events older than %d: %w", cutoff, result.Error)
	}
	return result.RowsAffected, nil
}
