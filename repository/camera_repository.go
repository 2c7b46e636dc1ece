package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/camden-git/visionsysbackend/models"
)

// CameraRepository handles database operations for Camera entities
type CameraRepository struct {
	DB *gorm.DB
}

// Ensure CameraRepository implements CameraRepositoryInterface
var _ CameraRepositoryInterface = (*CameraRepository)(nil)

// NewCameraRepository creates a new instance of CameraRepository
func NewCameraRepository(db *gorm.DB) *CameraRepository {
	return &CameraRepository{DB: db}
}

// Create creates a new camera record in the database
func (r *CameraRepository) Create(camera *models.Camera) error {
	now := time.Now().Unix()
	if camera.CreatedAt == 0 {
		camera.CreatedAt = now
	}
	if camera.UpdatedAt == 0 {
		camera.UpdatedAt = now
	}

	err := r.DB.Create(camera).Error
	if err != nil {
		return fmt.Errorf("failed to create camera %s: %w", camera.ID, err)
	}
	return nil
}

// GetByID retrieves a camera by its ID
func (r *CameraRepository) GetByID(id string) (*models.Camera, error) {
	var camera models.Camera
	err := r.DB.First(&camera, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get camera by ID %s: %w", id, err)
	}
	return &camera, nil
}

// ListAll retrieves all cameras, ordered by ID
func (r *CameraRepository) ListAll() ([]models.Camera, error) {
	var cameras []models.Camera
	err := r.DB.Order("id ASC").Find(&cameras).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	return cameras, nil
}

// ListEnabled retrieves cameras the supervisor should run on startup
func (r *CameraRepository) ListEnabled() ([]models.Camera, error) {
	var cameras []models.Camera
	err := r.DB.Where("enabled = ?", true).Order("id ASC").Find(&cameras).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled cameras: %w", err)
	}
	return cameras, nil
}

// Update updates an existing camera's details
func (r *CameraRepository) Update(camera *models.Camera) error {
	camera.UpdatedAt = time.Now().Unix()
	result := r.DB.Model(&models.Camera{}).Where("id = ?", camera.ID).Updates(map[string]interface{}{
		"name":       camera.Name,
		"source":     camera.Source,
		"enabled":    camera.Enabled,
		"updated_at": camera.UpdatedAt,
	})

	if result.Error != nil {
		return fmt.Errorf("failed to update camera ID %s: %w", camera.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetEnabled flips a camera's enabled flag
func (r *CameraRepository) SetEnabled(id string, enabled bool) error {
	result := r.DB.Model(&models.Camera{}).Where("id = ?", id).Updates(map[string]interface{}{
		"enabled":    enabled,
		"updated_at": time.Now().Unix(),
	})
	if result.Error != nil {
		return fmt.Errorf("failed to set enabled=%t for camera ID %s: %w", enabled, id, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Delete removes a camera by its ID
func (r *CameraRepository) Delete(id string) error {
	result := r.DB.Delete(&models.Camera{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete camera ID %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpsertSeed inserts a camera from the seed file, or refreshes its name,
// source and enabled flag if it already exists. Seed entries win over manual
// edits on restart so the file stays authoritative for the cameras it names.
func (r *CameraRepository) UpsertSeed(camera *models.Camera) error {
	existing, err := r.GetByID(camera.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.Create(camera)
	}
	if err != nil {
		return err
	}

	existing.Name = camera.Name
	existing.Source = camera.Source
	existing.Enabled = camera.Enabled
	return r.Update(existing)
}
