package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/camden-git/visionsysbackend/models"
)

// IdentityRepository handles database operations for Identity and related
// IdentityEmbedding entities
type IdentityRepository struct {
	DB *gorm.DB
}

// Ensure IdentityRepository implements IdentityRepositoryInterface
var _ IdentityRepositoryInterface = (*IdentityRepository)(nil)

// NewIdentityRepository creates a new instance of IdentityRepository
func NewIdentityRepository(db *gorm.DB) *IdentityRepository {
	return &IdentityRepository{DB: db}
}

// Create creates a new identity record in the database
func (r *IdentityRepository) Create(identity *models.Identity) error {
	now := time.Now().Unix()
	if identity.CreatedAt == 0 {
		identity.CreatedAt = now
	}
	if identity.UpdatedAt == 0 {
		identity.UpdatedAt = now
	}

	err := r.DB.Create(identity).Error
	if err != nil {
		return fmt.Errorf("failed to create identity %s: %w", identity.Name, err)
	}
	return nil
}

// GetByID retrieves an identity by its ID, preloading Embeddings
func (r *IdentityRepository) GetByID(id uint) (*models.Identity, error) {
	var identity models.Identity
	err := r.DB.Preload("Embeddings").First(&identity, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get identity by ID %d: %w", id, err)
	}
	return &identity, nil
}

// GetByName retrieves an identity by its unique name
func (r *IdentityRepository) GetByName(name string) (*models.Identity, error) {
	var identity models.Identity
	err := r.DB.Where("name = ?", name).Preload("Embeddings").First(&identity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get identity by name %s: %w", name, err)
	}
	return &identity, nil
}

// ListAll retrieves all identities, ordered by name, preloading Embeddings
func (r *IdentityRepository) ListAll() ([]models.Identity, error) {
	var identities []models.Identity
	err := r.DB.Preload("Embeddings").Order("name ASC").Find(&identities).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	return identities, nil
}

// ListActiveWithEmbeddings retrieves active identities with their embeddings,
// the set the matcher runs against
func (r *IdentityRepository) ListActiveWithEmbeddings() ([]models.Identity, error) {
	var identities []models.Identity
	err := r.DB.Where("active = ?", true).Preload("Embeddings").Order("id ASC").Find(&identities).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active identities: %w", err)
	}
	return identities, nil
}

// Update updates an existing identity's details
func (r *IdentityRepository) Update(identity *models.Identity) error {
	identity.UpdatedAt = time.Now().Unix()
	result := r.DB.Model(&models.Identity{ID: identity.ID}).Updates(map[string]interface{}{
		"name":       identity.Name,
		"active":     identity.Active,
		"updated_at": identity.UpdatedAt,
	})

	if result.Error != nil {
		return fmt.Errorf("failed to update identity ID %d: %w", identity.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetActive flips an identity's active flag
func (r *IdentityRepository) SetActive(id uint, active bool) error {
	result := r.DB.Model(&models.Identity{ID: id}).Updates(map[string]interface{}{
		"active":     active,
		"updated_at": time.Now().Unix(),
	})
	if result.Error != nil {
		return fmt.Errorf("failed to set active=%t for identity ID %d: %w", active, id, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Delete removes an identity by its ID; embeddings cascade
func (r *IdentityRepository) Delete(id uint) error {
	result := r.DB.Delete(&models.Identity{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete identity ID %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// AddEmbedding adds a new reference embedding for an identity
func (r *IdentityRepository) AddEmbedding(embedding *models.IdentityEmbedding) error {
	now := time.Now().Unix()
	if embedding.CreatedAt == 0 {
		embedding.CreatedAt = now
	}
	embedding.UpdatedAt = now

	err := r.DB.Create(embedding).Error
	if err != nil {
		return fmt.Errorf("failed to add embedding for identity ID %d: %w", embedding.IdentityID, err)
	}
	return nil
}

// ListEmbeddingsByIdentityID retrieves all embeddings for a given identity ID
func (r *IdentityRepository) ListEmbeddingsByIdentityID(identityID uint) ([]models.IdentityEmbedding, error) {
	var embeddings []models.IdentityEmbedding
	err := r.DB.Where("identity_id = ?", identityID).Order("id ASC").Find(&embeddings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings for identity ID %d: %w", identityID, err)
	}
	return embeddings, nil
}

// DeleteEmbedding removes a reference embedding by its ID
func (r *IdentityRepository) DeleteEmbedding(embeddingID uint) error {
	result := r.DB.Delete(&models.IdentityEmbedding{}, embeddingID)
	if result.Error != nil {
		return fmt.Errorf("failed to delete embedding ID %d: %w", embeddingID, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// TouchLastMatched records the most recent successful match against the
// identity. Monotone: an older timestamp never overwrites a newer one.
func (r *IdentityRepository) TouchLastMatched(id uint, matchedAt int64) error {
	result := r.DB.Model(&models.Identity{ID: id}).
		Where("last_matched_at IS NULL OR last_matched_at < ?", matchedAt).
		Update("last_matched_at", matchedAt)
	if result.Error != nil {
		return fmt.Errorf("failed to touch last_matched_at for identity ID %d: %w", id, result.Error)
	}
	return nil
}
