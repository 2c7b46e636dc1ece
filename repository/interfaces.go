package repository

import (
	"github.com/camden-git/visionsysbackend/database"
	"github.com/camden-git/visionsysbackend/models"
)

// IdentityRepositoryInterface defines the methods for identity data operations
type IdentityRepositoryInterface interface {
	Create(identity *models.Identity) error
	GetByID(id uint) (*models.Identity, error)
	GetByName(name string) (*models.Identity, error)
	ListAll() ([]models.Identity, error)
	ListActiveWithEmbeddings() ([]models.Identity, error)
	Update(identity *models.Identity) error
	SetActive(id uint, active bool) error
	Delete(id uint) error
	AddEmbedding(embedding *models.IdentityEmbedding) error
	ListEmbeddingsByIdentityID(identityID uint) ([]models.IdentityEmbedding, error)
	DeleteEmbedding(embeddingID uint) error
	TouchLastMatched(id uint, matchedAt int64) error
}

// CameraRepositoryInterface defines the methods for camera data operations
type CameraRepositoryInterface interface {
	Create(camera *models.Camera) error
	GetByID(id string) (*models.Camera, error)
	ListAll() ([]models.Camera, error)
	ListEnabled() ([]models.Camera, error)
	Update(camera *models.Camera) error
	SetEnabled(id string, enabled bool) error
	Delete(id string) error
	UpsertSeed(camera *models.Camera) error
}

// EventRepositoryInterface defines the methods for detection event data operations
type EventRepositoryInterface interface {
	Create(event *models.DetectionEvent) error
	GetByID(id string) (*models.DetectionEvent, error)
	Search(filter database.EventFilter) ([]models.DetectionEvent, error)
	Count(filter database.EventFilter) (int64, error)
	SummarizeByCamera(filter database.EventFilter) ([]database.EventCameraSummary, error)
	DeleteOlderThan(cutoff int64) (int64, error)
}
