package models

import (
	"math"

	"gorm.io/gorm"
)

// IdentityEmbedding represents one reference embedding vector for an enrolled
// identity. It corresponds to the 'identity_embeddings' table.
type IdentityEmbedding struct {
	ID             uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	IdentityID     uint           `gorm:"index;not null" json:"identity_id"`                                        // Foreign key to identities table
	EmbeddingData  []byte         `gorm:"not null;column:embedding_data" json:"-"`                                  // embedding vector as BLOB, 4 bytes per float32
	EmbeddingModel string         `gorm:"not null;column:embedding_model;default:'arcface'" json:"embedding_model"` // Name of the model used for embedding
	QualityScore   float64        `gorm:"column:quality_score" json:"quality_score"`                                // Quality score of the enrollment sample
	SourceImage    string         `gorm:"column:source_image" json:"source_image,omitempty"`                        // Stored enrollment crop, relative to snapshot storage
	CreatedAt      int64          `gorm:"not null" json:"created_at"`                                               // Stored as INTEGER in SQLite, Unix timestamp
	UpdatedAt      int64          `gorm:"not null" json:"updated_at"`                                               // Stored as INTEGER in SQLite, Unix timestamp
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`                                        // For soft deletes

	Identity *Identity `gorm:"foreignKey:IdentityID" json:"identity,omitempty"` // Belongs to Identity
}

// TableName explicitly sets the table name for GORM.
func (IdentityEmbedding) TableName() string {
	return "identity_embeddings"
}

// GetEmbedding converts the BLOB data to []float32
func (ie *IdentityEmbedding) GetEmbedding() []float32 {
	if len(ie.EmbeddingData) == 0 {
		return nil
	}

	embedding := make([]float32, len(ie.EmbeddingData)/4) // 4 bytes per float32
	for i := 0; i < len(embedding); i++ {
		offset := i * 4
		bits := uint32(ie.EmbeddingData[offset]) |
			uint32(ie.EmbeddingData[offset+1])<<8 |
			uint32(ie.EmbeddingData[offset+2])<<16 |
			uint32(ie.EmbeddingData[offset+3])<<24
		embedding[i] = math.Float32frombits(bits)
	}
	return embedding
}

// SetEmbedding converts []float32 to BLOB data
func (ie *IdentityEmbedding) SetEmbedding(embedding []float32) {
	if len(embedding) == 0 {
		ie.EmbeddingData = nil
		return
	}

	ie.EmbeddingData = make([]byte, len(embedding)*4) // 4 bytes per float32
	for i, val := range embedding {
		offset := i * 4
		bits := math.Float32bits(val)
		ie.EmbeddingData[offset] = byte(bits)
		ie.EmbeddingData[offset+1] = byte(bits >> 8)
		ie.EmbeddingData[offset+2] = byte(bits >> 16)
		ie.EmbeddingData[offset+3] = byte(bits >> 24)
	}
}
