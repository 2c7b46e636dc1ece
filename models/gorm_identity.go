package models

// Identity represents an enrolled person using GORM.
// It corresponds to the 'identities' table.
type Identity struct {
	ID            uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name          string `gorm:"not null;uniqueIndex" json:"name"`
	Active        bool   `gorm:"not null;default:true" json:"active"`
	LastMatchedAt *int64 `json:"last_matched_at,omitempty"` // Unix timestamp, nil if never matched
	CreatedAt     int64  `gorm:"not null" json:"created_at"` // Stored as INTEGER in SQLite, Unix timestamp
	UpdatedAt     int64  `gorm:"not null" json:"updated_at"` // Stored as INTEGER in SQLite, Unix timestamp

	// Relationships
	// omitempty will hide these if they are not preloaded or are empty
	Embeddings []IdentityEmbedding `gorm:"foreignKey:IdentityID;constraint:OnDelete:CASCADE" json:"embeddings,omitempty"`
}

// TableName explicitly sets the table name for GORM.
func (Identity) TableName() string {
	return "identities"
}
