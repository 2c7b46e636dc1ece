package models

// Camera represents a managed video source using GORM.
// It corresponds to the 'cameras' table.
type Camera struct {
	ID        string `gorm:"primaryKey" json:"id"` // operator-assigned, e.g. "cam_entrance"
	Name      string `gorm:"not null" json:"name"`
	Source    string `gorm:"not null" json:"source"` // device index ("0") or stream URL
	Enabled   bool   `gorm:"not null;default:true" json:"enabled"`
	CreatedAt int64  `gorm:"not null" json:"created_at"` // Stored as INTEGER in SQLite, Unix timestamp
	UpdatedAt int64  `gorm:"not null" json:"updated_at"` // Stored as INTEGER in SQLite, Unix timestamp
}

// TableName explicitly sets the table name for GORM.
func (Camera) TableName() string {
	return "cameras"
}
