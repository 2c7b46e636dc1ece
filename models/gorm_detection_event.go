package models

// DetectionEvent represents one persisted sighting emitted by the pipeline.
// It corresponds to the 'detection_events' table.
type DetectionEvent struct {
	ID           string  `gorm:"primaryKey" json:"id"` // UUID assigned at emission
	CameraID     string  `gorm:"index;not null" json:"camera_id"`
	CapturedAt   int64   `gorm:"index;not null" json:"captured_at"` // frame capture time, Unix timestamp
	Identified   bool    `gorm:"not null" json:"identified"`
	IdentityID   *uint   `gorm:"index" json:"identity_id,omitempty"` // Nullable foreign key to identities table
	IdentityName string  `json:"identity_name,omitempty"`            // denormalized for log views that outlive deletions
	Score        float64 `json:"score"`
	X1           int     `gorm:"not null" json:"x1"`
	Y1           int     `gorm:"not null" json:"y1"`
	X2           int     `gorm:"not null" json:"x2"`
	Y2           int     `gorm:"not null" json:"y2"`
	SnapshotPath string  `json:"snapshot_path,omitempty"` // saved face crop, relative to snapshot storage
	CreatedAt    int64   `gorm:"not null" json:"created_at"` // Stored as INTEGER in SQLite, Unix timestamp

	Identity *Identity `gorm:"foreignKey:IdentityID" json:"identity,omitempty"` // Belongs to Identity
}

// TableName explicitly sets the table name for GORM.
func (DetectionEvent) TableName() string {
	return "detection_events"
}
