package store

import (
	"time"

	"gorm.io/datatypes"
)

// ProjectModel is the GORM model used for persistence. Answers and chapters
// live in JSONB columns: each stage overwrites its own column wholesale, so
// no relational modelling of the nested lists is needed.
type ProjectModel struct {
	ID          string         `gorm:"primaryKey"`
	Title       string         `gorm:"not null"`
	Description string         `gorm:"type:text;not null"`
	Domain      string         `gorm:"not null"`
	OwnerID     string         `gorm:"not null;index"`
	Stage       string         `gorm:"not null"`
	Answers     datatypes.JSON `gorm:"type:jsonb"`
	Chapters    datatypes.JSON `gorm:"type:jsonb"`
	ContentURL  string
	CreatedAt   time.Time `gorm:"not null;index"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName pins the table name so renames of the model type cannot silently
// re-point persistence at a fresh table.
func (ProjectModel) TableName() string { return "projects" }
