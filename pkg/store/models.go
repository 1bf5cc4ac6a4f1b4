package store

import (
	"time"

	"gorm.io/datatypes"
)

// DocumentModel is the single table backing every collection.
type DocumentModel struct {
	Collection string         `gorm:"primaryKey;size:64"`
	ID         string         `gorm:"primaryKey;size:128"`
	Data       datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time      `gorm:"not null;index"`
	UpdatedAt  time.Time      `gorm:"not null"`
}

func (DocumentModel) TableName() string { return "documents" }
