package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence. LastSeq on the case row is the
// high-water mark for update sequence assignment; it is only advanced under
// a row lock on the case.
type CaseModel struct {
	ID         string `gorm:"primaryKey"`
	CustomerID string `gorm:"not null;index"`
	Category   string `gorm:"not null"`
	Status     string `gorm:"not null"`
	Priority   string `gorm:"not null"`
	Fields     datatypes.JSON `gorm:"type:jsonb"`
	LastSeq    int64          `gorm:"not null;default:0"`
	CreatedAt  time.Time      `gorm:"not null"`
	UpdatedAt  time.Time      `gorm:"not null"`
}

type UpdateModel struct {
	ID         string `gorm:"primaryKey"`
	CaseID     string `gorm:"not null;uniqueIndex:idx_updates_case_seq,priority:1"`
	Seq        int64  `gorm:"not null;uniqueIndex:idx_updates_case_seq,priority:2"`
	AuthorID   string `gorm:"not null"`
	AuthorRole string `gorm:"not null"`
	Kind       string `gorm:"not null"`
	Payload    datatypes.JSON `gorm:"type:jsonb"`
	Visibility string         `gorm:"not null"`
	CreatedAt  time.Time      `gorm:"not null;index"`
}

type DocumentModel struct {
	ID         string `gorm:"primaryKey"`
	CaseID     string `gorm:"not null;index"`
	UploaderID string `gorm:"not null"`
	Filename   string `gorm:"not null"`
	BlobHandle string `gorm:"not null;uniqueIndex"`
	MimeType   string `gorm:"not null"`
	SizeBytes  int64  `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
	DeletedAt  *time.Time
}
