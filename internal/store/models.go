package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM rows used for persistence.

type ModelRow struct {
	ID          string `gorm:"primaryKey"`
	Name        string `gorm:"not null"`
	Description string
	CreatedBy   string    `gorm:"index"`
	CreatedAt   time.Time `gorm:"not null;index"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (ModelRow) TableName() string { return "models" }

type FieldRow struct {
	ID           string `gorm:"primaryKey"`
	ModelID      string `gorm:"not null;index"`
	Name         string `gorm:"not null"`
	FieldType    string `gorm:"not null"`
	Required     bool   `gorm:"not null"`
	DefaultValue string
	OrderIndex   int `gorm:"not null"`
}

func (FieldRow) TableName() string { return "fields" }

type RecordRow struct {
	ID        string         `gorm:"primaryKey"`
	ModelID   string         `gorm:"not null;index"`
	Data      datatypes.JSON `gorm:"not null"`
	CreatedBy string
	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (RecordRow) TableName() string { return "records" }

type IdentityRow struct {
	ID           string    `gorm:"primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (IdentityRow) TableName() string { return "identities" }

type RoleRow struct {
	IdentityID string    `gorm:"primaryKey"`
	Role       string    `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (RoleRow) TableName() string { return "role_assignments" }
