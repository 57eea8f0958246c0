package store

import (
	"errors"
	"time"

	"modeld/pkg/domain"
)

var (
	// ErrNotFound indicates a missing model or record.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates an identifier collision on create.
	ErrConflict = errors.New("conflict")
	// ErrPartialUpdate indicates a model update where the metadata write
	// committed but the field replacement did not. Implementations that can
	// wrap both sub-steps in one transaction never return it.
	ErrPartialUpdate = errors.New("partial update")
)

// RoleAssignment binds an identity to a persisted role.
type RoleAssignment struct {
	IdentityID string      `json:"identityId"`
	Role       domain.Role `json:"role"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// Store defines persistence for identities, role assignments, model
// definitions, and dynamic records.
//
// UpdateModel replaces name/description and then the full field set
// (delete-all, insert-new). Callers lose any fields they do not resend.
// DeleteModel cascades to fields and records; a missing id reports
// ErrNotFound and performs no cascade.
type Store interface {
	// identities
	SaveIdentity(domain.Identity) error
	HasIdentityEmail(email string) (bool, error)
	GetIdentityByEmail(email string) (domain.Identity, bool, error)
	GetIdentityByID(id string) (domain.Identity, bool, error)
	IdentityCount() (int, error)

	// role assignments
	GetRole(identityID string) (domain.Role, bool, error)
	SetRole(identityID string, role domain.Role) error
	ListRoles() ([]RoleAssignment, error)

	// model definitions
	CreateModel(domain.Model) (domain.Model, error)
	GetModel(id string) (domain.Model, error)
	ListModels() ([]domain.ModelSummary, error)
	UpdateModel(id, name, description string, fields []domain.Field) (domain.Model, error)
	DeleteModel(id string) error

	// records
	SaveRecord(domain.Record) error
	GetRecord(modelID, id string) (domain.Record, error)
	ListRecords(modelID string) ([]domain.Record, error)
	DeleteRecord(modelID, id string) error
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(identityID string) (string, error)
	GetIdentityIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
