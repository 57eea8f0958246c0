package domain

import "time"

// Role is the effective privilege level of an identity.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// ParseRole maps a string onto the closed role set.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleAdmin, RoleEditor, RoleViewer:
		return Role(s), true
	default:
		return "", false
	}
}

// FieldType is the closed set of types a field may carry.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeText    FieldType = "text"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeDate    FieldType = "date"
	TypeEmail   FieldType = "email"
	TypeURL     FieldType = "url"
)

// FieldTypes lists all valid field types in a stable order.
var FieldTypes = []FieldType{TypeString, TypeText, TypeNumber, TypeBoolean, TypeDate, TypeEmail, TypeURL}

// ParseFieldType maps a string onto the closed field type set.
func ParseFieldType(s string) (FieldType, bool) {
	switch FieldType(s) {
	case TypeString, TypeText, TypeNumber, TypeBoolean, TypeDate, TypeEmail, TypeURL:
		return FieldType(s), true
	default:
		return "", false
	}
}

// Field is one typed attribute of a model. An empty DefaultValue means the
// field has no default.
type Field struct {
	ID           string    `json:"id"`
	ModelID      string    `json:"modelId"`
	Name         string    `json:"name"`
	Type         FieldType `json:"fieldType"`
	Required     bool      `json:"required"`
	DefaultValue string    `json:"defaultValue,omitempty"`
	OrderIndex   int       `json:"orderIndex"`
}

// Model is an ordered collection of fields plus metadata.
// Fields are kept sorted by OrderIndex ascending.
type Model struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Fields      []Field   `json:"fields,omitempty"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ModelSummary is the fields-omitted shape returned by list operations.
type ModelSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Summary strips field data from a model.
func (m Model) Summary() ModelSummary {
	return ModelSummary{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		CreatedBy:   m.CreatedBy,
		CreatedAt:   m.CreatedAt,
	}
}

// FieldByName returns the field definition with the given name.
func (m Model) FieldByName(name string) (Field, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Identity is an authenticated principal. Its role is resolved, never stored here.
type Identity struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Record is a stored row of a dynamic model. Values holds the canonical
// string form of every field, keyed by field name.
type Record struct {
	ID        string            `json:"id"`
	ModelID   string            `json:"modelId"`
	Values    map[string]string `json:"values"`
	CreatedBy string            `json:"createdBy,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}
