package domain

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	// ErrInvalidField indicates a field definition that violates construction invariants.
	ErrInvalidField = errors.New("invalid field definition")
	// ErrInvalidModel indicates a model definition that violates construction invariants.
	ErrInvalidModel = errors.New("invalid model definition")
)

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NewField validates and builds a field definition. The default value, when
// present, must itself satisfy the field type.
func NewField(name, fieldType string, required bool, defaultValue string, orderIndex int) (Field, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Field{}, fmt.Errorf("%w: name is required", ErrInvalidField)
	}
	if !fieldNamePattern.MatchString(name) {
		return Field{}, fmt.Errorf("%w: name %q is not a safe identifier", ErrInvalidField, name)
	}
	ft, ok := ParseFieldType(fieldType)
	if !ok {
		return Field{}, fmt.Errorf("%w: unknown type %q", ErrInvalidField, fieldType)
	}
	defaultValue = strings.TrimSpace(defaultValue)
	if defaultValue != "" {
		if _, err := Coerce(ft, defaultValue); err != nil {
			return Field{}, fmt.Errorf("%w: default for %q: %v", ErrInvalidField, name, err)
		}
	}
	return Field{
		Name:         name,
		Type:         ft,
		Required:     required,
		DefaultValue: defaultValue,
		OrderIndex:   orderIndex,
	}, nil
}

// NewModel validates and builds a model definition. Field names and order
// indexes must be unique within the model; fields come out sorted by
// OrderIndex ascending.
func NewModel(name, description, createdBy string, fields []Field) (Model, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Model{}, fmt.Errorf("%w: name is required", ErrInvalidModel)
	}
	seen := make(map[string]struct{}, len(fields))
	orders := make(map[int]struct{}, len(fields))
	ordered := make([]Field, len(fields))
	copy(ordered, fields)
	for _, f := range ordered {
		if _, dup := seen[f.Name]; dup {
			return Model{}, fmt.Errorf("%w: duplicate field name %q", ErrInvalidField, f.Name)
		}
		seen[f.Name] = struct{}{}
		if _, dup := orders[f.OrderIndex]; dup {
			return Model{}, fmt.Errorf("%w: duplicate order index %d", ErrInvalidField, f.OrderIndex)
		}
		orders[f.OrderIndex] = struct{}{}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].OrderIndex < ordered[j].OrderIndex
	})
	return Model{
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedBy:   createdBy,
		Fields:      ordered,
	}, nil
}
