// Package validate checks candidate records against a model definition.
// Validation never short-circuits: callers get either a fully coerced record
// or the complete ordered list of violations.
package validate

import (
	"fmt"
	"sort"
	"strings"

	"modeld/pkg/domain"
)

// Code classifies a validation violation.
type Code string

const (
	CodeMissingRequiredField Code = "missing_required_field"
	CodeTypeMismatch         Code = "type_mismatch"
	CodeUnknownField         Code = "unknown_field"
)

// Violation is one structured validation failure.
type Violation struct {
	Field    string           `json:"field"`
	Code     Code             `json:"code"`
	Expected domain.FieldType `json:"expectedType,omitempty"`
	Message  string           `json:"message"`
}

// Record validates a raw payload against a model definition. Fields are
// checked in definition order; a value that is absent, or present but blank,
// takes the field default when one is set and violates required otherwise.
// Payload keys not defined on the model are rejected (closed schema); those
// violations come last, sorted by key for determinism.
func Record(model domain.Model, payload map[string]string) (map[string]domain.Value, []Violation) {
	var violations []Violation
	values := make(map[string]domain.Value, len(model.Fields))

	for _, field := range model.Fields {
		raw, present := payload[field.Name]
		if !present || strings.TrimSpace(raw) == "" {
			if field.DefaultValue != "" {
				raw = field.DefaultValue
			} else if field.Required {
				violations = append(violations, Violation{
					Field:   field.Name,
					Code:    CodeMissingRequiredField,
					Message: fmt.Sprintf("field %q is required", field.Name),
				})
				continue
			} else {
				continue
			}
		}
		value, err := domain.Coerce(field.Type, raw)
		if err != nil {
			violations = append(violations, Violation{
				Field:    field.Name,
				Code:     CodeTypeMismatch,
				Expected: field.Type,
				Message:  err.Error(),
			})
			continue
		}
		values[field.Name] = value
	}

	var unknown []string
	for key := range payload {
		if _, ok := model.FieldByName(key); !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		violations = append(violations, Violation{
			Field:   key,
			Code:    CodeUnknownField,
			Message: fmt.Sprintf("field %q is not defined on model %q", key, model.Name),
		})
	}

	if len(violations) > 0 {
		return nil, violations
	}
	return values, nil
}

// Canonical flattens coerced values into their normalized string forms.
func Canonical(values map[string]domain.Value) map[string]string {
	out := make(map[string]string, len(values))
	for name, v := range values {
		out[name] = v.Canonical()
	}
	return out
}
