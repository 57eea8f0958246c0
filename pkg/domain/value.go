package domain

import (
	"fmt"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Value is a coerced field value tagged by its field type. Exactly one of the
// payload arms is meaningful depending on Type.
type Value struct {
	Type   FieldType
	Text   string
	Number float64
	Bool   bool
	Time   time.Time
}

const dateOnly = "2006-01-02"

// Coerce checks a raw string against a field type and returns the typed value.
func Coerce(t FieldType, raw string) (Value, error) {
	v := Value{Type: t}
	switch t {
	case TypeString, TypeText:
		v.Text = raw
	case TypeEmail:
		trimmed := strings.TrimSpace(raw)
		addr, err := mail.ParseAddress(trimmed)
		if err != nil || addr.Address != trimmed {
			return Value{}, fmt.Errorf("%q is not a valid email address", raw)
		}
		v.Text = trimmed
	case TypeURL:
		trimmed := strings.TrimSpace(raw)
		u, err := url.Parse(trimmed)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return Value{}, fmt.Errorf("%q is not a valid URL", raw)
		}
		v.Text = trimmed
	case TypeNumber:
		n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return Value{}, fmt.Errorf("%q is not a number", raw)
		}
		v.Number = n
	case TypeBoolean:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true", "1", "yes":
			v.Bool = true
		case "false", "0", "no":
			v.Bool = false
		default:
			return Value{}, fmt.Errorf("%q is not a boolean", raw)
		}
	case TypeDate:
		trimmed := strings.TrimSpace(raw)
		ts, err := time.Parse(time.RFC3339, trimmed)
		if err != nil {
			ts, err = time.Parse(dateOnly, trimmed)
		}
		if err != nil {
			return Value{}, fmt.Errorf("%q is not an ISO date", raw)
		}
		v.Time = ts.UTC()
	default:
		return Value{}, fmt.Errorf("unknown field type %q", t)
	}
	return v, nil
}

// Canonical returns the normalized string form of the value.
func (v Value) Canonical() string {
	switch v.Type {
	case TypeNumber:
		return strconv.FormatFloat(v.Number, 'g', -1, 64)
	case TypeBoolean:
		return strconv.FormatBool(v.Bool)
	case TypeDate:
		return v.Time.Format(time.RFC3339)
	default:
		return v.Text
	}
}
