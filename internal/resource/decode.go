package resource

import (
	"fmt"
	"strings"
	"time"
)

// Values holds column-keyed field values ready to be written.
type Values map[string]any

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Message
}

const dateLayout = "2006-01-02"

// DecodeCreate validates a create body. Required fields must be present and
// non-empty; absent optional fields take their default, or NULL.
func (s *Schema) DecodeCreate(body map[string]any) (Values, error) {
	values := make(Values, len(s.Fields))
	for _, f := range s.Fields {
		raw, present := body[f.Name]
		if !present || raw == nil {
			if f.Required {
				return nil, &ValidationError{Field: f.Name, Message: "is required"}
			}
			values[f.Column] = f.Default
			continue
		}
		v, err := f.coerce(raw)
		if err != nil {
			return nil, err
		}
		values[f.Column] = v
	}
	return values, nil
}

// DecodeUpdate validates a partial update body. Only fields present in the
// body are returned; an explicit null clears an optional field.
func (s *Schema) DecodeUpdate(body map[string]any) (Values, error) {
	values := make(Values)
	for _, f := range s.Fields {
		raw, present := body[f.Name]
		if !present {
			continue
		}
		if raw == nil {
			if f.Required {
				return nil, &ValidationError{Field: f.Name, Message: "cannot be cleared"}
			}
			values[f.Column] = nil
			continue
		}
		v, err := f.coerce(raw)
		if err != nil {
			return nil, err
		}
		values[f.Column] = v
	}
	return values, nil
}

func (f Field) coerce(raw any) (any, error) {
	switch f.Kind {
	case Number:
		n, ok := raw.(float64)
		if !ok {
			return nil, &ValidationError{Field: f.Name, Message: "must be a number"}
		}
		if f.Min != nil && n < *f.Min {
			return nil, &ValidationError{Field: f.Name, Message: fmt.Sprintf("must be at least %g", *f.Min)}
		}
		if f.Max != nil && n > *f.Max {
			return nil, &ValidationError{Field: f.Name, Message: fmt.Sprintf("must be at most %g", *f.Max)}
		}
		return n, nil
	}

	str, ok := raw.(string)
	if !ok {
		return nil, &ValidationError{Field: f.Name, Message: "must be a string"}
	}
	if f.Required && strings.TrimSpace(str) == "" {
		return nil, &ValidationError{Field: f.Name, Message: "is required"}
	}

	switch f.Kind {
	case Enum:
		for _, allowed := range f.Values {
			if str == allowed {
				return str, nil
			}
		}
		return nil, &ValidationError{Field: f.Name, Message: "must be one of " + strings.Join(f.Values, ", ")}
	case Date:
		if str == "" {
			return nil, nil
		}
		if _, err := time.Parse(dateLayout, str); err != nil {
			return nil, &ValidationError{Field: f.Name, Message: "must be a date (YYYY-MM-DD)"}
		}
		return str, nil
	case Timestamp:
		if str == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339, str)
		if err != nil {
			return nil, &ValidationError{Field: f.Name, Message: "must be an RFC 3339 timestamp"}
		}
		return t.UTC().Format(time.RFC3339), nil
	case Ref:
		if str == "" {
			return nil, nil
		}
		return str, nil
	}
	return str, nil
}
