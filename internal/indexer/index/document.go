package index

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/schema"
	apperrors "github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/errors"
)

// Document is a caller-supplied record. Fields holds schema values keyed by
// field name; values may be strings, lists of strings, or scalars. Raw is an
// optional pass-through payload stored verbatim and handed back with hits.
type Document struct {
	ID     string
	Fields map[string]any
	Raw    json.RawMessage
}

// Value is a normalised field value: a single string or a list of strings.
type Value struct {
	Items []string `json:"v"`
	List  bool     `json:"l,omitempty"`
}

// String renders the value as display text. Lists are comma-joined.
func (v Value) String() string {
	if len(v.Items) == 0 {
		return ""
	}
	if !v.List {
		return v.Items[0]
	}
	return strings.Join(v.Items, ", ")
}

// Interface returns a string for scalar values and []string for lists.
func (v Value) Interface() any {
	if v.List {
		out := make([]string, len(v.Items))
		copy(out, v.Items)
		return out
	}
	return v.String()
}

// IsZero reports whether the value carries nothing.
func (v Value) IsZero() bool {
	return len(v.Items) == 0
}

// StoredDoc holds the stored field values and raw payload of one document.
type StoredDoc struct {
	Fields map[string]Value `json:"f,omitempty"`
	Raw    json.RawMessage  `json:"r,omitempty"`
}

// normalizeValue checks a raw value against the field kind and converts it
// to a Value. A nil value yields the zero Value.
func normalizeValue(spec schema.FieldSpec, raw any) (Value, error) {
	switch v := raw.(type) {
	case nil:
		return Value{}, nil
	case string:
		return Value{Items: []string{v}}, nil
	case []string:
		if spec.Kind == schema.KindID {
			return Value{}, apperrors.SchemaViolation("field %q: id fields take a single value, got a list", spec.Name)
		}
		items := make([]string, len(v))
		copy(items, v)
		return Value{Items: items, List: true}, nil
	case []any:
		if spec.Kind == schema.KindID {
			return Value{}, apperrors.SchemaViolation("field %q: id fields take a single value, got a list", spec.Name)
		}
		items := make([]string, 0, len(v))
		for i, elem := range v {
			s, ok := elem.(string)
			if !ok {
				return Value{}, apperrors.SchemaViolation("field %q: list element %d is %T, want string", spec.Name, i, elem)
			}
			items = append(items, s)
		}
		return Value{Items: items, List: true}, nil
	default:
		s, ok := scalarString(v)
		if !ok {
			return Value{}, apperrors.SchemaViolation("field %q: unsupported value of type %T", spec.Name, raw)
		}
		return Value{Items: []string{s}}, nil
	}
}

func scalarString(v any) (string, bool) {
	switch n := v.(type) {
	case json.Number:
		return n.String(), true
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32), true
	case int:
		return strconv.Itoa(n), true
	case int64:
		return strconv.FormatInt(n, 10), true
	case int32:
		return strconv.FormatInt(int64(n), 10), true
	case uint64:
		return strconv.FormatUint(n, 10), true
	case bool:
		return strconv.FormatBool(n), true
	case fmt.Stringer:
		return n.String(), true
	}
	return "", false
}
