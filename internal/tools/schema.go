package tools

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/mitchellh/mapstructure"
)

// ArgType is the primitive type of a tool argument.
type ArgType string

const (
	TypeString  ArgType = "string"
	TypeInteger ArgType = "integer"
	TypeNumber  ArgType = "number"
	TypeBoolean ArgType = "boolean"
	TypeObject  ArgType = "object"
)

// Field describes one named argument.
type Field struct {
	Name        string
	Type        ArgType
	Description string
	Required    bool
}

// Schema is the ordered argument list of a tool.
type Schema struct {
	Fields []Field
}

// Object builds a schema from fields.
func Object(fields ...Field) Schema {
	return Schema{Fields: fields}
}

// Required declares a mandatory argument.
func Required(name string, typ ArgType, description string) Field {
	return Field{Name: name, Type: typ, Description: description, Required: true}
}

// Optional declares an optional argument.
func Optional(name string, typ ArgType, description string) Field {
	return Field{Name: name, Type: typ, Description: description}
}

// Validate checks that required fields are present and that every known field
// carries a value of the declared primitive type. Unknown fields are ignored.
func (s Schema) Validate(tool string, args map[string]any) error {
	violation := &SchemaViolationError{Tool: tool}
	for _, f := range s.Fields {
		v, ok := args[f.Name]
		if !ok || v == nil {
			if f.Required {
				violation.Missing = append(violation.Missing, f.Name)
			}
			continue
		}
		if !matchesType(f.Type, v) {
			violation.Mistyped = append(violation.Mistyped, FieldTypeError{
				Field: f.Name,
				Want:  f.Type,
				Got:   describeValue(v),
			})
		}
	}
	if len(violation.Missing) == 0 && len(violation.Mistyped) == 0 {
		return nil
	}
	return violation
}

// MarshalJSON renders the schema as a JSON Schema object.
func (s Schema) MarshalJSON() ([]byte, error) {
	props := make(map[string]any, len(s.Fields))
	required := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		props[f.Name] = map[string]any{
			"type":        string(f.Type),
			"description": f.Description,
		}
		if f.Required {
			required = append(required, f.Name)
		}
	}
	return json.Marshal(map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	})
}

func matchesType(typ ArgType, v any) bool {
	switch typ {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeInteger:
		switch n := v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			return n == math.Trunc(n) && !math.IsInf(n, 0)
		case float32:
			return float64(n) == math.Trunc(float64(n))
		case json.Number:
			_, err := n.Int64()
			return err == nil
		}
		return false
	case TypeNumber:
		switch v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
			return true
		}
		return false
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	}
	return false
}

func describeValue(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float32, float64, json.Number:
		return "number"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "integer"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	return fmt.Sprintf("%T", v)
}

// DecodeArgs decodes validated arguments into a typed struct using
// `arg` struct tags. JSON numbers arrive as float64 and are narrowed here.
func DecodeArgs(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "arg",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}
