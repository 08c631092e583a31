// Package validator implements the content-schema validation component:
// topic-pattern-keyed schemas checked against an item's content before it
// is admitted to the store.
package validator

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// FieldType is one of the scalar/structural kinds a schema field may require.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldArray   FieldType = "array"
	FieldObject  FieldType = "object"
)

// FieldSchema constrains a single required field of a content object.
type FieldSchema struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
}

// Schema is the set of field constraints applying to content whose topic
// matches the associated pattern. Unmarshals directly from the JSON schema
// files referenced by config's Validator.SchemaPatterns.
type Schema struct {
	Fields []FieldSchema `json:"fields"`
}

// Error identifies the field that failed validation.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("validation failed for field %q: %s", e.Field, e.Message)
}

// Validator checks content against a registry of topic-pattern-keyed schemas.
type Validator interface {
	// Register adds a schema for topics matching pattern. Patterns are
	// tested in registration order; the first match wins.
	Register(pattern string, schema Schema) error
	// Validate checks content against the schema for topic, if any. A topic
	// matching no registered pattern is valid by default.
	Validate(topic string, content interface{}) error
}

type registeredSchema struct {
	pattern *regexp.Regexp
	schema  Schema
}

type regexValidator struct {
	schemas []registeredSchema
}

// New creates an empty topic-pattern validator.
func New() Validator {
	return &regexValidator{}
}

// LoadSchemaFile reads a JSON-encoded Schema from path, for registering
// against config's Validator.SchemaPatterns entries at startup or reload.
func LoadSchemaFile(path string) (Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("reading schema file %s: %w", path, err)
	}
	var schema Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return Schema{}, fmt.Errorf("parsing schema file %s: %w", path, err)
	}
	return schema, nil
}

func (v *regexValidator) Register(pattern string, schema Schema) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid topic pattern %q: %w", pattern, err)
	}
	v.schemas = append(v.schemas, registeredSchema{pattern: re, schema: schema})
	return nil
}

func (v *regexValidator) Validate(topic string, content interface{}) error {
	for _, rs := range v.schemas {
		if !rs.pattern.MatchString(topic) {
			continue
		}
		return validateAgainst(rs.schema, content)
	}
	return nil
}

func validateAgainst(schema Schema, content interface{}) error {
	obj, ok := content.(map[string]interface{})
	if !ok {
		if len(schema.Fields) == 0 {
			return nil
		}
		return &Error{Field: schema.Fields[0].Name, Message: "content is not an object"}
	}

	for _, f := range schema.Fields {
		value, present := obj[f.Name]
		if !present {
			if f.Required {
				return &Error{Field: f.Name, Message: "required field is missing"}
			}
			continue
		}
		if !matchesType(value, f.Type) {
			return &Error{Field: f.Name, Message: fmt.Sprintf("expected type %s", f.Type)}
		}
	}
	return nil
}

func matchesType(value interface{}, t FieldType) bool {
	switch t {
	case FieldString:
		_, ok := value.(string)
		return ok
	case FieldNumber:
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case FieldBoolean:
		_, ok := value.(bool)
		return ok
	case FieldArray:
		_, ok := value.([]interface{})
		return ok
	case FieldObject:
		_, ok := value.(map[string]interface{})
		return ok
	}
	return false
}
