package tools

import (
	"fmt"
	"strings"
)

// Schema is a restricted JSON-schema describing tool arguments. Only object
// schemas with primitive-typed properties are supported; that covers every
// builtin and keeps validation cheap enough for the turn loop.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// ObjectSchema is a convenience constructor for the common case.
func ObjectSchema(props map[string]Property, required ...string) Schema {
	return Schema{Type: "object", Properties: props, Required: required}
}

// Validate checks decoded arguments against the schema. All problems are
// reported in one pass.
func (s Schema) Validate(args map[string]interface{}) error {
	var problems []string

	for _, name := range s.Required {
		if _, ok := args[name]; !ok {
			problems = append(problems, fmt.Sprintf("missing required argument %q", name))
		}
	}

	for name, value := range args {
		prop, ok := s.Properties[name]
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown argument %q", name))
			continue
		}
		if err := checkType(name, prop, value); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

func checkType(name string, prop Property, value interface{}) error {
	switch prop.Type {
	case "string":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("argument %q must be a string", name)
		}
		if len(prop.Enum) > 0 && !contains(prop.Enum, s) {
			return fmt.Errorf("argument %q must be one of %v", name, prop.Enum)
		}
	case "number":
		switch value.(type) {
		case float64, float32, int, int64:
		default:
			return fmt.Errorf("argument %q must be a number", name)
		}
	case "integer":
		switch v := value.(type) {
		case int, int64:
		case float64:
			if v != float64(int64(v)) {
				return fmt.Errorf("argument %q must be an integer", name)
			}
		default:
			return fmt.Errorf("argument %q must be an integer", name)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("argument %q must be a boolean", name)
		}
	case "":
		// untyped property accepts anything
	default:
		return fmt.Errorf("argument %q has unsupported schema type %q", name, prop.Type)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
