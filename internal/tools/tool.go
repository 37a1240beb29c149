// Package tools holds the flat tool catalog presented to the model and the
// dispatcher that routes a tool call by name to its handler.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Param describes one property of a tool's JSON parameter object.
type Param struct {
	Type        string   `yaml:"type" json:"type"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Enum        []string `yaml:"enum,omitempty" json:"enum,omitempty"`
	Items       *Param   `yaml:"items,omitempty" json:"items,omitempty"`
}

// Spec is a callable tool as advertised to the model.
type Spec struct {
	Name        string           `yaml:"name" json:"name"`
	Description string           `yaml:"description" json:"description"`
	Parameters  map[string]Param `yaml:"parameters" json:"parameters"`
	Required    []string         `yaml:"required" json:"required"`
	Category    string           `yaml:"category" json:"category,omitempty"`
}

// Schema returns the JSON-schema object for the spec's parameters.
func (s Spec) Schema() map[string]any {
	props := make(map[string]any, len(s.Parameters))
	for name, p := range s.Parameters {
		props[name] = p
	}
	required := s.Required
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Handler executes one tool call. Raw args are the model-supplied JSON object.
type Handler func(ctx context.Context, args json.RawMessage) (Result, error)

// ErrValidation marks malformed or missing tool arguments.
var ErrValidation = errors.New("invalid tool arguments")

// ErrUnknownTool is returned when no handler or fallback can serve a name.
var ErrUnknownTool = errors.New("unknown tool")

// ErrDuplicateTool is returned when a name is registered twice.
var ErrDuplicateTool = errors.New("duplicate tool registration")

// Invalid returns a validation error with the given detail.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Kinded errors name their category in failure results.
type Kinded interface {
	Kind() string
}

// Detailed errors contribute extra fields to failure results.
type Detailed interface {
	Detail() map[string]any
}

// Decode unmarshals raw args into v. An empty payload decodes as {}.
func Decode(args json.RawMessage, v any) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return Invalid("%v", err)
	}
	return nil
}
