package tool

import (
	"fmt"
	"maps"
	"slices"
	"unicode/utf8"

	"github.com/nstogner/forge/pkg/domain"
)

// Validate checks args against an object schema: required fields, primitive
// types, string minimum length and enums. Unknown fields are allowed.
func Validate(toolName string, schema *domain.Schema, args Args) error {
	if schema == nil {
		return nil
	}
	for _, name := range schema.Required {
		if _, ok := args[name]; !ok {
			return &ValidationError{Tool: toolName, Field: name, Reason: "required"}
		}
	}
	for _, name := range slices.Sorted(maps.Keys(schema.Properties)) {
		prop := schema.Properties[name]
		v, ok := args[name]
		if !ok || prop == nil {
			continue
		}
		if reason := check(prop, v); reason != "" {
			return &ValidationError{Tool: toolName, Field: name, Reason: reason}
		}
	}
	return nil
}

func check(s *domain.Schema, v any) string {
	switch s.Type {
	case domain.TypeString:
		str, ok := v.(string)
		if !ok {
			return fmt.Sprintf("expected string, got %T", v)
		}
		if s.MinLength > 0 && utf8.RuneCountInString(str) < s.MinLength {
			return fmt.Sprintf("must be at least %d characters", s.MinLength)
		}
		if len(s.Enum) > 0 && !slices.Contains(s.Enum, str) {
			return fmt.Sprintf("must be one of %v", s.Enum)
		}
	case domain.TypeNumber:
		if !isNumber(v) {
			return fmt.Sprintf("expected number, got %T", v)
		}
	case domain.TypeInteger:
		if !isInteger(v) {
			return fmt.Sprintf("expected integer, got %T", v)
		}
	case domain.TypeBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Sprintf("expected boolean, got %T", v)
		}
	case domain.TypeArray:
		items, ok := v.([]any)
		if !ok {
			return fmt.Sprintf("expected array, got %T", v)
		}
		if s.Items != nil {
			for i, item := range items {
				if reason := check(s.Items, item); reason != "" {
					return fmt.Sprintf("item %d: %s", i, reason)
				}
			}
		}
	case domain.TypeObject:
		if _, ok := v.(map[string]any); !ok {
			return fmt.Sprintf("expected object, got %T", v)
		}
	}
	return ""
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int32, int64:
		return true
	}
	return false
}

func isInteger(v any) bool {
	switch n := v.(type) {
	case int, int32, int64:
		return true
	case float64:
		return n == float64(int64(n))
	}
	return false
}
