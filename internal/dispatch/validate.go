package dispatch

import (
	"fmt"
	"regexp"

	"github.com/shawkridge/athena/internal/apperr"
	"github.com/shawkridge/athena/internal/types"
)

// validateArgs checks args against params, rejecting unknown
// parameters and reporting every violation found rather than stopping
// at the first one, so a caller fixes all of its mistakes in one pass.
func validateArgs(params []*ParamSpec, args map[string]any) []types.ToolError {
	var errs []types.ToolError

	byName := make(map[string]*ParamSpec, len(params))
	for _, p := range params {
		byName[p.Name] = p
	}
	for name := range args {
		if _, ok := byName[name]; !ok {
			errs = append(errs, types.ToolError{
				Code:    string(apperr.CodeInvalidArgument),
				Field:   name,
				Message: fmt.Sprintf("unknown parameter %q", name),
			})
		}
	}

	for _, p := range params {
		v, present := args[p.Name]
		if !present {
			if p.Required {
				errs = append(errs, types.ToolError{
					Code:    string(apperr.CodeInvalidArgument),
					Field:   p.Name,
					Message: "required parameter missing",
				})
			}
			continue
		}
		if reason := validateValue(p, v); reason != "" {
			errs = append(errs, types.ToolError{
				Code:    string(apperr.CodeInvalidArgument),
				Field:   p.Name,
				Message: reason,
			})
		}
	}

	return errs
}

// validateValue checks a single value against spec, returning a
// human-readable reason string on failure or "" on success.
func validateValue(spec *ParamSpec, v any) string {
	switch spec.Type {
	case ParamString:
		s, ok := v.(string)
		if !ok {
			return "expected string"
		}
		if spec.MinLength != nil && len(s) < *spec.MinLength {
			return fmt.Sprintf("length %d below minimum %d", len(s), *spec.MinLength)
		}
		if spec.MaxLength != nil && len(s) > *spec.MaxLength {
			return fmt.Sprintf("length %d above maximum %d", len(s), *spec.MaxLength)
		}
		if spec.Pattern != "" {
			re, err := regexp.Compile(spec.Pattern)
			if err == nil && !re.MatchString(s) {
				return fmt.Sprintf("does not match pattern %q", spec.Pattern)
			}
		}
		return ""

	case ParamInt:
		n, ok := asInt(v)
		if !ok {
			return "expected int"
		}
		return checkRange(spec, float64(n))

	case ParamFloat:
		f, ok := asFloat(v)
		if !ok {
			return "expected float"
		}
		return checkRange(spec, f)

	case ParamBool:
		if _, ok := v.(bool); !ok {
			return "expected bool"
		}
		return ""

	case ParamEnum:
		s, ok := v.(string)
		if !ok {
			return "expected string enum value"
		}
		for _, e := range spec.Enum {
			if e == s {
				return ""
			}
		}
		return fmt.Sprintf("%q is not one of %v", s, spec.Enum)

	case ParamArray:
		arr, ok := v.([]any)
		if !ok {
			return "expected array"
		}
		if spec.MinLength != nil && len(arr) < *spec.MinLength {
			return fmt.Sprintf("length %d below minimum %d", len(arr), *spec.MinLength)
		}
		if spec.MaxLength != nil && len(arr) > *spec.MaxLength {
			return fmt.Sprintf("length %d above maximum %d", len(arr), *spec.MaxLength)
		}
		if spec.Elem != nil {
			for i, elem := range arr {
				if reason := validateValue(spec.Elem, elem); reason != "" {
					return fmt.Sprintf("element %d: %s", i, reason)
				}
			}
		}
		return ""

	case ParamObject:
		obj, ok := v.(map[string]any)
		if !ok {
			return "expected object"
		}
		for fname, fspec := range spec.Fields {
			fv, present := obj[fname]
			if !present {
				if fspec.Required {
					return fmt.Sprintf("field %q: required field missing", fname)
				}
				continue
			}
			if reason := validateValue(fspec, fv); reason != "" {
				return fmt.Sprintf("field %q: %s", fname, reason)
			}
		}
		for fname := range obj {
			if _, ok := spec.Fields[fname]; !ok {
				return fmt.Sprintf("unknown field %q", fname)
			}
		}
		return ""

	case ParamUnion:
		for _, variant := range spec.Variants {
			if validateValue(variant, v) == "" {
				return ""
			}
		}
		return "matches no variant of the union"

	default:
		return fmt.Sprintf("unsupported parameter type %q", spec.Type)
	}
}

func checkRange(spec *ParamSpec, f float64) string {
	if spec.MinValue != nil && f < *spec.MinValue {
		return fmt.Sprintf("%v below minimum %v", f, *spec.MinValue)
	}
	if spec.MaxValue != nil && f > *spec.MaxValue {
		return fmt.Sprintf("%v above maximum %v", f, *spec.MaxValue)
	}
	return ""
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
