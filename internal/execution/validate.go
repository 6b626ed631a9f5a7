package execution

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"

	"github.com/agoramesh/agora/pkg/market"
)

// ValidateParams checks supplied against the declared schema and returns the
// effective parameter map (declared defaults merged in for absent optional
// parameters) plus every problem found. All issues are collected in one pass
// so the caller sees the full picture at once.
//
// Undeclared parameters are rejected: forwarding arbitrary caller input to a
// third-party endpoint is how injection surprises happen.
func ValidateParams(declared []market.Parameter, supplied map[string]any) (map[string]any, []string) {
	effective := make(map[string]any, len(supplied))
	for name, value := range supplied {
		effective[name] = value
	}

	var issues []string

	known := make(map[string]bool, len(declared))
	for _, p := range declared {
		known[p.Name] = true

		value, present := effective[p.Name]
		if !present {
			if p.Default != nil {
				effective[p.Name] = p.Default
				value = p.Default
			} else if p.Required {
				issues = append(issues, fmt.Sprintf("parameter %q is required", p.Name))
				continue
			} else {
				continue
			}
		}
		issues = append(issues, checkValue(p, value)...)
	}

	for name := range supplied {
		if !known[name] {
			issues = append(issues, fmt.Sprintf("parameter %q is not declared by this tool", name))
		}
	}
	return effective, issues
}

// checkValue verifies one value against its declaration: type first, then the
// optional constraints.
func checkValue(p market.Parameter, value any) []string {
	var issues []string

	switch p.Type {
	case market.TypeString:
		s, ok := value.(string)
		if !ok {
			return []string{typeIssue(p, value)}
		}
		if p.Validation != nil && p.Validation.Pattern != "" {
			re, err := regexp.Compile(p.Validation.Pattern)
			if err == nil && !re.MatchString(s) {
				issues = append(issues, fmt.Sprintf("parameter %q does not match pattern %q", p.Name, p.Validation.Pattern))
			}
		}
	case market.TypeNumber:
		n, ok := numberValue(value)
		if !ok {
			return []string{typeIssue(p, value)}
		}
		if p.Validation != nil {
			if p.Validation.Min != nil && n < *p.Validation.Min {
				issues = append(issues, fmt.Sprintf("parameter %q is below minimum %v", p.Name, *p.Validation.Min))
			}
			if p.Validation.Max != nil && n > *p.Validation.Max {
				issues = append(issues, fmt.Sprintf("parameter %q exceeds maximum %v", p.Name, *p.Validation.Max))
			}
		}
	case market.TypeBoolean:
		if _, ok := value.(bool); !ok {
			return []string{typeIssue(p, value)}
		}
	case market.TypeObject:
		if _, ok := value.(map[string]any); !ok {
			return []string{typeIssue(p, value)}
		}
	case market.TypeArray:
		if _, ok := value.([]any); !ok {
			return []string{typeIssue(p, value)}
		}
	}

	if p.Validation != nil && len(p.Validation.Enum) > 0 && !enumContains(p.Validation.Enum, value) {
		issues = append(issues, fmt.Sprintf("parameter %q is not one of the allowed values", p.Name))
	}
	return issues
}

func typeIssue(p market.Parameter, value any) string {
	return fmt.Sprintf("parameter %q must be a %s, got %T", p.Name, p.Type, value)
}

// numberValue extracts a float64 from the representations a JSON decoder or a
// Go caller can hand us.
func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// enumContains matches numerically for numbers so 3 and 3.0 compare equal,
// and structurally for everything else.
func enumContains(enum []any, value any) bool {
	if vn, ok := numberValue(value); ok {
		for _, allowed := range enum {
			if an, ok := numberValue(allowed); ok && an == vn {
				return true
			}
		}
		return false
	}
	for _, allowed := range enum {
		if reflect.DeepEqual(allowed, value) {
			return true
		}
	}
	return false
}
