package tools

import "time"

// getString reads a string argument, returning "" if absent or the
// wrong type. Presence/type were already checked by dispatch's
// validateArgs before the handler ever runs; these are a second,
// defensive read for optional parameters validateArgs doesn't enforce
// the shape of.
func getString(args map[string]any, name string) string {
	if v, ok := args[name].(string); ok {
		return v
	}
	return ""
}

func getInt(args map[string]any, name string, def int) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}

func getFloat(args map[string]any, name string, def float64) float64 {
	switch v := args[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func getIntSlice(args map[string]any, name string) []int {
	raw, ok := args[name].([]any)
	if !ok {
		return nil
	}
	out := make([]int, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			out = append(out, int(n))
		case int:
			out = append(out, n)
		case int64:
			out = append(out, int(n))
		}
	}
	return out
}

// getTime parses an RFC3339 timestamp argument, returning the zero time
// if absent or malformed.
func getTime(args map[string]any, name string) time.Time {
	s, ok := args[name].(string)
	if !ok || s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func getStringSlice(args map[string]any, name string) []string {
	raw, ok := args[name].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
