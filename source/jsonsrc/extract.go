package jsonsrc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// An Extractor pulls one numeric reading out of a response body.
type Extractor func(body []byte) (float64, error)

// errNoValue is returned when the path or pattern does not match.
var errNoValue = errors.New("no value")

// JSONPath returns an [Extractor] that reads a number from a JSON document
// using dot notation to navigate nested objects. Numeric segments index
// into arrays, so "inverters.0.power" reads
// {"inverters": [{"power": 812}]}.
//
// The value is converted to float64:
//   - numbers are used as-is
//   - true and false become 1 and 0
//   - strings are parsed with strconv.ParseFloat
//
// Anything else, or a missing field, is an error.
func JSONPath(path string) Extractor {
	parts := strings.Split(path, ".")

	return func(body []byte) (float64, error) {
		var data any
		if err := json.Unmarshal(body, &data); err != nil {
			return 0, err
		}

		value, ok := walk(data, parts)
		if !ok {
			return 0, fmt.Errorf("%s: %w", path, errNoValue)
		}
		return toFloat(path, value)
	}
}

// walk follows parts through nested objects and arrays.
func walk(data any, parts []string) (any, bool) {
	current := data

	for _, part := range parts {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			current = node[i]
		default:
			return nil, false
		}
	}
	return current, true
}

func toFloat(path string, value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := parseFinite(v)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", path, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%s: unsupported value type %T", path, value)
	}
}

// Regex returns an [Extractor] that matches the body against pattern and
// parses the first capture group as a number.
//
// Returns an error if the pattern is invalid or has no capture group.
//
// Example:
//
//	// Match "power: 812.5 W" in a plain-text status page
//	extract, err := jsonsrc.Regex(`power:\s*([0-9.]+)`)
func Regex(pattern string) (Extractor, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("pattern %q has no capture group", pattern)
	}

	return func(body []byte) (float64, error) {
		matches := re.FindSubmatch(body)
		if len(matches) < 2 {
			return 0, fmt.Errorf("%s: %w", pattern, errNoValue)
		}
		f, err := parseFinite(string(matches[1]))
		if err != nil {
			return 0, fmt.Errorf("%s: %w", pattern, err)
		}
		return f, nil
	}, nil
}

// parseFinite parses s as a number, rejecting NaN and the infinities.
func parseFinite(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return f, nil
}

// MustRegex is like [Regex] but panics if the pattern is invalid.
//
// Use this for compile-time constant patterns. For runtime patterns, use
// [Regex] instead.
func MustRegex(pattern string) Extractor {
	extract, err := Regex(pattern)
	if err != nil {
		panic("jsonsrc: invalid regex pattern: " + err.Error())
	}
	return extract
}
