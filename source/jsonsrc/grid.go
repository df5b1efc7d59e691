package jsonsrc

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"text/template"
)

// NewGrid creates one Sensor per combination of dimension values, for a set
// of identical devices that differ only in their address.
//
// urlTemplate uses text/template syntax with the dimension keys as
// variables. Values are URL-encoded before interpolation and a missing key
// is an error. Every Sensor shares base's method, headers, body, metrics and
// timeout; base.URL is ignored.
//
// Sensors are named "<base>_<v1>_<v2>", with values taken in sorted key
// order, and are returned in that order too.
//
// Example:
//
//	plugs, err := jsonsrc.NewGrid(base, "http://{{.host}}/rpc/Switch.GetStatus?id=0",
//	    map[string][]string{"host": {"plug-kitchen", "plug-office"}}, logger)
//	// plugs[0].Name() == "plug_plug-kitchen"
func NewGrid(base Config, urlTemplate string, dims map[string][]string, logger *slog.Logger) ([]*Sensor, error) {
	if strings.TrimSpace(base.Name) == "" {
		return nil, errors.New("jsonsrc grid: base name cannot be empty")
	}
	if urlTemplate == "" {
		return nil, fmt.Errorf("jsonsrc grid %s: url template required", base.Name)
	}
	if len(dims) == 0 {
		return nil, fmt.Errorf("jsonsrc grid %s: at least one dimension required", base.Name)
	}
	for k, vals := range dims {
		if len(vals) == 0 {
			return nil, fmt.Errorf("jsonsrc grid %s: dimension %q has no values", base.Name, k)
		}
		for i, v := range vals {
			if v == "" {
				return nil, fmt.Errorf("jsonsrc grid %s: dimension %q contains empty value at index %d", base.Name, k, i)
			}
		}
	}

	// missingkey=error for fail-fast behaviour
	tmpl, err := template.New("url").Option("missingkey=error").Parse(urlTemplate)
	if err != nil {
		return nil, fmt.Errorf("jsonsrc grid %s: invalid url template: %w", base.Name, err)
	}

	combinations := cartesianProduct(dims)
	sensors := make([]*Sensor, 0, len(combinations))
	for _, combo := range combinations {
		rendered, err := executeTemplate(tmpl, urlEncodeMap(combo))
		if err != nil {
			return nil, fmt.Errorf("jsonsrc grid %s: template execution failed: %w", base.Name, err)
		}

		cfg := base
		cfg.Name = gridName(base.Name, combo)
		cfg.URL = rendered
		cfg.Headers = copyHeaders(base.Headers)
		cfg.Metrics = append([]Metric(nil), base.Metrics...)

		s, err := New(cfg, logger)
		if err != nil {
			return nil, err
		}
		sensors = append(sensors, s)
	}
	return sensors, nil
}

// cartesianProduct generates all combinations of dimension values.
// Keys are sorted alphabetically for deterministic output.
// Values maintain their original slice order.
//
// Example:
//
//	Input:  {"x": ["a","b"], "y": ["1","2"]}
//	Output: [{"x":"a","y":"1"}, {"x":"a","y":"2"}, {"x":"b","y":"1"}, {"x":"b","y":"2"}]
func cartesianProduct(dims map[string][]string) []map[string]string {
	if len(dims) == 0 {
		return nil
	}

	keys := sortedKeys(dims)
	for _, k := range keys {
		if len(dims[k]) == 0 {
			return nil
		}
	}

	total := 1
	for _, k := range keys {
		total *= len(dims[k])
	}
	result := make([]map[string]string, 0, total)

	indices := make([]int, len(keys))
	for {
		combo := make(map[string]string, len(keys))
		for i, k := range keys {
			combo[k] = dims[k][indices[i]]
		}
		result = append(result, combo)

		// increment indices (rightmost first)
		for i := len(keys) - 1; i >= 0; i-- {
			indices[i]++
			if indices[i] < len(dims[keys[i]]) {
				break
			}
			indices[i] = 0
			if i == 0 {
				return result
			}
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func urlEncodeMap(m map[string]string) map[string]string {
	result := make(map[string]string, len(m))
	for k, v := range m {
		result[k] = url.QueryEscape(v)
	}
	return result
}

func executeTemplate(tmpl *template.Template, data map[string]string) (string, error) {
	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// gridName joins the base name and the combination's values with "_",
// ordered by sorted keys.
func gridName(base string, combo map[string]string) string {
	parts := []string{base}
	for _, k := range sortedKeys(combo) {
		parts = append(parts, combo[k])
	}
	return strings.Join(parts, "_")
}

func copyHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
