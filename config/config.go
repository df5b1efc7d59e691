// Package config provides YAML configuration parsing for pulselog.
//
// This package enables running pulselog as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	filename: data.csv
//	tick_interval: 30s
//	slow_period: 20
//	listen: ":9100"
//
//	fast_loop: [inverter, plug, panel]
//	slow_loop: [owm]
//
//	sources:
//	  inverter:
//	    type: foxess
//	    user: me
//	    password: ${FOXESS_PASSWORD}
//	    inverter_id: 0a1b2c
//	    variables: [generationPower, feedinPower, loadsPower]
//	  plug:
//	    type: fritz
//	    url: https://192.168.178.1
//	    user: admin
//	    password: ${FRITZ_PASSWORD}
//	    ain: "11630 0123456"
//	  panel:
//	    type: power
//	    bus: /dev/i2c-1
//	    address: 0x40
//	    expected_amps: 1.0
//	  owm:
//	    type: weather
//	    lat: 52.52
//	    long: 13.40
//	    app_id: ${OWM_APP_ID}
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"sort"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"
)

// Source types.
const (
	TypeFoxESS        = "foxess"
	TypeFoxESSOpenAPI = "foxess_openapi"
	TypeFritz         = "fritz"
	TypePower         = "power"
	TypeWeather       = "weather"
	TypeJSON          = "json"
)

const (
	defaultFilename     = "data.csv"
	defaultTickInterval = 30 * time.Second
	defaultSlowPeriod   = 20

	// minTickInterval keeps a typo from hammering rate-limited cloud APIs.
	minTickInterval = 1 * time.Second
)

// Config is the root configuration structure.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Filename is the CSV log file. Defaults to "data.csv".
	Filename string `yaml:"filename"`

	// TickInterval is the pause between ticks. Defaults to 30s.
	TickInterval Duration `yaml:"tick_interval"`

	// SlowPeriod is the number of ticks between slow-loop samples.
	// Defaults to 20.
	SlowPeriod int `yaml:"slow_period"`

	// Listen is the optional status server address, e.g. ":9100".
	Listen string `yaml:"listen"`

	// FastLoop lists the sources sampled every tick, in column order.
	FastLoop []string `yaml:"fast_loop"`

	// SlowLoop lists the sources sampled every SlowPeriod ticks.
	SlowLoop []string `yaml:"slow_loop"`

	// Sources maps source names to their settings. Only sources listed in
	// FastLoop or SlowLoop are built.
	Sources map[string]SourceConfig `yaml:"sources"`
}

// SourceConfig holds the settings of one source. Which fields apply
// depends on Type.
//
// URL, User, Password, APIKey, AppID, Body, header values and the grid URL
// template support environment variable substitution: ${VAR} or
// ${VAR:-default}.
type SourceConfig struct {
	// Type selects the implementation: foxess, foxess_openapi, fritz,
	// power, weather or json.
	Type string `yaml:"type"`

	// URL is the backend base URL. Optional for foxess, foxess_openapi and
	// weather, which default to the public service.
	URL string `yaml:"url"`

	// Timeout bounds every request the source makes. Defaults to 10s.
	Timeout Duration `yaml:"timeout"`

	// User and Password authenticate foxess and fritz sources.
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	// AIN identifies the fritz smart plug.
	AIN string `yaml:"ain"`

	// InverterID is the foxess device id, or the serial number for
	// foxess_openapi.
	InverterID string `yaml:"inverter_id"`

	// APIKey authenticates foxess_openapi sources.
	APIKey string `yaml:"api_key"`

	// Variables are the foxess variables to report, in column order.
	Variables []string `yaml:"variables"`

	// Bus, Address and ExpectedAmps configure a power (INA219) source.
	// Address defaults to 0x40.
	Bus          string  `yaml:"bus"`
	Address      int     `yaml:"address"`
	ExpectedAmps float64 `yaml:"expected_amps"`

	// Lat, Long and AppID configure a weather source.
	Lat   *float64 `yaml:"lat"`
	Long  *float64 `yaml:"long"`
	AppID string   `yaml:"app_id"`

	// Method, Headers, Body, Metrics, Grid and InsecureTLS configure a
	// json source.
	Method      string            `yaml:"method"`
	Headers     map[string]string `yaml:"headers"`
	Body        string            `yaml:"body"`
	Metrics     []MetricConfig    `yaml:"metrics"`
	Grid        *GridConfig       `yaml:"grid"`
	InsecureTLS bool              `yaml:"insecure_tls"`
}

// MetricConfig is one column of a json source. Exactly one of Path and
// Regex must be set.
type MetricConfig struct {
	Name string `yaml:"name"`

	// Path is a dot path into the JSON body, e.g. "meter.power" or
	// "phases.0.voltage".
	Path string `yaml:"path"`

	// Regex is matched against the raw body; its first capture group is
	// the value.
	Regex string `yaml:"regex"`
}

// GridConfig expands a json source into one source per combination of
// dimension values, for identical devices at different addresses.
//
// For example, with dimensions {host: [kitchen, office]} the source "plug"
// expands to "plug_kitchen" and "plug_office", in place in its loop.
type GridConfig struct {
	// URLTemplate is a Go template for the device URL. Dimension keys are
	// available as template variables: {{.host}}.
	URLTemplate string `yaml:"url_template"`

	// Dimensions maps dimension names to their possible values.
	Dimensions map[string][]string `yaml:"dimensions"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Returns an error if the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Defaults are applied for Filename (data.csv), TickInterval (30s) and
// SlowPeriod (20). Environment variables are expanded, then every source
// referenced by a loop is validated for its type.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Filename == "" {
		cfg.Filename = defaultFilename
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = Duration(defaultTickInterval)
	}
	if cfg.SlowPeriod == 0 {
		cfg.SlowPeriod = defaultSlowPeriod
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.TickInterval.Duration() < minTickInterval {
		return fmt.Errorf("tick_interval must be at least %s, got %s", minTickInterval, c.TickInterval.Duration())
	}
	if c.SlowPeriod < 1 {
		return fmt.Errorf("slow_period must be at least 1, got %d", c.SlowPeriod)
	}
	if c.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Listen); err != nil {
			return fmt.Errorf("listen: invalid address %q: %w", c.Listen, err)
		}
	}

	if len(c.FastLoop) == 0 && len(c.SlowLoop) == 0 {
		return errors.New("at least one source must be listed in fast_loop or slow_loop")
	}

	listed := make(map[string]string, len(c.FastLoop)+len(c.SlowLoop))
	for _, loop := range []struct {
		key   string
		names []string
	}{{"fast_loop", c.FastLoop}, {"slow_loop", c.SlowLoop}} {
		for i, name := range loop.names {
			if _, ok := c.Sources[name]; !ok {
				return fmt.Errorf("%s[%d]: unknown source %q", loop.key, i, name)
			}
			if prev, dup := listed[name]; dup {
				return fmt.Errorf("%s[%d]: source %q is already listed in %s", loop.key, i, name, prev)
			}
			listed[name] = loop.key
		}
	}

	// sorted for deterministic error reporting
	names := make([]string, 0, len(listed))
	for name := range listed {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sc := c.Sources[name]
		if err := sc.expandAndValidate(); err != nil {
			return fmt.Errorf("sources.%s: %w", name, err)
		}
		c.Sources[name] = sc
	}

	return nil
}

func (s *SourceConfig) expandAndValidate() error {
	for _, field := range []struct {
		name string
		ptr  *string
	}{
		{"url", &s.URL},
		{"user", &s.User},
		{"password", &s.Password},
		{"api_key", &s.APIKey},
		{"app_id", &s.AppID},
		{"body", &s.Body},
	} {
		expanded, err := expandEnvVars(*field.ptr)
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.ptr = expanded
	}
	for k, v := range s.Headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("headers[%s]: %w", k, err)
		}
		s.Headers[k] = expanded
	}

	if s.URL != "" {
		if err := validateURL(s.URL); err != nil {
			return err
		}
	}

	if s.Timeout != 0 {
		if s.Timeout.Duration() < 0 {
			return fmt.Errorf("timeout cannot be negative, got %s", s.Timeout.Duration())
		}
		if s.Timeout.Duration() < time.Second {
			return fmt.Errorf("timeout must be at least 1s if specified, got %s", s.Timeout.Duration())
		}
	}

	switch s.Type {
	case TypeFoxESS:
		return s.require("user", s.User, "password", s.Password, "inverter_id", s.InverterID, "variables", len(s.Variables) > 0)
	case TypeFoxESSOpenAPI:
		return s.require("api_key", s.APIKey, "inverter_id", s.InverterID, "variables", len(s.Variables) > 0)
	case TypeFritz:
		return s.require("url", s.URL, "user", s.User, "password", s.Password, "ain", s.AIN)
	case TypePower:
		if err := s.require("bus", s.Bus, "expected_amps", s.ExpectedAmps > 0); err != nil {
			return err
		}
		if s.Address != 0 && (s.Address < 0x03 || s.Address > 0x77) {
			return fmt.Errorf("address must be between 0x03 and 0x77, got %#x", s.Address)
		}
		return nil
	case TypeWeather:
		return s.require("lat", s.Lat != nil, "long", s.Long != nil, "app_id", s.AppID)
	case TypeJSON:
		return s.validateJSON()
	case "":
		return errors.New("type is required")
	default:
		return fmt.Errorf("unknown type %q", s.Type)
	}
}

// require takes name/value pairs; a value is present when it is a
// non-empty string or true.
func (s *SourceConfig) require(pairs ...any) error {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		name := pairs[i].(string)
		switch v := pairs[i+1].(type) {
		case string:
			if v == "" {
				missing = append(missing, name)
			}
		case bool:
			if !v {
				missing = append(missing, name)
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("type %s requires %v", s.Type, missing)
	}
	return nil
}

func (s *SourceConfig) validateJSON() error {
	if s.Grid == nil && s.URL == "" {
		return errors.New("type json requires url or grid")
	}
	if s.Grid != nil {
		if s.URL != "" {
			return errors.New("url and grid are mutually exclusive")
		}
		if err := s.Grid.expandAndValidate(); err != nil {
			return fmt.Errorf("grid: %w", err)
		}
	}

	if s.Method != "" && s.Method != "GET" && s.Method != "POST" {
		return errors.New("method must be GET or POST")
	}

	if len(s.Metrics) == 0 {
		return errors.New("type json requires at least one metric")
	}
	seen := make(map[string]bool, len(s.Metrics))
	for i, m := range s.Metrics {
		if m.Name == "" {
			return fmt.Errorf("metrics[%d]: name is required", i)
		}
		if seen[m.Name] {
			return fmt.Errorf("metrics[%d]: duplicate name %q", i, m.Name)
		}
		seen[m.Name] = true

		if (m.Path == "") == (m.Regex == "") {
			return fmt.Errorf("metrics[%d] (%s): exactly one of path and regex is required", i, m.Name)
		}
		if m.Regex != "" {
			re, err := regexp.Compile(m.Regex)
			if err != nil {
				return fmt.Errorf("metrics[%d] (%s): invalid regex: %w", i, m.Name, err)
			}
			if re.NumSubexp() < 1 {
				return fmt.Errorf("metrics[%d] (%s): regex needs a capture group", i, m.Name)
			}
		}
	}
	return nil
}

func (g *GridConfig) expandAndValidate() error {
	if g.URLTemplate == "" {
		return errors.New("url_template is required")
	}
	expanded, err := expandEnvVars(g.URLTemplate)
	if err != nil {
		return fmt.Errorf("url_template: %w", err)
	}
	g.URLTemplate = expanded

	// fail fast before the builder tries to use an invalid template
	if _, err := template.New("").Parse(g.URLTemplate); err != nil {
		return fmt.Errorf("invalid url_template: %w", err)
	}

	if len(g.Dimensions) == 0 {
		return errors.New("at least one dimension is required")
	}
	for dimName, dimValues := range g.Dimensions {
		if len(dimValues) == 0 {
			return fmt.Errorf("dimension %q has no values", dimName)
		}
		seen := make(map[string]struct{}, len(dimValues))
		for _, v := range dimValues {
			if _, exists := seen[v]; exists {
				return fmt.Errorf("dimension %q has duplicate value %q", dimName, v)
			}
			seen[v] = struct{}{}
		}
	}
	return nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme == "" {
		return errors.New("url must have a scheme (http:// or https://)")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", parsed.Scheme)
	}
	return nil
}
