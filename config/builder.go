package config

import (
	"fmt"
	"log/slog"

	"github.com/jpalmerr/pulselog"
	"github.com/jpalmerr/pulselog/source/foxess"
	"github.com/jpalmerr/pulselog/source/fritz"
	"github.com/jpalmerr/pulselog/source/ina219"
	"github.com/jpalmerr/pulselog/source/jsonsrc"
	"github.com/jpalmerr/pulselog/source/weather"
)

// BuildSources converts parsed configuration into SDK sources, in loop
// order. A json source with a grid expands in place into one source per
// combination.
func BuildSources(cfg *Config, logger *slog.Logger) (fast, slow []pulselog.Source, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	fast, err = buildLoop(cfg, cfg.FastLoop, logger)
	if err != nil {
		return nil, nil, err
	}
	slow, err = buildLoop(cfg, cfg.SlowLoop, logger)
	if err != nil {
		return nil, nil, err
	}
	return fast, slow, nil
}

// Options returns the SDK options that reproduce cfg: sources, cadence,
// log file and status server.
func Options(cfg *Config, logger *slog.Logger) ([]pulselog.Option, error) {
	fast, slow, err := BuildSources(cfg, logger)
	if err != nil {
		return nil, err
	}

	opts := []pulselog.Option{
		pulselog.WithFastSources(fast...),
		pulselog.WithSlowSources(slow...),
		pulselog.WithTickInterval(cfg.TickInterval.Duration()),
		pulselog.WithSlowPeriod(cfg.SlowPeriod),
		pulselog.WithLogFile(cfg.Filename),
	}
	if cfg.Listen != "" {
		opts = append(opts, pulselog.WithListenAddr(cfg.Listen))
	}
	if logger != nil {
		opts = append(opts, pulselog.WithLogger(logger))
	}
	return opts, nil
}

func buildLoop(cfg *Config, names []string, logger *slog.Logger) ([]pulselog.Source, error) {
	var sources []pulselog.Source
	for _, name := range names {
		sc, ok := cfg.Sources[name]
		if !ok {
			return nil, fmt.Errorf("unknown source %q", name)
		}
		built, err := buildSource(name, sc, logger)
		if err != nil {
			return nil, fmt.Errorf("sources.%s: %w", name, err)
		}
		sources = append(sources, built...)
	}
	return sources, nil
}

// buildSource converts a single SourceConfig to one or more sources.
func buildSource(name string, sc SourceConfig, logger *slog.Logger) ([]pulselog.Source, error) {
	timeout := sc.Timeout.Duration()

	switch sc.Type {
	case TypeFoxESS:
		return one(foxess.New(foxess.Config{
			Name:       name,
			URL:        sc.URL,
			User:       sc.User,
			Password:   sc.Password,
			InverterID: sc.InverterID,
			Variables:  sc.Variables,
			Timeout:    timeout,
		}, logger))

	case TypeFoxESSOpenAPI:
		return one(foxess.NewOpenAPI(foxess.OpenAPIConfig{
			Name:         name,
			URL:          sc.URL,
			APIKey:       sc.APIKey,
			SerialNumber: sc.InverterID,
			Variables:    sc.Variables,
			Timeout:      timeout,
		}, logger))

	case TypeFritz:
		return one(fritz.New(fritz.Config{
			Name:     name,
			URL:      sc.URL,
			User:     sc.User,
			Password: sc.Password,
			AIN:      sc.AIN,
			Timeout:  timeout,
		}, logger))

	case TypePower:
		return one(ina219.New(ina219.Config{
			Name:         name,
			Bus:          sc.Bus,
			Address:      uint8(sc.Address),
			ExpectedAmps: sc.ExpectedAmps,
		}, logger))

	case TypeWeather:
		wc := weather.Config{
			Name:    name,
			URL:     sc.URL,
			AppID:   sc.AppID,
			Timeout: timeout,
		}
		if sc.Lat != nil {
			wc.Lat = *sc.Lat
		}
		if sc.Long != nil {
			wc.Long = *sc.Long
		}
		return one(weather.New(wc, logger))

	case TypeJSON:
		return buildJSON(name, sc, logger)

	default:
		return nil, fmt.Errorf("unknown type %q", sc.Type)
	}
}

func buildJSON(name string, sc SourceConfig, logger *slog.Logger) ([]pulselog.Source, error) {
	metrics := make([]jsonsrc.Metric, len(sc.Metrics))
	for i, mc := range sc.Metrics {
		extract, err := buildExtractor(mc)
		if err != nil {
			return nil, fmt.Errorf("metrics[%d] (%s): %w", i, mc.Name, err)
		}
		metrics[i] = jsonsrc.Metric{Name: mc.Name, Extract: extract}
	}

	jc := jsonsrc.Config{
		Name:        name,
		URL:         sc.URL,
		Method:      sc.Method,
		Headers:     sc.Headers,
		Body:        sc.Body,
		Metrics:     metrics,
		Timeout:     sc.Timeout.Duration(),
		InsecureTLS: sc.InsecureTLS,
	}

	if sc.Grid == nil {
		return one(jsonsrc.New(jc, logger))
	}

	sensors, err := jsonsrc.NewGrid(jc, sc.Grid.URLTemplate, sc.Grid.Dimensions, logger)
	if err != nil {
		return nil, err
	}
	out := make([]pulselog.Source, len(sensors))
	for i, s := range sensors {
		out[i] = s
	}
	return out, nil
}

// buildExtractor converts MetricConfig to an extractor.
func buildExtractor(mc MetricConfig) (jsonsrc.Extractor, error) {
	if mc.Regex != "" {
		return jsonsrc.Regex(mc.Regex)
	}
	return jsonsrc.JSONPath(mc.Path), nil
}

// one adapts a single-source constructor result.
func one[S pulselog.Source](src S, err error) ([]pulselog.Source, error) {
	if err != nil {
		return nil, err
	}
	return []pulselog.Source{src}, nil
}
