// Package jsonsrc samples arbitrary HTTP endpoints, extracting one reading
// per configured metric from the response body.
//
// It covers devices and services that have no dedicated source, such as a
// smart meter exposing a JSON status page. Each metric has its own
// [Extractor]; a metric whose extractor fails is reported as
// [pulselog.Sentinel] while the other columns keep their values.
package jsonsrc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jpalmerr/pulselog"
	"github.com/jpalmerr/pulselog/internal/transport"
)

// Metric is one column of the source.
type Metric struct {
	Name    string
	Extract Extractor
}

// Config holds the settings for one endpoint.
type Config struct {
	Name        string
	URL         string
	Method      string // defaults to GET
	Headers     map[string]string
	Body        string
	Metrics     []Metric
	Timeout     time.Duration
	InsecureTLS bool
}

// Sensor is a [pulselog.Source] for a generic HTTP endpoint.
type Sensor struct {
	cfg    Config
	names  []string
	client *transport.Client
	logger *slog.Logger
}

// New creates a Sensor.
func New(cfg Config, logger *slog.Logger) (*Sensor, error) {
	if cfg.Name == "" {
		return nil, errors.New("jsonsrc: name is required")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("jsonsrc %s: url is required", cfg.Name)
	}
	if len(cfg.Metrics) == 0 {
		return nil, fmt.Errorf("jsonsrc %s: at least one metric is required", cfg.Name)
	}
	seen := make(map[string]bool, len(cfg.Metrics))
	metrics := make([]string, len(cfg.Metrics))
	for i, m := range cfg.Metrics {
		if m.Name == "" || m.Extract == nil {
			return nil, fmt.Errorf("jsonsrc %s: metric[%d]: name and extractor are required", cfg.Name, i)
		}
		if seen[m.Name] {
			return nil, fmt.Errorf("jsonsrc %s: duplicate metric %q", cfg.Name, m.Name)
		}
		seen[m.Name] = true
		metrics[i] = m.Name
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts []transport.ClientOption
	if cfg.InsecureTLS {
		opts = append(opts, transport.WithInsecureTLS())
	}
	return &Sensor{
		cfg:    cfg,
		names:  pulselog.MetricNames(cfg.Name, metrics),
		client: transport.NewClient(opts...),
		logger: logger,
	}, nil
}

// Name implements [pulselog.Source].
func (s *Sensor) Name() string { return s.cfg.Name }

// Close releases idle connections. The sensor stays usable.
func (s *Sensor) Close() error {
	s.client.Close()
	return nil
}

// Names implements [pulselog.Source].
func (s *Sensor) Names() []string { return append([]string(nil), s.names...) }

// Sample implements [pulselog.Source].
func (s *Sensor) Sample(ctx context.Context) []float64 {
	values, err := s.measure(ctx)
	return pulselog.Fallback(s.logger, s.cfg.Name, len(s.names), values, err)
}

func (s *Sensor) measure(ctx context.Context) ([]float64, error) {
	req := transport.Request{
		Method:  s.cfg.Method,
		URL:     s.cfg.URL,
		Headers: s.cfg.Headers,
		Timeout: s.cfg.Timeout,
	}
	if s.cfg.Body != "" {
		req.Body = []byte(s.cfg.Body)
		req.ContentType = "application/json"
	}
	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pulselog.ErrTransport, err)
	}

	values := make([]float64, len(s.cfg.Metrics))
	var failed int
	for i, m := range s.cfg.Metrics {
		v, err := m.Extract(resp.Body)
		if err != nil {
			s.logger.Warn("metric extraction failed",
				"source", s.cfg.Name,
				"metric", m.Name,
				"error", err.Error(),
			)
			v = pulselog.Sentinel
			failed++
		}
		values[i] = v
	}
	if failed == len(values) {
		return nil, fmt.Errorf("%w: no metric could be extracted", pulselog.ErrDataShape)
	}
	return values, nil
}
