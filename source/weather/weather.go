// Package weather samples current conditions from an OpenWeatherMap
// compatible API.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/jpalmerr/pulselog"
	"github.com/jpalmerr/pulselog/internal/transport"
)

// DefaultURL is the OpenWeatherMap current weather endpoint.
const DefaultURL = "https://api.openweathermap.org/data/2.5/weather"

var metrics = []string{
	"temperature",
	"humidity",
	"pressure",
	"visibility",
	"wind_speed",
	"wind_direction",
	"cloud_coverage",
	"description", // numeric condition code
}

// Config holds the settings for one location.
type Config struct {
	Name    string
	URL     string
	Lat     float64
	Long    float64
	AppID   string
	Timeout time.Duration
}

// Sensor is a [pulselog.Source] reporting current weather in metric units.
type Sensor struct {
	cfg    Config
	names  []string
	url    string
	client *transport.Client
	logger *slog.Logger
}

// report is the subset of the current weather document we use. Optional
// sections are pointers so a missing section can be told apart from zeros.
// A section that is present must carry all of its fields.
type report struct {
	Weather []struct {
		ID *float64 `json:"id"`
	} `json:"weather"`
	Main *struct {
		Temp     *float64 `json:"temp"`
		Pressure *float64 `json:"pressure"`
		Humidity *float64 `json:"humidity"`
	} `json:"main"`
	Visibility *float64 `json:"visibility"`
	Wind       *struct {
		Speed *float64 `json:"speed"`
		Deg   *float64 `json:"deg"`
	} `json:"wind"`
	Clouds *struct {
		All *float64 `json:"all"`
	} `json:"clouds"`
}

// New creates a Sensor.
func New(cfg Config, logger *slog.Logger) (*Sensor, error) {
	if cfg.Name == "" {
		return nil, errors.New("weather: name is required")
	}
	if cfg.AppID == "" {
		return nil, fmt.Errorf("weather %s: app id is required", cfg.Name)
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("weather %s: invalid url: %w", cfg.Name, err)
	}
	q := u.Query()
	q.Set("lat", strconv.FormatFloat(cfg.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(cfg.Long, 'f', -1, 64))
	q.Set("appid", cfg.AppID)
	q.Set("units", "metric")
	u.RawQuery = q.Encode()

	if logger == nil {
		logger = slog.Default()
	}
	return &Sensor{
		cfg:    cfg,
		names:  pulselog.MetricNames(cfg.Name, metrics),
		url:    u.String(),
		client: transport.NewClient(),
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
	resp, err := s.client.Do(ctx, transport.Request{URL: s.url, Timeout: s.cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pulselog.ErrTransport, err)
	}

	var doc report
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", pulselog.ErrProtocol, err)
	}

	// missing sections report Sentinel in their own columns only
	values := pulselog.SentinelRow(len(metrics))
	complete := func(section string, fields ...*float64) error {
		for _, f := range fields {
			if f == nil {
				return fmt.Errorf("%w: incomplete %q section", pulselog.ErrDataShape, section)
			}
		}
		return nil
	}
	if doc.Main != nil {
		if err := complete("main", doc.Main.Temp, doc.Main.Humidity, doc.Main.Pressure); err != nil {
			return nil, err
		}
		values[0] = *doc.Main.Temp
		values[1] = *doc.Main.Humidity
		values[2] = *doc.Main.Pressure
	}
	if doc.Visibility != nil {
		values[3] = *doc.Visibility
	}
	if doc.Wind != nil {
		if err := complete("wind", doc.Wind.Speed, doc.Wind.Deg); err != nil {
			return nil, err
		}
		values[4] = *doc.Wind.Speed
		values[5] = *doc.Wind.Deg
	}
	if doc.Clouds != nil {
		if err := complete("clouds", doc.Clouds.All); err != nil {
			return nil, err
		}
		values[6] = *doc.Clouds.All
	}
	if len(doc.Weather) > 0 && doc.Weather[0].ID != nil {
		values[7] = *doc.Weather[0].ID
	}
	return values, nil
}
