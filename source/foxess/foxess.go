// Package foxess samples solar inverter data from the FoxESS cloud.
//
// Two API generations are supported:
//
//   - [Sensor] uses the web API: a form login returns a token that is kept
//     and probed between ticks, and raw history is queried per variable.
//   - [OpenAPISensor] uses the OpenAPI: requests are signed with a static API
//     key, so there is no session to manage.
//
// Both report one column per configured variable, in configured order.
package foxess

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jpalmerr/pulselog"
	"github.com/jpalmerr/pulselog/internal/session"
	"github.com/jpalmerr/pulselog/internal/transport"
)

// DefaultURL is the FoxESS cloud base URL.
const DefaultURL = "https://www.foxesscloud.com"

const (
	loginPath   = "/c/v0/user/login"
	statusPath  = "/c/v0/device/status/all"
	historyPath = "/c/v0/device/history/raw"
)

// errnos the cloud uses for missing, expired or invalid tokens
var authErrnos = map[int]bool{
	41807: true,
	41808: true,
	41809: true,
}

// Config holds the settings for a web API sensor.
type Config struct {
	Name       string
	URL        string
	User       string
	Password   string
	InverterID string
	Variables  []string
	Timeout    time.Duration
}

// Sensor is a [pulselog.Source] backed by the FoxESS web API.
type Sensor struct {
	cfg     Config
	names   []string
	client  *transport.Client
	session *session.Manager
	logger  *slog.Logger
	now     func() time.Time
}

type envelope struct {
	Errno int `json:"errno"`
}

type loginResponse struct {
	Errno  int `json:"errno"`
	Result struct {
		Token string `json:"token"`
	} `json:"result"`
}

type beginDate struct {
	Year   int `json:"year"`
	Month  int `json:"month"`
	Day    int `json:"day"`
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
	Second int `json:"second"`
}

type historyRequest struct {
	DeviceID  string    `json:"deviceId"`
	Variables []string  `json:"variables"`
	Timespan  string    `json:"timespan"`
	BeginDate beginDate `json:"BeginDate"`
}

type historyResponse struct {
	Errno  int `json:"errno"`
	Result []struct {
		Variable string `json:"variable"`
		Data     []struct {
			Time  string  `json:"time"`
			Value float64 `json:"value"`
		} `json:"data"`
	} `json:"result"`
}

// New creates a web API Sensor.
func New(cfg Config, logger *slog.Logger) (*Sensor, error) {
	if cfg.Name == "" {
		return nil, errors.New("foxess: name is required")
	}
	if len(cfg.Variables) == 0 {
		return nil, fmt.Errorf("foxess %s: at least one variable is required", cfg.Name)
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sensor{
		cfg:    cfg,
		names:  pulselog.MetricNames(cfg.Name, cfg.Variables),
		client: transport.NewClient(),
		logger: logger,
		now:    time.Now,
	}
	s.session = session.New(cfg.Name, s, logger)
	return s, nil
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

// SessionState exposes the session state for diagnostics and tests.
func (s *Sensor) SessionState() session.State { return s.session.State() }

func (s *Sensor) measure(ctx context.Context) ([]float64, error) {
	token, err := s.session.Token(ctx)
	if err != nil {
		return nil, err
	}
	return s.queryHistory(ctx, token)
}

// Acquire implements [session.Authenticator]. The password is sent as its
// MD5 hex digest.
func (s *Sensor) Acquire(ctx context.Context) (string, error) {
	sum := md5.Sum([]byte(s.cfg.Password))
	form := url.Values{
		"user":     {s.cfg.User},
		"password": {hex.EncodeToString(sum[:])},
	}

	resp, err := s.client.Do(ctx, transport.Request{
		Method:      http.MethodPost,
		URL:         s.cfg.URL + loginPath,
		Body:        []byte(form.Encode()),
		ContentType: "application/x-www-form-urlencoded",
		Timeout:     s.cfg.Timeout,
	})
	if err != nil {
		return "", fmt.Errorf("%w: login: %w", pulselog.ErrTransport, err)
	}

	var doc loginResponse
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return "", fmt.Errorf("%w: login: %w", pulselog.ErrProtocol, err)
	}
	// wrong credentials are reported through errno, not the status code
	if doc.Errno != 0 {
		return "", fmt.Errorf("%w: login errno %d", pulselog.ErrAuth, doc.Errno)
	}
	return doc.Result.Token, nil
}

// Validate implements [session.Authenticator] by probing the device status
// endpoint with the held token.
func (s *Sensor) Validate(ctx context.Context, token string) (bool, error) {
	resp, err := s.client.Do(ctx, transport.Request{
		URL:     s.cfg.URL + statusPath,
		Headers: map[string]string{"token": token},
		Timeout: s.cfg.Timeout,
	})
	if err != nil {
		return false, fmt.Errorf("%w: token probe: %w", pulselog.ErrTransport, err)
	}

	var doc envelope
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return false, fmt.Errorf("%w: token probe: %w", pulselog.ErrProtocol, err)
	}
	return doc.Errno == 0, nil
}

func (s *Sensor) queryHistory(ctx context.Context, token string) ([]float64, error) {
	now := s.now().UTC()
	body, err := json.Marshal(historyRequest{
		DeviceID:  s.cfg.InverterID,
		Variables: s.cfg.Variables,
		Timespan:  "day",
		BeginDate: beginDate{Year: now.Year(), Month: int(now.Month()), Day: now.Day()},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding history request: %w", err)
	}

	resp, err := s.client.Do(ctx, transport.Request{
		Method:      http.MethodPost,
		URL:         s.cfg.URL + historyPath,
		Body:        body,
		ContentType: "application/json",
		Headers:     map[string]string{"token": token},
		Timeout:     s.cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: history: %w", pulselog.ErrTransport, err)
	}

	var doc historyResponse
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return nil, fmt.Errorf("%w: history: %w", pulselog.ErrProtocol, err)
	}
	if doc.Errno != 0 {
		if authErrnos[doc.Errno] {
			s.session.Invalidate()
		}
		return nil, fmt.Errorf("%w: history errno %d", pulselog.ErrProtocol, doc.Errno)
	}

	// series come back in request order
	if len(doc.Result) != len(s.cfg.Variables) {
		return nil, fmt.Errorf("%w: requested %d variables, got %d series",
			pulselog.ErrDataShape, len(s.cfg.Variables), len(doc.Result))
	}
	values := make([]float64, len(doc.Result))
	for i, series := range doc.Result {
		if series.Variable != "" && series.Variable != s.cfg.Variables[i] {
			return nil, fmt.Errorf("%w: series %d is %q, want %q",
				pulselog.ErrDataShape, i, series.Variable, s.cfg.Variables[i])
		}
		// raw data lags behind; the latest point is the best available
		if len(series.Data) == 0 {
			return nil, fmt.Errorf("%w: series %q has no data points", pulselog.ErrDataShape, series.Variable)
		}
		values[i] = series.Data[len(series.Data)-1].Value
	}
	return values, nil
}
