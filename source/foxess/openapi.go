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
	"strconv"
	"strings"
	"time"

	"github.com/jpalmerr/pulselog"
	"github.com/jpalmerr/pulselog/internal/transport"
)

// DefaultOpenAPIURL is the FoxESS OpenAPI base URL.
const DefaultOpenAPIURL = "https://www.foxesscloud.com"

const realQueryPath = "/op/v0/device/real/query"

// OpenAPIConfig holds the settings for an OpenAPI sensor.
type OpenAPIConfig struct {
	Name         string
	URL          string
	APIKey       string
	SerialNumber string
	Variables    []string
	Timeout      time.Duration
}

// OpenAPISensor is a [pulselog.Source] backed by the FoxESS OpenAPI.
// Every request is signed with the API key; there is no login step.
type OpenAPISensor struct {
	cfg    OpenAPIConfig
	names  []string
	client *transport.Client
	logger *slog.Logger
	now    func() time.Time
}

type realQueryRequest struct {
	SN        string   `json:"sn"`
	Variables []string `json:"variables"`
}

type realQueryResponse struct {
	Errno  int    `json:"errno"`
	Msg    string `json:"msg"`
	Result []struct {
		DeviceSN string `json:"deviceSN"`
		Datas    []struct {
			Variable string  `json:"variable"`
			Value    float64 `json:"value"`
		} `json:"datas"`
	} `json:"result"`
}

// NewOpenAPI creates an OpenAPISensor.
func NewOpenAPI(cfg OpenAPIConfig, logger *slog.Logger) (*OpenAPISensor, error) {
	if cfg.Name == "" {
		return nil, errors.New("foxess: name is required")
	}
	if cfg.APIKey == "" || cfg.SerialNumber == "" {
		return nil, fmt.Errorf("foxess %s: api key and serial number are required", cfg.Name)
	}
	if len(cfg.Variables) == 0 {
		return nil, fmt.Errorf("foxess %s: at least one variable is required", cfg.Name)
	}
	if cfg.URL == "" {
		cfg.URL = DefaultOpenAPIURL
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenAPISensor{
		cfg:    cfg,
		names:  pulselog.MetricNames(cfg.Name, cfg.Variables),
		client: transport.NewClient(),
		logger: logger,
		now:    time.Now,
	}, nil
}

// Name implements [pulselog.Source].
func (s *OpenAPISensor) Name() string { return s.cfg.Name }

// Close releases idle connections. The sensor stays usable.
func (s *OpenAPISensor) Close() error {
	s.client.Close()
	return nil
}

// Names implements [pulselog.Source].
func (s *OpenAPISensor) Names() []string { return append([]string(nil), s.names...) }

// Sample implements [pulselog.Source].
func (s *OpenAPISensor) Sample(ctx context.Context) []float64 {
	values, err := s.measure(ctx)
	return pulselog.Fallback(s.logger, s.cfg.Name, len(s.names), values, err)
}

// signature computes the request signature for path at the given
// millisecond timestamp. The separators are the literal CRLF bytes.
func signature(path, token, timestamp string) string {
	sum := md5.Sum([]byte(path + "\r\n" + token + "\r\n" + timestamp))
	return hex.EncodeToString(sum[:])
}

func (s *OpenAPISensor) measure(ctx context.Context) ([]float64, error) {
	body, err := json.Marshal(realQueryRequest{SN: s.cfg.SerialNumber, Variables: s.cfg.Variables})
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}

	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	resp, err := s.client.Do(ctx, transport.Request{
		Method:      http.MethodPost,
		URL:         s.cfg.URL + realQueryPath,
		Body:        body,
		ContentType: "application/json",
		Headers: map[string]string{
			"token":     s.cfg.APIKey,
			"timestamp": ts,
			"signature": signature(realQueryPath, s.cfg.APIKey, ts),
			"lang":      "en",
		},
		Timeout: s.cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: real query: %w", pulselog.ErrTransport, err)
	}

	var doc realQueryResponse
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return nil, fmt.Errorf("%w: real query: %w", pulselog.ErrProtocol, err)
	}
	if doc.Errno != 0 {
		return nil, fmt.Errorf("%w: real query errno %d: %s", pulselog.ErrProtocol, doc.Errno, doc.Msg)
	}
	if len(doc.Result) == 0 {
		return nil, fmt.Errorf("%w: no device in result", pulselog.ErrDataShape)
	}

	byName := make(map[string]float64, len(doc.Result[0].Datas))
	for _, d := range doc.Result[0].Datas {
		byName[d.Variable] = d.Value
	}
	values := make([]float64, len(s.cfg.Variables))
	for i, v := range s.cfg.Variables {
		value, ok := byName[v]
		if !ok {
			return nil, fmt.Errorf("%w: variable %q missing from result", pulselog.ErrDataShape, v)
		}
		values[i] = value
	}
	return values, nil
}
