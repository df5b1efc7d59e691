// Package fritz samples a smart plug through an AVM FRITZ!Box home gateway.
//
// The gateway uses a challenge/response login that yields a session ID (SID).
// The SID is kept between ticks and checked with a cheap probe before reuse;
// see the session package for the lifecycle.
package fritz

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"

	"github.com/jpalmerr/pulselog"
	"github.com/jpalmerr/pulselog/internal/session"
	"github.com/jpalmerr/pulselog/internal/transport"
)

// metric name -> homeautoswitch command, in column order
var commands = []struct {
	metric  string
	command string
}{
	{"power", "getswitchpower"},
	{"energy", "getswitchenergy"},
	{"temperature", "gettemperature"},
}

// invalidSID reports whether sid is empty or all zeros, which the gateway
// returns for a failed or expired login.
func invalidSID(sid string) bool {
	return strings.Trim(sid, "0") == ""
}

// Config holds the settings for one smart plug.
type Config struct {
	Name     string
	URL      string // e.g. https://192.168.178.1
	User     string
	Password string
	AIN      string // actor identification number of the plug
	Timeout  time.Duration
}

// Sensor is a [pulselog.Source] for a FRITZ!DECT smart plug.
type Sensor struct {
	cfg     Config
	names   []string
	client  *transport.Client
	session *session.Manager
	logger  *slog.Logger
}

type sessionInfo struct {
	XMLName   xml.Name `xml:"SessionInfo"`
	SID       string   `xml:"SID"`
	Challenge string   `xml:"Challenge"`
}

// New creates a Sensor. The gateway's self-signed certificate is accepted.
func New(cfg Config, logger *slog.Logger) (*Sensor, error) {
	if cfg.Name == "" {
		return nil, errors.New("fritz: name is required")
	}
	if cfg.URL == "" || cfg.AIN == "" {
		return nil, fmt.Errorf("fritz %s: url and ain are required", cfg.Name)
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	metrics := make([]string, len(commands))
	for i, c := range commands {
		metrics[i] = c.metric
	}

	s := &Sensor{
		cfg:    cfg,
		names:  pulselog.MetricNames(cfg.Name, metrics),
		client: transport.NewClient(transport.WithInsecureTLS()),
		logger: logger,
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
//
// A failed login fills the whole row with sentinels. Once logged in, each
// command is read independently and a failing command only affects its own
// column.
func (s *Sensor) Sample(ctx context.Context) []float64 {
	sid, err := s.session.Token(ctx)
	if err != nil {
		return pulselog.Fallback(s.logger, s.cfg.Name, len(s.names), nil, err)
	}

	row := make([]float64, len(commands))
	for i, c := range commands {
		v, err := s.switchValue(ctx, c.command, sid)
		if err != nil {
			s.logger.Warn("sample failed",
				"source", s.cfg.Name,
				"metric", c.metric,
				"kind", pulselog.ErrorKind(err),
				"error", err.Error(),
			)
			row[i] = pulselog.Sentinel
			continue
		}
		row[i] = v
	}
	return row
}

// SessionState exposes the session state for diagnostics and tests.
func (s *Sensor) SessionState() session.State { return s.session.State() }

// Acquire implements [session.Authenticator]: fetch a challenge, answer it,
// and return the SID the gateway hands out.
func (s *Sensor) Acquire(ctx context.Context) (string, error) {
	info, err := s.loginInfo(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("retrieving challenge: %w", err)
	}

	response, err := challengeResponse(info.Challenge, s.cfg.Password)
	if err != nil {
		return "", fmt.Errorf("%w: %w", pulselog.ErrAuth, err)
	}

	info, err = s.loginInfo(ctx, url.Values{
		"username": {s.cfg.User},
		"response": {response},
	})
	if err != nil {
		return "", fmt.Errorf("retrieving SID: %w", err)
	}
	if invalidSID(info.SID) {
		return "", fmt.Errorf("%w: login rejected for user %q", pulselog.ErrAuth, s.cfg.User)
	}
	return info.SID, nil
}

// Validate implements [session.Authenticator]. The gateway echoes a still
// valid SID and answers with the all-zero SID otherwise.
func (s *Sensor) Validate(ctx context.Context, sid string) (bool, error) {
	info, err := s.loginInfo(ctx, url.Values{"sid": {sid}})
	if err != nil {
		return false, err
	}
	return info.SID == sid && !invalidSID(sid), nil
}

func (s *Sensor) loginInfo(ctx context.Context, query url.Values) (sessionInfo, error) {
	u := s.cfg.URL + "/login_sid.lua"
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	resp, err := s.client.Do(ctx, transport.Request{URL: u, Timeout: s.cfg.Timeout})
	if err != nil {
		return sessionInfo{}, fmt.Errorf("%w: %w", pulselog.ErrTransport, err)
	}

	var info sessionInfo
	if err := xml.Unmarshal(resp.Body, &info); err != nil {
		return sessionInfo{}, fmt.Errorf("%w: decoding session info: %w", pulselog.ErrProtocol, err)
	}
	return info, nil
}

func (s *Sensor) switchValue(ctx context.Context, command, sid string) (float64, error) {
	q := url.Values{
		"switchcmd": {command},
		"ain":       {s.cfg.AIN},
		"sid":       {sid},
	}
	resp, err := s.client.Do(ctx, transport.Request{
		URL:     s.cfg.URL + "/webservices/homeautoswitch.lua?" + q.Encode(),
		Timeout: s.cfg.Timeout,
	})
	if err != nil {
		var se *transport.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusForbidden {
			// the gateway dropped our session
			s.session.Invalidate()
		}
		return 0, fmt.Errorf("%w: %s: %w", pulselog.ErrTransport, command, err)
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(string(resp.Body)), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", pulselog.ErrProtocol, command, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s: non-finite value %q", pulselog.ErrProtocol, command, resp.Body)
	}
	return v, nil
}

// challengeResponse computes "<challenge>-<md5 hex>" where the digest is
// taken over the UTF-16LE encoding of "<challenge>-<password>".
func challengeResponse(challenge, password string) (string, error) {
	if challenge == "" {
		return "", errors.New("empty challenge")
	}
	encoded, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).
		NewEncoder().
		String(challenge + "-" + password)
	if err != nil {
		return "", fmt.Errorf("encoding challenge: %w", err)
	}
	sum := md5.Sum([]byte(encoded))
	return challenge + "-" + hex.EncodeToString(sum[:]), nil
}
