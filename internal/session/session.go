// Package session implements the token lifecycle shared by sources that
// need authenticated access to their backend.
//
// A [Manager] is a two-state machine:
//
//	StateNone   --acquire-->            StateActive(token)
//	StateActive --validate ok-->        StateActive(token)
//	StateActive --validate failed-->    StateNone --acquire--> StateActive(token')
//	any         --invalidate-->         StateNone
//
// [Manager.Token] applies "reuse, else validate, else re-acquire" once per
// call. There is no backoff and no retry budget: a failed acquire leaves the
// manager in StateNone and the next call starts from scratch.
//
// Each source owns its own Manager; managers are never shared and tokens are
// never persisted.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jpalmerr/pulselog"
)

// State is the authentication state of a [Manager].
type State int

const (
	// StateNone means no token is held.
	StateNone State = iota

	// StateActive means a token is held and was valid when last checked.
	StateActive
)

// String returns "none" or "active".
func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Authenticator performs the backend-specific login exchange and probe.
type Authenticator interface {
	// Acquire performs a fresh login and returns a new token.
	Acquire(ctx context.Context) (string, error)

	// Validate reports whether token still authenticates. An error is
	// treated the same as false.
	Validate(ctx context.Context, token string) (bool, error)
}

// Stats counts transitions, mostly for tests and diagnostics.
type Stats struct {
	Acquires      int
	Validations   int
	Invalidations int
}

// errNotValid is reported when a probe answers false without an error.
var errNotValid = errors.New("token rejected by backend")

// Manager holds the session state for one source.
//
// Manager is not safe for concurrent use; the scheduler samples each source
// from a single goroutine.
type Manager struct {
	name   string
	auth   Authenticator
	logger *slog.Logger

	state State
	token string
	stats Stats
}

// New creates a [Manager] in StateNone. name identifies the owning source
// in log lines.
func New(name string, auth Authenticator, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		name:   name,
		auth:   auth,
		logger: logger,
		state:  StateNone,
	}
}

// State returns the current state.
func (m *Manager) State() State {
	return m.state
}

// Stats returns transition counters.
func (m *Manager) Stats() Stats {
	return m.stats
}

// Token returns a token the caller can use for its next request.
//
// In StateNone a fresh token is acquired. In StateActive the held token is
// validated first; if the probe fails or errors, the session is invalidated
// and exactly one re-acquire is attempted. Acquire failures return an error
// wrapping [pulselog.ErrAuth] and leave the manager in StateNone.
func (m *Manager) Token(ctx context.Context) (string, error) {
	if m.state == StateActive {
		err := m.validate(ctx)
		if err == nil {
			return m.token, nil
		}
		m.logger.Info("session no longer valid, re-authenticating",
			"source", m.name,
			"error", err.Error(),
		)
		m.Invalidate()
	}

	if err := m.acquire(ctx); err != nil {
		return "", err
	}
	return m.token, nil
}

// Invalidate drops the held token. Sources call it when a data request
// reports an authentication failure.
func (m *Manager) Invalidate() {
	if m.state == StateActive {
		m.stats.Invalidations++
	}
	m.state = StateNone
	m.token = ""
}

func (m *Manager) acquire(ctx context.Context) error {
	m.stats.Acquires++
	token, err := m.auth.Acquire(ctx)
	if err != nil {
		m.state = StateNone
		m.token = ""
		if errors.Is(err, pulselog.ErrAuth) {
			return err
		}
		return fmt.Errorf("%w: %w", pulselog.ErrAuth, err)
	}
	if token == "" {
		m.state = StateNone
		return fmt.Errorf("%w: empty token", pulselog.ErrAuth)
	}
	m.state = StateActive
	m.token = token
	m.logger.Debug("session acquired", "source", m.name)
	return nil
}

func (m *Manager) validate(ctx context.Context) error {
	m.stats.Validations++
	ok, err := m.auth.Validate(ctx, m.token)
	if err != nil {
		return err
	}
	if !ok {
		return errNotValid
	}
	return nil
}
