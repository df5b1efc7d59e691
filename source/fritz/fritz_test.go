package fritz

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"

	"github.com/jpalmerr/pulselog"
	"github.com/jpalmerr/pulselog/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBox emulates the gateway's login and homeautoswitch endpoints.
type fakeBox struct {
	mu          sync.Mutex
	challenge   string
	password    string
	sid         string
	zeroSID     string
	sessionLive bool
	loginStatus int
	values      map[string]string
	cmdStatus   map[string]int

	logins int
	probes int
}

func newFakeBox() *fakeBox {
	return &fakeBox{
		challenge:   "1234abcd",
		password:    "secret",
		sid:         "00000000000000a1",
		zeroSID:     "0000000000000000",
		loginStatus: http.StatusOK,
		values: map[string]string{
			"getswitchpower":  "10000",
			"getswitchenergy": "1200",
			"gettemperature":  "100",
		},
		cmdStatus: map[string]int{},
	}
}

func (b *fakeBox) counts() (logins, probes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.logins, b.probes
}

func (b *fakeBox) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := r.URL.Query()
	switch r.URL.Path {
	case "/login_sid.lua":
		w.WriteHeader(b.loginStatus)
		switch {
		case q.Get("response") != "":
			b.logins++
			want, _ := challengeResponse(b.challenge, b.password)
			sid := b.zeroSID
			if q.Get("response") == want && q.Get("username") == "foo" {
				sid = b.sid
				b.sessionLive = true
			}
			fmt.Fprintf(w, "<SessionInfo><SID>%s</SID><Challenge>%s</Challenge></SessionInfo>", sid, b.challenge)
		case q.Get("sid") != "":
			b.probes++
			sid := b.zeroSID
			if b.sessionLive && q.Get("sid") == b.sid {
				sid = b.sid
			}
			fmt.Fprintf(w, "<SessionInfo><SID>%s</SID><Challenge>%s</Challenge></SessionInfo>", sid, b.challenge)
		default:
			fmt.Fprintf(w, "<SessionInfo><SID>%s</SID><Challenge>%s</Challenge></SessionInfo>", b.zeroSID, b.challenge)
		}
	case "/webservices/homeautoswitch.lua":
		if !b.sessionLive || q.Get("sid") != b.sid || q.Get("ain") != "abc" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		cmd := q.Get("switchcmd")
		if code, ok := b.cmdStatus[cmd]; ok {
			w.WriteHeader(code)
			return
		}
		fmt.Fprint(w, b.values[cmd]+"\n")
	default:
		http.NotFound(w, r)
	}
}

func newTestSensor(t *testing.T, url string) *Sensor {
	t.Helper()
	s, err := New(Config{Name: "test", URL: url, User: "foo", Password: "secret", AIN: "abc"}, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestChallengeResponse(t *testing.T) {
	// reference pair from the gateway vendor's login documentation
	got, err := challengeResponse("1234567z", "äbc")
	if err != nil {
		t.Fatalf("challengeResponse() error = %v", err)
	}
	want := "1234567z-9e224a41eeefa284df7bb0f26c2913e2"
	if got != want {
		t.Errorf("challengeResponse() = %q, want %q", got, want)
	}
}

func TestChallengeResponse_EmptyChallenge(t *testing.T) {
	if _, err := challengeResponse("", "pw"); err == nil {
		t.Error("challengeResponse() expected error for empty challenge")
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing name", Config{URL: "http://box", AIN: "1"}},
		{"missing url", Config{Name: "p", AIN: "1"}},
		{"missing ain", Config{Name: "p", URL: "http://box"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, testLogger()); err == nil {
				t.Error("New() expected error, got nil")
			}
		})
	}
}

func TestSensor_Names(t *testing.T) {
	s := newTestSensor(t, "http://box")
	want := []string{"test_power", "test_energy", "test_temperature"}
	if got := s.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
	// callers cannot mutate the sensor's names
	names := s.Names()
	names[0] = "changed"
	if s.Names()[0] != "test_power" {
		t.Error("Names() returned the internal slice")
	}
}

func TestSensor_Sample(t *testing.T) {
	box := newFakeBox()
	server := httptest.NewServer(box)
	defer server.Close()

	s := newTestSensor(t, server.URL)
	got := s.Sample(context.Background())

	want := []float64{10000, 1200, 100}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Sample() = %v, want %v", got, want)
	}
	if s.SessionState() != session.StateActive {
		t.Errorf("SessionState() = %v, want active", s.SessionState())
	}
}

// TestSensor_ReusesSession verifies that a live SID is probed and reused
// rather than logging in again on every tick.
func TestSensor_ReusesSession(t *testing.T) {
	box := newFakeBox()
	server := httptest.NewServer(box)
	defer server.Close()

	s := newTestSensor(t, server.URL)
	for i := 0; i < 3; i++ {
		s.Sample(context.Background())
	}

	logins, probes := box.counts()
	if logins != 1 {
		t.Errorf("logins = %d, want 1", logins)
	}
	if probes != 2 {
		t.Errorf("probes = %d, want 2", probes)
	}
}

// TestSensor_ReauthenticatesAfterExpiry verifies an expired SID triggers
// exactly one new login before data is read.
func TestSensor_ReauthenticatesAfterExpiry(t *testing.T) {
	box := newFakeBox()
	server := httptest.NewServer(box)
	defer server.Close()

	s := newTestSensor(t, server.URL)
	s.Sample(context.Background())

	box.mu.Lock()
	box.sessionLive = false
	box.sid = "00000000000000b2"
	box.mu.Unlock()

	got := s.Sample(context.Background())
	if want := []float64{10000, 1200, 100}; !reflect.DeepEqual(got, want) {
		t.Errorf("Sample() = %v, want %v", got, want)
	}
	if logins, _ := box.counts(); logins != 2 {
		t.Errorf("logins = %d, want 2", logins)
	}
}

func TestSensor_SampleFailures(t *testing.T) {
	all := pulselog.SentinelRow(3)

	tests := []struct {
		name  string
		setup func(b *fakeBox)
		want  []float64
	}{
		{
			name:  "challenge status not 200",
			setup: func(b *fakeBox) { b.loginStatus = http.StatusNotAcceptable },
			want:  all,
		},
		{
			name:  "wrong password",
			setup: func(b *fakeBox) { b.password = "other" },
			want:  all,
		},
		{
			name:  "single command fails",
			setup: func(b *fakeBox) { b.cmdStatus["getswitchpower"] = http.StatusNotAcceptable },
			want:  []float64{pulselog.Sentinel, 1200, 100},
		},
		{
			name:  "unparsable value",
			setup: func(b *fakeBox) { b.values["gettemperature"] = "inval" },
			want:  []float64{10000, 1200, pulselog.Sentinel},
		},
		{
			name:  "NaN value",
			setup: func(b *fakeBox) { b.values["getswitchpower"] = "NaN" },
			want:  []float64{pulselog.Sentinel, 1200, 100},
		},
		{
			name:  "infinite value",
			setup: func(b *fakeBox) { b.values["getswitchenergy"] = "Inf" },
			want:  []float64{10000, pulselog.Sentinel, 100},
		},
		{
			name: "short all-zero SID on failed login",
			setup: func(b *fakeBox) {
				b.password = "other"
				b.zeroSID = "000000000000"
			},
			want: all,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			box := newFakeBox()
			tt.setup(box)
			server := httptest.NewServer(box)
			defer server.Close()

			s := newTestSensor(t, server.URL)
			got := s.Sample(context.Background())
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Sample() = %v, want %v", got, tt.want)
			}
			if len(got) != len(s.Names()) {
				t.Errorf("len(Sample()) = %d, want %d", len(got), len(s.Names()))
			}
		})
	}
}

func TestInvalidSID(t *testing.T) {
	tests := []struct {
		sid  string
		want bool
	}{
		{"", true},
		{"0000000000000000", true},
		{"000000000000", true},
		{"0", true},
		{"00000000000000a1", false},
		{"a100", false},
	}
	for _, tt := range tests {
		if got := invalidSID(tt.sid); got != tt.want {
			t.Errorf("invalidSID(%q) = %v, want %v", tt.sid, got, tt.want)
		}
	}
}

func TestSensor_ShortZeroSIDNotAccepted(t *testing.T) {
	box := newFakeBox()
	box.password = "other"
	box.zeroSID = "000000000000"
	server := httptest.NewServer(box)
	defer server.Close()

	s := newTestSensor(t, server.URL)
	s.Sample(context.Background())
	if s.SessionState() != session.StateNone {
		t.Errorf("SessionState() = %v, want none for an all-zero SID", s.SessionState())
	}
}

func TestSensor_LoginFailureResetsSession(t *testing.T) {
	box := newFakeBox()
	box.password = "other"
	server := httptest.NewServer(box)
	defer server.Close()

	s := newTestSensor(t, server.URL)
	s.Sample(context.Background())
	if s.SessionState() != session.StateNone {
		t.Errorf("SessionState() = %v, want none", s.SessionState())
	}
}

// TestSensor_ForbiddenInvalidatesSession verifies that a 403 on a data call
// drops the session so the next tick logs in without probing.
func TestSensor_ForbiddenInvalidatesSession(t *testing.T) {
	box := newFakeBox()
	server := httptest.NewServer(box)
	defer server.Close()

	s := newTestSensor(t, server.URL)
	s.Sample(context.Background())

	box.mu.Lock()
	box.cmdStatus["getswitchpower"] = http.StatusForbidden
	box.mu.Unlock()

	s.Sample(context.Background())
	if s.SessionState() != session.StateNone {
		t.Errorf("SessionState() = %v, want none after 403", s.SessionState())
	}
}

func TestSensor_UnreachableGateway(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	s := newTestSensor(t, url)
	got := s.Sample(context.Background())
	if !reflect.DeepEqual(got, pulselog.SentinelRow(3)) {
		t.Errorf("Sample() = %v, want sentinels", got)
	}
}
