package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"liuproxy_pulse/internal/shared/globalstate"
	"liuproxy_pulse/internal/shared/types"
	"liuproxy_pulse/proxypool/model"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(r *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    r,
	}
}

const profileBody = `{"status":"Success","data":{"email":"a@b.c","loyalty_points":7,"api_secret":"abc"}}`

// api fakes the dashboard: every endpoint in broken fails at the transport level.
func api(broken map[model.Endpoint]bool, detailsStatus int) func(model.Endpoint) (*http.Client, error) {
	return func(ep model.Endpoint) (*http.Client, error) {
		return &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if broken[ep] {
				return nil, errors.New("proxy connect refused")
			}
			if strings.HasPrefix(r.URL.Path, "/api/profile/api/") {
				return jsonResponse(r, detailsStatus, `{"data":{"username":"alice","tier":{"tier_name":"Gold"}}}`), nil
			}
			return jsonResponse(r, http.StatusOK, profileBody), nil
		})}, nil
	}
}

type recorder struct {
	mu     sync.Mutex
	seen   []globalstate.WorkerStatus
	onSeen func(globalstate.WorkerStatus)
}

func (r *recorder) Report(s globalstate.WorkerStatus) {
	r.mu.Lock()
	r.seen = append(r.seen, s)
	r.mu.Unlock()
	if r.onSeen != nil {
		r.onSeen(s)
	}
}

func testLoop(engine *Engine, rep Reporter) *Loop {
	cfg := types.DefaultConfig().WorkerConf
	cfg.BaseURL = "http://dashboard.test"
	l := NewLoop("token-abcdefghijkl", "w-1", engine, cfg, rep)
	l.backoff = time.Millisecond
	l.interval = time.Millisecond
	return l
}

func TestLoop_FailsOverToNextProxy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := NewEngine("tok", []model.Endpoint{p1, p2}, passing(p1, p2))
	rec := &recorder{onSeen: func(s globalstate.WorkerStatus) {
		if s.LastError == "" {
			cancel()
		}
	}}
	l := testLoop(engine, rec)
	l.newClient = api(map[model.Endpoint]bool{p1: true}, http.StatusOK)

	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}

	if len(rec.seen) < 2 {
		t.Fatalf("reports = %d, want a failure followed by a success", len(rec.seen))
	}
	first, last := rec.seen[0], rec.seen[len(rec.seen)-1]
	if first.Proxy != p1.String() || first.LastError == "" {
		t.Errorf("first report = %+v, want failure through %v", first, p1)
	}
	if last.Proxy != p2.String() || last.Email != "a@b.c" || last.LoyaltyPoints != "7" || last.Tier != "Gold" {
		t.Errorf("last report = %+v, want success through %v", last, p2)
	}
	if last.TokenID != "token-abcd" || last.Failures != 1 {
		t.Errorf("last report token/failures = %q/%d", last.TokenID, last.Failures)
	}
	if !engine.IsBlacklisted(p1) || engine.Current() != p2 {
		t.Errorf("engine current=%v blacklist=%v", engine.Current(), engine.Blacklist())
	}
}

func TestRunCycle_DetailsFailureIsNotFailover(t *testing.T) {
	engine := NewEngine("tok", []model.Endpoint{p1}, passing(p1))
	engine.Acquire(context.Background())
	l := testLoop(engine, nil)
	l.newClient = api(nil, http.StatusInternalServerError)

	res := l.runCycle(context.Background())
	if res.Outcome != Succeeded || res.Profile == nil || res.Details != nil {
		t.Errorf("runCycle() = %+v, want success without details", res)
	}
	if engine.State() != Assigned || engine.Current() != p1 {
		t.Errorf("engine changed: state=%v current=%v", engine.State(), engine.Current())
	}
}

func TestRunCycle_RecoversPanic(t *testing.T) {
	l := testLoop(NewEngine("tok", nil, passing()), nil)
	l.newClient = func(model.Endpoint) (*http.Client, error) { panic("boom") }

	res := l.runCycle(context.Background())
	if res.Outcome != Failed || res.Err == nil || !strings.Contains(res.Err.Error(), "boom") {
		t.Errorf("runCycle() = %+v, want failed result carrying the panic", res)
	}
}

func TestLoop_DirectWithEmptyPool(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := NewEngine("tok", nil, passing())
	var calls int
	rec := &recorder{onSeen: func(globalstate.WorkerStatus) {
		calls++
		if calls == 3 {
			cancel()
		}
	}}
	l := testLoop(engine, rec)
	l.newClient = api(map[model.Endpoint]bool{model.None: true}, http.StatusOK)
	l.Run(ctx)

	for _, s := range rec.seen {
		if s.State != "DIRECT" || s.Proxy != "direct" || s.LastError == "" {
			t.Errorf("report = %+v, want failing direct attempts", s)
		}
	}
}

func TestLoop_StopsDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	engine := NewEngine("tok", nil, passing())
	rec := &recorder{onSeen: func(globalstate.WorkerStatus) { cancel() }}
	l := testLoop(engine, rec)
	l.interval = time.Hour
	l.newClient = api(nil, http.StatusOK)

	start := time.Now()
	l.Run(ctx)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run() took %v after cancellation", elapsed)
	}
}

func TestTokenID(t *testing.T) {
	if got := TokenID("short"); got != "short" {
		t.Errorf("TokenID(short) = %q", got)
	}
	if got := TokenID("0123456789abcdef"); got != "0123456789" {
		t.Errorf("TokenID() = %q, want first 10 characters", got)
	}
}

// idleTracker is a RoundTripper that records CloseIdleConnections forwarded by http.Client.
type idleTracker struct {
	roundTripFunc
	closed int
}

func (t *idleTracker) CloseIdleConnections() { t.closed++ }

func TestRunCycle_ClosesIdleConnections(t *testing.T) {
	engine := NewEngine("tok", []model.Endpoint{p1}, passing(p1))
	engine.Acquire(context.Background())
	l := testLoop(engine, nil)

	var trackers []*idleTracker
	l.newClient = func(model.Endpoint) (*http.Client, error) {
		tr := &idleTracker{roundTripFunc: func(r *http.Request) (*http.Response, error) {
			return jsonResponse(r, http.StatusOK, profileBody), nil
		}}
		trackers = append(trackers, tr)
		return &http.Client{Transport: tr}, nil
	}

	for i := 0; i < 3; i++ {
		if res := l.runCycle(context.Background()); res.Outcome != Succeeded {
			t.Fatalf("cycle %d: %+v", i, res)
		}
	}
	for i, tr := range trackers {
		if tr.closed != 1 {
			t.Errorf("client %d: CloseIdleConnections called %d times, want 1", i, tr.closed)
		}
	}
}

func TestNewLoop_NonPositiveDurationsUseDefaults(t *testing.T) {
	def := types.DefaultConfig().WorkerConf
	for _, cfg := range []types.WorkerConf{
		{},
		{RequestTimeoutSeconds: -1, RetryBackoffSeconds: -3, PollIntervalSeconds: -10},
	} {
		l := NewLoop("tok", "w-1", NewEngine("tok", nil, passing()), cfg, nil)
		if l.requestTimeout != def.RequestTimeout() || l.backoff != def.RetryBackoff() || l.interval != def.PollInterval() {
			t.Errorf("NewLoop(%+v) durations = %v/%v/%v, want %v/%v/%v", cfg,
				l.requestTimeout, l.backoff, l.interval,
				def.RequestTimeout(), def.RetryBackoff(), def.PollInterval())
		}
	}

	cfg := def
	cfg.RetryBackoffSeconds = 2
	if l := NewLoop("tok", "w-1", NewEngine("tok", nil, passing()), cfg, nil); l.backoff != 2*time.Second {
		t.Errorf("backoff = %v, want configured 2s", l.backoff)
	}
}
