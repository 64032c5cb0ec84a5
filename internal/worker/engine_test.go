package worker

import (
	"context"
	"fmt"
	"math/rand/v2"
	"reflect"
	"testing"

	"liuproxy_pulse/proxypool/model"
)

const (
	p1 model.Endpoint = "http://10.0.0.1:8080"
	p2 model.Endpoint = "http://10.0.0.2:8080"
	p3 model.Endpoint = "socks5://10.0.0.3:1080"
)

// scriptedProber answers from a per-endpoint function and records every probe.
type scriptedProber struct {
	ok    func(ep model.Endpoint) bool
	calls []model.Endpoint
}

func (p *scriptedProber) Probe(_ context.Context, ep model.Endpoint) bool {
	p.calls = append(p.calls, ep)
	return p.ok(ep)
}

func passing(eps ...model.Endpoint) *scriptedProber {
	set := map[model.Endpoint]bool{}
	for _, ep := range eps {
		set[ep] = true
	}
	return &scriptedProber{ok: func(ep model.Endpoint) bool { return set[ep] }}
}

func TestAcquire_SkipsFailingProxy(t *testing.T) {
	pr := passing(p2)
	e := NewEngine("tok", []model.Endpoint{p1, p2}, pr)

	if got := e.Acquire(context.Background()); got != p2 {
		t.Fatalf("Acquire() = %v, want %v", got, p2)
	}
	if e.State() != Assigned {
		t.Errorf("State() = %v, want ASSIGNED", e.State())
	}
	if got := e.Blacklist(); !reflect.DeepEqual(got, []model.Endpoint{p1}) {
		t.Errorf("Blacklist() = %v, want [%v]", got, p1)
	}
}

func TestAcquire_NoOpWhenAssignedOrDirect(t *testing.T) {
	pr := passing(p1)
	e := NewEngine("tok", []model.Endpoint{p1, p2}, pr)
	e.Acquire(context.Background())
	probes := len(pr.calls)

	for i := 0; i < 2; i++ {
		if got := e.Acquire(context.Background()); got != p1 {
			t.Errorf("Acquire() = %v, want %v", got, p1)
		}
	}
	if len(pr.calls) != probes {
		t.Errorf("Acquire in ASSIGNED probed %d more times", len(pr.calls)-probes)
	}

	d := NewEngine("tok", nil, pr)
	d.Acquire(context.Background())
	d.Acquire(context.Background())
	if d.State() != Direct || d.Current() != model.None {
		t.Errorf("empty pool: State() = %v, Current() = %q", d.State(), d.Current())
	}
}

func TestAcquire_ResetsExhaustedBlacklist(t *testing.T) {
	alive := true
	pr := &scriptedProber{ok: func(model.Endpoint) bool { return alive }}
	e := NewEngine("tok", []model.Endpoint{p1}, pr)

	if got := e.Acquire(context.Background()); got != p1 {
		t.Fatalf("Acquire() = %v, want %v", got, p1)
	}
	e.RequestFails()
	if e.Current() != model.None || !e.IsBlacklisted(p1) || e.State() != Unassigned {
		t.Fatalf("after RequestFails: current=%q blacklisted=%v state=%v", e.Current(), e.IsBlacklisted(p1), e.State())
	}

	alive = false
	pr.calls = nil
	if got := e.Acquire(context.Background()); got != model.None {
		t.Errorf("Acquire() = %v, want direct", got)
	}
	if !reflect.DeepEqual(pr.calls, []model.Endpoint{p1}) {
		t.Errorf("probes = %v, want P1 retried once after reset", pr.calls)
	}
	if e.State() != Direct {
		t.Errorf("State() = %v, want DIRECT", e.State())
	}
}

func TestRequestFails_DirectTransitions(t *testing.T) {
	pr := passing()
	e := NewEngine("tok", []model.Endpoint{p1}, pr)
	e.Acquire(context.Background())
	if e.State() != Direct {
		t.Fatalf("State() = %v, want DIRECT", e.State())
	}
	e.RequestFails()
	if e.State() != Unassigned {
		t.Errorf("DIRECT with non-empty pool: State() = %v, want UNASSIGNED", e.State())
	}
	if !e.IsBlacklisted(p1) {
		t.Errorf("blacklist should be untouched by RequestFails in DIRECT")
	}

	empty := NewEngine("tok", nil, pr)
	empty.Acquire(context.Background())
	empty.RequestFails()
	if empty.State() != Direct {
		t.Errorf("DIRECT with empty pool: State() = %v, want DIRECT", empty.State())
	}
}

func TestAcquire_CancelledDoesNotBlacklist(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pr := &scriptedProber{ok: func(model.Endpoint) bool {
		cancel()
		return false
	}}
	e := NewEngine("tok", []model.Endpoint{p1, p2}, pr)

	if got := e.Acquire(ctx); got != model.None {
		t.Errorf("Acquire() = %v, want none", got)
	}
	if len(e.Blacklist()) != 0 {
		t.Errorf("Blacklist() = %v, want empty", e.Blacklist())
	}
	if e.State() != Unassigned {
		t.Errorf("State() = %v, want UNASSIGNED", e.State())
	}
}

func TestEngine_Invariants(t *testing.T) {
	pool := []model.Endpoint{p1, p2, p3}
	inPool := map[model.Endpoint]bool{p1: true, p2: true, p3: true}
	rng := rand.New(rand.NewPCG(1, 2))

	for round := 0; round < 50; round++ {
		pr := &scriptedProber{ok: func(model.Endpoint) bool { return rng.IntN(3) == 0 }}
		e := NewEngine("tok", pool, pr)
		for step := 0; step < 40; step++ {
			if rng.IntN(2) == 0 {
				e.Acquire(context.Background())
			} else {
				prev, prevState := e.Current(), e.State()
				e.RequestFails()
				if prevState == Assigned {
					if e.Current() != model.None || !e.IsBlacklisted(prev) {
						t.Fatalf("round %d step %d: failed proxy %v not blacklisted or still current", round, step, prev)
					}
				}
			}
			for _, ep := range e.Blacklist() {
				if !inPool[ep] {
					t.Fatalf("blacklist contains %v which is not in the pool", ep)
				}
			}
			if len(e.blacklist) != len(e.Blacklist()) {
				t.Fatalf("blacklist holds endpoints outside the pool: %v", e.blacklist)
			}
			if e.State() == Assigned && !inPool[e.Current()] {
				t.Fatalf("current %v not in pool", e.Current())
			}
		}
	}
}

func TestEngine_NeverStarves(t *testing.T) {
	pool := []model.Endpoint{p1, p2, p3}
	for good := range pool {
		t.Run(fmt.Sprint(pool[good]), func(t *testing.T) {
			alive := map[model.Endpoint]bool{}
			for _, ep := range pool {
				alive[ep] = true
			}
			pr := &scriptedProber{ok: func(ep model.Endpoint) bool { return alive[ep] }}
			e := NewEngine("tok", pool, pr)
			e.Acquire(context.Background())

			// Every proxy except one dies after assignment; within |pool|+1 failure
			// cycles the engine must land on the survivor.
			for _, ep := range pool {
				if ep != pool[good] {
					alive[ep] = false
				}
			}
			landed := e.Current() == pool[good]
			for cycle := 0; cycle <= len(pool) && !landed; cycle++ {
				e.RequestFails()
				e.Acquire(context.Background())
				landed = e.Current() == pool[good]
			}
			if !landed {
				t.Errorf("engine never acquired the surviving proxy %v", pool[good])
			}
		})
	}
}
