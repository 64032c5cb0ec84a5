package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"liuproxy_pulse/internal/shared/types"
	"liuproxy_pulse/proxypool/model"
	"liuproxy_pulse/proxypool/storage"
)

type fakeProber struct {
	good  map[model.Endpoint]bool
	all   bool
	delay time.Duration

	calls    atomic.Int64
	inFlight atomic.Int64
	maxSeen  atomic.Int64
}

func (f *fakeProber) Probe(ctx context.Context, ep model.Endpoint) bool {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		old := f.maxSeen.Load()
		if n <= old || f.maxSeen.CompareAndSwap(old, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return false
		}
	}
	return f.all || f.good[ep]
}

func candidates(n int) model.CandidateSet {
	set := model.NewCandidateSet()
	for i := 0; i < n; i++ {
		set.AddRaw(fmt.Sprintf("10.0.%d.%d:8080", i/250, i%250+1))
	}
	return set
}

func newTestManager(t *testing.T, cfg types.ProxyPoolConf, p Prober) (*Manager, *storage.FileStorage) {
	t.Helper()
	fs := storage.NewFileStorage(filepath.Join(t.TempDir(), "working_proxies.txt"))
	return NewManager(cfg, fs, p, nil), fs
}

func sorted(eps []model.Endpoint) []model.Endpoint {
	out := append([]model.Endpoint(nil), eps...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestBulkValidate_StopsAtTarget(t *testing.T) {
	p := &fakeProber{all: true, delay: time.Millisecond}
	m, fs := newTestManager(t, types.ProxyPoolConf{Concurrency: 50, TargetCount: 100}, p)

	got := m.BulkValidate(context.Background(), candidates(500))
	if len(got) != 100 {
		t.Fatalf("BulkValidate() returned %d proxies, want 100", len(got))
	}
	if calls := p.calls.Load(); calls >= 500 {
		t.Errorf("probes = %d, expected validation to stop early", calls)
	}
	if max := p.maxSeen.Load(); max > 50 {
		t.Errorf("max in-flight probes = %d, want <= 50", max)
	}

	persisted, err := fs.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(persisted) != 100 {
		t.Errorf("persisted %d proxies, want 100", len(persisted))
	}
	if len(m.Snapshot()) != 100 {
		t.Errorf("Snapshot() has %d proxies, want 100", len(m.Snapshot()))
	}
}

func TestBulkValidate_ReturnsAllValidWhenFewer(t *testing.T) {
	cands := candidates(30)
	good := map[model.Endpoint]bool{}
	var want []model.Endpoint
	for i, ep := range cands.Slice() {
		if i%3 == 0 {
			good[ep] = true
			want = append(want, ep)
		}
	}
	p := &fakeProber{good: good}
	m, _ := newTestManager(t, types.ProxyPoolConf{Concurrency: 5, TargetCount: 100}, p)

	got := m.BulkValidate(context.Background(), cands)
	if fmt.Sprint(sorted(got)) != fmt.Sprint(sorted(want)) {
		t.Errorf("BulkValidate() = %v, want %v", sorted(got), sorted(want))
	}
	if calls := p.calls.Load(); calls != 30 {
		t.Errorf("probes = %d, want 30", calls)
	}
}

func TestBulkValidate_CapsAttempts(t *testing.T) {
	p := &fakeProber{}
	m, _ := newTestManager(t, types.ProxyPoolConf{Concurrency: 50, TargetCount: 100, CapAttempts: 1000}, p)

	got := m.BulkValidate(context.Background(), candidates(1200))
	if len(got) != 0 {
		t.Errorf("BulkValidate() = %v, want empty", got)
	}
	if calls := p.calls.Load(); calls != 1000 {
		t.Errorf("probes = %d, want 1000", calls)
	}
}

func TestBulkValidate_EmptyResultKeepsPersistedList(t *testing.T) {
	p := &fakeProber{}
	m, fs := newTestManager(t, types.ProxyPoolConf{}, p)
	prior := []model.Endpoint{"http://9.9.9.9:80"}
	if err := fs.Save(prior); err != nil {
		t.Fatal(err)
	}

	m.BulkValidate(context.Background(), candidates(10))

	got, err := fs.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != prior[0] {
		t.Errorf("persisted list = %v, want %v", got, prior)
	}
}

func TestBulkValidate_ReportsProgress(t *testing.T) {
	p := &fakeProber{}
	m, _ := newTestManager(t, types.ProxyPoolConf{Concurrency: 1, ProgressEvery: 50}, p)

	var mu sync.Mutex
	var seen []int
	m.OnProgress(func(pr Progress) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, pr.Completed)
		if pr.Total != 120 {
			t.Errorf("Progress.Total = %d, want 120", pr.Total)
		}
	})

	m.BulkValidate(context.Background(), candidates(120))

	want := []int{50, 100, 120}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Errorf("progress reports = %v, want %v", seen, want)
	}
}

func TestLoadPersistedAndFromFile(t *testing.T) {
	m, fs := newTestManager(t, types.ProxyPoolConf{}, &fakeProber{})

	if got := m.LoadPersisted(); len(got) != 0 {
		t.Errorf("LoadPersisted() on missing file = %v, want empty", got)
	}

	saved := []model.Endpoint{"socks5://1.2.3.4:1080", "http://5.6.7.8:80"}
	if err := fs.Save(saved); err != nil {
		t.Fatal(err)
	}
	if got := m.LoadPersisted(); fmt.Sprint(got) != fmt.Sprint(saved) {
		t.Errorf("LoadPersisted() = %v, want %v", got, saved)
	}

	path := filepath.Join(t.TempDir(), "proxy.txt")
	if err := os.WriteFile(path, []byte("5.6.7.8:80\nsocks4 1.1.1.1:4145\n\n5.6.7.8:80\n"), 0644); err != nil {
		t.Fatal(err)
	}
	p := &fakeProber{}
	m2, _ := newTestManager(t, types.ProxyPoolConf{}, p)
	got := m2.LoadFromFile(path)
	want := []model.Endpoint{"http://5.6.7.8:80", "socks4://socks4 1.1.1.1:4145"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("LoadFromFile() = %v, want %v", got, want)
	}
	if p.calls.Load() != 0 {
		t.Errorf("LoadFromFile() probed %d proxies, want none", p.calls.Load())
	}
}
