package manager

import (
	"context"
	"math/rand/v2"
	"sync"

	"golang.org/x/sync/errgroup"

	"liuproxy_pulse/internal/shared/logger"
	"liuproxy_pulse/internal/shared/types"
	"liuproxy_pulse/proxypool/model"
	"liuproxy_pulse/proxypool/scraper"
	"liuproxy_pulse/proxypool/storage"
)

// Prober 判断一个代理当前是否可用。
type Prober interface {
	Probe(ctx context.Context, ep model.Endpoint) bool
}

// Progress 是批量验证过程中的一次进度快照。
type Progress struct {
	Completed int // 已完成的探测数
	Total     int // 本轮计划探测的候选数（已截断）
	Found     int // 当前已找到的可用代理数
}

// Manager 是代理池模块的总控制器：抓取、批量验证、持久化，并持有当前的共享代理快照。
type Manager struct {
	cfg      types.ProxyPoolConf
	storage  storage.Storage
	prober   Prober
	scrapers []scraper.Scraper

	onProgress func(Progress)
	shuffle    func([]model.Endpoint)

	pool []model.Endpoint
	mu   sync.RWMutex
}

// NewManager 创建并初始化代理池管理器。cfg 中未设置（<=0）的数值使用默认值。
func NewManager(cfg types.ProxyPoolConf, storage storage.Storage, prober Prober, scrapers []scraper.Scraper) *Manager {
	def := types.DefaultConfig().ProxyPoolConf
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.TargetCount <= 0 {
		cfg.TargetCount = def.TargetCount
	}
	if cfg.CapAttempts <= 0 {
		cfg.CapAttempts = def.CapAttempts
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = def.ProgressEvery
	}
	return &Manager{
		cfg:      cfg,
		storage:  storage,
		prober:   prober,
		scrapers: scrapers,
		shuffle: func(eps []model.Endpoint) {
			rand.Shuffle(len(eps), func(i, j int) { eps[i], eps[j] = eps[j], eps[i] })
		},
	}
}

// AddScraper 添加一个抓取器到管理器。
func (m *Manager) AddScraper(s scraper.Scraper) {
	m.scrapers = append(m.scrapers, s)
}

// OnProgress 注册进度回调。回调在持有内部锁时被调用，不应阻塞。
func (m *Manager) OnProgress(fn func(Progress)) {
	m.onProgress = fn
}

// Snapshot 返回当前共享代理列表。返回的切片在下一次加载前不会被修改，调用方只读。
func (m *Manager) Snapshot() []model.Endpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pool
}

func (m *Manager) setPool(pool []model.Endpoint) []model.Endpoint {
	m.mu.Lock()
	m.pool = pool
	m.mu.Unlock()
	return pool
}

// BulkValidate 打乱候选集合、截断到 CapAttempts，并以最多 Concurrency 个并发探测。
// 累计到 TargetCount 个可用代理后不再启动新的探测，并取消仍在进行的探测。
// 结果非空时整体替换持久化列表。
func (m *Manager) BulkValidate(ctx context.Context, candidates model.CandidateSet) []model.Endpoint {
	l := logger.WithComponent("ProxyPool/Manager")

	eps := candidates.Slice()
	m.shuffle(eps)
	if len(eps) > m.cfg.CapAttempts {
		eps = eps[:m.cfg.CapAttempts]
	}
	total := len(eps)
	if total == 0 {
		l.Warn().Msg("No candidates to validate.")
		return m.setPool([]model.Endpoint{})
	}

	l.Info().
		Int("candidates", total).
		Int("concurrency", m.cfg.Concurrency).
		Int("target", m.cfg.TargetCount).
		Msg("Starting bulk validation...")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(m.cfg.Concurrency)

	var (
		mu           sync.Mutex
		valid        = make([]model.Endpoint, 0, m.cfg.TargetCount)
		completed    int
		lastReported int
	)

	report := func() {
		lastReported = completed
		p := Progress{Completed: completed, Total: total, Found: len(valid)}
		l.Info().Int("checked", p.Completed).Int("total", p.Total).Int("found", p.Found).Msg("Validation progress.")
		if m.onProgress != nil {
			m.onProgress(p)
		}
	}

	targetReached := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(valid) >= m.cfg.TargetCount
	}

	for _, ep := range eps {
		if targetReached() || gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			ok := m.prober.Probe(gctx, ep)

			mu.Lock()
			defer mu.Unlock()
			completed++
			if ok && len(valid) < m.cfg.TargetCount {
				valid = append(valid, ep)
				l.Debug().Str("proxy", ep.String()).Int("found", len(valid)).Msg("Found working proxy.")
				if len(valid) >= m.cfg.TargetCount {
					cancel()
				}
			}
			if completed%m.cfg.ProgressEvery == 0 {
				report()
			}
			return nil
		})
	}
	_ = g.Wait()

	if completed != lastReported {
		report()
	}

	l.Info().Int("found", len(valid)).Int("checked", completed).Msg("Bulk validation finished.")

	if len(valid) > 0 {
		if ctx.Err() != nil {
			l.Warn().Msg("Validation interrupted, keeping the previously persisted list.")
		} else if err := m.storage.Save(valid); err != nil {
			l.Error().Err(err).Msg("Failed to save validated proxies.")
		}
	}
	return m.setPool(valid)
}

// LoadPersisted 返回最近一次持久化的代理列表；文件缺失或不可读时返回空列表。
func (m *Manager) LoadPersisted() []model.Endpoint {
	proxies, err := m.storage.Load()
	if err != nil {
		l := logger.WithComponent("ProxyPool/Manager")
		l.Warn().Err(err).Msg("Failed to load persisted proxies, starting with an empty pool.")
		return m.setPool([]model.Endpoint{})
	}
	return m.setPool(proxies)
}

// LoadFromFile 读取用户提供的代理列表，只做格式规范化和去重，不做验证。
func (m *Manager) LoadFromFile(path string) []model.Endpoint {
	proxies, err := storage.NewFileStorage(path).Load()
	if err != nil {
		l := logger.WithComponent("ProxyPool/Manager")
		l.Warn().Err(err).Str("path", path).Msg("Failed to read proxy file.")
		return m.setPool([]model.Endpoint{})
	}
	return m.setPool(proxies)
}

// RefreshFromSources 执行一次完整的“抓取 -> 批量验证 -> 存储”周期。
func (m *Manager) RefreshFromSources(ctx context.Context) []model.Endpoint {
	l := logger.WithComponent("ProxyPool/Manager")
	l.Info().Int("sources", len(m.scrapers)).Msg("Starting new scrape and validate cycle...")

	candidates := scraper.FetchAll(ctx, m.scrapers)
	if len(candidates) == 0 {
		l.Warn().Msg("No proxies fetched from any source.")
		return m.setPool([]model.Endpoint{})
	}
	return m.BulkValidate(ctx, candidates)
}
