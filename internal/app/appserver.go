package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"liuproxy_pulse/internal/service/web"
	"liuproxy_pulse/internal/shared/config"
	"liuproxy_pulse/internal/shared/globalstate"
	"liuproxy_pulse/internal/shared/logger"
	"liuproxy_pulse/internal/shared/types"
	"liuproxy_pulse/internal/worker"
	manager "liuproxy_pulse/proxypool"
	"liuproxy_pulse/proxypool/model"
	"liuproxy_pulse/proxypool/scraper"
	"liuproxy_pulse/proxypool/storage"
	"liuproxy_pulse/proxypool/validator"
)

// ErrEmptyPool 表示非交互模式下所选来源没有产生任何代理。
var ErrEmptyPool = errors.New("selected proxy source produced no proxies")

// AppServer is the application's main struct.
type AppServer struct {
	cfg *types.Config

	status    *globalstate.StatusManager
	hub       *web.Hub
	webServer *web.Server

	prober           *validator.Validator
	proxyPoolManager *manager.Manager
	supervisor       *worker.Supervisor
}

// New 根据配置组装所有组件，但不启动任何后台任务。
func New(cfg *types.Config) *AppServer {
	s := &AppServer{
		cfg:    cfg,
		status: globalstate.GlobalStatus,
		hub:    web.NewHub(),
	}
	s.webServer = web.NewServer(cfg.WebConf, s.hub, s.status)

	s.prober = validator.NewValidator(cfg.ProxyPoolConf.ProbeURL, cfg.ProxyPoolConf.ProbeTimeout())
	proxyStorage := storage.NewFileStorage(cfg.ProxyPoolConf.PersistFile)
	scrapers := scraper.NewListScrapers(cfg.ProxyPoolConf.Sources, cfg.ProxyPoolConf.FetchTimeout())
	s.proxyPoolManager = manager.NewManager(cfg.ProxyPoolConf, proxyStorage, s.prober, scrapers)
	s.proxyPoolManager.OnProgress(s.onValidationProgress)

	s.supervisor = worker.NewSupervisor(cfg.WorkerConf, s.prober, s.reporter())
	return s
}

// SelectPool 按模式加载代理池。direct 模式总是返回空列表。
func (s *AppServer) SelectPool(ctx context.Context, mode string) ([]model.Endpoint, error) {
	l := logger.WithComponent("App")
	var pool []model.Endpoint

	switch mode {
	case types.ModeFile:
		pool = s.proxyPoolManager.LoadFromFile(s.cfg.CommonConf.ProxyFile)
		l.Info().Int("count", len(pool)).Str("path", s.cfg.CommonConf.ProxyFile).Msg("Loaded proxies from local file.")
	case types.ModeFetch:
		s.status.Set("Fetching and validating proxies...")
		pool = s.proxyPoolManager.RefreshFromSources(ctx)
		l.Info().Int("count", len(pool)).Msg("Using verified working proxies.")
	case types.ModeSaved:
		pool = s.proxyPoolManager.LoadPersisted()
		l.Info().Int("count", len(pool)).Msg("Using previously verified working proxies.")
	case types.ModeDirect:
		l.Info().Msg("Running without proxies (direct connection).")
		return []model.Endpoint{}, nil
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}

	s.publishPoolSize(len(pool))
	return pool, nil
}

// Validate 抓取、验证并持久化代理列表，返回找到的可用代理数量。
func (s *AppServer) Validate(ctx context.Context) (int, error) {
	pool, err := s.SelectPool(ctx, types.ModeFetch)
	if err != nil {
		return 0, err
	}
	if len(pool) == 0 {
		return 0, ErrEmptyPool
	}
	return len(pool), nil
}

// Run 读取 token、选择代理池并启动所有 worker，直到 ctx 被取消。
// mode 为空时通过 in/out 显示交互菜单。
func (s *AppServer) Run(ctx context.Context, mode string, in io.Reader, out io.Writer) error {
	l := logger.WithComponent("App")

	tokens, err := config.LoadTokens(s.cfg.CommonConf.TokenFile)
	if err != nil {
		return err
	}
	l.Info().Int("count", len(tokens)).Msg("Loaded tokens.")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.webServer.Run(gctx)
	})

	g.Go(func() error {
		var (
			pool []model.Endpoint
			err  error
		)
		if mode == "" {
			pool, err = s.runMenu(gctx, in, out)
		} else {
			pool, err = s.SelectPool(gctx, mode)
			if err == nil && mode != types.ModeDirect && len(pool) == 0 {
				err = fmt.Errorf("%w (mode %s)", ErrEmptyPool, mode)
			}
		}
		if err != nil {
			return err
		}

		s.status.Set("Running")
		l.Info().Int("tokens", len(tokens)).Int("pool", len(pool)).Msg("Starting processes for tokens...")
		return s.supervisor.Run(gctx, tokens, pool)
	})

	err = g.Wait()
	s.status.Set("Stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
