package worker

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"liuproxy_pulse/internal/shared/logger"
	"liuproxy_pulse/internal/shared/types"
	"liuproxy_pulse/proxypool/model"
)

// Supervisor 为每个 token 启动一个独立的 Loop，启动之间按 LaunchStagger 错开。
// 所有 Loop 共享同一个只读代理池快照，各自拥有自己的 Engine。
type Supervisor struct {
	cfg      types.WorkerConf
	prober   Prober
	reporter Reporter

	// newLoop 在测试中可替换。
	newLoop func(token string, engine *Engine) runner
}

type runner interface {
	Run(ctx context.Context)
}

func NewSupervisor(cfg types.WorkerConf, prober Prober, reporter Reporter) *Supervisor {
	s := &Supervisor{
		cfg:      cfg,
		prober:   prober,
		reporter: reporter,
	}
	s.newLoop = func(token string, engine *Engine) runner {
		return NewLoop(token, uuid.NewString(), engine, s.cfg, s.reporter)
	}
	return s
}

// Run 阻塞直到 ctx 被取消且所有 worker 退出。
func (s *Supervisor) Run(ctx context.Context, tokens []string, pool []model.Endpoint) error {
	l := logger.WithComponent("Worker/Supervisor")
	l.Info().Int("workers", len(tokens)).Int("pool", len(pool)).Msg("Starting workers...")

	limit := rate.Inf
	if stagger := s.cfg.LaunchStagger(); stagger > 0 {
		limit = rate.Every(stagger)
	}
	limiter := rate.NewLimiter(limit, 1)

	g, gctx := errgroup.WithContext(ctx)
	for _, token := range tokens {
		if err := limiter.Wait(gctx); err != nil {
			l.Info().Msg("Shutdown requested before all workers were launched.")
			break
		}
		loop := s.newLoop(token, NewEngine(TokenID(token), pool, s.prober))
		g.Go(func() error {
			loop.Run(gctx)
			return nil
		})
	}

	err := g.Wait()
	l.Info().Msg("All workers stopped.")
	return err
}
