package worker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"liuproxy_pulse/internal/dashboard"
	"liuproxy_pulse/internal/shared/globalstate"
	"liuproxy_pulse/internal/shared/logger"
	"liuproxy_pulse/internal/shared/types"
	"liuproxy_pulse/internal/transport"
	"liuproxy_pulse/proxypool/model"
)

// Outcome 是一次轮询周期的结果类别。
type Outcome int

const (
	Succeeded Outcome = iota
	Failed
)

// CycleResult 是一次轮询周期的显式结果，由 Run 据此决定状态转换。
type CycleResult struct {
	Outcome Outcome
	Profile *dashboard.Profile
	Details *dashboard.Details
	Err     error
}

// Reporter 接收每个周期结束后的 worker 状态。实现必须是非阻塞的。
type Reporter interface {
	Report(status globalstate.WorkerStatus)
}

// ReporterFunc 让普通函数实现 Reporter。
type ReporterFunc func(globalstate.WorkerStatus)

func (f ReporterFunc) Report(s globalstate.WorkerStatus) { f(s) }

// TokenID 返回 token 的前 10 个字符，用于日志和状态展示。
func TokenID(token string) string {
	if len(token) <= 10 {
		return token
	}
	return token[:10]
}

// Loop 是单个 token 的轮询循环。
type Loop struct {
	token    string
	tokenID  string
	workerID string
	baseURL  string
	engine   *Engine
	reporter Reporter
	log      zerolog.Logger

	requestTimeout time.Duration
	backoff        time.Duration
	interval       time.Duration
	newClient      func(ep model.Endpoint) (*http.Client, error)

	failures int
}

func NewLoop(token, workerID string, engine *Engine, cfg types.WorkerConf, reporter Reporter) *Loop {
	// 非正数的时间配置回退到默认值，否则请求立即超时或 Run 空转
	def := types.DefaultConfig().WorkerConf
	if cfg.RequestTimeoutSeconds <= 0 {
		cfg.RequestTimeoutSeconds = def.RequestTimeoutSeconds
	}
	if cfg.RetryBackoffSeconds <= 0 {
		cfg.RetryBackoffSeconds = def.RetryBackoffSeconds
	}
	if cfg.PollIntervalSeconds <= 0 {
		cfg.PollIntervalSeconds = def.PollIntervalSeconds
	}
	tokenID := TokenID(token)
	l := &Loop{
		token:          token,
		tokenID:        tokenID,
		workerID:       workerID,
		baseURL:        cfg.BaseURL,
		engine:         engine,
		reporter:       reporter,
		requestTimeout: cfg.RequestTimeout(),
		backoff:        cfg.RetryBackoff(),
		interval:       cfg.PollInterval(),
		log: logger.WithComponent("Worker").With().
			Str("token", tokenID).
			Str("worker_id", workerID).
			Logger(),
	}
	l.newClient = func(ep model.Endpoint) (*http.Client, error) {
		return transport.NewClient(ep, transport.Options{Timeout: l.requestTimeout})
	}
	return l
}

// Run 持续轮询直到 ctx 被取消。失败时切换代理并在 backoff 后重试，
// 成功后等待 interval 再进行下一次轮询。
func (l *Loop) Run(ctx context.Context) {
	l.log.Info().Msg("Worker started.")
	defer l.log.Info().Msg("Worker stopped.")

	for ctx.Err() == nil {
		if l.engine.State() == Unassigned {
			l.engine.Acquire(ctx)
			if ctx.Err() != nil {
				return
			}
		}

		res := l.runCycle(ctx)
		if ctx.Err() != nil {
			return
		}

		if res.Outcome == Failed {
			l.failures++
			l.log.Warn().Err(res.Err).Str("proxy", l.engine.Current().String()).Msg("Request failed, switching proxy.")
			l.report(res)
			l.engine.RequestFails()
			l.engine.Acquire(ctx)
			if !sleepCtx(ctx, l.backoff) {
				return
			}
			continue
		}

		l.report(res)
		if !sleepCtx(ctx, l.interval) {
			return
		}
	}
}

// runCycle 执行一次主状态请求，成功且带有 api_secret 时再请求详细信息。
// 详细信息请求失败只记录日志，不影响本周期的结果。
func (l *Loop) runCycle(ctx context.Context) (res CycleResult) {
	defer func() {
		if r := recover(); r != nil {
			res = CycleResult{Outcome: Failed, Err: fmt.Errorf("cycle panicked: %v", r)}
		}
	}()

	hc, err := l.newClient(l.engine.Current())
	if err != nil {
		return CycleResult{Outcome: Failed, Err: err}
	}
	// 每个周期新建 transport，结束时释放其空闲连接
	defer hc.CloseIdleConnections()
	api := dashboard.New(l.baseURL, l.token, hc)

	reqCtx, cancel := context.WithTimeout(ctx, l.requestTimeout)
	defer cancel()

	profile, err := api.ProfileMe(reqCtx)
	if err != nil {
		return CycleResult{Outcome: Failed, Err: err}
	}
	res = CycleResult{Outcome: Succeeded, Profile: profile}

	l.log.Info().
		Str("status", profile.StatusText()).
		Str("email", dashboard.Text(profile.Data.Email)).
		Str("loyalty_points", dashboard.Text(profile.Data.LoyaltyPoints)).
		Str("proxy", l.engine.Current().String()).
		Msg("Profile fetched.")

	if secret := dashboard.Text(profile.Data.APISecret); secret != "" {
		details, err := api.ProfileAPI(reqCtx, secret)
		if err != nil {
			l.log.Warn().Err(err).Msg("Failed to fetch profile details.")
			return res
		}
		res.Details = details
		l.log.Info().
			Str("username", details.Username).
			Str("tier", details.Tier.Name).
			Str("next_tier", details.NextTier.Name).
			Interface("daily_reward_claim", details.DailyRewardClaim).
			Msg("Profile details fetched.")
	}
	return res
}

func (l *Loop) report(res CycleResult) {
	if l.reporter == nil {
		return
	}
	ws := globalstate.WorkerStatus{
		TokenID:   l.tokenID,
		WorkerID:  l.workerID,
		State:     l.engine.State().String(),
		Proxy:     l.engine.Current().String(),
		Failures:  l.failures,
		UpdatedAt: time.Now().UTC(),
	}
	if res.Err != nil {
		ws.LastError = res.Err.Error()
	}
	if p := res.Profile; p != nil {
		ws.Status = p.StatusText()
		ws.Email = dashboard.Text(p.Data.Email)
		ws.LoyaltyPoints = dashboard.Text(p.Data.LoyaltyPoints)
	}
	if d := res.Details; d != nil {
		ws.Username = d.Username
		ws.Tier = d.Tier.Name
	}
	l.reporter.Report(ws)
}

// sleepCtx 等待 d 或 ctx 取消，返回 false 表示 ctx 已取消。
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
