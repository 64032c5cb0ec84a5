package worker

import (
	"context"

	"github.com/rs/zerolog"

	"liuproxy_pulse/internal/shared/logger"
	"liuproxy_pulse/proxypool/model"
)

// State 是单个 worker 的代理分配状态。
type State int

const (
	Unassigned State = iota // 尚未分配代理，下一次 Acquire 会扫描代理池
	Assigned                // 已绑定一个通过验证的代理
	Direct                  // 没有可用代理，直连
)

func (s State) String() string {
	switch s {
	case Unassigned:
		return "UNASSIGNED"
	case Assigned:
		return "ASSIGNED"
	case Direct:
		return "DIRECT"
	default:
		return "UNKNOWN"
	}
}

// Prober 判断一个代理当前是否可用。
type Prober interface {
	Probe(ctx context.Context, ep model.Endpoint) bool
}

// Engine 是每个 worker 独占的故障转移状态机。pool 是所有 worker 共享的只读快照，
// blacklist 只属于本 worker：在这里被拉黑的代理对其他 worker 仍然可用。
// Engine 不是并发安全的，只能由所属的 Loop 调用。
type Engine struct {
	pool      []model.Endpoint
	prober    Prober
	state     State
	current   model.Endpoint
	blacklist map[model.Endpoint]struct{}
	log       zerolog.Logger
}

func NewEngine(tokenID string, pool []model.Endpoint, prober Prober) *Engine {
	return &Engine{
		pool:      pool,
		prober:    prober,
		state:     Unassigned,
		current:   model.None,
		blacklist: make(map[model.Endpoint]struct{}),
		log:       logger.WithComponent("Worker/Engine").With().Str("token", tokenID).Logger(),
	}
}

func (e *Engine) State() State { return e.state }

// Current 返回当前绑定的代理；未绑定或直连时为 model.None。
func (e *Engine) Current() model.Endpoint { return e.current }

// IsBlacklisted 报告 ep 是否在本 worker 的黑名单中。
func (e *Engine) IsBlacklisted(ep model.Endpoint) bool {
	_, ok := e.blacklist[ep]
	return ok
}

// Blacklist 按代理池顺序返回黑名单内容。
func (e *Engine) Blacklist() []model.Endpoint {
	out := make([]model.Endpoint, 0, len(e.blacklist))
	for _, ep := range e.pool {
		if e.IsBlacklisted(ep) {
			out = append(out, ep)
		}
	}
	return out
}

func (e *Engine) available() []model.Endpoint {
	out := make([]model.Endpoint, 0, len(e.pool))
	for _, ep := range e.pool {
		if !e.IsBlacklisted(ep) {
			out = append(out, ep)
		}
	}
	return out
}

// Acquire 只在 Unassigned 状态下工作：按池顺序逐个探测未拉黑的代理，
// 探测失败的代理加入黑名单，第一个通过的代理成为 current。
// 所有代理都被拉黑时清空黑名单并重新计算一次；仍然没有可用代理则进入 Direct。
// Assigned 或 Direct 状态下为空操作。ctx 取消时中止扫描，被中断的代理不会被拉黑。
func (e *Engine) Acquire(ctx context.Context) model.Endpoint {
	if e.state != Unassigned {
		return e.current
	}

	candidates := e.available()
	if len(candidates) == 0 && len(e.blacklist) > 0 {
		e.log.Info().Int("blacklisted", len(e.blacklist)).Msg("All proxies blacklisted, resetting blacklist.")
		e.blacklist = make(map[model.Endpoint]struct{})
		candidates = e.available()
	}

	for _, ep := range candidates {
		if ctx.Err() != nil {
			return model.None
		}
		if e.prober.Probe(ctx, ep) {
			e.current = ep
			e.state = Assigned
			e.log.Info().Str("proxy", ep.String()).Msg("Assigned proxy.")
			return ep
		}
		if ctx.Err() != nil {
			return model.None
		}
		e.blacklist[ep] = struct{}{}
		e.log.Debug().Str("proxy", ep.String()).Msg("Proxy failed validation, blacklisted.")
	}

	e.current = model.None
	e.state = Direct
	if len(e.pool) == 0 {
		e.log.Info().Msg("Proxy pool is empty, using direct connection.")
	} else {
		e.log.Warn().Int("pool", len(e.pool)).Msg("No working proxy found, using direct connection.")
	}
	return model.None
}

// RequestFails 记录一次请求失败。Assigned 时拉黑当前代理并回到 Unassigned；
// Direct 且代理池非空时回到 Unassigned 以便重新尝试代理；代理池为空时保持 Direct。
func (e *Engine) RequestFails() {
	switch e.state {
	case Assigned:
		e.blacklist[e.current] = struct{}{}
		e.log.Warn().Str("proxy", e.current.String()).Msg("Request failed, blacklisting proxy.")
		e.current = model.None
		e.state = Unassigned
	case Direct:
		if len(e.pool) > 0 {
			e.state = Unassigned
		}
	}
}
