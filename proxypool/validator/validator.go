package validator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/corpix/uarand"

	"liuproxy_pulse/internal/shared/logger"
	"liuproxy_pulse/internal/transport"
	"liuproxy_pulse/proxypool/model"
)

const (
	// DefaultProbeURL 是一个回显出口 IP 的公共端点。
	DefaultProbeURL     = "https://httpbin.org/ip"
	DefaultProbeTimeout = 8 * time.Second

	// 响应体只需读取少量字节以便连接复用。
	maxDrainBytes = 4 << 10
)

// Validator 通过候选代理访问回显端点来判断代理是否可用。
type Validator struct {
	probeURL string
	timeout  time.Duration
}

func NewValidator(probeURL string, timeout time.Duration) *Validator {
	if probeURL == "" {
		probeURL = DefaultProbeURL
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Validator{
		probeURL: probeURL,
		timeout:  timeout,
	}
}

// Probe 在超时时间内经由 ep 发起一次 GET，当且仅当返回 200 时为 true。
// 任何错误（解析、连接、超时、非 200）都视为失败，不会向调用方抛出。
func (v *Validator) Probe(ctx context.Context, ep model.Endpoint) bool {
	err := v.check(ctx, ep)
	if err != nil {
		l := logger.WithComponent("ProxyPool/Validator")
		l.Debug().Err(err).Str("proxy", ep.String()).Msg("Probe failed.")
		return false
	}
	return true
}

func (v *Validator) check(ctx context.Context, ep model.Endpoint) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()

	client, err := transport.NewClient(ep, transport.Options{
		Timeout:           v.timeout,
		DisableKeepAlives: true,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.probeURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}
	req.Header.Set("User-Agent", uarand.GetRandom())

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}
	return nil
}
