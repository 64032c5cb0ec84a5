// Package transport builds HTTP clients that route through a single proxy endpoint
// (http, https, socks4 or socks5) or connect directly.
package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
	"h12.io/socks"

	"liuproxy_pulse/proxypool/model"
)

// Options controls the client built by NewClient.
type Options struct {
	// Timeout bounds the whole request, including dialing the proxy.
	Timeout time.Duration
	// DisableKeepAlives is set for one-shot probes.
	DisableKeepAlives bool
}

// NewClient returns an *http.Client whose traffic goes through ep.
// model.None yields a direct client.
func NewClient(ep model.Endpoint, opts Options) (*http.Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	dialer := &net.Dialer{
		Timeout:   opts.Timeout,
		KeepAlive: 30 * time.Second,
	}
	tr := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   opts.Timeout / 2,
		ResponseHeaderTimeout: opts.Timeout,
		ExpectContinueTimeout: 1 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          4,
		DisableKeepAlives:     opts.DisableKeepAlives,
	}

	if !ep.IsNone() {
		u, err := ep.URL()
		if err != nil {
			return nil, err
		}
		switch u.Scheme {
		case model.SchemeHTTP, model.SchemeHTTPS:
			tr.Proxy = http.ProxyURL(u)
		case model.SchemeSOCKS5:
			d, err := proxy.FromURL(u, dialer)
			if err != nil {
				return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
			}
			tr.DialContext = contextDialer(d)
		case model.SchemeSOCKS4:
			dial := socks.Dial(fmt.Sprintf("socks4://%s?timeout=%s", u.Host, opts.Timeout))
			tr.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialWithContext(ctx, func() (net.Conn, error) { return dial(network, addr) })
			}
		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
		}
	}

	return &http.Client{
		Transport: tr,
		Timeout:   opts.Timeout,
	}, nil
}

func contextDialer(d proxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialWithContext(ctx, func() (net.Conn, error) { return d.Dial(network, addr) })
	}
}

// dialWithContext runs a context-unaware dial and abandons it when ctx ends.
// A connection that arrives after cancellation is closed.
func dialWithContext(ctx context.Context, dial func() (net.Conn, error)) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := dial()
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}
