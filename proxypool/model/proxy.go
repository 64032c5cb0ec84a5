package model

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
)

// 支持的代理协议。
const (
	SchemeHTTP   = "http"
	SchemeHTTPS  = "https"
	SchemeSOCKS4 = "socks4"
	SchemeSOCKS5 = "socks5"
)

var knownSchemes = []string{SchemeHTTP, SchemeHTTPS, SchemeSOCKS4, SchemeSOCKS5}

// Endpoint 是一个带协议前缀的代理地址，例如 "socks5://1.2.3.4:1080"。
// 它是不可变的值类型，相等性即规范化后字符串的相等性。
// 零值 "" 表示不使用代理（直连）。
type Endpoint string

// None 表示直连。
const None Endpoint = ""

func (e Endpoint) String() string {
	if e == None {
		return "direct"
	}
	return string(e)
}

// IsNone 报告该端点是否为直连。
func (e Endpoint) IsNone() bool { return e == None }

// Scheme 返回端点的协议部分。
func (e Endpoint) Scheme() string {
	if i := strings.Index(string(e), "://"); i > 0 {
		return string(e)[:i]
	}
	return ""
}

// HostPort 返回 "host:port" 部分。
func (e Endpoint) HostPort() string {
	if i := strings.Index(string(e), "://"); i >= 0 {
		return string(e)[i+3:]
	}
	return string(e)
}

// URL 解析端点，并检查协议和 host:port 是否完整。
func (e Endpoint) URL() (*url.URL, error) {
	u, err := url.Parse(string(e))
	if err != nil {
		return nil, fmt.Errorf("invalid proxy endpoint %q: %w", string(e), err)
	}
	if !isKnownScheme(u.Scheme) {
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	if _, _, err := net.SplitHostPort(u.Host); err != nil {
		return nil, fmt.Errorf("invalid proxy address %q: %w", u.Host, err)
	}
	return u, nil
}

// Normalize 将一行原始代理字符串转换为带协议前缀的 Endpoint。
//
// 已有可识别前缀时保留（协议统一为小写）；否则按子串 "socks4"/"socks5" 推断协议，
// 都没有时默认为 http。这只是格式上的推断，可用性由验证器负责。
func Normalize(raw string) Endpoint {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)

	for _, scheme := range knownSchemes {
		prefix := scheme + "://"
		if strings.HasPrefix(lower, prefix) {
			return Endpoint(prefix + raw[len(prefix):])
		}
	}

	for _, scheme := range []string{SchemeSOCKS4, SchemeSOCKS5} {
		if !strings.Contains(lower, scheme) {
			continue
		}
		prefix := scheme + "://"
		rest := raw
		if i := strings.LastIndex(lower, prefix); i >= 0 {
			rest = raw[i+len(prefix):]
		}
		return Endpoint(prefix + rest)
	}

	return Endpoint(SchemeHTTP + "://" + raw)
}

func isKnownScheme(s string) bool {
	for _, scheme := range knownSchemes {
		if s == scheme {
			return true
		}
	}
	return false
}

// CandidateSet 是从一个或多个代理源收集的去重候选集合，不保证顺序。
type CandidateSet map[Endpoint]struct{}

// NewCandidateSet 规范化并去重给定的原始字符串，空行被忽略。
func NewCandidateSet(raw ...string) CandidateSet {
	set := make(CandidateSet, len(raw))
	for _, r := range raw {
		set.AddRaw(r)
	}
	return set
}

// AddRaw 规范化并加入一条原始候选。
func (s CandidateSet) AddRaw(raw string) {
	if strings.TrimSpace(raw) == "" {
		return
	}
	s[Normalize(raw)] = struct{}{}
}

// Merge 把另一个集合并入 s。
func (s CandidateSet) Merge(other CandidateSet) {
	for ep := range other {
		s[ep] = struct{}{}
	}
}

// Slice 返回排序后的切片，便于日志与测试比较。
func (s CandidateSet) Slice() []Endpoint {
	out := make([]Endpoint, 0, len(s))
	for ep := range s {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dedup 保持首次出现的顺序去除重复端点。
func Dedup(list []Endpoint) []Endpoint {
	seen := make(map[Endpoint]struct{}, len(list))
	out := make([]Endpoint, 0, len(list))
	for _, ep := range list {
		if ep == None {
			continue
		}
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}
