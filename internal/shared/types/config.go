package types

import "time"

// 代理池的四种来源模式，对应交互菜单中的选项。
const (
	ModeFile   = "file"   // 使用本地 proxy.txt，不做验证
	ModeFetch  = "fetch"  // 从在线代理源抓取并验证
	ModeSaved  = "saved"  // 使用上次验证通过的代理列表
	ModeDirect = "direct" // 不使用代理
)

// CommonConf 包含运行模式与凭据等文件路径。
type CommonConf struct {
	Mode      string `ini:"mode"`
	TokenFile string `ini:"token_file"`
	ProxyFile string `ini:"proxy_file"`
}

// ProxyPoolConf 包含代理抓取与批量验证的参数。
type ProxyPoolConf struct {
	Sources             []string `ini:"sources" delim:","`
	PersistFile         string   `ini:"persist_file"`
	ProbeURL            string   `ini:"probe_url"`
	ProbeTimeoutSeconds int      `ini:"probe_timeout"`
	FetchTimeoutSeconds int      `ini:"fetch_timeout"`
	Concurrency         int      `ini:"concurrency"`
	TargetCount         int      `ini:"target_count"`
	CapAttempts         int      `ini:"cap_attempts"`
	ProgressEvery       int      `ini:"progress_every"`
}

// WorkerConf 包含每个 token 轮询循环的参数。
type WorkerConf struct {
	BaseURL               string `ini:"base_url"`
	RequestTimeoutSeconds int    `ini:"request_timeout"`
	RetryBackoffSeconds   int    `ini:"retry_backoff"`
	PollIntervalSeconds   int    `ini:"poll_interval"`
	LaunchStaggerMillis   int    `ini:"launch_stagger_ms"`
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level   string `ini:"level"`
	NoColor bool   `ini:"no_color"`
}

// WebConf 控制可选的状态页面；port 为 0 时禁用。
type WebConf struct {
	Port int    `ini:"port"`
	Host string `ini:"host"`
}

// Config 是统一的配置结构体。
type Config struct {
	CommonConf    `ini:"common"`
	ProxyPoolConf `ini:"proxypool"`
	WorkerConf    `ini:"worker"`
	LogConf       `ini:"log"`
	WebConf       `ini:"web"`
}

// DefaultSources 是默认的四个在线代理列表。
var DefaultSources = []string{
	"https://raw.githubusercontent.com/monosans/proxy-list/main/proxies/all.txt",
	"https://raw.githubusercontent.com/TheSpeedX/SOCKS-List/master/http.txt",
	"https://raw.githubusercontent.com/TheSpeedX/SOCKS-List/master/socks4.txt",
	"https://raw.githubusercontent.com/TheSpeedX/SOCKS-List/master/socks5.txt",
}

// DefaultConfig 返回所有字段均已填充默认值的配置。
func DefaultConfig() *Config {
	sources := make([]string, len(DefaultSources))
	copy(sources, DefaultSources)
	return &Config{
		CommonConf: CommonConf{
			TokenFile: "token.txt",
			ProxyFile: "proxy.txt",
		},
		ProxyPoolConf: ProxyPoolConf{
			Sources:             sources,
			PersistFile:         "working_proxies.txt",
			ProbeURL:            "https://httpbin.org/ip",
			ProbeTimeoutSeconds: 8,
			FetchTimeoutSeconds: 15,
			Concurrency:         50,
			TargetCount:         100,
			CapAttempts:         1000,
			ProgressEvery:       50,
		},
		WorkerConf: WorkerConf{
			BaseURL:               "https://api.dashboard.3dos.io",
			RequestTimeoutSeconds: 15,
			RetryBackoffSeconds:   5,
			PollIntervalSeconds:   10,
			LaunchStaggerMillis:   1000,
		},
		LogConf: LogConf{Level: "info"},
		WebConf: WebConf{Host: "127.0.0.1"},
	}
}

func (c ProxyPoolConf) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

func (c ProxyPoolConf) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

func (c WorkerConf) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c WorkerConf) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffSeconds) * time.Second
}

func (c WorkerConf) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c WorkerConf) LaunchStagger() time.Duration {
	return time.Duration(c.LaunchStaggerMillis) * time.Millisecond
}
