package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"

	"liuproxy_pulse/internal/shared/types"
)

// ErrNoCredentials 表示 token 文件不存在或为空，属于致命错误。
var ErrNoCredentials = errors.New("no credentials found")

// Load 依次应用默认值、pulse.ini、.env 与环境变量，返回最终配置。
// ini 文件不存在时直接使用默认值；文件存在但无法解析时返回错误。
func Load(fileName string) (*types.Config, error) {
	cfg := types.DefaultConfig()
	if err := LoadIni(cfg, fileName); err != nil {
		return nil, err
	}

	// .env 是可选的，不存在时忽略错误
	_ = godotenv.Load()
	applyEnv(cfg)
	return cfg, nil
}

// LoadIni 将 ini 文件映射到 cfg 上，文件中未出现的键保持原值。
func LoadIni(cfg *types.Config, fileName string) error {
	if fileName == "" {
		return nil
	}
	if _, err := os.Stat(fileName); os.IsNotExist(err) {
		return nil
	}
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return fmt.Errorf("failed to load config file '%s': %w", fileName, err)
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return fmt.Errorf("failed to map config file '%s': %w", fileName, err)
	}
	return nil
}

func applyEnv(cfg *types.Config) {
	overrideFromEnvString(&cfg.CommonConf.Mode, "PULSE_MODE")
	overrideFromEnvString(&cfg.CommonConf.TokenFile, "PULSE_TOKEN_FILE")
	overrideFromEnvString(&cfg.CommonConf.ProxyFile, "PULSE_PROXY_FILE")
	overrideFromEnvString(&cfg.ProxyPoolConf.PersistFile, "PULSE_PERSIST_FILE")
	overrideFromEnvString(&cfg.ProxyPoolConf.ProbeURL, "PULSE_PROBE_URL")
	overrideFromEnvInt(&cfg.ProxyPoolConf.Concurrency, "PULSE_CONCURRENCY")
	overrideFromEnvInt(&cfg.ProxyPoolConf.TargetCount, "PULSE_TARGET_COUNT")
	overrideFromEnvString(&cfg.WorkerConf.BaseURL, "PULSE_BASE_URL")
	overrideFromEnvString(&cfg.LogConf.Level, "PULSE_LOG_LEVEL")
	overrideFromEnvInt(&cfg.WebConf.Port, "PULSE_WEB_PORT")

	if v := os.Getenv("PULSE_SOURCES"); v != "" {
		var sources []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				sources = append(sources, s)
			}
		}
		if len(sources) > 0 {
			cfg.ProxyPoolConf.Sources = sources
		}
	}
}

// LoadTokens 读取凭据文件，每个非空行是一个 token，顺序保持不变。
func LoadTokens(fileName string) ([]string, error) {
	tokens, err := ReadLines(fileName)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: file '%s' not found", ErrNoCredentials, fileName)
		}
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: '%s' is empty", ErrNoCredentials, fileName)
	}
	return tokens, nil
}

// ReadLines 返回文件中所有去除首尾空白后的非空行。
func ReadLines(fileName string) ([]string, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func overrideFromEnvString(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}
