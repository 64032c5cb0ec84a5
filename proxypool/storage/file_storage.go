package storage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"liuproxy_pulse/internal/shared/logger"
	"liuproxy_pulse/proxypool/model"
)

// Storage 接口定义了已验证代理列表的持久化行为。
type Storage interface {
	Load() ([]model.Endpoint, error)
	Save(proxies []model.Endpoint) error
}

// FileStorage 实现了 Storage 接口，每行一个代理的纯文本文件。
type FileStorage struct {
	filePath string
	mu       sync.RWMutex
}

// NewFileStorage 创建一个新的 FileStorage 实例。
func NewFileStorage(filePath string) *FileStorage {
	return &FileStorage{
		filePath: filePath,
	}
}

func (fs *FileStorage) Path() string { return fs.filePath }

// Load 按文件顺序读取代理列表；文件不存在时返回空列表。
func (fs *FileStorage) Load() ([]model.Endpoint, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	l := logger.WithComponent("ProxyPool/Storage")

	file, err := os.Open(fs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			l.Info().Str("path", fs.filePath).Msg("Proxy data file not found, starting with an empty pool.")
			return []model.Endpoint{}, nil
		}
		return nil, err
	}
	defer file.Close()

	var proxies []model.Endpoint
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		proxies = append(proxies, model.Normalize(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	proxies = model.Dedup(proxies)
	l.Info().Int("count", len(proxies)).Str("path", fs.filePath).Msg("Successfully loaded proxies from file.")
	return proxies, nil
}

// Save 用给定列表整体替换文件内容。先写临时文件再重命名，避免留下半个列表。
func (fs *FileStorage) Save(proxies []model.Endpoint) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	l := logger.WithComponent("ProxyPool/Storage")

	var sb strings.Builder
	for _, p := range proxies {
		sb.WriteString(string(p))
		sb.WriteString("\n")
	}

	dir := filepath.Dir(fs.filePath)
	tmp, err := os.CreateTemp(dir, ".proxies-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(sb.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write proxies: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, fs.filePath); err != nil {
		return fmt.Errorf("failed to replace %s: %w", fs.filePath, err)
	}

	l.Info().Int("count", len(proxies)).Str("path", fs.filePath).Msg("Successfully saved proxies to file.")
	return nil
}
