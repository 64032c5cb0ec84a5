package globalstate

import (
	"sort"
	"sync"
	"time"
)

// WorkerStatus 是某个 token 最近一次轮询的快照，供状态页面展示。
type WorkerStatus struct {
	TokenID       string    `json:"token_id"`
	WorkerID      string    `json:"worker_id"`
	State         string    `json:"state"`
	Proxy         string    `json:"proxy"`
	Status        string    `json:"status,omitempty"`
	Email         string    `json:"email,omitempty"`
	LoyaltyPoints string    `json:"loyalty_points,omitempty"`
	Username      string    `json:"username,omitempty"`
	Tier          string    `json:"tier,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	Failures      int       `json:"failures"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// StatusManager 用 RWMutex 保护全局运行状态的并发读写。
// 锁只在内存拷贝期间持有，不会跨越网络调用。
type StatusManager struct {
	mu       sync.RWMutex
	status   string
	poolSize int
	workers  map[string]WorkerStatus
}

// 全局的状态管理器实例
var GlobalStatus = NewStatusManager()

func NewStatusManager() *StatusManager {
	return &StatusManager{
		status:  "Initializing...",
		workers: make(map[string]WorkerStatus),
	}
}

// Set 方法用于安全地更新状态。
func (sm *StatusManager) Set(newStatus string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.status = newStatus
}

// Get 方法用于安全地读取状态。
func (sm *StatusManager) Get() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.status
}

func (sm *StatusManager) SetPoolSize(n int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.poolSize = n
}

func (sm *StatusManager) PoolSize() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.poolSize
}

// UpdateWorker 记录某个 worker 的最新状态。
func (sm *StatusManager) UpdateWorker(ws WorkerStatus) {
	if ws.UpdatedAt.IsZero() {
		ws.UpdatedAt = time.Now()
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.workers[ws.TokenID] = ws
}

// Workers 返回按 token 排序的状态副本。
func (sm *StatusManager) Workers() []WorkerStatus {
	sm.mu.RLock()
	out := make([]WorkerStatus, 0, len(sm.workers))
	for _, ws := range sm.workers {
		out = append(out, ws)
	}
	sm.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}
