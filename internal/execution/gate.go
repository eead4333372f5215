package execution

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// EmergencyGate 为紧急停机开关：全局或按用户生效，
// 每次真实执行前都必须查询。
type EmergencyGate interface {
	Halted(ctx context.Context, userID string) (bool, error)
}

// InMemoryGate 为进程内的停机开关实现。
type InMemoryGate struct {
	mu     sync.RWMutex
	global bool
	users  map[string]bool
	logger *zap.Logger
}

// NewInMemoryGate 创建停机开关。
func NewInMemoryGate(logger *zap.Logger) *InMemoryGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryGate{
		users:  make(map[string]bool),
		logger: logger,
	}
}

// Halted 返回全局或指定用户是否处于停机状态。
func (g *InMemoryGate) Halted(ctx context.Context, userID string) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.global || g.users[userID], nil
}

// HaltAll 启用全局停机。
func (g *InMemoryGate) HaltAll() {
	g.mu.Lock()
	g.global = true
	g.mu.Unlock()
	g.logger.Warn("全局紧急停机已启用")
}

// ResumeAll 解除全局停机。
func (g *InMemoryGate) ResumeAll() {
	g.mu.Lock()
	g.global = false
	g.mu.Unlock()
	g.logger.Info("全局紧急停机已解除")
}

// HaltUser 停止指定用户的真实执行。
func (g *InMemoryGate) HaltUser(userID string) {
	g.mu.Lock()
	g.users[userID] = true
	g.mu.Unlock()
	g.logger.Warn("用户紧急停机已启用", zap.String("user", userID))
}

// ResumeUser 解除指定用户的停机。
func (g *InMemoryGate) ResumeUser(userID string) {
	g.mu.Lock()
	delete(g.users, userID)
	g.mu.Unlock()
	g.logger.Info("用户紧急停机已解除", zap.String("user", userID))
}
