package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"trade-engine/internal/trade"
)

// State 表示熔断器状态。
type State int

const (
	StateClosed   State = iota // 正常放行
	StateOpen                  // 快速拒绝
	StateHalfOpen              // 恢复探测
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config 控制单个熔断器的阈值。
type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// DefaultConfig 返回默认阈值。
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         300 * time.Second,
	}
}

func (c Config) normalize() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 300 * time.Second
	}
	return c
}

// Breaker 为单个操作的三态熔断器。状态迁移全部在锁内完成，
// 并发调用不会出现读改写竞争。
type Breaker struct {
	operation string
	cfg       Config
	logger    *zap.Logger

	mu           sync.Mutex
	state        State
	failureCount int
	successCount int
	lastFailure  time.Time
	probing      bool // HALF_OPEN 下是否已有探测请求在途

	totalCalls   int64
	totalLatency time.Duration
}

// New 创建熔断器。
func New(operation string, cfg Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		operation: operation,
		cfg:       cfg.normalize(),
		state:     StateClosed,
		logger:    logger,
	}
}

// Allow 判断调用是否放行。OPEN 状态冷却期满后迁移到 HALF_OPEN，
// 且只放行一个探测请求。被拒绝时返回 trade.ErrCircuitOpen。
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(b.lastFailure) < b.cfg.Cooldown {
			return trade.ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probing = true
		b.logger.Info("熔断器进入 HALF_OPEN 探测",
			zap.String("operation", b.operation))
		return nil

	case StateHalfOpen:
		if b.probing {
			return trade.ErrCircuitOpen
		}
		b.probing = true
		return nil

	default:
		return trade.ErrCircuitOpen
	}
}

// RecordSuccess 记录一次成功调用及其延迟。
func (b *Breaker) RecordSuccess(latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successCount++
	b.totalCalls++
	b.totalLatency += latency

	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.state = StateClosed
		b.failureCount = 0
		b.probing = false
		b.logger.Info("熔断器恢复 CLOSED",
			zap.String("operation", b.operation))
	}
}

// RecordFailure 记录一次失败调用。
func (b *Breaker) RecordFailure(latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()
	b.totalCalls++
	b.totalLatency += latency

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.logger.Warn("熔断器打开",
				zap.String("operation", b.operation),
				zap.Int("failures", b.failureCount),
			)
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.probing = false
		b.logger.Warn("探测失败，熔断器回到 OPEN",
			zap.String("operation", b.operation))
	}
}

// Do 在熔断保护下执行 fn，并记录结果与延迟。
func (b *Breaker) Do(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}

	start := time.Now()
	err := fn()
	latency := time.Since(start)

	if err != nil {
		b.RecordFailure(latency)
		return err
	}
	b.RecordSuccess(latency)
	return nil
}

// CurrentState 返回当前状态，仅用于观测。
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Health 为单个操作的健康快照。
type Health struct {
	Operation    string
	State        string
	FailureCount int
	SuccessCount int
	SuccessRate  float64
	AvgLatency   time.Duration
	LastFailure  time.Time
}

// Snapshot 返回健康快照。
func (b *Breaker) Snapshot() Health {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := Health{
		Operation:    b.operation,
		State:        b.state.String(),
		FailureCount: b.failureCount,
		SuccessCount: b.successCount,
		LastFailure:  b.lastFailure,
	}
	if b.totalCalls > 0 {
		h.SuccessRate = float64(b.successCount) / float64(b.totalCalls)
		h.AvgLatency = b.totalLatency / time.Duration(b.totalCalls)
	}
	return h
}
