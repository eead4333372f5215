package breaker

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry 按操作 id 管理熔断器，生命周期与进程一致。
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	cfg      Config
	logger   *zap.Logger
}

// NewRegistry 创建熔断器注册表。
func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		breakers: make(map[string]*Breaker),
		cfg:      cfg.normalize(),
		logger:   logger,
	}
}

// Get 返回操作对应的熔断器，不存在时创建。
func (r *Registry) Get(operation string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[operation]; ok {
		return b
	}
	b := New(operation, r.cfg, r.logger)
	r.breakers[operation] = b
	return b
}

// Report 返回全部操作的健康快照，按操作名排序。
func (r *Registry) Report() []Health {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	report := make([]Health, 0, len(breakers))
	for _, b := range breakers {
		report = append(report, b.Snapshot())
	}
	sort.Slice(report, func(i, j int) bool {
		return report[i].Operation < report[j].Operation
	})
	return report
}
