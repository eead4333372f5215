package strategy

import (
	"fmt"
	"sort"
	"sync"

	"trade-engine/internal/marketdata"
	"trade-engine/internal/trade"
)

// Action 为策略在单个时间点给出的方向建议。
type Action int

const (
	ActionHold Action = iota
	ActionBuy
	ActionSell
)

// Advice 为策略输出。止损止盈以相对现价的比例表达，
// 由调用方换算为绝对价格。
type Advice struct {
	Action        Action
	StopLossPct   float64 // 例如 0.05 表示现价下方5%
	TakeProfitPct float64
}

// Strategy 根据历史K线与当前持仓状态给出建议。
// 实现必须是纯函数式的：同样的输入产生同样的输出。
type Strategy interface {
	Name() string
	Evaluate(symbol string, candles []marketdata.Candle, holding bool) (Advice, error)
}

// Registry 维护策略标识到构造函数的显式映射，
// 服务启动时校验配置的策略名，不做任何运行时反射扫描。
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func() Strategy
}

// NewRegistry 创建带内置策略的注册表。
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]func() Strategy)}
	r.Register("sma_cross", func() Strategy { return NewSMACross(10, 30) })
	r.Register("rsi_reversal", func() Strategy { return NewRSIReversal(30, 70) })
	r.Register("macd_trend", func() Strategy { return NewMACDTrend(20) })
	return r
}

// Register 注册策略构造函数，重名覆盖。
func (r *Registry) Register(name string, factory func() Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// New 按名称实例化策略。
func (r *Registry) New(name string) (Strategy, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy: 未注册的策略 %q（可用：%v）", name, r.Names())
	}
	return factory(), nil
}

// Names 返回全部已注册策略名，按字典序。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SideOf 把建议映射为交易方向；Hold 返回 false。
func SideOf(a Action) (trade.Side, bool) {
	switch a {
	case ActionBuy:
		return trade.SideBuy, true
	case ActionSell:
		return trade.SideSell, true
	default:
		return "", false
	}
}
