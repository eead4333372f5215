package connector

import (
	"sync/atomic"
	"time"
)

// NonceGenerator 产生严格单调递增的毫秒级 nonce。
// 同一毫秒内的并发请求通过 CAS 自增去重，保证不重复、不回退。
type NonceGenerator struct {
	last atomic.Int64
}

// NewNonceGenerator 以当前墙钟毫秒为种子创建生成器。
func NewNonceGenerator() *NonceGenerator {
	g := &NonceGenerator{}
	g.last.Store(time.Now().UnixMilli())
	return g
}

// Next 返回下一个 nonce。优先取当前毫秒时间戳，
// 若不大于上一次发放的值则在其基础上加一。
func (g *NonceGenerator) Next() int64 {
	for {
		last := g.last.Load()
		next := time.Now().UnixMilli()
		if next <= last {
			next = last + 1
		}
		if g.last.CompareAndSwap(last, next) {
			return next
		}
	}
}
