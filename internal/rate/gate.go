package rate

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"tilext/pkg/contract"
)

// LimitKey: 限流分组键（client + sha256(api key)）。
type LimitKey string

// Limits: 每分组的限额配置。RPM<=0 表示不限流。
type Limits struct {
	RPM   int // requests per minute
	Burst int // 突发容量；<=0 时取 1
}

// Gate: 合成请求的限流闸门（并发安全）。
type Gate interface {
	// Wait: 阻塞直到放行或 ctx 取消。
	Wait(ctx context.Context, key LimitKey) error
	// Try: 非阻塞尝试；不足时返回 false。
	Try(key LimitKey) bool
}

// NewGate 从静态配置构造闸门；未登记或未启用的分组直接放行。
func NewGate(m map[LimitKey]Limits) Gate {
	g := &gate{m: make(map[LimitKey]*rate.Limiter, len(m))}
	for k, lim := range m {
		if lim.RPM <= 0 {
			continue
		}
		burst := lim.Burst
		if burst <= 0 {
			burst = 1
		}
		g.m[k] = rate.NewLimiter(rate.Limit(float64(lim.RPM)/60.0), burst)
	}
	return g
}

type gate struct {
	mu sync.RWMutex
	m  map[LimitKey]*rate.Limiter
}

func (g *gate) limiter(key LimitKey) *rate.Limiter {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.m[key]
}

func (g *gate) Wait(ctx context.Context, key LimitKey) error {
	l := g.limiter(key)
	if l == nil {
		return ctx.Err()
	}
	if err := l.Wait(ctx); err != nil {
		// x/time/rate 在截止时间不足时返回非哨兵错误；统一为 ctx 错误或限流
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", contract.ErrRateLimited, err)
	}
	return nil
}

func (g *gate) Try(key LimitKey) bool {
	l := g.limiter(key)
	if l == nil {
		return true
	}
	return l.Allow()
}

// Nop 返回总是放行的闸门。
func Nop() Gate { return &gate{m: map[LimitKey]*rate.Limiter{}} }
