package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tillpoint/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keySettlementOrder = "settlement:order:%s"
	keySettlementLock  = "settlement:lock:%s"
)

var (
	ErrSettlementThrottled  = errors.New("settlement_throttled")
	ErrSettlementInProgress = errors.New("settlement_in_progress")
)

// SettlementGuard keeps two terminals from pushing the same order through the
// card gateway at once. A nil guard admits everything, and so does a guard
// whose redis is unreachable; the database row lock still decides the winner.
type SettlementGuard struct {
	bucket *TokenBucket
	lock   *orderLock
	log    *zap.Logger

	orderRate  float64
	orderBurst int
}

type GuardParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
}

func NewSettlementGuard(p GuardParams) (*SettlementGuard, error) {
	limitCfg := p.Config.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.SettlementOrderRate <= 0 || limitCfg.SettlementOrderBurst <= 0 {
		return nil, errors.New("settlement order rate limit must be positive")
	}
	if limitCfg.SettlementLockTTL <= 0 {
		return nil, errors.New("settlement lock ttl must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})
	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(context.Context) error { return client.Close() },
		})
	}

	return newSettlementGuard(client, p.Log, limitCfg), nil
}

func newSettlementGuard(client *redis.Client, log *zap.Logger, cfg config.RateLimitConfig) *SettlementGuard {
	if log == nil {
		log = zap.NewNop()
	}
	return &SettlementGuard{
		bucket:     NewTokenBucket(client),
		lock:       newOrderLock(client, cfg.SettlementLockTTL),
		log:        log.Named("settlement.guard"),
		orderRate:  cfg.SettlementOrderRate,
		orderBurst: cfg.SettlementOrderBurst,
	}
}

func (g *SettlementGuard) Enabled() bool {
	return g != nil
}

// Acquire admits one settlement for orderID. It only fails with
// ErrSettlementThrottled or ErrSettlementInProgress. The returned release
// func is never nil and must be called once the settlement finishes.
func (g *SettlementGuard) Acquire(ctx context.Context, orderID string) (func(), error) {
	noop := func() {}
	if !g.Enabled() {
		return noop, nil
	}
	orderID = strings.TrimSpace(orderID)

	result, err := g.bucket.Allow(ctx, fmt.Sprintf(keySettlementOrder, orderID), g.orderRate, g.orderBurst)
	if err != nil {
		g.log.Warn("settlement rate limit unavailable, admitting", zap.String("order_id", orderID), zap.Error(err))
		return noop, nil
	}
	if !result.Allowed {
		return noop, fmt.Errorf("%w: retry after %s", ErrSettlementThrottled, result.RetryAfter.Round(time.Millisecond))
	}

	held, ok, err := g.lock.acquire(ctx, orderID)
	if err != nil {
		g.log.Warn("settlement lock unavailable, admitting", zap.String("order_id", orderID), zap.Error(err))
		return noop, nil
	}
	if !ok {
		return noop, ErrSettlementInProgress
	}

	return func() {
		// The request context may already be cancelled.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := g.lock.releaseLease(releaseCtx, held); err != nil {
			g.log.Warn("failed to release settlement lock", zap.String("order_id", orderID), zap.Error(err))
		}
	}, nil
}
