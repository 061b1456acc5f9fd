// Package simulated is a stand-in card gateway that approves most charges
// after an artificial delay.
package simulated

import (
	"context"
	"crypto/rand"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/tillpoint/internal/payment/domain"
)

const (
	Provider       = "simulated"
	DeclineMessage = "Payment declined. Please try again."
)

type Factory struct {
	source mathrand.Source
}

func NewFactory() *Factory {
	return &Factory{}
}

// NewFactoryWithSource fixes the randomness, for tests. Gateways built by
// the factory share the source.
func NewFactoryWithSource(source mathrand.Source) *Factory {
	return &Factory{source: &lockedSource{src: source}}
}

func (f *Factory) Provider() string {
	return Provider
}

func (f *Factory) NewGateway(cfg domain.GatewayConfig) (domain.Gateway, error) {
	if cfg.SuccessRate < 0 || cfg.SuccessRate > 1 || cfg.Latency < 0 {
		return nil, domain.ErrInvalidGatewayConfig
	}
	source := f.source
	if source == nil {
		source = mathrand.NewSource(time.Now().UnixNano())
	}
	return &Gateway{
		successRate: cfg.SuccessRate,
		latency:     cfg.Latency,
		rnd:         mathrand.New(source),
	}, nil
}

type Gateway struct {
	successRate float64
	latency     time.Duration

	mu  sync.Mutex
	rnd *mathrand.Rand
}

func (g *Gateway) Charge(ctx context.Context, req domain.ChargeRequest) (domain.ChargeResult, error) {
	if g.latency > 0 {
		timer := time.NewTimer(g.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return domain.ChargeResult{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return domain.ChargeResult{}, err
	}

	if req.Amount <= 0 {
		return domain.ChargeResult{Approved: false, Message: DeclineMessage}, nil
	}

	g.mu.Lock()
	roll := g.rnd.Float64()
	g.mu.Unlock()

	if roll >= g.successRate {
		return domain.ChargeResult{Approved: false, Message: DeclineMessage}, nil
	}

	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return domain.ChargeResult{}, err
	}
	return domain.ChargeResult{
		Approved:      true,
		TransactionID: "TXN-" + id.String(),
	}, nil
}

func (g *Gateway) Void(ctx context.Context, transactionID string) error {
	if strings.TrimSpace(transactionID) == "" {
		return nil
	}
	return ctx.Err()
}

type lockedSource struct {
	mu  sync.Mutex
	src mathrand.Source
}

func (s *lockedSource) Int63() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Int63()
}

func (s *lockedSource) Seed(seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src.Seed(seed)
}
