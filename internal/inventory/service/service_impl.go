package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tillpoint/internal/clock"
	"github.com/smallbiznis/tillpoint/internal/inventory/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  domain.Repository
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	clock clock.Clock
}

func New(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("inventory.service"),
		repo:  p.Repo,
		clock: c,
	}
}

func (s *Service) Reserve(ctx context.Context, tx *gorm.DB, productID snowflake.ID, qty int64) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	if tx == nil {
		tx = s.db
	}

	now := s.clock.Now().UTC()
	ok, err := s.repo.Decrement(ctx, tx, productID, qty, now)
	if err != nil {
		return err
	}
	if !ok {
		inv, err := s.repo.FindByProductID(ctx, tx, productID)
		if err != nil {
			return err
		}
		if inv == nil {
			return domain.ErrNotFound
		}
		return domain.ErrInsufficientStock
	}

	return s.repo.MarkUnavailableIfDepleted(ctx, tx, productID, now)
}

// Release returns stock without checking the advisory maximum. A missing
// inventory row is logged and ignored.
func (s *Service) Release(ctx context.Context, tx *gorm.DB, productID snowflake.ID, qty int64) error {
	if qty <= 0 {
		return nil
	}
	if tx == nil {
		tx = s.db
	}

	ok, err := s.repo.Increment(ctx, tx, productID, qty, s.clock.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		s.log.Warn("release skipped, no inventory row",
			zap.String("product_id", productID.String()),
			zap.Int64("quantity", qty),
		)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, productID snowflake.ID) (*domain.Inventory, error) {
	inv, err := s.repo.FindByProductID(ctx, s.db, productID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, domain.ErrNotFound
	}
	return inv, nil
}
