package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tillpoint/internal/config"
	"github.com/smallbiznis/tillpoint/internal/product/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Repo       domain.Repository
	Settlement *config.SettlementConfigHolder
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	repo       domain.Repository
	settlement *config.SettlementConfigHolder
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("product.service"),
		repo:       p.Repo,
		settlement: p.Settlement,
	}
}

func (s *Service) GetPriceAndTax(ctx context.Context, tx *gorm.DB, productID snowflake.ID) (*domain.PriceAndTax, error) {
	if productID == 0 {
		return nil, domain.ErrNotFound
	}
	if tx == nil {
		tx = s.db
	}

	product, err := s.repo.FindByID(ctx, tx, productID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, domain.ErrNotFound
	}

	taxRate := product.TaxRate.Decimal
	if !product.TaxRate.Valid {
		taxRate = s.defaultTaxRate()
	}

	return &domain.PriceAndTax{
		ProductID:   product.ID,
		Name:        product.Name,
		Price:       product.SellingPrice,
		TaxRate:     taxRate,
		IsAvailable: product.IsAvailable,
	}, nil
}

func (s *Service) defaultTaxRate() decimal.Decimal {
	if s.settlement == nil {
		return config.DefaultSettlementConfig().TaxRate()
	}
	return s.settlement.Get().TaxRate()
}
