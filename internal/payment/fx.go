package payment

import (
	"github.com/smallbiznis/tillpoint/internal/payment/adapters"
	"github.com/smallbiznis/tillpoint/internal/payment/adapters/simulated"
	"github.com/smallbiznis/tillpoint/internal/payment/repository"
	paymentservice "github.com/smallbiznis/tillpoint/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			simulated.NewFactory(),
		)
	}),
	fx.Provide(paymentservice.NewService),
)
