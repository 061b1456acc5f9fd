package pdf

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/tillpoint/internal/config"
	paymentdomain "github.com/smallbiznis/tillpoint/internal/payment/domain"
	"go.uber.org/fx"
)

type Provider interface {
	// RenderReceipt lays out a paid payment with its order lines.
	RenderReceipt(ctx context.Context, receipt *paymentdomain.Receipt) ([]byte, error)
}

type Params struct {
	fx.In

	Config config.Config
}

type PDFProvider struct {
	businessName string
	currency     string
	location     *time.Location
}

func New(p Params) Provider {
	name := strings.TrimSpace(p.Config.AppName)
	if name == "" {
		name = "Tillpoint"
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Config.Currency))
	if currency == "" {
		currency = "ALL"
	}
	return &PDFProvider{
		businessName: name,
		currency:     currency,
		location:     p.Config.Location(),
	}
}

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)
