package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettlementConfigIsValid(t *testing.T) {
	cfg := DefaultSettlementConfig()
	require.NoError(t, ValidateSettlementConfig(cfg))
	assert.Equal(t, "0.2", cfg.TaxRate().String())
}

func TestValidateSettlementConfigRejectsBadValues(t *testing.T) {
	cases := map[string]func(*SettlementConfig){
		"tax rate not decimal": func(c *SettlementConfig) { c.DefaultTaxRate = "twenty" },
		"tax rate above one":   func(c *SettlementConfig) { c.DefaultTaxRate = "1.5" },
		"negative tax rate":    func(c *SettlementConfig) { c.DefaultTaxRate = "-0.1" },
		"empty provider":       func(c *SettlementConfig) { c.Gateway.Provider = " " },
		"success rate":         func(c *SettlementConfig) { c.Gateway.SuccessRate = 1.2 },
		"negative latency":     func(c *SettlementConfig) { c.Gateway.Latency = -time.Second },
		"zero timeout":         func(c *SettlementConfig) { c.Gateway.Timeout = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultSettlementConfig()
			mutate(&cfg)
			assert.Error(t, ValidateSettlementConfig(cfg))
		})
	}
}

func TestStaticHolderReturnsStoredConfig(t *testing.T) {
	cfg := DefaultSettlementConfig()
	cfg.Gateway.SuccessRate = 1
	holder := NewStaticSettlementConfigHolder(cfg)
	assert.Equal(t, 1.0, holder.Get().Gateway.SuccessRate)
}

func TestLocationFallsBackToUTC(t *testing.T) {
	assert.Equal(t, time.UTC, Config{BusinessTimezone: "Not/AZone"}.Location())
	assert.Equal(t, time.UTC, Config{}.Location())
}
