package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// SettlementConfig carries the tunables of order pricing and payment settlement
// that operators may change without a restart.
type SettlementConfig struct {
	DefaultTaxRate string        `mapstructure:"defaultTaxRate"`
	Gateway        GatewayConfig `mapstructure:"gateway"`
}

type GatewayConfig struct {
	Provider    string        `mapstructure:"provider"`
	SuccessRate float64       `mapstructure:"successRate"`
	Latency     time.Duration `mapstructure:"latency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func DefaultSettlementConfig() SettlementConfig {
	return SettlementConfig{
		DefaultTaxRate: "0.20",
		Gateway: GatewayConfig{
			Provider:    "simulated",
			SuccessRate: 0.95,
			Latency:     time.Second,
			Timeout:     5 * time.Second,
		},
	}
}

// TaxRate parses DefaultTaxRate. Validation guarantees it parses.
func (c SettlementConfig) TaxRate() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.DefaultTaxRate))
	if err != nil {
		return decimal.Zero
	}
	return rate
}

type SettlementConfigHolder struct {
	current atomic.Value // holds SettlementConfig
}

// NewStaticSettlementConfigHolder returns a holder that never reloads.
func NewStaticSettlementConfigHolder(cfg SettlementConfig) *SettlementConfigHolder {
	holder := &SettlementConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewSettlementConfigHolder() (*SettlementConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("settlement")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/tillpoint/config")
	v.AddConfigPath("/etc/tillpoint")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TILLPOINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultSettlementConfig()
	v.SetDefault("settlement.defaultTaxRate", defaults.DefaultTaxRate)
	v.SetDefault("settlement.gateway.provider", defaults.Gateway.Provider)
	v.SetDefault("settlement.gateway.successRate", defaults.Gateway.SuccessRate)
	v.SetDefault("settlement.gateway.latency", defaults.Gateway.Latency)
	v.SetDefault("settlement.gateway.timeout", defaults.Gateway.Timeout)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg SettlementConfig
	if err := v.UnmarshalKey("settlement", &cfg); err != nil {
		return nil, err
	}
	if err := ValidateSettlementConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticSettlementConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated SettlementConfig
		if err := v.UnmarshalKey("settlement", &updated); err != nil {
			log.Printf("[settlement-config] reload failed: %v", err)
			return
		}
		if err := ValidateSettlementConfig(updated); err != nil {
			log.Printf("[settlement-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[settlement-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *SettlementConfigHolder) Get() SettlementConfig {
	return h.current.Load().(SettlementConfig)
}

func ValidateSettlementConfig(cfg SettlementConfig) error {
	rate, err := decimal.NewFromString(strings.TrimSpace(cfg.DefaultTaxRate))
	if err != nil {
		return errors.New("settlement.defaultTaxRate must be a decimal")
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return errors.New("settlement.defaultTaxRate must be between 0 and 1")
	}
	if strings.TrimSpace(cfg.Gateway.Provider) == "" {
		return errors.New("settlement.gateway.provider cannot be empty")
	}
	if cfg.Gateway.SuccessRate < 0 || cfg.Gateway.SuccessRate > 1 {
		return errors.New("settlement.gateway.successRate must be between 0 and 1")
	}
	if cfg.Gateway.Latency < 0 {
		return errors.New("settlement.gateway.latency cannot be negative")
	}
	if cfg.Gateway.Timeout <= 0 {
		return errors.New("settlement.gateway.timeout must be positive")
	}
	return nil
}
