package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PricingConfig holds the token prices of metered operations.
type PricingConfig struct {
	ExportCost     int64  `mapstructure:"exportCost"`
	DownloadCost   int64  `mapstructure:"downloadCost"`
	TokenUnitPrice int64  `mapstructure:"tokenUnitPrice"`
	Currency       string `mapstructure:"currency"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		ExportCost:     1,
		DownloadCost:   1,
		TokenUnitPrice: 100,
		Currency:       "usd",
	}
}

type PricingConfigHolder struct {
	current atomic.Value // holds PricingConfig
}

// NewStaticPricingHolder returns a holder that never reloads.
func NewStaticPricingHolder(cfg PricingConfig) *PricingConfigHolder {
	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewPricingConfigHolder() (*PricingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/scanledger/config")
	v.AddConfigPath("/etc/scanledger")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SCANLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPricingConfig()
	v.SetDefault("pricing.exportCost", defaults.ExportCost)
	v.SetDefault("pricing.downloadCost", defaults.DownloadCost)
	v.SetDefault("pricing.tokenUnitPrice", defaults.TokenUnitPrice)
	v.SetDefault("pricing.currency", defaults.Currency)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg PricingConfig
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return nil, err
	}
	if err := validatePricingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticPricingHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PricingConfig
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Printf("[pricing-config] reload failed: %v", err)
			return
		}
		if err := validatePricingConfig(updated); err != nil {
			log.Printf("[pricing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[pricing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PricingConfigHolder) Get() PricingConfig {
	if h == nil {
		return DefaultPricingConfig()
	}
	return h.current.Load().(PricingConfig)
}

func validatePricingConfig(cfg PricingConfig) error {
	if cfg.ExportCost <= 0 {
		return errors.New("pricing.exportCost must be positive")
	}
	if cfg.DownloadCost <= 0 {
		return errors.New("pricing.downloadCost must be positive")
	}
	if cfg.TokenUnitPrice <= 0 {
		return errors.New("pricing.tokenUnitPrice must be positive")
	}
	return nil
}
