package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// NETSConfig carries the settlement parameters used when assembling a
// credit-transfer batch for the NETS rail.
type NETSConfig struct {
	DebtorAccount        string `mapstructure:"debtorAccount"`
	DebtorName           string `mapstructure:"debtorName"`
	ExecutionOffsetDays  int    `mapstructure:"executionOffsetDays"`
	MaxBatchSize         int    `mapstructure:"maxBatchSize"`
	RenderQueueKey       string `mapstructure:"renderQueueKey"`
	SentFileStatusOnSend string `mapstructure:"sentFileStatusOnSend"`
}

func DefaultNETSConfig() NETSConfig {
	return NETSConfig{
		DebtorAccount:        "NO9386011117947",
		DebtorName:           "Leasepay Settlement AS",
		ExecutionOffsetDays:  1,
		MaxBatchSize:         500,
		RenderQueueKey:       "leasepay:nets:render",
		SentFileStatusOnSend: "sent",
	}
}

// NETSConfigHolder exposes the current settlement config and hot-reloads it
// when the mounted config file changes.
type NETSConfigHolder struct {
	current atomic.Value // holds NETSConfig
}

func NewNETSConfigHolder() (*NETSConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("nets")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/leasepay/config") // Volume-mounted config
	v.AddConfigPath("/etc/leasepay")            // System config
	v.AddConfigPath(".")                        // Current directory (dev mode)

	v.SetEnvPrefix("LEASEPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultNETSConfig()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		v.SetDefault("nets.debtorAccount", defaults.DebtorAccount)
		v.SetDefault("nets.debtorName", defaults.DebtorName)
		v.SetDefault("nets.executionOffsetDays", defaults.ExecutionOffsetDays)
		v.SetDefault("nets.maxBatchSize", defaults.MaxBatchSize)
		v.SetDefault("nets.renderQueueKey", defaults.RenderQueueKey)
		v.SetDefault("nets.sentFileStatusOnSend", defaults.SentFileStatusOnSend)
	}

	var cfg NETSConfig
	if err := v.UnmarshalKey("nets", &cfg); err != nil {
		return nil, err
	}
	if err := validateNETSConfig(cfg); err != nil {
		return nil, err
	}

	holder := &NETSConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated NETSConfig
		if err := v.UnmarshalKey("nets", &updated); err != nil {
			log.Printf("[nets-config] reload failed: %v", err)
			return
		}
		if err := validateNETSConfig(updated); err != nil {
			log.Printf("[nets-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[nets-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// Current returns the active settlement config.
func (h *NETSConfigHolder) Current() NETSConfig {
	if h == nil {
		return DefaultNETSConfig()
	}
	cfg, ok := h.current.Load().(NETSConfig)
	if !ok {
		return DefaultNETSConfig()
	}
	return cfg
}

// Store replaces the active config. Intended for tests.
func (h *NETSConfigHolder) Store(cfg NETSConfig) {
	h.current.Store(cfg)
}

func validateNETSConfig(cfg NETSConfig) error {
	if strings.TrimSpace(cfg.DebtorAccount) == "" {
		return errors.New("nets config: debtorAccount is required")
	}
	if cfg.ExecutionOffsetDays < 0 {
		return errors.New("nets config: executionOffsetDays must not be negative")
	}
	if cfg.MaxBatchSize <= 0 {
		return errors.New("nets config: maxBatchSize must be positive")
	}
	if strings.TrimSpace(cfg.RenderQueueKey) == "" {
		return errors.New("nets config: renderQueueKey is required")
	}
	return nil
}
