package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ScoringConfig carries the tunable scoring policy. The health score
// weights are inherited business constants, not derived from data, so
// they live in config rather than code.
type ScoringConfig struct {
	// Platform health score weights, one per participation dimension.
	RevenueWeight        float64 `mapstructure:"revenueWeight"`
	AppointmentsWeight   float64 `mapstructure:"appointmentsWeight"`
	CustomersWeight      float64 `mapstructure:"customersWeight"`
	AIInteractionsWeight float64 `mapstructure:"aiInteractionsWeight"`

	// FutureTolerance bounds how far ahead of "now" an event timestamp
	// may be before it is treated as invalid.
	FutureTolerance time.Duration `mapstructure:"futureTolerance"`
}

func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		RevenueWeight:        0.4,
		AppointmentsWeight:   0.3,
		CustomersWeight:      0.2,
		AIInteractionsWeight: 0.1,
		FutureTolerance:      5 * time.Minute,
	}
}

type ScoringConfigHolder struct {
	current atomic.Value // holds ScoringConfig
}

func NewScoringConfigHolder() (*ScoringConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("scoring")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/pulse/config") // Volume-mounted config
	v.AddConfigPath("/etc/pulse")            // System config
	v.AddConfigPath(".")                     // Current directory (dev mode)

	v.SetEnvPrefix("PULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultScoringConfig()
		v.SetDefault("scoring.revenueWeight", defaults.RevenueWeight)
		v.SetDefault("scoring.appointmentsWeight", defaults.AppointmentsWeight)
		v.SetDefault("scoring.customersWeight", defaults.CustomersWeight)
		v.SetDefault("scoring.aiInteractionsWeight", defaults.AIInteractionsWeight)
		v.SetDefault("scoring.futureTolerance", defaults.FutureTolerance)
	}

	var cfg ScoringConfig
	if err := v.UnmarshalKey("scoring", &cfg); err != nil {
		return nil, err
	}
	if err := validateScoringConfig(cfg); err != nil {
		return nil, err
	}

	holder := &ScoringConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ScoringConfig
		if err := v.UnmarshalKey("scoring", &updated); err != nil {
			log.Printf("[scoring-config] reload failed: %v", err)
			return
		}
		if err := validateScoringConfig(updated); err != nil {
			log.Printf("[scoring-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[scoring-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *ScoringConfigHolder) Get() ScoringConfig {
	return h.current.Load().(ScoringConfig)
}

// NewStaticScoringHolder returns a holder pinned to cfg, for tests and
// embedded use.
func NewStaticScoringHolder(cfg ScoringConfig) *ScoringConfigHolder {
	holder := &ScoringConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validateScoringConfig(cfg ScoringConfig) error {
	weights := []float64{
		cfg.RevenueWeight,
		cfg.AppointmentsWeight,
		cfg.CustomersWeight,
		cfg.AIInteractionsWeight,
	}
	total := 0.0
	for _, w := range weights {
		if w < 0 {
			return errors.New("scoring weights cannot be negative")
		}
		total += w
	}
	if total <= 0 {
		return errors.New("scoring weights cannot all be zero")
	}
	if cfg.FutureTolerance < 0 {
		return errors.New("scoring.futureTolerance cannot be negative")
	}
	return nil
}
