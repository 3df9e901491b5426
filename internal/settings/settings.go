// Package settings exposes runtime-tunable billing values. Fee rates, payout
// thresholds and payout cadence are read at call time, never compiled in.
package settings

import (
	"strings"
	"sync"

	"github.com/carepayhq/carepay/internal/config"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Billing is a point-in-time snapshot of the tunable billing values.
type Billing struct {
	DomesticFeeBps      int64
	InternationalFeeBps int64
	FixedFeeCents       int64
	DomesticCountry     string

	MinPayoutCents         int64
	DefaultPayoutFrequency string
	DefaultPayoutDay       int

	RecurringMaxAttempts int
}

// Service serves billing settings snapshots. Values reload when the backing
// file changes, so Current must be called per operation, not cached.
type Service struct {
	mu      sync.RWMutex
	current Billing
	log     *zap.Logger
}

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

func defaults() Billing {
	return Billing{
		DomesticFeeBps:         290,
		InternationalFeeBps:    490,
		FixedFeeCents:          30,
		DomesticCountry:        "US",
		MinPayoutCents:         2500,
		DefaultPayoutFrequency: "weekly",
		DefaultPayoutDay:       5,
		RecurringMaxAttempts:   3,
	}
}

func New(p Params) *Service {
	svc := &Service{
		current: defaults(),
		log:     p.Log.Named("settings"),
	}

	v := viper.New()
	v.SetConfigFile(p.Cfg.SettingsFile)
	v.SetEnvPrefix("BILLING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		svc.log.Warn("billing settings file unavailable, using defaults",
			zap.String("file", p.Cfg.SettingsFile),
			zap.Error(err),
		)
	} else {
		svc.apply(v)
		v.OnConfigChange(func(_ fsnotify.Event) {
			svc.apply(v)
			svc.log.Info("billing settings reloaded", zap.String("file", p.Cfg.SettingsFile))
		})
		v.WatchConfig()
	}

	return svc
}

func (s *Service) apply(v *viper.Viper) {
	next := defaults()
	if v.IsSet("fees.domestic_bps") {
		next.DomesticFeeBps = v.GetInt64("fees.domestic_bps")
	}
	if v.IsSet("fees.international_bps") {
		next.InternationalFeeBps = v.GetInt64("fees.international_bps")
	}
	if v.IsSet("fees.fixed_cents") {
		next.FixedFeeCents = v.GetInt64("fees.fixed_cents")
	}
	if v.IsSet("fees.domestic_country") {
		next.DomesticCountry = strings.ToUpper(strings.TrimSpace(v.GetString("fees.domestic_country")))
	}
	if v.IsSet("payout.min_cents") {
		next.MinPayoutCents = v.GetInt64("payout.min_cents")
	}
	if v.IsSet("payout.default_frequency") {
		next.DefaultPayoutFrequency = strings.ToLower(strings.TrimSpace(v.GetString("payout.default_frequency")))
	}
	if v.IsSet("payout.default_day") {
		next.DefaultPayoutDay = v.GetInt("payout.default_day")
	}
	if v.IsSet("recurring.max_attempts") {
		next.RecurringMaxAttempts = v.GetInt("recurring.max_attempts")
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
}

// Current returns the live settings snapshot.
func (s *Service) Current() Billing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// NewStatic builds a Service pinned to the given values. Test helper.
func NewStatic(b Billing) *Service {
	return &Service{current: b, log: zap.NewNop()}
}

var Module = fx.Module("settings",
	fx.Provide(New),
)
