package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	OverdraftAllow = "allow"
	OverdraftClamp = "clamp"
)

// Policy holds the hot-reloadable entitlement rules.
type Policy struct {
	Overdraft      string    `mapstructure:"overdraft"`
	TopUpDays      int       `mapstructure:"topUpDays"`
	FreePlan       FreePlan  `mapstructure:"freePlan"`
	AdminAllowance Allowance `mapstructure:"adminAllowance"`
}

// FreePlan describes the grant of the reserved free rate.
type FreePlan struct {
	Tokens             int64    `mapstructure:"tokens"`
	TranscribedSeconds float64  `mapstructure:"transcribedSeconds"`
	GeneratedSeconds   float64  `mapstructure:"generatedSeconds"`
	Models             []string `mapstructure:"models"`
}

// Allowance is the starting balance of privileged accounts.
type Allowance struct {
	Tokens             int64   `mapstructure:"tokens"`
	TranscribedSeconds float64 `mapstructure:"transcribedSeconds"`
	GeneratedSeconds   float64 `mapstructure:"generatedSeconds"`
}

func DefaultPolicy() Policy {
	return Policy{
		Overdraft: OverdraftAllow,
		TopUpDays: 30,
		FreePlan: FreePlan{
			Tokens:             15000,
			TranscribedSeconds: 0,
			GeneratedSeconds:   0,
			Models:             []string{"gpt-4o"},
		},
		AdminAllowance: Allowance{
			Tokens:             1<<31 - 1,
			TranscribedSeconds: float64(1<<31 - 1),
			GeneratedSeconds:   float64(1<<31 - 1),
		},
	}
}

type PolicyHolder struct {
	current atomic.Value // holds Policy
}

// NewStaticPolicyHolder wraps a fixed policy, mostly for tests.
func NewStaticPolicyHolder(p Policy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(p)
	return holder
}

func NewPolicyHolder() (*PolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("policy")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/agrobot/config")
	v.AddConfigPath("/etc/agrobot")
	v.AddConfigPath(".")

	v.SetEnvPrefix("AGROBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPolicy()
	v.SetDefault("policy.overdraft", defaults.Overdraft)
	v.SetDefault("policy.topUpDays", defaults.TopUpDays)
	v.SetDefault("policy.freePlan.tokens", defaults.FreePlan.Tokens)
	v.SetDefault("policy.freePlan.transcribedSeconds", defaults.FreePlan.TranscribedSeconds)
	v.SetDefault("policy.freePlan.generatedSeconds", defaults.FreePlan.GeneratedSeconds)
	v.SetDefault("policy.freePlan.models", defaults.FreePlan.Models)
	v.SetDefault("policy.adminAllowance.tokens", defaults.AdminAllowance.Tokens)
	v.SetDefault("policy.adminAllowance.transcribedSeconds", defaults.AdminAllowance.TranscribedSeconds)
	v.SetDefault("policy.adminAllowance.generatedSeconds", defaults.AdminAllowance.GeneratedSeconds)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg Policy
	if err := v.UnmarshalKey("policy", &cfg); err != nil {
		return nil, err
	}
	if err := validatePolicy(cfg); err != nil {
		return nil, err
	}

	holder := &PolicyHolder{}
	holder.current.Store(cfg)

	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Policy
		if err := v.UnmarshalKey("policy", &updated); err != nil {
			log.Printf("[policy-config] reload failed: %v", err)
			return
		}
		if err := validatePolicy(updated); err != nil {
			log.Printf("[policy-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[policy-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PolicyHolder) Get() Policy {
	if h == nil {
		return DefaultPolicy()
	}
	p, ok := h.current.Load().(Policy)
	if !ok {
		return DefaultPolicy()
	}
	return p
}

func validatePolicy(cfg Policy) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Overdraft)) {
	case OverdraftAllow, OverdraftClamp:
	default:
		return errors.New("policy.overdraft must be allow or clamp")
	}
	if cfg.TopUpDays <= 0 {
		return errors.New("policy.topUpDays must be positive")
	}
	if cfg.FreePlan.Tokens < 0 {
		return errors.New("policy.freePlan.tokens cannot be negative")
	}
	return nil
}
