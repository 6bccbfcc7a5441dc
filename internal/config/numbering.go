package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	DefaultInvoicePrefix    = "INV-"
	DefaultCreditNotePrefix = "CN-"
	DefaultNumberPadding    = 5
	maxNumberPadding        = 12
)

// NumberRule describes how document numbers are rendered for a tenant.
type NumberRule struct {
	InvoicePrefix    string `mapstructure:"invoicePrefix"`
	CreditNotePrefix string `mapstructure:"creditNotePrefix"`
	Padding          int    `mapstructure:"padding"`
}

// NumberingConfig holds default numbering plus per-tenant overrides keyed by tenant id.
type NumberingConfig struct {
	Defaults NumberRule            `mapstructure:"defaults"`
	Tenants  map[string]NumberRule `mapstructure:"tenants"`
}

func DefaultNumberingConfig() NumberingConfig {
	return NumberingConfig{
		Defaults: NumberRule{
			InvoicePrefix:    DefaultInvoicePrefix,
			CreditNotePrefix: DefaultCreditNotePrefix,
			Padding:          DefaultNumberPadding,
		},
	}
}

// RuleFor merges the tenant override over the defaults.
func (c NumberingConfig) RuleFor(tenantID string) NumberRule {
	rule := c.Defaults
	override, ok := c.Tenants[strings.ToLower(strings.TrimSpace(tenantID))]
	if !ok {
		return rule
	}
	if override.InvoicePrefix != "" {
		rule.InvoicePrefix = override.InvoicePrefix
	}
	if override.CreditNotePrefix != "" {
		rule.CreditNotePrefix = override.CreditNotePrefix
	}
	if override.Padding > 0 {
		rule.Padding = override.Padding
	}
	return rule
}

type NumberingConfigHolder struct {
	current atomic.Value // holds NumberingConfig
}

// NewStaticNumberingConfigHolder wraps a fixed config without file watching.
func NewStaticNumberingConfigHolder(cfg NumberingConfig) (*NumberingConfigHolder, error) {
	if err := validateNumberingConfig(cfg); err != nil {
		return nil, err
	}
	holder := &NumberingConfigHolder{}
	holder.current.Store(cfg)
	return holder, nil
}

func NewNumberingConfigHolder(log *zap.Logger) (*NumberingConfigHolder, error) {
	log = log.Named("numbering-config")
	v := viper.New()

	v.SetConfigName("numbering")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/billingledger")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BILLINGLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultNumberingConfig()
	v.SetDefault("numbering.defaults.invoicePrefix", defaults.Defaults.InvoicePrefix)
	v.SetDefault("numbering.defaults.creditNotePrefix", defaults.Defaults.CreditNotePrefix)
	v.SetDefault("numbering.defaults.padding", defaults.Defaults.Padding)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	var cfg NumberingConfig
	if err := v.UnmarshalKey("numbering", &cfg); err != nil {
		return nil, err
	}
	if err := validateNumberingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &NumberingConfigHolder{}
	holder.current.Store(cfg)

	if !fileFound {
		log.Info("numbering config file not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated NumberingConfig
		if err := v.UnmarshalKey("numbering", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validateNumberingConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *NumberingConfigHolder) Get() NumberingConfig {
	return h.current.Load().(NumberingConfig)
}

func validateNumberingConfig(cfg NumberingConfig) error {
	if strings.TrimSpace(cfg.Defaults.InvoicePrefix) == "" {
		return errors.New("numbering.defaults.invoicePrefix cannot be empty")
	}
	if strings.TrimSpace(cfg.Defaults.CreditNotePrefix) == "" {
		return errors.New("numbering.defaults.creditNotePrefix cannot be empty")
	}
	if cfg.Defaults.Padding < 1 || cfg.Defaults.Padding > maxNumberPadding {
		return fmt.Errorf("numbering.defaults.padding must be between 1 and %d", maxNumberPadding)
	}
	for tenant, rule := range cfg.Tenants {
		if rule.Padding < 0 || rule.Padding > maxNumberPadding {
			return fmt.Errorf("numbering.tenants.%s.padding must be between 0 and %d", tenant, maxNumberPadding)
		}
	}
	return nil
}
