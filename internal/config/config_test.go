package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("DATABASE_TYPE", "sqlite")
	t.Setenv("SCHEDULER_RUN_INTERVAL", "30s")
	t.Setenv("SCHEDULER_BATCH_SIZE", "7")
	t.Setenv("SEQUENCE_MAX_RETRIES", "not-a-number")

	cfg := Load()
	require.Equal(t, "sqlite", cfg.DBType)
	require.Equal(t, 30*time.Second, cfg.Scheduler.RunInterval)
	require.Equal(t, 7, cfg.Scheduler.BatchSize)
	require.Equal(t, 5, cfg.Sequence.MaxRetries)
}

func TestNumberRuleForTenant(t *testing.T) {
	cfg := DefaultNumberingConfig()
	cfg.Tenants = map[string]NumberRule{
		"42": {InvoicePrefix: "ACME-"},
	}

	rule := cfg.RuleFor("42")
	require.Equal(t, "ACME-", rule.InvoicePrefix)
	require.Equal(t, DefaultCreditNotePrefix, rule.CreditNotePrefix)
	require.Equal(t, DefaultNumberPadding, rule.Padding)

	require.Equal(t, cfg.Defaults, cfg.RuleFor("99"))
}

func TestStaticHolderRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultNumberingConfig()
	cfg.Defaults.Padding = 0

	_, err := NewStaticNumberingConfigHolder(cfg)
	require.Error(t, err)
}

func TestNumberingHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`numbering:
  defaults:
    invoicePrefix: "BILL-"
    creditNotePrefix: "CR-"
    padding: 6
  tenants:
    "100":
      invoicePrefix: "T100-"
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "numbering.yml"), content, 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	holder, err := NewNumberingConfigHolder(zap.NewNop())
	require.NoError(t, err)

	cfg := holder.Get()
	require.Equal(t, "BILL-", cfg.Defaults.InvoicePrefix)
	require.Equal(t, 6, cfg.Defaults.Padding)
	require.Equal(t, "T100-", cfg.RuleFor("100").InvoicePrefix)
	require.Equal(t, "CR-", cfg.RuleFor("100").CreditNotePrefix)
}
