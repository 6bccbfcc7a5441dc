package logger

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/billingledger/pkg/tenantctx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)
	return logs
}

func TestTraceLogsSlowQueries(t *testing.T) {
	logs := observe(t)

	l := NewGormLogger(GormLoggerConfig{Level: gormlogger.Warn, SlowThreshold: time.Millisecond})
	fc := func() (string, int64) { return "UPDATE invoices SET status = 'paid' WHERE id = 1", 1 }

	ctx := tenantctx.WithTenantID(context.Background(), 1001)
	l.Trace(ctx, time.Now().Add(-time.Second), fc, nil)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	require.Equal(t, zap.WarnLevel, entry.Level)
	fields := entry.ContextMap()
	require.Equal(t, "UPDATE", fields["operation"])
	require.Equal(t, "invoices", fields["table"])
	require.Equal(t, "1001", fields["tenant_id"])
	require.Equal(t, false, fields["locking"])
}

func TestTraceUsesLockThresholdForRowLocks(t *testing.T) {
	logs := observe(t)

	l := NewGormLogger(GormLoggerConfig{
		Level:             gormlogger.Warn,
		SlowThreshold:     time.Hour,
		LockSlowThreshold: time.Millisecond,
	})
	locking := func() (string, int64) { return "SELECT * FROM credit_notes WHERE id = 7 FOR UPDATE", 1 }
	plain := func() (string, int64) { return "SELECT * FROM credit_notes WHERE id = 7", 1 }

	l.Trace(context.Background(), time.Now().Add(-time.Second), plain, nil)
	require.Equal(t, 0, logs.Len())

	l.Trace(context.Background(), time.Now().Add(-time.Second), locking, nil)
	require.Equal(t, 1, logs.Len())
	require.Equal(t, true, logs.All()[0].ContextMap()["locking"])
}

func TestTraceIgnoresRecordNotFound(t *testing.T) {
	logs := observe(t)

	l := NewGormLogger(DefaultGormLoggerConfig())
	fc := func() (string, int64) { return "SELECT * FROM invoices", 0 }

	l.Trace(context.Background(), time.Now(), fc, gormlogger.ErrRecordNotFound)
	require.Equal(t, 0, logs.Len())
}

func TestGormLoggerConfigFor(t *testing.T) {
	require.Equal(t, gormlogger.Info, GormLoggerConfigFor("DEBUG").Level)
	require.Equal(t, gormlogger.Error, GormLoggerConfigFor("error").Level)
	require.Equal(t, gormlogger.Warn, GormLoggerConfigFor("info").Level)
}

func TestSQLHelpers(t *testing.T) {
	require.Equal(t, "INSERT", operationFromSQL("WITH x AS (VALUES 1) INSERT INTO t SELECT * FROM x"))
	require.Equal(t, "UNKNOWN", operationFromSQL(""))
	require.Equal(t, "sequences", tableFromSQL(`INSERT INTO "sequences" ("tenant_id") VALUES (1) ON CONFLICT DO NOTHING`))
	require.Equal(t, "", tableFromSQL("SELECT 1"))
	require.True(t, isLocking("insert into sequences values (1) on conflict (tenant_id) do update set current_value = 2"))
}
