package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/billingledger/internal/billingerr"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", context.DeadlineExceeded, SchedulerJobReasonDeadlineExceeded},
		{"db_lock_timeout", &pgconn.PgError{Code: "55P03"}, SchedulerJobReasonDBLockTimeout},
		{"serialization_failure", &pgconn.PgError{Code: "40001"}, SchedulerJobReasonSerializationFailure},
		{"unique_violation", gorm.ErrDuplicatedKey, SchedulerJobReasonUniqueViolation},
		{"partial", fmt.Errorf("2 templates: %w", ErrPartialFailure), SchedulerJobReasonPartialFailure},
		{"unknown", errors.New("boom"), SchedulerJobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ClassifySchedulerJobReason(tc.err))
		})
	}
}

func TestAddBatchProcessed(t *testing.T) {
	m := NewSchedulerMetrics(prometheus.NewRegistry(), Config{Environment: "test"})

	m.AddBatchProcessed("recurring_invoices", LockResourceRecurringTemplates, 3)
	m.AddBatchProcessed("recurring_invoices", LockResourceRecurringTemplates, 0)

	got := testutil.ToFloat64(m.batchProcessed.WithLabelValues("recurring_invoices", LockResourceRecurringTemplates))
	require.Equal(t, float64(3), got)
}

func TestLedgerMetricsCounters(t *testing.T) {
	m := NewLedgerMetrics(prometheus.NewRegistry(), Config{})

	m.IncSettlement(SettlementPayment)
	m.IncSettlement(SettlementPayment)
	m.IncRejection(SettlementRefund, "")

	require.Equal(t, float64(2), testutil.ToFloat64(m.settlements.WithLabelValues(SettlementPayment)))
	require.Equal(t, float64(1), testutil.ToFloat64(m.rejections.WithLabelValues(SettlementRefund, "unknown")))

	var nilMetrics *LedgerMetrics
	require.NotPanics(t, func() { nilMetrics.IncInvoice("paid") })
	require.NotPanics(t, func() { nilMetrics.ObserveSettlement(SettlementCredit, nil) })
}

func TestObserveSettlementSkipsInfrastructureErrors(t *testing.T) {
	m := NewLedgerMetrics(prometheus.NewRegistry(), Config{})

	m.ObserveSettlement(SettlementCredit, nil)
	m.ObserveSettlement(SettlementCredit, fmt.Errorf("apply: %w", billingerr.ErrInsufficientCredit))
	m.ObserveSettlement(SettlementCredit, errors.New("connection reset"))

	require.Equal(t, float64(1), testutil.ToFloat64(m.settlements.WithLabelValues(SettlementCredit)))
	require.Equal(t, float64(1), testutil.ToFloat64(m.rejections.WithLabelValues(SettlementCredit, billingerr.ErrInsufficientCredit.Error())))
	require.Equal(t, 1, testutil.CollectAndCount(m.rejections))
}
