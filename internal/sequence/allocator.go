package sequence

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/smallbiznis/billingledger/internal/billingerr"
	"github.com/smallbiznis/billingledger/internal/clock"
	"github.com/smallbiznis/billingledger/internal/config"
	"github.com/smallbiznis/billingledger/internal/observability/metrics"
	"github.com/smallbiznis/billingledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const upsertNextSQL = `
INSERT INTO sequences (tenant_id, scope, year, prefix, current_value, created_at, updated_at)
VALUES (?, ?, ?, ?, 1, ?, ?)
ON CONFLICT (tenant_id, scope, year)
DO UPDATE SET current_value = sequences.current_value + 1,
	prefix = COALESCE(NULLIF(EXCLUDED.prefix, ''), sequences.prefix),
	updated_at = EXCLUDED.updated_at
RETURNING current_value`

const upsertNextMySQL = `
INSERT INTO sequences (tenant_id, scope, year, prefix, current_value, created_at, updated_at)
VALUES (?, ?, ?, ?, LAST_INSERT_ID(1), ?, ?)
ON DUPLICATE KEY UPDATE current_value = LAST_INSERT_ID(current_value + 1),
	prefix = COALESCE(NULLIF(VALUES(prefix), ''), prefix),
	updated_at = VALUES(updated_at)`

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Config  config.Config
	Clock   clock.Clock
	Metrics *metrics.LedgerMetrics `optional:"true"`
}

// Allocator hands out strictly increasing values per key. Every increment is a
// single atomic statement, so concurrent callers never observe the same value.
type Allocator struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     config.SequenceConfig
	clock   clock.Clock
	metrics *metrics.LedgerMetrics
}

func NewAllocator(p Params) *Allocator {
	cfg := p.Config.Sequence
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 10 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 500 * time.Millisecond
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Allocator{
		db:      p.DB,
		log:     p.Log.Named("sequence.allocator"),
		cfg:     cfg,
		clock:   clk,
		metrics: p.Metrics,
	}
}

// Next allocates in its own transaction, retrying transient storage failures.
// A value is returned only after its increment committed.
func (a *Allocator) Next(ctx context.Context, key Key) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.cfg.InitialBackoff
	policy.MaxInterval = a.cfg.MaxBackoff
	policy.MaxElapsedTime = 0

	attempt := 0
	value, err := backoff.RetryWithData(func() (int64, error) {
		attempt++
		var next int64
		err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			next, err = a.increment(ctx, tx, key)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return 0, backoff.Permanent(ctx.Err())
			}
			a.metrics.IncSequence(string(key.Scope), metrics.SequenceOutcomeRetried)
			a.log.Warn("sequence allocation attempt failed",
				zap.String("key", key.String()),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return 0, err
		}
		return next, nil
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(a.cfg.MaxRetries)), ctx))
	if err != nil {
		a.metrics.IncSequence(string(key.Scope), metrics.SequenceOutcomeFailed)
		return 0, a.failure(key, err)
	}

	a.metrics.IncSequence(string(key.Scope), metrics.SequenceOutcomeAllocated)
	return value, nil
}

// NextTx allocates inside the caller's transaction so the increment commits or
// rolls back together with the document that consumes it. It never retries:
// a failed statement aborts the surrounding transaction on postgres.
func (a *Allocator) NextTx(ctx context.Context, tx *gorm.DB, key Key) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	value, err := a.increment(ctx, tx, key)
	if err != nil {
		a.metrics.IncSequence(string(key.Scope), metrics.SequenceOutcomeFailed)
		return 0, a.failure(key, err)
	}
	a.metrics.IncSequence(string(key.Scope), metrics.SequenceOutcomeAllocated)
	return value, nil
}

// Current returns the last committed value, 0 when nothing was allocated yet.
func (a *Allocator) Current(ctx context.Context, key Key) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	var seq Sequence
	err := a.db.WithContext(ctx).
		Where("tenant_id = ? AND scope = ? AND year = ?", key.TenantID, key.Scope, key.Year).
		Take(&seq).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return seq.CurrentValue, nil
}

func (a *Allocator) increment(ctx context.Context, tx *gorm.DB, key Key) (int64, error) {
	now := a.clock.Now().UTC()
	conn := tx.WithContext(ctx)

	if conn.Dialector.Name() == db.DialectMySQL {
		if err := conn.Exec(upsertNextMySQL, key.TenantID, key.Scope, key.Year, key.Prefix, now, now).Error; err != nil {
			return 0, err
		}
		var value int64
		if err := conn.Raw("SELECT LAST_INSERT_ID()").Scan(&value).Error; err != nil {
			return 0, err
		}
		return value, nil
	}

	var value int64
	if err := conn.Raw(upsertNextSQL, key.TenantID, key.Scope, key.Year, key.Prefix, now, now).Scan(&value).Error; err != nil {
		return 0, err
	}
	if value <= 0 {
		return 0, errors.Newf("sequence %s returned non-positive value %d", key, value)
	}
	return value, nil
}

func (a *Allocator) failure(key Key, err error) error {
	if errors.Is(err, billingerr.ErrValidationFailed) {
		return err
	}
	return billingerr.WithError(errors.Wrapf(err, "allocate %s", key)).
		WithHint("Document numbering is temporarily unavailable, retry the operation").
		Mark(ErrAllocationFailed)
}
