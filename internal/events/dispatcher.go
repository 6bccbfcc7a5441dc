package events

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	obsmetrics "github.com/smallbiznis/billingledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultDispatchLimit = 100
	// DefaultNotifyTimeout bounds a single notifier call.
	DefaultNotifyTimeout = 10 * time.Second
	// MaxDeliveryAttempts stops retrying an event after this many failures.
	MaxDeliveryAttempts = 10
)

// Notifier delivers a committed billing event to the outside world.
type Notifier interface {
	Notify(ctx context.Context, event Delivery) error
}

// Delivery is an outbox row handed to the notifier.
type Delivery struct {
	ID       snowflake.ID
	TenantID snowflake.ID
	Type     string
	Payload  datatypes.JSONMap
	Attempt  int
}

// DispatchResult counts what one dispatch pass did.
type DispatchResult struct {
	Delivered int
	Failed    int
}

type DispatcherParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Outbox   *Outbox
	Notifier Notifier
	Metrics  *obsmetrics.LedgerMetrics `optional:"true"`
}

// Dispatcher moves outbox rows to the notifier. Delivery failures are recorded
// on the row and never touch ledger state.
type Dispatcher struct {
	db       *gorm.DB
	log      *zap.Logger
	outbox   *Outbox
	notifier Notifier
	metrics  *obsmetrics.LedgerMetrics

	notifyTimeout time.Duration
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	return &Dispatcher{
		db:       p.DB,
		log:      p.Log.Named("events.dispatcher"),
		outbox:   p.Outbox,
		notifier: p.Notifier,
		metrics:  p.Metrics,

		notifyTimeout: DefaultNotifyTimeout,
	}
}

// DispatchPending delivers up to limit unpublished events. The claim commits
// before any notifier call, so a slow endpoint never holds outbox row locks;
// each outcome is recorded in its own short transaction.
func (d *Dispatcher) DispatchPending(ctx context.Context, limit int) (DispatchResult, error) {
	if limit <= 0 {
		limit = defaultDispatchLimit
	}

	var rows []OutboxEvent
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		rows, err = d.outbox.claimPendingTx(ctx, tx, MaxDeliveryAttempts, limit, d.leaseFor(limit))
		return err
	})
	if err != nil {
		return DispatchResult{}, err
	}

	var result DispatchResult
	for _, row := range rows {
		delivery := Delivery{
			ID:       row.ID,
			TenantID: row.TenantID,
			Type:     row.EventType,
			Payload:  row.Payload,
			Attempt:  row.Attempts + 1,
		}
		if notifyErr := d.notify(ctx, delivery); notifyErr != nil {
			d.log.Warn("billing event delivery failed",
				zap.String("event_id", row.ID.String()),
				zap.String("event_type", row.EventType),
				zap.Int("attempt", delivery.Attempt),
				zap.Error(notifyErr),
			)
			if err := d.outbox.markFailedTx(ctx, d.db, row.ID, notifyErr); err != nil {
				return result, err
			}
			d.metrics.IncOutboxDispatch(row.EventType, obsmetrics.OutboxStatusFailed)
			result.Failed++
			continue
		}
		if err := d.outbox.markPublishedTx(ctx, d.db, row.ID); err != nil {
			return result, err
		}
		d.metrics.IncOutboxDispatch(row.EventType, obsmetrics.OutboxStatusPublished)
		result.Delivered++
	}
	return result, nil
}

func (d *Dispatcher) notify(ctx context.Context, delivery Delivery) error {
	notifyCtx, cancel := context.WithTimeout(ctx, d.notifyTimeout)
	defer cancel()
	return d.notifier.Notify(notifyCtx, delivery)
}

// leaseFor covers a full batch of timed-out notifications; a crashed
// dispatcher's claims expire after it.
func (d *Dispatcher) leaseFor(limit int) time.Duration {
	return time.Duration(limit+1) * d.notifyTimeout
}
