package events

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/smallbiznis/billingledger/internal/clock"
	"github.com/smallbiznis/billingledger/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrMissingTransaction = errors.New("missing_transaction")
	ErrOutboxUnavailable  = errors.New("outbox_unavailable")
	ErrInvalidTenant      = errors.New("outbox_invalid_tenant")
	ErrMissingEventType   = errors.New("missing_event_type")
)

// Outbox inserts billing events into the billing_events table.
type Outbox struct {
	db    *gorm.DB
	genID *snowflake.Node
	clock clock.Clock
}

func NewOutbox(conn *gorm.DB, genID *snowflake.Node, clk clock.Clock) *Outbox {
	return &Outbox{db: conn, genID: genID, clock: clk}
}

// Publish stores an event using the default database connection.
func (o *Outbox) Publish(ctx context.Context, event Event) error {
	if o == nil {
		return ErrOutboxUnavailable
	}
	return o.publish(ctx, o.db, event)
}

// PublishTx stores an event using an existing transaction.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, event Event) error {
	if tx == nil {
		return ErrMissingTransaction
	}
	return o.publish(ctx, tx, event)
}

func (o *Outbox) publish(ctx context.Context, conn *gorm.DB, event Event) error {
	if o == nil || conn == nil || o.genID == nil {
		return ErrOutboxUnavailable
	}
	if event.TenantID == 0 {
		return ErrInvalidTenant
	}
	name := strings.TrimSpace(event.Type)
	if name == "" {
		return ErrMissingEventType
	}

	payload := datatypes.JSONMap{}
	for key, value := range event.Payload {
		if strings.TrimSpace(key) == "" {
			continue
		}
		payload[key] = value
	}

	var dedupe *string
	if key := strings.TrimSpace(event.DedupeKey); key != "" {
		dedupe = &key
	}

	row := OutboxEvent{
		ID:        o.genID.Generate(),
		TenantID:  event.TenantID,
		EventType: name,
		Payload:   payload,
		DedupeKey: dedupe,
		CreatedAt: o.clock.Now(),
	}
	return conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "dedupe_key"}},
			DoNothing: true,
		}).
		Create(&row).Error
}

// claimPendingTx leases up to limit undelivered events by stamping
// claimed_until. Rows locked by another dispatcher, or still leased to one,
// are skipped.
func (o *Outbox) claimPendingTx(ctx context.Context, tx *gorm.DB, maxAttempts, limit int, lease time.Duration) ([]OutboxEvent, error) {
	now := o.clock.Now()
	var rows []OutboxEvent
	err := db.ForUpdateSkipLocked(tx.WithContext(ctx)).
		Where("published = ? AND attempts < ?", false, maxAttempts).
		Where("claimed_until IS NULL OR claimed_until <= ?", now).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return rows, err
	}

	ids := make([]snowflake.ID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	err = tx.WithContext(ctx).
		Model(&OutboxEvent{}).
		Where("id IN ?", ids).
		Update("claimed_until", now.Add(lease)).Error
	return rows, err
}

func (o *Outbox) markPublishedTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	now := o.clock.Now()
	return tx.WithContext(ctx).
		Model(&OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"published":     true,
			"published_at":  now,
			"attempts":      gorm.Expr("attempts + 1"),
			"last_error":    nil,
			"claimed_until": nil,
		}).Error
}

func (o *Outbox) markFailedTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, cause error) error {
	msg := cause.Error()
	return tx.WithContext(ctx).
		Model(&OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":      gorm.Expr("attempts + 1"),
			"last_error":    msg,
			"claimed_until": nil,
		}).Error
}
