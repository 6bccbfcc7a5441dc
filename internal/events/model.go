package events

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// OutboxEvent is a stored billing event awaiting delivery.
type OutboxEvent struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	TenantID    snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_billing_event_dedupe,priority:1"`
	EventType   string            `gorm:"type:text;not null"`
	Payload     datatypes.JSONMap `gorm:"type:jsonb;not null"`
	DedupeKey   *string           `gorm:"type:text;uniqueIndex:ux_billing_event_dedupe,priority:2"`
	Published   bool              `gorm:"not null;default:false;index"`
	Attempts    int               `gorm:"not null;default:0"`
	LastError   *string           `gorm:"type:text"`
	PublishedAt *time.Time
	// ClaimedUntil leases the row to the dispatcher delivering it.
	ClaimedUntil *time.Time
	CreatedAt    time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (OutboxEvent) TableName() string { return "billing_events" }
