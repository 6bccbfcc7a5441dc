// Package sequence allocates gap-free, per-tenant, per-year document numbers.
package sequence

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingledger/internal/billingerr"
)

type Scope string

const (
	ScopeInvoice    Scope = "invoice"
	ScopeCreditNote Scope = "credit_note"
)

var (
	ErrInvalidKey       = billingerr.Sentinel("sequence_invalid_key", billingerr.ErrValidationFailed)
	ErrAllocationFailed = billingerr.Sentinel("sequence_allocation_failed", billingerr.ErrSequenceAllocationFailed)
)

// Sequence is the persisted counter for one (tenant, scope, year).
type Sequence struct {
	TenantID     snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	Scope        Scope        `gorm:"primaryKey;type:text"`
	Year         int          `gorm:"primaryKey;autoIncrement:false"`
	Prefix       string       `gorm:"type:text;not null;default:''"`
	CurrentValue int64        `gorm:"not null;default:0"`
	CreatedAt    time.Time    `gorm:"not null"`
	UpdatedAt    time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Sequence) TableName() string { return "sequences" }

type Key struct {
	TenantID snowflake.ID
	Scope    Scope
	Year     int
	// Prefix is recorded on the counter row when non-empty. It is not part
	// of the counter's identity.
	Prefix string
}

func (k Key) Validate() error {
	if k.TenantID == 0 {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidKey)
	}
	if strings.TrimSpace(string(k.Scope)) == "" {
		return fmt.Errorf("%w: scope is required", ErrInvalidKey)
	}
	if k.Year < 1970 || k.Year > 9999 {
		return fmt.Errorf("%w: year %d out of range", ErrInvalidKey, k.Year)
	}
	return nil
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d", k.TenantID, k.Scope, k.Year)
}

// Number is an allocated and rendered document number.
type Number struct {
	Key       Key
	Value     int64
	Formatted string
	Hash      string
}

// Format renders {prefix}{year}-{value} with the value zero-padded to width.
func Format(prefix string, year int, value int64, width int) string {
	if width < 1 {
		width = 1
	}
	return fmt.Sprintf("%s%d-%0*d", prefix, year, width, value)
}

// Hash is a stable short digest of an allocated slot, usable as a public reference.
func Hash(key Key, value int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s:%d:%d", key.TenantID, key.Scope, key.Year, value)))
	return hex.EncodeToString(sum[:8])
}
