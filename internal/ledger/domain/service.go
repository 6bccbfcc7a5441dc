package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Posting is one side of an entry, addressed by account code.
type Posting struct {
	Account   LedgerAccountCode
	Direction LedgerEntryDirection
	Amount    int64
}

// Entry is a balanced journal entry for one source record.
type Entry struct {
	TenantID   snowflake.ID
	SourceType LedgerSourceType
	SourceID   snowflake.ID
	Currency   string
	OccurredAt time.Time
	Postings   []Posting
}

type Service interface {
	// CreateEntryTx writes the entry inside tx. It reports false when an
	// entry for the same source already exists.
	CreateEntryTx(ctx context.Context, tx *gorm.DB, entry Entry) (bool, error)
	// Balance returns debits minus credits for an account.
	Balance(ctx context.Context, tenantID snowflake.ID, code LedgerAccountCode, currency string) (int64, error)
	ListEntryLines(ctx context.Context, tenantID snowflake.ID, sourceType LedgerSourceType, sourceID snowflake.ID) ([]LedgerEntryLine, error)
}

func Debit(account LedgerAccountCode, amount int64) Posting {
	return Posting{Account: account, Direction: LedgerEntryDirectionDebit, Amount: amount}
}

func Credit(account LedgerAccountCode, amount int64) Posting {
	return Posting{Account: account, Direction: LedgerEntryDirectionCredit, Amount: amount}
}

// ValidateBalanced checks that debits equal credits.
func ValidateBalanced(postings []Posting) error {
	var debit, credit int64
	for _, p := range postings {
		switch p.Direction {
		case LedgerEntryDirectionDebit:
			debit += p.Amount
		case LedgerEntryDirectionCredit:
			credit += p.Amount
		default:
			return ErrInvalidLineDirection
		}
	}
	if debit != credit {
		return ErrUnbalancedEntry
	}
	return nil
}

// Reverse swaps the direction of every posting.
func Reverse(postings []Posting) []Posting {
	out := make([]Posting, len(postings))
	for i, p := range postings {
		out[i] = p
		if p.Direction == LedgerEntryDirectionDebit {
			out[i].Direction = LedgerEntryDirectionCredit
		} else {
			out[i].Direction = LedgerEntryDirectionDebit
		}
	}
	return out
}
