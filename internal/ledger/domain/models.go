package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// LedgerEntryDirection represents debit or credit postings.
type LedgerEntryDirection string

const (
	LedgerEntryDirectionDebit  LedgerEntryDirection = "debit"
	LedgerEntryDirectionCredit LedgerEntryDirection = "credit"
)

type LedgerSourceType string

const (
	SourceTypeInvoice           LedgerSourceType = "invoice"            // invoice issued
	SourceTypePayment           LedgerSourceType = "payment"            // successful customer payment
	SourceTypeRefund            LedgerSourceType = "refund"             // money returned to customer
	SourceTypeCreditNote        LedgerSourceType = "credit_note"        // credit note issued
	SourceTypeCreditApplication LedgerSourceType = "credit_application" // credit applied to invoice
	SourceTypeCreditRevocation  LedgerSourceType = "credit_revocation"  // application reversed
	SourceTypeCreditNoteVoid    LedgerSourceType = "credit_note_void"   // unused credit note voided
)

type LedgerAccountCode string

const (
	// Assets
	AccountCodeAccountsReceivable LedgerAccountCode = "accounts_receivable"
	AccountCodeCash               LedgerAccountCode = "cash"

	// Revenue
	AccountCodeRevenue LedgerAccountCode = "revenue"

	// Liabilities
	AccountCodeTaxPayable     LedgerAccountCode = "tax_payable"
	AccountCodeCustomerCredit LedgerAccountCode = "customer_credit"
)

// DefaultAccounts is the chart of accounts every tenant gets on first posting.
var DefaultAccounts = map[LedgerAccountCode]string{
	AccountCodeAccountsReceivable: "Accounts Receivable",
	AccountCodeCash:               "Cash",
	AccountCodeRevenue:            "Revenue",
	AccountCodeTaxPayable:         "Tax Payable",
	AccountCodeCustomerCredit:     "Customer Credit",
}

// LedgerAccount defines a chart-of-accounts entry.
type LedgerAccount struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	TenantID  snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_ledger_accounts_tenant_code,priority:1"`
	Code      LedgerAccountCode `gorm:"type:text;not null;uniqueIndex:ux_ledger_accounts_tenant_code,priority:2"`
	Name      string            `gorm:"type:text;not null"`
	CreatedAt time.Time         `gorm:"not null"`
}

// TableName sets the database table name.
func (LedgerAccount) TableName() string { return "ledger_accounts" }

// LedgerEntry captures the immutable header for a financial event.
type LedgerEntry struct {
	ID         snowflake.ID     `gorm:"primaryKey"`
	TenantID   snowflake.ID     `gorm:"not null;index;uniqueIndex:ux_ledger_entries_source,priority:1"`
	SourceType LedgerSourceType `gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_source,priority:2"`
	SourceID   snowflake.ID     `gorm:"not null;uniqueIndex:ux_ledger_entries_source,priority:3"`
	Currency   string           `gorm:"type:text;not null"`
	OccurredAt time.Time        `gorm:"not null"`
	CreatedAt  time.Time        `gorm:"not null"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }

// LedgerEntryLine is a double-entry posting line.
type LedgerEntryLine struct {
	ID            snowflake.ID         `gorm:"primaryKey"`
	LedgerEntryID snowflake.ID         `gorm:"not null;index"`
	AccountID     snowflake.ID         `gorm:"not null;index"`
	Direction     LedgerEntryDirection `gorm:"type:text;not null"`
	Currency      string               `gorm:"type:text;not null"`
	Amount        int64                `gorm:"not null"`
	CreatedAt     time.Time            `gorm:"not null"`
}

// TableName sets the database table name.
func (LedgerEntryLine) TableName() string { return "ledger_entry_lines" }
