// Package events stores billing notifications in a transactional outbox and
// delivers them to a Notifier after the ledger transaction commits.
package events

import (
	"strconv"

	"github.com/bwmarrin/snowflake"
)

// Billing event types.
const (
	EventInvoiceIssued    = "invoice.issued"
	EventInvoicePaid      = "invoice.paid"
	EventInvoiceVoided    = "invoice.voided"
	EventCreditNoteIssued = "credit_note.issued"
)

// Event describes a billing event to store in the outbox.
type Event struct {
	TenantID  snowflake.ID
	Type      string
	Payload   map[string]any
	DedupeKey string
}

// InvoicePayload carries what the notifier needs to render an invoice document.
type InvoicePayload struct {
	InvoiceID     string `json:"invoice_id"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
	CustomerID    string `json:"customer_id"`
	Currency      string `json:"currency"`
	Total         int64  `json:"total"`
	AmountDue     int64  `json:"amount_due"`
	Status        string `json:"status"`
}

func (p InvoicePayload) ToMap() map[string]any {
	payload := map[string]any{
		"invoice_id":  p.InvoiceID,
		"customer_id": p.CustomerID,
		"currency":    p.Currency,
		"total":       p.Total,
		"amount_due":  p.AmountDue,
		"status":      p.Status,
	}
	if p.InvoiceNumber != "" {
		payload["invoice_number"] = p.InvoiceNumber
	}
	return payload
}

// CreditNotePayload carries the issued credit note.
type CreditNotePayload struct {
	CreditNoteID     string `json:"credit_note_id"`
	CreditNoteNumber string `json:"credit_note_number"`
	CustomerID       string `json:"customer_id"`
	Currency         string `json:"currency"`
	Total            int64  `json:"total"`
}

func (p CreditNotePayload) ToMap() map[string]any {
	return map[string]any{
		"credit_note_id":     p.CreditNoteID,
		"credit_note_number": p.CreditNoteNumber,
		"customer_id":        p.CustomerID,
		"currency":           p.Currency,
		"total":              p.Total,
	}
}

// DedupeKey builds the per-entity key that keeps one event per transition.
func DedupeKey(eventType string, id snowflake.ID) string {
	return eventType + ":" + id.String()
}

// DedupeKeyVersion distinguishes repeated transitions of the same entity.
func DedupeKeyVersion(eventType string, id snowflake.ID, version int64) string {
	return DedupeKey(eventType, id) + ":" + strconv.FormatInt(version, 10)
}
