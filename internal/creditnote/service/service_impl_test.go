package service_test

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	crdberrors "github.com/cockroachdb/errors"
	"github.com/smallbiznis/billingledger/internal/billingerr"
	creditnotedomain "github.com/smallbiznis/billingledger/internal/creditnote/domain"
	creditnoterepo "github.com/smallbiznis/billingledger/internal/creditnote/repository"
	creditnoteservice "github.com/smallbiznis/billingledger/internal/creditnote/service"
	"github.com/smallbiznis/billingledger/internal/events"
	invoicedomain "github.com/smallbiznis/billingledger/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/billingledger/internal/ledger/domain"
	"github.com/smallbiznis/billingledger/internal/testutil/harness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const customerID = snowflake.ID(77)

func setup(t *testing.T) (*harness.Harness, creditnotedomain.Service) {
	t.Helper()
	h := harness.New(t, &creditnotedomain.CreditNote{}, &creditnotedomain.CreditNoteApplication{})
	svc := creditnoteservice.NewService(creditnoteservice.ServiceParam{
		DB:       h.DB,
		Log:      h.Log,
		GenID:    h.GenID,
		Clock:    h.Clock,
		Config:   h.Config,
		Repo:     creditnoterepo.Provide(h.DB),
		Invoices: h.Invoices,
		Numberer: h.Numberer,
		Ledger:   h.Ledger,
		Outbox:   h.Outbox,
		Metrics:  h.Metrics,
	})
	return h, svc
}

func issuedNote(t *testing.T, h *harness.Harness, svc creditnotedomain.Service, customer snowflake.ID, currency string, total int64) *creditnotedomain.CreditNote {
	t.Helper()
	note, err := svc.Create(h.Ctx, creditnotedomain.CreateRequest{CustomerID: customer, Currency: currency, Total: total, Reason: "goodwill"})
	require.NoError(t, err)
	note, err = svc.Issue(h.Ctx, note.ID)
	require.NoError(t, err)
	return note
}

func TestIssueAllocatesNumberAndPosts(t *testing.T) {
	h, svc := setup(t)

	first := issuedNote(t, h, svc, customerID, "USD", 2500)
	second := issuedNote(t, h, svc, customerID, "USD", 500)

	require.NotNil(t, first.CreditNoteNumber)
	assert.Equal(t, "CN-2025-00001", *first.CreditNoteNumber)
	assert.Equal(t, "CN-2025-00002", *second.CreditNoteNumber)
	assert.Equal(t, creditnotedomain.CreditNoteStatusIssued, first.Status)
	assert.Equal(t, int64(2500), first.AmountRemaining)

	assert.Equal(t, int64(-3000), h.Balance(t, ledgerdomain.AccountCodeCustomerCredit, "USD"))
	assert.Equal(t, int64(3000), h.Balance(t, ledgerdomain.AccountCodeRevenue, "USD"))
	assert.Equal(t, []string{events.EventCreditNoteIssued, events.EventCreditNoteIssued}, h.EventTypes(t))

	_, err := svc.Issue(h.Ctx, first.ID)
	require.True(t, crdberrors.Is(err, billingerr.ErrInvalidState))
}

func TestCreateValidates(t *testing.T) {
	h, svc := setup(t)
	invoice := h.Issued(t, customerID, "USD", harness.Line{Quantity: 1, UnitAmount: 100})

	_, err := svc.Create(h.Ctx, creditnotedomain.CreateRequest{CustomerID: customerID, Currency: "USD"})
	require.ErrorIs(t, err, creditnotedomain.ErrInvalidAmount)

	_, err = svc.Create(h.Ctx, creditnotedomain.CreateRequest{CustomerID: customerID + 1, InvoiceID: &invoice.ID, Currency: "USD", Total: 10})
	require.ErrorIs(t, err, creditnotedomain.ErrCustomerMismatch)

	_, err = svc.Create(h.Ctx, creditnotedomain.CreateRequest{CustomerID: customerID, InvoiceID: &invoice.ID, Currency: "EUR", Total: 10})
	require.True(t, crdberrors.Is(err, billingerr.ErrCurrencyMismatch))
}

func TestApplyToInvoice(t *testing.T) {
	h, svc := setup(t)
	invoice := h.Issued(t, customerID, "USD", harness.Line{Quantity: 1, UnitAmount: 5000})
	note := issuedNote(t, h, svc, customerID, "USD", 3000)

	application, err := svc.ApplyToInvoice(h.Ctx, creditnotedomain.ApplyRequest{CreditNoteID: note.ID, InvoiceID: invoice.ID, Amount: 2000})
	require.NoError(t, err)
	assert.Equal(t, int64(2000), application.AmountApplied)

	got := h.Invoice(t, invoice.ID)
	assert.Equal(t, int64(2000), got.AmountCredited)
	assert.Equal(t, int64(3000), got.AmountDue)
	assert.Equal(t, invoicedomain.InvoiceStatusPartiallyPaid, got.Status)
	harness.RequireInvariants(t, got)

	stored, err := svc.Get(h.Ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), stored.AmountRemaining)

	assert.Equal(t, int64(3000), h.Balance(t, ledgerdomain.AccountCodeAccountsReceivable, "USD"))
	assert.Equal(t, int64(-1000), h.Balance(t, ledgerdomain.AccountCodeCustomerCredit, "USD"))

	_, err = svc.Void(h.Ctx, note.ID)
	require.True(t, crdberrors.Is(err, billingerr.ErrInvalidState), "used credit cannot be voided")
}

func TestApplySpansInvoicesOfSameCustomer(t *testing.T) {
	h, svc := setup(t)
	first := h.Issued(t, customerID, "USD", harness.Line{Quantity: 1, UnitAmount: 1000})
	second := h.Issued(t, customerID, "USD", harness.Line{Quantity: 1, UnitAmount: 5000})

	note, err := svc.Create(h.Ctx, creditnotedomain.CreateRequest{CustomerID: customerID, InvoiceID: &first.ID, Currency: "USD", Total: 3000, Reason: "outage"})
	require.NoError(t, err)
	note, err = svc.Issue(h.Ctx, note.ID)
	require.NoError(t, err)

	_, err = svc.ApplyToInvoice(h.Ctx, creditnotedomain.ApplyRequest{CreditNoteID: note.ID, InvoiceID: first.ID, Amount: 1000})
	require.NoError(t, err)
	_, err = svc.ApplyToInvoice(h.Ctx, creditnotedomain.ApplyRequest{CreditNoteID: note.ID, InvoiceID: second.ID, Amount: 2000})
	require.NoError(t, err)

	gotFirst := h.Invoice(t, first.ID)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, gotFirst.Status)
	harness.RequireInvariants(t, gotFirst)
	gotSecond := h.Invoice(t, second.ID)
	assert.Equal(t, int64(3000), gotSecond.AmountDue)
	assert.Equal(t, invoicedomain.InvoiceStatusPartiallyPaid, gotSecond.Status)
	harness.RequireInvariants(t, gotSecond)

	stored, err := svc.Get(h.Ctx, note.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.AmountRemaining)
	applications, err := svc.ListApplications(h.Ctx, note.ID)
	require.NoError(t, err)
	assert.Len(t, applications, 2)
}

func TestApplyFailuresLeaveStateUnchanged(t *testing.T) {
	h, svc := setup(t)
	invoice := h.Issued(t, customerID, "USD", harness.Line{Quantity: 1, UnitAmount: 1000})
	note := issuedNote(t, h, svc, customerID, "USD", 5000)
	small := issuedNote(t, h, svc, customerID, "USD", 300)

	draftNote, err := svc.Create(h.Ctx, creditnotedomain.CreateRequest{CustomerID: customerID, Currency: "USD", Total: 100})
	require.NoError(t, err)
	otherCustomer := issuedNote(t, h, svc, customerID+1, "USD", 100)
	euroNote := issuedNote(t, h, svc, customerID, "EUR", 100)
	draftInvoice := h.Draft(t, customerID, "USD", harness.Line{Quantity: 1, UnitAmount: 100})

	cases := []struct {
		name string
		req  creditnotedomain.ApplyRequest
		kind error
	}{
		{"non-positive amount", creditnotedomain.ApplyRequest{CreditNoteID: note.ID, InvoiceID: invoice.ID, Amount: 0}, billingerr.ErrValidationFailed},
		{"draft credit note", creditnotedomain.ApplyRequest{CreditNoteID: draftNote.ID, InvoiceID: invoice.ID, Amount: 10}, billingerr.ErrInvalidState},
		{"draft invoice", creditnotedomain.ApplyRequest{CreditNoteID: note.ID, InvoiceID: draftInvoice.ID, Amount: 10}, billingerr.ErrInvalidState},
		{"customer mismatch", creditnotedomain.ApplyRequest{CreditNoteID: otherCustomer.ID, InvoiceID: invoice.ID, Amount: 10}, billingerr.ErrValidationFailed},
		{"currency mismatch", creditnotedomain.ApplyRequest{CreditNoteID: euroNote.ID, InvoiceID: invoice.ID, Amount: 10}, billingerr.ErrCurrencyMismatch},
		{"insufficient credit", creditnotedomain.ApplyRequest{CreditNoteID: small.ID, InvoiceID: invoice.ID, Amount: 301}, billingerr.ErrInsufficientCredit},
		{"exceeds amount due", creditnotedomain.ApplyRequest{CreditNoteID: note.ID, InvoiceID: invoice.ID, Amount: 1001}, billingerr.ErrOverpaymentRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.ApplyToInvoice(h.Ctx, tc.req)
			require.True(t, crdberrors.Is(err, tc.kind), "got %v", err)
		})
	}

	got := h.Invoice(t, invoice.ID)
	assert.Equal(t, int64(1000), got.AmountDue)
	assert.Zero(t, got.AmountCredited)
	assert.Equal(t, invoicedomain.InvoiceStatusIssued, got.Status)

	stored, err := svc.Get(h.Ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), stored.AmountRemaining)
	applications, err := svc.ListApplications(h.Ctx, note.ID)
	require.NoError(t, err)
	assert.Empty(t, applications)
}

func TestApplyCanSettleInvoice(t *testing.T) {
	h, svc := setup(t)
	invoice := h.Issued(t, customerID, "USD", harness.Line{Quantity: 1, UnitAmount: 1000})
	note := issuedNote(t, h, svc, customerID, "USD", 1000)

	_, err := svc.ApplyToInvoice(h.Ctx, creditnotedomain.ApplyRequest{CreditNoteID: note.ID, InvoiceID: invoice.ID, Amount: 1000})
	require.NoError(t, err)

	got := h.Invoice(t, invoice.ID)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, got.Status)
	assert.Contains(t, h.EventTypes(t), events.EventInvoicePaid)
}

func TestRevokeApplication(t *testing.T) {
	h, svc := setup(t)
	invoice := h.Issued(t, customerID, "USD", harness.Line{Quantity: 1, UnitAmount: 1000})
	note := issuedNote(t, h, svc, customerID, "USD", 1000)

	application, err := svc.ApplyToInvoice(h.Ctx, creditnotedomain.ApplyRequest{CreditNoteID: note.ID, InvoiceID: invoice.ID, Amount: 1000})
	require.NoError(t, err)
	require.Equal(t, invoicedomain.InvoiceStatusPaid, h.Invoice(t, invoice.ID).Status)

	reversal, err := svc.RevokeApplication(h.Ctx, application.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-1000), reversal.AmountApplied)
	require.NotNil(t, reversal.ReversesID)
	assert.Equal(t, application.ID, *reversal.ReversesID)

	got := h.Invoice(t, invoice.ID)
	assert.Equal(t, invoicedomain.InvoiceStatusIssued, got.Status)
	assert.Equal(t, int64(1000), got.AmountDue)
	assert.Zero(t, got.AmountCredited)
	assert.Nil(t, got.PaidAt)

	stored, err := svc.Get(h.Ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), stored.AmountRemaining)
	assert.Equal(t, int64(1000), h.Balance(t, ledgerdomain.AccountCodeAccountsReceivable, "USD"))

	_, err = svc.RevokeApplication(h.Ctx, application.ID)
	require.ErrorIs(t, err, creditnotedomain.ErrApplicationRevoked)
	_, err = svc.RevokeApplication(h.Ctx, reversal.ID)
	require.ErrorIs(t, err, creditnotedomain.ErrApplicationIsReversal)

	applications, err := svc.ListApplications(h.Ctx, note.ID)
	require.NoError(t, err)
	assert.Len(t, applications, 2)

	voided, err := svc.Void(h.Ctx, note.ID)
	require.NoError(t, err, "net applications are zero after revocation")
	assert.Equal(t, creditnotedomain.CreditNoteStatusVoided, voided.Status)
	assert.Zero(t, h.Balance(t, ledgerdomain.AccountCodeCustomerCredit, "USD"))
}

func TestRevokeRejectedOnVoidedInvoice(t *testing.T) {
	h, svc := setup(t)
	invoice := h.Issued(t, customerID, "USD", harness.Line{Quantity: 1, UnitAmount: 1000})
	note := issuedNote(t, h, svc, customerID, "USD", 500)
	application, err := svc.ApplyToInvoice(h.Ctx, creditnotedomain.ApplyRequest{CreditNoteID: note.ID, InvoiceID: invoice.ID, Amount: 500})
	require.NoError(t, err)

	_, err = h.Invoices.Void(h.Ctx, invoicedomain.VoidRequest{InvoiceID: invoice.ID, Reason: "cancelled"})
	require.NoError(t, err)

	_, err = svc.RevokeApplication(h.Ctx, application.ID)
	require.True(t, crdberrors.Is(err, billingerr.ErrInvalidState))

	stored, err := svc.Get(h.Ctx, note.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.AmountRemaining)
}

func TestVoidDraft(t *testing.T) {
	h, svc := setup(t)
	note, err := svc.Create(h.Ctx, creditnotedomain.CreateRequest{CustomerID: customerID, Currency: "USD", Total: 700})
	require.NoError(t, err)

	voided, err := svc.Void(h.Ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, creditnotedomain.CreditNoteStatusVoided, voided.Status)
	assert.NotNil(t, voided.VoidedAt)

	_, err = svc.Issue(h.Ctx, note.ID)
	require.True(t, crdberrors.Is(err, billingerr.ErrInvalidState))

	_, err = svc.Get(h.Ctx, h.GenID.Generate())
	require.True(t, crdberrors.Is(err, billingerr.ErrNotFound))
}
