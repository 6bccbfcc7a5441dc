package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/smallbiznis/billingledger/internal/billingerr"
	"github.com/smallbiznis/billingledger/internal/clock"
	"github.com/smallbiznis/billingledger/internal/config"
	creditnotedomain "github.com/smallbiznis/billingledger/internal/creditnote/domain"
	"github.com/smallbiznis/billingledger/internal/events"
	invoicedomain "github.com/smallbiznis/billingledger/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/billingledger/internal/ledger/domain"
	"github.com/smallbiznis/billingledger/internal/money"
	obsmetrics "github.com/smallbiznis/billingledger/internal/observability/metrics"
	"github.com/smallbiznis/billingledger/internal/sequence"
	"github.com/smallbiznis/billingledger/pkg/log/ctxlogger"
	"github.com/smallbiznis/billingledger/pkg/tenantctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   config.Config
	Repo     creditnotedomain.Repository
	Invoices invoicedomain.Service
	Numberer *sequence.Numberer
	Ledger   ledgerdomain.Service
	Outbox   *events.Outbox
	Metrics  *obsmetrics.LedgerMetrics `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	cfg   config.SequenceConfig

	repo     creditnotedomain.Repository
	invoices invoicedomain.Service
	numberer *sequence.Numberer
	ledger   ledgerdomain.Service
	outbox   *events.Outbox
	metrics  *obsmetrics.LedgerMetrics
	tracer   trace.Tracer
}

func NewService(p ServiceParam) creditnotedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("creditnote.service"),
		genID: p.GenID,
		clock: p.Clock,
		cfg:   p.Config.Sequence,

		repo:     p.Repo,
		invoices: p.Invoices,
		numberer: p.Numberer,
		ledger:   p.Ledger,
		outbox:   p.Outbox,
		metrics:  p.Metrics,
		tracer:   otel.Tracer("creditnote.service"),
	}
}

func (s *Service) Create(ctx context.Context, req creditnotedomain.CreateRequest) (*creditnotedomain.CreditNote, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if req.CustomerID == 0 {
		return nil, creditnotedomain.ErrInvalidCustomer
	}
	if req.Total <= 0 {
		return nil, creditnotedomain.ErrInvalidAmount
	}
	currency := money.NormalizeCurrency(req.Currency)
	if err := money.ValidateCurrency(currency); err != nil {
		return nil, err
	}

	if req.InvoiceID != nil {
		invoice, err := s.invoices.Get(ctx, *req.InvoiceID)
		if err != nil {
			return nil, err
		}
		if invoice.CustomerID != req.CustomerID {
			return nil, creditnotedomain.ErrCustomerMismatch
		}
		if invoice.Currency != currency {
			return nil, creditnotedomain.ErrCurrencyMismatch
		}
	}

	metadata := datatypes.JSONMap{}
	for key, value := range req.Metadata {
		if strings.TrimSpace(key) == "" {
			continue
		}
		metadata[key] = value
	}

	now := s.clock.Now()
	note := &creditnotedomain.CreditNote{
		ID:         s.genID.Generate(),
		TenantID:   tenantID,
		CustomerID: req.CustomerID,
		InvoiceID:  req.InvoiceID,
		Status:     creditnotedomain.CreditNoteStatusDraft,
		Currency:   currency,
		Reason:     strings.TrimSpace(req.Reason),
		Total:      req.Total,
		Metadata:   metadata,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Insert(ctx, s.db, note); err != nil {
		return nil, err
	}
	return note, nil
}

// Issue allocates the credit note number in the issuing transaction and
// retries the whole transaction when allocation fails.
func (s *Service) Issue(ctx context.Context, id snowflake.ID) (*creditnotedomain.CreditNote, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	ctx, span := s.tracer.Start(ctx, "creditnote.Issue", trace.WithAttributes(
		attribute.String("credit_note_id", id.String()),
	))
	defer span.End()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.InitialBackoff
	policy.MaxInterval = s.cfg.MaxBackoff
	policy.MaxElapsedTime = 0

	note, err := backoff.RetryWithData(func() (*creditnotedomain.CreditNote, error) {
		var issued *creditnotedomain.CreditNote
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			issued, err = s.issueTx(ctx, tx, tenantID, id)
			return err
		})
		if err == nil {
			return issued, nil
		}
		if errors.Is(err, billingerr.ErrSequenceAllocationFailed) && ctx.Err() == nil {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(max(s.cfg.MaxRetries, 0))), ctx))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	ctxlogger.WithContext(ctx, s.log).Info("credit note issued",
		zap.String("credit_note_id", note.ID.String()),
		zap.String("credit_note_number", *note.CreditNoteNumber),
		zap.Int64("total", note.Total),
	)
	return note, nil
}

func (s *Service) issueTx(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*creditnotedomain.CreditNote, error) {
	note, err := s.lockTx(ctx, tx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !note.CanIssue() {
		return nil, errors.Wrapf(creditnotedomain.ErrCreditNoteNotDraft, "credit note %s is %s", note.ID, note.Status)
	}

	now := s.clock.Now()
	number, err := s.numberer.NextTx(ctx, tx, tenantID, sequence.ScopeCreditNote, now)
	if err != nil {
		return nil, err
	}
	note.CreditNoteNumber = &number.Formatted
	note.SequenceYear = &number.Key.Year
	note.SequenceValue = &number.Value
	note.SequenceHash = &number.Hash
	note.MarkIssued(now)

	if err := s.repo.Save(ctx, tx, note); err != nil {
		return nil, err
	}

	// Debit: Revenue / Credit: Customer Credit
	if _, err := s.ledger.CreateEntryTx(ctx, tx, ledgerdomain.Entry{
		TenantID:   tenantID,
		SourceType: ledgerdomain.SourceTypeCreditNote,
		SourceID:   note.ID,
		Currency:   note.Currency,
		OccurredAt: now,
		Postings: []ledgerdomain.Posting{
			ledgerdomain.Debit(ledgerdomain.AccountCodeRevenue, note.Total),
			ledgerdomain.Credit(ledgerdomain.AccountCodeCustomerCredit, note.Total),
		},
	}); err != nil {
		return nil, err
	}

	if err := s.outbox.PublishTx(ctx, tx, events.Event{
		TenantID: tenantID,
		Type:     events.EventCreditNoteIssued,
		Payload: events.CreditNotePayload{
			CreditNoteID:     note.ID.String(),
			CreditNoteNumber: number.Formatted,
			CustomerID:       note.CustomerID.String(),
			Currency:         note.Currency,
			Total:            note.Total,
		}.ToMap(),
		DedupeKey: events.DedupeKey(events.EventCreditNoteIssued, note.ID),
	}); err != nil {
		return nil, err
	}
	return note, nil
}

func (s *Service) Void(ctx context.Context, id snowflake.ID) (*creditnotedomain.CreditNote, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var note *creditnotedomain.CreditNote
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		note, err = s.lockTx(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		wasIssued := note.Status == creditnotedomain.CreditNoteStatusIssued
		unused := note.AmountRemaining

		now := s.clock.Now()
		if err := note.Void(now); err != nil {
			return errors.Wrapf(err, "credit note %s is %s", note.ID, note.Status)
		}
		if err := s.repo.Save(ctx, tx, note); err != nil {
			return err
		}
		if !wasIssued {
			return nil
		}
		_, err := s.ledger.CreateEntryTx(ctx, tx, ledgerdomain.Entry{
			TenantID:   tenantID,
			SourceType: ledgerdomain.SourceTypeCreditNoteVoid,
			SourceID:   note.ID,
			Currency:   note.Currency,
			OccurredAt: now,
			Postings: []ledgerdomain.Posting{
				ledgerdomain.Debit(ledgerdomain.AccountCodeCustomerCredit, unused),
				ledgerdomain.Credit(ledgerdomain.AccountCodeRevenue, unused),
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

// ApplyToInvoice moves credit onto an open invoice. The credit note row is
// locked before the invoice row on every path.
func (s *Service) ApplyToInvoice(ctx context.Context, req creditnotedomain.ApplyRequest) (*creditnotedomain.CreditNoteApplication, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, creditnotedomain.ErrInvalidAmount
	}

	ctx, span := s.tracer.Start(ctx, "creditnote.ApplyToInvoice", trace.WithAttributes(
		attribute.String("credit_note_id", req.CreditNoteID.String()),
		attribute.String("invoice_id", req.InvoiceID.String()),
	))
	defer span.End()

	var application *creditnotedomain.CreditNoteApplication
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		note, err := s.lockTx(ctx, tx, tenantID, req.CreditNoteID)
		if err != nil {
			return err
		}
		invoice, err := s.invoices.LockTx(ctx, tx, tenantID, req.InvoiceID)
		if err != nil {
			return err
		}

		if note.Status != creditnotedomain.CreditNoteStatusIssued {
			return errors.Wrapf(creditnotedomain.ErrCreditNoteNotIssued, "credit note %s is %s", note.ID, note.Status)
		}
		if !invoice.AcceptsSettlement() {
			return errors.Wrapf(creditnotedomain.ErrInvoiceNotOpen, "invoice %s is %s", invoice.ID, invoice.Status)
		}
		if note.CustomerID != invoice.CustomerID {
			return creditnotedomain.ErrCustomerMismatch
		}
		if note.Currency != invoice.Currency {
			return creditnotedomain.ErrCurrencyMismatch
		}
		if req.Amount > note.AmountRemaining {
			return errors.Wrapf(creditnotedomain.ErrInsufficientCredit,
				"requested %d, remaining %d", req.Amount, note.AmountRemaining)
		}
		if req.Amount > invoice.AmountDue {
			return errors.Wrapf(creditnotedomain.ErrCreditExceedsAmountDue,
				"requested %d, amount due %d", req.Amount, invoice.AmountDue)
		}

		now := s.clock.Now()
		if err := note.Consume(req.Amount); err != nil {
			return err
		}
		note.UpdatedAt = now
		if err := s.repo.Save(ctx, tx, note); err != nil {
			return err
		}
		if _, err := s.invoices.ApplySettlementTx(ctx, tx, tenantID, invoice.ID, invoicedomain.Settlement{
			Kind:     invoicedomain.SettlementCredit,
			Amount:   req.Amount,
			Currency: note.Currency,
			At:       now,
		}); err != nil {
			return err
		}

		application = &creditnotedomain.CreditNoteApplication{
			ID:            s.genID.Generate(),
			TenantID:      tenantID,
			CreditNoteID:  note.ID,
			InvoiceID:     invoice.ID,
			AmountApplied: req.Amount,
			CreatedAt:     now,
		}
		if err := s.repo.InsertApplication(ctx, tx, application); err != nil {
			return err
		}
		return s.postApplicationTx(ctx, tx, note, application, ledgerdomain.SourceTypeCreditApplication)
	})
	s.metrics.ObserveSettlement(obsmetrics.SettlementCredit, err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return application, nil
}

func (s *Service) RevokeApplication(ctx context.Context, applicationID snowflake.ID) (*creditnotedomain.CreditNoteApplication, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var reversal *creditnotedomain.CreditNoteApplication
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		original, err := s.repo.FindApplication(ctx, tx, tenantID, applicationID)
		if err != nil {
			return err
		}
		if original == nil {
			return creditnotedomain.ErrApplicationNotFound
		}
		if original.IsReversal() {
			return creditnotedomain.ErrApplicationIsReversal
		}

		note, err := s.lockTx(ctx, tx, tenantID, original.CreditNoteID)
		if err != nil {
			return err
		}
		if _, err := s.invoices.LockTx(ctx, tx, tenantID, original.InvoiceID); err != nil {
			return err
		}
		existing, err := s.repo.FindReversal(ctx, tx, tenantID, original.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return creditnotedomain.ErrApplicationRevoked
		}

		now := s.clock.Now()
		if err := note.Restore(original.AmountApplied); err != nil {
			return errors.Wrapf(err, "credit note %s is %s", note.ID, note.Status)
		}
		note.UpdatedAt = now
		if err := s.repo.Save(ctx, tx, note); err != nil {
			return err
		}
		if _, err := s.invoices.ApplySettlementTx(ctx, tx, tenantID, original.InvoiceID, invoicedomain.Settlement{
			Kind:     invoicedomain.SettlementCreditRevoked,
			Amount:   original.AmountApplied,
			Currency: note.Currency,
			At:       now,
		}); err != nil {
			return err
		}

		reversal = &creditnotedomain.CreditNoteApplication{
			ID:            s.genID.Generate(),
			TenantID:      tenantID,
			CreditNoteID:  original.CreditNoteID,
			InvoiceID:     original.InvoiceID,
			AmountApplied: money.New(original.AmountApplied, note.Currency).Neg().MinorUnits,
			ReversesID:    &original.ID,
			CreatedAt:     now,
		}
		if err := s.repo.InsertApplication(ctx, tx, reversal); err != nil {
			return err
		}
		return s.postApplicationTx(ctx, tx, note, reversal, ledgerdomain.SourceTypeCreditRevocation)
	})
	s.metrics.ObserveSettlement(obsmetrics.SettlementCreditRevoked, err)
	if err != nil {
		return nil, err
	}
	return reversal, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*creditnotedomain.CreditNote, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	note, err := s.repo.FindByID(ctx, s.db, tenantID, id)
	if err != nil {
		return nil, err
	}
	if note == nil {
		return nil, creditnotedomain.ErrCreditNoteNotFound
	}
	return note, nil
}

func (s *Service) ListApplications(ctx context.Context, creditNoteID snowflake.ID) ([]creditnotedomain.CreditNoteApplication, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListApplications(ctx, s.db, tenantID, creditNoteID)
}

// postApplicationTx books an application against receivables. Reversal rows
// carry a negative amount and post the mirrored entry.
//
//	Debit:  Customer Credit      amount
//	Credit: Accounts Receivable  amount
func (s *Service) postApplicationTx(ctx context.Context, tx *gorm.DB, note *creditnotedomain.CreditNote, application *creditnotedomain.CreditNoteApplication, source ledgerdomain.LedgerSourceType) error {
	amount := application.AmountApplied
	postings := []ledgerdomain.Posting{
		ledgerdomain.Debit(ledgerdomain.AccountCodeCustomerCredit, amount),
		ledgerdomain.Credit(ledgerdomain.AccountCodeAccountsReceivable, amount),
	}
	if amount < 0 {
		postings = ledgerdomain.Reverse([]ledgerdomain.Posting{
			ledgerdomain.Debit(ledgerdomain.AccountCodeCustomerCredit, -amount),
			ledgerdomain.Credit(ledgerdomain.AccountCodeAccountsReceivable, -amount),
		})
	}
	_, err := s.ledger.CreateEntryTx(ctx, tx, ledgerdomain.Entry{
		TenantID:   application.TenantID,
		SourceType: source,
		SourceID:   application.ID,
		Currency:   note.Currency,
		OccurredAt: application.CreatedAt,
		Postings:   postings,
	})
	return err
}

func (s *Service) lockTx(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*creditnotedomain.CreditNote, error) {
	note, err := s.repo.FindForUpdate(ctx, tx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if note == nil {
		return nil, creditnotedomain.ErrCreditNoteNotFound
	}
	return note, nil
}

func (s *Service) tenantIDFromContext(ctx context.Context) (snowflake.ID, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return 0, creditnotedomain.ErrInvalidTenant
	}
	return tenantID, nil
}
