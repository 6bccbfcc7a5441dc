package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/smallbiznis/billingledger/internal/billingerr"
	"github.com/smallbiznis/billingledger/internal/clock"
	"github.com/smallbiznis/billingledger/internal/config"
	"github.com/smallbiznis/billingledger/internal/events"
	invoicedomain "github.com/smallbiznis/billingledger/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/billingledger/internal/ledger/domain"
	"github.com/smallbiznis/billingledger/internal/money"
	obsmetrics "github.com/smallbiznis/billingledger/internal/observability/metrics"
	pricingdomain "github.com/smallbiznis/billingledger/internal/pricing/domain"
	"github.com/smallbiznis/billingledger/internal/sequence"
	"github.com/smallbiznis/billingledger/pkg/db/pagination"
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

const defaultPastDueBatch = 500

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   config.Config
	Repo     invoicedomain.Repository
	Pricing  pricingdomain.Service
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

	repo     invoicedomain.Repository
	pricing  pricingdomain.Service
	numberer *sequence.Numberer
	ledger   ledgerdomain.Service
	outbox   *events.Outbox
	metrics  *obsmetrics.LedgerMetrics
	tracer   trace.Tracer
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,
		clock: p.Clock,
		cfg:   p.Config.Sequence,

		repo:     p.Repo,
		pricing:  p.Pricing,
		numberer: p.Numberer,
		ledger:   p.Ledger,
		outbox:   p.Outbox,
		metrics:  p.Metrics,
		tracer:   otel.Tracer("invoice.service"),
	}
}

func (s *Service) CreateDraft(ctx context.Context, req invoicedomain.CreateDraftRequest) (*invoicedomain.Invoice, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var invoice *invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err = s.CreateDraftTx(ctx, tx, tenantID, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncInvoice(string(invoicedomain.InvoiceStatusDraft))
	return invoice, nil
}

func (s *Service) CreateDraftTx(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, req invoicedomain.CreateDraftRequest) (*invoicedomain.Invoice, error) {
	if tenantID == 0 {
		return nil, invoicedomain.ErrInvalidTenant
	}
	if req.CustomerID == 0 {
		return nil, invoicedomain.ErrInvalidCustomer
	}
	currency := money.NormalizeCurrency(req.Currency)
	if err := money.ValidateCurrency(currency); err != nil {
		return nil, err
	}

	metadata := datatypes.JSONMap{}
	for key, value := range req.Metadata {
		if strings.TrimSpace(key) == "" {
			continue
		}
		metadata[key] = value
	}

	now := s.clock.Now()
	invoice := &invoicedomain.Invoice{
		ID:             s.genID.Generate(),
		TenantID:       tenantID,
		CustomerID:     req.CustomerID,
		SubscriptionID: req.SubscriptionID,
		Status:         invoicedomain.InvoiceStatusDraft,
		Currency:       currency,
		DueAt:          utcPtr(req.DueAt),
		Memo:           strings.TrimSpace(req.Memo),
		Metadata:       metadata,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Insert(ctx, tx, invoice); err != nil {
		return nil, errors.Wrap(err, "insert invoice")
	}
	return invoice, nil
}

func (s *Service) AddItem(ctx context.Context, req invoicedomain.AddItemRequest) (*invoicedomain.InvoiceItem, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var item *invoicedomain.InvoiceItem
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err = s.AddItemTx(ctx, tx, tenantID, req)
		return err
	})
	return item, err
}

func (s *Service) AddItemTx(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, req invoicedomain.AddItemRequest) (*invoicedomain.InvoiceItem, error) {
	invoice, err := s.LockTx(ctx, tx, tenantID, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if !invoice.CanEditItems() {
		return nil, errors.Wrapf(invoicedomain.ErrInvoiceNotDraft, "invoice %s is %s", invoice.ID, invoice.Status)
	}

	item := &invoicedomain.InvoiceItem{
		ID:          s.genID.Generate(),
		TenantID:    tenantID,
		InvoiceID:   invoice.ID,
		Description: strings.TrimSpace(req.Description),
		Quantity:    req.Quantity,
		UnitAmount:  req.UnitAmount,
		TaxRateID:   req.TaxRateID,
		DiscountID:  req.DiscountID,
		CreatedAt:   s.clock.Now(),
	}
	if _, err := s.priceItem(ctx, tx, invoice, item, item.CreatedAt); err != nil {
		return nil, err
	}
	if err := s.repo.InsertItem(ctx, tx, item); err != nil {
		return nil, errors.Wrap(err, "insert invoice item")
	}
	if err := s.refreshTotals(ctx, tx, invoice); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) RemoveItem(ctx context.Context, invoiceID, itemID snowflake.ID) error {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.LockTx(ctx, tx, tenantID, invoiceID)
		if err != nil {
			return err
		}
		if !invoice.CanEditItems() {
			return errors.Wrapf(invoicedomain.ErrInvoiceNotDraft, "invoice %s is %s", invoice.ID, invoice.Status)
		}
		rows, err := s.repo.DeleteItem(ctx, tx, tenantID, invoiceID, itemID)
		if err != nil {
			return err
		}
		if rows == 0 {
			return invoicedomain.ErrItemNotFound
		}
		return s.refreshTotals(ctx, tx, invoice)
	})
}

// Issue finalizes a draft. The whole transaction is retried when number
// allocation fails, so a committed invoice always carries a committed number.
func (s *Service) Issue(ctx context.Context, req invoicedomain.IssueRequest) (*invoicedomain.Invoice, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "invoice.Issue", trace.WithAttributes(
		attribute.String("invoice_id", req.InvoiceID.String()),
	))
	defer span.End()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.InitialBackoff
	policy.MaxInterval = s.cfg.MaxBackoff
	policy.MaxElapsedTime = 0

	invoice, err := backoff.RetryWithData(func() (*invoicedomain.Invoice, error) {
		var issued *invoicedomain.Invoice
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			issued, err = s.IssueTx(ctx, tx, tenantID, req)
			return err
		})
		if err == nil {
			return issued, nil
		}
		if errors.Is(err, billingerr.ErrSequenceAllocationFailed) && ctx.Err() == nil {
			ctxlogger.WithContext(ctx, s.log).Warn("invoice issuance retried", zap.String("invoice_id", req.InvoiceID.String()), zap.Error(err))
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(max(s.cfg.MaxRetries, 0))), ctx))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.metrics.IncInvoice(string(invoice.Status))
	s.metrics.ObserveInvoiceTotal(invoice.Currency, invoice.Total)
	ctxlogger.WithContext(ctx, s.log).Info("invoice issued",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("invoice_number", lo.FromPtr(invoice.InvoiceNumber)),
		zap.Int64("total", invoice.Total),
	)
	return invoice, nil
}

func (s *Service) IssueTx(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, req invoicedomain.IssueRequest) (*invoicedomain.Invoice, error) {
	invoice, err := s.LockTx(ctx, tx, tenantID, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if !invoice.CanIssue() {
		return nil, errors.Wrapf(invoicedomain.ErrInvoiceNotDraft, "invoice %s is %s", invoice.ID, invoice.Status)
	}

	items, err := s.repo.ListItems(ctx, tx, tenantID, invoice.ID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, invoicedomain.ErrNoItems
	}

	now := s.clock.Now()
	var redeem []snowflake.ID
	for idx := range items {
		line, err := s.priceItem(ctx, tx, invoice, &items[idx], now)
		if err != nil {
			return nil, err
		}
		if err := s.repo.UpdateItemAmounts(ctx, tx, &items[idx]); err != nil {
			return nil, err
		}
		if line.DiscountApplied && items[idx].DiscountID != nil {
			redeem = append(redeem, *items[idx].DiscountID)
		}
	}
	invoice.RecomputeTotals(items)
	if err := invoice.CheckTotals(); err != nil {
		return nil, err
	}

	for _, discountID := range lo.Uniq(redeem) {
		if err := s.pricing.RedeemTx(ctx, tx, pricingdomain.RedeemRequest{
			TenantID:   tenantID,
			DiscountID: discountID,
			InvoiceID:  invoice.ID,
			CustomerID: invoice.CustomerID,
			At:         now,
		}); err != nil {
			return nil, err
		}
	}

	number, err := s.numberer.NextTx(ctx, tx, tenantID, sequence.ScopeInvoice, now)
	if err != nil {
		return nil, err
	}
	invoice.InvoiceNumber = &number.Formatted
	invoice.SequenceYear = &number.Key.Year
	invoice.SequenceValue = &number.Value
	invoice.SequenceHash = &number.Hash
	if req.DueAt != nil {
		invoice.DueAt = utcPtr(req.DueAt)
	}
	invoice.MarkIssued(now)
	invoice.UpdatedAt = now

	if err := s.repo.Save(ctx, tx, invoice); err != nil {
		return nil, err
	}
	if err := s.postIssuedInvoiceTx(ctx, tx, invoice); err != nil {
		return nil, err
	}
	if err := s.publishTx(ctx, tx, events.EventInvoiceIssued, invoice, events.DedupeKey(events.EventInvoiceIssued, invoice.ID)); err != nil {
		return nil, err
	}
	if invoice.Status == invoicedomain.InvoiceStatusPaid {
		if err := s.publishPaidTx(ctx, tx, invoice); err != nil {
			return nil, err
		}
	}
	return invoice, nil
}

func (s *Service) Void(ctx context.Context, req invoicedomain.VoidRequest) (*invoicedomain.Invoice, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var voided *invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.LockTx(ctx, tx, tenantID, req.InvoiceID)
		if err != nil {
			return err
		}
		wasIssued := invoice.Status != invoicedomain.InvoiceStatusDraft

		now := s.clock.Now()
		if err := invoice.Void(now, strings.TrimSpace(req.Reason)); err != nil {
			return err
		}
		invoice.UpdatedAt = now
		if err := s.repo.Save(ctx, tx, invoice); err != nil {
			return err
		}
		if wasIssued {
			if err := s.publishTx(ctx, tx, events.EventInvoiceVoided, invoice, events.DedupeKey(events.EventInvoiceVoided, invoice.ID)); err != nil {
				return err
			}
		}
		voided = invoice
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncInvoice(string(invoicedomain.InvoiceStatusVoided))
	return voided, nil
}

func (s *Service) MarkPastDue(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultPastDueBatch
	}
	var marked int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := s.repo.ClaimPastDue(ctx, tx, now, limit)
		if err != nil {
			return err
		}
		for idx := range rows {
			invoice := &rows[idx]
			if !invoice.MarkPastDue(now) {
				continue
			}
			invoice.UpdatedAt = now
			if err := s.repo.Save(ctx, tx, invoice); err != nil {
				return err
			}
			marked++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for i := 0; i < marked; i++ {
		s.metrics.IncInvoice(string(invoicedomain.InvoiceStatusPastDue))
	}
	return marked, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	invoice, err := s.repo.FindByID(ctx, s.db, tenantID, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, errors.Mark(err, billingerr.ErrValidationFailed)
	}
	var after *snowflake.ID
	if cursor != nil && cursor.ID != "" {
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, errors.Mark(err, billingerr.ErrValidationFailed)
		}
		after = &id
	}

	limit := req.Limit()
	rows, err := s.repo.List(ctx, s.db, tenantID, req, after, limit+1)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}
	invoices, pageInfo, err := pagination.Trim(rows, limit, func(inv invoicedomain.Invoice) pagination.Cursor {
		return pagination.Cursor{ID: inv.ID.String(), CreatedAt: inv.CreatedAt.Format(time.RFC3339)}
	})
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}
	return invoicedomain.ListInvoiceResponse{PageInfo: pageInfo, Invoices: invoices}, nil
}

func (s *Service) ListItems(ctx context.Context, invoiceID snowflake.ID) ([]invoicedomain.InvoiceItem, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListItems(ctx, s.db, tenantID, invoiceID)
}

func (s *Service) LockTx(ctx context.Context, tx *gorm.DB, tenantID, invoiceID snowflake.ID) (*invoicedomain.Invoice, error) {
	invoice, err := s.repo.FindForUpdate(ctx, tx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *Service) ApplySettlementTx(ctx context.Context, tx *gorm.DB, tenantID, invoiceID snowflake.ID, settlement invoicedomain.Settlement) (*invoicedomain.Invoice, error) {
	ctx, span := s.tracer.Start(ctx, "invoice.ApplySettlement", trace.WithAttributes(
		attribute.String("invoice_id", invoiceID.String()),
		attribute.String("kind", string(settlement.Kind)),
	))
	defer span.End()

	invoice, err := s.LockTx(ctx, tx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}

	if settlement.At.IsZero() {
		settlement.At = s.clock.Now()
	}
	settlement.Currency = money.NormalizeCurrency(settlement.Currency)
	wasPaid := invoice.Status == invoicedomain.InvoiceStatusPaid

	if err := invoice.Apply(settlement); err != nil {
		span.RecordError(err)
		return nil, err
	}
	invoice.UpdatedAt = settlement.At
	if err := s.repo.Save(ctx, tx, invoice); err != nil {
		return nil, err
	}
	if !wasPaid && invoice.Status == invoicedomain.InvoiceStatusPaid {
		if err := s.publishPaidTx(ctx, tx, invoice); err != nil {
			return nil, err
		}
	}
	return invoice, nil
}

// priceItem resolves the item's tax rate and discount and writes the computed
// amounts onto it.
func (s *Service) priceItem(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, item *invoicedomain.InvoiceItem, at time.Time) (pricingdomain.LineResult, error) {
	rate, discount, err := s.pricing.ResolveTx(ctx, tx, invoice.TenantID, item.TaxRateID, item.DiscountID)
	if err != nil {
		return pricingdomain.LineResult{}, err
	}
	used, err := s.pricing.CustomerRedemptionsTx(ctx, tx, discount, invoice.CustomerID)
	if err != nil {
		return pricingdomain.LineResult{}, err
	}
	line, err := pricingdomain.ComputeLine(pricingdomain.LineInput{
		Quantity:            item.Quantity,
		UnitAmount:          item.UnitAmount,
		Currency:            invoice.Currency,
		TaxRate:             rate,
		Discount:            discount,
		At:                  at,
		CustomerRedemptions: used,
	})
	if err != nil {
		return pricingdomain.LineResult{}, err
	}
	item.Amount = line.Amount
	item.DiscountAmount = line.DiscountAmount
	item.TaxAmount = line.TaxAmount
	item.TotalAmount = line.TotalAmount
	item.NetAmount = line.NetAmount
	item.TaxInclusive = line.TaxInclusive
	return line, nil
}

func (s *Service) refreshTotals(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice) error {
	items, err := s.repo.ListItems(ctx, tx, invoice.TenantID, invoice.ID)
	if err != nil {
		return err
	}
	invoice.RecomputeTotals(items)
	invoice.UpdatedAt = s.clock.Now()
	return s.repo.Save(ctx, tx, invoice)
}

func (s *Service) publishPaidTx(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice) error {
	return s.publishTx(ctx, tx, events.EventInvoicePaid, invoice,
		events.DedupeKeyVersion(events.EventInvoicePaid, invoice.ID, invoice.Version))
}

func (s *Service) publishTx(ctx context.Context, tx *gorm.DB, eventType string, invoice *invoicedomain.Invoice, dedupe string) error {
	return s.outbox.PublishTx(ctx, tx, events.Event{
		TenantID: invoice.TenantID,
		Type:     eventType,
		Payload: events.InvoicePayload{
			InvoiceID:     invoice.ID.String(),
			InvoiceNumber: lo.FromPtr(invoice.InvoiceNumber),
			CustomerID:    invoice.CustomerID.String(),
			Currency:      invoice.Currency,
			Total:         invoice.Total,
			AmountDue:     invoice.AmountDue,
			Status:        string(invoice.Status),
		}.ToMap(),
		DedupeKey: dedupe,
	})
}

func (s *Service) tenantIDFromContext(ctx context.Context) (snowflake.ID, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return 0, invoicedomain.ErrInvalidTenant
	}
	return tenantID, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
