package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/smallbiznis/billingledger/internal/clock"
	invoicedomain "github.com/smallbiznis/billingledger/internal/invoice/domain"
	"github.com/smallbiznis/billingledger/internal/money"
	recurringdomain "github.com/smallbiznis/billingledger/internal/recurring/domain"
	"github.com/smallbiznis/billingledger/pkg/log/ctxlogger"
	"github.com/smallbiznis/billingledger/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxLastErrorLength = 1024

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     recurringdomain.Repository
	Invoices invoicedomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     recurringdomain.Repository
	invoices invoicedomain.Service
}

func NewService(p ServiceParam) recurringdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("recurring.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		invoices: p.Invoices,
	}
}

func (s *Service) Create(ctx context.Context, req recurringdomain.CreateRequest) (*recurringdomain.RecurringInvoice, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := validateCreate(&req); err != nil {
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
	start := req.StartDate.UTC()
	template := &recurringdomain.RecurringInvoice{
		ID:               s.genID.Generate(),
		TenantID:         tenantID,
		CustomerID:       req.CustomerID,
		Currency:         req.Currency,
		Status:           recurringdomain.RecurringStatusActive,
		BillingInterval:  req.Interval,
		IntervalCount:    req.IntervalCount,
		AnchorDay:        start.Day(),
		NextBillingDate:  start,
		StartDate:        start,
		EndDate:          req.EndDate,
		OccurrencesLimit: req.OccurrencesLimit,
		DueDays:          req.DueDays,
		Memo:             strings.TrimSpace(req.Memo),
		Metadata:         metadata,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	items := lo.Map(req.Items, func(item recurringdomain.ItemRequest, idx int) *recurringdomain.RecurringInvoiceItem {
		return &recurringdomain.RecurringInvoiceItem{
			ID:                 s.genID.Generate(),
			TenantID:           tenantID,
			RecurringInvoiceID: template.ID,
			Position:           idx,
			Description:        strings.TrimSpace(item.Description),
			Quantity:           item.Quantity,
			UnitAmount:         item.UnitAmount,
			TaxRateID:          item.TaxRateID,
			DiscountID:         item.DiscountID,
			CreatedAt:          now,
		}
	})

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.Insert(ctx, tx, template, items)
	})
	if err != nil {
		return nil, err
	}
	return template, nil
}

func validateCreate(req *recurringdomain.CreateRequest) error {
	if req.CustomerID == 0 {
		return recurringdomain.ErrInvalidCustomer
	}
	req.Currency = money.NormalizeCurrency(req.Currency)
	if err := money.ValidateCurrency(req.Currency); err != nil {
		return err
	}
	if !req.Interval.Valid() {
		return recurringdomain.ErrInvalidInterval
	}
	if req.IntervalCount == 0 {
		req.IntervalCount = 1
	}
	if req.IntervalCount < 0 {
		return recurringdomain.ErrInvalidIntervalCount
	}
	if req.StartDate.IsZero() {
		return recurringdomain.ErrInvalidStartDate
	}
	if req.EndDate != nil {
		end := req.EndDate.UTC()
		if end.Before(req.StartDate) {
			return recurringdomain.ErrInvalidEndDate
		}
		req.EndDate = &end
	}
	if req.OccurrencesLimit != nil && *req.OccurrencesLimit <= 0 {
		return recurringdomain.ErrInvalidLimit
	}
	if req.DueDays < 0 {
		return recurringdomain.ErrInvalidDueDays
	}
	if len(req.Items) == 0 {
		return recurringdomain.ErrNoItems
	}
	for _, item := range req.Items {
		if item.Quantity.IsNegative() || item.UnitAmount < 0 {
			return recurringdomain.ErrInvalidItem
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*recurringdomain.RecurringInvoice, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	template, err := s.repo.FindByID(ctx, s.db, tenantID, id)
	if err != nil {
		return nil, err
	}
	if template == nil {
		return nil, recurringdomain.ErrTemplateNotFound
	}
	return template, nil
}

func (s *Service) ListItems(ctx context.Context, id snowflake.ID) ([]recurringdomain.RecurringInvoiceItem, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListItems(ctx, s.db, tenantID, id)
}

func (s *Service) Pause(ctx context.Context, id snowflake.ID) (*recurringdomain.RecurringInvoice, error) {
	return s.transition(ctx, id, (*recurringdomain.RecurringInvoice).Pause)
}

func (s *Service) Resume(ctx context.Context, id snowflake.ID) (*recurringdomain.RecurringInvoice, error) {
	return s.transition(ctx, id, (*recurringdomain.RecurringInvoice).Resume)
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID) (*recurringdomain.RecurringInvoice, error) {
	return s.transition(ctx, id, (*recurringdomain.RecurringInvoice).Cancel)
}

func (s *Service) transition(ctx context.Context, id snowflake.ID, apply func(*recurringdomain.RecurringInvoice, time.Time) error) (*recurringdomain.RecurringInvoice, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var template *recurringdomain.RecurringInvoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		template, err = s.lockTx(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if err := apply(template, s.clock.Now()); err != nil {
			return errors.Wrapf(err, "recurring invoice %s is %s", template.ID, template.Status)
		}
		return s.repo.Save(ctx, tx, template)
	})
	if err != nil {
		return nil, err
	}
	return template, nil
}

// GenerateNext creates, fills and issues one invoice for the template's
// current period in a single transaction, then advances the schedule.
func (s *Service) GenerateNext(ctx context.Context, id snowflake.ID, now time.Time) (recurringdomain.GenerateResult, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return recurringdomain.GenerateResult{}, err
	}

	var result recurringdomain.GenerateResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		template, err := s.lockTx(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		result.Template = template
		if template.Status != recurringdomain.RecurringStatusActive {
			return errors.Wrapf(recurringdomain.ErrTemplateNotActive, "recurring invoice %s is %s", template.ID, template.Status)
		}
		if template.HasReachedLimit() || template.HasPassedEndDate() {
			template.Complete(now)
			return s.repo.Save(ctx, tx, template)
		}
		if !template.IsDue(now) {
			return errors.Wrapf(recurringdomain.ErrNotDue, "next billing date %s", template.NextBillingDate.Format(time.RFC3339))
		}

		items, err := s.repo.ListItems(ctx, tx, tenantID, template.ID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return recurringdomain.ErrNoItems
		}

		billingDate := template.NextBillingDate
		dueAt := now.AddDate(0, 0, template.DueDays)
		metadata := map[string]any{
			"recurring_invoice_id": template.ID.String(),
			"billing_date":         billingDate.Format(time.DateOnly),
		}
		for key, value := range template.Metadata {
			metadata[key] = value
		}
		draft, err := s.invoices.CreateDraftTx(ctx, tx, tenantID, invoicedomain.CreateDraftRequest{
			CustomerID:     template.CustomerID,
			Currency:       template.Currency,
			DueAt:          &dueAt,
			SubscriptionID: &template.ID,
			Memo:           template.Memo,
			Metadata:       metadata,
		})
		if err != nil {
			return err
		}
		for _, item := range items {
			if _, err := s.invoices.AddItemTx(ctx, tx, tenantID, invoicedomain.AddItemRequest{
				InvoiceID:   draft.ID,
				Description: item.Description,
				Quantity:    item.Quantity,
				UnitAmount:  item.UnitAmount,
				TaxRateID:   item.TaxRateID,
				DiscountID:  item.DiscountID,
			}); err != nil {
				return err
			}
		}
		invoice, err := s.invoices.IssueTx(ctx, tx, tenantID, invoicedomain.IssueRequest{InvoiceID: draft.ID})
		if err != nil {
			return err
		}
		result.Invoice = invoice

		if err := template.RecordOccurrence(invoice.ID, now); err != nil {
			return err
		}
		return s.repo.Save(ctx, tx, template)
	})
	if err != nil {
		return recurringdomain.GenerateResult{}, err
	}

	if result.Invoice != nil {
		ctxlogger.WithContext(ctx, s.log).Info("recurring invoice generated",
			zap.String("recurring_invoice_id", id.String()),
			zap.String("invoice_id", result.Invoice.ID.String()),
			zap.Int("occurrence", result.Template.OccurrencesCount),
			zap.Time("next_billing_date", result.Template.NextBillingDate),
		)
	}
	return result, nil
}

func (s *Service) ClaimDue(ctx context.Context, now time.Time, owner string, ttl time.Duration, limit int) ([]recurringdomain.RecurringInvoice, error) {
	candidates, err := s.repo.ListDue(ctx, s.db, now, limit)
	if err != nil {
		return nil, err
	}
	until := now.Add(ttl)
	claimed := make([]recurringdomain.RecurringInvoice, 0, len(candidates))
	for _, candidate := range candidates {
		ok, err := s.repo.AcquireLease(ctx, s.db, candidate.ID, owner, now, until)
		if err != nil {
			return claimed, err
		}
		if !ok {
			continue
		}
		candidate.LockedBy = &owner
		candidate.LockedUntil = &until
		claimed = append(claimed, candidate)
	}
	return claimed, nil
}

func (s *Service) Release(ctx context.Context, template recurringdomain.RecurringInvoice, owner string, failure error) error {
	var lastError *string
	if failure != nil {
		msg := failure.Error()
		if len(msg) > maxLastErrorLength {
			msg = msg[:maxLastErrorLength]
		}
		lastError = &msg
	}
	return s.repo.ReleaseLease(ctx, s.db, template.ID, owner, lastError, s.clock.Now())
}

func (s *Service) lockTx(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*recurringdomain.RecurringInvoice, error) {
	template, err := s.repo.FindForUpdate(ctx, tx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if template == nil {
		return nil, recurringdomain.ErrTemplateNotFound
	}
	return template, nil
}

func (s *Service) tenantIDFromContext(ctx context.Context) (snowflake.ID, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return 0, recurringdomain.ErrInvalidTenant
	}
	return tenantID, nil
}
