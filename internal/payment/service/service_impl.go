package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/smallbiznis/billingledger/internal/clock"
	invoicedomain "github.com/smallbiznis/billingledger/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/billingledger/internal/ledger/domain"
	"github.com/smallbiznis/billingledger/internal/money"
	obsmetrics "github.com/smallbiznis/billingledger/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/billingledger/internal/payment/domain"
	"github.com/smallbiznis/billingledger/pkg/log/ctxlogger"
	"github.com/smallbiznis/billingledger/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     paymentdomain.Repository
	Invoices invoicedomain.Service
	Ledger   ledgerdomain.Service
	Metrics  *obsmetrics.LedgerMetrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     paymentdomain.Repository
	invoices invoicedomain.Service
	ledger   ledgerdomain.Service
	metrics  *obsmetrics.LedgerMetrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		invoices: p.Invoices,
		ledger:   p.Ledger,
		metrics:  p.Metrics,
	}
}

// RecordPaymentAttempt stores an attempted payment. A repeated attempt for
// the same provider payment id returns the stored record.
func (s *Service) RecordPaymentAttempt(ctx context.Context, req paymentdomain.PaymentAttempt) (*paymentdomain.Payment, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	result := paymentdomain.PaymentResult{
		InvoiceID:         req.InvoiceID,
		Provider:          req.Provider,
		ProviderPaymentID: req.ProviderPaymentID,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Status:            paymentdomain.PaymentStatusAttempted,
	}
	if err := normalizePayment(&result); err != nil {
		return nil, err
	}

	var payment *paymentdomain.Payment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.invoices.LockTx(ctx, tx, tenantID, result.InvoiceID)
		if err != nil {
			return err
		}
		payment, err = s.loadOrInsertPayment(ctx, tx, invoice, result)
		return err
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// RecordPaymentResult applies a provider's terminal payment outcome exactly
// once. Replays of the same outcome return the stored payment unchanged.
func (s *Service) RecordPaymentResult(ctx context.Context, req paymentdomain.PaymentResult) (*paymentdomain.Payment, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if !req.Status.IsTerminal() {
		return nil, paymentdomain.ErrInvalidStatus
	}
	if err := normalizePayment(&req); err != nil {
		return nil, err
	}

	var (
		payment  *paymentdomain.Payment
		applied  bool
		settling bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.invoices.LockTx(ctx, tx, tenantID, req.InvoiceID)
		if err != nil {
			return err
		}
		payment, err = s.loadOrInsertPayment(ctx, tx, invoice, req)
		if err != nil {
			return err
		}
		if payment.Status.IsTerminal() {
			if payment.Status != req.Status {
				return errors.Wrapf(paymentdomain.ErrConflictingResult,
					"payment %s already %s", payment.ProviderPaymentID, payment.Status)
			}
			return nil
		}

		now := s.clock.Now()
		payment.UpdatedAt = now
		switch req.Status {
		case paymentdomain.PaymentStatusFailed:
			payment.Status = paymentdomain.PaymentStatusFailed
			payment.FailedAt = &now
			if reason := strings.TrimSpace(req.FailureReason); reason != "" {
				payment.FailureReason = &reason
			}
		case paymentdomain.PaymentStatusSucceeded:
			settling = true
			if _, err := s.invoices.ApplySettlementTx(ctx, tx, tenantID, invoice.ID, invoicedomain.Settlement{
				Kind:     invoicedomain.SettlementPayment,
				Amount:   payment.Amount,
				Currency: payment.Currency,
				At:       now,
			}); err != nil {
				return err
			}
			payment.Status = paymentdomain.PaymentStatusSucceeded
			payment.SucceededAt = &now
			if err := s.postPaymentTx(ctx, tx, payment, now); err != nil {
				return err
			}
		}
		applied = true
		return s.repo.UpdatePayment(ctx, tx, payment)
	})
	if settling {
		s.metrics.ObserveSettlement(obsmetrics.SettlementPayment, err)
	}
	if err != nil {
		ctxlogger.WithContext(ctx, s.log).Warn("payment result rejected",
			zap.String("provider_payment_id", req.ProviderPaymentID),
			zap.String("status", string(req.Status)),
			zap.Error(err),
		)
		return nil, err
	}
	if applied {
		s.metrics.IncProviderResult("payment", string(payment.Status))
	}
	return payment, nil
}

// RecordRefundResult records a refund outcome. Only succeeded refunds move
// balances; pending and failed refunds are bookkeeping.
func (s *Service) RecordRefundResult(ctx context.Context, req paymentdomain.RefundResult) (*paymentdomain.Refund, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := normalizeRefund(&req); err != nil {
		return nil, err
	}

	var (
		refund   *paymentdomain.Refund
		applied  bool
		settling bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := s.repo.FindPayment(ctx, tx, tenantID, req.PaymentID)
		if err != nil {
			return err
		}
		if found == nil {
			return paymentdomain.ErrPaymentNotFound
		}
		// Lock order is invoice, payment, refund for every balance change.
		if _, err := s.invoices.LockTx(ctx, tx, tenantID, found.InvoiceID); err != nil {
			return err
		}
		payment, err := s.repo.FindPaymentForUpdate(ctx, tx, tenantID, req.PaymentID)
		if err != nil {
			return err
		}

		refund, err = s.loadOrInsertRefund(ctx, tx, payment, req)
		if err != nil {
			return err
		}
		if refund.Status.IsTerminal() {
			if refund.Status != req.Status {
				return errors.Wrapf(paymentdomain.ErrConflictingRefund,
					"refund %s already %s", refund.ProviderRefundID, refund.Status)
			}
			return nil
		}
		if refund.Status == req.Status {
			return nil
		}

		now := s.clock.Now()
		refund.UpdatedAt = now
		switch req.Status {
		case paymentdomain.RefundStatusFailed:
			refund.Status = paymentdomain.RefundStatusFailed
			refund.FailedAt = &now
		case paymentdomain.RefundStatusSucceeded:
			settling = true
			if payment.Status != paymentdomain.PaymentStatusSucceeded {
				return errors.Wrapf(paymentdomain.ErrPaymentNotSucceeded, "payment %s is %s", payment.ID, payment.Status)
			}
			refunded, err := s.repo.SumSucceededRefunds(ctx, tx, tenantID, payment.ID)
			if err != nil {
				return err
			}
			if refund.Amount+refunded > payment.Amount {
				return errors.Wrapf(paymentdomain.ErrRefundExceedsPayment,
					"refund %d exceeds remaining %d", refund.Amount, payment.Amount-refunded)
			}
			if _, err := s.invoices.ApplySettlementTx(ctx, tx, tenantID, payment.InvoiceID, invoicedomain.Settlement{
				Kind:     invoicedomain.SettlementRefund,
				Amount:   refund.Amount,
				Currency: payment.Currency,
				At:       now,
			}); err != nil {
				return err
			}
			refund.Status = paymentdomain.RefundStatusSucceeded
			refund.SucceededAt = &now
			payment.AmountRefunded = refunded + refund.Amount
			payment.UpdatedAt = now
			if err := s.repo.UpdatePayment(ctx, tx, payment); err != nil {
				return err
			}
			if err := s.postRefundTx(ctx, tx, payment, refund, now); err != nil {
				return err
			}
		}
		applied = true
		return s.repo.UpdateRefund(ctx, tx, refund)
	})
	if settling {
		s.metrics.ObserveSettlement(obsmetrics.SettlementRefund, err)
	}
	if err != nil {
		ctxlogger.WithContext(ctx, s.log).Warn("refund result rejected",
			zap.String("provider_refund_id", req.ProviderRefundID),
			zap.String("status", string(req.Status)),
			zap.Error(err),
		)
		return nil, err
	}
	if applied {
		s.metrics.IncProviderResult("refund", string(refund.Status))
	}
	return refund, nil
}

func (s *Service) GetPayment(ctx context.Context, id snowflake.ID) (*paymentdomain.Payment, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	payment, err := s.repo.FindPayment(ctx, s.db, tenantID, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Service) ListPayments(ctx context.Context, invoiceID snowflake.ID) ([]paymentdomain.Payment, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, s.db, tenantID, invoiceID)
}

func (s *Service) ListRefunds(ctx context.Context, paymentID snowflake.ID) ([]paymentdomain.Refund, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListRefunds(ctx, s.db, tenantID, paymentID)
}

// loadOrInsertPayment returns the locked payment for the provider id, creating
// an attempted one when none exists. The stored record must describe the same
// payment as req.
func (s *Service) loadOrInsertPayment(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, req paymentdomain.PaymentResult) (*paymentdomain.Payment, error) {
	now := s.clock.Now()
	candidate := &paymentdomain.Payment{
		ID:                s.genID.Generate(),
		TenantID:          invoice.TenantID,
		InvoiceID:         invoice.ID,
		CustomerID:        invoice.CustomerID,
		Provider:          req.Provider,
		ProviderPaymentID: req.ProviderPaymentID,
		Status:            paymentdomain.PaymentStatusAttempted,
		Amount:            req.Amount,
		Currency:          req.Currency,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	inserted, err := s.repo.InsertPayment(ctx, tx, candidate)
	if err != nil {
		return nil, err
	}
	if inserted {
		return candidate, nil
	}

	stored, err := s.repo.FindPaymentByProviderIDForUpdate(ctx, tx, invoice.TenantID, req.ProviderPaymentID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	if stored.InvoiceID != req.InvoiceID || stored.Amount != req.Amount || stored.Currency != req.Currency || stored.Provider != req.Provider {
		return nil, errors.Wrapf(paymentdomain.ErrPaymentMismatch, "provider payment %s", req.ProviderPaymentID)
	}
	return stored, nil
}

func (s *Service) loadOrInsertRefund(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, req paymentdomain.RefundResult) (*paymentdomain.Refund, error) {
	now := s.clock.Now()
	candidate := &paymentdomain.Refund{
		ID:               s.genID.Generate(),
		TenantID:         payment.TenantID,
		PaymentID:        payment.ID,
		InvoiceID:        payment.InvoiceID,
		ProviderRefundID: req.ProviderRefundID,
		Status:           paymentdomain.RefundStatusPending,
		Amount:           req.Amount,
		Reason:           req.Reason,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	inserted, err := s.repo.InsertRefund(ctx, tx, candidate)
	if err != nil {
		return nil, err
	}
	if inserted {
		return candidate, nil
	}

	stored, err := s.repo.FindRefundByProviderIDForUpdate(ctx, tx, payment.TenantID, req.ProviderRefundID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	if stored.PaymentID != req.PaymentID || stored.Amount != req.Amount {
		return nil, errors.Wrapf(paymentdomain.ErrRefundMismatch, "provider refund %s", req.ProviderRefundID)
	}
	return stored, nil
}

// postPaymentTx moves the settled amount from receivables to cash.
func (s *Service) postPaymentTx(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, at time.Time) error {
	_, err := s.ledger.CreateEntryTx(ctx, tx, ledgerdomain.Entry{
		TenantID:   payment.TenantID,
		SourceType: ledgerdomain.SourceTypePayment,
		SourceID:   payment.ID,
		Currency:   payment.Currency,
		OccurredAt: at,
		Postings: []ledgerdomain.Posting{
			ledgerdomain.Debit(ledgerdomain.AccountCodeCash, payment.Amount),
			ledgerdomain.Credit(ledgerdomain.AccountCodeAccountsReceivable, payment.Amount),
		},
	})
	return err
}

func (s *Service) postRefundTx(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, refund *paymentdomain.Refund, at time.Time) error {
	_, err := s.ledger.CreateEntryTx(ctx, tx, ledgerdomain.Entry{
		TenantID:   refund.TenantID,
		SourceType: ledgerdomain.SourceTypeRefund,
		SourceID:   refund.ID,
		Currency:   payment.Currency,
		OccurredAt: at,
		Postings: []ledgerdomain.Posting{
			ledgerdomain.Debit(ledgerdomain.AccountCodeAccountsReceivable, refund.Amount),
			ledgerdomain.Credit(ledgerdomain.AccountCodeCash, refund.Amount),
		},
	})
	return err
}

func normalizePayment(req *paymentdomain.PaymentResult) error {
	if req.InvoiceID == 0 {
		return paymentdomain.ErrInvalidInvoice
	}
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	if req.Provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	req.ProviderPaymentID = strings.TrimSpace(req.ProviderPaymentID)
	if req.ProviderPaymentID == "" {
		return paymentdomain.ErrInvalidProviderPaymentID
	}
	if req.Amount <= 0 {
		return paymentdomain.ErrInvalidAmount
	}
	req.Currency = money.NormalizeCurrency(req.Currency)
	return money.ValidateCurrency(req.Currency)
}

func normalizeRefund(req *paymentdomain.RefundResult) error {
	if req.PaymentID == 0 {
		return paymentdomain.ErrInvalidPayment
	}
	req.ProviderRefundID = strings.TrimSpace(req.ProviderRefundID)
	if req.ProviderRefundID == "" {
		return paymentdomain.ErrInvalidProviderRefundID
	}
	if req.Amount <= 0 {
		return paymentdomain.ErrInvalidAmount
	}
	switch req.Status {
	case paymentdomain.RefundStatusPending, paymentdomain.RefundStatusSucceeded, paymentdomain.RefundStatusFailed:
	default:
		return paymentdomain.ErrInvalidStatus
	}
	req.Reason = strings.TrimSpace(req.Reason)
	return nil
}

func (s *Service) tenantIDFromContext(ctx context.Context) (snowflake.ID, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return 0, paymentdomain.ErrInvalidTenant
	}
	return tenantID, nil
}
