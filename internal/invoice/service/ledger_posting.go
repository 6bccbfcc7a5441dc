package service

import (
	"context"

	invoicedomain "github.com/smallbiznis/billingledger/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/billingledger/internal/ledger/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// postIssuedInvoiceTx records the receivable inside the issuance transaction.
//
//	Debit:  Accounts Receivable  total
//	Credit: Revenue              subtotal - discount_total
//	Credit: Tax Payable          tax_total
func (s *Service) postIssuedInvoiceTx(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice) error {
	created, err := s.ledger.CreateEntryTx(ctx, tx, ledgerdomain.Entry{
		TenantID:   invoice.TenantID,
		SourceType: ledgerdomain.SourceTypeInvoice,
		SourceID:   invoice.ID,
		Currency:   invoice.Currency,
		OccurredAt: *invoice.IssuedAt,
		Postings: []ledgerdomain.Posting{
			ledgerdomain.Debit(ledgerdomain.AccountCodeAccountsReceivable, invoice.Total),
			ledgerdomain.Credit(ledgerdomain.AccountCodeRevenue, invoice.Subtotal-invoice.DiscountTotal),
			ledgerdomain.Credit(ledgerdomain.AccountCodeTaxPayable, invoice.TaxTotal),
		},
	})
	if err != nil {
		return err
	}
	if created {
		s.log.Debug("posted invoice to ledger",
			zap.String("invoice_id", invoice.ID.String()),
			zap.Int64("total", invoice.Total),
		)
	}
	return nil
}
