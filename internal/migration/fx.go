package migration

import (
	"fmt"

	"github.com/smallbiznis/billingledger/internal/config"
	creditnotedomain "github.com/smallbiznis/billingledger/internal/creditnote/domain"
	"github.com/smallbiznis/billingledger/internal/events"
	invoicedomain "github.com/smallbiznis/billingledger/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/billingledger/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/billingledger/internal/payment/domain"
	pricingdomain "github.com/smallbiznis/billingledger/internal/pricing/domain"
	recurringdomain "github.com/smallbiznis/billingledger/internal/recurring/domain"
	"github.com/smallbiznis/billingledger/internal/sequence"
	"github.com/smallbiznis/billingledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.RunMigrations {
			log.Info("database migrations skipped")
			return nil
		}
		if !db.IsPostgres(conn) {
			// the embedded SQL targets postgres; other dialects are for local runs
			return conn.AutoMigrate(Models()...)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		result, err := RunMigrations(sqlDB)
		if err != nil {
			return err
		}
		if result.Dirty {
			return fmt.Errorf("schema version %d is dirty", result.Version)
		}
		log.Info("database schema ready",
			zap.Uint("version", result.Version),
			zap.Bool("applied", result.Applied),
		)
		return nil
	}),
)

// Models lists every persisted record in migration order.
func Models() []any {
	return []any{
		&sequence.Sequence{},
		&pricingdomain.TaxRate{},
		&pricingdomain.Discount{},
		&pricingdomain.DiscountRedemption{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&ledgerdomain.LedgerAccount{},
		&ledgerdomain.LedgerEntry{},
		&ledgerdomain.LedgerEntryLine{},
		&events.OutboxEvent{},
		&paymentdomain.Payment{},
		&paymentdomain.Refund{},
		&creditnotedomain.CreditNote{},
		&creditnotedomain.CreditNoteApplication{},
		&recurringdomain.RecurringInvoice{},
		&recurringdomain.RecurringInvoiceItem{},
	}
}
