package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/smallbiznis/billingledger/internal/billingerr"
	"github.com/smallbiznis/billingledger/internal/clock"
	ledgerdomain "github.com/smallbiznis/billingledger/internal/ledger/domain"
	"github.com/smallbiznis/billingledger/internal/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) CreateEntryTx(ctx context.Context, tx *gorm.DB, entry ledgerdomain.Entry) (bool, error) {
	if entry.TenantID == 0 {
		return false, ledgerdomain.ErrInvalidTenant
	}
	sourceType := ledgerdomain.LedgerSourceType(strings.TrimSpace(string(entry.SourceType)))
	if sourceType == "" {
		return false, ledgerdomain.ErrInvalidSourceType
	}
	if entry.SourceID == 0 {
		return false, ledgerdomain.ErrInvalidSourceID
	}
	currency := money.NormalizeCurrency(entry.Currency)
	if err := money.ValidateCurrency(currency); err != nil {
		return false, billingerr.Mark(err, ledgerdomain.ErrInvalidCurrency)
	}
	if entry.OccurredAt.IsZero() {
		return false, ledgerdomain.ErrInvalidOccurredAt
	}

	for _, p := range entry.Postings {
		if p.Amount < 0 {
			return false, ledgerdomain.ErrInvalidLineAmount
		}
		if _, ok := ledgerdomain.DefaultAccounts[p.Account]; !ok {
			return false, errors.Wrapf(ledgerdomain.ErrInvalidAccount, "account %q", p.Account)
		}
	}
	postings := lo.Filter(entry.Postings, func(p ledgerdomain.Posting, _ int) bool {
		return p.Amount > 0
	})
	if len(postings) == 0 {
		// Nothing moves for a zero-amount source.
		return false, nil
	}
	if len(postings) < 2 {
		return false, ledgerdomain.ErrInvalidEntryLines
	}
	if err := ledgerdomain.ValidateBalanced(postings); err != nil {
		return false, err
	}

	accounts, err := s.ensureAccounts(ctx, tx, entry.TenantID)
	if err != nil {
		return false, err
	}

	now := s.clock.Now()
	header := ledgerdomain.LedgerEntry{
		ID:         s.genID.Generate(),
		TenantID:   entry.TenantID,
		SourceType: sourceType,
		SourceID:   entry.SourceID,
		Currency:   currency,
		OccurredAt: entry.OccurredAt.UTC(),
		CreatedAt:  now,
	}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "source_type"}, {Name: "source_id"}},
			DoNothing: true,
		}).
		Create(&header)
	if result.Error != nil {
		return false, errors.Wrap(result.Error, "insert ledger entry")
	}
	if result.RowsAffected == 0 {
		s.log.Info("ledger entry already exists",
			zap.String("source_type", string(sourceType)),
			zap.String("source_id", entry.SourceID.String()),
		)
		return false, nil
	}

	lines := lo.Map(postings, func(p ledgerdomain.Posting, _ int) ledgerdomain.LedgerEntryLine {
		return ledgerdomain.LedgerEntryLine{
			ID:            s.genID.Generate(),
			LedgerEntryID: header.ID,
			AccountID:     accounts[p.Account].ID,
			Direction:     p.Direction,
			Currency:      currency,
			Amount:        p.Amount,
			CreatedAt:     now,
		}
	})
	if err := tx.WithContext(ctx).Create(&lines).Error; err != nil {
		return false, errors.Wrap(err, "insert ledger entry lines")
	}

	s.log.Debug("posted ledger entry",
		zap.String("ledger_entry_id", header.ID.String()),
		zap.String("source_type", string(sourceType)),
		zap.String("source_id", entry.SourceID.String()),
	)
	return true, nil
}

// ensureAccounts creates the default chart for a tenant on first use.
func (s *Service) ensureAccounts(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) (map[ledgerdomain.LedgerAccountCode]ledgerdomain.LedgerAccount, error) {
	var existing []ledgerdomain.LedgerAccount
	if err := tx.WithContext(ctx).Where("tenant_id = ?", tenantID).Find(&existing).Error; err != nil {
		return nil, err
	}
	accounts := lo.KeyBy(existing, func(a ledgerdomain.LedgerAccount) ledgerdomain.LedgerAccountCode { return a.Code })
	if len(accounts) >= len(ledgerdomain.DefaultAccounts) {
		return accounts, nil
	}

	now := s.clock.Now()
	for code, name := range ledgerdomain.DefaultAccounts {
		if _, ok := accounts[code]; ok {
			continue
		}
		account := ledgerdomain.LedgerAccount{
			ID:        s.genID.Generate(),
			TenantID:  tenantID,
			Code:      code,
			Name:      name,
			CreatedAt: now,
		}
		if err := tx.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "code"}},
				DoNothing: true,
			}).
			Create(&account).Error; err != nil {
			return nil, errors.Wrap(err, "create ledger account")
		}
	}

	existing = existing[:0]
	if err := tx.WithContext(ctx).Where("tenant_id = ?", tenantID).Find(&existing).Error; err != nil {
		return nil, err
	}
	return lo.KeyBy(existing, func(a ledgerdomain.LedgerAccount) ledgerdomain.LedgerAccountCode { return a.Code }), nil
}

func (s *Service) Balance(ctx context.Context, tenantID snowflake.ID, code ledgerdomain.LedgerAccountCode, currency string) (int64, error) {
	var balance int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(CASE WHEN l.direction = ? THEN l.amount ELSE -l.amount END), 0)
		 FROM ledger_entry_lines l
		 JOIN ledger_accounts a ON a.id = l.account_id
		 WHERE a.tenant_id = ? AND a.code = ? AND l.currency = ?`,
		ledgerdomain.LedgerEntryDirectionDebit,
		tenantID,
		code,
		money.NormalizeCurrency(currency),
	).Scan(&balance).Error
	return balance, err
}

func (s *Service) ListEntryLines(ctx context.Context, tenantID snowflake.ID, sourceType ledgerdomain.LedgerSourceType, sourceID snowflake.ID) ([]ledgerdomain.LedgerEntryLine, error) {
	var lines []ledgerdomain.LedgerEntryLine
	err := s.db.WithContext(ctx).
		Table("ledger_entry_lines AS l").
		Select("l.*").
		Joins("JOIN ledger_entries e ON e.id = l.ledger_entry_id").
		Where("e.tenant_id = ? AND e.source_type = ? AND e.source_id = ?", tenantID, sourceType, sourceID).
		Order("l.id ASC").
		Scan(&lines).Error
	return lines, err
}

