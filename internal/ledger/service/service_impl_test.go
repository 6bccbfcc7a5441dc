package service

import (
	"context"
	"testing"
	"time"

	crdberrors "github.com/cockroachdb/errors"
	"github.com/smallbiznis/billingledger/internal/billingerr"
	"github.com/smallbiznis/billingledger/internal/clock"
	ledgerdomain "github.com/smallbiznis/billingledger/internal/ledger/domain"
	"github.com/smallbiznis/billingledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestLedger(t *testing.T) (ledgerdomain.Service, *gorm.DB) {
	t.Helper()
	conn := testutil.NewDB(t, &ledgerdomain.LedgerAccount{}, &ledgerdomain.LedgerEntry{}, &ledgerdomain.LedgerEntryLine{})
	svc := NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: testutil.IDGen(t),
		Clock: clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
	})
	return svc, conn
}

func post(t *testing.T, conn *gorm.DB, svc ledgerdomain.Service, entry ledgerdomain.Entry) (bool, error) {
	t.Helper()
	var created bool
	err := conn.Transaction(func(tx *gorm.DB) error {
		var err error
		created, err = svc.CreateEntryTx(context.Background(), tx, entry)
		return err
	})
	return created, err
}

func invoiceEntry() ledgerdomain.Entry {
	return ledgerdomain.Entry{
		TenantID:   1,
		SourceType: ledgerdomain.SourceTypeInvoice,
		SourceID:   100,
		Currency:   "usd",
		OccurredAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Postings: []ledgerdomain.Posting{
			ledgerdomain.Debit(ledgerdomain.AccountCodeAccountsReceivable, 11000),
			ledgerdomain.Credit(ledgerdomain.AccountCodeRevenue, 10000),
			ledgerdomain.Credit(ledgerdomain.AccountCodeTaxPayable, 1000),
		},
	}
}

func TestCreateEntryIsIdempotentPerSource(t *testing.T) {
	svc, conn := newTestLedger(t)

	created, err := post(t, conn, svc, invoiceEntry())
	require.NoError(t, err)
	require.True(t, created)

	created, err = post(t, conn, svc, invoiceEntry())
	require.NoError(t, err)
	require.False(t, created)

	lines, err := svc.ListEntryLines(context.Background(), 1, ledgerdomain.SourceTypeInvoice, 100)
	require.NoError(t, err)
	assert.Len(t, lines, 3)

	ar, err := svc.Balance(context.Background(), 1, ledgerdomain.AccountCodeAccountsReceivable, "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(11000), ar)

	revenue, err := svc.Balance(context.Background(), 1, ledgerdomain.AccountCodeRevenue, "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(-10000), revenue)
}

func TestCreateEntryRejectsUnbalanced(t *testing.T) {
	svc, conn := newTestLedger(t)
	entry := invoiceEntry()
	entry.Postings[0].Amount = 10999

	_, err := post(t, conn, svc, entry)
	require.True(t, crdberrors.Is(err, ledgerdomain.ErrUnbalancedEntry))
	require.True(t, crdberrors.Is(err, billingerr.ErrValidationFailed))

	var count int64
	require.NoError(t, conn.Model(&ledgerdomain.LedgerEntry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateEntrySkipsZeroPostings(t *testing.T) {
	svc, conn := newTestLedger(t)
	entry := invoiceEntry()
	entry.Postings = []ledgerdomain.Posting{
		ledgerdomain.Debit(ledgerdomain.AccountCodeAccountsReceivable, 10000),
		ledgerdomain.Credit(ledgerdomain.AccountCodeRevenue, 10000),
		ledgerdomain.Credit(ledgerdomain.AccountCodeTaxPayable, 0),
	}
	created, err := post(t, conn, svc, entry)
	require.NoError(t, err)
	require.True(t, created)

	lines, err := svc.ListEntryLines(context.Background(), 1, ledgerdomain.SourceTypeInvoice, 100)
	require.NoError(t, err)
	assert.Len(t, lines, 2)

	entry.SourceID = 101
	entry.Postings = []ledgerdomain.Posting{
		ledgerdomain.Debit(ledgerdomain.AccountCodeAccountsReceivable, 0),
		ledgerdomain.Credit(ledgerdomain.AccountCodeRevenue, 0),
	}
	created, err = post(t, conn, svc, entry)
	require.NoError(t, err)
	require.False(t, created)
}

func TestCreateEntryValidatesInput(t *testing.T) {
	svc, conn := newTestLedger(t)

	entry := invoiceEntry()
	entry.TenantID = 0
	_, err := post(t, conn, svc, entry)
	require.ErrorIs(t, err, ledgerdomain.ErrInvalidTenant)

	entry = invoiceEntry()
	entry.Currency = "US"
	_, err = post(t, conn, svc, entry)
	require.True(t, crdberrors.Is(err, ledgerdomain.ErrInvalidCurrency))

	entry = invoiceEntry()
	entry.Postings = append(entry.Postings, ledgerdomain.Posting{Account: "suspense", Direction: ledgerdomain.LedgerEntryDirectionDebit, Amount: 1})
	_, err = post(t, conn, svc, entry)
	require.True(t, crdberrors.Is(err, ledgerdomain.ErrInvalidAccount))
}

func TestReverseSwapsDirections(t *testing.T) {
	postings := []ledgerdomain.Posting{
		ledgerdomain.Debit(ledgerdomain.AccountCodeCustomerCredit, 500),
		ledgerdomain.Credit(ledgerdomain.AccountCodeAccountsReceivable, 500),
	}
	reversed := ledgerdomain.Reverse(postings)
	assert.Equal(t, ledgerdomain.LedgerEntryDirectionCredit, reversed[0].Direction)
	assert.Equal(t, ledgerdomain.LedgerEntryDirectionDebit, reversed[1].Direction)
	assert.Equal(t, ledgerdomain.LedgerEntryDirectionDebit, postings[0].Direction)
	require.NoError(t, ledgerdomain.ValidateBalanced(reversed))
}
