package domain

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
)

func TestCreditNoteBalance(t *testing.T) {
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	note := &CreditNote{Status: CreditNoteStatusDraft, Total: 3000}

	require.ErrorIs(t, note.Consume(100), ErrCreditNoteNotIssued)
	note.MarkIssued(now)
	require.Equal(t, int64(3000), note.AmountRemaining)

	require.ErrorIs(t, note.Consume(0), ErrInvalidAmount)
	require.ErrorIs(t, note.Consume(3001), ErrInsufficientCredit)
	require.NoError(t, note.Consume(1200))
	require.Equal(t, int64(1800), note.AmountRemaining)
	require.False(t, note.CanVoid(), "partially used credit cannot be voided")

	require.ErrorIs(t, note.Restore(1201), ErrInvalidAmount)
	require.NoError(t, note.Restore(1200))
	require.True(t, note.CanVoid())

	require.NoError(t, note.Void(now))
	require.Zero(t, note.AmountRemaining)
	require.ErrorIs(t, note.Void(now), ErrCreditNoteNotVoidable)
	require.ErrorIs(t, note.Restore(10), ErrCreditNoteNotIssued)
}

func TestApplicationIsReversal(t *testing.T) {
	id := snowflake.ID(9)
	require.False(t, CreditNoteApplication{AmountApplied: 10}.IsReversal())
	require.True(t, CreditNoteApplication{AmountApplied: -10, ReversesID: &id}.IsReversal())
}
