package billingerr

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

var errInvoiceNotDraft = Sentinel("invoice_not_draft", ErrInvalidState)

func TestSentinelCarriesKind(t *testing.T) {
	wrapped := fmt.Errorf("issue invoice: %w", errInvoiceNotDraft)

	require.True(t, errors.Is(wrapped, errInvoiceNotDraft))
	require.True(t, errors.Is(wrapped, ErrInvalidState))
	require.False(t, errors.Is(wrapped, ErrValidationFailed))
	require.Equal(t, "invalid_state", KindOf(wrapped))
	require.True(t, IsBusiness(wrapped))
}

func TestBuilderKeepsHints(t *testing.T) {
	err := NewError("amount exceeds remaining credit").
		WithHint("Reduce the amount applied").
		WithDetails(map[string]any{"remaining": 100}).
		Mark(ErrInsufficientCredit)

	require.True(t, errors.Is(err, ErrInsufficientCredit))
	require.Equal(t, []string{"Reduce the amount applied"}, Hints(err))
}

func TestKindOfUnknown(t *testing.T) {
	require.Equal(t, "", KindOf(nil))
	require.Equal(t, "unknown", KindOf(errors.New("boom")))
	require.False(t, IsBusiness(errors.New("boom")))
	require.False(t, IsBusiness(Mark(errors.New("db down"), ErrSequenceAllocationFailed)))
	require.Nil(t, Mark(nil, ErrNotFound))
}

func TestMarkWithSentinelKeepsKind(t *testing.T) {
	err := WithError(errors.New("connection reset")).Mark(errInvoiceNotDraft)

	require.True(t, errors.Is(err, errInvoiceNotDraft))
	require.True(t, errors.Is(err, ErrInvalidState))
	require.Equal(t, "connection reset", err.Error())
}
