// Package billingerr defines the error kinds shared by every ledger component.
//
// Domain packages declare their own sentinels and mark them with one of the
// kinds below, so callers can branch on either the precise sentinel or the
// broader kind with errors.Is from github.com/cockroachdb/errors.
package billingerr

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

var (
	ErrCurrencyMismatch         = errors.New("currency_mismatch")
	ErrInvalidState             = errors.New("invalid_state")
	ErrOverpaymentRejected      = errors.New("overpayment_rejected")
	ErrRefundExceedsPayment     = errors.New("refund_exceeds_payment")
	ErrInsufficientCredit       = errors.New("insufficient_credit")
	ErrSequenceAllocationFailed = errors.New("sequence_allocation_failed")
	ErrValidationFailed         = errors.New("validation_failed")
	ErrNotFound                 = errors.New("not_found")
	ErrVersionConflict          = errors.New("version_conflict")
)

var kinds = []error{
	ErrCurrencyMismatch,
	ErrInvalidState,
	ErrOverpaymentRejected,
	ErrRefundExceedsPayment,
	ErrInsufficientCredit,
	ErrSequenceAllocationFailed,
	ErrValidationFailed,
	ErrNotFound,
	ErrVersionConflict,
}

// Sentinel declares a domain error carrying the given kind.
func Sentinel(msg string, kind error) error {
	return errors.Mark(errors.New(msg), kind)
}

// Mark makes err equivalent to reference and to every kind reference carries,
// so marking with a domain sentinel keeps its kind visible.
func Mark(err, reference error) error {
	if err == nil {
		return nil
	}
	err = errors.Mark(err, reference)
	for _, kind := range kinds {
		if kind != reference && errors.Is(reference, kind) {
			err = errors.Mark(err, kind)
		}
	}
	return err
}

// KindOf returns the name of the first kind carried by err, or "unknown".
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "unknown"
}

// IsBusiness reports whether err is a rejected business rule rather than an infrastructure failure.
func IsBusiness(err error) bool {
	switch KindOf(err) {
	case "", "unknown", ErrSequenceAllocationFailed.Error():
		return false
	default:
		return true
	}
}

// Builder provides a fluent interface for decorating errors.
// Mark must be the last call in the chain.
type Builder struct {
	err error
}

func NewError(msg string) *Builder {
	return &Builder{err: errors.New(msg)}
}

func WithError(err error) *Builder {
	return &Builder{err: err}
}

// WithHint attaches a message intended for API callers.
func (b *Builder) WithHint(hint string) *Builder {
	b.err = errors.WithHint(b.err, hint)
	return b
}

// WithDetails adds structured, log-safe details.
func (b *Builder) WithDetails(details map[string]any) *Builder {
	marshaled, err := json.Marshal(details)
	if err != nil {
		return b
	}
	b.err = errors.WithSafeDetails(b.err, "__json__:%s", errors.Safe(string(marshaled)))
	return b
}

func (b *Builder) Mark(reference error) error {
	b.err = Mark(b.err, reference)
	return b.err
}

func (b *Builder) Err() error {
	return b.err
}

// Hints returns every hint attached along the chain.
func Hints(err error) []string {
	return errors.GetAllHints(err)
}
