package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	creditnotedomain "github.com/smallbiznis/billingledger/internal/creditnote/domain"
	"github.com/smallbiznis/billingledger/pkg/db"
	"github.com/smallbiznis/billingledger/pkg/repository"
	"gorm.io/gorm"
)

type repo struct {
	notes        *repository.Store[creditnotedomain.CreditNote]
	applications *repository.Store[creditnotedomain.CreditNoteApplication]
}

func Provide(conn *gorm.DB) creditnotedomain.Repository {
	return &repo{
		notes:        repository.ProvideStore[creditnotedomain.CreditNote](conn),
		applications: repository.ProvideStore[creditnotedomain.CreditNoteApplication](conn),
	}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, note *creditnotedomain.CreditNote) error {
	return r.notes.WithTx(tx).Create(ctx, note)
}

func (r *repo) FindByID(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*creditnotedomain.CreditNote, error) {
	return r.notes.WithTx(tx).FindByID(ctx, tenantID, id)
}

func (r *repo) FindForUpdate(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*creditnotedomain.CreditNote, error) {
	var note creditnotedomain.CreditNote
	err := db.ForUpdate(tx.WithContext(ctx)).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Take(&note).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &note, nil
}

func (r *repo) Save(ctx context.Context, tx *gorm.DB, note *creditnotedomain.CreditNote) error {
	res := tx.WithContext(ctx).
		Model(&creditnotedomain.CreditNote{}).
		Where("tenant_id = ? AND id = ? AND version = ?", note.TenantID, note.ID, note.Version).
		Updates(map[string]any{
			"credit_note_number": note.CreditNoteNumber,
			"sequence_year":      note.SequenceYear,
			"sequence_value":     note.SequenceValue,
			"sequence_hash":      note.SequenceHash,
			"status":             note.Status,
			"amount_remaining":   note.AmountRemaining,
			"issued_at":          note.IssuedAt,
			"voided_at":          note.VoidedAt,
			"version":            note.Version + 1,
			"updated_at":         note.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return creditnotedomain.ErrVersionConflict
	}
	note.Version++
	return nil
}

func (r *repo) InsertApplication(ctx context.Context, tx *gorm.DB, application *creditnotedomain.CreditNoteApplication) error {
	if err := r.applications.WithTx(tx).Create(ctx, application); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return creditnotedomain.ErrApplicationRevoked
		}
		return err
	}
	return nil
}

func (r *repo) FindApplication(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*creditnotedomain.CreditNoteApplication, error) {
	return r.applications.WithTx(tx).FindByID(ctx, tenantID, id)
}

func (r *repo) FindReversal(ctx context.Context, tx *gorm.DB, tenantID, applicationID snowflake.ID) (*creditnotedomain.CreditNoteApplication, error) {
	var application creditnotedomain.CreditNoteApplication
	err := tx.WithContext(ctx).
		Where("tenant_id = ? AND reverses_id = ?", tenantID, applicationID).
		Take(&application).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &application, nil
}

func (r *repo) ListApplications(ctx context.Context, tx *gorm.DB, tenantID, creditNoteID snowflake.ID) ([]creditnotedomain.CreditNoteApplication, error) {
	var applications []creditnotedomain.CreditNoteApplication
	err := tx.WithContext(ctx).
		Where("tenant_id = ? AND credit_note_id = ?", tenantID, creditNoteID).
		Order("created_at ASC, id ASC").
		Find(&applications).Error
	return applications, err
}
