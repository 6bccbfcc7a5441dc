package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// QueryOption customises a store query.
type QueryOption func(*gorm.DB) *gorm.DB

func OrderBy(expr string) QueryOption {
	return func(db *gorm.DB) *gorm.DB { return db.Order(expr) }
}

func Limit(n int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if n <= 0 {
			return db
		}
		return db.Limit(n)
	}
}

func Where(query any, args ...any) QueryOption {
	return func(db *gorm.DB) *gorm.DB { return db.Where(query, args...) }
}

// Store is a tenant-scoped gorm store for simple records.
type Store[T any] struct {
	db *gorm.DB
}

func ProvideStore[T any](db *gorm.DB) *Store[T] {
	return &Store[T]{db: db}
}

// WithTx binds the store to an open transaction.
func (r *Store[T]) WithTx(tx *gorm.DB) *Store[T] {
	return &Store[T]{db: tx}
}

func (r *Store[T]) Create(ctx context.Context, resource *T) error {
	return r.db.WithContext(ctx).Create(resource).Error
}

func (r *Store[T]) BatchCreate(ctx context.Context, resources []*T) error {
	if len(resources) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(resources).Error
}

// FindByID returns nil, nil when the record does not exist for the tenant.
func (r *Store[T]) FindByID(ctx context.Context, tenantID, id snowflake.ID) (*T, error) {
	var result T
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Take(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

func (r *Store[T]) Find(ctx context.Context, tenantID snowflake.ID, opts ...QueryOption) ([]*T, error) {
	var result []*T
	stmt := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	for _, opt := range opts {
		stmt = opt(stmt)
	}
	err := stmt.Find(&result).Error
	return result, err
}

func (r *Store[T]) Update(ctx context.Context, tenantID, id snowflake.ID, fields map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(new(T)).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Updates(fields)
	return res.RowsAffected, res.Error
}
