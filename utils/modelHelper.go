package utils

import (
	"context"
	"errors"

	"github.com/mmdatafocus/billing_backend/config"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

/* DB fetching */

// fetch model from db
// (tenant_id is used in query's WHERE, may return RecordNotFound)
func FetchModel[T any](ctx context.Context, tenantId string, id string, associations ...string) (*T, error) {
	return FetchModelTx[T](config.GetDB().WithContext(ctx), tenantId, id, associations...)
}

// FetchModelTx is FetchModel on an open transaction.
// A row of another tenant is reported exactly like a missing row.
func FetchModelTx[T any](tx *gorm.DB, tenantId string, id string, associations ...string) (*T, error) {
	dbCtx := tx.Where("tenant_id = ?", tenantId)
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}
	var result T
	err := dbCtx.Where("id = ?", id).First(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrorRecordNotFound
		}
		return nil, err
	}
	return &result, nil
}

// FetchModelForUpdate locks the row (SELECT ... FOR UPDATE) until tx ends.
func FetchModelForUpdate[T any](tx *gorm.DB, tenantId string, id string, associations ...string) (*T, error) {
	return FetchModelTx[T](tx.Clauses(clause.Locking{Strength: "UPDATE"}), tenantId, id, associations...)
}
