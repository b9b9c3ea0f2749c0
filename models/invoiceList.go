package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/billing_backend/utils"
)

type InvoiceFilter struct {
	Status       *InvoiceStatus `form:"status"`
	DocumentType *DocumentType  `form:"document_type"`
	CustomerId   string         `form:"customer_id"`
	IssuedFrom   *time.Time     `form:"issued_from"`
	IssuedTo     *time.Time     `form:"issued_to"`
	After        *string        `form:"after"`
	Limit        int            `form:"limit"`
}

type InvoicesConnection struct {
	Edges    []*Invoice `json:"edges"`
	PageInfo *PageInfo  `json:"pageInfo"`
}

// ListInvoices pages newest first. The OVERDUE filter uses the same rule as EffectiveStatus.
func ListInvoices(ctx context.Context, filter InvoiceFilter) (*InvoicesConnection, error) {
	tenantId, err := utils.RequireTenantId(ctx)
	if err != nil {
		return nil, err
	}
	limit := pageSize(filter.Limit)
	now := Now()

	dbCtx := dbFrom(ctx).Model(&Invoice{}).Where("invoices.tenant_id = ?", tenantId)
	if filter.Status != nil {
		dbCtx = dbCtx.Scopes(StatusScope(*filter.Status, now))
	}
	if filter.DocumentType != nil {
		dbCtx = dbCtx.Where("invoices.document_type = ?", *filter.DocumentType)
	}
	if filter.CustomerId != "" {
		dbCtx = dbCtx.Where("invoices.customer_id = ?", filter.CustomerId)
	}
	if filter.IssuedFrom != nil {
		dbCtx = dbCtx.Where("invoices.issue_date >= ?", dateOnly(*filter.IssuedFrom))
	}
	if filter.IssuedTo != nil {
		dbCtx = dbCtx.Where("invoices.issue_date <= ?", dateOnly(*filter.IssuedTo))
	}
	if createdAt, id := DecodeCompositeCursor(filter.After); id != "" {
		dbCtx = dbCtx.Where("(invoices.created_at < ? OR (invoices.created_at = ? AND invoices.id < ?))", createdAt, createdAt, id)
	}

	var results []*Invoice
	err = dbCtx.Preload("Lines", orderLines).
		Order("invoices.created_at DESC, invoices.id DESC").
		Limit(limit + 1).
		Find(&results).Error
	if err != nil {
		return nil, err
	}

	hasNextPage := len(results) > limit
	if hasNextPage {
		results = results[:limit]
	}
	pageInfo := PageInfo{HasNextPage: &hasNextPage}
	if len(results) > 0 {
		first, last := results[0], results[len(results)-1]
		pageInfo.StartCursor = EncodeCompositeCursor(first.CreatedAt, first.ID)
		pageInfo.EndCursor = EncodeCompositeCursor(last.CreatedAt, last.ID)
	}
	return &InvoicesConnection{Edges: results, PageInfo: &pageInfo}, nil
}
