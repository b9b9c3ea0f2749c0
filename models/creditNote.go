package models

import (
	"context"

	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type NewCreditNote struct {
	Items  []NewInvoiceLine `json:"items" validate:"dive"`
	Reason string           `json:"reason" validate:"max=255"`
}

// CreateCreditNote issues a DRAFT credit note against a sent or paid invoice.
// No items credits every line of the original. The original invoice is not modified;
// all credit notes of one invoice together never exceed its total.
func CreateCreditNote(ctx context.Context, invoiceId string, input *NewCreditNote) (*Invoice, error) {
	tenantId, err := utils.RequireTenantId(ctx)
	if err != nil {
		return nil, err
	}
	for i := range input.Items {
		if input.Items[i].DiscountType == "" {
			input.Items[i].DiscountType = utils.DiscountTypePercentage
		}
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	for i, item := range input.Items {
		if err := utils.ValidateLineInput(item.lineInput()); err != nil {
			return nil, utils.NewValidationErrorf("item %d: %s", i+1, err.Error())
		}
	}

	tx := dbFrom(ctx).Begin()
	original, err := lockInvoice(tx, tenantId, invoiceId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	note, err := buildCreditNote(tx, original, input)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Create(note).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	note.DisplayStatus = InvoiceStatusDraft
	return note, nil
}

func buildCreditNote(tx *gorm.DB, original *Invoice, input *NewCreditNote) (*Invoice, error) {
	if original.DocumentType != DocumentTypeInvoice {
		return nil, utils.NewValidationErrorf("credit notes can only reference invoices, not %s documents", original.DocumentType)
	}
	switch original.Status {
	case InvoiceStatusDraft:
		return nil, utils.ErrInvoiceNotIssued
	case InvoiceStatusCancelled:
		return nil, utils.ErrInvoiceCancelled
	}

	items := input.Items
	if len(items) == 0 {
		items = make([]NewInvoiceLine, len(original.Lines))
		for i, l := range original.Lines {
			items[i] = NewInvoiceLine{
				Description:  l.Description,
				Quantity:     l.Quantity,
				UnitPrice:    l.UnitPrice,
				Discount:     l.Discount,
				DiscountType: l.DiscountType,
				TaxRate:      l.TaxRate,
			}
		}
	}
	lines, amounts := buildInvoiceLines(original.TenantId, items, original.Currency)

	credited, err := creditedAmount(tx, original)
	if err != nil {
		return nil, err
	}
	creditable := original.TotalAmount.Sub(credited)
	if amounts.TotalAmount.GreaterThan(creditable) {
		return nil, utils.ErrCreditExceedsInvoice.WithMessage(
			"credit of " + amounts.TotalAmount.String() + " exceeds the remaining creditable amount of " + creditable.String())
	}

	negated := amounts.Negate()
	for i := range lines {
		lines[i].Subtotal = lines[i].Subtotal.Neg()
		lines[i].TaxAmount = lines[i].TaxAmount.Neg()
		lines[i].Total = lines[i].Total.Neg()
	}
	issueDate := dateOnly(Now())
	originalId := original.ID
	return &Invoice{
		TenantId:          original.TenantId,
		DocumentType:      DocumentTypeCreditNote,
		CustomerId:        original.CustomerId,
		BillingSnapshot:   original.BillingSnapshot,
		IssueDate:         issueDate,
		DueDate:           issueDate,
		TaxableSupplyDate: original.TaxableSupplyDate,
		Currency:          original.Currency,
		Subtotal:          negated.Subtotal,
		TaxAmount:         negated.TaxAmount,
		TotalAmount:       negated.TotalAmount,
		PaidAmount:        decimal.Zero,
		Status:            InvoiceStatusDraft,
		OriginalInvoiceId: &originalId,
		Notes:             input.Reason,
		Lines:             lines,
	}, nil
}

// creditedAmount is the positive sum already credited by non-cancelled credit notes.
func creditedAmount(tx *gorm.DB, original *Invoice) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := tx.Model(&Invoice{}).
		Select("COALESCE(SUM(total_amount), 0)").
		Where("tenant_id = ? AND original_invoice_id = ? AND document_type = ? AND status <> ?",
			original.TenantId, original.ID, DocumentTypeCreditNote, InvoiceStatusCancelled).
		Row().Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return sum.Neg(), nil
}
