package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/metrics"
	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// Payment is money received against one invoice. Invoice.PaidAmount is always the
// sum of its payments.
type Payment struct {
	ID               string          `gorm:"size:36;primaryKey" json:"id"`
	TenantId         string          `gorm:"size:64;not null;index;uniqueIndex:uniq_gateway_payment,priority:1" json:"tenant_id"`
	InvoiceId        string          `gorm:"size:36;not null;index" json:"invoice_id"`
	Amount           decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	OverpaidAmount   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"overpaid_amount"`
	PaidAt           time.Time       `gorm:"not null" json:"paid_at"`
	PaymentMethod    PaymentMethod   `gorm:"size:20;not null" json:"payment_method"`
	Source           PaymentSource   `gorm:"size:20;not null" json:"source"`
	Note             string          `gorm:"size:255" json:"note"`
	GatewayPaymentId *string         `gorm:"size:255;uniqueIndex:uniq_gateway_payment,priority:2" json:"gateway_payment_id"`
	CreatedBy        string          `gorm:"size:64" json:"created_by"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

type PaymentInput struct {
	Amount           decimal.Decimal `json:"amount"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	PaidAt           *time.Time      `json:"paid_at"`
	Note             string          `json:"note" validate:"max=255"`
	GatewayPaymentId *string         `json:"gateway_payment_id" validate:"omitempty,max=255"`
	// SettleBalance pays whatever is outstanding when the invoice row is locked; Amount is ignored.
	SettleBalance bool          `json:"-"`
	Source        PaymentSource `json:"-"`
}

type PaymentApplication struct {
	Invoice        *Invoice        `json:"invoice"`
	Payment        *Payment        `json:"payment"`
	AppliedAmount  decimal.Decimal `json:"applied_amount"`
	OverpaidAmount decimal.Decimal `json:"overpaid_amount"`
	Replayed       bool            `json:"replayed"`
}

type PaymentNotificationPayload struct {
	InvoiceId    string          `json:"invoice_id"`
	Number       string          `json:"number"`
	PaymentId    string          `json:"payment_id"`
	Amount       decimal.Decimal `json:"amount"`
	Balance      decimal.Decimal `json:"balance"`
	Currency     string          `json:"currency"`
	Status       InvoiceStatus   `json:"status"`
	BillingName  string          `json:"billing_name"`
	BillingEmail string          `json:"billing_email"`
}

func (input *PaymentInput) validate() error {
	if !input.SettleBalance && !input.Amount.IsPositive() {
		return utils.NewValidationError("amount must be greater than zero")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	input.GatewayPaymentId = nonEmpty(input.GatewayPaymentId)
	if input.PaymentMethod == "" {
		input.PaymentMethod = PaymentMethodBankTransfer
		if input.GatewayPaymentId != nil {
			input.PaymentMethod = PaymentMethodGateway
		}
	}
	if input.Source == "" {
		input.Source = PaymentSourceManual
	}
	return nil
}

// ApplyPayment records a payment and re-derives the invoice's paid amount and status.
// The invoice row is locked for the whole read-modify-write. A gateway payment id seen
// before on the same invoice is a replay and changes nothing.
func ApplyPayment(ctx context.Context, invoiceId string, input *PaymentInput) (*PaymentApplication, error) {
	tenantId, err := utils.RequireTenantId(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "payments.apply")
	defer span.End()
	span.SetAttributes(attribute.String("invoice_id", invoiceId), attribute.String("source", string(input.Source)))

	tx := dbFrom(ctx).Begin()
	result, err := applyPaymentTx(ctx, tx, tenantId, invoiceId, input)
	if err != nil {
		tx.Rollback()
		if IsDuplicateKeyErr(err) && input.GatewayPaymentId != nil {
			err = utils.ErrDuplicateGatewayPayment
		}
		metrics.Billing().IncPaymentApplied(string(input.Source), utils.ErrorCodeOf(err))
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	outcome := "applied"
	if result.Replayed {
		outcome = "replayed"
	}
	metrics.Billing().IncPaymentApplied(string(input.Source), outcome)
	if result.Invoice.Status == InvoiceStatusPaid && !result.Replayed {
		metrics.Billing().IncInvoiceTransition(string(InvoiceStatusPaid))
	}
	return result, nil
}

func applyPaymentTx(ctx context.Context, tx *gorm.DB, tenantId string, invoiceId string, input *PaymentInput) (*PaymentApplication, error) {
	inv, err := lockInvoice(tx, tenantId, invoiceId)
	if err != nil {
		return nil, err
	}

	if input.GatewayPaymentId != nil {
		var existing Payment
		err := tx.Where("tenant_id = ? AND gateway_payment_id = ?", tenantId, *input.GatewayPaymentId).First(&existing).Error
		if err == nil {
			if existing.InvoiceId != inv.ID {
				return nil, utils.ErrDuplicateGatewayPayment
			}
			config.LogInfo(config.GetLogger(), "payment.go", "ApplyPayment", "gateway payment replay ignored", map[string]interface{}{
				"tenant_id":          tenantId,
				"invoice_id":         inv.ID,
				"gateway_payment_id": *input.GatewayPaymentId,
			})
			return &PaymentApplication{
				Invoice:        inv,
				Payment:        &existing,
				AppliedAmount:  decimal.Zero,
				OverpaidAmount: decimal.Zero,
				Replayed:       true,
			}, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if inv.DocumentType == DocumentTypeCreditNote {
		return nil, utils.NewValidationError("payments cannot be applied to a credit note")
	}
	switch inv.Status {
	case InvoiceStatusCancelled:
		return nil, utils.ErrInvoiceCancelled
	case InvoiceStatusDraft:
		return nil, utils.ErrInvoiceNotIssued
	case InvoiceStatusPaid:
		return nil, utils.ErrInvoiceAlreadyPaid
	}

	remaining := inv.Balance()
	if !remaining.IsPositive() {
		return nil, utils.ErrNothingToPay
	}
	requested := input.Amount
	if input.SettleBalance {
		requested = remaining
	}
	if places := moneyPlaces(inv.Currency); !requested.Equal(requested.Round(places)) {
		return nil, utils.NewValidationErrorf("amount has more than %d decimal places for %s", places, inv.Currency)
	}
	applied, overpaid := requested, decimal.Zero
	if requested.GreaterThan(remaining) {
		if config.GetOverpaymentPolicy() == config.OverpaymentReject {
			return nil, utils.ErrOverpaymentRejected.WithMessage(
				"payment of " + requested.String() + " exceeds the outstanding balance of " + remaining.String())
		}
		applied = remaining
		overpaid = requested.Sub(remaining)
	}

	paidAt := Now()
	if input.PaidAt != nil {
		paidAt = input.PaidAt.UTC()
	}
	createdBy, _ := utils.GetUserIdFromContext(ctx)
	payment := Payment{
		TenantId:         tenantId,
		InvoiceId:        inv.ID,
		Amount:           roundStorage(applied),
		OverpaidAmount:   roundStorage(overpaid),
		PaidAt:           paidAt,
		PaymentMethod:    input.PaymentMethod,
		Source:           input.Source,
		Note:             input.Note,
		GatewayPaymentId: input.GatewayPaymentId,
		CreatedBy:        createdBy,
	}
	if err := tx.Create(&payment).Error; err != nil {
		return nil, err
	}
	if err := recomputeInvoicePayments(tx, inv, paidAt); err != nil {
		return nil, err
	}

	if err := enqueueNotification(ctx, tx, tenantId, NotificationPaymentReceived, "invoice", inv.ID, PaymentNotificationPayload{
		InvoiceId:    inv.ID,
		Number:       inv.NumberOrEmpty(),
		PaymentId:    payment.ID,
		Amount:       payment.Amount,
		Balance:      inv.Balance(),
		Currency:     inv.Currency,
		Status:       inv.Status,
		BillingName:  inv.BillingName,
		BillingEmail: inv.BillingEmail,
	}); err != nil {
		return nil, err
	}

	return &PaymentApplication{
		Invoice:        inv,
		Payment:        &payment,
		AppliedAmount:  payment.Amount,
		OverpaidAmount: payment.OverpaidAmount,
	}, nil
}

// recomputeInvoicePayments sets paid_amount to SUM(payments) and derives the status from it.
// paidAt is used when the sum reaches the total.
func recomputeInvoicePayments(tx *gorm.DB, inv *Invoice, paidAt time.Time) error {
	var sum decimal.Decimal
	if err := tx.Model(&Payment{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("tenant_id = ? AND invoice_id = ?", inv.TenantId, inv.ID).
		Row().Scan(&sum); err != nil {
		return err
	}
	sum = roundStorage(sum)

	status := inv.Status
	paidAtValue := inv.PaidAt
	// drafts have no payments and a cancelled invoice keeps its status through corrections
	if status != InvoiceStatusDraft && status != InvoiceStatusCancelled {
		switch {
		case !sum.IsPositive():
			if status == InvoiceStatusPartiallyPaid || status == InvoiceStatusPaid {
				status = InvoiceStatusSent
			}
			paidAtValue = nil
		case sum.LessThan(inv.TotalAmount):
			status = InvoiceStatusPartiallyPaid
			paidAtValue = nil
		default:
			status = InvoiceStatusPaid
			if paidAtValue == nil {
				paidAtValue = &paidAt
			}
		}
	}

	if err := tx.Model(inv).Updates(map[string]interface{}{
		"paid_amount": sum,
		"status":      status,
		"paid_at":     paidAtValue,
	}).Error; err != nil {
		return err
	}
	inv.PaidAmount = sum
	inv.Status = status
	inv.PaidAt = paidAtValue
	inv.DisplayStatus = EffectiveStatus(inv, Now())
	return nil
}

// DeletePayment removes a payment (a correction) and re-derives the invoice from the remaining ones.
func DeletePayment(ctx context.Context, invoiceId string, paymentId string) (*Invoice, error) {
	tenantId, err := utils.RequireTenantId(ctx)
	if err != nil {
		return nil, err
	}

	tx := dbFrom(ctx).Begin()
	inv, err := lockInvoice(tx, tenantId, invoiceId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	var payment Payment
	if err := tx.Where("tenant_id = ? AND invoice_id = ? AND id = ?", tenantId, invoiceId, paymentId).First(&payment).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if err := tx.Delete(&payment).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := recomputeInvoicePayments(tx, inv, Now()); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return inv, nil
}

func ListPayments(ctx context.Context, invoiceId string) ([]*Payment, error) {
	tenantId, err := utils.RequireTenantId(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[Invoice](ctx, tenantId, invoiceId); err != nil {
		return nil, err
	}
	var results []*Payment
	if err := dbFrom(ctx).
		Where("tenant_id = ? AND invoice_id = ?", tenantId, invoiceId).
		Order("paid_at, created_at").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
