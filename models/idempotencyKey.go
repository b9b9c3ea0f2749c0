package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type IdempotencyStatus string

const (
	IdempotencyStatusStarted   IdempotencyStatus = "STARTED"
	IdempotencyStatusSucceeded IdempotencyStatus = "SUCCEEDED"
	IdempotencyStatusFailed    IdempotencyStatus = "FAILED"
)

// IdempotencyKey records a gateway payment event and what it did to the invoice.
// Unique constraint: (tenant_id, handler_name, message_id).
type IdempotencyKey struct {
	ID            int               `gorm:"primary_key" json:"id"`
	TenantId      string            `gorm:"size:64;not null;index:uniq_idem,unique" json:"tenant_id"`
	HandlerName   string            `gorm:"size:100;not null;index:uniq_idem,unique" json:"handler_name"`
	MessageId     string            `gorm:"size:255;not null;index:uniq_idem,unique" json:"message_id"`
	InvoiceId     string            `gorm:"size:36;not null;index" json:"invoice_id"`
	PaymentId     string            `gorm:"size:255;not null;index" json:"payment_id"`
	AppliedAmount decimal.Decimal   `gorm:"type:decimal(20,4);not null;default:0" json:"applied_amount"`
	Replayed      bool              `gorm:"not null;default:false" json:"replayed"`
	Status        IdempotencyStatus `gorm:"size:20;not null;index" json:"status"`
	LastError     *string           `gorm:"type:text" json:"last_error"`
	CreatedAt     time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}
