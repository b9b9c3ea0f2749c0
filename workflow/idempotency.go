package workflow

import (
	"errors"
	"time"

	"github.com/mmdatafocus/billing_backend/models"
	"gorm.io/gorm"
)

var (
	ErrIdempotencyInProgress = errors.New("gateway event is being processed")
	// ErrGatewayEventMismatch means an event id was reused for another payment or invoice.
	ErrGatewayEventMismatch = errors.New("gateway event id already recorded for a different payment")
)

// staleStartedAfter lets a crashed handler's STARTED row be taken over.
const staleStartedAfter = 5 * time.Minute

// GatewayEvent is one delivery of a payment webhook.
type GatewayEvent struct {
	TenantId  string
	Handler   string
	EventId   string
	InvoiceId string
	PaymentId string
}

func (ev GatewayEvent) key(tx *gorm.DB) *gorm.DB {
	return tx.Model(&models.IdempotencyKey{}).
		Where("tenant_id = ? AND handler_name = ? AND message_id = ?", ev.TenantId, ev.Handler, ev.EventId)
}

// BeginGatewayEvent claims ev for processing. When the event was already applied it
// returns the recorded row with skip = true and the invoice must not be touched again.
func BeginGatewayEvent(tx *gorm.DB, ev GatewayEvent) (record *models.IdempotencyKey, skip bool, err error) {
	record = &models.IdempotencyKey{
		TenantId:    ev.TenantId,
		HandlerName: ev.Handler,
		MessageId:   ev.EventId,
		InvoiceId:   ev.InvoiceId,
		PaymentId:   ev.PaymentId,
		Status:      models.IdempotencyStatusStarted,
	}
	if err := tx.Create(record).Error; err == nil {
		return record, false, nil
	} else if !models.IsDuplicateKeyErr(err) {
		return nil, false, err
	}

	var existing models.IdempotencyKey
	if err := ev.key(tx).First(&existing).Error; err != nil {
		return nil, false, err
	}
	if mismatched(existing.PaymentId, ev.PaymentId) || mismatched(existing.InvoiceId, ev.InvoiceId) {
		return &existing, false, ErrGatewayEventMismatch
	}

	switch existing.Status {
	case models.IdempotencyStatusSucceeded:
		return &existing, true, nil
	case models.IdempotencyStatusStarted:
		// another delivery of the same event is being handled; the gateway will retry
		if time.Since(existing.UpdatedAt) < staleStartedAfter {
			return &existing, false, ErrIdempotencyInProgress
		}
	}
	if err := tx.Model(&models.IdempotencyKey{}).
		Where("tenant_id = ? AND id = ?", ev.TenantId, existing.ID).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusStarted, "last_error": nil}).Error; err != nil {
		return nil, false, err
	}
	existing.Status = models.IdempotencyStatusStarted
	existing.LastError = nil
	return &existing, false, nil
}

// rows written before payment ids were recorded match any payment
func mismatched(recorded, incoming string) bool {
	return recorded != "" && recorded != incoming
}

// MarkGatewayEventApplied stores what the payment did to the invoice so redeliveries
// can answer without reloading it.
func MarkGatewayEventApplied(tx *gorm.DB, ev GatewayEvent, res *models.PaymentApplication) error {
	return ev.key(tx).Updates(map[string]interface{}{
		"status":         models.IdempotencyStatusSucceeded,
		"applied_amount": res.AppliedAmount,
		"replayed":       res.Replayed,
		"last_error":     nil,
	}).Error
}

// MarkGatewayEventFailed leaves the event open for the next delivery.
func MarkGatewayEventFailed(tx *gorm.DB, ev GatewayEvent, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return ev.key(tx).Updates(map[string]interface{}{"status": models.IdempotencyStatusFailed, "last_error": &msg}).Error
}
