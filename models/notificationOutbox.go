package models

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/utils"
	"gorm.io/gorm"
)

// Outbox publish statuses for NotificationOutbox.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

type NotificationEvent string

const (
	NotificationInvoiceSent     NotificationEvent = "invoice.sent"
	NotificationPaymentReceived NotificationEvent = "payment.received"
)

// NotificationOutbox is a "send this email" request written in the same transaction as the
// state change that caused it. The dispatcher publishes rows after commit, so a mailer outage
// never rolls back a transition.
type NotificationOutbox struct {
	ID               int               `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	TenantId         string            `gorm:"size:64;not null;index" json:"tenant_id"`
	EventType        NotificationEvent `gorm:"size:50;not null" json:"event_type"`
	ReferenceType    string            `gorm:"size:30;not null" json:"reference_type"`
	ReferenceId      string            `gorm:"size:36;not null;index" json:"reference_id"`
	Payload          []byte            `gorm:"type:blob" json:"payload"`
	CorrelationId    string            `gorm:"size:64;index" json:"correlation_id"`
	PublishStatus    string            `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"`
	PublishedAt      *time.Time        `gorm:"index" json:"published_at"`
	PubSubMessageId  *string           `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int               `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time        `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time        `gorm:"index" json:"locked_at"`
	LockedBy         *string           `gorm:"size:100" json:"locked_by"`
	LastPublishError *string           `gorm:"type:text" json:"last_publish_error"`
	CreatedAt        time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// enqueueNotification writes the outbox row inside the caller's transaction but does NOT publish.
func enqueueNotification(ctx context.Context, tx *gorm.DB, tenantId string, event NotificationEvent, refType string, refId string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	record := NotificationOutbox{
		TenantId:      tenantId,
		EventType:     event,
		ReferenceType: refType,
		ReferenceId:   refId,
		Payload:       body,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func ConvertToNotificationMessage(record NotificationOutbox) config.NotificationMessage {
	return config.NotificationMessage{
		ID:            fmt.Sprintf("%s-%d", record.TenantId, record.ID),
		TenantId:      record.TenantId,
		EventType:     string(record.EventType),
		ReferenceId:   record.ReferenceId,
		ReferenceType: record.ReferenceType,
		OccurredAt:    record.CreatedAt,
		Payload:       json.RawMessage(record.Payload),
		CorrelationId: record.CorrelationId,
	}
}

// ReplayNotification re-queues a FAILED or DEAD row for immediate publishing.
func ReplayNotification(ctx context.Context, tenantId string, recordId int) error {
	db := config.GetDB().WithContext(ctx)
	now := Now()
	res := db.Model(&NotificationOutbox{}).
		Where("id = ? AND tenant_id = ? AND publish_status IN ?", recordId, tenantId,
			[]string{OutboxPublishStatusFailed, OutboxPublishStatusDead}).
		Updates(map[string]interface{}{
			"publish_status":     OutboxPublishStatusFailed,
			"next_attempt_at":    &now,
			"locked_at":          nil,
			"locked_by":          nil,
			"last_publish_error": nil,
			"publish_attempts":   0,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}

// ListNotifications returns the outbox rows of one document, newest first.
func ListNotifications(ctx context.Context, tenantId string, referenceId string) ([]NotificationOutbox, error) {
	var rows []NotificationOutbox
	err := config.GetDB().WithContext(ctx).
		Where("tenant_id = ? AND reference_id = ?", tenantId, referenceId).
		Order("id DESC").
		Find(&rows).Error
	return rows, err
}
