package workflow

import (
	"errors"
	"testing"

	"github.com/mmdatafocus/billing_backend/models"
	"github.com/mmdatafocus/billing_backend/testutil"
	"github.com/shopspring/decimal"
)

func gatewayEvent(tenantId, eventId, paymentId string) GatewayEvent {
	return GatewayEvent{
		TenantId:  tenantId,
		Handler:   "stripe.payment_intent.succeeded",
		EventId:   eventId,
		InvoiceId: "inv-1",
		PaymentId: paymentId,
	}
}

func TestGatewayEventLifecycle(t *testing.T) {
	db := testutil.SetupDB(t)
	ev := gatewayEvent("tenant-a", "evt_1", "pi_1")

	record, skip, err := BeginGatewayEvent(db, ev)
	if err != nil || skip {
		t.Fatalf("first delivery: skip=%v err=%v", skip, err)
	}
	if record.PaymentId != "pi_1" || record.InvoiceId != "inv-1" {
		t.Fatalf("event not recorded with its payment: %+v", record)
	}

	// a concurrent redelivery sees the fresh STARTED row
	if _, _, err := BeginGatewayEvent(db, ev); !errors.Is(err, ErrIdempotencyInProgress) {
		t.Fatalf("expected ErrIdempotencyInProgress, got %v", err)
	}

	applied := &models.PaymentApplication{AppliedAmount: decimal.NewFromInt(1210)}
	if err := MarkGatewayEventApplied(db, ev, applied); err != nil {
		t.Fatalf("MarkGatewayEventApplied: %v", err)
	}
	record, skip, err = BeginGatewayEvent(db, ev)
	if err != nil || !skip {
		t.Fatalf("applied delivery must be skipped: skip=%v err=%v", skip, err)
	}
	if !record.AppliedAmount.Equal(decimal.NewFromInt(1210)) || record.Replayed {
		t.Fatalf("expected the recorded application, got %+v", record)
	}

	// the same event id in another tenant is a different key
	_, skip, err = BeginGatewayEvent(db, gatewayEvent("tenant-b", "evt_1", "pi_1"))
	if err != nil || skip {
		t.Fatalf("other tenant: skip=%v err=%v", skip, err)
	}
}

func TestGatewayEventRejectsReusedEventId(t *testing.T) {
	db := testutil.SetupDB(t)
	if _, _, err := BeginGatewayEvent(db, gatewayEvent("tenant-a", "evt_5", "pi_5")); err != nil {
		t.Fatalf("BeginGatewayEvent: %v", err)
	}

	cases := []struct {
		name string
		ev   GatewayEvent
	}{
		{"other payment", gatewayEvent("tenant-a", "evt_5", "pi_6")},
		{"other invoice", GatewayEvent{TenantId: "tenant-a", Handler: "stripe.payment_intent.succeeded", EventId: "evt_5", InvoiceId: "inv-2", PaymentId: "pi_5"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			record, _, err := BeginGatewayEvent(db, tc.ev)
			if !errors.Is(err, ErrGatewayEventMismatch) {
				t.Fatalf("expected ErrGatewayEventMismatch, got %v", err)
			}
			if record == nil || record.PaymentId != "pi_5" {
				t.Fatalf("expected the original record, got %+v", record)
			}
		})
	}
}

func TestGatewayEventRetriesFailedDelivery(t *testing.T) {
	db := testutil.SetupDB(t)
	ev := GatewayEvent{TenantId: "tenant-a", Handler: "gateway.payment", EventId: "evt_9", InvoiceId: "inv-9", PaymentId: "pay_9"}

	if _, _, err := BeginGatewayEvent(db, ev); err != nil {
		t.Fatalf("BeginGatewayEvent: %v", err)
	}
	if err := MarkGatewayEventFailed(db, ev, errors.New("invoice locked")); err != nil {
		t.Fatalf("MarkGatewayEventFailed: %v", err)
	}

	var key models.IdempotencyKey
	if err := db.Where("tenant_id = ? AND message_id = ?", "tenant-a", "evt_9").First(&key).Error; err != nil {
		t.Fatalf("load key: %v", err)
	}
	if key.Status != models.IdempotencyStatusFailed || key.LastError == nil || *key.LastError != "invoice locked" {
		t.Fatalf("failure not recorded: %+v", key)
	}

	record, skip, err := BeginGatewayEvent(db, ev)
	if err != nil || skip {
		t.Fatalf("failed delivery must be retried: skip=%v err=%v", skip, err)
	}
	if record.Status != models.IdempotencyStatusStarted || record.LastError != nil {
		t.Fatalf("expected STARTED with cleared error, got %+v", record)
	}
	if err := db.Where("id = ?", key.ID).First(&key).Error; err != nil {
		t.Fatalf("reload key: %v", err)
	}
	if key.Status != models.IdempotencyStatusStarted || key.LastError != nil {
		t.Fatalf("expected STARTED with cleared error, got %+v", key)
	}
}
