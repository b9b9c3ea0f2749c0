package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/models"
	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/mmdatafocus/billing_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	maxWebhookBodyBytes = 64 << 10

	stripeHandlerName  = "stripe.payment_intent.succeeded"
	gatewayHandlerName = "gateway.payment"
)

// currencies Stripe reports in whole units
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

func stripeAmount(minor int64, currency string) decimal.Decimal {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return decimal.NewFromInt(minor)
	}
	return decimal.New(minor, -2)
}

// gatewayPayment is a confirmed payment reported by a gateway, after signature checks.
type gatewayPayment struct {
	Handler   string
	EventId   string
	TenantId  string
	InvoiceId string
	PaymentId string
	Amount    decimal.Decimal
	Currency  string
	PaidAt    time.Time
}

// gatewayPaymentRequest is the body of the generic gateway webhook.
type gatewayPaymentRequest struct {
	EventId   string          `json:"event_id"`
	TenantId  string          `json:"tenant_id"`
	InvoiceId string          `json:"invoice_id"`
	PaymentId string          `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	PaidAt    *time.Time      `json:"paid_at"`
}

func readWebhookBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return nil, false
	}
	return body, true
}

func stripeWebhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		secret := config.StripeWebhookSecret()
		if secret == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stripe webhook not configured"})
			return
		}
		body, ok := readWebhookBody(c)
		if !ok {
			return
		}

		event, err := webhook.ConstructEventWithOptions(body, c.GetHeader("Stripe-Signature"), secret,
			webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
			return
		}
		if string(event.Type) != "payment_intent.succeeded" {
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}

		var intent stripe.PaymentIntent
		if event.Data == nil || json.Unmarshal(event.Data.Raw, &intent) != nil {
			// Malformed payload: ack/drop to avoid infinite retries.
			config.LogError(logger, "webhookHandlers.go", "stripeWebhookHandler", "Unmarshal payment intent", event.ID, errors.New("invalid payment_intent payload"))
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		currency := strings.ToUpper(string(intent.Currency))
		processGatewayPayment(c, gatewayPayment{
			Handler:   stripeHandlerName,
			EventId:   event.ID,
			TenantId:  intent.Metadata["tenant_id"],
			InvoiceId: intent.Metadata["invoice_id"],
			PaymentId: intent.ID,
			Amount:    stripeAmount(intent.AmountReceived, currency),
			Currency:  currency,
			PaidAt:    time.Unix(event.Created, 0).UTC(),
		})
	}
}

// validSignature checks X-Signature: hex HMAC-SHA256 of the raw body, optionally "sha256=" prefixed.
func validSignature(body []byte, header string, secret string) bool {
	header = strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	got, err := hex.DecodeString(header)
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func gatewayWebhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := config.PaymentWebhookSecret()
		if secret == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment webhook not configured"})
			return
		}
		body, ok := readWebhookBody(c)
		if !ok {
			return
		}
		if !validSignature(body, c.GetHeader("X-Signature"), secret) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		var req gatewayPaymentRequest
		if err := json.Unmarshal(body, &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		if req.EventId == "" || req.PaymentId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "event_id and payment_id are required"})
			return
		}
		paidAt := models.Now()
		if req.PaidAt != nil {
			paidAt = *req.PaidAt
		}
		processGatewayPayment(c, gatewayPayment{
			Handler:   gatewayHandlerName,
			EventId:   req.EventId,
			TenantId:  req.TenantId,
			InvoiceId: req.InvoiceId,
			PaymentId: req.PaymentId,
			Amount:    req.Amount,
			Currency:  strings.ToUpper(strings.TrimSpace(req.Currency)),
			PaidAt:    paidAt,
		})
	}
}

// processGatewayPayment applies a verified gateway payment at most once per event.
// Business rejections are acknowledged (a retry cannot succeed); anything else is a 500
// so the gateway redelivers.
func processGatewayPayment(c *gin.Context, p gatewayPayment) {
	logger := config.GetLogger()
	fields := logrus.Fields{
		"field":      "processGatewayPayment",
		"handler":    p.Handler,
		"event_id":   p.EventId,
		"tenant_id":  p.TenantId,
		"invoice_id": p.InvoiceId,
		"payment_id": p.PaymentId,
	}
	if p.TenantId == "" || p.InvoiceId == "" {
		logger.WithFields(fields).Warn("gateway payment without tenant_id/invoice_id; ignored")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	ctx := utils.SystemContext(c.Request.Context(), p.TenantId)
	db := config.GetDB().WithContext(ctx)

	ev := workflow.GatewayEvent{
		TenantId:  p.TenantId,
		Handler:   p.Handler,
		EventId:   p.EventId,
		InvoiceId: p.InvoiceId,
		PaymentId: p.PaymentId,
	}
	record, skip, err := workflow.BeginGatewayEvent(db, ev)
	if errors.Is(err, workflow.ErrIdempotencyInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": "event is being processed"})
		return
	}
	if errors.Is(err, workflow.ErrGatewayEventMismatch) {
		fields["recorded_payment_id"] = record.PaymentId
		logger.WithFields(fields).Warn(err.Error())
		c.JSON(http.StatusOK, gin.H{"status": "rejected", "code": "EVENT_MISMATCH"})
		return
	}
	if err != nil {
		config.LogError(logger, "webhookHandlers.go", "processGatewayPayment", "BeginGatewayEvent", p.EventId, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if skip {
		c.JSON(http.StatusOK, gin.H{
			"status":         "duplicate",
			"payment_id":     record.PaymentId,
			"applied_amount": record.AppliedAmount,
		})
		return
	}

	res, err := applyGatewayPayment(ctx, p)
	if err != nil {
		if markErr := workflow.MarkGatewayEventFailed(db, ev, err); markErr != nil {
			config.LogError(logger, "webhookHandlers.go", "processGatewayPayment", "MarkGatewayEventFailed", p.EventId, markErr)
		}
		if utils.ErrorKindOf(err) == "" || utils.ErrorKindOf(err) == utils.ErrorKindExternalDependency {
			config.LogError(logger, "webhookHandlers.go", "processGatewayPayment", "ApplyPayment", p.EventId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		logger.WithFields(fields).Warn("gateway payment rejected: " + err.Error())
		c.JSON(http.StatusOK, gin.H{"status": "rejected", "code": utils.ErrorCodeOf(err)})
		return
	}

	if err := workflow.MarkGatewayEventApplied(db, ev, res); err != nil {
		config.LogError(logger, "webhookHandlers.go", "processGatewayPayment", "MarkGatewayEventApplied", p.EventId, err)
	}
	status := "applied"
	if res.Replayed {
		status = "replayed"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "payment": res})
}

func applyGatewayPayment(ctx context.Context, p gatewayPayment) (*models.PaymentApplication, error) {
	inv, err := models.GetInvoice(ctx, p.InvoiceId)
	if err != nil {
		return nil, err
	}
	if p.Currency != "" && !strings.EqualFold(p.Currency, inv.Currency) {
		return nil, utils.NewValidationErrorf("payment currency %s does not match invoice currency %s", p.Currency, inv.Currency)
	}
	paymentId := p.PaymentId
	paidAt := p.PaidAt
	return models.ApplyPayment(ctx, p.InvoiceId, &models.PaymentInput{
		Amount:           p.Amount,
		PaymentMethod:    models.PaymentMethodGateway,
		PaidAt:           &paidAt,
		Note:             p.Handler + " " + p.EventId,
		GatewayPaymentId: &paymentId,
		Source:           models.PaymentSourceWebhook,
	})
}
