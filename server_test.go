package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/models"
	"github.com/mmdatafocus/billing_backend/testutil"
	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/shopspring/decimal"
)

type apiClient struct {
	t      *testing.T
	router *gin.Engine
	token  string
}

func newAPI(t *testing.T, tenantId string) *apiClient {
	t.Helper()
	gin.SetMode(gin.TestMode)
	testutil.SetupDB(t)
	testutil.FreezeClock(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	token, err := utils.JwtGenerate("user-1", tenantId, "admin")
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}
	return &apiClient{t: t, router: newRouter(config.GetLogger()), token: token}
}

func (a *apiClient) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			a.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *apiClient) expect(w *httptest.ResponseRecorder, status int, dest any) {
	a.t.Helper()
	if w.Code != status {
		a.t.Fatalf("expected status %d, got %d: %s", status, w.Code, w.Body.String())
	}
	if dest != nil {
		if err := json.Unmarshal(w.Body.Bytes(), dest); err != nil {
			a.t.Fatalf("decode response: %v (%s)", err, w.Body.String())
		}
	}
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// seedSentInvoice creates customer, default series, bank account and a sent invoice of 1210 CZK.
func (a *apiClient) seedSentInvoice() models.Invoice {
	a.t.Helper()
	var customer models.Customer
	a.expect(a.do(http.MethodPost, "/v1/customers", map[string]any{
		"name": "Acme s.r.o.", "email": "billing@acme.test", "payment_term_days": 14,
	}, nil), http.StatusCreated, &customer)

	a.expect(a.do(http.MethodPost, "/v1/number-series", map[string]any{
		"document_type": "INVOICE", "name": "Invoices", "prefix": "FV", "pattern": "{YYYY}{SEQ:4}", "is_default": true,
	}, nil), http.StatusCreated, nil)

	a.expect(a.do(http.MethodPut, "/v1/bank-settings", map[string]any{
		"account_number": "19-2000145399/0800", "account_country": "CZ",
	}, nil), http.StatusOK, nil)

	var draft models.Invoice
	a.expect(a.do(http.MethodPost, "/v1/invoices", map[string]any{
		"customer_id": customer.ID,
		"issue_date":  "2026-03-02T00:00:00Z",
		"currency":    "CZK",
		"lines": []map[string]any{
			{"description": "Consulting", "quantity": "2", "unit_price": "500", "tax_rate": "21"},
		},
	}, nil), http.StatusCreated, &draft)
	if draft.Status != models.InvoiceStatusDraft || draft.TotalAmount.String() != "1210" {
		a.t.Fatalf("unexpected draft %s total %s", draft.Status, draft.TotalAmount)
	}

	var sent models.InvoiceCommandResult
	a.expect(a.do(http.MethodPatch, "/v1/invoices/"+draft.ID, map[string]any{"action": "send"}, nil), http.StatusOK, &sent)
	if sent.Invoice.NumberOrEmpty() != "FV20260001" {
		a.t.Fatalf("expected FV20260001, got %q", sent.Invoice.NumberOrEmpty())
	}
	return *sent.Invoice
}

func TestHealthAndAuth(t *testing.T) {
	api := newAPI(t, "tenant-a")

	w := api.do(http.MethodGet, "/healthz", nil, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("healthz: expected 204, got %d", w.Code)
	}
	if w.Header().Get("x-correlation-id") == "" {
		t.Fatalf("expected a correlation id on every response")
	}

	anon := &apiClient{t: t, router: api.router}
	if w := anon.do(http.MethodGet, "/v1/invoices", nil, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: expected 401, got %d", w.Code)
	}
	bad := &apiClient{t: t, router: api.router, token: "not-a-jwt"}
	if w := bad.do(http.MethodGet, "/v1/invoices", nil, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: expected 401, got %d", w.Code)
	}
	noTenant, err := utils.JwtGenerate("user-1", "", "admin")
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}
	tenantless := &apiClient{t: t, router: api.router, token: noTenant}
	if w := tenantless.do(http.MethodGet, "/v1/invoices", nil, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("token without tenant: expected 401, got %d", w.Code)
	}
	if w := api.do(http.MethodGet, "/v1/nope", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown route: expected 404, got %d", w.Code)
	}
}

func TestInvoiceLifecycleOverHTTP(t *testing.T) {
	api := newAPI(t, "tenant-a")
	inv := api.seedSentInvoice()

	var conflict errorBody
	api.expect(api.do(http.MethodPut, "/v1/invoices/"+inv.ID, map[string]any{
		"customer_id": inv.CustomerId, "issue_date": "2026-03-02T00:00:00Z", "currency": "CZK",
		"lines": []map[string]any{{"description": "x", "quantity": "1", "unit_price": "1", "tax_rate": "0"}},
	}, nil), http.StatusConflict, &conflict)
	if conflict.Error.Code != "INVOICE_NOT_EDITABLE" {
		t.Fatalf("expected INVOICE_NOT_EDITABLE, got %q", conflict.Error.Code)
	}

	w := api.do(http.MethodGet, "/v1/invoices/"+inv.ID+"/payment-qr?format=txt", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("payment-qr: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	want := "SPD*1.0*ACC:CZ6508000000192000145399*AM:1210.00*CC:CZK*DT:20260316*MSG:Invoice FV20260001*X-VS:20260001"
	if w.Body.String() != want {
		t.Fatalf("unexpected SPAYD\n%s", w.Body.String())
	}
	png := api.do(http.MethodGet, "/v1/invoices/"+inv.ID+"/payment-qr?width=128", nil, nil)
	if png.Code != http.StatusOK || png.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("png: got %d %s", png.Code, png.Header().Get("Content-Type"))
	}
	if w := api.do(http.MethodGet, "/v1/invoices/"+inv.ID+"/payment-qr?format=gif", nil, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("gif: expected 400, got %d", w.Code)
	}

	var applied models.PaymentApplication
	api.expect(api.do(http.MethodPost, "/v1/invoices/"+inv.ID+"/payments", map[string]any{
		"amount": "610", "payment_method": "BANK_TRANSFER",
	}, nil), http.StatusCreated, &applied)
	if applied.Invoice.Status != models.InvoiceStatusPartiallyPaid {
		t.Fatalf("expected PARTIALLY_PAID, got %s", applied.Invoice.Status)
	}

	var cancelErr errorBody
	api.expect(api.do(http.MethodPatch, "/v1/invoices/"+inv.ID, map[string]any{"action": "mark_paid"}, nil), http.StatusOK, nil)
	api.expect(api.do(http.MethodPatch, "/v1/invoices/"+inv.ID, map[string]any{"action": "cancel"}, nil), http.StatusConflict, &cancelErr)
	if cancelErr.Error.Code != "CANNOT_CANCEL_PAID_INVOICE" {
		t.Fatalf("expected CANNOT_CANCEL_PAID_INVOICE, got %q", cancelErr.Error.Code)
	}

	var payments struct {
		Payments []models.Payment `json:"payments"`
	}
	api.expect(api.do(http.MethodGet, "/v1/invoices/"+inv.ID+"/payments", nil, nil), http.StatusOK, &payments)
	if len(payments.Payments) != 2 {
		t.Fatalf("expected 2 payments, got %d", len(payments.Payments))
	}

	var list models.InvoicesConnection
	api.expect(api.do(http.MethodGet, "/v1/invoices?status=paid", nil, nil), http.StatusOK, &list)
	if len(list.Edges) != 1 || list.Edges[0].ID != inv.ID {
		t.Fatalf("expected the paid invoice in the PAID filter, got %d rows", len(list.Edges))
	}

	var other errorBody
	intruder := newTokenClient(t, api, "tenant-b")
	intruder.expect(intruder.do(http.MethodGet, "/v1/invoices/"+inv.ID, nil, nil), http.StatusNotFound, &other)
}

func newTokenClient(t *testing.T, base *apiClient, tenantId string) *apiClient {
	t.Helper()
	token, err := utils.JwtGenerate("user-2", tenantId, "admin")
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}
	return &apiClient{t: t, router: base.router, token: token}
}

func TestBulkEndpoint(t *testing.T) {
	api := newAPI(t, "tenant-a")
	inv := api.seedSentInvoice()

	var res models.BulkResult
	api.expect(api.do(http.MethodPost, "/v1/invoices/bulk", map[string]any{
		"action": "mark_paid", "ids": []string{inv.ID, "missing"},
	}, nil), http.StatusOK, &res)
	if len(res.Succeeded) != 1 || len(res.Failed) != 1 || res.Failed[0].Code != "NOT_FOUND" {
		t.Fatalf("unexpected bulk result %+v", res)
	}
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestGatewayWebhook(t *testing.T) {
	api := newAPI(t, "tenant-a")
	inv := api.seedSentInvoice()
	t.Setenv("PAYMENT_WEBHOOK_SECRET", "whsec_test")

	body, _ := json.Marshal(map[string]any{
		"event_id": "evt_1", "tenant_id": "tenant-a", "invoice_id": inv.ID,
		"payment_id": "pay_1", "amount": "1210", "currency": "czk",
	})
	if w := api.do(http.MethodPost, "/webhooks/payments", body, map[string]string{"X-Signature": sign(body, "wrong")}); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad signature: expected 401, got %d", w.Code)
	}

	var first struct {
		Status string `json:"status"`
	}
	api.expect(api.do(http.MethodPost, "/webhooks/payments", body, map[string]string{"X-Signature": "sha256=" + sign(body, "whsec_test")}), http.StatusOK, &first)
	if first.Status != "applied" {
		t.Fatalf("expected applied, got %q", first.Status)
	}

	var again struct {
		Status        string          `json:"status"`
		PaymentId     string          `json:"payment_id"`
		AppliedAmount decimal.Decimal `json:"applied_amount"`
	}
	api.expect(api.do(http.MethodPost, "/webhooks/payments", body, map[string]string{"X-Signature": sign(body, "whsec_test")}), http.StatusOK, &again)
	if again.Status != "duplicate" || again.PaymentId != "pay_1" || !again.AppliedAmount.Equal(decimal.NewFromInt(1210)) {
		t.Fatalf("redelivery must be a no-op reporting the first application, got %+v", again)
	}

	// the same event id cannot be reused for another payment
	reused, _ := json.Marshal(map[string]any{
		"event_id": "evt_1", "tenant_id": "tenant-a", "invoice_id": inv.ID,
		"payment_id": "pay_other", "amount": "5", "currency": "CZK",
	})
	var mismatch struct {
		Status string `json:"status"`
		Code   string `json:"code"`
	}
	api.expect(api.do(http.MethodPost, "/webhooks/payments", reused, map[string]string{"X-Signature": sign(reused, "whsec_test")}), http.StatusOK, &mismatch)
	if mismatch.Status != "rejected" || mismatch.Code != "EVENT_MISMATCH" {
		t.Fatalf("expected rejected EVENT_MISMATCH, got %+v", mismatch)
	}

	// a new event for the same gateway payment replays instead of paying twice
	body2, _ := json.Marshal(map[string]any{
		"event_id": "evt_2", "tenant_id": "tenant-a", "invoice_id": inv.ID,
		"payment_id": "pay_1", "amount": "1210", "currency": "CZK",
	})
	var replay struct {
		Status string `json:"status"`
	}
	api.expect(api.do(http.MethodPost, "/webhooks/payments", body2, map[string]string{"X-Signature": sign(body2, "whsec_test")}), http.StatusOK, &replay)
	if replay.Status != "replayed" {
		t.Fatalf("expected replayed, got %q", replay.Status)
	}

	got, err := models.GetInvoice(testutil.TenantContext("tenant-a"), inv.ID)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if got.Status != models.InvoiceStatusPaid || got.PaidAmount.String() != "1210" {
		t.Fatalf("expected PAID 1210, got %s %s", got.Status, got.PaidAmount)
	}

	// wrong currency is acknowledged but not applied
	body3, _ := json.Marshal(map[string]any{
		"event_id": "evt_3", "tenant_id": "tenant-a", "invoice_id": inv.ID,
		"payment_id": "pay_3", "amount": "10", "currency": "EUR",
	})
	var rejected struct {
		Status string `json:"status"`
		Code   string `json:"code"`
	}
	api.expect(api.do(http.MethodPost, "/webhooks/payments", body3, map[string]string{"X-Signature": sign(body3, "whsec_test")}), http.StatusOK, &rejected)
	if rejected.Status != "rejected" || rejected.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected rejected VALIDATION_ERROR, got %+v", rejected)
	}
}

func TestStripeWebhook(t *testing.T) {
	api := newAPI(t, "tenant-a")
	inv := api.seedSentInvoice()
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_stripe")

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_stripe_1",
		"object": "event",
		"type": "payment_intent.succeeded",
		"created": %d,
		"data": {"object": {
			"id": "pi_123",
			"object": "payment_intent",
			"amount_received": 50000,
			"currency": "czk",
			"metadata": {"tenant_id": "tenant-a", "invoice_id": %q}
		}}
	}`, time.Now().Unix(), inv.ID))
	ts := time.Now().Unix()
	header := fmt.Sprintf("t=%d,v1=%s", ts, sign([]byte(fmt.Sprintf("%d.%s", ts, payload)), "whsec_stripe"))

	if w := api.do(http.MethodPost, "/webhooks/stripe", payload, map[string]string{"Stripe-Signature": "t=1,v1=00"}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad signature: expected 400, got %d", w.Code)
	}

	var res struct {
		Status  string                    `json:"status"`
		Payment models.PaymentApplication `json:"payment"`
	}
	api.expect(api.do(http.MethodPost, "/webhooks/stripe", payload, map[string]string{"Stripe-Signature": header}), http.StatusOK, &res)
	if res.Status != "applied" || res.Payment.AppliedAmount.String() != "500" {
		t.Fatalf("expected 500 applied, got %s %s", res.Status, res.Payment.AppliedAmount)
	}
	if res.Payment.Invoice.Status != models.InvoiceStatusPartiallyPaid {
		t.Fatalf("expected PARTIALLY_PAID, got %s", res.Payment.Invoice.Status)
	}

	ignored := []byte(strings.Replace(string(payload), "payment_intent.succeeded", "charge.refunded", 1))
	header = fmt.Sprintf("t=%d,v1=%s", ts, sign([]byte(fmt.Sprintf("%d.%s", ts, ignored)), "whsec_stripe"))
	var skip struct {
		Status string `json:"status"`
	}
	api.expect(api.do(http.MethodPost, "/webhooks/stripe", ignored, map[string]string{"Stripe-Signature": header}), http.StatusOK, &skip)
	if skip.Status != "ignored" {
		t.Fatalf("expected other events to be ignored, got %q", skip.Status)
	}
}
