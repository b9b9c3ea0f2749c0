package models_test

import (
	"context"
	"testing"
	"time"

	"github.com/mmdatafocus/billing_backend/models"
	"github.com/mmdatafocus/billing_backend/testutil"
	"github.com/shopspring/decimal"
)

var issueDay = testutil.Date(2026, 3, 2)

type billingFixture struct {
	ctx      context.Context
	tenantId string
	customer *models.Customer
	series   *models.NumberSeries
}

func setupBilling(t *testing.T, tenantId string) *billingFixture {
	t.Helper()
	testutil.SetupDB(t)
	return newTenantFixture(t, tenantId)
}

// newTenantFixture seeds a customer and default invoice series on the current test DB.
func newTenantFixture(t *testing.T, tenantId string) *billingFixture {
	t.Helper()
	ctx := testutil.TenantContext(tenantId)
	customer, err := models.CreateCustomer(ctx, &models.NewCustomer{
		Name:    "Acme s.r.o.",
		Address: "Dlouha 1, Praha",
		TaxId:   "CZ12345678",
		Email:   "billing@" + tenantId + ".test",
	})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	series, err := models.CreateNumberSeries(ctx, &models.NewNumberSeries{
		DocumentType: models.DocumentTypeInvoice,
		Name:         "Invoices",
		Prefix:       "FV",
		Pattern:      "{YYYY}{SEQ:4}",
		IsDefault:    true,
	})
	if err != nil {
		t.Fatalf("CreateNumberSeries: %v", err)
	}
	return &billingFixture{ctx: ctx, tenantId: tenantId, customer: customer, series: series}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func line(qty, price, rate string) models.NewInvoiceLine {
	return models.NewInvoiceLine{
		Description: "Consulting",
		Quantity:    dec(qty),
		UnitPrice:   dec(price),
		TaxRate:     dec(rate),
	}
}

func (f *billingFixture) draft(t *testing.T, issue time.Time, lines ...models.NewInvoiceLine) *models.Invoice {
	t.Helper()
	if len(lines) == 0 {
		lines = []models.NewInvoiceLine{line("2", "500", "21")}
	}
	inv, err := models.CreateInvoice(f.ctx, &models.NewInvoice{
		CustomerId: f.customer.ID,
		IssueDate:  issue,
		Currency:   "CZK",
		Lines:      lines,
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	return inv
}

func (f *billingFixture) sent(t *testing.T, lines ...models.NewInvoiceLine) *models.Invoice {
	t.Helper()
	inv := f.draft(t, issueDay, lines...)
	sent, err := models.MarkInvoiceSent(f.ctx, inv.ID)
	if err != nil {
		t.Fatalf("MarkInvoiceSent: %v", err)
	}
	return sent
}

func (f *billingFixture) pay(t *testing.T, invoiceId string, amount string) *models.PaymentApplication {
	t.Helper()
	res, err := models.ApplyPayment(f.ctx, invoiceId, &models.PaymentInput{Amount: dec(amount)})
	if err != nil {
		t.Fatalf("ApplyPayment(%s): %v", amount, err)
	}
	return res
}

func assertDecimal(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Fatalf("%s: expected %s, got %s", name, want, got.String())
	}
}
