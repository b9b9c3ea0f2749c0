package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/mmdatafocus/billing_backend/models"
	"github.com/mmdatafocus/billing_backend/testutil"
	"github.com/shopspring/decimal"
)

func TestRecurringRunOnceCatchesUp(t *testing.T) {
	testutil.SetupDB(t)
	now := testutil.Date(2026, 3, 5)
	testutil.FreezeClock(t, now)
	ctx := testutil.TenantContext("tenant-a")

	customer, err := models.CreateCustomer(ctx, &models.NewCustomer{Name: "Acme s.r.o."})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	if _, err := models.CreateNumberSeries(ctx, &models.NewNumberSeries{
		DocumentType: models.DocumentTypeInvoice,
		Name:         "Invoices",
		Prefix:       "FV",
		IsDefault:    true,
	}); err != nil {
		t.Fatalf("CreateNumberSeries: %v", err)
	}
	tpl, err := models.CreateRecurringTemplate(ctx, &models.NewRecurringTemplate{
		Name:       "Hosting",
		CustomerId: customer.ID,
		Currency:   "CZK",
		Frequency:  models.RecurringFrequencyMonthly,
		StartDate:  testutil.Date(2026, 1, 31),
		AutoSend:   true,
		Lines: []models.NewInvoiceLine{{
			Description: "Hosting",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   decimal.NewFromInt(990),
			TaxRate:     decimal.NewFromInt(21),
		}},
	})
	if err != nil {
		t.Fatalf("CreateRecurringTemplate: %v", err)
	}

	w := NewRecurringInvoiceWorkflow(nil, nil)
	results, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected Jan 31 and Feb 28 to be materialized, got %+v", results)
	}
	wantPeriods := []string{"2026-01-31", "2026-02-28"}
	for i, res := range results {
		if res.Outcome != models.RecurringRunCreated || res.Period != wantPeriods[i] {
			t.Fatalf("result %d: expected created %s, got %s %s (%s)", i, wantPeriods[i], res.Outcome, res.Period, res.Error)
		}
	}

	after, err := models.GetRecurringTemplate(ctx, tpl.ID)
	if err != nil {
		t.Fatalf("GetRecurringTemplate: %v", err)
	}
	if !after.NextInvoiceDate.Equal(testutil.Date(2026, 3, 31)) {
		t.Fatalf("expected next run 2026-03-31, got %s", after.NextInvoiceDate)
	}

	list, err := models.ListInvoices(ctx, models.InvoiceFilter{})
	if err != nil {
		t.Fatalf("ListInvoices: %v", err)
	}
	if len(list.Edges) != 2 {
		t.Fatalf("expected 2 invoices, got %d", len(list.Edges))
	}

	again, err := w.RunOnce(ctx)
	if err != nil || len(again) != 0 {
		t.Fatalf("second tick must be a no-op, got %d results err=%v", len(again), err)
	}
}

func TestRecurringRunOnceStopsOnFailure(t *testing.T) {
	testutil.SetupDB(t)
	now := testutil.Date(2026, 3, 5)
	testutil.FreezeClock(t, now)
	ctx := testutil.TenantContext("tenant-a")

	customer, err := models.CreateCustomer(ctx, &models.NewCustomer{Name: "Acme s.r.o."})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	// auto send without a default series fails every period
	if _, err := models.CreateRecurringTemplate(ctx, &models.NewRecurringTemplate{
		Name:       "Broken",
		CustomerId: customer.ID,
		Currency:   "CZK",
		Frequency:  models.RecurringFrequencyWeekly,
		StartDate:  testutil.Date(2026, 2, 1),
		AutoSend:   true,
		Lines: []models.NewInvoiceLine{{
			Description: "Support",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   decimal.NewFromInt(100),
			TaxRate:     decimal.Zero,
		}},
	}); err != nil {
		t.Fatalf("CreateRecurringTemplate: %v", err)
	}

	results, err := NewRecurringInvoiceWorkflow(nil, nil).RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(results) != 1 || results[0].Outcome != models.RecurringRunFailed {
		t.Fatalf("expected one failed run, got %+v", results)
	}
}

func TestRecurringRunOnceFailingTemplateDoesNotBlockBatch(t *testing.T) {
	testutil.SetupDB(t)
	now := testutil.Date(2026, 3, 5)
	testutil.FreezeClock(t, now)
	broken := testutil.TenantContext("tenant-a")
	healthy := testutil.TenantContext("tenant-b")

	templates := []struct {
		ctx        context.Context
		name       string
		start      time.Time
		withSeries bool
	}{
		// tenant-a has no invoice series, so auto send fails
		{broken, "Broken", testutil.Date(2026, 3, 1), false},
		{healthy, "Hosting", testutil.Date(2026, 3, 2), true},
	}
	ids := make(map[string]string)
	for _, tc := range templates {
		customer, err := models.CreateCustomer(tc.ctx, &models.NewCustomer{Name: tc.name + " s.r.o."})
		if err != nil {
			t.Fatalf("CreateCustomer: %v", err)
		}
		if tc.withSeries {
			if _, err := models.CreateNumberSeries(tc.ctx, &models.NewNumberSeries{
				DocumentType: models.DocumentTypeInvoice,
				Name:         "Invoices",
				Prefix:       "FV",
				IsDefault:    true,
			}); err != nil {
				t.Fatalf("CreateNumberSeries: %v", err)
			}
		}
		tpl, err := models.CreateRecurringTemplate(tc.ctx, &models.NewRecurringTemplate{
			Name:       tc.name,
			CustomerId: customer.ID,
			Currency:   "CZK",
			Frequency:  models.RecurringFrequencyMonthly,
			StartDate:  tc.start,
			AutoSend:   true,
			Lines: []models.NewInvoiceLine{{
				Description: tc.name,
				Quantity:    decimal.NewFromInt(1),
				UnitPrice:   decimal.NewFromInt(500),
				TaxRate:     decimal.NewFromInt(21),
			}},
		})
		if err != nil {
			t.Fatalf("CreateRecurringTemplate %s: %v", tc.name, err)
		}
		ids[tc.name] = tpl.ID
	}

	w := NewRecurringInvoiceWorkflow(nil, nil)
	w.BatchSize = 1
	results, err := w.RunOnce(broken)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected a failed and a created run, got %+v", results)
	}
	want := []struct {
		templateId string
		outcome    models.RecurringRunOutcome
	}{
		{ids["Broken"], models.RecurringRunFailed},
		{ids["Hosting"], models.RecurringRunCreated},
	}
	for i, res := range results {
		if res.TemplateId != want[i].templateId || res.Outcome != want[i].outcome {
			t.Fatalf("result %d: expected %s %s, got %s %s (%s)", i, want[i].templateId, want[i].outcome, res.TemplateId, res.Outcome, res.Error)
		}
	}

	after, err := models.GetRecurringTemplate(healthy, ids["Hosting"])
	if err != nil {
		t.Fatalf("GetRecurringTemplate: %v", err)
	}
	if !after.NextInvoiceDate.Equal(testutil.Date(2026, 4, 2)) {
		t.Fatalf("expected next run 2026-04-02, got %s", after.NextInvoiceDate)
	}
}
