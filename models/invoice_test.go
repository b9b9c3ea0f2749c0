package models_test

import (
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/billing_backend/models"
	"github.com/mmdatafocus/billing_backend/testutil"
	"github.com/mmdatafocus/billing_backend/utils"
)

func TestCreateInvoiceComputesAmounts(t *testing.T) {
	f := setupBilling(t, "tenant-a")

	inv := f.draft(t, issueDay, line("2", "500", "21"))

	assertDecimal(t, "subtotal", inv.Subtotal, "1000")
	assertDecimal(t, "tax", inv.TaxAmount, "210")
	assertDecimal(t, "total", inv.TotalAmount, "1210")
	if inv.Status != models.InvoiceStatusDraft || inv.Number != nil {
		t.Fatalf("expected an unnumbered DRAFT, got %s %v", inv.Status, inv.Number)
	}
	if inv.BillingName != "Acme s.r.o." || inv.BillingTaxId != "CZ12345678" {
		t.Fatalf("billing snapshot not copied: %+v", inv.BillingSnapshot)
	}
	if want := issueDay.AddDate(0, 0, 14); !inv.DueDate.Equal(want) {
		t.Fatalf("expected due date from the customer's term %s, got %s", want, inv.DueDate)
	}
}

func TestCreateInvoiceValidation(t *testing.T) {
	f := setupBilling(t, "tenant-a")
	early := issueDay.AddDate(0, 0, -1)

	cases := []struct {
		name  string
		input models.NewInvoice
	}{
		{"no lines", models.NewInvoice{CustomerId: f.customer.ID, IssueDate: issueDay, Currency: "CZK"}},
		{"zero quantity", models.NewInvoice{CustomerId: f.customer.ID, IssueDate: issueDay, Currency: "CZK",
			Lines: []models.NewInvoiceLine{line("0", "10", "21")}}},
		{"negative tax", models.NewInvoice{CustomerId: f.customer.ID, IssueDate: issueDay, Currency: "CZK",
			Lines: []models.NewInvoiceLine{line("1", "10", "-1")}}},
		{"due before issue", models.NewInvoice{CustomerId: f.customer.ID, IssueDate: issueDay, DueDate: &early, Currency: "CZK",
			Lines: []models.NewInvoiceLine{line("1", "10", "21")}}},
		{"unknown customer", models.NewInvoice{CustomerId: "missing", IssueDate: issueDay, Currency: "CZK",
			Lines: []models.NewInvoiceLine{line("1", "10", "21")}}},
		{"credit note directly", models.NewInvoice{DocumentType: models.DocumentTypeCreditNote, CustomerId: f.customer.ID,
			IssueDate: issueDay, Currency: "CZK", Lines: []models.NewInvoiceLine{line("1", "10", "21")}}},
	}
	for _, tc := range cases {
		input := tc.input
		_, err := models.CreateInvoice(f.ctx, &input)
		if utils.ErrorKindOf(err) != utils.ErrorKindValidation {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestUpdateDraftReplacesLines(t *testing.T) {
	f := setupBilling(t, "tenant-a")
	inv := f.draft(t, issueDay)

	updated, err := models.UpdateInvoice(f.ctx, inv.ID, &models.NewInvoice{
		CustomerId: f.customer.ID,
		IssueDate:  issueDay,
		Currency:   "CZK",
		Lines:      []models.NewInvoiceLine{line("1", "100", "21"), line("3", "10", "0")},
	})
	if err != nil {
		t.Fatalf("UpdateInvoice: %v", err)
	}
	if len(updated.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(updated.Lines))
	}
	assertDecimal(t, "total", updated.TotalAmount, "151")
}

func TestOnlyDraftsAreEditable(t *testing.T) {
	f := setupBilling(t, "tenant-a")
	testutil.FreezeClock(t, testutil.Date(2026, 3, 10))

	sent := f.sent(t)
	partial := f.sent(t)
	f.pay(t, partial.ID, "100")
	paid := f.sent(t)
	f.pay(t, paid.ID, "1210")
	cancelled := f.sent(t)
	if _, err := models.CancelInvoice(f.ctx, cancelled.ID, "wrong customer"); err != nil {
		t.Fatalf("CancelInvoice: %v", err)
	}
	overdue := f.draft(t, testutil.Date(2026, 1, 5))
	if _, err := models.MarkInvoiceSent(f.ctx, overdue.ID); err != nil {
		t.Fatalf("MarkInvoiceSent: %v", err)
	}

	cases := []struct {
		name string
		id   string
	}{
		{"SENT", sent.ID},
		{"PARTIALLY_PAID", partial.ID},
		{"PAID", paid.ID},
		{"CANCELLED", cancelled.ID},
		{"OVERDUE", overdue.ID},
	}
	for _, tc := range cases {
		_, err := models.UpdateInvoice(f.ctx, tc.id, &models.NewInvoice{
			CustomerId: f.customer.ID,
			IssueDate:  issueDay,
			Currency:   "CZK",
			Lines:      []models.NewInvoiceLine{line("9", "9", "0")},
		})
		if !errors.Is(err, utils.ErrInvoiceNotEditable) {
			t.Fatalf("%s: expected ErrInvoiceNotEditable, got %v", tc.name, err)
		}
		if _, err := models.DeleteInvoice(f.ctx, tc.id); !errors.Is(err, utils.ErrInvoiceNotEditable) {
			t.Fatalf("%s: expected delete to be refused, got %v", tc.name, err)
		}
	}
	got, err := models.GetInvoice(f.ctx, overdue.ID)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if got.DisplayStatus != models.InvoiceStatusOverdue {
		t.Fatalf("expected OVERDUE display status, got %s", got.DisplayStatus)
	}
}

func TestCancelPaidInvoiceFails(t *testing.T) {
	f := setupBilling(t, "tenant-a")
	inv := f.sent(t)
	f.pay(t, inv.ID, "1210")

	_, err := models.CancelInvoice(f.ctx, inv.ID, "customer asked")
	if !errors.Is(err, utils.ErrCannotCancelPaidInvoice) {
		t.Fatalf("expected ErrCannotCancelPaidInvoice, got %v", err)
	}
	got, err := models.GetInvoice(f.ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if got.Status != models.InvoiceStatusPaid || got.CancelledAt != nil {
		t.Fatalf("invoice state changed: status=%s cancelled_at=%v", got.Status, got.CancelledAt)
	}
	assertDecimal(t, "paid", got.PaidAmount, "1210")
}

func TestCancelTwiceIsConflict(t *testing.T) {
	f := setupBilling(t, "tenant-a")
	inv := f.sent(t)
	if _, err := models.CancelInvoice(f.ctx, inv.ID, ""); err != nil {
		t.Fatalf("CancelInvoice: %v", err)
	}
	if _, err := models.CancelInvoice(f.ctx, inv.ID, ""); !errors.Is(err, utils.ErrInvoiceCancelled) {
		t.Fatalf("expected ErrInvoiceCancelled, got %v", err)
	}
	if _, err := models.MarkInvoiceSent(f.ctx, inv.ID); !errors.Is(err, utils.ErrInvoiceCancelled) {
		t.Fatalf("expected a cancelled invoice not to be resent, got %v", err)
	}
}

func TestDuplicateReopensCancelledInvoice(t *testing.T) {
	f := setupBilling(t, "tenant-a")
	testutil.FreezeClock(t, time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC))

	src := f.draft(t, testutil.Date(2026, 3, 1), line("2", "500", "21"))
	if _, err := models.MarkInvoiceSent(f.ctx, src.ID); err != nil {
		t.Fatalf("MarkInvoiceSent: %v", err)
	}
	if _, err := models.CancelInvoice(f.ctx, src.ID, "typo"); err != nil {
		t.Fatalf("CancelInvoice: %v", err)
	}

	res, err := models.ExecuteInvoiceCommand(f.ctx, src.ID, models.DuplicateInvoiceCommand{})
	if err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	dup := res.Created
	if dup.ID == src.ID || dup.Status != models.InvoiceStatusDraft || dup.Number != nil {
		t.Fatalf("expected a fresh unnumbered draft, got id=%s status=%s number=%v", dup.ID, dup.Status, dup.Number)
	}
	if !dup.IssueDate.Equal(testutil.Date(2026, 4, 1)) || !dup.DueDate.Equal(testutil.Date(2026, 4, 15)) {
		t.Fatalf("expected issue 2026-04-01 due 2026-04-15, got %s %s", dup.IssueDate, dup.DueDate)
	}
	assertDecimal(t, "total", dup.TotalAmount, "1210")
	assertDecimal(t, "paid", dup.PaidAmount, "0")
	if res.Invoice.Status != models.InvoiceStatusCancelled {
		t.Fatalf("source must stay cancelled, got %s", res.Invoice.Status)
	}
}

func TestParseInvoiceCommand(t *testing.T) {
	cases := []struct {
		action string
		want   models.InvoiceCommand
	}{
		{"send", models.SendInvoiceCommand{}},
		{"MARK_PAID", models.MarkInvoicePaidCommand{Source: models.PaymentSourceManual}},
		{"cancel", models.CancelInvoiceCommand{Reason: "r"}},
		{"duplicate", models.DuplicateInvoiceCommand{}},
	}
	for _, tc := range cases {
		got, err := models.ParseInvoiceCommand(models.InvoiceActionInput{Action: models.InvoiceAction(tc.action), Reason: "r"})
		if err != nil {
			t.Fatalf("%s: %v", tc.action, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %#v, got %#v", tc.action, tc.want, got)
		}
	}
	if _, err := models.ParseInvoiceCommand(models.InvoiceActionInput{Action: "archive"}); utils.ErrorKindOf(err) != utils.ErrorKindValidation {
		t.Fatalf("unknown action: expected validation error, got %v", err)
	}
}

func TestOverdueIsConsistentBetweenListAndDetail(t *testing.T) {
	f := setupBilling(t, "tenant-a")
	now := testutil.Date(2026, 3, 20)
	testutil.FreezeClock(t, now)

	overdue := f.draft(t, testutil.Date(2026, 3, 1))
	if _, err := models.MarkInvoiceSent(f.ctx, overdue.ID); err != nil {
		t.Fatalf("send: %v", err)
	}
	dueToday := f.draft(t, testutil.Date(2026, 3, 6))
	if _, err := models.MarkInvoiceSent(f.ctx, dueToday.ID); err != nil {
		t.Fatalf("send: %v", err)
	}
	paidLate := f.draft(t, testutil.Date(2026, 3, 1))
	if _, err := models.MarkInvoiceSent(f.ctx, paidLate.ID); err != nil {
		t.Fatalf("send: %v", err)
	}
	f.pay(t, paidLate.ID, "1210")
	f.draft(t, testutil.Date(2026, 1, 1))

	status := models.InvoiceStatusOverdue
	list, err := models.ListInvoices(f.ctx, models.InvoiceFilter{Status: &status})
	if err != nil {
		t.Fatalf("ListInvoices: %v", err)
	}
	if len(list.Edges) != 1 || list.Edges[0].ID != overdue.ID {
		t.Fatalf("expected only %s to be overdue, got %d rows", overdue.ID, len(list.Edges))
	}

	sentStatus := models.InvoiceStatusSent
	sentList, err := models.ListInvoices(f.ctx, models.InvoiceFilter{Status: &sentStatus})
	if err != nil {
		t.Fatalf("ListInvoices: %v", err)
	}
	if len(sentList.Edges) != 1 || sentList.Edges[0].ID != dueToday.ID {
		t.Fatalf("SENT filter must exclude overdue rows, got %d rows", len(sentList.Edges))
	}

	all, err := models.ListInvoices(f.ctx, models.InvoiceFilter{})
	if err != nil {
		t.Fatalf("ListInvoices: %v", err)
	}
	for _, inv := range all.Edges {
		detail, err := models.GetInvoice(f.ctx, inv.ID)
		if err != nil {
			t.Fatalf("GetInvoice: %v", err)
		}
		if detail.DisplayStatus != inv.DisplayStatus {
			t.Fatalf("invoice %s: list says %s, detail says %s", inv.ID, inv.DisplayStatus, detail.DisplayStatus)
		}
		if (inv.DisplayStatus == models.InvoiceStatusOverdue) != models.IsOverdue(detail, now) {
			t.Fatalf("invoice %s: display status disagrees with IsOverdue", inv.ID)
		}
	}
}

func TestListInvoicesPaging(t *testing.T) {
	f := setupBilling(t, "tenant-a")
	for i := 0; i < 5; i++ {
		f.draft(t, issueDay)
	}

	seen := make(map[string]bool)
	var after *string
	pages := 0
	for {
		page, err := models.ListInvoices(f.ctx, models.InvoiceFilter{Limit: 2, After: after})
		if err != nil {
			t.Fatalf("ListInvoices: %v", err)
		}
		pages++
		for _, inv := range page.Edges {
			if seen[inv.ID] {
				t.Fatalf("invoice %s returned twice", inv.ID)
			}
			seen[inv.ID] = true
		}
		if !*page.PageInfo.HasNextPage {
			break
		}
		cursor := page.PageInfo.EndCursor
		after = &cursor
		if pages > 5 {
			t.Fatalf("paging does not terminate")
		}
	}
	if len(seen) != 5 || pages != 3 {
		t.Fatalf("expected 5 invoices over 3 pages, got %d over %d", len(seen), pages)
	}
}
