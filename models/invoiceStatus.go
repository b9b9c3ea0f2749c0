package models

import (
	"time"

	"gorm.io/gorm"
)

// IsOverdue is the one overdue rule: sent or partially paid, still owing, and the due
// date is before today. OverdueScope is the same predicate in SQL.
func IsOverdue(inv *Invoice, now time.Time) bool {
	if inv.Status != InvoiceStatusSent && inv.Status != InvoiceStatusPartiallyPaid {
		return false
	}
	if !inv.PaidAmount.LessThan(inv.TotalAmount) {
		return false
	}
	return dateOnly(inv.DueDate).Before(dateOnly(now))
}

// EffectiveStatus is the status shown to callers. OVERDUE is derived, never stored.
func EffectiveStatus(inv *Invoice, now time.Time) InvoiceStatus {
	if IsOverdue(inv, now) {
		return InvoiceStatusOverdue
	}
	return inv.Status
}

// OverdueScope filters to invoices EffectiveStatus reports as OVERDUE.
func OverdueScope(now time.Time) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("invoices.status IN ? AND invoices.paid_amount < invoices.total_amount AND invoices.due_date < ?",
			[]InvoiceStatus{InvoiceStatusSent, InvoiceStatusPartiallyPaid}, dateOnly(now))
	}
}

// NotOverdueScope keeps SENT / PARTIALLY_PAID filters from returning overdue rows.
func NotOverdueScope(now time.Time) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("NOT (invoices.paid_amount < invoices.total_amount AND invoices.due_date < ?)", dateOnly(now))
	}
}

// StatusScope filters by the status callers see, including OVERDUE.
func StatusScope(status InvoiceStatus, now time.Time) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		switch status {
		case InvoiceStatusOverdue:
			return db.Scopes(OverdueScope(now))
		case InvoiceStatusSent, InvoiceStatusPartiallyPaid:
			return db.Where("invoices.status = ?", status).Scopes(NotOverdueScope(now))
		default:
			return db.Where("invoices.status = ?", status)
		}
	}
}
