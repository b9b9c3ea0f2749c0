package config

import (
	"os"
	"strings"
	"time"
)

type OverpaymentPolicy string

const (
	// OverpaymentCap records at most the outstanding balance and reports the excess.
	OverpaymentCap OverpaymentPolicy = "cap"
	// OverpaymentReject refuses any payment larger than the outstanding balance.
	OverpaymentReject OverpaymentPolicy = "reject"
)

// GetOverpaymentPolicy is the single overpayment rule for manual, bulk and webhook payments.
//
// Set via env:
// - OVERPAYMENT_POLICY=cap|reject (default cap)
func GetOverpaymentPolicy() OverpaymentPolicy {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("OVERPAYMENT_POLICY")))
	if v == string(OverpaymentReject) {
		return OverpaymentReject
	}
	return OverpaymentCap
}

// VariableSymbolDigits is how many trailing digits of a document number become the
// variable symbol on payment instructions.
//
// Set via env:
// - VARIABLE_SYMBOL_DIGITS (default 10, max 10)
func VariableSymbolDigits() int {
	n := intFromEnv("VARIABLE_SYMBOL_DIGITS", 10)
	if n <= 0 || n > 10 {
		return 10
	}
	return n
}

// RecurringTickInterval is the pause between scheduler ticks.
//
// Set via env:
// - RECURRING_TICK_SECONDS (default 300)
func RecurringTickInterval() time.Duration {
	n := intFromEnv("RECURRING_TICK_SECONDS", 300)
	if n <= 0 {
		n = 300
	}
	return time.Duration(n) * time.Second
}

// RecurringSchedulerEnabled lets a deployment run the scheduler in a separate job instead.
//
// Set via env:
// - RECURRING_SCHEDULER_ENABLED=false to disable (default enabled)
func RecurringSchedulerEnabled() bool {
	return !isFalse(os.Getenv("RECURRING_SCHEDULER_ENABLED"))
}

// NotificationDispatcherEnabled toggles the outbox publisher goroutine.
//
// Set via env:
// - NOTIFICATION_DISPATCHER_ENABLED=false to disable (default enabled)
func NotificationDispatcherEnabled() bool {
	return !isFalse(os.Getenv("NOTIFICATION_DISPATCHER_ENABLED"))
}

func SkipMigrations() bool {
	return isTrue(os.Getenv("SKIP_MIGRATIONS"))
}

func StripeWebhookSecret() string {
	return strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET"))
}

func PaymentWebhookSecret() string {
	return strings.TrimSpace(os.Getenv("PAYMENT_WEBHOOK_SECRET"))
}

// DefaultPhoneRegion is used when a billing phone number has no international prefix.
func DefaultPhoneRegion() string {
	if v := strings.TrimSpace(os.Getenv("DEFAULT_PHONE_REGION")); v != "" {
		return strings.ToUpper(v)
	}
	return "CZ"
}

func isTrue(raw string) bool {
	v := strings.ToLower(strings.TrimSpace(raw))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

func isFalse(raw string) bool {
	v := strings.ToLower(strings.TrimSpace(raw))
	return v == "0" || v == "false" || v == "no" || v == "n"
}
