package metrics

import (
	"os"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	ServiceName string
	Environment string
}

type BillingMetrics struct {
	invoiceTransitions     *prometheus.CounterVec
	paymentsApplied        *prometheus.CounterVec
	numbersReserved        *prometheus.CounterVec
	recurringRuns          *prometheus.CounterVec
	notificationsPublished *prometheus.CounterVec
	notificationBacklog    prometheus.Gauge
}

var (
	billingMetricsOnce sync.Once
	billingMetrics     *BillingMetrics
)

// Billing returns the process-wide metrics registered on the default registerer.
func Billing() *BillingMetrics {
	return BillingWithConfig(Config{
		ServiceName: os.Getenv("SERVICE_NAME"),
		Environment: os.Getenv("GO_ENV"),
	})
}

func BillingWithConfig(cfg Config) *BillingMetrics {
	billingMetricsOnce.Do(func() {
		billingMetrics = newBillingMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return billingMetrics
}

func newBillingMetrics(registerer prometheus.Registerer, cfg Config) *BillingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "billing"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}

	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	invoiceTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "billing_invoice_transitions_total",
			Help:        "Invoice status transitions by target status.",
			ConstLabels: constLabels,
		},
		[]string{"status"}, // SENT | PAID | CANCELLED
	)

	paymentsApplied := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "billing_payments_applied_total",
			Help:        "Payment applications by source and result.",
			ConstLabels: constLabels,
		},
		[]string{"source", "result"}, // result: applied | replayed | <error code>
	)

	numbersReserved := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "billing_numbers_reserved_total",
			Help:        "Document numbers reserved from number series counters.",
			ConstLabels: constLabels,
		},
		[]string{"document_type"},
	)

	recurringRuns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "billing_recurring_materializations_total",
			Help:        "Recurring template materializations by result.",
			ConstLabels: constLabels,
		},
		[]string{"result"}, // created | skipped | failed
	)

	notificationsPublished := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "billing_notifications_published_total",
			Help:        "Notification outbox publish attempts by result.",
			ConstLabels: constLabels,
		},
		[]string{"result"}, // sent | failed | dead
	)

	notificationBacklog := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:        "billing_notification_backlog_total",
			Help:        "Notification outbox rows claimed in the last dispatcher pass.",
			ConstLabels: constLabels,
		},
	)

	registerer.MustRegister(
		invoiceTransitions,
		paymentsApplied,
		numbersReserved,
		recurringRuns,
		notificationsPublished,
		notificationBacklog,
	)

	return &BillingMetrics{
		invoiceTransitions:     invoiceTransitions,
		paymentsApplied:        paymentsApplied,
		numbersReserved:        numbersReserved,
		recurringRuns:          recurringRuns,
		notificationsPublished: notificationsPublished,
		notificationBacklog:    notificationBacklog,
	}
}

func (m *BillingMetrics) IncInvoiceTransition(status string) {
	if m == nil {
		return
	}
	m.invoiceTransitions.WithLabelValues(status).Inc()
}

func (m *BillingMetrics) IncPaymentApplied(source string, result string) {
	if m == nil {
		return
	}
	m.paymentsApplied.WithLabelValues(source, result).Inc()
}

func (m *BillingMetrics) IncNumberReserved(documentType string) {
	if m == nil {
		return
	}
	m.numbersReserved.WithLabelValues(documentType).Inc()
}

func (m *BillingMetrics) IncRecurringRun(result string) {
	if m == nil {
		return
	}
	m.recurringRuns.WithLabelValues(result).Inc()
}

func (m *BillingMetrics) IncNotificationPublished(result string) {
	if m == nil {
		return
	}
	m.notificationsPublished.WithLabelValues(result).Inc()
}

func (m *BillingMetrics) SetNotificationBacklog(value int) {
	if m == nil {
		return
	}
	m.notificationBacklog.Set(float64(value))
}
