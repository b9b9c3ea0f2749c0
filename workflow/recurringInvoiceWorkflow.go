package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/metrics"
	"github.com/mmdatafocus/billing_backend/models"
	"github.com/sirupsen/logrus"
)

const recurringTickLockKey = "lock:recurring-invoice-tick"

// RecurringInvoiceWorkflow materializes due recurring templates into invoices.
type RecurringInvoiceWorkflow struct {
	Logger    *logrus.Logger
	Locker    *redislock.Client
	Interval  time.Duration
	BatchSize int
	LockTTL   time.Duration
	Now       func() time.Time
}

func NewRecurringInvoiceWorkflow(logger *logrus.Logger, locker *redislock.Client) *RecurringInvoiceWorkflow {
	return &RecurringInvoiceWorkflow{
		Logger:    logger,
		Locker:    locker,
		Interval:  config.RecurringTickInterval(),
		BatchSize: 200,
		LockTTL:   5 * time.Minute,
		Now:       models.Now,
	}
}

func (w *RecurringInvoiceWorkflow) Run(ctx context.Context) {
	for {
		if _, err := w.RunOnce(ctx); err != nil && w.Logger != nil {
			config.LogError(w.Logger, "recurringInvoiceWorkflow.go", "Run", "RunOnce", nil, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.Interval):
		}
	}
}

// RunOnce processes every template due at the time of the call. A template that is
// several periods behind catches up one period per pass until it is current.
// Another instance holding the tick lock makes this a no-op.
func (w *RecurringInvoiceWorkflow) RunOnce(ctx context.Context) ([]models.RecurringRunResult, error) {
	// redis is best-effort; the materialization marker keeps concurrent ticks safe
	if w.Locker != nil {
		lock, err := w.Locker.Obtain(ctx, recurringTickLockKey, w.LockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			w.logInfo("recurring tick skipped, lock held by another instance", nil)
			return nil, nil
		} else if err != nil {
			w.logWarn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
		} else {
			defer func() {
				if releaseErr := lock.Release(context.Background()); releaseErr != nil {
					w.logWarn("failed to release redis lock: " + releaseErr.Error())
				}
			}()
		}
	}

	now := w.Now()
	var results []models.RecurringRunResult
	// excluded templates stay out of later batches so they cannot hide healthy ones
	var excluded []string
	failed := 0
	seen := make(map[string]string)
	for {
		due, err := models.DueRecurringTemplates(ctx, now, w.BatchSize, excluded...)
		if err != nil {
			return results, err
		}
		if len(due) == 0 {
			break
		}
		for _, tpl := range due {
			period := models.RecurringPeriodKey(tpl.NextInvoiceDate)
			if seen[tpl.ID] == period {
				// did not advance since the last attempt
				excluded = append(excluded, tpl.ID)
				continue
			}
			seen[tpl.ID] = period
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			res := models.MaterializeRecurringTemplate(ctx, tpl, now)
			metrics.Billing().IncRecurringRun(string(res.Outcome))
			results = append(results, res)
			if res.Outcome == models.RecurringRunFailed {
				// retried on the next tick only
				excluded = append(excluded, tpl.ID)
				failed++
			}
		}
	}

	if len(results) > 0 {
		w.logInfo("recurring tick finished", logrus.Fields{"processed": len(results), "failed": failed})
	}
	return results, nil
}

func (w *RecurringInvoiceWorkflow) logInfo(msg string, fields logrus.Fields) {
	if w.Logger == nil {
		return
	}
	config.LogInfo(w.Logger, "recurringInvoiceWorkflow.go", "RunOnce", msg, fields)
}

func (w *RecurringInvoiceWorkflow) logWarn(msg string) {
	if w.Logger == nil {
		return
	}
	w.Logger.WithFields(logrus.Fields{"field": "RecurringInvoiceWorkflow"}).Warn(msg)
}
