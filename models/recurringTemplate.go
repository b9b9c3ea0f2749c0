package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RecurringInvoicePayload is the invoice content a template repeats. It has no
// number and no dates; those come from the run.
type RecurringInvoicePayload struct {
	Lines []NewInvoiceLine `json:"lines"`
	Notes string           `json:"notes"`
}

// RecurringTemplate is deactivated, never deleted.
type RecurringTemplate struct {
	ID              string                                      `gorm:"size:36;primaryKey" json:"id"`
	TenantId        string                                      `gorm:"size:64;not null;index" json:"tenant_id"`
	Name            string                                      `gorm:"size:100;not null" json:"name"`
	CustomerId      string                                      `gorm:"size:36;not null;index" json:"customer_id"`
	SeriesId        *string                                     `gorm:"size:36;index" json:"series_id"`
	Currency        string                                      `gorm:"size:3;not null" json:"currency"`
	Frequency       RecurringFrequency                          `gorm:"size:20;not null" json:"frequency"`
	NextInvoiceDate time.Time                                   `gorm:"type:date;not null;index:idx_recurring_due,priority:2" json:"next_invoice_date"`
	AnchorDay       int                                         `gorm:"not null" json:"anchor_day"`
	IsActive        bool                                        `gorm:"not null;default:true;index:idx_recurring_due,priority:1" json:"is_active"`
	AutoSend        bool                                        `gorm:"not null;default:false" json:"auto_send"`
	DueInDays       *int                                        `json:"due_in_days"`
	Payload         datatypes.JSONType[RecurringInvoicePayload] `json:"payload"`
	LastRunAt       *time.Time                                  `json:"last_run_at"`
	LastInvoiceId   *string                                     `gorm:"size:36" json:"last_invoice_id"`
	LastError       *string                                     `gorm:"type:text" json:"last_error"`
	FailureCount    int                                         `gorm:"not null;default:0" json:"failure_count"`
	CreatedAt       time.Time                                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time                                   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (t *RecurringTemplate) BeforeCreate(tx *gorm.DB) error {
	ensureID(&t.ID)
	return nil
}

type NewRecurringTemplate struct {
	Name       string             `json:"name" validate:"required,max=100"`
	CustomerId string             `json:"customer_id" validate:"required"`
	SeriesId   *string            `json:"series_id"`
	Currency   string             `json:"currency" validate:"required,len=3"`
	Frequency  RecurringFrequency `json:"frequency" validate:"required"`
	StartDate  time.Time          `json:"start_date" validate:"required"`
	AutoSend   bool               `json:"auto_send"`
	DueInDays  *int               `json:"due_in_days" validate:"omitempty,gte=0,lte=365"`
	Lines      []NewInvoiceLine   `json:"lines" validate:"required,min=1,dive"`
	Notes      string             `json:"notes"`
}

// validate input for both create & update. (id = "" for create)
func (input *NewRecurringTemplate) validate(ctx context.Context, tenantId string, id string) error {
	for i := range input.Lines {
		if input.Lines[i].DiscountType == "" {
			input.Lines[i].DiscountType = utils.DiscountTypePercentage
		}
	}
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if !input.Frequency.IsValid() {
		return utils.NewValidationErrorf("invalid frequency %q", input.Frequency)
	}
	if id != "" {
		if err := utils.ValidateResourceId[RecurringTemplate](ctx, tenantId, id); err != nil {
			return err
		}
	}
	// the invoice the template produces must itself be valid
	probe := templateInvoiceInput(input.CustomerId, input.SeriesId, input.Currency, input.DueInDays, input.StartDate,
		RecurringInvoicePayload{Lines: input.Lines, Notes: input.Notes})
	return probe.validate(ctx, tenantId, "")
}

func templateInvoiceInput(customerId string, seriesId *string, currency string, dueInDays *int, issueDate time.Time, payload RecurringInvoicePayload) *NewInvoice {
	lines := make([]NewInvoiceLine, len(payload.Lines))
	copy(lines, payload.Lines)
	input := &NewInvoice{
		DocumentType: DocumentTypeInvoice,
		CustomerId:   customerId,
		SeriesId:     seriesId,
		IssueDate:    dateOnly(issueDate),
		Currency:     currency,
		Notes:        payload.Notes,
		Lines:        lines,
	}
	if dueInDays != nil {
		due := calculateDueDate(issueDate, *dueInDays)
		input.DueDate = &due
	}
	return input
}

func (t *RecurringTemplate) invoiceInput(issueDate time.Time) *NewInvoice {
	return templateInvoiceInput(t.CustomerId, t.SeriesId, t.Currency, t.DueInDays, issueDate, t.Payload.Data())
}

// NextRecurringDate advances by one period. Monthly steps keep anchorDay, clamped to month end.
func NextRecurringDate(current time.Time, frequency RecurringFrequency, anchorDay int) time.Time {
	current = dateOnly(current)
	switch frequency {
	case RecurringFrequencyWeekly:
		return current.AddDate(0, 0, 7)
	case RecurringFrequencyQuarterly:
		return utils.AddMonthsClamped(current, 3, anchorDay)
	case RecurringFrequencyYearly:
		return utils.AddMonthsClamped(current, 12, anchorDay)
	default:
		return utils.AddMonthsClamped(current, 1, anchorDay)
	}
}

// RecurringPeriodKey identifies one run of a template; (template, period) is unique on invoices.
func RecurringPeriodKey(scheduled time.Time) string {
	return dateOnly(scheduled).Format("2006-01-02")
}

func CreateRecurringTemplate(ctx context.Context, input *NewRecurringTemplate) (*RecurringTemplate, error) {
	tenantId, err := utils.RequireTenantId(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, tenantId, ""); err != nil {
		return nil, err
	}
	start := dateOnly(input.StartDate)
	tpl := RecurringTemplate{
		TenantId:        tenantId,
		Name:            input.Name,
		CustomerId:      input.CustomerId,
		SeriesId:        nonEmpty(input.SeriesId),
		Currency:        strings.ToUpper(input.Currency),
		Frequency:       input.Frequency,
		NextInvoiceDate: start,
		AnchorDay:       start.Day(),
		IsActive:        true,
		AutoSend:        input.AutoSend,
		DueInDays:       input.DueInDays,
		Payload:         datatypes.NewJSONType(RecurringInvoicePayload{Lines: input.Lines, Notes: input.Notes}),
	}
	if err := dbFrom(ctx).Create(&tpl).Error; err != nil {
		return nil, err
	}
	return &tpl, nil
}

// UpdateRecurringTemplate replaces the template content and reschedules it from StartDate.
func UpdateRecurringTemplate(ctx context.Context, id string, input *NewRecurringTemplate) (*RecurringTemplate, error) {
	tenantId, err := utils.RequireTenantId(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, tenantId, id); err != nil {
		return nil, err
	}

	tx := dbFrom(ctx).Begin()
	tpl, err := utils.FetchModelForUpdate[RecurringTemplate](tx, tenantId, id)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if !tpl.IsActive {
		tx.Rollback()
		return nil, utils.NewStateConflictError("recurring template is deactivated")
	}
	start := dateOnly(input.StartDate)
	if err := tx.Model(tpl).Updates(map[string]interface{}{
		"name":              input.Name,
		"customer_id":       input.CustomerId,
		"series_id":         nonEmpty(input.SeriesId),
		"currency":          strings.ToUpper(input.Currency),
		"frequency":         input.Frequency,
		"next_invoice_date": start,
		"anchor_day":        start.Day(),
		"auto_send":         input.AutoSend,
		"due_in_days":       input.DueInDays,
		"payload":           datatypes.NewJSONType(RecurringInvoicePayload{Lines: input.Lines, Notes: input.Notes}),
		"failure_count":     0,
		"last_error":        nil,
	}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return utils.FetchModel[RecurringTemplate](ctx, tenantId, id)
}

func DeactivateRecurringTemplate(ctx context.Context, id string) (*RecurringTemplate, error) {
	tenantId, err := utils.RequireTenantId(ctx)
	if err != nil {
		return nil, err
	}
	tpl, err := utils.FetchModel[RecurringTemplate](ctx, tenantId, id)
	if err != nil {
		return nil, err
	}
	if err := dbFrom(ctx).Model(tpl).Update("is_active", false).Error; err != nil {
		return nil, err
	}
	tpl.IsActive = false
	return tpl, nil
}

func GetRecurringTemplate(ctx context.Context, id string) (*RecurringTemplate, error) {
	tenantId, err := utils.RequireTenantId(ctx)
	if err != nil {
		return nil, err
	}
	return utils.FetchModel[RecurringTemplate](ctx, tenantId, id)
}

func ListRecurringTemplates(ctx context.Context, activeOnly bool) ([]*RecurringTemplate, error) {
	tenantId, err := utils.RequireTenantId(ctx)
	if err != nil {
		return nil, err
	}
	var results []*RecurringTemplate
	dbCtx := dbFrom(ctx).Where("tenant_id = ?", tenantId)
	if activeOnly {
		dbCtx = dbCtx.Where("is_active = ?", true)
	}
	if err := dbCtx.Order("next_invoice_date, name").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// DueRecurringTemplates lists active templates of every tenant scheduled on or before now,
// leaving out excludeIds (templates the caller already gave up on in this pass).
func DueRecurringTemplates(ctx context.Context, now time.Time, limit int, excludeIds ...string) ([]*RecurringTemplate, error) {
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)
	var results []*RecurringTemplate
	dbCtx := dbFrom(ctx).
		Where("is_active = ? AND next_invoice_date <= ?", true, dateOnly(now))
	if len(excludeIds) > 0 {
		dbCtx = dbCtx.Where("id NOT IN ?", excludeIds)
	}
	dbCtx = dbCtx.Order("next_invoice_date, id")
	if limit > 0 {
		dbCtx = dbCtx.Limit(limit)
	}
	if err := dbCtx.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

type RecurringRunOutcome string

const (
	RecurringRunCreated RecurringRunOutcome = "created"
	RecurringRunSkipped RecurringRunOutcome = "skipped"
	RecurringRunFailed  RecurringRunOutcome = "failed"
)

type RecurringRunResult struct {
	TemplateId string              `json:"template_id"`
	TenantId   string              `json:"tenant_id"`
	Period     string              `json:"period"`
	InvoiceId  string              `json:"invoice_id,omitempty"`
	Outcome    RecurringRunOutcome `json:"outcome"`
	Error      string              `json:"error,omitempty"`
}

// MaterializeRecurringTemplate creates the invoice for the template's current period and
// advances next_invoice_date, in one transaction. An invoice already carrying the
// (template, period) marker is not created again. A failure is stored on the template
// and the same period is retried on the next tick.
func MaterializeRecurringTemplate(ctx context.Context, tpl *RecurringTemplate, now time.Time) RecurringRunResult {
	tenantCtx := utils.SystemContext(ctx, tpl.TenantId)
	period := dateOnly(tpl.NextInvoiceDate)
	result := RecurringRunResult{TemplateId: tpl.ID, TenantId: tpl.TenantId, Period: RecurringPeriodKey(period)}

	invoiceId, skipped, err := materialize(tenantCtx, tpl, period, now)
	switch {
	case err != nil:
		result.Outcome = RecurringRunFailed
		result.Error = err.Error()
		recordRecurringFailure(tenantCtx, tpl, now, err)
	case skipped:
		result.Outcome = RecurringRunSkipped
		result.InvoiceId = invoiceId
	default:
		result.Outcome = RecurringRunCreated
		result.InvoiceId = invoiceId
	}
	return result
}

func materialize(ctx context.Context, tpl *RecurringTemplate, period time.Time, now time.Time) (invoiceId string, skipped bool, err error) {
	periodKey := RecurringPeriodKey(period)
	inv, err := prepareInvoice(ctx, tpl.TenantId, tpl.invoiceInput(period))
	if err != nil {
		return "", false, err
	}
	inv.RecurringTemplateId = &tpl.ID
	inv.RecurringPeriod = &periodKey

	tx := dbFrom(ctx).Begin()
	locked, err := utils.FetchModelForUpdate[RecurringTemplate](tx, tpl.TenantId, tpl.ID)
	if err != nil {
		tx.Rollback()
		return "", false, err
	}
	if !locked.IsActive || !dateOnly(locked.NextInvoiceDate).Equal(period) {
		// another worker already ran this period, or the template changed under us
		tx.Rollback()
		return "", true, nil
	}

	var existing Invoice
	err = tx.Where("tenant_id = ? AND recurring_template_id = ? AND recurring_period = ?", tpl.TenantId, tpl.ID, periodKey).
		Limit(1).Find(&existing).Error
	if err != nil {
		tx.Rollback()
		return "", false, err
	}
	if existing.ID != "" {
		invoiceId, skipped = existing.ID, true
		config.LogInfo(config.GetLogger(), "recurringTemplate.go", "MaterializeRecurringTemplate",
			"period already materialized, advancing", logrus.Fields{
				"tenant_id":   tpl.TenantId,
				"template_id": tpl.ID,
				"period":      periodKey,
				"invoice_id":  existing.ID,
			})
	} else {
		if err := insertInvoiceTx(tx, inv, false); err != nil {
			tx.Rollback()
			if IsDuplicateKeyErr(err) {
				return "", true, nil
			}
			return "", false, err
		}
		if locked.AutoSend {
			if _, err := markSentTx(ctx, tx, inv); err != nil {
				tx.Rollback()
				return "", false, err
			}
		}
		invoiceId = inv.ID
	}

	next := NextRecurringDate(period, locked.Frequency, locked.AnchorDay)
	if err := tx.Model(locked).Updates(map[string]interface{}{
		"next_invoice_date": next,
		"last_run_at":       now,
		"last_invoice_id":   invoiceId,
		"last_error":        nil,
		"failure_count":     0,
	}).Error; err != nil {
		tx.Rollback()
		return "", false, err
	}
	if err := tx.Commit().Error; err != nil {
		return "", false, err
	}
	return invoiceId, skipped, nil
}

func recordRecurringFailure(ctx context.Context, tpl *RecurringTemplate, now time.Time, cause error) {
	msg := cause.Error()
	err := dbFrom(ctx).Model(&RecurringTemplate{}).
		Where("tenant_id = ? AND id = ?", tpl.TenantId, tpl.ID).
		Updates(map[string]interface{}{
			"last_error":    msg,
			"last_run_at":   now,
			"failure_count": gorm.Expr("failure_count + ?", 1),
		}).Error
	if err != nil && !errors.Is(err, context.Canceled) {
		config.LogError(config.GetLogger(), "recurringTemplate.go", "recordRecurringFailure", "update template", tpl.ID, err)
	}
	config.LogError(config.GetLogger(), "recurringTemplate.go", "MaterializeRecurringTemplate", "materialize", tpl.ID, cause)
}
