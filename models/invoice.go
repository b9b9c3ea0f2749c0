package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/billing_backend/metrics"
	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Invoice struct {
	ID           string       `gorm:"size:36;primaryKey" json:"id"`
	TenantId     string       `gorm:"size:64;not null;index;uniqueIndex:uniq_invoice_number,priority:1;uniqueIndex:uniq_recurring_period,priority:1" json:"tenant_id"`
	DocumentType DocumentType `gorm:"size:20;not null;index;uniqueIndex:uniq_invoice_number,priority:3" json:"document_type"`
	Number       *string      `gorm:"size:50;uniqueIndex:uniq_invoice_number,priority:4" json:"number"`
	SeriesId     *string      `gorm:"size:36;index;uniqueIndex:uniq_invoice_number,priority:2" json:"series_id"`
	SequenceNo   *int64       `json:"sequence_no"`
	NumberYear   *int         `json:"number_year"`

	CustomerId      string `gorm:"size:36;not null;index" json:"customer_id"`
	BillingSnapshot `gorm:"embedded"`

	IssueDate         time.Time  `gorm:"type:date;not null;index" json:"issue_date"`
	DueDate           time.Time  `gorm:"type:date;not null;index" json:"due_date"`
	TaxableSupplyDate *time.Time `gorm:"type:date" json:"taxable_supply_date"`

	Currency    string          `gorm:"size:3;not null" json:"currency"`
	Subtotal    decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"subtotal"`
	TaxAmount   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"tax_amount"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"total_amount"`
	PaidAmount  decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"paid_amount"`
	PaidAt      *time.Time      `json:"paid_at"`

	Status        InvoiceStatus `gorm:"size:20;not null;index" json:"status"`
	DisplayStatus InvoiceStatus `gorm:"-" json:"display_status"`

	VariableSymbol      *string `gorm:"size:10" json:"variable_symbol"`
	Notes               string  `gorm:"type:text" json:"notes"`
	OriginalInvoiceId   *string `gorm:"size:36;index" json:"original_invoice_id"`
	RecurringTemplateId *string `gorm:"size:36;uniqueIndex:uniq_recurring_period,priority:2" json:"recurring_template_id"`
	RecurringPeriod     *string `gorm:"size:10;uniqueIndex:uniq_recurring_period,priority:3" json:"recurring_period"`

	SentAt       *time.Time `json:"sent_at"`
	CancelledAt  *time.Time `json:"cancelled_at"`
	CancelReason string     `gorm:"size:255" json:"cancel_reason"`

	Lines     []InvoiceLine `gorm:"foreignKey:InvoiceId" json:"lines"`
	CreatedAt time.Time     `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

type InvoiceLine struct {
	ID           string             `gorm:"size:36;primaryKey" json:"id"`
	TenantId     string             `gorm:"size:64;not null;index" json:"tenant_id"`
	InvoiceId    string             `gorm:"size:36;not null;index" json:"invoice_id"`
	Position     int                `gorm:"not null" json:"position"`
	Description  string             `gorm:"size:500;not null" json:"description"`
	Quantity     decimal.Decimal    `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitPrice    decimal.Decimal    `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	Discount     decimal.Decimal    `gorm:"type:decimal(20,4);not null;default:0" json:"discount"`
	DiscountType utils.DiscountType `gorm:"size:20;not null" json:"discount_type"`
	TaxRate      decimal.Decimal    `gorm:"type:decimal(7,4);not null;default:0" json:"tax_rate"`
	Subtotal     decimal.Decimal    `gorm:"type:decimal(20,4);not null" json:"subtotal"`
	TaxAmount    decimal.Decimal    `gorm:"type:decimal(20,4);not null" json:"tax_amount"`
	Total        decimal.Decimal    `gorm:"type:decimal(20,4);not null" json:"total"`
}

func (inv *Invoice) BeforeCreate(tx *gorm.DB) error {
	ensureID(&inv.ID)
	return nil
}

func (l *InvoiceLine) BeforeCreate(tx *gorm.DB) error {
	ensureID(&l.ID)
	return nil
}

// AfterFind fills DisplayStatus so every read path reports the same status.
func (inv *Invoice) AfterFind(tx *gorm.DB) error {
	inv.DisplayStatus = EffectiveStatus(inv, Now())
	return nil
}

func (inv *Invoice) Balance() decimal.Decimal {
	return inv.TotalAmount.Sub(inv.PaidAmount)
}

func (inv *Invoice) NumberOrEmpty() string {
	if inv.Number == nil {
		return ""
	}
	return *inv.Number
}

func (l InvoiceLine) lineInput() utils.LineInput {
	return utils.LineInput{
		Quantity:     l.Quantity,
		UnitPrice:    l.UnitPrice,
		Discount:     l.Discount,
		DiscountType: l.DiscountType,
		TaxRate:      l.TaxRate,
	}
}

type NewInvoiceLine struct {
	Description  string             `json:"description" validate:"required,max=500"`
	Quantity     decimal.Decimal    `json:"quantity" validate:"dgt0"`
	UnitPrice    decimal.Decimal    `json:"unit_price"`
	Discount     decimal.Decimal    `json:"discount" validate:"dgte0"`
	DiscountType utils.DiscountType `json:"discount_type"`
	TaxRate      decimal.Decimal    `json:"tax_rate" validate:"dgte0"`
}

func (l NewInvoiceLine) lineInput() utils.LineInput {
	return utils.LineInput{
		Quantity:     l.Quantity,
		UnitPrice:    l.UnitPrice,
		Discount:     l.Discount,
		DiscountType: l.DiscountType,
		TaxRate:      l.TaxRate,
	}
}

type NewInvoice struct {
	DocumentType      DocumentType     `json:"document_type"`
	CustomerId        string           `json:"customer_id" validate:"required"`
	SeriesId          *string          `json:"series_id"`
	IssueDate         time.Time        `json:"issue_date" validate:"required"`
	DueDate           *time.Time       `json:"due_date"`
	TaxableSupplyDate *time.Time       `json:"taxable_supply_date"`
	Currency          string           `json:"currency" validate:"required,len=3"`
	VariableSymbol    *string          `json:"variable_symbol" validate:"omitempty,numeric,max=10"`
	Notes             string           `json:"notes"`
	IssueNumber       bool             `json:"issue_number"`
	Lines             []NewInvoiceLine `json:"lines" validate:"required,min=1,dive"`
}

// validate input for both create & update. (id = "" for create)
func (input *NewInvoice) validate(ctx context.Context, tenantId string, id string) error {
	if input.DocumentType == "" {
		input.DocumentType = DocumentTypeInvoice
	}
	for i := range input.Lines {
		if input.Lines[i].DiscountType == "" {
			input.Lines[i].DiscountType = utils.DiscountTypePercentage
		}
	}
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if !input.DocumentType.IsValid() {
		return utils.NewValidationErrorf("invalid document type %q", input.DocumentType)
	}
	if input.DocumentType == DocumentTypeCreditNote {
		return utils.NewValidationError("credit notes are issued from an existing invoice")
	}
	if input.DueDate != nil && dateOnly(*input.DueDate).Before(dateOnly(input.IssueDate)) {
		return utils.NewValidationError("due date must not be before issue date")
	}
	for i, line := range input.Lines {
		if err := utils.ValidateLineInput(line.lineInput()); err != nil {
			return utils.NewValidationErrorf("line %d: %s", i+1, err.Error())
		}
	}
	if id != "" {
		if err := utils.ValidateResourceId[Invoice](ctx, tenantId, id); err != nil {
			return err
		}
	}
	if err := utils.ValidateResourceId[Customer](ctx, tenantId, input.CustomerId); err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return utils.NewValidationError("customer not found")
		}
		return err
	}
	if input.SeriesId != nil && *input.SeriesId != "" {
		series, err := utils.FetchModel[NumberSeries](ctx, tenantId, *input.SeriesId)
		if err != nil {
			return err
		}
		if series.DocumentType != input.DocumentType {
			return utils.NewValidationErrorf("number series %s is for %s documents", series.Name, series.DocumentType)
		}
	}
	return nil
}

// buildInvoiceLines derives every amount from the inputs; callers never set amounts.
func buildInvoiceLines(tenantId string, inputs []NewInvoiceLine, currency string) ([]InvoiceLine, utils.DocumentAmounts) {
	lineInputs := make([]utils.LineInput, len(inputs))
	for i, l := range inputs {
		lineInputs[i] = l.lineInput()
	}
	amounts := utils.ComputeDocument(lineInputs, moneyPlaces(currency))

	lines := make([]InvoiceLine, len(inputs))
	for i, l := range inputs {
		lines[i] = InvoiceLine{
			TenantId:     tenantId,
			Position:     i + 1,
			Description:  l.Description,
			Quantity:     l.Quantity,
			UnitPrice:    l.UnitPrice,
			Discount:     l.Discount,
			DiscountType: l.DiscountType,
			TaxRate:      l.TaxRate,
			Subtotal:     roundStorage(amounts.Lines[i].Subtotal),
			TaxAmount:    roundStorage(amounts.Lines[i].TaxAmount),
			Total:        roundStorage(amounts.Lines[i].Total),
		}
	}
	return lines, amounts
}

// prepareInvoice validates and builds an unsaved DRAFT. It reads outside any transaction.
func prepareInvoice(ctx context.Context, tenantId string, input *NewInvoice) (*Invoice, error) {
	if err := input.validate(ctx, tenantId, ""); err != nil {
		return nil, err
	}
	customer, err := utils.FetchModel[Customer](ctx, tenantId, input.CustomerId)
	if err != nil {
		return nil, err
	}

	currency := strings.ToUpper(input.Currency)
	issueDate := dateOnly(input.IssueDate)
	dueDate := calculateDueDate(issueDate, customer.PaymentTermDays)
	if input.DueDate != nil {
		dueDate = dateOnly(*input.DueDate)
	}
	lines, amounts := buildInvoiceLines(tenantId, input.Lines, currency)

	inv := Invoice{
		TenantId:        tenantId,
		DocumentType:    input.DocumentType,
		SeriesId:        nonEmpty(input.SeriesId),
		CustomerId:      customer.ID,
		BillingSnapshot: customer.Snapshot(),
		IssueDate:       issueDate,
		DueDate:         dueDate,
		Currency:        currency,
		Subtotal:        amounts.Subtotal,
		TaxAmount:       amounts.TaxAmount,
		TotalAmount:     amounts.TotalAmount,
		PaidAmount:      decimal.Zero,
		Status:          InvoiceStatusDraft,
		VariableSymbol:  nonEmpty(input.VariableSymbol),
		Notes:           input.Notes,
		Lines:           lines,
	}
	if input.TaxableSupplyDate != nil {
		d := dateOnly(*input.TaxableSupplyDate)
		inv.TaxableSupplyDate = &d
	}
	return &inv, nil
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

// insertInvoiceTx stores a prepared draft with its lines, optionally numbering it right away.
func insertInvoiceTx(tx *gorm.DB, inv *Invoice, issueNumber bool) error {
	if err := tx.Create(inv).Error; err != nil {
		return err
	}
	if issueNumber {
		return assignInvoiceNumber(tx, inv)
	}
	return nil
}

func CreateInvoice(ctx context.Context, input *NewInvoice) (*Invoice, error) {
	tenantId, err := utils.RequireTenantId(ctx)
	if err != nil {
		return nil, err
	}
	inv, err := prepareInvoice(ctx, tenantId, input)
	if err != nil {
		return nil, err
	}

	tx := dbFrom(ctx).Begin()
	if err := insertInvoiceTx(tx, inv, input.IssueNumber); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	inv.DisplayStatus = EffectiveStatus(inv, Now())
	return inv, nil
}

// UpdateInvoice replaces the content of a DRAFT. Any other status is InvoiceNotEditable.
func UpdateInvoice(ctx context.Context, id string, input *NewInvoice) (*Invoice, error) {
	tenantId, err := utils.RequireTenantId(ctx)
	if err != nil {
		return nil, err
	}
	prepared, err := prepareInvoice(ctx, tenantId, input)
	if err != nil {
		return nil, err
	}

	tx := dbFrom(ctx).Begin()
	inv, err := lockInvoice(tx, tenantId, id)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if inv.Status != InvoiceStatusDraft {
		tx.Rollback()
		return nil, utils.ErrInvoiceNotEditable
	}
	if inv.DocumentType == DocumentTypeCreditNote {
		tx.Rollback()
		return nil, utils.NewValidationError("credit note lines follow the original invoice; delete the draft and issue a new credit note")
	}
	if inv.Number != nil && prepared.SeriesId != nil && (inv.SeriesId == nil || *inv.SeriesId != *prepared.SeriesId) {
		tx.Rollback()
		return nil, utils.NewValidationError("number series cannot change once a number is assigned")
	}
	if inv.Number != nil && inv.DocumentType != prepared.DocumentType {
		tx.Rollback()
		return nil, utils.NewValidationError("document type cannot change once a number is assigned")
	}

	if err := tx.Where("tenant_id = ? AND invoice_id = ?", tenantId, id).Delete(&InvoiceLine{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	for i := range prepared.Lines {
		prepared.Lines[i].InvoiceId = id
	}
	if err := tx.Create(&prepared.Lines).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	updates := map[string]interface{}{
		"document_type":       prepared.DocumentType,
		"customer_id":         prepared.CustomerId,
		"billing_name":        prepared.BillingName,
		"billing_address":     prepared.BillingAddress,
		"billing_tax_id":      prepared.BillingTaxId,
		"billing_email":       prepared.BillingEmail,
		"billing_phone":       prepared.BillingPhone,
		"issue_date":          prepared.IssueDate,
		"due_date":            prepared.DueDate,
		"taxable_supply_date": prepared.TaxableSupplyDate,
		"currency":            prepared.Currency,
		"subtotal":            prepared.Subtotal,
		"tax_amount":          prepared.TaxAmount,
		"total_amount":        prepared.TotalAmount,
		"variable_symbol":     prepared.VariableSymbol,
		"notes":               prepared.Notes,
	}
	if inv.Number == nil {
		updates["series_id"] = prepared.SeriesId
	}
	if err := tx.Model(inv).Updates(updates).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if input.IssueNumber && inv.Number == nil {
		inv.SeriesId = prepared.SeriesId
		inv.DocumentType = prepared.DocumentType
		inv.IssueDate = prepared.IssueDate
		if err := assignInvoiceNumber(tx, inv); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return fetchInvoice(dbFrom(ctx), tenantId, id)
}

func orderLines(db *gorm.DB) *gorm.DB {
	return db.Order("position")
}

func fetchInvoice(db *gorm.DB, tenantId string, id string) (*Invoice, error) {
	var inv Invoice
	err := db.Preload("Lines", orderLines).Where("tenant_id = ? AND id = ?", tenantId, id).First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &inv, nil
}

// lockInvoice reads the invoice with SELECT ... FOR UPDATE; the lock is held until tx ends.
func lockInvoice(tx *gorm.DB, tenantId string, id string) (*Invoice, error) {
	return fetchInvoice(tx.Clauses(clause.Locking{Strength: "UPDATE"}), tenantId, id)
}

func GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	tenantId, err := utils.RequireTenantId(ctx)
	if err != nil {
		return nil, err
	}
	return fetchInvoice(dbFrom(ctx), tenantId, id)
}

// DeleteInvoice removes a DRAFT. A numbered draft leaves a gap in its series, which is logged.
func DeleteInvoice(ctx context.Context, id string) (*Invoice, error) {
	tenantId, err := utils.RequireTenantId(ctx)
	if err != nil {
		return nil, err
	}

	tx := dbFrom(ctx).Begin()
	inv, err := lockInvoice(tx, tenantId, id)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if inv.Status != InvoiceStatusDraft {
		tx.Rollback()
		return nil, utils.ErrInvoiceNotEditable.WithMessage("only draft invoices can be deleted")
	}
	if err := tx.Where("tenant_id = ? AND invoice_id = ?", tenantId, id).Delete(&Payment{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Where("tenant_id = ? AND invoice_id = ?", tenantId, id).Delete(&InvoiceLine{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Delete(inv).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	logNumberGap(inv)
	return inv, nil
}

type InvoiceNotificationPayload struct {
	InvoiceId    string          `json:"invoice_id"`
	Number       string          `json:"number"`
	DocumentType DocumentType    `json:"document_type"`
	BillingName  string          `json:"billing_name"`
	BillingEmail string          `json:"billing_email"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Balance      decimal.Decimal `json:"balance"`
	Currency     string          `json:"currency"`
	DueDate      string          `json:"due_date"`
}

func invoiceNotificationPayload(inv *Invoice) InvoiceNotificationPayload {
	return InvoiceNotificationPayload{
		InvoiceId:    inv.ID,
		Number:       inv.NumberOrEmpty(),
		DocumentType: inv.DocumentType,
		BillingName:  inv.BillingName,
		BillingEmail: inv.BillingEmail,
		TotalAmount:  inv.TotalAmount,
		Balance:      inv.Balance(),
		Currency:     inv.Currency,
		DueDate:      inv.DueDate.Format("2006-01-02"),
	}
}

// markSentTx moves a locked invoice DRAFT -> SENT. Already sent (or paid) invoices are left alone.
func markSentTx(ctx context.Context, tx *gorm.DB, inv *Invoice) (changed bool, err error) {
	switch inv.Status {
	case InvoiceStatusSent, InvoiceStatusPartiallyPaid, InvoiceStatusPaid:
		return false, nil
	case InvoiceStatusCancelled:
		return false, utils.ErrInvoiceCancelled.WithMessage("a cancelled invoice cannot be sent")
	}
	if len(inv.Lines) == 0 {
		return false, utils.NewValidationError("invoice has no lines")
	}
	if err := assignInvoiceNumber(tx, inv); err != nil {
		return false, err
	}
	now := Now()
	if err := tx.Model(inv).Updates(map[string]interface{}{
		"status":  InvoiceStatusSent,
		"sent_at": now,
	}).Error; err != nil {
		return false, err
	}
	inv.Status = InvoiceStatusSent
	inv.SentAt = &now
	inv.DisplayStatus = EffectiveStatus(inv, now)

	if err := enqueueNotification(ctx, tx, inv.TenantId, NotificationInvoiceSent, "invoice", inv.ID, invoiceNotificationPayload(inv)); err != nil {
		return false, err
	}
	return true, nil
}

func MarkInvoiceSent(ctx context.Context, id string) (*Invoice, error) {
	tenantId, err := utils.RequireTenantId(ctx)
	if err != nil {
		return nil, err
	}

	tx := dbFrom(ctx).Begin()
	inv, err := lockInvoice(tx, tenantId, id)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	changed, err := markSentTx(ctx, tx, inv)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	if changed {
		metrics.Billing().IncInvoiceTransition(string(InvoiceStatusSent))
	}
	return inv, nil
}

// CancelInvoice cancels any non-terminal invoice. Paid invoices are reversed with a credit note instead.
func CancelInvoice(ctx context.Context, id string, reason string) (*Invoice, error) {
	tenantId, err := utils.RequireTenantId(ctx)
	if err != nil {
		return nil, err
	}

	tx := dbFrom(ctx).Begin()
	inv, err := lockInvoice(tx, tenantId, id)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	switch inv.Status {
	case InvoiceStatusPaid:
		tx.Rollback()
		return nil, utils.ErrCannotCancelPaidInvoice
	case InvoiceStatusCancelled:
		tx.Rollback()
		return nil, utils.ErrInvoiceCancelled.WithMessage("invoice is already cancelled")
	}

	now := Now()
	if err := tx.Model(inv).Updates(map[string]interface{}{
		"status":        InvoiceStatusCancelled,
		"cancelled_at":  now,
		"cancel_reason": reason,
	}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	inv.Status = InvoiceStatusCancelled
	inv.CancelledAt = &now
	inv.CancelReason = reason
	inv.DisplayStatus = InvoiceStatusCancelled
	metrics.Billing().IncInvoiceTransition(string(InvoiceStatusCancelled))
	return inv, nil
}

// DuplicateInvoice copies lines and the billing snapshot into a fresh DRAFT dated today.
// It is also how a cancelled invoice is reopened.
func DuplicateInvoice(ctx context.Context, id string) (*Invoice, error) {
	tenantId, err := utils.RequireTenantId(ctx)
	if err != nil {
		return nil, err
	}
	src, err := fetchInvoice(dbFrom(ctx), tenantId, id)
	if err != nil {
		return nil, err
	}
	if src.DocumentType == DocumentTypeCreditNote {
		return nil, utils.NewValidationError("credit notes cannot be duplicated")
	}

	issueDate := dateOnly(Now())
	lines := make([]InvoiceLine, len(src.Lines))
	for i, l := range src.Lines {
		lines[i] = InvoiceLine{
			TenantId:     tenantId,
			Position:     l.Position,
			Description:  l.Description,
			Quantity:     l.Quantity,
			UnitPrice:    l.UnitPrice,
			Discount:     l.Discount,
			DiscountType: l.DiscountType,
			TaxRate:      l.TaxRate,
			Subtotal:     l.Subtotal,
			TaxAmount:    l.TaxAmount,
			Total:        l.Total,
		}
	}
	dup := Invoice{
		TenantId:        tenantId,
		DocumentType:    src.DocumentType,
		SeriesId:        src.SeriesId,
		CustomerId:      src.CustomerId,
		BillingSnapshot: src.BillingSnapshot,
		IssueDate:       issueDate,
		DueDate:         calculateDueDate(issueDate, termDays(src.IssueDate, src.DueDate)),
		Currency:        src.Currency,
		Subtotal:        src.Subtotal,
		TaxAmount:       src.TaxAmount,
		TotalAmount:     src.TotalAmount,
		PaidAmount:      decimal.Zero,
		Status:          InvoiceStatusDraft,
		Notes:           src.Notes,
		Lines:           lines,
	}

	if err := dbFrom(ctx).Create(&dup).Error; err != nil {
		return nil, err
	}
	dup.DisplayStatus = InvoiceStatusDraft
	return &dup, nil
}
