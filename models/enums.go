package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mmdatafocus/billing_backend/utils"
)

// parseEnum accepts a JSON string in any case and maps it onto one of the allowed values.
func parseEnum[T ~string](data []byte, allowed []T, name string) (T, error) {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return "", utils.NewValidationErrorf("%s must be string", name)
	}
	for _, v := range allowed {
		if strings.EqualFold(str, string(v)) {
			return v, nil
		}
	}
	return "", utils.NewValidationError(fmt.Sprintf("invalid %s %q", name, str))
}

type DocumentType string

const (
	DocumentTypeInvoice    DocumentType = "INVOICE"
	DocumentTypeCreditNote DocumentType = "CREDIT_NOTE"
	DocumentTypeProforma   DocumentType = "PROFORMA"
)

var documentTypes = []DocumentType{DocumentTypeInvoice, DocumentTypeCreditNote, DocumentTypeProforma}

func (t *DocumentType) UnmarshalJSON(data []byte) error {
	v, err := parseEnum(data, documentTypes, "document type")
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func (t DocumentType) IsValid() bool {
	for _, v := range documentTypes {
		if v == t {
			return true
		}
	}
	return false
}

// InvoiceStatus is the stored status. OVERDUE is never stored; see EffectiveStatus.
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "DRAFT"
	InvoiceStatusSent          InvoiceStatus = "SENT"
	InvoiceStatusPartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoiceStatusPaid          InvoiceStatus = "PAID"
	InvoiceStatusOverdue       InvoiceStatus = "OVERDUE"
	InvoiceStatusCancelled     InvoiceStatus = "CANCELLED"
)

var invoiceStatuses = []InvoiceStatus{
	InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPartiallyPaid,
	InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled,
}

func (s *InvoiceStatus) UnmarshalJSON(data []byte) error {
	v, err := parseEnum(data, invoiceStatuses, "invoice status")
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func ParseInvoiceStatus(raw string) (InvoiceStatus, error) {
	b, _ := json.Marshal(raw)
	return parseEnum(b, invoiceStatuses, "invoice status")
}

// IsTerminal reports PAID and CANCELLED.
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusCancelled
}

type PaymentMethod string

const (
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentMethodCash         PaymentMethod = "CASH"
	PaymentMethodCard         PaymentMethod = "CARD"
	PaymentMethodGateway      PaymentMethod = "GATEWAY"
	PaymentMethodOther        PaymentMethod = "OTHER"
)

var paymentMethods = []PaymentMethod{
	PaymentMethodBankTransfer, PaymentMethodCash, PaymentMethodCard, PaymentMethodGateway, PaymentMethodOther,
}

func (m *PaymentMethod) UnmarshalJSON(data []byte) error {
	v, err := parseEnum(data, paymentMethods, "payment method")
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// PaymentSource says which path recorded a payment.
type PaymentSource string

const (
	PaymentSourceManual  PaymentSource = "MANUAL"
	PaymentSourceBulk    PaymentSource = "BULK"
	PaymentSourceWebhook PaymentSource = "WEBHOOK"
)

type RecurringFrequency string

const (
	RecurringFrequencyWeekly    RecurringFrequency = "WEEKLY"
	RecurringFrequencyMonthly   RecurringFrequency = "MONTHLY"
	RecurringFrequencyQuarterly RecurringFrequency = "QUARTERLY"
	RecurringFrequencyYearly    RecurringFrequency = "YEARLY"
)

var recurringFrequencies = []RecurringFrequency{
	RecurringFrequencyWeekly, RecurringFrequencyMonthly, RecurringFrequencyQuarterly, RecurringFrequencyYearly,
}

func (f *RecurringFrequency) UnmarshalJSON(data []byte) error {
	v, err := parseEnum(data, recurringFrequencies, "frequency")
	if err != nil {
		return err
	}
	*f = v
	return nil
}

func (f RecurringFrequency) IsValid() bool {
	for _, v := range recurringFrequencies {
		if v == f {
			return true
		}
	}
	return false
}
