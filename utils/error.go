package utils

import (
	"errors"
	"fmt"
	"net/http"

	"gorm.io/gorm"
)

type ErrorKind string

const (
	ErrorKindValidation         ErrorKind = "VALIDATION"
	ErrorKindNotFound           ErrorKind = "NOT_FOUND"
	ErrorKindStateConflict      ErrorKind = "STATE_CONFLICT"
	ErrorKindDuplicateOperation ErrorKind = "DUPLICATE_OPERATION"
	ErrorKindConfiguration      ErrorKind = "CONFIGURATION"
	ErrorKindExternalDependency ErrorKind = "EXTERNAL_DEPENDENCY"
)

// BillingError is the error every billing operation reports to its caller.
// Two BillingErrors match under errors.Is when their codes match, so a
// wrapped or re-messaged error still satisfies errors.Is(err, ErrInvoiceNotEditable).
type BillingError struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *BillingError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *BillingError) Unwrap() error {
	return e.Err
}

func (e *BillingError) Is(target error) bool {
	t, ok := target.(*BillingError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newBillingError(kind ErrorKind, code, message string) *BillingError {
	return &BillingError{Kind: kind, Code: code, Message: message}
}

func NewValidationError(message string) *BillingError {
	return newBillingError(ErrorKindValidation, "VALIDATION_ERROR", message)
}

func NewValidationErrorf(format string, args ...any) *BillingError {
	return NewValidationError(fmt.Sprintf(format, args...))
}

func NewStateConflictError(message string) *BillingError {
	return newBillingError(ErrorKindStateConflict, "STATE_CONFLICT", message)
}

func NewExternalDependencyError(message string, err error) *BillingError {
	e := newBillingError(ErrorKindExternalDependency, "EXTERNAL_DEPENDENCY", message)
	e.Err = err
	return e
}

// WithMessage returns a copy of a named error with a more specific message.
func (e *BillingError) WithMessage(message string) *BillingError {
	c := *e
	c.Message = message
	return &c
}

var (
	ErrorRecordNotFound = newBillingError(ErrorKindNotFound, "NOT_FOUND", "record not found")

	ErrTenantRequired = newBillingError(ErrorKindValidation, "TENANT_REQUIRED", "tenant id is required")

	ErrInvoiceNotEditable      = newBillingError(ErrorKindStateConflict, "INVOICE_NOT_EDITABLE", "only draft invoices can be edited")
	ErrCannotCancelPaidInvoice = newBillingError(ErrorKindStateConflict, "CANNOT_CANCEL_PAID_INVOICE", "paid invoices cannot be cancelled")
	ErrInvoiceCancelled        = newBillingError(ErrorKindStateConflict, "INVOICE_CANCELLED", "invoice is cancelled")
	ErrInvoiceAlreadyPaid      = newBillingError(ErrorKindStateConflict, "INVOICE_ALREADY_PAID", "invoice is already paid")
	ErrInvoiceNotIssued        = newBillingError(ErrorKindStateConflict, "INVOICE_NOT_ISSUED", "invoice has not been sent yet")
	ErrNothingToPay            = newBillingError(ErrorKindStateConflict, "NOTHING_TO_PAY", "invoice has no outstanding balance")
	ErrCreditExceedsInvoice    = newBillingError(ErrorKindValidation, "CREDIT_EXCEEDS_INVOICE", "credit note exceeds the remaining creditable amount")
	ErrOverpaymentRejected     = newBillingError(ErrorKindValidation, "OVERPAYMENT_REJECTED", "payment exceeds the outstanding balance")

	ErrDuplicateGatewayPayment = newBillingError(ErrorKindDuplicateOperation, "DUPLICATE_GATEWAY_PAYMENT", "gateway payment already recorded on another invoice")

	ErrNoDefaultSeriesConfigured = newBillingError(ErrorKindConfiguration, "NO_DEFAULT_SERIES_CONFIGURED", "no default number series configured for this document type")
	ErrBankAccountNotConfigured  = newBillingError(ErrorKindConfiguration, "BANK_ACCOUNT_NOT_CONFIGURED", "no bank account configured for this tenant")
	ErrSeriesInUse               = newBillingError(ErrorKindStateConflict, "SERIES_IN_USE", "number series is referenced by documents")
)

// ErrorKindOf classifies any error. Unknown errors are reported with an empty kind.
func ErrorKindOf(err error) ErrorKind {
	var be *BillingError
	if errors.As(err, &be) {
		return be.Kind
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrorKindNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrorKindDuplicateOperation
	}
	return ""
}

// ErrorCodeOf returns the stable machine code used in API payloads and bulk results.
func ErrorCodeOf(err error) string {
	var be *BillingError
	if errors.As(err, &be) {
		return be.Code
	}
	switch ErrorKindOf(err) {
	case ErrorKindNotFound:
		return ErrorRecordNotFound.Code
	case ErrorKindDuplicateOperation:
		return "DUPLICATE"
	}
	return "INTERNAL_ERROR"
}

func HTTPStatusOf(err error) int {
	switch ErrorKindOf(err) {
	case ErrorKindValidation:
		return http.StatusBadRequest
	case ErrorKindNotFound:
		return http.StatusNotFound
	case ErrorKindStateConflict, ErrorKindDuplicateOperation:
		return http.StatusConflict
	case ErrorKindConfiguration:
		return http.StatusUnprocessableEntity
	case ErrorKindExternalDependency:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
