package models

import (
	"context"
	"strings"

	"github.com/mmdatafocus/billing_backend/utils"
)

// InvoiceCommand is a state change requested on one invoice. The set of variants is closed.
type InvoiceCommand interface {
	isInvoiceCommand()
}

type SendInvoiceCommand struct{}

// MarkInvoicePaidCommand records a payment of the whole outstanding balance.
type MarkInvoicePaidCommand struct {
	PaymentMethod PaymentMethod
	Note          string
	Source        PaymentSource
}

type CancelInvoiceCommand struct {
	Reason string
}

type DuplicateInvoiceCommand struct{}

type IssueCreditNoteCommand struct {
	Items  []NewInvoiceLine
	Reason string
}

func (SendInvoiceCommand) isInvoiceCommand()      {}
func (MarkInvoicePaidCommand) isInvoiceCommand()  {}
func (CancelInvoiceCommand) isInvoiceCommand()    {}
func (DuplicateInvoiceCommand) isInvoiceCommand() {}
func (IssueCreditNoteCommand) isInvoiceCommand()  {}

// InvoiceCommandResult carries the invoice acted on and, for duplicate and credit
// note commands, the newly created document.
type InvoiceCommandResult struct {
	Invoice *Invoice            `json:"invoice"`
	Created *Invoice            `json:"created,omitempty"`
	Payment *PaymentApplication `json:"payment,omitempty"`
}

// InvoiceAction is the wire name of a command (PATCH body "action", bulk "action").
type InvoiceAction string

const (
	InvoiceActionSend       InvoiceAction = "send"
	InvoiceActionMarkPaid   InvoiceAction = "mark_paid"
	InvoiceActionCancel     InvoiceAction = "cancel"
	InvoiceActionDuplicate  InvoiceAction = "duplicate"
	InvoiceActionCreditNote InvoiceAction = "credit_note"
)

type InvoiceActionInput struct {
	Action        InvoiceAction    `json:"action" validate:"required"`
	Reason        string           `json:"reason"`
	PaymentMethod PaymentMethod    `json:"payment_method"`
	Note          string           `json:"note"`
	Items         []NewInvoiceLine `json:"items"`
}

// ParseInvoiceCommand turns a wire action into a command.
func ParseInvoiceCommand(input InvoiceActionInput) (InvoiceCommand, error) {
	switch InvoiceAction(strings.ToLower(strings.TrimSpace(string(input.Action)))) {
	case InvoiceActionSend:
		return SendInvoiceCommand{}, nil
	case InvoiceActionMarkPaid:
		return MarkInvoicePaidCommand{PaymentMethod: input.PaymentMethod, Note: input.Note, Source: PaymentSourceManual}, nil
	case InvoiceActionCancel:
		return CancelInvoiceCommand{Reason: input.Reason}, nil
	case InvoiceActionDuplicate:
		return DuplicateInvoiceCommand{}, nil
	case InvoiceActionCreditNote:
		return IssueCreditNoteCommand{Items: input.Items, Reason: input.Reason}, nil
	default:
		return nil, utils.NewValidationErrorf("unknown action %q", input.Action)
	}
}

func ExecuteInvoiceCommand(ctx context.Context, invoiceId string, cmd InvoiceCommand) (*InvoiceCommandResult, error) {
	switch c := cmd.(type) {
	case SendInvoiceCommand:
		inv, err := MarkInvoiceSent(ctx, invoiceId)
		if err != nil {
			return nil, err
		}
		return &InvoiceCommandResult{Invoice: inv}, nil

	case MarkInvoicePaidCommand:
		source := c.Source
		if source == "" {
			source = PaymentSourceManual
		}
		applied, err := ApplyPayment(ctx, invoiceId, &PaymentInput{
			PaymentMethod: c.PaymentMethod,
			Note:          c.Note,
			SettleBalance: true,
			Source:        source,
		})
		if err != nil {
			return nil, err
		}
		return &InvoiceCommandResult{Invoice: applied.Invoice, Payment: applied}, nil

	case CancelInvoiceCommand:
		inv, err := CancelInvoice(ctx, invoiceId, c.Reason)
		if err != nil {
			return nil, err
		}
		return &InvoiceCommandResult{Invoice: inv}, nil

	case DuplicateInvoiceCommand:
		dup, err := DuplicateInvoice(ctx, invoiceId)
		if err != nil {
			return nil, err
		}
		src, err := GetInvoice(ctx, invoiceId)
		if err != nil {
			return nil, err
		}
		return &InvoiceCommandResult{Invoice: src, Created: dup}, nil

	case IssueCreditNoteCommand:
		note, err := CreateCreditNote(ctx, invoiceId, &NewCreditNote{Items: c.Items, Reason: c.Reason})
		if err != nil {
			return nil, err
		}
		src, err := GetInvoice(ctx, invoiceId)
		if err != nil {
			return nil, err
		}
		return &InvoiceCommandResult{Invoice: src, Created: note}, nil

	default:
		return nil, utils.NewValidationErrorf("unsupported invoice command %T", cmd)
	}
}
