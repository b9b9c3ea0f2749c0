package models

import (
	"context"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/utils"
)

const maxBulkIds = 500

type BulkFailure struct {
	ID     string `json:"id"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type BulkResult struct {
	Succeeded []string      `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
}

type BulkInvoiceInput struct {
	Action        InvoiceAction `json:"action" validate:"required,oneof=mark_paid send cancel"`
	Ids           []string      `json:"ids" validate:"required,min=1"`
	Reason        string        `json:"reason"`
	PaymentMethod PaymentMethod `json:"payment_method"`
}

// RunBulkInvoiceAction applies one command per id, each in its own transaction.
// A failing id is reported and does not stop the rest.
func RunBulkInvoiceAction(ctx context.Context, input *BulkInvoiceInput) (*BulkResult, error) {
	if _, err := utils.RequireTenantId(ctx); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	ids := utils.UniqueSlice(input.Ids)
	if len(ids) > maxBulkIds {
		return nil, utils.NewValidationErrorf("at most %d ids per request", maxBulkIds)
	}

	var cmd InvoiceCommand
	switch input.Action {
	case InvoiceActionMarkPaid:
		cmd = MarkInvoicePaidCommand{PaymentMethod: input.PaymentMethod, Source: PaymentSourceBulk}
	case InvoiceActionSend:
		cmd = SendInvoiceCommand{}
	case InvoiceActionCancel:
		cmd = CancelInvoiceCommand{Reason: input.Reason}
	}

	result := BulkResult{Succeeded: []string{}, Failed: []BulkFailure{}}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			result.Failed = append(result.Failed, BulkFailure{ID: id, Code: "CANCELLED", Reason: err.Error()})
			continue
		}
		if _, err := ExecuteInvoiceCommand(ctx, id, cmd); err != nil {
			if utils.ErrorKindOf(err) == "" {
				config.LogError(config.GetLogger(), "bulkInvoice.go", "RunBulkInvoiceAction", string(input.Action), id, err)
			}
			result.Failed = append(result.Failed, BulkFailure{ID: id, Code: utils.ErrorCodeOf(err), Reason: err.Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return &result, nil
}
