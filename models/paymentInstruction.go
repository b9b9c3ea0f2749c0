package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/qrpayment"
	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/shopspring/decimal"
)

// PaymentDescriptor is the bank-transfer instruction for what is still owed on an invoice.
type PaymentDescriptor struct {
	AccountNumber  string          `json:"account_number"`
	BIC            string          `json:"bic,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	VariableSymbol string          `json:"variable_symbol"`
	Message        string          `json:"message"`
	DueDate        time.Time       `json:"due_date"`
}

// VariableSymbolFor is the override stored on the invoice, else the trailing digits of its number.
func VariableSymbolFor(inv *Invoice) string {
	if inv.VariableSymbol != nil && *inv.VariableSymbol != "" {
		return *inv.VariableSymbol
	}
	digits := utils.DigitsOnly(inv.NumberOrEmpty())
	if n := config.VariableSymbolDigits(); len(digits) > n {
		digits = digits[len(digits)-n:]
	}
	return digits
}

// BuildPaymentInstruction derives the descriptor from the invoice as it is now. The
// amount is the remaining balance, so a partially paid invoice yields a top-up.
func BuildPaymentInstruction(inv *Invoice, settings *TenantBankSettings) (*PaymentDescriptor, error) {
	if settings == nil || (settings.Iban == "" && settings.AccountNumber == "") {
		return nil, utils.ErrBankAccountNotConfigured
	}
	if inv.DocumentType == DocumentTypeCreditNote {
		return nil, utils.NewStateConflictError("credit notes have no payment instruction")
	}
	switch inv.Status {
	case InvoiceStatusCancelled:
		return nil, utils.ErrInvoiceCancelled
	case InvoiceStatusPaid:
		return nil, utils.ErrNothingToPay
	}
	amount := inv.Balance()
	if !amount.IsPositive() {
		return nil, utils.ErrNothingToPay
	}

	account := settings.Iban
	if account == "" {
		iban, err := qrpayment.LocalAccountToIBAN(settings.AccountCountry, settings.AccountNumber)
		if err != nil {
			return nil, utils.ErrBankAccountNotConfigured.WithMessage("bank account on file is invalid: " + err.Error())
		}
		account = iban
	}

	message := inv.BillingName
	if number := inv.NumberOrEmpty(); number != "" {
		message = "Invoice " + number
	}
	return &PaymentDescriptor{
		AccountNumber:  account,
		BIC:            settings.Bic,
		Amount:         amount.Round(moneyPlaces(inv.Currency)),
		Currency:       inv.Currency,
		VariableSymbol: VariableSymbolFor(inv),
		Message:        message,
		DueDate:        inv.DueDate,
	}, nil
}

func (d *PaymentDescriptor) SPAYD() (string, error) {
	payload, err := qrpayment.EncodeSPAYD(qrpayment.Payment{
		IBAN:           d.AccountNumber,
		BIC:            d.BIC,
		Amount:         d.Amount,
		Currency:       d.Currency,
		VariableSymbol: d.VariableSymbol,
		Message:        d.Message,
		DueDate:        d.DueDate,
	})
	if err != nil {
		return "", utils.NewValidationError(err.Error())
	}
	return payload, nil
}

func GetPaymentInstruction(ctx context.Context, invoiceId string) (*PaymentDescriptor, error) {
	inv, err := GetInvoice(ctx, invoiceId)
	if err != nil {
		return nil, err
	}
	settings, err := GetTenantBankSettings(ctx)
	if err != nil {
		return nil, err
	}
	return BuildPaymentInstruction(inv, settings)
}
