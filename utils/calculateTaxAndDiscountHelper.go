package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountTypePercentage DiscountType = "PERCENTAGE"
	DiscountTypeFixed      DiscountType = "FIXED"
)

func (t DiscountType) IsValid() bool {
	return t == DiscountTypePercentage || t == DiscountTypeFixed
}

var decimalOneHundred = decimal.NewFromInt(100)

// LineInput is the money-relevant part of an invoice line.
type LineInput struct {
	Quantity     decimal.Decimal
	UnitPrice    decimal.Decimal
	Discount     decimal.Decimal
	DiscountType DiscountType
	TaxRate      decimal.Decimal
}

type LineAmounts struct {
	Subtotal  decimal.Decimal `json:"subtotal"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
	Total     decimal.Decimal `json:"total"`
}

type DocumentAmounts struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Lines       []LineAmounts   `json:"lines"`
}

// ValidateLineInput checks the bounds ComputeLine relies on.
func ValidateLineInput(line LineInput) error {
	if !line.Quantity.IsPositive() {
		return NewValidationError("quantity must be greater than zero")
	}
	if line.Discount.IsNegative() {
		return NewValidationError("discount must not be negative")
	}
	if line.TaxRate.IsNegative() {
		return NewValidationError("tax rate must not be negative")
	}
	if !line.DiscountType.IsValid() {
		return NewValidationErrorf("invalid discount type %q", line.DiscountType)
	}
	if line.DiscountType == DiscountTypePercentage && line.Discount.GreaterThan(decimalOneHundred) {
		return NewValidationError("percentage discount must not exceed 100")
	}
	return nil
}

func CalculateDiscountAmount(gross decimal.Decimal, discount decimal.Decimal, discountType DiscountType) decimal.Decimal {
	if !discount.IsPositive() {
		return decimal.Zero
	}
	if discountType == DiscountTypePercentage {
		return gross.Mul(discount).Div(decimalOneHundred)
	}
	return discount
}

// CalculateTaxAmount is tax-exclusive: base * rate / 100.
func CalculateTaxAmount(base decimal.Decimal, taxRate decimal.Decimal) decimal.Decimal {
	if !taxRate.IsPositive() {
		return decimal.Zero
	}
	return base.Mul(taxRate).Div(decimalOneHundred)
}

// ComputeLine returns exact (unrounded) line amounts.
func ComputeLine(line LineInput) LineAmounts {
	gross := line.Quantity.Mul(line.UnitPrice)
	base := gross.Sub(CalculateDiscountAmount(gross, line.Discount, line.DiscountType))
	if base.IsNegative() {
		base = decimal.Zero
	}
	tax := CalculateTaxAmount(base, line.TaxRate)
	return LineAmounts{
		Subtotal:  base,
		TaxAmount: tax,
		Total:     base.Add(tax),
	}
}

// ComputeDocument sums exact line values and rounds once, half-to-even, to places.
// TotalAmount is the sum of the rounded subtotal and tax so the two always add up.
func ComputeDocument(lines []LineInput, places int32) DocumentAmounts {
	subtotal := decimal.Zero
	tax := decimal.Zero
	computed := make([]LineAmounts, 0, len(lines))
	for _, line := range lines {
		amounts := ComputeLine(line)
		subtotal = subtotal.Add(amounts.Subtotal)
		tax = tax.Add(amounts.TaxAmount)
		computed = append(computed, amounts)
	}
	subtotal = subtotal.RoundBank(places)
	tax = tax.RoundBank(places)
	return DocumentAmounts{
		Subtotal:    subtotal,
		TaxAmount:   tax,
		TotalAmount: subtotal.Add(tax),
		Lines:       computed,
	}
}

// Negate flips the sign of document amounts (credit notes).
func (d DocumentAmounts) Negate() DocumentAmounts {
	lines := make([]LineAmounts, len(d.Lines))
	for i, l := range d.Lines {
		lines[i] = LineAmounts{Subtotal: l.Subtotal.Neg(), TaxAmount: l.TaxAmount.Neg(), Total: l.Total.Neg()}
	}
	return DocumentAmounts{
		Subtotal:    d.Subtotal.Neg(),
		TaxAmount:   d.TaxAmount.Neg(),
		TotalAmount: d.TotalAmount.Neg(),
		Lines:       lines,
	}
}

var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "ISK": true, "JPY": true,
	"KMF": true, "KRW": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// CurrencyMinorUnits is the number of decimal places money is rounded to for a currency.
func CurrencyMinorUnits(currency string) int32 {
	if zeroDecimalCurrencies[strings.ToUpper(strings.TrimSpace(currency))] {
		return 0
	}
	return 2
}
