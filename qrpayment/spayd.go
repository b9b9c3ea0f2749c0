// Package qrpayment encodes bank-transfer payment instructions as SPAYD
// ("Short Payment Descriptor", the Czech/Slovak QR payment format) and renders them.
package qrpayment

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

const (
	spaydHeader      = "SPD*1.0"
	maxMessageLength = 60
	maxRecipientName = 35
	maxVSDigits      = 10
)

var maxAmount = decimal.RequireFromString("9999999.99")

var ErrInvalidPayment = errors.New("invalid payment instruction")

// Payment is what a banking app needs to prefill a transfer.
type Payment struct {
	IBAN           string
	BIC            string
	Amount         decimal.Decimal
	Currency       string
	VariableSymbol string
	Message        string
	RecipientName  string
	DueDate        time.Time
}

// EncodeSPAYD returns the SPAYD 1.0 string for p, keys in canonical (alphabetical) order.
// Values are never altered beyond formatting: two-decimal amount, escaped '*'.
func EncodeSPAYD(p Payment) (string, error) {
	iban := normalizeIBAN(p.IBAN)
	if err := ValidateIBAN(iban); err != nil {
		return "", err
	}
	if p.Amount.IsNegative() || p.Amount.GreaterThan(maxAmount) {
		return "", fmt.Errorf("%w: amount %s out of range", ErrInvalidPayment, p.Amount.String())
	}
	if !p.Amount.Equal(p.Amount.Round(2)) {
		return "", fmt.Errorf("%w: amount %s has more than two decimals", ErrInvalidPayment, p.Amount.String())
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if len(currency) != 3 {
		return "", fmt.Errorf("%w: currency %q", ErrInvalidPayment, p.Currency)
	}
	if len(p.VariableSymbol) > maxVSDigits || !digitsOnly(p.VariableSymbol) {
		return "", fmt.Errorf("%w: variable symbol %q", ErrInvalidPayment, p.VariableSymbol)
	}

	acc := iban
	if p.BIC != "" {
		acc += "+" + strings.ToUpper(p.BIC)
	}
	fields := []string{spaydHeader, "ACC:" + acc}
	if p.Amount.IsPositive() {
		fields = append(fields, "AM:"+p.Amount.StringFixed(2))
	}
	fields = append(fields, "CC:"+currency)
	if !p.DueDate.IsZero() {
		fields = append(fields, "DT:"+p.DueDate.Format("20060102"))
	}
	if p.Message != "" {
		fields = append(fields, "MSG:"+escapeValue(truncate(p.Message, maxMessageLength)))
	}
	if p.RecipientName != "" {
		fields = append(fields, "RN:"+escapeValue(truncate(p.RecipientName, maxRecipientName)))
	}
	if p.VariableSymbol != "" {
		fields = append(fields, "X-VS:"+p.VariableSymbol)
	}
	return strings.Join(fields, "*"), nil
}

// '*' separates fields; '%' escapes need escaping first so they stay literal
func escapeValue(v string) string {
	v = strings.ReplaceAll(v, "%", "%25")
	return strings.ReplaceAll(v, "*", "%2A")
}

func truncate(s string, max int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) > max {
		r = r[:max]
	}
	return string(r)
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) || r > unicode.MaxASCII {
			return false
		}
	}
	return true
}
