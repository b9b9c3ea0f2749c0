package qrpayment

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidIBAN          = errors.New("invalid IBAN")
	ErrInvalidAccountNumber = errors.New("invalid account number")
)

// ValidateIBAN checks shape and the ISO 13616 mod-97 check digits.
func ValidateIBAN(iban string) error {
	iban = normalizeIBAN(iban)
	if len(iban) < 15 || len(iban) > 34 {
		return fmt.Errorf("%w: length %d", ErrInvalidIBAN, len(iban))
	}
	for i, r := range iban {
		switch {
		case i < 2 && (r < 'A' || r > 'Z'):
			return fmt.Errorf("%w: country code", ErrInvalidIBAN)
		case i >= 2 && i < 4 && (r < '0' || r > '9'):
			return fmt.Errorf("%w: check digits", ErrInvalidIBAN)
		case !isAlnum(r):
			return fmt.Errorf("%w: character %q", ErrInvalidIBAN, r)
		}
	}
	if mod97(iban[4:]+iban[:4]) != 1 {
		return fmt.Errorf("%w: checksum", ErrInvalidIBAN)
	}
	return nil
}

func normalizeIBAN(iban string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(iban), " ", ""))
}

func isAlnum(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z')
}

// mod97 of an alphanumeric string with letters expanded to 10..35, computed digit by digit.
func mod97(s string) int {
	rem := 0
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			v := int(r-'A') + 10
			rem = (rem*100 + v) % 97
			continue
		}
		rem = (rem*10 + int(r-'0')) % 97
	}
	return rem
}

// weights of the Czech/Slovak account checksum, applied right-aligned
var accountWeights = []int{6, 3, 7, 9, 10, 5, 8, 4, 2, 1}

func accountChecksumOK(digits string) bool {
	sum := 0
	offset := len(accountWeights) - len(digits)
	for i, r := range digits {
		sum += int(r-'0') * accountWeights[offset+i]
	}
	return sum%11 == 0
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// LocalAccountToIBAN converts a Czech or Slovak "[prefix-]number/bankcode" account to an IBAN.
func LocalAccountToIBAN(country string, account string) (string, error) {
	country = strings.ToUpper(strings.TrimSpace(country))
	if country != "CZ" && country != "SK" {
		return "", fmt.Errorf("%w: local accounts are supported for CZ and SK only, got %q", ErrInvalidAccountNumber, country)
	}
	account = strings.ReplaceAll(strings.TrimSpace(account), " ", "")
	numberPart, bankCode, ok := strings.Cut(account, "/")
	if !ok || len(bankCode) != 4 || !allDigits(bankCode) {
		return "", fmt.Errorf("%w: expected [prefix-]number/bankcode", ErrInvalidAccountNumber)
	}
	prefix, number, hasPrefix := strings.Cut(numberPart, "-")
	if !hasPrefix {
		prefix, number = "", numberPart
	}
	if (prefix != "" && (!allDigits(prefix) || len(prefix) > 6)) || !allDigits(number) || len(number) < 2 || len(number) > 10 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAccountNumber, numberPart)
	}
	if (prefix != "" && !accountChecksumOK(prefix)) || !accountChecksumOK(number) {
		return "", fmt.Errorf("%w: checksum", ErrInvalidAccountNumber)
	}

	bban := bankCode + leftPadZeros(prefix, 6) + leftPadZeros(number, 10)
	check := 98 - mod97(bban+country+"00")
	return fmt.Sprintf("%s%02d%s", country, check, bban), nil
}

func leftPadZeros(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
