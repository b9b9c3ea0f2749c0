package utils

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func line(qty, price, discount string, dt DiscountType, rate string) LineInput {
	return LineInput{
		Quantity:     d(qty),
		UnitPrice:    d(price),
		Discount:     d(discount),
		DiscountType: dt,
		TaxRate:      d(rate),
	}
}

func TestComputeDocument_SimpleVatLine(t *testing.T) {
	doc := ComputeDocument([]LineInput{line("2", "500", "0", DiscountTypeFixed, "21")}, 2)
	if !doc.Subtotal.Equal(d("1000")) || !doc.TaxAmount.Equal(d("210")) || !doc.TotalAmount.Equal(d("1210")) {
		t.Fatalf("unexpected totals: %s / %s / %s", doc.Subtotal, doc.TaxAmount, doc.TotalAmount)
	}
	if len(doc.Lines) != 1 || !doc.Lines[0].Total.Equal(d("1210")) {
		t.Fatalf("unexpected line totals: %+v", doc.Lines)
	}
}

func TestComputeLine_Discounts(t *testing.T) {
	cases := []struct {
		name string
		in   LineInput
		sub  string
		tax  string
	}{
		{"percentage", line("4", "25", "10", DiscountTypePercentage, "10"), "90", "9"},
		{"fixed", line("1", "100", "15", DiscountTypeFixed, "0"), "85", "0"},
		{"fixed clamps at zero", line("1", "10", "50", DiscountTypeFixed, "21"), "0", "0"},
		{"full percentage", line("3", "10", "100", DiscountTypePercentage, "21"), "0", "0"},
		{"zero discount ignores type", line("2", "7.5", "0", DiscountTypePercentage, "15"), "15", "2.25"},
	}
	for _, tc := range cases {
		got := ComputeLine(tc.in)
		if !got.Subtotal.Equal(d(tc.sub)) || !got.TaxAmount.Equal(d(tc.tax)) {
			t.Fatalf("%s: expected %s/%s, got %s/%s", tc.name, tc.sub, tc.tax, got.Subtotal, got.TaxAmount)
		}
		if !got.Total.Equal(got.Subtotal.Add(got.TaxAmount)) {
			t.Fatalf("%s: total must equal subtotal + tax", tc.name)
		}
	}
}

func TestComputeDocument_RoundsOnceHalfEven(t *testing.T) {
	// Three lines of 0.335 round per line to 1.02 (0.34*3) but the document total is 1.005 -> 1.00.
	lines := []LineInput{
		line("1", "0.335", "0", DiscountTypeFixed, "0"),
		line("1", "0.335", "0", DiscountTypeFixed, "0"),
		line("1", "0.335", "0", DiscountTypeFixed, "0"),
	}
	doc := ComputeDocument(lines, 2)
	if !doc.Subtotal.Equal(d("1.00")) {
		t.Fatalf("expected 1.00, got %s", doc.Subtotal)
	}

	cases := []struct {
		price string
		want  string
	}{
		{"0.125", "0.12"},
		{"0.135", "0.14"},
		{"2.5", "2"},
	}
	for _, tc := range cases {
		places := int32(2)
		if tc.price == "2.5" {
			places = 0
		}
		doc := ComputeDocument([]LineInput{line("1", tc.price, "0", DiscountTypeFixed, "0")}, places)
		if !doc.Subtotal.Equal(d(tc.want)) {
			t.Fatalf("price %s: expected %s, got %s", tc.price, tc.want, doc.Subtotal)
		}
	}
}

func TestComputeDocument_BalanceInvariant(t *testing.T) {
	lines := []LineInput{
		line("3", "19.99", "5", DiscountTypePercentage, "21"),
		line("0.75", "13.33", "1.10", DiscountTypeFixed, "12"),
		line("7", "0.99", "0", DiscountTypeFixed, "15"),
	}
	doc := ComputeDocument(lines, 2)
	if !doc.Subtotal.Add(doc.TaxAmount).Equal(doc.TotalAmount) {
		t.Fatalf("subtotal + tax != total: %s + %s != %s", doc.Subtotal, doc.TaxAmount, doc.TotalAmount)
	}
	if doc.TotalAmount.Exponent() < -2 {
		t.Fatalf("total not rounded to minor units: %s", doc.TotalAmount)
	}
}

func TestComputeDocument_Deterministic(t *testing.T) {
	lines := []LineInput{
		line("1.5", "33.3333", "2.5", DiscountTypePercentage, "21"),
		line("2", "0.005", "0", DiscountTypeFixed, "10"),
	}
	a := ComputeDocument(lines, 2)
	b := ComputeDocument(lines, 2)
	if a.Subtotal.String() != b.Subtotal.String() || a.TaxAmount.String() != b.TaxAmount.String() || a.TotalAmount.String() != b.TotalAmount.String() {
		t.Fatalf("non-deterministic: %+v vs %+v", a, b)
	}
	for i := range a.Lines {
		if a.Lines[i].Total.String() != b.Lines[i].Total.String() {
			t.Fatalf("line %d differs", i)
		}
	}
}

func TestDocumentAmountsNegate(t *testing.T) {
	doc := ComputeDocument([]LineInput{line("2", "500", "0", DiscountTypeFixed, "21")}, 2).Negate()
	if !doc.TotalAmount.Equal(d("-1210")) || !doc.Lines[0].Subtotal.Equal(d("-1000")) {
		t.Fatalf("unexpected negation: %+v", doc)
	}
}

func TestValidateLineInput(t *testing.T) {
	cases := []struct {
		name string
		in   LineInput
		ok   bool
	}{
		{"valid", line("1", "10", "0", DiscountTypeFixed, "21"), true},
		{"zero qty", line("0", "10", "0", DiscountTypeFixed, "21"), false},
		{"negative discount", line("1", "10", "-1", DiscountTypeFixed, "0"), false},
		{"negative tax", line("1", "10", "0", DiscountTypeFixed, "-5"), false},
		{"percentage over 100", line("1", "10", "101", DiscountTypePercentage, "0"), false},
		{"unknown type", line("1", "10", "0", DiscountType("P"), "0"), false},
	}
	for _, tc := range cases {
		err := ValidateLineInput(tc.in)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok {
			var be *BillingError
			if !errors.As(err, &be) || be.Kind != ErrorKindValidation {
				t.Fatalf("%s: expected validation error, got %v", tc.name, err)
			}
		}
	}
}

func TestCurrencyMinorUnits(t *testing.T) {
	if CurrencyMinorUnits("czk") != 2 || CurrencyMinorUnits("JPY") != 0 || CurrencyMinorUnits("") != 2 {
		t.Fatalf("unexpected minor units")
	}
}
