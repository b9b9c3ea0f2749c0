package qrpayment

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	qrcode "github.com/skip2/go-qrcode"
)

func TestValidateIBAN(t *testing.T) {
	cases := []struct {
		iban string
		ok   bool
	}{
		{"CZ6508000000192000145399", true},
		{"cz65 0800 0000 1920 0014 5399", true},
		{"GB82WEST12345698765432", true},
		{"CZ6508000000192000145398", false},
		{"CZ65", false},
		{"1Z6508000000192000145399", false},
		{"CZ6508000000192000145-99", false},
	}
	for _, tc := range cases {
		err := ValidateIBAN(tc.iban)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.iban, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidIBAN) {
			t.Fatalf("%s: expected ErrInvalidIBAN, got %v", tc.iban, err)
		}
	}
}

func TestLocalAccountToIBAN(t *testing.T) {
	iban, err := LocalAccountToIBAN("CZ", "19-2000145399/0800")
	if err != nil {
		t.Fatalf("LocalAccountToIBAN: %v", err)
	}
	if iban != "CZ6508000000192000145399" {
		t.Fatalf("expected CZ6508000000192000145399, got %s", iban)
	}
	if err := ValidateIBAN(iban); err != nil {
		t.Fatalf("derived IBAN must validate: %v", err)
	}

	for _, bad := range []string{"19-2000145398/0800", "2000145399", "2000145398/0800", "19-2000145399/80", "ab/0800"} {
		if _, err := LocalAccountToIBAN("CZ", bad); !errors.Is(err, ErrInvalidAccountNumber) {
			t.Fatalf("%s: expected ErrInvalidAccountNumber, got %v", bad, err)
		}
	}
	if _, err := LocalAccountToIBAN("DE", "19-2000145399/0800"); !errors.Is(err, ErrInvalidAccountNumber) {
		t.Fatalf("expected unsupported country to fail, got %v", err)
	}
}

func TestEncodeSPAYD(t *testing.T) {
	p := Payment{
		IBAN:           "CZ6508000000192000145399",
		Amount:         decimal.RequireFromString("600"),
		Currency:       "czk",
		VariableSymbol: "20260001",
		Message:        "Invoice FV20260001",
		DueDate:        time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC),
	}
	got, err := EncodeSPAYD(p)
	if err != nil {
		t.Fatalf("EncodeSPAYD: %v", err)
	}
	want := "SPD*1.0*ACC:CZ6508000000192000145399*AM:600.00*CC:CZK*DT:20260316*MSG:Invoice FV20260001*X-VS:20260001"
	if got != want {
		t.Fatalf("expected\n%s\ngot\n%s", want, got)
	}

	p.BIC = "gibaczpx"
	p.Message = "50% off * today"
	p.RecipientName = "Acme s.r.o."
	p.Amount = decimal.Zero
	got, err = EncodeSPAYD(p)
	if err != nil {
		t.Fatalf("EncodeSPAYD: %v", err)
	}
	if !strings.Contains(got, "ACC:CZ6508000000192000145399+GIBACZPX*") {
		t.Fatalf("missing BIC in %s", got)
	}
	if !strings.Contains(got, "MSG:50%25 off %2A today*") || !strings.Contains(got, "RN:Acme s.r.o.*") {
		t.Fatalf("values not escaped in %s", got)
	}
	if strings.Contains(got, "AM:") {
		t.Fatalf("zero amount must be omitted: %s", got)
	}
}

func TestEncodeSPAYDTruncatesMessage(t *testing.T) {
	got, err := EncodeSPAYD(Payment{
		IBAN:     "CZ6508000000192000145399",
		Amount:   decimal.RequireFromString("1.50"),
		Currency: "EUR",
		Message:  strings.Repeat("á", 80),
	})
	if err != nil {
		t.Fatalf("EncodeSPAYD: %v", err)
	}
	if !strings.Contains(got, "MSG:"+strings.Repeat("á", maxMessageLength)) || strings.Contains(got, strings.Repeat("á", maxMessageLength+1)) {
		t.Fatalf("message not truncated to %d runes: %s", maxMessageLength, got)
	}
}

func TestEncodeSPAYDRejects(t *testing.T) {
	base := Payment{IBAN: "CZ6508000000192000145399", Amount: decimal.RequireFromString("10"), Currency: "CZK"}
	cases := []struct {
		name   string
		mutate func(p *Payment)
		want   error
	}{
		{"bad iban", func(p *Payment) { p.IBAN = "CZ00" }, ErrInvalidIBAN},
		{"negative", func(p *Payment) { p.Amount = decimal.RequireFromString("-1") }, ErrInvalidPayment},
		{"too large", func(p *Payment) { p.Amount = decimal.RequireFromString("10000000") }, ErrInvalidPayment},
		{"three decimals", func(p *Payment) { p.Amount = decimal.RequireFromString("10.005") }, ErrInvalidPayment},
		{"currency", func(p *Payment) { p.Currency = "KC" }, ErrInvalidPayment},
		{"vs letters", func(p *Payment) { p.VariableSymbol = "12A" }, ErrInvalidPayment},
		{"vs too long", func(p *Payment) { p.VariableSymbol = "12345678901" }, ErrInvalidPayment},
	}
	for _, tc := range cases {
		p := base
		tc.mutate(&p)
		if _, err := EncodeSPAYD(p); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestParseFormat(t *testing.T) {
	cases := []struct {
		raw  string
		want Format
	}{
		{"", FormatPNG},
		{"PNG", FormatPNG},
		{"jpg", FormatJPEG},
		{"svg", FormatSVG},
		{"text", FormatText},
	}
	for _, tc := range cases {
		got, err := ParseFormat(tc.raw)
		if err != nil || got != tc.want {
			t.Fatalf("%q: expected %s, got %s (%v)", tc.raw, tc.want, got, err)
		}
	}
	if _, err := ParseFormat("gif"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestRender(t *testing.T) {
	payload := "SPD*1.0*ACC:CZ6508000000192000145399*AM:600.00*CC:CZK"

	pngBytes, err := Render(payload, FormatPNG, 0)
	if err != nil {
		t.Fatalf("Render png: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(pngBytes))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if img.Bounds().Dx() != DefaultWidth {
		t.Fatalf("expected width %d, got %d", DefaultWidth, img.Bounds().Dx())
	}

	jpg, err := Render(payload, FormatJPEG, 128)
	if err != nil {
		t.Fatalf("Render jpeg: %v", err)
	}
	if len(jpg) < 2 || jpg[0] != 0xFF || jpg[1] != 0xD8 {
		t.Fatalf("not a jpeg")
	}

	svg, err := Render(payload, FormatSVG, 300)
	if err != nil {
		t.Fatalf("Render svg: %v", err)
	}
	if !bytes.Contains(svg, []byte(`width="300"`)) || !bytes.HasSuffix(svg, []byte("</svg>")) {
		t.Fatalf("unexpected svg %s", svg[:80])
	}

	txt, err := Render(payload, FormatText, 0)
	if err != nil || string(txt) != payload {
		t.Fatalf("text render must echo the payload, got %q (%v)", txt, err)
	}

	for _, w := range []int{MinWidth - 1, MaxWidth + 1} {
		if _, err := Render(payload, FormatPNG, w); !errors.Is(err, ErrInvalidWidth) {
			t.Fatalf("width %d: expected ErrInvalidWidth, got %v", w, err)
		}
	}
}

func TestRenderRasterScalesModules(t *testing.T) {
	payload := "SPD*1.0*ACC:CZ6508000000192000145399*AM:1210.00*CC:CZK*X-VS:20260001"
	q, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		t.Fatalf("qrcode.New: %v", err)
	}
	modules := len(q.Bitmap())

	cases := []struct {
		format Format
		width  int
	}{
		{FormatPNG, MinWidth},
		{FormatPNG, 300},
		{FormatJPEG, 128},
		{FormatJPEG, 512},
	}
	for _, tc := range cases {
		body, err := Render(payload, tc.format, tc.width)
		if err != nil {
			t.Fatalf("Render %s %d: %v", tc.format, tc.width, err)
		}
		img, _, err := image.Decode(bytes.NewReader(body))
		if err != nil {
			t.Fatalf("decode %s: %v", tc.format, err)
		}
		if img.Bounds().Dx() != tc.width || img.Bounds().Dy() != tc.width {
			t.Fatalf("%s: expected %dx%d, got %v", tc.format, tc.width, tc.width, img.Bounds())
		}

		// the quiet zone is light and the finder pattern's first module is dark
		at := func(module float64) int { return int(module * float64(tc.width) / float64(modules)) }
		if isDark(img.At(0, 0)) || !isDark(img.At(at(4.5), at(4.5))) {
			t.Fatalf("%s %d: modules not scaled onto the canvas", tc.format, tc.width)
		}
	}
}

func isDark(c color.Color) bool {
	return color.GrayModel.Convert(c).(color.Gray).Y < 128
}
