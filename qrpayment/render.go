package qrpayment

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	qrcode "github.com/skip2/go-qrcode"
)

type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatSVG  Format = "svg"
	FormatText Format = "txt"
)

const (
	DefaultWidth = 256
	MinWidth     = 64
	MaxWidth     = 2048
)

var (
	ErrUnsupportedFormat = errors.New("unsupported QR format")
	ErrInvalidWidth      = errors.New("invalid QR width")
)

// ParseFormat accepts png, jpeg (or jpg), svg and txt (or text). Empty means png.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "png":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "svg":
		return FormatSVG, nil
	case "txt", "text":
		return FormatText, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
}

func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatSVG:
		return "image/svg+xml"
	case FormatText:
		return "text/plain; charset=utf-8"
	default:
		return "image/png"
	}
}

// Render encodes payload as a QR code of width pixels. Text output is the payload itself.
func Render(payload string, format Format, width int) ([]byte, error) {
	if width == 0 {
		width = DefaultWidth
	}
	if width < MinWidth || width > MaxWidth {
		return nil, fmt.Errorf("%w: %d (allowed %d..%d)", ErrInvalidWidth, width, MinWidth, MaxWidth)
	}
	if format == FormatText {
		return []byte(payload), nil
	}

	q, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatPNG, FormatJPEG:
		return renderRaster(q, format, width)
	case FormatSVG:
		return renderSVG(q.Bitmap(), width), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// renderRaster draws the symbol at one pixel per module and scales it up to width.
func renderRaster(q *qrcode.QRCode, format Format, width int) ([]byte, error) {
	img := imaging.Resize(q.Image(-1), width, width, imaging.NearestNeighbor)
	var buf bytes.Buffer
	var err error
	if format == FormatJPEG {
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(95))
	} else {
		err = imaging.Encode(&buf, img, imaging.PNG)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// renderSVG draws one rect per dark module on a module-sized viewBox.
func renderSVG(bitmap [][]bool, width int) []byte {
	n := len(bitmap)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" shape-rendering="crispEdges" width="`)
	b.WriteString(strconv.Itoa(width))
	b.WriteString(`" height="`)
	b.WriteString(strconv.Itoa(width))
	b.WriteString(`" viewBox="0 0 `)
	b.WriteString(strconv.Itoa(n))
	b.WriteString(" ")
	b.WriteString(strconv.Itoa(n))
	b.WriteString(`"><rect width="100%" height="100%" fill="#fff"/><path fill="#000" d="`)
	for y, row := range bitmap {
		for x, dark := range row {
			if dark {
				fmt.Fprintf(&b, "M%d %dh1v1h-1z", x, y)
			}
		}
	}
	b.WriteString(`"/></svg>`)
	return []byte(b.String())
}
