package source

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"codeberg.org/go-pdf/fpdf"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestKindForMIME(t *testing.T) {
	tests := []struct {
		mime string
		kind Kind
		ok   bool
	}{
		{"application/pdf", KindDocument, true},
		{"image/png", KindImage, true},
		{"image/jpeg", KindImage, true},
		{"image/jpg", KindImage, true},
		{"IMAGE/PNG; charset=binary", KindImage, true},
		{"image/gif", "", false},
		{"text/plain", "", false},
	}
	for _, tt := range tests {
		kind, ok := KindForMIME(tt.mime)
		if ok != tt.ok || kind != tt.kind {
			t.Errorf("KindForMIME(%q) = (%q, %v), expected (%q, %v)", tt.mime, kind, ok, tt.kind, tt.ok)
		}
	}
}

func TestDetectMIME(t *testing.T) {
	pngData := encodePNG(t, 2, 2)
	if got := DetectMIME("a.bin", "image/png", nil); got != MIMEPNG {
		t.Errorf("expected declared type to win, got %q", got)
	}
	if got := DetectMIME("scan.pdf", "application/octet-stream", nil); got != MIMEPDF {
		t.Errorf("expected type from extension, got %q", got)
	}
	if got := DetectMIME("noext", "", pngData); got != MIMEPNG {
		t.Errorf("expected sniffed png, got %q", got)
	}
}

func TestStdImageDecoder_PNG(t *testing.T) {
	bm, err := StdImageDecoder{}.Decode(encodePNG(t, 30, 20), MIMEPNG)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bm.Width != 30 || bm.Height != 20 {
		t.Errorf("expected 30x20, got %dx%d", bm.Width, bm.Height)
	}
	if bm.Format != "png" {
		t.Errorf("expected format png, got %q", bm.Format)
	}
}

func TestStdImageDecoder_JPEG(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 4)), nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	bm, err := StdImageDecoder{}.Decode(buf.Bytes(), MIMEJPEG)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bm.Format != "jpeg" {
		t.Errorf("expected format jpeg, got %q", bm.Format)
	}
}

func TestStdImageDecoder_Corrupt(t *testing.T) {
	if _, err := (StdImageDecoder{}).Decode([]byte("not an image"), MIMEPNG); err == nil {
		t.Error("expected error for corrupt image")
	}
	if _, err := (StdImageDecoder{}).Decode(encodePNG(t, 2, 2), MIMEPDF); err == nil {
		t.Error("expected error for non-image mime type")
	}
}

func TestPDFDecoder_PageSizes(t *testing.T) {
	doc := fpdf.New("P", "pt", "A4", "")
	doc.AddPageFormat("P", fpdf.SizeType{Wd: 300, Ht: 400})
	doc.AddPageFormat("P", fpdf.SizeType{Wd: 500, Ht: 200})
	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		t.Fatalf("write pdf: %v", err)
	}

	d := &PDFDecoder{}
	decoded, err := d.Decode(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.PageCount() != 2 {
		t.Fatalf("expected 2 pages, got %d", decoded.PageCount())
	}
	want := [][2]float64{{300, 400}, {500, 200}}
	for i, w := range want {
		p, err := decoded.Page(i)
		if err != nil {
			t.Fatalf("page %d: %v", i, err)
		}
		gw, gh := p.Size()
		if math.Abs(gw-w[0]) > 0.01 || math.Abs(gh-w[1]) > 0.01 {
			t.Errorf("page %d: expected %vx%v, got %vx%v", i, w[0], w[1], gw, gh)
		}
	}
	if _, err := decoded.Page(2); err == nil {
		t.Error("expected out of range error")
	}

	p, _ := decoded.Page(0)
	if _, err := p.Render(context.Background(), 1); !errors.Is(err, ErrRasterizerUnavailable) {
		t.Errorf("expected ErrRasterizerUnavailable, got %v", err)
	}
}

func TestPDFDecoder_Malformed(t *testing.T) {
	d := &PDFDecoder{}
	if _, err := d.Decode(context.Background(), []byte("%PDF-1.4 garbage")); err == nil {
		t.Error("expected error for malformed pdf")
	}
}

func TestDecodeError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	var err error = &DecodeError{Name: "a.pdf", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("expected DecodeError to unwrap to its cause")
	}
	var de *DecodeError
	if !errors.As(err, &de) || de.Name != "a.pdf" {
		t.Errorf("expected errors.As to find DecodeError, got %v", err)
	}
}
