package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func writeJPEG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRun_MergesImages(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.jpg")
	b := filepath.Join(dir, "b.jpg")
	writeJPEG(t, a, 60, 40)
	writeJPEG(t, b, 40, 60)
	notes := filepath.Join(dir, "notes.txt")
	os.WriteFile(notes, []byte("skip me"), 0o644)
	out := filepath.Join(dir, "out.pdf")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	err := run(context.Background(), log, options{
		out:   out,
		pages: "2",
		scale: 2,
		align: "top",
		files: []string{a, notes, b},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Errorf("expected a pdf, got %q", data[:min(len(data), 8)])
	}
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.jpg")
	writeJPEG(t, a, 10, 10)
	notes := filepath.Join(dir, "notes.txt")
	os.WriteFile(notes, []byte("skip me"), 0o644)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name string
		opts options
	}{
		{"missing file", options{files: []string{filepath.Join(dir, "nope.pdf")}, scale: 1}},
		{"bad selection", options{files: []string{a}, pages: "3", scale: 1}},
		{"bad align", options{files: []string{a}, align: "sideways", scale: 1}},
		{"bad scale", options{files: []string{a}, scale: -2}},
		{"unparsable selection", options{files: []string{a}, pages: "x", scale: 1}},
		{"nothing to export", options{files: []string{notes}, scale: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.out = filepath.Join(dir, "out.pdf")
			if err := run(context.Background(), log, tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}
