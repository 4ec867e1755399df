// Package source holds ingested files and the decoders that turn them into
// renderable pages.
package source

import (
	"context"
	"fmt"
	"image"
)

// Kind is the origin kind of an ingested file.
type Kind string

const (
	KindDocument Kind = "paged-document"
	KindImage    Kind = "raster-image"
)

// Source is one ingested file. It is immutable once created and owned by
// the session that ingested it.
type Source struct {
	ID   int
	Name string
	Kind Kind
	MIME string
	Data []byte

	// Doc is set for KindDocument sources.
	Doc Document
	// Bitmap is set for KindImage sources.
	Bitmap *Bitmap
}

// DocumentDecoder opens a paged document.
type DocumentDecoder interface {
	Decode(ctx context.Context, data []byte) (Document, error)
}

// Document is a decoded paged document.
type Document interface {
	PageCount() int
	Page(index int) (PageHandle, error)
}

// PageHandle is one renderable page of a Document.
type PageHandle interface {
	// Size returns the page dimensions in points.
	Size() (width, height float64)
	// Render draws the page at scale pixels per point.
	Render(ctx context.Context, scale float64) (image.Image, error)
}

// ImageDecoder decodes a standalone raster image.
type ImageDecoder interface {
	Decode(data []byte, mimeType string) (*Bitmap, error)
}

// Bitmap is a decoded raster image.
type Bitmap struct {
	Width  int
	Height int
	// Format is the codec the original bytes were encoded with ("png" or "jpeg").
	Format string
	Image  image.Image
}

// DecodeError reports a paged document that could not be opened.
type DecodeError struct {
	Name string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Name, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ImageDecodeError reports a raster image that could not be decoded.
type ImageDecodeError struct {
	Name string
	Err  error
}

func (e *ImageDecodeError) Error() string {
	return fmt.Sprintf("decode image %s: %v", e.Name, e.Err)
}

func (e *ImageDecodeError) Unwrap() error { return e.Err }
