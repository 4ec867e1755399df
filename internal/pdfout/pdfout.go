// Package pdfout writes the merged output PDF.
package pdfout

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"codeberg.org/go-pdf/fpdf"
	"codeberg.org/go-pdf/fpdf/contrib/gofpdi"

	"github.com/dgallion1/pagemerge/internal/source"
)

// Extension is the canonical file extension of the output format.
const Extension = ".pdf"

// ErrPartialPage reports a page that was added to the output but could not
// be drawn. The document then holds a blank page and must be discarded.
var ErrPartialPage = errors.New("output page left incomplete")

// Codec is the compression used for an embedded image.
type Codec string

const (
	CodecPNG  Codec = "png"  // lossless
	CodecJPEG Codec = "jpeg" // lossy
)

// CodecFor picks the embedding codec from an image's original encoding.
func CodecFor(format string) (Codec, error) {
	switch strings.ToLower(format) {
	case "png", "image/png":
		return CodecPNG, nil
	case "jpeg", "jpg", "image/jpeg", "image/jpg":
		return CodecJPEG, nil
	}
	return "", fmt.Errorf("no pdf codec for image format %q", format)
}

// Placement positions an image on a page in PDF page space: points, origin
// at the bottom-left corner.
type Placement struct {
	X, Y          float64
	Width, Height float64
}

// Document is an output document under construction.
type Document interface {
	// TransplantPage copies page index (0-based) of src without rasterizing.
	TransplantPage(src *source.Source, index int, width, height float64) error
	// AddImagePage appends a width×height page showing data at placement.
	AddImagePage(width, height float64, data []byte, codec Codec, placement Placement) error
	PageCount() int
	Serialize() ([]byte, error)
}

// CopyError reports a page that could not be transplanted structurally.
type CopyError struct {
	Source string
	Index  int
	Err    error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("copy page %d of %s: %v", e.Index+1, e.Source, e.Err)
}

func (e *CopyError) Unwrap() error { return e.Err }

// Encoder creates output documents.
type Encoder struct {
	Creator string
}

func NewEncoder(creator string) *Encoder {
	return &Encoder{Creator: creator}
}

// NewDocument starts an empty output document.
func (e *Encoder) NewDocument() Document {
	f := fpdf.New("P", "pt", "A4", "")
	f.SetAutoPageBreak(false, 0)
	f.SetMargins(0, 0, 0)
	f.SetCompression(true)
	if e.Creator != "" {
		f.SetCreator(e.Creator, true)
	}
	return &writer{
		pdf:     f,
		imp:     gofpdi.NewImporter(),
		streams: make(map[*source.Source]*io.ReadSeeker),
	}
}

type writer struct {
	pdf     *fpdf.Fpdf
	imp     *gofpdi.Importer
	streams map[*source.Source]*io.ReadSeeker
	pages   int
	images  int
}

func (w *writer) PageCount() int { return w.pages }

func (w *writer) TransplantPage(src *source.Source, index int, width, height float64) (err error) {
	if src == nil || src.Kind != source.KindDocument {
		return &CopyError{Index: index, Err: fmt.Errorf("source is not a document")}
	}
	if width <= 0 || height <= 0 {
		return &CopyError{Source: src.Name, Index: index, Err: fmt.Errorf("invalid page size %gx%g", width, height)}
	}
	// The importer panics on structures it cannot parse.
	started := false
	defer func() {
		if r := recover(); r != nil {
			w.pdf.ClearError()
			if started {
				w.pages++
				err = fmt.Errorf("place page %d of %s: %w: %v", index+1, src.Name, ErrPartialPage, r)
				return
			}
			err = &CopyError{Source: src.Name, Index: index, Err: fmt.Errorf("%v", r)}
		}
	}()

	rs, ok := w.streams[src]
	if !ok {
		var r io.ReadSeeker = bytes.NewReader(src.Data)
		rs = &r
		w.streams[src] = rs
	}
	tpl := w.imp.ImportPageFromStream(w.pdf, rs, index+1, "/MediaBox")
	if err := w.pdf.Error(); err != nil {
		w.pdf.ClearError()
		return &CopyError{Source: src.Name, Index: index, Err: err}
	}
	box := w.imp.GetPageSizes()[index+1]["/MediaBox"]
	if box["w"] <= 0 || box["h"] <= 0 {
		return &CopyError{Source: src.Name, Index: index, Err: fmt.Errorf("page has no usable MediaBox")}
	}

	started = true
	w.pdf.AddPageFormat("P", fpdf.SizeType{Wd: width, Ht: height})
	w.imp.UseImportedTemplate(w.pdf, tpl, 0, 0, width, height)
	w.pages++
	if err := w.pdf.Error(); err != nil {
		w.pdf.ClearError()
		return fmt.Errorf("place page %d of %s: %w: %w", index+1, src.Name, ErrPartialPage, err)
	}
	return nil
}

func (w *writer) AddImagePage(width, height float64, data []byte, codec Codec, pl Placement) error {
	var imageType string
	switch codec {
	case CodecPNG:
		imageType = "PNG"
	case CodecJPEG:
		imageType = "JPG"
	default:
		return fmt.Errorf("unsupported codec %q", codec)
	}

	w.images++
	name := fmt.Sprintf("img%d", w.images)
	opts := fpdf.ImageOptions{ImageType: imageType}
	// Register before adding the page so a bad image leaves no blank page.
	w.pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(data))
	if err := w.pdf.Error(); err != nil {
		w.pdf.ClearError()
		return fmt.Errorf("embed %s image: %w", codec, err)
	}

	w.pdf.AddPageFormat("P", fpdf.SizeType{Wd: width, Ht: height})
	// fpdf positions from the top-left corner.
	top := height - pl.Y - pl.Height
	w.pdf.ImageOptions(name, pl.X, top, pl.Width, pl.Height, false, opts, 0, "")
	w.pages++
	if err := w.pdf.Error(); err != nil {
		w.pdf.ClearError()
		return fmt.Errorf("draw image: %w: %w", ErrPartialPage, err)
	}
	return nil
}

func (w *writer) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := w.pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}
