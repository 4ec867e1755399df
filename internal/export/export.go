// Package export flattens the page list into one output document.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/pagemerge/internal/geometry"
	"github.com/dgallion1/pagemerge/internal/pages"
	"github.com/dgallion1/pagemerge/internal/pdfout"
)

// ErrNothingToExport is returned for an empty page list.
var ErrNothingToExport = errors.New("no pages to export")

// Encoder creates output documents.
type Encoder interface {
	NewDocument() pdfout.Document
}

// Renderer produces a full-fidelity raster of a page.
type Renderer interface {
	Render(ctx context.Context, page *pages.Page) (*pages.Rendered, error)
}

// RenderError reports a page whose rasterized fallback failed. It aborts
// the export.
type RenderError struct {
	PageID int
	Err    error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("rasterize page %d: %v", e.PageID, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Result is a finished export.
type Result struct {
	Data     []byte
	Filename string
	Pages    int
	// Rasterized lists ids of pages that went through the fallback path.
	Rasterized []int
}

// Pipeline exports pages in order, copying them structurally when it can
// and rasterizing them when it cannot.
type Pipeline struct {
	enc      Encoder
	renderer Renderer
	log      *slog.Logger

	// Now supplies the timestamp for the suggested filename.
	Now func() time.Time
	// Progress, if set, is called after each page is written.
	Progress func(done, total int)
}

func NewPipeline(enc Encoder, renderer Renderer, log *slog.Logger) *Pipeline {
	return &Pipeline{enc: enc, renderer: renderer, log: log, Now: time.Now}
}

// Export writes ps, in order, into a single document.
func (p *Pipeline) Export(ctx context.Context, ps []*pages.Page) (*Result, error) {
	if len(ps) == 0 {
		return nil, ErrNothingToExport
	}

	doc := p.enc.NewDocument()
	res := &Result{Filename: Filename(p.Now())}

	for i, page := range ps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.direct(doc, page); err != nil {
			// A blank page is already in the output; a raster after it would
			// shift every later page.
			if errors.Is(err, pdfout.ErrPartialPage) {
				return nil, fmt.Errorf("page %d: %w", page.ID, err)
			}
			var cerr *pdfout.CopyError
			if errors.As(err, &cerr) {
				p.log.Warn("page copy failed, rasterizing", "page_id", page.ID, "source", page.SourceName(), "error", err)
			} else {
				p.log.Warn("page placement failed, rasterizing", "page_id", page.ID, "source", page.SourceName(), "error", err)
			}
			if err := p.rasterize(ctx, doc, page); err != nil {
				return nil, err
			}
			res.Rasterized = append(res.Rasterized, page.ID)
		}
		if p.Progress != nil {
			p.Progress(i+1, len(ps))
		}
	}

	data, err := doc.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serialize output: %w", err)
	}
	res.Data = data
	res.Pages = doc.PageCount()
	return res, nil
}

func (p *Pipeline) direct(doc pdfout.Document, page *pages.Page) error {
	switch page.Kind {
	case pages.KindDocumentPage:
		return doc.TransplantPage(page.Source, page.IndexInSource, page.CanvasWidth, page.CanvasHeight)
	case pages.KindImagePage:
		pl := page.Placement()
		if pl == nil || page.Source == nil || page.Source.Bitmap == nil {
			return errors.New("image page has no bitmap")
		}
		codec, err := pdfout.CodecFor(page.Source.Bitmap.Format)
		if err != nil {
			return err
		}
		w, h := pl.ScaledSize()
		return doc.AddImagePage(page.CanvasWidth, page.CanvasHeight, page.Source.Data, codec, pdfout.Placement{
			X:      pl.Offset.X,
			Y:      geometry.ToDocumentY(pl.Offset.Y, h, page.CanvasHeight),
			Width:  w,
			Height: h,
		})
	}
	return fmt.Errorf("unknown page kind %q", page.Kind)
}

// rasterize embeds a full-bleed raster of page at the raster's pixel size.
func (p *Pipeline) rasterize(ctx context.Context, doc pdfout.Document, page *pages.Page) error {
	out, err := p.renderer.Render(ctx, page)
	if err != nil {
		return &RenderError{PageID: page.ID, Err: err}
	}
	b := out.Image.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	if err := doc.AddImagePage(w, h, out.PNG, pdfout.CodecPNG, pdfout.Placement{Width: w, Height: h}); err != nil {
		return &RenderError{PageID: page.ID, Err: err}
	}
	return nil
}

// Filename is the suggested download name for an export finished at t.
func Filename(t time.Time) string {
	return "merged_" + t.Format("20060102_150405") + pdfout.Extension
}
