// Package pages is the ordered list of pages that make up the composed
// output document.
package pages

import (
	"image"
	"sync/atomic"

	"github.com/dgallion1/pagemerge/internal/geometry"
	"github.com/dgallion1/pagemerge/internal/source"
)

// Kind is the page variant.
type Kind string

const (
	KindDocumentPage Kind = "paged-document-page"
	KindImagePage    Kind = "raster-image-page"
)

// Nominal canvas for raster-image pages: A4 portrait in points.
const (
	ImageCanvasWidth  = 595
	ImageCanvasHeight = 842
)

// Page is one unit of the composed output.
type Page struct {
	ID            int
	Kind          Kind
	Source        *source.Source
	IndexInSource int
	DisplayIndex  int

	CanvasWidth  float64
	CanvasHeight float64

	// placement is set only for KindImagePage. Edits swap in a new value so
	// background renders always read a consistent snapshot.
	placement atomic.Pointer[Placement]

	Full  RenderState
	Thumb RenderState
}

// Placement is where a raster image sits on its page canvas.
type Placement struct {
	ImageWidth  float64
	ImageHeight float64
	FitScale    float64
	UserScale   float64
	Offset      geometry.Offset
}

// Scale returns the effective drawing scale.
func (p *Placement) Scale() float64 {
	return geometry.EffectiveScale(p.FitScale, p.UserScale)
}

// ScaledSize returns the drawn image size in canvas units.
func (p *Placement) ScaledSize() (float64, float64) {
	s := p.Scale()
	return p.ImageWidth * s, p.ImageHeight * s
}

// Rendered is a cached render output.
type Rendered struct {
	Image image.Image
	PNG   []byte
}

// RenderState tracks one cache slot of a page. Generation increments on
// every invalidation so a render started before an edit never populates
// the cache after it.
type RenderState struct {
	generation atomic.Uint64
	cached     atomic.Pointer[renderedAt]
}

type renderedAt struct {
	gen uint64
	out *Rendered
}

// Generation returns the current cache generation.
func (s *RenderState) Generation() uint64 {
	return s.generation.Load()
}

// Cached returns the materialized output for the current generation.
func (s *RenderState) Cached() (*Rendered, bool) {
	c := s.cached.Load()
	if c == nil || c.gen != s.generation.Load() {
		return nil, false
	}
	return c.out, true
}

// Store records out as the output for generation gen. It reports false and
// discards out when the state was invalidated since gen was read.
func (s *RenderState) Store(gen uint64, out *Rendered) bool {
	if gen != s.generation.Load() {
		return false
	}
	s.cached.Store(&renderedAt{gen: gen, out: out})
	return true
}

// Invalidate drops the cached output.
func (s *RenderState) Invalidate() {
	s.generation.Add(1)
	s.cached.Store(nil)
}

// Materialized reports whether a current output is cached.
func (s *RenderState) Materialized() bool {
	_, ok := s.Cached()
	return ok
}

// NewDocumentPage builds a page for sub-page index of a document source.
func NewDocumentPage(id int, src *source.Source, index int, width, height float64) *Page {
	return &Page{
		ID:            id,
		Kind:          KindDocumentPage,
		Source:        src,
		IndexInSource: index,
		CanvasWidth:   width,
		CanvasHeight:  height,
	}
}

// NewImagePage builds a page for an image source, fitted and centered on a
// canvasW×canvasH canvas.
func NewImagePage(id int, src *source.Source, canvasW, canvasH float64) *Page {
	imgW, imgH := float64(src.Bitmap.Width), float64(src.Bitmap.Height)
	fit := geometry.FitScale(imgW, imgH, canvasW, canvasH)
	pl := &Placement{
		ImageWidth:  imgW,
		ImageHeight: imgH,
		FitScale:    fit,
		UserScale:   1,
	}
	pl.Offset = geometry.Centered(imgW, imgH, pl.Scale(), canvasW, canvasH)
	p := &Page{
		ID:           id,
		Kind:         KindImagePage,
		Source:       src,
		CanvasWidth:  canvasW,
		CanvasHeight: canvasH,
	}
	p.placement.Store(pl)
	return p
}

// Placement returns a copy of the current image placement, or nil for
// document pages.
func (p *Page) Placement() *Placement {
	pl := p.placement.Load()
	if pl == nil {
		return nil
	}
	cp := *pl
	return &cp
}

// SetPlacement replaces the image placement and invalidates both render
// caches of this page.
func (p *Page) SetPlacement(pl Placement) {
	p.placement.Store(&pl)
	p.Full.Invalidate()
	p.Thumb.Invalidate()
}

// SourceName returns the display name of the page's source.
func (p *Page) SourceName() string {
	if p.Source == nil {
		return ""
	}
	return p.Source.Name
}
