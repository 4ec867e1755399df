package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"codeberg.org/go-pdf/fpdf"

	"github.com/dgallion1/pagemerge/internal/pages"
	"github.com/dgallion1/pagemerge/internal/pdfout"
	"github.com/dgallion1/pagemerge/internal/render"
	"github.com/dgallion1/pagemerge/internal/source"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type call struct {
	op        string
	index     int
	w, h      float64
	codec     pdfout.Codec
	placement pdfout.Placement
}

// recordingDoc records the calls made against it.
type recordingDoc struct {
	calls        []call
	failCopy     map[int]bool
	partialCopy  map[int]bool
	failImageFor map[pdfout.Codec]bool
}

func (d *recordingDoc) TransplantPage(src *source.Source, index int, w, h float64) error {
	if d.failCopy[index] {
		return &pdfout.CopyError{Source: src.Name, Index: index, Err: errors.New("encrypted")}
	}
	if d.partialCopy[index] {
		d.calls = append(d.calls, call{op: "blank", index: index, w: w, h: h})
		return fmt.Errorf("place page: %w", pdfout.ErrPartialPage)
	}
	d.calls = append(d.calls, call{op: "copy", index: index, w: w, h: h})
	return nil
}

func (d *recordingDoc) AddImagePage(w, h float64, data []byte, codec pdfout.Codec, pl pdfout.Placement) error {
	if d.failImageFor[codec] {
		return errors.New("cannot embed")
	}
	d.calls = append(d.calls, call{op: "image", w: w, h: h, codec: codec, placement: pl})
	return nil
}

func (d *recordingDoc) PageCount() int { return len(d.calls) }

func (d *recordingDoc) Serialize() ([]byte, error) { return []byte("%PDF"), nil }

type fakeEncoder struct{ doc *recordingDoc }

func (e fakeEncoder) NewDocument() pdfout.Document { return e.doc }

type fakeRenderer struct {
	err   error
	calls []int
}

func (r *fakeRenderer) Render(ctx context.Context, page *pages.Page) (*pages.Rendered, error) {
	r.calls = append(r.calls, page.ID)
	if r.err != nil {
		return nil, r.err
	}
	return &pages.Rendered{Image: image.NewRGBA(image.Rect(0, 0, 120, 240)), PNG: []byte("png")}, nil
}

func testPages() []*pages.Page {
	doc := &source.Source{Name: "doc.pdf", Kind: source.KindDocument}
	img := &source.Source{
		Name:   "photo.jpg",
		Kind:   source.KindImage,
		Data:   []byte("jpeg bytes"),
		Bitmap: &source.Bitmap{Width: 200, Height: 100, Format: "jpeg"},
	}
	return []*pages.Page{
		pages.NewDocumentPage(1, doc, 0, 100, 200),
		pages.NewDocumentPage(2, doc, 1, 100, 200),
		pages.NewImagePage(3, img, pages.ImageCanvasWidth, pages.ImageCanvasHeight),
	}
}

func TestExport_DirectPaths(t *testing.T) {
	d := &recordingDoc{}
	r := &fakeRenderer{}
	p := NewPipeline(fakeEncoder{d}, r, testLogger())
	p.Now = func() time.Time { return time.Date(2024, 3, 5, 7, 8, 9, 0, time.Local) }

	res, err := p.Export(context.Background(), testPages())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Filename != "merged_20240305_070809.pdf" {
		t.Errorf("unexpected filename %q", res.Filename)
	}
	if res.Pages != 3 || len(res.Rasterized) != 0 || len(r.calls) != 0 {
		t.Errorf("expected 3 direct pages, got %+v (renders %v)", res, r.calls)
	}

	img := d.calls[2]
	if img.op != "image" || img.codec != pdfout.CodecJPEG {
		t.Fatalf("expected jpeg image page, got %+v", img)
	}
	// 200x100 fits at scale 1 and is centered: top-left (197.5, 371).
	want := pdfout.Placement{X: 197.5, Y: 842 - 371 - 100, Width: 200, Height: 100}
	if img.placement != want {
		t.Errorf("expected placement %+v, got %+v", want, img.placement)
	}
	if img.w != 595 || img.h != 842 {
		t.Errorf("expected 595x842 page, got %vx%v", img.w, img.h)
	}
}

func TestExport_CopyFailureFallsBackToRaster(t *testing.T) {
	d := &recordingDoc{failCopy: map[int]bool{1: true}}
	r := &fakeRenderer{}
	p := NewPipeline(fakeEncoder{d}, r, testLogger())

	var progress []int
	p.Progress = func(done, total int) { progress = append(progress, done) }

	res, err := p.Export(context.Background(), testPages())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Pages != 3 {
		t.Fatalf("expected all 3 pages in output, got %d", res.Pages)
	}
	if !slices.Equal(res.Rasterized, []int{2}) || !slices.Equal(r.calls, []int{2}) {
		t.Errorf("expected only page 2 rasterized, got %v (renders %v)", res.Rasterized, r.calls)
	}
	fb := d.calls[1]
	if fb.op != "image" || fb.codec != pdfout.CodecPNG || fb.w != 120 || fb.h != 240 {
		t.Errorf("expected full-bleed 120x240 png page, got %+v", fb)
	}
	if fb.placement != (pdfout.Placement{Width: 120, Height: 240}) {
		t.Errorf("expected full-bleed placement, got %+v", fb.placement)
	}
	if !slices.Equal(progress, []int{1, 2, 3}) {
		t.Errorf("expected progress 1,2,3, got %v", progress)
	}
}

func TestExport_ImagePlacementFailureFallsBack(t *testing.T) {
	d := &recordingDoc{failImageFor: map[pdfout.Codec]bool{pdfout.CodecJPEG: true}}
	r := &fakeRenderer{}
	res, err := NewPipeline(fakeEncoder{d}, r, testLogger()).Export(context.Background(), testPages())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(res.Rasterized, []int{3}) {
		t.Errorf("expected image page rasterized, got %v", res.Rasterized)
	}
}

func TestExport_FallbackFailureAborts(t *testing.T) {
	d := &recordingDoc{failCopy: map[int]bool{0: true}}
	r := &fakeRenderer{err: errors.New("no rasterizer")}
	res, err := NewPipeline(fakeEncoder{d}, r, testLogger()).Export(context.Background(), testPages())

	var rerr *RenderError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *RenderError, got %v", err)
	}
	if rerr.PageID != 1 {
		t.Errorf("expected failing page 1, got %d", rerr.PageID)
	}
	if res != nil {
		t.Error("expected no partial output")
	}
}

func TestExport_PartialPageAbortsWithoutFallback(t *testing.T) {
	d := &recordingDoc{partialCopy: map[int]bool{1: true}}
	r := &fakeRenderer{}
	p := NewPipeline(fakeEncoder{d}, r, testLogger())

	res, err := p.Export(context.Background(), testPages())
	if !errors.Is(err, pdfout.ErrPartialPage) {
		t.Fatalf("expected ErrPartialPage, got %v", err)
	}
	if res != nil {
		t.Errorf("expected no output, got %+v", res)
	}
	if len(r.calls) != 0 {
		t.Errorf("expected no rasterized fallback, got renders %v", r.calls)
	}
}

func TestExport_Empty(t *testing.T) {
	_, err := NewPipeline(fakeEncoder{&recordingDoc{}}, &fakeRenderer{}, testLogger()).Export(context.Background(), nil)
	if !errors.Is(err, ErrNothingToExport) {
		t.Errorf("expected ErrNothingToExport, got %v", err)
	}
}

// rasterDoc renders every page as a solid gray image.
type rasterDoc struct{ n int }

func (d rasterDoc) PageCount() int { return d.n }

func (d rasterDoc) Page(i int) (source.PageHandle, error) { return rasterHandle{}, nil }

type rasterHandle struct{}

func (rasterHandle) Size() (float64, float64) { return 200, 300 }

func (rasterHandle) Render(ctx context.Context, scale float64) (image.Image, error) {
	img := image.NewGray(image.Rect(0, 0, int(200*scale), int(300*scale)))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	return img, nil
}

func TestExport_EndToEndWithFallback(t *testing.T) {
	f := fpdf.New("P", "pt", "A4", "")
	f.AddPageFormat("P", fpdf.SizeType{Wd: 200, Ht: 300})
	var good bytes.Buffer
	if err := f.Output(&good); err != nil {
		t.Fatalf("write sample pdf: %v", err)
	}

	goodSrc := &source.Source{Name: "good.pdf", Kind: source.KindDocument, Data: good.Bytes(), Doc: rasterDoc{1}}
	badSrc := &source.Source{Name: "bad.pdf", Kind: source.KindDocument, Data: []byte("%PDF-1.4 broken"), Doc: rasterDoc{1}}

	var imgBuf bytes.Buffer
	pic := image.NewRGBA(image.Rect(0, 0, 40, 20))
	pic.Set(0, 0, color.RGBA{G: 255, A: 255})
	png.Encode(&imgBuf, pic)
	imgSrc := &source.Source{
		Name: "pic.png", Kind: source.KindImage, Data: imgBuf.Bytes(),
		Bitmap: &source.Bitmap{Width: 40, Height: 20, Format: "png", Image: pic},
	}

	ps := []*pages.Page{
		pages.NewDocumentPage(1, goodSrc, 0, 200, 300),
		pages.NewDocumentPage(2, badSrc, 0, 200, 300),
		pages.NewImagePage(3, imgSrc, pages.ImageCanvasWidth, pages.ImageCanvasHeight),
	}

	sched := render.NewScheduler(context.Background(), render.Options{PreviewScale: 1}, testLogger())
	res, err := NewPipeline(pdfout.NewEncoder("test"), sched, testLogger()).Export(context.Background(), ps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(res.Rasterized, []int{2}) {
		t.Errorf("expected only the broken page rasterized, got %v", res.Rasterized)
	}

	out, err := (&source.PDFDecoder{}).Decode(context.Background(), res.Data)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if out.PageCount() != 3 {
		t.Fatalf("expected 3 pages in output, got %d", out.PageCount())
	}
}
