package render

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgallion1/pagemerge/internal/geometry"
	"github.com/dgallion1/pagemerge/internal/pages"
	"github.com/dgallion1/pagemerge/internal/source"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDoc is a Document whose pages block until released.
type fakeDoc struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	err     error
}

func (d *fakeDoc) PageCount() int { return 1 }

func (d *fakeDoc) Page(index int) (source.PageHandle, error) { return fakeHandle{d}, nil }

type fakeHandle struct{ d *fakeDoc }

func (h fakeHandle) Size() (float64, float64) { return 100, 200 }

func (h fakeHandle) Render(ctx context.Context, scale float64) (image.Image, error) {
	h.d.calls.Add(1)
	if h.d.started != nil {
		h.d.started <- struct{}{}
	}
	if h.d.release != nil {
		<-h.d.release
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h.d.err != nil {
		return nil, h.d.err
	}
	return image.NewRGBA(image.Rect(0, 0, int(100*scale), int(200*scale))), nil
}

func docPage(d *fakeDoc) *pages.Page {
	src := &source.Source{Name: "doc.pdf", Kind: source.KindDocument, Doc: d}
	return pages.NewDocumentPage(1, src, 0, 100, 200)
}

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func imagePage(id, w, h int) *pages.Page {
	src := &source.Source{
		Name: "red.png",
		Kind: source.KindImage,
		Bitmap: &source.Bitmap{
			Width: w, Height: h, Format: "png",
			Image: solidImage(w, h, color.RGBA{R: 255, A: 255}),
		},
	}
	return pages.NewImagePage(id, src, pages.ImageCanvasWidth, pages.ImageCanvasHeight)
}

func TestScheduler_DeduplicatesConcurrentRenders(t *testing.T) {
	d := &fakeDoc{started: make(chan struct{}, 2), release: make(chan struct{})}
	page := docPage(d)
	s := NewScheduler(context.Background(), Options{}, testLogger())

	var wg sync.WaitGroup
	results := make([]*pages.Rendered, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Render(context.Background(), page)
		}(i)
		if i == 0 {
			<-d.started
		}
	}
	// Give the second request time to attach to the pending render.
	time.Sleep(20 * time.Millisecond)
	close(d.release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
	}
	if n := d.calls.Load(); n != 1 {
		t.Errorf("expected exactly 1 underlying render, got %d", n)
	}
	if results[0] != results[1] {
		t.Error("expected both requests to observe the same result")
	}
	if !page.Full.Materialized() {
		t.Error("expected full render to be cached")
	}
}

func TestScheduler_CachedRenderIsReused(t *testing.T) {
	d := &fakeDoc{}
	page := docPage(d)
	s := NewScheduler(context.Background(), Options{}, testLogger())

	first, err := s.Render(context.Background(), page)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, _ := s.Render(context.Background(), page)
	if first != second || d.calls.Load() != 1 {
		t.Errorf("expected cached result, got %d renders", d.calls.Load())
	}
	if s.Draws() != 1 {
		t.Errorf("expected 1 draw, got %d", s.Draws())
	}

	s.Invalidate(page)
	if _, err := s.Render(context.Background(), page); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.calls.Load() != 2 {
		t.Errorf("expected re-render after invalidation, got %d renders", d.calls.Load())
	}
}

func TestScheduler_InvalidateDuringRenderDiscardsStaleOutput(t *testing.T) {
	d := &fakeDoc{started: make(chan struct{}, 1), release: make(chan struct{})}
	page := docPage(d)
	s := NewScheduler(context.Background(), Options{}, testLogger())

	done := make(chan error, 1)
	go func() {
		_, err := s.Render(context.Background(), page)
		done <- err
	}()
	<-d.started
	s.Invalidate(page)
	close(d.release)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Full.Materialized() {
		t.Error("expected stale render not to populate the cache")
	}
}

func TestScheduler_ReusedPageIDGetsItsOwnRender(t *testing.T) {
	d := &fakeDoc{started: make(chan struct{}, 1), release: make(chan struct{})}
	old := docPage(d)
	s := NewScheduler(context.Background(), Options{}, testLogger())

	done := make(chan error, 1)
	go func() {
		_, err := s.Render(context.Background(), old)
		done <- err
	}()
	<-d.started

	// After a model reset the next page is numbered 1 again.
	fresh := imagePage(old.ID, 100, 100)
	out, err := s.Render(context.Background(), fresh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w := out.Image.Bounds().Dx(); abs(w-714) > 1 {
		t.Errorf("expected a ~714px image page preview, got width %d", w)
	}
	cached, ok := fresh.Full.Cached()
	if !ok || cached != out {
		t.Error("expected the new page's cache to hold its own render")
	}

	close(d.release)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error from the old render: %v", err)
	}
	if cached, _ := fresh.Full.Cached(); cached != out {
		t.Error("expected the old render not to touch the new page's cache")
	}
}

func TestScheduler_CancelledRequestLeavesSharedRenderRunning(t *testing.T) {
	d := &fakeDoc{started: make(chan struct{}, 1), release: make(chan struct{})}
	page := docPage(d)
	s := NewScheduler(context.Background(), Options{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.Render(ctx, page)
		firstErr <- err
	}()
	<-d.started

	type result struct {
		out *pages.Rendered
		err error
	}
	second := make(chan result, 1)
	go func() {
		out, err := s.Render(context.Background(), page)
		second <- result{out, err}
	}()
	// Give the second request time to attach to the pending render.
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("expected the cancelled request to stop with context.Canceled, got %v", err)
	}

	close(d.release)
	res := <-second
	if res.err != nil {
		t.Fatalf("expected the second request to get the render, got %v", res.err)
	}
	if n := d.calls.Load(); n != 1 {
		t.Errorf("expected exactly 1 underlying render, got %d", n)
	}
	if cached, ok := page.Full.Cached(); !ok || cached != res.out {
		t.Error("expected the shared render to be cached")
	}
}

func TestScheduler_RenderError(t *testing.T) {
	cause := errors.New("broken page")
	page := docPage(&fakeDoc{err: cause})
	s := NewScheduler(context.Background(), Options{}, testLogger())

	_, err := s.Render(context.Background(), page)
	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *render.Error, got %v", err)
	}
	if rerr.PageID != page.ID || !errors.Is(err, cause) {
		t.Errorf("unexpected error contents: %v", err)
	}
	if page.Full.Materialized() {
		t.Error("expected failed render not to be cached")
	}
}

func TestScheduler_DocumentThumbnailReusesPreview(t *testing.T) {
	d := &fakeDoc{}
	page := docPage(d)
	s := NewScheduler(context.Background(), Options{ThumbnailWidth: 48}, testLogger())

	if _, err := s.Render(context.Background(), page); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	thumb, err := s.Thumbnail(context.Background(), page)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.calls.Load() != 1 {
		t.Errorf("expected thumbnail to reuse preview, got %d renders", d.calls.Load())
	}
	if w := thumb.Image.Bounds().Dx(); w != 48 {
		t.Errorf("expected thumbnail width 48, got %d", w)
	}
	if h := thumb.Image.Bounds().Dy(); h != 96 {
		t.Errorf("expected thumbnail height 96, got %d", h)
	}
}

func TestScheduler_Prefetch(t *testing.T) {
	page := imagePage(7, 100, 100)
	s := NewScheduler(context.Background(), Options{MaxConcurrent: 2}, testLogger())
	s.Prefetch(context.Background(), []*pages.Page{page}, true)
	s.Wait()
	if !page.Thumb.Materialized() {
		t.Error("expected thumbnail after prefetch")
	}
	if page.Full.Materialized() {
		t.Error("expected full preview to stay lazy")
	}
}

func TestDrawImagePage_PlacesImage(t *testing.T) {
	page := imagePage(7, 100, 100)
	pl := *page.Placement()
	pl.Offset, _ = geometry.Align(geometry.AlignTop, pl.Offset, 100, 100, pl.Scale(), page.CanvasWidth, page.CanvasHeight)

	const scale = 1.0
	img := DrawImagePage(page.Source.Bitmap.Image, pl, page.CanvasWidth, page.CanvasHeight, scale)
	b := img.Bounds()
	if abs(b.Dx()-595) > 1 || abs(b.Dy()-842) > 1 {
		t.Fatalf("expected ~595x842 raster, got %dx%d", b.Dx(), b.Dy())
	}

	isRed := func(c color.RGBA) bool { return c.R > 200 && c.G < 60 && c.B < 60 }
	isWhite := func(c color.RGBA) bool { return c.R > 240 && c.G > 240 && c.B > 240 }

	// Image is centered horizontally and touches the top edge.
	if c := img.RGBAAt(297, 50); !isRed(c) {
		t.Errorf("expected red near the top center, got %v", c)
	}
	if c := img.RGBAAt(297, 800); !isWhite(c) {
		t.Errorf("expected white near the bottom, got %v", c)
	}
	if c := img.RGBAAt(5, 50); !isWhite(c) {
		t.Errorf("expected white at the left margin, got %v", c)
	}
}

func TestScaleToWidth(t *testing.T) {
	out := ScaleToWidth(solidImage(200, 100, color.White), 50)
	if out.Bounds().Dx() != 50 || out.Bounds().Dy() != 25 {
		t.Errorf("expected 50x25, got %v", out.Bounds())
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
