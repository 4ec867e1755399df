// Package render materializes page previews and thumbnails on demand.
//
// Each page has at most one render in flight per cache slot; concurrent
// requests for the same page share its result.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dgallion1/pagemerge/internal/pages"
)

// Options configures a Scheduler.
type Options struct {
	// PreviewScale is pixels per canvas unit for full previews.
	PreviewScale float64
	// ThumbnailWidth is the thumbnail width in pixels.
	ThumbnailWidth int
	// MaxConcurrent bounds background renders started by Prefetch.
	MaxConcurrent int
	// Latency, if set, receives the duration of every draw.
	Latency *Latency
}

// Scheduler renders pages and caches the output on the page itself.
type Scheduler struct {
	// ctx bounds every shared draw. A caller's own context only bounds its wait.
	ctx   context.Context
	opts  Options
	log   *slog.Logger
	group singleflight.Group
	sem   chan struct{}
	wg    sync.WaitGroup

	draws atomic.Int64
}

// NewScheduler returns a Scheduler whose draws run under ctx. Cancelling ctx
// stops renders in flight; cancelling a single request does not.
func NewScheduler(ctx context.Context, opts Options, log *slog.Logger) *Scheduler {
	if opts.PreviewScale <= 0 {
		opts.PreviewScale = 1.2
	}
	if opts.ThumbnailWidth <= 0 {
		opts.ThumbnailWidth = 48
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	return &Scheduler{
		ctx:  ctx,
		opts: opts,
		log:  log,
		sem:  make(chan struct{}, opts.MaxConcurrent),
	}
}

// PreviewScale is the pixels-per-unit scale of full previews.
func (s *Scheduler) PreviewScale() float64 {
	return s.opts.PreviewScale
}

// Draws returns how many underlying draws have run.
func (s *Scheduler) Draws() int64 {
	return s.draws.Load()
}

// Render returns the full-fidelity preview of page, drawing it if needed.
func (s *Scheduler) Render(ctx context.Context, page *pages.Page) (*pages.Rendered, error) {
	return s.materialize(ctx, page, &page.Full, "full", func(drawCtx context.Context) (image.Image, error) {
		return s.drawFull(drawCtx, page)
	})
}

// Thumbnail returns the small list thumbnail of page, drawing it if needed.
func (s *Scheduler) Thumbnail(ctx context.Context, page *pages.Page) (*pages.Rendered, error) {
	return s.materialize(ctx, page, &page.Thumb, "thumb", func(drawCtx context.Context) (image.Image, error) {
		return s.drawThumbnail(drawCtx, page)
	})
}

// Invalidate drops both cached outputs of page. Sibling pages are not
// touched.
func (s *Scheduler) Invalidate(page *pages.Page) {
	page.Full.Invalidate()
	page.Thumb.Invalidate()
}

func (s *Scheduler) materialize(ctx context.Context, page *pages.Page, state *pages.RenderState, kind string, draw func(context.Context) (image.Image, error)) (*pages.Rendered, error) {
	if out, ok := state.Cached(); ok {
		return out, nil
	}
	gen := state.Generation()
	// Page ids restart after a reset, so the key names the cache slot itself.
	key := fmt.Sprintf("%s:%p:%d", kind, state, gen)

	ch := s.group.DoChan(key, func() (any, error) {
		if out, ok := state.Cached(); ok {
			return out, nil
		}
		s.draws.Add(1)
		start := time.Now()
		img, err := draw(s.ctx)
		if err != nil {
			return nil, err
		}
		data, err := EncodePNG(img)
		if err != nil {
			return nil, err
		}
		if s.opts.Latency != nil {
			s.opts.Latency.Record(time.Since(start))
		}
		out := &pages.Rendered{Image: img, PNG: data}
		if !state.Store(gen, out) {
			s.log.Debug("discarding stale render", "page_id", page.ID, "kind", kind)
		}
		return out, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, &Error{PageID: page.ID, Err: res.Err}
		}
		return res.Val.(*pages.Rendered), nil
	case <-ctx.Done():
		return nil, &Error{PageID: page.ID, Err: ctx.Err()}
	}
}

func (s *Scheduler) drawFull(ctx context.Context, page *pages.Page) (image.Image, error) {
	switch page.Kind {
	case pages.KindImagePage:
		return s.drawImage(page, s.opts.PreviewScale)
	case pages.KindDocumentPage:
		return s.drawDocument(ctx, page, s.opts.PreviewScale)
	}
	return nil, fmt.Errorf("unknown page kind %q", page.Kind)
}

func (s *Scheduler) drawThumbnail(ctx context.Context, page *pages.Page) (image.Image, error) {
	if page.CanvasWidth <= 0 {
		return nil, errors.New("page has no width")
	}
	scale := float64(s.opts.ThumbnailWidth) / page.CanvasWidth
	switch page.Kind {
	case pages.KindImagePage:
		return s.drawImage(page, scale)
	case pages.KindDocumentPage:
		// Reuse a materialized preview rather than rasterizing the page again.
		if full, ok := page.Full.Cached(); ok {
			return ScaleToWidth(full.Image, s.opts.ThumbnailWidth), nil
		}
		return s.drawDocument(ctx, page, scale)
	}
	return nil, fmt.Errorf("unknown page kind %q", page.Kind)
}

func (s *Scheduler) drawImage(page *pages.Page, scale float64) (image.Image, error) {
	pl := page.Placement()
	if pl == nil || page.Source == nil || page.Source.Bitmap == nil {
		return nil, errors.New("image page has no bitmap")
	}
	return DrawImagePage(page.Source.Bitmap.Image, *pl, page.CanvasWidth, page.CanvasHeight, scale), nil
}

func (s *Scheduler) drawDocument(ctx context.Context, page *pages.Page, scale float64) (image.Image, error) {
	if page.Source == nil || page.Source.Doc == nil {
		return nil, errors.New("document page has no decoded source")
	}
	h, err := page.Source.Doc.Page(page.IndexInSource)
	if err != nil {
		return nil, err
	}
	return h.Render(ctx, scale)
}

// Prefetch renders the previews (or thumbnails) of ps in the background,
// bounded by Options.MaxConcurrent. Failures are logged and left for the
// next explicit request.
func (s *Scheduler) Prefetch(ctx context.Context, ps []*pages.Page, thumbnails bool) {
	for _, p := range ps {
		s.wg.Add(1)
		go func(p *pages.Page) {
			defer s.wg.Done()
			select {
			case s.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-s.sem }()

			var err error
			if thumbnails {
				_, err = s.Thumbnail(ctx, p)
			} else {
				_, err = s.Render(ctx, p)
			}
			if err != nil {
				s.log.Warn("background render failed", "page_id", p.ID, "thumbnail", thumbnails, "error", err)
			}
		}(p)
	}
}

// Wait blocks until every render started by Prefetch has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Error reports a failed page render.
type Error struct {
	PageID int
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("render page %d: %v", e.PageID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
