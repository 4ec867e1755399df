// Package session holds one user's editing state: the ingested sources,
// the ordered page list, render caches and pending notices. Commands on a
// Session are safe for concurrent use.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgallion1/pagemerge/internal/export"
	"github.com/dgallion1/pagemerge/internal/geometry"
	"github.com/dgallion1/pagemerge/internal/pages"
	"github.com/dgallion1/pagemerge/internal/render"
	"github.com/dgallion1/pagemerge/internal/reorder"
	"github.com/dgallion1/pagemerge/internal/selection"
	"github.com/dgallion1/pagemerge/internal/source"
)

var (
	ErrPageNotFound = errors.New("page not found")
	ErrNotImagePage = errors.New("page has no image placement")
)

// ConfigurationError reports a collaborator the session was built without.
type ConfigurationError struct {
	Collaborator string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s is not available", e.Collaborator)
}

// Deps are the external collaborators a session decodes and encodes with.
// A nil field disables the commands that need it.
type Deps struct {
	Documents source.DocumentDecoder
	Images    source.ImageDecoder
	Encoder   export.Encoder
}

// Options tunes page layout and rendering.
type Options struct {
	ImagePageWidth  float64
	ImagePageHeight float64
	LookaheadMargin float64
	// SlotGap is the spacing between previews when the client reports a
	// viewport without its own slot layout.
	SlotGap float64
	// LazyThumbnails skips background thumbnail renders after ingestion
	// and placement edits.
	LazyThumbnails bool
	Render         render.Options
}

// File is one file handed to AddFiles.
type File struct {
	Name string
	MIME string
	Data []byte
}

// AddResult summarizes an AddFiles call.
type AddResult struct {
	Added   []int    `json:"added"`
	Ignored []string `json:"ignored"`
	Failed  []string `json:"failed"`
}

type Session struct {
	ID string

	deps Deps
	opts Options
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	scheduler *render.Scheduler
	viewport  *render.Viewport

	mu         sync.Mutex
	model      *pages.Model
	sources    []*source.Source
	nextSource int
	notices    []Notice
	// reported holds the collaborators already announced as missing.
	reported map[string]bool

	lastUsed atomic.Int64
}

func New(id string, deps Deps, opts Options, log *slog.Logger) *Session {
	if opts.ImagePageWidth <= 0 || opts.ImagePageHeight <= 0 {
		opts.ImagePageWidth = pages.ImageCanvasWidth
		opts.ImagePageHeight = pages.ImageCanvasHeight
	}
	if opts.SlotGap <= 0 {
		opts.SlotGap = 16
	}
	log = log.With("session_id", id)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:        id,
		deps:      deps,
		opts:      opts,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		scheduler: render.NewScheduler(ctx, opts.Render, log),
		viewport:  render.NewViewport(opts.LookaheadMargin),
		model:     pages.NewModel(),
	}
	s.touch()
	return s
}

func (s *Session) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

// LastUsed is when a command last ran on the session.
func (s *Session) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

// Close stops background renders and waits for them to finish.
func (s *Session) Close() {
	s.cancel()
	s.scheduler.Wait()
}

// AddFiles ingests files in order. Files of an unsupported type are
// skipped without a notice; files that fail to decode produce a
// decode_failed notice and the rest continue. A missing decoder aborts the
// call with a ConfigurationError. Thumbnails of the new pages are rendered
// in the background unless Options.LazyThumbnails is set.
func (s *Session) AddFiles(ctx context.Context, files []File) (*AddResult, error) {
	s.touch()
	res := &AddResult{Added: []int{}, Ignored: []string{}, Failed: []string{}}

	var added []*pages.Page
	defer func() {
		if len(added) > 0 && !s.opts.LazyThumbnails {
			s.scheduler.Prefetch(s.ctx, added, true)
		}
	}()

	for _, f := range files {
		mimeType := source.DetectMIME(f.Name, f.MIME, f.Data)
		kind, ok := source.KindForMIME(mimeType)
		if !ok {
			s.log.Debug("ignoring unsupported file", "file", f.Name, "mime", mimeType)
			res.Ignored = append(res.Ignored, f.Name)
			continue
		}

		var ps []*pages.Page
		var err error
		switch kind {
		case source.KindDocument:
			ps, err = s.addDocument(ctx, f, mimeType)
		case source.KindImage:
			ps, err = s.addImage(f, mimeType)
		}
		if err != nil {
			var cerr *ConfigurationError
			if errors.As(err, &cerr) {
				return res, err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			res.Failed = append(res.Failed, f.Name)
			continue
		}
		added = append(added, ps...)
		for _, p := range ps {
			res.Added = append(res.Added, p.ID)
		}
	}
	return res, nil
}

func (s *Session) addDocument(ctx context.Context, f File, mimeType string) ([]*pages.Page, error) {
	if s.deps.Documents == nil {
		return nil, s.missing("document decoder", f.Name)
	}

	// Decoding runs without the lock; other commands may interleave.
	doc, sizes, err := decodeDocument(ctx, s.deps.Documents, f.Data)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		derr := &source.DecodeError{Name: f.Name, Err: err}
		s.log.Warn("document decode failed", "file", f.Name, "error", err)
		s.mu.Lock()
		s.notify(Notice{Kind: NoticeDecodeFailed, File: f.Name, Message: derr.Error()})
		s.mu.Unlock()
		return nil, derr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.newSource(f, mimeType, source.KindDocument)
	src.Doc = doc
	ps := make([]*pages.Page, 0, len(sizes))
	for i, sz := range sizes {
		p := pages.NewDocumentPage(s.model.NextID(), src, i, sz[0], sz[1])
		s.model.Append(p)
		ps = append(ps, p)
	}
	s.log.Info("document added", "file", f.Name, "pages", len(ps))
	return ps, nil
}

func decodeDocument(ctx context.Context, dec source.DocumentDecoder, data []byte) (source.Document, [][2]float64, error) {
	doc, err := dec.Decode(ctx, data)
	if err != nil {
		return nil, nil, err
	}
	sizes := make([][2]float64, doc.PageCount())
	for i := range sizes {
		h, err := doc.Page(i)
		if err != nil {
			return nil, nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		w, ht := h.Size()
		sizes[i] = [2]float64{w, ht}
	}
	return doc, sizes, nil
}

func (s *Session) addImage(f File, mimeType string) ([]*pages.Page, error) {
	if s.deps.Images == nil {
		return nil, s.missing("image decoder", f.Name)
	}

	bmp, err := s.deps.Images.Decode(f.Data, mimeType)
	if err != nil {
		ierr := &source.ImageDecodeError{Name: f.Name, Err: err}
		s.log.Warn("image decode failed", "file", f.Name, "error", err)
		s.mu.Lock()
		s.notify(Notice{Kind: NoticeDecodeFailed, File: f.Name, Message: ierr.Error()})
		s.mu.Unlock()
		return nil, ierr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.newSource(f, mimeType, source.KindImage)
	src.Bitmap = bmp
	p := pages.NewImagePage(s.model.NextID(), src, s.opts.ImagePageWidth, s.opts.ImagePageHeight)
	s.model.Append(p)
	s.log.Info("image added", "file", f.Name, "width", bmp.Width, "height", bmp.Height)
	return []*pages.Page{p}, nil
}

// newSource must be called with s.mu held.
func (s *Session) newSource(f File, mimeType string, kind source.Kind) *source.Source {
	s.nextSource++
	src := &source.Source{
		ID:   s.nextSource,
		Name: f.Name,
		Kind: kind,
		MIME: mimeType,
		Data: f.Data,
	}
	s.sources = append(s.sources, src)
	return src
}

// missing reports an absent collaborator. The notice is queued only the
// first time each collaborator is found missing.
func (s *Session) missing(collaborator, file string) error {
	err := &ConfigurationError{Collaborator: collaborator}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reported[collaborator] {
		return err
	}
	if s.reported == nil {
		s.reported = make(map[string]bool)
	}
	s.reported[collaborator] = true
	s.log.Error("missing collaborator", "collaborator", collaborator, "file", file)
	s.notify(Notice{Kind: NoticeMissingCollaborator, File: file, Message: err.Error()})
	return err
}

// PlacementView is the JSON form of an image placement.
type PlacementView struct {
	ImageWidth  float64 `json:"image_width"`
	ImageHeight float64 `json:"image_height"`
	FitScale    float64 `json:"fit_scale"`
	UserScale   float64 `json:"user_scale"`
	OffsetX     float64 `json:"offset_x"`
	OffsetY     float64 `json:"offset_y"`
}

func viewPlacement(pl *pages.Placement) *PlacementView {
	if pl == nil {
		return nil
	}
	return &PlacementView{
		ImageWidth:  pl.ImageWidth,
		ImageHeight: pl.ImageHeight,
		FitScale:    pl.FitScale,
		UserScale:   pl.UserScale,
		OffsetX:     pl.Offset.X,
		OffsetY:     pl.Offset.Y,
	}
}

// PageView is the JSON form of one page in list order.
type PageView struct {
	ID             int            `json:"id"`
	Kind           pages.Kind     `json:"kind"`
	Source         string         `json:"source"`
	IndexInSource  int            `json:"index_in_source"`
	DisplayIndex   int            `json:"display_index"`
	Width          float64        `json:"width"`
	Height         float64        `json:"height"`
	Placement      *PlacementView `json:"placement,omitempty"`
	PreviewReady   bool           `json:"preview_ready"`
	ThumbnailReady bool           `json:"thumbnail_ready"`
}

// Pages lists the pages in display order.
func (s *Session) Pages() []PageView {
	s.touch()
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := s.model.Pages()
	out := make([]PageView, 0, len(ps))
	for _, p := range ps {
		out = append(out, PageView{
			ID:             p.ID,
			Kind:           p.Kind,
			Source:         p.SourceName(),
			IndexInSource:  p.IndexInSource,
			DisplayIndex:   p.DisplayIndex,
			Width:          p.CanvasWidth,
			Height:         p.CanvasHeight,
			Placement:      viewPlacement(p.Placement()),
			PreviewReady:   p.Full.Materialized(),
			ThumbnailReady: p.Thumb.Materialized(),
		})
	}
	return out
}

// Count is the total page count.
func (s *Session) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model.Len()
}

// RemovePage deletes a page. Removing an absent page is a no-op and
// reports false.
func (s *Session) RemovePage(id int) bool {
	s.touch()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.model.Remove(id) {
		return false
	}
	s.pruneSources()
	return true
}

// pruneSources drops sources no page refers to. Must be called with s.mu
// held.
func (s *Session) pruneSources() {
	used := make(map[*source.Source]bool)
	for _, p := range s.model.Pages() {
		used[p.Source] = true
	}
	kept := s.sources[:0]
	for _, src := range s.sources {
		if used[src] {
			kept = append(kept, src)
		}
	}
	clear(s.sources[len(kept):])
	s.sources = kept
}

// Reorder applies an explicit id order and returns the resulting one.
func (s *Session) Reorder(ids []int) []int {
	s.touch()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model.Reorder(ids)
	return s.model.IDs()
}

// ReorderSelection reorders by 1-based display positions written as a
// selection expression such as "3,1-2".
func (s *Session) ReorderSelection(expr string) ([]int, error) {
	positions, err := selection.Parse(expr)
	if err != nil {
		return nil, err
	}
	s.touch()
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := selection.Resolve(positions, s.model.IDs())
	if err != nil {
		return nil, err
	}
	s.model.Reorder(ids)
	return s.model.IDs(), nil
}

// MovePage moves one page to a 0-based position.
func (s *Session) MovePage(id, index int) ([]int, error) {
	s.touch()
	s.mu.Lock()
	defer s.mu.Unlock()
	c := reorder.New(s.model)
	if err := c.MoveTo(id, index); err != nil {
		return nil, ErrPageNotFound
	}
	return c.Commit(s.model), nil
}

// DropPage completes a drag of page id released at pointerY over the list
// entries boxes.
func (s *Session) DropPage(id int, pointerY float64, boxes []reorder.Box) ([]int, error) {
	s.touch()
	s.mu.Lock()
	defer s.mu.Unlock()
	c := reorder.New(s.model)
	if err := c.Begin(id); err != nil {
		return nil, ErrPageNotFound
	}
	if err := c.Move(pointerY, boxes); err != nil {
		return nil, err
	}
	return c.Commit(s.model), nil
}

// Clear removes every page and source and restarts page ids at 1.
func (s *Session) Clear() {
	s.touch()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model.Reset()
	clear(s.sources)
	s.sources = nil
	s.nextSource = 0
	s.viewport.Reset()
	s.log.Info("session cleared")
}

// SetScale sets the user scale of an image page, keeping the image's
// visual center where it was.
func (s *Session) SetScale(id int, userScale float64) (*PlacementView, error) {
	u, err := geometry.ClampUserScale(userScale)
	if err != nil {
		return nil, err
	}
	return s.editPlacement(id, func(pl *pages.Placement, canvasW, canvasH float64) error {
		old := pl.Scale()
		pl.UserScale = u
		pl.Offset = geometry.RescaleAroundCenter(pl.Offset, old, pl.Scale(), pl.ImageWidth, pl.ImageHeight, canvasW, canvasH)
		return nil
	})
}

// Align snaps an image page to an edge or center.
func (s *Session) Align(id int, dir geometry.Direction) (*PlacementView, error) {
	return s.editPlacement(id, func(pl *pages.Placement, canvasW, canvasH float64) error {
		off, err := geometry.Align(dir, pl.Offset, pl.ImageWidth, pl.ImageHeight, pl.Scale(), canvasW, canvasH)
		if err != nil {
			return err
		}
		pl.Offset = off
		return nil
	})
}

// Pan moves an image page by (dx, dy) canvas units.
func (s *Session) Pan(id int, dx, dy float64) (*PlacementView, error) {
	return s.editPlacement(id, func(pl *pages.Placement, canvasW, canvasH float64) error {
		pl.Offset = geometry.Pan(pl.Offset, dx, dy, pl.ImageWidth, pl.ImageHeight, pl.Scale(), canvasW, canvasH)
		return nil
	})
}

// editPlacement applies edit to a copy of the page's placement, swaps it
// in and re-renders the page's thumbnail, plus its preview when visible.
func (s *Session) editPlacement(id int, edit func(pl *pages.Placement, canvasW, canvasH float64) error) (*PlacementView, error) {
	s.touch()
	s.mu.Lock()
	page, ok := s.model.Get(id)
	if !ok {
		s.mu.Unlock()
		return nil, ErrPageNotFound
	}
	pl := page.Placement()
	if pl == nil {
		s.mu.Unlock()
		return nil, ErrNotImagePage
	}
	if err := edit(pl, page.CanvasWidth, page.CanvasHeight); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	page.SetPlacement(*pl)
	visible := s.viewport.Visible(id)
	s.mu.Unlock()

	if !s.opts.LazyThumbnails {
		s.scheduler.Prefetch(s.ctx, []*pages.Page{page}, true)
	}
	if visible {
		s.scheduler.Prefetch(s.ctx, []*pages.Page{page}, false)
	}
	return viewPlacement(pl), nil
}

// ReportViewport records the client's scroll window and starts full
// renders for pages that came into view. slots may be nil, in which case
// previews are assumed stacked at the preview scale.
func (s *Session) ReportViewport(scrollTop, height float64, slots []render.Slot) (entered, left []int) {
	s.touch()
	s.mu.Lock()
	if slots == nil {
		slots = render.LayoutSlots(s.model.Pages(), s.scheduler.PreviewScale(), s.opts.SlotGap)
	}
	entered, left = s.viewport.Update(slots, scrollTop, height)
	var ps []*pages.Page
	for _, id := range entered {
		if p, ok := s.model.Get(id); ok {
			ps = append(ps, p)
		}
	}
	s.mu.Unlock()

	if len(ps) > 0 {
		s.scheduler.Prefetch(s.ctx, ps, false)
	}
	return entered, left
}

// Preview returns the full-fidelity render of a page.
func (s *Session) Preview(ctx context.Context, id int) (*pages.Rendered, error) {
	page, err := s.page(id)
	if err != nil {
		return nil, err
	}
	return s.scheduler.Render(ctx, page)
}

// Thumbnail returns the list thumbnail of a page.
func (s *Session) Thumbnail(ctx context.Context, id int) (*pages.Rendered, error) {
	page, err := s.page(id)
	if err != nil {
		return nil, err
	}
	return s.scheduler.Thumbnail(ctx, page)
}

func (s *Session) page(id int) (*pages.Page, error) {
	s.touch()
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.model.Get(id)
	if !ok {
		return nil, ErrPageNotFound
	}
	return p, nil
}

// exportable snapshots the page list for export, or reports why there is
// nothing to export.
func (s *Session) exportable() ([]*pages.Page, error) {
	if s.deps.Encoder == nil {
		return nil, s.missing("document encoder", "")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := s.model.Pages()
	if len(ps) == 0 {
		s.notify(Notice{Kind: NoticeNothingToExport, Message: "There are no pages to export."})
		return nil, export.ErrNothingToExport
	}
	return ps, nil
}

// Export writes the current page list into one document. The list is
// taken when the export starts. progress, if non-nil, is called after each page.
func (s *Session) Export(ctx context.Context, progress func(done, total int)) (*export.Result, error) {
	return s.export(ctx, "", progress)
}

// export runs an export whose notices carry jobID.
func (s *Session) export(ctx context.Context, jobID string, progress func(done, total int)) (*export.Result, error) {
	s.touch()
	ps, err := s.exportable()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.notify(Notice{Kind: NoticeExportStarted, JobID: jobID, Message: fmt.Sprintf("Exporting %d pages.", len(ps))})
	s.mu.Unlock()

	p := export.NewPipeline(s.deps.Encoder, s.scheduler, s.log)
	p.Progress = progress
	res, err := p.Export(ctx, ps)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.notify(Notice{Kind: NoticeExportFinished, JobID: jobID, Message: "Export failed: " + err.Error()})
		return nil, err
	}
	s.notify(Notice{Kind: NoticeExportFinished, JobID: jobID, File: res.Filename, Message: fmt.Sprintf("Exported %d pages.", res.Pages)})
	s.log.Info("export finished", "job_id", jobID, "pages", res.Pages, "rasterized", len(res.Rasterized), "bytes", len(res.Data))
	return res, nil
}
