package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/pagemerge/internal/export"
	"github.com/dgallion1/pagemerge/internal/geometry"
	"github.com/dgallion1/pagemerge/internal/pages"
	"github.com/dgallion1/pagemerge/internal/render"
	"github.com/dgallion1/pagemerge/internal/reorder"
	"github.com/dgallion1/pagemerge/internal/session"
)

// writeError maps command errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	var cerr *session.ConfigurationError
	switch {
	case errors.Is(err, session.ErrPageNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, session.ErrNotImagePage), errors.Is(err, export.ErrNothingToExport):
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, geometry.ErrInvalidScale), errors.Is(err, geometry.ErrUnknownDirection):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &cerr), errors.Is(err, session.ErrTooManySessions), errors.Is(err, session.ErrServiceStopped):
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

func pageID(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "pageID"))
	return id, err == nil && id > 0
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) handleListPages(w http.ResponseWriter, r *http.Request) {
	ps := sessionFrom(r).Pages()
	writeJSON(w, http.StatusOK, map[string]any{"pages": ps, "total": len(ps)})
}

func (s *Server) handleRemovePage(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	id, ok := pageID(r)
	if !ok {
		jsonError(w, "invalid page id", http.StatusBadRequest)
		return
	}
	removed := sess.RemovePage(id)
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed, "total": sess.Count()})
}

type boxJSON struct {
	PageID int     `json:"page_id"`
	Top    float64 `json:"top"`
	Height float64 `json:"height"`
}

type orderRequest struct {
	// IDs is an explicit page id order.
	IDs []int `json:"ids"`
	// Order is a position list such as "3,1-2".
	Order string `json:"order"`
	Move  *struct {
		PageID int `json:"page_id"`
		Index  int `json:"index"`
	} `json:"move"`
	Drop *struct {
		PageID   int       `json:"page_id"`
		PointerY float64   `json:"pointer_y"`
		Boxes    []boxJSON `json:"boxes"`
	} `json:"drop"`
}

func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	var req orderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var order []int
	var err error
	switch {
	case req.IDs != nil:
		order = sess.Reorder(req.IDs)
	case req.Order != "":
		order, err = sess.ReorderSelection(req.Order)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
	case req.Move != nil:
		order, err = sess.MovePage(req.Move.PageID, req.Move.Index)
	case req.Drop != nil:
		boxes := make([]reorder.Box, 0, len(req.Drop.Boxes))
		for _, b := range req.Drop.Boxes {
			boxes = append(boxes, reorder.Box{PageID: b.PageID, Top: b.Top, Height: b.Height})
		}
		order, err = sess.DropPage(req.Drop.PageID, req.Drop.PointerY, boxes)
	default:
		jsonError(w, "one of ids, order, move or drop is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

type placementRequest struct {
	Scale *float64 `json:"scale"`
	Align string   `json:"align"`
	Pan   *struct {
		DX float64 `json:"dx"`
		DY float64 `json:"dy"`
	} `json:"pan"`
}

// handlePlacement applies scale, then align, then pan, whichever are set.
func (s *Server) handlePlacement(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	id, ok := pageID(r)
	if !ok {
		jsonError(w, "invalid page id", http.StatusBadRequest)
		return
	}
	var req placementRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Scale == nil && req.Align == "" && req.Pan == nil {
		jsonError(w, "one of scale, align or pan is required", http.StatusBadRequest)
		return
	}

	var pl *session.PlacementView
	var err error
	if req.Scale != nil {
		if pl, err = sess.SetScale(id, *req.Scale); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Align != "" {
		dir, err := geometry.ParseDirection(req.Align)
		if err != nil {
			writeError(w, err)
			return
		}
		if pl, err = sess.Align(id, dir); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Pan != nil {
		if pl, err = sess.Pan(id, req.Pan.DX, req.Pan.DY); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"page_id": id, "placement": pl})
}

type viewportRequest struct {
	ScrollTop float64       `json:"scroll_top"`
	Height    float64       `json:"height"`
	Slots     []render.Slot `json:"slots"`
}

func (s *Server) handleViewport(w http.ResponseWriter, r *http.Request) {
	var req viewportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Height < 0 {
		jsonError(w, "height must not be negative", http.StatusBadRequest)
		return
	}
	entered, left := sessionFrom(r).ReportViewport(req.ScrollTop, req.Height, req.Slots)
	if entered == nil {
		entered = []int{}
	}
	if left == nil {
		left = []int{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entered": entered, "left": left})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	s.servePNG(w, r, sessionFrom(r).Preview)
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	s.servePNG(w, r, sessionFrom(r).Thumbnail)
}

func (s *Server) servePNG(w http.ResponseWriter, r *http.Request, get func(ctx context.Context, id int) (*pages.Rendered, error)) {
	id, ok := pageID(r)
	if !ok {
		jsonError(w, "invalid page id", http.StatusBadRequest)
		return
	}
	out, err := get(r.Context(), id)
	if err != nil {
		var rerr *render.Error
		if errors.As(err, &rerr) {
			s.log.Warn("page render failed", "page_id", id, "error", err)
			jsonError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(out.PNG)))
	w.Write(out.PNG)
}
