package render

import (
	"slices"
	"sync"

	"github.com/dgallion1/pagemerge/internal/pages"
)

// Slot is the vertical extent of one page's preview in the scrolling
// preview list.
type Slot struct {
	PageID int     `json:"page_id"`
	Top    float64 `json:"top"`
	Height float64 `json:"height"`
}

// VisibilityObserver tracks which preview slots are inside the viewport,
// widened by a lookahead margin on both ends.
type VisibilityObserver interface {
	Update(slots []Slot, scrollTop, height float64) (entered, left []int)
	Visible(id int) bool
}

// Viewport is a VisibilityObserver over a single scroll container.
type Viewport struct {
	Margin float64

	mu      sync.Mutex
	visible map[int]bool
}

func NewViewport(margin float64) *Viewport {
	return &Viewport{Margin: margin, visible: make(map[int]bool)}
}

// Update recomputes visibility for the window [scrollTop, scrollTop+height]
// and returns the pages that entered and left it since the last call.
func (v *Viewport) Update(slots []Slot, scrollTop, height float64) (entered, left []int) {
	lo := scrollTop - v.Margin
	hi := scrollTop + height + v.Margin

	v.mu.Lock()
	defer v.mu.Unlock()

	now := make(map[int]bool, len(slots))
	for _, s := range slots {
		if s.Top+s.Height >= lo && s.Top <= hi {
			now[s.PageID] = true
			if !v.visible[s.PageID] {
				entered = append(entered, s.PageID)
			}
		}
	}
	for id := range v.visible {
		if !now[id] {
			left = append(left, id)
		}
	}
	slices.Sort(left)
	v.visible = now
	return entered, left
}

// Visible reports whether page id was inside the window at the last Update.
func (v *Viewport) Visible(id int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visible[id]
}

// Reset forgets all visibility state.
func (v *Viewport) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.visible = make(map[int]bool)
}

// LayoutSlots stacks page previews top to bottom at scale pixels per
// canvas unit with gap pixels between them.
func LayoutSlots(ps []*pages.Page, scale, gap float64) []Slot {
	slots := make([]Slot, 0, len(ps))
	top := 0.0
	for _, p := range ps {
		h := p.CanvasHeight * scale
		slots = append(slots, Slot{PageID: p.ID, Top: top, Height: h})
		top += h + gap
	}
	return slots
}
