// Package reorder turns a drag gesture over the page list into a new page
// order.
package reorder

import (
	"errors"
	"slices"

	"github.com/dgallion1/pagemerge/internal/pages"
)

var (
	ErrNoDrag      = errors.New("no drag in progress")
	ErrUnknownPage = errors.New("page not in list")
)

// Box is the on-screen vertical extent of one list entry.
type Box struct {
	PageID int
	Top    float64
	Height float64
}

// Midpoint is the vertical center of the box.
func (b Box) Midpoint() float64 {
	return b.Top + b.Height/2
}

// Controller holds the provisional on-screen order during a drag.
type Controller struct {
	order    []int
	dragging int
	active   bool
}

// New starts from the model's current order.
func New(m *pages.Model) *Controller {
	return &Controller{order: m.IDs()}
}

// Order returns the current on-screen order.
func (c *Controller) Order() []int {
	return slices.Clone(c.order)
}

// Begin starts dragging the page with the given id.
func (c *Controller) Begin(id int) error {
	if !slices.Contains(c.order, id) {
		return ErrUnknownPage
	}
	c.dragging = id
	c.active = true
	return nil
}

// Move repositions the dragged page for a pointer at pointerY. boxes are
// the list entries other than the dragged one, top to bottom. The dragged
// page goes before the first box whose midpoint is strictly below the
// pointer, or to the end when there is none.
func (c *Controller) Move(pointerY float64, boxes []Box) error {
	if !c.active {
		return ErrNoDrag
	}
	before := InsertBefore(pointerY, boxes, c.dragging)

	rest := slices.DeleteFunc(slices.Clone(c.order), func(id int) bool { return id == c.dragging })
	at := len(rest)
	if before != 0 {
		if i := slices.Index(rest, before); i >= 0 {
			at = i
		}
	}
	c.order = slices.Insert(rest, at, c.dragging)
	return nil
}

// InsertBefore returns the id of the sibling the dragged page should be
// inserted before, or 0 to append.
func InsertBefore(pointerY float64, boxes []Box, dragging int) int {
	for _, b := range boxes {
		if b.PageID == dragging {
			continue
		}
		if pointerY < b.Midpoint() {
			return b.PageID
		}
	}
	return 0
}

// MoveTo places page id at position index (0-based) of the list, clamped
// to the list bounds.
func (c *Controller) MoveTo(id, index int) error {
	if !slices.Contains(c.order, id) {
		return ErrUnknownPage
	}
	rest := slices.DeleteFunc(slices.Clone(c.order), func(v int) bool { return v == id })
	index = min(max(index, 0), len(rest))
	c.order = slices.Insert(rest, index, id)
	return nil
}

// Commit writes the on-screen order back to the model, which renumbers its
// pages, and ends the drag.
func (c *Controller) Commit(m *pages.Model) []int {
	m.Reorder(c.order)
	c.active = false
	c.dragging = 0
	c.order = m.IDs()
	return c.Order()
}
