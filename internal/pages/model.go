package pages

// Model is the ordered page sequence. It is the single source of truth for
// page order; callers serialize access to it.
type Model struct {
	pages  []*Page
	nextID int
}

func NewModel() *Model {
	return &Model{nextID: 1}
}

// NextID reserves and returns a fresh page id. Ids are never reused until
// Reset.
func (m *Model) NextID() int {
	id := m.nextID
	m.nextID++
	return id
}

// Append adds page at the end of the order.
func (m *Model) Append(page *Page) {
	m.pages = append(m.pages, page)
	m.Renumber()
}

// Remove deletes the page with the given id. Removing an absent id is a
// no-op and reports false.
func (m *Model) Remove(id int) bool {
	for i, p := range m.pages {
		if p.ID == id {
			m.pages = append(m.pages[:i], m.pages[i+1:]...)
			m.Renumber()
			return true
		}
	}
	return false
}

// Reorder puts the pages in the order given by ids. Unknown and repeated
// ids are ignored; pages whose ids are missing keep their relative order
// and follow the specified ones.
func (m *Model) Reorder(ids []int) {
	byID := make(map[int]*Page, len(m.pages))
	for _, p := range m.pages {
		byID[p.ID] = p
	}
	placed := make(map[int]bool, len(ids))
	next := make([]*Page, 0, len(m.pages))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok || placed[id] {
			continue
		}
		placed[id] = true
		next = append(next, p)
	}
	for _, p := range m.pages {
		if !placed[p.ID] {
			next = append(next, p)
		}
	}
	m.pages = next
	m.Renumber()
}

// Renumber sets DisplayIndex to 1..N in current order.
func (m *Model) Renumber() {
	for i, p := range m.pages {
		p.DisplayIndex = i + 1
	}
}

// Pages returns the pages in order. The slice is a copy; the pages are not.
func (m *Model) Pages() []*Page {
	out := make([]*Page, len(m.pages))
	copy(out, m.pages)
	return out
}

// IDs returns page ids in order.
func (m *Model) IDs() []int {
	ids := make([]int, len(m.pages))
	for i, p := range m.pages {
		ids[i] = p.ID
	}
	return ids
}

// Get returns the page with the given id.
func (m *Model) Get(id int) (*Page, bool) {
	for _, p := range m.pages {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// Len returns the number of pages.
func (m *Model) Len() int {
	return len(m.pages)
}

// Reset removes every page and restarts the id counter.
func (m *Model) Reset() {
	m.pages = nil
	m.nextID = 1
}
