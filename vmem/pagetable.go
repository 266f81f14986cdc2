package vmem

import "sync"

// A Page is one entry in the page table: a mapping from a page-aligned
// guest virtual address to a physical offset in the backing memory.
type Page struct {
	VAddr uint64
	PAddr uint64
	Valid bool
}

// A PageTable maps guest virtual pages to physical pages.
type PageTable interface {
	Insert(page Page)
	Remove(vAddr uint64)
	Find(vAddr uint64) (Page, bool)
}

// NewPageTable creates a PageTable for pages of size 2^log2PageSize.
func NewPageTable(log2PageSize uint64) PageTable {
	return &pageTableImpl{
		log2PageSize: log2PageSize,
		entries:      make(map[uint64]Page),
	}
}

type pageTableImpl struct {
	sync.Mutex
	log2PageSize uint64
	entries      map[uint64]Page
}

func (pt *pageTableImpl) alignToPage(addr uint64) uint64 {
	return (addr >> pt.log2PageSize) << pt.log2PageSize
}

// Insert puts a new page into the table, replacing any previous mapping of
// the same virtual page.
func (pt *pageTableImpl) Insert(page Page) {
	pt.Lock()
	defer pt.Unlock()

	page.VAddr = pt.alignToPage(page.VAddr)
	pt.entries[page.VAddr] = page
}

// Remove drops the mapping of the page containing vAddr.
func (pt *pageTableImpl) Remove(vAddr uint64) {
	pt.Lock()
	defer pt.Unlock()

	delete(pt.entries, pt.alignToPage(vAddr))
}

// Find returns the page containing vAddr. The bool return reports whether a
// valid mapping exists.
func (pt *pageTableImpl) Find(vAddr uint64) (Page, bool) {
	pt.Lock()
	defer pt.Unlock()

	page, found := pt.entries[pt.alignToPage(vAddr)]
	if !found || !page.Valid {
		return Page{}, false
	}

	return page, true
}
