// Package vmem manages the guest GPU's virtual address space: a page table
// over contiguous backing memory, with translated reads, writes, and block
// copies for the engines that operate on guest addresses.
package vmem

import (
	"fmt"
	"log"
)

// A SurfaceCache is notified around translated block copies so that cached
// surface data stays consistent with raw memory. It matches the surface
// cache contract the engines use.
type SurfaceCache interface {
	FlushRegion(addr, size uint64)
	InvalidateRegion(addr, size uint64)
}

// A TranslationError reports an access to an unmapped guest address.
type TranslationError struct {
	Addr uint64
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("guest address 0x%x is not mapped", e.Addr)
}

// A Manager owns one guest virtual address space. Mapped ranges resolve to
// offsets into a single contiguous backing allocation, so a physically
// contiguous mapping can be exposed as one host byte slice.
type Manager struct {
	name         string
	log2PageSize uint64
	pageTable    PageTable
	ram          []byte
	cache        SurfaceCache
}

// A Builder builds address-space managers.
type Builder struct {
	log2PageSize uint64
	capacity     uint64
	cache        SurfaceCache
}

// MakeBuilder returns a Builder with 4KiB pages and 64MiB of backing
// memory.
func MakeBuilder() Builder {
	return Builder{
		log2PageSize: 12,
		capacity:     64 * 1024 * 1024,
	}
}

// WithLog2PageSize sets the page size.
func (b Builder) WithLog2PageSize(n uint64) Builder {
	b.log2PageSize = n
	return b
}

// WithCapacity sets the size of the backing memory in bytes.
func (b Builder) WithCapacity(capacity uint64) Builder {
	b.capacity = capacity
	return b
}

// WithSurfaceCache attaches the cache kept consistent around block copies.
func (b Builder) WithSurfaceCache(c SurfaceCache) Builder {
	b.cache = c
	return b
}

// Build builds a Manager with the given name.
func (b Builder) Build(name string) *Manager {
	return &Manager{
		name:         name,
		log2PageSize: b.log2PageSize,
		pageTable:    NewPageTable(b.log2PageSize),
		ram:          make([]byte, b.capacity),
		cache:        b.cache,
	}
}

func (m *Manager) pageSize() uint64 {
	return 1 << m.log2PageSize
}

// Map maps size bytes of guest virtual address space starting at vAddr onto
// the backing memory starting at pAddr. All three arguments must be
// page-aligned and the physical range must fit the backing memory.
func (m *Manager) Map(vAddr, pAddr, size uint64) {
	ps := m.pageSize()
	if vAddr%ps != 0 || pAddr%ps != 0 || size%ps != 0 {
		log.Panicf("%s: map of 0x%x bytes at v0x%x/p0x%x is not page aligned",
			m.name, size, vAddr, pAddr)
	}

	if pAddr+size > uint64(len(m.ram)) {
		log.Panicf("%s: map of 0x%x bytes at p0x%x exceeds capacity 0x%x",
			m.name, size, pAddr, uint64(len(m.ram)))
	}

	for off := uint64(0); off < size; off += ps {
		m.pageTable.Insert(Page{
			VAddr: vAddr + off,
			PAddr: pAddr + off,
			Valid: true,
		})
	}
}

// Unmap removes the mapping of size bytes starting at the page-aligned
// vAddr.
func (m *Manager) Unmap(vAddr, size uint64) {
	ps := m.pageSize()
	for off := uint64(0); off < size; off += ps {
		m.pageTable.Remove(vAddr + off)
	}
}

// Translate returns the physical offset of one guest virtual address.
func (m *Manager) Translate(vAddr uint64) (uint64, bool) {
	page, found := m.pageTable.Find(vAddr)
	if !found {
		return 0, false
	}

	return page.PAddr + vAddr%m.pageSize(), true
}

// Resolve returns a host view of size bytes at vAddr, or false if the range
// is unmapped or not physically contiguous. The view aliases the backing
// memory and must not be retained beyond the operation it was resolved for.
// Its capacity equals its length, so it cannot be resliced past the range.
func (m *Manager) Resolve(vAddr, size uint64) ([]byte, bool) {
	if size == 0 {
		return nil, false
	}

	base, ok := m.Translate(vAddr)
	if !ok || base+size > uint64(len(m.ram)) {
		return nil, false
	}

	ps := m.pageSize()
	for off := ps - vAddr%ps; off < size; off += ps {
		pa, ok := m.Translate(vAddr + off)
		if !ok || pa != base+off {
			return nil, false
		}
	}

	return m.ram[base : base+size : base+size], true
}

// ReadBytes copies n bytes out of guest memory, page by page.
func (m *Manager) ReadBytes(vAddr, n uint64) ([]byte, error) {
	out := make([]byte, n)

	done := uint64(0)
	for done < n {
		pa, chunk, err := m.chunkAt(vAddr+done, n-done)
		if err != nil {
			return nil, err
		}

		copy(out[done:done+chunk], m.ram[pa:pa+chunk])
		done += chunk
	}

	return out, nil
}

// WriteBytes copies data into guest memory, page by page. The whole range
// is translated up front so a failure writes nothing.
func (m *Manager) WriteBytes(vAddr uint64, data []byte) error {
	if err := m.rangeMapped(vAddr, uint64(len(data))); err != nil {
		return err
	}

	done := uint64(0)
	for done < uint64(len(data)) {
		pa, chunk, err := m.chunkAt(vAddr+done, uint64(len(data))-done)
		if err != nil {
			return err
		}

		copy(m.ram[pa:pa+chunk], data[done:done+chunk])
		done += chunk
	}

	return nil
}

// CopyBlock copies n bytes between guest addresses and keeps the attached
// surface cache consistent: the source is flushed before reading and the
// destination invalidated before writing.
func (m *Manager) CopyBlock(dst, src, n uint64) error {
	if n == 0 {
		return nil
	}

	if err := m.rangeMapped(dst, n); err != nil {
		return err
	}

	if m.cache != nil {
		m.cache.FlushRegion(src, n)
	}

	data, err := m.ReadBytes(src, n)
	if err != nil {
		return err
	}

	if m.cache != nil {
		m.cache.InvalidateRegion(dst, n)
	}

	return m.WriteBytes(dst, data)
}

func (m *Manager) chunkAt(vAddr, max uint64) (pa, chunk uint64, err error) {
	pa, ok := m.Translate(vAddr)
	if !ok {
		return 0, 0, &TranslationError{Addr: vAddr}
	}

	chunk = m.pageSize() - vAddr%m.pageSize()
	if chunk > max {
		chunk = max
	}

	if pa+chunk > uint64(len(m.ram)) {
		return 0, 0, &TranslationError{Addr: vAddr}
	}

	return pa, chunk, nil
}

func (m *Manager) rangeMapped(vAddr, n uint64) error {
	ps := m.pageSize()
	for off := uint64(0); off < n; off += ps {
		if _, ok := m.Translate(vAddr + off); !ok {
			return &TranslationError{Addr: vAddr + off}
		}
	}

	if _, ok := m.Translate(vAddr + n - 1); !ok {
		return &TranslationError{Addr: vAddr + n - 1}
	}

	return nil
}
