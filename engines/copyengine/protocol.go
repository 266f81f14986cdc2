package copyengine

import "fmt"

// A MemoryManager translates guest virtual addresses and owns the raw
// memory behind them.
type MemoryManager interface {
	// Resolve returns a host view of size bytes starting at the guest
	// virtual address, or false if any part of the range is unmapped. The
	// view is only valid until the calling engine operation returns.
	Resolve(addr, size uint64) ([]byte, bool)

	// CopyBlock copies n bytes from one guest virtual address to another.
	// CopyBlock keeps any cached state of the destination range consistent
	// on its own; the caller does not flush or invalidate around it.
	CopyBlock(dst, src, n uint64) error
}

// A SurfaceCache tracks which guest memory ranges hold decoded surface
// data.
type SurfaceCache interface {
	// FlushRegion writes cached contents of the range back so that guest
	// memory holds the most current data.
	FlushRegion(addr, size uint64)

	// InvalidateRegion evicts cached surfaces overlapping the range so they
	// are re-derived from guest memory on next use. Eviction may itself
	// write stale contents back.
	InvalidateRegion(addr, size uint64)
}

// A DirtyNotifier receives the context-wide signal that guest memory was
// written, so dependent draw-state caches treat themselves as stale.
type DirtyNotifier interface {
	MemoryWritten()
}

// An UnsupportedConfigurationError reports a register combination outside
// the modeled hardware behavior. The engine refuses to guess what the real
// hardware would do; the embedder may treat this as fatal.
type UnsupportedConfigurationError struct {
	Reason string
}

func (e *UnsupportedConfigurationError) Error() string {
	return fmt.Sprintf("unsupported copy-engine configuration: %s", e.Reason)
}

// An AddressingError reports a failed guest address translation. The
// transfer is aborted with the destination unmodified and the engine stays
// usable. Err carries the translation collaborator's failure when the copy
// was delegated to it.
type AddressingError struct {
	Side string
	Addr uint64
	Err  error
}

func (e *AddressingError) Error() string {
	msg := fmt.Sprintf("cannot resolve %s address 0x%x", e.Side, e.Addr)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *AddressingError) Unwrap() error {
	return e.Err
}
