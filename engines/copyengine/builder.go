package copyengine

import (
	"log"

	"github.com/tegraemu/videocore/datarecording"
)

// A Builder builds copy-engine components.
type Builder struct {
	mem      MemoryManager
	cache    SurfaceCache
	dirty    DirtyNotifier
	recorder datarecording.DataRecorder
}

// MakeBuilder returns a new Builder.
func MakeBuilder() Builder {
	return Builder{}
}

// WithMemoryManager sets the address-translation collaborator.
func (b Builder) WithMemoryManager(m MemoryManager) Builder {
	b.mem = m
	return b
}

// WithSurfaceCache sets the surface-cache collaborator.
func (b Builder) WithSurfaceCache(c SurfaceCache) Builder {
	b.cache = c
	return b
}

// WithDirtyNotifier sets the receiver of the context-wide memory-written
// signal.
func (b Builder) WithDirtyNotifier(n DirtyNotifier) Builder {
	b.dirty = n
	return b
}

// WithDataRecorder makes the engine record one row per execute trigger.
func (b Builder) WithDataRecorder(r datarecording.DataRecorder) Builder {
	b.recorder = r
	return b
}

// Build builds a copy engine with the given name.
func (b Builder) Build(name string) *Comp {
	if b.mem == nil {
		log.Panicf("copy engine %s built without a memory manager", name)
	}

	if b.cache == nil {
		log.Panicf("copy engine %s built without a surface cache", name)
	}

	if b.dirty == nil {
		log.Panicf("copy engine %s built without a dirty notifier", name)
	}

	c := &Comp{
		name:     name,
		mem:      b.mem,
		cache:    b.cache,
		dirty:    b.dirty,
		recorder: b.recorder,
	}

	if c.recorder != nil {
		c.recorder.CreateTable(TransferTableName, TransferRecord{})
	}

	return c
}
