// Package copyengine models the fixed-function copy engine of the guest
// GPU: a register-driven DMA unit that moves byte ranges between guest
// virtual addresses, converting between row-major and block-linear surface
// layouts as part of the transfer.
//
// The engine is synchronous and single-caller: a method write that hits the
// execute slot runs the whole transfer before returning. Register
// combinations outside the modeled behavior are rejected with
// UnsupportedConfigurationError rather than approximated.
package copyengine

import (
	"log"

	"github.com/rs/xid"

	"github.com/tegraemu/videocore/blocklinear"
	"github.com/tegraemu/videocore/datarecording"
)

// TransferTableName is the data-recording table that receives one row per
// execute trigger.
const TransferTableName = "copy_engine_transfers"

// A TransferRecord describes one execute trigger for data recording.
type TransferRecord struct {
	ID            string
	Kind          string
	SrcAddr       uint64
	DstAddr       uint64
	XCount        uint32
	YCount        uint32
	BytesPerPixel uint32
	Outcome       string
}

// A Comp is one copy-engine instance. It owns nothing but its register
// bank; memory and surface caches belong to the collaborators it was built
// with.
type Comp struct {
	name string
	regs Regs

	mem      MemoryManager
	cache    SurfaceCache
	dirty    DirtyNotifier
	recorder datarecording.DataRecorder
}

// Name returns the name of the component.
func (c *Comp) Name() string {
	return c.name
}

// Registers returns a snapshot of the register bank.
func (c *Comp) Registers() Regs {
	return c.regs
}

// Write stores value at the given method slot. Writing the execute slot
// additionally runs the requested transfer synchronously and returns its
// outcome. A method index outside the bank is a modeling error and panics.
func (c *Comp) Write(method, value uint32) error {
	if method >= NumRegs {
		log.Panicf("%s: method 0x%x outside the register bank of 0x%x slots",
			c.name, method, uint32(NumRegs))
	}

	c.regs[method] = value

	if method == RegExec {
		return c.handleCopy()
	}

	return nil
}

func (c *Comp) handleCopy() error {
	d, err := c.decode()
	if err != nil {
		c.record(&d, err.Error())
		return err
	}

	// Every modeled copy mutates guest memory, so dependent draw-state
	// caches must treat themselves as stale before the transfer runs.
	c.dirty.MemoryWritten()

	switch d.kind {
	case linearToLinear:
		err = c.copyLinear(&d)
	case tiledToLinear:
		err = c.deswizzle(&d)
	case linearToTiled:
		err = c.swizzle(&d)
	}

	if err != nil {
		c.record(&d, err.Error())
		return err
	}

	c.record(&d, "completed")

	return nil
}

func (c *Comp) copyLinear(d *transferDescriptor) error {
	if !d.exec.Enable2D {
		err := c.mem.CopyBlock(d.dstAddr, d.srcAddr, uint64(d.xCount))
		if err != nil {
			return &AddressingError{Side: "linear", Addr: d.dstAddr, Err: err}
		}

		return nil
	}

	// Row-by-row strided copy. Bytes between xCount and the pitch are left
	// untouched on both sides.
	for row := uint32(0); row < d.yCount; row++ {
		srcLine := d.srcAddr + uint64(row)*uint64(d.srcPitch)
		dstLine := d.dstAddr + uint64(row)*uint64(d.dstPitch)

		err := c.mem.CopyBlock(dstLine, srcLine, uint64(d.xCount))
		if err != nil {
			return &AddressingError{Side: "linear", Addr: dstLine, Err: err}
		}
	}

	return nil
}

func (c *Comp) deswizzle(d *transferDescriptor) error {
	if d.xCount == 0 || d.yCount == 0 {
		return nil
	}

	tiled := blocklinear.Surface{
		WidthPixels:   d.srcParams.SizeX,
		BytesPerPixel: d.bytesPerPixel,
		BlockHeight:   d.srcParams.BlockHeight(),
	}

	src, ok := c.mem.Resolve(d.srcAddr, tiled.SizeBytes(d.srcParams.SizeY))
	if !ok {
		return &AddressingError{Side: "source", Addr: d.srcAddr}
	}

	// Guest memory must hold the current surface bytes before they are
	// read. The flush covers the full source row span, not just the
	// requested subrect.
	c.cache.FlushRegion(d.srcAddr,
		uint64(d.srcPitch)*uint64(d.srcParams.SizeY))

	bpp := uint64(d.bytesPerPixel)
	dstSize := uint64(d.yCount-1)*uint64(d.dstPitch) + uint64(d.xCount)*bpp

	dst, ok := c.mem.Resolve(d.dstAddr, dstSize)
	if !ok {
		return &AddressingError{Side: "destination", Addr: d.dstAddr}
	}

	// Evict overlapping destination surfaces before the raw write:
	// eviction may write stale contents back, which must not land on top
	// of the new data.
	c.cache.InvalidateRegion(d.dstAddr,
		uint64(d.xCount)*uint64(d.yCount)*bpp)

	sr := blocklinear.Subrect{
		Width:   d.xCount,
		Height:  d.yCount,
		OriginX: d.srcParams.PosX,
		OriginY: d.srcParams.PosY,
	}
	blocklinear.DeswizzleSubrect(sr, tiled, src, dst, d.dstPitch)

	return nil
}

func (c *Comp) swizzle(d *transferDescriptor) error {
	if d.xCount == 0 || d.yCount == 0 {
		return nil
	}

	bpp := uint64(d.bytesPerPixel)
	srcSize := uint64(d.yCount-1)*uint64(d.srcPitch) + uint64(d.xCount)*bpp

	src, ok := c.mem.Resolve(d.srcAddr, srcSize)
	if !ok {
		return &AddressingError{Side: "source", Addr: d.srcAddr}
	}

	c.cache.FlushRegion(d.srcAddr, uint64(d.srcPitch)*uint64(d.yCount))

	tiled := blocklinear.Surface{
		WidthPixels:   d.dstParams.SizeX,
		BytesPerPixel: d.bytesPerPixel,
		BlockHeight:   d.dstParams.BlockHeight(),
	}

	dst, ok := c.mem.Resolve(d.dstAddr, tiled.SizeBytes(d.dstParams.SizeY))
	if !ok {
		return &AddressingError{Side: "destination", Addr: d.dstAddr}
	}

	c.cache.InvalidateRegion(d.dstAddr,
		uint64(d.dstParams.SizeX)*uint64(d.dstParams.SizeY)*bpp)

	// The destination origin is validated to be zero.
	sr := blocklinear.Subrect{Width: d.xCount, Height: d.yCount}
	blocklinear.SwizzleSubrect(sr, tiled, src, dst, d.srcPitch)

	return nil
}

func (c *Comp) record(d *transferDescriptor, outcome string) {
	if c.recorder == nil {
		return
	}

	c.recorder.InsertData(TransferTableName, TransferRecord{
		ID:            xid.New().String(),
		Kind:          d.kind.String(),
		SrcAddr:       d.srcAddr,
		DstAddr:       d.dstAddr,
		XCount:        d.xCount,
		YCount:        d.yCount,
		BytesPerPixel: d.bytesPerPixel,
		Outcome:       outcome,
	})
}
