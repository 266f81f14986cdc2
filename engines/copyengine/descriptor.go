package copyengine

import "fmt"

type transferKind int

const (
	linearToLinear transferKind = iota
	tiledToLinear
	linearToTiled
	tiledToTiled
)

func (k transferKind) String() string {
	switch k {
	case linearToLinear:
		return "linear_to_linear"
	case tiledToLinear:
		return "tiled_to_linear"
	case linearToTiled:
		return "linear_to_tiled"
	default:
		return "tiled_to_tiled"
	}
}

// A transferDescriptor is the normalized form of one execute trigger. It is
// rebuilt from the register bank on every trigger and discarded when the
// transfer completes or aborts.
type transferDescriptor struct {
	kind transferKind

	srcAddr uint64
	dstAddr uint64

	exec      ExecFlags
	srcParams Params
	dstParams Params

	srcPitch uint32
	dstPitch uint32
	xCount   uint32
	yCount   uint32

	// Derived from the pitch/element-count ratio; the hardware never
	// passes bytes-per-pixel directly. Zero for linear-to-linear.
	bytesPerPixel uint32
}

func unsupported(format string, args ...any) error {
	return &UnsupportedConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// decode snapshots the register bank into a transfer descriptor and
// validates the whitelist of modeled hardware behavior. It touches no
// memory and issues no cache operations.
func (c *Comp) decode() (transferDescriptor, error) {
	d := transferDescriptor{
		srcAddr:   c.regs.SrcAddress(),
		dstAddr:   c.regs.DstAddress(),
		exec:      c.regs.Exec(),
		srcParams: c.regs.SrcParams(),
		dstParams: c.regs.DstParams(),
		srcPitch:  c.regs.SrcPitch(),
		dstPitch:  c.regs.DstPitch(),
		xCount:    c.regs.XCount(),
		yCount:    c.regs.YCount(),
	}

	switch {
	case d.exec.IsSrcLinear && d.exec.IsDstLinear:
		d.kind = linearToLinear
	case !d.exec.IsSrcLinear && d.exec.IsDstLinear:
		d.kind = tiledToLinear
	case d.exec.IsSrcLinear && !d.exec.IsDstLinear:
		d.kind = linearToTiled
	default:
		d.kind = tiledToTiled
	}

	return d, d.validate()
}

func (d *transferDescriptor) validate() error {
	if d.exec.EnableSwizzle {
		return unsupported("component remap (swizzle) is enabled")
	}

	if d.exec.QueryMode != QueryModeNone {
		return unsupported("query mode %d requests completion semaphores",
			d.exec.QueryMode)
	}

	if d.exec.QueryIntr != QueryIntrNone {
		return unsupported("query interrupt mode %d requests completion interrupts",
			d.exec.QueryIntr)
	}

	if d.exec.CopyMode != CopyModeNonPipelined {
		return unsupported("copy mode %d is not the synchronous mode",
			d.exec.CopyMode)
	}

	if d.dstParams.PosX != 0 || d.dstParams.PosY != 0 {
		return unsupported("destination origin (%d,%d) is not zero",
			d.dstParams.PosX, d.dstParams.PosY)
	}

	if d.kind == tiledToTiled {
		return unsupported("tiled-to-tiled transfers are not modeled")
	}

	if d.kind == linearToLinear {
		return nil
	}

	return d.validateTiled()
}

// validateTiled checks the tiled-path preconditions and recovers
// bytes-per-pixel from the pitch ratio.
func (d *transferDescriptor) validateTiled() error {
	if !d.exec.Enable2D {
		return unsupported("tiled transfers require the 2D enable bit")
	}

	tiled := d.srcParams
	divisor := tiled.SizeX
	if d.kind == linearToTiled {
		tiled = d.dstParams
		divisor = d.xCount
	}

	if tiled.SizeZ != 1 {
		return unsupported("tiled surface depth %d, only depth 1 is modeled",
			tiled.SizeZ)
	}

	if divisor == 0 || d.srcPitch == 0 || d.srcPitch%divisor != 0 {
		return unsupported(
			"cannot derive bytes per pixel from pitch %d over %d elements",
			d.srcPitch, divisor)
	}

	if uint64(tiled.PosX)+uint64(d.xCount) > uint64(tiled.SizeX) ||
		uint64(tiled.PosY)+uint64(d.yCount) > uint64(tiled.SizeY) {
		return unsupported(
			"subrect %dx%d at (%d,%d) leaves the %dx%d tiled surface",
			d.xCount, d.yCount, tiled.PosX, tiled.PosY,
			tiled.SizeX, tiled.SizeY)
	}

	d.bytesPerPixel = d.srcPitch / divisor

	return nil
}
