package copyengine

// NumRegs is the number of 32-bit method slots in the engine's register
// bank.
const NumRegs = 0x1D6

// Word indices of the semantic registers within the bank. The exec slot
// doubles as the execute trigger: writing it launches a transfer.
const (
	RegExec        = 0x0C0
	RegSrcAddrHigh = 0x100
	RegSrcAddrLow  = 0x101
	RegDstAddrHigh = 0x102
	RegDstAddrLow  = 0x103
	RegSrcPitch    = 0x104
	RegDstPitch    = 0x105
	RegXCount      = 0x106
	RegYCount      = 0x107
	RegConst0      = 0x1C0
	RegConst1      = 0x1C1
	RegSwizzleCfg  = 0x1C2
	RegDstParams   = 0x1C3
	RegSrcParams   = 0x1C9
)

// CopyMode is the transfer scheduling mode requested in the exec register.
type CopyMode uint32

// Only CopyModeNonPipelined, the synchronous mode, is modeled.
const (
	CopyModeNone CopyMode = iota
	CopyModePipelined
	CopyModeNonPipelined
)

// QueryMode is the completion-semaphore mode requested in the exec
// register. Only QueryModeNone is modeled.
type QueryMode uint32

// QueryModeNone requests no completion semaphore.
const QueryModeNone QueryMode = 0

// QueryIntr is the completion-interrupt mode requested in the exec
// register. Only QueryIntrNone is modeled.
type QueryIntr uint32

// QueryIntrNone requests no completion interrupt.
const QueryIntrNone QueryIntr = 0

// ExecFlags is the decoded view of the exec register.
type ExecFlags struct {
	CopyMode      CopyMode
	FlushEnable   bool
	QueryMode     QueryMode
	QueryIntr     QueryIntr
	IsDstLinear   bool
	IsSrcLinear   bool
	Enable2D      bool
	EnableSwizzle bool
}

// Params is the decoded view of one six-word surface parameter block.
type Params struct {
	BlockDepthLog2  uint32
	BlockHeightLog2 uint32
	BlockWidthLog2  uint32
	SizeX           uint32
	SizeY           uint32
	SizeZ           uint32
	PosZ            uint32
	PosX            uint32
	PosY            uint32
}

// BlockHeight returns the GOB height in rows.
func (p Params) BlockHeight() uint32 {
	return 1 << p.BlockHeightLog2
}

// Regs is the engine's register bank: a fixed array of 32-bit words indexed
// by method number, with semantic fields overlaid at the offsets above. It
// is mutated only through Comp.Write.
type Regs [NumRegs]uint32

// SrcAddress returns the 64-bit guest virtual source address.
func (r *Regs) SrcAddress() uint64 {
	return uint64(r[RegSrcAddrHigh])<<32 | uint64(r[RegSrcAddrLow])
}

// DstAddress returns the 64-bit guest virtual destination address.
func (r *Regs) DstAddress() uint64 {
	return uint64(r[RegDstAddrHigh])<<32 | uint64(r[RegDstAddrLow])
}

// SrcPitch returns the byte stride of a source row.
func (r *Regs) SrcPitch() uint32 { return r[RegSrcPitch] }

// DstPitch returns the byte stride of a destination row.
func (r *Regs) DstPitch() uint32 { return r[RegDstPitch] }

// XCount returns the transfer width in elements.
func (r *Regs) XCount() uint32 { return r[RegXCount] }

// YCount returns the transfer height in rows.
func (r *Regs) YCount() uint32 { return r[RegYCount] }

// Exec decodes the exec register bitfield.
func (r *Regs) Exec() ExecFlags {
	w := r[RegExec]

	return ExecFlags{
		CopyMode:      CopyMode(w & 0x3),
		FlushEnable:   w&(1<<2) != 0,
		QueryMode:     QueryMode(w >> 3 & 0x3),
		QueryIntr:     QueryIntr(w >> 5 & 0x3),
		IsDstLinear:   w&(1<<7) != 0,
		IsSrcLinear:   w&(1<<8) != 0,
		Enable2D:      w&(1<<9) != 0,
		EnableSwizzle: w&(1<<10) != 0,
	}
}

// SrcParams decodes the source surface parameter block.
func (r *Regs) SrcParams() Params { return r.params(RegSrcParams) }

// DstParams decodes the destination surface parameter block.
func (r *Regs) DstParams() Params { return r.params(RegDstParams) }

func (r *Regs) params(base uint32) Params {
	blockSize := r[base]
	origin := r[base+5]

	return Params{
		BlockDepthLog2:  blockSize & 0xF,
		BlockHeightLog2: blockSize >> 4 & 0xF,
		BlockWidthLog2:  blockSize >> 8 & 0xF,
		SizeX:           r[base+1],
		SizeY:           r[base+2],
		SizeZ:           r[base+3],
		PosZ:            r[base+4],
		PosX:            origin & 0xFFFF,
		PosY:            origin >> 16,
	}
}
