package copyengine

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/tegraemu/videocore/blocklinear"
)

func execWord(srcLinear, dstLinear, twoD bool) uint32 {
	w := uint32(CopyModeNonPipelined)
	if dstLinear {
		w |= 1 << 7
	}
	if srcLinear {
		w |= 1 << 8
	}
	if twoD {
		w |= 1 << 9
	}

	return w
}

type capturingRecorder struct {
	tables  []string
	entries []TransferRecord
}

func (r *capturingRecorder) CreateTable(table string, _ any) {
	r.tables = append(r.tables, table)
}

func (r *capturingRecorder) InsertData(_ string, entry any) {
	r.entries = append(r.entries, entry.(TransferRecord))
}

func (r *capturingRecorder) ListTables() []string { return r.tables }
func (r *capturingRecorder) Flush()               {}
func (r *capturingRecorder) Close()               {}

var _ = Describe("Copy Engine", func() {
	var (
		ctrl   *gomock.Controller
		mem    *MockMemoryManager
		cache  *MockSurfaceCache
		dirty  *MockDirtyNotifier
		engine *Comp
	)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		mem = NewMockMemoryManager(ctrl)
		cache = NewMockSurfaceCache(ctrl)
		dirty = NewMockDirtyNotifier(ctrl)

		engine = MakeBuilder().
			WithMemoryManager(mem).
			WithSurfaceCache(cache).
			WithDirtyNotifier(dirty).
			Build("CopyEngine")
	})

	setAddrs := func(src, dst uint64) {
		engine.Write(RegSrcAddrHigh, uint32(src>>32))
		engine.Write(RegSrcAddrLow, uint32(src))
		engine.Write(RegDstAddrHigh, uint32(dst>>32))
		engine.Write(RegDstAddrLow, uint32(dst))
	}

	Context("register bank", func() {
		It("should store written values at their method slot", func() {
			Expect(engine.Write(RegSrcPitch, 0x1234)).To(Succeed())
			Expect(engine.Write(NumRegs-1, 0xCAFE)).To(Succeed())

			regs := engine.Registers()
			Expect(regs[RegSrcPitch]).To(Equal(uint32(0x1234)))
			Expect(regs[NumRegs-1]).To(Equal(uint32(0xCAFE)))
		})

		It("should combine the address halves into 64-bit addresses", func() {
			setAddrs(0x12_3456_7000, 0xAB_CDEF_0000)

			regs := engine.Registers()
			Expect(regs.SrcAddress()).To(Equal(uint64(0x12_3456_7000)))
			Expect(regs.DstAddress()).To(Equal(uint64(0xAB_CDEF_0000)))
		})

		It("should panic on a method index outside the bank", func() {
			Expect(func() {
				engine.Write(NumRegs, 0)
			}).To(Panic())
		})
	})

	Context("linear copies", func() {
		It("should move a flat byte range in one block", func() {
			setAddrs(0x1000, 0x9000)
			engine.Write(RegXCount, 256)

			gomock.InOrder(
				dirty.EXPECT().MemoryWritten(),
				mem.EXPECT().CopyBlock(uint64(0x9000), uint64(0x1000),
					uint64(256)).Return(nil),
			)

			Expect(engine.Write(RegExec, execWord(true, true, false))).
				To(Succeed())
		})

		It("should stride both sides by their pitch in 2D mode", func() {
			setAddrs(0x1000, 0x9000)
			engine.Write(RegSrcPitch, 0x100)
			engine.Write(RegDstPitch, 0x200)
			engine.Write(RegXCount, 0x40)
			engine.Write(RegYCount, 3)

			gomock.InOrder(
				dirty.EXPECT().MemoryWritten(),
				mem.EXPECT().CopyBlock(uint64(0x9000), uint64(0x1000),
					uint64(0x40)).Return(nil),
				mem.EXPECT().CopyBlock(uint64(0x9200), uint64(0x1100),
					uint64(0x40)).Return(nil),
				mem.EXPECT().CopyBlock(uint64(0x9400), uint64(0x1200),
					uint64(0x40)).Return(nil),
			)

			Expect(engine.Write(RegExec, execWord(true, true, true))).
				To(Succeed())
		})

		It("should stop at the first row that fails to copy", func() {
			setAddrs(0x1000, 0x9000)
			engine.Write(RegSrcPitch, 0x100)
			engine.Write(RegDstPitch, 0x100)
			engine.Write(RegXCount, 0x40)
			engine.Write(RegYCount, 4)

			rowErr := errors.New("row 2 is unmapped")
			gomock.InOrder(
				dirty.EXPECT().MemoryWritten(),
				mem.EXPECT().CopyBlock(gomock.Any(), gomock.Any(),
					gomock.Any()).Return(nil),
				mem.EXPECT().CopyBlock(gomock.Any(), gomock.Any(),
					gomock.Any()).Return(rowErr),
			)

			err := engine.Write(RegExec, execWord(true, true, true))
			Expect(err).To(MatchError(rowErr))

			var addrErr *AddressingError
			Expect(errors.As(err, &addrErr)).To(BeTrue())
			Expect(addrErr.Addr).To(Equal(uint64(0x9100)))
		})
	})

	Context("rejected configurations", func() {
		expectUnsupported := func(exec uint32) {
			GinkgoHelper()

			err := engine.Write(RegExec, exec)
			Expect(err).To(HaveOccurred())

			var ucErr *UnsupportedConfigurationError
			Expect(errors.As(err, &ucErr)).To(BeTrue())
		}

		It("should reject component remap", func() {
			expectUnsupported(execWord(true, true, false) | 1<<10)
		})

		It("should reject non-synchronous copy modes", func() {
			expectUnsupported(uint32(CopyModePipelined) | 1<<7 | 1<<8)
		})

		It("should reject completion semaphores", func() {
			expectUnsupported(execWord(true, true, false) | 1<<3)
		})

		It("should reject completion interrupts", func() {
			expectUnsupported(execWord(true, true, false) | 1<<5)
		})

		It("should reject a nonzero destination origin", func() {
			engine.Write(RegDstParams+5, 2|3<<16)

			expectUnsupported(execWord(true, true, false))
		})

		It("should reject tiled-to-tiled transfers", func() {
			expectUnsupported(execWord(false, false, true))
		})

		It("should reject tiled transfers without the 2D enable bit", func() {
			expectUnsupported(execWord(false, true, false))
		})

		It("should reject tiled surfaces deeper than one layer", func() {
			engine.Write(RegSrcPitch, 64)
			engine.Write(RegSrcParams+1, 64)
			engine.Write(RegSrcParams+3, 2)

			expectUnsupported(execWord(false, true, true))
		})

		It("should reject a subrect wider than the tiled surface", func() {
			engine.Write(RegSrcPitch, 64)
			engine.Write(RegSrcParams+1, 64)
			engine.Write(RegSrcParams+2, 16)
			engine.Write(RegSrcParams+3, 1)
			engine.Write(RegXCount, 128)
			engine.Write(RegYCount, 16)

			expectUnsupported(execWord(false, true, true))
		})

		It("should reject a subrect origin that pushes past the surface edge",
			func() {
				engine.Write(RegSrcPitch, 64)
				engine.Write(RegSrcParams+1, 64)
				engine.Write(RegSrcParams+2, 64)
				engine.Write(RegSrcParams+3, 1)
				engine.Write(RegSrcParams+5, 40)
				engine.Write(RegXCount, 32)
				engine.Write(RegYCount, 64)

				expectUnsupported(execWord(false, true, true))
			})

		It("should reject tiling more rows than the destination holds", func() {
			engine.Write(RegSrcPitch, 64)
			engine.Write(RegDstParams+1, 64)
			engine.Write(RegDstParams+2, 16)
			engine.Write(RegDstParams+3, 1)
			engine.Write(RegXCount, 64)
			engine.Write(RegYCount, 32)

			expectUnsupported(execWord(true, false, true))
		})

		It("should reject a pitch that is not a whole number of elements",
			func() {
				engine.Write(RegSrcPitch, 100)
				engine.Write(RegSrcParams+1, 64)
				engine.Write(RegSrcParams+3, 1)

				expectUnsupported(execWord(false, true, true))
			})
	})

	Context("tiled reads", func() {
		var (
			tiled   blocklinear.Surface
			srcBuf  []byte
			dstBuf  []byte
			srcAddr uint64
			dstAddr uint64
		)

		BeforeEach(func() {
			tiled = blocklinear.Surface{
				WidthPixels:   128,
				BytesPerPixel: 1,
				BlockHeight:   16,
			}

			srcBuf = make([]byte, tiled.SizeBytes(32))
			for i := range srcBuf {
				srcBuf[i] = byte(i*7 + 3)
			}
			dstBuf = make([]byte, 4096)

			srcAddr = uint64(0x10_0000)
			dstAddr = uint64(0x20_0000)
			setAddrs(srcAddr, dstAddr)

			engine.Write(RegSrcPitch, 128)
			engine.Write(RegDstPitch, 128)
			engine.Write(RegXCount, 128)
			engine.Write(RegYCount, 32)
			engine.Write(RegSrcParams, 4<<4)
			engine.Write(RegSrcParams+1, 128)
			engine.Write(RegSrcParams+2, 32)
			engine.Write(RegSrcParams+3, 1)
		})

		It("should linearize the surface and sequence the caches", func() {
			gomock.InOrder(
				dirty.EXPECT().MemoryWritten(),
				mem.EXPECT().Resolve(srcAddr, tiled.SizeBytes(32)).
					Return(srcBuf, true),
				cache.EXPECT().FlushRegion(srcAddr, uint64(128*32)),
				mem.EXPECT().Resolve(dstAddr, uint64(31*128+128)).
					Return(dstBuf, true),
				cache.EXPECT().InvalidateRegion(dstAddr, uint64(128*32)),
			)

			Expect(engine.Write(RegExec, execWord(false, true, true))).
				To(Succeed())

			for y := uint32(0); y < 32; y++ {
				for x := uint32(0); x < 128; x++ {
					Expect(dstBuf[uint64(y)*128+uint64(x)]).
						To(Equal(srcBuf[tiled.PixelOffset(x, y)]))
				}
			}
		})

		It("should read the subrect at the source origin", func() {
			engine.Write(RegXCount, 32)
			engine.Write(RegYCount, 8)
			engine.Write(RegSrcParams+5, 48|20<<16)
			engine.Write(RegSrcParams+2, 32)

			gomock.InOrder(
				dirty.EXPECT().MemoryWritten(),
				mem.EXPECT().Resolve(srcAddr, gomock.Any()).
					Return(srcBuf, true),
				cache.EXPECT().FlushRegion(srcAddr, gomock.Any()),
				mem.EXPECT().Resolve(dstAddr, uint64(7*128+32)).
					Return(dstBuf, true),
				cache.EXPECT().InvalidateRegion(dstAddr, uint64(32*8)),
			)

			Expect(engine.Write(RegExec, execWord(false, true, true))).
				To(Succeed())

			for y := uint32(0); y < 8; y++ {
				for x := uint32(0); x < 32; x++ {
					Expect(dstBuf[uint64(y)*128+uint64(x)]).
						To(Equal(srcBuf[tiled.PixelOffset(x+48, y+20)]))
				}
			}
		})

		It("should do nothing for an empty subrect", func() {
			engine.Write(RegYCount, 0)

			dirty.EXPECT().MemoryWritten()

			Expect(engine.Write(RegExec, execWord(false, true, true))).
				To(Succeed())
		})

		It("should flush the source before giving up on the destination",
			func() {
				gomock.InOrder(
					dirty.EXPECT().MemoryWritten(),
					mem.EXPECT().Resolve(srcAddr, gomock.Any()).
						Return(srcBuf, true),
					cache.EXPECT().FlushRegion(srcAddr, gomock.Any()),
					mem.EXPECT().Resolve(dstAddr, gomock.Any()).
						Return(nil, false),
				)

				err := engine.Write(RegExec, execWord(false, true, true))

				var addrErr *AddressingError
				Expect(errors.As(err, &addrErr)).To(BeTrue())
				Expect(addrErr.Side).To(Equal("destination"))
				Expect(addrErr.Addr).To(Equal(dstAddr))
			})

		It("should stay usable after a failed transfer", func() {
			gomock.InOrder(
				dirty.EXPECT().MemoryWritten(),
				mem.EXPECT().Resolve(srcAddr, gomock.Any()).
					Return(nil, false),
			)

			err := engine.Write(RegExec, execWord(false, true, true))
			Expect(err).To(HaveOccurred())

			engine.Write(RegXCount, 16)
			gomock.InOrder(
				dirty.EXPECT().MemoryWritten(),
				mem.EXPECT().CopyBlock(dstAddr, srcAddr, uint64(16)).
					Return(nil),
			)

			Expect(engine.Write(RegExec, execWord(true, true, false))).
				To(Succeed())
		})
	})

	Context("tiled writes", func() {
		var (
			tiled   blocklinear.Surface
			srcBuf  []byte
			dstBuf  []byte
			srcAddr uint64
			dstAddr uint64
		)

		BeforeEach(func() {
			tiled = blocklinear.Surface{
				WidthPixels:   128,
				BytesPerPixel: 1,
				BlockHeight:   16,
			}

			srcBuf = make([]byte, 4096)
			for i := range srcBuf {
				srcBuf[i] = byte(i*13 + 5)
			}
			dstBuf = make([]byte, tiled.SizeBytes(32))

			srcAddr = uint64(0x30_0000)
			dstAddr = uint64(0x40_0000)
			setAddrs(srcAddr, dstAddr)

			engine.Write(RegSrcPitch, 128)
			engine.Write(RegDstPitch, 128)
			engine.Write(RegXCount, 128)
			engine.Write(RegYCount, 32)
			engine.Write(RegDstParams, 4<<4)
			engine.Write(RegDstParams+1, 128)
			engine.Write(RegDstParams+2, 32)
			engine.Write(RegDstParams+3, 1)
		})

		It("should tile the rows and sequence the caches", func() {
			gomock.InOrder(
				dirty.EXPECT().MemoryWritten(),
				mem.EXPECT().Resolve(srcAddr, uint64(31*128+128)).
					Return(srcBuf, true),
				cache.EXPECT().FlushRegion(srcAddr, uint64(128*32)),
				mem.EXPECT().Resolve(dstAddr, tiled.SizeBytes(32)).
					Return(dstBuf, true),
				cache.EXPECT().InvalidateRegion(dstAddr, uint64(128*32)),
			)

			Expect(engine.Write(RegExec, execWord(true, false, true))).
				To(Succeed())

			for y := uint32(0); y < 32; y++ {
				for x := uint32(0); x < 128; x++ {
					Expect(dstBuf[tiled.PixelOffset(x, y)]).
						To(Equal(srcBuf[uint64(y)*128+uint64(x)]))
				}
			}
		})

		It("should report an unmapped source without touching caches", func() {
			gomock.InOrder(
				dirty.EXPECT().MemoryWritten(),
				mem.EXPECT().Resolve(srcAddr, gomock.Any()).
					Return(nil, false),
			)

			err := engine.Write(RegExec, execWord(true, false, true))

			var addrErr *AddressingError
			Expect(errors.As(err, &addrErr)).To(BeTrue())
			Expect(addrErr.Side).To(Equal("source"))
		})
	})

	Context("recording", func() {
		var recorder *capturingRecorder

		BeforeEach(func() {
			recorder = &capturingRecorder{}

			engine = MakeBuilder().
				WithMemoryManager(mem).
				WithSurfaceCache(cache).
				WithDirtyNotifier(dirty).
				WithDataRecorder(recorder).
				Build("CopyEngine")
		})

		It("should register its table at build time", func() {
			Expect(recorder.tables).To(ContainElement(TransferTableName))
		})

		It("should record completed transfers", func() {
			setAddrs(0x1000, 0x9000)
			engine.Write(RegXCount, 64)

			dirty.EXPECT().MemoryWritten()
			mem.EXPECT().CopyBlock(gomock.Any(), gomock.Any(), gomock.Any()).
				Return(nil)

			engine.Write(RegExec, execWord(true, true, false))

			Expect(recorder.entries).To(HaveLen(1))
			Expect(recorder.entries[0].Kind).To(Equal("linear_to_linear"))
			Expect(recorder.entries[0].Outcome).To(Equal("completed"))
		})

		It("should record rejected triggers with their reason", func() {
			engine.Write(RegExec, execWord(true, true, false)|1<<10)

			Expect(recorder.entries).To(HaveLen(1))
			Expect(recorder.entries[0].Outcome).
				To(ContainSubstring("swizzle"))
		})
	})
})
