// Command copyenginedemo wires a copy engine to a guest address space and
// runs a set of transfers through it, with the monitoring server and data
// recording attached.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tegraemu/videocore/datarecording"
	"github.com/tegraemu/videocore/engines/copyengine"
	"github.com/tegraemu/videocore/monitoring"
	"github.com/tegraemu/videocore/vmem"
)

var rootCmd = &cobra.Command{
	Use:   "copyenginedemo",
	Short: "Run a demonstration workload through the copy engine.",
	Long: `copyenginedemo maps a small guest address space, drives the copy ` +
		`engine through flat, strided, and tiled transfers, and records every ` +
		`trigger to a SQLite database.`,
	Run: runDemo,
}

func init() {
	// A .env file can preseed the flag defaults.
	_ = godotenv.Load()

	rootCmd.Flags().Int("port", envInt("MONITOR_PORT", 0),
		"Port of the monitoring server, 0 picks a random one")
	rootCmd.Flags().Bool("open-browser", false,
		"Open the monitoring URL in the default browser")
	rootCmd.Flags().String("recording",
		envString("RECORDING_PATH", ""),
		"Path prefix of the recording database, empty picks a unique name")
	rootCmd.Flags().Bool("wait", false,
		"Keep serving the monitor until interrupted")
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}

	return v
}

// A countingCache stands in for a surface cache and tallies the coherency
// traffic the engine generates.
type countingCache struct {
	flushes     int
	invalidates int
}

func (c *countingCache) FlushRegion(addr, size uint64)      { c.flushes++ }
func (c *countingCache) InvalidateRegion(addr, size uint64) { c.invalidates++ }

type countingNotifier struct {
	writes int
}

func (n *countingNotifier) MemoryWritten() { n.writes++ }

const (
	srcRegion = uint64(0x10_0000)
	dstRegion = uint64(0x20_0000)
	auxRegion = uint64(0x30_0000)
)

func runDemo(cmd *cobra.Command, _ []string) {
	port, _ := cmd.Flags().GetInt("port")
	openBrowser, _ := cmd.Flags().GetBool("open-browser")
	recordingPath, _ := cmd.Flags().GetString("recording")
	wait, _ := cmd.Flags().GetBool("wait")

	recorder := datarecording.NewDataRecorder(recordingPath)
	defer recorder.Close()

	cache := &countingCache{}
	notifier := &countingNotifier{}

	space := vmem.MakeBuilder().
		WithCapacity(0x30_0000).
		WithSurfaceCache(cache).
		Build("GuestSpace")
	space.Map(srcRegion, 0x00_0000, 0x10_0000)
	space.Map(dstRegion, 0x10_0000, 0x10_0000)
	space.Map(auxRegion, 0x20_0000, 0x10_0000)

	engine := copyengine.MakeBuilder().
		WithMemoryManager(space).
		WithSurfaceCache(cache).
		WithDirtyNotifier(notifier).
		WithDataRecorder(recorder).
		Build("CopyEngine")

	monitor := monitoring.NewMonitor().WithPortNumber(port)
	if openBrowser {
		monitor.WithBrowserLaunch()
	}
	monitor.RegisterEngine(engine)
	monitor.StartServer()

	fillSource(space)
	runFlatCopy(engine)
	runStridedCopy(engine)
	runTiledRoundTrip(engine, space)

	fmt.Printf("dirty notifications: %d\n", notifier.writes)
	fmt.Printf("cache flushes: %d, invalidates: %d\n",
		cache.flushes, cache.invalidates)

	if wait {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt)
		<-c
	}
}

func fillSource(space *vmem.Manager) {
	data := make([]byte, 0x10_0000)
	for i := range data {
		data[i] = byte(i)
	}

	if err := space.WriteBytes(srcRegion, data); err != nil {
		log.Fatalf("failed to fill source region: %v", err)
	}
}

func writeAddrs(engine *copyengine.Comp, src, dst uint64) {
	engine.Write(copyengine.RegSrcAddrHigh, uint32(src>>32))
	engine.Write(copyengine.RegSrcAddrLow, uint32(src))
	engine.Write(copyengine.RegDstAddrHigh, uint32(dst>>32))
	engine.Write(copyengine.RegDstAddrLow, uint32(dst))
}

func mustExec(engine *copyengine.Comp, exec uint32, what string) {
	if err := engine.Write(copyengine.RegExec, exec); err != nil {
		log.Fatalf("%s failed: %v", what, err)
	}

	fmt.Printf("%s: ok\n", what)
}

func runFlatCopy(engine *copyengine.Comp) {
	writeAddrs(engine, srcRegion, dstRegion)
	engine.Write(copyengine.RegXCount, 64*1024)

	exec := uint32(copyengine.CopyModeNonPipelined) | 1<<7 | 1<<8
	mustExec(engine, exec, "flat 64KiB copy")
}

func runStridedCopy(engine *copyengine.Comp) {
	writeAddrs(engine, srcRegion, dstRegion)
	engine.Write(copyengine.RegSrcPitch, 1024)
	engine.Write(copyengine.RegDstPitch, 2048)
	engine.Write(copyengine.RegXCount, 768)
	engine.Write(copyengine.RegYCount, 256)

	exec := uint32(copyengine.CopyModeNonPipelined) | 1<<7 | 1<<8 | 1<<9
	mustExec(engine, exec, "strided 768x256 copy")
}

func runTiledRoundTrip(engine *copyengine.Comp, space *vmem.Manager) {
	const width, height = 512, 128

	writeAddrs(engine, srcRegion, dstRegion)
	engine.Write(copyengine.RegSrcPitch, width*4)
	engine.Write(copyengine.RegDstPitch, width*4)
	engine.Write(copyengine.RegXCount, width)
	engine.Write(copyengine.RegYCount, height)
	engine.Write(copyengine.RegDstParams, 4<<4)
	engine.Write(copyengine.RegDstParams+1, width)
	engine.Write(copyengine.RegDstParams+2, height)
	engine.Write(copyengine.RegDstParams+3, 1)

	exec := uint32(copyengine.CopyModeNonPipelined) | 1<<8 | 1<<9
	mustExec(engine, exec, "tile 512x128x32bpp surface")

	writeAddrs(engine, dstRegion, auxRegion)
	engine.Write(copyengine.RegSrcParams, 4<<4)
	engine.Write(copyengine.RegSrcParams+1, width)
	engine.Write(copyengine.RegSrcParams+2, height)
	engine.Write(copyengine.RegSrcParams+3, 1)
	engine.Write(copyengine.RegSrcParams+5, 0)

	exec = uint32(copyengine.CopyModeNonPipelined) | 1<<7 | 1<<9
	mustExec(engine, exec, "linearize the tiled surface")

	original, err := space.ReadBytes(srcRegion, width*4*height)
	if err != nil {
		log.Fatalf("failed to read source region: %v", err)
	}

	roundTrip, err := space.ReadBytes(auxRegion, width*4*height)
	if err != nil {
		log.Fatalf("failed to read linearized surface: %v", err)
	}

	for i := range original {
		if original[i] != roundTrip[i] {
			log.Fatalf("tiled round trip differs at byte %d", i)
		}
	}

	fmt.Println("tiled round trip: surfaces match")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
