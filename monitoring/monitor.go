// Package monitoring exposes a running emulator over HTTP so that engine
// register state and host resource usage can be inspected from outside the
// process.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"

	"github.com/tegraemu/videocore/engines/copyengine"
)

// An Engine is a register-driven engine that can be inspected through the
// monitor.
type Engine interface {
	Name() string
	Registers() copyengine.Regs
}

// Monitor turns an emulator into a server so that its engines can be
// inspected while it runs.
type Monitor struct {
	engines     []Engine
	portNumber  int
	openBrowser bool
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n",
			portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithBrowserLaunch makes StartServer open the monitor URL in the default
// browser.
func (m *Monitor) WithBrowserLaunch() *Monitor {
	m.openBrowser = true
	return m
}

// RegisterEngine registers an engine to be monitored.
func (m *Monitor) RegisterEngine(e Engine) {
	m.engines = append(m.engines, e)
}

// StartServer starts the monitor as a web server with a custom port if
// wanted.
func (m *Monitor) StartServer() {
	r := mux.NewRouter()
	r.HandleFunc("/api/list_engines", m.listEngines)
	r.HandleFunc("/api/engine/{name}", m.engineState)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)

	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring emulator with %s\n", url)

	if m.openBrowser {
		_ = browser.OpenURL(url)
	}

	go func() {
		err = http.Serve(listener, r)
		dieOnErr(err)
	}()
}

func (m *Monitor) listEngines(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprint(w, "[")
	for i, e := range m.engines {
		if i > 0 {
			fmt.Fprint(w, ",")
		}

		fmt.Fprintf(w, "\"%s\"", e.Name())
	}
	fmt.Fprint(w, "]")
}

type engineStateRsp struct {
	Name string `json:"name"`

	SrcAddress uint64 `json:"src_address"`
	DstAddress uint64 `json:"dst_address"`
	SrcPitch   uint32 `json:"src_pitch"`
	DstPitch   uint32 `json:"dst_pitch"`
	XCount     uint32 `json:"x_count"`
	YCount     uint32 `json:"y_count"`

	CopyMode      uint32 `json:"copy_mode"`
	IsSrcLinear   bool   `json:"is_src_linear"`
	IsDstLinear   bool   `json:"is_dst_linear"`
	Enable2D      bool   `json:"enable_2d"`
	EnableSwizzle bool   `json:"enable_swizzle"`
}

func (m *Monitor) engineState(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	engine := m.findEngineOr404(w, name)
	if engine == nil {
		return
	}

	regs := engine.Registers()
	flags := regs.Exec()

	rsp := engineStateRsp{
		Name:          engine.Name(),
		SrcAddress:    regs.SrcAddress(),
		DstAddress:    regs.DstAddress(),
		SrcPitch:      regs.SrcPitch(),
		DstPitch:      regs.DstPitch(),
		XCount:        regs.XCount(),
		YCount:        regs.YCount(),
		CopyMode:      uint32(flags.CopyMode),
		IsSrcLinear:   flags.IsSrcLinear,
		IsDstLinear:   flags.IsDstLinear,
		Enable2D:      flags.Enable2D,
		EnableSwizzle: flags.EnableSwizzle,
	}

	bytes, err := json.Marshal(rsp)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func (m *Monitor) findEngineOr404(w http.ResponseWriter, name string) Engine {
	var engine Engine
	for _, e := range m.engines {
		if e.Name() == name {
			engine = e
		}
	}

	if engine == nil {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Engine not found"))
		dieOnErr(err)
	}

	return engine
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	rsp := resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	}

	bytes, err := json.Marshal(rsp)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	bytes, err := json.Marshal(prof)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
