package monitoring

import (
	"encoding/json"
	"net/http/httptest"

	"github.com/gorilla/mux"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tegraemu/videocore/engines/copyengine"
)

type fakeEngine struct {
	name string
	regs copyengine.Regs
}

func (e *fakeEngine) Name() string               { return e.name }
func (e *fakeEngine) Registers() copyengine.Regs { return e.regs }

var _ = Describe("Monitor", func() {
	var (
		monitor *Monitor
		engine  *fakeEngine
	)

	BeforeEach(func() {
		engine = &fakeEngine{name: "CopyEngine"}
		engine.regs[copyengine.RegSrcAddrHigh] = 0x12
		engine.regs[copyengine.RegSrcAddrLow] = 0x3456_7000
		engine.regs[copyengine.RegXCount] = 256
		engine.regs[copyengine.RegExec] =
			uint32(copyengine.CopyModeNonPipelined) | 1<<7 | 1<<8

		monitor = NewMonitor()
		monitor.RegisterEngine(engine)
	})

	It("should list registered engines", func() {
		w := httptest.NewRecorder()
		r := httptest.NewRequest("GET", "/api/list_engines", nil)

		monitor.listEngines(w, r)

		Expect(w.Body.String()).To(Equal(`["CopyEngine"]`))
	})

	It("should report the decoded register state", func() {
		router := mux.NewRouter()
		router.HandleFunc("/api/engine/{name}", monitor.engineState)

		w := httptest.NewRecorder()
		r := httptest.NewRequest("GET", "/api/engine/CopyEngine", nil)
		router.ServeHTTP(w, r)

		rsp := engineStateRsp{}
		Expect(json.Unmarshal(w.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.SrcAddress).To(Equal(uint64(0x12_3456_7000)))
		Expect(rsp.XCount).To(Equal(uint32(256)))
		Expect(rsp.IsSrcLinear).To(BeTrue())
		Expect(rsp.EnableSwizzle).To(BeFalse())
	})

	It("should answer 404 for an unknown engine", func() {
		router := mux.NewRouter()
		router.HandleFunc("/api/engine/{name}", monitor.engineState)

		w := httptest.NewRecorder()
		r := httptest.NewRequest("GET", "/api/engine/NoSuchEngine", nil)
		router.ServeHTTP(w, r)

		Expect(w.Code).To(Equal(404))
	})
})
