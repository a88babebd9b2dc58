package routes_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/PelionIoT/pvrendezvous/comm"
	"github.com/PelionIoT/pvrendezvous/historian"
	"github.com/PelionIoT/pvrendezvous/process"
	. "github.com/PelionIoT/pvrendezvous/routes"
	"github.com/PelionIoT/pvrendezvous/session"
	"github.com/PelionIoT/pvrendezvous/storage"
	"github.com/PelionIoT/pvrendezvous/util"
	"github.com/PelionIoT/pvrendezvous/version"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func get(router *mux.Router, path string) *httptest.ResponseRecorder {
	request, err := http.NewRequest("GET", path, nil)

	Expect(err).Should(BeNil())

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	return recorder
}

var _ = Describe("StatusEndpoint", func() {
	var processModule *process.ProcessModule
	var router *mux.Router
	var endpoint *StatusEndpoint

	BeforeEach(func() {
		var err error

		processModule, err = process.NewProcessModule(process.RoleServer, nil, nil)

		Expect(err).Should(BeNil())

		router = mux.NewRouter()
		endpoint = &StatusEndpoint{Process: processModule}
		endpoint.Attach(router)
	})

	AfterEach(func() {
		processModule.Finalize()
	})

	Describe("GET /role", func() {
		Specify("Should describe the local process", func() {
			recorder := get(router, "/role")

			Expect(recorder.Code).Should(Equal(http.StatusOK))
			Expect(recorder.Header().Get("Content-Type")).Should(Equal("application/json; charset=utf8"))

			var status RoleStatus

			Expect(json.Unmarshal(recorder.Body.Bytes(), &status)).Should(BeNil())
			Expect(status).Should(Equal(RoleStatus{
				Role:    "server",
				Rank:    0,
				Size:    1,
				Version: version.PVRENDEZVOUS_VERSION,
			}))
		})
	})

	Describe("GET /sessions", func() {
		Specify("Should list sessions in creation order", func() {
			first := session.NewBuiltinSession(processModule)
			second := session.NewServerSession(processModule, nil, true)

			var summaries []SessionSummary

			second.Do(func() {
				recorder := get(router, "/sessions")

				Expect(recorder.Code).Should(Equal(http.StatusOK))
				Expect(json.Unmarshal(recorder.Body.Bytes(), &summaries)).Should(BeNil())
			})

			Expect(summaries).Should(HaveLen(2))
			Expect(summaries[0].ID).Should(Equal(uint64(first.ID())))
			Expect(summaries[0].Roles).Should(Equal([]string{"dataserver", "dataserver-root", "renderserver", "renderserver-root", "client"}))
			Expect(summaries[0].Active).Should(BeFalse())
			Expect(summaries[1].ID).Should(Equal(uint64(second.ID())))
			Expect(summaries[1].MultiClient).Should(BeTrue())
			Expect(summaries[1].Active).Should(BeTrue())
			Expect(summaries[1].PeerRank).Should(BeNil())
		})

		Specify("Should return an empty list when there are no sessions", func() {
			recorder := get(router, "/sessions")

			Expect(recorder.Code).Should(Equal(http.StatusOK))
			Expect(strings.TrimSpace(recorder.Body.String())).Should(Equal("[]"))
		})
	})

	Describe("GET /sessions/{sessionID}", func() {
		Specify("Should return the session", func() {
			s := session.NewBuiltinSession(processModule)
			s.ProgressHandler().PrepareProgress()

			recorder := get(router, "/sessions/"+strconv.FormatUint(uint64(s.ID()), 10))

			Expect(recorder.Code).Should(Equal(http.StatusOK))

			var summary SessionSummary

			Expect(json.Unmarshal(recorder.Body.Bytes(), &summary)).Should(BeNil())
			Expect(summary.ID).Should(Equal(uint64(s.ID())))
			Expect(summary.InProgress).Should(BeTrue())
		})

		Specify("Should respond with 404 for an unknown session", func() {
			Expect(get(router, "/sessions/999").Code).Should(Equal(http.StatusNotFound))
		})

		Specify("Should respond with 400 for a malformed session id", func() {
			Expect(get(router, "/sessions/abc").Code).Should(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /events", func() {
		Specify("Should respond with 404 when no journal is configured", func() {
			Expect(get(router, "/events").Code).Should(Equal(http.StatusNotFound))
		})

		Specify("Should return journaled events", func() {
			driver := util.MakeNewStorageDriver()

			Expect(driver.Open()).Should(BeNil())

			defer driver.Close()

			endpoint.Historian = historian.NewHistorian(storage.NewPrefixedStorageDriver([]byte("journal."), driver), 0)

			for i, source := range []string{"a", "b", "a"} {
				Expect(endpoint.Historian.LogEvent(&historian.Event{Timestamp: uint64(i + 1), SourceID: source, Type: historian.EVENT_RENDEZVOUS})).Should(BeNil())
			}

			var events []historian.Event

			recorder := get(router, "/events?source=a&order=desc")

			Expect(recorder.Code).Should(Equal(http.StatusOK))
			Expect(json.Unmarshal(recorder.Body.Bytes(), &events)).Should(BeNil())
			Expect(events).Should(HaveLen(2))
			Expect(events[0].Serial).Should(Equal(uint64(3)))
			Expect(events[1].Serial).Should(Equal(uint64(1)))

			recorder = get(router, "/events?minSerial=2&limit=1")

			Expect(recorder.Code).Should(Equal(http.StatusOK))
			Expect(json.Unmarshal(recorder.Body.Bytes(), &events)).Should(BeNil())
			Expect(events).Should(HaveLen(1))
			Expect(events[0].Serial).Should(Equal(uint64(2)))
		})

		Specify("Should reject malformed parameters", func() {
			driver := util.MakeNewStorageDriver()

			Expect(driver.Open()).Should(BeNil())

			defer driver.Close()

			endpoint.Historian = historian.NewHistorian(driver, 0)

			Expect(get(router, "/events?limit=-1").Code).Should(Equal(http.StatusBadRequest))
			Expect(get(router, "/events?minSerial=x").Code).Should(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /metrics", func() {
		Specify("Should expose prometheus metrics", func() {
			session.NewBuiltinSession(processModule)

			recorder := get(router, "/metrics")

			Expect(recorder.Code).Should(Equal(http.StatusOK))
			Expect(recorder.Body.String()).Should(ContainSubstring("pvrendezvous_"))
		})
	})
})

var _ = Describe("ClientEndpoint", func() {
	var server *httptest.Server
	var accepted chan *comm.Communicator
	local := comm.HandshakeInfo{Version: version.PVRENDEZVOUS_VERSION, ConnectID: 7, RenderBackend: "opengl"}

	BeforeEach(func() {
		accepted = make(chan *comm.Communicator, 1)
		router := mux.NewRouter()
		endpoint := &ClientEndpoint{
			Handshake: local,
			OnClient: func(communicator *comm.Communicator, remote comm.HandshakeInfo) {
				accepted <- communicator
			},
		}

		endpoint.Attach(router)
		server = httptest.NewServer(router)
	})

	AfterEach(func() {
		server.Close()
	})

	Specify("Should hand a compatible client to OnClient", func() {
		client, err := comm.DialWebSocket(nil, "ws"+strings.TrimPrefix(server.URL, "http")+"/client")

		Expect(err).Should(BeNil())

		defer client.Close()

		remote, err := client.Handshake(false, local)

		Expect(err).Should(BeNil())
		Expect(remote).Should(Equal(local))

		communicator := <-accepted

		defer communicator.Close()

		Expect(communicator.Send(5, []byte("welcome"))).Should(BeNil())

		payload, err := client.Receive(5)

		Expect(err).Should(BeNil())
		Expect(payload).Should(Equal([]byte("welcome")))
	})

	Specify("Should reject a client with a different connect id", func() {
		client, err := comm.DialWebSocket(nil, "ws"+strings.TrimPrefix(server.URL, "http")+"/client")

		Expect(err).Should(BeNil())

		defer client.Close()

		mismatched := local
		mismatched.ConnectID = 8

		_, err = client.Handshake(false, mismatched)

		Expect(err).Should(Equal(comm.EConnectIDMismatch))
		Expect(accepted).Should(BeEmpty())
	})
})
