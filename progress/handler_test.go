package progress_test

import (
	"time"

	"github.com/PelionIoT/pvrendezvous/comm"
	"github.com/PelionIoT/pvrendezvous/process"
	. "github.com/PelionIoT/pvrendezvous/progress"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type fakeOwner struct {
	multiClient    bool
	symmetricBatch bool
	client         bool
	serverRoot     bool
	clientComm     *comm.Communicator
	dataServer     *comm.Communicator
	renderServer   *comm.Communicator
	controller     process.Controller
}

func (owner *fakeOwner) IsMultiClient() bool {
	return owner.multiClient
}

func (owner *fakeOwner) SymmetricBatch() bool {
	return owner.symmetricBatch
}

func (owner *fakeOwner) IsClient() bool {
	return owner.client
}

func (owner *fakeOwner) IsServerRoot() bool {
	return owner.serverRoot
}

func (owner *fakeOwner) ClientCommunicator() *comm.Communicator {
	return owner.clientComm
}

func (owner *fakeOwner) DataServerCommunicator() *comm.Communicator {
	return owner.dataServer
}

func (owner *fakeOwner) RenderServerCommunicator() *comm.Communicator {
	return owner.renderServer
}

func (owner *fakeOwner) GroupController() process.Controller {
	return owner.controller
}

type fakeSource struct {
	progress func(float64, string)
	message  func(string)
}

func (source *fakeSource) OnProgress(cb func(float64, string)) {
	source.progress = cb
}

func (source *fakeSource) OnMessage(cb func(string)) {
	source.message = cb
}

type progressOnlySource struct {
	progress func(float64, string)
}

func (source *progressOnlySource) OnProgress(cb func(float64, string)) {
	source.progress = cb
}

type progressEvent struct {
	value float64
	label string
}

func builtinOwner() *fakeOwner {
	return &fakeOwner{client: true, serverRoot: true, controller: process.NewProcessGroup(1).Controller(0)}
}

var _ = Describe("Handler", func() {
	var now time.Time
	var clock func() time.Time

	BeforeEach(func() {
		now = time.Unix(1000, 0)
		clock = func() time.Time { return now }
	})

	Describe("#RegisterProgressSource", func() {
		Specify("Should reject objects that report neither progress nor messages", func() {
			handler := NewHandler(builtinOwner())

			Expect(handler.RegisterProgressSource("not a source", 1)).Should(Equal(EUnsupportedSource))
		})

		Specify("Should reject a second source with the same id", func() {
			handler := NewHandler(builtinOwner())

			Expect(handler.RegisterProgressSource(&fakeSource{}, 1)).Should(BeNil())
			Expect(handler.RegisterProgressSource(&progressOnlySource{}, 1)).Should(Equal(EDuplicateSource))
			Expect(handler.RegisterProgressSource(&progressOnlySource{}, 2)).Should(BeNil())
		})

		Specify("Events from an unregistered source should be ignored", func() {
			handler := NewHandler(builtinOwner())
			source := &fakeSource{}
			received := 0

			handler.OnProgress(func(float64, string) { received++ })
			handler.RegisterProgressSource(source, 1)
			handler.PrepareProgress()

			Expect(handler.UnregisterProgressSource(1)).Should(BeTrue())
			Expect(handler.UnregisterProgressSource(1)).Should(BeFalse())

			source.progress(0.5, "x")

			Expect(received).Should(Equal(0))
		})
	})

	Describe("#PrepareProgress", func() {
		Specify("Should fire started and open the progress window", func() {
			handler := NewHandler(builtinOwner())
			started := 0

			handler.OnStarted(func() { started++ })
			handler.PrepareProgress()

			Expect(started).Should(Equal(1))
			Expect(handler.Enabled()).Should(BeTrue())
			Expect(handler.InProgress()).Should(BeTrue())
		})

		Specify("Should disable progress for multi client sessions", func() {
			owner := builtinOwner()
			owner.multiClient = true
			handler := NewHandler(owner)
			source := &fakeSource{}
			started := 0
			received := 0

			handler.OnStarted(func() { started++ })
			handler.OnProgress(func(float64, string) { received++ })
			handler.RegisterProgressSource(source, 1)
			handler.PrepareProgress()
			source.progress(0.5, "x")

			Expect(handler.Enabled()).Should(BeFalse())
			Expect(started).Should(Equal(0))
			Expect(received).Should(Equal(0))
		})

		Specify("Should disable progress in symmetric batch mode", func() {
			owner := builtinOwner()
			owner.symmetricBatch = true
			handler := NewHandler(owner)

			handler.PrepareProgress()

			Expect(handler.Enabled()).Should(BeFalse())
			Expect(handler.InProgress()).Should(BeFalse())
		})
	})

	Describe("Progress events", func() {
		var handler *Handler
		var source *fakeSource
		var events []progressEvent

		BeforeEach(func() {
			handler = NewHandler(builtinOwner())
			handler.SetClock(clock)
			source = &fakeSource{}
			events = nil

			handler.OnProgress(func(value float64, label string) {
				events = append(events, progressEvent{value, label})
			})

			Expect(handler.RegisterProgressSource(source, 1)).Should(BeNil())
		})

		Specify("Should be ignored outside of a progress window", func() {
			source.progress(0.5, "before")

			Expect(events).Should(BeEmpty())
		})

		Specify("Should be clamped to [0, 1]", func() {
			handler.SetMinimumInterval(0)
			handler.PrepareProgress()

			source.progress(-0.3, "low")
			source.progress(1.7, "high")
			source.progress(0.25, "mid")

			Expect(events).Should(Equal([]progressEvent{{0, "low"}, {1, "high"}, {0.25, "mid"}}))
		})

		Specify("Should expose the current event only while listeners run", func() {
			var seenValue float64
			var seenLabel string

			handler.OnProgress(func(float64, string) {
				seenValue, seenLabel = handler.LastProgress()
			})

			handler.PrepareProgress()
			source.progress(0.75, "reading")

			Expect(seenValue).Should(Equal(0.75))
			Expect(seenLabel).Should(Equal("reading"))

			value, label := handler.LastProgress()

			Expect(value).Should(Equal(0.0))
			Expect(label).Should(Equal(""))
		})

		Specify("Should default the label to the source name", func() {
			handler.PrepareProgress()
			source.progress(0.1, "")

			Expect(events).Should(Equal([]progressEvent{{0.1, "source-1"}}))
		})

		Specify("Should not rate limit messages", func() {
			var messages []string
			var seen []string

			handler.OnMessage(func(text string) {
				messages = append(messages, text)
				seen = append(seen, handler.LastMessage())
			})

			handler.PrepareProgress()
			source.message("one")
			source.message("two")

			Expect(messages).Should(Equal([]string{"one", "two"}))
			Expect(seen).Should(Equal([]string{"one", "two"}))
			Expect(handler.LastMessage()).Should(Equal(""))
		})
	})

	Describe("Relaying to a client", func() {
		var serverSide, clientSide *comm.Communicator
		var server *Handler
		var source *fakeSource

		BeforeEach(func() {
			serverSide, clientSide = comm.NewLocalPair(64)
			server = NewHandler(&fakeOwner{
				serverRoot: true,
				clientComm: serverSide,
				controller: process.NewProcessGroup(1).Controller(0),
			})
			server.SetClock(clock)
			source = &fakeSource{}

			Expect(server.RegisterProgressSource(source, 9)).Should(BeNil())
		})

		AfterEach(func() {
			serverSide.Close()
			clientSide.Close()
		})

		Specify("Should send at most one progress event per interval", func() {
			server.SetMinimumInterval(time.Second)
			server.PrepareProgress()

			start := now

			for i := 0; i <= 11; i++ {
				now = start.Add(time.Duration(i) * 100 * time.Millisecond)
				source.progress(float64(i)/11, "step")
			}

			Expect(server.CleanupPendingProgress()).Should(BeNil())

			var relayed []float64

			clientSide.Handle(PROGRESS_EVENT_TAG, func(payload []byte) {
				value, label, err := DecodeProgress(payload)

				Expect(err).Should(BeNil())
				Expect(label).Should(Equal("step"))

				relayed = append(relayed, value)
			})

			_, err := clientSide.Receive(CLEANUP_TAG)

			Expect(err).Should(BeNil())
			Expect(relayed).Should(Equal([]float64{0, 10.0 / 11}))
		})

		Specify("Client cleanup should relay progress and messages that arrive while it waits", func() {
			client := NewHandler(&fakeOwner{
				client:       true,
				dataServer:   clientSide,
				renderServer: clientSide,
			})

			var events []progressEvent
			var messages []string
			finished := 0

			client.OnProgress(func(value float64, label string) {
				events = append(events, progressEvent{value, label})
			})

			client.OnMessage(func(text string) {
				messages = append(messages, text)
			})

			client.OnFinished(func() { finished++ })

			client.PrepareProgress()
			server.PrepareProgress()

			source.progress(0.5, "halfway")
			source.message("almost done")

			Expect(server.CleanupPendingProgress()).Should(BeNil())
			Expect(client.CleanupPendingProgress()).Should(BeNil())

			Expect(events).Should(Equal([]progressEvent{{0.5, "halfway"}}))
			Expect(messages).Should(Equal([]string{"almost done"}))
			Expect(finished).Should(Equal(1))
			Expect(client.InProgress()).Should(BeFalse())
		})

		Specify("Satellites should not send anything to the client", func() {
			satellite := NewHandler(&fakeOwner{
				controller: process.NewProcessGroup(1).Controller(0),
			})
			satelliteSource := &fakeSource{}

			satellite.RegisterProgressSource(satelliteSource, 1)
			satellite.PrepareProgress()
			satelliteSource.progress(0.5, "x")

			Expect(satellite.CleanupPendingProgress()).Should(BeNil())

			Expect(serverSide.Send(1, []byte("marker"))).Should(BeNil())

			payload, err := clientSide.Receive(1)

			Expect(err).Should(BeNil())
			Expect(payload).Should(Equal([]byte("marker")))
		})
	})

	Describe("#CleanupPendingProgress", func() {
		Specify("Should be a harmless no-op while idle", func() {
			serverSide, clientSide := comm.NewLocalPair(4)

			defer serverSide.Close()
			defer clientSide.Close()

			handler := NewHandler(&fakeOwner{
				serverRoot: true,
				clientComm: serverSide,
				controller: process.NewProcessGroup(1).Controller(0),
			})
			finished := 0

			handler.OnFinished(func() { finished++ })

			Expect(handler.CleanupPendingProgress()).Should(BeNil())
			Expect(finished).Should(Equal(0))

			handler.PrepareProgress()

			Expect(handler.CleanupPendingProgress()).Should(BeNil())
			Expect(handler.CleanupPendingProgress()).Should(BeNil())
			Expect(finished).Should(Equal(1))

			payload, err := clientSide.Receive(CLEANUP_TAG)

			Expect(err).Should(BeNil())
			Expect(payload).Should(Equal([]byte{0}))
		})
	})
})

var _ = Describe("Wire format", func() {
	Specify("EncodeProgress should write a little endian double followed by a terminated label", func() {
		Expect(EncodeProgress(0.5, "abc")).Should(Equal([]byte{0, 0, 0, 0, 0, 0, 0xe0, 0x3f, 'a', 'b', 'c', 0}))
	})

	Specify("DecodeProgress should reverse EncodeProgress", func() {
		value, label, err := DecodeProgress(EncodeProgress(0.125, "label"))

		Expect(err).Should(BeNil())
		Expect(value).Should(Equal(0.125))
		Expect(label).Should(Equal("label"))
	})

	Specify("DecodeProgress should reject payloads that are too short or unterminated", func() {
		_, _, err := DecodeProgress([]byte{1, 2, 3})

		Expect(err).Should(Equal(EMalformedProgress))

		_, _, err = DecodeProgress([]byte{0, 0, 0, 0, 0, 0, 0, 0, 'a'})

		Expect(err).Should(Equal(EMalformedProgress))
	})

	Specify("EncodeMessage should terminate the text", func() {
		Expect(EncodeMessage("hi")).Should(Equal([]byte{'h', 'i', 0}))
		Expect(DecodeMessage([]byte{'h', 'i', 0})).Should(Equal("hi"))
	})
})
