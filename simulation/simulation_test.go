package simulation_test

import (
	"net"
	"strconv"
	"time"

	. "github.com/PelionIoT/pvrendezvous/simulation"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Run", func() {
	Specify("Should reject empty groups", func() {
		_, err := Run(Config{M: 0, N: 2, Host: "127.0.0.1"})

		Expect(err).Should(Equal(EInvalidGroupSize))

		_, err = Run(Config{M: 2, N: 0, Host: "127.0.0.1"})

		Expect(err).Should(Equal(EInvalidGroupSize))
	})

	Specify("Should pair the first N data server ranks when M > N", func() {
		result, err := Run(Config{M: 4, N: 2, Host: "127.0.0.1", RenderBackend: "opengl"})

		Expect(err).Should(BeNil())
		Expect(result.Waiting).Should(HaveLen(4))
		Expect(result.Connecting).Should(HaveLen(2))

		for rank, pairing := range result.Waiting {
			Expect(pairing.Rank).Should(Equal(rank))
			Expect(pairing.Side).Should(Equal("waiting"))

			if rank < 2 {
				Expect(pairing.Connected).Should(BeTrue())
				Expect(pairing.PeerRank).Should(Equal(rank))
				Expect(pairing.Port).Should(Not(Equal(0)))
			} else {
				Expect(pairing.Connected).Should(BeFalse())
				Expect(pairing.PeerRank).Should(Equal(-1))
			}
		}

		for rank, pairing := range result.Connecting {
			Expect(pairing.Connected).Should(BeTrue())
			Expect(pairing.PeerRank).Should(Equal(rank))
			Expect(pairing.Host).Should(Equal("127.0.0.1"))
			Expect(pairing.Port).Should(Equal(result.Waiting[rank].Port))
		}
	})

	Specify("Should leave the extra render server ranks unpaired when M < N", func() {
		result, err := Run(Config{M: 2, N: 3, Host: "127.0.0.1"})

		Expect(err).Should(BeNil())
		Expect(result.Waiting).Should(HaveLen(2))
		Expect(result.Connecting).Should(HaveLen(3))

		Expect(result.Waiting[0].PeerRank).Should(Equal(0))
		Expect(result.Waiting[1].PeerRank).Should(Equal(1))
		Expect(result.Connecting[0].PeerRank).Should(Equal(0))
		Expect(result.Connecting[1].PeerRank).Should(Equal(1))
		Expect(result.Connecting[2].Connected).Should(BeFalse())
	})

	Specify("Should pair a single rank on each side", func() {
		result, err := Run(Config{M: 1, N: 1, Host: "127.0.0.1", ConnectID: 3})

		Expect(err).Should(BeNil())
		Expect(result.Waiting[0].Connected).Should(BeTrue())
		Expect(result.Connecting[0].Connected).Should(BeTrue())
	})

	Describe("With a fixed port", func() {
		var port int

		BeforeEach(func() {
			port = consecutiveFreePorts()

			Expect(port).Should(Not(Equal(0)))
		})

		Specify("Should give every waiting rank its own port", func() {
			result, err := Run(Config{M: 2, N: 2, Host: "127.0.0.1", Port: port})

			Expect(err).Should(BeNil())
			Expect(result.Waiting[0].Port).Should(Equal(port))
			Expect(result.Waiting[1].Port).Should(Equal(port + 1))
			Expect(result.Connecting[0].Connected).Should(BeTrue())
			Expect(result.Connecting[1].Connected).Should(BeTrue())
		})

		Specify("Should return an error instead of hanging when a waiting rank cannot listen", func() {
			occupied, err := net.Listen("tcp", ":"+strconv.Itoa(port+1))

			Expect(err).Should(BeNil())

			defer occupied.Close()

			done := make(chan error, 1)

			go func() {
				_, err := Run(Config{M: 2, N: 2, Host: "127.0.0.1", Port: port})
				done <- err
			}()

			var runErr error

			Eventually(done, time.Second*5).Should(Receive(&runErr))
			Expect(runErr).Should(Not(BeNil()))
		})
	})
})

// consecutiveFreePorts finds a port p such that p and p+1 can both be
// bound right now, or returns zero
func consecutiveFreePorts() int {
	for attempt := 0; attempt < 20; attempt++ {
		first, err := net.Listen("tcp", ":0")

		if err != nil {
			return 0
		}

		port := first.Addr().(*net.TCPAddr).Port
		second, err := net.Listen("tcp", ":"+strconv.Itoa(port+1))

		first.Close()

		if err == nil {
			second.Close()

			return port
		}
	}

	return 0
}
