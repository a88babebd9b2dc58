package comm_test

import (
	. "github.com/PelionIoT/pvrendezvous/comm"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type handshakeResult struct {
	info HandshakeInfo
	err  error
}

func handshake(server HandshakeInfo, client HandshakeInfo) (handshakeResult, handshakeResult) {
	a, b := NewLocalPair(4)

	defer a.Close()
	defer b.Close()

	serverResult := make(chan handshakeResult, 1)

	go func() {
		info, err := a.Handshake(true, server)
		serverResult <- handshakeResult{info, err}
	}()

	info, err := b.Handshake(false, client)

	return <-serverResult, handshakeResult{info, err}
}

var _ = Describe("Handshake", func() {
	local := HandshakeInfo{Version: "1.4.0", ConnectID: 7, RenderBackend: "opengl"}

	Specify("Should succeed on both sides when everything matches", func() {
		serverResult, clientResult := handshake(local, local)

		Expect(serverResult.err).Should(BeNil())
		Expect(clientResult.err).Should(BeNil())
		Expect(serverResult.info).Should(Equal(local))
	})

	Specify("Should fail on both sides with a version mismatch", func() {
		remote := local
		remote.Version = "1.3.0"

		serverResult, clientResult := handshake(local, remote)

		Expect(serverResult.err).Should(Equal(EVersionMismatch))
		Expect(clientResult.err).Should(Equal(EVersionMismatch))
	})

	Specify("Should fail on both sides with a connect id mismatch", func() {
		remote := local
		remote.ConnectID = 8

		serverResult, clientResult := handshake(local, remote)

		Expect(serverResult.err).Should(Equal(EConnectIDMismatch))
		Expect(clientResult.err).Should(Equal(EConnectIDMismatch))
	})

	Specify("Should fail on both sides with a render backend mismatch", func() {
		remote := local
		remote.RenderBackend = "vulkan"

		serverResult, clientResult := handshake(local, remote)

		Expect(serverResult.err).Should(Equal(ERenderBackendMismatch))
		Expect(clientResult.err).Should(Equal(ERenderBackendMismatch))
	})

	Specify("Handshake errors should carry distinct codes", func() {
		Expect(EVersionMismatch.Code()).Should(Not(Equal(EConnectIDMismatch.Code())))
		Expect(EConnectIDMismatch.Code()).Should(Not(Equal(ERenderBackendMismatch.Code())))
		Expect(string(EVersionMismatch.JSON())).Should(ContainSubstring("\"code\""))
	})
})
