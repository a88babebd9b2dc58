package comm

//
// Copyright (c) 2019 ARM Limited.
//
// SPDX-License-Identifier: MIT
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to
// deal in the Software without restriction, including without limitation the
// rights to use, copy, modify, merge, publish, distribute, sublicense, and/or
// sell copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//

import (
	"encoding/json"

	. "github.com/PelionIoT/pvrendezvous/logging"
)

// HandshakeInfo is what each side must agree on before a connection is used
type HandshakeInfo struct {
	Version       string `json:"version"`
	ConnectID     int    `json:"connectID"`
	RenderBackend string `json:"renderBackend"`
}

type handshakeReply struct {
	OK      bool   `json:"ok"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Compatible reports the first difference between two sides, version
// first, then connect id, then rendering backend
func (info HandshakeInfo) Compatible(other HandshakeInfo) error {
	if info.Version != other.Version {
		return EVersionMismatch
	}

	if info.ConnectID != other.ConnectID {
		return EConnectIDMismatch
	}

	if info.RenderBackend != other.RenderBackend {
		return ERenderBackendMismatch
	}

	return nil
}

// Handshake exchanges HandshakeInfo with the peer. The server validates
// what the client sent and tells it the outcome, so both sides fail with
// the same error.
func (communicator *Communicator) Handshake(isServer bool, local HandshakeInfo) (HandshakeInfo, error) {
	if isServer {
		return communicator.serverHandshake(local)
	}

	return communicator.clientHandshake(local)
}

func (communicator *Communicator) serverHandshake(local HandshakeInfo) (HandshakeInfo, error) {
	var remote HandshakeInfo

	encoded, err := communicator.Receive(HANDSHAKE_TAG)

	if err != nil {
		return remote, err
	}

	if err := json.Unmarshal(encoded, &remote); err != nil {
		Log.Warningf("Received a malformed handshake from %s: %v", communicator.RemoteAddress(), err)

		communicator.sendReply(handshakeReply{OK: false, Code: EHandshakeProtocol.Code(), Message: EHandshakeProtocol.Error()})

		return remote, EMalformedHandshake
	}

	var reply handshakeReply = handshakeReply{OK: true}
	compatibilityError := local.Compatible(remote)

	if compatibilityError != nil {
		handshakeError := compatibilityError.(HandshakeError)

		Log.Errorf("Handshake with %s failed: %v (local %+v, remote %+v)", communicator.RemoteAddress(), handshakeError, local, remote)

		reply = handshakeReply{OK: false, Code: handshakeError.Code(), Message: handshakeError.Error()}
	}

	if err := communicator.sendReply(reply); err != nil {
		return remote, err
	}

	return remote, compatibilityError
}

func (communicator *Communicator) sendReply(reply handshakeReply) error {
	encoded, _ := json.Marshal(reply)

	return communicator.Send(HANDSHAKE_TAG, encoded)
}

func (communicator *Communicator) clientHandshake(local HandshakeInfo) (HandshakeInfo, error) {
	encoded, _ := json.Marshal(local)

	if err := communicator.Send(HANDSHAKE_TAG, encoded); err != nil {
		return HandshakeInfo{}, err
	}

	encodedReply, err := communicator.Receive(HANDSHAKE_TAG)

	if err != nil {
		return HandshakeInfo{}, err
	}

	var reply handshakeReply

	if err := json.Unmarshal(encodedReply, &reply); err != nil {
		return HandshakeInfo{}, EMalformedHandshake
	}

	if !reply.OK {
		err := handshakeErrorFromCode(reply.Code)

		if err == nil {
			err = EHandshakeProtocol
		}

		Log.Errorf("Handshake with %s was rejected: %v", communicator.RemoteAddress(), err)

		return HandshakeInfo{}, err
	}

	// An accepted handshake means the server matches this side
	return local, nil
}
