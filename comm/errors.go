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
	"errors"
)

var ECommunicatorClosed = errors.New("The communicator is closed")
var EFrameTooLarge = errors.New("The message frame exceeds the maximum frame size")
var EMalformedFrame = errors.New("The message frame is malformed")
var EMalformedHandshake = errors.New("The handshake message could not be decoded")

type HandshakeError struct {
	Msg       string `json:"message"`
	ErrorCode int    `json:"code"`
}

func (handshakeError HandshakeError) Error() string {
	return handshakeError.Msg
}

func (handshakeError HandshakeError) Code() int {
	return handshakeError.ErrorCode
}

func (handshakeError HandshakeError) JSON() []byte {
	json, _ := json.Marshal(handshakeError)

	return json
}

const (
	eOK                      = iota
	eVERSION_MISMATCH        = iota
	eCONNECT_ID_MISMATCH     = iota
	eRENDER_BACKEND_MISMATCH = iota
	eHANDSHAKE_PROTOCOL      = iota
)

var (
	EVersionMismatch       = HandshakeError{"The two sides were built from different versions. Upgrade one side so that both run the same version", eVERSION_MISMATCH}
	EConnectIDMismatch     = HandshakeError{"The connection id does not match. The peer belongs to a different session or cluster", eCONNECT_ID_MISMATCH}
	ERenderBackendMismatch = HandshakeError{"The two sides use different rendering backends", eRENDER_BACKEND_MISMATCH}
	EHandshakeProtocol     = HandshakeError{"The peer did not follow the handshake protocol", eHANDSHAKE_PROTOCOL}
)

func handshakeErrorFromCode(code int) error {
	switch code {
	case eOK:
		return nil
	case eVERSION_MISMATCH:
		return EVersionMismatch
	case eCONNECT_ID_MISMATCH:
		return EConnectIDMismatch
	case eRENDER_BACKEND_MISMATCH:
		return ERenderBackendMismatch
	default:
		return EHandshakeProtocol
	}
}
