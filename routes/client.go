package routes

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
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/PelionIoT/pvrendezvous/comm"
	. "github.com/PelionIoT/pvrendezvous/logging"
)

// ClientEndpoint accepts client connections over websockets. A client
// that passes the handshake is handed to OnClient, which takes ownership
// of the communicator.
type ClientEndpoint struct {
	Upgrader  websocket.Upgrader
	Handshake comm.HandshakeInfo
	OnClient  func(communicator *comm.Communicator, remote comm.HandshakeInfo)
}

func (clientEndpoint *ClientEndpoint) Attach(router *mux.Router) {
	router.HandleFunc("/client", func(w http.ResponseWriter, r *http.Request) {
		conn, err := clientEndpoint.Upgrader.Upgrade(w, r, nil)

		if err != nil {
			Log.Warningf("GET /client: Unable to upgrade connection from %s: %v", r.RemoteAddr, err)

			return
		}

		communicator := comm.NewWebSocketCommunicator(conn)
		remote, err := communicator.Handshake(true, clientEndpoint.Handshake)

		if err != nil {
			Log.Warningf("GET /client: Rejected client at %s: %v", r.RemoteAddr, err)

			communicator.Close()

			return
		}

		// The hijacked connection keeps the read deadline of the status
		// server and client connections are long lived
		conn.SetReadDeadline(time.Time{})

		Log.Infof("Accepted client at %s", r.RemoteAddr)

		if clientEndpoint.OnClient == nil {
			communicator.Close()

			return
		}

		clientEndpoint.OnClient(communicator, remote)
	}).Methods("GET")
}
