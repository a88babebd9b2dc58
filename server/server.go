package server

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
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"

	"github.com/PelionIoT/pvrendezvous/comm"
	"github.com/PelionIoT/pvrendezvous/config"
	"github.com/PelionIoT/pvrendezvous/historian"
	. "github.com/PelionIoT/pvrendezvous/logging"
	"github.com/PelionIoT/pvrendezvous/process"
	"github.com/PelionIoT/pvrendezvous/routes"
	"github.com/PelionIoT/pvrendezvous/session"
	"github.com/PelionIoT/pvrendezvous/storage"
	. "github.com/PelionIoT/pvrendezvous/version"
)

const maxStatusConnections = 64

// RendezvousServer serves the status API and accepts clients for a server
// process. It owns the process module it is given and finalizes it in Stop.
type RendezvousServer struct {
	serverConfig    *config.YAMLServerConfig
	processModule   *process.ProcessModule
	storageDriver   storage.StorageDriver
	journal         *historian.Historian
	httpServer      *http.Server
	listener        net.Listener
	port            int
	clientLock      sync.Mutex
	clientConnected chan struct{}
	serveErrors     chan error
	stopOnce        sync.Once
	stopErr         error
}

func NewRendezvousServer(serverConfig *config.YAMLServerConfig, processModule *process.ProcessModule) (*RendezvousServer, error) {
	server := &RendezvousServer{
		serverConfig:    serverConfig,
		processModule:   processModule,
		clientConnected: make(chan struct{}, 1),
		serveErrors:     make(chan error, 1),
	}

	if len(serverConfig.Journal) != 0 {
		storageDriver := storage.NewLevelDBStorageDriver(serverConfig.Journal, nil)

		if err := storageDriver.Open(); err != nil {
			Log.Errorf("Unable to open the session journal at %s: %v", serverConfig.Journal, err)

			return nil, err
		}

		server.storageDriver = storageDriver
		server.journal = historian.NewHistorian(storage.NewPrefixedStorageDriver([]byte("journal."), storageDriver), serverConfig.JournalLimit)
		server.journal.RecordSessions(processModule.Sessions())
	}

	return server, nil
}

// Port is the port the status server listens on once Start returned
func (server *RendezvousServer) Port() int {
	return server.port
}

func (server *RendezvousServer) Journal() *historian.Historian {
	return server.journal
}

// ClientConnected receives a value whenever a client was accepted
func (server *RendezvousServer) ClientConnected() <-chan struct{} {
	return server.clientConnected
}

// Errors receives the error that stopped the status server
func (server *RendezvousServer) Errors() <-chan error {
	return server.serveErrors
}

func (server *RendezvousServer) Start() error {
	router := mux.NewRouter()

	(&routes.StatusEndpoint{Process: server.processModule, Historian: server.journal}).Attach(router)

	clientEndpoint := &routes.ClientEndpoint{
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		Handshake: comm.HandshakeInfo{
			Version:       PVRENDEZVOUS_VERSION,
			ConnectID:     server.serverConfig.ConnectID,
			RenderBackend: server.serverConfig.RenderBackend,
		},
		OnClient: server.acceptClient,
	}

	clientEndpoint.Attach(router)

	listener, err := net.Listen("tcp", "0.0.0.0:"+strconv.Itoa(server.serverConfig.StatusPort))

	if err != nil {
		Log.Errorf("Error listening on port %d: %v", server.serverConfig.StatusPort, err)

		return err
	}

	server.listener = listener
	server.port = listener.Addr().(*net.TCPAddr).Port
	server.httpServer = &http.Server{
		Handler:     router,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		server.serveErrors <- server.httpServer.Serve(netutil.LimitListener(listener, maxStatusConnections))
	}()

	Log.Infof("%s process listening on port %d", server.processModule.Role(), server.port)

	return nil
}

// acceptClient turns a client that passed the handshake into a server
// session. Without multiClient only one client session may exist at a time.
func (server *RendezvousServer) acceptClient(client *comm.Communicator, remote comm.HandshakeInfo) {
	server.clientLock.Lock()

	if !server.serverConfig.MultiClient && server.processModule.Sessions().Count() > 0 {
		server.clientLock.Unlock()

		Log.Warningf("Rejecting client at %s because this server does not accept multiple clients", client.RemoteAddress())

		client.Close()

		return
	}

	s := session.NewServerSession(server.processModule, client, server.serverConfig.MultiClient)
	server.clientLock.Unlock()

	s.ProgressHandler().SetMinimumInterval(server.serverConfig.ProgressMinimumInterval())

	if server.journal != nil {
		server.journal.LogEvent(&historian.Event{
			SourceID: fmt.Sprintf("session/%d", s.ID()),
			Type:     historian.EVENT_CLIENT,
			Data:     client.RemoteAddress(),
		})
	}

	select {
	case server.clientConnected <- struct{}{}:
	default:
	}

	go server.watchClient(s, client)
}

// watchClient closes the session of a client that said goodbye or whose
// connection failed so that the server can take the next client
func (server *RendezvousServer) watchClient(s *session.Session, client *comm.Communicator) {
	_, err := client.Receive(comm.GOODBYE_TAG)

	if s.IsClosed() {
		return
	}

	if err != nil {
		Log.Infof("Client of session %d disconnected: %v", s.ID(), err)
	} else {
		Log.Infof("Client of session %d said goodbye", s.ID())
	}

	s.Close()
}

// Stop shuts the status server down and finalizes the process module.
// The journal is closed after every session was closed and journaled.
func (server *RendezvousServer) Stop() error {
	server.stopOnce.Do(func() {
		if server.httpServer != nil {
			server.httpServer.Close()
		}

		server.stopErr = server.processModule.Finalize()

		if server.storageDriver != nil {
			if err := server.storageDriver.Close(); err != nil && server.stopErr == nil {
				server.stopErr = err
			}
		}
	})

	return server.stopErr
}
