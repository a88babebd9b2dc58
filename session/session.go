package session

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
	"sync"

	"github.com/PelionIoT/pvrendezvous/comm"
	. "github.com/PelionIoT/pvrendezvous/logging"
	"github.com/PelionIoT/pvrendezvous/mton"
	"github.com/PelionIoT/pvrendezvous/process"
	"github.com/PelionIoT/pvrendezvous/progress"
)

// Session is one conversation between a client and its server groups as
// seen from the local process. Sessions register themselves on creation.
type Session struct {
	lock        sync.Mutex
	id          process.SessionID
	process     *process.ProcessModule
	roles       Roles
	controllers map[Roles]*comm.Communicator
	progress    *progress.Handler
	multiClient bool
	connection  *mton.MtoNConnection
	closed      bool
}

func newSession(processModule *process.ProcessModule, roles Roles, multiClient bool) *Session {
	session := &Session{
		process:     processModule,
		roles:       roles,
		controllers: make(map[Roles]*comm.Communicator),
		multiClient: multiClient,
	}

	session.progress = progress.NewHandler(session)

	return session
}

func (session *Session) register() *Session {
	session.id = session.process.Sessions().Register(session)

	Log.Infof("Created session %d with roles %s", session.id, session.roles)

	return session
}

// NewBuiltinSession plays the client and both server roots inside a single
// process. Progress is delivered to local listeners only.
func NewBuiltinSession(processModule *process.ProcessModule) *Session {
	roles := Client | DataServer | DataServerRoot | RenderServer | RenderServerRoot

	return newSession(processModule, roles, false).register()
}

// NewClientSession is the client side of a client-server topology when
// renderServer is nil and of a split data/render topology otherwise.
func NewClientSession(processModule *process.ProcessModule, dataServer *comm.Communicator, renderServer *comm.Communicator, multiClient bool) *Session {
	session := newSession(processModule, Client, multiClient)
	session.controllers[DataServer] = dataServer

	if renderServer != nil {
		session.controllers[RenderServer] = renderServer
	} else {
		session.controllers[RenderServer] = dataServer
	}

	return session.register()
}

// NewCollaborativeSession is a client attached to a server shared with
// other clients
func NewCollaborativeSession(processModule *process.ProcessModule, dataServer *comm.Communicator) *Session {
	return NewClientSession(processModule, dataServer, nil, true)
}

// NewServerSession derives its roles from the process role. Rank 0 is the
// root of its group and is the only rank expected to hold a client
// communicator.
func NewServerSession(processModule *process.ProcessModule, client *comm.Communicator, multiClient bool) *Session {
	role := processModule.Role()
	root := processModule.LocalProcessID() == 0
	roles := NoRoles

	if role.ServesData() {
		roles |= DataServer

		if root {
			roles |= DataServerRoot
		}
	}

	if role.ServesRendering() {
		roles |= RenderServer

		if root {
			roles |= RenderServerRoot
		}
	}

	if !role.IsServer() {
		Log.Warningf("Creating a server session in a process with role %s", role)
	}

	session := newSession(processModule, roles, multiClient)

	if client != nil {
		if !root {
			Log.Warningf("Satellite rank %d was given a client communicator", processModule.LocalProcessID())
		}

		session.controllers[Client] = client
	}

	return session.register()
}

func (session *Session) ID() process.SessionID {
	return session.id
}

func (session *Session) Roles() Roles {
	return session.roles
}

func (session *Session) HasRole(role Roles) bool {
	return session.roles.Has(role)
}

func (session *Session) ProcessModule() *process.ProcessModule {
	return session.process
}

func (session *Session) ProgressHandler() *progress.Handler {
	return session.progress
}

// Controller returns the communicator for Client, DataServer or
// RenderServer
func (session *Session) Controller(role Roles) *comm.Communicator {
	session.lock.Lock()
	defer session.lock.Unlock()

	return session.controllers[role]
}

func (session *Session) SetController(role Roles, communicator *comm.Communicator) {
	session.lock.Lock()
	defer session.lock.Unlock()

	if communicator == nil {
		delete(session.controllers, role)

		return
	}

	session.controllers[role] = communicator
}

func (session *Session) MtoNConnection() *mton.MtoNConnection {
	session.lock.Lock()
	defer session.lock.Unlock()

	return session.connection
}

func (session *Session) SetMtoNConnection(connection *mton.MtoNConnection) {
	session.lock.Lock()
	defer session.lock.Unlock()

	session.connection = connection
}

// CreateMtoNConnection replaces any connection the session holds with a
// fresh one bound to this session's process
func (session *Session) CreateMtoNConnection() *mton.MtoNConnection {
	connection := mton.NewMtoNConnection(session.process)
	previous := session.MtoNConnection()

	if previous != nil {
		previous.Close()
	}

	session.SetMtoNConnection(connection)

	return connection
}

// Do runs fn with the session active
func (session *Session) Do(fn func()) {
	session.process.Sessions().WithActiveSession(session, fn)
}

func (session *Session) IsClosed() bool {
	session.lock.Lock()
	defer session.lock.Unlock()

	return session.closed
}

// Close releases communicators and the MtoN connection and unregisters
// the session. It is safe to call more than once.
func (session *Session) Close() error {
	session.lock.Lock()

	if session.closed {
		session.lock.Unlock()

		return nil
	}

	session.closed = true
	controllers := session.controllers
	session.controllers = make(map[Roles]*comm.Communicator)
	connection := session.connection
	session.connection = nil
	session.lock.Unlock()

	var firstErr error
	closed := make(map[*comm.Communicator]bool)

	for _, communicator := range controllers {
		if closed[communicator] {
			continue
		}

		closed[communicator] = true

		if err := communicator.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if connection != nil {
		if err := connection.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	session.process.Sessions().Unregister(session.id)

	Log.Infof("Closed session %d", session.id)

	return firstErr
}
