package process

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
	"os"
	"sync"

	. "github.com/PelionIoT/pvrendezvous/logging"
)

// SessionID zero is never assigned
type SessionID uint64

const InvalidSessionID SessionID = 0

// Session is anything the registry can track. Identity is by pointer.
type Session interface {
	Close() error
}

// SessionRegistry is the table of live sessions plus the stack of active
// sessions used by calls that have no session threaded through them
type SessionRegistry struct {
	lock             sync.Mutex
	lastID           SessionID
	sessions         map[SessionID]Session
	ids              map[Session]SessionID
	order            []SessionID
	activeStack      []Session
	createdListeners []func(SessionID)
	closedListeners  []func(SessionID)
	abort            func(message string)
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[SessionID]Session),
		ids:      make(map[Session]SessionID),
		order:    make([]SessionID, 0),
		abort:    defaultAbort,
	}
}

func defaultAbort(message string) {
	os.Exit(1)
}

// SetAbortHandler replaces what happens after an active session stack
// violation has been logged. The handler must not return normally for the
// process to stay consistent; tests use a handler that panics.
func (registry *SessionRegistry) SetAbortHandler(abort func(message string)) {
	registry.lock.Lock()
	defer registry.lock.Unlock()

	registry.abort = abort
}

func (registry *SessionRegistry) OnSessionCreated(cb func(SessionID)) {
	registry.lock.Lock()
	defer registry.lock.Unlock()

	registry.createdListeners = append(registry.createdListeners, cb)
}

func (registry *SessionRegistry) OnSessionClosed(cb func(SessionID)) {
	registry.lock.Lock()
	defer registry.lock.Unlock()

	registry.closedListeners = append(registry.closedListeners, cb)
}

// Register assigns the next session id. Ids are never reused.
func (registry *SessionRegistry) Register(session Session) SessionID {
	registry.lock.Lock()

	if id, ok := registry.ids[session]; ok {
		registry.lock.Unlock()

		Log.Warningf("Session %d was registered more than once", id)

		return id
	}

	registry.lastID += 1
	id := registry.lastID
	registry.sessions[id] = session
	registry.ids[session] = id
	registry.order = append(registry.order, id)
	listeners := registry.createdListeners
	registry.lock.Unlock()

	prometheusRecordSessionCreated()
	Log.Debugf("Registered session %d", id)

	for _, cb := range listeners {
		cb(id)
	}

	return id
}

// Unregister returns false if no session has this id
func (registry *SessionRegistry) Unregister(id SessionID) bool {
	registry.lock.Lock()

	session, ok := registry.sessions[id]

	if !ok {
		registry.lock.Unlock()

		return false
	}

	delete(registry.sessions, id)
	delete(registry.ids, session)

	for i, orderedID := range registry.order {
		if orderedID == id {
			registry.order = append(registry.order[:i], registry.order[i+1:]...)

			break
		}
	}

	listeners := registry.closedListeners
	registry.lock.Unlock()

	prometheusRecordSessionClosed()
	Log.Debugf("Unregistered session %d", id)

	for _, cb := range listeners {
		cb(id)
	}

	return true
}

func (registry *SessionRegistry) UnregisterSession(session Session) bool {
	id := registry.LookupID(session)

	if id == InvalidSessionID {
		return false
	}

	return registry.Unregister(id)
}

func (registry *SessionRegistry) Lookup(id SessionID) Session {
	registry.lock.Lock()
	defer registry.lock.Unlock()

	return registry.sessions[id]
}

// LookupID returns InvalidSessionID for sessions that are not registered
func (registry *SessionRegistry) LookupID(session Session) SessionID {
	registry.lock.Lock()
	defer registry.lock.Unlock()

	return registry.ids[session]
}

// Sessions lists the live sessions in registration order
func (registry *SessionRegistry) Sessions() []Session {
	registry.lock.Lock()
	defer registry.lock.Unlock()

	sessions := make([]Session, 0, len(registry.order))

	for _, id := range registry.order {
		sessions = append(sessions, registry.sessions[id])
	}

	return sessions
}

func (registry *SessionRegistry) Count() int {
	registry.lock.Lock()
	defer registry.lock.Unlock()

	return len(registry.sessions)
}

func (registry *SessionRegistry) pushActive(session Session) {
	registry.lock.Lock()
	defer registry.lock.Unlock()

	registry.activeStack = append(registry.activeStack, session)
}

// popActive must be given the session on top of the stack. Anything else
// means the nested activity bookkeeping is corrupt and the process is
// aborted.
func (registry *SessionRegistry) popActive(session Session) {
	registry.lock.Lock()

	if len(registry.activeStack) == 0 || registry.activeStack[len(registry.activeStack)-1] != session {
		depth := len(registry.activeStack)
		abort := registry.abort
		registry.lock.Unlock()

		message := fmt.Sprintf("Active session stack is corrupt: session %d popped but it is not on top of the stack (depth %d)", registry.LookupID(session), depth)

		Log.Criticalf("%s", message)
		abort(message)

		return
	}

	registry.activeStack[len(registry.activeStack)-1] = nil
	registry.activeStack = registry.activeStack[:len(registry.activeStack)-1]
	registry.lock.Unlock()
}

// WithActiveSession runs fn with session on top of the active stack and
// pops it afterwards, even if fn panics. It is the only way to change the
// active stack.
func (registry *SessionRegistry) WithActiveSession(session Session, fn func()) {
	registry.pushActive(session)
	defer registry.popActive(session)

	fn()
}

func (registry *SessionRegistry) GetActive() Session {
	registry.lock.Lock()
	defer registry.lock.Unlock()

	if len(registry.activeStack) == 0 {
		return nil
	}

	return registry.activeStack[len(registry.activeStack)-1]
}

func (registry *SessionRegistry) ActiveDepth() int {
	registry.lock.Lock()
	defer registry.lock.Unlock()

	return len(registry.activeStack)
}

// GetCurrent returns the active session, or the first registered session
// if none is active. Only for call sites that have no session at hand.
func (registry *SessionRegistry) GetCurrent() Session {
	if active := registry.GetActive(); active != nil {
		return active
	}

	registry.lock.Lock()
	defer registry.lock.Unlock()

	if len(registry.order) == 0 {
		return nil
	}

	return registry.sessions[registry.order[0]]
}

// Clear unregisters every session and then closes it
func (registry *SessionRegistry) Clear() {
	for _, session := range registry.Sessions() {
		registry.UnregisterSession(session)

		if err := session.Close(); err != nil {
			Log.Warningf("Error closing session during teardown: %v", err)
		}
	}
}
