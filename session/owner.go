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
	"github.com/PelionIoT/pvrendezvous/comm"
	"github.com/PelionIoT/pvrendezvous/process"
)

// These methods let the session's progress handler route events

func (session *Session) IsMultiClient() bool {
	return session.multiClient
}

func (session *Session) SymmetricBatch() bool {
	return session.process.SymmetricBatch()
}

func (session *Session) IsClient() bool {
	return session.roles.Has(Client)
}

func (session *Session) IsServerRoot() bool {
	return session.roles.Has(DataServerRoot) || session.roles.Has(RenderServerRoot)
}

func (session *Session) ClientCommunicator() *comm.Communicator {
	return session.Controller(Client)
}

func (session *Session) DataServerCommunicator() *comm.Communicator {
	return session.Controller(DataServer)
}

func (session *Session) RenderServerCommunicator() *comm.Communicator {
	return session.Controller(RenderServer)
}

func (session *Session) GroupController() process.Controller {
	return session.process.Controller()
}
