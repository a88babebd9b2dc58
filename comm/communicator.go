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
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	. "github.com/PelionIoT/pvrendezvous/logging"
)

const (
	HANDSHAKE_TAG = 1237
	HELLO_TAG     = 1238

	// GOODBYE_TAG lets a client announce that it is leaving before it
	// closes its connection
	GOODBYE_TAG = 1239
)

// TagHandler consumes a message that arrived while Receive was waiting
// for a different tag
type TagHandler func(payload []byte)

// Communicator sends and receives tagged messages over one connection.
// Send may be called from any goroutine. Receive has a single consumer.
type Communicator struct {
	transport   transport
	writeLock   sync.Mutex
	readLock    sync.Mutex
	handlerLock sync.Mutex
	handlers    map[int]TagHandler
	pending     map[int][][]byte
	closed      bool
}

func newCommunicator(t transport) *Communicator {
	return &Communicator{
		transport: t,
		handlers:  make(map[int]TagHandler),
		pending:   make(map[int][][]byte),
	}
}

// NewSocketCommunicator takes ownership of conn
func NewSocketCommunicator(conn net.Conn) *Communicator {
	return newCommunicator(newSocketTransport(conn))
}

// NewWebSocketCommunicator takes ownership of conn
func NewWebSocketCommunicator(conn *websocket.Conn) *Communicator {
	return newCommunicator(&webSocketTransport{conn: conn})
}

// NewLocalPair returns two communicators connected to each other in memory.
// Each direction buffers up to buffer messages before Send blocks.
func NewLocalPair(buffer int) (*Communicator, *Communicator) {
	aToB := make(chan frame, buffer)
	bToA := make(chan frame, buffer)
	done := make(chan struct{})
	once := &sync.Once{}

	a := &localTransport{name: "local:a", incoming: bToA, outgoing: aToB, done: done, once: once}
	b := &localTransport{name: "local:b", incoming: aToB, outgoing: bToA, done: done, once: once}

	return newCommunicator(a), newCommunicator(b)
}

func Dial(host string, port int) (*Communicator, error) {
	conn, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))

	if err != nil {
		return nil, err
	}

	return NewSocketCommunicator(conn), nil
}

func DialWebSocket(dialer *websocket.Dialer, url string) (*Communicator, error) {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, _, err := dialer.Dial(url, nil)

	if err != nil {
		return nil, err
	}

	return NewWebSocketCommunicator(conn), nil
}

func (communicator *Communicator) RemoteAddress() string {
	return communicator.transport.remoteAddress()
}

func (communicator *Communicator) Send(tag int, payload []byte) error {
	communicator.writeLock.Lock()
	defer communicator.writeLock.Unlock()

	if communicator.isClosed() {
		return ECommunicatorClosed
	}

	return communicator.transport.writeFrame(tag, payload)
}

// Handle installs a handler for messages with this tag that arrive while
// Receive waits for another tag. A nil handler removes it.
func (communicator *Communicator) Handle(tag int, handler TagHandler) {
	communicator.handlerLock.Lock()
	defer communicator.handlerLock.Unlock()

	if handler == nil {
		delete(communicator.handlers, tag)

		return
	}

	communicator.handlers[tag] = handler
}

func (communicator *Communicator) handler(tag int) TagHandler {
	communicator.handlerLock.Lock()
	defer communicator.handlerLock.Unlock()

	return communicator.handlers[tag]
}

// Receive blocks until a message with this tag arrives. Messages with other
// tags go to their handler if one is installed and are queued otherwise.
func (communicator *Communicator) Receive(tag int) ([]byte, error) {
	communicator.readLock.Lock()
	defer communicator.readLock.Unlock()

	if queue := communicator.pending[tag]; len(queue) > 0 {
		communicator.pending[tag] = queue[1:]

		return queue[0], nil
	}

	for {
		t, payload, err := communicator.transport.readFrame()

		if err != nil {
			if communicator.isClosed() {
				return nil, ECommunicatorClosed
			}

			return nil, err
		}

		if t == tag {
			return payload, nil
		}

		if handler := communicator.handler(t); handler != nil {
			handler(payload)

			continue
		}

		Log.Debugf("Queueing message with tag %d from %s while waiting for tag %d", t, communicator.RemoteAddress(), tag)

		communicator.pending[t] = append(communicator.pending[t], payload)
	}
}

func (communicator *Communicator) SendInt32(tag int, value int32) error {
	var encoded [4]byte

	binary.LittleEndian.PutUint32(encoded[:], uint32(value))

	return communicator.Send(tag, encoded[:])
}

func (communicator *Communicator) ReceiveInt32(tag int) (int32, error) {
	payload, err := communicator.Receive(tag)

	if err != nil {
		return 0, err
	}

	if len(payload) != 4 {
		return 0, fmt.Errorf("Expected a 4 byte integer with tag %d but received %d bytes", tag, len(payload))
	}

	return int32(binary.LittleEndian.Uint32(payload)), nil
}

func (communicator *Communicator) isClosed() bool {
	communicator.handlerLock.Lock()
	defer communicator.handlerLock.Unlock()

	return communicator.closed
}

func (communicator *Communicator) Close() error {
	communicator.handlerLock.Lock()

	if communicator.closed {
		communicator.handlerLock.Unlock()

		return nil
	}

	communicator.closed = true
	communicator.handlerLock.Unlock()

	return communicator.transport.close()
}
