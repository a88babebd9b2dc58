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
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const MaxFrameSize = 64 * 1024 * 1024

const frameHeaderSize = 8

const closeWriteTimeout = time.Second

type transport interface {
	writeFrame(tag int, payload []byte) error
	readFrame() (int, []byte, error)
	close() error
	remoteAddress() string
}

// socketTransport frames messages as [int32 tag][uint32 length][payload],
// little endian
type socketTransport struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newSocketTransport(conn net.Conn) *socketTransport {
	return &socketTransport{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

func (t *socketTransport) writeFrame(tag int, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return EFrameTooLarge
	}

	frame := make([]byte, frameHeaderSize+len(payload))

	binary.LittleEndian.PutUint32(frame[0:4], uint32(int32(tag)))
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(payload)))
	copy(frame[frameHeaderSize:], payload)

	_, err := t.conn.Write(frame)

	return err
}

func (t *socketTransport) readFrame() (int, []byte, error) {
	var header [frameHeaderSize]byte

	if _, err := io.ReadFull(t.reader, header[:]); err != nil {
		return 0, nil, err
	}

	tag := int(int32(binary.LittleEndian.Uint32(header[0:4])))
	length := binary.LittleEndian.Uint32(header[4:8])

	if length > MaxFrameSize {
		return 0, nil, EFrameTooLarge
	}

	payload := make([]byte, length)

	if _, err := io.ReadFull(t.reader, payload); err != nil {
		return 0, nil, err
	}

	return tag, payload, nil
}

func (t *socketTransport) close() error {
	return t.conn.Close()
}

func (t *socketTransport) remoteAddress() string {
	return t.conn.RemoteAddr().String()
}

// webSocketTransport sends each frame as one binary message whose first
// four bytes hold the tag
type webSocketTransport struct {
	conn *websocket.Conn
}

func (t *webSocketTransport) writeFrame(tag int, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return EFrameTooLarge
	}

	frame := make([]byte, 4+len(payload))

	binary.LittleEndian.PutUint32(frame[0:4], uint32(int32(tag)))
	copy(frame[4:], payload)

	return t.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (t *webSocketTransport) readFrame() (int, []byte, error) {
	for {
		messageType, message, err := t.conn.ReadMessage()

		if err != nil {
			return 0, nil, err
		}

		if messageType != websocket.BinaryMessage {
			continue
		}

		if len(message) < 4 {
			return 0, nil, EMalformedFrame
		}

		return int(int32(binary.LittleEndian.Uint32(message[0:4]))), message[4:], nil
	}
}

// close may run while another goroutine is inside writeFrame. Only
// WriteControl may be used concurrently with WriteMessage.
func (t *webSocketTransport) close() error {
	t.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeWriteTimeout))

	return t.conn.Close()
}

func (t *webSocketTransport) remoteAddress() string {
	return t.conn.RemoteAddr().String()
}

type frame struct {
	tag     int
	payload []byte
}

// localTransport connects two communicators in the same process
type localTransport struct {
	name     string
	incoming <-chan frame
	outgoing chan<- frame
	done     chan struct{}
	once     *sync.Once
}

func (t *localTransport) writeFrame(tag int, payload []byte) error {
	p := make([]byte, len(payload))
	copy(p, payload)

	select {
	case <-t.done:
		return ECommunicatorClosed
	default:
	}

	select {
	case t.outgoing <- frame{tag: tag, payload: p}:
		return nil
	case <-t.done:
		return ECommunicatorClosed
	}
}

func (t *localTransport) readFrame() (int, []byte, error) {
	select {
	case f := <-t.incoming:
		return f.tag, f.payload, nil
	case <-t.done:
		// drain what was sent before the close
		select {
		case f := <-t.incoming:
			return f.tag, f.payload, nil
		default:
			return 0, nil, ECommunicatorClosed
		}
	}
}

func (t *localTransport) close() error {
	t.once.Do(func() {
		close(t.done)
	})

	return nil
}

func (t *localTransport) remoteAddress() string {
	return t.name
}
