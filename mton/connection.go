package mton

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
	"strconv"
	"sync"

	"golang.org/x/net/netutil"

	"github.com/PelionIoT/pvrendezvous/comm"
	. "github.com/PelionIoT/pvrendezvous/logging"
	"github.com/PelionIoT/pvrendezvous/process"
	"github.com/PelionIoT/pvrendezvous/version"
)

const UNSET_CONNECTIONS = -1

// ProcessContext is what a connection needs to know about the process it
// runs in. *process.ProcessModule satisfies it.
type ProcessContext interface {
	Role() process.Role
	Controller() process.Controller
	Options() *process.Options
}

// MtoNConnection pairs rank r of the waiting group with rank r of the
// connecting group for every r below the number of connections
type MtoNConnection struct {
	lock                sync.Mutex
	context             ProcessContext
	portNumber          int
	numberOfConnections int
	initialized         bool
	isWaiting           bool
	setupCalled         bool
	waitCalled          bool
	connectCalled       bool
	directory           *PortDirectory
	listener            net.Listener
	communicator        *comm.Communicator
	peerRank            int
}

func NewMtoNConnection(context ProcessContext) *MtoNConnection {
	return &MtoNConnection{
		context:             context,
		numberOfConnections: UNSET_CONNECTIONS,
		directory:           NewPortDirectory(0),
		peerRank:            -1,
	}
}

// SetPortNumber selects the port the waiting side listens on. Zero lets
// the operating system pick one.
func (connection *MtoNConnection) SetPortNumber(port int) {
	connection.lock.Lock()
	defer connection.lock.Unlock()

	connection.portNumber = port
}

// PortNumber is the port actually bound once SetupWaitForConnection ran
func (connection *MtoNConnection) PortNumber() int {
	connection.lock.Lock()
	defer connection.lock.Unlock()

	return connection.portNumber
}

// SetNumberOfConnections also resizes the port directory to n entries,
// keeping the entries that still fit
func (connection *MtoNConnection) SetNumberOfConnections(n int) {
	connection.lock.Lock()
	defer connection.lock.Unlock()

	connection.setNumberOfConnections(n)
}

func (connection *MtoNConnection) setNumberOfConnections(n int) {
	if n < 0 {
		n = UNSET_CONNECTIONS
	}

	connection.numberOfConnections = n
	connection.directory = connection.directory.Resize(n)
}

func (connection *MtoNConnection) NumberOfConnections() int {
	connection.lock.Lock()
	defer connection.lock.Unlock()

	return connection.numberOfConnections
}

func (connection *MtoNConnection) IsWaiting() bool {
	connection.lock.Lock()
	defer connection.lock.Unlock()

	return connection.isWaiting
}

func (connection *MtoNConnection) localRank() int {
	return connection.context.Controller().LocalProcessID()
}

// A rank takes part iff the count is set and rank < count
func (connection *MtoNConnection) participates(rank int) bool {
	return connection.numberOfConnections != UNSET_CONNECTIONS && rank < connection.numberOfConnections
}

func (connection *MtoNConnection) handshakeInfo() comm.HandshakeInfo {
	options := connection.context.Options()
	info := comm.HandshakeInfo{Version: version.PVRENDEZVOUS_VERSION}

	if options != nil {
		info.ConnectID = options.ConnectID
		info.RenderBackend = options.RenderBackend
	}

	return info
}

// Initialize decides which side of the rendezvous this process is on. The
// waiting side claims its port right away.
func (connection *MtoNConnection) Initialize(waitingRole process.Role) error {
	connection.lock.Lock()
	connection.initialized = true
	connection.isWaiting = connection.context.Role() == waitingRole
	isWaiting := connection.isWaiting
	connection.lock.Unlock()

	if isWaiting {
		return connection.SetupWaitForConnection()
	}

	return nil
}

// SetupWaitForConnection opens the listening socket without blocking
func (connection *MtoNConnection) SetupWaitForConnection() error {
	connection.lock.Lock()
	defer connection.lock.Unlock()

	if connection.setupCalled || connection.communicator != nil {
		Log.Errorf("SetupWaitForConnection called more than once on rank %d", connection.localRank())

		return ESetupAlreadyCalled
	}

	controller := connection.context.Controller()
	rank := controller.LocalProcessID()

	if connection.numberOfConnections == UNSET_CONNECTIONS {
		connection.setNumberOfConnections(controller.NumberOfProcesses())
	}

	connection.setupCalled = true

	if !connection.participates(rank) {
		Log.Debugf("Rank %d sits out of the rendezvous (%d connections)", rank, connection.numberOfConnections)

		return nil
	}

	listener, err := net.Listen("tcp", ":"+strconv.Itoa(connection.portNumber))

	if err != nil {
		Log.Errorf("Rank %d could not listen on port %d: %v", rank, connection.portNumber, err)

		prometheusRecordRendezvous("waiting", err)

		return fmt.Errorf("Rank %d could not listen on port %d: %v", rank, connection.portNumber, err)
	}

	connection.portNumber = listener.Addr().(*net.TCPAddr).Port
	connection.listener = netutil.LimitListener(listener, 1)

	Log.Debugf("Rank %d is waiting for a connection on port %d", rank, connection.portNumber)

	return nil
}

// WaitForConnection blocks until the paired connecting rank has dialed in
// and completed the handshake
func (connection *MtoNConnection) WaitForConnection() error {
	connection.lock.Lock()

	rank := connection.localRank()

	if connection.waitCalled || connection.communicator != nil {
		connection.lock.Unlock()

		Log.Errorf("WaitForConnection called more than once on rank %d", rank)

		return EAlreadyConnected
	}

	if connection.setupCalled && !connection.participates(rank) {
		connection.lock.Unlock()

		return nil
	}

	if !connection.setupCalled || connection.listener == nil {
		connection.lock.Unlock()

		Log.Errorf("WaitForConnection called on rank %d before SetupWaitForConnection", rank)

		return ESetupNotCalled
	}

	connection.waitCalled = true
	listener := connection.listener
	port := connection.portNumber
	info := connection.handshakeInfo()
	connection.lock.Unlock()

	conn, err := listener.Accept()

	// the listener is only needed for this one accept
	listener.Close()

	connection.lock.Lock()
	connection.listener = nil
	connection.lock.Unlock()

	if err != nil {
		Log.Errorf("Rank %d failed to accept a connection on port %d: %v", rank, port, err)

		prometheusRecordRendezvous("waiting", err)

		return fmt.Errorf("Rank %d failed to accept a connection on port %d: %v", rank, port, err)
	}

	communicator := comm.NewSocketCommunicator(conn)

	if _, err := communicator.Handshake(true, info); err != nil {
		communicator.Close()

		prometheusRecordRendezvous("waiting", err)

		return err
	}

	peerRank, err := communicator.ReceiveInt32(comm.HELLO_TAG)

	if err != nil {
		communicator.Close()

		Log.Errorf("Rank %d did not receive a hello from %s: %v", rank, conn.RemoteAddr(), err)

		prometheusRecordRendezvous("waiting", err)

		return fmt.Errorf("Rank %d did not receive a hello from %s: %v", rank, conn.RemoteAddr(), err)
	}

	Log.Infof("Rank %d accepted a connection from connecting rank %d at %s", rank, peerRank, conn.RemoteAddr())

	connection.lock.Lock()
	connection.communicator = communicator
	connection.peerRank = int(peerRank)
	connection.lock.Unlock()

	prometheusRecordRendezvous("waiting", nil)

	return nil
}

// Connect dials the waiting rank listed for this rank in the directory
func (connection *MtoNConnection) Connect() error {
	connection.lock.Lock()

	rank := connection.localRank()

	if connection.connectCalled || connection.communicator != nil {
		connection.lock.Unlock()

		Log.Errorf("Connect called more than once on rank %d", rank)

		return EAlreadyConnected
	}

	if rank >= connection.directory.Size() {
		connection.lock.Unlock()

		Log.Debugf("Rank %d sits out of the rendezvous (%d connections)", rank, connection.directory.Size())

		return nil
	}

	entry, ok := connection.directory.Get(rank)

	if !ok {
		connection.lock.Unlock()

		Log.Errorf("Rank %d has no entry in the port directory", rank)

		return ENoDirectoryEntry
	}

	connection.connectCalled = true
	info := connection.handshakeInfo()
	connection.lock.Unlock()

	communicator, err := comm.Dial(entry.Host, entry.Port)

	if err != nil {
		Log.Errorf("Rank %d could not connect to waiting rank %d at %s: %v", rank, rank, entry, err)

		prometheusRecordRendezvous("connecting", err)

		return fmt.Errorf("Could not establish render server connection from rank %d to %s: %v", rank, entry, err)
	}

	if _, err := communicator.Handshake(false, info); err != nil {
		communicator.Close()

		prometheusRecordRendezvous("connecting", err)

		return err
	}

	if err := communicator.SendInt32(comm.HELLO_TAG, int32(rank)); err != nil {
		communicator.Close()

		Log.Errorf("Rank %d could not send hello to %s: %v", rank, entry, err)

		prometheusRecordRendezvous("connecting", err)

		return fmt.Errorf("Rank %d could not send hello to %s: %v", rank, entry, err)
	}

	Log.Infof("Rank %d connected to waiting rank %d at %s", rank, rank, entry)

	connection.lock.Lock()
	connection.communicator = communicator
	connection.peerRank = rank
	connection.lock.Unlock()

	prometheusRecordRendezvous("connecting", nil)

	return nil
}

// ConnectMtoN runs the side of the rendezvous chosen by Initialize
func (connection *MtoNConnection) ConnectMtoN() error {
	connection.lock.Lock()
	initialized := connection.initialized
	isWaiting := connection.isWaiting
	connection.lock.Unlock()

	if !initialized {
		Log.Errorf("ConnectMtoN called before Initialize")

		return ENotInitialized
	}

	if isWaiting {
		return connection.WaitForConnection()
	}

	return connection.Connect()
}

func (connection *MtoNConnection) SetPortInformation(rank int, port int, host string) error {
	connection.lock.Lock()
	defer connection.lock.Unlock()

	if err := connection.directory.Set(rank, port, host); err != nil {
		Log.Errorf("Attempt to set port information for process %d beyond the %d entry port directory", rank, connection.directory.Size())

		return err
	}

	return nil
}

// PortInformation reads back one directory entry
func (connection *MtoNConnection) PortInformation(rank int) (PortEntry, bool) {
	connection.lock.Lock()
	defer connection.lock.Unlock()

	return connection.directory.Get(rank)
}

// GetPortInformation adds this rank's entry to a collective gather
func (connection *MtoNConnection) GetPortInformation(info *PortInformation) {
	connection.lock.Lock()
	defer connection.lock.Unlock()

	rank := connection.localRank()

	if connection.numberOfConnections > info.NumberOfConnections {
		info.NumberOfConnections = connection.numberOfConnections
	}

	if connection.listener == nil && connection.communicator == nil {
		return
	}

	if info.Entries == nil {
		info.Entries = make(map[int]PortEntry)
	}

	info.Entries[rank] = PortEntry{
		Port: connection.portNumber,
		Host: connection.context.Options().HostNameOrDefault(),
	}
}

// GetCommunicator is nil until the rendezvous succeeded for this rank
func (connection *MtoNConnection) GetCommunicator() *comm.Communicator {
	connection.lock.Lock()
	defer connection.lock.Unlock()

	return connection.communicator
}

// PeerRank is the rank on the other side or -1
func (connection *MtoNConnection) PeerRank() int {
	connection.lock.Lock()
	defer connection.lock.Unlock()

	return connection.peerRank
}

func (connection *MtoNConnection) Close() error {
	connection.lock.Lock()
	listener := connection.listener
	communicator := connection.communicator
	connection.listener = nil
	connection.communicator = nil
	connection.lock.Unlock()

	if listener != nil {
		listener.Close()
	}

	if communicator != nil {
		return communicator.Close()
	}

	return nil
}
