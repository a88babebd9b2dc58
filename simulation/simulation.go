package simulation

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
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	. "github.com/PelionIoT/pvrendezvous/logging"
	"github.com/PelionIoT/pvrendezvous/mton"
	"github.com/PelionIoT/pvrendezvous/process"
	"github.com/PelionIoT/pvrendezvous/session"
)

var EInvalidGroupSize = errors.New("Both process groups need at least one rank")
var EAborted = errors.New("The rendezvous was aborted because another rank failed")

// Config describes an in process rendezvous between a data server group
// of M ranks and a render server group of N ranks
type Config struct {
	M             int
	N             int
	Host          string
	Port          int
	ConnectID     int
	RenderBackend string
}

// Pairing is the outcome for one rank on one side
type Pairing struct {
	Side      string
	Rank      int
	Connected bool
	PeerRank  int
	Host      string
	Port      int
}

type Result struct {
	Waiting    []Pairing
	Connecting []Pairing
}

type simulation struct {
	config      Config
	portInfo    chan *mton.PortInformation
	aborted     chan struct{}
	abortOnce   sync.Once
	groups      []*process.ProcessGroup
	lock        sync.Mutex
	connections []*mton.MtoNConnection
	result      Result
}

func min(a, b int) int {
	if a < b {
		return a
	}

	return b
}

// Run performs the full rendezvous with every rank in its own goroutine
// and returns what each rank ended up with. Every process module created
// along the way is finalized before Run returns.
func Run(config Config) (*Result, error) {
	if config.M < 1 || config.N < 1 {
		return nil, EInvalidGroupSize
	}

	sim := &simulation{
		config:   config,
		portInfo: make(chan *mton.PortInformation, 1),
		aborted:  make(chan struct{}),
	}

	waitingGroup := process.NewProcessGroup(config.M)
	connectingGroup := process.NewProcessGroup(config.N)
	sim.groups = []*process.ProcessGroup{waitingGroup, connectingGroup}

	var g errgroup.Group

	for rank := 0; rank < config.M; rank++ {
		rank := rank

		g.Go(func() error {
			return sim.abortOnError(sim.runWaiting(waitingGroup, rank))
		})
	}

	for rank := 0; rank < config.N; rank++ {
		rank := rank

		g.Go(func() error {
			return sim.abortOnError(sim.runConnecting(connectingGroup, rank))
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(sim.result.Waiting, func(i, j int) bool { return sim.result.Waiting[i].Rank < sim.result.Waiting[j].Rank })
	sort.Slice(sim.result.Connecting, func(i, j int) bool { return sim.result.Connecting[i].Rank < sim.result.Connecting[j].Rank })

	return &sim.result, nil
}

// abortOnError closes every listener so ranks blocked in accept give up
// and aborts both process groups so ranks blocked in a collective give up
func (sim *simulation) abortOnError(err error) error {
	if err == nil {
		return nil
	}

	sim.abortOnce.Do(func() {
		Log.Errorf("Aborting rendezvous: %v", err)

		close(sim.aborted)

		sim.lock.Lock()
		connections := sim.connections
		sim.lock.Unlock()

		for _, connection := range connections {
			connection.Close()
		}

		for _, group := range sim.groups {
			group.Abort()
		}
	})

	return err
}

func (sim *simulation) newRank(role process.Role, group *process.ProcessGroup, rank int) (*process.ProcessModule, *session.Session, *mton.MtoNConnection, error) {
	options := &process.Options{
		HostName:      sim.config.Host,
		ConnectID:     sim.config.ConnectID,
		RenderBackend: sim.config.RenderBackend,
	}

	processModule, err := process.NewProcessModule(role, options, process.NewGroupRuntime(group, rank))

	if err != nil {
		return nil, nil, nil, err
	}

	s := session.NewServerSession(processModule, nil, false)
	connection := s.CreateMtoNConnection()

	sim.lock.Lock()
	sim.connections = append(sim.connections, connection)
	sim.lock.Unlock()

	return processModule, s, connection, nil
}

func (sim *simulation) record(pairing Pairing) {
	sim.lock.Lock()
	defer sim.lock.Unlock()

	if pairing.Side == "waiting" {
		sim.result.Waiting = append(sim.result.Waiting, pairing)
	} else {
		sim.result.Connecting = append(sim.result.Connecting, pairing)
	}
}

// waitingPort gives every waiting rank its own port counting up from
// the configured one. Zero leaves the choice to the kernel.
func (sim *simulation) waitingPort(rank int) int {
	if sim.config.Port == 0 {
		return 0
	}

	return sim.config.Port + rank
}

func (sim *simulation) runWaiting(group *process.ProcessGroup, rank int) error {
	processModule, _, connection, err := sim.newRank(process.RoleDataServer, group, rank)

	if err != nil {
		return err
	}

	defer processModule.Finalize()

	connection.SetPortNumber(sim.waitingPort(rank))
	connection.SetNumberOfConnections(min(sim.config.M, sim.config.N))

	if err := connection.Initialize(process.RoleDataServer); err != nil {
		return err
	}

	info, err := mton.GatherPortInformation(processModule.Controller(), connection)

	if err != nil {
		return err
	}

	if rank == 0 {
		sim.portInfo <- info
	}

	pairing := Pairing{Side: "waiting", Rank: rank, PeerRank: -1}

	if entry, ok := info.Entries[rank]; ok {
		pairing.Host = entry.Host
		pairing.Port = entry.Port
	}

	if err := connection.ConnectMtoN(); err != nil {
		return err
	}

	if connection.GetCommunicator() != nil {
		pairing.Connected = true
		pairing.PeerRank = connection.PeerRank()
	}

	sim.record(pairing)

	return nil
}

func (sim *simulation) runConnecting(group *process.ProcessGroup, rank int) error {
	processModule, _, connection, err := sim.newRank(process.RoleRenderServer, group, rank)

	if err != nil {
		return err
	}

	defer processModule.Finalize()

	if err := connection.Initialize(process.RoleDataServer); err != nil {
		return err
	}

	var encoded []byte

	if rank == 0 {
		select {
		case info := <-sim.portInfo:
			encoded, err = info.Marshal()

			if err != nil {
				return err
			}
		case <-sim.aborted:
		}
	}

	// Ranks other than the root always enter the broadcast so the group
	// never deadlocks
	encoded, err = processModule.Controller().Broadcast(encoded, 0)

	if err != nil {
		return err
	}

	if encoded == nil {
		return EAborted
	}

	info := mton.NewPortInformation()

	if err := info.Unmarshal(encoded); err != nil {
		return err
	}

	if err := mton.ApplyPortInformation(connection, info); err != nil {
		return err
	}

	pairing := Pairing{Side: "connecting", Rank: rank, PeerRank: -1}

	if entry, ok := connection.PortInformation(rank); ok {
		pairing.Host = entry.Host
		pairing.Port = entry.Port
	}

	if err := connection.ConnectMtoN(); err != nil {
		return fmt.Errorf("Connecting rank %d: %v", rank, err)
	}

	if connection.GetCommunicator() != nil {
		pairing.Connected = true
		pairing.PeerRank = connection.PeerRank()
	}

	sim.record(pairing)

	return nil
}
