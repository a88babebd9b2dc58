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
	"errors"
	"fmt"
	"sync"
)

var EInvalidRoot = errors.New("The root process is outside of the process group")
var EGroupAborted = errors.New("The process group was aborted")

// Controller is a process's view of the group of processes it runs in.
// Every collective must be entered by every process in the group.
type Controller interface {
	LocalProcessID() int
	NumberOfProcesses() int
	Barrier() error
	AllGather(local []byte) ([][]byte, error)
	Broadcast(data []byte, root int) ([]byte, error)
}

// ProcessGroup runs the collectives for a fixed number of ranks that live
// in the same address space
type ProcessGroup struct {
	size       int
	lock       sync.Mutex
	cond       *sync.Cond
	arrived    int
	generation uint64
	aborted    bool
	slots      [][]byte
	result     [][]byte
}

func NewProcessGroup(size int) *ProcessGroup {
	if size < 1 {
		size = 1
	}

	group := &ProcessGroup{
		size:  size,
		slots: make([][]byte, size),
	}

	group.cond = sync.NewCond(&group.lock)

	return group
}

func (group *ProcessGroup) Size() int {
	return group.size
}

func (group *ProcessGroup) Controller(rank int) Controller {
	if rank < 0 || rank >= group.size {
		panic(fmt.Sprintf("rank %d is outside of a process group of size %d", rank, group.size))
	}

	return &groupController{
		group: group,
		rank:  rank,
	}
}

// Abort wakes every rank blocked in a collective. Those ranks and any rank
// entering a collective afterwards get EGroupAborted.
func (group *ProcessGroup) Abort() {
	group.lock.Lock()
	defer group.lock.Unlock()

	group.aborted = true
	group.cond.Broadcast()
}

func (group *ProcessGroup) gather(rank int, local []byte) ([][]byte, error) {
	group.lock.Lock()
	defer group.lock.Unlock()

	if group.aborted {
		return nil, EGroupAborted
	}

	group.slots[rank] = local
	group.arrived += 1

	if group.arrived == group.size {
		group.result = make([][]byte, group.size)
		copy(group.result, group.slots)

		for i := range group.slots {
			group.slots[i] = nil
		}

		group.arrived = 0
		group.generation += 1
		group.cond.Broadcast()

		return group.result, nil
	}

	generation := group.generation

	for generation == group.generation && !group.aborted {
		group.cond.Wait()
	}

	if generation == group.generation {
		return nil, EGroupAborted
	}

	// Nobody can complete the next round before this rank returns,
	// so result still belongs to this round
	return group.result, nil
}

type groupController struct {
	group *ProcessGroup
	rank  int
}

func (controller *groupController) LocalProcessID() int {
	return controller.rank
}

func (controller *groupController) NumberOfProcesses() int {
	return controller.group.size
}

func (controller *groupController) Barrier() error {
	_, err := controller.group.gather(controller.rank, nil)

	return err
}

func (controller *groupController) AllGather(local []byte) ([][]byte, error) {
	return controller.group.gather(controller.rank, local)
}

func (controller *groupController) Broadcast(data []byte, root int) ([]byte, error) {
	if root < 0 || root >= controller.group.size {
		return nil, EInvalidRoot
	}

	var contribution []byte

	if controller.rank == root {
		contribution = data
	}

	gathered, err := controller.group.gather(controller.rank, contribution)

	if err != nil {
		return nil, err
	}

	return gathered[root], nil
}
