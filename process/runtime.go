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
	"sync"
)

// Runtime is the distributed messaging layer a process group runs on
type Runtime interface {
	Initialize() error
	IsInitialized() bool
	Finalize() error
	Controller() Controller
}

type GroupRuntime struct {
	group       *ProcessGroup
	rank        int
	lock        sync.Mutex
	initialized bool
	controller  Controller
}

func NewGroupRuntime(group *ProcessGroup, rank int) *GroupRuntime {
	return &GroupRuntime{
		group: group,
		rank:  rank,
	}
}

func (runtime *GroupRuntime) Initialize() error {
	runtime.lock.Lock()
	defer runtime.lock.Unlock()

	if runtime.initialized {
		return nil
	}

	runtime.controller = runtime.group.Controller(runtime.rank)
	runtime.initialized = true

	return nil
}

func (runtime *GroupRuntime) IsInitialized() bool {
	runtime.lock.Lock()
	defer runtime.lock.Unlock()

	return runtime.initialized
}

func (runtime *GroupRuntime) Finalize() error {
	runtime.lock.Lock()
	defer runtime.lock.Unlock()

	runtime.initialized = false
	runtime.controller = nil

	return nil
}

func (runtime *GroupRuntime) Controller() Controller {
	runtime.lock.Lock()
	defer runtime.lock.Unlock()

	return runtime.controller
}
