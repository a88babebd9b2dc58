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

var currentLock sync.Mutex
var current *ProcessModule

// ProcessModule records this process's role and owns the process wide
// state: the group controller and the session registry
type ProcessModule struct {
	lock              sync.Mutex
	role              Role
	options           *Options
	runtime           Runtime
	ownsRuntime       bool
	controller        Controller
	sessions          *SessionRegistry
	finalized         bool
	finalizeListeners []func()
}

// NewProcessModule builds a process module without installing it as the
// process wide instance. If runtime is nil the process runs alone.
func NewProcessModule(role Role, options *Options, runtime Runtime) (*ProcessModule, error) {
	if role == RoleInvalid {
		return nil, EInvalidRole
	}

	if options == nil {
		options = &Options{}
	}

	options.ProcessRole = role

	processModule := &ProcessModule{
		role:     role,
		options:  options,
		runtime:  runtime,
		sessions: NewSessionRegistry(),
	}

	if runtime == nil {
		processModule.controller = NewProcessGroup(1).Controller(0)

		return processModule, nil
	}

	if !runtime.IsInitialized() {
		workingDirectory, wdErr := os.Getwd()

		if err := runtime.Initialize(); err != nil {
			Log.Errorf("Unable to initialize the distributed runtime: %v", err)

			return nil, ERuntimeInitialization
		}

		// Some runtimes change the working directory while starting up
		if wdErr == nil {
			if wd, err := os.Getwd(); err == nil && wd != workingDirectory {
				Log.Debugf("Restoring working directory to %s", workingDirectory)

				os.Chdir(workingDirectory)
			}
		}

		processModule.ownsRuntime = true
	}

	processModule.controller = runtime.Controller()

	if processModule.controller == nil {
		return nil, ERuntimeInitialization
	}

	return processModule, nil
}

// Initialize builds the process module and installs it as the process
// wide instance returned by Current. It may only be called once until
// Finalize is called.
func Initialize(role Role, options *Options, runtime Runtime) (*ProcessModule, error) {
	currentLock.Lock()
	defer currentLock.Unlock()

	if current != nil {
		Log.Errorf("Initialize called more than once for role %s", role)

		return nil, EAlreadyInitialized
	}

	processModule, err := NewProcessModule(role, options, runtime)

	if err != nil {
		return nil, err
	}

	current = processModule

	Log.Infof("Process initialized as %s (rank %d of %d)", role, processModule.controller.LocalProcessID(), processModule.controller.NumberOfProcesses())

	return processModule, nil
}

// Current returns the process wide instance or nil before Initialize and
// after Finalize
func Current() *ProcessModule {
	currentLock.Lock()
	defer currentLock.Unlock()

	return current
}

func (processModule *ProcessModule) Role() Role {
	processModule.lock.Lock()
	defer processModule.lock.Unlock()

	return processModule.role
}

// UpdateRole changes the role after initialization, for example when a
// server demotes itself to batch mode after its client goes away
func (processModule *ProcessModule) UpdateRole(role Role) {
	processModule.lock.Lock()
	defer processModule.lock.Unlock()

	Log.Warningf("Process role changed from %s to %s after initialization. Make sure you know what you are doing", processModule.role, role)

	processModule.role = role
	processModule.options.ProcessRole = role
}

func (processModule *ProcessModule) Options() *Options {
	return processModule.options
}

func (processModule *ProcessModule) Controller() Controller {
	processModule.lock.Lock()
	defer processModule.lock.Unlock()

	return processModule.controller
}

func (processModule *ProcessModule) Sessions() *SessionRegistry {
	return processModule.sessions
}

func (processModule *ProcessModule) LocalProcessID() int {
	controller := processModule.Controller()

	if controller == nil {
		return 0
	}

	return controller.LocalProcessID()
}

func (processModule *ProcessModule) NumberOfProcesses() int {
	controller := processModule.Controller()

	if controller == nil {
		return 1
	}

	return controller.NumberOfProcesses()
}

// SymmetricBatch is true when every rank runs the same batch script
func (processModule *ProcessModule) SymmetricBatch() bool {
	return processModule.Role() == RoleBatch && processModule.options.SymmetricMPI
}

func (processModule *ProcessModule) OnFinalize(cb func()) {
	processModule.lock.Lock()
	defer processModule.lock.Unlock()

	processModule.finalizeListeners = append(processModule.finalizeListeners, cb)
}

// Finalize closes every registered session, notifies teardown listeners,
// releases the controller and shuts down the runtime if this module
// started it. Calling it again does nothing.
func (processModule *ProcessModule) Finalize() error {
	processModule.lock.Lock()

	if processModule.finalized {
		processModule.lock.Unlock()

		return nil
	}

	processModule.finalized = true
	listeners := processModule.finalizeListeners
	processModule.finalizeListeners = nil
	processModule.lock.Unlock()

	processModule.sessions.Clear()

	for _, cb := range listeners {
		cb()
	}

	processModule.lock.Lock()
	processModule.controller = nil
	processModule.lock.Unlock()

	var err error

	if processModule.ownsRuntime {
		if err = processModule.runtime.Finalize(); err != nil {
			Log.Errorf("Unable to finalize the distributed runtime: %v", err)

			err = fmt.Errorf("Unable to finalize the distributed runtime: %v", err)
		}
	}

	currentLock.Lock()

	if current == processModule {
		current = nil
	}

	currentLock.Unlock()

	return err
}
