package config

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
	"io/ioutil"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/PelionIoT/pvrendezvous/logging"
	"github.com/PelionIoT/pvrendezvous/mton"
	"github.com/PelionIoT/pvrendezvous/process"
)

const DefaultProgressInterval = 500

type YAMLServerConfig struct {
	Role                string `yaml:"role"`
	Host                string `yaml:"host"`
	MtoNPort            int    `yaml:"mtonPort"`
	NumberOfConnections *int   `yaml:"numberOfConnections"`
	StatusPort          int    `yaml:"statusPort"`
	ConnectID           int    `yaml:"connectID"`
	RenderBackend       string `yaml:"renderBackend"`
	TimeoutMinutes      int    `yaml:"timeoutMinutes"`
	ProgressInterval    *int   `yaml:"progressInterval"`
	MultiClient         bool   `yaml:"multiClient"`
	SymmetricMPI        bool   `yaml:"symmetricMPI"`
	Journal             string `yaml:"journal"`
	JournalLimit        uint64 `yaml:"journalLimit"`
	LogLevel            string `yaml:"logLevel"`

	processRole process.Role
}

func isValidPort(p int) bool {
	return p >= 0 && p < (1<<16)
}

func resolveFilePath(configFileLocation, file string) string {
	if filepath.IsAbs(file) {
		return file
	}

	return filepath.Join(filepath.Dir(configFileLocation), file)
}

func (ysc *YAMLServerConfig) LoadFromFile(file string) error {
	rawConfig, err := ioutil.ReadFile(file)

	if err != nil {
		return err
	}

	if err := ysc.LoadFromBytes(rawConfig); err != nil {
		return err
	}

	if len(ysc.Journal) != 0 {
		ysc.Journal = resolveFilePath(file, ysc.Journal)
	}

	return nil
}

// LoadFromBytes parses and validates a configuration. Omitted optional
// fields get their defaults.
func (ysc *YAMLServerConfig) LoadFromBytes(rawConfig []byte) error {
	if err := yaml.Unmarshal(rawConfig, ysc); err != nil {
		return err
	}

	role, err := process.ParseRole(ysc.Role)

	if err != nil {
		return err
	}

	ysc.processRole = role

	if !isValidPort(ysc.MtoNPort) {
		return errors.New(fmt.Sprintf("%d is an invalid port for M to N connections", ysc.MtoNPort))
	}

	if !isValidPort(ysc.StatusPort) {
		return errors.New(fmt.Sprintf("%d is an invalid port for the status server", ysc.StatusPort))
	}

	if ysc.NumberOfConnections == nil {
		unset := mton.UNSET_CONNECTIONS
		ysc.NumberOfConnections = &unset
	}

	if *ysc.NumberOfConnections < mton.UNSET_CONNECTIONS {
		return errors.New(fmt.Sprintf("numberOfConnections must be -1 or a non-negative number. %d was given", *ysc.NumberOfConnections))
	}

	if ysc.ProgressInterval == nil {
		interval := DefaultProgressInterval
		ysc.ProgressInterval = &interval
	}

	if *ysc.ProgressInterval < 0 {
		return errors.New("progressInterval must not be negative")
	}

	if ysc.TimeoutMinutes < 0 {
		return errors.New("timeoutMinutes must not be negative")
	}

	if len(ysc.LogLevel) == 0 {
		ysc.LogLevel = "info"
	}

	if !logging.LogLevelIsValid(ysc.LogLevel) {
		return errors.New(fmt.Sprintf("%s is not a valid log level", ysc.LogLevel))
	}

	return nil
}

func (ysc *YAMLServerConfig) ProcessRole() process.Role {
	return ysc.processRole
}

func (ysc *YAMLServerConfig) ProgressMinimumInterval() time.Duration {
	if ysc.ProgressInterval == nil {
		return DefaultProgressInterval * time.Millisecond
	}

	return time.Duration(*ysc.ProgressInterval) * time.Millisecond
}

func (ysc *YAMLServerConfig) ToOptions() *process.Options {
	return &process.Options{
		ProcessRole:    ysc.processRole,
		HostName:       ysc.Host,
		ConnectID:      ysc.ConnectID,
		RenderBackend:  ysc.RenderBackend,
		TimeoutMinutes: ysc.TimeoutMinutes,
		SymmetricMPI:   ysc.SymmetricMPI,
		MultiClient:    ysc.MultiClient,
	}
}

const Template string = `# The role this process plays. One of client, server, dataserver,
# renderserver or batch
role: server

# The host name advertised to connecting render servers. Leave it out to
# use the operating system's host name
# host: node0.cluster.local

# The port data server ranks listen on for render server connections.
# 0 lets the operating system pick a free port
mtonPort: 0

# The number of data server to render server pairs. -1 uses the size of
# the data server group
numberOfConnections: -1

# The port the status API and client endpoint listen on
statusPort: 11111

# Clients and servers must agree on the connect id and rendering backend
# for a handshake to succeed
connectID: 0
renderBackend: opengl

# How long a server waits for a client before giving up. 0 waits forever
timeoutMinutes: 0

# Progress events are forwarded to the client at most once per interval.
# The interval is in milliseconds
progressInterval: 500

# Allow several clients to share this server. Progress is not reported to
# clients of a shared server
multiClient: false

# Set when every rank runs the same batch script
symmetricMPI: false

# Session lifecycle events are journaled in this LevelDB directory. A
# relative path is resolved against this file's directory. Leave it out
# to disable the journal
# journal: /var/lib/pvrendezvous/journal

# The most events the journal keeps. 0 keeps everything
journalLimit: 10000

# The log level for this process. Choose from critical, error, warning,
# notice, info or debug
logLevel: info
`
