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
	"encoding/json"
	"fmt"
	"sort"

	"github.com/PelionIoT/pvrendezvous/process"
)

type PortEntry struct {
	Port int    `json:"port"`
	Host string `json:"host"`
}

func (entry PortEntry) String() string {
	return fmt.Sprintf("%s:%d", entry.Host, entry.Port)
}

// PortDirectory maps each waiting rank to the address it listens on
type PortDirectory struct {
	entries []PortEntry
	set     []bool
}

func NewPortDirectory(size int) *PortDirectory {
	if size < 0 {
		size = 0
	}

	return &PortDirectory{
		entries: make([]PortEntry, size),
		set:     make([]bool, size),
	}
}

func (directory *PortDirectory) Size() int {
	return len(directory.entries)
}

// Set rejects ranks outside of the directory without changing it
func (directory *PortDirectory) Set(rank int, port int, host string) error {
	if rank < 0 || rank >= len(directory.entries) {
		return EProcessOutOfRange
	}

	directory.entries[rank] = PortEntry{Port: port, Host: host}
	directory.set[rank] = true

	return nil
}

// Resize returns a directory of the new size holding the entries of this
// one that fit
func (directory *PortDirectory) Resize(size int) *PortDirectory {
	resized := NewPortDirectory(size)

	copy(resized.entries, directory.entries)
	copy(resized.set, directory.set)

	return resized
}

func (directory *PortDirectory) Get(rank int) (PortEntry, bool) {
	if rank < 0 || rank >= len(directory.entries) || !directory.set[rank] {
		return PortEntry{}, false
	}

	return directory.entries[rank], true
}

// PortInformation is what each waiting rank contributes to the collective
// gather and what the connecting side is configured from
type PortInformation struct {
	NumberOfConnections int               `json:"numberOfConnections"`
	Entries             map[int]PortEntry `json:"entries"`
}

func NewPortInformation() *PortInformation {
	return &PortInformation{
		NumberOfConnections: UNSET_CONNECTIONS,
		Entries:             make(map[int]PortEntry),
	}
}

func (info *PortInformation) AddInformation(other *PortInformation) {
	if other == nil {
		return
	}

	if other.NumberOfConnections > info.NumberOfConnections {
		info.NumberOfConnections = other.NumberOfConnections
	}

	for rank, entry := range other.Entries {
		info.Entries[rank] = entry
	}
}

// Ranks lists the ranks with an entry in ascending order
func (info *PortInformation) Ranks() []int {
	ranks := make([]int, 0, len(info.Entries))

	for rank, _ := range info.Entries {
		ranks = append(ranks, rank)
	}

	sort.Ints(ranks)

	return ranks
}

func (info *PortInformation) Marshal() ([]byte, error) {
	return json.Marshal(info)
}

func (info *PortInformation) Unmarshal(encoded []byte) error {
	decoded := NewPortInformation()

	if err := json.Unmarshal(encoded, decoded); err != nil {
		return EInvalidPortInformation
	}

	if decoded.Entries == nil {
		decoded.Entries = make(map[int]PortEntry)
	}

	*info = *decoded

	return nil
}

// GatherPortInformation collects the entry of every rank in the waiting
// group. Every rank of the group must call it.
func GatherPortInformation(controller process.Controller, connection *MtoNConnection) (*PortInformation, error) {
	local := NewPortInformation()

	connection.GetPortInformation(local)

	encoded, err := local.Marshal()

	if err != nil {
		return nil, err
	}

	gathered, err := controller.AllGather(encoded)

	if err != nil {
		return nil, err
	}

	merged := NewPortInformation()

	for _, encodedInfo := range gathered {
		var info PortInformation

		if err := info.Unmarshal(encodedInfo); err != nil {
			return nil, err
		}

		merged.AddInformation(&info)
	}

	return merged, nil
}

// ApplyPortInformation configures the connecting side from a gathered table
func ApplyPortInformation(connection *MtoNConnection, info *PortInformation) error {
	connection.SetNumberOfConnections(info.NumberOfConnections)

	for _, rank := range info.Ranks() {
		entry := info.Entries[rank]

		if err := connection.SetPortInformation(rank, entry.Port, entry.Host); err != nil {
			return err
		}
	}

	return nil
}
