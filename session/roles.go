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
	"strings"
)

// Roles says which parts of a session the local process plays
type Roles uint8

const (
	DataServer Roles = 1 << iota
	DataServerRoot
	RenderServer
	RenderServerRoot
	Client
)

const NoRoles Roles = 0

var roleOrder = []Roles{DataServer, DataServerRoot, RenderServer, RenderServerRoot, Client}

var roleNames = map[Roles]string{
	DataServer:       "dataserver",
	DataServerRoot:   "dataserver-root",
	RenderServer:     "renderserver",
	RenderServerRoot: "renderserver-root",
	Client:           "client",
}

func (roles Roles) Has(role Roles) bool {
	return role != NoRoles && roles&role == role
}

func (roles Roles) String() string {
	if roles == NoRoles {
		return "none"
	}

	names := make([]string, 0, len(roleOrder))

	for _, role := range roleOrder {
		if roles.Has(role) {
			names = append(names, roleNames[role])
		}
	}

	return strings.Join(names, "|")
}

// Names is used by the status API
func (roles Roles) Names() []string {
	names := make([]string, 0, len(roleOrder))

	for _, role := range roleOrder {
		if roles.Has(role) {
			names = append(names, roleNames[role])
		}
	}

	return names
}
