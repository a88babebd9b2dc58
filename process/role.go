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
	"strings"
)

type Role int

const (
	RoleClient       Role = iota
	RoleServer       Role = iota
	RoleDataServer   Role = iota
	RoleRenderServer Role = iota
	RoleBatch        Role = iota
	RoleInvalid      Role = iota
)

var roleNames = map[Role]string{
	RoleClient:       "client",
	RoleServer:       "server",
	RoleDataServer:   "dataserver",
	RoleRenderServer: "renderserver",
	RoleBatch:        "batch",
	RoleInvalid:      "invalid",
}

func (role Role) String() string {
	if name, ok := roleNames[role]; ok {
		return name
	}

	return fmt.Sprintf("role(%d)", int(role))
}

// IsServer is true for any role that serves a client, batch included
func (role Role) IsServer() bool {
	return role == RoleServer || role == RoleDataServer || role == RoleRenderServer || role == RoleBatch
}

func (role Role) ServesData() bool {
	return role == RoleServer || role == RoleDataServer || role == RoleBatch
}

func (role Role) ServesRendering() bool {
	return role == RoleServer || role == RoleRenderServer || role == RoleBatch
}

func ParseRole(s string) (Role, error) {
	name := strings.ToLower(strings.TrimSpace(s))

	for role, roleName := range roleNames {
		if role != RoleInvalid && roleName == name {
			return role, nil
		}
	}

	return RoleInvalid, errors.New(fmt.Sprintf("%s is not a valid process role", s))
}
