// Copyright (c) 2019 Cisco and/or its affiliates.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package restapi

import (
	"net"
	"time"
)

const (
	// RESTPrefix is versioned prefix for REST urls.
	RESTPrefix = "/ipam/v1/"

	// RestURLSubnet is URL template of the subnet resource.
	RestURLSubnet = RESTPrefix + "subnet/{address}/{prefix}"

	// RestURLNextIP is URL template for obtaining the next free address of a subnet.
	RestURLNextIP = RestURLSubnet + "/next_ip"

	// RestURLAddress is URL template for reserving/releasing an address.
	RestURLAddress = RestURLSubnet + "/{ip}"

	// RestURLGroups is URL of the allocation group list.
	RestURLGroups = RESTPrefix + "groups"

	// RestURLCache is URL of the dump of cached allocations.
	RestURLCache = RESTPrefix + "cache"

	// MACParam is the query parameter with the requester key.
	MACParam = "mac"

	// GroupParam is the query parameter with the allocation group.
	GroupParam = "group"
)

// NextIP is returned by RestURLNextIP.
type NextIP struct {
	CIDR    string `json:"cidr"`
	Address net.IP `json:"address,omitempty"`
	Status  string `json:"status"`
	// Message from the backend (no free addresses)
	Message string `json:"message,omitempty"`
	// Warning is set when the returned address may collide with another allocation.
	Warning string `json:"warning,omitempty"`
}

// Subnet is returned by RestURLSubnet.
type Subnet struct {
	ID          string `json:"id"`
	CIDR        string `json:"cidr"`
	Description string `json:"description,omitempty"`
}

// Group is an item of the list returned by RestURLGroups.
type Group struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Allocation is an item of the list returned by RestURLCache.
type Allocation struct {
	Group    string    `json:"group"`
	CIDR     string    `json:"cidr"`
	MAC      string    `json:"mac"`
	Address  net.IP    `json:"address"`
	IssuedAt time.Time `json:"issuedAt"`
}

// Error is returned with every non-2xx status code.
type Error struct {
	Error string `json:"error"`
}
