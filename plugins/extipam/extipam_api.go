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

package extipam

import (
	"context"
	"net"

	"github.com/tonysyzer69/smart-proxy-ipam/plugins/extipam/allocator"
	"github.com/tonysyzer69/smart-proxy-ipam/plugins/extipam/backend"
	"github.com/tonysyzer69/smart-proxy-ipam/plugins/extipam/ipcache"
)

// API defines methods provided by the external IPAM plugin for use by other plugins.
type API interface {
	// NextAddress suggests a free address of subnet <cidr> (in the given group)
	// for the requester identified by <mac>. Repeated calls with the same mac
	// return the same address until the cache entry expires.
	NextAddress(ctx context.Context, mac, cidr, group string) (*allocator.Result, error)

	// Subnet returns the backend record of the subnet.
	Subnet(ctx context.Context, cidr, group string) (*backend.Subnet, error)

	// ReserveAddress stores the address in the backend.
	ReserveAddress(ctx context.Context, ip net.IP, cidr, group string) error

	// ReleaseAddress removes the address from the backend and from the cache.
	ReleaseAddress(ctx context.Context, ip net.IP, cidr, group string) error

	// Groups returns all allocation groups of the backend.
	Groups(ctx context.Context) ([]*backend.Group, error)

	// CachedAllocations returns all addresses currently cached.
	CachedAllocations() []ipcache.Record
}
