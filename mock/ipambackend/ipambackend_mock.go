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

package ipambackend

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/tonysyzer69/smart-proxy-ipam/plugins/extipam/backend"
)

// MockBackend is a mock of the remote IPAM backend.
// Unless overridden with SetNextFree, the next free address of a subnet
// is the first host address that is not reserved.
type MockBackend struct {
	sync.Mutex

	groups   map[string]*backend.Group
	subnets  map[string]*backend.Subnet     // key(group, CIDR) -> subnet
	reserved map[string]map[string]struct{} // subnet ID -> reserved addresses
	nextFree map[string]net.IP              // subnet ID -> forced next free address
	messages map[string]string              // subnet ID -> forced first_free message
	failures map[string]error               // operation -> error to return
	calls    map[string]int
}

// Operation names usable with SetFailure.
const (
	ResolveSubnetOp = "ResolveSubnet"
	QueryNextFreeOp = "QueryNextFree"
	AddressExistsOp = "AddressExists"
	ReserveOp       = "Reserve"
	ReleaseOp       = "Release"
	GroupsOp        = "Groups"
)

// NewMockBackend is a constructor for MockBackend.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		groups:   make(map[string]*backend.Group),
		subnets:  make(map[string]*backend.Subnet),
		reserved: make(map[string]map[string]struct{}),
		nextFree: make(map[string]net.IP),
		messages: make(map[string]string),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

func key(group, cidr string) string {
	return group + "|" + cidr
}

// AddGroup adds a new allocation group.
func (mb *MockBackend) AddGroup(group *backend.Group) {
	mb.Lock()
	defer mb.Unlock()

	mb.groups[group.Name] = group
}

// AddSubnet adds a new subnet into the given group.
// Subnet added into non-empty group is also resolvable without a group.
func (mb *MockBackend) AddSubnet(group string, subnet *backend.Subnet) {
	mb.Lock()
	defer mb.Unlock()

	mb.subnets[key(group, subnet.CIDR())] = subnet
	mb.subnets[key("", subnet.CIDR())] = subnet
	if _, exists := mb.reserved[subnet.ID]; !exists {
		mb.reserved[subnet.ID] = make(map[string]struct{})
	}
}

// SetNextFree forces the address returned by QueryNextFree (e.g. a stale proposal).
func (mb *MockBackend) SetNextFree(subnetID string, ip net.IP) {
	mb.Lock()
	defer mb.Unlock()

	mb.nextFree[subnetID] = ip
}

// SetMessage forces QueryNextFree to return no address and the given message.
func (mb *MockBackend) SetMessage(subnetID string, message string) {
	mb.Lock()
	defer mb.Unlock()

	mb.messages[subnetID] = message
}

// SetFailure makes the given operation fail with <err> (nil clears the failure).
func (mb *MockBackend) SetFailure(op string, err error) {
	mb.Lock()
	defer mb.Unlock()

	if err == nil {
		delete(mb.failures, op)
		return
	}
	mb.failures[op] = err
}

// IsReserved returns true if the address is reserved in the subnet.
func (mb *MockBackend) IsReserved(ip net.IP, subnetID string) bool {
	mb.Lock()
	defer mb.Unlock()

	_, reserved := mb.reserved[subnetID][ip.String()]
	return reserved
}

// Calls returns how many times the given operation was called.
func (mb *MockBackend) Calls(op string) int {
	mb.Lock()
	defer mb.Unlock()

	return mb.calls[op]
}

// ResolveSubnet returns subnet previously added with AddSubnet.
func (mb *MockBackend) ResolveSubnet(ctx context.Context, cidr, group string) (*backend.Subnet, error) {
	mb.Lock()
	defer mb.Unlock()

	if err := mb.failure(ResolveSubnetOp); err != nil {
		return nil, err
	}
	if group != "" {
		if _, exists := mb.groups[group]; !exists {
			return nil, fmt.Errorf("group %s: %w", group, backend.ErrNoSubnet)
		}
	}
	return mb.subnets[key(group, cidr)], nil
}

// QueryNextFree returns the forced next free address, or the lowest host address
// that is not reserved.
func (mb *MockBackend) QueryNextFree(ctx context.Context, subnetID string) (net.IP, string, error) {
	mb.Lock()
	defer mb.Unlock()

	if err := mb.failure(QueryNextFreeOp); err != nil {
		return nil, "", err
	}
	if msg, exists := mb.messages[subnetID]; exists {
		return nil, msg, nil
	}
	if ip, exists := mb.nextFree[subnetID]; exists {
		return ip, "", nil
	}
	for _, subnet := range mb.subnets {
		if subnet.ID != subnetID {
			continue
		}
		_, ipNet, err := net.ParseCIDR(subnet.CIDR())
		if err != nil {
			return nil, "", backend.NewError("first free address", err)
		}
		ip := nextIP(ipNet.IP)
		for ; ipNet.Contains(ip); ip = nextIP(ip) {
			if _, reserved := mb.reserved[subnetID][ip.String()]; !reserved {
				if ipNet.Contains(nextIP(ip)) {
					return ip, "", nil
				}
			}
		}
		return nil, backend.NoFreeAddressesMessage, nil
	}
	return nil, "No subnet found", nil
}

// AddressExists returns true if the address was reserved.
func (mb *MockBackend) AddressExists(ctx context.Context, ip net.IP, subnetID string) (bool, error) {
	mb.Lock()
	defer mb.Unlock()

	if err := mb.failure(AddressExistsOp); err != nil {
		return false, err
	}
	_, reserved := mb.reserved[subnetID][ip.String()]
	return reserved, nil
}

// Reserve marks the address as reserved.
func (mb *MockBackend) Reserve(ctx context.Context, ip net.IP, subnetID string) error {
	mb.Lock()
	defer mb.Unlock()

	if err := mb.failure(ReserveOp); err != nil {
		return err
	}
	addrs, exists := mb.reserved[subnetID]
	if !exists {
		return fmt.Errorf("subnet %s does not exist", subnetID)
	}
	if _, reserved := addrs[ip.String()]; reserved {
		return fmt.Errorf("address %v is already reserved", ip)
	}
	addrs[ip.String()] = struct{}{}
	return nil
}

// Release removes the reservation of the address.
func (mb *MockBackend) Release(ctx context.Context, ip net.IP, subnetID string) error {
	mb.Lock()
	defer mb.Unlock()

	if err := mb.failure(ReleaseOp); err != nil {
		return err
	}
	addrs, exists := mb.reserved[subnetID]
	if !exists {
		return fmt.Errorf("subnet %s does not exist", subnetID)
	}
	if _, reserved := addrs[ip.String()]; !reserved {
		return fmt.Errorf("address %v is not reserved", ip)
	}
	delete(addrs, ip.String())
	return nil
}

// Groups returns all groups added with AddGroup.
func (mb *MockBackend) Groups(ctx context.Context) ([]*backend.Group, error) {
	mb.Lock()
	defer mb.Unlock()

	if err := mb.failure(GroupsOp); err != nil {
		return nil, err
	}
	var groups []*backend.Group
	for _, group := range mb.groups {
		groups = append(groups, group)
	}
	return groups, nil
}

// failure counts the call and returns the error configured for the operation.
// Must be called with the mutex locked.
func (mb *MockBackend) failure(op string) error {
	mb.calls[op]++
	return mb.failures[op]
}

func nextIP(ip net.IP) net.IP {
	next := make(net.IP, len(ip))
	copy(next, ip)
	for i := len(next) - 1; i >= 0; i-- {
		next[i]++
		if next[i] > 0 {
			break
		}
	}
	return next
}
