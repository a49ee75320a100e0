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

// Package backend defines the contract of the remote IPAM system (the source
// of truth for address reservations) as consumed by the allocation engine.
package backend

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/pkg/errors"
)

// NoFreeAddressesMessage is the message reported by the backend when a subnet
// has no free address left. It is matched case-insensitively.
const NoFreeAddressesMessage = "no free addresses found"

var (
	// ErrNoSubnet is returned when the requested CIDR (in the requested group)
	// is not known to the backend.
	ErrNoSubnet = errors.New("no subnet found")

	// ErrBackendUnavailable is the kind of every network/protocol failure
	// of the backend.
	ErrBackendUnavailable = errors.New("IPAM backend unavailable")
)

// Subnet is a subnet as known to the remote IPAM.
type Subnet struct {
	ID          string `json:"id"`
	Subnet      string `json:"subnet"`
	Mask        string `json:"mask"`
	Description string `json:"description"`
}

// CIDR returns the subnet in the address/prefix-length notation.
func (s *Subnet) CIDR() string {
	return s.Subnet + "/" + s.Mask
}

// String returns human-readable representation of the subnet.
func (s *Subnet) String() string {
	return fmt.Sprintf("<id=%s, cidr=%s>", s.ID, s.CIDR())
}

// Group is an allocation group (e.g. a phpIPAM section) partitioning subnets.
type Group struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Backend is the remote IPAM gateway. All methods may block on network I/O
// and are bounded by a request timeout owned by the implementation.
type Backend interface {
	// ResolveSubnet looks up subnet <cidr> in the given group (empty group = any).
	// Returns nil subnet (and nil error) if the backend has no such subnet.
	ResolveSubnet(ctx context.Context, cidr, group string) (*Subnet, error)

	// QueryNextFree asks the backend for the first unused address of the subnet.
	// If the backend does not return an address, the returned message explains why.
	QueryNextFree(ctx context.Context, subnetID string) (ip net.IP, message string, err error)

	// AddressExists returns true if <ip> is already reserved in the subnet.
	AddressExists(ctx context.Context, ip net.IP, subnetID string) (bool, error)

	// Reserve persists <ip> in the subnet.
	Reserve(ctx context.Context, ip net.IP, subnetID string) error

	// Release removes <ip> from the subnet.
	Release(ctx context.Context, ip net.IP, subnetID string) error

	// Groups lists all allocation groups.
	Groups(ctx context.Context) ([]*Group, error)
}

// Error wraps a failure of the backend operation <Op>.
// Every Error is of the ErrBackendUnavailable kind.
type Error struct {
	Op  string
	Err error
}

// Error returns the error message.
func (e *Error) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrBackendUnavailable, e.Op, e.Err)
}

// Unwrap returns the underlying failure.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports the ErrBackendUnavailable kind.
func (e *Error) Is(target error) bool {
	return target == ErrBackendUnavailable
}

// NewError returns backend failure for the given operation.
func NewError(op string, err error) error {
	if err == nil {
		return nil
	}
	if be, isBackendErr := err.(*Error); isBackendErr {
		return be
	}
	return &Error{Op: op, Err: err}
}

// IsNoFreeAddresses returns true if the message reports subnet exhaustion.
func IsNoFreeAddresses(message string) bool {
	return strings.EqualFold(strings.TrimSpace(message), NoFreeAddressesMessage)
}

// ErrNotConfigured is the cause of every failure of the Disabled backend.
var ErrNotConfigured = errors.New("IPAM backend is not configured")

// Disabled is used in place of a backend that was not configured.
// All operations fail with ErrBackendUnavailable.
type Disabled struct{}

// ResolveSubnet fails.
func (Disabled) ResolveSubnet(ctx context.Context, cidr, group string) (*Subnet, error) {
	return nil, NewError("subnet", ErrNotConfigured)
}

// QueryNextFree fails.
func (Disabled) QueryNextFree(ctx context.Context, subnetID string) (net.IP, string, error) {
	return nil, "", NewError("first free address", ErrNotConfigured)
}

// AddressExists fails.
func (Disabled) AddressExists(ctx context.Context, ip net.IP, subnetID string) (bool, error) {
	return false, NewError("address search", ErrNotConfigured)
}

// Reserve fails.
func (Disabled) Reserve(ctx context.Context, ip net.IP, subnetID string) error {
	return NewError("reserve", ErrNotConfigured)
}

// Release fails.
func (Disabled) Release(ctx context.Context, ip net.IP, subnetID string) error {
	return NewError("release", ErrNotConfigured)
}

// Groups fails.
func (Disabled) Groups(ctx context.Context) ([]*Group, error) {
	return nil, NewError("groups", ErrNotConfigured)
}
