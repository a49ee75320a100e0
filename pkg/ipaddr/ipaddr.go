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

// Package ipaddr provides the address arithmetic used by the allocation engine:
// stepping to the next address of the same family and checking whether
// an address is an assignable host address of a given subnet.
package ipaddr

import (
	"bytes"
	"net"

	"github.com/apparentlymart/go-cidr/cidr"
	"github.com/pkg/errors"
)

var (
	// ErrInvalidAddress is returned for malformed (or missing) address input.
	ErrInvalidAddress = errors.New("invalid IP address")

	// ErrAddressOverflow is returned when incrementing the last address
	// of the address family.
	ErrAddressOverflow = errors.New("IP address overflow")
)

// Parse parses IPv4 or IPv6 address in the textual form.
// IPv4 addresses are returned in the 4-byte representation.
func Parse(addr string) (net.IP, error) {
	ip := net.ParseIP(addr)
	if ip == nil {
		return nil, errors.Wrapf(ErrInvalidAddress, "cannot parse %q", addr)
	}
	return normalize(ip), nil
}

// ParseCIDR parses subnet given as address/prefix-length.
func ParseCIDR(subnet string) (*net.IPNet, error) {
	_, ipNet, err := net.ParseCIDR(subnet)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidAddress, "cannot parse subnet %q", subnet)
	}
	return ipNet, nil
}

// Increment returns the address following <ip> in the numeric order of its family.
func Increment(ip net.IP) (net.IP, error) {
	if ip == nil || (len(ip) != net.IPv4len && len(ip) != net.IPv6len) {
		return nil, errors.Wrapf(ErrInvalidAddress, "cannot increment %v", ip)
	}
	ip = normalize(ip)
	next := cidr.Inc(ip)
	if bytes.Compare(next, ip) <= 0 {
		return nil, errors.Wrapf(ErrAddressOverflow, "no address follows %v", ip)
	}
	return next, nil
}

// IsUsable returns true if <ip> is a host address of <subnet>, i.e. it belongs
// to the subnet and is neither the network nor the broadcast (last) address.
// Subnets with less than two host bits (/31, /32, /127, /128) have no reserved
// addresses.
func IsUsable(ip net.IP, subnet *net.IPNet) bool {
	if ip == nil || subnet == nil || !subnet.Contains(ip) {
		return false
	}
	ones, bits := subnet.Mask.Size()
	if bits-ones < 2 {
		return true
	}
	first, last := cidr.AddressRange(subnet)
	return !ip.Equal(first) && !ip.Equal(last)
}

// normalize returns IPv4 addresses in 4-byte representation so that the arithmetic
// never carries into the IPv4-mapped prefix.
func normalize(ip net.IP) net.IP {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip
}
