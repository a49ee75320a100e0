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

package allocator

import (
	"fmt"
	"net"
	"time"
)

// Status describes how the allocated address was obtained.
type Status int

const (
	// Allocated means that the address proposed by the backend was free and got cached.
	Allocated Status = iota
	// Cached means that the key already had an address cached (repeated request).
	Cached
	// Resolved means that the proposed address was taken and another one was found.
	Resolved
	// Unresolved means that no alternative to the taken address was found within
	// the retry limit; the returned address is the backend proposal and may
	// collide with another allocation.
	Unresolved
	// NoFreeAddresses means that the backend reported subnet exhaustion,
	// no address is returned.
	NoFreeAddresses
)

var statusNames = map[Status]string{
	Allocated:       "allocated",
	Cached:          "cached",
	Resolved:        "resolved",
	Unresolved:      "unresolved",
	NoFreeAddresses: "no-free-addresses",
}

// String returns name of the status.
func (s Status) String() string {
	if name, known := statusNames[s]; known {
		return name
	}
	return fmt.Sprintf("status-%d", int(s))
}

// MarshalText returns name of the status (used by JSON encoding).
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result is the outcome of a single NextAddress request.
type Result struct {
	// Address is nil for NoFreeAddresses.
	Address net.IP `json:"address,omitempty"`
	Status  Status `json:"status"`
	// Message is the verbatim backend message (NoFreeAddresses) or a warning (Unresolved).
	Message string `json:"message,omitempty"`
}

// Degraded returns true if the address is not guaranteed to be available.
func (r *Result) Degraded() bool {
	return r.Status == Unresolved
}

// String returns human-readable representation of the result.
func (r *Result) String() string {
	if r.Message != "" {
		return fmt.Sprintf("<address=%v, status=%v, message=%q>", r.Address, r.Status, r.Message)
	}
	return fmt.Sprintf("<address=%v, status=%v>", r.Address, r.Status)
}

// ExhaustedError is returned when the selected address is not a usable host address
// of the subnet. The subnet is likely full, but free addresses may only be
// hidden by the cache until its cleanup interval elapses.
type ExhaustedError struct {
	CIDR            string
	Address         net.IP
	CleanupInterval time.Duration
}

// Error returns the error message.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("it is possible that there are no more free addresses in subnet %s "+
		"(candidate %v is not usable); available addresses may be cached, and could become "+
		"available after the in-memory IP cache is cleared (up to %v)",
		e.CIDR, e.Address, e.CleanupInterval)
}
