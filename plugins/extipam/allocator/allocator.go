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

// Package allocator hands out "next free" addresses of subnets managed by a remote
// IPAM that does not reserve the address it proposes. Issued addresses are kept
// in the IP cache until the requester persists them (or the cache forgets them),
// and collisions with cached addresses are resolved by walking forward through
// the subnet.
package allocator

import (
	"context"
	"net"

	"github.com/ligato/cn-infra/logging"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tonysyzer69/smart-proxy-ipam/pkg/ipaddr"
	"github.com/tonysyzer69/smart-proxy-ipam/plugins/extipam/backend"
	"github.com/tonysyzer69/smart-proxy-ipam/plugins/extipam/ipcache"
)

const (
	// DefaultMaxRetries is the default number of addresses tried by the conflict
	// resolution before it gives up.
	DefaultMaxRetries = 5

	// status label value used for failed requests
	errorStatusLabel = "error"
)

// Errors returned by NextAddress (besides *ExhaustedError).
var (
	ErrNoSubnet           = backend.ErrNoSubnet
	ErrBackendUnavailable = backend.ErrBackendUnavailable
	ErrInvalidAddress     = ipaddr.ErrInvalidAddress
)

// Allocator coordinates allocation of the next free address.
type Allocator struct {
	Deps
}

// Deps lists dependencies of the Allocator.
type Deps struct {
	Log     logging.Logger
	Backend backend.Backend
	Cache   *ipcache.Cache

	// MaxRetries bounds the conflict resolution (DefaultMaxRetries if zero).
	MaxRetries int

	// Allocations (optional) counts requests by the "status" label.
	Allocations *prometheus.CounterVec
}

// New creates a new Allocator.
func New(deps Deps) *Allocator {
	if deps.MaxRetries <= 0 {
		deps.MaxRetries = DefaultMaxRetries
	}
	return &Allocator{Deps: deps}
}

// NextAddress returns an address of subnet <cidr> (in <group>) for the requester
// identified by <key>. Repeated requests with the same key return the same
// address until the cache forgets it.
//
// The result is not an error but may be degraded:
//   - NoFreeAddresses: the backend reported exhaustion, no address is returned
//   - Unresolved: the address collides with another cached allocation
//
// Errors: ErrInvalidAddress (bad CIDR), ErrNoSubnet, *ExhaustedError and
// backend failures (ErrBackendUnavailable kind), which are returned unchanged.
func (a *Allocator) NextAddress(ctx context.Context, key, cidr, group string) (result *Result, err error) {
	defer func() {
		a.countRequest(result, err)
	}()

	subnetNet, err := ipaddr.ParseCIDR(cidr)
	if err != nil {
		return nil, err
	}
	// cached allocations are keyed by the network address
	cidr = subnetNet.String()

	subnet, err := a.Backend.ResolveSubnet(ctx, cidr, group)
	if err != nil {
		a.Log.Errorf("Failed to resolve subnet %s (group %q): %v", cidr, group, err)
		return nil, err
	}
	if subnet == nil {
		return nil, errors.Wrapf(backend.ErrNoSubnet, "subnet %s (group %q)", cidr, group)
	}

	proposed, message, err := a.Backend.QueryNextFree(ctx, subnet.ID)
	if err != nil {
		a.Log.Errorf("Failed to query next free address of subnet %v: %v", subnet, err)
		return nil, err
	}
	if proposed == nil {
		if backend.IsNoFreeAddresses(message) {
			a.Log.Infof("No free addresses left in subnet %v", subnet)
			return &Result{Status: NoFreeAddresses, Message: message}, nil
		}
		if message == "" {
			message = "no address returned"
		}
		return nil, backend.NewError("first free address", errors.New(message))
	}

	a.Cache.EnsureGroup(group)
	result, err = a.selectAddress(ctx, subnet.ID, proposed, key, cidr, group)
	if err != nil {
		return nil, err
	}

	if !ipaddr.IsUsable(result.Address, subnetNet) {
		if result.Status == Allocated || result.Status == Resolved {
			a.Cache.Forget(result.Address, key, cidr, group)
		}
		err = &ExhaustedError{
			CIDR:            cidr,
			Address:         result.Address,
			CleanupInterval: a.Cache.CleanupInterval(),
		}
		a.Log.Warn(err)
		return nil, err
	}

	a.Log.Debugf("Next address for %s in subnet %s (group %q): %v", key, cidr, group, result)
	return result, nil
}

// selectAddress returns cached address of the key, or the backend proposal if it
// is not cached for anyone else, or runs the conflict resolution.
func (a *Allocator) selectAddress(ctx context.Context, subnetID string, proposed net.IP,
	key, cidr, group string) (*Result, error) {

	if cached := a.Cache.Lookup(group, cidr, key); cached != nil {
		return &Result{Address: cached, Status: Cached}, nil
	}

	held, claimed := a.Cache.Claim(proposed, key, cidr, group)
	if !claimed {
		a.Log.Debugf("Address %v proposed for %s is already cached for another requester", proposed, key)
		return a.findNewAddress(ctx, subnetID, proposed, key, cidr, group)
	}
	if !held.Equal(proposed) {
		// concurrent request with the same key was faster
		return &Result{Address: held, Status: Cached}, nil
	}
	return &Result{Address: proposed, Status: Allocated}, nil
}

func (a *Allocator) countRequest(result *Result, err error) {
	if a.Allocations == nil {
		return
	}
	status := errorStatusLabel
	if err == nil && result != nil {
		status = result.Status.String()
	}
	a.Allocations.With(prometheus.Labels{"status": status}).Inc()
}
