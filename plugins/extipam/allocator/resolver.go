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
	"context"
	"fmt"
	"net"

	"github.com/tonysyzer69/smart-proxy-ipam/pkg/ipaddr"
)

// findNewAddress is called when the address proposed by the backend is cached
// for another requester but not yet persisted in the backend. It walks forward
// from the proposal (at most MaxRetries addresses) and claims the first address
// that is neither reserved in the backend nor cached.
// If none is found, the backend proposal is returned as Unresolved.
func (a *Allocator) findNewAddress(ctx context.Context, subnetID string, proposed net.IP,
	key, cidr, group string) (*Result, error) {

	candidate := proposed
	for attempt := 1; attempt <= a.MaxRetries; attempt++ {
		next, err := ipaddr.Increment(candidate)
		if err != nil {
			// end of the address space, nothing to walk to
			a.Log.Debugf("Stopped searching for alternative to %v: %v", proposed, err)
			break
		}
		candidate = next

		reserved, err := a.Backend.AddressExists(ctx, candidate, subnetID)
		if err != nil {
			a.Log.Errorf("Failed to check existence of %v in subnet %s: %v", candidate, cidr, err)
			return nil, err
		}
		if reserved {
			a.Log.Debugf("Attempt %d: %v is reserved in the backend", attempt, candidate)
			continue
		}

		held, claimed := a.Cache.Claim(candidate, key, cidr, group)
		if !claimed {
			a.Log.Debugf("Attempt %d: %v is cached for another requester", attempt, candidate)
			continue
		}
		if !held.Equal(candidate) {
			return &Result{Address: held, Status: Cached}, nil
		}
		a.Log.Debugf("Attempt %d: found free address %v for %s", attempt, candidate, key)
		return &Result{Address: candidate, Status: Resolved}, nil
	}

	message := fmt.Sprintf("unable to find another available address in subnet %s after %d attempts, "+
		"%v may already be in use", cidr, a.MaxRetries, proposed)
	a.Log.Warn(message)
	return &Result{Address: proposed, Status: Unresolved, Message: message}, nil
}
