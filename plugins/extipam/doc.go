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

// Package extipam implements the agent plugin which suggests free addresses
// of subnets managed by an external IPAM (phpIPAM).
//
// The external IPAM only reports the first address not stored in its database.
// Until the suggested address gets reserved by the caller, the same address
// would be suggested to every other requester. The plugin therefore remembers
// every suggested address (keyed by MAC address) for a configurable cleanup
// interval and, if the backend suggests an address already handed out to another
// requester, walks the following addresses until it finds one that is neither
// stored in the backend nor cached.
//
// The functionality is exposed via the plugin API and the REST API under
// /ipam/v1/.
package extipam
