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

// Extipam-agent suggests free addresses of subnets managed by an external IPAM
// (phpIPAM) and keeps suggested addresses reserved in memory until the caller
// stores them in the IPAM or the cleanup interval expires.
//
// The agent exposes its REST API under /ipam/v1/ (default port 9191),
// Prometheus metrics under /metrics and the liveness/readiness probes
// of the health plugin.
package main
