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
	"github.com/prometheus/client_golang/prometheus"
)

const (
	providerLabel = "provider"
	statusLabel   = "status"
)

type metrics struct {
	cached      prometheus.Gauge
	allocations *prometheus.CounterVec
	evictions   prometheus.Counter
}

func newMetrics(provider string) *metrics {
	labels := prometheus.Labels{providerLabel: provider}
	return &metrics{
		cached: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "extipam_cached_allocations",
			Help:        "Number of addresses suggested to requesters and still cached",
			ConstLabels: labels,
		}),
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "extipam_allocations_total",
			Help:        "Number of next address requests by result status",
			ConstLabels: labels,
		}, []string{statusLabel}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "extipam_evictions_total",
			Help:        "Number of cached addresses evicted after the cleanup interval",
			ConstLabels: labels,
		}),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.cached, m.allocations, m.evictions}
}
