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
	"testing"

	"github.com/ligato/cn-infra/rpc/prometheus"
	. "github.com/onsi/gomega"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/tonysyzer69/smart-proxy-ipam/mock/ipambackend"
)

// registryRecorder records registrations, other API methods are not used.
type registryRecorder struct {
	prometheus.API
	paths      []string
	collectors []prom.Collector
}

func (r *registryRecorder) Register(registryPath string, collector prom.Collector) error {
	r.paths = append(r.paths, registryPath)
	r.collectors = append(r.collectors, collector)
	return nil
}

func TestMetricsRegistration(t *testing.T) {
	RegisterTestingT(t)
	registry := &registryRecorder{}
	plugin := NewPlugin(UseDeps(func(deps *Deps) {
		deps.Gateway = ipambackend.NewMockBackend()
		deps.HTTPHandlers = nil
		deps.Prometheus = registry
		deps.StatusCheck = nil
	}))
	Expect(plugin.Init()).To(Succeed())
	defer plugin.Close()

	Expect(registry.collectors).To(HaveLen(3))
	for _, path := range registry.paths {
		Expect(path).To(Equal(prometheus.DefaultRegistry))
	}
}
