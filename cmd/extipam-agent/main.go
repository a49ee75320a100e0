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

package main

import (
	"github.com/ligato/cn-infra/agent"
	"github.com/ligato/cn-infra/health/probe"
	"github.com/ligato/cn-infra/logging/logrus"

	"github.com/tonysyzer69/smart-proxy-ipam/plugins/extipam"
)

// ExtIPAMAgent suggests addresses of subnets managed by an external IPAM.
type ExtIPAMAgent struct {
	HealthProbe *probe.Plugin
	ExtIPAM     *extipam.ExtIPAM
}

func (a *ExtIPAMAgent) String() string {
	return "ExtIPAMAgent"
}

// Init is called at startup phase. Method added in order to implement Plugin interface.
func (a *ExtIPAMAgent) Init() error {
	return nil
}

// Close is called at cleanup phase. Method added in order to implement Plugin interface.
func (a *ExtIPAMAgent) Close() error {
	return nil
}

func main() {
	extIPAMAgent := &ExtIPAMAgent{
		HealthProbe: &probe.DefaultPlugin,
		ExtIPAM:     &extipam.DefaultPlugin,
	}

	a := agent.NewAgent(agent.AllPlugins(extIPAMAgent))
	if err := a.Run(); err != nil {
		logrus.DefaultLogger().Fatal(err)
	}
}
