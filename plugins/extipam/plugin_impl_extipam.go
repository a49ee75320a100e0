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
	"context"
	"net"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/ligato/cn-infra/health/statuscheck"
	"github.com/ligato/cn-infra/infra"
	"github.com/ligato/cn-infra/logging"
	"github.com/ligato/cn-infra/rpc/prometheus"
	"github.com/ligato/cn-infra/rpc/rest"
	"github.com/pkg/errors"

	"github.com/tonysyzer69/smart-proxy-ipam/pkg/ipaddr"
	"github.com/tonysyzer69/smart-proxy-ipam/plugins/extipam/allocator"
	"github.com/tonysyzer69/smart-proxy-ipam/plugins/extipam/backend"
	"github.com/tonysyzer69/smart-proxy-ipam/plugins/extipam/config"
	"github.com/tonysyzer69/smart-proxy-ipam/plugins/extipam/ipcache"
	"github.com/tonysyzer69/smart-proxy-ipam/plugins/extipam/phpipam"
)

// ExtIPAM plugin suggests free addresses of subnets managed by an external IPAM.
type ExtIPAM struct {
	Deps

	config    *config.Config
	gateway   backend.Backend
	cache     *ipcache.Cache
	allocator *allocator.Allocator
	metrics   *metrics

	ctx    context.Context
	cancel context.CancelFunc
}

// Deps lists dependencies of the ExtIPAM plugin.
type Deps struct {
	infra.PluginDeps

	HTTPHandlers rest.HTTPHandlers
	Prometheus   prometheus.API
	StatusCheck  statuscheck.PluginStatusWriter

	// Gateway (optional) replaces the backend client built from the configuration.
	Gateway backend.Backend

	// Clock (optional) drives expiration of cached addresses.
	Clock clock.Clock
}

// authenticator is implemented by backends that need to log in before use.
type authenticator interface {
	Authenticate(ctx context.Context) error
}

// Init loads the configuration and builds the allocator with its cache and backend client.
func (p *ExtIPAM) Init() (err error) {
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.config, err = p.loadConfig()
	if err != nil {
		return err
	}
	p.Log.Infof("External IPAM configuration: %v", p.config)

	p.metrics = newMetrics(p.config.Provider)
	if err = p.registerMetrics(); err != nil {
		return err
	}

	p.gateway = p.Gateway
	if p.gateway == nil {
		if p.config.URL == "" {
			p.Log.Warnf("URL of the %s server is not configured, external IPAM is disabled", p.config.Provider)
			p.gateway = backend.Disabled{}
		} else {
			p.gateway = phpipam.NewClient(p.childLogger("phpipam"), p.config.PhpIPAM())
		}
	}

	cacheOpts := []ipcache.Option{
		ipcache.WithSweepPeriod(p.config.SweepPeriodDuration()),
		ipcache.WithMetrics(p.metrics.cached, p.metrics.evictions),
	}
	if p.Clock != nil {
		cacheOpts = append(cacheOpts, ipcache.WithClock(p.Clock))
	}
	p.cache = ipcache.New(p.childLogger("cache"), p.config.CleanupIntervalDuration(), cacheOpts...)

	p.allocator = allocator.New(allocator.Deps{
		Log:         p.childLogger("allocator"),
		Backend:     p.gateway,
		Cache:       p.cache,
		MaxRetries:  int(p.config.MaxRetries),
		Allocations: p.metrics.allocations,
	})
	return nil
}

// AfterInit logs into the backend, starts the cache eviction and registers REST handlers.
func (p *ExtIPAM) AfterInit() error {
	if p.StatusCheck != nil {
		p.StatusCheck.Register(p.PluginName, nil)
	}
	if err := p.authenticate(); err != nil {
		// requests re-try the authentication, the agent keeps running
		p.Log.Warnf("Authentication against %s failed: %v", p.config.Provider, err)
		p.reportState(err)
	} else {
		p.reportState(nil)
	}

	p.cache.Start()
	p.registerRESTHandlers()
	return nil
}

// Close stops the cache eviction.
func (p *ExtIPAM) Close() error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.cache != nil {
		return p.cache.Close()
	}
	return nil
}

// NextAddress suggests a free address of subnet <cidr> for the requester <mac>.
func (p *ExtIPAM) NextAddress(ctx context.Context, mac, cidr, group string) (*allocator.Result, error) {
	result, err := p.allocator.NextAddress(ctx, mac, cidr, group)
	p.reportBackendState(err)
	return result, err
}

// Subnet returns the backend record of the subnet.
func (p *ExtIPAM) Subnet(ctx context.Context, cidr, group string) (*backend.Subnet, error) {
	subnetNet, err := ipaddr.ParseCIDR(cidr)
	if err != nil {
		return nil, err
	}
	cidr = subnetNet.String()
	subnet, err := p.gateway.ResolveSubnet(ctx, cidr, group)
	p.reportBackendState(err)
	if err != nil {
		return nil, err
	}
	if subnet == nil {
		return nil, errors.Wrapf(backend.ErrNoSubnet, "subnet %s (group %q)", cidr, group)
	}
	return subnet, nil
}

// ReserveAddress stores the address in the backend.
func (p *ExtIPAM) ReserveAddress(ctx context.Context, ip net.IP, cidr, group string) error {
	subnet, err := p.addressSubnet(ctx, ip, cidr, group)
	if err != nil {
		return err
	}
	err = p.gateway.Reserve(ctx, ip, subnet.ID)
	p.reportBackendState(err)
	if err != nil {
		return err
	}
	p.Log.Infof("Reserved address %v in subnet %s (group %q)", ip, cidr, group)
	return nil
}

// ReleaseAddress removes the address from the backend and from the cache.
func (p *ExtIPAM) ReleaseAddress(ctx context.Context, ip net.IP, cidr, group string) error {
	subnet, err := p.addressSubnet(ctx, ip, cidr, group)
	if err != nil {
		return err
	}
	err = p.gateway.Release(ctx, ip, subnet.ID)
	p.reportBackendState(err)
	if err != nil {
		return err
	}
	p.cache.ForgetAddress(ip, normalizeCIDR(cidr), group)
	p.Log.Infof("Released address %v in subnet %s (group %q)", ip, cidr, group)
	return nil
}

// Groups returns all allocation groups of the backend.
func (p *ExtIPAM) Groups(ctx context.Context) ([]*backend.Group, error) {
	groups, err := p.gateway.Groups(ctx)
	p.reportBackendState(err)
	return groups, err
}

// CachedAllocations returns all addresses currently cached.
func (p *ExtIPAM) CachedAllocations() []ipcache.Record {
	return p.cache.Dump()
}

// addressSubnet resolves the subnet which must contain the given address.
func (p *ExtIPAM) addressSubnet(ctx context.Context, ip net.IP, cidr, group string) (*backend.Subnet, error) {
	subnetNet, err := ipaddr.ParseCIDR(cidr)
	if err != nil {
		return nil, err
	}
	if ip == nil || !subnetNet.Contains(ip) {
		return nil, errors.Wrapf(ipaddr.ErrInvalidAddress, "address %v is not from subnet %s", ip, cidr)
	}
	return p.Subnet(ctx, cidr, group)
}

// normalizeCIDR returns <cidr> with the host bits cleared (<cidr> must be valid).
func normalizeCIDR(cidr string) string {
	subnetNet, err := ipaddr.ParseCIDR(cidr)
	if err != nil {
		return cidr
	}
	return subnetNet.String()
}

func (p *ExtIPAM) authenticate() error {
	auth, ok := p.gateway.(authenticator)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(p.ctx, time.Duration(p.config.RequestTimeout)*time.Second)
	defer cancel()
	return auth.Authenticate(ctx)
}

// reportBackendState reflects reachability of the backend in the plugin status.
func (p *ExtIPAM) reportBackendState(err error) {
	if errors.Is(err, backend.ErrBackendUnavailable) {
		p.reportState(err)
		return
	}
	p.reportState(nil)
}

// childLogger returns the named child of the plugin logger. The logger registry
// is global and refuses duplicate names, so a logger created by a previous
// Init is reused.
func (p *ExtIPAM) childLogger(name string) logging.Logger {
	if logger, found := logging.DefaultRegistry.Lookup(p.Log.GetName() + "." + name); found {
		return logger
	}
	return p.Log.NewLogger(name)
}

func (p *ExtIPAM) reportState(err error) {
	if p.StatusCheck == nil {
		return
	}
	if err != nil {
		p.StatusCheck.ReportStateChange(p.PluginName, statuscheck.Error, err)
		return
	}
	p.StatusCheck.ReportStateChange(p.PluginName, statuscheck.OK, nil)
}

func (p *ExtIPAM) registerMetrics() error {
	if p.Prometheus == nil {
		return nil
	}
	for _, collector := range p.metrics.collectors() {
		if err := p.Prometheus.Register(prometheus.DefaultRegistry, collector); err != nil {
			p.Log.Errorf("Failed to register metric: %v", err)
			return err
		}
	}
	return nil
}

// loadConfig loads configuration file and fills unset values with defaults.
func (p *ExtIPAM) loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	found, err := p.Cfg.LoadValue(cfg)
	if err != nil {
		return nil, err
	}
	if !found {
		p.Log.Debugf("%v config not found", p.PluginName)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}
