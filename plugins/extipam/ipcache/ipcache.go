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

// Package ipcache remembers addresses issued to requesters but not (yet) persisted
// in the remote IPAM, so that concurrent "next free IP" requests do not hand out
// the same address twice.
//
// Allocations are kept per (group, subnet, key), where key is a stable
// identifier of the requester (e.g. MAC address). A background sweep removes
// allocations older than the cleanup interval, which returns addresses abandoned
// by requesters back into circulation. There is no other way to release an address.
package ipcache

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/ligato/cn-infra/logging"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultCleanupInterval is used when New is given a non-positive interval.
const DefaultCleanupInterval = time.Minute

// Cache is an in-memory cache of issued-but-unconfirmed allocations.
// All methods are safe for concurrent use.
type Cache struct {
	log             logging.Logger
	clock           clock.Clock
	cleanupInterval time.Duration
	sweepPeriod     time.Duration

	size    prometheus.Gauge
	evicted prometheus.Counter

	mutex  sync.Mutex
	groups map[string]map[string]*subnetEntry // group -> CIDR -> allocations

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// Record is a single cached allocation.
type Record struct {
	Group    string    `json:"group"`
	CIDR     string    `json:"cidr"`
	Key      string    `json:"key"`
	Address  net.IP    `json:"address"`
	IssuedAt time.Time `json:"issuedAt"`
}

// String returns human-readable representation of the record.
func (r *Record) String() string {
	return fmt.Sprintf("<group=%q, cidr=%s, key=%s, address=%v>", r.Group, r.CIDR, r.Key, r.Address)
}

// subnetEntry holds allocations of a single subnet, indexed both ways.
type subnetEntry struct {
	byKey  map[string]*Record
	byAddr map[string]string // address -> key
}

func newSubnetEntry() *subnetEntry {
	return &subnetEntry{
		byKey:  make(map[string]*Record),
		byAddr: make(map[string]string),
	}
}

// Option customizes the Cache.
type Option func(*Cache)

// WithClock replaces the wall clock (used by tests).
func WithClock(clk clock.Clock) Option {
	return func(c *Cache) {
		c.clock = clk
	}
}

// WithSweepPeriod sets how often the eviction sweep runs (default: cleanup interval).
func WithSweepPeriod(period time.Duration) Option {
	return func(c *Cache) {
		if period > 0 {
			c.sweepPeriod = period
		}
	}
}

// WithMetrics makes the cache report its size and the number of evicted records.
func WithMetrics(size prometheus.Gauge, evicted prometheus.Counter) Option {
	return func(c *Cache) {
		c.size = size
		c.evicted = evicted
	}
}

// New creates a new cache honouring allocations for <cleanupInterval>.
// Call Start to run the background eviction.
func New(log logging.Logger, cleanupInterval time.Duration, opts ...Option) *Cache {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	c := &Cache{
		log:             log,
		clock:           clock.NewClock(),
		cleanupInterval: cleanupInterval,
		sweepPeriod:     cleanupInterval,
		groups:          make(map[string]map[string]*subnetEntry),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start launches the background eviction sweep.
func (c *Cache) Start() {
	c.ctx, c.cancel = context.WithCancel(context.Background())
	ticker := c.clock.NewTicker(c.sweepPeriod)

	c.wg.Add(1)
	go c.sweepLoop(ticker)
}

// Close stops the eviction sweep and waits for it to finish.
func (c *Cache) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return nil
}

// CleanupInterval returns for how long an unconfirmed allocation is honoured.
func (c *Cache) CleanupInterval() time.Duration {
	return c.cleanupInterval
}

// EnsureGroup creates the namespace for the given group if it does not exist yet.
func (c *Cache) EnsureGroup(group string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.groups[group]; !exists {
		c.groups[group] = make(map[string]*subnetEntry)
	}
}

// Lookup returns address cached for <key> in (<group>, <cidr>), nil if there is none.
func (c *Cache) Lookup(group, cidr, key string) net.IP {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry := c.subnet(group, cidr)
	if entry == nil {
		return nil
	}
	if rec, exists := entry.byKey[key]; exists {
		return rec.Address
	}
	return nil
}

// Contains returns true if <ip> is held by any key in (<group>, <cidr>).
func (c *Cache) Contains(ip net.IP, cidr, group string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry := c.subnet(group, cidr)
	if entry == nil {
		return false
	}
	_, held := entry.byAddr[ip.String()]
	return held
}

// Record stores <ip> as the allocation of <key> in (<group>, <cidr>), replacing
// previous allocation of the key. An address is never held by two keys: if another
// key holds <ip>, its allocation is dropped.
func (c *Cache) Record(ip net.IP, key, cidr, group string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.record(c.ensureSubnet(group, cidr), ip, key, cidr, group)
}

// Claim atomically records <ip> for <key> in (<group>, <cidr>) unless the address
// is held by another key.
// If the key already holds an address, that address is returned unchanged
// and nothing is recorded.
// Returns false if the address is held by a different key.
func (c *Cache) Claim(ip net.IP, key, cidr, group string) (held net.IP, claimed bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry := c.ensureSubnet(group, cidr)
	if rec, exists := entry.byKey[key]; exists {
		return rec.Address, true
	}
	if _, taken := entry.byAddr[ip.String()]; taken {
		return nil, false
	}
	c.record(entry, ip, key, cidr, group)
	return ip, true
}

// Forget drops the allocation of <key> in (<group>, <cidr>), but only if the key
// still holds <ip>.
func (c *Cache) Forget(ip net.IP, key, cidr, group string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry := c.subnet(group, cidr)
	if entry == nil {
		return false
	}
	rec, exists := entry.byKey[key]
	if !exists || !rec.Address.Equal(ip) {
		return false
	}
	c.remove(entry, rec)
	return true
}

// ForgetAddress drops whichever allocation holds <ip> in (<group>, <cidr>).
func (c *Cache) ForgetAddress(ip net.IP, cidr, group string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry := c.subnet(group, cidr)
	if entry == nil {
		return false
	}
	key, held := entry.byAddr[ip.String()]
	if !held {
		return false
	}
	c.remove(entry, entry.byKey[key])
	return true
}

// Dump returns a snapshot of all cached allocations ordered by group, subnet and key.
func (c *Cache) Dump() []Record {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var records []Record
	for _, subnets := range c.groups {
		for _, entry := range subnets {
			for _, rec := range entry.byKey {
				records = append(records, *rec)
			}
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Group != records[j].Group {
			return records[i].Group < records[j].Group
		}
		if records[i].CIDR != records[j].CIDR {
			return records[i].CIDR < records[j].CIDR
		}
		return records[i].Key < records[j].Key
	})
	return records
}

// Sweep removes every allocation older than the cleanup interval.
// Returns the number of evicted allocations.
func (c *Cache) Sweep() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.clock.Now()
	var evicted int
	for _, subnets := range c.groups {
		for cidr, entry := range subnets {
			for _, rec := range entry.byKey {
				if now.Sub(rec.IssuedAt) > c.cleanupInterval {
					c.log.Debugf("Evicting cached allocation %v", rec)
					c.remove(entry, rec)
					evicted++
				}
			}
			if len(entry.byKey) == 0 {
				delete(subnets, cidr)
			}
		}
	}
	if c.evicted != nil {
		c.evicted.Add(float64(evicted))
	}
	return evicted
}

// sweepLoop periodically evicts expired allocations until the cache is closed.
func (c *Cache) sweepLoop(ticker clock.Ticker) {
	defer c.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C():
			if evicted := c.Sweep(); evicted > 0 {
				c.log.Infof("Evicted %d expired allocations from the IP cache", evicted)
			}
		}
	}
}

// subnet returns entry for (<group>, <cidr>), nil if it does not exist.
// Must be called with mutex locked.
func (c *Cache) subnet(group, cidr string) *subnetEntry {
	subnets, exists := c.groups[group]
	if !exists {
		return nil
	}
	return subnets[cidr]
}

// ensureSubnet returns entry for (<group>, <cidr>), creating it if needed.
// Must be called with mutex locked.
func (c *Cache) ensureSubnet(group, cidr string) *subnetEntry {
	subnets, exists := c.groups[group]
	if !exists {
		subnets = make(map[string]*subnetEntry)
		c.groups[group] = subnets
	}
	entry, exists := subnets[cidr]
	if !exists {
		entry = newSubnetEntry()
		subnets[cidr] = entry
	}
	return entry
}

// Must be called with mutex locked.
func (c *Cache) record(entry *subnetEntry, ip net.IP, key, cidr, group string) {
	if prev, exists := entry.byKey[key]; exists {
		c.remove(entry, prev)
	}
	if prevKey, taken := entry.byAddr[ip.String()]; taken {
		// the address moves to the new key
		c.remove(entry, entry.byKey[prevKey])
	}
	rec := &Record{
		Group:    group,
		CIDR:     cidr,
		Key:      key,
		Address:  ip,
		IssuedAt: c.clock.Now(),
	}
	entry.byKey[key] = rec
	entry.byAddr[ip.String()] = key
	if c.size != nil {
		c.size.Inc()
	}
	c.log.Debugf("Cached allocation %v", rec)
}

// Must be called with mutex locked.
func (c *Cache) remove(entry *subnetEntry, rec *Record) {
	delete(entry.byKey, rec.Key)
	delete(entry.byAddr, rec.Address.String())
	if c.size != nil {
		c.size.Dec()
	}
}
