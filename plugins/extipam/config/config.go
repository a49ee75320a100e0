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

package config

import (
	"fmt"
	"time"

	"github.com/tonysyzer69/smart-proxy-ipam/plugins/extipam/phpipam"
)

const (
	// DefaultProvider is the only supported remote IPAM.
	DefaultProvider = "phpipam"

	defaultCleanupInterval = 60 // seconds
	defaultMaxRetries      = 5
	defaultRequestTimeout  = 10 // seconds
)

// Config holds the external IPAM configuration.
type Config struct {
	// identity of the remote IPAM used in logs and metrics
	Provider string `json:"provider"`

	// remote IPAM access
	URL      string `json:"url"`
	User     string `json:"user"`
	Password string `json:"password"`

	// how long (in seconds) a suggested address stays cached
	CleanupInterval uint32 `json:"cleanupInterval"`

	// how often (in seconds) expired cache entries are evicted, defaults to CleanupInterval
	SweepPeriod uint32 `json:"sweepPeriod"`

	// number of addresses tried when the suggested address is already cached
	MaxRetries uint32 `json:"maxRetries"`

	// timeout (in seconds) of a single request sent to the remote IPAM
	RequestTimeout uint32 `json:"requestTimeout"`

	// if true, certificate of the remote IPAM is not verified
	InsecureSkipVerify bool `json:"insecureSkipVerify"`
}

// DefaultConfig returns configuration for external IPAM plugin with default values.
func DefaultConfig() *Config {
	return &Config{
		Provider:        DefaultProvider,
		CleanupInterval: defaultCleanupInterval,
		MaxRetries:      defaultMaxRetries,
		RequestTimeout:  defaultRequestTimeout,
	}
}

// ApplyDefaults replaces unset (zero) values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Provider == "" {
		c.Provider = defaults.Provider
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = defaults.CleanupInterval
	}
	if c.SweepPeriod == 0 {
		c.SweepPeriod = c.CleanupInterval
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaults.RequestTimeout
	}
}

// CleanupIntervalDuration returns CleanupInterval as time.Duration.
func (c *Config) CleanupIntervalDuration() time.Duration {
	return time.Duration(c.CleanupInterval) * time.Second
}

// SweepPeriodDuration returns SweepPeriod as time.Duration.
func (c *Config) SweepPeriodDuration() time.Duration {
	return time.Duration(c.SweepPeriod) * time.Second
}

// PhpIPAM returns configuration for the phpIPAM client.
func (c *Config) PhpIPAM() phpipam.Config {
	return phpipam.Config{
		URL:                c.URL,
		User:               c.User,
		Password:           c.Password,
		Timeout:            time.Duration(c.RequestTimeout) * time.Second,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}
}

// String returns the configuration with the password masked.
func (c Config) String() string {
	if c.Password != "" {
		c.Password = "***"
	}
	type plain Config
	return fmt.Sprintf("%+v", plain(c))
}
