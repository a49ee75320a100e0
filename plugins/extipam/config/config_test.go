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
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ligato/cn-infra/config"
	. "github.com/onsi/gomega"
)

const sampleConfig = `
url: https://ipam.example.com
user: foreman
password: secret
cleanupInterval: 120
maxRetries: 3
insecureSkipVerify: true
`

func TestParseConfig(t *testing.T) {
	RegisterTestingT(t)

	dir, err := ioutil.TempDir("", "extipam")
	Expect(err).ShouldNot(HaveOccurred())
	defer os.RemoveAll(dir)
	file := filepath.Join(dir, "extipam.conf")
	Expect(ioutil.WriteFile(file, []byte(sampleConfig), 0644)).To(Succeed())

	cfg := DefaultConfig()
	Expect(config.ParseConfigFromYamlFile(file, cfg)).To(Succeed())
	cfg.ApplyDefaults()

	Expect(cfg.Provider).To(Equal(DefaultProvider))
	Expect(cfg.CleanupIntervalDuration()).To(Equal(2 * time.Minute))
	Expect(cfg.SweepPeriodDuration()).To(Equal(2 * time.Minute))
	Expect(cfg.MaxRetries).To(BeEquivalentTo(3))

	client := cfg.PhpIPAM()
	Expect(client.URL).To(Equal("https://ipam.example.com"))
	Expect(client.User).To(Equal("foreman"))
	Expect(client.Timeout).To(Equal(10 * time.Second))
	Expect(client.InsecureSkipVerify).To(BeTrue())
}

func TestApplyDefaults(t *testing.T) {
	RegisterTestingT(t)

	cfg := &Config{SweepPeriod: 5}
	cfg.ApplyDefaults()
	Expect(cfg.CleanupInterval).To(BeEquivalentTo(60))
	Expect(cfg.SweepPeriod).To(BeEquivalentTo(5))
	Expect(cfg.MaxRetries).To(BeEquivalentTo(5))
	Expect(cfg.RequestTimeout).To(BeEquivalentTo(10))
}

func TestStringMasksPassword(t *testing.T) {
	RegisterTestingT(t)

	cfg := DefaultConfig()
	cfg.Password = "secret"
	Expect(cfg.String()).ToNot(ContainSubstring("secret"))
	Expect(cfg.String()).To(ContainSubstring("Password:***"))
	Expect(cfg.Password).To(Equal("secret"))
}
