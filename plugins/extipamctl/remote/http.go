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

package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ligato/cn-infra/config"
	"github.com/pkg/errors"
	"golang.org/x/net/context/ctxhttp"

	"github.com/tonysyzer69/smart-proxy-ipam/pkg/ipaddr"
	"github.com/tonysyzer69/smart-proxy-ipam/plugins/extipam/restapi"
)

const (
	// DefaultAgent is the default address of the agent REST API.
	DefaultAgent = "localhost:9191"

	// ConfigEnv is environment variable with the path to the client configuration file.
	ConfigEnv = "EXTIPAMCTL_CONFIG"

	defaultTimeout = 30 * time.Second
)

// HTTPClient wraps http.Client with configured authorization and agent address.
type HTTPClient struct {
	// Config for this client
	Config *HTTPClientConfig

	http *http.Client
}

// HTTPClientConfig is configuration for http client
type HTTPClientConfig struct {
	// Agent is host:port of the agent REST API
	Agent string `json:"agent"`
	// Basic authorization for client
	BasicAuth string `json:"basic-auth"`
	// If https or http should be used
	UseHTTPS bool `json:"use-https"`
}

// CreateHTTPClient uses environment variable EXTIPAMCTL_CONFIG or the given
// config file to configure the client. Non-empty agent overrides the configured one.
func CreateHTTPClient(configFile, agent string) (*HTTPClient, error) {
	if configFile == "" {
		configFile = os.Getenv(ConfigEnv)
	}

	cfg := &HTTPClientConfig{Agent: DefaultAgent}
	if configFile != "" {
		if err := config.ParseConfigFromYamlFile(configFile, cfg); err != nil {
			return nil, err
		}
	}
	if agent != "" {
		cfg.Agent = agent
	}
	if cfg.BasicAuth != "" && len(strings.Split(cfg.BasicAuth, ":")) != 2 {
		return nil, fmt.Errorf("invalid format of basic auth entry '%v' expected 'user:pass'", cfg.BasicAuth)
	}

	return &HTTPClient{
		Config: cfg,
		http:   &http.Client{Timeout: defaultTimeout},
	}, nil
}

// NextIP asks the agent for the next free address of the subnet.
func (client *HTTPClient) NextIP(ctx context.Context, cidr, mac, group string) (*restapi.NextIP, error) {
	path, err := subnetPath(cidr, "next_ip")
	if err != nil {
		return nil, err
	}
	query := url.Values{restapi.MACParam: {mac}}
	addGroup(query, group)

	reply := &restapi.NextIP{}
	if err := client.do(ctx, http.MethodGet, path, query, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// Subnet returns the subnet record.
func (client *HTTPClient) Subnet(ctx context.Context, cidr, group string) (*restapi.Subnet, error) {
	path, err := subnetPath(cidr, "")
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	addGroup(query, group)

	reply := &restapi.Subnet{}
	if err := client.do(ctx, http.MethodGet, path, query, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// Reserve stores the address in the external IPAM.
func (client *HTTPClient) Reserve(ctx context.Context, cidr string, ip net.IP, group string) error {
	return client.addressRequest(ctx, http.MethodPost, cidr, ip, group)
}

// Release removes the address from the external IPAM.
func (client *HTTPClient) Release(ctx context.Context, cidr string, ip net.IP, group string) error {
	return client.addressRequest(ctx, http.MethodDelete, cidr, ip, group)
}

// Groups returns all allocation groups.
func (client *HTTPClient) Groups(ctx context.Context) ([]restapi.Group, error) {
	var reply []restapi.Group
	if err := client.do(ctx, http.MethodGet, restapi.RestURLGroups, nil, &reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// Cache returns all addresses cached by the agent.
func (client *HTTPClient) Cache(ctx context.Context) ([]restapi.Allocation, error) {
	var reply []restapi.Allocation
	if err := client.do(ctx, http.MethodGet, restapi.RestURLCache, nil, &reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (client *HTTPClient) addressRequest(ctx context.Context, method, cidr string, ip net.IP, group string) error {
	if ip == nil {
		return ipaddr.ErrInvalidAddress
	}
	path, err := subnetPath(cidr, ip.String())
	if err != nil {
		return err
	}
	query := url.Values{}
	addGroup(query, group)
	return client.do(ctx, method, path, query, nil)
}

// Helper function to create url from config
func (client *HTTPClient) createURL(path string, query url.Values) string {
	scheme := "http"
	if client.Config.UseHTTPS {
		scheme = "https"
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     client.Config.Agent,
		Path:     path,
		RawQuery: query.Encode(),
	}
	return u.String()
}

// do sends request using correct authentication and decodes the JSON reply into <out>.
func (client *HTTPClient) do(ctx context.Context, method, path string, query url.Values, out interface{}) error {
	req, err := http.NewRequest(method, client.createURL(path, query), nil)
	if err != nil {
		return err
	}
	if len(client.Config.BasicAuth) > 0 {
		fields := strings.Split(client.Config.BasicAuth, ":")
		req.SetBasicAuth(fields[0], fields[1])
	}

	resp, err := ctxhttp.Do(ctx, client.http, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		replyErr := restapi.Error{}
		if json.Unmarshal(body, &replyErr) == nil && replyErr.Error != "" {
			return errors.Errorf("%s: %s", resp.Status, replyErr.Error)
		}
		return errors.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(body, out), "failed to decode agent reply")
}

func subnetPath(cidr, suffix string) (string, error) {
	subnet, err := ipaddr.ParseCIDR(cidr)
	if err != nil {
		return "", err
	}
	path := restapi.RESTPrefix + "subnet/" + subnet.String()
	if suffix != "" {
		path += "/" + suffix
	}
	return path, nil
}

func addGroup(query url.Values, group string) {
	if group != "" {
		query.Set(restapi.GroupParam, group)
	}
}
