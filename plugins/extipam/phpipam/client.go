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

// Package phpipam implements the IPAM backend on top of the phpIPAM REST API.
package phpipam

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ligato/cn-infra/logging"
	"github.com/pkg/errors"
	"golang.org/x/net/context/ctxhttp"

	"github.com/tonysyzer69/smart-proxy-ipam/pkg/ipaddr"
	"github.com/tonysyzer69/smart-proxy-ipam/plugins/extipam/backend"
)

const (
	// DefaultTimeout bounds every request sent to phpIPAM.
	DefaultTimeout = 10 * time.Second

	// TokenHeader carries the API token obtained by Authenticate.
	TokenHeader = "token"

	// description of addresses reserved by the agent
	reservedDescription = "Address auto added by smart-proxy-ipam"
)

// Config is configuration for phpIPAM client.
type Config struct {
	// URL of the phpIPAM server (without the /api suffix).
	URL string
	// User is also the name of the API application.
	User     string
	Password string
	// Timeout of a single request (DefaultTimeout if zero).
	Timeout time.Duration
	// InsecureSkipVerify disables verification of the server certificate.
	InsecureSkipVerify bool
}

// Client is a phpIPAM REST API client implementing backend.Backend.
type Client struct {
	log     logging.Logger
	cfg     Config
	apiBase string
	http    *http.Client

	mutex sync.Mutex
	token string
}

var _ backend.Backend = (*Client)(nil)

// NewClient creates phpIPAM client. Authentication is done lazily by the first
// request unless Authenticate is called explicitly.
func NewClient(log logging.Logger, cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
	}
	return &Client{
		log:     log,
		cfg:     cfg,
		apiBase: strings.TrimSuffix(cfg.URL, "/") + "/api/" + cfg.User + "/",
		http:    &http.Client{Transport: transport},
	}
}

// Authenticate obtains a new API token using basic authorization.
func (c *Client) Authenticate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequest(http.MethodPost, c.apiBase+"user/", nil)
	if err != nil {
		return backend.NewError("authenticate", err)
	}
	req.SetBasicAuth(c.cfg.User, c.cfg.Password)

	resp, err := ctxhttp.Do(ctx, c.http, req)
	if err != nil {
		return backend.NewError("authenticate", err)
	}
	env, err := decodeEnvelope(resp)
	if err != nil {
		return backend.NewError("authenticate", err)
	}
	if env.Message != "" {
		c.log.Warn(env.Message)
	}

	var data struct {
		Token string `json:"token"`
	}
	if env.hasData() {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return backend.NewError("authenticate", err)
		}
	}
	if data.Token == "" {
		return backend.NewError("authenticate",
			errors.Errorf("authentication of user %s failed: %s", c.cfg.User, env.Message))
	}

	c.mutex.Lock()
	c.token = data.Token
	c.mutex.Unlock()
	c.log.Debugf("Authenticated against %s as %s", c.cfg.URL, c.cfg.User)
	return nil
}

// Authenticated returns true if the client holds an API token.
func (c *Client) Authenticated() bool {
	return c.currentToken() != ""
}

// ResolveSubnet returns subnet with the given CIDR. With non-empty group, only
// subnets of that section are considered.
func (c *Client) ResolveSubnet(ctx context.Context, cidr, group string) (*backend.Subnet, error) {
	if group == "" {
		return c.subnetByCIDR(ctx, cidr)
	}
	return c.subnetByGroup(ctx, cidr, group)
}

func (c *Client) subnetByCIDR(ctx context.Context, cidr string) (*backend.Subnet, error) {
	env, err := c.get(ctx, "subnet", "subnets/cidr/"+cidr)
	if err != nil || !env.hasData() {
		return nil, err
	}
	var subnets []apiSubnet
	if err := json.Unmarshal(env.Data, &subnets); err != nil {
		return nil, backend.NewError("subnet", err)
	}
	if len(subnets) == 0 {
		return nil, nil
	}
	return subnets[0].toSubnet(), nil
}

func (c *Client) subnetByGroup(ctx context.Context, cidr, group string) (*backend.Subnet, error) {
	subnets, err := c.Subnets(ctx, group)
	if err != nil {
		return nil, err
	}
	var subnetID string
	for _, subnet := range subnets {
		if subnet.CIDR() == cidr {
			subnetID = subnet.ID
		}
	}
	if subnetID == "" {
		return nil, nil
	}

	env, err := c.get(ctx, "subnet", "subnets/"+subnetID+"/")
	if err != nil || !env.hasData() {
		return nil, err
	}
	subnet := apiSubnet{}
	if err := json.Unmarshal(env.Data, &subnet); err != nil {
		return nil, backend.NewError("subnet", err)
	}
	return subnet.toSubnet(), nil
}

// Group returns section with the given name, nil if it does not exist.
func (c *Client) Group(ctx context.Context, name string) (*backend.Group, error) {
	env, err := c.get(ctx, "group", "sections/"+name+"/")
	if err != nil || !env.hasData() {
		return nil, err
	}
	group := apiSection{}
	if err := json.Unmarshal(env.Data, &group); err != nil {
		return nil, backend.NewError("group", err)
	}
	return group.toGroup(), nil
}

// Groups returns all sections.
func (c *Client) Groups(ctx context.Context) ([]*backend.Group, error) {
	env, err := c.get(ctx, "groups", "sections/")
	if err != nil || !env.hasData() {
		return nil, err
	}
	var sections []apiSection
	if err := json.Unmarshal(env.Data, &sections); err != nil {
		return nil, backend.NewError("groups", err)
	}
	groups := make([]*backend.Group, 0, len(sections))
	for _, section := range sections {
		groups = append(groups, section.toGroup())
	}
	return groups, nil
}

// Subnets returns all subnets of the given section.
func (c *Client) Subnets(ctx context.Context, group string) ([]*backend.Subnet, error) {
	section, err := c.Group(ctx, group)
	if err != nil {
		return nil, err
	}
	if section == nil {
		return nil, errors.Wrapf(backend.ErrNoSubnet, "group %s does not exist", group)
	}

	env, err := c.get(ctx, "subnets", "sections/"+section.ID+"/subnets/")
	if err != nil || !env.hasData() {
		return nil, err
	}
	var apiSubnets []apiSubnet
	if err := json.Unmarshal(env.Data, &apiSubnets); err != nil {
		return nil, backend.NewError("subnets", err)
	}
	subnets := make([]*backend.Subnet, 0, len(apiSubnets))
	for _, subnet := range apiSubnets {
		subnets = append(subnets, subnet.toSubnet())
	}
	return subnets, nil
}

// QueryNextFree returns the first free address of the subnet, or the message
// phpIPAM sent instead.
func (c *Client) QueryNextFree(ctx context.Context, subnetID string) (net.IP, string, error) {
	env, err := c.get(ctx, "first free address", "subnets/"+subnetID+"/first_free/")
	if err != nil {
		return nil, "", err
	}
	if !bool(env.Success) || !env.hasData() {
		return nil, env.Message, nil
	}
	var address string
	if err := json.Unmarshal(env.Data, &address); err != nil {
		return nil, "", backend.NewError("first free address", err)
	}
	ip, err := ipaddr.Parse(address)
	if err != nil {
		return nil, "", backend.NewError("first free address", err)
	}
	return ip, env.Message, nil
}

// AddressExists returns true if the address is stored in the subnet.
func (c *Client) AddressExists(ctx context.Context, ip net.IP, subnetID string) (bool, error) {
	env, err := c.get(ctx, "address search", "subnets/"+subnetID+"/addresses/"+ip.String()+"/")
	if err != nil {
		return false, err
	}
	return bool(env.Success), nil
}

// Reserve stores the address in the subnet.
func (c *Client) Reserve(ctx context.Context, ip net.IP, subnetID string) error {
	body := apiAddress{
		SubnetID:    subnetID,
		IP:          ip.String(),
		Description: reservedDescription,
	}
	env, err := c.do(ctx, "reserve", http.MethodPost, "addresses/", body)
	if err != nil {
		return err
	}
	if env.Code != http.StatusCreated {
		return errors.Errorf("unable to add address %v to subnet %s: %s", ip, subnetID, env.Message)
	}
	return nil
}

// Release removes the address from the subnet.
func (c *Client) Release(ctx context.Context, ip net.IP, subnetID string) error {
	env, err := c.do(ctx, "release", http.MethodDelete, "addresses/"+ip.String()+"/"+subnetID+"/", nil)
	if err != nil {
		return err
	}
	if !env.Success {
		return errors.Errorf("unable to delete address %v from subnet %s: %s", ip, subnetID, env.Message)
	}
	return nil
}

func (c *Client) get(ctx context.Context, op, path string) (*envelope, error) {
	return c.do(ctx, op, http.MethodGet, path, nil)
}

// do sends authenticated request, re-authenticating once if the token expired.
func (c *Client) do(ctx context.Context, op, method, path string, body interface{}) (*envelope, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, errors.Wrapf(err, "failed to encode %s request", op)
		}
	}

	if !c.Authenticated() {
		if err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
	}
	env, status, err := c.send(ctx, method, path, payload)
	if err == nil && status == http.StatusUnauthorized {
		c.log.Debugf("Token rejected by %s, authenticating again", c.cfg.URL)
		if err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
		env, status, err = c.send(ctx, method, path, payload)
	}
	if err != nil {
		return nil, backend.NewError(op, err)
	}
	if status == http.StatusUnauthorized {
		return nil, backend.NewError(op, errors.Errorf("unauthorized: %s", env.Message))
	}
	return env, nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte) (*envelope, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, c.apiBase+path, body)
	if err != nil {
		return nil, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(TokenHeader, c.currentToken())

	resp, err := ctxhttp.Do(ctx, c.http, req)
	if err != nil {
		return nil, 0, err
	}
	env, err := decodeEnvelope(resp)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return env, resp.StatusCode, nil
}

func (c *Client) currentToken() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.token
}
