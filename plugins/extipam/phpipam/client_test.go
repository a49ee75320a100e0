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

package phpipam

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/ligato/cn-infra/logging/logrus"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/tonysyzer69/smart-proxy-ipam/plugins/extipam/backend"
)

const (
	appID    = "app"
	password = "secret"
)

// fakeIPAM emulates the subset of phpIPAM API used by the client.
type fakeIPAM struct {
	sync.Mutex

	token        string
	logins       int
	firstFree    string
	firstFreeMsg string
	reserved     map[string]string // address -> description
	delay        time.Duration
}

func newFakeIPAM() *fakeIPAM {
	return &fakeIPAM{
		firstFree: "10.0.0.5",
		reserved:  make(map[string]string),
	}
}

func (f *fakeIPAM) expireToken() {
	f.Lock()
	defer f.Unlock()
	f.token = ""
}

func (f *fakeIPAM) loginCount() int {
	f.Lock()
	defer f.Unlock()
	return f.logins
}

func reply(w http.ResponseWriter, code int, success interface{}, data interface{}, message string) {
	body := map[string]interface{}{"code": code, "success": success}
	if data != nil {
		body["data"] = data
	}
	if message != "" {
		body["message"] = message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func (f *fakeIPAM) router() http.Handler {
	router := mux.NewRouter()
	api := router.PathPrefix("/api/" + appID).Subrouter()

	api.HandleFunc("/user/", func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		if user != appID || pass != password {
			reply(w, http.StatusUnauthorized, false, nil, "Invalid username or password")
			return
		}
		f.Lock()
		f.logins++
		f.token = "token-" + string(rune('0'+f.logins))
		token := f.token
		f.Unlock()
		reply(w, http.StatusOK, true, map[string]string{"token": token, "expires": "2019-06-01 12:00:00"}, "")
	}).Methods(http.MethodPost)

	api.HandleFunc("/subnets/cidr/{address}/{prefix}", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		if vars["address"]+"/"+vars["prefix"] != "10.0.0.0/24" {
			reply(w, http.StatusOK, 0, nil, "No subnets found")
			return
		}
		reply(w, http.StatusOK, 1, []map[string]string{
			{"id": "7", "subnet": "10.0.0.0", "mask": "24", "description": "lab"},
		}, "")
	}).Methods(http.MethodGet)

	api.HandleFunc("/sections/", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, true, []map[string]interface{}{
			{"id": 3, "name": "ops", "description": "operations"},
			{"id": 4, "name": "dev", "description": nil},
		}, "")
	}).Methods(http.MethodGet)

	api.HandleFunc("/sections/{name}/", func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["name"] != "ops" {
			reply(w, http.StatusNotFound, false, nil, "Not found")
			return
		}
		reply(w, http.StatusOK, true, map[string]interface{}{"id": 3, "name": "ops", "description": "operations"}, "")
	}).Methods(http.MethodGet)

	api.HandleFunc("/sections/{id}/subnets/", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, true, []map[string]interface{}{
			{"id": 8, "subnet": "192.168.1.0", "mask": 24, "description": "mgmt"},
			{"id": 9, "subnet": "10.0.0.0", "mask": 24, "description": "ops lab"},
		}, "")
	}).Methods(http.MethodGet)

	api.HandleFunc("/subnets/{id}/", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, true, map[string]interface{}{
			"id": mux.Vars(r)["id"], "subnet": "10.0.0.0", "mask": "24", "description": "ops lab",
		}, "")
	}).Methods(http.MethodGet)

	api.HandleFunc("/subnets/{id}/first_free/", func(w http.ResponseWriter, r *http.Request) {
		f.Lock()
		firstFree, msg := f.firstFree, f.firstFreeMsg
		f.Unlock()
		if msg != "" {
			reply(w, http.StatusOK, false, nil, msg)
			return
		}
		reply(w, http.StatusOK, true, firstFree, "")
	}).Methods(http.MethodGet)

	api.HandleFunc("/subnets/{id}/addresses/{ip}/", func(w http.ResponseWriter, r *http.Request) {
		f.Lock()
		_, exists := f.reserved[mux.Vars(r)["ip"]]
		f.Unlock()
		if !exists {
			reply(w, http.StatusNotFound, 0, nil, "No addresses found")
			return
		}
		reply(w, http.StatusOK, 1, []map[string]string{{"ip": mux.Vars(r)["ip"]}}, "")
	}).Methods(http.MethodGet)

	api.HandleFunc("/addresses/", func(w http.ResponseWriter, r *http.Request) {
		var addr apiAddress
		if err := json.NewDecoder(r.Body).Decode(&addr); err != nil || addr.SubnetID != "7" {
			reply(w, http.StatusBadRequest, false, nil, "Invalid subnet")
			return
		}
		f.Lock()
		defer f.Unlock()
		if _, exists := f.reserved[addr.IP]; exists {
			reply(w, http.StatusConflict, false, nil, "IP address already exists")
			return
		}
		f.reserved[addr.IP] = addr.Description
		reply(w, http.StatusCreated, true, nil, "Address created")
	}).Methods(http.MethodPost)

	api.HandleFunc("/addresses/{ip}/{subnetId}/", func(w http.ResponseWriter, r *http.Request) {
		f.Lock()
		defer f.Unlock()
		ip := mux.Vars(r)["ip"]
		if _, exists := f.reserved[ip]; !exists {
			reply(w, http.StatusNotFound, false, nil, "Address does not exist")
			return
		}
		delete(f.reserved, ip)
		reply(w, http.StatusOK, true, nil, "Address deleted")
	}).Methods(http.MethodDelete)

	// every API call except for authentication requires valid token
	api.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			f.Lock()
			token, delay := f.token, f.delay
			f.Unlock()
			time.Sleep(delay)
			if r.URL.Path != "/api/"+appID+"/user/" && (token == "" || r.Header.Get(TokenHeader) != token) {
				reply(w, http.StatusUnauthorized, false, nil, "Token expired")
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	return router
}

func newClient(url string, pass string) *Client {
	return NewClient(logrus.DefaultLogger(), Config{
		URL:      url,
		User:     appID,
		Password: pass,
		Timeout:  time.Second,
	})
}

func TestAuthenticate(t *testing.T) {
	RegisterTestingT(t)
	fake := newFakeIPAM()
	server := httptest.NewServer(fake.router())
	defer server.Close()
	ctx := context.Background()

	client := newClient(server.URL, "wrong")
	err := client.Authenticate(ctx)
	Expect(errors.Is(err, backend.ErrBackendUnavailable)).To(BeTrue())
	Expect(err.Error()).To(ContainSubstring("Invalid username or password"))
	Expect(client.Authenticated()).To(BeFalse())

	client = newClient(server.URL+"/", password)
	Expect(client.Authenticate(ctx)).To(Succeed())
	Expect(client.Authenticated()).To(BeTrue())
	Expect(fake.loginCount()).To(Equal(1))
}

func TestTokenRenewal(t *testing.T) {
	RegisterTestingT(t)
	fake := newFakeIPAM()
	server := httptest.NewServer(fake.router())
	defer server.Close()
	ctx := context.Background()
	client := newClient(server.URL, password)

	// the first request authenticates
	ip, _, err := client.QueryNextFree(ctx, "7")
	Expect(err).ShouldNot(HaveOccurred())
	Expect(ip).To(Equal(net.ParseIP("10.0.0.5").To4()))
	Expect(fake.loginCount()).To(Equal(1))

	_, _, err = client.QueryNextFree(ctx, "7")
	Expect(err).ShouldNot(HaveOccurred())
	Expect(fake.loginCount()).To(Equal(1))

	fake.expireToken()
	_, _, err = client.QueryNextFree(ctx, "7")
	Expect(err).ShouldNot(HaveOccurred())
	Expect(fake.loginCount()).To(Equal(2))
}

func TestResolveSubnet(t *testing.T) {
	RegisterTestingT(t)
	server := httptest.NewServer(newFakeIPAM().router())
	defer server.Close()
	ctx := context.Background()
	client := newClient(server.URL, password)

	subnet, err := client.ResolveSubnet(ctx, "10.0.0.0/24", "")
	Expect(err).ShouldNot(HaveOccurred())
	Expect(subnet).To(Equal(&backend.Subnet{ID: "7", Subnet: "10.0.0.0", Mask: "24", Description: "lab"}))

	subnet, err = client.ResolveSubnet(ctx, "172.16.0.0/16", "")
	Expect(err).ShouldNot(HaveOccurred())
	Expect(subnet).To(BeNil())

	// numeric IDs and masks are accepted
	subnet, err = client.ResolveSubnet(ctx, "10.0.0.0/24", "ops")
	Expect(err).ShouldNot(HaveOccurred())
	Expect(subnet.ID).To(Equal("9"))
	Expect(subnet.CIDR()).To(Equal("10.0.0.0/24"))
	Expect(subnet.Description).To(Equal("ops lab"))

	subnet, err = client.ResolveSubnet(ctx, "172.16.0.0/16", "ops")
	Expect(err).ShouldNot(HaveOccurred())
	Expect(subnet).To(BeNil())

	_, err = client.ResolveSubnet(ctx, "10.0.0.0/24", "qa")
	Expect(errors.Is(err, backend.ErrNoSubnet)).To(BeTrue())
}

func TestGroups(t *testing.T) {
	RegisterTestingT(t)
	server := httptest.NewServer(newFakeIPAM().router())
	defer server.Close()
	ctx := context.Background()
	client := newClient(server.URL, password)

	groups, err := client.Groups(ctx)
	Expect(err).ShouldNot(HaveOccurred())
	Expect(groups).To(Equal([]*backend.Group{
		{ID: "3", Name: "ops", Description: "operations"},
		{ID: "4", Name: "dev"},
	}))

	group, err := client.Group(ctx, "dev-null")
	Expect(err).ShouldNot(HaveOccurred())
	Expect(group).To(BeNil())

	subnets, err := client.Subnets(ctx, "ops")
	Expect(err).ShouldNot(HaveOccurred())
	Expect(subnets).To(HaveLen(2))
	Expect(subnets[0].CIDR()).To(Equal("192.168.1.0/24"))
}

func TestQueryNextFree(t *testing.T) {
	RegisterTestingT(t)
	fake := newFakeIPAM()
	server := httptest.NewServer(fake.router())
	defer server.Close()
	client := newClient(server.URL, password)

	ip, msg, err := client.QueryNextFree(context.Background(), "7")
	Expect(err).ShouldNot(HaveOccurred())
	Expect(ip.String()).To(Equal("10.0.0.5"))
	Expect(msg).To(BeEmpty())

	fake.Lock()
	fake.firstFreeMsg = "No free addresses found"
	fake.Unlock()
	ip, msg, err = client.QueryNextFree(context.Background(), "7")
	Expect(err).ShouldNot(HaveOccurred())
	Expect(ip).To(BeNil())
	Expect(backend.IsNoFreeAddresses(msg)).To(BeTrue())

	fake.Lock()
	fake.firstFreeMsg = ""
	fake.firstFree = "not-an-address"
	fake.Unlock()
	_, _, err = client.QueryNextFree(context.Background(), "7")
	Expect(errors.Is(err, backend.ErrBackendUnavailable)).To(BeTrue())
}

func TestReserveAndRelease(t *testing.T) {
	RegisterTestingT(t)
	fake := newFakeIPAM()
	server := httptest.NewServer(fake.router())
	defer server.Close()
	ctx := context.Background()
	client := newClient(server.URL, password)
	ip := net.ParseIP("10.0.0.5")

	exists, err := client.AddressExists(ctx, ip, "7")
	Expect(err).ShouldNot(HaveOccurred())
	Expect(exists).To(BeFalse())

	Expect(client.Reserve(ctx, ip, "7")).To(Succeed())
	Expect(fake.reserved).To(HaveKeyWithValue("10.0.0.5", reservedDescription))
	exists, err = client.AddressExists(ctx, ip, "7")
	Expect(err).ShouldNot(HaveOccurred())
	Expect(exists).To(BeTrue())

	err = client.Reserve(ctx, ip, "7")
	Expect(err).To(HaveOccurred())
	Expect(err.Error()).To(ContainSubstring("already exists"))

	Expect(client.Release(ctx, ip, "7")).To(Succeed())
	exists, err = client.AddressExists(ctx, ip, "7")
	Expect(err).ShouldNot(HaveOccurred())
	Expect(exists).To(BeFalse())
	Expect(client.Release(ctx, ip, "7")).ToNot(Succeed())
}

func TestBackendUnavailable(t *testing.T) {
	RegisterTestingT(t)
	ctx := context.Background()

	// server error
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	client := newClient(server.URL, password)
	_, err := client.Groups(ctx)
	Expect(errors.Is(err, backend.ErrBackendUnavailable)).To(BeTrue())
	server.Close()

	// not a phpIPAM server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>login</html>"))
	}))
	client = newClient(server.URL, password)
	_, err = client.Groups(ctx)
	Expect(errors.Is(err, backend.ErrBackendUnavailable)).To(BeTrue())
	server.Close()

	// connection refused
	_, err = client.Groups(ctx)
	Expect(errors.Is(err, backend.ErrBackendUnavailable)).To(BeTrue())

	// request timeout
	fake := newFakeIPAM()
	server = httptest.NewServer(fake.router())
	defer server.Close()
	client = newClient(server.URL, password)
	Expect(client.Authenticate(ctx)).To(Succeed())
	fake.Lock()
	fake.delay = 2 * time.Second
	fake.Unlock()
	_, err = client.Groups(ctx)
	Expect(errors.Is(err, backend.ErrBackendUnavailable)).To(BeTrue())
}
