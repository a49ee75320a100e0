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
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/unrolled/render"

	"github.com/tonysyzer69/smart-proxy-ipam/pkg/ipaddr"
	"github.com/tonysyzer69/smart-proxy-ipam/plugins/extipam/allocator"
	"github.com/tonysyzer69/smart-proxy-ipam/plugins/extipam/backend"
	"github.com/tonysyzer69/smart-proxy-ipam/plugins/extipam/restapi"
)

type restHandler struct {
	path     string
	method   string
	provider func(formatter *render.Render) http.HandlerFunc
}

func (p *ExtIPAM) restHandlers() []restHandler {
	return []restHandler{
		{restapi.RestURLNextIP, http.MethodGet, p.nextIPHandler},
		{restapi.RestURLSubnet, http.MethodGet, p.subnetHandler},
		{restapi.RestURLAddress, http.MethodPost, p.reserveHandler},
		{restapi.RestURLAddress, http.MethodDelete, p.releaseHandler},
		{restapi.RestURLGroups, http.MethodGet, p.groupsHandler},
		{restapi.RestURLCache, http.MethodGet, p.cacheHandler},
	}
}

func (p *ExtIPAM) registerRESTHandlers() {
	if p.HTTPHandlers == nil {
		p.Log.Warnf("No http handler provided, skipping registration of external IPAM REST handlers")
		return
	}
	for _, handler := range p.restHandlers() {
		p.HTTPHandlers.RegisterHTTPHandler(handler.path, handler.provider, handler.method)
		p.Log.Infof("External IPAM REST handler registered: %s %s", handler.method, handler.path)
	}
}

func (p *ExtIPAM) nextIPHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		cidr := requestCIDR(req)
		mac := req.URL.Query().Get(restapi.MACParam)
		if mac == "" {
			formatter.JSON(w, http.StatusBadRequest, restapi.Error{Error: "missing mac parameter"})
			return
		}

		result, err := p.NextAddress(req.Context(), mac, cidr, requestGroup(req))
		if err != nil {
			p.replyError(formatter, w, err)
			return
		}

		reply := restapi.NextIP{
			CIDR:    cidr,
			Address: result.Address,
			Status:  result.Status.String(),
		}
		switch result.Status {
		case allocator.NoFreeAddresses:
			reply.Message = result.Message
		case allocator.Unresolved:
			reply.Warning = result.Message
		}
		formatter.JSON(w, http.StatusOK, reply)
	}
}

func (p *ExtIPAM) subnetHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		subnet, err := p.Subnet(req.Context(), requestCIDR(req), requestGroup(req))
		if err != nil {
			p.replyError(formatter, w, err)
			return
		}
		formatter.JSON(w, http.StatusOK, restapi.Subnet{
			ID:          subnet.ID,
			CIDR:        subnet.CIDR(),
			Description: subnet.Description,
		})
	}
}

func (p *ExtIPAM) reserveHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ip, err := ipaddr.Parse(mux.Vars(req)["ip"])
		if err == nil {
			err = p.ReserveAddress(req.Context(), ip, requestCIDR(req), requestGroup(req))
		}
		if err != nil {
			p.replyError(formatter, w, err)
			return
		}
		formatter.JSON(w, http.StatusCreated, nil)
	}
}

func (p *ExtIPAM) releaseHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ip, err := ipaddr.Parse(mux.Vars(req)["ip"])
		if err == nil {
			err = p.ReleaseAddress(req.Context(), ip, requestCIDR(req), requestGroup(req))
		}
		if err != nil {
			p.replyError(formatter, w, err)
			return
		}
		formatter.JSON(w, http.StatusOK, nil)
	}
}

func (p *ExtIPAM) groupsHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		groups, err := p.Groups(req.Context())
		if err != nil {
			p.replyError(formatter, w, err)
			return
		}
		reply := make([]restapi.Group, 0, len(groups))
		for _, group := range groups {
			reply = append(reply, restapi.Group{
				ID:          group.ID,
				Name:        group.Name,
				Description: group.Description,
			})
		}
		formatter.JSON(w, http.StatusOK, reply)
	}
}

func (p *ExtIPAM) cacheHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		p.Log.Debug("Getting cached allocations")

		records := p.CachedAllocations()
		reply := make([]restapi.Allocation, 0, len(records))
		for _, record := range records {
			reply = append(reply, restapi.Allocation{
				Group:    record.Group,
				CIDR:     record.CIDR,
				MAC:      record.Key,
				Address:  record.Address,
				IssuedAt: record.IssuedAt,
			})
		}
		formatter.JSON(w, http.StatusOK, reply)
	}
}

// replyError translates error into HTTP status code.
func (p *ExtIPAM) replyError(formatter *render.Render, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var exhausted *allocator.ExhaustedError
	switch {
	case errors.As(err, &exhausted):
		status = http.StatusConflict
	case errors.Is(err, ipaddr.ErrInvalidAddress):
		status = http.StatusBadRequest
	case errors.Is(err, backend.ErrNoSubnet):
		status = http.StatusNotFound
	case errors.Is(err, backend.ErrBackendUnavailable):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		p.Log.Error(err)
	}
	formatter.JSON(w, status, restapi.Error{Error: err.Error()})
}

func requestCIDR(req *http.Request) string {
	vars := mux.Vars(req)
	return vars["address"] + "/" + vars["prefix"]
}

func requestGroup(req *http.Request) string {
	return req.URL.Query().Get(restapi.GroupParam)
}
