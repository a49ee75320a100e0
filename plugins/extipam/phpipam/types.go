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
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/tonysyzer69/smart-proxy-ipam/plugins/extipam/backend"
)

// envelope is the common wrapper of every phpIPAM response.
type envelope struct {
	Code    int             `json:"code"`
	Success flag            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

func (e *envelope) hasData() bool {
	return len(e.Data) > 0 && string(e.Data) != "null"
}

func decodeEnvelope(resp *http.Response) (*envelope, error) {
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, errors.Errorf("server responded with %s", resp.Status)
	}
	env := &envelope{}
	if err := json.NewDecoder(resp.Body).Decode(env); err != nil {
		return nil, errors.Wrapf(err, "failed to decode response (%s)", resp.Status)
	}
	return env, nil
}

// flag is a boolean that phpIPAM encodes as true/false, 0/1 or "0"/"1".
type flag bool

// UnmarshalJSON decodes any of the boolean representations.
func (f *flag) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "true", "1":
		*f = true
	case "false", "0", "", "null":
		*f = false
	default:
		return errors.Errorf("invalid boolean value %s", data)
	}
	return nil
}

// text is a string that phpIPAM may also encode as a number (e.g. IDs).
type text string

// UnmarshalJSON accepts strings, numbers and null.
func (t *text) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*t = text(str)
		return nil
	}
	if string(data) == "null" {
		*t = ""
		return nil
	}
	*t = text(data)
	return nil
}

type apiSubnet struct {
	ID          text `json:"id"`
	Subnet      text `json:"subnet"`
	Mask        text `json:"mask"`
	Description text `json:"description"`
}

func (s apiSubnet) toSubnet() *backend.Subnet {
	return &backend.Subnet{
		ID:          string(s.ID),
		Subnet:      string(s.Subnet),
		Mask:        string(s.Mask),
		Description: string(s.Description),
	}
}

type apiSection struct {
	ID          text `json:"id"`
	Name        text `json:"name"`
	Description text `json:"description"`
}

func (s apiSection) toGroup() *backend.Group {
	return &backend.Group{
		ID:          string(s.ID),
		Name:        string(s.Name),
		Description: string(s.Description),
	}
}

type apiAddress struct {
	SubnetID    string `json:"subnetId"`
	IP          string `json:"ip"`
	Description string `json:"description"`
}
