// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pinata

import (
	"sync"

	"github.com/blinklabs-io/attest/database/plugin"
)

var (
	cmdlineOptions struct {
		jwt        string
		apiUrl     string
		gatewayUrl string
	}
	cmdlineOptionsMutex sync.RWMutex
)

func initCmdlineOptions() {
	cmdlineOptionsMutex.Lock()
	defer cmdlineOptionsMutex.Unlock()
	cmdlineOptions.apiUrl = DefaultApiUrl
	cmdlineOptions.gatewayUrl = DefaultGatewayUrl
}

func init() {
	initCmdlineOptions()
	plugin.Register(
		plugin.PluginEntry{
			Type:               plugin.PluginTypeBlob,
			Name:               "pinata",
			Description:        "Pinata IPFS pinning service",
			NewFromOptionsFunc: NewFromCmdlineOptions,
			Options: []plugin.PluginOption{
				{
					Name:         "jwt",
					Type:         plugin.PluginOptionTypeString,
					Description:  "Pinata API JWT",
					DefaultValue: "",
					Dest:         &(cmdlineOptions.jwt),
				},
				{
					Name:         "api-url",
					Type:         plugin.PluginOptionTypeString,
					Description:  "Pinata API base URL",
					DefaultValue: DefaultApiUrl,
					Dest:         &(cmdlineOptions.apiUrl),
				},
				{
					Name:         "gateway-url",
					Type:         plugin.PluginOptionTypeString,
					Description:  "IPFS gateway base URL",
					DefaultValue: DefaultGatewayUrl,
					Dest:         &(cmdlineOptions.gatewayUrl),
				},
			},
		},
	)
}

func NewFromCmdlineOptions() plugin.Plugin {
	logger, promRegistry := plugin.Runtime()
	cmdlineOptionsMutex.RLock()
	opts := []BlobStorePinataOptionFunc{
		WithLogger(logger),
		WithPromRegistry(promRegistry),
		WithJwt(cmdlineOptions.jwt),
		WithApiUrl(cmdlineOptions.apiUrl),
		WithGatewayUrl(cmdlineOptions.gatewayUrl),
	}
	cmdlineOptionsMutex.RUnlock()
	return NewWithOptions(opts...)
}
