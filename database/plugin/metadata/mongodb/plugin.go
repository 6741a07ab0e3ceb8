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

package mongodb

import (
	"sync"

	"github.com/blinklabs-io/attest/database/plugin"
)

var (
	cmdlineOptions struct {
		uri        string
		database   string
		collection string
	}
	cmdlineOptionsMutex sync.RWMutex
)

func initCmdlineOptions() {
	cmdlineOptionsMutex.Lock()
	defer cmdlineOptionsMutex.Unlock()
	cmdlineOptions.uri = DefaultUri
	cmdlineOptions.database = DefaultDatabase
	cmdlineOptions.collection = DefaultCollection
}

// Register plugin
func init() {
	initCmdlineOptions()
	plugin.Register(
		plugin.PluginEntry{
			Type:               plugin.PluginTypeMetadata,
			Name:               "mongodb",
			Description:        "MongoDB document database",
			NewFromOptionsFunc: NewFromCmdlineOptions,
			Options: []plugin.PluginOption{
				{
					Name:         "uri",
					Type:         plugin.PluginOptionTypeString,
					Description:  "MongoDB connection string",
					DefaultValue: DefaultUri,
					Dest:         &(cmdlineOptions.uri),
				},
				{
					Name:         "database",
					Type:         plugin.PluginOptionTypeString,
					Description:  "MongoDB database name",
					DefaultValue: DefaultDatabase,
					Dest:         &(cmdlineOptions.database),
				},
				{
					Name:         "collection",
					Type:         plugin.PluginOptionTypeString,
					Description:  "Collection holding certificate documents",
					DefaultValue: DefaultCollection,
					Dest:         &(cmdlineOptions.collection),
				},
			},
		},
	)
}

func NewFromCmdlineOptions() plugin.Plugin {
	logger, promRegistry := plugin.Runtime()
	cmdlineOptionsMutex.RLock()
	opts := []MongodbOptionFunc{
		WithLogger(logger),
		WithPromRegistry(promRegistry),
		WithUri(cmdlineOptions.uri),
		WithDatabase(cmdlineOptions.database),
		WithCollection(cmdlineOptions.collection),
	}
	cmdlineOptionsMutex.RUnlock()
	return NewWithOptions(opts...)
}
