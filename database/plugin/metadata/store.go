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

package metadata

import (
	"context"
	"fmt"

	"github.com/blinklabs-io/attest/database/models"
	"github.com/blinklabs-io/attest/database/plugin"
)

// MetadataStore keeps the advisory off-ledger document for each certificate
type MetadataStore interface {
	plugin.Plugin
	Close() error
	// UpsertDocument creates or replaces the document for an address. The
	// creation time is kept from the first insert.
	UpsertDocument(
		ctx context.Context,
		address string,
		fields models.DocumentFields,
	) (*models.Document, error)
	// GetDocument returns models.ErrDocumentNotFound when no document exists
	GetDocument(ctx context.Context, address string) (*models.Document, error)
}

// New starts the named metadata plugin
func New(pluginName string) (MetadataStore, error) {
	p, err := plugin.StartPlugin(plugin.PluginTypeMetadata, pluginName)
	if err != nil {
		return nil, err
	}
	store, ok := p.(MetadataStore)
	if !ok {
		_ = p.Stop()
		return nil, fmt.Errorf(
			"plugin '%s' does not implement MetadataStore interface",
			pluginName,
		)
	}
	return store, nil
}
