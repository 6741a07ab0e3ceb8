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

package blob

import (
	"context"
	"errors"
	"fmt"

	"github.com/blinklabs-io/attest/database/plugin"
)

var ErrObjectNotFound = errors.New("object not found")

// Object describes a stored attachment. URI is the canonical locator written
// to the ledger and URL is a resolvable location for readers.
type Object struct {
	ContentID string `json:"contentId"`
	URI       string `json:"uri"`
	URL       string `json:"url"`
	Size      int64  `json:"size"`
}

type BlobStore interface {
	plugin.Plugin
	// Upload stores the data under its content identifier. Uploading the
	// same bytes again returns the existing object.
	Upload(ctx context.Context, data []byte, filename string) (Object, error)
}

// Getter is implemented by stores that can serve object bytes directly
type Getter interface {
	Get(ctx context.Context, contentID string) ([]byte, error)
}

// UploadError describes a failed upload, including the remote status when
// the store reported one
type UploadError struct {
	Err    error
	Detail string
	Status int
}

func (e *UploadError) Error() string {
	msg := "upload failed"
	if e.Status != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.Status)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err)
	}
	return msg
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// New returns the started blob plugin selected by name
func New(pluginName string) (BlobStore, error) {
	p, err := plugin.StartPlugin(plugin.PluginTypeBlob, pluginName)
	if err != nil {
		return nil, err
	}
	blobStore, ok := p.(BlobStore)
	if !ok {
		_ = p.Stop()
		return nil, fmt.Errorf(
			"plugin '%s' does not implement BlobStore interface",
			pluginName,
		)
	}
	return blobStore, nil
}
