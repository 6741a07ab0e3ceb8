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

package blob_test

import (
	"crypto/sha256"
	"testing"

	"github.com/blinklabs-io/attest/database/plugin/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentIDCarriesDigest(t *testing.T) {
	for _, data := range [][]byte{{}, []byte("%PDF-1.7"), make([]byte, 2<<20)} {
		contentID, err := blob.ContentID(data)
		require.NoError(t, err)
		canonical, err := blob.ParseContentID(contentID)
		require.NoError(t, err)
		assert.Equal(t, contentID, canonical)
		digest, ok := blob.DigestFromContentID(contentID)
		require.True(t, ok)
		assert.Equal(t, sha256.Sum256(data), digest)
	}
}

func TestDigestFromContentIDOtherCodec(t *testing.T) {
	// CIDv0 names a dag-pb node, not the raw bytes
	_, ok := blob.DigestFromContentID("QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG")
	assert.False(t, ok)
	_, ok = blob.DigestFromContentID("not-a-cid")
	assert.False(t, ok)
	_, err := blob.ParseContentID("not-a-cid")
	assert.Error(t, err)
}

func TestResolver(t *testing.T) {
	r := blob.Resolver{
		IPFSGateway: "https://gateway.pinata.cloud/ipfs",
		LocalBase:   "http://localhost:8080/api/v1/objects",
		S3Region:    "ap-southeast-1",
	}
	testDefs := []struct {
		uri      string
		expected string
	}{
		{"", ""},
		{"ipfs://bafkqaaa", "https://gateway.pinata.cloud/ipfs/bafkqaaa"},
		{"local://bafkqaaa", "http://localhost:8080/api/v1/objects/bafkqaaa"},
		{"s3://certs/att/bafkqaaa", "https://certs.s3.ap-southeast-1.amazonaws.com/att/bafkqaaa"},
		{"gs://certs/bafkqaaa", "https://storage.googleapis.com/certs/bafkqaaa"},
		{"https://example.org/a.pdf", "https://example.org/a.pdf"},
		{"ftp://example.org/a.pdf", ""},
	}
	for _, testDef := range testDefs {
		assert.Equal(t, testDef.expected, r.Resolve(testDef.uri), testDef.uri)
	}
	assert.Empty(t, blob.Resolver{}.Resolve("ipfs://bafkqaaa"))
}
