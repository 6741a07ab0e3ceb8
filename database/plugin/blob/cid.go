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
	"fmt"
	"net/url"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

const (
	SchemeIPFS  = "ipfs"
	SchemeLocal = "local"
	SchemeS3    = "s3"
	SchemeGCS   = "gs"
)

// ContentID returns the CIDv1 (raw codec, sha2-256) of data
func ContentID(data []byte) (string, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh).String(), nil
}

// ParseContentID validates a content identifier and returns its canonical form
func ParseContentID(contentID string) (string, error) {
	c, err := cid.Decode(contentID)
	if err != nil {
		return "", fmt.Errorf("invalid content id %q: %w", contentID, err)
	}
	return c.String(), nil
}

// DigestFromContentID returns the sha2-256 digest of the bytes named by a
// raw-codec content identifier. It reports false for any other codec or
// hash, where the identifier does not name the plain bytes.
func DigestFromContentID(contentID string) ([32]byte, bool) {
	var ret [32]byte
	c, err := cid.Decode(contentID)
	if err != nil || c.Type() != cid.Raw {
		return ret, false
	}
	dmh, err := multihash.Decode(c.Hash())
	if err != nil || dmh.Code != multihash.SHA2_256 || len(dmh.Digest) != len(ret) {
		return ret, false
	}
	copy(ret[:], dmh.Digest)
	return ret, true
}

// JoinURL appends path elements to a base URL
func JoinURL(base string, elem ...string) string {
	ret, err := url.JoinPath(base, elem...)
	if err != nil {
		return strings.TrimSuffix(base, "/") + "/" + strings.Join(elem, "/")
	}
	return ret
}

// Resolver maps attachment URIs written to the ledger onto readable URLs
type Resolver struct {
	// IPFSGateway is the gateway base for ipfs:// URIs
	IPFSGateway string
	// LocalBase is the base for local:// URIs served by this node
	LocalBase string
	// S3Region selects the regional endpoint for s3:// URIs
	S3Region string
}

// Resolve returns a readable URL for uri, or an empty string when the
// scheme is not known
func (r Resolver) Resolve(uri string) string {
	if uri == "" {
		return ""
	}
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	path := strings.TrimPrefix(u.Path, "/")
	switch u.Scheme {
	case SchemeIPFS:
		if r.IPFSGateway == "" {
			return ""
		}
		return JoinURL(r.IPFSGateway, u.Host)
	case SchemeLocal:
		if r.LocalBase == "" {
			return ""
		}
		return JoinURL(r.LocalBase, u.Host)
	case SchemeS3:
		if r.S3Region != "" {
			return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.Host, r.S3Region, path)
		}
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", u.Host, path)
	case SchemeGCS:
		return fmt.Sprintf("https://storage.googleapis.com/%s/%s", u.Host, path)
	case "http", "https":
		return uri
	default:
		return ""
	}
}
