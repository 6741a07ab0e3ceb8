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

package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const discriminatorLength = 8

const (
	accountCertificate   = "Certificate"
	accountAdminRegistry = "AdminRegistry"
)

func accountDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("account:" + name))
	return sum[:discriminatorLength]
}

// CertificateOperatorOffset is the byte offset of the operator key in
// certificate account data. Listings filter on it.
const CertificateOperatorOffset = discriminatorLength

// Certificate is the ledger record of an issued certificate. Operator stays
// the first field so operator filters can match a fixed offset.
type Certificate struct {
	Operator         solana.PublicKey
	Program          string
	Institution      string
	BatchCode        string
	StudentID        string
	Name             string
	Number           string
	OperatorName     string
	AttachmentURI    string
	AttachmentDigest [32]byte
	IssuedAt         int64
}

// HasAttachment reports whether an attachment has been linked
func (c *Certificate) HasAttachment() bool {
	return c.AttachmentURI != ""
}

// DigestHex returns the lowercase hex attachment digest, or "" when unset
func (c *Certificate) DigestHex() string {
	if c.AttachmentDigest == ([32]byte{}) {
		return ""
	}
	return hex.EncodeToString(c.AttachmentDigest[:])
}

func (c *Certificate) IssuedTime() time.Time {
	return time.Unix(c.IssuedAt, 0).UTC()
}

// Validate checks that the attachment URI and digest are set together
func (c *Certificate) Validate() error {
	zeroDigest := c.AttachmentDigest == ([32]byte{})
	if (c.AttachmentURI == "") != zeroDigest {
		return fmt.Errorf(
			"%w: attachment uri and digest must be set together",
			ErrInvalidAccount,
		)
	}
	if strings.TrimSpace(c.Number) == "" {
		return fmt.Errorf("%w: missing certificate number", ErrInvalidAccount)
	}
	return nil
}

// CertificateDiscriminator returns the prefix shared by all certificate
// account data
func CertificateDiscriminator() []byte {
	return accountDiscriminator(accountCertificate)
}

func EncodeCertificate(c *Certificate) ([]byte, error) {
	return encodeAccount(accountCertificate, c)
}

// DecodeCertificate decodes and validates certificate account data
func DecodeCertificate(data []byte) (*Certificate, error) {
	var c Certificate
	if err := decodeAccount(accountCertificate, data, &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// AdminRegistry is the singleton account listing the principals allowed to
// issue certificates
type AdminRegistry struct {
	SuperAdmin solana.PublicKey
	Admins     []solana.PublicKey
}

// IsAdmin reports whether principal is the super admin or a listed admin
func (r *AdminRegistry) IsAdmin(principal solana.PublicKey) bool {
	if r.SuperAdmin.Equals(principal) {
		return true
	}
	return slices.ContainsFunc(r.Admins, principal.Equals)
}

func EncodeRegistry(r *AdminRegistry) ([]byte, error) {
	return encodeAccount(accountAdminRegistry, r)
}

func DecodeRegistry(data []byte) (*AdminRegistry, error) {
	var r AdminRegistry
	if err := decodeAccount(accountAdminRegistry, data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func encodeAccount(name string, v any) ([]byte, error) {
	body, err := bin.MarshalBorsh(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return append(accountDiscriminator(name), body...), nil
}

func decodeAccount(name string, data []byte, v any) error {
	if len(data) < discriminatorLength ||
		!bytes.Equal(data[:discriminatorLength], accountDiscriminator(name)) {
		return fmt.Errorf("%w: not a %s account", ErrInvalidAccount, name)
	}
	if err := bin.UnmarshalBorsh(v, data[discriminatorLength:]); err != nil {
		return fmt.Errorf("%w: decode %s: %s", ErrInvalidAccount, name, err)
	}
	return nil
}
