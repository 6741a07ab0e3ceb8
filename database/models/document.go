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

package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DigestPrefixLength is the number of hex characters of the attachment digest
// kept in the metadata document. Verifiers must use the ledger digest.
const DigestPrefixLength = 16

var (
	ErrDocumentNotFound = errors.New("metadata document not found")
	ErrInvalidDocument  = errors.New("invalid metadata document")
)

// Document is the advisory off-ledger metadata kept for a certificate,
// keyed by its ledger address
type Document struct {
	CreatedAt         time.Time `bson:"createdAt"         json:"createdAt"`
	UpdatedAt         time.Time `bson:"updatedAt"         json:"updatedAt"`
	Address           string    `bson:"address"           json:"address"                gorm:"size:64;uniqueIndex"`
	CertificateNumber string    `bson:"certificateNumber" json:"certificateNumber"      gorm:"size:255;index"`
	ContentID         string    `bson:"cid"               json:"cid,omitempty"          gorm:"size:128"`
	Filename          string    `bson:"filename"          json:"filename,omitempty"`
	Digest            string    `bson:"digest"            json:"digest,omitempty"       gorm:"size:64"`
	Operator          string    `bson:"operator"          json:"operator,omitempty"     gorm:"size:64"`
	Note              string    `bson:"note"              json:"note,omitempty"`
	ID                uint      `bson:"-"                 json:"-"                      gorm:"primarykey"`
}

func (Document) TableName() string {
	return "certificate_document"
}

// DocumentFields are the caller-supplied fields of an upsert
type DocumentFields struct {
	CertificateNumber string
	ContentID         string
	Filename          string
	Digest            string
	Operator          string
	Note              string
}

// Validate checks the fields every document must carry
func (f DocumentFields) Validate(address string) error {
	if strings.TrimSpace(address) == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidDocument)
	}
	if strings.TrimSpace(f.CertificateNumber) == "" {
		return fmt.Errorf("%w: certificate number is required", ErrInvalidDocument)
	}
	if strings.TrimSpace(f.ContentID) == "" {
		return fmt.Errorf("%w: content id is required", ErrInvalidDocument)
	}
	return nil
}

// Apply copies the fields onto a document for the given address
func (f DocumentFields) Apply(address string, doc *Document) {
	doc.Address = address
	doc.CertificateNumber = f.CertificateNumber
	doc.ContentID = f.ContentID
	doc.Filename = f.Filename
	doc.Digest = f.Digest
	doc.Operator = f.Operator
	doc.Note = f.Note
}

// TruncateDigest returns the digest prefix stored in metadata documents.
// The prefix is informational only; attachment checks use the full ledger
// digest.
func TruncateDigest(hexDigest string) string {
	if len(hexDigest) <= DigestPrefixLength {
		return hexDigest
	}
	return hexDigest[:DigestPrefixLength]
}
