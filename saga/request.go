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

package saga

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"slices"
	"strings"

	"github.com/blinklabs-io/attest/database/plugin/blob"
)

const (
	DefaultMaxAttachmentBytes = 2 << 20
	DefaultContentType        = "application/pdf"
)

var (
	ErrMissingField       = errors.New("required field missing")
	ErrAttachmentTooLarge = errors.New("attachment too large")
	ErrContentType        = errors.New("attachment content type not allowed")
	ErrInvalidDigest      = errors.New("invalid attachment digest")
)

// Subject holds the immutable fields of a certificate
type Subject struct {
	Name         string `json:"name"`
	StudentID    string `json:"studentId"`
	Program      string `json:"program"`
	Institution  string `json:"institution"`
	BatchCode    string `json:"batchCode"`
	Number       string `json:"number"`
	OperatorName string `json:"operatorName"`
}

// Normalize trims every field
func (s Subject) Normalize() Subject {
	return Subject{
		Name:         strings.TrimSpace(s.Name),
		StudentID:    strings.TrimSpace(s.StudentID),
		Program:      strings.TrimSpace(s.Program),
		Institution:  strings.TrimSpace(s.Institution),
		BatchCode:    strings.TrimSpace(s.BatchCode),
		Number:       strings.TrimSpace(s.Number),
		OperatorName: strings.TrimSpace(s.OperatorName),
	}
}

// Validate reports every missing field
func (s Subject) Validate() error {
	s = s.Normalize()
	var missing []string
	for _, field := range []struct {
		name  string
		value string
	}{
		{"name", s.Name},
		{"studentId", s.StudentID},
		{"program", s.Program},
		{"institution", s.Institution},
		{"batchCode", s.BatchCode},
		{"number", s.Number},
		{"operatorName", s.OperatorName},
	} {
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))
	}
	return nil
}

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// AttachmentPolicy limits what may be attached. A zero policy uses the
// defaults.
type AttachmentPolicy struct {
	ContentTypes []string
	MaxBytes     int64
}

func DefaultAttachmentPolicy() AttachmentPolicy {
	return AttachmentPolicy{
		ContentTypes: []string{DefaultContentType},
		MaxBytes:     DefaultMaxAttachmentBytes,
	}
}

func (p AttachmentPolicy) withDefaults() AttachmentPolicy {
	def := DefaultAttachmentPolicy()
	if len(p.ContentTypes) == 0 {
		p.ContentTypes = def.ContentTypes
	}
	if p.MaxBytes <= 0 {
		p.MaxBytes = def.MaxBytes
	}
	return p
}

// ValidateAttachment checks an attachment against policy. The content type
// matches when either the declared type or the type implied by the file
// extension is allowed.
func ValidateAttachment(policy AttachmentPolicy, att Attachment) error {
	policy = policy.withDefaults()
	if strings.TrimSpace(att.Filename) == "" {
		return fmt.Errorf("%w: filename", ErrMissingField)
	}
	if int64(len(att.Data)) > policy.MaxBytes {
		return fmt.Errorf(
			"%w: %d bytes exceeds %d",
			ErrAttachmentTooLarge,
			len(att.Data),
			policy.MaxBytes,
		)
	}
	candidates := []string{
		mediaType(att.ContentType),
		mediaType(mime.TypeByExtension(strings.ToLower(filepath.Ext(att.Filename)))),
	}
	for _, candidate := range candidates {
		if candidate != "" && slices.Contains(policy.ContentTypes, candidate) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrContentType, att.Filename)
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return mt
}

type IssueRequest struct {
	Attachment *Attachment
	Subject    Subject
	Note       string
}

// AttachRequest adds or replaces the attachment of an existing record
type AttachRequest struct {
	Address    string
	Note       string
	Attachment Attachment
}

// LinkRequest links an already uploaded object to an existing record
type LinkRequest struct {
	Address  string
	Digest   string
	Filename string
	Note     string
	Object   blob.Object
}
