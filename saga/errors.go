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

	"github.com/blinklabs-io/attest/database/plugin/blob"
)

type Kind int

const (
	KindUnauthorized Kind = iota + 1
	KindValidationFailed
	KindLedgerRejected
	KindUploadFailed
	KindLinkFailed
	KindInFlight
	KindMetadataWriteFailed
)

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrValidationFailed    = errors.New("validation failed")
	ErrLedgerRejected      = errors.New("ledger rejected")
	ErrUploadFailed        = errors.New("upload failed")
	ErrLinkFailed          = errors.New("link failed")
	ErrInFlight            = errors.New("operation in flight")
	ErrMetadataWriteFailed = errors.New("metadata write failed")

	ErrRecordExists   = errors.New("certificate record already exists")
	ErrRecordNotFound = errors.New("certificate record not found")
)

func (k Kind) sentinel() error {
	switch k {
	case KindUnauthorized:
		return ErrUnauthorized
	case KindValidationFailed:
		return ErrValidationFailed
	case KindLedgerRejected:
		return ErrLedgerRejected
	case KindUploadFailed:
		return ErrUploadFailed
	case KindLinkFailed:
		return ErrLinkFailed
	case KindInFlight:
		return ErrInFlight
	case KindMetadataWriteFailed:
		return ErrMetadataWriteFailed
	default:
		return nil
	}
}

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "Unauthorized"
	case KindValidationFailed:
		return "ValidationFailed"
	case KindLedgerRejected:
		return "LedgerRejected"
	case KindUploadFailed:
		return "UploadFailed"
	case KindLinkFailed:
		return "LinkFailed"
	case KindInFlight:
		return "InFlight"
	case KindMetadataWriteFailed:
		return "MetadataWriteFailed"
	default:
		return "Unknown"
	}
}

// RecordState says whether the certificate record exists on the ledger when
// an operation ends
type RecordState int

const (
	RecordUnknown RecordState = iota
	RecordAbsent
	RecordPresent
)

func (r RecordState) String() string {
	switch r {
	case RecordAbsent:
		return "absent"
	case RecordPresent:
		return "present"
	default:
		return "unknown"
	}
}

func (r RecordState) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

type Recovery string

const (
	RecoveryNone             Recovery = "none"
	RecoveryRetryFromScratch Recovery = "retry-from-scratch"
	RecoveryAttachLater      Recovery = "attach-later"
	RecoveryRetryLink        Recovery = "retry-link"
)

// Error is the terminal error of a write operation. It names which stores
// were mutated: Record for the ledger and Object for the object store.
type Error struct {
	Err     error
	Object  *blob.Object
	Address string
	Digest  string
	Kind    Kind
	Record  RecordState
	// PendingAttachment is set when an attachment was selected but not
	// uploaded
	PendingAttachment bool
}

func (e *Error) Error() string {
	msg := e.Kind.sentinel().Error()
	if e.Address != "" {
		msg = fmt.Sprintf("%s for %s", msg, e.Address)
	}
	msg = fmt.Sprintf("%s (record %s)", msg, e.Record)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Recovery names the narrowest operation that resumes from this error
func (e *Error) Recovery() Recovery {
	switch e.Kind {
	case KindLedgerRejected:
		if e.Record != RecordPresent {
			return RecoveryRetryFromScratch
		}
		if e.PendingAttachment {
			return RecoveryAttachLater
		}
		return RecoveryNone
	case KindUploadFailed:
		return RecoveryAttachLater
	case KindLinkFailed:
		return RecoveryRetryLink
	default:
		return RecoveryNone
	}
}
