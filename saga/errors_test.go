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

package saga_test

import (
	"errors"
	"testing"

	"github.com/blinklabs-io/attest/saga"
	"github.com/stretchr/testify/assert"
)

func TestRecovery(t *testing.T) {
	testDefs := []struct {
		err      saga.Error
		expected saga.Recovery
	}{
		{saga.Error{Kind: saga.KindLedgerRejected, Record: saga.RecordAbsent}, saga.RecoveryRetryFromScratch},
		{saga.Error{Kind: saga.KindLedgerRejected, Record: saga.RecordUnknown}, saga.RecoveryRetryFromScratch},
		{saga.Error{Kind: saga.KindLedgerRejected, Record: saga.RecordPresent, PendingAttachment: true}, saga.RecoveryAttachLater},
		{saga.Error{Kind: saga.KindLedgerRejected, Record: saga.RecordPresent}, saga.RecoveryNone},
		{saga.Error{Kind: saga.KindUploadFailed, Record: saga.RecordPresent}, saga.RecoveryAttachLater},
		{saga.Error{Kind: saga.KindLinkFailed, Record: saga.RecordPresent}, saga.RecoveryRetryLink},
		{saga.Error{Kind: saga.KindUnauthorized}, saga.RecoveryNone},
		{saga.Error{Kind: saga.KindValidationFailed}, saga.RecoveryNone},
		{saga.Error{Kind: saga.KindInFlight}, saga.RecoveryNone},
	}
	for _, testDef := range testDefs {
		assert.Equal(t, testDef.expected, testDef.err.Recovery(), testDef.err.Kind.String())
	}
}

func TestErrorMatching(t *testing.T) {
	cause := errors.New("boom")
	err := error(&saga.Error{
		Kind:    saga.KindUploadFailed,
		Address: "addr",
		Record:  saga.RecordPresent,
		Err:     cause,
	})
	assert.ErrorIs(t, err, saga.ErrUploadFailed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, saga.ErrLinkFailed)
	assert.Equal(t, "upload failed for addr (record present): boom", err.Error())
}

func TestValidateAttachment(t *testing.T) {
	policy := saga.DefaultAttachmentPolicy()
	testDefs := []struct {
		name     string
		att      saga.Attachment
		expected error
	}{
		{"declared type", saga.Attachment{Filename: "a.bin", ContentType: "application/pdf", Data: []byte{1}}, nil},
		{"type with params", saga.Attachment{Filename: "a", ContentType: "application/pdf; qs=0.9", Data: []byte{1}}, nil},
		{"extension only", saga.Attachment{Filename: "A.PDF", Data: []byte{1}}, nil},
		{"wrong type", saga.Attachment{Filename: "a.png", ContentType: "image/png"}, saga.ErrContentType},
		{"no filename", saga.Attachment{ContentType: "application/pdf"}, saga.ErrMissingField},
		{"too large", saga.Attachment{Filename: "a.pdf", Data: make([]byte, policy.MaxBytes+1)}, saga.ErrAttachmentTooLarge},
	}
	for _, testDef := range testDefs {
		err := saga.ValidateAttachment(policy, testDef.att)
		if testDef.expected == nil {
			assert.NoError(t, err, testDef.name)
			continue
		}
		assert.ErrorIs(t, err, testDef.expected, testDef.name)
	}
	custom := saga.AttachmentPolicy{ContentTypes: []string{"image/png"}, MaxBytes: 4}
	assert.NoError(t, saga.ValidateAttachment(custom, saga.Attachment{Filename: "a.png", Data: []byte{1, 2, 3, 4}}))
	assert.ErrorIs(t, saga.ValidateAttachment(custom, saga.Attachment{Filename: "a.pdf"}), saga.ErrContentType)
}
