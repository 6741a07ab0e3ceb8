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

// Package verify is the public read path for certificates. It reads the
// ledger record directly and treats the metadata document as an optional,
// non-authoritative enrichment.
package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/blinklabs-io/attest/database/models"
	"github.com/blinklabs-io/attest/database/plugin/blob"
	"github.com/blinklabs-io/attest/ledger"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMetadataTimeout = 5 * time.Second

	// bounds concurrent metadata reads while listing
	listConcurrency = 8
)

var (
	ErrNotFound      = errors.New("certificate not found")
	ErrInvalidRecord = errors.New("invalid certificate record")
	ErrNoAttachment  = errors.New("certificate has no attachment")
	// ErrListingUnsupported is returned when the ledger client cannot
	// enumerate accounts
	ErrListingUnsupported = errors.New("ledger does not support listing")
)

// DocumentReader reads metadata documents by address
type DocumentReader interface {
	GetDocument(ctx context.Context, address string) (*models.Document, error)
}

type Verifier struct {
	client          ledger.Client
	metadata        DocumentReader
	logger          *slog.Logger
	resolver        blob.Resolver
	metadataTimeout time.Duration
}

type VerifierOptionFunc func(*Verifier)

func WithLogger(logger *slog.Logger) VerifierOptionFunc {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// WithMetadata enables enrichment from the metadata store
func WithMetadata(reader DocumentReader) VerifierOptionFunc {
	return func(v *Verifier) {
		v.metadata = reader
	}
}

// WithResolver sets how attachment URIs map to readable URLs
func WithResolver(resolver blob.Resolver) VerifierOptionFunc {
	return func(v *Verifier) {
		v.resolver = resolver
	}
}

func WithMetadataTimeout(d time.Duration) VerifierOptionFunc {
	return func(v *Verifier) {
		v.metadataTimeout = d
	}
}

func New(client ledger.Client, opts ...VerifierOptionFunc) *Verifier {
	v := &Verifier{
		client:          client,
		metadataTimeout: DefaultMetadataTimeout,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	v.logger = v.logger.With("component", "verify")
	return v
}

// Record is the ledger view of a certificate
type Record struct {
	IssuedAt         time.Time `json:"issuedAt"`
	Program          string    `json:"program"`
	Institution      string    `json:"institution"`
	BatchCode        string    `json:"batchCode"`
	StudentID        string    `json:"studentId"`
	Name             string    `json:"name"`
	Number           string    `json:"number"`
	OperatorName     string    `json:"operatorName"`
	Operator         string    `json:"operator"`
	AttachmentURI    string    `json:"attachmentUri"`
	AttachmentURL    string    `json:"attachmentUrl,omitempty"`
	AttachmentDigest string    `json:"attachmentDigest,omitempty"`
	HasAttachment    bool      `json:"hasAttachment"`
}

// Conflict is a field where the metadata document disagrees with the ledger
type Conflict struct {
	Field    string `json:"field"`
	Ledger   string `json:"ledger"`
	Metadata string `json:"metadata"`
}

// Verification merges the ledger record with its metadata document. Record
// fields are authoritative.
type Verification struct {
	Metadata  *models.Document `json:"metadata,omitempty"`
	Address   string           `json:"address"`
	Filename  string           `json:"filename,omitempty"`
	Note      string           `json:"note,omitempty"`
	Conflicts []Conflict       `json:"conflicts,omitempty"`
	Record    Record           `json:"record"`
}

// AttachmentCheck compares supplied bytes against the ledger digest
type AttachmentCheck struct {
	Address  string `json:"address"`
	Digest   string `json:"digest"`
	Expected string `json:"expected"`
	Match    bool   `json:"match"`
}

func (v *Verifier) fetch(ctx context.Context, address string) (string, *ledger.Certificate, error) {
	addr, err := ledger.ParsePrincipal(address)
	if err != nil {
		return "", nil, err
	}
	cert, err := ledger.FetchCertificate(ctx, v.client, addr)
	switch {
	case err == nil:
		return addr.String(), cert, nil
	case errors.Is(err, ledger.ErrAccountNotFound):
		return "", nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
	case errors.Is(err, ledger.ErrInvalidAccount):
		return "", nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	default:
		return "", nil, err
	}
}

// Verify returns the certificate at address
func (v *Verifier) Verify(ctx context.Context, address string) (*Verification, error) {
	addr, cert, err := v.fetch(ctx, address)
	if err != nil {
		return nil, err
	}
	return v.merge(ctx, addr, cert), nil
}

// List returns the certificates issued by operator, or every certificate
// when operator is empty, newest first
func (v *Verifier) List(ctx context.Context, operator string) ([]*Verification, error) {
	lister, ok := v.client.(ledger.Lister)
	if !ok {
		return nil, ErrListingUnsupported
	}
	var filter ledger.CertificateFilter
	if operator != "" {
		pk, err := ledger.ParsePrincipal(operator)
		if err != nil {
			return nil, err
		}
		filter.Operator = pk
	}
	accounts, err := lister.ListCertificates(ctx, filter)
	if err != nil {
		return nil, err
	}
	ret := make([]*Verification, len(accounts))
	g := new(errgroup.Group)
	g.SetLimit(listConcurrency)
	for i, acct := range accounts {
		g.Go(func() error {
			ret[i] = v.merge(ctx, acct.Address.String(), acct.Certificate)
			return nil
		})
	}
	_ = g.Wait()
	slices.SortFunc(ret, func(a, b *Verification) int {
		if c := b.Record.IssuedAt.Compare(a.Record.IssuedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Record.Number, b.Record.Number)
	})
	return ret, nil
}

func (v *Verifier) merge(
	ctx context.Context,
	addr string,
	cert *ledger.Certificate,
) *Verification {
	ret := &Verification{
		Address: addr,
		Record: Record{
			IssuedAt:      cert.IssuedTime(),
			Program:       cert.Program,
			Institution:   cert.Institution,
			BatchCode:     cert.BatchCode,
			StudentID:     cert.StudentID,
			Name:          cert.Name,
			Number:        cert.Number,
			OperatorName:  cert.OperatorName,
			Operator:      cert.Operator.String(),
			AttachmentURI: cert.AttachmentURI,
			HasAttachment: cert.HasAttachment(),
		},
	}
	if cert.HasAttachment() {
		ret.Record.AttachmentDigest = cert.DigestHex()
		ret.Record.AttachmentURL = v.resolver.Resolve(cert.AttachmentURI)
	}
	if doc := v.document(ctx, addr); doc != nil {
		ret.Metadata = doc
		ret.Filename = doc.Filename
		ret.Note = doc.Note
		ret.Conflicts = conflicts(ret.Record, doc)
		if len(ret.Conflicts) > 0 {
			v.logger.Warn(
				"metadata disagrees with ledger record",
				"address", addr,
				"conflicts", len(ret.Conflicts),
			)
		}
	}
	return ret
}

// document reads the metadata document. Any failure is logged and yields nil.
func (v *Verifier) document(ctx context.Context, address string) *models.Document {
	if v.metadata == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, v.metadataTimeout)
	defer cancel()
	doc, err := v.metadata.GetDocument(ctx, address)
	if err != nil {
		if !errors.Is(err, models.ErrDocumentNotFound) {
			v.logger.Warn("metadata lookup failed", "address", address, "error", err)
		}
		return nil
	}
	return doc
}

func conflicts(rec Record, doc *models.Document) []Conflict {
	var ret []Conflict
	add := func(field, ledgerValue, metadataValue string) {
		ret = append(ret, Conflict{Field: field, Ledger: ledgerValue, Metadata: metadataValue})
	}
	if doc.CertificateNumber != "" && doc.CertificateNumber != rec.Number {
		add("number", rec.Number, doc.CertificateNumber)
	}
	if doc.Operator != "" && doc.Operator != rec.Operator {
		add("operator", rec.Operator, doc.Operator)
	}
	if doc.ContentID != "" && !strings.Contains(rec.AttachmentURI, doc.ContentID) {
		add("attachment", rec.AttachmentURI, doc.ContentID)
	}
	if doc.Digest != "" && !strings.HasPrefix(rec.AttachmentDigest, strings.ToLower(doc.Digest)) {
		add("digest", rec.AttachmentDigest, doc.Digest)
	}
	return ret
}

// VerifyAttachment hashes data and compares it with the ledger digest
func (v *Verifier) VerifyAttachment(
	ctx context.Context,
	address string,
	data []byte,
) (*AttachmentCheck, error) {
	addr, cert, err := v.fetch(ctx, address)
	if err != nil {
		return nil, err
	}
	if !cert.HasAttachment() {
		return nil, fmt.Errorf("%w: %s", ErrNoAttachment, addr)
	}
	digest := sha256.Sum256(data)
	return &AttachmentCheck{
		Address:  addr,
		Digest:   hex.EncodeToString(digest[:]),
		Expected: cert.DigestHex(),
		Match:    digest == cert.AttachmentDigest,
	}, nil
}
