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

// Package saga writes certificates across the ledger, the object store and
// the metadata store.
//
// The ledger record is created first and is the commit point: nothing is
// uploaded or written elsewhere unless that write finalized. Failures after
// it end in distinct, resumable states rather than being rolled back.
package saga

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/blinklabs-io/attest/authz"
	"github.com/blinklabs-io/attest/database/models"
	"github.com/blinklabs-io/attest/database/plugin/blob"
	"github.com/blinklabs-io/attest/event"
	"github.com/blinklabs-io/attest/ledger"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultSubmitTimeout   = 60 * time.Second
	DefaultUploadTimeout   = 60 * time.Second
	DefaultMetadataTimeout = 10 * time.Second

	lookupTimeout       = 10 * time.Second
	instrumentationName = "github.com/blinklabs-io/attest/saga"
)

// Authorizer gates privileged writes
type Authorizer interface {
	IsAuthorized(principal string) authz.Decision
	ForceRevalidate(ctx context.Context, principal string) error
}

// Uploader stores attachment bytes
type Uploader interface {
	Upload(ctx context.Context, data []byte, filename string) (blob.Object, error)
}

// MetadataWriter upserts the advisory metadata document
type MetadataWriter interface {
	UpsertDocument(
		ctx context.Context,
		address string,
		fields models.DocumentFields,
	) (*models.Document, error)
}

type Config struct {
	Ledger          ledger.Client
	Uploader        Uploader
	Metadata        MetadataWriter
	Authorizer      Authorizer
	Signer          ledger.Signer
	Logger          *slog.Logger
	PromRegistry    prometheus.Registerer
	TracerProvider  trace.TracerProvider
	EventBus        *event.EventBus
	Policy          AttachmentPolicy
	SubmitTimeout   time.Duration
	UploadTimeout   time.Duration
	MetadataTimeout time.Duration
	ProgramID       solana.PublicKey
}

// Result describes a completed operation. MetadataErr is set when the
// advisory metadata write failed; the ledger and object store writes stand.
type Result struct {
	Object          *blob.Object
	Document        *models.Document
	MetadataErr     error
	RunID           string
	Address         string
	Digest          string
	CreateSignature string
	LinkSignature   string
	Linked          bool
}

type Saga struct {
	config   Config
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *sagaMetrics
	inflight map[string]struct{}
	mu       sync.Mutex
}

func New(cfg Config) (*Saga, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("ledger client is required")
	}
	if cfg.Uploader == nil {
		return nil, errors.New("uploader is required")
	}
	if cfg.Authorizer == nil {
		return nil, errors.New("authorizer is required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("signer is required")
	}
	if cfg.ProgramID.IsZero() {
		cfg.ProgramID = solana.MustPublicKeyFromBase58(ledger.DefaultProgramID)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultSubmitTimeout
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = DefaultUploadTimeout
	}
	if cfg.MetadataTimeout <= 0 {
		cfg.MetadataTimeout = DefaultMetadataTimeout
	}
	cfg.Policy = cfg.Policy.withDefaults()
	return &Saga{
		config:   cfg,
		logger:   cfg.Logger.With("component", "saga"),
		tracer:   cfg.TracerProvider.Tracer(instrumentationName),
		metrics:  newSagaMetrics(cfg.PromRegistry),
		inflight: make(map[string]struct{}),
	}, nil
}

// Policy returns the attachment policy in effect
func (s *Saga) Policy() AttachmentPolicy {
	return s.config.Policy
}

// Operator returns the principal that signs writes
func (s *Saga) Operator() string {
	return s.config.Signer.PublicKey().String()
}

type run struct {
	start     time.Time
	span      trace.Span
	id        string
	operation string
	address   string
	contentID string
	logger    *slog.Logger
}

func (s *Saga) begin(
	ctx context.Context,
	operation string,
) (context.Context, *run) {
	r := &run{
		id:        uuid.NewString(),
		operation: operation,
		start:     time.Now(),
	}
	ctx, r.span = s.tracer.Start(
		ctx,
		"saga."+operation,
		trace.WithAttributes(
			attribute.String("saga.run_id", r.id),
			attribute.String("saga.operator", s.Operator()),
		),
	)
	r.logger = s.logger.With("run", r.id, "operation", operation)
	return ctx, r
}

// finish records the terminal state of a run and returns its outcome
func (s *Saga) finish(r *run, res *Result, err error) (*Result, error) {
	defer r.span.End()
	outcome := "ok"
	data := event.SagaTerminalEvent{
		RunID:     r.id,
		Operation: r.operation,
		Address:   r.address,
		Operator:  s.Operator(),
		ContentID: r.contentID,
		Duration:  time.Since(r.start),
	}
	var sagaErr *Error
	if errors.As(err, &sagaErr) {
		outcome = sagaErr.Kind.String()
		data.ErrorKind = outcome
		data.RecordExists = sagaErr.Record.String()
		data.Recovery = string(sagaErr.Recovery())
		r.span.SetStatus(codes.Error, err.Error())
		r.span.RecordError(err)
		r.logger.Error(
			"write failed",
			"address", r.address,
			"kind", outcome,
			"record", sagaErr.Record,
			"recovery", sagaErr.Recovery(),
			"error", sagaErr.Err,
		)
	} else {
		data.RecordExists = RecordPresent.String()
		data.Recovery = string(RecoveryNone)
		if res != nil && res.MetadataErr != nil {
			outcome = "ok-metadata-failed"
		}
		r.logger.Info(
			"write complete",
			"address", r.address,
			"linked", res != nil && res.Linked,
			"duration", data.Duration,
		)
	}
	data.Outcome = outcome
	r.span.SetAttributes(
		attribute.String("saga.address", r.address),
		attribute.String("saga.outcome", outcome),
	)
	s.metrics.terminal(r.operation, outcome)
	if s.config.EventBus != nil {
		s.config.EventBus.Publish(
			event.SagaTerminalEventType,
			event.NewEvent(event.SagaTerminalEventType, data),
		)
	}
	if res != nil {
		res.RunID = r.id
	}
	return res, err
}

// step runs fn in a child span bounded by timeout
func (s *Saga) step(
	ctx context.Context,
	name string,
	timeout time.Duration,
	fn func(context.Context) error,
) error {
	ctx, span := s.tracer.Start(ctx, "saga.step."+name)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
	return err
}

func (s *Saga) acquire(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inflight[address]; ok {
		return false
	}
	s.inflight[address] = struct{}{}
	return true
}

func (s *Saga) release(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, address)
}

// authorize requires a confirmed positive verdict for the signer,
// revalidating against the ledger when the current verdict is weaker
func (s *Saga) authorize(ctx context.Context) error {
	principal := s.Operator()
	d := s.config.Authorizer.IsAuthorized(principal)
	if d.Confirmed() {
		return nil
	}
	var revalErr error
	err := s.step(ctx, "authorize", s.config.SubmitTimeout, func(ctx context.Context) error {
		revalErr = s.config.Authorizer.ForceRevalidate(ctx, principal)
		return revalErr
	})
	if err != nil {
		s.logger.Debug("revalidation before write failed", "error", err)
	}
	d = s.config.Authorizer.IsAuthorized(principal)
	if d.Confirmed() {
		return nil
	}
	if revalErr != nil {
		return fmt.Errorf(
			"principal %s is %s (%s): %w",
			principal,
			d.Status,
			d.Phase,
			revalErr,
		)
	}
	return fmt.Errorf("principal %s is %s (%s)", principal, d.Status, d.Phase)
}

// lookup reports whether the record exists, bounded by its own timeout
func (s *Saga) lookup(ctx context.Context, address solana.PublicKey) RecordState {
	var state RecordState
	_ = s.step(ctx, "lookup", lookupTimeout, func(ctx context.Context) error {
		_, err := s.config.Ledger.FetchAccount(ctx, address)
		switch {
		case err == nil:
			state = RecordPresent
		case errors.Is(err, ledger.ErrAccountNotFound):
			state = RecordAbsent
		default:
			state = RecordUnknown
		}
		return err
	})
	return state
}

func (s *Saga) submit(
	ctx context.Context,
	name string,
	ix ledger.Instruction,
) (solana.Signature, error) {
	var sig solana.Signature
	err := s.step(ctx, name, s.config.SubmitTimeout, func(ctx context.Context) error {
		var err error
		sig, err = s.config.Ledger.Submit(ctx, ix, s.config.Signer)
		return err
	})
	return sig, err
}

func (s *Saga) upload(ctx context.Context, att Attachment) (blob.Object, error) {
	var obj blob.Object
	err := s.step(ctx, "upload", s.config.UploadTimeout, func(ctx context.Context) error {
		var err error
		obj, err = s.config.Uploader.Upload(ctx, att.Data, att.Filename)
		return err
	})
	return obj, err
}

// documentReader is implemented by metadata stores that can read documents
// back
type documentReader interface {
	GetDocument(ctx context.Context, address string) (*models.Document, error)
}

// storedDocument returns the metadata document for address when it already
// describes contentID
func (s *Saga) storedDocument(
	ctx context.Context,
	address string,
	contentID string,
) *models.Document {
	reader, ok := s.config.Metadata.(documentReader)
	if !ok {
		return nil
	}
	var doc *models.Document
	err := s.step(ctx, "metadata-read", s.config.MetadataTimeout, func(ctx context.Context) error {
		var err error
		doc, err = reader.GetDocument(ctx, address)
		return err
	})
	if err != nil || doc.ContentID != contentID {
		return nil
	}
	return doc
}

// writeMetadata upserts the advisory document. Its failure is reported on
// the result and never fails the operation.
func (s *Saga) writeMetadata(
	ctx context.Context,
	r *run,
	res *Result,
	number string,
	filename string,
	note string,
) {
	if s.config.Metadata == nil {
		return
	}
	fields := models.DocumentFields{
		CertificateNumber: number,
		ContentID:         res.Object.ContentID,
		Filename:          filename,
		Digest:            models.TruncateDigest(res.Digest),
		Operator:          s.Operator(),
		Note:              note,
	}
	err := s.step(ctx, "metadata", s.config.MetadataTimeout, func(ctx context.Context) error {
		doc, err := s.config.Metadata.UpsertDocument(ctx, res.Address, fields)
		res.Document = doc
		return err
	})
	if err != nil {
		res.MetadataErr = &Error{
			Kind:    KindMetadataWriteFailed,
			Address: res.Address,
			Record:  RecordPresent,
			Object:  res.Object,
			Digest:  res.Digest,
			Err:     err,
		}
		r.logger.Warn(
			"metadata write failed, ledger record and object are intact",
			"address", res.Address,
			"error", err,
		)
	}
}

// Issue creates a certificate record and, when an attachment is given,
// uploads and links it
func (s *Saga) Issue(ctx context.Context, req IssueRequest) (*Result, error) {
	ctx, r := s.begin(ctx, "issue")
	subject := req.Subject.Normalize()
	fail := func(kind Kind, record RecordState, err error) (*Result, error) {
		return s.finish(r, nil, &Error{
			Kind:              kind,
			Address:           r.address,
			Record:            record,
			PendingAttachment: req.Attachment != nil,
			Err:               err,
		})
	}
	if err := subject.Validate(); err != nil {
		return fail(KindValidationFailed, RecordUnknown, err)
	}
	if req.Attachment != nil {
		if err := ValidateAttachment(s.config.Policy, *req.Attachment); err != nil {
			return fail(KindValidationFailed, RecordUnknown, err)
		}
	}
	// Step 1
	address, err := ledger.CertificateAddress(s.config.ProgramID, subject.Number)
	if err != nil {
		return fail(KindValidationFailed, RecordUnknown, err)
	}
	r.address = address.String()
	if !s.acquire(r.address) {
		return fail(KindInFlight, RecordUnknown, nil)
	}
	defer s.release(r.address)
	if err := s.authorize(ctx); err != nil {
		return fail(KindUnauthorized, RecordUnknown, err)
	}
	// Step 2
	var digest [32]byte
	res := &Result{Address: r.address}
	if req.Attachment != nil {
		digest = sha256.Sum256(req.Attachment.Data)
		res.Digest = hex.EncodeToString(digest[:])
	}
	switch state := s.lookup(ctx, address); state {
	case RecordPresent:
		return fail(KindValidationFailed, RecordPresent, ErrRecordExists)
	case RecordUnknown:
		return fail(
			KindLedgerRejected,
			RecordUnknown,
			errors.New("could not confirm the record does not exist"),
		)
	}
	if err := ctx.Err(); err != nil {
		return fail(KindLedgerRejected, RecordAbsent, err)
	}
	// Step 3 is the commit point. The run is no longer cancelable.
	ctx = context.WithoutCancel(ctx)
	sig, err := s.submit(ctx, "create", ledger.AddCertificate{
		Program:      subject.Program,
		Institution:  subject.Institution,
		BatchCode:    subject.BatchCode,
		StudentID:    subject.StudentID,
		Name:         subject.Name,
		Number:       subject.Number,
		OperatorName: subject.OperatorName,
	})
	if err != nil {
		return fail(KindLedgerRejected, s.lookup(ctx, address), err)
	}
	res.CreateSignature = sig.String()
	// Step 4
	if req.Attachment == nil {
		return s.finish(r, res, nil)
	}
	return s.attach(ctx, r, res, subject.Number, digest, *req.Attachment, req.Note)
}

// attach runs steps 5 and 6 against an existing record
func (s *Saga) attach(
	ctx context.Context,
	r *run,
	res *Result,
	number string,
	digest [32]byte,
	att Attachment,
	note string,
) (*Result, error) {
	// Step 5
	obj, err := s.upload(ctx, att)
	if err != nil {
		return s.finish(r, nil, &Error{
			Kind:              KindUploadFailed,
			Address:           r.address,
			Record:            RecordPresent,
			Digest:            res.Digest,
			PendingAttachment: true,
			Err:               err,
		})
	}
	res.Object = &obj
	r.contentID = obj.ContentID
	// Step 6
	return s.link(ctx, r, res, number, digest, att.Filename, note)
}

func (s *Saga) link(
	ctx context.Context,
	r *run,
	res *Result,
	number string,
	digest [32]byte,
	filename string,
	note string,
) (*Result, error) {
	sig, err := s.submit(ctx, "link", ledger.SetCertificateFile{
		Number:           number,
		AttachmentURI:    res.Object.URI,
		AttachmentDigest: digest,
	})
	if err != nil {
		return s.finish(r, nil, &Error{
			Kind:    KindLinkFailed,
			Address: r.address,
			Record:  RecordPresent,
			Object:  res.Object,
			Digest:  res.Digest,
			Err:     err,
		})
	}
	res.LinkSignature = sig.String()
	res.Linked = true
	s.writeMetadata(ctx, r, res, number, filename, note)
	return s.finish(r, res, nil)
}

// existing loads the record an attach or link operates on
func (s *Saga) existing(
	ctx context.Context,
	address solana.PublicKey,
) (*ledger.Certificate, RecordState, error) {
	var cert *ledger.Certificate
	err := s.step(ctx, "fetch", lookupTimeout, func(ctx context.Context) error {
		var err error
		cert, err = ledger.FetchCertificate(ctx, s.config.Ledger, address)
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrAccountNotFound):
		return nil, RecordAbsent, ErrRecordNotFound
	case errors.Is(err, ledger.ErrInvalidAccount):
		return nil, RecordPresent, err
	default:
		return nil, RecordUnknown, err
	}
	expected, err := ledger.CertificateAddress(s.config.ProgramID, cert.Number)
	if err != nil || !expected.Equals(address) {
		return nil, RecordPresent, fmt.Errorf(
			"record number %q does not derive address %s",
			cert.Number,
			address,
		)
	}
	return cert, RecordPresent, nil
}

// Attach uploads an attachment for an existing record and links it
func (s *Saga) Attach(ctx context.Context, req AttachRequest) (*Result, error) {
	ctx, r := s.begin(ctx, "attach")
	r.address = req.Address
	fail := func(kind Kind, record RecordState, err error) (*Result, error) {
		return s.finish(r, nil, &Error{
			Kind:              kind,
			Address:           r.address,
			Record:            record,
			PendingAttachment: true,
			Err:               err,
		})
	}
	address, err := ledger.ParsePrincipal(req.Address)
	if err != nil {
		return fail(KindValidationFailed, RecordUnknown, err)
	}
	r.address = address.String()
	if err := ValidateAttachment(s.config.Policy, req.Attachment); err != nil {
		return fail(KindValidationFailed, RecordUnknown, err)
	}
	if !s.acquire(r.address) {
		return fail(KindInFlight, RecordUnknown, nil)
	}
	defer s.release(r.address)
	if err := s.authorize(ctx); err != nil {
		return fail(KindUnauthorized, RecordUnknown, err)
	}
	cert, state, err := s.existing(ctx, address)
	if err != nil {
		if state == RecordUnknown {
			return fail(KindLedgerRejected, state, err)
		}
		return fail(KindValidationFailed, state, err)
	}
	if err := ctx.Err(); err != nil {
		return fail(KindUploadFailed, RecordPresent, err)
	}
	ctx = context.WithoutCancel(ctx)
	digest := sha256.Sum256(req.Attachment.Data)
	res := &Result{
		Address: r.address,
		Digest:  hex.EncodeToString(digest[:]),
	}
	return s.attach(ctx, r, res, cert.Number, digest, req.Attachment, req.Note)
}

// RetryLink links an already uploaded object without uploading again
func (s *Saga) RetryLink(ctx context.Context, req LinkRequest) (*Result, error) {
	ctx, r := s.begin(ctx, "link")
	r.address = req.Address
	r.contentID = req.Object.ContentID
	fail := func(kind Kind, record RecordState, err error) (*Result, error) {
		obj := req.Object
		return s.finish(r, nil, &Error{
			Kind:    kind,
			Address: r.address,
			Record:  record,
			Object:  &obj,
			Digest:  req.Digest,
			Err:     err,
		})
	}
	address, err := ledger.ParsePrincipal(req.Address)
	if err != nil {
		return fail(KindValidationFailed, RecordUnknown, err)
	}
	r.address = address.String()
	digest, err := linkDigest(req)
	if err != nil {
		return fail(KindValidationFailed, RecordUnknown, err)
	}
	if !s.acquire(r.address) {
		return fail(KindInFlight, RecordUnknown, nil)
	}
	defer s.release(r.address)
	if err := s.authorize(ctx); err != nil {
		return fail(KindUnauthorized, RecordUnknown, err)
	}
	cert, state, err := s.existing(ctx, address)
	if err != nil {
		if state == RecordUnknown {
			return fail(KindLinkFailed, state, err)
		}
		return fail(KindValidationFailed, state, err)
	}
	obj := req.Object
	res := &Result{
		Address: r.address,
		Digest:  hex.EncodeToString(digest[:]),
		Object:  &obj,
	}
	// Fields the request leaves empty keep their stored values
	filename, note := req.Filename, req.Note
	stored := s.storedDocument(ctx, r.address, obj.ContentID)
	if stored != nil {
		if filename == "" {
			filename = stored.Filename
		}
		if note == "" {
			note = stored.Note
		}
	}
	if cert.AttachmentURI == obj.URI && cert.AttachmentDigest == digest {
		res.Linked = true
		if stored != nil &&
			stored.Filename == filename &&
			stored.Note == note &&
			stored.Operator == s.Operator() &&
			stored.Digest == models.TruncateDigest(res.Digest) {
			res.Document = stored
			return s.finish(r, res, nil)
		}
		s.writeMetadata(context.WithoutCancel(ctx), r, res, cert.Number, filename, note)
		return s.finish(r, res, nil)
	}
	if err := ctx.Err(); err != nil {
		return fail(KindLinkFailed, RecordPresent, err)
	}
	return s.link(context.WithoutCancel(ctx), r, res, cert.Number, digest, filename, note)
}

// linkDigest validates a link request. When the content identifier names
// the raw bytes, the digest must match it.
func linkDigest(req LinkRequest) ([32]byte, error) {
	var digest [32]byte
	if req.Object.URI == "" {
		return digest, fmt.Errorf("%w: object uri", ErrMissingField)
	}
	if _, err := blob.ParseContentID(req.Object.ContentID); err != nil {
		return digest, err
	}
	raw, err := hex.DecodeString(req.Digest)
	if err != nil || len(raw) != len(digest) {
		return digest, fmt.Errorf("%w: %q", ErrInvalidDigest, req.Digest)
	}
	copy(digest[:], raw)
	if digest == ([32]byte{}) {
		return digest, fmt.Errorf("%w: zero digest", ErrInvalidDigest)
	}
	if cidDigest, ok := blob.DigestFromContentID(req.Object.ContentID); ok &&
		cidDigest != digest {
		return digest, fmt.Errorf(
			"%w: does not match content id %s",
			ErrInvalidDigest,
			req.Object.ContentID,
		)
	}
	return digest, nil
}
