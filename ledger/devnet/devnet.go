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

// Package devnet is an in-process certificate ledger backed by badger. It
// enforces the program rules and finalizes instructions immediately.
package devnet

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/blinklabs-io/attest/ledger"
	"github.com/dgraph-io/badger/v4"
	"github.com/gagliardetto/solana-go"
)

const (
	DefaultEndpoint = "devnet"

	accountKeyPrefix = "acct_"
)

// Ledger implements ledger.Client against local storage
type Ledger struct {
	db        *badger.DB
	logger    *slog.Logger
	clock     func() time.Time
	programID solana.PublicKey
	endpoint  string
	dataDir   string
	mu        sync.Mutex
}

type LedgerOptionFunc func(*Ledger)

func WithLogger(logger *slog.Logger) LedgerOptionFunc {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithDataDir persists accounts under dir. Without it the ledger is in-memory.
func WithDataDir(dir string) LedgerOptionFunc {
	return func(l *Ledger) {
		l.dataDir = dir
	}
}

func WithProgramID(programID solana.PublicKey) LedgerOptionFunc {
	return func(l *Ledger) {
		l.programID = programID
	}
}

func WithEndpoint(endpoint string) LedgerOptionFunc {
	return func(l *Ledger) {
		l.endpoint = endpoint
	}
}

// WithClock sets the time source for issued-at timestamps
func WithClock(clock func() time.Time) LedgerOptionFunc {
	return func(l *Ledger) {
		l.clock = clock
	}
}

func New(opts ...LedgerOptionFunc) (*Ledger, error) {
	l := &Ledger{
		programID: solana.MustPublicKeyFromBase58(ledger.DefaultProgramID),
		endpoint:  DefaultEndpoint,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	l.logger = l.logger.With("component", "ledger", "ledger", "devnet")
	badgerOpts := badger.DefaultOptions("").
		WithLogger(nil).
		WithInMemory(true)
	if l.dataDir != "" {
		badgerOpts = badger.DefaultOptions(filepath.Join(l.dataDir, "ledger")).
			WithLogger(nil)
	}
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open devnet ledger: %w", err)
	}
	l.db = db
	return l, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) Endpoint() string {
	return l.endpoint
}

func (l *Ledger) ProgramID() solana.PublicKey {
	return l.programID
}

// Ping implements ledger.Pinger
func (l *Ledger) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.db.IsClosed() {
		return errors.New("devnet ledger closed")
	}
	return nil
}

func accountKey(address solana.PublicKey) []byte {
	return append([]byte(accountKeyPrefix), address[:]...)
}

func (l *Ledger) FetchAccount(
	ctx context.Context,
	address solana.PublicKey,
) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ret []byte
	err := l.db.View(func(txn *badger.Txn) error {
		data, err := getAccount(txn, address)
		ret = data
		return err
	})
	return ret, err
}

// ListCertificates implements ledger.Lister by scanning stored accounts
func (l *Ledger) ListCertificates(
	ctx context.Context,
	filter ledger.CertificateFilter,
) ([]ledger.CertificateAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	discriminator := ledger.CertificateDiscriminator()
	var ret []ledger.CertificateAccount
	err := l.db.View(func(txn *badger.Txn) error {
		prefix := []byte(accountKeyPrefix)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !bytes.HasPrefix(data, discriminator) {
				continue
			}
			address := solana.PublicKeyFromBytes(item.Key()[len(prefix):])
			cert, err := ledger.DecodeCertificate(data)
			if err != nil {
				l.logger.Warn(
					"skipping undecodable certificate account",
					"address", address.String(),
					"error", err,
				)
				continue
			}
			if !filter.Match(cert) {
				continue
			}
			ret = append(ret, ledger.CertificateAccount{
				Address:     address,
				Certificate: cert,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// StoreAccount writes raw account data, bypassing the program rules
func (l *Ledger) StoreAccount(address solana.PublicKey, data []byte) error {
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(accountKey(address), data)
	})
}

// SigningMessage is the byte string a signer approves for an instruction
func SigningMessage(programID solana.PublicKey, data []byte) []byte {
	return append(programID.Bytes(), data...)
}

func (l *Ledger) Submit(
	ctx context.Context,
	ix ledger.Instruction,
	signer ledger.Signer,
) (solana.Signature, error) {
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, err
	}
	data, err := ledger.EncodeInstruction(ix)
	if err != nil {
		return solana.Signature{}, err
	}
	// Execute what was encoded, not what the caller holds
	decoded, err := ledger.DecodeInstruction(data)
	if err != nil {
		return solana.Signature{}, err
	}
	msg := SigningMessage(l.programID, data)
	sig, err := signer.Sign(ctx, msg)
	if err != nil {
		if errors.Is(err, ledger.ErrSignatureDeclined) {
			return solana.Signature{}, fmt.Errorf("%w: %w", ledger.ErrRejected, err)
		}
		return solana.Signature{}, err
	}
	principal := signer.PublicKey()
	if !ed25519.Verify(principal[:], msg, sig[:]) {
		return solana.Signature{}, fmt.Errorf(
			"%w: signature verification failed",
			ledger.ErrRejected,
		)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	err = l.db.Update(func(txn *badger.Txn) error {
		return l.execute(txn, decoded, principal)
	})
	if err != nil {
		l.logger.Debug(
			"instruction rejected",
			"method", ix.Method(),
			"signer", principal.String(),
			"error", err,
		)
		return solana.Signature{}, err
	}
	l.logger.Debug(
		"instruction finalized",
		"method", ix.Method(),
		"signer", principal.String(),
		"signature", sig.String(),
	)
	return sig, nil
}

func getAccount(txn *badger.Txn, address solana.PublicKey) ([]byte, error) {
	item, err := txn.Get(accountKey(address))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}
