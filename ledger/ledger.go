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

// Package ledger describes the certificate program: account layouts,
// instructions, derived addresses, and the client used to read and write
// them.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// DefaultProgramID is the deployed certificate program
const DefaultProgramID = "HqJ3a7UwwxjorwDJUYMAWBC8Q4fRzqF47Pgq5fjr3D1F"

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInvalidAccount    = errors.New("invalid account data")
	ErrRejected          = errors.New("transaction rejected")
	ErrTimeout           = errors.New("transaction not finalized in time")
	ErrSignatureDeclined = errors.New("signature declined")
	ErrInvalidPrincipal  = errors.New("invalid principal")
)

// Client reads accounts from and submits instructions to a ledger endpoint
type Client interface {
	// Endpoint identifies the ledger network. Cached authorization state is
	// namespaced by it.
	Endpoint() string
	// FetchAccount returns the raw account data or ErrAccountNotFound
	FetchAccount(ctx context.Context, address solana.PublicKey) ([]byte, error)
	// Submit signs and sends a single instruction and waits for finality.
	// Submissions are never retried.
	Submit(
		ctx context.Context,
		ix Instruction,
		signer Signer,
	) (solana.Signature, error)
}

// Pinger is implemented by clients that can report endpoint health
type Pinger interface {
	Ping(ctx context.Context) error
}

// CertificateFilter narrows a certificate listing. A zero Operator matches
// every certificate.
type CertificateFilter struct {
	Operator solana.PublicKey
}

func (f CertificateFilter) Match(c *Certificate) bool {
	return f.Operator.IsZero() || c.Operator.Equals(f.Operator)
}

// CertificateAccount is a decoded certificate and its address
type CertificateAccount struct {
	Certificate *Certificate
	Address     solana.PublicKey
}

// Lister is implemented by clients that can enumerate certificate accounts.
// Undecodable accounts are skipped.
type Lister interface {
	ListCertificates(
		ctx context.Context,
		filter CertificateFilter,
	) ([]CertificateAccount, error)
}

// Signer produces ed25519 signatures for a principal
type Signer interface {
	PublicKey() solana.PublicKey
	// Sign returns ErrSignatureDeclined when the signer refuses
	Sign(ctx context.Context, message []byte) (solana.Signature, error)
}

// ParsePrincipal normalizes a base58 principal or address
func ParsePrincipal(s string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %q", ErrInvalidPrincipal, s)
	}
	return pk, nil
}

// FetchCertificate reads and decodes a certificate account
func FetchCertificate(
	ctx context.Context,
	client Client,
	address solana.PublicKey,
) (*Certificate, error) {
	data, err := client.FetchAccount(ctx, address)
	if err != nil {
		return nil, err
	}
	return DecodeCertificate(data)
}

// FetchRegistry reads and decodes the admin registry of a program
func FetchRegistry(
	ctx context.Context,
	client Client,
	programID solana.PublicKey,
) (*AdminRegistry, error) {
	addr, err := RegistryAddress(programID)
	if err != nil {
		return nil, err
	}
	data, err := client.FetchAccount(ctx, addr)
	if err != nil {
		return nil, err
	}
	return DecodeRegistry(data)
}
