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

// Package rpcclient implements ledger.Client over a Solana-compatible
// JSON-RPC endpoint
package rpcclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/attest/ledger"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

const (
	DefaultEndpoint         = rpc.DevNet_RPC
	DefaultFinalityTimeout  = 60 * time.Second
	DefaultStatusPollPeriod = 500 * time.Millisecond
)

// Client submits certificate program instructions through JSON-RPC
type Client struct {
	rpc             *rpc.Client
	logger          *slog.Logger
	programID       solana.PublicKey
	endpoint        string
	commitment      rpc.CommitmentType
	finalityTimeout time.Duration
	pollPeriod      time.Duration
}

type ClientOptionFunc func(*Client)

func WithLogger(logger *slog.Logger) ClientOptionFunc {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithEndpoint(endpoint string) ClientOptionFunc {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

func WithProgramID(programID solana.PublicKey) ClientOptionFunc {
	return func(c *Client) {
		c.programID = programID
	}
}

// WithFinalityTimeout bounds the wait for a submitted transaction
func WithFinalityTimeout(timeout time.Duration) ClientOptionFunc {
	return func(c *Client) {
		c.finalityTimeout = timeout
	}
}

func WithPollPeriod(period time.Duration) ClientOptionFunc {
	return func(c *Client) {
		c.pollPeriod = period
	}
}

// WithCommitment sets the commitment used for reads and preflight
func WithCommitment(commitment rpc.CommitmentType) ClientOptionFunc {
	return func(c *Client) {
		c.commitment = commitment
	}
}

func New(opts ...ClientOptionFunc) *Client {
	c := &Client{
		endpoint:        DefaultEndpoint,
		programID:       solana.MustPublicKeyFromBase58(ledger.DefaultProgramID),
		commitment:      rpc.CommitmentFinalized,
		finalityTimeout: DefaultFinalityTimeout,
		pollPeriod:      DefaultStatusPollPeriod,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	c.logger = c.logger.With("component", "ledger", "endpoint", c.endpoint)
	c.rpc = rpc.New(c.endpoint)
	return c
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) ProgramID() solana.PublicKey {
	return c.programID
}

func (c *Client) Close() error {
	return c.rpc.Close()
}

// Ping implements ledger.Pinger. It uses getVersion, which answers while
// the node is catching up, so a lagging node still counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.rpc.GetVersion(ctx); err != nil {
		return fmt.Errorf("ledger ping: %w", err)
	}
	return nil
}

func (c *Client) FetchAccount(
	ctx context.Context,
	address solana.PublicKey,
) ([]byte, error) {
	out, err := c.rpc.GetAccountInfoWithOpts(
		ctx,
		address,
		&rpc.GetAccountInfoOpts{
			Commitment: c.commitment,
			Encoding:   solana.EncodingBase64,
		},
	)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account %s: %w", address, err)
	}
	if out == nil || out.Value == nil || out.Value.Data == nil {
		return nil, ledger.ErrAccountNotFound
	}
	if !out.Value.Owner.Equals(c.programID) {
		return nil, fmt.Errorf(
			"%w: account %s is owned by %s",
			ledger.ErrInvalidAccount,
			address,
			out.Value.Owner,
		)
	}
	return out.Value.Data.GetBinary(), nil
}

// ListCertificates implements ledger.Lister with getProgramAccounts,
// filtering on the certificate discriminator and the operator key
func (c *Client) ListCertificates(
	ctx context.Context,
	filter ledger.CertificateFilter,
) ([]ledger.CertificateAccount, error) {
	filters := []rpc.RPCFilter{
		{
			Memcmp: &rpc.RPCFilterMemcmp{
				Offset: 0,
				Bytes:  solana.Base58(ledger.CertificateDiscriminator()),
			},
		},
	}
	if !filter.Operator.IsZero() {
		filters = append(filters, rpc.RPCFilter{
			Memcmp: &rpc.RPCFilterMemcmp{
				Offset: ledger.CertificateOperatorOffset,
				Bytes:  solana.Base58(filter.Operator.Bytes()),
			},
		})
	}
	out, err := c.rpc.GetProgramAccountsWithOpts(
		ctx,
		c.programID,
		&rpc.GetProgramAccountsOpts{
			Commitment: c.commitment,
			Encoding:   solana.EncodingBase64,
			Filters:    filters,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	ret := make([]ledger.CertificateAccount, 0, len(out))
	for _, keyed := range out {
		if keyed == nil || keyed.Account == nil || keyed.Account.Data == nil {
			continue
		}
		cert, err := ledger.DecodeCertificate(keyed.Account.Data.GetBinary())
		if err != nil {
			c.logger.Warn(
				"skipping undecodable certificate account",
				"address", keyed.Pubkey.String(),
				"error", err,
			)
			continue
		}
		// The node applies the filters, but a lenient one may not
		if !filter.Match(cert) {
			continue
		}
		ret = append(ret, ledger.CertificateAccount{
			Address:     keyed.Pubkey,
			Certificate: cert,
		})
	}
	return ret, nil
}

// Submit builds, signs, and sends a single-instruction transaction, then
// polls signature status until it is finalized or the finality timeout
// passes. Submission is attempted once.
func (c *Client) Submit(
	ctx context.Context,
	ix ledger.Instruction,
	signer ledger.Signer,
) (solana.Signature, error) {
	payer := signer.PublicKey()
	inst, err := ledger.BuildInstruction(c.programID, payer, ix)
	if err != nil {
		return solana.Signature{}, err
	}
	recent, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	tx, err := solana.NewTransaction(
		[]solana.Instruction{inst},
		recent.Value.Blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("encode message: %w", err)
	}
	sig, err := signer.Sign(ctx, msg)
	if err != nil {
		if errors.Is(err, ledger.ErrSignatureDeclined) {
			return solana.Signature{}, fmt.Errorf("%w: %w", ledger.ErrRejected, err)
		}
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}
	tx.Signatures = []solana.Signature{sig}
	if _, err := c.rpc.SendTransactionWithOpts(
		ctx,
		tx,
		rpc.TransactionOpts{
			PreflightCommitment: c.commitment,
		},
	); err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			return solana.Signature{}, fmt.Errorf(
				"%w: %s (code %d)",
				ledger.ErrRejected,
				rpcErr.Message,
				rpcErr.Code,
			)
		}
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	c.logger.Debug(
		"transaction sent",
		"method", ix.Method(),
		"signature", sig.String(),
	)
	if err := c.awaitFinality(ctx, sig); err != nil {
		return sig, err
	}
	c.logger.Info(
		"transaction finalized",
		"method", ix.Method(),
		"signature", sig.String(),
	)
	return sig, nil
}

func (c *Client) awaitFinality(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, c.finalityTimeout)
	defer cancel()
	ticker := time.NewTicker(c.pollPeriod)
	defer ticker.Stop()
	for {
		done, err := c.checkStatus(ctx, sig)
		if done || err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s", ledger.ErrTimeout, sig)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) checkStatus(
	ctx context.Context,
	sig solana.Signature,
) (bool, error) {
	out, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
	if err != nil {
		// Transient status errors are retried until the deadline
		c.logger.Debug("signature status failed", "signature", sig.String(), "error", err)
		return false, nil
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return false, nil
	}
	status := out.Value[0]
	if status.Err != nil {
		return true, fmt.Errorf("%w: %v", ledger.ErrRejected, status.Err)
	}
	return status.ConfirmationStatus == rpc.ConfirmationStatusFinalized, nil
}
