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

package rpcclient_test

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/blinklabs-io/attest/ledger"
	"github.com/blinklabs-io/attest/ledger/rpcclient"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var programID = solana.MustPublicKeyFromBase58(ledger.DefaultProgramID)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeNode answers the JSON-RPC methods used by the client
type fakeNode struct {
	t           *testing.T
	mu          sync.Mutex
	accounts    map[solana.PublicKey][]byte
	owner       solana.PublicKey
	rejectSend  bool
	unreachable bool
	status      string
	sent        []*solana.Transaction
	filters     []memcmpFilter
}

type memcmpFilter struct {
	Memcmp *struct {
		Offset uint64        `json:"offset"`
		Bytes  solana.Base58 `json:"bytes"`
	} `json:"memcmp"`
}

func (f memcmpFilter) matches(data []byte) bool {
	if f.Memcmp == nil {
		return true
	}
	end := int(f.Memcmp.Offset) + len(f.Memcmp.Bytes)
	return end <= len(data) &&
		string(data[f.Memcmp.Offset:end]) == string(f.Memcmp.Bytes)
}

func (f *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var result any
	switch req.Method {
	case "getHealth":
		f.writeError(w, req.ID, -32005, "Node is behind by 42 slots")
		return
	case "getVersion":
		if f.unreachable {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		result = map[string]any{"solana-core": "1.18.26", "feature-set": 3469865029}
	case "getAccountInfo":
		var addr string
		_ = json.Unmarshal(req.Params[0], &addr)
		data, ok := f.accounts[solana.MustPublicKeyFromBase58(addr)]
		if !ok {
			result = map[string]any{"context": map[string]any{"slot": 10}, "value": nil}
			break
		}
		result = map[string]any{
			"context": map[string]any{"slot": 10},
			"value": map[string]any{
				"data":       []string{base64.StdEncoding.EncodeToString(data), "base64"},
				"executable": false,
				"lamports":   1000000,
				"owner":      f.owner.String(),
				"rentEpoch":  0,
				"space":      len(data),
			},
		}
	case "getProgramAccounts":
		var opts struct {
			Filters []memcmpFilter `json:"filters"`
		}
		if len(req.Params) > 1 {
			_ = json.Unmarshal(req.Params[1], &opts)
		}
		f.filters = opts.Filters
		keyed := []any{}
		for addr, data := range f.accounts {
			if !slices.ContainsFunc(opts.Filters, func(m memcmpFilter) bool {
				return !m.matches(data)
			}) {
				keyed = append(keyed, map[string]any{
					"pubkey": addr.String(),
					"account": map[string]any{
						"data":       []string{base64.StdEncoding.EncodeToString(data), "base64"},
						"executable": false,
						"lamports":   1000000,
						"owner":      f.owner.String(),
						"rentEpoch":  0,
						"space":      len(data),
					},
				})
			}
		}
		result = keyed
	case "getLatestBlockhash":
		result = map[string]any{
			"context": map[string]any{"slot": 10},
			"value": map[string]any{
				"blockhash":            solana.HashFromBytes(make([]byte, 32)).String(),
				"lastValidBlockHeight": 100,
			},
		}
	case "sendTransaction":
		if f.rejectSend {
			f.writeError(w, req.ID, -32002, "Transaction simulation failed: custom program error: 0x1770")
			return
		}
		var encoded string
		_ = json.Unmarshal(req.Params[0], &encoded)
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if !assert.NoError(f.t, err) {
			f.writeError(w, req.ID, -32602, "bad encoding")
			return
		}
		tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
		if !assert.NoError(f.t, err) {
			f.writeError(w, req.ID, -32602, "bad transaction")
			return
		}
		assert.NoError(f.t, tx.VerifySignatures())
		f.sent = append(f.sent, tx)
		result = tx.Signatures[0].String()
	case "getSignatureStatuses":
		var value any
		if f.status != "" {
			value = map[string]any{
				"slot":               11,
				"confirmations":      nil,
				"err":                nil,
				"confirmationStatus": f.status,
			}
		}
		result = map[string]any{
			"context": map[string]any{"slot": 11},
			"value":   []any{value},
		}
	default:
		f.writeError(w, req.ID, -32601, "method not found")
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      req.ID,
		"result":  result,
	})
}

func (f *fakeNode) writeError(w http.ResponseWriter, id json.RawMessage, code int, msg string) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]any{"code": code, "message": msg},
	})
}

func newFakeNode(t *testing.T) (*fakeNode, *rpcclient.Client) {
	t.Helper()
	node := &fakeNode{
		t:        t,
		accounts: map[solana.PublicKey][]byte{},
		owner:    programID,
		status:   "finalized",
	}
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)
	client := rpcclient.New(
		rpcclient.WithEndpoint(srv.URL),
		rpcclient.WithProgramID(programID),
		rpcclient.WithPollPeriod(10*time.Millisecond),
		rpcclient.WithFinalityTimeout(300*time.Millisecond),
	)
	return node, client
}

func newSigner(t *testing.T) *ledger.KeySigner {
	t.Helper()
	s, err := ledger.NewKeySigner(solana.NewWallet().PrivateKey)
	require.NoError(t, err)
	return s
}

func TestFetchAccount(t *testing.T) {
	node, client := newFakeNode(t)
	reg := &ledger.AdminRegistry{SuperAdmin: solana.NewWallet().PublicKey()}
	data, err := ledger.EncodeRegistry(reg)
	require.NoError(t, err)
	addr, err := ledger.RegistryAddress(programID)
	require.NoError(t, err)
	node.accounts[addr] = data

	got, err := ledger.FetchRegistry(t.Context(), client, programID)
	require.NoError(t, err)
	assert.Equal(t, reg.SuperAdmin, got.SuperAdmin)

	_, err = client.FetchAccount(t.Context(), solana.NewWallet().PublicKey())
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestListCertificates(t *testing.T) {
	node, client := newFakeNode(t)
	operator := solana.NewWallet().PublicKey()
	other := solana.NewWallet().PublicKey()
	store := func(cert *ledger.Certificate) solana.PublicKey {
		data, err := ledger.EncodeCertificate(cert)
		require.NoError(t, err)
		addr := solana.NewWallet().PublicKey()
		node.accounts[addr] = data
		return addr
	}
	mine := store(&ledger.Certificate{Number: "CERT-1", Operator: operator})
	store(&ledger.Certificate{Number: "CERT-2", Operator: other})
	reg, err := ledger.EncodeRegistry(&ledger.AdminRegistry{SuperAdmin: operator})
	require.NoError(t, err)
	node.accounts[solana.NewWallet().PublicKey()] = reg

	all, err := client.ListCertificates(t.Context(), ledger.CertificateFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	require.Len(t, node.filters, 1)
	assert.Equal(t, uint64(0), node.filters[0].Memcmp.Offset)

	got, err := client.ListCertificates(
		t.Context(),
		ledger.CertificateFilter{Operator: operator},
	)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine, got[0].Address)
	assert.Equal(t, "CERT-1", got[0].Certificate.Number)
	require.Len(t, node.filters, 2)
	assert.Equal(t, uint64(ledger.CertificateOperatorOffset), node.filters[1].Memcmp.Offset)
	assert.Equal(t, operator.Bytes(), []byte(node.filters[1].Memcmp.Bytes))
}

func TestListCertificatesSkipsUndecodable(t *testing.T) {
	node, client := newFakeNode(t)
	node.accounts[solana.NewWallet().PublicKey()] = append(
		ledger.CertificateDiscriminator(),
		0xff,
	)
	got, err := client.ListCertificates(t.Context(), ledger.CertificateFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFetchAccountWrongOwner(t *testing.T) {
	node, client := newFakeNode(t)
	addr := solana.NewWallet().PublicKey()
	node.accounts[addr] = []byte{1, 2, 3}
	node.owner = solana.SystemProgramID
	_, err := client.FetchAccount(t.Context(), addr)
	require.ErrorIs(t, err, ledger.ErrInvalidAccount)
}

func TestSubmitFinalized(t *testing.T) {
	node, client := newFakeNode(t)
	signer := newSigner(t)
	sig, err := client.Submit(
		t.Context(),
		ledger.AddCertificate{Number: "CERT-1", Name: "Siti"},
		signer,
	)
	require.NoError(t, err)
	require.Len(t, node.sent, 1)
	tx := node.sent[0]
	assert.Equal(t, sig, tx.Signatures[0])
	assert.Equal(t, signer.PublicKey(), tx.Message.AccountKeys[0])

	data := tx.Message.Instructions[0].Data
	ix, err := ledger.DecodeInstruction(data)
	require.NoError(t, err)
	assert.Equal(t, "CERT-1", ix.(ledger.AddCertificate).Number)
}

func TestSubmitRejected(t *testing.T) {
	node, client := newFakeNode(t)
	node.rejectSend = true
	_, err := client.Submit(t.Context(), ledger.InitRegistry{}, newSigner(t))
	require.ErrorIs(t, err, ledger.ErrRejected)
	assert.Contains(t, err.Error(), "simulation failed")
}

func TestSubmitTimeout(t *testing.T) {
	node, client := newFakeNode(t)
	node.status = ""
	sig, err := client.Submit(t.Context(), ledger.InitRegistry{}, newSigner(t))
	require.ErrorIs(t, err, ledger.ErrTimeout)
	assert.False(t, sig.IsZero(), "signature is reported for probing")
}

func TestPing(t *testing.T) {
	node, client := newFakeNode(t)
	// A node that reports itself behind is still reachable
	require.NoError(t, client.Ping(t.Context()))
	assert.NotEmpty(t, client.Endpoint())

	node.mu.Lock()
	node.unreachable = true
	node.mu.Unlock()
	require.Error(t, client.Ping(t.Context()))
}
