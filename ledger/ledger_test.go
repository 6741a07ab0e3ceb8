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

package ledger_test

import (
	"crypto/ed25519"
	"strings"
	"testing"

	"github.com/blinklabs-io/attest/ledger"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testProgramID = solana.MustPublicKeyFromBase58(ledger.DefaultProgramID)

func TestCertificateAddressDeterministic(t *testing.T) {
	a, err := ledger.CertificateAddress(testProgramID, "CERT-2024-0001")
	require.NoError(t, err)
	b, err := ledger.CertificateAddress(testProgramID, "CERT-2024-0001")
	require.NoError(t, err)
	c, err := ledger.CertificateAddress(testProgramID, "CERT-2024-0002")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	other := solana.NewWallet().PublicKey()
	d, err := ledger.CertificateAddress(other, "CERT-2024-0001")
	require.NoError(t, err)
	assert.NotEqual(t, a, d, "program id namespaces addresses")
}

func TestCertificateAddressInvalidNumber(t *testing.T) {
	_, err := ledger.CertificateAddress(testProgramID, "  ")
	require.ErrorIs(t, err, ledger.ErrInvalidCertificateNumber)
	_, err = ledger.CertificateAddress(testProgramID, strings.Repeat("9", 33))
	require.ErrorIs(t, err, ledger.ErrInvalidCertificateNumber)
}

func TestParsePrincipal(t *testing.T) {
	pk := solana.NewWallet().PublicKey()
	got, err := ledger.ParsePrincipal(pk.String())
	require.NoError(t, err)
	assert.Equal(t, pk, got)
	_, err = ledger.ParsePrincipal("not base58 !")
	require.ErrorIs(t, err, ledger.ErrInvalidPrincipal)
}

func TestCertificateCodec(t *testing.T) {
	cert := &ledger.Certificate{
		Program:       "Informatika",
		Institution:   "Universitas Contoh",
		BatchCode:     "2020",
		StudentID:     "1301201234",
		Name:          "Siti Aminah",
		Number:        "CERT-2024-0001",
		OperatorName:  "Operator One",
		Operator:      solana.NewWallet().PublicKey(),
		AttachmentURI: "ipfs://bafk",
		IssuedAt:      1735689600,
	}
	cert.AttachmentDigest[0] = 0xab
	data, err := ledger.EncodeCertificate(cert)
	require.NoError(t, err)
	got, err := ledger.DecodeCertificate(data)
	require.NoError(t, err)
	assert.Equal(t, cert, got)
	assert.True(t, got.HasAttachment())
	assert.Len(t, got.DigestHex(), 64)
	assert.Equal(t, ledger.CertificateDiscriminator(), data[:ledger.CertificateOperatorOffset])
	assert.Equal(
		t,
		cert.Operator.Bytes(),
		data[ledger.CertificateOperatorOffset:ledger.CertificateOperatorOffset+solana.PublicKeyLength],
	)

	_, err = ledger.DecodeRegistry(data)
	require.ErrorIs(t, err, ledger.ErrInvalidAccount)
	_, err = ledger.DecodeCertificate(data[:4])
	require.ErrorIs(t, err, ledger.ErrInvalidAccount)
}

func TestCertificateAttachmentInvariant(t *testing.T) {
	cert := &ledger.Certificate{Number: "N1", AttachmentURI: "ipfs://x"}
	require.ErrorIs(t, cert.Validate(), ledger.ErrInvalidAccount)
	data, err := ledger.EncodeCertificate(cert)
	require.NoError(t, err)
	_, err = ledger.DecodeCertificate(data)
	require.ErrorIs(t, err, ledger.ErrInvalidAccount)

	cert = &ledger.Certificate{Number: "N1"}
	require.NoError(t, cert.Validate())
	assert.False(t, cert.HasAttachment())
	assert.Empty(t, cert.DigestHex())
}

func TestCertificateFilterMatch(t *testing.T) {
	operator := solana.NewWallet().PublicKey()
	cert := &ledger.Certificate{Number: "N1", Operator: operator}
	assert.True(t, ledger.CertificateFilter{}.Match(cert))
	assert.True(t, ledger.CertificateFilter{Operator: operator}.Match(cert))
	assert.False(
		t,
		ledger.CertificateFilter{Operator: solana.NewWallet().PublicKey()}.Match(cert),
	)
}

func TestRegistryIsAdmin(t *testing.T) {
	super := solana.NewWallet().PublicKey()
	admin := solana.NewWallet().PublicKey()
	reg := &ledger.AdminRegistry{SuperAdmin: super, Admins: []solana.PublicKey{admin}}
	data, err := ledger.EncodeRegistry(reg)
	require.NoError(t, err)
	got, err := ledger.DecodeRegistry(data)
	require.NoError(t, err)
	assert.True(t, got.IsAdmin(super))
	assert.True(t, got.IsAdmin(admin))
	assert.False(t, got.IsAdmin(solana.NewWallet().PublicKey()))
}

func TestInstructionCodec(t *testing.T) {
	admin := solana.NewWallet().PublicKey()
	ixs := []ledger.Instruction{
		ledger.InitRegistry{SuperAdmin: admin},
		ledger.AddAdmin{Admin: admin},
		ledger.RemoveAdmin{Admin: admin},
		ledger.AddCertificate{Number: "CERT-1", Name: "Siti"},
		ledger.SetCertificateFile{Number: "CERT-1", AttachmentURI: "ipfs://x"},
	}
	for _, ix := range ixs {
		t.Run(ix.Method(), func(t *testing.T) {
			data, err := ledger.EncodeInstruction(ix)
			require.NoError(t, err)
			got, err := ledger.DecodeInstruction(data)
			require.NoError(t, err)
			assert.Equal(t, ix, got)
		})
	}
	_, err := ledger.DecodeInstruction([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9})
	require.ErrorIs(t, err, ledger.ErrUnknownInstruction)
}

func TestBuildInstructionAccounts(t *testing.T) {
	signer := solana.NewWallet().PublicKey()
	ix, err := ledger.BuildInstruction(
		testProgramID,
		signer,
		ledger.AddCertificate{Number: "CERT-1"},
	)
	require.NoError(t, err)
	assert.Equal(t, testProgramID, ix.ProgramID())
	accounts := ix.Accounts()
	require.Len(t, accounts, 4)
	certAddr, err := ledger.CertificateAddress(testProgramID, "CERT-1")
	require.NoError(t, err)
	assert.Equal(t, certAddr, accounts[0].PublicKey)
	assert.True(t, accounts[0].IsWritable)
	assert.True(t, accounts[2].IsSigner)
	assert.Equal(t, signer, accounts[2].PublicKey)
}

func TestKeySigner(t *testing.T) {
	wallet := solana.NewWallet()
	signer, err := ledger.NewKeySigner(wallet.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, wallet.PublicKey(), signer.PublicKey())
	sig, err := signer.Sign(t.Context(), []byte("msg"))
	require.NoError(t, err)
	pub := wallet.PublicKey()
	assert.True(t, ed25519.Verify(pub[:], []byte("msg"), sig[:]))

	_, err = ledger.NewKeySigner(solana.PrivateKey{1, 2})
	require.Error(t, err)
}
