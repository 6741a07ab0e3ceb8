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

package ledger

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const (
	MethodInitRegistry       = "init_admin_registry"
	MethodAddAdmin           = "add_admin"
	MethodRemoveAdmin        = "remove_admin"
	MethodAddCertificate     = "add_certificate"
	MethodSetCertificateFile = "set_certificate_file"
)

var ErrUnknownInstruction = errors.New("unknown instruction")

// Instruction is a single call into the certificate program
type Instruction interface {
	Method() string
	// Accounts lists the accounts the call reads or writes, in program order
	Accounts(programID, signer solana.PublicKey) ([]*solana.AccountMeta, error)
}

// InitRegistry creates the admin registry with the given super admin
type InitRegistry struct {
	SuperAdmin solana.PublicKey
}

func (InitRegistry) Method() string { return MethodInitRegistry }

func (InitRegistry) Accounts(
	programID, signer solana.PublicKey,
) ([]*solana.AccountMeta, error) {
	registry, err := RegistryAddress(programID)
	if err != nil {
		return nil, err
	}
	return []*solana.AccountMeta{
		solana.NewAccountMeta(registry, true, false),
		solana.NewAccountMeta(signer, true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, nil
}

type AddAdmin struct {
	Admin solana.PublicKey
}

func (AddAdmin) Method() string { return MethodAddAdmin }

func (AddAdmin) Accounts(
	programID, signer solana.PublicKey,
) ([]*solana.AccountMeta, error) {
	return registryAdminAccounts(programID, signer)
}

type RemoveAdmin struct {
	Admin solana.PublicKey
}

func (RemoveAdmin) Method() string { return MethodRemoveAdmin }

func (RemoveAdmin) Accounts(
	programID, signer solana.PublicKey,
) ([]*solana.AccountMeta, error) {
	return registryAdminAccounts(programID, signer)
}

func registryAdminAccounts(
	programID, signer solana.PublicKey,
) ([]*solana.AccountMeta, error) {
	registry, err := RegistryAddress(programID)
	if err != nil {
		return nil, err
	}
	return []*solana.AccountMeta{
		solana.NewAccountMeta(registry, true, false),
		solana.NewAccountMeta(signer, false, true),
	}, nil
}

// AddCertificate creates a certificate record at the address derived from
// its number
type AddCertificate struct {
	Program          string
	Institution      string
	BatchCode        string
	StudentID        string
	Name             string
	Number           string
	OperatorName     string
	AttachmentURI    string
	AttachmentDigest [32]byte
}

func (AddCertificate) Method() string { return MethodAddCertificate }

func (a AddCertificate) Accounts(
	programID, signer solana.PublicKey,
) ([]*solana.AccountMeta, error) {
	return certificateAccounts(programID, signer, a.Number, true)
}

// SetCertificateFile links an attachment to an existing record
type SetCertificateFile struct {
	Number           string
	AttachmentURI    string
	AttachmentDigest [32]byte
}

func (SetCertificateFile) Method() string { return MethodSetCertificateFile }

func (s SetCertificateFile) Accounts(
	programID, signer solana.PublicKey,
) ([]*solana.AccountMeta, error) {
	return certificateAccounts(programID, signer, s.Number, false)
}

func certificateAccounts(
	programID, signer solana.PublicKey,
	number string,
	create bool,
) ([]*solana.AccountMeta, error) {
	cert, err := CertificateAddress(programID, number)
	if err != nil {
		return nil, err
	}
	registry, err := RegistryAddress(programID)
	if err != nil {
		return nil, err
	}
	ret := []*solana.AccountMeta{
		solana.NewAccountMeta(cert, true, false),
		solana.NewAccountMeta(registry, false, false),
		solana.NewAccountMeta(signer, create, true),
	}
	if create {
		ret = append(
			ret,
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
		)
	}
	return ret, nil
}

func instructionDiscriminator(method string) []byte {
	sum := sha256.Sum256([]byte("global:" + method))
	return sum[:discriminatorLength]
}

// EncodeInstruction returns the program instruction data
func EncodeInstruction(ix Instruction) ([]byte, error) {
	body, err := bin.MarshalBorsh(ix)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ix.Method(), err)
	}
	return append(instructionDiscriminator(ix.Method()), body...), nil
}

// DecodeInstruction parses instruction data produced by EncodeInstruction
func DecodeInstruction(data []byte) (Instruction, error) {
	if len(data) < discriminatorLength {
		return nil, ErrUnknownInstruction
	}
	disc, body := data[:discriminatorLength], data[discriminatorLength:]
	decode := func(v Instruction) (Instruction, error) {
		if err := bin.UnmarshalBorsh(v, body); err != nil {
			return nil, fmt.Errorf("decode %s: %w", v.Method(), err)
		}
		return v, nil
	}
	switch {
	case bytes.Equal(disc, instructionDiscriminator(MethodInitRegistry)):
		return deref(decode(&InitRegistry{}))
	case bytes.Equal(disc, instructionDiscriminator(MethodAddAdmin)):
		return deref(decode(&AddAdmin{}))
	case bytes.Equal(disc, instructionDiscriminator(MethodRemoveAdmin)):
		return deref(decode(&RemoveAdmin{}))
	case bytes.Equal(disc, instructionDiscriminator(MethodAddCertificate)):
		return deref(decode(&AddCertificate{}))
	case bytes.Equal(disc, instructionDiscriminator(MethodSetCertificateFile)):
		return deref(decode(&SetCertificateFile{}))
	}
	return nil, ErrUnknownInstruction
}

// deref returns decoded instructions by value so callers can type switch on
// the same types they build
func deref(ix Instruction, err error) (Instruction, error) {
	if err != nil {
		return nil, err
	}
	switch v := ix.(type) {
	case *InitRegistry:
		return *v, nil
	case *AddAdmin:
		return *v, nil
	case *RemoveAdmin:
		return *v, nil
	case *AddCertificate:
		return *v, nil
	case *SetCertificateFile:
		return *v, nil
	}
	return ix, nil
}

// BuildInstruction assembles the program instruction for a transaction
func BuildInstruction(
	programID, signer solana.PublicKey,
	ix Instruction,
) (solana.Instruction, error) {
	accounts, err := ix.Accounts(programID, signer)
	if err != nil {
		return nil, err
	}
	data, err := EncodeInstruction(ix)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, accounts, data), nil
}
