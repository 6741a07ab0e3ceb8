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

package devnet

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/blinklabs-io/attest/ledger"
	"github.com/dgraph-io/badger/v4"
	"github.com/gagliardetto/solana-go"
)

func rejectf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ledger.ErrRejected, fmt.Sprintf(format, args...))
}

func (l *Ledger) execute(
	txn *badger.Txn,
	ix ledger.Instruction,
	signer solana.PublicKey,
) error {
	registryAddr, err := ledger.RegistryAddress(l.programID)
	if err != nil {
		return err
	}
	switch v := ix.(type) {
	case ledger.InitRegistry:
		if _, err := getAccount(txn, registryAddr); err == nil {
			return rejectf("admin registry already initialized")
		} else if !errors.Is(err, ledger.ErrAccountNotFound) {
			return err
		}
		if !v.SuperAdmin.IsZero() && !v.SuperAdmin.Equals(signer) {
			return rejectf("super admin must sign the registry initialization")
		}
		return putAccount(txn, registryAddr, ledger.EncodeRegistry, &ledger.AdminRegistry{
			SuperAdmin: signer,
		})
	case ledger.AddAdmin, ledger.RemoveAdmin:
		reg, err := loadRegistry(txn, registryAddr)
		if err != nil {
			return err
		}
		if !reg.SuperAdmin.Equals(signer) {
			return rejectf("signer is not the super admin")
		}
		if add, ok := v.(ledger.AddAdmin); ok {
			if add.Admin.Equals(reg.SuperAdmin) || slices.ContainsFunc(reg.Admins, add.Admin.Equals) {
				return rejectf("admin already registered")
			}
			reg.Admins = append(reg.Admins, add.Admin)
		} else {
			remove := v.(ledger.RemoveAdmin)
			idx := slices.IndexFunc(reg.Admins, remove.Admin.Equals)
			if idx < 0 {
				return rejectf("admin not registered")
			}
			reg.Admins = slices.Delete(reg.Admins, idx, idx+1)
		}
		return putAccount(txn, registryAddr, ledger.EncodeRegistry, reg)
	case ledger.AddCertificate:
		if err := l.authorize(txn, registryAddr, signer); err != nil {
			return err
		}
		addr, err := ledger.CertificateAddress(l.programID, v.Number)
		if err != nil {
			return rejectf("%s", err)
		}
		if _, err := getAccount(txn, addr); err == nil {
			return rejectf("certificate %s already exists", addr)
		} else if !errors.Is(err, ledger.ErrAccountNotFound) {
			return err
		}
		cert := &ledger.Certificate{
			Program:          v.Program,
			Institution:      v.Institution,
			BatchCode:        v.BatchCode,
			StudentID:        v.StudentID,
			Name:             v.Name,
			Number:           v.Number,
			OperatorName:     v.OperatorName,
			Operator:         signer,
			AttachmentURI:    v.AttachmentURI,
			AttachmentDigest: v.AttachmentDigest,
			IssuedAt:         l.clock().Unix(),
		}
		if err := cert.Validate(); err != nil {
			return rejectf("%s", err)
		}
		return putAccount(txn, addr, ledger.EncodeCertificate, cert)
	case ledger.SetCertificateFile:
		if err := l.authorize(txn, registryAddr, signer); err != nil {
			return err
		}
		if strings.TrimSpace(v.AttachmentURI) == "" || v.AttachmentDigest == ([32]byte{}) {
			return rejectf("attachment uri and digest are required")
		}
		addr, err := ledger.CertificateAddress(l.programID, v.Number)
		if err != nil {
			return rejectf("%s", err)
		}
		data, err := getAccount(txn, addr)
		if err != nil {
			if errors.Is(err, ledger.ErrAccountNotFound) {
				return rejectf("certificate %s does not exist", addr)
			}
			return err
		}
		cert, err := ledger.DecodeCertificate(data)
		if err != nil {
			return rejectf("%s", err)
		}
		cert.AttachmentURI = v.AttachmentURI
		cert.AttachmentDigest = v.AttachmentDigest
		return putAccount(txn, addr, ledger.EncodeCertificate, cert)
	}
	return rejectf("unsupported instruction %s", ix.Method())
}

func (l *Ledger) authorize(
	txn *badger.Txn,
	registryAddr solana.PublicKey,
	signer solana.PublicKey,
) error {
	reg, err := loadRegistry(txn, registryAddr)
	if err != nil {
		return err
	}
	if !reg.IsAdmin(signer) {
		return rejectf("signer %s is not an admin", signer)
	}
	return nil
}

func loadRegistry(
	txn *badger.Txn,
	registryAddr solana.PublicKey,
) (*ledger.AdminRegistry, error) {
	data, err := getAccount(txn, registryAddr)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, rejectf("admin registry not initialized")
		}
		return nil, err
	}
	return ledger.DecodeRegistry(data)
}

func putAccount[T any](
	txn *badger.Txn,
	addr solana.PublicKey,
	encode func(T) ([]byte, error),
	v T,
) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	return txn.Set(accountKey(addr), data)
}
