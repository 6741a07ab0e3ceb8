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
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

const (
	certificateSeed = "cert"
	registrySeed    = "admin"
	// maxSeedLength is the per-seed limit for program derived addresses
	maxSeedLength = 32
)

var ErrInvalidCertificateNumber = errors.New("invalid certificate number")

// CertificateAddress derives the address of the certificate with the given
// number. The same number always yields the same address for a program.
func CertificateAddress(
	programID solana.PublicKey,
	number string,
) (solana.PublicKey, error) {
	if strings.TrimSpace(number) == "" {
		return solana.PublicKey{}, fmt.Errorf(
			"%w: empty",
			ErrInvalidCertificateNumber,
		)
	}
	if len(number) > maxSeedLength {
		return solana.PublicKey{}, fmt.Errorf(
			"%w: longer than %d bytes",
			ErrInvalidCertificateNumber,
			maxSeedLength,
		)
	}
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte(certificateSeed), []byte(number)},
		programID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive certificate address: %w", err)
	}
	return addr, nil
}

// RegistryAddress derives the address of the program's admin registry
func RegistryAddress(programID solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte(registrySeed)},
		programID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive registry address: %w", err)
	}
	return addr, nil
}
