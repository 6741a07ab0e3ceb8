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
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
)

// KeySigner signs with an in-memory private key
type KeySigner struct {
	key solana.PrivateKey
}

func NewKeySigner(key solana.PrivateKey) (*KeySigner, error) {
	if len(key) != 64 {
		return nil, errors.New("private key must be 64 bytes")
	}
	return &KeySigner{key: key}, nil
}

func (s *KeySigner) PublicKey() solana.PublicKey {
	return s.key.PublicKey()
}

func (s *KeySigner) Sign(
	ctx context.Context,
	message []byte,
) (solana.Signature, error) {
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, err
	}
	return s.key.Sign(message)
}
