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

// Package keystore loads the operator signing key used for ledger writes
package keystore

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/blinklabs-io/attest/database/sops"
	"github.com/blinklabs-io/attest/ledger"
	"github.com/gagliardetto/solana-go"
)

var (
	ErrKeyNotLoaded     = errors.New("operator key not loaded")
	ErrInsecureFileMode = errors.New("insecure file permissions")
	ErrWrongOwner       = errors.New("key file not owned by current user")
	ErrInvalidKeyFile   = errors.New("invalid key file")
	ErrKeyFileExists    = errors.New("key file already exists")
)

// maxKeyFileSize bounds reads of key files. SOPS envelopes of a 64-byte key
// are well under this size.
const maxKeyFileSize = 1 << 20

// KeyStore holds the operator key loaded from a solana-keygen style file
type KeyStore struct {
	logger *slog.Logger
	path   string
	signer *ledger.KeySigner
	mu     sync.RWMutex
}

func New(path string, logger *slog.Logger) *KeyStore {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &KeyStore{
		path:   path,
		logger: logger.With("component", "keystore"),
	}
}

// Load reads and checks the key file. Encrypted files are decrypted with
// SOPS.
func (ks *KeyStore) Load() error {
	key, err := LoadKey(ks.path)
	if err != nil {
		return err
	}
	signer, err := ledger.NewKeySigner(key)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidKeyFile, err)
	}
	ks.mu.Lock()
	ks.signer = signer
	ks.mu.Unlock()
	ks.logger.Info(
		"loaded operator key",
		"path", ks.path,
		"principal", signer.PublicKey().String(),
	)
	return nil
}

// Signer returns the loaded operator signer
func (ks *KeyStore) Signer() (ledger.Signer, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if ks.signer == nil {
		return nil, ErrKeyNotLoaded
	}
	return ks.signer, nil
}

// LoadKey opens a key file, verifies its permissions on the open handle, and
// parses it
func LoadKey(path string) (solana.PrivateKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open key file %q: %w", path, err)
	}
	defer f.Close()
	if err := checkOpenFilePermissions(f); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(f, maxKeyFileSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read key file %q: %w", path, err)
	}
	key, err := ParseKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key file %q: %w", path, err)
	}
	return key, nil
}

// ParseKey decodes a JSON array of 64 bytes, decrypting a SOPS envelope
// first when present
func ParseKey(data []byte) (solana.PrivateKey, error) {
	if sops.IsEncrypted(data) {
		plain, err := sops.Decrypt(data)
		if err != nil {
			return nil, err
		}
		data = plain
	}
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return nil, fmt.Errorf("%w: expected a JSON byte array", ErrInvalidKeyFile)
	}
	if len(ints) != 64 {
		return nil, fmt.Errorf(
			"%w: expected 64 bytes, got %d",
			ErrInvalidKeyFile,
			len(ints),
		)
	}
	raw := make([]byte, 0, len(ints))
	for _, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("%w: value %d out of range", ErrInvalidKeyFile, v)
		}
		raw = append(raw, byte(v))
	}
	// The second half must be the public key of the seed in the first half
	if !bytes.Equal(ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize]), raw) {
		return nil, fmt.Errorf("%w: public key does not match seed", ErrInvalidKeyFile)
	}
	return solana.PrivateKey(raw), nil
}

// EncodeKey returns the solana-keygen JSON form of a key
func EncodeKey(key solana.PrivateKey) ([]byte, error) {
	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	return json.Marshal(ints)
}

// WriteKey writes a new key file with owner-only permissions. Existing
// files are never overwritten.
func WriteKey(path string, key solana.PrivateKey, encrypt bool) error {
	data, err := EncodeKey(key)
	if err != nil {
		return err
	}
	if encrypt {
		data, err = sops.Encrypt(data)
		if err != nil {
			return fmt.Errorf("encrypt key file: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrKeyFileExists, path)
		}
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// GenerateKey creates a new random operator key
func GenerateKey() (solana.PrivateKey, error) {
	return solana.NewRandomPrivateKey()
}
