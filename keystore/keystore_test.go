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

package keystore_test

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/blinklabs-io/attest/keystore"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("key file permission checks are unix only")
	}
}

func writeTestKey(t *testing.T, mode os.FileMode) (string, solana.PrivateKey) {
	t.Helper()
	key, err := keystore.GenerateKey()
	require.NoError(t, err)
	data, err := keystore.EncodeKey(key)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "operator.json")
	require.NoError(t, os.WriteFile(path, data, mode))
	require.NoError(t, os.Chmod(path, mode))
	return path, key
}

func TestLoadKey(t *testing.T) {
	skipOnWindows(t)
	path, key := writeTestKey(t, 0o600)
	ks := keystore.New(path, nil)
	_, err := ks.Signer()
	require.ErrorIs(t, err, keystore.ErrKeyNotLoaded)

	require.NoError(t, ks.Load())
	signer, err := ks.Signer()
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), signer.PublicKey())
}

func TestLoadKeyInsecureMode(t *testing.T) {
	skipOnWindows(t)
	path, _ := writeTestKey(t, 0o644)
	_, err := keystore.LoadKey(path)
	require.ErrorIs(t, err, keystore.ErrInsecureFileMode)
}

func TestLoadKeyMissing(t *testing.T) {
	_, err := keystore.LoadKey(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestParseKeyInvalid(t *testing.T) {
	tests := map[string]string{
		"not json":     "hello",
		"short":        "[1,2,3]",
		"out of range": "[" + repeatInts(63, "1") + ",256]",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := keystore.ParseKey([]byte(data))
			require.ErrorIs(t, err, keystore.ErrInvalidKeyFile)
		})
	}
}

func repeatInts(n int, v string) string {
	ret := v
	for i := 1; i < n; i++ {
		ret += "," + v
	}
	return ret
}

func TestWriteKeyRefusesOverwrite(t *testing.T) {
	skipOnWindows(t)
	key, err := keystore.GenerateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "keys", "operator.json")
	require.NoError(t, keystore.WriteKey(path, key, false))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	loaded, err := keystore.LoadKey(path)
	require.NoError(t, err)
	assert.Equal(t, key, loaded)

	require.ErrorIs(t, keystore.WriteKey(path, key, false), keystore.ErrKeyFileExists)
}

func TestWriteKeyEncryptRequiresKms(t *testing.T) {
	t.Setenv("ATTEST_GCP_KMS_RESOURCE_ID", "")
	t.Setenv("ATTEST_AWS_KMS_KEY_ARNS", "")
	key, err := keystore.GenerateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "operator.json")
	require.Error(t, keystore.WriteKey(path, key, true))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}
