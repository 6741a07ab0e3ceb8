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

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListPlugins(t *testing.T) {
	shouldExit, output := listPlugins("badger", "sqlite")
	assert.False(t, shouldExit)
	assert.Empty(t, output)

	shouldExit, output = listPlugins("list", "sqlite")
	assert.True(t, shouldExit)
	assert.Contains(t, output, "Available blob plugins:")
	assert.Contains(t, output, "  badger: ")
	assert.NotContains(t, output, "metadata")

	shouldExit, output = listPlugins("list", "list")
	assert.True(t, shouldExit)
	assert.Contains(t, output, "  gcs: ")
	assert.Contains(t, output, "Available metadata plugins:")
	assert.Contains(t, output, "  postgres: ")
}

func TestListAllPlugins(t *testing.T) {
	output := listAllPlugins()
	for _, name := range []string{"badger", "s3", "gcs", "pinata", "sqlite", "postgres", "mysql", "mongodb"} {
		assert.Contains(t, output, "  "+name+": ")
	}
}

// run executes the CLI with a dev mode config rooted at dir
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", filepath.Join(dir, "attest.yaml")}, args...))
	err := cmd.ExecuteContext(t.Context())
	if err != nil {
		t.Logf("stderr: %s", stderr.String())
	}
	return stdout.String(), err
}

func decodeOutput(t *testing.T, out string) map[string]any {
	t.Helper()
	var ret map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &ret))
	return ret
}

func TestDevModeWorkflow(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "keys", "operator.json")
	dataDir := filepath.Join(dir, "data")
	cfg := strings.Join([]string{
		"config:",
		"  runMode: dev",
		"  dataDir: " + dataDir,
		"  keyFile: " + keyFile,
		"  pingInterval: 0s",
		"",
	}, "\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "attest.yaml"), []byte(cfg), 0o600))
	pdf := filepath.Join(dir, "ijazah.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.7\n%%EOF\n"), 0o600))

	out, err := run(t, dir, "keygen")
	require.NoError(t, err)
	principal := decodeOutput(t, out)["principal"].(string)
	_, err = run(t, dir, "keygen")
	require.Error(t, err)

	out, err = run(t, dir, "admin", "init")
	require.NoError(t, err)
	assert.Equal(t, principal, decodeOutput(t, out)["signer"])

	out, err = run(t, dir, "admin", "show")
	require.NoError(t, err)
	assert.Equal(t, principal, decodeOutput(t, out)["superAdmin"])

	out, err = run(t, dir,
		"issue",
		"--name", "Siti Rahma",
		"--student-id", "2019-0042",
		"--program", "Informatics",
		"--institution", "Universitas Contoh",
		"--batch-code", "2023-A",
		"--number", "IJZ-CLI-1",
		"--operator-name", "Registrar",
		"--file", pdf,
	)
	require.NoError(t, err)
	issued := decodeOutput(t, out)
	assert.Equal(t, true, issued["linked"])
	address := issued["address"].(string)

	out, err = run(t, dir, "verify", address)
	require.NoError(t, err)
	assert.Equal(t, address, decodeOutput(t, out)["address"])

	out, err = run(t, dir, "certs", "list", "--mine")
	require.NoError(t, err)
	var listed []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, address, listed[0]["address"])
	assert.Equal(t, "ijazah.pdf", listed[0]["filename"])

	out, err = run(t, dir, "certs", "list", "--operator", address)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)

	out, err = run(t, dir, "verify", address, "--file", pdf)
	require.NoError(t, err)
	assert.Equal(t, true, decodeOutput(t, out)["match"])

	other := filepath.Join(dir, "other.pdf")
	require.NoError(t, os.WriteFile(other, []byte("%PDF-1.7\nforged\n"), 0o600))
	_, err = run(t, dir, "verify", address, "--file", other)
	require.Error(t, err)

	// Issuing the same number again fails without touching the record
	_, err = run(t, dir,
		"issue",
		"--name", "Someone Else",
		"--student-id", "2019-0043",
		"--program", "Informatics",
		"--institution", "Universitas Contoh",
		"--batch-code", "2023-A",
		"--number", "IJZ-CLI-1",
		"--operator-name", "Registrar",
	)
	require.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	var stdout bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.ExecuteContext(t.Context()))
	assert.True(t, strings.HasPrefix(stdout.String(), "attest "))
}
