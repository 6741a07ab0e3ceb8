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

package integration_test

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/blinklabs-io/attest/database"
	"github.com/blinklabs-io/attest/database/plugin"
	"github.com/blinklabs-io/attest/database/plugin/blob/aws"
	"github.com/blinklabs-io/attest/database/plugin/blob/gcs"
	"github.com/blinklabs-io/attest/internal/config"
	"github.com/blinklabs-io/attest/internal/node"
	"github.com/blinklabs-io/attest/internal/test/testutil"
	"github.com/blinklabs-io/attest/ledger"
	"github.com/blinklabs-io/attest/saga"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
)

func TestPluginSystemIntegration(t *testing.T) {
	expected := map[plugin.PluginType][]string{
		plugin.PluginTypeBlob:     {"badger", "s3", "gcs", "pinata"},
		plugin.PluginTypeMetadata: {"sqlite", "postgres", "mysql", "mongodb"},
	}
	for pluginType, names := range expected {
		entries := plugin.GetPlugins(pluginType)
		for _, name := range names {
			entry := findPluginEntry(entries, name)
			if entry == nil {
				t.Errorf(
					"expected %s plugin %q not found",
					plugin.PluginTypeName(pluginType),
					name,
				)
				continue
			}
			if entry.Description == "" {
				t.Errorf("plugin %q has empty description", name)
			}
		}
	}
}

func TestPluginLifecycle(t *testing.T) {
	dir := t.TempDir()
	if err := plugin.SetPluginOption(plugin.PluginTypeBlob, "badger", "data-dir", dir); err != nil {
		t.Fatalf("failed to set badger data dir: %v", err)
	}
	if err := plugin.SetPluginOption(plugin.PluginTypeMetadata, "sqlite", "data-dir", dir); err != nil {
		t.Fatalf("failed to set sqlite data dir: %v", err)
	}
	for _, p := range []struct {
		pluginType plugin.PluginType
		name       string
	}{
		{plugin.PluginTypeBlob, "badger"},
		{plugin.PluginTypeMetadata, "sqlite"},
	} {
		instance := plugin.GetPlugin(p.pluginType, p.name)
		if instance == nil {
			t.Fatalf("failed to instantiate %s plugin", p.name)
		}
		if err := instance.Start(); err != nil {
			t.Fatalf("failed to start %s plugin: %v", p.name, err)
		}
		if err := instance.Stop(); err != nil {
			t.Errorf("failed to stop %s plugin: %v", p.name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "metadata.sqlite")); err != nil {
		t.Errorf("sqlite database file not created: %v", err)
	}
}

func TestPluginConfigurationIntegration(t *testing.T) {
	dir := t.TempDir()
	configContent := `
database:
  blob:
    plugin: "badger"
    badger:
      data-dir: "` + dir + `"
      block-cache-size: 1000000
  metadata:
    plugin: "sqlite"
    sqlite:
      data-dir: "` + dir + `"
`
	configFile := filepath.Join(dir, "attest.yaml")
	if err := os.WriteFile(configFile, []byte(configContent), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.BlobPlugin != "badger" {
		t.Errorf("expected BlobPlugin to be 'badger', got '%s'", cfg.BlobPlugin)
	}
	if cfg.MetadataPlugin != "sqlite" {
		t.Errorf(
			"expected MetadataPlugin to be 'sqlite', got '%s'",
			cfg.MetadataPlugin,
		)
	}
}

// TestDevNodeRestart issues a certificate, restarts the node on the same
// data directory and reads everything back over the public API
func TestDevNodeRestart(t *testing.T) {
	dir := t.TempDir()
	super, err := ledger.NewKeySigner(solana.NewWallet().PrivateKey)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	newNode := func() *node.Node {
		n, err := node.New(node.NewConfig(
			node.WithRunMode("dev"),
			node.WithDatabasePath(dir),
			node.WithSigner(super),
			node.WithPrometheusRegistry(prometheus.NewRegistry()),
			node.WithListenAddress("127.0.0.1:0"),
			node.WithShutdownTimeout(5*time.Second),
		))
		if err != nil {
			t.Fatalf("failed to create node: %v", err)
		}
		if err := n.Start(t.Context()); err != nil {
			t.Fatalf("failed to start node: %v", err)
		}
		return n
	}

	n := newNode()
	if _, err := n.Ledger().Submit(
		t.Context(),
		ledger.InitRegistry{SuperAdmin: super.PublicKey()},
		super,
	); err != nil {
		t.Fatalf("failed to init registry: %v", err)
	}
	s, err := n.Saga()
	if err != nil {
		t.Fatalf("node has no saga: %v", err)
	}
	pdf := []byte("%PDF-1.7\n%%EOF\n")
	res, err := s.Issue(t.Context(), saga.IssueRequest{
		Subject: saga.Subject{
			Name:         "Budi Santoso",
			StudentID:    "2018-0007",
			Program:      "Civil Engineering",
			Institution:  "Universitas Contoh",
			BatchCode:    "2022-B",
			Number:       "IJZ-INT-1",
			OperatorName: "Registrar",
		},
		Attachment: &saga.Attachment{
			Filename:    "ijazah.pdf",
			ContentType: "application/pdf",
			Data:        pdf,
		},
	})
	if err != nil {
		t.Fatalf("failed to issue: %v", err)
	}
	if err := n.Stop(); err != nil {
		t.Fatalf("failed to stop node: %v", err)
	}

	n = newNode()
	defer n.Stop()
	base := "http://" + n.Addrs()[0].String()
	testutil.WaitForCondition(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, "api not healthy")

	for _, path := range []string{
		"/api/v1/certs/" + res.Address,
		"/api/v1/metadata/" + res.Address,
	} {
		resp, err := http.Get(base + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: got status %d", path, resp.StatusCode)
		}
	}
	resp, err := http.Get(base + "/api/v1/objects/" + res.Object.ContentID)
	if err != nil {
		t.Fatalf("failed to fetch object: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read object: %v", err)
	}
	if string(data) != string(pdf) {
		t.Errorf("object mismatch: got %q", data)
	}
}

func TestCloudPluginGCS(t *testing.T) {
	if !hasGCSCredentials() {
		t.Skip("GCS credentials not found, skipping test")
	}
	testBucket := os.Getenv("ATTEST_TEST_GCS_BUCKET")
	if testBucket == "" {
		testBucket = "attest-test-bucket"
	}
	gcsPlugin, err := gcs.NewWithOptions(
		gcs.WithBucket(testBucket),
	)
	if err != nil {
		t.Fatalf("failed to create GCS plugin: %v", err)
	}
	if err := gcsPlugin.Start(); err != nil {
		t.Fatalf("failed to start GCS plugin: %v", err)
	}
	defer func() {
		if err := gcsPlugin.Stop(); err != nil {
			t.Errorf("failed to stop GCS plugin: %v", err)
		}
	}()
}

func TestCloudPluginS3(t *testing.T) {
	if !hasS3Credentials() {
		t.Skip("S3 credentials not found, skipping test")
	}
	testBucket := os.Getenv("ATTEST_TEST_S3_BUCKET")
	if testBucket == "" {
		testBucket = "attest-test-bucket"
	}
	s3Plugin, err := aws.NewWithOptions(
		aws.WithBucket(testBucket),
	)
	if err != nil {
		t.Fatalf("failed to create S3 plugin: %v", err)
	}
	if err := s3Plugin.Start(); err != nil {
		t.Fatalf("failed to start S3 plugin: %v", err)
	}
	defer func() {
		if err := s3Plugin.Stop(); err != nil {
			t.Errorf("failed to stop S3 plugin: %v", err)
		}
	}()
}

func hasGCSCredentials() bool {
	if os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != "" {
		return true
	}
	home := os.Getenv("HOME")
	if home == "" {
		return false
	}
	adcPath := filepath.Join(
		home,
		".config",
		"gcloud",
		"application_default_credentials.json",
	)
	_, err := os.Stat(adcPath)
	return err == nil
}

func hasS3Credentials() bool {
	if os.Getenv("AWS_ACCESS_KEY_ID") != "" &&
		os.Getenv("AWS_SECRET_ACCESS_KEY") != "" {
		return true
	}
	home := os.Getenv("HOME")
	if home == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(home, ".aws", "credentials"))
	return err == nil
}

func findPluginEntry(
	plugins []plugin.PluginEntry,
	name string,
) *plugin.PluginEntry {
	for i := range plugins {
		p := &plugins[i]
		if p.Name == name {
			return p
		}
	}
	return nil
}
