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

package config

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/blinklabs-io/attest/database/plugin"
	"github.com/blinklabs-io/attest/ledger"
	"github.com/gagliardetto/solana-go"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "attest.config"

const (
	DefaultShutdownTimeout = "30s"
	DefaultBlobPlugin      = "badger"
	DefaultMetadataPlugin  = "sqlite"
	DefaultIpfsGateway     = "https://gateway.pinata.cloud/ipfs"

	envPrefix = "attest"
)

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

// RunMode selects the ledger the node talks to
type RunMode string

const (
	RunModeServe RunMode = "serve" // Remote ledger over JSON-RPC (default)
	RunModeDev   RunMode = "dev"   // In-process ledger kept in the data dir
)

// Valid returns true if the RunMode is a known valid mode
func (m RunMode) Valid() bool {
	switch m {
	case RunModeServe, RunModeDev, "":
		return true
	default:
		return false
	}
}

func (m RunMode) IsDevMode() bool {
	return m == RunModeDev
}

type tempConfig struct {
	Config   *Config                   `yaml:"config,omitempty"`
	Database *databaseConfig           `yaml:"database,omitempty"`
	Blob     map[string]map[string]any `yaml:"blob,omitempty"`
	Metadata map[string]map[string]any `yaml:"metadata,omitempty"`
}

type databaseConfig struct {
	Blob     map[string]any `yaml:"blob,omitempty"`
	Metadata map[string]any `yaml:"metadata,omitempty"`
}

type Config struct {
	RunMode         RunMode `yaml:"runMode"         split_words:"true"`
	LedgerEndpoint  string  `yaml:"ledgerEndpoint"  split_words:"true"`
	ProgramId       string  `yaml:"programId"       split_words:"true"`
	KeyFile         string  `yaml:"keyFile"         split_words:"true"`
	DataDir         string  `yaml:"dataDir"         split_words:"true"`
	BindAddr        string  `yaml:"bindAddr"        split_words:"true"`
	PrivateBindAddr string  `yaml:"privateBindAddr" split_words:"true"`
	PublicUrl       string  `yaml:"publicUrl"       split_words:"true"`
	IpfsGateway     string  `yaml:"ipfsGateway"     split_words:"true"`
	BlobPlugin      string  `yaml:"blobPlugin"      split_words:"true"`
	MetadataPlugin  string  `yaml:"metadataPlugin"  split_words:"true"`
	ShutdownTimeout string  `yaml:"shutdownTimeout" split_words:"true"`
	SubmitTimeout   string  `yaml:"submitTimeout"   split_words:"true"`
	UploadTimeout   string  `yaml:"uploadTimeout"   split_words:"true"`
	MetadataTimeout string  `yaml:"metadataTimeout" split_words:"true"`
	// FinalityTimeout bounds the wait for a submitted transaction to finalize
	FinalityTimeout     string   `yaml:"finalityTimeout"     split_words:"true"`
	AuthzFreshness      string   `yaml:"authzFreshness"      split_words:"true"`
	AuthzAttemptTimeout string   `yaml:"authzAttemptTimeout" split_words:"true"`
	PingInterval        string   `yaml:"pingInterval"        split_words:"true"`
	AttachmentTypes     []string `yaml:"attachmentTypes"     split_words:"true"`
	MaxAttachmentBytes  int64    `yaml:"maxAttachmentBytes"  split_words:"true"`
	Port                uint     `yaml:"port"`
	PrivatePort         uint     `yaml:"privatePort"         split_words:"true"`
	MetricsPort         uint     `yaml:"metricsPort"         split_words:"true"`
	Tracing             bool     `yaml:"tracing"`
	TracingStdout       bool     `yaml:"tracingStdout"       split_words:"true"`
}

// Timeouts are the parsed duration settings. Zero leaves the component
// default in place.
type Timeouts struct {
	Shutdown     time.Duration
	Submit       time.Duration
	Upload       time.Duration
	Metadata     time.Duration
	Finality     time.Duration
	Freshness    time.Duration
	AuthzAttempt time.Duration
	Ping         time.Duration
}

// ParseTimeouts parses every duration setting
func (c *Config) ParseTimeouts() (Timeouts, error) {
	var ret Timeouts
	for _, d := range []struct {
		dst   *time.Duration
		name  string
		value string
	}{
		{&ret.Shutdown, "shutdownTimeout", c.ShutdownTimeout},
		{&ret.Submit, "submitTimeout", c.SubmitTimeout},
		{&ret.Upload, "uploadTimeout", c.UploadTimeout},
		{&ret.Metadata, "metadataTimeout", c.MetadataTimeout},
		{&ret.Finality, "finalityTimeout", c.FinalityTimeout},
		{&ret.Freshness, "authzFreshness", c.AuthzFreshness},
		{&ret.AuthzAttempt, "authzAttemptTimeout", c.AuthzAttemptTimeout},
		{&ret.Ping, "pingInterval", c.PingInterval},
	} {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return ret, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		if parsed < 0 {
			return ret, fmt.Errorf("invalid %s: must not be negative", d.name)
		}
		*d.dst = parsed
	}
	return ret, nil
}

// ParseProgramID returns the configured program, or the deployed default
func (c *Config) ParseProgramID() (solana.PublicKey, error) {
	if c.ProgramId == "" {
		return solana.MustPublicKeyFromBase58(ledger.DefaultProgramID), nil
	}
	pk, err := ledger.ParsePrincipal(c.ProgramId)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid programId: %w", err)
	}
	return pk, nil
}

func defaultConfig() *Config {
	return &Config{
		RunMode:         RunModeServe,
		LedgerEndpoint:  "https://api.devnet.solana.com",
		DataDir:         ".attest",
		BindAddr:        "0.0.0.0",
		PrivateBindAddr: "127.0.0.1",
		Port:            8080,
		PrivatePort:     8081,
		MetricsPort:     12799,
		IpfsGateway:     DefaultIpfsGateway,
		BlobPlugin:      DefaultBlobPlugin,
		MetadataPlugin:  DefaultMetadataPlugin,
		ShutdownTimeout: DefaultShutdownTimeout,
		PingInterval:    "30s",
	}
}

var globalConfig = defaultConfig()

// LoadConfig builds the configuration from the defaults, the config file,
// and the environment, in that order
func LoadConfig(configFile string) (*Config, error) {
	cfg := defaultConfig()
	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		if err := loadConfigFile(cfg, configFile); err != nil {
			return nil, err
		}
	}
	// Process environment variables
	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	// Process plugin environment variables
	if err := plugin.ProcessEnvVars(); err != nil {
		return nil, fmt.Errorf(
			"error processing plugin environment variables: %w",
			err,
		)
	}
	if !cfg.RunMode.Valid() {
		return nil, fmt.Errorf(
			"invalid runMode: %q (must be 'serve' or 'dev')",
			cfg.RunMode,
		)
	}
	if cfg.RunMode == "" {
		cfg.RunMode = RunModeServe
	}
	if _, err := cfg.ParseTimeouts(); err != nil {
		return nil, err
	}
	if _, err := cfg.ParseProgramID(); err != nil {
		return nil, err
	}
	globalConfig = cfg
	return cfg, nil
}

// findConfigFile looks for ~/.attest/attest.yaml, then
// /etc/attest/attest.yaml
func findConfigFile() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(homeDir, ".attest", "attest.yaml")
		if _, err := os.Stat(userPath); err == nil {
			return userPath
		}
	}
	systemPath := "/etc/attest/attest.yaml"
	if _, err := os.Stat(systemPath); err == nil {
		return systemPath
	}
	return ""
}

func loadConfigFile(cfg *Config, configFile string) error {
	buf, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	// First unmarshal into temp config to handle plugin sections
	var tempCfg tempConfig
	if err := yaml.Unmarshal(buf, &tempCfg); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}
	if tempCfg.Config != nil {
		// Overlay the config section onto the defaults
		configBytes, err := yaml.Marshal(tempCfg.Config)
		if err != nil {
			return fmt.Errorf("error re-marshalling config: %w", err)
		}
		if err := yaml.Unmarshal(configBytes, cfg); err != nil {
			return fmt.Errorf("error parsing config section: %w", err)
		}
	} else if err := yaml.Unmarshal(buf, cfg); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}
	pluginConfig := make(map[string]map[string]map[string]any)
	if tempCfg.Blob != nil {
		pluginConfig["blob"] = tempCfg.Blob
	}
	if tempCfg.Metadata != nil {
		pluginConfig["metadata"] = tempCfg.Metadata
	}
	if tempCfg.Database != nil {
		if tempCfg.Database.Blob != nil {
			mergePluginSection(
				pluginConfig,
				"blob",
				tempCfg.Database.Blob,
				&cfg.BlobPlugin,
			)
		}
		if tempCfg.Database.Metadata != nil {
			mergePluginSection(
				pluginConfig,
				"metadata",
				tempCfg.Database.Metadata,
				&cfg.MetadataPlugin,
			)
		}
	}
	if len(pluginConfig) > 0 {
		if err := plugin.ProcessConfig(pluginConfig); err != nil {
			return fmt.Errorf("error processing plugin config: %w", err)
		}
	}
	return nil
}

// mergePluginSection folds a database.<type> section into the plugin
// config. Its "plugin" key selects the plugin.
func mergePluginSection(
	pluginConfig map[string]map[string]map[string]any,
	pluginType string,
	section map[string]any,
	pluginName *string,
) {
	if name, ok := section["plugin"].(string); ok {
		*pluginName = name
	}
	ret := make(map[string]map[string]any)
	for k, v := range section {
		if k == "plugin" {
			continue
		}
		switch val := v.(type) {
		case map[string]any:
			ret[k] = val
		case map[any]any:
			stringAnyMap := make(map[string]any)
			for vk, vv := range val {
				if keyStr, ok := vk.(string); ok {
					stringAnyMap[keyStr] = vv
				}
			}
			ret[k] = stringAnyMap
		default:
			fmt.Fprintf(
				os.Stderr,
				"warning: skipping %s config entry %q: expected map, got %T\n",
				pluginType,
				k,
				v,
			)
		}
	}
	if pluginConfig[pluginType] == nil {
		pluginConfig[pluginType] = ret
		return
	}
	maps.Copy(pluginConfig[pluginType], ret)
}

func GetConfig() *Config {
	return globalConfig
}
