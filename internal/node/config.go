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

package node

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/attest/ledger"
	"github.com/blinklabs-io/attest/saga"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
)

// runMode constants for operational mode configuration
const (
	runModeServe = "serve"
	runModeDev   = "dev"
)

type Config struct {
	promRegistry          prometheus.Registerer
	logger                *slog.Logger
	ledgerClient          ledger.Client
	signer                ledger.Signer
	programID             solana.PublicKey
	dataDir               string
	blobPlugin            string
	metadataPlugin        string
	runMode               string
	ledgerEndpoint        string
	keyFile               string
	listenAddress         string
	operatorListenAddress string
	publicUrl             string
	ipfsGateway           string
	attachmentPolicy      saga.AttachmentPolicy
	submitTimeout         time.Duration
	uploadTimeout         time.Duration
	metadataTimeout       time.Duration
	finalityTimeout       time.Duration
	authzFreshness        time.Duration
	authzAttemptTimeout   time.Duration
	pingInterval          time.Duration
	shutdownTimeout       time.Duration
	tracing               bool
	tracingStdout         bool
}

// isDevMode returns true if running in development mode
func (c *Config) isDevMode() bool {
	return c.runMode == runModeDev
}

func (c *Config) validate() error {
	switch c.runMode {
	case "", runModeServe, runModeDev:
	default:
		return fmt.Errorf("unknown run mode: %s", c.runMode)
	}
	if c.ledgerClient == nil && !c.isDevMode() && c.ledgerEndpoint == "" {
		return errors.New("no ledger endpoint configured")
	}
	if c.operatorListenAddress != "" && c.listenAddress == "" {
		return errors.New("operator listener requires the public listener")
	}
	if c.attachmentPolicy.MaxBytes < 0 {
		return fmt.Errorf(
			"invalid max attachment size: %d",
			c.attachmentPolicy.MaxBytes,
		)
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the node config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new node config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:  slog.New(slog.NewJSONHandler(io.Discard, nil)),
		runMode: runModeServe,
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger to use
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithRunMode sets the operational mode ("serve" or "dev"). Dev mode runs
// against an in-process ledger stored under the data directory.
func WithRunMode(mode string) ConfigOptionFunc {
	return func(c *Config) {
		c.runMode = mode
	}
}

// WithLedgerClient uses an existing ledger client instead of opening one
func WithLedgerClient(client ledger.Client) ConfigOptionFunc {
	return func(c *Config) {
		c.ledgerClient = client
	}
}

// WithLedgerEndpoint specifies the JSON-RPC endpoint of the ledger
func WithLedgerEndpoint(endpoint string) ConfigOptionFunc {
	return func(c *Config) {
		c.ledgerEndpoint = endpoint
	}
}

// WithProgramID specifies the certificate program. The default program is
// used when unset.
func WithProgramID(programID solana.PublicKey) ConfigOptionFunc {
	return func(c *Config) {
		c.programID = programID
	}
}

// WithKeyFile specifies the operator key file. Without a key file or signer
// the node only serves verification.
func WithKeyFile(path string) ConfigOptionFunc {
	return func(c *Config) {
		c.keyFile = path
	}
}

// WithSigner specifies the operator signer directly
func WithSigner(signer ledger.Signer) ConfigOptionFunc {
	return func(c *Config) {
		c.signer = signer
	}
}

// WithDatabasePath specifies the persistent data directory to use. The default is to store everything in memory
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithBlobPlugin specifies the blob storage plugin to use.
func WithBlobPlugin(plugin string) ConfigOptionFunc {
	return func(c *Config) {
		c.blobPlugin = plugin
	}
}

// WithMetadataPlugin specifies the metadata storage plugin to use.
func WithMetadataPlugin(plugin string) ConfigOptionFunc {
	return func(c *Config) {
		c.metadataPlugin = plugin
	}
}

// WithListenAddress specifies the public API listen address. The API is not
// started when empty.
func WithListenAddress(addr string) ConfigOptionFunc {
	return func(c *Config) {
		c.listenAddress = addr
	}
}

// WithOperatorListenAddress specifies the listen address for operator routes
func WithOperatorListenAddress(addr string) ConfigOptionFunc {
	return func(c *Config) {
		c.operatorListenAddress = addr
	}
}

// WithPublicUrl specifies the externally visible base URL of the API
func WithPublicUrl(publicUrl string) ConfigOptionFunc {
	return func(c *Config) {
		c.publicUrl = publicUrl
	}
}

// WithIpfsGateway specifies the gateway used to resolve ipfs:// URIs
func WithIpfsGateway(gateway string) ConfigOptionFunc {
	return func(c *Config) {
		c.ipfsGateway = gateway
	}
}

// WithAttachmentPolicy specifies the accepted attachment types and size
func WithAttachmentPolicy(policy saga.AttachmentPolicy) ConfigOptionFunc {
	return func(c *Config) {
		c.attachmentPolicy = policy
	}
}

// WithTimeouts specifies the write step timeouts. Zero values keep the
// defaults.
func WithTimeouts(submit, upload, metadata time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.submitTimeout = submit
		c.uploadTimeout = upload
		c.metadataTimeout = metadata
	}
}

// WithFinalityTimeout specifies how long to wait for a submitted
// transaction to finalize
func WithFinalityTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.finalityTimeout = timeout
	}
}

// WithAuthzFreshness specifies how long a durable authorization entry
// skips network reads
func WithAuthzFreshness(freshness time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.authzFreshness = freshness
	}
}

// WithAuthzAttemptTimeout bounds each registry read attempt
func WithAuthzAttemptTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.authzAttemptTimeout = timeout
	}
}

// WithPingInterval specifies how often the ledger endpoint is pinged. Zero
// disables the connectivity monitor.
func WithPingInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.pingInterval = interval
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}

// WithTracing enables tracing. Spans are exported over OTLP/HTTP, configured
// by the OTEL_EXPORTER_OTLP_* environment variables
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout writes spans to stdout instead of exporting them. Tracing
// must also be enabled.
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}
