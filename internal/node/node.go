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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/blinklabs-io/attest/api"
	"github.com/blinklabs-io/attest/authz"
	"github.com/blinklabs-io/attest/database"
	"github.com/blinklabs-io/attest/database/plugin/blob"
	"github.com/blinklabs-io/attest/database/plugin/blob/badger"
	"github.com/blinklabs-io/attest/event"
	"github.com/blinklabs-io/attest/keystore"
	"github.com/blinklabs-io/attest/ledger"
	"github.com/blinklabs-io/attest/ledger/devnet"
	"github.com/blinklabs-io/attest/ledger/rpcclient"
	"github.com/blinklabs-io/attest/saga"
	"github.com/blinklabs-io/attest/verify"
	"github.com/gagliardetto/solana-go"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var ErrReadOnly = errors.New("no operator key loaded")

type Node struct {
	eventBus       *event.EventBus
	ledger         ledger.Client
	signer         ledger.Signer
	db             *database.Database
	authz          *authz.Cache
	saga           *saga.Saga
	verifier       *verify.Verifier
	server         *api.Server
	monitor        *connectivityMonitor
	tracerProvider trace.TracerProvider
	cancel         context.CancelFunc
	shutdownFuncs  []func(context.Context) error
	config         Config
	programID      solana.PublicKey
	done           chan struct{}
	shutdownOnce   sync.Once
	startOnce      sync.Once
}

func New(cfg Config) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	n := &Node{
		config:         cfg,
		eventBus:       event.NewEventBus(cfg.promRegistry, cfg.logger),
		programID:      cfg.programID,
		tracerProvider: otel.GetTracerProvider(),
		done:           make(chan struct{}),
	}
	if n.programID.IsZero() {
		n.programID = solana.MustPublicKeyFromBase58(ledger.DefaultProgramID)
	}
	return n, nil
}

// Run starts the node and blocks until ctx is done or the node is stopped
func (n *Node) Run(ctx context.Context) error {
	if err := n.Start(ctx); err != nil {
		return errors.Join(err, n.Stop())
	}
	select {
	case <-ctx.Done():
		n.config.logger.Info(
			"initiating graceful shutdown",
			"component", "node",
		)
		return n.Stop()
	case <-n.done:
		return nil
	}
}

// Start opens the ledger and stores, loads the operator key and starts the
// API listeners when configured
func (n *Node) Start(ctx context.Context) error {
	err := errors.New("node already started")
	n.startOnce.Do(func() {
		err = n.start(ctx)
	})
	return err
}

func (n *Node) start(ctx context.Context) error {
	logger := n.config.logger
	// Configure tracing
	if n.config.tracing {
		if err := n.setupTracing(ctx); err != nil {
			return err
		}
	}
	bgCtx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	// Ledger
	if err := n.openLedger(); err != nil {
		return err
	}
	pinger, _ := n.ledger.(ledger.Pinger)
	if pinger != nil && n.config.pingInterval > 0 {
		n.monitor = newConnectivityMonitor(
			pinger,
			n.config.pingInterval,
			logger,
			n.config.promRegistry,
		)
	}
	// Storage
	gatewayUrl := ""
	if n.config.publicUrl != "" {
		gatewayUrl = blob.JoinURL(n.config.publicUrl, "api", "v1", "objects")
	}
	db, err := database.New(&database.Config{
		PromRegistry:   n.config.promRegistry,
		Logger:         logger,
		DataDir:        n.config.dataDir,
		BlobPlugin:     n.config.blobPlugin,
		MetadataPlugin: n.config.metadataPlugin,
		GatewayUrl:     gatewayUrl,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	n.db = db
	// Operator key
	if err := n.loadSigner(); err != nil {
		return err
	}
	// Authorization
	entries, err := authz.OpenBadgerEntryStore(n.config.dataDir)
	if err != nil {
		return err
	}
	n.shutdownFuncs = append(n.shutdownFuncs, func(context.Context) error {
		return entries.Close()
	})
	authzOpts := []authz.CacheOptionFunc{
		authz.WithLogger(logger),
		authz.WithPromRegistry(n.config.promRegistry),
		authz.WithEventBus(n.eventBus),
		authz.WithEntryStore(entries),
	}
	if n.monitor != nil {
		authzOpts = append(authzOpts, authz.WithConnectivity(n.monitor))
	}
	if n.config.authzFreshness > 0 {
		authzOpts = append(authzOpts, authz.WithFreshness(n.config.authzFreshness))
	}
	if n.config.authzAttemptTimeout > 0 {
		authzOpts = append(
			authzOpts,
			authz.WithAttemptTimeout(n.config.authzAttemptTimeout),
		)
	}
	cache, err := authz.New(n.ledger, n.programID, authzOpts...)
	if err != nil {
		return err
	}
	n.authz = cache
	if n.monitor != nil {
		n.monitor.onReconnect = func() {
			cache.TriggerAsync(authz.TriggerReconnect)
		}
		go n.monitor.run(bgCtx)
	}
	subscribeAudit(n.eventBus, logger)
	// Verification
	localBase := gatewayUrl
	if localBase == "" {
		localBase = badger.DefaultGatewayUrl
	}
	verifyOpts := []verify.VerifierOptionFunc{
		verify.WithLogger(logger),
		verify.WithMetadata(n.db.Metadata()),
		verify.WithResolver(blob.Resolver{
			IPFSGateway: n.config.ipfsGateway,
			LocalBase:   localBase,
		}),
	}
	if n.config.metadataTimeout > 0 {
		verifyOpts = append(
			verifyOpts,
			verify.WithMetadataTimeout(n.config.metadataTimeout),
		)
	}
	n.verifier = verify.New(n.ledger, verifyOpts...)
	// Writes
	if n.signer != nil {
		s, err := saga.New(saga.Config{
			Ledger:          n.ledger,
			Uploader:        n.db.Blob(),
			Metadata:        n.db.Metadata(),
			Authorizer:      n.authz,
			Signer:          n.signer,
			Logger:          logger,
			PromRegistry:    n.config.promRegistry,
			TracerProvider:  n.tracerProvider,
			EventBus:        n.eventBus,
			Policy:          n.config.attachmentPolicy,
			SubmitTimeout:   n.config.submitTimeout,
			UploadTimeout:   n.config.uploadTimeout,
			MetadataTimeout: n.config.metadataTimeout,
			ProgramID:       n.programID,
		})
		if err != nil {
			return err
		}
		n.saga = s
		// A failed first check leaves the verdict unknown; writes revalidate
		if err := n.authz.SwitchPrincipal(ctx, n.signer.PublicKey().String()); err != nil {
			logger.Warn(
				"initial authorization check failed",
				"component", "node",
				"principal", n.signer.PublicKey().String(),
				"error", err,
			)
		}
	} else {
		logger.Warn(
			"no operator key configured, serving verification only",
			"component", "node",
		)
	}
	// API
	if n.config.listenAddress != "" {
		if err := n.startServer(ctx, pinger); err != nil {
			return err
		}
	}
	logger.Info(
		"node started",
		"component", "node",
		"endpoint", n.ledger.Endpoint(),
		"program", n.programID.String(),
		"mode", n.config.runMode,
	)
	return nil
}

func (n *Node) openLedger() error {
	if n.config.ledgerClient != nil {
		n.ledger = n.config.ledgerClient
		return nil
	}
	if n.config.isDevMode() {
		l, err := devnet.New(
			devnet.WithLogger(n.config.logger),
			devnet.WithDataDir(n.config.dataDir),
			devnet.WithProgramID(n.programID),
		)
		if err != nil {
			return err
		}
		n.ledger = l
		n.shutdownFuncs = append(n.shutdownFuncs, func(context.Context) error {
			return l.Close()
		})
		return nil
	}
	opts := []rpcclient.ClientOptionFunc{
		rpcclient.WithLogger(n.config.logger),
		rpcclient.WithEndpoint(n.config.ledgerEndpoint),
		rpcclient.WithProgramID(n.programID),
	}
	if n.config.finalityTimeout > 0 {
		opts = append(opts, rpcclient.WithFinalityTimeout(n.config.finalityTimeout))
	}
	c := rpcclient.New(opts...)
	n.ledger = c
	n.shutdownFuncs = append(n.shutdownFuncs, func(context.Context) error {
		return c.Close()
	})
	return nil
}

func (n *Node) loadSigner() error {
	if n.config.signer != nil {
		n.signer = n.config.signer
		return nil
	}
	if n.config.keyFile == "" {
		return nil
	}
	ks := keystore.New(n.config.keyFile, n.config.logger)
	if err := ks.Load(); err != nil {
		return err
	}
	signer, err := ks.Signer()
	if err != nil {
		return err
	}
	n.signer = signer
	return nil
}

func (n *Node) startServer(ctx context.Context, pinger ledger.Pinger) error {
	var health api.HealthFunc
	if pinger != nil {
		health = pinger.Ping
	}
	cfg := api.ServerConfig{
		Logger:        n.config.logger,
		Verifier:      n.verifier,
		Metadata:      n.db.Metadata(),
		Objects:       n.db.Objects(),
		Health:        health,
		ListenAddress: n.config.listenAddress,
	}
	if n.saga != nil {
		cfg.Saga = n.saga
		cfg.Authz = n.authz
		cfg.OperatorListenAddress = n.config.operatorListenAddress
		cfg.MaxAttachmentBytes = n.saga.Policy().MaxBytes
	} else if n.config.operatorListenAddress != "" {
		n.config.logger.Warn(
			"operator listener disabled without an operator key",
			"component", "node",
		)
	}
	server, err := api.NewServer(cfg)
	if err != nil {
		return err
	}
	if err := server.Start(ctx); err != nil {
		return err
	}
	n.server = server
	return nil
}

// Addrs returns the bound API listener addresses
func (n *Node) Addrs() []net.Addr {
	if n.server == nil {
		return nil
	}
	return n.server.Addrs()
}

// Ledger returns the ledger client
func (n *Node) Ledger() ledger.Client {
	return n.ledger
}

// ProgramID returns the certificate program in use
func (n *Node) ProgramID() solana.PublicKey {
	return n.programID
}

// Signer returns the operator signer or ErrReadOnly
func (n *Node) Signer() (ledger.Signer, error) {
	if n.signer == nil {
		return nil, ErrReadOnly
	}
	return n.signer, nil
}

// Saga returns the write saga or ErrReadOnly when no operator key is loaded
func (n *Node) Saga() (*saga.Saga, error) {
	if n.saga == nil {
		return nil, ErrReadOnly
	}
	return n.saga, nil
}

// Authz returns the authorization cache
func (n *Node) Authz() *authz.Cache {
	return n.authz
}

// Verifier returns the verification read path
func (n *Node) Verifier() *verify.Verifier {
	return n.verifier
}

// Database returns the object and metadata stores
func (n *Node) Database() *database.Database {
	return n.db
}

// EventBus returns the node event bus
func (n *Node) EventBus() *event.EventBus {
	return n.eventBus
}

func (n *Node) Stop() error {
	var err error
	n.shutdownOnce.Do(func() {
		err = n.shutdown()
	})
	return err
}

func (n *Node) shutdown() error {
	shutdownTimeout := 30 * time.Second
	if n.config.shutdownTimeout > 0 {
		shutdownTimeout = n.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var result *multierror.Error
	logger := n.config.logger.With("component", "node")

	logger.Debug("starting graceful shutdown")

	// Phase 1: Stop accepting new work
	logger.Debug("shutdown phase 1: stopping listeners")
	if n.server != nil {
		if err := n.server.Stop(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("api shutdown: %w", err))
		}
	}
	if n.cancel != nil {
		n.cancel()
	}

	// Phase 2: Drain background work
	logger.Debug("shutdown phase 2: draining background work")
	if n.authz != nil {
		n.authz.Close()
	}
	if n.eventBus != nil {
		n.eventBus.Stop()
	}

	// Phase 3: Close stores
	logger.Debug("shutdown phase 3: closing stores")
	if n.db != nil {
		if err := n.db.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("database close: %w", err))
		}
	}

	// Phase 4: Cleanup resources
	logger.Debug("shutdown phase 4: cleanup resources")
	for i := len(n.shutdownFuncs) - 1; i >= 0; i-- {
		if err := n.shutdownFuncs[i](ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("shutdown function: %w", err))
		}
	}
	n.shutdownFuncs = nil

	logger.Debug("graceful shutdown complete")
	close(n.done)
	return result.ErrorOrNil()
}
