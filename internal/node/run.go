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
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/blinklabs-io/attest/internal/config"
	"github.com/blinklabs-io/attest/saga"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OptionsFromConfig translates the application config into node options.
// Listeners are not included.
func OptionsFromConfig(
	cfg *config.Config,
	logger *slog.Logger,
) ([]ConfigOptionFunc, error) {
	timeouts, err := cfg.ParseTimeouts()
	if err != nil {
		return nil, err
	}
	programID, err := cfg.ParseProgramID()
	if err != nil {
		return nil, err
	}
	return []ConfigOptionFunc{
		WithLogger(logger),
		WithRunMode(string(cfg.RunMode)),
		WithLedgerEndpoint(cfg.LedgerEndpoint),
		WithProgramID(programID),
		WithKeyFile(cfg.KeyFile),
		WithDatabasePath(cfg.DataDir),
		WithBlobPlugin(cfg.BlobPlugin),
		WithMetadataPlugin(cfg.MetadataPlugin),
		WithPublicUrl(cfg.PublicUrl),
		WithIpfsGateway(cfg.IpfsGateway),
		WithAttachmentPolicy(saga.AttachmentPolicy{
			ContentTypes: cfg.AttachmentTypes,
			MaxBytes:     cfg.MaxAttachmentBytes,
		}),
		WithTimeouts(timeouts.Submit, timeouts.Upload, timeouts.Metadata),
		WithFinalityTimeout(timeouts.Finality),
		WithAuthzFreshness(timeouts.Freshness),
		WithAuthzAttemptTimeout(timeouts.AuthzAttempt),
		WithPingInterval(timeouts.Ping),
		WithShutdownTimeout(timeouts.Shutdown),
		WithTracing(cfg.Tracing),
		WithTracingStdout(cfg.TracingStdout),
	}, nil
}

// Run serves the API and metrics until SIGINT or SIGTERM
func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")
	opts, err := OptionsFromConfig(cfg, logger)
	if err != nil {
		return err
	}
	opts = append(
		opts,
		// Enable metrics with default prometheus registry
		WithPrometheusRegistry(prometheus.DefaultRegisterer),
	)
	if cfg.Port > 0 {
		opts = append(
			opts,
			WithListenAddress(fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.Port)),
		)
	}
	if cfg.PrivatePort > 0 {
		opts = append(
			opts,
			WithOperatorListenAddress(
				fmt.Sprintf("%s:%d", cfg.PrivateBindAddr, cfg.PrivatePort),
			),
		)
	}
	n, err := New(NewConfig(opts...))
	if err != nil {
		return err
	}
	shutdownTimeout := 30 * time.Second
	if n.config.shutdownTimeout > 0 {
		shutdownTimeout = n.config.shutdownTimeout
	}

	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	// Metrics listener
	var metricsServer *http.Server
	metricsErr := make(chan error, 1)
	if cfg.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsAddr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.MetricsPort)
		logger.Info(
			"serving prometheus metrics on "+metricsAddr,
			"component", "node",
		)
		metricsServer = &http.Server{
			Addr:              metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 60 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil &&
				!errors.Is(err, http.ErrServerClosed) {
				metricsErr <- fmt.Errorf("metrics listener: %w", err)
			}
		}()
	}

	// Run node in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- n.Run(signalCtx)
	}()

	shutdownMetrics := func() {
		if metricsServer == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}

	select {
	case err := <-metricsErr:
		logger.Error("metrics listener failed", "error", err)
		signalCtxStop()
		return errors.Join(err, <-errChan)
	case err := <-errChan:
		shutdownMetrics()
		if err != nil {
			logger.Error("shutdown errors occurred", "error", err)
			return err
		}
		logger.Info("shutdown complete")
		return nil
	}
}
