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

// Package api serves certificate verification to the public and the write
// operations to a privately bound operator listener.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"
	"connectrpc.com/grpcreflect"
	"github.com/blinklabs-io/attest/authz"
	"github.com/blinklabs-io/attest/database/plugin/blob"
	"github.com/blinklabs-io/attest/saga"
	"github.com/blinklabs-io/attest/verify"
	"github.com/google/uuid"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const (
	defaultListenAddr = ":8080"
	maxRequestBody    = 1 << 20 // 1 MB
	// multipart bodies carry an attachment plus the form fields
	multipartOverhead = 1 << 20
	requestIDHeader   = "X-Request-Id"
)

// HealthFunc reports whether the ledger endpoint is reachable
type HealthFunc func(ctx context.Context) error

// ServerConfig holds configuration for the API server. Saga and Authz are
// only needed for the operator listener, which is started when
// OperatorListenAddress is also set.
type ServerConfig struct {
	Logger                *slog.Logger
	Verifier              *verify.Verifier
	Metadata              verify.DocumentReader
	Objects               blob.Getter
	Saga                  *saga.Saga
	Authz                 *authz.Cache
	Health                HealthFunc
	ListenAddress         string
	OperatorListenAddress string
	// MaxAttachmentBytes bounds uploads to the public attachment check. The
	// operator listener uses the saga attachment policy.
	MaxAttachmentBytes int64
}

type Server struct {
	config     ServerConfig
	logger     *slog.Logger
	servers    []*http.Server
	listenAddr []net.Addr
	mu         sync.Mutex
}

// NewServer returns an API server. A Verifier is required.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Verifier == nil {
		return nil, errors.New("api: Verifier is required")
	}
	if cfg.OperatorListenAddress != "" && (cfg.Saga == nil || cfg.Authz == nil) {
		return nil, errors.New(
			"api: Saga and Authz are required for the operator listener",
		)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListenAddr
	}
	if cfg.MaxAttachmentBytes <= 0 {
		cfg.MaxAttachmentBytes = saga.DefaultMaxAttachmentBytes
		if cfg.Saga != nil {
			cfg.MaxAttachmentBytes = cfg.Saga.Policy().MaxBytes
		}
	}
	return &Server{
		config: cfg,
		logger: cfg.Logger.With("component", "api"),
	}, nil
}

// Handler returns the public handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.registerGrpc(mux)
	return s.withRequestID(mux)
}

// OperatorHandler returns the handler for the operator listener
func (s *Server) OperatorHandler() http.Handler {
	mux := http.NewServeMux()
	s.registerOperatorRoutes(mux)
	return s.withRequestID(mux)
}

// Start binds the configured listeners and serves them in the background
// until ctx is done or Stop is called
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if len(s.servers) > 0 {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	servers := []*http.Server{
		s.newHTTPServer(s.config.ListenAddress, s.Handler()),
	}
	if s.config.OperatorListenAddress != "" {
		servers = append(
			servers,
			s.newHTTPServer(s.config.OperatorListenAddress, s.OperatorHandler()),
		)
	}
	var addrs []net.Addr
	for _, server := range servers {
		addr, err := s.startServer(server)
		if err != nil {
			for _, started := range servers[:len(addrs)] {
				_ = started.Close()
			}
			s.mu.Unlock()
			return err
		}
		addrs = append(addrs, addr)
		s.logger.Info("API listener started on " + addr.String())
	}
	s.servers = servers
	s.listenAddr = addrs
	s.mu.Unlock()
	go func() {
		<-ctx.Done()
		//nolint:contextcheck
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			30*time.Second,
		)
		defer cancel()
		//nolint:contextcheck
		if err := s.Stop(shutdownCtx); err != nil {
			s.logger.Error(
				"failed to shutdown API server on context cancellation",
				"error", err,
			)
		}
	}()
	return nil
}

// Addrs returns the bound listener addresses, public first
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]net.Addr(nil), s.listenAddr...)
}

// Stop gracefully shuts down every listener
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	servers := s.servers
	s.servers = nil
	s.listenAddr = nil
	s.mu.Unlock()
	var err error
	for _, srv := range servers {
		if shutdownErr := srv.Shutdown(ctx); shutdownErr != nil {
			err = errors.Join(
				err,
				fmt.Errorf("failed to shutdown API server: %w", shutdownErr),
			)
		}
	}
	return err
}

func (s *Server) newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr: addr,
		// Use h2c so we can serve HTTP/2 without TLS
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func (s *Server) startServer(server *http.Server) (net.Addr, error) {
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for API server: %w", err)
	}
	go func() {
		if err := server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return ln.Addr(), nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/certs", s.handleList)
	mux.HandleFunc("GET /api/v1/certs/{address}", s.handleVerify)
	mux.HandleFunc(
		"POST /api/v1/certs/{address}/verify-attachment",
		s.handleVerifyAttachment,
	)
	mux.HandleFunc("GET /api/v1/metadata/{address}", s.handleMetadata)
	mux.HandleFunc("GET /api/v1/objects/{cid}", s.handleObject)
}

func (s *Server) registerOperatorRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/authz", s.handleAuthz)
	mux.HandleFunc("POST /api/v1/authz/revalidate", s.handleRevalidate)
	mux.HandleFunc("POST /api/v1/certs", s.handleIssue)
	mux.HandleFunc("POST /api/v1/certs/{address}/attachment", s.handleAttach)
	mux.HandleFunc("POST /api/v1/certs/{address}/link", s.handleLink)
}

func (s *Server) registerGrpc(mux *http.ServeMux) {
	compress1KB := connect.WithCompressMinBytes(1024)
	mux.Handle(
		grpchealth.NewHandler(
			&healthChecker{health: s.config.Health},
			compress1KB,
		),
	)
	mux.Handle(
		grpcreflect.NewHandlerV1(
			grpcreflect.NewStaticReflector(grpchealth.HealthV1ServiceName),
			compress1KB,
		),
	)
	mux.Handle(
		grpcreflect.NewHandlerV1Alpha(
			grpcreflect.NewStaticReflector(grpchealth.HealthV1ServiceName),
			compress1KB,
		),
	)
}

type requestIDKey struct{}

// withRequestID tags every request with an id, reusing one supplied by the
// caller
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLogger(r *http.Request) *slog.Logger {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return s.logger.With("request", id, "path", r.URL.Path)
}

// healthChecker answers grpc.health.v1 checks from the ledger health
type healthChecker struct {
	health HealthFunc
}

func (h *healthChecker) Check(
	ctx context.Context,
	req *grpchealth.CheckRequest,
) (*grpchealth.CheckResponse, error) {
	if req.Service != "" && req.Service != grpchealth.HealthV1ServiceName {
		return nil, connect.NewError(
			connect.CodeNotFound,
			fmt.Errorf("unknown service %q", req.Service),
		)
	}
	if h.health != nil {
		if err := h.health(ctx); err != nil {
			return &grpchealth.CheckResponse{Status: grpchealth.StatusNotServing}, nil
		}
	}
	return &grpchealth.CheckResponse{Status: grpchealth.StatusServing}, nil
}
