// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/exporter-toolkit/web"

	"github.com/gpu-tools/instrcount/internal/service"
)

// DefaultListenAddress is used when no listen address is configured
const DefaultListenAddress = ":28283"

// APIService is the HTTP server endpoints are registered on
type APIService interface {
	service.Service
	Register(endpoint, summary, description string, handler http.Handler) error
}

type endpoint struct {
	path, summary, description string
}

// APIServer serves registered endpoints and a landing page listing them
type APIServer struct {
	logger    *slog.Logger
	server    *http.Server
	mux       *http.ServeMux
	webConfig *web.FlagConfig

	mu        sync.Mutex
	endpoints []endpoint
}

var (
	_ APIService          = (*APIServer)(nil)
	_ service.Initializer = (*APIServer)(nil)
	_ service.Runner      = (*APIServer)(nil)
	_ service.Shutdowner  = (*APIServer)(nil)
)

type Opts struct {
	logger    *slog.Logger
	webConfig *web.FlagConfig
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the APIServer
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithListen sets the listening addresses and the web config (TLS, auth) file
func WithListen(addr []string, webConfigFile string) OptionFn {
	return func(o *Opts) {
		o.webConfig = &web.FlagConfig{
			WebListenAddresses: &addr,
			WebConfigFile:      &webConfigFile,
		}
	}
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	noConfig := ""
	return Opts{
		logger: slog.Default(),
		webConfig: &web.FlagConfig{
			WebListenAddresses: &[]string{DefaultListenAddress},
			WebConfigFile:      &noConfig,
		},
	}
}

// NewAPIServer creates a new APIServer
func NewAPIServer(applyOpts ...OptionFn) *APIServer {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	mux := http.NewServeMux()
	return &APIServer{
		logger:    opts.logger.With("service", "api-server"),
		mux:       mux,
		server:    &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		webConfig: opts.webConfig,
	}
}

func (s *APIServer) Name() string {
	return "api-server"
}

func (s *APIServer) Init() error {
	s.logger.Info("Initializing API server", "listen", *s.webConfig.WebListenAddresses)
	s.mux.HandleFunc("/", s.landingPage)
	return nil
}

func (s *APIServer) landingPage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	var items string
	for _, e := range s.endpoints {
		items += fmt.Sprintf("\t<li><a href=%q>%s</a> %s</li>\n",
			e.path, html.EscapeString(e.summary), html.EscapeString(e.description))
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err := fmt.Fprintf(w, `<html>
<head><title>instrcount</title></head>
<body>
<h1>instrcount</h1>
<p>Available endpoints:</p>
<ul>
%s</ul>
</body>
</html>`, items)
	if err != nil {
		s.logger.Error("failed to write landing page", "error", err)
	}
}

// Handler returns the handler serving every registered endpoint
func (s *APIServer) Handler() http.Handler {
	return s.mux
}

func (s *APIServer) Run(ctx context.Context) error {
	s.logger.Info("Running API server")
	errCh := make(chan error, 1)
	go func() {
		errCh <- web.ListenAndServe(s.server, s.webConfig, s.logger)
	}()

	select {
	case <-ctx.Done():
		return nil

	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		s.logger.Error("API server returned an error", "error", err)
		return err
	}
}

func (s *APIServer) Shutdown() error {
	s.logger.Info("shutting down API server")

	// NOTE: ensure http server shuts down within 5 seconds
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *APIServer) Register(path, summary, description string, handler http.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.endpoints {
		if e.path == path {
			return fmt.Errorf("endpoint %s already registered", path)
		}
	}

	s.logger.Debug("Endpoint registered", "endpoint", path)
	s.mux.Handle(path, handler)
	s.endpoints = append(s.endpoints, endpoint{path: path, summary: summary, description: description})
	return nil
}
