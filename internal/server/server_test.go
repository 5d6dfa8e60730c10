// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestNewAPIServer(t *testing.T) {
	s := NewAPIServer()
	assert.Equal(t, "api-server", s.Name())
	assert.Equal(t, []string{DefaultListenAddress}, *s.webConfig.WebListenAddresses)

	s = NewAPIServer(WithListen([]string{":9400", ":9401"}, "web.yaml"))
	assert.Equal(t, []string{":9400", ":9401"}, *s.webConfig.WebListenAddresses)
	assert.Equal(t, "web.yaml", *s.webConfig.WebConfigFile)
}

func TestAPIServer_Register(t *testing.T) {
	s := NewAPIServer()
	require.NoError(t, s.Init())

	require.NoError(t, s.Register("/metrics", "Metrics", "Instruction counts", okHandler()))
	err := s.Register("/metrics", "Metrics", "again", okHandler())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestAPIServer_LandingPage(t *testing.T) {
	s := NewAPIServer()
	require.NoError(t, s.Init())
	require.NoError(t, s.Register("/metrics", "Metrics", "Kernel <instruction> counts", okHandler()))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "<h1>instrcount</h1>")
	assert.Contains(t, body, `<a href="/metrics">Metrics</a>`)
	assert.Contains(t, body, "Kernel &lt;instruction&gt; counts")

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func findFreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() {
		// ignore error
		_ = l.Close()
	}()
	return l.Addr().(*net.TCPAddr).Port
}

func TestAPIServer_Run(t *testing.T) {
	addr := fmt.Sprintf("127.0.0.1:%d", findFreePort(t))
	s := NewAPIServer(WithListen([]string{addr}, ""))
	require.NoError(t, s.Init())
	require.NoError(t, s.Register("/metrics", "Metrics", "", okHandler()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run(ctx)
	}()

	client := &http.Client{Timeout: 500 * time.Millisecond}
	var resp *http.Response
	require.Eventually(t, func() bool {
		var err error
		resp, err = client.Get("http://" + addr + "/metrics")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.NoError(t, s.Shutdown())
}

func TestAPIServer_PortConflict(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	s := NewAPIServer(WithListen([]string{l.Addr().String()}, ""))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err = s.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in use")
}
