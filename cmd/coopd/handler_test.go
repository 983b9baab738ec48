package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/naxaea/coop/internal/telemetry"
	"github.com/naxaea/coop/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T, docroot string) (*tcp.Server, chan struct{}) {
	t.Helper()

	srv, err := tcp.NewServer("127.0.0.1", 0, 16, tcp.WithThreadCount(2))
	require.NoError(t, err)

	h := &handler{server: srv, docroot: docroot, log: telemetry.New(telemetry.Config{Level: "error"})}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(h.serve)
	}()
	return srv, done
}

func dial(t *testing.T, port uint16) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// Scenario 3 from spec.md §8: a request body not prefixed with "exit" or
// "shutdown" gets a 200 response with the loaded document followed by the
// echoed body.
func TestHandlerServesDocumentAndEchoesBody(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<p>doc</p>"), 0o644))

	srv, done := startTestServer(t, dir)
	t.Cleanup(func() {
		srv.RequestShutdown(nil)
		_ = srv.Close()
		<-done
	})

	conn := dial(t, srv.Port())
	_, err := conn.Write([]byte("ping"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	require.NoError(t, err)

	resp := string(buf[:n])
	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK"))
	assert.True(t, strings.HasSuffix(resp, "<p>doc</p>ping"))
}

// Scenario 4 from spec.md §8: a body prefixed with "exit" ends the
// connection without any response.
func TestHandlerExitClosesConnectionSilently(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<p>doc</p>"), 0o644))

	srv, done := startTestServer(t, dir)
	t.Cleanup(func() {
		srv.RequestShutdown(nil)
		_ = srv.Close()
		<-done
	})

	conn := dial(t, srv.Port())
	_, err := conn.Write([]byte("exit now"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	assert.Zero(t, n)
	assert.Error(t, err) // peer closed, no bytes written
}

// Scenario 4 (shutdown variant) from spec.md §8: a body prefixed with
// "shutdown" requests server-wide shutdown and ends the Serve call.
func TestHandlerShutdownStopsServer(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<p>doc</p>"), 0o644))

	srv, done := startTestServer(t, dir)

	conn := dial(t, srv.Port())
	_, err := conn.Write([]byte("shutdown please"))
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after a shutdown request")
	}

	require.NoError(t, srv.Close())
}
