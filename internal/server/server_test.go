package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/visitortrack/internal/config"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Security.Secret = "test-secret"
	return cfg
}

// startServer serves on a loopback listener until the test ends and returns
// the bound address.
func startServer(t *testing.T, srv *Server) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(l) }()

	t.Cleanup(func() {
		l.Close()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after the listener closed")
		}
	})
	return l.Addr().String()
}

// tcpRoundTrip opens a fresh connection, sends raw and reads until the
// server closes the connection.
func tcpRoundTrip(t *testing.T, dial func() (net.Conn, error), raw string) []byte {
	t.Helper()
	conn, err := dial()
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))
	_, err = conn.Write([]byte(raw))
	require.NoError(t, err)

	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	return out
}

func tcpDialer(addr string) func() (net.Conn, error) {
	return func() (net.Conn, error) { return net.Dial("tcp", addr) }
}

func TestServer_UpdateUpdateCountExample(t *testing.T) {
	srv, err := New(testConfig(), openTestStore(t), discardLogger())
	require.NoError(t, err)
	dial := tcpDialer(startServer(t, srv))

	_, body := parseResponse(t, tcpRoundTrip(t, dial, updateReq("https://example.com/a")))
	first := decodeRecord(t, body)
	assert.Equal(t, float64(1), first["visit_count"])
	assert.Len(t, first["security_token"], 64)

	_, body = parseResponse(t, tcpRoundTrip(t, dial, updateReq("https://example.com/a")))
	second := decodeRecord(t, body)
	assert.Equal(t, float64(2), second["visit_count"])
	assert.NotEqual(t, first["security_token"], second["security_token"])

	resp, body := parseResponse(t, tcpRoundTrip(t, dial, countReq("https://example.com/a")))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	rec := decodeRecord(t, body)
	assert.Equal(t, "https://example.com/a", rec["page_url"])
	assert.Equal(t, float64(2), rec["visit_count"])
	assert.Equal(t, first["created_at"], rec["created_at"])
}

func TestServer_ConcurrentUpdatesAreNotLost(t *testing.T) {
	srv, err := New(testConfig(), openTestStore(t), discardLogger())
	require.NoError(t, err)
	dial := tcpDialer(startServer(t, srv))

	const n = 30
	var wg sync.WaitGroup
	statuses := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := dial()
			if err != nil {
				statuses <- -1
				return
			}
			defer conn.Close()
			conn.SetDeadline(time.Now().Add(30 * time.Second))
			if _, err := conn.Write([]byte(updateReq("https://example.com/hot"))); err != nil {
				statuses <- -1
				return
			}
			raw, err := io.ReadAll(conn)
			if err != nil || len(raw) < 12 {
				statuses <- -1
				return
			}
			code, _ := strconv.Atoi(string(raw[9:12]))
			statuses <- code
		}()
	}
	wg.Wait()
	close(statuses)

	for code := range statuses {
		assert.Equal(t, http.StatusOK, code)
	}

	_, body := parseResponse(t, tcpRoundTrip(t, dial, countReq("https://example.com/hot")))
	assert.Equal(t, float64(n), decodeRecord(t, body)["visit_count"])
}

func TestServer_BadConnectionDoesNotStopLoop(t *testing.T) {
	srv, err := New(testConfig(), openTestStore(t), discardLogger())
	require.NoError(t, err)
	addr := startServer(t, srv)

	// Connect and hang up without sending anything.
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	conn.Close()

	resp, _ := parseResponse(t, tcpRoundTrip(t, tcpDialer(addr), "nonsense\r\n\r\n"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := parseResponse(t, tcpRoundTrip(t, tcpDialer(addr), get("/count")))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "[]", string(body))
}

func TestServer_WorksWithNetHTTPClient(t *testing.T) {
	srv, err := New(testConfig(), openTestStore(t), discardLogger())
	require.NoError(t, err)
	addr := startServer(t, srv)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get("http://" + addr + "/update?url=" + url.QueryEscape("https://a.test"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var rec map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	assert.Equal(t, "https://a.test", rec["page_url"])
	assert.NotEmpty(t, rec["security_token"])
}

func TestServer_RandomSecretWhenUnset(t *testing.T) {
	cfg := testConfig()
	cfg.Security.Secret = ""

	srv, err := New(cfg, &fakeStore{}, discardLogger())
	require.NoError(t, err)
	assert.NotNil(t, srv.handler.tokens)
}

func TestServer_NilLoggerUsesDefault(t *testing.T) {
	cfg := testConfig()
	cfg.Security.Secret = ""

	var srv *Server
	var err error
	require.NotPanics(t, func() { srv, err = New(cfg, &fakeStore{}, nil) })
	require.NoError(t, err)
	assert.NotNil(t, srv.logger)
	assert.Same(t, srv.logger, srv.handler.logger)
}

func TestServer_RejectsOversizedSecret(t *testing.T) {
	cfg := testConfig()
	cfg.Security.Secret = string(make([]byte, 65))

	_, err := New(cfg, &fakeStore{}, discardLogger())
	assert.Error(t, err)
}

func TestServer_ListenAndServeStopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cfg := testConfig()
	cfg.Server.Port = port

	srv, err := New(cfg, openTestStore(t), discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	addr := cfg.Server.Addr()
	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 5*time.Second, 20*time.Millisecond)

	resp, _ := parseResponse(t, tcpRoundTrip(t, tcpDialer(addr), get("/count")))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return after cancel")
	}
}

func TestServer_ListenAndServeSchemaFailure(t *testing.T) {
	srv, err := New(testConfig(), &fakeStore{err: assert.AnError}, discardLogger())
	require.NoError(t, err)

	err = srv.ListenAndServe(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestServer_TLS(t *testing.T) {
	certFile, keyFile := writeSelfSignedCert(t)

	cfg := testConfig()
	cfg.Server.Port = 0
	cfg.TLS.Enabled = true
	cfg.TLS.CertFile = certFile
	cfg.TLS.KeyFile = keyFile

	srv, err := New(cfg, openTestStore(t), discardLogger())
	require.NoError(t, err)

	l, err := srv.Listen()
	require.NoError(t, err)
	go srv.Serve(l) //nolint:errcheck
	t.Cleanup(func() { l.Close() })

	dial := func() (net.Conn, error) {
		return tls.Dial("tcp", l.Addr().String(), &tls.Config{InsecureSkipVerify: true}) //nolint:gosec
	}

	resp, body := parseResponse(t, tcpRoundTrip(t, dial, updateReq("https://secure.test")))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), decodeRecord(t, body)["visit_count"])
}

func TestServer_TLSMissingKeyPair(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Port = 0
	cfg.TLS.Enabled = true
	cfg.TLS.CertFile = filepath.Join(t.TempDir(), "missing.crt")
	cfg.TLS.KeyFile = filepath.Join(t.TempDir(), "missing.key")

	srv, err := New(cfg, &fakeStore{}, discardLogger())
	require.NoError(t, err)

	_, err = srv.Listen()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load TLS key pair")
}

func writeSelfSignedCert(t *testing.T) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile = filepath.Join(dir, "server.crt")
	keyFile = filepath.Join(dir, "server.key")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600))
	return certFile, keyFile
}
