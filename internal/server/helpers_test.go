package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runnerr0/visitortrack/internal/config"
	"github.com/runnerr0/visitortrack/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// openTestStore opens a migrated file-backed store in a temp dir.
func openTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	ctx := context.Background()

	cfg := config.DefaultConfig().Storage
	cfg.Path = filepath.Join(t.TempDir(), "visitors.db")

	store, err := storage.OpenStore(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.EnsureSchema(ctx))
	return store
}

// scriptedConn serves raw to the first Read and panics on every Write,
// counting the attempts.
type scriptedConn struct {
	net.Conn
	raw    []byte
	writes int
	closed bool
}

func (c *scriptedConn) Read(p []byte) (int, error) {
	if len(c.raw) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.raw)
	c.raw = c.raw[n:]
	return n, nil
}

func (c *scriptedConn) Write([]byte) (int, error) {
	c.writes++
	panic("connection reset mid-write")
}

func (c *scriptedConn) Close() error {
	c.closed = true
	return nil
}

func (c *scriptedConn) RemoteAddr() net.Addr { return nil }

type staticTokens string

func (s staticTokens) Generate(string) string { return string(s) }

// fakeStore is a CounterStore whose results are fixed by the test.
type fakeStore struct {
	visitor     *storage.Visitor
	visitors    []storage.Visitor
	err         error
	panicMsg    string
	upsertCalls int
}

func (f *fakeStore) UpsertAndFetch(_ context.Context, pageURL string) (*storage.Visitor, error) {
	f.upsertCalls++
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return nil, f.err
	}
	v := *f.visitor
	v.PageURL = pageURL
	return &v, nil
}

func (f *fakeStore) Fetch(_ context.Context, _ string) (*storage.Visitor, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.visitor, nil
}

func (f *fakeStore) FetchAll(_ context.Context) ([]storage.Visitor, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.visitors, nil
}

func (f *fakeStore) EnsureSchema(_ context.Context) error { return f.err }
func (f *fakeStore) Close() error                         { return nil }

// pipeRoundTrip sends raw to h over an in-memory pipe and returns the raw
// bytes written back before the handler closed its side.
func pipeRoundTrip(t *testing.T, h *Handler, raw string) []byte {
	t.Helper()
	client, srv := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeConn(srv)
	}()

	require.NoError(t, client.SetDeadline(time.Now().Add(10*time.Second)))
	if raw != "" {
		_, err := client.Write([]byte(raw))
		require.NoError(t, err)
	} else {
		// An empty request: the client hangs up its write side immediately.
		client.Close()
		<-done
		return nil
	}

	out, err := io.ReadAll(client)
	require.NoError(t, err)
	<-done
	return out
}

// parseResponse decodes raw response bytes, checking that Content-Length
// matches the body exactly.
func parseResponse(t *testing.T, raw []byte) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), nil)
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, int64(len(body)), resp.ContentLength, "Content-Length must equal body length")
	require.True(t, bytes.HasSuffix(raw, body), "nothing may follow the body")
	return resp, body
}

func decodeRecord(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m))
	return m
}
