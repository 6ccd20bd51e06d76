package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/runnerr0/visitortrack/internal/protocol"
	"github.com/runnerr0/visitortrack/internal/storage"
)

// ErrInvalidURL is returned when the url parameter is missing or does not
// use the http or https scheme.
var ErrInvalidURL = errors.New("invalid URL")

// DefaultReadBufferSize bounds the single read taken from each connection.
const DefaultReadBufferSize = 1024

// TokenGenerator mints the security token attached to update responses.
type TokenGenerator interface {
	Generate(pageURL string) string
}

// Handler runs one accepted connection from read to close.
type Handler struct {
	store          storage.CounterStore
	tokens         TokenGenerator
	logger         *slog.Logger
	readBufferSize int
}

// NewHandler returns a Handler. A readBufferSize of zero or less uses
// DefaultReadBufferSize; a nil logger uses slog.Default().
func NewHandler(store storage.CounterStore, tokens TokenGenerator, logger *slog.Logger, readBufferSize int) *Handler {
	if readBufferSize <= 0 {
		readBufferSize = DefaultReadBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:          store,
		tokens:         tokens,
		logger:         logger,
		readBufferSize: readBufferSize,
	}
}

// ServeConn reads one request from conn, writes one response and closes
// conn. It never panics and never returns an error: every failure is turned
// into a response or, if the write itself fails, logged.
func (h *Handler) ServeConn(conn net.Conn) {
	start := time.Now()
	log := h.logger.With("conn_id", ulid.Make().String(), "remote", remoteAddr(conn))

	defer func() {
		if err := conn.Close(); err != nil {
			log.Debug("close connection", "error", err)
		}
	}()

	var req *protocol.Request
	var wrote bool

	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panic", "panic", r, "response_started", wrote)
			// The first response may be partly written.
			if wrote {
				return
			}
			resp := InternalError{Err: fmt.Errorf("internal error: %v", r)}.Response()
			h.write(log, conn, req, resp, start)
		}
	}()

	var res Result
	req, res = h.process(context.Background(), conn)
	resp := res.Response()
	wrote = true
	h.write(log, conn, req, resp, start)
}

func (h *Handler) write(log *slog.Logger, w io.Writer, req *protocol.Request, resp *protocol.Response, start time.Time) {
	if _, err := resp.WriteTo(w); err != nil {
		log.Warn("write response", "status", resp.Status, "error", err)
		return
	}

	attrs := []any{"status", resp.Status, "bytes", len(resp.Body), "duration", time.Since(start)}
	if req != nil {
		attrs = append(attrs, "method", req.Method, "path", req.Path)
	}
	if resp.Status >= 500 {
		log.Error("request failed", append(attrs, "body", string(resp.Body))...)
		return
	}
	log.Debug("request handled", attrs...)
}

// process reads and parses the request, then dispatches it. The returned
// request is nil when reading or parsing failed.
func (h *Handler) process(ctx context.Context, r io.Reader) (*protocol.Request, Result) {
	buf := make([]byte, h.readBufferSize)
	n, err := r.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, InternalError{Err: fmt.Errorf("read request: %w", err)}
	}

	req, err := protocol.Parse(buf[:n])
	if err != nil {
		return nil, ValidationError{Err: err}
	}

	return req, h.dispatch(ctx, req)
}

// dispatch routes a parsed request. Anything other than GET /update and
// GET /count gets an empty 200, not a 404.
func (h *Handler) dispatch(ctx context.Context, req *protocol.Request) Result {
	if req.Method != "GET" {
		return Empty{}
	}

	switch req.Path {
	case "/update":
		return h.update(ctx, req)
	case "/count":
		return h.count(ctx, req)
	default:
		return Empty{}
	}
}

func (h *Handler) update(ctx context.Context, req *protocol.Request) Result {
	pageURL, _ := req.Param("url")
	if err := validateURL(pageURL); err != nil {
		return ValidationError{Err: err}
	}

	v, err := h.store.UpsertAndFetch(ctx, pageURL)
	if err != nil {
		return InternalError{Err: err}
	}

	return SingleRecord{Visitor: *v, Token: h.tokens.Generate(v.PageURL)}
}

func (h *Handler) count(ctx context.Context, req *protocol.Request) Result {
	pageURL, ok := req.Param("url")
	if !ok {
		visitors, err := h.store.FetchAll(ctx)
		if err != nil {
			return InternalError{Err: err}
		}
		return RecordList{Visitors: visitors}
	}

	if err := validateURL(pageURL); err != nil {
		return ValidationError{Err: err}
	}

	v, err := h.store.Fetch(ctx, pageURL)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return NotFound{}
		}
		return InternalError{Err: err}
	}

	return SingleRecord{Visitor: *v}
}

func validateURL(pageURL string) error {
	if !strings.HasPrefix(pageURL, "http://") && !strings.HasPrefix(pageURL, "https://") {
		return ErrInvalidURL
	}
	return nil
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
