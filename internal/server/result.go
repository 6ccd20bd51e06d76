package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/runnerr0/visitortrack/internal/protocol"
	"github.com/runnerr0/visitortrack/internal/storage"
)

// Result is the outcome of handling one request. The set of implementations
// is closed; each renders to exactly one response.
type Result interface {
	Response() *protocol.Response
}

// SingleRecord is one visitor row, with the security token when it came
// from an update.
type SingleRecord struct {
	Visitor storage.Visitor
	Token   string
}

// RecordList is every visitor row.
type RecordList struct {
	Visitors []storage.Visitor
}

// NotFound answers a count for a URL that has never been updated.
type NotFound struct{}

// Empty answers any method or path other than GET /update and GET /count.
type Empty struct{}

// ValidationError is a client mistake: a malformed request line or an
// invalid url parameter.
type ValidationError struct {
	Err error
}

// InternalError is any failure that is not the client's fault.
type InternalError struct {
	Err error
}

// visitorJSON is the wire shape of a visitor row.
type visitorJSON struct {
	ID            int64  `json:"id"`
	PageURL       string `json:"page_url"`
	VisitCount    int64  `json:"visit_count"`
	LastVisited   string `json:"last_visited"`
	CreatedAt     string `json:"created_at"`
	SecurityToken string `json:"security_token,omitempty"`
}

func toJSON(v storage.Visitor) visitorJSON {
	return visitorJSON{
		ID:          v.ID,
		PageURL:     v.PageURL,
		VisitCount:  v.VisitCount,
		LastVisited: v.LastVisited.UTC().Format(time.RFC3339),
		CreatedAt:   v.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func jsonResponse(v any) *protocol.Response {
	body, err := json.Marshal(v)
	if err != nil {
		return InternalError{Err: err}.Response()
	}
	return &protocol.Response{Status: http.StatusOK, ContentType: protocol.ContentTypeJSON, Body: body}
}

func textResponse(status int, err error) *protocol.Response {
	msg := http.StatusText(status)
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return &protocol.Response{Status: status, ContentType: protocol.ContentTypeText, Body: []byte(msg)}
}

func (r SingleRecord) Response() *protocol.Response {
	out := toJSON(r.Visitor)
	out.SecurityToken = r.Token
	return jsonResponse(out)
}

func (r RecordList) Response() *protocol.Response {
	out := make([]visitorJSON, 0, len(r.Visitors))
	for _, v := range r.Visitors {
		out = append(out, toJSON(v))
	}
	return jsonResponse(out)
}

func (NotFound) Response() *protocol.Response {
	return &protocol.Response{Status: http.StatusOK, ContentType: protocol.ContentTypeJSON, Body: []byte("null")}
}

func (Empty) Response() *protocol.Response {
	return &protocol.Response{Status: http.StatusOK, ContentType: protocol.ContentTypeJSON, Body: []byte("{}")}
}

func (r ValidationError) Response() *protocol.Response {
	return textResponse(http.StatusBadRequest, r.Err)
}

func (r InternalError) Response() *protocol.Response {
	return textResponse(http.StatusInternalServerError, r.Err)
}
