package protocol

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Content types used in responses.
const (
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain"
)

// Response is a complete reply: status, content type and body. Framing
// headers are derived from these when written.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Bytes renders the response in wire form. Content-Length is the exact
// byte length of Body.
func (r *Response) Bytes() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", r.Status, http.StatusText(r.Status))
	b.WriteString("Content-Type: " + r.ContentType + "\r\n")
	b.WriteString("Content-Length: " + strconv.Itoa(len(r.Body)) + "\r\n")
	b.WriteString("Access-Control-Allow-Origin: *\r\n")
	b.WriteString("Access-Control-Allow-Methods: GET\r\n")
	b.WriteString("Access-Control-Allow-Headers: Content-Type\r\n")
	b.WriteString("\r\n")
	b.Write(r.Body)
	return []byte(b.String())
}

// WriteTo writes the rendered response to w.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(r.Bytes())
	return int64(n), err
}
