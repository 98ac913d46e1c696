package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
)

// ErrNoBody is returned by Decode when the response carries no structured data.
var ErrNoBody = errors.New("response has no structured body")

// Response is a successful (2xx) reply. Body parsing is tolerant: only
// JSON-typed bodies decode, anything else is kept as raw text.
type Response struct {
	Status      int
	Header      http.Header
	ContentType string
	Raw         []byte
}

func newResponse(resp *http.Response, body []byte) *Response {
	r := &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
	}
	if resp.StatusCode == http.StatusNoContent {
		return r
	}
	r.Raw = body
	if mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil {
		r.ContentType = mediaType
	}
	return r
}

// Empty reports whether there is no body at all (204 or zero length).
func (r *Response) Empty() bool {
	return r.Status == http.StatusNoContent || len(r.Raw) == 0
}

// IsJSON reports whether the content type announces structured data.
func (r *Response) IsJSON() bool {
	return r.ContentType == "application/json" || strings.HasSuffix(r.ContentType, "+json")
}

// Decode unmarshals a JSON body into v.
func (r *Response) Decode(v any) error {
	if r.Empty() || !r.IsJSON() {
		return ErrNoBody
	}
	if err := json.Unmarshal(r.Raw, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Text returns the raw body, or "" when empty.
func (r *Response) Text() string {
	if r.Empty() {
		return ""
	}
	return string(r.Raw)
}
