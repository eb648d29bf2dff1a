package httpcache

import (
	"errors"
	"net/http"
	"strconv"
)

// ErrHeadersSent indicates a header change after the response headers were written
var ErrHeadersSent = errors.New("response headers already sent")

// Response carries the per-request output state: whether headers were sent,
// whether the request ended early, and any pending flash messages.
//
// A Response is not safe for concurrent use; it belongs to one request.
type Response struct {
	w http.ResponseWriter

	headersSent bool
	finished    bool
	status      int

	api     bool
	flashes []string
	outcome Outcome
}

// NewResponse wraps w.
func NewResponse(w http.ResponseWriter) *Response {
	return &Response{w: w}
}

// ResponseWriter returns the underlying writer.
func (r *Response) ResponseWriter() http.ResponseWriter {
	return r.w
}

// SetAPI marks the response as an API call, which disables conditional
// negotiation.
func (r *Response) SetAPI(api bool) {
	r.api = api
}

// IsAPI reports whether the response is an API call.
func (r *Response) IsAPI() bool {
	return r.api
}

// AddFlash queues a one-time user-facing message for this response.
func (r *Response) AddFlash(msg string) {
	r.flashes = append(r.flashes, msg)
}

// HasFlash reports whether flash messages are pending.
func (r *Response) HasFlash() bool {
	return len(r.flashes) > 0
}

// Flashes returns and clears the pending flash messages.
func (r *Response) Flashes() []string {
	msgs := r.flashes
	r.flashes = nil
	return msgs
}

// SetHeader sets a response header. It fails once headers were sent.
func (r *Response) SetHeader(key, value string) error {
	if r.headersSent {
		return ErrHeadersSent
	}
	r.w.Header().Set(key, value)
	return nil
}

// Header returns the pending response headers.
func (r *Response) Header() http.Header {
	return r.w.Header()
}

// HeadersSent reports whether the status line and headers were written.
func (r *Response) HeadersSent() bool {
	return r.headersSent
}

// Finished reports whether the request was terminated, e.g. by a 304.
func (r *Response) Finished() bool {
	return r.finished
}

// Status returns the written status code, or 0 before headers were sent.
func (r *Response) Status() int {
	return r.status
}

// WriteHeader sends the status line and headers exactly once.
func (r *Response) WriteHeader(status int) error {
	if r.headersSent {
		return ErrHeadersSent
	}
	r.headersSent = true
	r.status = status
	r.w.WriteHeader(status)
	return nil
}

// Write sends a complete response with Content-Length set from body.
func (r *Response) Write(status int, body []byte) error {
	if err := r.SetHeader("Content-Length", strconv.Itoa(len(body))); err != nil {
		return err
	}
	if err := r.WriteHeader(status); err != nil {
		return err
	}
	r.finished = true
	if len(body) == 0 {
		return nil
	}
	_, err := r.w.Write(body)
	return err
}

// NotModified terminates the request with 304 and an empty body.
func (r *Response) NotModified() error {
	h := r.w.Header()
	h.Del("Content-Type")
	h.Del("Content-Length")
	if err := r.WriteHeader(http.StatusNotModified); err != nil {
		return err
	}
	r.finished = true
	return nil
}
