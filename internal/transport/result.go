package transport

import (
	"errors"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// ErrMalformedBody is returned when a response body cannot be decoded.
var ErrMalformedBody = errors.New("malformed response body")

// Request describes one remote call.
type Request struct {
	Name    string
	Method  string
	URL     string
	Body    []byte
	Headers map[string]string

	// Timeout overrides the client timeout when positive.
	Timeout time.Duration

	// Tags are copied from the scenario and available to custom clients.
	Tags map[string]string
}

// TimingInfo breaks a request down into phases.
type TimingInfo struct {
	StartTime       time.Time
	DNSLookup       time.Duration
	TCPConnect      time.Duration
	TLSHandshake    time.Duration
	TimeToFirstByte time.Duration
	ContentTransfer time.Duration
	ConnReused      bool
}

// Result is the outcome of a remote call.
type Result struct {
	Request    *Request
	StatusCode int
	Headers    http.Header
	Body       []byte
	Elapsed    time.Duration
	Timing     TimingInfo

	// Err is set on transport failure (StatusCode is then 0).
	Err error
}

// Success reports whether the call returned a 2xx status.
func (r *Result) Success() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// ElapsedMillis returns Elapsed as fractional milliseconds.
func (r *Result) ElapsedMillis() float64 {
	return float64(r.Elapsed) / float64(time.Millisecond)
}

// JSON parses the body. An empty or invalid body yields ErrMalformedBody.
func (r *Result) JSON() (gjson.Result, error) {
	if len(r.Body) == 0 || !gjson.ValidBytes(r.Body) {
		return gjson.Result{}, ErrMalformedBody
	}
	return gjson.ParseBytes(r.Body), nil
}
