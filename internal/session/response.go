package session

import (
	"fmt"
	"net/http"
	"time"
)

// Response is the result of a request: *Fetched or *NetworkError.
type Response interface {
	// RequestURL is the URL that was requested.
	RequestURL() string

	isResponse()
}

// Fetched is a response that arrived, whatever its status.
type Fetched struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Elapsed    time.Duration
}

// RequestURL implements Response.
func (f *Fetched) RequestURL() string { return f.URL }

func (*Fetched) isResponse() {}

// NetworkError is a request that produced no response.
type NetworkError struct {
	URL   string
	Cause error
}

// RequestURL implements Response.
func (e *NetworkError) RequestURL() string { return e.URL }

func (*NetworkError) isResponse() {}

// Error implements error.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("request %s failed: %v", e.URL, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *NetworkError) Unwrap() error {
	return e.Cause
}
