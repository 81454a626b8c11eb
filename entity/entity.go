// Package entity declares the contracts the cache engine needs from the
// record layer and the transport. The engine never inspects entity
// internals: it stores opaque handles and drives their Fetch method.
package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind tags an entity as a single record or a list of records. The engine
// carries the tag on the resource descriptor instead of sniffing the
// concrete type of the handle.
type Kind string

const (
	KindRecord Kind = "record"
	KindList   Kind = "list"
)

// Entity is an opaque server-backed value. Fetch populates the entity from
// the server and returns the response status code. ToJSON exposes the
// current attributes for consumers and projections.
type Entity interface {
	Fetch(ctx context.Context) (int, error)
	ToJSON() json.RawMessage
}

// Factory constructs a fresh, unfetched entity for a cache key.
type Factory func() Entity

// StatusError is returned by fetches that reached the server but got a
// non-2xx response. It is the only failure kind surfaced to consumers.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// StatusCodeOf extracts the status code carried by err, or -1 for network
// level failures that never produced a response.
func StatusCodeOf(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return -1
}

// RequestOptions carries the per-call parameters of a transport request.
type RequestOptions struct {
	Method string
	Body   any
	Header http.Header
}

// Transport is the single fetch primitive the record layer builds on. URL
// construction and body serialization policy belong to the record layer,
// not to the engine.
type Transport interface {
	Request(ctx context.Context, url string, opts RequestOptions) (json.RawMessage, *http.Response, error)
}
