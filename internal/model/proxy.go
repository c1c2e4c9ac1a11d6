// Package model defines the per-request types passed between forwarder layers.
package model

import (
	"context"
	"io"
	"net/http"
)

// InboundRequest is a caller request as received by the forwarder.
// Path is the escaped path and RawQuery the query without the leading '?',
// both carried verbatim into the upstream URL. ContentLength follows
// http.Request: 0 means no body, -1 means unknown length.
type InboundRequest struct {
	Ctx           context.Context
	Method        string
	Path          string
	RawQuery      string
	Header        http.Header
	ContentLength int64
	Body          io.ReadCloser
}

// UpstreamResponse is the upstream response to be streamed back unchanged.
type UpstreamResponse struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       io.ReadCloser
}

// ProxyErrorResponse is the JSON body returned when the upstream cannot be reached.
type ProxyErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
