// Package service implements the anonymizing forwarding logic.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"anon-forwarder/internal/config"
	"anon-forwarder/internal/model"
)

// ProxyErrorLabel is the fixed "error" field of every transport failure body.
const ProxyErrorLabel = "Proxy Error"

// SensitiveHeaders reveal the original caller's network identity and are
// never sent upstream. Matching is case-insensitive.
var SensitiveHeaders = []string{
	"X-Forwarded-For",
	"X-Real-IP",
	"Via",
	"Client-IP",
	"True-Client-IP",
	"X-Client-IP",
	"X-Cluster-Client-IP",
	"CF-Connecting-IP",
	"X-EdgeOne-Client-IP",
}

// Upstream executes an outbound request against the target origin.
type Upstream interface {
	Do(req *http.Request) (*model.UpstreamResponse, error)
}

// TransportError reports that the upstream call failed before any response
// was received (DNS, connect, TLS, timeout). It is the only dispatch failure.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "upstream transport: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Message returns the cause as reported to the caller, without the request
// URL that net/http prefixes to client errors.
func (e *TransportError) Message() string {
	var urlErr *url.Error
	if errors.As(e.Err, &urlErr) {
		return urlErr.Err.Error()
	}
	return e.Err.Error()
}

// Forwarder rewrites inbound requests for the target host and dispatches them.
// It holds no per-request state and is safe for concurrent use.
type Forwarder struct {
	upstream     Upstream
	targetHost   string
	origin       string
	stripRespIDs bool
	logger       *slog.Logger
}

// NewForwarder creates a Forwarder for cfg.Upstream.TargetHost.
func NewForwarder(up Upstream, cfg *config.Config, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		upstream:     up,
		targetHost:   cfg.Upstream.TargetHost,
		origin:       cfg.Upstream.Origin(),
		stripRespIDs: cfg.Upstream.StripResponseIdentityHeaders,
		logger:       logger.With("component", "forwarder"),
	}
}

// Forward sends in to the target host and returns the upstream response,
// redirects included. Any failure is returned as a *TransportError.
// The caller is responsible for closing the response body.
func (f *Forwarder) Forward(in *model.InboundRequest) (*model.UpstreamResponse, error) {
	out, err := f.BuildOutbound(in)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	f.logger.Debug("forwarding request",
		"method", out.Method,
		"path", out.URL.Path,
	)

	resp, err := f.upstream.Do(out)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if f.stripRespIDs {
		StripSensitiveHeaders(resp.Header)
	}
	return resp, nil
}

// BuildOutbound derives the upstream request from in. The body is handed
// over unread.
func (f *Forwarder) BuildOutbound(in *model.InboundRequest) (*http.Request, error) {
	body := in.Body
	if body == nil || in.ContentLength == 0 {
		body = http.NoBody
	}

	out, err := http.NewRequestWithContext(in.Ctx, in.Method, f.TargetURL(in.Path, in.RawQuery), body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	if body != http.NoBody {
		out.ContentLength = in.ContentLength
	}

	out.Header = f.RewriteHeaders(in.Header)
	// net/http sends req.Host, never a Host entry in the header map.
	out.Host = out.Header.Get("Host")
	out.Header.Del("Host")

	return out, nil
}

// TargetURL joins the fixed origin with the inbound path and query verbatim.
func (f *Forwarder) TargetURL(path, rawQuery string) string {
	u := f.origin + path
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

// RewriteHeaders returns a copy of src with Host, Origin and Referer pinned to
// the target host and every sensitive header removed. src is not modified.
func (f *Forwarder) RewriteHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}

	setHeader(dst, "Host", f.targetHost)
	setHeader(dst, "Origin", f.origin)
	setHeader(dst, "Referer", f.origin+"/")

	StripSensitiveHeaders(dst)
	return dst
}

// StripSensitiveHeaders deletes every SensitiveHeaders entry from h in place,
// including keys stored in non-canonical case.
func StripSensitiveHeaders(h http.Header) {
	for _, name := range SensitiveHeaders {
		deleteFold(h, name)
	}
}

// ErrorBody maps a Forward error to the 502 JSON body.
func ErrorBody(err error) model.ProxyErrorResponse {
	msg := err.Error()
	var te *TransportError
	if errors.As(err, &te) {
		msg = te.Message()
	}
	return model.ProxyErrorResponse{
		Error:   ProxyErrorLabel,
		Message: msg,
	}
}

// setHeader replaces every case variant of name with a single canonical value.
func setHeader(h http.Header, name, value string) {
	deleteFold(h, name)
	h.Set(name, value)
}

func deleteFold(h http.Header, name string) {
	for key := range h {
		if strings.EqualFold(key, name) {
			delete(h, key)
		}
	}
}
