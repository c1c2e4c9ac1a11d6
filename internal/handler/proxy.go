package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"anon-forwarder/internal/model"
	"anon-forwarder/internal/service"
)

// Forwarder is the dispatch step the proxy handler delegates to.
type Forwarder interface {
	Forward(in *model.InboundRequest) (*model.UpstreamResponse, error)
}

// ProxyHandler relays every non-internal request to the target host.
type ProxyHandler struct {
	forwarder Forwarder
	logger    *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(fwd Forwarder, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		forwarder: fwd,
		logger:    logger.With("component", "proxy_handler"),
	}
}

// Handle forwards the request and streams the upstream response back with its
// status and headers unchanged, 3xx included.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	in := &model.InboundRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          req.URL.EscapedPath(),
		RawQuery:      req.URL.RawQuery,
		Header:        req.Header,
		ContentLength: req.ContentLength,
		Body:          req.Body,
	}

	resp, err := h.forwarder.Forward(in)
	if err != nil {
		return h.writeError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Upstream values replace anything set by middleware (e.g. X-Request-Id).
	header := c.Response().Header()
	for key, vals := range resp.Header {
		header[key] = append([]string(nil), vals...)
	}
	c.Response().WriteHeader(resp.StatusCode)

	// Headers are already sent, so a copy failure (client disconnect, upstream
	// reset) can only truncate the body. Log it and let the connection close.
	if _, err := io.Copy(flushWriter{c.Response()}, resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
		)
	}
	return nil
}

// writeError sends the fixed 502 Proxy Error body.
func (h *ProxyHandler) writeError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
	)

	// Error text is sent as-is: no HTML escaping, no trailing newline.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if encErr := enc.Encode(service.ErrorBody(err)); encErr != nil {
		return encErr
	}
	return c.Blob(http.StatusBadGateway, echo.MIMEApplicationJSON, bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}

// flushWriter flushes after every write so streamed bodies reach the caller
// as they arrive instead of waiting on the server's write buffer.
type flushWriter struct {
	r *echo.Response
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.r.Write(p)
	if err == nil {
		fw.r.Flush()
	}
	return n, err
}
