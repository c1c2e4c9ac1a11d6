package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"anon-forwarder/internal/config"
	"anon-forwarder/internal/metrics"
)

func testConfig(timeout int) *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:  timeout,
			IdleConnections: 10,
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpstreamClient_Do(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := NewUpstreamClient(testConfig(10), discardLogger(), nil, WithTransport(srv.Client().Transport))

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+"/test", http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if resp.Status != "200 OK" {
		t.Errorf("Status = %q, want %q", resp.Status, "200 OK")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != `{"status":"ok"}` {
		t.Errorf("body = %q, want %q", string(body), `{"status":"ok"}`)
	}
}

func TestUpstreamClient_Do_DoesNotFollowRedirects(t *testing.T) {
	followed := false
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/target" {
			followed = true
			return
		}
		http.Redirect(w, r, "/target", http.StatusFound)
	}))
	defer srv.Close()

	c := NewUpstreamClient(testConfig(10), discardLogger(), nil, WithTransport(srv.Client().Transport))

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+"/start", http.NoBody)
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if loc := resp.Header.Get("Location"); loc != "/target" {
		t.Errorf("Location = %q, want %q", loc, "/target")
	}
	if followed {
		t.Error("redirect was followed; want it relayed")
	}
}

func TestUpstreamClient_Do_KeepsContentEncoding(t *testing.T) {
	gz := []byte{0x1f, 0x8b, 0x08, 0x00}
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ae := r.Header.Get("Accept-Encoding"); ae != "" {
			t.Errorf("Accept-Encoding = %q, want none added by the client", ae)
		}
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(gz)
	}))
	defer srv.Close()

	c := NewUpstreamClient(testConfig(10), discardLogger(), nil)
	// Keep the pooled transport's compression setting but trust the test certificate.
	tr := c.httpClient.Transport.(*http.Transport)
	tr.TLSClientConfig = srv.Client().Transport.(*http.Transport).TLSClientConfig

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, http.NoBody)
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if ce := resp.Header.Get("Content-Encoding"); ce != "gzip" {
		t.Errorf("Content-Encoding = %q, want %q", ce, "gzip")
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != string(gz) {
		t.Errorf("body = %x, want raw %x", body, gz)
	}
}

func TestUpstreamClient_Do_Error(t *testing.T) {
	m := metrics.New()
	c := NewUpstreamClient(testConfig(1), discardLogger(), m)

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, "https://127.0.0.1:1/nonexistent", http.NoBody)
	_, err := c.Do(req)
	if err == nil {
		t.Fatal("Do() expected error for unreachable host, got nil")
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "anon_forwarder_upstream_errors_total" {
			for _, metric := range f.GetMetric() {
				if metric.GetCounter().GetValue() == 1 {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("expected anon_forwarder_upstream_errors_total = 1")
	}
}

func TestUpstreamClient_Do_CanceledContext(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Simulate a slow upstream; the request should be canceled before this completes.
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewUpstreamClient(testConfig(30), discardLogger(), nil, WithTransport(srv.Client().Transport))

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/slow", http.NoBody)
	_, err := c.Do(req)
	if err == nil {
		t.Fatal("Do() expected error for canceled context, got nil")
	}
}
