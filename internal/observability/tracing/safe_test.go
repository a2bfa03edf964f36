package tracing

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsUnknownKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/api/export"),
		attribute.String("email", "a@example.com"),
	)
	if len(attrs) != 1 || attrs[0].Key != "http.route" {
		t.Fatalf("expected only http.route, got %v", attrs)
	}
}

func TestSafeErrorStripsOuterContext(t *testing.T) {
	err := fmt.Errorf("write /srv/exports/1/export_a.json: %w", errors.New("disk full"))
	if got := SafeError(err).Error(); got != "disk full" {
		t.Fatalf("expected inner message, got %q", got)
	}
	if SafeError(nil) != nil {
		t.Fatalf("expected nil")
	}
}

func TestWrapHTTPClientKeepsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := WrapHTTPClient(&http.Client{Timeout: 0})
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}
