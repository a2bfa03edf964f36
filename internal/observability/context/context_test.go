package context

import (
	"context"
	"testing"
)

func TestRequestAndAccountIDs(t *testing.T) {
	ctx := WithRequestID(context.Background(), " req-1 ")
	ctx = WithAccountID(ctx, "42")

	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("expected req-1, got %q", got)
	}
	if got := AccountIDFromContext(ctx); got != "42" {
		t.Fatalf("expected 42, got %q", got)
	}
	if got := AccountIDFromContext(WithAccountID(context.Background(), "  ")); got != "" {
		t.Fatalf("expected blank account id to be ignored, got %q", got)
	}
}

func TestEnsureCorrelationIDIsStable(t *testing.T) {
	ctx, first := EnsureCorrelationID(context.Background())
	if first == "" {
		t.Fatalf("expected generated correlation id")
	}
	_, second := EnsureCorrelationID(ctx)
	if first != second {
		t.Fatalf("expected %q to be reused, got %q", first, second)
	}
}
