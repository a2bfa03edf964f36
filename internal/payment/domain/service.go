package domain

import "context"

// EventVerifier authenticates a raw provider delivery.
type EventVerifier interface {
	Provider() string
	// Verify returns ErrInvalidSignature when the signature does not match
	// and ErrInvalidPayload when the body is not a provider event.
	Verify(raw []byte, signature string) (*Event, error)
}

type Service interface {
	// HandleEvent returns an error only for invalid deliveries and for
	// storage failures that left nothing applied, so a retry is safe.
	HandleEvent(ctx context.Context, provider string, raw []byte, signature string) (Outcome, error)
	// SupportsProvider reports whether a verifier is registered for provider.
	SupportsProvider(provider string) bool
}
