package stripe

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/smallbiznis/scanledger/internal/payment/domain"
	"github.com/stripe/stripe-go/v82/webhook"
)

type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier checks deliveries against the endpoint signing secret.
// A zero tolerance uses the library default.
func NewVerifier(secret string, tolerance time.Duration) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, domain.ErrInvalidConfig
	}
	return &Verifier{secret: secret, tolerance: tolerance}, nil
}

func (v *Verifier) Provider() string {
	return domain.ProviderStripe
}

func (v *Verifier) Verify(raw []byte, signature string) (*domain.Event, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, domain.ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(raw, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, domain.ErrInvalidSignature
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidPayload
	}

	out := &domain.Event{
		Provider: domain.ProviderStripe,
		ID:       event.ID,
		Type:     string(event.Type),
		Raw:      raw,
	}
	if out.Type != domain.EventTypeCheckoutCompleted {
		return out, nil
	}

	if event.Data == nil {
		return nil, domain.ErrInvalidPayload
	}
	var session checkoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	out.AmountTotal = session.AmountTotal
	out.Currency = strings.ToLower(strings.TrimSpace(session.Currency))
	out.Metadata = session.Metadata
	out.CustomerEmail = strings.TrimSpace(session.CustomerDetails.Email)
	if out.CustomerEmail == "" {
		out.CustomerEmail = strings.TrimSpace(session.CustomerEmail)
	}
	return out, nil
}

type checkoutSession struct {
	ID              string            `json:"id"`
	AmountTotal     int64             `json:"amount_total"`
	Currency        string            `json:"currency"`
	CustomerEmail   string            `json:"customer_email"`
	CustomerDetails customerDetails   `json:"customer_details"`
	Metadata        map[string]string `json:"metadata"`
}

type customerDetails struct {
	Email string `json:"email"`
}
