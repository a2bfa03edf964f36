package adapters

import (
	"strings"

	"github.com/smallbiznis/scanledger/internal/payment/domain"
)

type Registry struct {
	verifiers map[string]domain.EventVerifier
}

func NewRegistry(verifiers ...domain.EventVerifier) *Registry {
	registry := &Registry{verifiers: map[string]domain.EventVerifier{}}
	for _, verifier := range verifiers {
		if verifier == nil {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(verifier.Provider()))
		if provider == "" {
			continue
		}
		registry.verifiers[provider] = verifier
	}
	return registry
}

// ProviderExists is nil-safe; a nil registry knows no providers.
func (r *Registry) ProviderExists(provider string) bool {
	_, err := r.Verifier(provider)
	return err == nil
}

func (r *Registry) Verifier(provider string) (domain.EventVerifier, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	verifier, ok := r.verifiers[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return verifier, nil
}
