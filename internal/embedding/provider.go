package embedding

import (
	"fmt"

	"github.com/engramhq/engram/internal/domain"
)

// Provider constants
const (
	ProviderLocal = "local"
	ProviderMock  = "mock"
)

// NewClient creates an embedding client based on the provider name, wrapped
// in the failure breaker so one bad call opens the circuit for the cooldown
// window. Returns an error if the provider is unknown.
func NewClient(provider, baseURL, model string, dims int) (domain.Embedder, error) {
	switch provider {
	case ProviderLocal:
		return NewBreaker(NewLocalClient(baseURL, model, dims)), nil

	case ProviderMock:
		return NewBreaker(NewMockClient(dims)), nil

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (valid options: local, mock)", provider)
	}
}
