package onboarding

import (
	"context"

	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/nerdgraph"
)

// Registry is the registration service the Registrar links accounts with.
type Registry interface {
	IntrospectCapabilities(ctx context.Context, apiKey string) ([]string, error)
	ListProviderServices(ctx context.Context, apiKey string, accountID int64) ([]string, error)
	LinkAccount(ctx context.Context, apiKey string, accountID int64, name, roleARN string) (int64, error)
	ConfigureIntegration(ctx context.Context, apiKey string, accountID, linkedAccountID int64, capabilities []string) (*nerdgraph.ConfigureResult, error)
}

var _ Registry = (*nerdgraph.Client)(nil)
