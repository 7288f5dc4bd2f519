package onboarding

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/config"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/metrics"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/model"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/nerdgraph"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/secrets"
)

// RegistrarConfig identifies the New Relic account accounts are linked to.
type RegistrarConfig struct {
	SecretID            string
	MonitoringAccountID int64
	// CatalogSource is config.CatalogSourceSchema or config.CatalogSourceServices.
	CatalogSource string
}

// Registrar links AWS accounts with New Relic and enables integrations.
type Registrar struct {
	registry Registry
	secrets  secrets.Store
	cfg      RegistrarConfig
	logger   zerolog.Logger
}

// NewRegistrar creates a Registrar that links accounts to the monitoring
// account named in cfg using the key stored under cfg.SecretID.
func NewRegistrar(registry Registry, store secrets.Store, cfg RegistrarConfig, logger zerolog.Logger) *Registrar {
	return &Registrar{
		registry: registry,
		secrets:  store,
		cfg:      cfg,
		logger:   logger.With().Str("component", "registrar").Logger(),
	}
}

var _ AccountRegistrar = (*Registrar)(nil)

// Batch holds what is fetched once per registration pass.
type Batch struct {
	r       *Registrar
	apiKey  string
	catalog model.CapabilityCatalog
}

// Begin fetches the credential and the capability catalog for a pass.
func (r *Registrar) Begin(ctx context.Context) (*Batch, error) {
	apiKey, err := r.secrets.GetAccessKey(ctx, r.cfg.SecretID)
	if err != nil {
		return nil, err
	}

	var catalog []string
	if r.cfg.CatalogSource == config.CatalogSourceServices {
		catalog, err = r.registry.ListProviderServices(ctx, apiKey, r.cfg.MonitoringAccountID)
	} else {
		catalog, err = r.registry.IntrospectCapabilities(ctx, apiKey)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch capability catalog: %w", err)
	}
	r.logger.Info().Strs("capabilities", catalog).Msg("capability catalog fetched")

	return &Batch{r: r, apiKey: apiKey, catalog: model.CapabilityCatalog(model.Dedup(catalog))}, nil
}

// RoleARN is the role New Relic assumes in a member account.
func RoleARN(account string, monitoringAccountID int64) string {
	return fmt.Sprintf("arn:aws:iam::%s:role/NewRelicIntegrationRole_%d", account, monitoringAccountID)
}

// Register links account and enables every catalog capability on the new
// link. An already linked account is a success. Failures are not retried.
func (b *Batch) Register(ctx context.Context, account string) error {
	r := b.r
	log := r.logger.With().Str("account", account).Logger()

	linkedID, err := r.registry.LinkAccount(ctx, b.apiKey, r.cfg.MonitoringAccountID, account, RoleARN(account, r.cfg.MonitoringAccountID))
	if err != nil {
		if errors.Is(err, nerdgraph.ErrAlreadyLinked) {
			log.Warn().Err(err).Msg("account already linked, skipping")
			metrics.RegistrationsTotal.WithLabelValues("already_linked").Inc()
			return nil
		}
		metrics.RegistrationsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("register %s: %w", account, err)
	}

	link := model.RegistrationLink{
		TargetAccountID:     account,
		MonitoringAccountID: r.cfg.MonitoringAccountID,
		LinkedAccountID:     linkedID,
	}
	log.Info().Int64("linked_account_id", link.LinkedAccountID).Msg("account linked")
	metrics.RegistrationsTotal.WithLabelValues("linked").Inc()

	if len(b.catalog) == 0 {
		log.Warn().Msg("capability catalog is empty, no integrations configured")
		return nil
	}

	res, err := r.registry.ConfigureIntegration(ctx, b.apiKey, link.MonitoringAccountID, link.LinkedAccountID, b.catalog)
	if err != nil {
		log.Error().Err(err).Msg("configure integrations failed")
		return nil
	}
	for _, e := range res.Errors {
		log.Warn().Str("type", e.Type).Str("message", e.Message).Msg("integration not configured")
	}
	log.Info().Int("integrations", len(res.Integrations)).Msg("integrations configured")
	return nil
}
