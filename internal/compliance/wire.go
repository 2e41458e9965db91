package compliance

import (
	"fmt"

	"github.com/rezonia/vat-compliance/internal/config"
	"github.com/rezonia/vat-compliance/internal/detector"
	"github.com/rezonia/vat-compliance/internal/filing"
	"github.com/rezonia/vat-compliance/internal/llm"
	"github.com/rezonia/vat-compliance/internal/logger"
	"github.com/rezonia/vat-compliance/internal/remediation"
	"github.com/rezonia/vat-compliance/internal/rules"
	"github.com/rezonia/vat-compliance/internal/store"
	"github.com/rezonia/vat-compliance/internal/strategy"
)

// Build wires the default catalog, policy and adapters from cfg over st
func Build(cfg *config.Config, st *store.Store) (*Service, error) {
	catalog := rules.DefaultCatalog()
	policy := rules.DefaultPolicy()

	strategies, err := strategy.NewRegistry(catalog)
	if err != nil {
		return nil, fmt.Errorf("build strategy registry: %w", err)
	}

	det := detector.New(catalog, policy, strategies, detectorOptions(cfg)...)
	fixes := remediation.New(st.Invoices, st.Findings, st.Fixes, st.Ledger, strategies, policy,
		remediation.WithConcurrency(cfg.BulkConcurrency))

	adapters, err := Adapters(cfg)
	if err != nil {
		return nil, err
	}
	gw := filing.NewGateway(filing.NewRegistry(adapters...), catalog, st.Invoices, st.Submissions)

	return New(st, det, fixes, gw), nil
}

func detectorOptions(cfg *config.Config) []detector.Option {
	opts := []detector.Option{detector.WithEnhanced(cfg.EnhancedDetection)}
	if !cfg.LLMEnabled() {
		return opts
	}

	var clientOpts []llm.ClientOption
	if cfg.LLMTimeout > 0 {
		clientOpts = append(clientOpts, llm.WithTimeout(cfg.LLMTimeout))
	}
	if cfg.LLMBaseURL != "" {
		clientOpts = append(clientOpts, llm.WithBaseURL(cfg.LLMBaseURL))
	}
	if cfg.LLMModel != "" {
		clientOpts = append(clientOpts, llm.WithDefaultModel(cfg.LLMModel))
	}

	advisor := llm.NewAdvisor(llm.NewClient(cfg.LLMAPIKey, clientOpts...))
	return append(opts, detector.WithAdvisor(advisor))
}

// Adapters builds the DE, FR and GB adapters. Authorities without credentials
// are still registered; the authority rejects their submissions.
func Adapters(cfg *config.Config) ([]filing.Adapter, error) {
	log := logger.WithComponent("filing")
	transport := func(a config.AuthorityConfig) []filing.TransportOption {
		return []filing.TransportOption{
			filing.WithTimeout(cfg.FilingTimeout),
			filing.WithRateLimit(a.RatePerSec),
		}
	}

	elster := filing.NewElsterAdapter(cfg.Elster.BaseURL, transport(cfg.Elster)...)
	dgfip := filing.NewDGFiPAdapter(cfg.DGFiP.BaseURL, transport(cfg.DGFiP)...)
	hmrc := filing.NewHMRCAdapter(cfg.HMRC.BaseURL, transport(cfg.HMRC)...)

	setups := []struct {
		adapter filing.Adapter
		auth    config.AuthorityConfig
	}{
		{elster, cfg.Elster},
		{dgfip, cfg.DGFiP},
		{hmrc, cfg.HMRC},
	}

	adapters := make([]filing.Adapter, 0, len(setups))
	for _, s := range setups {
		if !hasCredentials(s.auth) {
			log.Warn().Str("country", s.adapter.Country()).Msg("No credentials configured for authority")
		} else if err := s.adapter.SetupAuth(credentials(s.auth)); err != nil {
			return nil, fmt.Errorf("setup %s auth: %w", s.adapter.Country(), err)
		}
		adapters = append(adapters, s.adapter)
	}
	return adapters, nil
}

func credentials(a config.AuthorityConfig) filing.Credentials {
	return filing.Credentials{
		APIKey:       a.APIKey,
		ClientID:     a.ClientID,
		ClientSecret: a.ClientSecret,
		TokenURL:     a.TokenURL,
		AccessToken:  a.AccessToken,
	}
}

func hasCredentials(a config.AuthorityConfig) bool {
	return a.APIKey != "" || a.AccessToken != "" || (a.ClientID != "" && a.ClientSecret != "")
}
