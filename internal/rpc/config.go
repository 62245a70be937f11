package rpc

import (
	"context"
	"os"
	"path/filepath"

	"github.com/agentcore-ai/agentcore/internal/config"
	"github.com/agentcore-ai/agentcore/internal/modelregistry"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

// configRouter implements the config.* procedures (spec §4.11).
type configRouter struct{ r *Router }

// Load is a query: spec §4.11 config.load.
func (c *configRouter) Load(ctx context.Context) (*types.Config, error) {
	return config.Load(c.r.directory)
}

// Save is a mutation: persists cfg atomically to the project config file if
// a directory is set, otherwise the global one (spec §6 "saved atomically
// on mutation"; internal/config.Save already writes-then-renames via
// os.WriteFile to a fresh path, so a partial write never clobbers the
// previous file).
func (c *configRouter) Save(ctx context.Context, cfg *types.Config) error {
	path := config.GlobalConfigPath()
	if c.r.directory != "" {
		path = config.ProjectConfigPath(c.r.directory)
	}
	return config.Save(cfg, path)
}

// GetProviders is a query: every configured provider's available models.
func (c *configRouter) GetProviders(ctx context.Context) []modelregistry.Provider {
	return c.r.models.GetAllProviders()
}

// GetProviderSchema is a query: a provider's model list and capability
// flags, the closest analogue this registry has to a provider "schema"
// (the teacher's config layer has no per-provider JSON Schema of its own;
// model capability metadata is the configurable surface a client needs).
func (c *configRouter) GetProviderSchema(ctx context.Context, providerID string) ([]types.Model, error) {
	return c.r.models.GetModelsByProvider(providerID)
}

// UpdateRulesInput is config.updateRules' input: the default enabled-rule
// set new sessions inherit when none is specified explicitly.
type UpdateRulesInput struct {
	EnabledRuleIDs []string
}

// UpdateRules is a mutation.
func (c *configRouter) UpdateRules(ctx context.Context, in UpdateRulesInput) (*types.Config, error) {
	cfg, err := config.Load(c.r.directory)
	if err != nil {
		return nil, err
	}
	cfg.DefaultEnabledRuleIDs = in.EnabledRuleIDs
	if err := c.Save(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CountFileTokensInput is config.countFileTokens' input.
type CountFileTokensInput struct {
	Path       string
	ProviderID string
	ModelID    string
}

// CountFileTokens is a query: tokenizes a file on disk with the given
// model's tokenizer, relative to this router's configured directory.
func (c *configRouter) CountFileTokens(ctx context.Context, in CountFileTokensInput) (int, error) {
	p := in.Path
	if !filepath.IsAbs(p) {
		p = filepath.Join(c.r.directory, p)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return 0, err
	}
	model, err := c.r.models.GetModel(in.ProviderID, in.ModelID)
	if err != nil {
		return 0, err
	}
	return modelregistry.CountTokens(*model, string(data))
}
