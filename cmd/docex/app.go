package main

import (
	"context"

	"github.com/jackzampolin/docex/internal/config"
	"github.com/jackzampolin/docex/internal/document"
	"github.com/jackzampolin/docex/internal/home"
	"github.com/jackzampolin/docex/internal/pipeline"
	"github.com/jackzampolin/docex/internal/prompts"
	"github.com/jackzampolin/docex/internal/providers"
	"github.com/jackzampolin/docex/internal/schema"
)

// app holds what every command needs after flags are parsed.
type app struct {
	home    *home.Dir
	mgr     *config.Manager
	cfg     *config.Config
	schemas *schema.Store
	prompts *prompts.Builder
}

func loadApp() (*app, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	mgr, err := config.NewManager(cfgFile, h.Path())
	if err != nil {
		return nil, err
	}
	cfg := mgr.Get()

	schemas := schema.NewStore(cfg.SchemaPath(h.SchemaPath()))
	logger.Debug("loaded config",
		"config_file", mgr.ConfigFileUsed(),
		"schema", schemas.Path(),
		"vision", cfg.Pipeline.VisionProvider,
		"text", cfg.Pipeline.TextProvider)

	return &app{
		home:    h,
		mgr:     mgr,
		cfg:     cfg,
		schemas: schemas,
		prompts: prompts.NewBuilder(schemas),
	}, nil
}

// providers instantiates every enabled provider in the config.
func (a *app) providers(ctx context.Context) *providers.Registry {
	return providers.NewRegistryFromConfig(ctx, a.cfg.ToProviderRegistryConfig(), logger)
}

// pipelineDeps wires the collaborators shared by run and eval.
func (a *app) pipelineDeps(ctx context.Context) pipeline.Deps {
	return pipeline.Deps{
		Loader:    pipeline.NewLoader(a.providers(ctx), a.cfg.PipelineSettings(), logger),
		Documents: document.NewLoader(a.cfg.DocumentOptions(), logger),
		Prompts:   a.prompts,
		Logger:    logger,
	}
}
