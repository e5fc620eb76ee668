package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/nstogner/forge/pkg/agent"
	"github.com/nstogner/forge/pkg/config"
	"github.com/nstogner/forge/pkg/eventbus"
	"github.com/nstogner/forge/pkg/model"
	"github.com/nstogner/forge/pkg/model/anthropic"
	"github.com/nstogner/forge/pkg/model/gemini"
	"github.com/nstogner/forge/pkg/model/mock"
	"github.com/nstogner/forge/pkg/model/openai"
	"github.com/nstogner/forge/pkg/sandbox"
	"github.com/nstogner/forge/pkg/sandbox/docker"
	"github.com/nstogner/forge/pkg/store/sqlite"
	"github.com/nstogner/forge/pkg/tool/mcp"
)

// app holds the long-lived components of a forge process.
type app struct {
	store    *sqlite.Store
	provider model.Provider
	sandbox  sandbox.Manager
	mcp      *mcp.Toolset
	agent    *agent.Agent
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	st, err := sqlite.New(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	a.store = st

	a.provider, err = newProvider(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.sandbox, err = newSandbox(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	if len(cfg.MCPServers) > 0 {
		a.mcp, err = mcp.Connect(ctx, cfg.MCPServers)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connecting MCP servers: %w", err)
		}
	}

	bus := eventbus.New()
	thinkModel := cfg.ThinkModel
	if thinkModel == "" {
		thinkModel = cfg.Model
	}
	thinker := agent.NewThinker(a.provider, bus, thinkModel, cfg.ThinkMaxTokens)
	a.agent = agent.New(agent.Config{
		Model:         cfg.Model,
		StepBound:     cfg.StepBound,
		HistoryWindow: cfg.HistoryWindow,
		MaxTokens:     cfg.MaxTokens,
		Instructions:  cfg.Instructions,
	}, a.provider, thinker, bus)

	slog.Info("Forge initialized",
		"provider", cfg.Provider,
		"model", cfg.Model,
		"sandbox", cfg.Sandbox.Driver,
		"db", cfg.DBPath(),
	)
	return a, nil
}

// Close releases everything newApp acquired.
func (a *app) Close() error {
	var errs []error
	if a.mcp != nil {
		errs = append(errs, a.mcp.Close())
	}
	if a.sandbox != nil {
		errs = append(errs, a.sandbox.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

func newProvider(ctx context.Context, cfg *config.Config) (model.Provider, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		p, err := gemini.New(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("initializing Gemini provider: %w", err)
		}
		return p, nil
	case config.ProviderAnthropic:
		p, err := anthropic.New(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("initializing Anthropic provider: %w", err)
		}
		return p, nil
	case config.ProviderOpenAI:
		return openai.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL), nil
	case config.ProviderMock:
		return mock.New(), nil
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}

// newSandbox returns nil when sandboxes are disabled.
func newSandbox(cfg *config.Config) (sandbox.Manager, error) {
	if cfg.Sandbox.Driver == config.SandboxNone {
		return nil, nil
	}
	mgr, err := docker.New(docker.Options{
		Image:       cfg.Sandbox.Image,
		MemoryBytes: cfg.Sandbox.MemoryMB * 1024 * 1024,
		CPUPeriod:   cfg.Sandbox.CPUPeriod,
		CPUQuota:    cfg.Sandbox.CPUQuota,
		Port:        cfg.Sandbox.Port,
		Workdir:     cfg.Sandbox.Workdir,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing sandbox manager: %w", err)
	}
	return mgr, nil
}
