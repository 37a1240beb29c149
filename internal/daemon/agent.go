package daemon

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/agent"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/bridge"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/compact"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/config"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/knowledge"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/learning"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/llm"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/sandbox"
)

// NewModel builds the model client selected by cfg.
func NewModel(cfg config.ModelConfig) (llm.Model, error) {
	switch cfg.Provider {
	case "stub":
		return llm.Stub{}, nil
	case "", "azure":
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
	az := llm.NewAzure(llm.AzureConfig{
		Endpoint:   cfg.Endpoint,
		APIKey:     cfg.APIKey,
		Deployment: cfg.Deployment,
		APIVersion: cfg.APIVersion,
	})
	if cfg.MaxRetries > 0 {
		az.Retry.MaxAttempts = cfg.MaxRetries
	}
	if cfg.RateLimitWait > 0 {
		az.Retry.RateLimitWait = cfg.RateLimitWait
	}
	az.OnRetry = func(attempt, status int, wait time.Duration, err error) {
		slog.Warn("model call retry", "attempt", attempt, "status", status, "wait", wait, "err", err)
	}
	return az, nil
}

// Budgets converts the configured budgets, applying the global caps.
func Budgets(cfg config.AgentConfig) agent.Budgets {
	out := agent.DefaultBudgets()
	for name, b := range cfg.Budgets {
		c := agent.Complexity(name)
		cur := out.For(c)
		if b.MaxIterations > 0 {
			cur.MaxIterations = b.MaxIterations
		}
		if b.MaxRuntime > 0 {
			cur.MaxRuntime = b.MaxRuntime
		}
		out[c] = cur
	}
	for c, b := range out {
		if cfg.MaxIterations > 0 && b.MaxIterations > cfg.MaxIterations {
			b.MaxIterations = cfg.MaxIterations
		}
		if cfg.MaxRuntime > 0 && b.MaxRuntime > cfg.MaxRuntime {
			b.MaxRuntime = cfg.MaxRuntime
		}
		out[c] = b
	}
	return out
}

// NewAgent wires the agent and its collaborators from cfg.
func NewAgent(cfg *config.Config) (*agent.Agent, error) {
	model, err := NewModel(cfg.Model)
	if err != nil {
		return nil, err
	}
	sb, err := sandbox.New(cfg.Sandbox.Dir)
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	if cfg.Sandbox.MaxReadSize > 0 {
		sb.MaxRead = cfg.Sandbox.MaxReadSize
	}
	kb, err := knowledge.Load()
	if err != nil {
		return nil, fmt.Errorf("knowledge base: %w", err)
	}
	ls, err := learning.Open(cfg.LearningDir())
	if err != nil {
		return nil, fmt.Errorf("learning store: %w", err)
	}
	a := &agent.Agent{
		Model:     model,
		Sandbox:   sb,
		Knowledge: kb,
		Learning:  ls,
		Config: agent.Config{
			Temperature:  cfg.Model.Temperature,
			MaxTokens:    cfg.Model.MaxTokens,
			Budgets:      Budgets(cfg.Agent),
			MaxCritiques: cfg.Agent.MaxCritiques,
			Compactor:    compact.Compactor{Ceiling: cfg.Agent.CompactAt, Keep: cfg.Agent.CompactKeep},
		},
	}
	if cfg.Backend.URL != "" {
		a.Bridge = bridge.New(cfg.Backend.URL, cfg.Backend.AuthToken, cfg.Backend.UserID, cfg.Backend.FirmID)
	}
	return a, nil
}
