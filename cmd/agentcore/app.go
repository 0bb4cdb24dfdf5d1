package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/arcflow/agentcore/internal/agent"
	"github.com/arcflow/agentcore/internal/billing"
	"github.com/arcflow/agentcore/internal/config"
	"github.com/arcflow/agentcore/internal/media"
	"github.com/arcflow/agentcore/internal/observability"
	"github.com/arcflow/agentcore/internal/orchestrator"
	"github.com/arcflow/agentcore/internal/providers/anthropic"
	"github.com/arcflow/agentcore/internal/providers/bedrock"
	"github.com/arcflow/agentcore/internal/providers/gemini"
	"github.com/arcflow/agentcore/internal/providers/venice"
	"github.com/arcflow/agentcore/internal/threads"
	"github.com/arcflow/agentcore/internal/tools/builtin"
	"github.com/arcflow/agentcore/internal/tools/policy"
	"github.com/arcflow/agentcore/internal/tools/sandbox"
)

// projectStore is the provisioning surface the CLI needs beyond
// agent.ThreadStore; every concrete store in internal/threads provides it.
type projectStore interface {
	agent.ThreadStore
	CreateProject(ctx context.Context, projectID, accountID string) error
}

// app is the assembled runtime: every component the serve and run
// commands need, built once from configuration.
type app struct {
	cfg             *config.Config
	logger          *observability.Logger
	store           projectStore
	provider        agent.LLMProvider
	sandboxProvider sandbox.Provider
	driver          *orchestrator.AgentDriver
	closers         []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// buildApp wires configuration into a running agent stack. Dependencies
// are constructed here and injected explicitly; nothing below cmd/ holds
// process-global state beyond the sandbox provider's lazy client.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	a.logger = observability.MustNewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	store, closeStore, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}
	a.store = store
	if closeStore != nil {
		a.closers = append(a.closers, closeStore)
	}

	a.provider, err = buildProvider(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	a.sandboxProvider, err = buildSandboxProvider(cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	registry, err := buildRegistry(ctx, cfg, a.store)
	if err != nil {
		a.close()
		return nil, err
	}

	resolver, toolPolicy := buildToolPolicy(cfg)
	registry.SetPolicy(resolver, toolPolicy)

	executor := agent.NewToolExecutor(registry, agent.ToolExecConfig{
		Concurrency:    cfg.Tools.Execution.Parallelism,
		PerToolTimeout: cfg.Tools.Execution.Timeout,
		MaxAttempts:    cfg.Tools.Execution.MaxAttempts,
		RetryBackoff:   cfg.Tools.Execution.RetryBackoff,
	})
	executor.SetResultGuard(agent.ToolResultGuard{
		Enabled:         cfg.Tools.Execution.ResultGuard.Enabled,
		MaxChars:        cfg.Tools.Execution.ResultGuard.MaxChars,
		Denylist:        cfg.Tools.Execution.ResultGuard.Denylist,
		RedactPatterns:  cfg.Tools.Execution.ResultGuard.RedactPatterns,
		RedactionText:   cfg.Tools.Execution.ResultGuard.RedactionText,
		TruncateSuffix:  cfg.Tools.Execution.ResultGuard.TruncateSuffix,
		SanitizeSecrets: cfg.Tools.Execution.ResultGuard.SanitizeSecrets,
	}, resolver)

	threadManager := orchestrator.NewThreadManager(a.provider, registry, executor, a.store, orchestrator.ContextBuilderConfig{})

	var billingService agent.BillingService = billing.AllowAll{}
	if cfg.Billing.Enabled {
		billingService = billing.NewHTTPClient(cfg.Billing.URL, cfg.Billing.APIKey)
	}

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "agentcore",
		ServiceVersion: version,
	})
	a.closers = append(a.closers, func() error { return shutdownTracer(context.Background()) })

	a.driver = orchestrator.NewAgentDriver(threadManager, a.store, billingService, a.sandboxProvider, tracer, observability.NewMetrics())
	return a, nil
}

func buildStore(cfg *config.Config) (projectStore, func() error, error) {
	switch strings.ToLower(cfg.Database.Driver) {
	case "sqlite":
		path := cfg.Database.URL
		if path == "" {
			path = "agentcore.db"
		}
		store, err := threads.NewSQLiteStore(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, store.Close, nil
	case "postgres":
		if cfg.Database.URL == "" {
			// No DSN configured: fall back to an ephemeral in-memory
			// store so `agentcore run` works out of the box.
			return threads.NewMemoryStore(), nil, nil
		}
		store, err := threads.NewPostgresStoreFromDSN(cfg.Database.URL, &threads.PostgresConfig{
			MaxOpenConns:    cfg.Database.MaxConnections,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			MaxIdleConns:    5,
			ConnMaxIdleTime: 2 * time.Minute,
			ConnectTimeout:  10 * time.Second,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

func buildProvider(ctx context.Context, cfg *config.Config) (agent.LLMProvider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	providerCfg := cfg.LLM.Providers[name]

	switch name {
	case "anthropic":
		provider, err := anthropic.New(anthropic.Config{
			APIKey:       providerCfg.APIKey,
			BaseURL:      providerCfg.BaseURL,
			DefaultModel: providerCfg.DefaultModel,
		})
		if err != nil {
			return nil, err
		}
		return provider, nil
	case "gemini", "google":
		provider, err := gemini.NewGeminiProvider(ctx, gemini.GeminiConfig{
			APIKey:       providerCfg.APIKey,
			DefaultModel: providerCfg.DefaultModel,
		})
		if err != nil {
			return nil, err
		}
		return provider, nil
	case "bedrock":
		provider, err := bedrock.NewRuntimeProvider(bedrock.RuntimeConfig{
			Region:       cfg.LLM.Bedrock.Region,
			DefaultModel: providerCfg.DefaultModel,
		})
		if err != nil {
			return nil, err
		}
		return provider, nil
	case "venice":
		provider, err := venice.NewVeniceProvider(venice.VeniceConfig{
			APIKey:       providerCfg.APIKey,
			DefaultModel: providerCfg.DefaultModel,
			BaseURL:      providerCfg.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.LLM.DefaultProvider)
	}
}

func buildSandboxProvider(cfg *config.Config) (sandbox.Provider, error) {
	switch strings.ToLower(cfg.Tools.Sandbox.Backend) {
	case "local":
		return sandbox.NewDockerProvider(sandbox.DockerConfig{
			VNCHostPort: cfg.Tools.Sandbox.VNCHostPort,
			WebHostPort: cfg.Tools.Sandbox.WebHostPort,
		}), nil
	case "managed":
		d := cfg.Tools.Sandbox.Daytona
		return sandbox.NewDaytonaProvider(sandbox.DaytonaConfig{
			APIKey:         d.APIKey,
			JWTToken:       d.JWTToken,
			OrganizationID: d.OrganizationID,
			APIURL:         d.APIURL,
			Target:         d.Target,
			Snapshot:       d.Snapshot,
			Image:          d.Image,
			SandboxClass:   d.SandboxClass,
			WorkspaceDir:   d.WorkspaceDir,
			NetworkAllow:   d.NetworkAllow,
			ReuseSandbox:   d.ReuseSandbox,
			AutoStop:       d.AutoStop,
			AutoArchive:    d.AutoArchive,
			AutoDelete:     d.AutoDelete,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported sandbox backend %q", cfg.Tools.Sandbox.Backend)
	}
}

func buildRegistry(ctx context.Context, cfg *config.Config, store agent.ThreadStore) (*agent.ToolRegistry, error) {
	var screenshots media.ScreenshotStore
	if cfg.Storage.Bucket != "" {
		uploader, err := media.NewUploader(ctx, &media.UploaderConfig{
			Bucket:        cfg.Storage.Bucket,
			Region:        cfg.Storage.Region,
			Endpoint:      cfg.Storage.Endpoint,
			Prefix:        cfg.Storage.Prefix,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("screenshot uploader: %w", err)
		}
		screenshots = uploader
	}

	registry := agent.NewToolRegistry()
	registry.Register(&builtin.ShellTool{})
	registry.Register(&builtin.CreateFileTool{})
	registry.Register(&builtin.ReadFileTool{})
	registry.Register(&builtin.ListDirTool{})
	registry.Register(builtin.NewBrowserTool(media.NewBrowserStateIngestor(store, screenshots)))
	return registry, nil
}

// buildToolPolicy maps the tools.policies config section onto a policy
// resolver and an effective policy: a named profile as the base, with
// per-tool allow/deny rules layered on top.
func buildToolPolicy(cfg *config.Config) (*policy.Resolver, *policy.Policy) {
	resolver := policy.NewResolver()

	base := policy.GetProfilePolicy(strings.ToLower(strings.TrimSpace(cfg.Tools.Policies.Profile)))
	var toolPolicy policy.Policy
	if base != nil {
		toolPolicy = *base
	} else {
		toolPolicy = policy.Policy{Profile: policy.ProfileFull}
	}
	// Copy the rule slices so layered rules never mutate the shared
	// profile defaults.
	toolPolicy.Allow = append([]string(nil), toolPolicy.Allow...)
	toolPolicy.Deny = append([]string(nil), toolPolicy.Deny...)

	for _, rule := range cfg.Tools.Policies.Rules {
		switch strings.ToLower(strings.TrimSpace(rule.Action)) {
		case "deny":
			toolPolicy.Deny = append(toolPolicy.Deny, rule.Tool)
		case "allow":
			toolPolicy.Allow = append(toolPolicy.Allow, rule.Tool)
		}
	}
	return resolver, &toolPolicy
}

func driverConfig(cfg *config.Config) orchestrator.DriverConfig {
	name := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	model := cfg.LLM.Providers[name].DefaultModel

	return orchestrator.DriverConfig{
		Model:         model,
		MaxIterations: cfg.Agent.MaxIterations,
		Stream:        cfg.Agent.Stream,
		ResponseProcessor: orchestrator.ResponseProcessorConfig{
			ParallelTools:   cfg.Agent.ParallelTools,
			ExecuteOnStream: cfg.Agent.ExecuteOnStream,
			MaxToolCalls:    cfg.Agent.MaxXMLToolCalls,
		},
	}
}
