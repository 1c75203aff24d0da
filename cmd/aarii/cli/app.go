package cli

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/felixgeelhaar/aarii/internal/config"
	"github.com/felixgeelhaar/aarii/internal/conversation"
	"github.com/felixgeelhaar/aarii/internal/credential"
	"github.com/felixgeelhaar/aarii/internal/embedding"
	"github.com/felixgeelhaar/aarii/internal/guard"
	"github.com/felixgeelhaar/aarii/internal/memory"
	"github.com/felixgeelhaar/aarii/internal/observe"
	"github.com/felixgeelhaar/aarii/internal/plugin"
	"github.com/felixgeelhaar/aarii/internal/provider"
	"github.com/felixgeelhaar/aarii/internal/store"
)

// App holds the subsystems one command invocation works with.
type App struct {
	Config   *config.Config
	Observer *observe.Observer
	Store    *store.Store
	Settings *credential.Settings

	// Memory is nil when memory.enabled is false.
	Memory *memory.Manager

	closers []func()
}

// loadConfig reads the config file and applies the command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if providerName != "" {
		cfg.Provider.Name = providerName
	}
	if modelName != "" {
		cfg.Provider.Model = modelName
	}
	return cfg, nil
}

func newObserver(out io.Writer) *observe.Observer {
	if jsonOutput {
		return observe.NewJSON(out, verbose)
	}
	return observe.New(out, verbose)
}

// openStore opens the configured record store and the encrypted settings on
// top of it. Enough for config and persona commands.
func openStore(out io.Writer) (*App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Observer: newObserver(out)}

	dsn := cfg.DatabaseURL
	if dsn == "" {
		dsn = cfg.DatabasePath()
	}
	a.Store, err = store.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}
	a.closers = append(a.closers, func() { a.Store.Close() })

	mgr, err := credential.NewManager()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Settings = credential.NewSettings(a.Store, mgr)
	return a, nil
}

// openApp opens the store, fills API keys saved with `aarii config set`,
// validates the configuration and opens the memory subsystem. Provider
// settings are only validated when needProvider is set.
func openApp(ctx context.Context, out io.Writer, needProvider bool) (*App, error) {
	a, err := openStore(out)
	if err != nil {
		return nil, err
	}
	cfg := a.Config

	if cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = a.savedKey(cfg.Provider.Name+".api_key", "provider.api_key")
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = a.savedKey(cfg.Embedding.Backend+".api_key", "embedding.api_key")
	}

	checked := *cfg
	if !needProvider {
		checked.Provider = config.Default().Provider
		checked.Provider.Name = "stub"
	}
	res := config.Validate(&checked)
	for _, w := range res.Warnings {
		a.Observer.Log().Warn().Str("warning", w).Msg("configuration")
	}
	if !res.Valid {
		a.Close()
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(res.Errors, "; "))
	}

	if !cfg.Memory.Enabled {
		a.Observer.Log().Info().Msg("memory disabled, chatting without recall")
		return a, nil
	}

	emb, err := a.embedder()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Memory, err = memory.Open(ctx, a.Store, emb, memory.Options{
		IndexPath: cfg.IndexPath(),
		Observer:  a.Observer,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) savedKey(keys ...string) string {
	for _, k := range keys {
		v, err := a.Settings.GetConfig(k)
		if err != nil {
			a.Observer.Log().Warn().Str("key", k).Err(err).Msg("failed to read saved credential")
			continue
		}
		if v != "" {
			return v
		}
	}
	return ""
}

// embedder builds the process-wide lazy embedder, cached when configured.
// The backend is constructed on the first Embed call.
func (a *App) embedder() (embedding.Embedder, error) {
	ec := a.Config.Embedding

	var (
		mu      sync.Mutex
		backend embedding.Embedder
	)
	load := func(ctx context.Context) (embedding.Embedder, error) {
		var (
			e   embedding.Embedder
			err error
		)
		switch ec.Backend {
		case "hash":
			e = embedding.NewHash(ec.Dimensions)
		case "openai":
			e, err = embedding.NewOpenAI(ec.APIKey, ec.BaseURL, ec.Model, ec.Dimensions)
		case "ollama":
			e, err = embedding.NewOllama(ec.BaseURL, ec.Model, ec.Dimensions)
		case "gemini":
			e, err = embedding.NewGemini(ctx, ec.APIKey, ec.Model, ec.Dimensions)
		case "plugin":
			e, err = plugin.Launch(ec.PluginPath, ec.PluginArgs...)
		default:
			err = fmt.Errorf("unknown embedding backend %q", ec.Backend)
		}
		if err != nil {
			return nil, err
		}
		mu.Lock()
		backend = e
		mu.Unlock()
		a.Observer.Log().Info().Str("backend", ec.Backend).Int("dim", e.Dimensions()).Msg("embedder loaded")
		return e, nil
	}

	lazy := embedding.Shared(ec.Dimensions, load)
	a.closers = append(a.closers, func() {
		mu.Lock()
		defer mu.Unlock()
		switch c := backend.(type) {
		case interface{ Close() error }:
			_ = c.Close()
		case interface{ Close() }:
			c.Close()
		}
	})

	if ec.CacheSize <= 0 {
		return lazy, nil
	}
	cached, err := embedding.NewCached(lazy, ec.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	a.closers = append(a.closers, cached.Close)
	return cached, nil
}

// provider builds the configured completion provider wrapped in the rate
// limiter and circuit breaker.
func (a *App) provider(ctx context.Context) (provider.Provider, error) {
	pc := a.Config.Provider

	var (
		p   provider.Provider
		err error
	)
	switch pc.Name {
	case "groq":
		p, err = provider.NewGroqProvider(pc.APIKey, pc.BaseURL, pc.Model)
	case "openai":
		p, err = provider.NewOpenAIProvider(pc.APIKey, pc.BaseURL, pc.Model)
	case "ollama":
		p, err = provider.NewOllamaProvider(pc.BaseURL, pc.Model)
	case "gemini":
		var g *provider.GeminiProvider
		g, err = provider.NewGeminiProvider(ctx, pc.APIKey, pc.Model)
		if err == nil {
			a.closers = append(a.closers, func() { g.Close() })
			p = g
		}
	case "anthropic":
		p, err = provider.NewAnthropicProvider(pc.APIKey, pc.BaseURL, pc.Model)
	case "cli":
		p, err = cliProvider(pc.Command)
	case "stub":
		p = provider.NewStubProvider()
	default:
		err = fmt.Errorf("unknown provider %q", pc.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize provider: %w", err)
	}

	if pc.RequestsPerMinute > 0 {
		p = provider.NewLimited(p, pc.RequestsPerMinute, 1)
	}
	if pc.CircuitBreaker {
		p = provider.NewBreaker(p, provider.DefaultBreakerConfig, a.Observer)
	}
	return p, nil
}

func cliProvider(command []string) (provider.Provider, error) {
	if len(command) > 0 {
		return provider.NewCLIProvider(command[0], command[1:])
	}

	tools := []string{"claude", "gemini", "llm"}
	for _, t := range tools {
		if path, err := exec.LookPath(t); err == nil {
			return provider.NewCLIProvider(path, nil)
		}
	}
	return nil, fmt.Errorf("no local CLI tools detected (tried %s)", strings.Join(tools, ", "))
}

// Orchestrator wires memory, persona settings and the provider together.
func (a *App) Orchestrator(ctx context.Context) (*conversation.Orchestrator, error) {
	p, err := a.provider(ctx)
	if err != nil {
		return nil, err
	}
	return a.conversation(p), nil
}

func (a *App) conversation(p provider.Provider) *conversation.Orchestrator {
	cfg := a.Config

	// A typed nil *memory.Manager must not reach the orchestrator as a
	// non-nil interface.
	var mem memory.Memory
	if a.Memory != nil {
		mem = a.Memory
	}

	return conversation.New(mem, a.Settings, p, guard.New(cfg.Policy), a.Observer, conversation.Options{
		SystemPrompt: cfg.SystemPrompt,
		TopK:         cfg.Memory.TopK,
		Params: provider.Params{
			Temperature: cfg.Provider.Temperature,
			MaxTokens:   cfg.Provider.MaxTokens,
		},
	})
}

// Close releases everything in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	_ = a.Observer.Close()
}
