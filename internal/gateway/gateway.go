// Package gateway wires configuration into a running orchestrator: backend
// adapter, tool registry, middleware chain, history store and usage sink.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"relay/internal/chat"
	"relay/internal/config"
	"relay/internal/history"
	"relay/internal/llm"
	"relay/internal/logging"
	"relay/internal/middleware"
	"relay/internal/model"
	"relay/internal/skills"
	"relay/internal/usage"
	"relay/middlewares/replycache"
	"relay/middlewares/tokenbudget"
)

// Version is reported to MCP servers and by the status endpoint.
var Version = "dev"

const DefaultSession = "default"

type Gateway struct {
	cfg       *config.Config
	logger    *zap.Logger
	adapter   chat.Adapter
	caps      model.Capabilities
	registry  *skills.Manager
	executor  *skills.Executor
	chain     *middleware.Chain
	store     history.Store
	usage     *usage.Accumulator
	estimator *usage.Estimator
	mcp       *skills.MCPClient
	started   time.Time

	mu       sync.Mutex
	services map[string]*chat.Service
}

type Option func(*Gateway)

// WithAdapter replaces the adapter the configured provider would get.
func WithAdapter(a chat.Adapter) Option {
	return func(g *Gateway) { g.adapter = a }
}

func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithSkills registers extra skills next to the configured ones.
func WithSkills(list ...skills.Skill) Option {
	return func(g *Gateway) {
		for _, s := range list {
			g.registry.Register(s)
		}
	}
}

func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	caps, err := cfg.ProviderCapabilities()
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:       cfg,
		logger:    zap.NewNop(),
		caps:      caps,
		registry:  skills.NewManager(),
		usage:     usage.NewAccumulator(),
		estimator: usage.NewEstimator(),
		services:  make(map[string]*chat.Service),
		started:   time.Now(),
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.adapter == nil {
		g.adapter, err = llm.NewAdapter(llm.Provider(cfg.Provider), llm.Options{
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Logger:  g.logger.Named("llm"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize adapter: %w", err)
		}
	}

	if cfg.Skills.Builtin {
		for _, s := range skills.Builtins(cfg.Skills.Root, &http.Client{Timeout: cfg.ToolTimeout}) {
			g.registry.Register(s)
		}
	}
	if cfg.MCPConfig != "" {
		path, err := config.ExpandHome(cfg.MCPConfig)
		if err != nil {
			return nil, err
		}
		g.mcp = skills.NewMCPClient(Version, g.logger.Named("mcp"))
		list, err := g.mcp.Load(ctx, path)
		if err != nil {
			_ = g.mcp.Close()
			return nil, fmt.Errorf("load mcp servers: %w", err)
		}
		for _, s := range list {
			g.registry.Register(s)
		}
	}
	g.executor = skills.NewExecutor(g.registry,
		skills.WithMaxConcurrent(cfg.MaxConcurrentTools),
		skills.WithTimeout(cfg.ToolTimeout),
		skills.WithLogger(g.logger.Named("skills")),
	)

	var mws []middleware.Middleware
	if cfg.TokenBudget > 0 {
		mws = append(mws, tokenbudget.New(cfg.TokenBudget))
	}
	if cfg.ReplyCacheTTL > 0 {
		mws = append(mws, replycache.New(cfg.ReplyCacheTTL, 0))
	}
	g.chain = middleware.Build(mws, cfg.DisabledMiddlewares, g.logger.Named("middleware"))

	path := cfg.History.Path
	if cfg.History.Driver == history.DriverSQLite {
		if path, err = config.ExpandHome(path); err != nil {
			return nil, err
		}
	}
	g.store, err = history.Open(cfg.History.Driver, path)
	if err != nil {
		if g.mcp != nil {
			_ = g.mcp.Close()
		}
		return nil, err
	}

	g.logger.Info("gateway ready",
		zap.String("provider", g.adapter.Name()),
		zap.String("model", cfg.Model),
		zap.String("tool_call_format", string(caps.ToolCallFormat)),
		zap.Int("tools", g.registry.Len()),
		zap.Strings("middlewares", g.Info().Middlewares),
	)
	return g, nil
}

// Service returns the orchestrator bound to one conversation.
func (g *Gateway) Service(sessionID string) *chat.Service {
	if sessionID == "" {
		sessionID = DefaultSession
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.services[sessionID]; ok {
		return s
	}

	opts := []chat.ServiceOption{
		chat.WithCapabilities(g.caps),
		chat.WithHistory(g.store.Session(sessionID)),
		chat.WithListener(logging.NewListener(g.logger.Named("turn"))),
		chat.WithUsageSink(g.usage),
		chat.WithMaxIterations(g.cfg.MaxToolIterations),
		chat.WithLogger(g.logger.Named("chat").With(zap.String("session_id", sessionID))),
		chat.WithSystemPrompt(g.cfg.SystemPrompt),
		chat.WithParams(model.Params{
			Model:       g.cfg.Model,
			Temperature: g.cfg.Temperature,
			MaxTokens:   g.cfg.MaxTokens,
		}),
		chat.WithEstimator(g.estimator),
	}
	if g.registry.Len() > 0 {
		opts = append(opts, chat.WithTools(g.executor))
	}
	if g.chain != nil {
		opts = append(opts, chat.WithMiddlewareChain(g.chain))
	}
	s := chat.NewService(g.adapter, opts...)
	g.services[sessionID] = s
	return s
}

// Turn runs one turn in a session under the configured turn timeout.
func (g *Gateway) Turn(ctx context.Context, sessionID string, in chat.Input) (*chat.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.TurnTimeout)
	defer cancel()
	return g.Service(sessionID).Run(ctx, in)
}

func (g *Gateway) Clear(ctx context.Context, sessionID string) error {
	return g.Service(sessionID).Clear(ctx)
}

func (g *Gateway) Sessions(ctx context.Context) ([]string, error) {
	return g.store.Sessions(ctx)
}

// Usage returns the token totals of every finished turn.
func (g *Gateway) Usage() (model.Usage, int64) {
	return g.usage.Snapshot()
}

type Info struct {
	Provider      string             `json:"provider"`
	Model         string             `json:"model"`
	BaseURL       string             `json:"base_url,omitempty"`
	Capabilities  model.Capabilities `json:"capabilities"`
	Tools         []string           `json:"tools"`
	Middlewares   []string           `json:"middlewares"`
	HistoryDriver string             `json:"history_driver"`
	Version       string             `json:"version"`
	Uptime        string             `json:"uptime"`
}

func (g *Gateway) Info() Info {
	info := Info{
		Provider:      g.adapter.Name(),
		Model:         g.cfg.Model,
		BaseURL:       g.cfg.BaseURL,
		Capabilities:  g.caps,
		Tools:         []string{},
		Middlewares:   []string{},
		HistoryDriver: g.cfg.History.Driver,
		Version:       Version,
		Uptime:        time.Since(g.started).Round(time.Second).String(),
	}
	for _, s := range g.registry.List() {
		info.Tools = append(info.Tools, s.Name())
	}
	sort.Strings(info.Tools)
	if g.chain != nil {
		for _, m := range g.chain.List() {
			info.Middlewares = append(info.Middlewares, m.ID())
		}
	}
	return info
}

func (g *Gateway) Close() error {
	var errs []error
	if g.mcp != nil {
		errs = append(errs, g.mcp.Close())
	}
	errs = append(errs, g.store.Close())
	_ = g.logger.Sync()
	return errors.Join(errs...)
}
