package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
	"github.com/urfave/cli/v3"

	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/agent"
	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/buildinfo"
	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/checkpoint"
	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/compaction"
	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/config"
	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/llm"
	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/points"
	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/prompts"
	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/tasks"
	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/tools"
	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/usage"
)

// clientFactory builds the model client. Tests replace it.
var clientFactory = createLLMClient

// app holds everything a command needs. Stores share one database.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	db          *sql.DB
	checkpoints *checkpoint.SQLiteStore
	tasks       *tasks.Store
	points      *points.Store
	usage       *usage.Store

	// engine is nil for commands that only touch storage.
	engine *agent.Engine
}

// loadConfig locates and parses the YAML configuration, then applies
// flag and environment overrides. A missing config file is not an error
// unless one was named explicitly; defaults apply instead.
func loadConfig(cmd *cli.Command) (*config.Config, string, error) {
	explicit := cmd.String("config")
	cfgPath, err := config.FindConfig(explicit)

	var cfg *config.Config
	switch {
	case err == nil:
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
		}
	case explicit != "":
		return nil, "", err
	default:
		cfgPath = ""
		cfg = config.Default()
	}

	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, cfgPath, nil
}

func applyFlags(cmd *cli.Command, cfg *config.Config) {
	setString := func(name string, dst *string) {
		if cmd.IsSet(name) {
			*dst = cmd.String(name)
		}
	}
	if cmd.IsSet("provider") {
		cfg.Provider = cmd.String("provider")
		// An endpoint from the file belongs to the old provider.
		if !cmd.IsSet("endpoint") {
			cfg.Endpoint = ""
		}
	}
	setString("endpoint", &cfg.Endpoint)
	setString("api-key", &cfg.APIKey)
	setString("model", &cfg.Model)
	setString("data-dir", &cfg.DataDir)
	setString("owner", &cfg.OwnerID)
	setString("timezone", &cfg.Timezone)
	setString("log-level", &cfg.LogLevel)
	setString("log-format", &cfg.LogFormat)

	if cmd.IsSet("temperature") {
		t := cmd.Float("temperature")
		cfg.Temperature = &t
	}
	if cmd.IsSet("max-tokens") {
		cfg.MaxTokens = cmd.Int("max-tokens")
	}
	if cmd.IsSet("timeout") {
		cfg.Timeout = cmd.Duration("timeout")
	}
	if cmd.IsSet("max-iterations") {
		cfg.MaxIterations = cmd.Int("max-iterations")
	}

	// Re-run defaults for anything the overrides cleared.
	if cfg.Endpoint == "" && cfg.Provider == config.ProviderOllama {
		cfg.Endpoint = config.Default().Endpoint
	}
}

// openApp loads config, opens the database and builds the stores. With
// withEngine it also builds the model client and the engine.
func openApp(ctx context.Context, cmd *cli.Command, s *streams, withEngine bool) (*app, error) {
	cfg, cfgPath, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := config.NewLogger(s.err, level, cfg.LogFormat)
	logger.Debug("starting", "build", buildinfo.String(), "config", cfgPath)

	db, err := openDatabase(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, db: db}

	if err := a.openStores(); err != nil {
		a.Close()
		return nil, err
	}
	if withEngine {
		if err := a.buildEngine(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// openDatabase opens the SQLite file, creating its directory.
func openDatabase(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	dsn := "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return db, nil
}

func (a *app) openStores() error {
	var err error
	if a.checkpoints, err = checkpoint.NewSQLiteStore(a.db, a.logger); err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	if a.tasks, err = tasks.NewStore(a.db, a.logger); err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	if a.points, err = points.NewStore(a.db, a.logger); err != nil {
		return fmt.Errorf("open points store: %w", err)
	}
	if a.usage, err = usage.NewStore(a.db, a.logger); err != nil {
		return fmt.Errorf("open usage store: %w", err)
	}
	return nil
}

func (a *app) buildEngine(ctx context.Context) error {
	cfg := a.cfg
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	client, err := clientFactory(ctx, cfg, a.logger)
	if err != nil {
		return err
	}

	registry := tools.NewRegistry(a.logger)
	if err := tools.RegisterTaskTools(registry, a.tasks); err != nil {
		return fmt.Errorf("register task tools: %w", err)
	}
	if err := tools.RegisterPointsTools(registry, a.points); err != nil {
		return fmt.Errorf("register points tools: %w", err)
	}
	if err := tools.RegisterUtilityTools(registry, loc); err != nil {
		return fmt.Errorf("register utility tools: %w", err)
	}
	dispatcher := tools.NewDispatcher(registry, tools.DispatchConfig{
		Timeout:     cfg.Tools.Timeout,
		Parallelism: cfg.Tools.Parallelism,
	}, a.logger)

	var summarizer compaction.Summarizer = compaction.SimpleSummarizer{}
	if cfg.Compaction.Summarizer == config.SummarizerLLM {
		summarizer = compaction.NewLLMSummarizer(compaction.ClientFunc(client, cfg.Model))
	}
	compactor := compaction.NewCompactor(compaction.Config{
		MaxTokens:       cfg.Compaction.MaxTokens,
		TriggerRatio:    cfg.Compaction.TriggerRatio,
		ReserveTokens:   cfg.Compaction.ReserveTokens,
		KeepRecentTurns: cfg.Compaction.KeepRecentTurns,
	}, compaction.NewCharEstimator(), summarizer, a.logger)

	gateway := agent.NewGateway(client, agent.GatewayConfig{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
	}, func(now time.Time) string {
		return prompts.SystemPrompt(now, loc)
	}, compactor, a.logger)

	a.engine = agent.NewEngine(gateway, dispatcher, compactor, a.checkpoints, agent.Config{
		MaxIterations:  cfg.MaxIterations,
		DefaultOwnerID: cfg.OwnerID,
	}, a.logger)

	a.logger.Debug("engine ready",
		"provider", cfg.Provider,
		"model", cfg.Model,
		"tools", len(dispatcher.Definitions()),
	)
	return nil
}

// recordUsage stores the token usage of a finished turn. Failures are
// logged; they never fail the turn.
func (a *app) recordUsage(ctx context.Context, threadID string, res *agent.Result) {
	model := a.cfg.Model
	rec := usage.Record{
		ThreadID:     threadID,
		OwnerID:      a.cfg.OwnerID,
		Model:        model,
		Provider:     a.cfg.ProviderFor(model),
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		Iterations:   res.Iterations,
		Degraded:     res.Degraded,
		CostUSD:      usage.ComputeCost(model, res.InputTokens, res.OutputTokens, a.cfg.Pricing),
	}
	if err := a.usage.Record(ctx, rec); err != nil {
		a.logger.Warn("recording usage failed", "thread", threadID, "error", err)
	}
}

func (a *app) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// createLLMClient builds a multi-provider client. The primary provider
// serves every model not claimed by a route.
func createLLMClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	primary, err := newProviderClient(ctx, cfg.Provider, cfg.Endpoint, cfg.APIKey, logger)
	if err != nil {
		return nil, err
	}
	multi := llm.NewMultiClient(primary)

	for i, r := range cfg.Routes {
		name := fmt.Sprintf("%s#%d", r.Provider, i)
		client, err := newProviderClient(ctx, r.Provider, r.Endpoint, r.APIKey, logger)
		if err != nil {
			return nil, fmt.Errorf("route %d: %w", i, err)
		}
		multi.AddProvider(name, client)
		for _, m := range r.Models {
			multi.AddModel(m, name)
		}
		logger.Debug("model route configured", "provider", r.Provider, "models", r.Models)
	}

	logger.Debug("LLM client initialized", "default_model", cfg.Model, "default_provider", cfg.Provider)
	return multi, nil
}

func newProviderClient(ctx context.Context, provider, endpoint, apiKey string, logger *slog.Logger) (llm.Client, error) {
	switch provider {
	case config.ProviderOllama:
		c, err := llm.NewOllamaClient(endpoint, logger)
		if err != nil {
			return nil, fmt.Errorf("ollama client: %w", err)
		}
		return c, nil
	case config.ProviderAnthropic:
		return llm.NewAnthropicClient(endpoint, apiKey, logger), nil
	case config.ProviderOpenAI:
		return llm.NewOpenAIClient(endpoint, apiKey, logger), nil
	case config.ProviderGemini:
		c, err := llm.NewGeminiClient(ctx, endpoint, apiKey, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, errors.New("unknown provider " + provider)
	}
}
