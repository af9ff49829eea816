package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jpavez/tender-scout/internal/ai"
	"github.com/jpavez/tender-scout/internal/ai/gemini"
	"github.com/jpavez/tender-scout/internal/logger"
	"github.com/jpavez/tender-scout/internal/mercado"
	"github.com/jpavez/tender-scout/internal/pipeline"
	"github.com/jpavez/tender-scout/internal/rules"
	"github.com/jpavez/tender-scout/internal/secrets"
	"github.com/jpavez/tender-scout/internal/store"
)

// runtime bundles everything a subcommand needs after bootstrap.
type runtime struct {
	ctx     context.Context
	logger  *zap.Logger
	config  *Config
	store   *store.Store
	source  *mercado.Client
	clients []*rules.RuleSet
	pipe    *pipeline.Pipeline
}

func (r *runtime) close() {
	if r.store != nil {
		r.store.Close()
	}
}

// bootstrap loads config, opens state and builds the pipeline shared by
// all subcommands.
func bootstrap(ctx context.Context, pipeCfg *pipeline.Config) (*runtime, error) {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		return nil, fmt.Errorf("creating a logger: %w", err)
	}

	config, err := getConfig()
	if err != nil {
		return nil, fmt.Errorf("getting a config: %w", err)
	}
	if config == nil {
		return nil, errors.New("config is required")
	}

	clients, err := rules.LoadDir(config.ClientsDir, logger)
	if err != nil {
		return nil, fmt.Errorf("loading client rules: %w", err)
	}

	source, err := buildSource(ctx, config, logger)
	if err != nil {
		return nil, err
	}

	dbPath := config.Database
	if dbPath == "" {
		dbPath = filepath.Join(config.DataDir, "tender-scout.db")
	}

	st, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}

	if pipeCfg == nil {
		pipeCfg = &pipeline.Config{}
	}
	pipeCfg.DataDir = config.DataDir
	if pipeCfg.MaxDaysBack == 0 {
		pipeCfg.MaxDaysBack = config.MaxDaysBack
	}
	if config.AI != nil && pipeCfg.OracleWorkers == 0 {
		pipeCfg.OracleWorkers = config.AI.Workers
	}

	return &runtime{
		ctx:     ctx,
		logger:  logger,
		config:  config,
		store:   st,
		source:  source,
		clients: clients,
		pipe:    pipeline.New(logger, st, source, pipeCfg),
	}, nil
}

func buildSource(ctx context.Context, config *Config, logger *zap.Logger) (*mercado.Client, error) {
	if config.Source == nil {
		return nil, errors.New("source configuration is required")
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name: "source api key",
		File: config.Source.APIKeyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set source.api-key-file or SOURCE_API_KEY_FILE)", err)
	}

	// The status ticket is only needed by revalidation; its absence is
	// not fatal for sync and run.
	ticket := ""
	if config.Source.StatusTicketFile != "" {
		ticket, err = secrets.Load(secrets.Source{
			Name: "status ticket",
			File: config.Source.StatusTicketFile,
		})
		if err != nil {
			return nil, err
		}
	}

	source := mercado.New(ctx, logger, apiKey, ticket)
	if config.Source.URL != "" {
		source.APIURL = config.Source.URL
	}
	if config.Source.StatusURL != "" {
		source.StatusURL = config.Source.StatusURL
	}

	return source, nil
}

// classifierFactory builds one shared Gemini generator and hands out a
// per-client classifier, optionally backed by a cached profile resource.
// A disabled or unconfigured oracle yields a nil factory.
func classifierFactory(ctx context.Context, cfg *AIConfig, baseLogger *zap.Logger) (func(*rules.RuleSet) ai.Classifier, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	if cfg.Gemini == nil {
		return nil, errors.New("gemini configuration is required when the oracle is enabled")
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name: "gemini api key",
		File: cfg.Gemini.APIKeyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY_FILE)", err)
	}

	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model)
	if err != nil {
		return nil, err
	}

	return func(rs *rules.RuleSet) ai.Classifier {
		clsLogger := logger.WithOracleFields(baseLogger, "gemini", generator.Model(), rs.Client)

		classifier := gemini.NewClassifier(generator, clsLogger, cfg.Gemini.MaxLogLength)

		if cfg.Gemini.UseProfileCache && strings.TrimSpace(rs.Profile) != "" {
			name, err := generator.EnsureProfileCache(ctx, rs.Client, rs.Profile)
			if err != nil {
				clsLogger.Warn("profile cache unavailable, sending profile inline", zap.Error(err))
			} else {
				classifier.UseProfileCache(name)
			}
		}

		return classifier
	}, nil
}
