package commands

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/veridoc-ai/remediation-engine/internal/autofix"
	"github.com/veridoc-ai/remediation-engine/internal/cache"
	"github.com/veridoc-ai/remediation-engine/internal/config"
	"github.com/veridoc-ai/remediation-engine/internal/credit"
	"github.com/veridoc-ai/remediation-engine/internal/observability"
	"github.com/veridoc-ai/remediation-engine/internal/pipeline"
	"github.com/veridoc-ai/remediation-engine/internal/scan"
	"github.com/veridoc-ai/remediation-engine/internal/suggest"
	"github.com/veridoc-ai/remediation-engine/internal/tagging"
	"github.com/veridoc-ai/remediation-engine/internal/validate"
)

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

func newLogger(cfg *config.Config) *observability.Logger {
	level := cfg.Observability.LogLevel
	if verbose {
		level = "debug"
	}
	return observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      cfg.Observability.LogFormat,
		ServiceName: "remediation-engine",
	})
}

// openLedger opens the configured credit ledger store and ensures its schema.
func openLedger(cfg *config.Config) (*sql.DB, *credit.Store, error) {
	driver := "sqlite3"
	if cfg.Ledger.Driver == "postgres" {
		driver = "postgres"
	}
	db, err := sql.Open(driver, cfg.LedgerDSN())
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger database: %w", err)
	}
	if cfg.Ledger.Driver == "postgres" && cfg.Ledger.Postgres.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Ledger.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Ledger.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Ledger.Postgres.ConnMaxLifetime)
	}
	store := credit.NewStore(db)
	if err := store.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ensure ledger schema: %w", err)
	}
	return db, store, nil
}

func openCache(cfg *config.Config) (cache.Client, error) {
	if cfg.Cache.Driver != "redis" {
		return cache.NewMemoryClient(), nil
	}
	return cache.NewRedisClient(cache.RedisConfig{
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		PoolSize: cfg.Cache.Redis.PoolSize,
	})
}

// buildOrchestrator wires the full pipeline from configuration. The caller
// owns the returned close function.
func buildOrchestrator(cfg *config.Config, logger *observability.Logger) (*pipeline.Orchestrator, func(), error) {
	db, store, err := openLedger(cfg)
	if err != nil {
		return nil, nil, err
	}

	cacheClient, err := openCache(cfg)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("open suggestion cache: %w", err)
	}

	validator := validate.NewValidator(validate.Config{
		MaxFileSize: cfg.Validator.MaxFileSize,
		Thresholds: validate.Thresholds{
			MinCharsPerPage: cfg.Validator.MinCharsPerPage,
			LargeFileSize:   cfg.Validator.LargeFileSize,
			MaxBytesPerChar: cfg.Validator.MaxBytesPerChar,
		},
	}, logger)

	meter := credit.NewMeter(store, logger)

	tagger := tagging.NewClient(tagging.Config{
		BaseURL: cfg.Tagger.BaseURL,
		APIKey:  cfg.Tagger.APIKey,
		Timeout: cfg.Tagger.Timeout,
	}, logger)

	scanner := scan.NewClient(scan.Config{
		BaseURL: cfg.Scanner.BaseURL,
		APIKey:  cfg.Scanner.APIKey,
		Timeout: cfg.Scanner.Timeout,
		Ruleset: cfg.Scanner.Ruleset,
	}, logger)

	engine := autofix.NewEngine("en-US", logger)

	backend := suggest.NewHTTPBackend(
		cfg.Suggestions.BaseURL,
		cfg.Suggestions.APIKey,
		cfg.Suggestions.Model,
		cfg.Suggestions.Timeout,
		logger,
	)
	suggester := suggest.NewGenerator(backend, cacheClient, suggest.Config{
		MaxPerRun: cfg.Suggestions.MaxPerRun,
		Pacing:    cfg.Suggestions.Pacing,
		CacheTTL:  cfg.Cache.TTL,
	}, logger)

	orchestrator := pipeline.NewOrchestrator(
		validator, meter, tagger, scanner, engine, suggester,
		pipeline.NewMemoryRegistry(), logger,
	)

	closeAll := func() {
		cacheClient.Close()
		db.Close()
	}
	return orchestrator, closeAll, nil
}
