package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aevon-lab/project-lattice/internal/core/config"
	coreerr "github.com/aevon-lab/project-lattice/internal/core/errors"
	"github.com/aevon-lab/project-lattice/internal/core/storage"
	"github.com/aevon-lab/project-lattice/internal/core/storage/badger"
	"github.com/aevon-lab/project-lattice/internal/core/storage/memory"
	"github.com/aevon-lab/project-lattice/internal/core/storage/postgres"
	"github.com/aevon-lab/project-lattice/internal/graph"
	"github.com/aevon-lab/project-lattice/internal/migrations"
	"github.com/aevon-lab/project-lattice/internal/operation"
	"github.com/aevon-lab/project-lattice/internal/schema"
	"github.com/aevon-lab/project-lattice/internal/schema/formats/yaml"
	schemaStorage "github.com/aevon-lab/project-lattice/internal/schema/storage"
	"github.com/aevon-lab/project-lattice/internal/server"
)

var (
	configPath  string
	chainPath   string
	principalID string
	auths       []string
)

func main() {
	root := &cobra.Command{
		Use:           "lattice",
		Short:         "Run operation chains against a property graph",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "lattice.yaml", "Path to configuration file")
	root.PersistentFlags().StringVar(&chainPath, "chain", "-", "Path to the operation chain document, - for stdin")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a chain and print one JSON document per result item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), storage.Principal{ID: principalID, Authorizations: auths})
		},
	}
	runCmd.Flags().StringVar(&principalID, "principal", "", "Principal id passed to the store")
	runCmd.Flags().StringSliceVar(&auths, "auths", nil, "Authorizations of the principal")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a chain against the schema without executing it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return validate(cmd)
		},
	}
	root.AddCommand(runCmd, validateCmd)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("Command failed", "error", err)
		var ce *coreerr.ChainError
		if errors.As(err, &ce) && ce.Phase() == coreerr.PhaseCompile {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// setup loads the configuration, schema and chain shared by every command.
func setup(ctx context.Context) (*config.Config, *schema.Schema, *operation.Chain, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	slog.SetDefault(newLogger(cfg.Log))
	slog.Info("Loaded config", "store", cfg.Store.Type, "schema", cfg.Schema.Name, "mode", cfg.Execution.AggregationMode)

	formats := schema.NewFormatRegistry()
	yaml.Register(formats)
	registry := schema.NewRegistry(schemaStorage.NewFileSystemRepository(cfg.Schema.Path), formats)
	defer registry.Close()
	s, err := registry.Load(ctx, cfg.Schema.Name)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load schema: %w", err)
	}

	doc, err := readChain(chainPath)
	if err != nil {
		return nil, nil, nil, err
	}
	chain, err := operation.ParseChain(doc)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, s, chain, nil
}

func graphOptions(cfg config.ExecutionConfig) []graph.Option {
	return []graph.Option{
		graph.WithMode(cfg.Mode()),
		graph.WithFailFast(cfg.FailFast),
		graph.WithMaxOperations(cfg.MaxOperations),
	}
}

func validate(cmd *cobra.Command) error {
	cfg, s, chain, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	// Compiling needs no store; the memory backend only supplies a locality.
	g := graph.New(s, memory.NewBackend(), graphOptions(cfg.Execution)...)
	if err := g.Compile(chain); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "chain ok: %d operations, output %s\n", chain.Len(), chain.OutputType())
	return nil
}

func run(ctx context.Context, principal storage.Principal) error {
	// 1. Configuration, schema and chain
	cfg, s, chain, err := setup(ctx)
	if err != nil {
		return err
	}

	// 2. Storage
	backend, closeBackend, err := openBackend(cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeBackend(); err != nil {
			slog.Warn("Failed to close store", "error", err)
		}
	}()

	// 3. Ops listener
	if cfg.Metrics.Enabled {
		checker, _ := backend.(server.HealthChecker)
		srv := server.New(cfg.Metrics.Addr, checker, cfg.Metrics.Mode)
		go func() {
			if err := srv.Run(ctx); err != nil {
				slog.Error("Ops listener stopped", "error", err)
			}
		}()
	}

	// 4. Execute
	result, err := graph.New(s, backend, graphOptions(cfg.Execution)...).Execute(ctx, chain, principal)
	if err != nil {
		return err
	}
	return write(os.Stdout, result)
}

// write prints one JSON document per result item.
func write(w io.Writer, result *graph.Result) error {
	defer result.Close()

	enc := json.NewEncoder(w)
	n := 0
	for result.Next() {
		if err := enc.Encode(operation.Encode(result.Item())); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
		n++
	}
	if err := result.Err(); err != nil {
		return err
	}
	slog.Info("Chain results written", "execution_id", result.ID, "items", n, "dropped", len(result.Diagnostics()))
	return result.Close()
}

func openBackend(cfg config.StoreConfig) (storage.Backend, func() error, error) {
	switch cfg.Type {
	case "postgres":
		db, err := postgres.Open(cfg.Postgres.DSN, cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns)
		if err != nil {
			return nil, nil, err
		}
		if err := migrations.RunMigrations(db, cfg.Postgres.AutoMigrate); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
		adapter, err := postgres.NewAdapter(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return adapter, adapter.Close, nil
	case "badger":
		b, err := badger.Open(badger.Config{
			Path:       cfg.Badger.Path,
			InMemory:   cfg.Badger.InMemory,
			SyncWrites: cfg.Badger.SyncWrites,
			Logger:     slog.Default(),
		})
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	}
	return memory.NewBackend(), func() error { return nil }, nil
}

func readChain(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain: %w", err)
	}
	return data, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	// Results go to stdout, logs to stderr.
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
