// Package main provides the FiberDB CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fiberdb/fiberdb/internal/config"
	"github.com/fiberdb/fiberdb/internal/fiberdb"
	"github.com/fiberdb/fiberdb/internal/migrate"
	"github.com/fiberdb/fiberdb/server"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fiberdb",
		Short: "FiberDB - an embeddable hybrid document/graph database",
		Long: `FiberDB is an embeddable hybrid document/graph database written in Go:
write-ahead-logged entity storage, LRU/TTL caching, hash/range/text
indexing, a query engine, and graph traversal, all behind a single
process-local handle.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fiberdb v%s (%s)\n", version, commit)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the FiberDB HTTP server",
		RunE:  runServe,
	}
	serveCmd.Flags().String("data-dir", "./data", "Data directory")
	serveCmd.Flags().String("addr", ":8080", "HTTP listen address")
	serveCmd.Flags().String("config", "", "Optional YAML config overlay path")
	rootCmd.AddCommand(serveCmd)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new FiberDB data directory",
		RunE:  runInit,
	}
	initCmd.Flags().String("data-dir", "./data", "Data directory")
	rootCmd.AddCommand(initCmd)

	compactCmd := &cobra.Command{
		Use:   "compact",
		Short: "Force a WAL compaction",
		RunE:  runCompact,
	}
	compactCmd.Flags().String("data-dir", "./data", "Data directory")
	compactCmd.Flags().String("config", "", "Optional YAML config overlay path")
	rootCmd.AddCommand(compactCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate [legacy-root]",
		Short: "Migrate a legacy anchors/attached export into FiberDB",
		Args:  cobra.ExactArgs(1),
		RunE:  runMigrate,
	}
	migrateCmd.Flags().String("data-dir", "./data", "Data directory")
	migrateCmd.Flags().String("config", "", "Optional YAML config overlay path")
	rootCmd.AddCommand(migrateCmd)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print entity, edge, and cache statistics",
		RunE:  runStats,
	}
	statsCmd.Flags().String("data-dir", "./data", "Data directory")
	statsCmd.Flags().String("config", "", "Optional YAML config overlay path")
	rootCmd.AddCommand(statsCmd)

	graphCmd := &cobra.Command{
		Use:   "graph",
		Short: "Graph maintenance operations",
	}
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove edges pointing at entities that no longer exist",
		RunE:  runGraphSweep,
	}
	sweepCmd.Flags().String("data-dir", "./data", "Data directory")
	sweepCmd.Flags().String("config", "", "Optional YAML config overlay path")
	graphCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(graphCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	yamlPath, _ := cmd.Flags().GetString("config")

	if dataDir != "" {
		os.Setenv("FIBERDB_DATA_PATH", dataDir)
	}
	cfg, err := config.LoadFromEnv(yamlPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	fmt.Printf("Starting FiberDB v%s\n", version)
	fmt.Printf("  Data directory: %s\n", cfg.Storage.DataPath)
	fmt.Printf("  Storage engine: %s\n", cfg.Storage.Engine)
	fmt.Printf("  HTTP address:   %s\n", addr)

	db, err := fiberdb.Open(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	srv := server.New(db, &server.Config{Addr: addr})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-sigCh:
		fmt.Println("\nShutting down...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		return fmt.Errorf("stopping server: %w", err)
	}
	fmt.Println("Server stopped gracefully")
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	fmt.Printf("Initializing FiberDB data directory at %s\n", dataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dataDir, err)
	}

	cfg := &config.Config{
		Storage: config.StorageConfig{
			Engine:              config.EngineFile,
			DataPath:            dataDir,
			WALEnabled:          true,
			CompactionThreshold: 1000,
		},
		Cache:   config.CacheConfig{Size: 10000},
		Index:   config.IndexConfig{Enabled: true},
		Metrics: config.MetricsConfig{Enabled: true},
		Query:   config.QueryConfig{Timeout: 30 * time.Second, MaxConcurrentQueries: 100},
	}
	db, err := fiberdb.Open(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}

	fmt.Println("Database initialized successfully")
	fmt.Printf("  Next: fiberdb serve --data-dir %s\n", dataDir)
	return nil
}

func runCompact(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	db, err := fiberdb.Open(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.Compact(); err != nil {
		return fmt.Errorf("compacting: %w", err)
	}

	stats := db.Stats()
	fmt.Printf("Compaction forced: %d entities, %d edges, %d bytes on disk\n",
		stats.TotalEntities, stats.TotalEdges, stats.StorageSize)
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	legacyRoot := args[0]
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	db, err := fiberdb.Open(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	fmt.Printf("Migrating legacy export from %s\n", legacyRoot)
	result, err := migrate.Run(db, legacyRoot)
	if err != nil {
		return fmt.Errorf("migrating: %w", err)
	}

	fmt.Printf("Entities written: %d\n", result.EntitiesWritten)
	fmt.Printf("Edges inferred:   %d\n", result.EdgesInferred)
	if len(result.Skipped) > 0 {
		fmt.Printf("Skipped (%d): %v\n", len(result.Skipped), result.Skipped)
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	db, err := fiberdb.Open(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	s := db.Stats()
	fmt.Println("FiberDB statistics:")
	fmt.Printf("  Entities:      %d\n", s.TotalEntities)
	fmt.Printf("  Edges:         %d\n", s.TotalEdges)
	fmt.Printf("  Storage bytes: %d\n", s.StorageSize)
	fmt.Printf("  Cache hit rate: %.2f%%\n", s.CacheHitRate*100)
	fmt.Printf("  Avg query time: %s\n", s.AvgQueryTime)

	for _, named := range db.Caches().NamedStats() {
		fmt.Printf("  %-20s size=%d/%d hits=%d misses=%d hitRate=%.2f\n",
			named.Name, named.Size, named.MaxSize, named.Hits, named.Misses, named.HitRate)
	}
	return nil
}

func runGraphSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	db, err := fiberdb.Open(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	removed, err := db.SweepDanglingEdges()
	if err != nil {
		return fmt.Errorf("sweeping: %w", err)
	}
	fmt.Printf("Removed %d dangling edge(s)\n", removed)
	return nil
}
