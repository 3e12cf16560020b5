// Package main is the pricematch CLI entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/costwise/pricematch/internal/catalog"
	"github.com/costwise/pricematch/internal/cli"
	"github.com/costwise/pricematch/internal/config"
	"github.com/costwise/pricematch/internal/embedding"
	"github.com/costwise/pricematch/internal/export"
	"github.com/costwise/pricematch/internal/job"
	"github.com/costwise/pricematch/internal/match"
	"github.com/costwise/pricematch/internal/models"
	"github.com/costwise/pricematch/internal/parse"
	"github.com/costwise/pricematch/internal/server"
	"github.com/costwise/pricematch/internal/storage"
	"github.com/costwise/pricematch/internal/watcher"
	"github.com/costwise/pricematch/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/pricematch/config.yaml"

// loadConfig loads config from path. When path is the default, it first
// looks for config.yaml in the current directory (for development); if that
// exists it is used. Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// Provider API keys may live in a .env file during development.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "server":
		runServer()
	case "match":
		runMatch()
	case "seed":
		runSeed()
	case "export":
		runExport()
	case "jobs":
		runJobs()
	case "version", "--version", "-v":
		fmt.Printf("pricematch version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`pricematch - BoQ price matching service

Usage:
  pricematch server  [flags]              Run the HTTP API server
  pricematch match   [flags] <boq-file>   Match one BoQ file offline
  pricematch seed    [flags] <price-list> Load a reference price list
  pricematch export  [flags] <job-id>     Export a completed job's results
  pricematch jobs    [flags]              List matching jobs
  pricematch version                      Print version

Run "pricematch <command> -h" for command flags.
`)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// newStorage opens the backend selected by cfg.
func newStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	switch cfg.Storage.Driver {
	case "mongo":
		return storage.NewMongoStorage(ctx, cfg.Storage.MongoURI, cfg.Storage.MongoDatabase)
	default:
		return storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	}
}

func embedderFactory(cfg *config.Config, logger *zap.Logger) job.EmbedderFactory {
	settings := embedding.Settings{
		BatchSize:      cfg.Embedding.BatchSize,
		MaxAttempts:    cfg.Embedding.MaxAttempts,
		RequestTimeout: cfg.Embedding.RequestTimeoutSeconds,
		RateLimit:      cfg.Embedding.RateLimit,
		Burst:          cfg.Embedding.Burst,
		CacheSize:      cfg.Embedding.CacheSize,
	}
	factory := embedding.NewFactory(settings, logger)
	return factory.Get
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fatal("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fatal("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := newStorage(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open storage", zap.Error(err))
	}
	defer store.Close()

	cat, err := catalog.NewIndex(cfg.Storage.CatalogIndexPath)
	if err != nil {
		logger.Fatal("Failed to open catalog index", zap.Error(err))
	}
	defer cat.Close()
	if entries, err := store.LoadPriceList(ctx); err != nil {
		logger.Warn("catalog warm load failed", zap.Error(err))
	} else if err := cat.Rebuild(ctx, entries); err != nil {
		logger.Warn("catalog rebuild failed", zap.Error(err))
	} else {
		logger.Info("catalog indexed", zap.Int("entries", len(entries)))
	}

	processor := job.NewProcessor(store, embedderFactory(cfg, logger), job.Config{
		MaxConcurrent:  cfg.Batch.MaxConcurrent,
		QueueSize:      cfg.Batch.QueueSize,
		JobTimeout:     time.Duration(cfg.Batch.JobTimeoutMinutes) * time.Minute,
		SemanticWeight: cfg.Matching.SemanticWeight,
		LexicalWeight:  cfg.Matching.LexicalWeight,
	}, job.WithLogger(logger))
	if err := processor.Start(ctx); err != nil {
		logger.Fatal("Failed to start processor", zap.Error(err))
	}
	defer processor.Stop()

	if cfg.Inbox.Directory != "" {
		inbox := watcher.NewInbox(
			cfg.Inbox.Directory,
			models.Model(cfg.Inbox.Model),
			cfg.Inbox.Extensions,
			processor,
			watcher.WithLogger(logger),
		)
		if err := inbox.Start(ctx); err != nil {
			logger.Fatal("Failed to start inbox watcher", zap.Error(err))
		}
		defer inbox.Stop()
	}

	srv := server.NewServer(processor, store, cat, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

func runMatch() {
	fs := flag.NewFlagSet("match", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	model := fs.String("model", "", "embedding model: cohere, openai, or gemini (default from config)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	outFile := fs.String("out", "", "also write results to this file (.csv or .xlsx)")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fatal("Usage: pricematch match [flags] <boq-file>")
	}
	boqPath := fs.Arg(0)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fatal("Failed to load config: %v", err)
	}
	if *model == "" {
		*model = cfg.Embedding.DefaultModel
	}

	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fatal("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	items, err := parse.BoQFile(boqPath)
	if err != nil {
		fatal("Failed to parse %s: %v", boqPath, err)
	}
	if len(items) == 0 {
		fatal("No inquiry items found in %s", boqPath)
	}

	store, err := newStorage(ctx, cfg)
	if err != nil {
		fatal("Failed to open storage: %v", err)
	}
	defer store.Close()
	entries, err := store.LoadPriceList(ctx)
	if err != nil {
		fatal("Failed to load price list: %v", err)
	}
	if len(entries) == 0 {
		fatal("No reference price data loaded; run \"pricematch seed\" first")
	}

	embedder, err := embedderFactory(cfg, logger)(models.Model(*model))
	if err != nil {
		fatal("Failed to create embedder: %v", err)
	}
	defer embedder.Close()

	matcher := match.NewMatcher(embedder,
		match.WithLogger(logger),
		match.WithWeights(cfg.Matching.SemanticWeight, cfg.Matching.LexicalWeight))
	results, err := matcher.Match(ctx, items, entries, func(percent int, message string) {
		fmt.Fprintf(os.Stderr, "\r%3d%% %-60s", percent, message)
	})
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fatal("Matching failed: %v", err)
	}

	format := cli.OutputText
	if *outputFormat == "json" {
		format = cli.OutputJSON
	}
	if err := cli.WriteMatchResults(os.Stdout, results, format); err != nil {
		fatal("Output failed: %v", err)
	}
	if *outFile != "" {
		if err := writeResultsFile(*outFile, results); err != nil {
			fatal("Failed to write %s: %v", *outFile, err)
		}
		fmt.Fprintf(os.Stderr, "Wrote %s\n", *outFile)
	}
}

func writeResultsFile(path string, results []models.MatchedItem) error {
	var (
		data []byte
		err  error
	)
	switch filepath.Ext(path) {
	case ".csv":
		data, err = export.CSV(results)
	case ".xlsx":
		data, err = export.XLSX(results)
	default:
		return fmt.Errorf("unsupported output extension %s (use .csv or .xlsx)", filepath.Ext(path))
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func runSeed() {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fatal("Usage: pricematch seed [flags] <price-list-file>")
	}
	listPath := fs.Arg(0)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fatal("Failed to load config: %v", err)
	}

	entries, err := parse.PriceListFile(listPath)
	if err != nil {
		fatal("Failed to parse %s: %v", listPath, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := newStorage(ctx, cfg)
	if err != nil {
		fatal("Failed to open storage: %v", err)
	}
	defer store.Close()

	if err := store.ReplacePriceList(ctx, entries); err != nil {
		fatal("Failed to save price list: %v", err)
	}
	fmt.Printf("Loaded %d price list entries from %s\n", len(entries), listPath)
}

func runExport() {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	format := fs.String("format", "xlsx", "export format: csv or xlsx")
	outFile := fs.String("out", "", "output file (default <job-id>.<format>)")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fatal("Usage: pricematch export [flags] <job-id>")
	}
	jobID := fs.Arg(0)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fatal("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := newStorage(ctx, cfg)
	if err != nil {
		fatal("Failed to open storage: %v", err)
	}
	defer store.Close()

	j, err := store.GetMatchingJob(ctx, jobID)
	if err != nil {
		fatal("Job %s: %v", jobID, err)
	}
	if j.Status != models.StatusCompleted {
		fatal("Job %s is %s; only completed jobs can be exported", jobID, j.Status)
	}

	path := *outFile
	if path == "" {
		path = jobID + "." + *format
	}
	if err := writeResultsFile(path, j.Results); err != nil {
		fatal("Failed to write %s: %v", path, err)
	}
	fmt.Printf("Wrote %d matched items to %s\n", len(j.Results), path)
}

func runJobs() {
	fs := flag.NewFlagSet("jobs", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fatal("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := newStorage(ctx, cfg)
	if err != nil {
		fatal("Failed to open storage: %v", err)
	}
	defer store.Close()

	jobs, err := store.ListMatchingJobs(ctx)
	if err != nil {
		fatal("Failed to list jobs: %v", err)
	}
	out := make([]models.MatchingJob, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, *j)
	}
	cli.WriteJobSummary(os.Stdout, out)
}
