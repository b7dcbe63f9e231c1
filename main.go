package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/fabfab/ragchat/api"
	"github.com/fabfab/ragchat/config"
	"github.com/fabfab/ragchat/embeddings"
	"github.com/fabfab/ragchat/ingestion"
	"github.com/fabfab/ragchat/llm"
	"github.com/fabfab/ragchat/logger"
	"github.com/fabfab/ragchat/metrics"
	"github.com/fabfab/ragchat/rag"
	"github.com/fabfab/ragchat/results"
	"github.com/fabfab/ragchat/vectorstore"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "ingest":
		ingestCmd(os.Args[2:])
	case "chat":
		chatCmd(os.Args[2:])
	case "serve":
		serveCmd(os.Args[2:])
	case "clear":
		clearCmd(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func setup(configPath string) (*config.Config, *zap.Logger) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup: %v\n", err)
		os.Exit(1)
	}
	return cfg, log
}

// buildStore connects the configured vector store backend. The returned
// cleanup releases the underlying connections when there are any.
func buildStore(ctx context.Context, cfg *config.Config, embedder embeddings.Embedder, log *zap.Logger) (rag.VectorStore, func(), error) {
	switch cfg.Database.Driver {
	case config.DriverMemory:
		return vectorstore.NewMemory(embedder), func() {}, nil
	case config.DriverPostgres:
		pool, err := vectorstore.NewPostgresPool(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connection: %w", err)
		}
		store := vectorstore.NewPostgres(pool, embedder, cfg.Embeddings.Dimension, log)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver: %s", cfg.Database.Driver)
	}
}

func buildStack(ctx context.Context, cfg *config.Config, log *zap.Logger) (rag.VectorStore, llm.StreamClient, func(), error) {
	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("embedder setup: %w", err)
	}

	client, err := llm.NewClient(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("llm setup: %w", err)
	}

	store, closeStore, err := buildStore(ctx, cfg, embedder, log)
	if err != nil {
		return nil, nil, nil, err
	}
	return store, client, closeStore, nil
}

func pipelineConfig(cfg *config.Config) rag.Config {
	return rag.Config{
		ChunkSize:        cfg.Chat.ChunkSize,
		ChunkOverlap:     cfg.Chat.ChunkOverlap,
		TopK:             cfg.Chat.TopK,
		HistoryWindow:    cfg.Chat.HistoryWindow,
		RewriteQuestions: cfg.Chat.RewriteQuestions,
		Abbreviations:    cfg.Chat.Abbreviations,
	}
}

func ingestCmd(args []string) {
	flags := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := flags.String("config", "", "path to the configuration file")
	dir := flags.String("dir", "", "directory containing documents to ingest")
	watch := flags.Bool("watch", false, "keep watching the directory for changes after the initial ingest")
	if err := flags.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "parse ingest flags: %v\n", err)
		os.Exit(1)
	}

	cfg, log := setup(*configPath)
	defer log.Sync()

	if *dir == "" {
		*dir = cfg.DataDir
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, client, closeStore, err := buildStack(ctx, cfg, log)
	if err != nil {
		log.Fatal("setup failed", zap.Error(err))
	}
	defer closeStore()

	pipeline, err := rag.New(pipelineConfig(cfg), store, client, log)
	if err != nil {
		log.Fatal("pipeline setup failed", zap.Error(err))
	}

	svc := ingestion.NewService(pipeline, log)
	log.Info("ingesting documents",
		zap.String("dir", *dir),
		zap.String("provider", cfg.Embeddings.Provider),
		zap.String("model", cfg.Embeddings.Model))

	stats, err := svc.IngestDirectory(ctx, *dir)
	if err != nil {
		log.Fatal("ingestion failed", zap.Error(err))
	}
	log.Info("ingest finished", zap.Int("files", stats.Files), zap.Int("chunks", stats.Chunks))

	if *watch {
		log.Info("watching for changes", zap.String("dir", *dir))
		if err := svc.Watch(ctx, *dir); err != nil {
			log.Fatal("watcher failed", zap.Error(err))
		}
	}
}

func chatCmd(args []string) {
	flags := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := flags.String("config", "", "path to the configuration file")
	question := flags.String("question", "", "ask a single question and exit")
	transcript := flags.Bool("transcript", false, "write a CSV transcript of the conversation")
	if err := flags.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "parse chat flags: %v\n", err)
		os.Exit(1)
	}

	cfg, log := setup(*configPath)
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, client, closeStore, err := buildStack(ctx, cfg, log)
	if err != nil {
		log.Fatal("setup failed", zap.Error(err))
	}
	defer closeStore()

	pipeline, err := rag.New(pipelineConfig(cfg), store, client, log)
	if err != nil {
		log.Fatal("pipeline setup failed", zap.Error(err))
	}

	var writer *results.Writer
	if *transcript {
		writer, err = results.NewWriter(cfg.ResultsDir)
		if err != nil {
			log.Fatal("transcript setup failed", zap.Error(err))
		}
		defer writer.Close()
		fmt.Printf("Transcript: %s\n", writer.Path())
	}

	sessionID := uuid.NewString()

	if strings.TrimSpace(*question) != "" {
		if err := runTurn(ctx, pipeline, writer, sessionID, *question); err != nil {
			log.Fatal("chat failed", zap.Error(err))
		}
		return
	}

	runChatLoop(ctx, pipeline, writer, sessionID, log)
}

func runChatLoop(ctx context.Context, pipeline *rag.Pipeline, writer *results.Writer, sessionID string, log *zap.Logger) {
	fmt.Println("Ask questions about the indexed documents. Type \"exit\" to quit.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if question == "exit" {
			break
		}

		if err := runTurn(ctx, pipeline, writer, sessionID, question); err != nil {
			if ctx.Err() != nil {
				return
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}

	if err := scanner.Err(); err != nil {
		log.Warn("read input failed", zap.Error(err))
	}
}

func runTurn(ctx context.Context, pipeline *rag.Pipeline, writer *results.Writer, sessionID, question string) error {
	answer, err := pipeline.AskStream(ctx, question, func(delta string) {
		fmt.Print(delta)
	})
	if err != nil {
		return err
	}
	fmt.Println()

	labels := rag.SourceLabels(answer.Sources)
	if len(labels) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for _, label := range labels {
			fmt.Printf("  - %s\n", label)
		}
	}

	if writer != nil {
		if err := writer.Record(sessionID, question, answer.Text, labels); err != nil {
			return fmt.Errorf("record transcript: %w", err)
		}
	}
	return nil
}

func serveCmd(args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := flags.String("config", "", "path to the configuration file")
	transcript := flags.Bool("transcript", false, "write a CSV transcript of all conversations")
	watch := flags.Bool("watch", false, "watch the data directory and re-ingest changed files")
	if err := flags.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "parse serve flags: %v\n", err)
		os.Exit(1)
	}

	cfg, log := setup(*configPath)
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, client, closeStore, err := buildStack(ctx, cfg, log)
	if err != nil {
		log.Fatal("setup failed", zap.Error(err))
	}
	defer closeStore()

	factory := func() (*rag.Pipeline, error) {
		return rag.New(pipelineConfig(cfg), store, client, log)
	}

	ingestPipeline, err := factory()
	if err != nil {
		log.Fatal("pipeline setup failed", zap.Error(err))
	}
	ingestor := ingestion.NewService(ingestPipeline, log)

	var writer *results.Writer
	if *transcript {
		writer, err = results.NewWriter(cfg.ResultsDir)
		if err != nil {
			log.Fatal("transcript setup failed", zap.Error(err))
		}
		defer writer.Close()
		log.Info("writing transcript", zap.String("path", writer.Path()))
	}

	resetter, _ := store.(api.Resetter)

	server, err := api.New(api.Options{
		Factory:     factory,
		Ingestor:    ingestor,
		Store:       resetter,
		Metrics:     metrics.New(),
		Results:     writer,
		Logger:      log,
		DataDir:     cfg.DataDir,
		MaxSessions: cfg.HTTP.MaxSessions,
	})
	if err != nil {
		log.Fatal("server setup failed", zap.Error(err))
	}

	if *watch {
		go func() {
			if err := ingestor.Watch(ctx, cfg.DataDir); err != nil {
				log.Warn("watcher stopped", zap.Error(err))
			}
		}()
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      server,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		log.Fatal("http server failed", zap.Error(err))
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}
	log.Info("server stopped")
}

func clearCmd(args []string) {
	flags := flag.NewFlagSet("clear", flag.ExitOnError)
	configPath := flags.String("config", "", "path to the configuration file")
	confirmed := flags.Bool("confirm", false, "skip the confirmation prompt")
	if err := flags.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "parse clear flags: %v\n", err)
		os.Exit(1)
	}

	cfg, log := setup(*configPath)
	defer log.Sync()

	if !*confirmed {
		fmt.Print("This will permanently delete all indexed documents. Continue? [y/N]: ")
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				log.Fatal("read confirmation failed", zap.Error(err))
			}
			fmt.Println("clear aborted")
			return
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if answer != "y" && answer != "yes" {
			fmt.Println("clear aborted")
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		log.Fatal("embedder setup failed", zap.Error(err))
	}

	store, closeStore, err := buildStore(ctx, cfg, embedder, log)
	if err != nil {
		log.Fatal("store setup failed", zap.Error(err))
	}
	defer closeStore()

	resetter, ok := store.(api.Resetter)
	if !ok {
		log.Fatal("store does not support clearing")
	}
	if err := resetter.Reset(ctx); err != nil {
		log.Fatal("clear failed", zap.Error(err))
	}
	log.Info("knowledge base cleared")
}

func printUsage() {
	fmt.Println("Usage: ragchat <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  ingest   Index documents from the data directory (-dir to override, -watch to keep watching)")
	fmt.Println("  chat     Start an interactive conversation over the indexed documents")
	fmt.Println("  serve    Run the HTTP API server")
	fmt.Println("  clear    Remove all indexed documents from the store")
	fmt.Println()
	fmt.Println("Run \"ragchat <command> -h\" for command options.")
}
