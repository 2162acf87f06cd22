package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/docqa/docqa-go/internal/analyzer"
	"github.com/docqa/docqa-go/internal/generator"
	"github.com/docqa/docqa-go/internal/logging"
	"github.com/docqa/docqa-go/internal/pipeline"
	"github.com/docqa/docqa-go/internal/provider"
	"github.com/docqa/docqa-go/internal/server"
	"github.com/docqa/docqa-go/internal/store"
	"github.com/docqa/docqa-go/internal/tracing"
)

// pruneInterval is how often the retention pruner deletes expired history.
const pruneInterval = 12 * time.Hour

// NewServeCmd constructs the `docqa serve` command, which starts the HTTP
// server exposing the chat and admin APIs.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the DocQA HTTP server",
		Long: `Start the DocQA HTTP server on localhost.

The server exposes POST /api/chat for conversational question answering,
POST /api/admin/crawl for document ingestion, plus health, readiness, and
Prometheus metrics endpoints.

Examples:
  docqa serve
  docqa serve --port 9090
  MODEL_PROVIDER=azure docqa serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			providerCfg := provider.ConfigFromEnv()
			chatModel, err := provider.New(ctx, providerCfg)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", string(providerCfg.Backend)))

			historyStore := openHistoryStore(log)
			defer func() { _ = historyStore.Close() }()

			ragc, err := buildRAG(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer ragc.close()

			pl, err := pipeline.New(&pipeline.Config{
				Analyzer:  analyzer.New(chatModel),
				Retriever: ragc.retriever,
				Generator: generator.New(&generator.Config{ChatModel: chatModel}),
				Store:     historyStore,
				TopK:      getEnvInt("RETRIEVAL_TOP_K", 4),
				Registry:  prometheus.DefaultRegisterer,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to initialise pipeline: %w", err)
			}

			if days := getEnvInt("HISTORY_RETENTION_DAYS", 30); days > 0 {
				go runRetentionPruner(ctx, log, historyStore, days)
			}

			pingers := buildPingers(chatModel, providerCfg, ragc.qdrant)

			srvCfg := &server.Config{
				Host:            host,
				Port:            port,
				Logger:          log,
				Pingers:         pingers,
				APIKey:          os.Getenv("DOCQA_API_KEY"),
				CrawlAllowHosts: splitHosts(os.Getenv("CRAWL_ALLOW_HOSTS")),
			}

			var srv *server.Server
			if ragc.ingestion != nil {
				srv, err = server.New(pl, ragc.ingestion, srvCfg)
			} else {
				srv, err = server.New(pl, nil, srvCfg)
			}
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}

// openHistoryStore opens the conversation history store. DOCQA_HISTORY_DB
// overrides the default path (~/.docqa/history.db); setting it to "disabled"
// skips persistence. Any failure falls back to an in-memory store so the
// server still starts, at the cost of losing conversations on restart.
func openHistoryStore(log *slog.Logger) store.ConversationStore {
	dbPath := os.Getenv("DOCQA_HISTORY_DB")
	if dbPath == "disabled" {
		log.Info("history: persistence disabled via DOCQA_HISTORY_DB=disabled, using in-memory store")
		return store.NewMemoryStore()
	}
	if dbPath == "" {
		p, err := store.DefaultDBPath()
		if err != nil {
			log.Warn("history: could not resolve default DB path, using in-memory store", slog.Any("error", err))
			return store.NewMemoryStore()
		}
		dbPath = p
	}
	hs, err := store.Open(dbPath)
	if err != nil {
		log.Warn("history: failed to open store, using in-memory store", slog.Any("error", err))
		return store.NewMemoryStore()
	}
	log.Info("history: store opened", slog.String("path", dbPath))
	return hs
}

// runRetentionPruner deletes conversation messages older than the retention
// window, once at startup and then every pruneInterval, until ctx is
// cancelled.
func runRetentionPruner(ctx context.Context, log *slog.Logger, s store.ConversationStore, days int) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		cutoff := time.Now().AddDate(0, 0, -days)
		removed, err := s.PruneBefore(ctx, cutoff)
		if err != nil {
			log.Warn("history: retention prune failed", slog.Any("error", err))
		} else if removed > 0 {
			log.Info("history: pruned expired messages",
				slog.Int64("removed", removed),
				slog.Int("retention_days", days),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
