package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/model"

	"github.com/docqa/docqa-go/internal/embedder"
	"github.com/docqa/docqa-go/internal/ingestion"
	"github.com/docqa/docqa-go/internal/provider"
	"github.com/docqa/docqa-go/internal/rag"
	"github.com/docqa/docqa-go/internal/server"
)

// ragComponents bundles the retrieval and ingestion machinery backed by a
// shared Qdrant connection. All fields are nil when no vector store is
// configured; close is always safe to call.
type ragComponents struct {
	retriever rag.Retriever
	ingestion *ingestion.Pipeline
	qdrant    *rag.QdrantStore
	close     func()
}

// buildRAG connects to Qdrant and constructs the retriever and ingestion
// pipeline that share the connection. If QDRANT_HOST is unset, retrieval is
// disabled: the returned components are empty and every turn generates from
// conversation history alone.
func buildRAG(ctx context.Context, log *slog.Logger) (*ragComponents, error) {
	if os.Getenv("QDRANT_HOST") == "" {
		log.Info("retrieval disabled", slog.String("reason", "QDRANT_HOST not set"))
		return &ragComponents{close: func() {}}, nil
	}

	if err := embedder.ValidateForRAG(log); err != nil {
		return nil, fmt.Errorf("embedder validation failed: %w", err)
	}

	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	qcfg := qdrantConfigFromEnv()
	qs, err := rag.NewQdrantStore(ctx, qcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", qcfg.Host, qcfg.Port, err)
	}

	retriever, err := rag.NewRetriever(emb, qs, getEnvInt("RETRIEVAL_TOP_K", 4))
	if err != nil {
		_ = qs.Close()
		return nil, fmt.Errorf("failed to create retriever: %w", err)
	}

	ing, err := ingestion.NewPipeline(emb, qs, &ingestion.Config{
		ChunkSize:    getEnvInt("INGEST_CHUNK_SIZE", 0),
		ChunkOverlap: getEnvInt("INGEST_CHUNK_OVERLAP", 0),
	})
	if err != nil {
		_ = qs.Close()
		return nil, fmt.Errorf("failed to create ingestion pipeline: %w", err)
	}

	log.Info("qdrant store ready",
		slog.String("host", qcfg.Host),
		slog.Int("port", qcfg.Port),
		slog.String("collection", qcfg.Collection),
	)

	return &ragComponents{
		retriever: retriever,
		ingestion: ing,
		qdrant:    qs,
		close:     func() { _ = qs.Close() },
	}, nil
}

// qdrantConfigFromEnv builds the Qdrant connection config from environment
// variables. Vector size follows the configured embedding backend so the
// collection is created with matching dimensions.
func qdrantConfigFromEnv() *rag.QdrantConfig {
	embBackend := getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "ollama"))
	return &rag.QdrantConfig{
		Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
		Port:       getEnvInt("QDRANT_PORT", 6334),
		Collection: getEnvOrDefault("QDRANT_COLLECTION", "docqa-docs"),
		VectorSize: uint64(embedder.DefaultDimensions(embBackend)), //nolint:gosec // dimensions are bounded
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	}
}

// buildPingers assembles the readiness probes for the serve command: one for
// the chat model backend and, when retrieval is enabled, one for Qdrant.
func buildPingers(chatModel model.BaseChatModel, cfg *provider.Config, qs *rag.QdrantStore) []server.Pinger {
	pingers := []server.Pinger{
		server.NewLLMPinger(chatModel, string(cfg.Backend)),
	}
	if qs != nil {
		pingers = append(pingers, server.NewQdrantPinger(qs.Client()))
	}
	return pingers
}

// splitHosts parses a comma-separated host allowlist, trimming whitespace and
// dropping empty entries.
func splitHosts(s string) []string {
	if s == "" {
		return nil
	}
	var hosts []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
