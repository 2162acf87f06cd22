package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/docqa/docqa-go/internal/logging"
)

// NewIngestCmd constructs the `docqa ingest` command, which runs the document
// ingestion pipeline to populate the vector store.
func NewIngestCmd() *cobra.Command {
	var urls []string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest web pages into the document vector store",
		Long: `Fetch web pages, extract their visible text, and index the chunks into
the Qdrant vector store.

Ingested pages become the corpus that chat answers are grounded in.
Re-ingesting a URL replaces its existing chunks, so running ingest again
after a page changes keeps the corpus current.

Required environment variables:
  QDRANT_HOST          Qdrant server hostname
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: docqa-docs)
  QDRANT_API_KEY       Optional API key for authenticated clusters
  MODEL_PROVIDER       Embedding backend: ollama, openai, azure (default: ollama)
  EMBEDDING_*          Provider-specific overrides (see README)

Examples:
  docqa ingest --url https://example.com/faq
  docqa ingest --url https://example.com/docs/getting-started --url https://example.com/blog/release-notes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			if len(urls) == 0 {
				return fmt.Errorf("ingest: at least one --url is required")
			}

			ragc, err := buildRAG(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer ragc.close()

			if ragc.ingestion == nil {
				return fmt.Errorf("ingest: no vector store configured — set QDRANT_HOST")
			}

			log.Info("starting ingestion", slog.Int("urls", len(urls)))

			result, err := ragc.ingestion.Ingest(ctx, urls)
			if err != nil {
				return fmt.Errorf("ingest: pipeline failed: %w", err)
			}

			for _, page := range result.Successful {
				log.Info("page ingested", slog.String("url", page.URL), slog.Int("chunks", page.Chunks))
			}
			for _, page := range result.Failed {
				log.Warn("page failed", slog.String("url", page.URL), slog.String("error", page.Error))
			}

			log.Info("ingestion complete",
				slog.Int("processed", result.TotalProcessed),
				slog.Int("failed", result.TotalFailed),
			)

			if result.TotalProcessed == 0 && result.TotalFailed > 0 {
				return fmt.Errorf("ingest: all %d pages failed", result.TotalFailed)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&urls, "url", "u", nil, "Page URL to ingest (repeatable)")

	return cmd
}
