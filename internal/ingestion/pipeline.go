// Package ingestion implements the document ingestion pipeline. It crawls
// web pages, splits the extracted text into overlapping chunks, embeds each
// chunk, and upserts the results into the vector store. The pipeline is
// invoked by the `docqa ingest` CLI command and the admin crawl endpoint.
package ingestion

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docqa/docqa-go/internal/logging"
	"github.com/docqa/docqa-go/internal/rag"
)

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per document chunk.
	// Defaults to 1000 if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters to overlap between consecutive
	// chunks. Defaults to 200 if zero.
	ChunkOverlap int

	// HTTPTimeout is the timeout for each page fetch. Defaults to 10s if zero.
	HTTPTimeout time.Duration

	// UserAgent is the HTTP User-Agent header sent with fetch requests.
	UserAgent string
}

// PageResult records one successfully ingested page.
type PageResult struct {
	// URL is the page address.
	URL string `json:"url"`
	// Status is always "success" for entries in the successful list.
	Status string `json:"status"`
	// Chunks is the number of chunks stored for the page.
	Chunks int `json:"chunks"`
}

// PageFailure records one page that could not be ingested.
type PageFailure struct {
	// URL is the page address.
	URL string `json:"url"`
	// Error is the failure description.
	Error string `json:"error"`
}

// Result summarises a full ingestion run.
type Result struct {
	// Successful lists every page ingested without error.
	Successful []PageResult `json:"successful"`
	// Failed lists every page that errored.
	Failed []PageFailure `json:"failed"`
	// TotalProcessed is len(Successful).
	TotalProcessed int `json:"total_processed"`
	// TotalFailed is len(Failed).
	TotalFailed int `json:"total_failed"`
}

// pageCrawler fetches a single page. *Crawler satisfies it; tests inject a
// fake.
type pageCrawler interface {
	Crawl(ctx context.Context, url string) (*Page, error)
}

// Pipeline orchestrates the crawl → chunk → embed → upsert flow for a set of
// page URLs.
type Pipeline struct {
	// embedder converts text chunks into dense vector embeddings.
	embedder rag.Embedder

	// store persists the embedded chunks.
	store rag.VectorStore

	// crawler fetches and extracts pages.
	crawler pageCrawler

	// cfg holds the resolved pipeline configuration.
	cfg *Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, store rag.VectorStore, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = 200
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 5
	}

	return &Pipeline{
		embedder: embedder,
		store:    store,
		crawler:  NewCrawler(cfg.HTTPTimeout, cfg.UserAgent),
		cfg:      cfg,
	}, nil
}

// Ingest crawls, chunks, embeds, and stores every URL in the list. Pages are
// processed independently: a failed page is recorded in Result.Failed and
// processing continues with the next URL. Ingest itself only errors when ctx
// is cancelled.
func (p *Pipeline) Ingest(ctx context.Context, urls []string) (*Result, error) {
	log := logging.FromContext(ctx)
	result := &Result{
		Successful: []PageResult{},
		Failed:     []PageFailure{},
	}

	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("ingestion: %w", err)
		}

		chunks, err := p.ingestPage(ctx, url)
		if err != nil {
			log.Error("page ingestion failed", slog.String("url", url), slog.Any("error", err))
			result.Failed = append(result.Failed, PageFailure{URL: url, Error: err.Error()})
			continue
		}

		log.Info("page ingested", slog.String("url", url), slog.Int("chunks", chunks))
		result.Successful = append(result.Successful, PageResult{URL: url, Status: "success", Chunks: chunks})
	}

	result.TotalProcessed = len(result.Successful)
	result.TotalFailed = len(result.Failed)
	return result, nil
}

// ingestPage runs the full flow for one URL and returns the number of chunks
// stored.
func (p *Pipeline) ingestPage(ctx context.Context, url string) (int, error) {
	page, err := p.crawler.Crawl(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("crawl: %w", err)
	}
	if strings.TrimSpace(page.Content) == "" {
		return 0, fmt.Errorf("crawl: no extractable content")
	}

	chunks := p.chunk(page.Content)

	embeddings, err := p.embedder.Embed(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embed: %w", err)
	}

	docType := InferDocType(url)
	docs := make([]rag.Document, 0, len(chunks))
	for i, chunk := range chunks {
		docs = append(docs, rag.Document{
			ID:      chunkID(url, i),
			Content: chunk,
			Source:  page.URL,
			Title:   page.Title,
			Metadata: map[string]string{
				"type":        docType,
				"chunk_index": fmt.Sprintf("%d", i),
			},
		})
	}

	if err := p.store.Upsert(ctx, docs, embeddings); err != nil {
		return 0, fmt.Errorf("upsert: %w", err)
	}
	return len(chunks), nil
}

// chunk splits text into overlapping chunks of cfg.ChunkSize characters.
func (p *Pipeline) chunk(text string) []string {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return nil
	}

	var chunks []string
	size := p.cfg.ChunkSize
	overlap := p.cfg.ChunkOverlap

	for start := 0; start < len(text); start += size - overlap {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
	}

	return chunks
}

// chunkID generates a deterministic ID for a document chunk based on its
// source URL and chunk index. Re-ingesting a page overwrites its previous
// chunks instead of duplicating them.
func chunkID(sourceURL string, index int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", sourceURL, index)))
	return fmt.Sprintf("%x", h[:16])
}
