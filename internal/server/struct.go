package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/docqa/docqa-go/internal/ingestion"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ChatTimeout bounds a single /api/chat turn end to end. Defaults to 2m.
	ChatTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// CrawlAllowHosts restricts POST /api/admin/crawl to URLs whose host
	// matches (or is a subdomain of) one of these entries. Empty means any
	// host is accepted.
	CrawlAllowHosts []string
	// MetricsRegistry receives the server's Prometheus metrics. If nil, the
	// default registerer is used.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. If nil, the default gatherer is used.
	MetricsGatherer prometheus.Gatherer
}

// turnHandler is the interface handleChat calls to run one conversation turn.
// *pipeline.Pipeline satisfies it; tests inject a fake.
type turnHandler interface {
	HandleTurn(ctx context.Context, conversationID, userMessage string) (string, error)
}

// ingester is the interface handleCrawl calls to crawl and store pages.
// *ingestion.Pipeline satisfies it; tests inject a fake. May be nil when no
// vector store is configured.
type ingester interface {
	Ingest(ctx context.Context, urls []string) (*ingestion.Result, error)
}

// Server is the HTTP server exposing the conversation pipeline.
type Server struct {
	// pipeline runs conversation turns for /api/chat.
	pipeline turnHandler
	// ingester runs crawl-and-ingest jobs for /api/admin/crawl.
	ingester ingester
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the server's Prometheus instruments.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// ConversationID identifies the conversation this message belongs to.
	// Clients choose and persist their own IDs.
	ConversationID string `json:"conversationId"`
	// Message is the user's natural language question.
	Message string `json:"message"`
}

// chatResponse is the JSON response for POST /api/chat.
type chatResponse struct {
	// Answer is the assistant's reply.
	Answer string `json:"answer"`
	// ConversationID echoes the conversation the turn was recorded under.
	ConversationID string `json:"conversationId"`
}

// crawlRequest is the JSON body for POST /api/admin/crawl.
type crawlRequest struct {
	// URLs is the list of pages to crawl and ingest.
	URLs []string `json:"urls"`
}
