package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/docqa/docqa-go/internal/logging"
)

// maxCrawlURLs bounds a single crawl request so one call cannot tie up the
// server indefinitely.
const maxCrawlURLs = 50

// handleCrawl handles POST /api/admin/crawl. It validates the submitted URLs
// against the configured host allowlist, then crawls and ingests each page.
// Per-page failures are reported in the response body rather than failing the
// whole request.
func (s *Server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	if s.ingester == nil {
		http.Error(w, "ingestion is not configured", http.StatusServiceUnavailable)
		return
	}

	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.URLs) == 0 {
		http.Error(w, "urls is required", http.StatusBadRequest)
		return
	}
	if len(req.URLs) > maxCrawlURLs {
		http.Error(w, fmt.Sprintf("too many urls (max %d)", maxCrawlURLs), http.StatusBadRequest)
		return
	}

	if invalid := s.invalidCrawlURLs(req.URLs); len(invalid) > 0 {
		http.Error(w,
			fmt.Sprintf("invalid URLs found, all URLs must match the allowed hosts: %s", strings.Join(invalid, ", ")),
			http.StatusBadRequest)
		return
	}

	result, err := s.ingester.Ingest(r.Context(), req.URLs)
	if err != nil {
		log.Error("crawl run aborted", slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	log.Info("crawl run finished",
		slog.Int("processed", result.TotalProcessed),
		slog.Int("failed", result.TotalFailed),
	)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		log.Error("crawl encode error", slog.Any("error", err))
	}
}

// invalidCrawlURLs returns the subset of urls that are malformed, non-HTTP,
// or outside the configured host allowlist.
func (s *Server) invalidCrawlURLs(urls []string) []string {
	var invalid []string
	for _, raw := range urls {
		parsed, err := url.Parse(raw)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			invalid = append(invalid, raw)
			continue
		}
		if !s.hostAllowed(parsed.Hostname()) {
			invalid = append(invalid, raw)
		}
	}
	return invalid
}

// hostAllowed reports whether host matches, or is a subdomain of, an entry in
// the crawl allowlist. An empty allowlist accepts every host.
func (s *Server) hostAllowed(host string) bool {
	if len(s.cfg.CrawlAllowHosts) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, allowed := range s.cfg.CrawlAllowHosts {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == "" {
			continue
		}
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}
