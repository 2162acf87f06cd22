// Package pipeline implements the retrieval-augmented conversation pipeline:
// a fixed three-stage flow (analyze → retrieve → generate) that threads
// conversation state through the stages and commits the updated history per
// turn. The analyze, retrieve, and generate stages fail soft, so every turn
// produces some answer; only conversation-store failures surface as errors.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/docqa/docqa-go/internal/analyzer"
	"github.com/docqa/docqa-go/internal/generator"
	"github.com/docqa/docqa-go/internal/logging"
	"github.com/docqa/docqa-go/internal/rag"
	"github.com/docqa/docqa-go/internal/store"
)

// Stage identifies where a turn currently is in the pipeline. Stages always
// advance in order and every turn terminates at StageCommitted.
type Stage string

const (
	// StageStarted is the initial state before the user message is recorded.
	StageStarted Stage = "started"
	// StageAnalyzing covers structured query extraction.
	StageAnalyzing Stage = "analyzing"
	// StageRetrieving covers the vector similarity search.
	StageRetrieving Stage = "retrieving"
	// StageGenerating covers answer generation.
	StageGenerating Stage = "generating"
	// StageCommitted is the terminal state: both turn messages are persisted.
	StageCommitted Stage = "committed"
)

// defaultTopK is the number of passages retrieved per turn when the caller
// does not configure one.
const defaultTopK = 4

// queryAnalyzer is the analyze stage contract. *analyzer.Analyzer satisfies
// it; tests inject a fake.
type queryAnalyzer interface {
	Analyze(ctx context.Context, msgs []store.Message) analyzer.StructuredQuery
}

// answerGenerator is the generate stage contract. *generator.Generator
// satisfies it; tests inject a fake.
type answerGenerator interface {
	Generate(ctx context.Context, history []store.Message, passages []rag.Document, question string) string
}

// Config holds the dependencies required to construct a Pipeline.
type Config struct {
	// Analyzer extracts the structured query from conversation state.
	Analyzer queryAnalyzer

	// Retriever fetches relevant passages. May be nil when no corpus is
	// configured — every turn then generates from empty context.
	Retriever rag.Retriever

	// Generator produces the grounded answer.
	Generator answerGenerator

	// Store persists conversation history. Required.
	Store store.ConversationStore

	// TopK is the number of passages retrieved per turn. Defaults to 4.
	TopK int

	// HistoryDepth is the number of prior messages loaded from the store per
	// turn. Defaults to 40 (20 completed turns).
	HistoryDepth int

	// Registry receives the pipeline's Prometheus metrics. If nil, metrics
	// are registered on a throwaway registry (useful in tests).
	Registry prometheus.Registerer
}

// Pipeline is the turn orchestrator. A single instance is shared by all
// transports (HTTP handler, CLI) and is safe for concurrent use.
type Pipeline struct {
	// analyzer is the analyze stage.
	analyzer queryAnalyzer
	// retriever is the retrieve stage; nil means no corpus is configured.
	retriever rag.Retriever
	// generator is the generate stage.
	generator answerGenerator
	// store owns all committed conversation state.
	store store.ConversationStore
	// topK is the passage count per retrieval.
	topK int
	// historyDepth is the number of prior messages loaded per turn.
	historyDepth int
	// metrics holds the pipeline's Prometheus instruments.
	metrics *pipelineMetrics

	// lockMu guards locks.
	lockMu sync.Mutex
	// locks serialises turns per conversation ID so each conversation's
	// history grows by exactly one user and one assistant message per turn
	// even under concurrent requests.
	locks map[string]*sync.Mutex
}

// New constructs a Pipeline from the provided Config.
func New(cfg *Config) (*Pipeline, error) {
	if cfg.Analyzer == nil {
		return nil, fmt.Errorf("pipeline: Analyzer must not be nil")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("pipeline: Generator must not be nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("pipeline: Store must not be nil")
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	depth := cfg.HistoryDepth
	if depth <= 0 {
		depth = 40
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Pipeline{
		analyzer:     cfg.Analyzer,
		retriever:    cfg.Retriever,
		generator:    cfg.Generator,
		store:        cfg.Store,
		topK:         topK,
		historyDepth: depth,
		metrics:      newPipelineMetrics(reg),
		locks:        make(map[string]*sync.Mutex),
	}, nil
}

// HandleTurn runs one full conversation turn: it records the user message,
// analyzes it into a structured query, retrieves relevant passages, generates
// a grounded answer, and records the answer. The returned text is always a
// natural-language string — degraded stages produce degraded text, never an
// error. The only error condition is a conversation-store failure, because a
// turn whose history cannot be recorded must surface as a failed turn.
func (p *Pipeline) HandleTurn(ctx context.Context, conversationID, userMessage string) (string, error) {
	if conversationID == "" {
		return "", fmt.Errorf("pipeline: conversationID must not be empty")
	}
	if userMessage == "" {
		return "", fmt.Errorf("pipeline: userMessage must not be empty")
	}

	lock := p.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	log := logging.FromContext(ctx).With(slog.String("conversation_id", conversationID))
	ctx = logging.WithLogger(ctx, log)

	stage := StageStarted
	defer func() {
		p.metrics.turnDuration.Observe(time.Since(start).Seconds())
		log.Debug("turn finished", slog.String("stage", string(stage)), slog.Duration("duration", time.Since(start)))
	}()

	// Record the incoming user message before anything else. Analysis reads
	// the updated state, and a store failure here fails the whole turn.
	if err := p.store.Append(ctx, conversationID, store.RoleUser, userMessage); err != nil {
		p.metrics.turnsTotal.WithLabelValues(outcomeError).Inc()
		return "", fmt.Errorf("pipeline: recording user message: %w", err)
	}

	state, err := p.store.Recent(ctx, conversationID, p.historyDepth)
	if err != nil {
		p.metrics.turnsTotal.WithLabelValues(outcomeError).Inc()
		return "", fmt.Errorf("pipeline: loading conversation state: %w", err)
	}

	stage = StageAnalyzing
	query := p.analyzer.Analyze(ctx, state)
	if query.Degraded {
		p.metrics.stageDegradations.WithLabelValues(string(StageAnalyzing)).Inc()
	}
	log.Debug("query analyzed",
		slog.String("section", string(query.Section)),
		slog.Bool("degraded", query.Degraded),
	)

	stage = StageRetrieving
	passages := p.retrieve(ctx, query)

	stage = StageGenerating
	// History for the prompt excludes the just-appended user message; the
	// question is passed separately.
	var history []store.Message
	if len(state) > 0 {
		history = state[:len(state)-1]
	}
	answer := p.generator.Generate(ctx, history, passages, userMessage)
	if answer == generator.Fallback {
		p.metrics.stageDegradations.WithLabelValues(string(StageGenerating)).Inc()
	}

	if err := p.store.Append(ctx, conversationID, store.RoleAssistant, answer); err != nil {
		p.metrics.turnsTotal.WithLabelValues(outcomeError).Inc()
		return "", fmt.Errorf("pipeline: recording assistant message: %w", err)
	}
	stage = StageCommitted

	if answer == generator.Fallback {
		p.metrics.turnsTotal.WithLabelValues(outcomeFallback).Inc()
	} else {
		p.metrics.turnsTotal.WithLabelValues(outcomeOK).Inc()
	}

	return answer, nil
}

// retrieve runs the vector search for the structured query. Failures are
// logged and counted, then converted to an empty passage set — retrieval
// never fails a turn.
func (p *Pipeline) retrieve(ctx context.Context, query analyzer.StructuredQuery) []rag.Document {
	log := logging.FromContext(ctx)

	if p.retriever == nil {
		return nil
	}

	passages, err := p.retriever.Retrieve(ctx, query.QueryText, p.topK)
	if err != nil {
		log.Warn("pipeline: retrieval failed, continuing without context", slog.Any("error", err))
		p.metrics.stageDegradations.WithLabelValues(string(StageRetrieving)).Inc()
		return nil
	}
	return passages
}

// conversationLock returns the mutex for the given conversation ID, creating
// it on first use. Locks live for the process lifetime; the per-entry cost is
// one mutex, bounded by the store's retention pruning of idle conversations.
func (p *Pipeline) conversationLock(conversationID string) *sync.Mutex {
	p.lockMu.Lock()
	defer p.lockMu.Unlock()

	lock, ok := p.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[conversationID] = lock
	}
	return lock
}
