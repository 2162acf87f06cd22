// Package analyzer converts the latest user utterance of a conversation into
// a structured search query using a chat model constrained to JSON output.
// The analyzer is fail-soft: every failure path degrades to a usable query
// built from the raw user text rather than returning an error.
package analyzer

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/docqa/docqa-go/internal/logging"
	"github.com/docqa/docqa-go/internal/store"
)

// Section is a coarse locality hint for where in a document the answer is
// likely to be found. Advisory only — the retriever does not enforce it.
type Section string

const (
	// SectionBeginning hints the answer is near the start of a document.
	SectionBeginning Section = "beginning"
	// SectionMiddle is the neutral default hint.
	SectionMiddle Section = "middle"
	// SectionEnd hints the answer is near the end of a document.
	SectionEnd Section = "end"
)

// StructuredQuery is the analyzer's output: the search text to embed plus a
// locality hint carried through for downstream use.
type StructuredQuery struct {
	// QueryText is the search string to embed and match. Never empty when a
	// user message exists — degraded analysis falls back to the raw utterance.
	QueryText string `json:"query_text"`

	// Section is the locality hint, one of beginning/middle/end.
	Section Section `json:"section"`

	// Degraded is true when structured extraction failed and QueryText is the
	// raw user text. Not serialised — used for logging and metrics only.
	Degraded bool `json:"-"`
}

// extractionPrompt instructs the model to emit only the StructuredQuery JSON
// shape. The latest user utterance is the sole extraction input.
const extractionPrompt = `You convert a user's chat message into a search query for a document corpus.

Respond with ONLY a JSON object in this exact shape — no markdown fencing,
no explanation outside the JSON:

{
  "query_text": "<standalone search phrase capturing what the user wants to know>",
  "section": "<beginning|middle|end>"
}

Rules:
- query_text must be a concise, self-contained search phrase (not a full sentence addressed to anyone)
- section is your best guess at where in a typical document the answer lives; use "middle" when unsure
- Never leave query_text empty`

// chatModel is the subset of the eino chat model used by the analyzer.
// Tests inject a fake.
type chatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Analyzer turns conversation state into a StructuredQuery.
type Analyzer struct {
	// model is the chat model used for structured extraction.
	model chatModel
}

// New constructs an Analyzer backed by the given chat model.
func New(m model.BaseChatModel) *Analyzer {
	return &Analyzer{model: m}
}

// Analyze extracts a StructuredQuery from the most recent user message in
// msgs. It never returns an error: extraction failures degrade to the raw
// user text with a "middle" section hint, and a history with no user message
// yields an empty query. Callers inspect Degraded for observability.
func (a *Analyzer) Analyze(ctx context.Context, msgs []store.Message) StructuredQuery {
	log := logging.FromContext(ctx)

	utterance, found := lastUserMessage(msgs)
	if !found {
		log.Warn("analyzer: no user message in conversation state")
		return StructuredQuery{QueryText: "", Section: SectionMiddle, Degraded: true}
	}

	degraded := StructuredQuery{QueryText: utterance, Section: SectionMiddle, Degraded: true}

	if a.model == nil {
		return degraded
	}

	resp, err := a.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(extractionPrompt),
		schema.UserMessage(utterance),
	})
	if err != nil {
		log.Warn("analyzer: extraction call failed, using raw utterance", slog.Any("error", err))
		return degraded
	}
	if resp == nil || resp.Content == "" {
		log.Warn("analyzer: extraction returned empty response, using raw utterance")
		return degraded
	}

	q, err := parseStructuredQuery(resp.Content)
	if err != nil {
		log.Warn("analyzer: extraction output unparseable, using raw utterance",
			slog.Any("error", err))
		return degraded
	}
	if q.QueryText == "" {
		log.Warn("analyzer: extraction produced empty query_text, using raw utterance")
		return degraded
	}

	q.Section = normalizeSection(q.Section)
	return q
}

// lastUserMessage scans msgs backward for the most recent user entry.
func lastUserMessage(msgs []store.Message) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == store.RoleUser {
			return msgs[i].Content, true
		}
	}
	return "", false
}

// parseStructuredQuery unmarshals the model output into a StructuredQuery,
// tolerating markdown code fences some models wrap JSON in.
func parseStructuredQuery(output string) (StructuredQuery, error) {
	var q StructuredQuery
	if err := json.Unmarshal([]byte(stripFences(output)), &q); err != nil {
		return StructuredQuery{}, err
	}
	q.QueryText = strings.TrimSpace(q.QueryText)
	return q, nil
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// normalizeSection maps unknown or empty section values to SectionMiddle.
func normalizeSection(s Section) Section {
	switch Section(strings.ToLower(string(s))) {
	case SectionBeginning:
		return SectionBeginning
	case SectionEnd:
		return SectionEnd
	default:
		return SectionMiddle
	}
}
