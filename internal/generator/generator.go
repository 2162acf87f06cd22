// Package generator produces the grounded answer for a conversation turn.
// It assembles a single grounding prompt from the retrieved passages, the
// prior conversation history, and the current question, and invokes the chat
// model. The generator is fail-soft: any assembly or provider failure yields
// the fixed Fallback text, never an error.
package generator

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/docqa/docqa-go/internal/budget"
	"github.com/docqa/docqa-go/internal/logging"
	"github.com/docqa/docqa-go/internal/rag"
	"github.com/docqa/docqa-go/internal/store"
)

// Fallback is the user-safe answer returned when generation fails for any
// reason. It is the only answer text the generator is allowed to invent.
const Fallback = "I apologize, but I encountered an error processing your request. Please try again later."

// systemPrompt is the fixed persona and policy preamble injected into every
// generation call. The grounding constraints are instructions to the model,
// not programmatic guarantees.
const systemPrompt = `You are a friendly and professional assistant that answers questions about an organisation's private document corpus.

Please adhere to the following guidelines:

1. **Only use provided context:** Base your answers exclusively on the information given in the "Context" section below.
2. **State limitations politely:** If the context does not contain enough information to answer, politely say you cannot help with that specific query at this time. Never guess or fabricate details.
3. **Be concise and professional:** Deliver information directly and clearly, maintaining a helpful and respectful tone.
4. **Stay on topic:** Keep responses focused on the organisation's offerings and the content of its documents.`

// chatModel is the subset of the eino chat model the generator calls.
// Tests inject a fake.
type chatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Config holds the tunables for constructing a Generator.
type Config struct {
	// ChatModel is the LLM backend constructed by the provider factory.
	ChatModel model.BaseChatModel

	// HistoryDepth is the number of prior messages to inject per turn.
	// Defaults to 20 if zero.
	HistoryDepth int

	// MaxContextTokens is the estimated token budget for the full input
	// (system prompt + context + history + question). History is trimmed
	// oldest-first to fit. Defaults to budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int
}

// Generator builds the grounding prompt and invokes the chat model.
type Generator struct {
	// model is the chat model used for answer generation.
	model chatModel

	// historyDepth is the number of recent messages injected per turn.
	historyDepth int

	// maxContextTokens is the estimated token budget for the full input.
	maxContextTokens int
}

// New constructs a Generator from the provided Config.
func New(cfg *Config) *Generator {
	depth := cfg.HistoryDepth
	if depth <= 0 {
		depth = 20
	}
	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}
	return &Generator{
		model:            cfg.ChatModel,
		historyDepth:     depth,
		maxContextTokens: maxCtx,
	}
}

// Generate produces the answer text for the current question given the prior
// conversation history and the retrieved passages. history must not include
// the current turn's user message — the question is passed separately.
// It never returns an error: failures yield Fallback and are logged.
func (g *Generator) Generate(ctx context.Context, history []store.Message, passages []rag.Document, question string) string {
	log := logging.FromContext(ctx)

	if g.model == nil {
		log.Error("generator: no chat model configured")
		return Fallback
	}

	messages := g.buildMessages(ctx, history, passages, question)

	resp, err := g.model.Generate(ctx, messages)
	if err != nil {
		log.Warn("generator: model call failed, returning fallback answer", slog.Any("error", err))
		return Fallback
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		log.Warn("generator: model returned empty answer, returning fallback answer")
		return Fallback
	}

	return resp.Content
}

// buildMessages constructs the message slice: system preamble with the
// context block, trimmed history in original order, then the current question.
func (g *Generator) buildMessages(ctx context.Context, history []store.Message, passages []rag.Document, question string) []*schema.Message {
	system := schema.SystemMessage(systemPrompt + "\n\n" + BuildContextBlock(passages))

	if len(history) > g.historyDepth {
		history = history[len(history)-g.historyDepth:]
	}

	historyMsgs := make([]*schema.Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case store.RoleUser:
			historyMsgs = append(historyMsgs, schema.UserMessage(m.Content))
		case store.RoleAssistant:
			historyMsgs = append(historyMsgs, schema.AssistantMessage(m.Content, nil))
		}
	}

	userMsg := schema.UserMessage(question)
	fixed := []*schema.Message{system, userMsg}

	// Trim history oldest-first so the total estimated token count fits within
	// the configured context budget.
	before := len(historyMsgs)
	historyMsgs = budget.TrimHistory(fixed, historyMsgs, g.maxContextTokens)
	if dropped := before - len(historyMsgs); dropped > 0 {
		logging.FromContext(ctx).Warn("generator: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(historyMsgs)),
			slog.Int("max_tokens", g.maxContextTokens),
		)
	}

	result := make([]*schema.Message, 0, 2+len(historyMsgs))
	result = append(result, system)
	result = append(result, historyMsgs...)
	result = append(result, userMsg)
	return result
}

// BuildContextBlock formats the retrieved passages into the authoritative
// context section of the system prompt. Passages are concatenated verbatim,
// joined by a blank line. An empty passage set yields an explicit empty
// context so the model declines rather than inventing an answer.
func BuildContextBlock(passages []rag.Document) string {
	var sb strings.Builder
	sb.WriteString("## Context\n\n")

	if len(passages) == 0 {
		sb.WriteString("(no relevant documents were found for this question)")
		return sb.String()
	}

	for i, p := range passages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(p.Content)
	}
	return sb.String()
}
