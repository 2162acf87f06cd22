package generator

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/docqa/docqa-go/internal/rag"
	"github.com/docqa/docqa-go/internal/store"
)

// fakeModel records the messages it receives and returns a fixed response.
type fakeModel struct {
	response string
	err      error
	received []*schema.Message
}

func (f *fakeModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.received = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.response, nil), nil
}

func newTestGenerator(m chatModel) *Generator {
	return &Generator{model: m, historyDepth: 20, maxContextTokens: 6000}
}

func Test_Generate_ReturnsModelAnswer(t *testing.T) {
	t.Parallel()

	m := &fakeModel{response: "Altar.io builds startup MVPs for founders."}
	g := newTestGenerator(m)

	passages := []rag.Document{{Content: "Altar.io builds startup MVPs.", Source: "faq"}}
	answer := g.Generate(context.Background(), nil, passages, "What does Altar.io do?")

	if answer != "Altar.io builds startup MVPs for founders." {
		t.Errorf("answer: got %q", answer)
	}
}

func Test_Generate_ContextBlockContainsPassages(t *testing.T) {
	t.Parallel()

	m := &fakeModel{response: "ok"}
	g := newTestGenerator(m)

	passages := []rag.Document{
		{Content: "first passage"},
		{Content: "second passage"},
	}
	g.Generate(context.Background(), nil, passages, "q")

	if len(m.received) == 0 {
		t.Fatal("model received no messages")
	}
	system := m.received[0]
	if system.Role != schema.System {
		t.Fatalf("first message role: want system, got %s", system.Role)
	}
	if !strings.Contains(system.Content, "first passage\n\nsecond passage") {
		t.Errorf("context block missing blank-line-joined passages:\n%s", system.Content)
	}
}

func Test_Generate_MessageOrderSystemHistoryQuestion(t *testing.T) {
	t.Parallel()

	m := &fakeModel{response: "ok"}
	g := newTestGenerator(m)

	history := []store.Message{
		{Role: store.RoleUser, Content: "earlier question"},
		{Role: store.RoleAssistant, Content: "earlier answer"},
	}
	g.Generate(context.Background(), history, nil, "current question")

	if len(m.received) != 4 {
		t.Fatalf("want 4 messages (system + 2 history + question), got %d", len(m.received))
	}
	if m.received[1].Role != schema.User || m.received[1].Content != "earlier question" {
		t.Errorf("history[0] wrong: %s/%q", m.received[1].Role, m.received[1].Content)
	}
	if m.received[2].Role != schema.Assistant || m.received[2].Content != "earlier answer" {
		t.Errorf("history[1] wrong: %s/%q", m.received[2].Role, m.received[2].Content)
	}
	last := m.received[len(m.received)-1]
	if last.Role != schema.User || last.Content != "current question" {
		t.Errorf("last message should be the question, got %s/%q", last.Role, last.Content)
	}
}

func Test_Generate_EmptyPassagesStillAnswers(t *testing.T) {
	t.Parallel()

	m := &fakeModel{response: "I'm sorry, I cannot help with that specific query at this time."}
	g := newTestGenerator(m)

	answer := g.Generate(context.Background(), nil, nil, "What is the capital of France?")

	if answer == "" {
		t.Fatal("answer must never be empty")
	}
	system := m.received[0]
	if !strings.Contains(system.Content, "no relevant documents") {
		t.Errorf("empty context marker missing from system prompt:\n%s", system.Content)
	}
}

func Test_Generate_ModelErrorReturnsFallback(t *testing.T) {
	t.Parallel()

	g := newTestGenerator(&fakeModel{err: fmt.Errorf("provider outage")})
	answer := g.Generate(context.Background(), nil, nil, "q")

	if answer != Fallback {
		t.Errorf("want fixed fallback, got %q", answer)
	}
}

func Test_Generate_EmptyModelAnswerReturnsFallback(t *testing.T) {
	t.Parallel()

	g := newTestGenerator(&fakeModel{response: "   "})
	answer := g.Generate(context.Background(), nil, nil, "q")

	if answer != Fallback {
		t.Errorf("want fixed fallback, got %q", answer)
	}
}

func Test_Generate_NilModelReturnsFallback(t *testing.T) {
	t.Parallel()

	g := newTestGenerator(nil)
	if answer := g.Generate(context.Background(), nil, nil, "q"); answer != Fallback {
		t.Errorf("want fixed fallback, got %q", answer)
	}
}

func Test_Generate_HistoryDepthLimited(t *testing.T) {
	t.Parallel()

	m := &fakeModel{response: "ok"}
	g := &Generator{model: m, historyDepth: 2, maxContextTokens: 6000}

	history := []store.Message{
		{Role: store.RoleUser, Content: "old"},
		{Role: store.RoleAssistant, Content: "older answer"},
		{Role: store.RoleUser, Content: "recent"},
		{Role: store.RoleAssistant, Content: "recent answer"},
	}
	g.Generate(context.Background(), history, nil, "q")

	// system + 2 history + question
	if len(m.received) != 4 {
		t.Fatalf("want 4 messages, got %d", len(m.received))
	}
	if m.received[1].Content != "recent" {
		t.Errorf("expected oldest history dropped, got %q first", m.received[1].Content)
	}
}

func Test_BuildContextBlock_Empty(t *testing.T) {
	t.Parallel()

	block := BuildContextBlock(nil)
	if !strings.HasPrefix(block, "## Context") {
		t.Errorf("context header missing: %q", block)
	}
}
