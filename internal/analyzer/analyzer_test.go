package analyzer

import (
	"context"
	"fmt"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/docqa/docqa-go/internal/store"
)

// fakeModel returns a fixed response or error from Generate.
type fakeModel struct {
	response string
	err      error
}

func (f *fakeModel) Generate(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.response, nil), nil
}

func newTestAnalyzer(m chatModel) *Analyzer {
	return &Analyzer{model: m}
}

func userTurn(content string) []store.Message {
	return []store.Message{{Role: store.RoleUser, Content: content}}
}

func Test_Analyze_StructuredOutputParsed(t *testing.T) {
	t.Parallel()

	a := newTestAnalyzer(&fakeModel{response: `{"query_text":"company services overview","section":"beginning"}`})
	q := a.Analyze(context.Background(), userTurn("So, what is it you folks actually do?"))

	if q.QueryText != "company services overview" {
		t.Errorf("query text: got %q", q.QueryText)
	}
	if q.Section != SectionBeginning {
		t.Errorf("section: want beginning, got %s", q.Section)
	}
	if q.Degraded {
		t.Error("query should not be marked degraded")
	}
}

func Test_Analyze_FencedJSONAccepted(t *testing.T) {
	t.Parallel()

	a := newTestAnalyzer(&fakeModel{response: "```json\n{\"query_text\":\"pricing\",\"section\":\"end\"}\n```"})
	q := a.Analyze(context.Background(), userTurn("how much does it cost"))

	if q.QueryText != "pricing" || q.Section != SectionEnd {
		t.Errorf("got %+v", q)
	}
}

func Test_Analyze_ProviderErrorDegradesToRawText(t *testing.T) {
	t.Parallel()

	a := newTestAnalyzer(&fakeModel{err: fmt.Errorf("model unavailable")})
	q := a.Analyze(context.Background(), userTurn("what does Altar.io do?"))

	if q.QueryText != "what does Altar.io do?" {
		t.Errorf("degraded query text: got %q", q.QueryText)
	}
	if q.Section != SectionMiddle {
		t.Errorf("degraded section: want middle, got %s", q.Section)
	}
	if !q.Degraded {
		t.Error("query should be marked degraded")
	}
}

func Test_Analyze_MalformedOutputDegradesToRawText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		response string
	}{
		{"not json", "the query is: services"},
		{"empty query_text", `{"query_text":"","section":"middle"}`},
		{"empty response", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a := newTestAnalyzer(&fakeModel{response: tc.response})
			q := a.Analyze(context.Background(), userTurn("raw question"))
			if q.QueryText != "raw question" {
				t.Errorf("want raw utterance fallback, got %q", q.QueryText)
			}
			if !q.Degraded {
				t.Error("query should be marked degraded")
			}
		})
	}
}

func Test_Analyze_NoUserMessageReturnsEmptyQuery(t *testing.T) {
	t.Parallel()

	a := newTestAnalyzer(&fakeModel{response: `{"query_text":"x","section":"middle"}`})
	q := a.Analyze(context.Background(), nil)

	if q.QueryText != "" {
		t.Errorf("want empty query text, got %q", q.QueryText)
	}
	if q.Section != SectionMiddle {
		t.Errorf("want middle section, got %s", q.Section)
	}
}

func Test_Analyze_ScansBackwardForLastUserMessage(t *testing.T) {
	t.Parallel()

	a := newTestAnalyzer(&fakeModel{err: fmt.Errorf("force raw fallback")})
	msgs := []store.Message{
		{Role: store.RoleUser, Content: "first question"},
		{Role: store.RoleAssistant, Content: "first answer"},
		{Role: store.RoleUser, Content: "second question"},
		{Role: store.RoleAssistant, Content: "second answer"},
	}

	q := a.Analyze(context.Background(), msgs)
	if q.QueryText != "second question" {
		t.Errorf("want last user message, got %q", q.QueryText)
	}
}

func Test_NormalizeSection(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   Section
		want Section
	}{
		{"beginning", SectionBeginning},
		{"end", SectionEnd},
		{"middle", SectionMiddle},
		{"BEGINNING", SectionBeginning},
		{"somewhere", SectionMiddle},
		{"", SectionMiddle},
	}
	for _, tc := range cases {
		if got := normalizeSection(tc.in); got != tc.want {
			t.Errorf("normalizeSection(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
