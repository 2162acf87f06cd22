package commands

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docqa/docqa-go/internal/analyzer"
	"github.com/docqa/docqa-go/internal/generator"
	"github.com/docqa/docqa-go/internal/logging"
	"github.com/docqa/docqa-go/internal/pipeline"
	"github.com/docqa/docqa-go/internal/provider"
	"github.com/docqa/docqa-go/internal/store"
)

// NewAskCmd constructs the `docqa ask` command, which runs a single question
// through the full pipeline and prints the answer to stdout.
func NewAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a one-shot question over the document corpus",
		Long: `Ask a single natural language question and print the grounded answer.

The question runs through the same analyze, retrieve, and generate pipeline
as the HTTP chat API, using a throwaway conversation. Retrieval requires a
populated Qdrant store (see 'docqa ingest'); without one the answer is
generated from the model alone.

Examples:
  docqa ask "what is the refund policy?"
  QDRANT_HOST=localhost docqa ask "how do I reset my password?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}

			ragc, err := buildRAG(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer ragc.close()

			// A one-shot question needs no persistence; the conversation is
			// discarded when the command exits.
			pl, err := pipeline.New(&pipeline.Config{
				Analyzer:  analyzer.New(chatModel),
				Retriever: ragc.retriever,
				Generator: generator.New(&generator.Config{ChatModel: chatModel}),
				Store:     store.NewMemoryStore(),
			})
			if err != nil {
				return fmt.Errorf("ask: failed to initialise pipeline: %w", err)
			}

			answer, err := pl.HandleTurn(ctx, newConversationID(), args[0])
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}

	return cmd
}

// newConversationID returns a random hex conversation ID for throwaway
// one-shot conversations.
func newConversationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return "cli-" + hex.EncodeToString(b)
}
