// Command docqa is the entry point for the DocQA conversational document
// assistant. It provides a CLI interface (via Cobra) and an HTTP server
// exposing the chat and admin APIs.
package main

import (
	"fmt"
	"os"

	"github.com/docqa/docqa-go/cmd/docqa/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
