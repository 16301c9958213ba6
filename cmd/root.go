// Package cmd wires the limcode command-line interface.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "limcode",
	Short: "Agentic LLM chat with tool execution",
	Long: `limcode runs an agentic chat loop against a configured model
channel: the model streams replies, requests tool calls, and limcode
executes them (with confirmation for unapproved tools) until the model
stops.

Examples:
  limcode chat "rename every *.txt in ./docs to *.md"
  limcode chat --channel fast
  limcode chat --auto read_file,glob "summarize this repo"`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

var debugFlag bool

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Emit debug logs")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
