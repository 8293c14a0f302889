// Package cmd implements the faqgent command line interface.
//
// The default command is chat; ask, reindex, mcp and version are
// subcommands. Every command loads configuration, initializes the
// application via app.Setup and releases it on exit.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "faqgent",
	Short: "Conversational FAQ assistant for a GitHub repository",
	Long: `faqgent answers questions about a GitHub FAQ repository.

It indexes the repository's markdown documents at startup and lets an
LLM agent search them before answering. Running faqgent without a
subcommand starts the interactive chat.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// No subcommand enters chat mode
		return runChat(cmd, args)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
