package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/firebase/genkit/go/ai"
	"github.com/spf13/cobra"

	"github.com/faqgent/faqgent/internal/app"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	RunE:  runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			a.Logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	fmt.Printf("FAQ assistant for %s/%s\n", a.Config.GitHubOwner, a.Config.GitHubRepo)
	fmt.Println("Type your question, or 'stop' to exit.")
	fmt.Println()

	// Conversation history lives in this loop. Each turn passes the
	// accumulated messages in and appends the turn's delta.
	var history []*ai.Message

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("You: ")

		if !scanner.Scan() {
			// EOF (Ctrl+D)
			fmt.Println("\nGoodbye!")
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if isExitWord(input) {
			fmt.Println("Goodbye!")
			break
		}

		delta, err := chatTurn(ctx, a, input, history)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				fmt.Println("\nGoodbye!")
				break
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
			continue
		}
		history = append(history, delta...)
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading input: %w", err)
	}
	return nil
}

// chatTurn streams one answer to stdout and returns the turn's new
// messages for the caller to append to its history.
func chatTurn(ctx context.Context, a *app.App, input string, history []*ai.Message) ([]*ai.Message, error) {
	turnCtx, cancel := context.WithTimeout(ctx, requestTimeout(a.Config))
	defer cancel()

	s, err := a.Agent.RunStream(turnCtx, input, history)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	fmt.Print("Assistant: ")
	for delta, streamErr := range s.Text() {
		if streamErr != nil {
			fmt.Println()
			return nil, streamErr
		}
		fmt.Print(delta)
	}
	fmt.Print("\n\n")

	return s.NewMessages(), nil
}

func isExitWord(input string) bool {
	switch strings.ToLower(input) {
	case "stop", "exit", "quit", "/exit", "/quit":
		return true
	}
	return false
}
