package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/faqgent/faqgent/internal/config"
)

func TestRootCmd_RegistersSubcommands(t *testing.T) {
	want := []string{"ask", "chat", "reindex", "mcp", "version"}

	for _, name := range want {
		found := false
		for _, c := range rootCmd.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestAskCmd_RequiresQuestion(t *testing.T) {
	if err := askCmd.Args(askCmd, nil); err == nil {
		t.Error("expected error for missing question")
	}
	if err := askCmd.Args(askCmd, []string{"what", "is", "dbt"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestIsExitWord(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"stop", true},
		{"STOP", true},
		{"exit", true},
		{"quit", true},
		{"/exit", true},
		{"/quit", true},
		{"stop it", false},
		{"how do I exit vim", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := isExitWord(tt.input); got != tt.want {
			t.Errorf("isExitWord(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestRenderMarkdown_KeepsContent(t *testing.T) {
	out := renderMarkdown("# Heading\n\nSome **bold** answer.")
	if !strings.Contains(out, "Heading") {
		t.Errorf("rendered output lost heading:\n%s", out)
	}
	if !strings.Contains(out, "answer") {
		t.Errorf("rendered output lost body:\n%s", out)
	}
}

func TestRequestTimeout(t *testing.T) {
	if got := requestTimeout(&config.Config{RequestTimeoutSec: 30}); got != 30*time.Second {
		t.Errorf("got %v, want 30s", got)
	}
	if got := requestTimeout(&config.Config{}); got != 120*time.Second {
		t.Errorf("default = %v, want 120s", got)
	}
}
