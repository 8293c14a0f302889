package agent

import (
	"errors"
	"strings"
)

// Sentinel errors for agent runs.
var (
	// ErrToolLoopExceeded indicates the model kept requesting tools past
	// the configured limit without producing a final answer.
	ErrToolLoopExceeded = errors.New("tool loop exceeded")

	// ErrModelBackend indicates the model backend failed for this run.
	// Terminal for the run only; the caller decides whether to try again.
	ErrModelBackend = errors.New("model backend failure")
)

// errEmptyPrompt rejects blank prompts on both the blocking and streaming paths.
var errEmptyPrompt = errors.New("prompt is required")

// loopExhaustedPatterns matches the error Genkit returns when the agentic
// loop runs out of turns. Matched case-insensitively against err.Error().
//
// NOTE: This uses string matching because Genkit does not expose a
// typed/sentinel error for turn exhaustion.
// This is a documented exception to the project rule against
// strings.Contains(err.Error(), ...).
// Re-evaluate if Genkit adds structured error types in a future version.
var loopExhaustedPatterns = []string{
	"exceeded maximum tool call iterations",
	"max turns",
}

// loopExhausted reports whether err is Genkit's turn-exhaustion error.
func loopExhausted(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range loopExhaustedPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
