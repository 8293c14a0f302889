package agent

import (
	"bufio"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"go.uber.org/goleak"

	"github.com/faqgent/faqgent/internal/log"
	"github.com/faqgent/faqgent/internal/translog"
)

func textChunk(s string) *ai.ModelResponseChunk {
	return &ai.ModelResponseChunk{Content: []*ai.Part{ai.NewTextPart(s)}}
}

// streamReply builds a generateFunc that streams the given chunks and then
// returns a response whose model text is their concatenation.
func streamReply(prompt string, chunks ...string) generateFunc {
	return func(ctx context.Context, _ []ai.GenerateOption, cb StreamCallback) (*ai.ModelResponse, error) {
		var full strings.Builder
		for _, c := range chunks {
			full.WriteString(c)
			if cb != nil {
				if err := cb(ctx, textChunk(c)); err != nil {
					return nil, err
				}
			}
		}
		return &ai.ModelResponse{
			Request: &ai.ModelRequest{Messages: []*ai.Message{ai.NewUserMessage(ai.NewTextPart(prompt))}},
			Message: ai.NewModelMessage(ai.NewTextPart(full.String())),
		}, nil
	}
}

func collect(t *testing.T, s *Stream) (string, error) {
	t.Helper()

	var sb strings.Builder
	for delta, err := range s.Text() {
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(delta)
	}
	return sb.String(), nil
}

func TestRunStream_IncrementsConcatenateToFinalText(t *testing.T) {
	t.Parallel()

	prompt := "what is dbt?"
	a := newTestAgent(t, streamReply(prompt, "dbt", " is", " a tool"))

	s, err := a.RunStream(context.Background(), prompt, nil)
	if err != nil {
		t.Fatalf("RunStream() error = %v", err)
	}

	got, err := collect(t, s)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if got != "dbt is a tool" {
		t.Errorf("concatenated increments = %q, want %q", got, "dbt is a tool")
	}
	if final := s.FinalText(); final != got {
		t.Errorf("FinalText() = %q, concatenation = %q; must be equal", final, got)
	}
	if msgs := s.NewMessages(); len(msgs) != 2 {
		t.Errorf("got %d new messages, want 2 (user + model)", len(msgs))
	}
	if s.Err() != nil {
		t.Errorf("Err() = %v, want nil", s.Err())
	}
}

func TestRunStream_EmptyPrompt(t *testing.T) {
	t.Parallel()

	a := newTestAgent(t, nil)
	if _, err := a.RunStream(context.Background(), "", nil); err == nil {
		t.Error("RunStream() should reject a blank prompt")
	}
}

func TestRunStream_TerminalErrorEvent(t *testing.T) {
	t.Parallel()

	a := newTestAgent(t, func(ctx context.Context, _ []ai.GenerateOption, cb StreamCallback) (*ai.ModelResponse, error) {
		if err := cb(ctx, textChunk("partial")); err != nil {
			return nil, err
		}
		return nil, errors.New("503 backend exploded")
	})

	s, err := a.RunStream(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("RunStream() error = %v", err)
	}

	var increments []string
	var terminal error
	for delta, err := range s.Text() {
		if err != nil {
			terminal = err
			continue
		}
		increments = append(increments, delta)
	}

	if len(increments) != 1 || increments[0] != "partial" {
		t.Errorf("increments = %v, want [partial]", increments)
	}
	if !errors.Is(terminal, ErrModelBackend) {
		t.Errorf("terminal error = %v, want ErrModelBackend", terminal)
	}
	if !errors.Is(s.Err(), ErrModelBackend) {
		t.Errorf("Err() = %v, want ErrModelBackend", s.Err())
	}
}

func TestRunStream_DebounceBatchesIncrements(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.StreamDebounce = time.Hour // everything after the first flush batches
	a, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	prompt := "q"
	a.generate = streamReply(prompt, "dbt", " is", " a tool")

	s, err := a.RunStream(context.Background(), prompt, nil)
	if err != nil {
		t.Fatalf("RunStream() error = %v", err)
	}

	var increments []string
	for delta, err := range s.Text() {
		if err != nil {
			t.Fatalf("stream error = %v", err)
		}
		increments = append(increments, delta)
	}

	// First chunk flushes immediately, the rest arrive in the final flush.
	if len(increments) != 2 {
		t.Fatalf("increments = %v, want 2 batches", increments)
	}
	if strings.Join(increments, "") != "dbt is a tool" {
		t.Errorf("joined increments = %q, want full text", strings.Join(increments, ""))
	}
}

func TestRunStream_EarlyCloseStopsProducer(t *testing.T) {
	a := newTestAgent(t, func(ctx context.Context, _ []ai.GenerateOption, cb StreamCallback) (*ai.ModelResponse, error) {
		for {
			if err := cb(ctx, textChunk("more text ")); err != nil {
				return nil, err
			}
		}
	})

	// Ignore goroutines genkit.Init may have started; only the stream's
	// producer is under test.
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s, err := a.RunStream(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("RunStream() error = %v", err)
	}

	for range s.Text() {
		break // abandoning iteration must tear the run down
	}

	if err := s.Err(); err == nil {
		t.Error("abandoned run should end with a cancellation error")
	}
}

func TestRunStream_LogsExactlyOnce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.Interactions = translog.New(dir, log.NewNop())
	a, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	prompt := "how do I join the course?"
	a.generate = streamReply(prompt, "Register", " on the website.")

	s, err := a.RunStream(context.Background(), prompt, nil)
	if err != nil {
		t.Fatalf("RunStream() error = %v", err)
	}
	if _, err := collect(t, s); err != nil {
		t.Fatalf("stream error = %v", err)
	}

	// The write happens after the stream is exhausted; poll briefly.
	path := cfg.Interactions.Path(time.Now())
	deadline := time.Now().Add(2 * time.Second)
	for {
		if lines := countLines(t, path); lines > 0 || time.Now().After(deadline) {
			if lines != 1 {
				t.Errorf("got %d log lines, want exactly 1", lines)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func countLines(t *testing.T, path string) int {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			n++
		}
	}
	return n
}

func TestEmitter_CumulativeSnapshotsYieldGapFreeDeltas(t *testing.T) {
	t.Parallel()

	out := make(chan string, 16)
	e := &emitter{out: out}

	ctx := context.Background()
	for _, chunk := range []string{"dbt", " is", " a tool"} {
		if err := e.callback(ctx, textChunk(chunk)); err != nil {
			t.Fatalf("callback error = %v", err)
		}
	}
	e.finish(ctx, "dbt is a tool")
	close(out)

	var got []string
	for d := range out {
		got = append(got, d)
	}
	if strings.Join(got, "") != "dbt is a tool" {
		t.Errorf("deltas %v do not concatenate to the snapshot", got)
	}
	for _, d := range got {
		if d == "" {
			t.Error("emitted an empty delta")
		}
	}
}

func TestEmitter_FinishEmitsFallbackWhenNothingStreamed(t *testing.T) {
	t.Parallel()

	out := make(chan string, 1)
	e := &emitter{out: out}

	e.finish(context.Background(), fallbackResponse)
	close(out)

	if got := <-out; got != fallbackResponse {
		t.Errorf("final flush = %q, want fallback text", got)
	}
}

func TestEmitter_FinishSkipsDivergedOutput(t *testing.T) {
	t.Parallel()

	out := make(chan string, 16)
	e := &emitter{out: out}

	ctx := context.Background()
	if err := e.callback(ctx, textChunk("streamed text")); err != nil {
		t.Fatal(err)
	}
	e.finish(ctx, "completely different")
	close(out)

	var got []string
	for d := range out {
		got = append(got, d)
	}
	if len(got) != 1 || got[0] != "streamed text" {
		t.Errorf("deltas = %v, finish must not duplicate diverged output", got)
	}
}
