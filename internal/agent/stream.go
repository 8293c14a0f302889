package agent

import (
	"context"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
)

// streamBufferSize bounds the increment channel so a slow consumer applies
// backpressure to the model stream instead of buffering without limit.
const streamBufferSize = 32

// Stream delivers a run's output as gap-free text increments.
// Obtain one from Agent.RunStream and consume it with Text.
type Stream struct {
	cancel context.CancelFunc
	incr   chan string
	done   chan struct{}

	// Written once by the producer before done is closed.
	res *RunResult
	err error
}

// RunStream executes one conversation turn, streaming output increments as
// the model produces them. The returned Stream must be consumed via Text
// or torn down via Close.
func (a *Agent) RunStream(ctx context.Context, prompt string, history []*ai.Message) (*Stream, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, errEmptyPrompt
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &Stream{
		cancel: cancel,
		incr:   make(chan string, streamBufferSize),
		done:   make(chan struct{}),
	}
	em := &emitter{out: s.incr, debounce: a.debounce}

	go func() {
		defer cancel()

		res, err := a.run(runCtx, prompt, history, em.callback)
		if err == nil {
			// Final flush: whatever the debounce gate held back, plus any
			// divergence between streamed chunks and the final output.
			em.finish(runCtx, res.Output)
		}

		s.res, s.err = res, err
		close(s.incr)
		close(s.done)

		if err == nil {
			a.logInteraction(runCtx, res)
		}
	}()

	return s, nil
}

// Text returns the run's output as a pull sequence of text increments.
// Concatenating every increment yields exactly FinalText. A failed run
// yields a single terminal ("", err) element after the last increment.
// Breaking out of the loop tears the run down.
func (s *Stream) Text() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for delta := range s.incr {
			if !yield(delta, nil) {
				s.Close()
				return
			}
		}
		<-s.done
		if s.err != nil {
			yield("", s.err)
		}
	}
}

// FinalText blocks until the run completes and returns the full output.
func (s *Stream) FinalText() string {
	<-s.done
	if s.res == nil {
		return ""
	}
	return s.res.Output
}

// NewMessages blocks until the run completes and returns the conversation
// delta for the turn.
func (s *Stream) NewMessages() []*ai.Message {
	<-s.done
	if s.res == nil {
		return nil
	}
	return s.res.NewMessages
}

// Err blocks until the run completes and returns its terminal error, if any.
func (s *Stream) Err() error {
	<-s.done
	return s.err
}

// Close cancels the run. Safe to call multiple times and concurrently with
// iteration; an abandoned producer shuts down as soon as it observes the
// canceled context.
func (s *Stream) Close() {
	s.cancel()
}

// emitter converts the model's cumulative text into gap-free increments.
// The callback appends each chunk to a snapshot of the text so far and
// emits snapshot[lastEmitted:], so re-sent or overlapping chunks can never
// duplicate output.
type emitter struct {
	out      chan<- string
	debounce time.Duration

	mu          sync.Mutex
	snapshot    strings.Builder
	lastEmitted int
	lastFlush   time.Time
}

// callback is the model streaming hook. Returning an error aborts the run.
func (e *emitter) callback(ctx context.Context, chunk *ai.ModelResponseChunk) error {
	e.mu.Lock()
	e.snapshot.WriteString(chunk.Text())
	snap := e.snapshot.String()

	if e.debounce > 0 && time.Since(e.lastFlush) < e.debounce {
		// Batched: the text rides along with a later flush.
		e.mu.Unlock()
		return nil
	}

	delta := snap[e.lastEmitted:]
	e.lastEmitted = len(snap)
	e.lastFlush = time.Now()
	e.mu.Unlock()

	return e.send(ctx, delta)
}

// finish emits the unsent tail of the final output. When the run's output
// diverges from the streamed snapshot (e.g. an empty response replaced with
// the fallback message), the emitted prefix no longer matches and nothing
// more is sent to avoid duplicating text.
func (e *emitter) finish(ctx context.Context, final string) {
	e.mu.Lock()
	sent := e.snapshot.String()[:e.lastEmitted]
	e.lastEmitted = len(final)
	e.mu.Unlock()

	if !strings.HasPrefix(final, sent) {
		return
	}
	_ = e.send(ctx, final[len(sent):])
}

func (e *emitter) send(ctx context.Context, delta string) error {
	if delta == "" {
		return nil
	}
	select {
	case e.out <- delta:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
