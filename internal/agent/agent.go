// Package agent runs retrieval-augmented FAQ conversations: a single model
// loop with the search_faq tool, bounded tool calling, and best-effort
// interaction logging.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/faqgent/faqgent/internal/translog"
)

const (
	// Name identifies the assistant in interaction logs.
	Name = "faq_agent"

	// defaultMaxToolCalls bounds the agentic loop when config leaves it unset.
	defaultMaxToolCalls = 5

	// fallbackResponse is returned when the model produces no text and no
	// tool requests.
	fallbackResponse = "I couldn't generate a response. Please try rephrasing your question."
)

// StreamCallback is called for each chunk of streaming response.
// Return an error to abort the stream.
type StreamCallback func(ctx context.Context, chunk *ai.ModelResponseChunk) error

// generateFunc is the seam between the agent and Genkit.
// Tests substitute a fake; production uses genkit.Generate.
type generateFunc func(ctx context.Context, opts []ai.GenerateOption, cb StreamCallback) (*ai.ModelResponse, error)

// Config contains all required parameters for the FAQ agent.
type Config struct {
	Genkit *genkit.Genkit
	Tool   *SearchTool
	Logger *slog.Logger

	// ModelName is the provider-qualified model (e.g. "googleai/gemini-2.5-flash").
	ModelName string
	// SystemPrompt frames the assistant (course context, answering rules).
	SystemPrompt string
	// MaxToolCalls bounds the tool loop per run (default 5).
	MaxToolCalls int

	// Resilience. Zero values use defaults.
	RateLimiter   *rate.Limiter
	BreakerConfig BreakerConfig

	// Interactions receives one record per completed run (nil disables).
	Interactions *translog.Logger
	CorpusOwner  string
	CorpusName   string

	// StreamDebounce batches streamed increments; zero emits per snapshot.
	StreamDebounce time.Duration
}

// validate checks if all required parameters are present.
func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.Tool == nil {
		return errors.New("search tool is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ModelName == "" {
		return errors.New("model name is required")
	}
	if cfg.SystemPrompt == "" {
		return errors.New("system prompt is required")
	}
	return nil
}

// RunResult is the outcome of one completed run.
type RunResult struct {
	// Output is the concatenation of all model text produced during the run.
	Output string
	// NewMessages is the full conversation delta for the turn: the user
	// message, any tool request/response messages, and the model messages.
	// Callers append it to their history for the next turn.
	NewMessages []*ai.Message
}

// Agent answers FAQ questions with a tool-calling model loop.
//
// Agent is stateless across runs; conversation history is owned by the
// caller and passed into each run. All configuration is captured immutably
// at construction so concurrent runs are safe.
type Agent struct {
	modelName    string
	systemPrompt string
	maxToolCalls int
	debounce     time.Duration
	corpus       string

	breaker     *Breaker
	rateLimiter *rate.Limiter

	g            *genkit.Genkit
	tool         *SearchTool
	toolRef      ai.ToolRef
	interactions *translog.Logger
	logger       *slog.Logger

	generate generateFunc
}

// New creates an Agent and registers the search tool with Genkit.
func New(cfg Config) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	maxToolCalls := cfg.MaxToolCalls
	if maxToolCalls <= 0 {
		maxToolCalls = defaultMaxToolCalls
	}

	// Default: 10 requests/sec sustained, burst of 30.
	rl := cfg.RateLimiter
	if rl == nil {
		rl = rate.NewLimiter(10, 30)
	}

	a := &Agent{
		modelName:    cfg.ModelName,
		systemPrompt: cfg.SystemPrompt,
		maxToolCalls: maxToolCalls,
		debounce:     cfg.StreamDebounce,
		corpus:       cfg.CorpusOwner + "/" + cfg.CorpusName,

		breaker:     NewBreaker(cfg.BreakerConfig),
		rateLimiter: rl,

		g:            cfg.Genkit,
		tool:         cfg.Tool,
		toolRef:      cfg.Tool.Register(cfg.Genkit),
		interactions: cfg.Interactions,
		logger:       cfg.Logger,
	}

	a.generate = func(ctx context.Context, opts []ai.GenerateOption, cb StreamCallback) (*ai.ModelResponse, error) {
		if cb != nil {
			opts = append(opts, ai.WithStreaming(cb))
		}
		return genkit.Generate(ctx, a.g, opts...)
	}

	a.logger.Info("faq agent initialized",
		"model", a.modelName,
		"maxToolCalls", a.maxToolCalls,
		"corpus", a.corpus,
	)

	return a, nil
}

// Run executes one blocking conversation turn. history holds the prior
// turns (owned by the caller); the returned NewMessages extend it.
func (a *Agent) Run(ctx context.Context, prompt string, history []*ai.Message) (*RunResult, error) {
	res, err := a.run(ctx, prompt, history, nil)
	if err != nil {
		return nil, err
	}
	a.logInteraction(ctx, res)
	return res, nil
}

// run is the shared generation path for blocking and streaming modes.
func (a *Agent) run(ctx context.Context, prompt string, history []*ai.Message, cb StreamCallback) (*RunResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, errEmptyPrompt
	}

	// Deep copy is required to prevent a data race in Genkit's
	// renderMessages(), which modifies msg.Content in place.
	// Tested version: github.com/firebase/genkit/go v1.4.0.
	messages := deepCopyMessages(history)
	priorLen := len(messages)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(prompt)))

	opts := []ai.GenerateOption{
		ai.WithModelName(a.modelName),
		ai.WithSystem(a.systemPrompt),
		ai.WithMessagesFn(func(_ context.Context, _ any) ([]*ai.Message, error) {
			return messages, nil
		}),
		ai.WithTools(a.toolRef),
		ai.WithMaxTurns(a.maxToolCalls),
	}

	if err := a.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	if err := a.breaker.Allow(); err != nil {
		a.logger.Warn("circuit breaker is open, rejecting request",
			"state", a.breaker.State().String())
		return nil, fmt.Errorf("service unavailable: %w", err)
	}

	a.logger.Debug("generating response",
		"model", a.modelName,
		"maxToolCalls", a.maxToolCalls,
		"historyLength", priorLen,
		"promptLength", len(prompt),
		"streaming", cb != nil,
	)

	resp, err := a.generate(ctx, opts, cb)
	if err != nil {
		if loopExhausted(err) {
			// The backend itself is healthy; don't count against the breaker.
			return nil, fmt.Errorf("%w: model did not answer within %d tool calls", ErrToolLoopExceeded, a.maxToolCalls)
		}
		a.breaker.Failure()
		return nil, fmt.Errorf("%w: %v", ErrModelBackend, err)
	}
	a.breaker.Success()

	delta := newMessages(resp.History(), priorLen)
	output := modelText(delta)
	if strings.TrimSpace(output) == "" && len(resp.ToolRequests()) == 0 {
		a.logger.Warn("model returned empty response with no tool requests")
		output = fallbackResponse
	}

	return &RunResult{Output: output, NewMessages: delta}, nil
}

// logInteraction records a completed run. Best-effort: translog swallows
// its own failures. Uses a detached context so a canceled run context
// cannot abort the write.
func (a *Agent) logInteraction(ctx context.Context, res *RunResult) {
	if a.interactions == nil {
		return
	}
	a.interactions.Log(context.WithoutCancel(ctx), translog.Record{
		Agent:    Name,
		Model:    a.modelName,
		Corpus:   a.corpus,
		Messages: res.NewMessages,
	})
}

// newMessages returns the suffix of full after the first priorLen
// non-system messages. Genkit may prepend a system message to the request
// history, which is not part of the caller's conversation.
func newMessages(full []*ai.Message, priorLen int) []*ai.Message {
	seen := 0
	for i, m := range full {
		if m.Role == ai.RoleSystem {
			continue
		}
		if seen == priorLen {
			return full[i:]
		}
		seen++
	}
	return nil
}

// modelText concatenates all model-role text segments in msgs.
// Tool requests and responses contribute nothing.
func modelText(msgs []*ai.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		if m.Role != ai.RoleModel {
			continue
		}
		for _, p := range m.Content {
			if p.IsText() {
				sb.WriteString(p.Text)
			}
		}
	}
	return sb.String()
}

// deepCopyMessages creates independent copies of Message and Part structs.
//
// WORKAROUND: Genkit's renderMessages() modifies msg.Content in-place,
// causing data races when concurrent runs share message objects.
//
// Tested version: github.com/firebase/genkit/go v1.4.0
//
// To remove: upgrade Genkit, run the race detector over this package, and
// drop the copies if it passes.
func deepCopyMessages(msgs []*ai.Message) []*ai.Message {
	if msgs == nil {
		return nil // preserve nil vs empty slice semantics
	}
	copied := make([]*ai.Message, len(msgs))
	for i, msg := range msgs {
		parts := make([]*ai.Part, len(msg.Content))
		for j, part := range msg.Content {
			parts[j] = deepCopyPart(part)
		}
		copied[i] = &ai.Message{
			Role:     msg.Role,
			Content:  parts,
			Metadata: shallowCopyMap(msg.Metadata),
		}
	}
	return copied
}

// deepCopyPart creates an independent copy of an ai.Part struct.
//
// ToolRequest.Input and ToolResponse.Output are type `any` and copied by
// reference: Genkit only mutates msg.Content, not tool data.
func deepCopyPart(p *ai.Part) *ai.Part {
	if p == nil {
		return nil
	}
	cp := &ai.Part{
		Kind:        p.Kind,
		ContentType: p.ContentType,
		Text:        p.Text,
		Custom:      shallowCopyMap(p.Custom),
		Metadata:    shallowCopyMap(p.Metadata),
	}
	if p.ToolRequest != nil {
		cp.ToolRequest = &ai.ToolRequest{
			Input: p.ToolRequest.Input,
			Name:  p.ToolRequest.Name,
			Ref:   p.ToolRequest.Ref,
		}
	}
	if p.ToolResponse != nil {
		cp.ToolResponse = &ai.ToolResponse{
			Name:   p.ToolResponse.Name,
			Output: p.ToolResponse.Output,
			Ref:    p.ToolResponse.Ref,
		}
	}
	if p.Resource != nil {
		cp.Resource = &ai.ResourcePart{Uri: p.Resource.Uri}
	}
	return cp
}

// shallowCopyMap copies map keys and values but not nested structures.
func shallowCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
