// Package collaborator defines the narrow contracts APEX consumes from
// external collaborators — an LLM client and a filesystem/test-runner
// tool adapter — plus a concrete OpenAI-backed LLM client (§6, §13).
package collaborator

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/apex-run/apex/internal/circuitbreaker"
	"github.com/apex-run/apex/internal/ratecontrol"
)

// Status enumerates the outcome of one generate call.
type Status string

const (
	StatusOK           Status = "ok"
	StatusTimeout      Status = "timeout"
	StatusError        Status = "error"
	StatusBudgetDenied Status = "budget_denied"
)

// LLMResult is the structured result of one stateless generate call.
type LLMResult struct {
	Text      string
	TokensIn  int
	TokensOut int
	Status    Status
}

// LLMClient is stateless per call; session isolation is the caller's
// concern, never the client's (§6).
type LLMClient interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (LLMResult, error)
}

// OpenAIClient implements LLMClient against the OpenAI chat completions
// API, wrapped in a circuit breaker so a failing collaborator degrades
// rather than cascades into the coordinator's decision loop.
type OpenAIClient struct {
	client   openai.Client
	model    string
	provider string
	tier     string
	breaker  *circuitbreaker.CircuitBreaker
	logger   *zap.Logger
}

// NewOpenAIClient constructs an OpenAIClient. apiKey/baseURL follow the
// openai-go option pattern; model selects the chat model for Generate.
// tier selects the rate_limits.tier_overrides bucket in config/models.yaml.
func NewOpenAIClient(apiKey, baseURL, model, tier string, logger *zap.Logger) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	cb := circuitbreaker.NewCircuitBreaker("collaborator-llm", circuitbreaker.DefaultConfig(), logger)
	return &OpenAIClient{
		client:   openai.NewClient(opts...),
		model:    model,
		provider: "openai",
		tier:     tier,
		breaker:  cb,
		logger:   logger,
	}
}

// Generate issues one stateless chat completion. The caller's context
// deadline governs the timeout/error distinction in the returned Status.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, maxTokens int) (LLMResult, error) {
	var result LLMResult

	if delay := ratecontrol.DelayForRequest(c.provider, c.tier, maxTokens); delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			result.Status = StatusTimeout
			return result, ctx.Err()
		}
	}

	err := c.breaker.Execute(ctx, func() error {
		resp, callErr := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: c.model,
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(prompt),
			},
			MaxTokens: openai.Int(int64(maxTokens)),
		})
		if callErr != nil {
			return callErr
		}
		if len(resp.Choices) == 0 {
			return errors.New("collaborator: empty choices")
		}
		result.Text = resp.Choices[0].Message.Content
		result.TokensIn = int(resp.Usage.PromptTokens)
		result.TokensOut = int(resp.Usage.CompletionTokens)
		return nil
	})

	switch {
	case err == nil:
		result.Status = StatusOK
		return result, nil
	case errors.Is(err, context.DeadlineExceeded):
		result.Status = StatusTimeout
		return result, err
	case errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen):
		result.Status = StatusError
		return result, err
	default:
		result.Status = StatusError
		return result, err
	}
}

// WithDeadline bounds a generate call at the given timeout, matching
// the generate(prompt, max_tokens, timeout) contract of §6.
func WithDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}
