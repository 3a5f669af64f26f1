// Package reasoner wraps the Anthropic API behind the two capabilities the
// pipeline consumes: free-text reasoning and structured-JSON reasoning.
package reasoner

import (
	"context"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/knowledge-cli/internal/resilience"
)

// Client defines the reasoning operations used by pipeline phases. Only
// phase functions call it, and only after a cache miss.
type Client interface {
	// AskText asks for a free-text answer.
	AskText(ctx context.Context, req Request) (*TextResult, error)

	// AskStructured asks for a JSON answer and decodes it into out. A
	// malformed model response is reported in StructuredResult.ParseErr,
	// not as an error: the error return covers transport failures only.
	AskStructured(ctx context.Context, req Request, out any) (*StructuredResult, error)
}

// Request is a single reasoning request.
type Request struct {
	System      string
	Prompt      string
	Model       string // optional override of the configured model
	MaxTokens   int64
	Temperature *float64
}

// TextResult is the outcome of AskText.
type TextResult struct {
	Text  string
	Model string
	Usage TokenUsage
}

// StructuredResult is the outcome of AskStructured. Exactly one of
// {decoded out, ParseErr} is meaningful.
type StructuredResult struct {
	Raw      string
	ParseErr *ParseError
	Model    string
	Usage    TokenUsage
}

// TokenUsage tracks token consumption for cost accounting.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// Add accumulates usage from another call.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
}

// Config holds client construction options.
type Config struct {
	APIKey         string
	Model          string
	MaxTokens      int64
	RequestsPerSec float64
	Burst          int
}

// sdkClient implements Client using the official anthropic-sdk-go,
// rate-limited and retried on transient failures.
type sdkClient struct {
	client    sdk.Client
	model     string
	maxTokens int64
	limiter   *rate.Limiter
	retry     resilience.RetryConfig
}

// NewClient creates a reasoner client backed by the SDK.
func NewClient(cfg Config) Client {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 4
	}

	retryCfg := resilience.DefaultConfig()
	retryCfg.ShouldRetry = retryable
	retryCfg.OnRetry = resilience.LogRetries("anthropic.create_message")

	return &sdkClient{
		client:    sdk.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		retry:     retryCfg,
	}
}

func (c *sdkClient) AskText(ctx context.Context, req Request) (*TextResult, error) {
	msg, err := c.createMessage(ctx, req)
	if err != nil {
		return nil, err
	}

	return &TextResult{
		Text:  messageText(msg),
		Model: string(msg.Model),
		Usage: usageFrom(msg),
	}, nil
}

func (c *sdkClient) AskStructured(ctx context.Context, req Request, out any) (*StructuredResult, error) {
	msg, err := c.createMessage(ctx, req)
	if err != nil {
		return nil, err
	}

	raw := messageText(msg)
	result := &StructuredResult{
		Raw:   raw,
		Model: string(msg.Model),
		Usage: usageFrom(msg),
	}
	result.ParseErr = DecodeJSON(raw, out)
	if result.ParseErr != nil {
		zap.L().Debug("reasoner: unparseable structured output",
			zap.String("model", result.Model),
			zap.String("reason", result.ParseErr.Reason),
		)
	}
	return result, nil
}

func (c *sdkClient) createMessage(ctx context.Context, req Request) (*sdk.Message, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "reasoner: rate limit wait")
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := resilience.Do(ctx, c.retry, func(ctx context.Context) (*sdk.Message, error) {
		return c.client.Messages.New(ctx, params)
	})
	if err != nil {
		return nil, eris.Wrap(err, "reasoner: create message")
	}
	return msg, nil
}

// retryable classifies SDK failures. API errors carry an HTTP status and are
// checked against the transient set (429 rate limit, 529 overloaded, 5xx);
// everything else falls back to the network heuristics.
func retryable(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return resilience.IsTransientHTTPStatus(apiErr.StatusCode)
	}
	return resilience.IsTransient(err)
}

func messageText(msg *sdk.Message) string {
	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text
		}
	}
	return ""
}

func usageFrom(msg *sdk.Message) TokenUsage {
	return TokenUsage{
		InputTokens:              msg.Usage.InputTokens,
		OutputTokens:             msg.Usage.OutputTokens,
		CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
	}
}
