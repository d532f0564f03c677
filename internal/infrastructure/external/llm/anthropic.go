package llm

import (
	"context"
	"strings"

	"github.com/mentorlink/study-agent/internal/domain/textgen"
)

// AnthropicClient talks to the Anthropic messages API.
type AnthropicClient struct {
	transport
	apiKey string
	model  string
}

// NewAnthropicClient creates a messages-API backend.
func NewAnthropicClient(cfg Config) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	return &AnthropicClient{transport: newTransport(cfg), apiKey: cfg.APIKey, model: cfg.Model}, nil
}

var _ textgen.Generator = (*AnthropicClient)(nil)

type messagesRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate implements textgen.Generator. The messages API has no JSON mode;
// the system prompt carries that instruction instead.
func (c *AnthropicClient) Generate(ctx context.Context, prompt string, opts textgen.Options) (string, error) {
	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = textgen.DefaultOptions().MaxTokens
	}
	req := messagesRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: opts.Temperature,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
	}
	if opts.JSONMode {
		req.System = SystemPrompt
	}

	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": AnthropicVersion,
	}

	var resp messagesResponse
	if err := c.postJSON(ctx, "/messages", headers, req, &resp); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" || block.Type == "" {
			b.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", ErrEmptyCompletion
	}

	c.logger.Debug("llm usage", "provider", c.provider, "model", c.model,
		"input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens)
	return b.String(), nil
}

// Model implements textgen.Generator.
func (c *AnthropicClient) Model() string {
	return c.model
}
