// Package itinerary generates trip itineraries with a DeepSeek-compatible
// chat completion API and places the resulting stops on the map.
package itinerary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"webplanner/config"
	"webplanner/internal/proxy/retry"
	"webplanner/internal/storage"
)

const provider = "deepseek"

var (
	ErrMissingKey    = errors.New("DeepSeek API key not configured")
	ErrEmptyResponse = errors.New("model returned no choices")
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// Usage token 用量
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Result 一次行程生成的结果
type Result struct {
	Items    []storage.ItineraryItem `json:"itinerary"`
	Parsed   bool                    `json:"parsed"` // false 表示模型输出无法解析，使用了示例行程
	Model    string                  `json:"model"`
	Usage    Usage                   `json:"usage"`
	Attempts int                     `json:"attempts"`
	Elapsed  time.Duration           `json:"elapsed"`
}

// Model 是 /models 返回的条目
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// Client calls the chat completion API through the retrying executor. The
// executor's HTTP client decides whether the call is proxied.
type Client struct {
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	apiKey      func() string
	executor    *retry.Executor
	policy      retry.Policy
	logger      *slog.Logger
}

func NewClient(cfg config.DeepSeekConfig, apiKey func() string, executor *retry.Executor, policy retry.Policy) *Client {
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		apiKey:      apiKey,
		executor:    executor,
		policy:      policy,
		logger:      slog.Default(),
	}
}

// WorstCaseLatency is how long Generate may take before giving up.
func (c *Client) WorstCaseLatency() time.Duration {
	return c.policy.WorstCaseLatency()
}

func (c *Client) key() (string, error) {
	if c.apiKey == nil {
		return "", ErrMissingKey
	}
	k := strings.TrimSpace(c.apiKey())
	if k == "" {
		return "", ErrMissingKey
	}
	return k, nil
}

func (c *Client) headers(key string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer "+key)
	return h
}

// Generate asks the model for an itinerary. An unparseable reply is not an
// error: the sample itinerary is returned with Parsed=false.
func (c *Client) Generate(ctx context.Context, trip *storage.Trip) (*Result, error) {
	key, err := c.key()
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: BuildPrompt(trip)},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	c.logger.Info("🤖 [行程生成] 请求模型",
		"trip_id", trip.ID,
		"destination", trip.Destination,
		"model", c.model,
		"worst_case", c.WorstCaseLatency())

	resp, err := c.executor.Execute(ctx, retry.Request{
		Provider: provider,
		Method:   http.MethodPost,
		URL:      c.baseURL + "/chat/completions",
		Header:   c.headers(key),
		Body:     body,
	}, c.policy)
	if err != nil {
		return nil, err
	}

	var chat chatResponse
	if err := json.Unmarshal(resp.Body, &chat); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	items, parsed := ParseResponse(chat.Choices[0].Message.Content)
	if !parsed {
		c.logger.Warn("⚠️ [行程生成] 模型输出无法解析，使用示例行程", "trip_id", trip.ID)
	}

	model := chat.Model
	if model == "" {
		model = c.model
	}
	c.logger.Info("✅ [行程生成] 完成",
		"trip_id", trip.ID,
		"items", len(items),
		"parsed", parsed,
		"total_tokens", chat.Usage.TotalTokens,
		"elapsed", resp.Elapsed)

	return &Result{
		Items:    items,
		Parsed:   parsed,
		Model:    model,
		Usage:    chat.Usage,
		Attempts: len(resp.Attempts),
		Elapsed:  resp.Elapsed,
	}, nil
}

// ValidateKey lists models with the configured key. A rejected key surfaces
// as a *retry.TerminalError with IsAuth() true.
func (c *Client) ValidateKey(ctx context.Context) ([]Model, error) {
	key, err := c.key()
	if err != nil {
		return nil, err
	}

	resp, err := c.executor.Execute(ctx, retry.Request{
		Provider: provider,
		Method:   http.MethodGet,
		URL:      c.baseURL + "/models",
		Header:   c.headers(key),
	}, c.policy)
	if err != nil {
		return nil, err
	}

	var list struct {
		Data []Model `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	if list.Data == nil {
		list.Data = []Model{}
	}
	return list.Data, nil
}
