package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gocityvibes/emini/config"
	"github.com/gocityvibes/emini/internal/logging"
	"github.com/gocityvibes/emini/internal/prefilter"
)

// Provider identifies the backing LLM API.
type Provider string

const (
	ProviderClaude   Provider = "claude"
	ProviderOpenAI   Provider = "openai"
	ProviderDeepSeek Provider = "deepseek"
)

const systemPrompt = `You are a disciplined intraday futures trading advisor.
You receive one scored setup candidate plus its pattern history. Respond with
ONLY a JSON object: {"action":"trade"|"skip","direction":"long"|"short",
"confidence":0-100,"stop_loss":points,"take_profit":points,"reasoning":"..."}.
Skip anything marginal. Confidence must be calibrated, not optimistic.`

// LLMClient is the HTTP advisory client. It is safe for concurrent use.
type LLMClient struct {
	cfg        config.OracleConfig
	httpClient *http.Client
}

// NewLLMClient creates a client with the configured timeout baked into the
// underlying http.Client.
func NewLLMClient(cfg config.OracleConfig) *LLMClient {
	return &LLMClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// decisionPayload is the JSON shape the model is instructed to emit.
type decisionPayload struct {
	Action     string  `json:"action"`
	Direction  string  `json:"direction"`
	Confidence int     `json:"confidence"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Reasoning  string  `json:"reasoning"`
}

// Evaluate sends the candidate to the configured provider and parses the
// decision. Any transport, parse, or validation failure returns an error;
// the caller converts that to a skip.
func (c *LLMClient) Evaluate(ctx context.Context, cand *prefilter.Candidate, octx Context) (*Decision, error) {
	prompt, err := buildPrompt(cand, octx)
	if err != nil {
		return nil, fmt.Errorf("failed to build prompt: %w", err)
	}

	var raw string
	switch Provider(c.cfg.Provider) {
	case ProviderClaude:
		raw, err = c.completeClaude(ctx, prompt)
	case ProviderOpenAI:
		raw, err = c.completeOpenAI(ctx, prompt, "https://api.openai.com/v1/chat/completions")
	case ProviderDeepSeek:
		raw, err = c.completeOpenAI(ctx, prompt, "https://api.deepseek.com/v1/chat/completions")
	default:
		return nil, fmt.Errorf("unsupported provider: %s", c.cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return parseDecision(raw, cand, c.cfg.Provider)
}

func buildPrompt(cand *prefilter.Candidate, octx Context) (string, error) {
	payload := map[string]interface{}{
		"candidate": cand,
		"context":   octx,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *LLMClient) completeClaude(ctx context.Context, prompt string) (string, error) {
	req := claudeRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		System:      systemPrompt,
		Messages:    []message{{Role: "user", Content: prompt}},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.anthropic.com/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	respBody, err := c.do(httpReq)
	if err != nil {
		return "", err
	}

	var resp claudeResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("api error: %s", resp.Error.Message)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("empty response content")
	}
	return resp.Content[0].Text, nil
}

func (c *LLMClient) completeOpenAI(ctx context.Context, prompt, url string) (string, error) {
	req := openAIRequest{
		Model: c.cfg.Model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	respBody, err := c.do(httpReq)
	if err != nil {
		return "", err
	}

	var resp openAIResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("api error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *LLMClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

// parseDecision extracts the JSON decision object from the completion text,
// tolerating surrounding prose or code fences.
func parseDecision(raw string, cand *prefilter.Candidate, source string) (*Decision, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in completion")
	}

	var payload decisionPayload
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse decision JSON: %w", err)
	}

	action := Action(strings.ToLower(payload.Action))
	if action != ActionTrade && action != ActionSkip {
		return nil, fmt.Errorf("invalid action %q", payload.Action)
	}
	if payload.Confidence < 0 || payload.Confidence > 100 {
		return nil, fmt.Errorf("confidence %d outside 0-100", payload.Confidence)
	}

	dir := prefilter.Direction(strings.ToLower(payload.Direction))
	if dir != prefilter.DirectionLong && dir != prefilter.DirectionShort {
		dir = cand.Direction
	}
	if action == ActionTrade && (payload.StopLoss <= 0 || payload.TakeProfit <= 0) {
		log := logging.Component("oracle")
		log.Warn().
			Str("candidate", cand.ID).
			Msg("trade decision missing bracket levels, treating as skip")
		action = ActionSkip
	}

	return &Decision{
		CandidateID: cand.ID,
		Action:      action,
		Direction:   dir,
		Confidence:  payload.Confidence,
		StopLoss:    payload.StopLoss,
		TakeProfit:  payload.TakeProfit,
		Reasoning:   payload.Reasoning,
		DecidedAt:   time.Now().UTC(),
		Source:      source,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
