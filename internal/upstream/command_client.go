package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// chatRequest はOpenAI互換のchat completionsリクエスト。
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse はchat completionsレスポンスのうち使う部分。
type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// CommandClientConfig はCommandClientの設定。
type CommandClientConfig struct {
	BaseURL string // 例: https://api.groq.com/openai
	APIKey  string
	Model   string
}

// CommandClient はOpenAI互換APIで自然言語からシェルコマンドを生成する。
type CommandClient struct {
	httpClient *http.Client
	config     CommandClientConfig
	observer   Observer
}

// NewCommandClient はCommandClientを生成する。observerはnilでもよい。
func NewCommandClient(httpClient *http.Client, config CommandClientConfig, observer Observer) *CommandClient {
	if observer == nil {
		observer = nopObserver{}
	}
	return &CommandClient{httpClient: httpClient, config: config, observer: observer}
}

// Generate はクエリからコマンドを生成する。
// 応答本文がJSONでない場合もエラーにせず、safe=falseのコマンドとして返す。
func (c *CommandClient) Generate(ctx context.Context, query string) (*CommandResult, error) {
	start := time.Now()
	content, err := c.complete(ctx, BuildCommandPrompt(query))
	c.observer.ObserveUpstream(NameCommand, time.Since(start), err != nil)
	if err != nil {
		slog.Error("command upstream call failed", slog.String("error", err.Error()))
		return nil, err
	}

	result := ParseCommandResult(content)
	return &result, nil
}

func (c *CommandClient) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.config.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Stream:      false,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: command: %v", ErrUpstreamCall, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: command: failed to read response: %v", ErrUpstreamCall, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: command: status %d", ErrUpstreamCall, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("%w: command: failed to parse response: %v", ErrUpstreamCall, err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: command: empty completion", ErrUpstreamCall)
	}
	return parsed.Choices[0].Message.Content, nil
}
