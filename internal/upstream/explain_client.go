package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// generateRequest はGeminiのgenerateContentリクエスト。
type generateRequest struct {
	Contents         []generateContent `json:"contents"`
	GenerationConfig generationConfig  `json:"generationConfig"`
}

type generateContent struct {
	Parts []generatePart `json:"parts"`
}

type generatePart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

// generateResponse はgenerateContentレスポンスのうち使う部分。
type generateResponse struct {
	Candidates []struct {
		Content generateContent `json:"content"`
	} `json:"candidates"`
}

// ExplainClientConfig はExplainClientの設定。
type ExplainClientConfig struct {
	BaseURL string // 例: https://generativelanguage.googleapis.com/v1beta
	APIKey  string
	Model   string
}

// ExplainClient は生成済みコマンドの説明をGemini APIで生成する。
type ExplainClient struct {
	httpClient *http.Client
	config     ExplainClientConfig
	observer   Observer
}

// NewExplainClient はExplainClientを生成する。observerはnilでもよい。
func NewExplainClient(httpClient *http.Client, config ExplainClientConfig, observer Observer) *ExplainClient {
	if observer == nil {
		observer = nopObserver{}
	}
	return &ExplainClient{httpClient: httpClient, config: config, observer: observer}
}

// Explain はコマンドの安全性ラベル付きの説明を返す。
func (c *ExplainClient) Explain(ctx context.Context, command string, style Style) (string, error) {
	start := time.Now()
	text, err := c.generate(ctx, BuildExplainPrompt(command, style))
	c.observer.ObserveUpstream(NameExplain, time.Since(start), err != nil)
	if err != nil {
		slog.Error("explain upstream call failed", slog.String("error", err.Error()))
		return "", err
	}
	return text, nil
}

func (c *ExplainClient) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []generateContent{{Parts: []generatePart{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     temperature,
			MaxOutputTokens: maxTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.config.BaseURL, url.PathEscape(c.config.Model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	// クエリ文字列だとエラーメッセージにキーが残るためヘッダーで渡す
	req.Header.Set("x-goog-api-key", c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: explain: %v", ErrUpstreamCall, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: explain: failed to read response: %v", ErrUpstreamCall, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: explain: status %d", ErrUpstreamCall, resp.StatusCode)
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("%w: explain: failed to parse response: %v", ErrUpstreamCall, err)
	}
	if len(parsed.Candidates) == 0 {
		return "", fmt.Errorf("%w: explain: no candidates", ErrUpstreamCall)
	}

	var sb strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return strings.TrimSpace(sb.String()), nil
}
