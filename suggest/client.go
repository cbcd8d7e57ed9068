package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ByLCY/memegen/logging"
)

// DefaultPath is where the proxy is mounted by the server.
const DefaultPath = "/api/suggest"

// Client calls a suggestion proxy.
type Client struct {
	url    string
	client *http.Client
}

// NewClient creates a client posting to url (for example
// "http://localhost:8080/api/suggest").
func NewClient(url string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{url: url, client: client}
}

// Suggest posts prompt and returns the captions. Any failure, including a
// proxied error response, yields an empty list together with the error so
// callers can log it and carry on.
func (c *Client) Suggest(ctx context.Context, prompt string) ([]string, error) {
	suggestions, err := c.do(ctx, prompt)
	if err != nil {
		logging.Logger().Warn("suggestions unavailable", slog.Any("err", err))
		return []string{}, err
	}
	return suggestions, nil
}

func (c *Client) do(ctx context.Context, prompt string) ([]string, error) {
	payload, err := json.Marshal(Request{Prompt: prompt})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("创建建议请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求建议失败: %w", err)
	}
	defer resp.Body.Close()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("解析建议响应失败: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("建议服务返回错误 (HTTP %d): %s", resp.StatusCode, out.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("建议服务返回 HTTP %d", resp.StatusCode)
	}
	if out.Suggestions == nil {
		out.Suggestions = []string{}
	}
	return out.Suggestions, nil
}

// Fetch issues a tracked request: the result is applied to t only if no newer
// request was started meanwhile. It reports whether the result was applied.
func (c *Client) Fetch(ctx context.Context, t *Tracker, prompt string) bool {
	applied, _ := t.Run(ctx, prompt, c.Suggest)
	if !applied {
		logging.Logger().Debug("stale suggestions dropped", slog.String("url", c.url))
	}
	return applied
}
