package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ByLCY/memegen/logging"
)

// Proxy defaults, matching the Groq OpenAI-compatible endpoint.
const (
	DefaultEndpoint     = "https://api.groq.com/openai/v1/chat/completions"
	DefaultModel        = "llama3-70b-8192"
	DefaultTemperature  = 0.9
	DefaultSystemPrompt = "You are a creative meme generator."
)

// ProxyConfig configures the upstream chat completion call.
type ProxyConfig struct {
	Endpoint      string
	APIKey        string
	Model         string
	// Temperature nil selects DefaultTemperature; 0 is a valid setting.
	Temperature   *float64
	SystemPrompt  string
	AllowedOrigin string
	Client        *http.Client
}

// Proxy is an http.Handler that turns {prompt} into {suggestions}.
type Proxy struct {
	cfg ProxyConfig
}

// NewProxy fills unset fields of cfg with the defaults.
func NewProxy(cfg ProxyConfig) *Proxy {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == nil {
		t := DefaultTemperature
		cfg.Temperature = &t
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Proxy{cfg: cfg}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// UpstreamError carries a non-2xx answer from the chat API.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream HTTP %d: %s", e.Status, e.Body)
}

// ServeHTTP handles POST and the OPTIONS preflight.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.cors(w)
	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		writeJSON(w, http.StatusOK, struct{}{})
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "POST, OPTIONS")
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}

	var req Request
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "invalid JSON body"})
		return
	}

	suggestions, err := p.Complete(r.Context(), req.Prompt)
	if err != nil {
		status := http.StatusBadGateway
		var upstream *UpstreamError
		switch {
		case errors.Is(err, ErrMissingAPIKey):
			status = http.StatusInternalServerError
		case errors.As(err, &upstream):
			status = upstream.Status
			err = errors.New(upstream.Body)
		}
		logging.Logger().Warn("caption suggestion failed", slog.Int("status", status), slog.Any("err", err))
		writeJSON(w, status, Response{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, Response{Suggestions: suggestions})
}

// Complete sends prompt to the chat API and splits the answer into captions.
func (p *Proxy) Complete(ctx context.Context, prompt string) ([]string, error) {
	if p.cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	payload, err := json.Marshal(chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: p.cfg.SystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: *p.cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("编码请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("创建上游请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.cfg.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求上游失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("解析上游响应失败: %w", err)
	}
	content := ""
	if len(out.Choices) > 0 {
		content = out.Choices[0].Message.Content
	}
	return Split(content), nil
}

func (p *Proxy) cors(w http.ResponseWriter) {
	if p.cfg.AllowedOrigin != "" {
		w.Header().Set("Access-Control-Allow-Origin", p.cfg.AllowedOrigin)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
