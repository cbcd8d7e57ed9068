// Package templates lists meme template images and loads their pixels.
package templates

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/ByLCY/memegen/logging"
	"github.com/ByLCY/memegen/overlay"
)

// DefaultEndpoint is the public imgflip template listing.
const DefaultEndpoint = "https://api.imgflip.com/get_memes"

// Template is one entry of the listing.
type Template struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	BoxCount int    `json:"box_count"`
}

// ImageInfo converts the template into the session's image description.
func (t Template) ImageInfo() overlay.ImageInfo {
	return overlay.ImageInfo{URL: t.URL, Name: t.Name, Width: t.Width, Height: t.Height}
}

// Fallback is served whenever the listing cannot be fetched or parsed.
var Fallback = []Template{
	{ID: "181913649", Name: "Drake Hotline Bling", URL: "https://i.imgflip.com/30b1gx.jpg", Width: 1200, Height: 1200, BoxCount: 2},
	{ID: "87743020", Name: "Two Buttons", URL: "https://i.imgflip.com/1g8my4.jpg", Width: 600, Height: 908, BoxCount: 2},
	{ID: "112126428", Name: "Distracted Boyfriend", URL: "https://i.imgflip.com/1ihzfe.jpg", Width: 1200, Height: 800, BoxCount: 3},
}

type listing struct {
	Success bool `json:"success"`
	Data    struct {
		Memes []Template `json:"memes"`
	} `json:"data"`
	ErrorMessage string `json:"error_message"`
}

// Source fetches the template listing over HTTP.
type Source struct {
	endpoint string
	client   *http.Client
}

// NewSource creates a Source. An empty endpoint selects DefaultEndpoint and a
// nil client gets a 10 second timeout.
func NewSource(endpoint string, client *http.Client) *Source {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Source{endpoint: endpoint, client: client}
}

// List returns the remote templates, or Fallback on any failure. The error
// reports why the fallback was used and is informational only.
func (s *Source) List(ctx context.Context) ([]Template, error) {
	memes, err := s.fetch(ctx)
	if err != nil {
		logging.Logger().Warn("template listing unavailable, using built-in list",
			slog.String("endpoint", s.endpoint), slog.Any("err", err))
		return fallback(), err
	}
	logging.Logger().Debug("templates fetched", slog.Int("count", len(memes)))
	return memes, nil
}

func (s *Source) fetch(ctx context.Context) ([]Template, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("创建模板请求失败: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("获取模板列表失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("获取模板列表失败: HTTP %d", resp.StatusCode)
	}

	var body listing
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("解析模板列表失败: %w", err)
	}
	if !body.Success && body.ErrorMessage != "" {
		return nil, fmt.Errorf("模板接口返回错误: %s", body.ErrorMessage)
	}
	if len(body.Data.Memes) == 0 {
		return nil, fmt.Errorf("模板列表为空")
	}
	return body.Data.Memes, nil
}

func fallback() []Template {
	out := make([]Template, len(Fallback))
	copy(out, Fallback)
	return out
}

// Random picks one template uniformly. ok is false for an empty list.
func Random(list []Template, r *rand.Rand) (Template, bool) {
	if len(list) == 0 {
		return Template{}, false
	}
	if r == nil {
		return list[rand.IntN(len(list))], true
	}
	return list[r.IntN(len(list))], true
}
