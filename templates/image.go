package templates

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"strings"

	_ "golang.org/x/image/webp"
)

// maxImageBytes bounds remote template downloads; maxImagePixels bounds the
// decoded canvas, since a small file may declare huge dimensions.
const (
	maxImageBytes  = 32 << 20
	maxImagePixels = 40_000_000
)

var (
	// ErrNotRemote is returned by a remote-only loader for non-http(s) sources.
	ErrNotRemote = errors.New("only http(s) image URLs are allowed")
	// ErrImageTooLarge is returned when the declared dimensions exceed the pixel budget.
	ErrImageTooLarge = errors.New("image dimensions too large")
)

// ImageLoader decodes template images from http(s) URLs or local paths.
type ImageLoader struct {
	client     *http.Client
	remoteOnly bool
}

// NewImageLoader creates a loader that also reads local files, for the CLI.
// A nil client means http.DefaultClient.
func NewImageLoader(client *http.Client) *ImageLoader {
	if client == nil {
		client = http.DefaultClient
	}
	return &ImageLoader{client: client}
}

// NewRemoteImageLoader creates a loader that refuses local paths. Servers
// must use it, since the source comes from the client.
func NewRemoteImageLoader(client *http.Client) *ImageLoader {
	l := NewImageLoader(client)
	l.remoteOnly = true
	return l
}

// Load fetches and decodes src. The decoded bounds are the intrinsic size.
func (l *ImageLoader) Load(ctx context.Context, src string) (image.Image, error) {
	if src == "" {
		return nil, fmt.Errorf("图片地址为空")
	}
	if IsRemote(src) {
		return l.fetch(ctx, src)
	}
	if l.remoteOnly {
		return nil, fmt.Errorf("%w: %q", ErrNotRemote, src)
	}
	file, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("读取图片 %s 失败: %w", src, err)
	}
	defer file.Close()
	return decode(src, file)
}

func (l *ImageLoader) fetch(ctx context.Context, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("创建图片请求失败: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("下载图片 %s 失败: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("下载图片 %s 失败: HTTP %d", url, resp.StatusCode)
	}
	return decode(url, io.LimitReader(resp.Body, maxImageBytes))
}

// IsRemote reports whether src is an http(s) URL.
func IsRemote(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

// decode 先读取头部尺寸，超出像素预算时拒绝，避免按声明尺寸分配巨大画布。
func decode(src string, r io.Reader) (image.Image, error) {
	var head bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &head))
	if err != nil {
		return nil, fmt.Errorf("解码图片 %s 失败: %w", src, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > maxImagePixels {
		return nil, fmt.Errorf("%w: %s is %dx%d", ErrImageTooLarge, src, cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(io.MultiReader(&head, r))
	if err != nil {
		return nil, fmt.Errorf("解码图片 %s 失败: %w", src, err)
	}
	return img, nil
}
