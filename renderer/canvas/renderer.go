package canvasrenderer

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"strings"
	"sync"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"

	"github.com/ByLCY/memegen/fonts"
	"github.com/ByLCY/memegen/logging"
	"github.com/ByLCY/memegen/overlay"
	"github.com/ByLCY/memegen/renderer"
)

const (
	// DefaultStrokeWidth is the glyph outline width in image pixels.
	DefaultStrokeWidth = 4.0

	// canvas font sizes are in points while one canvas unit is one image pixel here.
	ptPerUnit = 72.0 / 25.4

	// 1 canvas unit == 1 image pixel
	pixelResolution = canvas.Resolution(1.0)
)

var transparent = color.RGBA{0, 0, 0, 0}

// drawMu serializes drawing: canvas stroking keeps package-level state that
// is not safe for concurrent use, so it is shared by all compositors.
var drawMu sync.Mutex

// Compositor renders a base image plus text labels through github.com/tdewolff/canvas.
type Compositor struct {
	fontSrc     string
	strokeWidth float64
	fill        color.Color
	stroke      color.Color

	fontMu   sync.Mutex
	family   *canvas.FontFamily
	fallback *canvas.FontFamily
}

var _ renderer.Compositor = (*Compositor)(nil)

// Options configures the compositor. Zero values select the meme defaults:
// embedded Go Bold, white fill, 4px black outline.
type Options struct {
	// FontSrc is "embed:<name>" or a path to a TTF/OTF file (eg. Impact).
	FontSrc     string
	StrokeWidth float64
	Fill        color.Color
	Stroke      color.Color
}

// NewCompositor creates a compositor with default options.
func NewCompositor() *Compositor { return NewCompositorWithOptions(Options{}) }

// NewCompositorWithOptions creates a compositor with the given options.
func NewCompositorWithOptions(opts Options) *Compositor {
	c := &Compositor{
		fontSrc:     opts.FontSrc,
		strokeWidth: opts.StrokeWidth,
		fill:        opts.Fill,
		stroke:      opts.Stroke,
	}
	if c.fontSrc == "" {
		c.fontSrc = "embed:" + fonts.Bold
	}
	if c.strokeWidth <= 0 {
		c.strokeWidth = DefaultStrokeWidth
	}
	if c.fill == nil {
		c.fill = canvas.White
	}
	if c.stroke == nil {
		c.stroke = canvas.Black
	}
	return c
}

// Render draws base at its intrinsic size, then every label in sequence order,
// and encodes the result as PNG.
func (c *Compositor) Render(base image.Image, labels []overlay.Label) ([]byte, error) {
	img, err := c.Rasterize(base, labels)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("编码 PNG 失败: %w", err)
	}
	return buf.Bytes(), nil
}

// Rasterize is Render without the PNG encoding step.
func (c *Compositor) Rasterize(base image.Image, labels []overlay.Label) (*image.RGBA, error) {
	if base == nil {
		return nil, fmt.Errorf("底图为空")
	}
	size := base.Bounds().Size()
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("底图尺寸无效: %dx%d", size.X, size.Y)
	}
	w, h := float64(size.X), float64(size.Y)

	drawMu.Lock()
	defer drawMu.Unlock()

	cv := canvas.New(w, h)
	ctx := canvas.NewContext(cv)
	ctx.DrawImage(0, 0, base, pixelResolution)

	for _, label := range labels {
		if err := c.drawLabel(ctx, label, w, h); err != nil {
			return nil, err
		}
	}

	logging.Logger().Debug("composite rendered",
		slog.Int("width", size.X), slog.Int("height", size.Y), slog.Int("labels", len(labels)))
	return rasterizer.Draw(cv, pixelResolution, canvas.DefaultColorSpace), nil
}

// Anchor returns the label's draw position in image pixels, origin top-left.
// The y value is the glyph baseline.
func Anchor(label overlay.Label, width, height float64) (float64, float64) {
	return label.XPct * width, label.YPct * height
}

// alignOffset shifts the pen start so the text is anchored per align.
func alignOffset(align overlay.Align, textWidth float64) float64 {
	switch align {
	case overlay.AlignCenter:
		return -textWidth / 2
	case overlay.AlignRight:
		return -textWidth
	default:
		return 0
	}
}

func (c *Compositor) drawLabel(ctx *canvas.Context, label overlay.Label, w, h float64) error {
	// canvas 2D 的 fillText 不换行，这里同样把换行当作空格。
	text := strings.ReplaceAll(label.Text, "\n", " ")
	if text == "" {
		return nil
	}
	size := label.FontSize
	if size <= 0 {
		size = overlay.DefaultFontSize
	}
	face, err := c.fontFace(size)
	if err != nil {
		return err
	}
	glyphs, _, err := face.ToPath(text)
	if err != nil {
		return fmt.Errorf("生成标签 %s 的字形失败: %w", label.ID, err)
	}

	x, y := Anchor(label, w, h)
	x += alignOffset(label.TextAlign, face.TextWidth(text))
	// 画布使用左下角为原点的坐标系
	y = h - y

	// 先描边再填充：白色字形压在 4px 黑色轮廓之上。
	ctx.SetFillColor(transparent)
	ctx.SetStrokeColor(c.stroke)
	ctx.SetStrokeWidth(c.strokeWidth)
	ctx.DrawPath(x, y, glyphs)

	ctx.SetFillColor(c.fill)
	ctx.SetStrokeColor(transparent)
	ctx.SetStrokeWidth(0)
	ctx.DrawPath(x, y, glyphs)
	return nil
}

// measureText returns the advance width in pixels of text at the given size.
func (c *Compositor) measureText(text string, fontSize float64) (float64, error) {
	face, err := c.fontFace(fontSize)
	if err != nil {
		return 0, err
	}
	return face.TextWidth(text), nil
}

func (c *Compositor) fontFace(sizePx float64) (*canvas.FontFace, error) {
	family, err := c.ensureFontFamily()
	if err != nil {
		return nil, err
	}
	return family.Face(sizePx*ptPerUnit, c.fill, canvas.FontBold, canvas.FontNormal), nil
}

func (c *Compositor) ensureFontFamily() (*canvas.FontFamily, error) {
	c.fontMu.Lock()
	defer c.fontMu.Unlock()

	if c.family != nil {
		return c.family, nil
	}
	family := canvas.NewFontFamily("memegen")
	err := loadFontIntoFamily(family, c.fontSrc)
	if err == nil {
		c.family = family
		return family, nil
	}

	logging.Logger().Warn("font unavailable, using built-in face",
		slog.String("src", c.fontSrc), slog.Any("err", err))
	fallback, fbErr := c.fallbackFamily()
	if fbErr != nil {
		return nil, err
	}
	c.family = fallback
	return fallback, nil
}

func (c *Compositor) fallbackFamily() (*canvas.FontFamily, error) {
	if c.fallback != nil {
		return c.fallback, nil
	}
	family := canvas.NewFontFamily("memegen-fallback")
	if err := loadFontIntoFamily(family, "embed:"+fonts.Bold); err != nil {
		return nil, err
	}
	c.fallback = family
	return family, nil
}

func loadFontIntoFamily(family *canvas.FontFamily, src string) error {
	data, err := fonts.Load(src)
	if err != nil {
		return err
	}
	if err := family.LoadFont(data, 0, canvas.FontBold); err != nil {
		return fmt.Errorf("加载字体 %s 失败: %w", src, err)
	}
	return nil
}
