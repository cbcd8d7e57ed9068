package canvasrenderer

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"sync"
	"testing"

	"github.com/ByLCY/memegen/overlay"
)

var baseGray = color.RGBA{R: 60, G: 60, B: 60, A: 255}

func solidImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: baseGray}, image.Point{}, draw.Src)
	return img
}

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	return img
}

func isWhite(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r>>8 > 230 && g>>8 > 230 && b>>8 > 230
}

func isBlack(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r>>8 < 20 && g>>8 < 20 && b>>8 < 20
}

// TestRenderWithoutLabelsKeepsIntrinsicSize 验证零标签时输出恰好为底图的固有尺寸。
func TestRenderWithoutLabelsKeepsIntrinsicSize(t *testing.T) {
	c := NewCompositor()
	data, err := c.Render(solidImage(600, 900), nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img := decodePNG(t, data)
	if got := img.Bounds().Size(); got.X != 600 || got.Y != 900 {
		t.Fatalf("expected 600x900, got %dx%d", got.X, got.Y)
	}
	r, g, b, _ := img.At(300, 450).RGBA()
	for _, ch := range []uint32{r >> 8, g >> 8, b >> 8} {
		if math.Abs(float64(ch)-60) > 3 {
			t.Fatalf("base image not preserved, got %d,%d,%d", r>>8, g>>8, b>>8)
		}
	}
}

func TestAnchor(t *testing.T) {
	label := overlay.Label{XPct: 0.5, YPct: 0.1, Text: "TOP", FontSize: 48, TextAlign: overlay.AlignCenter}
	x, y := Anchor(label, 600, 900)
	if math.Abs(x-300) > 1e-9 || math.Abs(y-90) > 1e-9 {
		t.Fatalf("expected (300, 90), got (%g, %g)", x, y)
	}
}

func TestAlignOffset(t *testing.T) {
	if got := alignOffset(overlay.AlignLeft, 100); got != 0 {
		t.Fatalf("left: %g", got)
	}
	if got := alignOffset(overlay.AlignCenter, 100); got != -50 {
		t.Fatalf("center: %g", got)
	}
	if got := alignOffset(overlay.AlignRight, 100); got != -100 {
		t.Fatalf("right: %g", got)
	}
}

// TestRenderCenteredLabelBaseline 验证居中标签 "TOP" 的字形落在 (300, 90) 基线之上并水平居中。
func TestRenderCenteredLabelBaseline(t *testing.T) {
	c := NewCompositor()
	labels := []overlay.Label{{ID: "top", XPct: 0.5, YPct: 0.1, Text: "TOP", FontSize: 48, TextAlign: overlay.AlignCenter}}
	img, err := c.Rasterize(solidImage(600, 900), labels)
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}

	var count, sumX, minY, maxY int
	minY = math.MaxInt
	blacks := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			px := img.At(x, y)
			if isBlack(px) {
				blacks++
			}
			if !isWhite(px) {
				continue
			}
			count++
			sumX += x
			minY = min(minY, y)
			maxY = max(maxY, y)
		}
	}
	if count == 0 {
		t.Fatalf("no white glyph pixels rendered")
	}
	if blacks == 0 {
		t.Fatalf("no black outline pixels rendered")
	}
	// 字形位于基线之上，且高度不超过字号
	if maxY > 92 || minY < 90-48 {
		t.Fatalf("glyphs should sit on baseline 90: y range [%d, %d]", minY, maxY)
	}
	if meanX := float64(sumX) / float64(count); math.Abs(meanX-300) > 12 {
		t.Fatalf("centered text should straddle x=300, mean x=%g", meanX)
	}
}

func TestRenderAlignmentShiftsText(t *testing.T) {
	c := NewCompositor()
	width, err := c.measureText("LEFT", 40)
	if err != nil {
		t.Fatalf("measureText: %v", err)
	}
	if width <= 0 || width > 200 {
		t.Fatalf("unexpected text width %g", width)
	}

	img, err := c.Rasterize(solidImage(400, 200), []overlay.Label{
		{ID: "l", XPct: 0.5, YPct: 0.5, Text: "LEFT", FontSize: 40, TextAlign: overlay.AlignLeft},
	})
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	for y := 0; y < 200; y++ {
		for x := 0; x < 195; x++ {
			if isWhite(img.At(x, y)) {
				t.Fatalf("left-aligned text must start at x=200, found white at (%d,%d)", x, y)
			}
		}
	}
}

func TestRenderSkipsEmptyAndOffFrameLabels(t *testing.T) {
	c := NewCompositor()
	labels := []overlay.Label{
		{ID: "empty", XPct: 0.5, YPct: 0.5, Text: "", FontSize: 48},
		{ID: "off", XPct: -2, YPct: 3, Text: "gone", FontSize: 48},
	}
	img, err := c.Rasterize(solidImage(100, 100), labels)
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			if isWhite(img.At(x, y)) {
				t.Fatalf("nothing should be visible, found white at (%d,%d)", x, y)
			}
		}
	}
}

func TestRenderRejectsMissingBase(t *testing.T) {
	c := NewCompositor()
	if _, err := c.Render(nil, nil); err == nil {
		t.Fatalf("expected error for nil base")
	}
	if _, err := c.Render(image.NewRGBA(image.Rect(0, 0, 0, 10)), nil); err == nil {
		t.Fatalf("expected error for empty base")
	}
}

func TestMissingFontFallsBack(t *testing.T) {
	c := NewCompositorWithOptions(Options{FontSrc: "/nonexistent/Impact.ttf"})
	if _, err := c.measureText("x", 20); err != nil {
		t.Fatalf("fallback font should load: %v", err)
	}
}

func TestRenderConcurrent(t *testing.T) {
	c := NewCompositor()
	base := solidImage(200, 120)
	labels := []overlay.Label{
		{ID: "a", XPct: 0.5, YPct: 0.3, Text: "TOP TEXT", FontSize: 32, TextAlign: overlay.AlignCenter},
		{ID: "b", XPct: 0.1, YPct: 0.9, Text: "bottom", FontSize: 24, TextAlign: overlay.AlignLeft},
	}
	want, err := c.Render(base, labels)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Render(base, labels)
		}(i)
	}
	wg.Wait()
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("render %d: %v", i, errs[i])
		}
		if !bytes.Equal(results[i], want) {
			t.Fatalf("render %d differs from the sequential result", i)
		}
	}
}
