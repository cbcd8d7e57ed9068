package overlay

import (
	"math"
	"unicode/utf8"
)

// This file holds the pure coordinate and sizing math used by the session.

const (
	// DefaultFontSize is returned by ComputeOptimalFontSize for degenerate boxes.
	DefaultFontSize = 48.0
	// FallbackImageHeight is used when the natural image height is unknown.
	FallbackImageHeight = 400.0

	MinFontSize = 12.0
	MaxFontSize = 120.0
)

// ToFraction converts a viewport point into image-relative fractions.
// Values are not clamped: points outside rect map outside [0,1].
// A degenerate rect yields 0 on that axis.
func ToFraction(p Point, rect Rect) (float64, float64) {
	return ratio(p.X-rect.Left, rect.Width), ratio(p.Y-rect.Top, rect.Height)
}

// ToPixels converts image-relative fractions back into viewport pixels.
func ToPixels(xPct, yPct float64, rect Rect) Point {
	return Point{
		X: rect.Left + xPct*rect.Width,
		Y: rect.Top + yPct*rect.Height,
	}
}

// BoxFromPointer returns the fractional box centered on (xPct, yPct) whose
// corner follows p.
func BoxFromPointer(p Point, xPct, yPct float64, rect Rect) (float64, float64) {
	center := ToPixels(xPct, yPct, rect)
	widthPx := 2 * math.Abs(p.X-center.X)
	heightPx := 2 * math.Abs(p.Y-center.Y)
	return ratio(widthPx, rect.Width), ratio(heightPx, rect.Height)
}

// ComputeOptimalFontSize 根据标签框较小的一边与文字长度推导像素字号。
// 长文本放进小框时字号收缩，避免溢出。结果总在 [MinFontSize, MaxFontSize] 内。
func ComputeOptimalFontSize(widthPct, heightPct float64, text string, naturalHeight float64) float64 {
	if widthPct <= 0 || heightPct <= 0 {
		return DefaultFontSize
	}
	base := math.Min(widthPct, heightPct) * 100

	n := utf8.RuneCountInString(text)
	switch {
	case n > 20:
		base *= 0.7
	case n > 10:
		base *= 0.85
	}

	if naturalHeight <= 0 {
		naturalHeight = FallbackImageHeight
	}
	return clamp(base*naturalHeight/100, MinFontSize, MaxFontSize)
}

func ratio(v, total float64) float64 {
	if total == 0 || math.IsNaN(total) {
		return 0
	}
	return v / total
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
