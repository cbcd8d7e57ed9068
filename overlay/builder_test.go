package overlay

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ByLCY/memegen/dsl"
)

func buildScript(t *testing.T, src string, data any, opts BuildOptions) *Session {
	t.Helper()
	script, err := dsl.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("解析脚本失败: %v", err)
	}
	s, err := Build(script, data, opts)
	if err != nil {
		t.Fatalf("构建会话失败: %v", err)
	}
	return s
}

func TestBuildLabels(t *testing.T) {
	src := `meme "Two Buttons" {
  image "two-buttons.jpg" dims 600 908
  defaults size 40 align left
  label "TOP" at 50% 10% size 48 align center
  label "${who | upper}" at 0.25 0.75
  label "boxed caption" at 0.5 0.5 box 40% 20%
}`
	s := buildScript(t, src, map[string]any{"who": "me"}, BuildOptions{})

	img := s.Image()
	if img.URL != "two-buttons.jpg" || img.Width != 600 || img.Height != 908 || img.Name != "Two Buttons" {
		t.Fatalf("unexpected image %+v", img)
	}

	labels := s.Labels()
	if len(labels) != 3 {
		t.Fatalf("expected 3 labels, got %d", len(labels))
	}
	top := labels[0]
	if top.Text != "TOP" || top.FontSize != 48 || top.TextAlign != AlignCenter {
		t.Fatalf("unexpected top label %+v", top)
	}
	if math.Abs(top.XPct-0.5) > eps || math.Abs(top.YPct-0.1) > eps {
		t.Fatalf("unexpected position %g,%g", top.XPct, top.YPct)
	}
	second := labels[1]
	if second.Text != "ME" || second.FontSize != 40 || second.TextAlign != AlignLeft {
		t.Fatalf("second label should use defaults and binding: %+v", second)
	}
	boxed := labels[2]
	want := ComputeOptimalFontSize(0.4, 0.2, "boxed caption", 908)
	if !boxed.HasBox() || math.Abs(boxed.FontSize-want) > eps {
		t.Fatalf("boxed label should derive font size %g, got %+v", want, boxed)
	}
}

func TestBuildUsesFallbackImage(t *testing.T) {
	s := buildScript(t, `meme "x" { label "a" at 0 0 }`, nil, BuildOptions{
		Image: ImageInfo{URL: "fallback.png", Width: 10, Height: 20},
	})
	if s.Image().URL != "fallback.png" || s.Image().Name != "x" {
		t.Fatalf("unexpected image %+v", s.Image())
	}
}

func TestBuildErrors(t *testing.T) {
	bad := []string{
		`meme "x" { image "a" image "b" }`,
		`meme "x" { label "a" at 0 0 align diagonal }`,
		`meme "x" { label "a" at 0 0 size 0 }`,
		`meme "x" { defaults box 1 1 }`,
		`meme "x" { image "a" dims 0 10 }`,
	}
	for _, src := range bad {
		script, err := dsl.ParseString(src)
		if err != nil {
			t.Fatalf("parse %q: %v", src, err)
		}
		if _, err := Build(script, nil, BuildOptions{}); err == nil {
			t.Fatalf("expected build error for %q", src)
		}
	}
	if _, err := Build(nil, nil, BuildOptions{}); err == nil {
		t.Fatalf("nil script must fail")
	}
}

func TestWriteDebugJSON(t *testing.T) {
	s := newTestSession()
	s.CreateLabelAt(Point{X: 1, Y: 1}, Rect{Width: 2, Height: 2})
	path := filepath.Join(t.TempDir(), "debug.json")
	if err := WriteDebugJSON(s, path); err != nil {
		t.Fatalf("WriteDebugJSON: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var snap struct {
		Labels      []Label `json:"labels"`
		Interaction struct {
			Kind string `json:"kind"`
		} `json:"interaction"`
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(snap.Labels) != 1 || snap.Interaction.Kind != "idle" {
		t.Fatalf("unexpected debug json: %s", raw)
	}
}
