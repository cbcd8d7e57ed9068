package binding

import "testing"

func TestInterpolate(t *testing.T) {
	data := map[string]any{
		"template": map[string]any{"name": "Two Buttons"},
		"suggestions": []any{
			"when the build is green",
			"but the tests never ran",
		},
		"count": 3.0,
		"city":  "straße",
		"title": "  hello world ",
	}

	cases := []struct {
		in, want string
	}{
		{"${template.name}", "Two Buttons"},
		{"${template.name | upper}", "TWO BUTTONS"},
		{"${template.name | lower}", "two buttons"},
		{"${city | upper}", "STRASSE"},
		{"${title | trim | title}", "Hello World"},
		{"${suggestions[1]}", "but the tests never ran"},
		{"x${count}", "x3"},
		{"${missing.path}", "${missing.path}"},
		{"${suggestions[9]}", "${suggestions[9]}"},
		{"plain text", "plain text"},
	}
	for _, tc := range cases {
		if got := Interpolate(tc.in, data); got != tc.want {
			t.Fatalf("Interpolate(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestInterpolateNilData(t *testing.T) {
	if got := Interpolate("${a}", nil); got != "${a}" {
		t.Fatalf("nil data should keep placeholder, got %q", got)
	}
}
