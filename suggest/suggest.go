// Package suggest obtains AI caption suggestions: a proxy handler in front of
// an OpenAI-compatible chat completion API, a client for that proxy, and a
// generation tracker so that only the newest request's answer is applied.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// ErrMissingAPIKey is reported when the proxy has no upstream credential.
var ErrMissingAPIKey = errors.New("GROQ_API_KEY not set")

// Request is the body accepted by the proxy.
type Request struct {
	Prompt string `json:"prompt"`
}

// Response is the body returned by the proxy. Error is set on failure.
type Response struct {
	Suggestions []string `json:"suggestions"`
	Error       string   `json:"error,omitempty"`
}

var separators = regexp.MustCompile(`\n|\*`)

// Split breaks a model answer into captions: on newlines and '*', trimmed,
// with empty pieces dropped.
func Split(content string) []string {
	out := []string{}
	for _, s := range separators.Split(content, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// BuildPrompt asks for captions for the named template, mentioning captions
// already on the image so the model can continue the joke.
func BuildPrompt(templateName string, existing []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Suggest 5 short, funny captions for the %q meme template.", templateName)
	var kept []string
	for _, e := range existing {
		if e = strings.TrimSpace(e); e != "" {
			kept = append(kept, e)
		}
	}
	if len(kept) > 0 {
		fmt.Fprintf(&b, " The image already says: %s.", strings.Join(kept, " / "))
	}
	b.WriteString(" Reply with one caption per line and nothing else.")
	return b.String()
}

// Tracker applies suggestion results only when they answer the most recently
// issued request, so a slow stale response cannot overwrite a newer one.
type Tracker struct {
	mu          sync.Mutex
	generation  uint64
	suggestions []string
}

// Begin issues a new request generation.
func (t *Tracker) Begin() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.generation++
	return t.generation
}

// Apply stores suggestions if gen is still the latest; it reports whether
// they were applied.
func (t *Tracker) Apply(gen uint64, suggestions []string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.generation {
		return false
	}
	t.suggestions = append([]string(nil), suggestions...)
	return true
}

// Current returns the applied suggestions, never nil.
func (t *Tracker) Current() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.suggestions))
	copy(out, t.suggestions)
	return out
}

// Func fetches captions for a prompt; Proxy.Complete and Client.Suggest both
// have this shape.
type Func func(ctx context.Context, prompt string) ([]string, error)

// Run issues a tracked request through fetch. A failed request applies an
// empty list, clearing stale captions. It reports whether the result was
// applied, together with the fetch error.
func (t *Tracker) Run(ctx context.Context, prompt string, fetch Func) (bool, error) {
	gen := t.Begin()
	suggestions, err := fetch(ctx, prompt)
	if err != nil || suggestions == nil {
		suggestions = []string{}
	}
	return t.Apply(gen, suggestions), err
}
