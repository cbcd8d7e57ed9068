package binding

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var exprPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Interpolate 将标签文字中的 ${path.to.value} 替换为 data 中的值。
// 支持管道过滤器 upper、lower、title、trim，例如 ${template.name | upper}。
// 若 data 为空或路径不存在，则保留原占位符。
func Interpolate(text string, data any) string {
	if data == nil || !strings.Contains(text, "${") {
		return text
	}
	return exprPattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := exprPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		path, filters := splitFilters(groups[1])
		if path == "" {
			return match
		}
		val, ok := Resolve(data, path)
		if !ok {
			return match
		}
		out := fmt.Sprint(val)
		for _, f := range filters {
			out = applyFilter(f, out)
		}
		return out
	})
}

// Resolve 在 data 中按点号路径取值，段内可带 [n] 下标，例如 suggestions[0]。
func Resolve(data any, path string) (any, bool) {
	current := data
	for _, segment := range strings.Split(path, ".") {
		name, indexes := parseSegment(segment)
		if name != "" {
			m, ok := current.(map[string]any)
			if !ok {
				return nil, false
			}
			if current, ok = m[name]; !ok {
				return nil, false
			}
		}
		for _, idxStr := range indexes {
			idx, err := strconv.Atoi(idxStr)
			if err != nil {
				return nil, false
			}
			arr, ok := current.([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return nil, false
			}
			current = arr[idx]
		}
	}
	return current, true
}

func splitFilters(expr string) (string, []string) {
	parts := strings.Split(expr, "|")
	path := strings.TrimSpace(parts[0])
	var filters []string
	for _, p := range parts[1:] {
		if f := strings.TrimSpace(p); f != "" {
			filters = append(filters, f)
		}
	}
	return path, filters
}

func applyFilter(name, s string) string {
	switch name {
	case "upper":
		return cases.Upper(language.Und).String(s)
	case "lower":
		return cases.Lower(language.Und).String(s)
	case "title":
		return cases.Title(language.Und).String(s)
	case "trim":
		return strings.TrimSpace(s)
	default:
		return s
	}
}

func parseSegment(segment string) (string, []string) {
	name := segment
	var indexes []string
	if i := strings.Index(segment, "["); i != -1 {
		name = segment[:i]
		rest := segment[i:]
		for len(rest) > 0 && rest[0] == '[' {
			end := strings.IndexByte(rest, ']')
			if end == -1 {
				break
			}
			indexes = append(indexes, rest[1:end])
			rest = rest[end+1:]
		}
	}
	return name, indexes
}
