package fonts

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
)

// 内置字体名称。
const (
	Bold    = "Go-Bold"
	Regular = "Go-Regular"
)

var builtin = map[string][]byte{
	Bold:    gobold.TTF,
	Regular: goregular.TTF,
}

// Load 返回字体字节数据。src 可写为 "embed:Go-Bold" 读取内置字体，否则按文件路径读取，
// 例如系统中的 Impact.ttf。
func Load(src string) ([]byte, error) {
	if src == "" {
		return builtin[Bold], nil
	}
	if name, ok := strings.CutPrefix(src, "embed:"); ok {
		data, ok := builtin[name]
		if !ok {
			return nil, fmt.Errorf("找不到内置字体 %s", name)
		}
		return data, nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("读取字体 %s 失败: %w", src, err)
	}
	return data, nil
}
