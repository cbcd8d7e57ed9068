package overlay

// 字号控件的取值范围与步长。
const (
	MinDefaultFontSize  = 12
	MaxDefaultFontSize  = 72
	DefaultFontSizeStep = 4
	DefaultLabelText    = "Text"
)

// Defaults 是新建标签时继承的全局控件值。
type Defaults struct {
	FontSize  float64 `json:"fontSize"`
	TextAlign Align   `json:"textAlign"`
}

// DefaultControls 返回初始控件值：48px、居中。
func DefaultControls() Defaults {
	return Defaults{FontSize: DefaultFontSize, TextAlign: AlignCenter}
}

// BuildOptions 配置从脚本构建会话时的依赖。
type BuildOptions struct {
	Defaults Defaults
	// Image 在脚本未声明尺寸时提供固有尺寸，例如已解码的图片。
	Image ImageInfo
}
