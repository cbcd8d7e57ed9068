package overlay

import "fmt"

// 该文件定义编辑会话中的标签与几何类型，供交互、合成与调试 JSON 共用。

// Align 表示标签文本的水平对齐方式。
type Align string

const (
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
)

// Next 返回循环顺序 left → center → right → left 中的下一个值。
// 未知取值视为 left 的前一个，即返回 left。
func (a Align) Next() Align {
	switch a {
	case AlignLeft:
		return AlignCenter
	case AlignCenter:
		return AlignRight
	default:
		return AlignLeft
	}
}

// Valid 报告 a 是否为受支持的对齐方式。
func (a Align) Valid() bool {
	switch a {
	case AlignLeft, AlignCenter, AlignRight:
		return true
	}
	return false
}

// ParseAlign 解析对齐字符串，"start"/"end" 视为 left/right；无法识别时返回 false。
func ParseAlign(s string) (Align, bool) {
	switch s {
	case "left", "start":
		return AlignLeft, true
	case "center", "middle":
		return AlignCenter, true
	case "right", "end":
		return AlignRight, true
	}
	return "", false
}

// Point 是视口坐标系中的指针位置（像素）。
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect 是图片元素当前在屏幕上的包围盒（像素）。
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ImageInfo 描述当前选中的模板图片。
type ImageInfo struct {
	URL    string `json:"url"`
	Name   string `json:"name"`
	Width  int    `json:"width"`  // 固有像素宽度
	Height int    `json:"height"` // 固有像素高度
}

// Label 是叠加在图片上的一段文字。
// XPct/YPct 以及可选的 Width/Height 都是相对图片尺寸的比例，而不是像素。
type Label struct {
	ID        string   `json:"id"`
	XPct      float64  `json:"xPct"`
	YPct      float64  `json:"yPct"`
	Text      string   `json:"text"`
	FontSize  float64  `json:"fontSize"`
	TextAlign Align    `json:"textAlign"`
	Width     *float64 `json:"width,omitempty"`
	Height    *float64 `json:"height,omitempty"`
}

// HasBox 报告标签是否已经通过缩放手势获得显式尺寸。
func (l Label) HasBox() bool { return l.Width != nil && l.Height != nil }

func (l Label) clone() Label {
	out := l
	if l.Width != nil {
		w := *l.Width
		out.Width = &w
	}
	if l.Height != nil {
		h := *l.Height
		out.Height = &h
	}
	return out
}

// InteractionKind 标记当前进行中的手势。
type InteractionKind int

const (
	Idle InteractionKind = iota
	Dragging
	Resizing
)

func (k InteractionKind) String() string {
	switch k {
	case Dragging:
		return "dragging"
	case Resizing:
		return "resizing"
	default:
		return "idle"
	}
}

// MarshalText 让 JSON 中输出可读的状态名。
func (k InteractionKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *InteractionKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*k = Idle
	case "dragging":
		*k = Dragging
	case "resizing":
		*k = Resizing
	default:
		return fmt.Errorf("未知的交互状态 %q", text)
	}
	return nil
}

// Interaction 是唯一的交互状态：Idle、Dragging{LabelID} 或 Resizing{LabelID}。
// 拖拽与缩放共用同一个状态，因此二者不可能重叠。
type Interaction struct {
	Kind    InteractionKind `json:"kind"`
	LabelID string          `json:"labelId,omitempty"`
}
