package overlay

import (
	"fmt"
	"math"
)

// Session 是一次编辑会话：选中的图片、标签序列、控件默认值与交互状态。
// Session 不做同步，调用方需保证同一时刻只有一个写者。
type Session struct {
	image    ImageInfo
	defaults Defaults
	labels   []Label
	state    Interaction
	nextID   int
}

// NewSession 创建一个空会话。
func NewSession(image ImageInfo, defaults Defaults) *Session {
	if defaults.FontSize <= 0 {
		defaults.FontSize = DefaultFontSize
	}
	if !defaults.TextAlign.Valid() {
		defaults.TextAlign = AlignCenter
	}
	return &Session{image: image, defaults: defaults}
}

// Image 返回当前模板图片。
func (s *Session) Image() ImageInfo { return s.image }

// Defaults 返回当前控件默认值。
func (s *Session) Defaults() Defaults { return s.defaults }

// State 返回当前交互状态。
func (s *Session) State() Interaction { return s.state }

// SelectTemplate 切换模板图片。标签以比例保存，切换后原样保留；进行中的手势被取消。
func (s *Session) SelectTemplate(image ImageInfo) {
	s.image = image
	s.state = Interaction{}
}

// SetDefaultFontSize 设置新标签的字号，限制在 [12, 72]。
func (s *Session) SetDefaultFontSize(size float64) {
	s.defaults.FontSize = clamp(size, MinDefaultFontSize, MaxDefaultFontSize)
}

// StepDefaultFontSize 按步长增减默认字号，steps 为正表示放大。
func (s *Session) StepDefaultFontSize(steps int) {
	s.SetDefaultFontSize(s.defaults.FontSize + float64(steps*DefaultFontSizeStep))
}

// SetDefaultAlignment 设置新标签的对齐方式，非法值被忽略。
func (s *Session) SetDefaultAlignment(a Align) {
	if a.Valid() {
		s.defaults.TextAlign = a
	}
}

// Labels 返回标签序列的快照，修改返回值不会影响会话。
func (s *Session) Labels() []Label {
	out := make([]Label, len(s.labels))
	for i, l := range s.labels {
		out[i] = l.clone()
	}
	return out
}

// Label 按 id 查找标签。
func (s *Session) Label(id string) (Label, bool) {
	if i := s.index(id); i >= 0 {
		return s.labels[i].clone(), true
	}
	return Label{}, false
}

// CreateLabelAt 在指针位置新建标签并追加到序列末尾。
func (s *Session) CreateLabelAt(p Point, rect Rect) Label {
	x, y := ToFraction(p, rect)
	return s.add(Label{
		XPct:      x,
		YPct:      y,
		Text:      DefaultLabelText,
		FontSize:  s.defaults.FontSize,
		TextAlign: s.defaults.TextAlign,
	})
}

func (s *Session) add(l Label) Label {
	s.nextID++
	l.ID = fmt.Sprintf("label-%d", s.nextID)
	if !l.TextAlign.Valid() {
		l.TextAlign = s.defaults.TextAlign
	}
	s.labels = append(s.labels, l)
	return l.clone()
}

// BeginDrag 开始拖拽标签。仅在 Idle 且标签存在时生效。
func (s *Session) BeginDrag(id string) bool {
	return s.begin(Dragging, id)
}

// ContinueDrag 用当前指针位置更新被拖拽标签的坐标；不在拖拽中时忽略。
func (s *Session) ContinueDrag(p Point, rect Rect) {
	l := s.active(Dragging)
	if l == nil {
		return
	}
	l.XPct, l.YPct = ToFraction(p, rect)
}

// EndDrag 无条件回到 Idle（对应 pointer-up / touch-end）。
func (s *Session) EndDrag() {
	if s.state.Kind == Dragging {
		s.state = Interaction{}
	}
}

// BeginResize 开始缩放标签。仅在 Idle 且标签存在时生效。
func (s *Session) BeginResize(id string) bool {
	return s.begin(Resizing, id)
}

// ContinueResize 以标签中心为对称点，用指针位置推导框尺寸与字号。
func (s *Session) ContinueResize(p Point, rect Rect) {
	l := s.active(Resizing)
	if l == nil {
		return
	}
	w, h := BoxFromPointer(p, l.XPct, l.YPct, rect)
	l.Width = &w
	l.Height = &h
	l.FontSize = ComputeOptimalFontSize(w, h, l.Text, float64(s.image.Height))
}

// EndResize 回到 Idle。
func (s *Session) EndResize() {
	if s.state.Kind == Resizing {
		s.state = Interaction{}
	}
}

func (s *Session) begin(kind InteractionKind, id string) bool {
	if s.state.Kind != Idle || s.index(id) < 0 {
		return false
	}
	s.state = Interaction{Kind: kind, LabelID: id}
	return true
}

// active 返回当前手势目标；若标签在手势中被删除则顺带回到 Idle。
func (s *Session) active(kind InteractionKind) *Label {
	if s.state.Kind != kind {
		return nil
	}
	i := s.index(s.state.LabelID)
	if i < 0 {
		s.state = Interaction{}
		return nil
	}
	return &s.labels[i]
}

// SetText 修改标签文字。
func (s *Session) SetText(id, text string) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.labels[i].Text = text
	return true
}

// SetFontSize 直接设置标签字号（非缩放手势路径），非正值被忽略。
func (s *Session) SetFontSize(id string, size float64) bool {
	i := s.index(id)
	if i < 0 || size <= 0 || math.IsNaN(size) {
		return false
	}
	s.labels[i].FontSize = size
	return true
}

// SetAlignment 修改标签对齐方式，非法值被忽略。
func (s *Session) SetAlignment(id string, a Align) bool {
	i := s.index(id)
	if i < 0 || !a.Valid() {
		return false
	}
	s.labels[i].TextAlign = a
	return true
}

// CycleAlignment 按 left → center → right → left 切换对齐方式。
func (s *Session) CycleAlignment(id string) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.labels[i].TextAlign = s.labels[i].TextAlign.Next()
	return true
}

// DeleteLabel 删除标签；不存在时为空操作。
func (s *Session) DeleteLabel(id string) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.labels = append(s.labels[:i], s.labels[i+1:]...)
	if s.state.LabelID == id {
		s.state = Interaction{}
	}
	return true
}

func (s *Session) index(id string) int {
	for i := range s.labels {
		if s.labels[i].ID == id {
			return i
		}
	}
	return -1
}

// Snapshot 是会话的可序列化视图，用于调试输出与 HTTP 响应。
type Snapshot struct {
	Image       ImageInfo   `json:"image"`
	Defaults    Defaults    `json:"defaults"`
	Labels      []Label     `json:"labels"`
	Interaction Interaction `json:"interaction"`
}

// Snapshot 返回当前会话的完整拷贝。
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		Image:       s.image,
		Defaults:    s.defaults,
		Labels:      s.Labels(),
		Interaction: s.state,
	}
}
