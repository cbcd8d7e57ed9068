package overlay

import (
	"fmt"

	"github.com/ByLCY/memegen/binding"
	"github.com/ByLCY/memegen/dsl"
)

// Build 根据脚本 AST 生成编辑会话：选中图片、默认值与标签序列。
// 标签文字中的 ${...} 用 data 绑定。
func Build(script *dsl.Script, data any, opts BuildOptions) (*Session, error) {
	if script == nil {
		return nil, fmt.Errorf("脚本为空")
	}
	defaults := opts.Defaults
	if defaults.FontSize <= 0 || !defaults.TextAlign.Valid() {
		base := DefaultControls()
		if defaults.FontSize <= 0 {
			defaults.FontSize = base.FontSize
		}
		if !defaults.TextAlign.Valid() {
			defaults.TextAlign = base.TextAlign
		}
	}

	image, err := ResolveImage(script, opts.Image)
	if err != nil {
		return nil, err
	}
	s := NewSession(image, defaults)

	for _, stmt := range script.Statements {
		switch {
		case stmt.Defaults != nil:
			if err := applyDefaults(s, stmt.Defaults); err != nil {
				return nil, err
			}
		case stmt.Label != nil:
			label, err := buildLabel(s, stmt.Label, data)
			if err != nil {
				return nil, err
			}
			s.add(label)
		}
	}
	return s, nil
}

// ResolveImage 返回脚本声明的图片；未声明的字段取自 fallback。
func ResolveImage(script *dsl.Script, fallback ImageInfo) (ImageInfo, error) {
	info := fallback
	seen := false
	for _, stmt := range script.Statements {
		img := stmt.Image
		if img == nil {
			continue
		}
		if seen {
			return ImageInfo{}, fmt.Errorf("%s: 重复的 image 语句", img.Pos)
		}
		seen = true
		info.URL = string(img.Src)
		for _, opt := range img.Options {
			switch {
			case opt.Dims != nil:
				if opt.Dims.X.Value <= 0 || opt.Dims.Y.Value <= 0 {
					return ImageInfo{}, fmt.Errorf("%s: 图片尺寸必须为正数", opt.Pos)
				}
				info.Width = int(opt.Dims.X.Value)
				info.Height = int(opt.Dims.Y.Value)
			case opt.Name != nil:
				info.Name = string(*opt.Name)
			default:
				return ImageInfo{}, fmt.Errorf("%s: image 不支持该参数", opt.Pos)
			}
		}
	}
	if info.Name == "" {
		info.Name = string(script.Name)
	}
	return info, nil
}

func applyDefaults(s *Session, stmt *dsl.DefaultsStatement) error {
	for _, opt := range stmt.Options {
		switch {
		case opt.Size != nil:
			s.SetDefaultFontSize(opt.Size.Value)
		case opt.Align != nil:
			a, ok := ParseAlign(*opt.Align)
			if !ok {
				return fmt.Errorf("%s: 未知的对齐方式 %q", opt.Pos, *opt.Align)
			}
			s.SetDefaultAlignment(a)
		default:
			return fmt.Errorf("%s: defaults 仅支持 size 与 align", opt.Pos)
		}
	}
	return nil
}

func buildLabel(s *Session, stmt *dsl.LabelStatement, data any) (Label, error) {
	label := Label{
		XPct:      stmt.At.X.Fraction(),
		YPct:      stmt.At.Y.Fraction(),
		Text:      binding.Interpolate(string(stmt.Text), data),
		FontSize:  s.defaults.FontSize,
		TextAlign: s.defaults.TextAlign,
	}
	explicitSize := false
	for _, opt := range stmt.Options {
		switch {
		case opt.Size != nil:
			if opt.Size.Value <= 0 {
				return Label{}, fmt.Errorf("%s: 字号必须为正数", opt.Pos)
			}
			label.FontSize = opt.Size.Value
			explicitSize = true
		case opt.Align != nil:
			a, ok := ParseAlign(*opt.Align)
			if !ok {
				return Label{}, fmt.Errorf("%s: 未知的对齐方式 %q", opt.Pos, *opt.Align)
			}
			label.TextAlign = a
		case opt.Box != nil:
			w, h := opt.Box.X.Fraction(), opt.Box.Y.Fraction()
			label.Width = &w
			label.Height = &h
		default:
			return Label{}, fmt.Errorf("%s: label 不支持该参数", opt.Pos)
		}
	}
	// 与缩放手势一致：有框且未显式指定字号时由框推导。
	if label.HasBox() && !explicitSize {
		label.FontSize = ComputeOptimalFontSize(*label.Width, *label.Height, label.Text, float64(s.image.Height))
	}
	return label, nil
}
