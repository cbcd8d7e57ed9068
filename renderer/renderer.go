package renderer

import (
	"image"

	"github.com/ByLCY/memegen/overlay"
)

// Compositor 将底图与标签快照压平为一张图片。
// Render 返回编码后的二进制数据（PNG）以及可能的错误；labels 只读。
type Compositor interface {
	Render(base image.Image, labels []overlay.Label) ([]byte, error)
}
