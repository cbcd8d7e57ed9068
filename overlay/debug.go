package overlay

import (
	"encoding/json"
	"os"
)

// WriteDebugJSON 将会话快照输出为 JSON，便于调试前端坐标换算。
func WriteDebugJSON(s *Session, path string) error {
	if s == nil {
		return nil
	}
	data, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
