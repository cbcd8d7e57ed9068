// Package export hands composited memes to their destination: the system
// clipboard, a file, or any writer.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/ByLCY/memegen/logging"
	"github.com/ByLCY/memegen/overlay"
	"github.com/ByLCY/memegen/renderer"
)

// ErrNoClipboard is returned when no clipboard command is available.
var ErrNoClipboard = errors.New("no clipboard command available")

// Sink receives an encoded PNG.
type Sink interface {
	WritePNG(ctx context.Context, data []byte) error
}

// Notifier surfaces export outcomes to the user.
type Notifier interface {
	Notify(ctx context.Context, ok bool, message string)
}

// LogNotifier reports through the shared structured logger.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, ok bool, message string) {
	if ok {
		logging.Logger().InfoContext(ctx, message)
		return
	}
	logging.Logger().ErrorContext(ctx, message)
}

// Exporter renders a session snapshot and writes it to a sink.
type Exporter struct {
	Compositor renderer.Compositor
	Sink       Sink
	Notifier   Notifier
}

// Export composites base and labels and writes the PNG to the sink. Failures
// are reported through the notifier and never returned; ok tells the caller
// whether the meme reached the sink.
func (e *Exporter) Export(ctx context.Context, base image.Image, labels []overlay.Label) bool {
	notifier := e.Notifier
	if notifier == nil {
		notifier = LogNotifier{}
	}
	data, err := e.Compositor.Render(base, labels)
	if err != nil {
		notifier.Notify(ctx, false, fmt.Sprintf("Failed to render meme: %v", err))
		return false
	}
	if err := e.Sink.WritePNG(ctx, data); err != nil {
		notifier.Notify(ctx, false, fmt.Sprintf("Failed to copy image: %v", err))
		return false
	}
	notifier.Notify(ctx, true, "Meme exported!")
	return true
}

// WriterSink writes to an io.Writer, eg. os.Stdout.
type WriterSink struct {
	W io.Writer
}

func (s WriterSink) WritePNG(_ context.Context, data []byte) error {
	_, err := s.W.Write(data)
	return err
}

// FileSink writes to a file, creating parent directories.
type FileSink struct {
	Path string
}

func (s FileSink) WritePNG(_ context.Context, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}
	if err := os.WriteFile(s.Path, data, 0o644); err != nil {
		return fmt.Errorf("写入图片文件失败: %w", err)
	}
	return nil
}

// FilePlaceholder in a clipboard argv is replaced by a temp file holding the
// PNG, for commands that cannot read stdin.
const FilePlaceholder = "{file}"

// ClipboardSink pipes the PNG to the first available clipboard command.
type ClipboardSink struct {
	// Commands overrides the platform candidates; each entry is argv.
	Commands [][]string
	// LookPath defaults to exec.LookPath.
	LookPath func(string) (string, error)
}

// DefaultClipboardCommands returns the candidates for the current platform.
func DefaultClipboardCommands() [][]string {
	switch runtime.GOOS {
	case "darwin":
		return [][]string{{"osascript", "-e", `set the clipboard to (read (POSIX file "` + FilePlaceholder + `") as «class PNGf»)`}}
	case "windows":
		return [][]string{{"powershell", "-NoProfile", "-Command",
			"Add-Type -AssemblyName System.Windows.Forms; $ms = New-Object IO.MemoryStream; [Console]::OpenStandardInput().CopyTo($ms); [Windows.Forms.Clipboard]::SetImage([Drawing.Image]::FromStream($ms))"}}
	default:
		return [][]string{
			{"wl-copy", "--type", "image/png"},
			{"xclip", "-selection", "clipboard", "-t", "image/png", "-i"},
		}
	}
}

func (s ClipboardSink) WritePNG(ctx context.Context, data []byte) error {
	lookPath := s.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	commands := s.Commands
	if commands == nil {
		commands = DefaultClipboardCommands()
	}
	for _, argv := range commands {
		if len(argv) == 0 {
			continue
		}
		path, err := lookPath(argv[0])
		if err != nil {
			continue
		}
		if err := runClipboard(ctx, path, argv[1:], data); err != nil {
			return fmt.Errorf("%s: %w", argv[0], err)
		}
		logging.Logger().Debug("copied to clipboard", slog.String("cmd", argv[0]), slog.Int("bytes", len(data)))
		return nil
	}
	return ErrNoClipboard
}

func runClipboard(ctx context.Context, path string, args []string, data []byte) error {
	args = append([]string(nil), args...)
	usesFile := slices.ContainsFunc(args, func(a string) bool { return strings.Contains(a, FilePlaceholder) })
	if usesFile {
		tmp, err := writeTemp(data)
		if err != nil {
			return err
		}
		defer os.Remove(tmp)
		for i := range args {
			args[i] = strings.ReplaceAll(args[i], FilePlaceholder, tmp)
		}
	}

	// wl-copy 与 xclip 会留下后台进程继续持有剪贴板，并继承 stderr。
	// 若 stderr 是管道，Run 会一直等到剪贴板被替换，所以这里写入临时文件。
	stderr, err := os.CreateTemp("", "memegen-clip-*.log")
	if err != nil {
		return err
	}
	defer os.Remove(stderr.Name())
	defer stderr.Close()

	cmd := exec.CommandContext(ctx, path, args...)
	if !usesFile {
		cmd.Stdin = bytes.NewReader(data)
	}
	cmd.Stderr = stderr
	cmd.WaitDelay = 2 * time.Second
	if err := cmd.Run(); err != nil {
		if msg, _ := os.ReadFile(stderr.Name()); len(bytes.TrimSpace(msg)) > 0 {
			return fmt.Errorf("%w: %s", err, bytes.TrimSpace(msg))
		}
		return err
	}
	return nil
}

func writeTemp(data []byte) (string, error) {
	f, err := os.CreateTemp("", "memegen-*.png")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
