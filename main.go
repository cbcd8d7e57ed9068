package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ByLCY/memegen/config"
	"github.com/ByLCY/memegen/dsl"
	"github.com/ByLCY/memegen/export"
	"github.com/ByLCY/memegen/logging"
	"github.com/ByLCY/memegen/overlay"
	"github.com/ByLCY/memegen/renderer"
	canvasrenderer "github.com/ByLCY/memegen/renderer/canvas"
	"github.com/ByLCY/memegen/server"
	"github.com/ByLCY/memegen/suggest"
	"github.com/ByLCY/memegen/templates"
)

func main() {
	configPath := flag.String("config", "", "TOML 配置文件路径")
	input := flag.String("in", "examples/two-buttons.meme", "字幕脚本路径")
	output := flag.String("out", "output/meme.png", "PNG 输出路径，- 表示标准输出")
	debug := flag.String("debug", "", "会话调试 JSON 输出路径")
	dataJSON := flag.String("data", "", "绑定到脚本的 JSON 数据")
	clipboard := flag.Bool("clipboard", false, "复制到系统剪贴板而不是写文件")
	serve := flag.Bool("serve", false, "启动 HTTP 服务")
	addr := flag.String("addr", "", "HTTP 监听地址，覆盖配置文件")
	listTemplates := flag.Bool("templates", false, "列出可用模板")
	suggestFor := flag.Bool("suggest", false, "为脚本中的模板请求字幕建议")
	suggestURL := flag.String("suggest-url", "", "通过已运行服务的建议接口请求，例如 http://localhost:8080/api/suggest")
	logLevel := flag.String("log-level", "", "日志级别 debug|info|warn|error")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("加载配置失败", err)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	logging.SetLogger(logging.New(cfg.Log.Level, os.Stderr))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *serve:
		err = runServer(ctx, cfg)
	case *listTemplates:
		err = printTemplates(ctx, cfg)
	case *suggestFor:
		err = printSuggestions(ctx, cfg, *input, *suggestURL)
	default:
		var data any
		if *dataJSON != "" {
			if err := json.Unmarshal([]byte(*dataJSON), &data); err != nil {
				fatal("解析 data JSON 失败", err)
			}
		}
		err = run(ctx, runOptions{
			Input:     *input,
			Output:    *output,
			Debug:     *debug,
			Clipboard: *clipboard,
			Data:      data,
		}, newCompositor(cfg))
		if err == nil && !*clipboard && *output != "-" {
			fmt.Printf("已生成图片：%s\n", *output)
		}
	}
	if err != nil {
		fatal("执行失败", err)
	}
}

func fatal(msg string, err error) {
	log.Fatalf("%s: %v", msg, err)
}

func newCompositor(cfg config.Config) *canvasrenderer.Compositor {
	return canvasrenderer.NewCompositorWithOptions(canvasrenderer.Options{
		FontSrc:     cfg.Render.FontPath,
		StrokeWidth: cfg.Render.StrokeWidth,
	})
}

func newProxy(cfg config.Config) *suggest.Proxy {
	return suggest.NewProxy(suggest.ProxyConfig{
		Endpoint:      cfg.Suggest.Endpoint,
		APIKey:        cfg.Suggest.APIKey,
		Model:         cfg.Suggest.Model,
		Temperature:   &cfg.Suggest.Temperature,
		SystemPrompt:  cfg.Suggest.SystemPrompt,
		AllowedOrigin: cfg.Server.AllowedOrigin,
	})
}

func newTemplateSource(cfg config.Config) *templates.Source {
	return templates.NewSource(cfg.Templates.Endpoint, &http.Client{Timeout: cfg.Templates.Timeout.Duration})
}

type runOptions struct {
	Input     string
	Output    string
	Debug     string
	Clipboard bool
	Data      any
}

// run 串联解析、会话构建、合成与导出。
func run(ctx context.Context, opts runOptions, c renderer.Compositor) error {
	if c == nil {
		return fmt.Errorf("compositor 不能为空")
	}
	script, err := parseScript(opts.Input)
	if err != nil {
		return err
	}

	declared, err := overlay.ResolveImage(script, overlay.ImageInfo{})
	if err != nil {
		return err
	}
	src := resolveSource(filepath.Dir(opts.Input), declared.URL)
	base, err := templates.NewImageLoader(nil).Load(ctx, src)
	if err != nil {
		return fmt.Errorf("加载模板图片失败: %w", err)
	}
	bounds := base.Bounds()

	sess, err := overlay.Build(script, opts.Data, overlay.BuildOptions{
		Image: overlay.ImageInfo{URL: src, Width: bounds.Dx(), Height: bounds.Dy()},
	})
	if err != nil {
		return fmt.Errorf("构建会话失败: %w", err)
	}

	if opts.Debug != "" {
		if err := writeDebug(sess, opts.Debug); err != nil {
			return err
		}
	}

	var sink export.Sink
	switch {
	case opts.Clipboard:
		sink = export.ClipboardSink{}
	case opts.Output == "-":
		sink = export.WriterSink{W: os.Stdout}
	default:
		sink = export.FileSink{Path: opts.Output}
	}
	exporter := &export.Exporter{Compositor: c, Sink: sink}
	if !exporter.Export(ctx, base, sess.Labels()) {
		return fmt.Errorf("导出图片失败")
	}
	return nil
}

func parseScript(path string) (*dsl.Script, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("无法打开脚本 %s: %w", path, err)
	}
	defer file.Close()

	script, err := dsl.Parse(file)
	if err != nil {
		return nil, fmt.Errorf("解析脚本失败: %w", err)
	}
	return script, nil
}

// resolveSource 将相对路径解析到脚本所在目录，URL 原样返回。
func resolveSource(dir, src string) string {
	if src == "" || strings.Contains(src, "://") || filepath.IsAbs(src) {
		return src
	}
	return filepath.Join(dir, src)
}

func writeDebug(sess *overlay.Session, debugPath string) error {
	if err := os.MkdirAll(filepath.Dir(debugPath), 0o755); err != nil {
		return fmt.Errorf("创建调试目录失败: %w", err)
	}
	if err := overlay.WriteDebugJSON(sess, debugPath); err != nil {
		return fmt.Errorf("输出调试 JSON 失败: %w", err)
	}
	return nil
}

func runServer(ctx context.Context, cfg config.Config) error {
	source := newTemplateSource(cfg)
	proxy := newProxy(cfg)
	api := &server.API{
		Store:     server.NewSessionStoreWithLimits(cfg.Server.MaxSessions, cfg.Server.SessionTTL.Duration),
		Templates: source,
		// 图片地址来自客户端，只允许加载模板列表中的远程图片。
		Images:     server.ListedImages{Templates: source, Images: templates.NewRemoteImageLoader(nil)},
		Compositor: newCompositor(cfg),
		Suggest:    proxy,
		Suggester:  proxy.Complete,
		Defaults:   overlay.DefaultControls(),
	}
	srv := server.New(server.Config{
		Addr:         cfg.Server.Addr,
		Handler:      api.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
	})
	return srv.ListenAndServe(ctx)
}

func printTemplates(ctx context.Context, cfg config.Config) error {
	list, _ := newTemplateSource(cfg).List(ctx)
	for _, t := range list {
		fmt.Printf("%s\t%dx%d\t%s\n", t.ID, t.Width, t.Height, t.Name)
	}
	return nil
}

// printSuggestions 输出脚本模板的字幕建议。url 为空时直接调用上游接口，
// 否则经由已运行服务的建议代理。
func printSuggestions(ctx context.Context, cfg config.Config, input, url string) error {
	script, err := parseScript(input)
	if err != nil {
		return err
	}
	img, err := overlay.ResolveImage(script, overlay.ImageInfo{})
	if err != nil {
		return err
	}
	var existing []string
	for _, stmt := range script.Statements {
		if stmt.Label != nil {
			existing = append(existing, string(stmt.Label.Text))
		}
	}
	prompt := suggest.BuildPrompt(img.Name, existing)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	var tracker suggest.Tracker
	if url != "" {
		suggest.NewClient(url, nil).Fetch(ctx, &tracker, prompt)
	} else if _, err := tracker.Run(ctx, prompt, newProxy(cfg).Complete); err != nil {
		return fmt.Errorf("获取字幕建议失败: %w", err)
	}
	for _, s := range tracker.Current() {
		fmt.Println(s)
	}
	return nil
}
