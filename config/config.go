// Package config 汇总 memegen 的运行配置：代码内默认值、可选 TOML 文件与环境变量覆盖。
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ByLCY/memegen/suggest"
	"github.com/ByLCY/memegen/templates"
)

// Environment variables that override file values.
const (
	EnvAPIKey = "GROQ_API_KEY"
	EnvAddr   = "MEMEGEN_ADDR"
)

// Config is the decoded configuration file.
type Config struct {
	Server    Server    `toml:"server"`
	Templates Templates `toml:"templates"`
	Suggest   Suggest   `toml:"suggest"`
	Render    Render    `toml:"render"`
	Log       Log       `toml:"log"`
}

type Server struct {
	Addr          string   `toml:"addr"`
	AllowedOrigin string   `toml:"allowed_origin"`
	ReadTimeout   Duration `toml:"read_timeout"`
	WriteTimeout  Duration `toml:"write_timeout"`
	MaxSessions   int      `toml:"max_sessions"`
	SessionTTL    Duration `toml:"session_ttl"`
}

type Templates struct {
	Endpoint string   `toml:"endpoint"`
	Timeout  Duration `toml:"timeout"`
}

type Suggest struct {
	Endpoint     string  `toml:"endpoint"`
	Model        string  `toml:"model"`
	Temperature  float64 `toml:"temperature"`
	SystemPrompt string  `toml:"system_prompt"`
	// APIKey 通常来自 GROQ_API_KEY，不建议写入文件。
	APIKey string `toml:"api_key"`
}

type Render struct {
	// FontPath 为空时使用内嵌 Go Bold；也可写 "embed:Go-Regular" 或 TTF 路径。
	FontPath    string  `toml:"font_path"`
	StrokeWidth float64 `toml:"stroke_width"`
}

type Log struct {
	Level string `toml:"level"`
}

// Duration decodes TOML strings such as "10s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("无效的时长 %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{
			Addr:         ":8080",
			ReadTimeout:  Duration{30 * time.Second},
			WriteTimeout: Duration{60 * time.Second},
			MaxSessions:  1000,
			SessionTTL:   Duration{time.Hour},
		},
		Templates: Templates{
			Endpoint: templates.DefaultEndpoint,
			Timeout:  Duration{10 * time.Second},
		},
		Suggest: Suggest{
			Endpoint:     suggest.DefaultEndpoint,
			Model:        suggest.DefaultModel,
			Temperature:  suggest.DefaultTemperature,
			SystemPrompt: suggest.DefaultSystemPrompt,
		},
		Render: Render{StrokeWidth: 4},
		Log:    Log{Level: "info"},
	}
}

// Load 读取 path 指向的 TOML 文件并覆盖默认值，随后应用环境变量。
// path 为空时只使用默认值与环境变量。
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err := checkDecoded(path, md, err); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

// decode parses TOML text on top of the defaults without consulting the
// environment.
func decode(text string) (Config, error) {
	cfg := Default()
	md, err := toml.Decode(text, &cfg)
	if err := checkDecoded("<inline>", md, err); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func checkDecoded(name string, md toml.MetaData, err error) error {
	if err != nil {
		return fmt.Errorf("解析配置文件 %s 失败: %w", name, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("配置文件 %s 含未知字段: %v", name, undecoded)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAPIKey); ok && v != "" {
		c.Suggest.APIKey = v
	}
	if v, ok := lookup(EnvAddr); ok && v != "" {
		c.Server.Addr = v
	}
}
