package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/grishy/gopkgview/internal/depgraph"
	"github.com/grishy/gopkgview/internal/layout"
	"github.com/grishy/gopkgview/internal/viewmodel"
)

// EnvPrefix prefixes every environment override, e.g. GO_PKGVIEW_LOG_LEVEL.
const EnvPrefix = "GO_PKGVIEW"

// Config holds all application configuration.
type Config struct {
	Build   BuildConfig         `mapstructure:"build"`
	Server  ServerConfig        `mapstructure:"server"`
	Watch   WatchConfig         `mapstructure:"watch"`
	View    viewmodel.Params    `mapstructure:"view"`
	Layout  layout.EngineConfig `mapstructure:"layout"`
	Graph   GraphConfig         `mapstructure:"graph"`
	Log     LogConfig           `mapstructure:"log"`
	Tracing TracingConfig       `mapstructure:"tracing"`
	Audit   AuditConfig         `mapstructure:"audit"`
}

type BuildConfig struct {
	Root          string `mapstructure:"root"`
	GoMod         string `mapstructure:"gomod"`
	MaxGoroutines int    `mapstructure:"max_goroutines"`
}

type ServerConfig struct {
	Addr        string `mapstructure:"addr"`
	SkipBrowser bool   `mapstructure:"skip_browser"`
}

type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// GraphConfig locates the Neo4j graph store. An empty URI disables it.
type GraphConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	Project  string `mapstructure:"project"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Output  string `mapstructure:"output"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Build:   BuildConfig{Root: ".", MaxGoroutines: depgraph.DefaultMaxGoroutines},
		Server:  ServerConfig{Addr: ":0"},
		Watch:   WatchConfig{Debounce: 300 * time.Millisecond},
		View:    viewmodel.DefaultParams(),
		Layout:  layout.DefaultEngineConfig(),
		Log:     LogConfig{Level: "info", Format: "text"},
		Tracing: TracingConfig{Environment: "development", SampleRate: 1.0},
		Audit:   AuditConfig{Output: "stderr"},
	}
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.Build.MaxGoroutines <= 0 {
		warnings = append(warnings, fmt.Sprintf("build max_goroutines %d is not positive, using %d", c.Build.MaxGoroutines, depgraph.DefaultMaxGoroutines))
	}

	switch c.Layout.Engine {
	case "", "layered":
	case "elk":
		if c.Layout.ELKURL == "" {
			warnings = append(warnings, "layout engine 'elk' has no elk_url, using the default local service")
		}
	default:
		warnings = append(warnings, fmt.Sprintf("layout engine '%s' is not built in", c.Layout.Engine))
	}

	if d := strings.ToUpper(c.Layout.Options.Direction); d != "" && d != layout.DirectionRight && d != layout.DirectionDown {
		warnings = append(warnings, fmt.Sprintf("layout direction '%s' is not RIGHT or DOWN", c.Layout.Options.Direction))
	}

	if c.Layout.Timeout < 0 {
		warnings = append(warnings, fmt.Sprintf("layout timeout %s is negative", c.Layout.Timeout))
	}

	if c.Graph.URI != "" && c.Graph.Project == "" {
		warnings = append(warnings, "graph uri is set but project is empty, the module path will be used")
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		warnings = append(warnings, err.Error())
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		warnings = append(warnings, fmt.Sprintf("log format '%s' is not text or json", c.Log.Format))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		warnings = append(warnings, fmt.Sprintf("tracing sample_rate %.2f is outside [0.0, 1.0]", c.Tracing.SampleRate))
	}

	return warnings
}

// Load reads configuration from defaults, an optional file, the
// environment and flags, in increasing precedence. An empty path skips the
// file. Only flags named in FlagKeys are bound, and only an explicitly set
// flag overrides the other sources.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// GO_PKGVIEW_ROOT is the documented short form.
	_ = v.BindEnv("build.root", EnvPrefix+"_ROOT", EnvPrefix+"_BUILD_ROOT")

	if flags != nil {
		for key, name := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	cfg.Layout.Options.Direction = strings.ToUpper(cfg.Layout.Options.Direction)

	for _, warning := range cfg.Validate() {
		slog.Warn("config", "warning", warning)
	}
	if cfg.Build.MaxGoroutines <= 0 {
		cfg.Build.MaxGoroutines = depgraph.DefaultMaxGoroutines
	}

	return &cfg, nil
}

// FlagKeys maps config keys to the command line flags overriding them.
var FlagKeys = map[string]string{
	"build.root":           "root",
	"build.gomod":          "gomod",
	"build.max_goroutines": "max-goroutines",
	"server.addr":          "addr",
	"server.skip_browser":  "skip-browser",
	"watch.enabled":        "watch",
	"layout.engine":        "layout-engine",
	"layout.elk_url":       "elk-url",
	"log.level":            "log-level",
	"log.format":           "log-format",
	"graph.uri":            "neo4j-uri",
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("build.root", d.Build.Root)
	v.SetDefault("build.gomod", d.Build.GoMod)
	v.SetDefault("build.max_goroutines", d.Build.MaxGoroutines)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.skip_browser", d.Server.SkipBrowser)

	v.SetDefault("watch.enabled", d.Watch.Enabled)
	v.SetDefault("watch.debounce", d.Watch.Debounce)

	v.SetDefault("view.show_std", d.View.ShowStd)
	v.SetDefault("view.show_external", d.View.ShowExternal)
	v.SetDefault("view.show_error", d.View.ShowError)
	v.SetDefault("view.only_direct_edges", d.View.OnlyDirectEdges)

	v.SetDefault("layout.engine", d.Layout.Engine)
	v.SetDefault("layout.elk_url", d.Layout.ELKURL)
	v.SetDefault("layout.timeout", d.Layout.Timeout)
	v.SetDefault("layout.max_retries", d.Layout.MaxRetries)
	v.SetDefault("layout.retry_delay", d.Layout.RetryDelay)
	o := d.Layout.Options
	v.SetDefault("layout.options.algorithm", o.Algorithm)
	v.SetDefault("layout.options.direction", o.Direction)
	v.SetDefault("layout.options.edge_routing", o.EdgeRouting)
	v.SetDefault("layout.options.layering", o.Layering)
	v.SetDefault("layout.options.layer_spacing", o.LayerSpacing)
	v.SetDefault("layout.options.node_spacing", o.NodeSpacing)
	v.SetDefault("layout.options.edge_spacing", o.EdgeSpacing)
	v.SetDefault("layout.options.edge_node_spacing", o.EdgeNodeSpace)

	v.SetDefault("graph.uri", d.Graph.URI)
	v.SetDefault("graph.username", d.Graph.Username)
	v.SetDefault("graph.password", d.Graph.Password)
	v.SetDefault("graph.database", d.Graph.Database)
	v.SetDefault("graph.project", d.Graph.Project)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.environment", d.Tracing.Environment)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.output", d.Audit.Output)
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level '%s' is not debug, info, warn or error", s)
	}
	return level, nil
}
