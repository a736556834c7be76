package layout

import (
	"fmt"
	"sort"
	"time"
)

// EngineConfig holds everything needed to build any layout engine.
type EngineConfig struct {
	Engine     string        `mapstructure:"engine"` // "layered" or "elk"
	ELKURL     string        `mapstructure:"elk_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	Options    Options       `mapstructure:"options"`
}

// DefaultEngineConfig uses the built-in engine.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Engine:     "layered",
		Timeout:    5 * time.Second,
		MaxRetries: 2,
		RetryDelay: 200 * time.Millisecond,
		Options:    DefaultOptions(),
	}
}

// EngineConstructor builds an Engine from config.
type EngineConstructor func(cfg EngineConfig) (Engine, error)

// Factory creates engines by name.
type Factory struct {
	constructors map[string]EngineConstructor
}

// NewFactory creates a factory with the built-in engines registered.
func NewFactory() *Factory {
	f := &Factory{constructors: make(map[string]EngineConstructor)}
	f.Register("layered", func(EngineConfig) (Engine, error) {
		return NewLayeredEngine(), nil
	})
	f.Register("elk", func(cfg EngineConfig) (Engine, error) {
		return NewELKEngine(cfg.ELKURL), nil
	})
	return f
}

// Register adds an engine constructor under the given name.
func (f *Factory) Register(name string, ctor EngineConstructor) {
	f.constructors[name] = ctor
}

// Create builds the configured engine. An empty name selects "layered".
// Remote engines are wrapped with retry logic.
func (f *Factory) Create(cfg EngineConfig) (Engine, error) {
	name := cfg.Engine
	if name == "" {
		name = "layered"
	}
	ctor, ok := f.constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown layout engine %q, registered: %v", name, f.Names())
	}

	engine, err := ctor(cfg)
	if err != nil {
		return nil, err
	}
	if name == "layered" {
		return engine, nil
	}

	rc := DefaultRetryConfig()
	rc.MaxRetries = cfg.MaxRetries
	if cfg.RetryDelay > 0 {
		rc.RetryDelay = cfg.RetryDelay
	}
	if cfg.Timeout > 0 {
		rc.Timeout = cfg.Timeout
	}
	return NewRetryEngine(engine, rc), nil
}

// Names lists registered engines in sorted order.
func (f *Factory) Names() []string {
	out := make([]string, 0, len(f.constructors))
	for k := range f.constructors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
