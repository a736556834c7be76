package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"
)

// AuditEventType names an audit record.
type AuditEventType string

const (
	AuditEventGraphBuild   AuditEventType = "graph.build"
	AuditEventGraphReload  AuditEventType = "graph.reload"
	AuditEventGraphStore   AuditEventType = "graph.store"
	AuditEventAction       AuditEventType = "view.action"
	AuditEventDeriveError  AuditEventType = "view.error"
	AuditEventLayoutFailed AuditEventType = "layout.failed"
	AuditEventServerStart  AuditEventType = "server.start"
	AuditEventServerStop   AuditEventType = "server.stop"
)

// AuditConfig configures the audit log.
type AuditConfig struct {
	Enabled    bool
	OutputPath string // file path, "stdout" or "stderr"
	SessionID  string // generated when empty
}

// DefaultAuditConfig returns a disabled audit log.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{OutputPath: "stderr"}
}

// AuditLogger writes one JSON object per line for each event: what
// happened to the graph, the view and the server during a session.
// Failures are logged at WARN. The zero value and nil are disabled
// loggers.
type AuditLogger struct {
	logger  *slog.Logger
	closer  io.Closer
	session string
}

// NewAuditLogger opens the configured output. A nil or disabled config
// returns a logger that drops every event.
func NewAuditLogger(config *AuditConfig) (*AuditLogger, error) {
	if config == nil || !config.Enabled {
		return &AuditLogger{}, nil
	}

	var w io.Writer
	var closer io.Closer
	switch config.OutputPath {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(config.OutputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open audit log %s: %w", config.OutputPath, err)
		}
		w, closer = f, f
	}
	l := newAuditLogger(w, config.SessionID)
	l.closer = closer
	return l, nil
}

func newAuditLogger(w io.Writer, session string) *AuditLogger {
	if session == "" {
		session = "session-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &AuditLogger{
		logger:  slog.New(h).With("session", session),
		session: session,
	}
}

// Enabled reports whether events are written.
func (l *AuditLogger) Enabled() bool { return l != nil && l.logger != nil }

// Session is the id attached to every event.
func (l *AuditLogger) Session() string {
	if l == nil {
		return ""
	}
	return l.session
}

func (l *AuditLogger) record(event AuditEventType, msg string, elapsed time.Duration, err error, attrs ...slog.Attr) {
	if !l.Enabled() {
		return
	}
	level := slog.LevelInfo
	attrs = append(attrs, slog.String("event", string(event)), slog.Bool("success", err == nil))
	if elapsed > 0 {
		attrs = append(attrs, slog.Int64("duration_ms", elapsed.Milliseconds()))
	}
	if err != nil {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// LogGraphBuild records a build, or with reload a watcher rebuild, of the
// graph rooted at root.
func (l *AuditLogger) LogGraphBuild(root string, reload bool, nodes, edges int, elapsed time.Duration, err error) {
	event := AuditEventGraphBuild
	if reload {
		event = AuditEventGraphReload
	}
	l.record(event, "Built import graph of "+root, elapsed, err,
		slog.String("root", root), slog.Int("nodes", nodes), slog.Int("edges", edges))
}

func (l *AuditLogger) LogGraphStore(target string, nodes, edges int, err error) {
	l.record(AuditEventGraphStore, "Stored graph in "+target, 0, err,
		slog.String("target", target), slog.Int("nodes", nodes), slog.Int("edges", edges))
}

// LogAction records a UI action. node is omitted when empty.
func (l *AuditLogger) LogAction(actionType, node string, err error) {
	attrs := []slog.Attr{slog.String("action", actionType)}
	if node != "" {
		attrs = append(attrs, slog.String("node", node))
	}
	l.record(AuditEventAction, "Applied "+actionType, 0, err, attrs...)
}

func (l *AuditLogger) LogDeriveError(err error) {
	l.record(AuditEventDeriveError, "View derivation failed", 0, err)
}

func (l *AuditLogger) LogLayoutFailed(engine string, generation uint64, elapsed time.Duration, err error) {
	l.record(AuditEventLayoutFailed, fmt.Sprintf("Layout %d with %s failed", generation, engine), elapsed, err,
		slog.String("engine", engine), slog.Uint64("generation", generation))
}

// LogServer records the viewer starting on addr, or stopping.
func (l *AuditLogger) LogServer(start bool, addr string) {
	if start {
		l.record(AuditEventServerStart, "Server listening on "+addr, 0, nil, slog.String("addr", addr))
		return
	}
	l.record(AuditEventServerStop, "Server stopped", 0, nil, slog.String("addr", addr))
}

// Close closes the output file. Standard streams stay open.
func (l *AuditLogger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

var globalAudit atomic.Pointer[AuditLogger]

// InitGlobalAuditLogger replaces the process-wide audit log.
func InitGlobalAuditLogger(config *AuditConfig) error {
	l, err := NewAuditLogger(config)
	if err != nil {
		return err
	}
	globalAudit.Store(l)
	return nil
}

// Audit returns the process-wide audit log, disabled until initialized.
func Audit() *AuditLogger {
	if l := globalAudit.Load(); l != nil {
		return l
	}
	return &AuditLogger{}
}
