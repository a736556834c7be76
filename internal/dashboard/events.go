package dashboard

import (
	"errors"
	"time"

	"github.com/grishy/gopkgview/internal/layout"
	"github.com/grishy/gopkgview/internal/observability"
	"github.com/grishy/gopkgview/internal/viewmodel"
)

// Emitter forwards session changes to SSE clients, the audit log and
// metrics. It is safe to use from multiple goroutines.
type Emitter struct {
	hub     *Hub
	audit   *observability.AuditLogger
	metrics *observability.ViewerMetrics
}

// NewEmitter creates an emitter that reports to the global audit logger
// and metrics.
func NewEmitter(hub *Hub) *Emitter {
	return &Emitter{
		hub:     hub,
		audit:   observability.Audit(),
		metrics: observability.Metrics(),
	}
}

func (e *Emitter) broadcast(typ string, data any) {
	e.hub.Broadcast(&Event{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// ViewUpdated broadcasts "view.updated" with the new view.
func (e *Emitter) ViewUpdated(v ViewState) {
	e.broadcast(EventViewUpdated, v)
}

// ActionApplied records a reduced action, rejected or not.
func (e *Emitter) ActionApplied(a viewmodel.Action, err error) {
	e.metrics.RecordAction(string(a.Type), err)
	e.audit.LogAction(string(a.Type), a.Node, err)
}

// Derived records the outcome of a filter pass. A failure also broadcasts
// "view.error".
func (e *Emitter) Derived(err error) {
	e.metrics.RecordDerive(err)
	if err == nil {
		return
	}
	e.audit.LogDeriveError(err)
	e.broadcast(EventViewError, errorResponse(err))
}

// LayoutFailed broadcasts "layout.failed".
func (e *Emitter) LayoutFailed(out layout.Outcome) {
	e.broadcast(EventLayoutFailed, LayoutFailure{
		Generation: out.Generation,
		Error:      out.Err.Error(),
		DurationMS: out.Duration.Milliseconds(),
	})
}

// GraphReloaded broadcasts "graph.reloaded".
func (e *Emitter) GraphReloaded(info ReloadInfo) {
	e.broadcast(EventGraphReloaded, info)
}

func errorResponse(err error) ErrorResponse {
	resp := ErrorResponse{Error: err.Error()}
	var uc *viewmodel.UnknownCategoryError
	if errors.As(err, &uc) {
		resp.Category = string(uc.Category)
		resp.Node = uc.NodeID
	}
	return resp
}
