package pipeline

import (
	"io"

	log "github.com/sirupsen/logrus"

	"semgroup/internal/streamio"
)

// Event is one line of the newline-delimited job event stream. Type is always
// set; the remaining fields depend on it:
//
//	progress: stage, fetched, total, percent
//	result:   id, label or clusterId, similarity
//	error:    message
//	stopped:  (no extra fields)
//	done:     total, processed
type Event struct {
	Type string `json:"type"`

	Stage   string `json:"stage,omitempty"`
	Fetched int    `json:"fetched,omitempty"`
	Total   int    `json:"total,omitempty"`
	Percent int    `json:"percent,omitempty"`

	ID         int64   `json:"id,omitempty"`
	Label      string  `json:"label,omitempty"`
	ClusterID  string  `json:"clusterId,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`

	Processed int    `json:"processed,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Emitter serializes job events to a sink, one JSON object per line. After a
// terminal event (done, stopped, error) every further emission is dropped, so
// a consumer never observes output after the outcome it already acted on.
type Emitter struct {
	lw       *streamio.LineWriter
	terminal bool
}

func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{lw: streamio.NewLineWriter(w)}
}

func (e *Emitter) emit(ev Event) {
	if e.terminal {
		log.WithField("type", ev.Type).Debug("dropping event after terminal")
		return
	}
	if err := e.lw.Write(ev); err != nil {
		// The event stream is advisory; a broken consumer pipe must not
		// fail the job itself.
		log.WithError(err).Warn("failed to write job event")
	}
}

// Progress reports cumulative per-stage progress. percent is derived here so
// every consumer sees the same 0-100 figure.
func (e *Emitter) Progress(stage string, fetched, total int) {
	percent := 100
	if total > 0 {
		percent = fetched * 100 / total
	}
	e.emit(Event{Type: "progress", Stage: stage, Fetched: fetched, Total: total, Percent: percent})
}

// Result reports one final per-item assignment.
func (e *Emitter) Result(id int64, label, clusterID string, similarity float64) {
	e.emit(Event{Type: "result", ID: id, Label: label, ClusterID: clusterID, Similarity: similarity})
}

// Done emits the successful terminal event.
func (e *Emitter) Done(total, processed int) {
	e.emit(Event{Type: "done", Total: total, Processed: processed})
	e.terminal = true
}

// Stopped emits the cancellation terminal event. Cancellation is an outcome,
// not a failure.
func (e *Emitter) Stopped() {
	e.emit(Event{Type: "stopped"})
	e.terminal = true
}

// Error emits the failure terminal event with a user-facing message.
func (e *Emitter) Error(message string) {
	e.emit(Event{Type: "error", Message: message})
	e.terminal = true
}
