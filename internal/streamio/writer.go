// Package streamio reads and writes large ordered record collections through
// sequential file formats without materializing a whole collection in memory.
// It is the hand-off mechanism between the embedding stage and the grouping
// stage: keyword sets with 1000+-float vectors attached can be two to three
// orders of magnitude too large to hold fully in memory.
//
// Two shapes are supported: a single JSON document with named top-level array
// fields ({"categories":[...],"keywords":[...]}), and newline-delimited JSON
// with one record per line. A general streaming-JSON serializer is
// deliberately avoided; the writer covers exactly these two known shapes with
// manual separator control.
package streamio

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"semgroup/internal/models"
)

// CollectionWriter appends records into named top-level JSON array fields.
// Usage: BeginField, WriteRecord..., EndField (repeatable per field), Close.
// Writes go through a buffered writer; backpressure is inherited from the
// blocking sink, so the caller is suspended rather than buffering unboundedly.
type CollectionWriter struct {
	w         *bufio.Writer
	bytes     int64
	fields    int
	fieldOpen bool
	first     bool
	closed    bool
}

func NewCollectionWriter(w io.Writer) *CollectionWriter {
	return &CollectionWriter{w: bufio.NewWriter(w)}
}

func (cw *CollectionWriter) write(s string) error {
	n, err := cw.w.WriteString(s)
	cw.bytes += int64(n)
	if err != nil {
		return cw.streamErr(err)
	}
	return nil
}

// streamErr tags sink failures with the byte estimate for diagnostics.
func (cw *CollectionWriter) streamErr(err error) error {
	return fmt.Errorf("%w: after ~%d bytes: %v", models.ErrStreamWrite, cw.bytes, err)
}

// BeginField opens the next named array field, emitting the document opener
// or the field separator as needed.
func (cw *CollectionWriter) BeginField(name string) error {
	if cw.closed {
		return errors.New("collection writer is closed")
	}
	if cw.fieldOpen {
		return fmt.Errorf("field still open, EndField must be called before %q", name)
	}
	sep := "{"
	if cw.fields > 0 {
		sep = ","
	}
	key, err := json.Marshal(name)
	if err != nil {
		return fmt.Errorf("encode field name: %w", err)
	}
	if err := cw.write(sep + string(key) + ":["); err != nil {
		return err
	}
	cw.fieldOpen = true
	cw.first = true
	cw.fields++
	return nil
}

// WriteRecord appends one serialized record to the open field.
func (cw *CollectionWriter) WriteRecord(v any) error {
	if !cw.fieldOpen {
		return errors.New("no open field to write into")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if !cw.first {
		if err := cw.write(","); err != nil {
			return err
		}
	}
	cw.first = false
	return cw.write(string(raw))
}

// EndField closes the open array field and drains the buffer to the sink.
func (cw *CollectionWriter) EndField() error {
	if !cw.fieldOpen {
		return errors.New("no open field to end")
	}
	if err := cw.write("]"); err != nil {
		return err
	}
	cw.fieldOpen = false
	if err := cw.w.Flush(); err != nil {
		return cw.streamErr(err)
	}
	return nil
}

// Close finalizes the JSON document. The underlying sink is not closed.
func (cw *CollectionWriter) Close() error {
	if cw.closed {
		return nil
	}
	if cw.fieldOpen {
		if err := cw.EndField(); err != nil {
			return err
		}
	}
	if cw.fields == 0 {
		if err := cw.write("{"); err != nil {
			return err
		}
	}
	if err := cw.write("}"); err != nil {
		return err
	}
	cw.closed = true
	if err := cw.w.Flush(); err != nil {
		return cw.streamErr(err)
	}
	return nil
}

// BytesWritten returns the running byte estimate, used in stream-write error
// reports.
func (cw *CollectionWriter) BytesWritten() int64 { return cw.bytes }

// LineWriter emits newline-delimited JSON, one record per line. Used for the
// clustering/typing hand-off shape and for the progress/result event stream.
type LineWriter struct {
	w     *bufio.Writer
	bytes int64
	count int
}

func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{w: bufio.NewWriter(w)}
}

// Write appends one record and a newline, then drains the buffer so each
// line is observable by a consuming process as soon as it is complete.
func (lw *LineWriter) Write(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	n, err := lw.w.Write(append(raw, '\n'))
	lw.bytes += int64(n)
	if err != nil {
		return fmt.Errorf("%w: after ~%d bytes: %v", models.ErrStreamWrite, lw.bytes, err)
	}
	if err := lw.w.Flush(); err != nil {
		return fmt.Errorf("%w: after ~%d bytes: %v", models.ErrStreamWrite, lw.bytes, err)
	}
	lw.count++
	return nil
}

// Count returns the number of records written.
func (lw *LineWriter) Count() int { return lw.count }

// BytesWritten returns the running byte estimate.
func (lw *LineWriter) BytesWritten() int64 { return lw.bytes }
