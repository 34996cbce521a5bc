package streamio

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
)

// maxRecordBytes bounds a single serialized record. Embedding vectors of a
// few thousand floats serialize to tens of kilobytes; 16MB leaves ample room
// without letting a corrupt file exhaust memory.
const maxRecordBytes = 16 << 20

// FieldScanner lazily yields the records of one named top-level array field
// out of a JSON document, without loading sibling fields or the full array.
// It locates the field key with an incremental scan, then accumulates one
// object at a time by brace-depth tracking, yielding each record as soon as
// its closing brace is seen.
type FieldScanner struct {
	br      *bufio.Reader
	field   string
	located bool
	done    bool
}

func NewFieldScanner(r io.Reader, field string) *FieldScanner {
	return &FieldScanner{br: bufio.NewReader(r), field: field}
}

// Next decodes the next well-formed record into v. Malformed records are
// skipped with a log entry, not surfaced. Returns false when the field's
// array is exhausted (or the field is absent).
func (s *FieldScanner) Next(v any) (bool, error) {
	if s.done {
		return false, nil
	}
	if !s.located {
		if err := s.locateField(); err != nil {
			s.done = true
			if errors.Is(err, io.EOF) {
				log.Warnf("field %q not found in document", s.field)
				return false, nil
			}
			return false, err
		}
		s.located = true
	}

	for {
		raw, end, err := s.nextRawObject()
		if err != nil {
			s.done = true
			return false, err
		}
		if end {
			s.done = true
			return false, nil
		}
		if err := json.Unmarshal(raw, v); err != nil {
			log.Warnf("skipping malformed record in field %q: %v", s.field, err)
			continue
		}
		return true, nil
	}
}

// locateField advances the reader to just past the '[' of `"field": [`.
// The key is matched outside string values only, tracked by quote state.
func (s *FieldScanner) locateField() error {
	needle := []byte(`"` + s.field + `"`)
	var window []byte
	inString := false
	escaped := false
	depth := 0
	for {
		b, err := s.br.ReadByte()
		if err != nil {
			return err
		}
		if inString {
			if escaped {
				escaped = false
			} else if b == '\\' {
				escaped = true
			} else if b == '"' {
				inString = false
			}
			window = append(window, b)
			if len(window) > len(needle) {
				window = window[1:]
			}
			// Only a key at depth 1 counts; values inside nested structures
			// must not match.
			if !inString && depth == 1 && bytes.Equal(window, needle) {
				if err := s.expectArrayStart(); err != nil {
					if errors.Is(err, errNotArray) {
						window = window[:0]
						continue
					}
					return err
				}
				return nil
			}
			continue
		}
		switch b {
		case '"':
			inString = true
			window = append(window[:0], b)
		case '{':
			depth++
		case '}':
			depth--
		}
	}
}

var errNotArray = errors.New("matched key does not open an array")

// expectArrayStart consumes `: [` after a matched key, tolerating whitespace.
func (s *FieldScanner) expectArrayStart() error {
	if err := s.skipSpace(); err != nil {
		return err
	}
	b, err := s.br.ReadByte()
	if err != nil {
		return err
	}
	if b != ':' {
		s.br.UnreadByte()
		return errNotArray
	}
	if err := s.skipSpace(); err != nil {
		return err
	}
	b, err = s.br.ReadByte()
	if err != nil {
		return err
	}
	if b != '[' {
		s.br.UnreadByte()
		return errNotArray
	}
	return nil
}

func (s *FieldScanner) skipSpace() error {
	for {
		b, err := s.br.ReadByte()
		if err != nil {
			return err
		}
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return s.br.UnreadByte()
		}
	}
}

// nextRawObject accumulates one complete JSON object from the open array.
// end=true means the array's closing bracket was reached.
func (s *FieldScanner) nextRawObject() (raw []byte, end bool, err error) {
	// Skip separators until the object opener or the array terminator.
	for {
		b, err := s.br.ReadByte()
		if err != nil {
			return nil, false, fmt.Errorf("scan field %q: %w", s.field, err)
		}
		switch b {
		case ' ', '\t', '\n', '\r', ',':
			continue
		case ']':
			return nil, true, nil
		case '{':
			raw = append(raw, b)
		default:
			return nil, false, fmt.Errorf("unexpected byte %q in field %q array", b, s.field)
		}
		break
	}

	depth := 1
	inString := false
	escaped := false
	for depth > 0 {
		b, err := s.br.ReadByte()
		if err != nil {
			return nil, false, fmt.Errorf("truncated record in field %q: %w", s.field, err)
		}
		raw = append(raw, b)
		if len(raw) > maxRecordBytes {
			return nil, false, fmt.Errorf("record in field %q exceeds %d bytes", s.field, maxRecordBytes)
		}
		if inString {
			if escaped {
				escaped = false
			} else if b == '\\' {
				escaped = true
			} else if b == '"' {
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
		}
	}
	return raw, false, nil
}

// LineScanner yields newline-delimited JSON records. Malformed lines are
// skipped with a log entry.
type LineScanner struct {
	sc   *bufio.Scanner
	line int
}

func NewLineScanner(r io.Reader) *LineScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxRecordBytes)
	return &LineScanner{sc: sc}
}

// Next decodes the next well-formed line into v. Returns false at EOF.
func (ls *LineScanner) Next(v any) (bool, error) {
	for ls.sc.Scan() {
		ls.line++
		line := bytes.TrimSpace(ls.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := json.Unmarshal(line, v); err != nil {
			log.Warnf("skipping malformed record at line %d: %v", ls.line, err)
			continue
		}
		return true, nil
	}
	if err := ls.sc.Err(); err != nil {
		return false, fmt.Errorf("scan lines: %w", err)
	}
	return false, nil
}
