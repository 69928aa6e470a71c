// Package checkpoint parses structured progress markers out of in-guest
// command output. A long-running script emits lines of the form
//
//	CHECKPOINT <name> <json-object>
//
// interleaved with normal output. The parser is an io.Writer placed in the
// output path, so records reach the observer while execution is still in
// flight; non-marker lines pass through untouched.
package checkpoint

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

// Marker is the line prefix announcing a checkpoint.
const Marker = "CHECKPOINT"

// DefaultLogSize bounds the per-guest rolling log.
const DefaultLogSize = 100

// Record is one decoded checkpoint.
type Record struct {
	Checkpoint string         `json:"checkpoint"`
	Params     map[string]any `json:"params"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Observer receives each record synchronously, in emission order.
type Observer func(Record)

// Log is a bounded rolling log of records; the oldest entries are dropped
// once max is exceeded.
type Log struct {
	mu   sync.Mutex
	max  int
	recs []Record
}

// NewLog creates a Log keeping at most max records (DefaultLogSize if <= 0).
func NewLog(max int) *Log {
	if max <= 0 {
		max = DefaultLogSize
	}
	return &Log{max: max}
}

// Append adds a record, evicting the oldest once over capacity.
func (l *Log) Append(rec Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recs = append(l.recs, rec)
	if len(l.recs) > l.max {
		l.recs = l.recs[len(l.recs)-l.max:]
	}
}

// Records returns a detached copy of the current records.
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.recs))
	copy(out, l.recs)
	return out
}

// Parser scans a byte stream line by line for checkpoint markers.
// Marker lines are consumed; everything else is forwarded to out.
type Parser struct {
	out io.Writer // may be nil (output discarded after scanning)
	obs Observer  // may be nil
	log *Log      // may be nil
	buf bytes.Buffer
}

// NewParser creates a Parser forwarding non-marker output to out.
func NewParser(out io.Writer, obs Observer, log *Log) *Parser {
	return &Parser{out: out, obs: obs, log: log}
}

// Write implements io.Writer. Input is buffered until a newline completes a
// line; callers may split lines across Write calls arbitrarily.
func (p *Parser) Write(b []byte) (int, error) {
	p.buf.Write(b)
	for {
		raw := p.buf.Bytes()
		i := bytes.IndexByte(raw, '\n')
		if i < 0 {
			break
		}
		line := string(raw[:i])
		p.buf.Next(i + 1)
		if err := p.handleLine(line, true); err != nil {
			return len(b), err
		}
	}
	return len(b), nil
}

// Flush processes a trailing line that arrived without a newline.
// Call once after the stream ends.
func (p *Parser) Flush() error {
	if p.buf.Len() == 0 {
		return nil
	}
	line := p.buf.String()
	p.buf.Reset()
	return p.handleLine(line, false)
}

func (p *Parser) handleLine(line string, newline bool) error {
	name, payload, ok := matchMarker(line)
	if !ok {
		if p.out == nil {
			return nil
		}
		if newline {
			line += "\n"
		}
		_, err := io.WriteString(p.out, line)
		return err
	}

	rec := Record{Checkpoint: name, Timestamp: time.Now()}
	if err := json.Unmarshal([]byte(payload), &rec.Params); err != nil || payload == "" {
		// Malformed payloads never fail the execution: degrade to raw text.
		rec.Params = map[string]any{"message": payload}
	}
	if p.log != nil {
		p.log.Append(rec)
	}
	if p.obs != nil {
		p.obs(rec)
	}
	return nil
}

// matchMarker splits "CHECKPOINT <name> <payload>" into its parts.
// A bare "CHECKPOINT" with no name is not a marker.
func matchMarker(line string) (name, payload string, ok bool) {
	trimmed := strings.TrimRight(line, "\r")
	rest, found := strings.CutPrefix(trimmed, Marker+" ")
	if !found {
		return "", "", false
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", "", false
	}
	if i := strings.IndexByte(rest, ' '); i >= 0 {
		return rest[:i], strings.TrimSpace(rest[i+1:]), true
	}
	return rest, "", true
}
