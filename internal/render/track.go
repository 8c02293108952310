// Package render produces the annotated output of an analysis: a per-frame
// overlay track and, when a renderer is configured, the processed video.
package render

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/multierr"

	"github.com/squatguru/formguru/internal/analysis"
)

// TrackWriter writes per-frame metrics as JSON lines. It implements
// analysis.Sink.
type TrackWriter struct {
	f   *os.File
	w   *bufio.Writer
	enc *json.Encoder
	n   int
}

// CreateTrack creates (or truncates) the track file at path.
func CreateTrack(path string) (*TrackWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating track %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	return &TrackWriter{f: f, w: w, enc: json.NewEncoder(w)}, nil
}

// WriteFrame appends one frame record.
func (t *TrackWriter) WriteFrame(_ context.Context, m analysis.FrameMetrics) error {
	if err := t.enc.Encode(m); err != nil {
		return fmt.Errorf("writing track frame %d: %w", m.Frame, err)
	}
	t.n++
	return nil
}

// Frames returns how many records were written.
func (t *TrackWriter) Frames() int { return t.n }

// Path returns the track file path.
func (t *TrackWriter) Path() string { return t.f.Name() }

// Close flushes buffered records and closes the file.
func (t *TrackWriter) Close() error {
	var err error
	if ferr := t.w.Flush(); ferr != nil {
		err = fmt.Errorf("flushing track: %w", ferr)
	}
	return multierr.Append(err, t.f.Close())
}

// ReadTrack loads a track file written by TrackWriter.
func ReadTrack(path string) ([]analysis.FrameMetrics, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening track: %w", err)
	}
	defer f.Close()

	var out []analysis.FrameMetrics
	dec := json.NewDecoder(f)
	for dec.More() {
		var m analysis.FrameMetrics
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("decoding track record %d: %w", len(out), err)
		}
		out = append(out, m)
	}
	return out, nil
}
