// Package detector reads pose landmarks produced by an external pose
// detection process.
//
// The wire format is JSON lines, one object per decoded frame:
//
//	{"frame": 0, "width": 1280, "height": 720, "landmarks": [{"x":0.51,"y":0.42,"z":-0.1,"visibility":0.98}, ...]}
//	{"frame": 1, "landmarks": null}
//	{"frame": 2, "landmarks": {"left_knee": {"x": 640, "y": 410}, ...}}
//
// An array is indexed by MediaPipe Pose landmark number; an object is keyed by
// landmark name. When width and height are present, x and y are normalized and
// get scaled to pixels.
package detector

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/squatguru/formguru/internal/models"
)

// maxLineBytes bounds a single frame record.
const maxLineBytes = 4 << 20

// wireFrame is one JSON line.
type wireFrame struct {
	Frame     *int            `json:"frame"`
	Width     int             `json:"width"`
	Height    int             `json:"height"`
	Landmarks json.RawMessage `json:"landmarks"`
}

// Reader decodes a landmark stream lazily. It is consumed once.
type Reader struct {
	scanner *bufio.Scanner
	line    int
	next    int
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Reader{scanner: sc}
}

// Next returns the next frame, or io.EOF at end of stream. Blank lines are
// skipped. Frames without an explicit index are numbered sequentially.
func (r *Reader) Next(ctx context.Context) (models.PoseFrame, error) {
	for r.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return models.PoseFrame{}, err
		}
		r.line++
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		frame, err := r.decode(line)
		if err != nil {
			return models.PoseFrame{}, fmt.Errorf("line %d: %w", r.line, err)
		}
		return frame, nil
	}
	if err := r.scanner.Err(); err != nil {
		return models.PoseFrame{}, fmt.Errorf("reading landmarks: %w", err)
	}
	return models.PoseFrame{}, io.EOF
}

func (r *Reader) decode(line []byte) (models.PoseFrame, error) {
	var w wireFrame
	if err := json.Unmarshal(line, &w); err != nil {
		return models.PoseFrame{}, fmt.Errorf("parsing frame: %w", err)
	}

	idx := r.next
	if w.Frame != nil {
		idx = *w.Frame
	}
	r.next = idx + 1

	frame := models.PoseFrame{Index: idx, Width: w.Width, Height: w.Height}
	lms, err := decodeLandmarks(w.Landmarks)
	if err != nil {
		return models.PoseFrame{}, err
	}
	if lms == nil {
		return frame, nil
	}

	if w.Width > 0 && w.Height > 0 {
		for name, lm := range lms {
			lm.X *= float64(w.Width)
			lm.Y *= float64(w.Height)
			lms[name] = lm
		}
	}
	frame.Landmarks = lms
	return frame, nil
}

func decodeLandmarks(raw json.RawMessage) (map[string]models.Landmark, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch raw[0] {
	case '[':
		var list []models.Landmark
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("parsing landmark array: %w", err)
		}
		if len(list) == 0 {
			return nil, nil
		}
		out := make(map[string]models.Landmark, len(list))
		for i, lm := range list {
			if name, ok := models.LandmarkName(i); ok {
				out[name] = lm
			}
		}
		return out, nil
	case '{':
		var named map[string]models.Landmark
		if err := json.Unmarshal(raw, &named); err != nil {
			return nil, fmt.Errorf("parsing landmark object: %w", err)
		}
		if len(named) == 0 {
			return nil, nil
		}
		out := make(map[string]models.Landmark, len(named))
		for name, lm := range named {
			out[models.NormalizeLandmarkName(name)] = lm
		}
		return out, nil
	}
	return nil, fmt.Errorf("landmarks must be an array, an object or null")
}
