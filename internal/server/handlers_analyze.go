package server

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/squatguru/formguru/internal/analysis"
	"github.com/squatguru/formguru/internal/detector"
	"github.com/squatguru/formguru/internal/pose"
)

// maxAnalyzeBytes bounds an uploaded landmark stream.
const maxAnalyzeBytes = 64 << 20

// frameCollector keeps per-frame metrics for the response.
type frameCollector struct {
	frames []analysis.FrameMetrics
}

func (c *frameCollector) WriteFrame(_ context.Context, m analysis.FrameMetrics) error {
	c.frames = append(c.frames, m)
	return nil
}

// handleAnalyze runs a session over a landmark JSON-lines body. Frame
// metrics are included when frames=true.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts, err := analysisOptions(q, s.opts.Analysis)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	session, err := analysis.NewSession(opts, s.log)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var sink analysis.Sink
	collector := &frameCollector{}
	withFrames := q.Get("frames") == "true"
	if withFrames {
		sink = collector
	}

	body := http.MaxBytesReader(w, r.Body, maxAnalyzeBytes)
	start := time.Now()
	report, err := session.Run(r.Context(), detector.NewReader(body), sink)
	s.opts.Metrics.ObserveAnalysis("stream", report, time.Since(start), err)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":    err.Error(),
			"analysis": report,
		})
		return
	}

	resp := map[string]any{"analysis": report}
	if withFrames {
		frames := collector.frames
		if frames == nil {
			frames = []analysis.FrameMetrics{}
		}
		resp["frames"] = frames
	}
	writeJSON(w, http.StatusOK, resp)
}

// analysisOptions applies query overrides (down, up, bottom, side, joint,
// min_visibility) to base.
func analysisOptions(q url.Values, base analysis.Options) (analysis.Options, error) {
	opts := base
	floats := []struct {
		key string
		dst *float64
	}{
		{"down", &opts.Reps.DownThreshold},
		{"up", &opts.Reps.UpThreshold},
		{"bottom", &opts.Reps.BottomThreshold},
		{"min_visibility", &opts.MinVisibility},
	}
	for _, f := range floats {
		v := q.Get(f.key)
		if v == "" {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return opts, fmt.Errorf("invalid %s: %q", f.key, v)
		}
		*f.dst = n
	}
	if v := q.Get("side"); v != "" {
		side, err := pose.ParseSide(v)
		if err != nil {
			return opts, err
		}
		opts.Reps.Side = side
	}
	if v := q.Get("joint"); v != "" {
		joint, err := pose.ParseJoint(v)
		if err != nil {
			return opts, err
		}
		opts.Joint = joint
	}
	if opts.MinVisibility < 0 || opts.MinVisibility > 1 {
		return opts, fmt.Errorf("min_visibility must be within [0, 1], got %v", opts.MinVisibility)
	}
	if err := opts.Reps.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}
