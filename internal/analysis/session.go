// Package analysis runs one video's landmark stream through angle extraction
// and rep counting.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/squatguru/formguru/internal/models"
	"github.com/squatguru/formguru/internal/pose"
	"github.com/squatguru/formguru/internal/reps"
)

// Source yields pose frames in decode order. Next returns io.EOF after the
// last frame.
type Source interface {
	Next(ctx context.Context) (models.PoseFrame, error)
}

// Sink receives per-frame metrics, e.g. for overlay rendering.
type Sink interface {
	WriteFrame(ctx context.Context, m FrameMetrics) error
}

// Options configures a Session.
type Options struct {
	Joint         pose.Joint  `json:"joint"`
	MinVisibility float64     `json:"min_visibility"`
	Reps          reps.Config `json:"reps"`
}

// DefaultOptions tracks the left knee with the default thresholds.
func DefaultOptions() Options {
	return Options{Joint: pose.JointKnee, Reps: reps.DefaultConfig()}
}

// FrameMetrics is the per-frame output handed to rendering.
type FrameMetrics struct {
	Frame      int        `json:"frame"`
	LeftAngle  *float64   `json:"left_angle"`
	RightAngle *float64   `json:"right_angle"`
	Phase      reps.Phase `json:"phase"`
	RepCount   int        `json:"rep_count"`
}

// Report is the end-of-video analysis.
type Report struct {
	reps.Summary
	Joint          pose.Joint `json:"joint"`
	Side           pose.Side  `json:"side"`
	Frames         int        `json:"frames"`
	FramesWithPose int        `json:"frames_with_pose"`
	MissingSamples int        `json:"missing_samples"`
	// Partial is set when the stream stopped before its end.
	Partial bool `json:"partial,omitempty"`
}

// Session owns the extractor and state machine for one video.
type Session struct {
	extractor *pose.Extractor
	machine   *reps.Machine
	log       *slog.Logger

	frames         int
	framesWithPose int
	missing        int
	partial        bool
}

// NewSession validates opts and creates a fresh session.
func NewSession(opts Options, log *slog.Logger) (*Session, error) {
	if err := opts.Reps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rep config: %w", err)
	}
	ex, err := pose.NewExtractor(opts.Joint, opts.MinVisibility)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Session{
		extractor: ex,
		machine:   reps.NewMachine(opts.Reps),
		log:       log,
	}, nil
}

// Step processes one frame and returns its metrics.
func (s *Session) Step(frame models.PoseFrame) FrameMetrics {
	s.frames++
	if frame.Detected() {
		s.framesWithPose++
	}

	angles := s.extractor.Extract(frame)
	if angles.Side(s.machine.Config().Side) == nil {
		s.missing++
	}
	st := s.machine.Observe(angles)
	if st.Counted {
		s.log.Debug("rep completed", "frame", frame.Index, "reps", st.RepCount)
	}

	return FrameMetrics{
		Frame:      frame.Index,
		LeftAngle:  angles.Left,
		RightAngle: angles.Right,
		Phase:      st.Phase,
		RepCount:   st.RepCount,
	}
}

// Report reduces everything consumed so far.
func (s *Session) Report() *Report {
	cfg := s.machine.Config()
	return &Report{
		Summary:        s.machine.Summary(),
		Joint:          s.extractor.Joint(),
		Side:           cfg.Side,
		Frames:         s.frames,
		FramesWithPose: s.framesWithPose,
		MissingSamples: s.missing,
		Partial:        s.partial,
	}
}

// Run consumes src until io.EOF, writing each frame's metrics to sink (which
// may be nil). If the source, the sink or ctx fails, Run still returns the
// report for the frames consumed so far together with the error.
func (s *Session) Run(ctx context.Context, src Source, sink Sink) (*Report, error) {
	for {
		if err := ctx.Err(); err != nil {
			s.partial = true
			return s.Report(), err
		}

		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.partial = true
			s.log.Warn("frame source stopped early", "frames", s.frames, "error", err)
			return s.Report(), fmt.Errorf("reading frame %d: %w", s.frames, err)
		}

		m := s.Step(frame)
		if sink != nil {
			if err := sink.WriteFrame(ctx, m); err != nil {
				s.partial = true
				return s.Report(), fmt.Errorf("writing frame %d: %w", m.Frame, err)
			}
		}
	}

	r := s.Report()
	s.log.Info("analysis complete",
		"frames", r.Frames,
		"frames_with_pose", r.FramesWithPose,
		"reps", r.Reps,
		"depth", r.Depth,
		"pace", r.Pace,
	)
	return r, nil
}
