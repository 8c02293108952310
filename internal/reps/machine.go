// Package reps turns a per-frame joint angle signal into repetition counts,
// movement phases and end-of-set feedback.
package reps

import (
	"fmt"
	"math"

	"github.com/squatguru/formguru/internal/pose"
)

// Phase is the current portion of a squat cycle.
type Phase string

const (
	PhaseStanding Phase = "Standing"
	PhaseDescent  Phase = "Descent"
	PhaseBottom   Phase = "Bottom"
	PhaseAscent   Phase = "Ascent"
)

// Default thresholds in degrees.
const (
	DefaultDownThreshold   = 120.0
	DefaultUpThreshold     = 160.0
	DefaultBottomThreshold = 100.0
)

// Config holds per-session thresholds.
type Config struct {
	// DownThreshold: the down phase starts when the angle drops below it.
	DownThreshold float64 `json:"down_threshold"`
	// UpThreshold: a rep is counted when the angle rises above it while down.
	UpThreshold float64 `json:"up_threshold"`
	// BottomThreshold splits Bottom from Ascent while in the down phase.
	BottomThreshold float64 `json:"bottom_threshold"`
	// Side is the body side whose angle drives transitions. The other side
	// only contributes to statistics.
	Side pose.Side `json:"side"`
}

// DefaultConfig returns the 120/160/100 left-side configuration.
func DefaultConfig() Config {
	return Config{
		DownThreshold:   DefaultDownThreshold,
		UpThreshold:     DefaultUpThreshold,
		BottomThreshold: DefaultBottomThreshold,
		Side:            pose.SideLeft,
	}
}

// Validate checks the thresholds are finite and ordered
// (0 < bottom <= down < up <= 180) and the side is known.
func (c Config) Validate() error {
	for _, t := range []struct {
		name string
		v    float64
	}{
		{"down", c.DownThreshold},
		{"up", c.UpThreshold},
		{"bottom", c.BottomThreshold},
	} {
		if math.IsNaN(t.v) || math.IsInf(t.v, 0) {
			return fmt.Errorf("%s threshold must be a finite number, got %v", t.name, t.v)
		}
	}
	if c.DownThreshold >= c.UpThreshold {
		return fmt.Errorf("down threshold %.1f must be below up threshold %.1f", c.DownThreshold, c.UpThreshold)
	}
	if c.DownThreshold <= 0 || c.UpThreshold > 180 {
		return fmt.Errorf("thresholds must lie within (0,180], got %.1f/%.1f", c.DownThreshold, c.UpThreshold)
	}
	if c.BottomThreshold <= 0 || c.BottomThreshold > c.DownThreshold {
		return fmt.Errorf("bottom threshold %.1f must lie within (0, down threshold %.1f]", c.BottomThreshold, c.DownThreshold)
	}
	if _, err := pose.ParseSide(string(c.Side)); err != nil {
		return err
	}
	return nil
}

// State is the machine's output after one frame.
type State struct {
	Phase       Phase `json:"phase"`
	InDownPhase bool  `json:"in_down_phase"`
	RepCount    int   `json:"rep_count"`
	// Counted is true on the frame that completed a rep.
	Counted bool `json:"counted,omitempty"`
}

// Machine is the rep counting state machine for one video. It is not safe for
// concurrent use and must not be shared between videos.
type Machine struct {
	cfg     Config
	phase   Phase
	inDown  bool
	counter int

	left  []float64
	right []float64
}

// NewMachine creates a Machine in the Standing phase.
func NewMachine(cfg Config) *Machine {
	return &Machine{cfg: cfg, phase: PhaseStanding}
}

// Config returns the machine's thresholds.
func (m *Machine) Config() Config {
	return m.cfg
}

// Observe consumes one frame's angles. Nil angles are missing samples: a missing
// authoritative angle leaves the state untouched.
func (m *Machine) Observe(angles pose.Angles) State {
	if angles.Left != nil {
		m.left = append(m.left, *angles.Left)
	}
	if angles.Right != nil {
		m.right = append(m.right, *angles.Right)
	}

	primary := angles.Side(m.cfg.Side)
	if primary == nil {
		return m.State()
	}
	return m.step(*primary)
}

func (m *Machine) step(angle float64) State {
	counted := false
	if angle < m.cfg.DownThreshold && !m.inDown {
		m.inDown = true
		m.phase = PhaseDescent
	} else if angle > m.cfg.UpThreshold && m.inDown {
		m.counter++
		counted = true
		m.inDown = false
		m.phase = PhaseStanding
	}

	if m.inDown {
		if angle < m.cfg.BottomThreshold {
			m.phase = PhaseBottom
		} else {
			m.phase = PhaseAscent
		}
	}

	s := m.State()
	s.Counted = counted
	return s
}

// State returns the current state without consuming a frame.
func (m *Machine) State() State {
	return State{Phase: m.phase, InDownPhase: m.inDown, RepCount: m.counter}
}

// Reps returns the number of completed repetitions.
func (m *Machine) Reps() int {
	return m.counter
}

// Summary reduces the accumulated history. It may be called at any point,
// including after a stream stopped early.
func (m *Machine) Summary() Summary {
	return Reduce(m.left, m.right, m.counter)
}
