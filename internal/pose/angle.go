// Package pose derives joint angles from detected body landmarks.
package pose

import (
	"fmt"
	"math"

	"github.com/squatguru/formguru/internal/models"
)

// minVectorLength below which a limb vector is treated as zero length.
const minVectorLength = 1e-9

// ComputeAngle returns the angle in degrees at vertex b formed by a-b-c.
// Only X and Y are used. ok is false when a or c coincides with b, since the
// angle is undefined there.
func ComputeAngle(a, b, c models.Point) (deg float64, ok bool) {
	bax, bay := a.X-b.X, a.Y-b.Y
	bcx, bcy := c.X-b.X, c.Y-b.Y

	na := math.Hypot(bax, bay)
	nc := math.Hypot(bcx, bcy)
	if na < minVectorLength || nc < minVectorLength {
		return 0, false
	}

	cos := (bax*bcx + bay*bcy) / (na * nc)
	cos = math.Max(-1, math.Min(1, cos))
	deg = math.Acos(cos) * 180 / math.Pi
	if math.IsNaN(deg) {
		return 0, false
	}
	return deg, true
}

// Joint names a tracked joint.
type Joint string

const (
	JointKnee  Joint = "knee"
	JointHip   Joint = "hip"
	JointElbow Joint = "elbow"
)

// Side names a body side.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// ParseSide validates a side name.
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SideLeft, SideRight:
		return Side(s), nil
	}
	return "", fmt.Errorf("unknown side %q (want left or right)", s)
}

// chain is the landmark triple (first, vertex, last) for one side of a joint.
type chain struct {
	a, b, c string
}

var jointChains = map[Joint]map[Side]chain{
	JointKnee: {
		SideLeft:  {models.LeftHip, models.LeftKnee, models.LeftAnkle},
		SideRight: {models.RightHip, models.RightKnee, models.RightAnkle},
	},
	JointHip: {
		SideLeft:  {models.LeftShoulder, models.LeftHip, models.LeftKnee},
		SideRight: {models.RightShoulder, models.RightHip, models.RightKnee},
	},
	JointElbow: {
		SideLeft:  {models.LeftShoulder, models.LeftElbow, models.LeftWrist},
		SideRight: {models.RightShoulder, models.RightElbow, models.RightWrist},
	},
}

// ParseJoint validates a joint name.
func ParseJoint(s string) (Joint, error) {
	if _, ok := jointChains[Joint(s)]; !ok {
		return "", fmt.Errorf("unknown joint %q (want knee, hip or elbow)", s)
	}
	return Joint(s), nil
}

// Angles holds one frame's angle at the tracked joint for both sides.
// A nil value is a missing sample.
type Angles struct {
	Left  *float64
	Right *float64
}

// Side returns the sample for the given side.
func (a Angles) Side(s Side) *float64 {
	if s == SideRight {
		return a.Right
	}
	return a.Left
}

// Extractor computes per-frame joint angles. It holds no per-video state and
// is safe for concurrent use.
type Extractor struct {
	joint         Joint
	minVisibility float64
}

// NewExtractor creates an Extractor for the given joint. Landmarks with a
// reported visibility below minVisibility are treated as absent.
func NewExtractor(joint Joint, minVisibility float64) (*Extractor, error) {
	if _, ok := jointChains[joint]; !ok {
		return nil, fmt.Errorf("unknown joint %q", joint)
	}
	return &Extractor{joint: joint, minVisibility: minVisibility}, nil
}

// Joint returns the tracked joint.
func (e *Extractor) Joint() Joint {
	return e.joint
}

// Extract computes left and right angles for a frame.
func (e *Extractor) Extract(f models.PoseFrame) Angles {
	if !f.Detected() {
		return Angles{}
	}
	chains := jointChains[e.joint]
	return Angles{
		Left:  e.sideAngle(f.Landmarks, chains[SideLeft]),
		Right: e.sideAngle(f.Landmarks, chains[SideRight]),
	}
}

func (e *Extractor) sideAngle(lms map[string]models.Landmark, ch chain) *float64 {
	a, ok := e.usable(lms, ch.a)
	if !ok {
		return nil
	}
	b, ok := e.usable(lms, ch.b)
	if !ok {
		return nil
	}
	c, ok := e.usable(lms, ch.c)
	if !ok {
		return nil
	}
	deg, ok := ComputeAngle(a, b, c)
	if !ok {
		return nil
	}
	return &deg
}

func (e *Extractor) usable(lms map[string]models.Landmark, name string) (models.Point, bool) {
	lm, ok := lms[name]
	if !ok {
		return models.Point{}, false
	}
	if lm.Visibility != nil && *lm.Visibility < e.minVisibility {
		return models.Point{}, false
	}
	return lm.Point, true
}
