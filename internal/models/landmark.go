package models

import "strings"

// Point is a landmark position. X and Y are in frame-pixel space once a frame has
// been scaled; Z is carried through from the detector but never used for angles.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z,omitempty"`
}

// Landmark is a single detected body joint.
type Landmark struct {
	Point
	// Visibility is the detector's per-landmark confidence in [0,1].
	// Nil when the detector does not report one.
	Visibility *float64 `json:"visibility,omitempty"`
}

// PoseFrame is the detector output for one decoded video frame.
// A nil Landmarks map means no pose was detected in that frame.
type PoseFrame struct {
	Index     int
	Width     int
	Height    int
	Landmarks map[string]Landmark
}

// Detected reports whether the frame carries a pose.
func (f PoseFrame) Detected() bool {
	return f.Landmarks != nil
}

// Landmark names. Array positions follow the MediaPipe Pose 33-point model.
const (
	Nose          = "nose"
	LeftShoulder  = "left_shoulder"
	RightShoulder = "right_shoulder"
	LeftElbow     = "left_elbow"
	RightElbow    = "right_elbow"
	LeftWrist     = "left_wrist"
	RightWrist    = "right_wrist"
	LeftHip       = "left_hip"
	RightHip      = "right_hip"
	LeftKnee      = "left_knee"
	RightKnee     = "right_knee"
	LeftAnkle     = "left_ankle"
	RightAnkle    = "right_ankle"
)

// mediaPipeOrder lists landmark names by MediaPipe index (0..32).
// Points with no name here are not used by any tracked joint.
var mediaPipeOrder = map[int]string{
	0:  Nose,
	11: LeftShoulder,
	12: RightShoulder,
	13: LeftElbow,
	14: RightElbow,
	15: LeftWrist,
	16: RightWrist,
	23: LeftHip,
	24: RightHip,
	25: LeftKnee,
	26: RightKnee,
	27: LeftAnkle,
	28: RightAnkle,
}

// LandmarkName returns the name assigned to a MediaPipe landmark index.
func LandmarkName(index int) (string, bool) {
	name, ok := mediaPipeOrder[index]
	return name, ok
}

// NormalizeLandmarkName lowercases a landmark name and converts spaces and
// dashes to underscores, so "Left Knee" and "left-knee" resolve to LeftKnee.
func NormalizeLandmarkName(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}
