package reps

// DepthFeedback grades squat depth.
type DepthFeedback string

const (
	DepthShallow DepthFeedback = "shallow"
	DepthGood    DepthFeedback = "good"
	DepthNoReps  DepthFeedback = "no_reps"
)

// PaceFeedback grades rep pace.
type PaceFeedback string

const (
	PaceSlow   PaceFeedback = "slow"
	PaceGood   PaceFeedback = "good"
	PaceNoData PaceFeedback = "no_data"
)

const (
	// shallowAverageAngle: an average angle above this on either side is shallow.
	shallowAverageAngle = 110.0
	// goodPaceReps is the rep count at which pace is considered good.
	goodPaceReps = 5
)

var depthMessages = map[DepthFeedback]string{
	DepthShallow: "Your squat depth is shallow. Try lowering further.",
	DepthGood:    "Good squat depth!",
	DepthNoReps:  "No reps detected. Ensure you're performing full squats.",
}

var paceMessages = map[PaceFeedback]string{
	PaceSlow:   "Slow pace detected. Consider increasing your pace.",
	PaceGood:   "Good pace!",
	PaceNoData: "No rep detection to determine pace.",
}

// Message returns the user-facing text for a depth grade.
func (d DepthFeedback) Message() string { return depthMessages[d] }

// Message returns the user-facing text for a pace grade.
func (p PaceFeedback) Message() string { return paceMessages[p] }

// Summary is the end-of-video feedback record.
type Summary struct {
	Reps          int           `json:"reps"`
	AvgLeftAngle  float64       `json:"average_angle_left"`
	AvgRightAngle float64       `json:"average_angle_right"`
	Depth         DepthFeedback `json:"depth"`
	Pace          PaceFeedback  `json:"pace"`
	DepthMessage  string        `json:"depth_message"`
	PaceMessage   string        `json:"pace_message"`
}

// Reduce builds a Summary from per-side angle histories and the rep count.
func Reduce(left, right []float64, reps int) Summary {
	s := Summary{
		Reps:          reps,
		AvgLeftAngle:  mean(left),
		AvgRightAngle: mean(right),
	}

	switch {
	case reps == 0:
		s.Depth = DepthNoReps
		s.Pace = PaceNoData
	default:
		s.Depth = DepthGood
		if s.AvgLeftAngle > shallowAverageAngle || s.AvgRightAngle > shallowAverageAngle {
			s.Depth = DepthShallow
		}
		s.Pace = PaceGood
		if reps < goodPaceReps {
			s.Pace = PaceSlow
		}
	}

	s.DepthMessage = s.Depth.Message()
	s.PaceMessage = s.Pace.Message()
	return s
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
