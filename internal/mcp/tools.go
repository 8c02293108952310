package mcp

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/squatguru/formguru/internal/models"
	"github.com/squatguru/formguru/internal/pose"
	"github.com/squatguru/formguru/internal/reps"
)

// --- Tool definitions ---

var toolComputeAngle = mcp.NewTool("compute_angle",
	mcp.WithDescription("Compute the angle in degrees at vertex B formed by points A-B-C, e.g. hip-knee-ankle. Returns an error when A or C coincides with B."),
	mcp.WithNumber("ax", mcp.Required(), mcp.Description("X of point A")),
	mcp.WithNumber("ay", mcp.Required(), mcp.Description("Y of point A")),
	mcp.WithNumber("bx", mcp.Required(), mcp.Description("X of vertex B")),
	mcp.WithNumber("by", mcp.Required(), mcp.Description("Y of vertex B")),
	mcp.WithNumber("cx", mcp.Required(), mcp.Description("X of point C")),
	mcp.WithNumber("cy", mcp.Required(), mcp.Description("Y of point C")),
)

var toolAnalyzeAngles = mcp.NewTool("analyze_angles",
	mcp.WithDescription("Count squat reps and grade depth and pace from per-frame joint angles. Use null for frames where the pose was not detected."),
	mcp.WithArray("left", mcp.Required(), mcp.Description("Left-side angle per frame, in degrees or null"), mcp.Items(map[string]any{"type": []string{"number", "null"}})),
	mcp.WithArray("right", mcp.Description("Right-side angle per frame, in degrees or null"), mcp.Items(map[string]any{"type": []string{"number", "null"}})),
	mcp.WithNumber("down", mcp.Description("Angle below which the lifter is descending. Defaults to the server setting.")),
	mcp.WithNumber("up", mcp.Description("Angle above which a rep completes. Defaults to the server setting.")),
	mcp.WithNumber("bottom", mcp.Description("Angle below which the lifter is at the bottom. Defaults to the server setting.")),
	mcp.WithString("side", mcp.Description("Side that drives rep counting"), mcp.Enum("left", "right")),
)

var toolListVideos = mcp.NewTool("list_videos",
	mcp.WithDescription("List uploaded videos with their processing status and processed artifact names."),
)

var toolGetProcessingLogs = mcp.NewTool("get_processing_logs",
	mcp.WithDescription("Processing history for one video: status, frame counts, duration and errors."),
	mcp.WithString("video_id", mcp.Required(), mcp.Description("Video UUID from list_videos")),
	mcp.WithNumber("limit", mcp.Description("Maximum entries. Defaults to 50.")),
)

// --- Tool handlers ---

func (h *handlers) computeAngle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var coords [6]float64
	for i, key := range []string{"ax", "ay", "bx", "by", "cx", "cy"} {
		v, err := req.RequireFloat(key)
		if err != nil {
			return mcp.NewToolResultError(key + " parameter is required"), nil
		}
		coords[i] = v
	}

	a := models.Point{X: coords[0], Y: coords[1]}
	b := models.Point{X: coords[2], Y: coords[3]}
	c := models.Point{X: coords[4], Y: coords[5]}
	deg, ok := pose.ComputeAngle(a, b, c)
	if !ok {
		return mcp.NewToolResultError("angle undefined: a point coincides with the vertex"), nil
	}

	result, err := mcp.NewToolResultJSON(map[string]float64{"angle": deg})
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

// angleAnalysis is the analyze_angles result.
type angleAnalysis struct {
	reps.Summary
	Frames int `json:"frames"`
	// RepFrames are the frame indexes at which each rep completed.
	RepFrames []int        `json:"rep_frames"`
	Phases    []reps.Phase `json:"phases"`
}

func (h *handlers) analyzeAngles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	if _, ok := args["left"]; !ok {
		return mcp.NewToolResultError("left parameter is required"), nil
	}
	left, err := angleSeries(args["left"])
	if err != nil {
		return mcp.NewToolResultError("left: " + err.Error()), nil
	}
	right, err := angleSeries(args["right"])
	if err != nil {
		return mcp.NewToolResultError("right: " + err.Error()), nil
	}

	cfg := h.defaults.Reps
	cfg.DownThreshold = req.GetFloat("down", cfg.DownThreshold)
	cfg.UpThreshold = req.GetFloat("up", cfg.UpThreshold)
	cfg.BottomThreshold = req.GetFloat("bottom", cfg.BottomThreshold)
	if side := req.GetString("side", ""); side != "" {
		cfg.Side = pose.Side(side)
	}
	if err := cfg.Validate(); err != nil {
		return mcp.NewToolResultError("invalid thresholds: " + err.Error()), nil
	}

	n := max(len(left), len(right))
	m := reps.NewMachine(cfg)
	out := angleAnalysis{Frames: n, RepFrames: []int{}, Phases: make([]reps.Phase, 0, n)}
	for i := 0; i < n; i++ {
		st := m.Observe(pose.Angles{Left: at(left, i), Right: at(right, i)})
		if st.Counted {
			out.RepFrames = append(out.RepFrames, i)
		}
		out.Phases = append(out.Phases, st.Phase)
	}
	out.Summary = m.Summary()

	result, err := mcp.NewToolResultJSON(out)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

// angleSeries decodes a JSON array of numbers and nulls.
func angleSeries(v any) ([]*float64, error) {
	switch list := v.(type) {
	case nil:
		return nil, nil
	case []float64:
		out := make([]*float64, len(list))
		for i := range list {
			out[i] = &list[i]
		}
		return out, nil
	case []any:
		out := make([]*float64, len(list))
		for i, item := range list {
			switch n := item.(type) {
			case nil:
			case float64:
				out[i] = &n
			case int:
				f := float64(n)
				out[i] = &f
			default:
				return nil, fmt.Errorf("element %d is %T, want number or null", i, item)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("want an array, got %T", v)
}

func at(series []*float64, i int) *float64 {
	if i < len(series) {
		return series[i]
	}
	return nil
}

func (h *handlers) listVideos(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	videos, err := h.src.ListVideos(ctx)
	if err != nil {
		h.log.Error("mcp list_videos", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	if videos == nil {
		videos = []models.VideoRow{}
	}

	result, err := mcp.NewToolResultJSON(videos)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getProcessingLogs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("video_id")
	if err != nil {
		return mcp.NewToolResultError("video_id parameter is required"), nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return mcp.NewToolResultError("invalid video_id: " + err.Error()), nil
	}

	logs, err := h.src.QueryProcessingLogs(ctx, id, int(req.GetFloat("limit", 50)))
	if err != nil {
		h.log.Error("mcp get_processing_logs", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(map[string]any{"video_id": id, "logs": logs})
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}
