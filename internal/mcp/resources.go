package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/squatguru/formguru/internal/reps"
)

func (h *handlers) analysisDefaults(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	d := h.defaults
	summary := map[string]any{
		"joint":            d.Joint,
		"side":             d.Reps.Side,
		"min_visibility":   d.MinVisibility,
		"down_threshold":   d.Reps.DownThreshold,
		"up_threshold":     d.Reps.UpThreshold,
		"bottom_threshold": d.Reps.BottomThreshold,
		"depth_messages": map[reps.DepthFeedback]string{
			reps.DepthShallow: reps.DepthShallow.Message(),
			reps.DepthGood:    reps.DepthGood.Message(),
			reps.DepthNoReps:  reps.DepthNoReps.Message(),
		},
		"pace_messages": map[reps.PaceFeedback]string{
			reps.PaceSlow:   reps.PaceSlow.Message(),
			reps.PaceGood:   reps.PaceGood.Message(),
			reps.PaceNoData: reps.PaceNoData.Message(),
		},
	}

	data, err := json.Marshal(summary)
	if err != nil {
		return nil, err
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
