package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/squatguru/formguru/internal/analysis"
)

// New creates an MCP server with all tools and resources registered.
// defaults seeds analyze_angles when a call does not override thresholds.
func New(src VideoSource, defaults analysis.Options, version string, log *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer("FormGuru", version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions("FormGuru squat analysis server. Compute joint angles, count reps from angle series, and inspect uploaded videos and their processing history."),
	)

	h := &handlers{src: src, defaults: defaults, log: log}

	// Tools
	s.AddTools(
		server.ServerTool{Tool: toolComputeAngle, Handler: h.computeAngle},
		server.ServerTool{Tool: toolAnalyzeAngles, Handler: h.analyzeAngles},
		server.ServerTool{Tool: toolListVideos, Handler: h.listVideos},
		server.ServerTool{Tool: toolGetProcessingLogs, Handler: h.getProcessingLogs},
	)

	// Resources
	s.AddResources(
		server.ServerResource{Resource: resDefaults, Handler: h.analysisDefaults},
	)

	return s
}

// handlers holds dependencies for MCP tool/resource handlers.
type handlers struct {
	src      VideoSource
	defaults analysis.Options
	log      *slog.Logger
}

// --- Resource definitions ---

var resDefaults = mcp.NewResource(
	"formguru://defaults",
	"Analysis Defaults",
	mcp.WithResourceDescription("Tracked joint and side, rep thresholds, and the feedback messages used in summaries"),
	mcp.WithMIMEType("application/json"),
)
