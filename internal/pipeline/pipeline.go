// Package pipeline turns an uploaded video into an analysis report and a
// processed artifact.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/squatguru/formguru/internal/analysis"
	"github.com/squatguru/formguru/internal/detector"
	"github.com/squatguru/formguru/internal/render"
)

// Result is the outcome of processing one video.
type Result struct {
	Report *analysis.Report `json:"analysis"`
	// ProcessedFile is the base name of the artifact in the processed dir.
	ProcessedFile string        `json:"processed_video"`
	Duration      time.Duration `json:"-"`
}

// Processor runs the detector, the analysis session and the renderer.
type Processor struct {
	Detector     detector.Command
	Renderer     *render.Renderer
	ProcessedDir string
	Log          *slog.Logger
}

// ArtifactNames returns the track and rendered video names for a source file.
func ArtifactNames(videoPath string) (track, video string) {
	base := filepath.Base(videoPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return base + "_track.jsonl", base + "_processed.mp4"
}

// Process analyzes videoPath with opts. On a detector or render failure the
// returned Result still carries the partial report, if one was produced.
func (p *Processor) Process(ctx context.Context, videoPath string, opts analysis.Options) (*Result, error) {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	start := time.Now()

	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("video file: %w", err)
	}
	if err := os.MkdirAll(p.ProcessedDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating processed dir: %w", err)
	}

	session, err := analysis.NewSession(opts, log)
	if err != nil {
		return nil, err
	}

	trackName, videoName := ArtifactNames(videoPath)
	trackPath := filepath.Join(p.ProcessedDir, trackName)
	track, err := render.CreateTrack(trackPath)
	if err != nil {
		return nil, err
	}

	proc, err := detector.Start(ctx, p.Detector, videoPath, log)
	if err != nil {
		if cerr := track.Close(); cerr != nil {
			log.Warn("closing track after detector failure", "path", trackPath, "error", cerr)
		}
		if rerr := os.Remove(trackPath); rerr != nil {
			log.Warn("removing track after detector failure", "path", trackPath, "error", rerr)
		}
		return nil, err
	}

	report, runErr := session.Run(ctx, proc, track)
	if runErr != nil {
		proc.Kill()
	}
	closeErr := proc.Close()
	if err := track.Close(); err != nil && runErr == nil {
		runErr = err
	}

	res := &Result{Report: report, ProcessedFile: trackName}
	if runErr != nil {
		res.Duration = time.Since(start)
		return res, fmt.Errorf("analyzing %s: %w", filepath.Base(videoPath), runErr)
	}
	if closeErr != nil {
		report.Partial = true
		res.Duration = time.Since(start)
		return res, closeErr
	}

	if p.Renderer.Enabled() {
		outPath := filepath.Join(p.ProcessedDir, videoName)
		if err := p.Renderer.Render(ctx, videoPath, trackPath, outPath); err != nil {
			res.Duration = time.Since(start)
			return res, err
		}
		res.ProcessedFile = videoName
	}

	res.Duration = time.Since(start)
	log.Info("video processed",
		"video", filepath.Base(videoPath),
		"output", res.ProcessedFile,
		"reps", report.Reps,
		"duration", res.Duration.Round(time.Millisecond),
	)
	return res, nil
}
