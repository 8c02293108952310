package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/squatguru/formguru/internal/analysis"
	"github.com/squatguru/formguru/internal/detector"
	"github.com/squatguru/formguru/internal/pose"
	"github.com/squatguru/formguru/internal/render"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	defaults := analysis.DefaultOptions()

	landmarks := flag.String("landmarks", "", "landmark JSONL file to analyze (- for stdin)")
	video := flag.String("video", "", "video file to run through the detector")
	detectorCmd := flag.String("detector", "", "pose detector command (required with -video)")
	detectorArgs := flag.String("detector-args", "", "space-separated arguments passed before the video path")
	trackPath := flag.String("track", "", "write per-frame metrics as JSONL to this path")
	joint := flag.String("joint", string(defaults.Joint), "tracked joint: knee, hip or elbow")
	side := flag.String("side", string(defaults.Reps.Side), "side driving the rep counter: left or right")
	down := flag.Float64("down", defaults.Reps.DownThreshold, "angle below which a descent starts (degrees)")
	up := flag.Float64("up", defaults.Reps.UpThreshold, "angle above which a rep completes (degrees)")
	bottom := flag.Float64("bottom", defaults.Reps.BottomThreshold, "angle below which the bottom is reached (degrees)")
	minVis := flag.Float64("min-visibility", defaults.MinVisibility, "ignore landmarks less visible than this")
	verbose := flag.Bool("v", false, "log per-rep progress to stderr")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("formguru-analyze", Version)
		return
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	// stdout carries the report, so logs go to stderr.
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if (*landmarks == "") == (*video == "") {
		fmt.Fprintf(os.Stderr, "Usage: formguru-analyze (-landmarks <file> | -video <file> -detector <cmd>) [flags]\n\n")
		flag.PrintDefaults()
		os.Exit(2)
	}

	opts := analysis.Options{
		MinVisibility: *minVis,
		Reps:          defaults.Reps,
	}
	var err error
	if opts.Joint, err = pose.ParseJoint(*joint); err != nil {
		fatal(log, "invalid -joint", err)
	}
	if opts.Reps.Side, err = pose.ParseSide(*side); err != nil {
		fatal(log, "invalid -side", err)
	}
	opts.Reps.DownThreshold = *down
	opts.Reps.UpThreshold = *up
	opts.Reps.BottomThreshold = *bottom

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := analysis.NewSession(opts, log)
	if err != nil {
		fatal(log, "invalid options", err)
	}

	var sink analysis.Sink
	var track *render.TrackWriter
	if *trackPath != "" {
		if track, err = render.CreateTrack(*trackPath); err != nil {
			fatal(log, "creating track", err)
		}
		sink = track
	}

	var src analysis.Source
	var proc *detector.Process
	switch {
	case *landmarks == "-":
		src = detector.NewReader(os.Stdin)
	case *landmarks != "":
		f, err := os.Open(*landmarks)
		if err != nil {
			fatal(log, "opening landmarks", err)
		}
		defer f.Close()
		src = detector.NewReader(f)
	default:
		proc, err = detector.Start(ctx, detector.Command{Path: *detectorCmd, Args: strings.Fields(*detectorArgs)}, *video, log)
		if err != nil {
			fatal(log, "starting detector", err)
		}
		src = proc
	}

	report, runErr := session.Run(ctx, src, sink)
	if proc != nil {
		if runErr != nil {
			proc.Kill()
		}
		if err := proc.Close(); err != nil && runErr == nil {
			log.Warn("detector exited with error", "error", err)
			report.Partial = true
		}
	}
	if track != nil {
		if err := track.Close(); err != nil && runErr == nil {
			runErr = fmt.Errorf("closing track: %w", err)
		}
	}

	if err := writeReport(os.Stdout, report); err != nil {
		fatal(log, "writing report", err)
	}
	if runErr != nil {
		log.Error("analysis incomplete", "error", runErr)
		os.Exit(1)
	}
}

func writeReport(w io.Writer, r *analysis.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}
