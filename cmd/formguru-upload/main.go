package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/squatguru/formguru/internal/upload"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	serverURL := flag.String("server", "", "FormGuru server URL (e.g. https://formguru.tail1234.ts.net)")
	apiKey := flag.String("api-key", os.Getenv("FORMGURU_AUTH_API_KEY"), "API key for upload and process requests")
	dir := flag.String("dir", "", "directory of recorded squat videos")
	stateDir := flag.String("state-dir", "", "directory for the upload state database (default ~/.formguru-upload)")
	process := flag.Bool("process", false, "ask the server to analyze each video after upload")
	side := flag.String("side", "", "override the side driving the rep counter when processing")
	down := flag.Float64("down", 0, "override the descent threshold when processing (0 keeps the server default)")
	up := flag.Float64("up", 0, "override the ascent threshold when processing (0 keeps the server default)")
	dryRun := flag.Bool("dry-run", false, "list what would be uploaded without sending anything")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("formguru-upload", Version)
		return
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *dir == "" {
		fmt.Fprintf(os.Stderr, "Usage: formguru-upload -server <URL> -api-key <key> -dir <videos dir> [-process] [-dry-run]\n\n")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if *serverURL == "" && !*dryRun {
		fmt.Fprintf(os.Stderr, "Error: -server is required (or use -dry-run)\n")
		os.Exit(1)
	}

	info, err := os.Stat(*dir)
	if err != nil || !info.IsDir() {
		log.Error("video directory not found", "path", *dir)
		os.Exit(1)
	}

	// Open state database
	if *stateDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			log.Error("failed to get home directory", "error", err)
			os.Exit(1)
		}
		*stateDir = filepath.Join(homeDir, ".formguru-upload")
	}
	state, err := upload.OpenStateDB(*stateDir)
	if err != nil {
		log.Error("failed to open state database", "error", err)
		os.Exit(1)
	}
	defer state.Close()

	params := url.Values{}
	if *side != "" {
		params.Set("side", *side)
	}
	if *down > 0 {
		params.Set("down", strconv.FormatFloat(*down, 'f', -1, 64))
	}
	if *up > 0 {
		params.Set("up", strconv.FormatFloat(*up, 'f', -1, 64))
	}

	if *dryRun {
		log.Info("DRY RUN mode: files will be hashed but not sent")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	uploader := upload.New(upload.NewClient(*serverURL, *apiKey), state, *dir, upload.Options{
		Process: *process,
		Params:  params,
		DryRun:  *dryRun,
	}, log)
	stats, err := uploader.Run(ctx)
	printStats(stats)
	if err != nil {
		log.Error("upload failed", "error", err)
		os.Exit(1)
	}
	log.Info("upload complete")
}

func printStats(stats *upload.Stats) {
	fmt.Println()
	fmt.Println("=== Upload Summary ===")
	fmt.Printf("  Files total:      %d\n", stats.FilesTotal)
	fmt.Printf("  Files uploaded:   %d\n", stats.FilesUploaded)
	fmt.Printf("  Files processed:  %d\n", stats.FilesProcessed)
	fmt.Printf("  Files skipped:    %d (already uploaded)\n", stats.FilesSkipped)
	fmt.Printf("  Files errored:    %d\n", stats.FilesErrored)
	fmt.Println()
	fmt.Printf("  Reps counted:     %d\n", stats.RepsCounted)
	fmt.Println()
}
