package upload

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
)

// videoExts are the file extensions picked up from the watch directory.
var videoExts = map[string]bool{
	".mp4": true, ".mov": true, ".m4v": true, ".avi": true, ".mkv": true, ".webm": true,
}

// Stats tracks upload progress.
type Stats struct {
	FilesTotal     int
	FilesUploaded  int
	FilesProcessed int
	FilesSkipped   int
	FilesErrored   int
	RepsCounted    int
}

// Options controls an upload run.
type Options struct {
	// Process asks the server to analyze each video after upload.
	Process bool
	// Params are threshold overrides forwarded to the process endpoint.
	Params url.Values
	DryRun bool
}

// Uploader walks a directory of recorded sets and uploads new videos to the
// FormGuru server.
type Uploader struct {
	client *Client
	state  *StateDB
	dir    string
	opts   Options
	log    *slog.Logger
	stats  Stats
}

// New creates a new Uploader.
func New(client *Client, state *StateDB, dir string, opts Options, log *slog.Logger) *Uploader {
	return &Uploader{
		client: client,
		state:  state,
		dir:    dir,
		opts:   opts,
		log:    log,
	}
}

// Run executes the upload pass. Per-file failures are logged and counted;
// only a walk failure or cancellation aborts the run.
func (u *Uploader) Run(ctx context.Context) (*Stats, error) {
	err := filepath.WalkDir(u.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !videoExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		u.stats.FilesTotal++
		if err := u.processFile(ctx, path); err != nil {
			u.log.Warn("video failed", "file", path, "error", err)
			u.stats.FilesErrored++
		}
		return nil
	})
	if err != nil {
		return &u.stats, fmt.Errorf("walking %s: %w", u.dir, err)
	}
	return &u.stats, nil
}

func (u *Uploader) processFile(ctx context.Context, path string) error {
	relPath, _ := filepath.Rel(u.dir, path)
	size, err := fileSize(path)
	if err != nil {
		return err
	}
	hash, err := HashFile(path)
	if err != nil {
		return fmt.Errorf("hashing: %w", err)
	}

	entry, err := u.state.Lookup(relPath, size, hash)
	if err != nil {
		return fmt.Errorf("state check: %w", err)
	}
	if entry != nil && (entry.Processed || !u.opts.Process) {
		u.stats.FilesSkipped++
		return nil
	}

	if u.opts.DryRun {
		u.log.Info("would upload", "file", relPath, "bytes", size, "process", u.opts.Process)
		return nil
	}

	videoID := ""
	if entry != nil {
		videoID = entry.VideoID
	} else {
		v, err := u.client.UploadVideo(ctx, path)
		if err != nil {
			return err
		}
		if err := u.state.MarkUploaded(relPath, size, hash, v.ID); err != nil {
			return fmt.Errorf("recording upload: %w", err)
		}
		videoID = v.ID
		u.stats.FilesUploaded++
		u.log.Info("uploaded", "file", relPath, "video_id", v.ID)
	}

	if !u.opts.Process {
		return nil
	}
	res, err := u.client.ProcessVideo(ctx, videoID, u.opts.Params)
	if err != nil {
		return err
	}
	if err := u.state.MarkProcessed(relPath); err != nil {
		return fmt.Errorf("recording processing: %w", err)
	}
	u.stats.FilesProcessed++
	if res.Analysis != nil {
		u.stats.RepsCounted += res.Analysis.Reps
		u.log.Info("processed", "file", relPath,
			"reps", res.Analysis.Reps,
			"depth", res.Analysis.Depth,
			"pace", res.Analysis.Pace,
			"output", res.ProcessedVideo,
		)
	}
	return nil
}
