package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Renderer draws the overlay track onto the source video by running an
// external command as `Path Args... <video> <track> <output>`.
type Renderer struct {
	Path string
	Args []string
	Log  *slog.Logger
}

// Enabled reports whether a render command is configured.
func (r *Renderer) Enabled() bool { return r != nil && r.Path != "" }

// Render runs the command and checks that it produced output.
func (r *Renderer) Render(ctx context.Context, videoPath, trackPath, outputPath string) error {
	if !r.Enabled() {
		return errors.New("renderer not configured")
	}
	log := r.Log
	if log == nil {
		log = slog.Default()
	}

	args := append(append([]string{}, r.Args...), videoPath, trackPath, outputPath)
	cmd := exec.CommandContext(ctx, r.Path, args...)
	log.Info("rendering overlay", "command", r.Path, "args", strings.Join(args, " "))

	output, err := cmd.CombinedOutput()
	if err != nil {
		log.Error("render command failed", "error", err, "output", string(output))
		return fmt.Errorf("render command: %w, output: %s", err, strings.TrimSpace(string(output)))
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return fmt.Errorf("render produced no output: %w", err)
	}
	log.Info("overlay rendered", "output", outputPath, "bytes", info.Size())
	return nil
}
