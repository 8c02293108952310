package detector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/squatguru/formguru/internal/models"
)

// Command describes the external pose detector. The video path is appended
// to Args and the process must write the landmark stream to stdout.
type Command struct {
	Path string
	Args []string
}

// Process is a running detector exposed as a frame source.
type Process struct {
	cmd    *exec.Cmd
	reader *Reader
	stdout io.ReadCloser
	log    *slog.Logger

	stderrDone chan struct{}
	closeOnce  sync.Once
	closeErr   error
}

// Start launches the detector on videoPath. The caller must Close the
// returned Process.
func Start(ctx context.Context, c Command, videoPath string, log *slog.Logger) (*Process, error) {
	if c.Path == "" {
		return nil, errors.New("detector command not configured")
	}

	args := append(append([]string{}, c.Args...), videoPath)
	cmd := exec.CommandContext(ctx, c.Path, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("detector stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("detector stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting detector %s: %w", c.Path, err)
	}
	log.Info("detector started", "command", c.Path, "video", videoPath, "pid", cmd.Process.Pid)

	p := &Process{
		cmd:        cmd,
		reader:     NewReader(stdout),
		stdout:     stdout,
		log:        log,
		stderrDone: make(chan struct{}),
	}
	go p.logStderr(stderr)
	return p, nil
}

// Next implements analysis.Source.
func (p *Process) Next(ctx context.Context) (models.PoseFrame, error) {
	return p.reader.Next(ctx)
}

// Close discards unread output, waits for the detector to exit and reports a
// non-zero exit status. Call Kill first to stop a detector early.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		// Drain so the process is not blocked on a full pipe.
		_, _ = io.Copy(io.Discard, p.stdout)
		<-p.stderrDone
		if err := p.cmd.Wait(); err != nil {
			p.closeErr = fmt.Errorf("detector exited: %w", err)
		}
	})
	return p.closeErr
}

// Kill terminates the detector without waiting for remaining output.
func (p *Process) Kill() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

// logStderr forwards detector stderr to the logger, mapping Python-style
// level prefixes onto slog levels.
func (p *Process) logStderr(r io.Reader) {
	defer close(p.stderrDone)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
			p.log.Error("detector", "line", line)
		case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
			p.log.Warn("detector", "line", line)
		default:
			p.log.Debug("detector", "line", line)
		}
	}
	// An over-long line stops the scanner; keep draining so the detector
	// never blocks on stderr.
	_, _ = io.Copy(io.Discard, r)
}
