// Package recorder captures a room's relay stream to disk with ffmpeg while
// the room is live and recording is armed.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// StopTimeout is how long Stop waits after SIGINT before killing ffmpeg.
const StopTimeout = 10 * time.Second

// CommandFunc builds the capture process for input writing to output.
type CommandFunc func(input, output string) *exec.Cmd

// FFmpegCommand remuxes input into output without re-encoding.
func FFmpegCommand(input, output string) *exec.Cmd {
	return exec.Command("ffmpeg",
		"-nostdin", "-y",
		"-i", input,
		"-c", "copy",
		"-movflags", "+faststart",
		output,
	)
}

// ResolveBaseDir maps the configured record base to a directory. Empty means
// the default; "media" and "media/x" are anchored under /media.
func ResolveBaseDir(base string) string {
	base = strings.TrimSpace(base)
	switch {
	case base == "":
		return "/media/chaturbate"
	case base == "media" || base == "/media":
		return "/media"
	case strings.HasPrefix(base, "/"):
		return filepath.Clean(base)
	case strings.HasPrefix(base, "media/"):
		return filepath.Join("/media", strings.TrimPrefix(base, "media/"))
	}
	if abs, err := filepath.Abs(base); err == nil {
		return abs
	}
	return base
}

// Recorder supervises at most one capture process at a time.
type Recorder struct {
	input   string
	baseDir string
	name    string
	newCmd  CommandFunc
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	cmd     *exec.Cmd
	exited  chan struct{}
	current string
}

// NewRecorder returns a Recorder writing name's captures of input under baseDir.
func NewRecorder(input, baseDir, name string, newCmd CommandFunc, log *slog.Logger) *Recorder {
	if newCmd == nil {
		newCmd = FFmpegCommand
	}
	return &Recorder{
		input:   input,
		baseDir: baseDir,
		name:    name,
		newCmd:  newCmd,
		timeout: StopTimeout,
		log:     log.With(slog.String("room", name)),
		now:     time.Now,
	}
}

// OutputPath is where a capture started at t is written.
func (r *Recorder) OutputPath(t time.Time) string {
	return filepath.Join(r.baseDir, r.name, fmt.Sprintf("%s_%s.mkv", r.name, t.UTC().Format("20060102_150405")))
}

// Start launches a capture unless one is already running, and returns the
// file being written.
func (r *Recorder) Start() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.runningLocked() {
		return r.current, nil
	}

	out := r.OutputPath(r.now())
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", fmt.Errorf("create recording dir: %w", err)
	}

	cmd := r.newCmd(r.input, out)
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start recorder: %w", err)
	}

	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		if err != nil {
			r.log.Debug("recorder exited", slog.Int("pid", cmd.Process.Pid), slog.String("error", err.Error()))
		}
		close(exited)
	}()

	r.cmd, r.exited, r.current = cmd, exited, out
	r.log.Info("recording started", slog.String("file", out), slog.Int("pid", cmd.Process.Pid))
	return out, nil
}

// Stop ends the capture: SIGINT so ffmpeg can finalize the file, then kill
// after the stop timeout or when ctx is done.
func (r *Recorder) Stop(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd == nil {
		return
	}
	if r.runningLocked() {
		if err := r.cmd.Process.Signal(os.Interrupt); err != nil {
			r.log.Debug("interrupt recorder", slog.String("error", err.Error()))
		}
		timer := time.NewTimer(r.timeout)
		select {
		case <-r.exited:
		case <-timer.C:
			r.log.Warn("recorder ignored interrupt, killing", slog.Int("pid", r.cmd.Process.Pid))
			r.cmd.Process.Kill()
			<-r.exited
		case <-ctx.Done():
			r.cmd.Process.Kill()
			<-r.exited
		}
		timer.Stop()
	}
	r.log.Info("recording stopped", slog.String("file", r.current))
	r.cmd, r.exited, r.current = nil, nil, ""
}

// Running reports whether a capture process is alive.
func (r *Recorder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runningLocked()
}

func (r *Recorder) runningLocked() bool {
	if r.exited == nil {
		return false
	}
	select {
	case <-r.exited:
		return false
	default:
		return true
	}
}

// PID returns the capture process id, or 0 when not running.
func (r *Recorder) PID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.runningLocked() {
		return 0
	}
	return r.cmd.Process.Pid
}

// CurrentFile returns the file of the running capture, or "".
func (r *Recorder) CurrentFile() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.runningLocked() {
		return ""
	}
	return r.current
}
