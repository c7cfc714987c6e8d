package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-audio/wav"
)

// FFmpegCapturer records from an ffmpeg input device (pulse, alsa,
// avfoundation...) into a 16-bit PCM WAV file.
type FFmpegCapturer struct {
	FFmpeg     string
	Format     string
	Device     string
	SampleRate int
	Channels   int
	// StopTimeout bounds how long Stop waits before killing ffmpeg.
	StopTimeout time.Duration
}

// Args returns the ffmpeg argument vector for capturing into path.
func (c *FFmpegCapturer) Args(path string) []string {
	return []string{
		"-hide_banner",
		"-f", c.Format,
		"-i", c.Device,
		"-ac", strconv.Itoa(c.Channels),
		"-ar", strconv.Itoa(c.SampleRate),
		"-c:a", "pcm_s16le",
		"-y",
		path,
	}
}

func (c *FFmpegCapturer) Start(ctx context.Context, path string) (Capture, error) {
	args := c.Args(path)
	slog.Info("Starting FFmpeg capture", "command", c.FFmpeg+" "+strings.Join(args, " "))

	// not bound to ctx: the capture outlives the request that started it
	cmd := exec.Command(c.FFmpeg, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start FFmpeg: %w", err)
	}

	capture := &ffmpegCapture{
		cmd:     cmd,
		stdin:   stdin,
		path:    path,
		started: time.Now(),
		timeout: c.StopTimeout,
		done:    make(chan error, 1),
	}
	if capture.timeout == 0 {
		capture.timeout = 5 * time.Second
	}
	go capture.readOutput(stderr)
	go func() { capture.done <- cmd.Wait() }()
	return capture, nil
}

type ffmpegCapture struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	path    string
	started time.Time
	timeout time.Duration
	done    chan error

	mu        sync.Mutex
	stderrBuf strings.Builder
}

// readOutput buffers ffmpeg diagnostics
func (c *ffmpegCapture) readOutput(pipe io.ReadCloser) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		c.mu.Lock()
		c.stderrBuf.WriteString(line + "\n")
		c.mu.Unlock()
		slog.Debug("FFmpeg output", "stream", "stderr", "line", line)
	}
}

// Stop asks ffmpeg to finish the file ("q" on stdin, then SIGINT) and
// kills it if it does not exit in time.
func (c *ffmpegCapture) Stop(ctx context.Context) (Captured, error) {
	wall := time.Since(c.started).Seconds()

	if _, err := io.WriteString(c.stdin, "q"); err != nil {
		slog.Debug("Failed to send quit to FFmpeg, sending interrupt", "error", err)
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Signal(os.Interrupt)
		}
	}
	_ = c.stdin.Close()

	var waitErr error
	select {
	case waitErr = <-c.done:
	case <-time.After(c.timeout):
		slog.Warn("FFmpeg did not exit within timeout, force killing")
		_ = c.cmd.Process.Kill()
		waitErr = <-c.done
	case <-ctx.Done():
		_ = c.cmd.Process.Kill()
		<-c.done
		return Captured{}, ctx.Err()
	}

	if waitErr != nil && !interruptedExit(waitErr) {
		c.mu.Lock()
		slog.Debug("FFmpeg stderr", "output", c.stderrBuf.String())
		c.mu.Unlock()
		return Captured{}, fmt.Errorf("FFmpeg process failed: %w", waitErr)
	}

	info, err := os.Stat(c.path)
	if err != nil {
		return Captured{}, fmt.Errorf("recording file not found: %s", c.path)
	}
	if info.Size() < 1024 {
		return Captured{}, fmt.Errorf("recording failed: file too small (%d bytes)", info.Size())
	}

	duration := wall
	if d, err := wavDuration(c.path); err == nil {
		duration = d
	}
	return Captured{Path: c.path, Duration: duration}, nil
}

// interruptedExit reports whether ffmpeg exited because it was asked to.
func interruptedExit(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	// 255 is ffmpeg's exit code after a handled interrupt
	if exitErr.ExitCode() == 255 {
		return true
	}
	state := exitErr.ProcessState.String()
	return state == "signal: interrupt" || state == "signal: killed"
}

// wavDuration reads the duration from a WAV header.
func wavDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("not a valid WAV file: %s", path)
	}
	d, err := dec.Duration()
	if err != nil {
		return 0, err
	}
	return d.Seconds(), nil
}
