package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// stopGrace is how long ffmpeg gets to finalize the file after an interrupt.
const stopGrace = 10 * time.Second

// FFmpegConfig holds capture device settings.
type FFmpegConfig struct {
	Path        string
	Display     string
	AudioSource string
}

// FFmpegCapture records the X display and a PulseAudio source with ffmpeg.
type FFmpegCapture struct {
	cfg    FFmpegConfig
	logger *zap.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	done     chan struct{}
	err      error
	stopOnce sync.Once
}

// NewFFmpegCapture returns an unstarted capture.
func NewFFmpegCapture(cfg FFmpegConfig, logger *zap.Logger) *FFmpegCapture {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Path == "" {
		cfg.Path = "ffmpeg"
	}
	return &FFmpegCapture{cfg: cfg, logger: logger.Named("ffmpeg"), done: make(chan struct{})}
}

func (f *FFmpegCapture) args(outputPath string) []string {
	return []string{
		"-y",
		"-f", "x11grab", "-video_size", "1280x720", "-framerate", "25", "-i", f.cfg.Display,
		"-f", "pulse", "-i", f.cfg.AudioSource,
		"-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", "128k",
		"-movflags", "+faststart",
		outputPath,
	}
}

// Start launches ffmpeg. The process is stopped explicitly, not by ctx.
func (f *FFmpegCapture) Start(_ context.Context, outputPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cmd != nil {
		return errors.New("capture already started")
	}
	cmd := exec.Command(f.cfg.Path, f.args(outputPath)...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	f.cmd = cmd
	go func() {
		err := cmd.Wait()
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		close(f.done)
	}()
	f.logger.Debug("ffmpeg started", zap.Int("pid", cmd.Process.Pid), zap.String("output", outputPath))
	return nil
}

// Stop interrupts ffmpeg so it can finish the container, killing it after a grace period.
func (f *FFmpegCapture) Stop() error {
	f.mu.Lock()
	cmd := f.cmd
	f.mu.Unlock()
	if cmd == nil {
		return nil
	}
	f.stopOnce.Do(func() {
		select {
		case <-f.done:
			return
		default:
		}
		_ = cmd.Process.Signal(os.Interrupt)
		select {
		case <-f.done:
		case <-time.After(stopGrace):
			f.logger.Warn("ffmpeg did not exit after interrupt, killing")
			_ = cmd.Process.Kill()
			<-f.done
		}
	})
	return nil
}

// Done is closed when ffmpeg exits.
func (f *FFmpegCapture) Done() <-chan struct{} { return f.done }

// Err returns the process exit error once Done is closed.
func (f *FFmpegCapture) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}
