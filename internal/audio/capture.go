package audio

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/m8gateway/m8gateway/internal/logx"
)

// Wire format every capture backend must produce on its output stream:
// signed 16-bit little-endian, 44.1kHz, stereo interleaved.
const (
	SampleRate    = 44100
	Channels      = 2
	BytesPerFrame = 2 * Channels
)

// captureChunkBytes is the read granularity from the subprocess's
// stdout; small enough to keep broadcast latency low, large enough to
// avoid a syscall per frame.
const captureChunkBytes = 4096

// killGrace is how long the subprocess is given to exit after SIGTERM
// before it is force-killed.
const killGrace = 1 * time.Second

// ProcessCapture runs the native USB-isochronous capture helper as a
// child process and forwards its raw PCM stdout to a Hub. It is an
// out-of-process collaborator: this type owns only process lifecycle and
// stdout framing, never USB isochronous handling itself.
type ProcessCapture struct {
	path string
	args []string
	hub  *Hub

	mu      sync.Mutex
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	running bool
	// done is closed by the reaper goroutine once cmd.Wait returns;
	// Stop waits on it instead of calling Wait a second time.
	done chan struct{}
}

// NewProcessCapture returns a capture driver that will exec path with
// args when started.
func NewProcessCapture(path string, args []string, hub *Hub) *ProcessCapture {
	return &ProcessCapture{path: path, args: args, hub: hub}
}

// Start launches the subprocess and begins streaming its stdout into the
// hub. Starting an already-running capture is a no-op.
func (p *ProcessCapture) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, p.path, p.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		p.mu.Unlock()
		return err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		p.mu.Unlock()
		return err
	}
	done := make(chan struct{})
	p.cmd = cmd
	p.cancel = cancel
	p.running = true
	p.done = done
	p.mu.Unlock()

	go p.pump(stdout)
	go p.wait(cmd, done)

	return nil
}

func (p *ProcessCapture) pump(stdout io.ReadCloser) {
	r := bufio.NewReaderSize(stdout, captureChunkBytes)
	buf := make([]byte, captureChunkBytes)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.hub.Ingest(chunk)
		}
		if err != nil {
			if err != io.EOF {
				logx.Warnf("AUDIO: capture subprocess read: %v", err)
				p.hub.PublishControl(ControlMessage{Type: "error", Message: err.Error()})
			}
			return
		}
	}
}

// wait is the sole reaper: nothing else may call cmd.Wait.
func (p *ProcessCapture) wait(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	close(done)
	if err != nil {
		logx.Warnf("AUDIO: capture subprocess exited: %v", err)
	}
	p.hub.PublishControl(ControlMessage{Type: "stopped"})
}

// Stop sends SIGTERM to the subprocess, escalating to SIGKILL if it has
// not exited within killGrace. Exit detection rides on the reaper
// goroutine's done channel rather than a second Wait on the same
// command.
func (p *ProcessCapture) Stop() {
	p.mu.Lock()
	cmd := p.cmd
	cancel := p.cancel
	running := p.running
	done := p.done
	p.mu.Unlock()
	if !running || cmd == nil || cmd.Process == nil {
		return
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(killGrace):
		_ = cmd.Process.Kill()
		<-done
	}
	if cancel != nil {
		cancel()
	}
}

// Running reports whether the subprocess is currently alive.
func (p *ProcessCapture) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
