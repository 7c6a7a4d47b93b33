// Package serial owns the CDC device handle: auto-detection by
// vendor/product id, the byte-level read/write path, and the
// auto-reconnect loop with escalation into the USB recovery ladder.
package serial

import (
	"errors"
	"fmt"
	"sync"
	"time"

	goserial "github.com/daedaluz/goserial"

	"github.com/m8gateway/m8gateway/internal/logx"
)

// ErrDisconnected is returned by Write when the link has no open device.
var ErrDisconnected = errors.New("serial: link is disconnected")

// Outbound command bytes the link understands.
const (
	CmdButtonState    byte = 0x43
	CmdNote           byte = 0x4B
	CmdNoteOffVelByte byte = 0xFF
	CmdEnable         byte = 0x45
	CmdReset          byte = 0x52
	CmdDisconnect     byte = 0x44
)

const enableResetPause = 500 * time.Millisecond

// Config selects and tunes the link.
type Config struct {
	// ExplicitPath bypasses vendor/product scanning when non-empty.
	ExplicitPath string
	VendorID     uint16
	ProductIDs   []uint16
	BaudRate     uint32

	AutoReconnect          bool
	ReconnectEvery         time.Duration
	FailuresBeforeRecovery int
}

// DefaultConfig matches the device's stock vendor/product ids and the
// daemon's documented defaults.
func DefaultConfig() Config {
	return Config{
		VendorID:               0x16C0,
		ProductIDs:             []uint16{0x048A, 0x048B},
		BaudRate:               115200,
		AutoReconnect:          true,
		ReconnectEvery:         1000 * time.Millisecond,
		FailuresBeforeRecovery: 3,
	}
}

// RawSink receives raw bytes read off the wire, in arrival order. It is
// registered once and called synchronously from the reader goroutine;
// keep it fast and non-blocking.
type RawSink func(chunk []byte)

// Recoverer runs the escalating USB recovery ladder. It is supplied by
// the caller (internal/usbrecovery) to keep this package free of sysfs
// path concerns.
type Recoverer func(attempt int) (deviceFound bool)

// Link owns the serial device handle and its reconnect lifecycle.
type Link struct {
	cfg Config

	mu        sync.Mutex
	port      *goserial.Port
	path      string
	connected bool

	rawSink      RawSink
	frameSink    func([]byte)
	onConnect    func(path string)
	onDisconnect func()
	onError      func(error)
	recoverer    Recoverer

	stopReconnect chan struct{}
	reconnecting  bool
}

// New returns an unconnected link.
func New(cfg Config) *Link {
	return &Link{cfg: cfg}
}

// OnRawBytes registers the sink that receives every chunk read from the
// device, verbatim, before frame decoding — the path the TCP broadcaster
// and /display subscribers are fed from.
func (l *Link) OnRawBytes(sink RawSink) { l.rawSink = sink }

// OnFrameBytes registers a second sink fed the same raw bytes, intended
// for the frame decoder; kept distinct from OnRawBytes so each consumer
// owns its own failure mode.
func (l *Link) OnFrameBytes(sink func([]byte)) { l.frameSink = sink }

// OnConnect / OnDisconnect / OnError register lifecycle hooks.
func (l *Link) OnConnect(f func(path string)) { l.onConnect = f }
func (l *Link) OnDisconnect(f func())         { l.onDisconnect = f }
func (l *Link) OnError(f func(error))         { l.onError = f }

// SetRecoverer installs the USB recovery ladder entry point used after
// repeated failed reconnect scans.
func (l *Link) SetRecoverer(r Recoverer) { l.recoverer = r }

// SetExplicitPath pins the device path the next Open/reconnect uses,
// bypassing vendor/product scanning. Passing "" restores auto-detect.
func (l *Link) SetExplicitPath(path string) {
	l.mu.Lock()
	l.cfg.ExplicitPath = path
	l.mu.Unlock()
}

// Reconnect forces the current device closed (if any) and immediately
// attempts to reopen, honoring the configured explicit path or
// vendor/product scan. It reports the path opened and whether the
// attempt succeeded.
func (l *Link) Reconnect() (string, bool) {
	l.mu.Lock()
	port := l.port
	l.port = nil
	l.connected = false
	l.path = ""
	l.mu.Unlock()
	if port != nil {
		port.Close()
	}
	if err := l.Open(); err != nil {
		return "", false
	}
	return l.Path(), true
}

// Connected reports whether a device is currently open.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// Path returns the currently open device path, or "" if disconnected.
func (l *Link) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// Open locates a device (or uses cfg.ExplicitPath) and opens it at the
// configured baud, 8-N-1, no flow control. Transient open failures are
// returned to the caller and are never treated as fatal.
func (l *Link) Open() error {
	path := l.cfg.ExplicitPath
	if path == "" {
		found, err := l.scanForDevice()
		if err != nil {
			return err
		}
		if found == "" {
			return fmt.Errorf("serial: no matching device found")
		}
		path = found
	}

	port, err := goserial.Open(path, goserial.NewOptions().SetReadTimeout(250*time.Millisecond))
	if err != nil {
		return err
	}
	attrs, err := port.GetAttr2()
	if err == nil {
		attrs.MakeRaw()
		attrs.SetCustomSpeed(l.cfg.BaudRate)
		_ = port.SetAttr2(goserial.TCSANOW, attrs)
	}

	l.mu.Lock()
	l.port = port
	l.path = path
	l.connected = true
	l.mu.Unlock()

	go l.readLoop(port)

	if l.onConnect != nil {
		l.onConnect(path)
	}
	return nil
}

func (l *Link) scanForDevice() (string, error) {
	ports, err := EnumeratePorts()
	if err != nil {
		return "", err
	}
	for _, p := range ports {
		if p.IsM8(l.cfg.VendorID, l.cfg.ProductIDs) {
			return p.Path, nil
		}
	}
	return "", nil
}

func (l *Link) readLoop(port *goserial.Port) {
	buf := make([]byte, 4096)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if l.rawSink != nil {
				l.rawSink(chunk)
			}
			if l.frameSink != nil {
				l.frameSink(chunk)
			}
		}
		if err != nil {
			if errors.Is(err, goserial.ErrClosed) {
				return
			}
			l.handleDisconnect(err)
			return
		}
	}
}

func (l *Link) handleDisconnect(cause error) {
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return
	}
	l.connected = false
	l.path = ""
	port := l.port
	l.port = nil
	l.mu.Unlock()

	if port != nil {
		port.Close()
	}
	if cause != nil && l.onError != nil {
		l.onError(cause)
	}
	if l.onDisconnect != nil {
		l.onDisconnect()
	}
	if l.cfg.AutoReconnect {
		l.StartReconnectLoop()
	}
}

// Write sends bytes to the device, draining the output before returning.
// Writing to a disconnected link fails with ErrDisconnected, and any
// write error marks the link disconnected and triggers the reconnect
// path.
func (l *Link) Write(data []byte) error {
	l.mu.Lock()
	port := l.port
	l.mu.Unlock()
	if port == nil {
		return ErrDisconnected
	}
	if _, err := port.Write(data); err != nil {
		l.handleDisconnect(err)
		return err
	}
	if err := port.Drain(); err != nil {
		l.handleDisconnect(err)
		return err
	}
	return nil
}

// Enable emits the device-side enable sequence: {0x45}, a ~500ms pause,
// then {0x52}.
func (l *Link) Enable() error {
	if err := l.Write([]byte{CmdEnable}); err != nil {
		return err
	}
	time.Sleep(enableResetPause)
	return l.Write([]byte{CmdReset})
}

// Reset emits only the reset byte.
func (l *Link) Reset() error {
	return l.Write([]byte{CmdReset})
}

// Disconnect sends the graceful-disconnect sentinel and closes the port.
func (l *Link) Disconnect() {
	_ = l.Write([]byte{CmdDisconnect})
	l.mu.Lock()
	port := l.port
	l.port = nil
	l.connected = false
	l.path = ""
	l.mu.Unlock()
	if port != nil {
		port.Close()
	}
}

// StartReconnectLoop begins (or no-ops if already running) the periodic
// scan for a matching device. After FailuresBeforeRecovery consecutive
// failed scans it invokes the recovery ladder at its lightest level,
// then resumes scanning. The loop exits when StopReconnectLoop is called
// or a device is acquired.
func (l *Link) StartReconnectLoop() {
	l.mu.Lock()
	if l.reconnecting {
		l.mu.Unlock()
		return
	}
	l.reconnecting = true
	l.stopReconnect = make(chan struct{})
	stop := l.stopReconnect
	l.mu.Unlock()

	go l.reconnectLoop(stop)
}

func (l *Link) reconnectLoop(stop chan struct{}) {
	defer func() {
		l.mu.Lock()
		l.reconnecting = false
		l.mu.Unlock()
	}()

	failures := 0
	ticker := time.NewTicker(l.cfg.ReconnectEvery)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := l.Open(); err == nil {
				return
			}
			failures++
			if failures >= l.cfg.FailuresBeforeRecovery && l.recoverer != nil {
				found := l.recoverer(failures - l.cfg.FailuresBeforeRecovery + 1)
				if found {
					failures = 0
				}
			}
		}
	}
}

// StopReconnectLoop stops a running reconnect loop, if any.
func (l *Link) StopReconnectLoop() {
	l.mu.Lock()
	stop := l.stopReconnect
	l.mu.Unlock()
	if stop != nil {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
}

// NudgeRescan attempts to open the device right away, when the link is
// not connected, instead of waiting for the reconnect loop's next tick —
// used by the fsnotify /dev watcher when a new CDC node appears.
func (l *Link) NudgeRescan() {
	if l.Connected() {
		return
	}
	if err := l.Open(); err != nil {
		logx.Debugf("SERIAL: nudge rescan: %v", err)
	}
}
