package serial

import (
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/m8gateway/m8gateway/internal/logx"
)

// DevWatcher watches /dev for CDC ACM/USB node creation so a hot-plugged
// device is picked up immediately instead of waiting for the next
// periodic reconnect tick. It is a latency optimization layered on top
// of the scan loop, never a replacement for it — udev rule ordering and
// permission races mean the watched event can still race an Open that
// isn't ready yet, so the periodic scan remains the source of truth.
type DevWatcher struct {
	watcher *fsnotify.Watcher
	link    *Link
	done    chan struct{}
}

// NewDevWatcher starts watching /dev and wires Create events for tty
// nodes to link.NudgeRescan; other events are ignored.
func NewDevWatcher(link *Link) (*DevWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add("/dev"); err != nil {
		w.Close()
		return nil, err
	}
	dw := &DevWatcher{watcher: w, link: link, done: make(chan struct{})}
	go dw.loop()
	return dw, nil
}

func (dw *DevWatcher) loop() {
	for {
		select {
		case ev, ok := <-dw.watcher.Events:
			if !ok {
				return
			}
			if !isTTYNode(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Create) != 0 {
				dw.link.NudgeRescan()
			}
		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
			logx.Warnf("SERIAL: /dev watcher error: %v", err)
		case <-dw.done:
			return
		}
	}
}

func isTTYNode(path string) bool {
	base := path[strings.LastIndex(path, "/")+1:]
	return strings.HasPrefix(base, "ttyACM") || strings.HasPrefix(base, "ttyUSB")
}

// Close stops the watcher.
func (dw *DevWatcher) Close() error {
	close(dw.done)
	return dw.watcher.Close()
}
