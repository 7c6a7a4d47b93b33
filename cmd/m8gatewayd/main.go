// m8gatewayd is the gateway daemon: it owns the serial link to the
// device, projects its display protocol onto a text grid and
// framebuffer, and re-exposes everything over TCP, WebSocket, and REST.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/m8gateway/m8gateway/internal/audio"
	"github.com/m8gateway/m8gateway/internal/config"
	"github.com/m8gateway/m8gateway/internal/diag"
	"github.com/m8gateway/m8gateway/internal/fanout"
	"github.com/m8gateway/m8gateway/internal/input"
	"github.com/m8gateway/m8gateway/internal/logx"
	"github.com/m8gateway/m8gateway/internal/mirror"
	"github.com/m8gateway/m8gateway/internal/restapi"
	"github.com/m8gateway/m8gateway/internal/serial"
	"github.com/m8gateway/m8gateway/internal/tcpbroadcast"
	"github.com/m8gateway/m8gateway/internal/usbrecovery"
	"github.com/m8gateway/m8gateway/internal/wshub"
)

var version = "dev"

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			fmt.Printf("m8gatewayd v%s\n", version)
			return
		}
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if err == flag.ErrHelp {
			return
		}
		log.Fatalf("config: %v", err)
	}
	logx.SetLevel(cfg.Log.Level)

	printBanner(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logx.Infof("shutting down")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("m8gatewayd: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	tcpSink := tcpbroadcast.New()

	wsHub := wshub.New(nil, nil) // input + screen source wired below

	coord := fanout.New(tcpSink, wsHub)
	wsHub.SetScreenSource(coord.ScreenBMP)

	// Assigned once the audio pipeline is wired below; referenced by the
	// serial link's connect hook, which fires before that point in
	// program order but only runs after a device is actually found.
	var startCapture func()
	var stopCapture func()

	linkCfg := serial.DefaultConfig()
	linkCfg.ExplicitPath = cfg.Serial.Path
	linkCfg.BaudRate = uint32(cfg.Serial.BaudRate)
	linkCfg.AutoReconnect = cfg.Serial.AutoReconnect
	linkCfg.ReconnectEvery = time.Duration(cfg.Serial.ReconnectIntervalMS) * time.Millisecond
	link := serial.New(linkCfg)

	link.OnRawBytes(coord.HandleRawChunk)
	link.OnFrameBytes(coord.HandleFrameBytes)
	// ladderPaths is captured on connect (while the device's sysfs tree
	// still exists) so the recovery ladder has something to aim at once
	// the device has vanished.
	var ladderMu sync.Mutex
	ladderPaths := usbrecovery.DiscoverPaths("")

	link.OnConnect(func(path string) {
		logx.Infof("SERIAL: connected on %s", path)
		if ports, err := serial.EnumeratePorts(); err == nil {
			for _, p := range ports {
				if p.Path == path && p.SysfsDevice != "" {
					ladderMu.Lock()
					ladderPaths = usbrecovery.DiscoverPaths(p.SysfsDevice)
					ladderMu.Unlock()
					break
				}
			}
		}
		go func() {
			// Tell the device to start streaming its display; Enable
			// sleeps between the enable and reset bytes, so it runs off
			// the reader's hook goroutine.
			if err := link.Enable(); err != nil {
				logx.Warnf("SERIAL: enable after connect: %v", err)
			}
		}()
		if startCapture != nil {
			startCapture()
		}
	})
	link.OnDisconnect(func() { logx.Infof("SERIAL: disconnected") })
	link.OnError(func(err error) { logx.Warnf("SERIAL: error: %v", err) })

	devWatcher, err := serial.NewDevWatcher(link)
	if err != nil {
		logx.Warnf("SERIAL: /dev watcher disabled: %v", err)
		devWatcher = nil
	}

	ladderDelays := usbrecovery.DefaultDelays()
	link.SetRecoverer(func(attempt int) bool {
		ladderMu.Lock()
		paths := ladderPaths
		ladderMu.Unlock()
		res := usbrecovery.Auto(paths, ladderDelays, func() bool {
			ports, _ := serial.EnumeratePorts()
			for _, p := range ports {
				if p.IsM8(linkCfg.VendorID, linkCfg.ProductIDs) {
					return true
				}
			}
			return false
		}, attempt)
		logx.Infof("USBRECOVERY: attempt %d via %s: success=%v device_found=%v", attempt, res.Procedure, res.Success, res.DeviceFound)
		return res.DeviceFound
	})

	tcpSink.UpstreamSink = func(raw []byte) {
		if err := link.Write(raw); err != nil {
			logx.Warnf("TCP: upstream write failed: %v", err)
		}
	}

	encoder := input.New(link)
	wsHub.SetInput(encoder)

	diagStore, err := diag.Open()
	if err != nil {
		logx.Warnf("DIAG: disabled: %v", err)
		diagStore = nil
	}

	var mirrorHandle *mirror.Mirror
	mirrorHandle, err = mirror.Start(func(sm mirror.StateMessage) {
		logx.Debugf("MIRROR: peer %s reports screen=%s confidence=%.2f", sm.PeerID, sm.Screen, sm.Confidence)
	})
	if err != nil {
		logx.Warnf("MIRROR: disabled: %v", err)
		mirrorHandle = nil
	} else {
		go publishTrackedState(ctx, mirrorHandle, coord)
	}

	var audioHub *audio.Hub
	var webrtcEgress *audio.WebRTCEgress
	if cfg.Audio.Enabled {
		audioHub = audio.New()
		audioHub.SetTCPSink(func(frame []byte) { tcpSink.SendAudio(frame) })
		audioHub.AddAudioSink(func(frame []byte) { wsHub.BroadcastAudio(frame) })

		var err error
		webrtcEgress, err = audio.NewWebRTCEgress()
		if err != nil {
			logx.Warnf("AUDIO: webrtc egress disabled: %v", err)
			webrtcEgress = nil
		} else {
			audioHub.AddAudioSink(webrtcEgress.AsSink())
		}

		var proc *audio.ProcessCapture
		var host *audio.HostCapture
		startCapture = func() {
			if cfg.Audio.CapturePath != "" {
				if proc != nil && proc.Running() {
					return
				}
				proc = audio.NewProcessCapture(cfg.Audio.CapturePath, nil, audioHub)
				if err := proc.Start(ctx); err != nil {
					logx.Errorf("AUDIO: capture subprocess failed to start: %v", err)
					audioHub.PublishControl(audio.ControlMessage{Type: "error", Message: err.Error()})
				}
				return
			}
			if host != nil {
				host.Stop()
			}
			host = audio.NewHostCapture(audioHub)
			if err := host.Start(); err != nil {
				logx.Errorf("AUDIO: host capture failed to start: %v", err)
				audioHub.PublishControl(audio.ControlMessage{Type: "error", Message: err.Error()})
			}
		}
		stopCapture = func() {
			if proc != nil {
				proc.Stop()
			}
			if host != nil {
				host.Stop()
			}
		}
		wsHub.OnFirstAudioSubscriber(startCapture)

		if cfg.TCP.Port != 0 {
			// The audio pipeline also feeds the TCP consumer stream, so
			// capture starts eagerly rather than waiting for a lazy
			// /audio WebSocket subscriber.
			startCapture()
		}
	}

	if cfg.TCP.Port != 0 {
		if err := tcpSink.Listen(fmt.Sprintf(":%d", cfg.TCP.Port)); err != nil {
			return fmt.Errorf("tcp broadcaster: %w", err)
		}
		logx.Infof("TCP broadcaster listening on :%d", cfg.TCP.Port)
	}

	if err := link.Open(); err != nil {
		logx.Warnf("SERIAL: initial open failed, entering reconnect loop: %v", err)
		link.StartReconnectLoop()
	}

	mux := http.NewServeMux()
	wsHub.RegisterRoutes(mux)
	apiMux := restapi.NewMux(restapi.Deps{
		Coordinator: coord,
		Link:        link,
		Encoder:     encoder,
		TCP:         tcpSink,
		Diag:        diagStore,
		Mirror:      mirrorHandle,
		WebRTC:      webrtcEgress,
		Audio:       audioHub,
	})
	mux.Handle("/api/", apiMux)

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTP.Port), Handler: mux}
	serveErr := make(chan error, 1)
	go func() {
		logx.Infof("HTTP listening on :%d", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	wsHub.Close()
	if audioHub != nil {
		if stopCapture != nil {
			stopCapture()
		}
		audioHub.StopRecording()
	}
	tcpSink.Close()
	if devWatcher != nil {
		devWatcher.Close()
	}
	link.Disconnect()
	if mirrorHandle != nil {
		mirrorHandle.Close()
	}
	if diagStore != nil {
		diagStore.Close()
	}
	return nil
}

// publishTrackedState gossips the local tracked-state snapshot to mirror
// peers every few seconds until ctx is cancelled.
func publishTrackedState(ctx context.Context, m *mirror.Mirror, coord *fanout.Coordinator) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := coord.State().Snapshot()
			err := m.Publish(ctx, mirror.StateMessage{
				Screen:     string(snap.Screen),
				CursorRow:  snap.CursorRow,
				CursorCol:  snap.CursorCol,
				Selection:  snap.Selection,
				Confidence: snap.Confidence,
			})
			if err != nil {
				logx.Warnf("MIRROR: publish: %v", err)
			}
		}
	}
}

func printBanner(cfg config.Config) {
	fmt.Println("────────────────────────────────────────────────────────")
	fmt.Println("m8gatewayd")
	fmt.Printf("HTTP:   :%d\n", cfg.HTTP.Port)
	if cfg.TCP.Port != 0 {
		fmt.Printf("TCP:    :%d\n", cfg.TCP.Port)
	}
	if cfg.Serial.Path != "" {
		fmt.Printf("Serial: %s (explicit)\n", cfg.Serial.Path)
	} else {
		fmt.Println("Serial: auto-detect")
	}
	fmt.Println("────────────────────────────────────────────────────────")
}
