package audio

import (
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"

	_ "github.com/pion/mediadevices/pkg/driver/microphone"

	"github.com/m8gateway/m8gateway/internal/logx"
)

// HostCapture is the fallback capture backend: instead of shelling out
// to the native USB-isochronous helper, it reads the host platform's
// default microphone input directly via pion/mediadevices and re-encodes
// it to the same 16-bit LE stereo PCM format every other backend
// produces, so the Hub and every downstream consumer stay
// backend-agnostic.
type HostCapture struct {
	hub    *Hub
	stopCh chan struct{}
}

// NewHostCapture returns a capture backend bound to the host's default
// audio input device.
func NewHostCapture(hub *Hub) *HostCapture {
	return &HostCapture{hub: hub}
}

// Start opens the default microphone and begins pumping PCM into the
// hub on a background goroutine.
func (h *HostCapture) Start() error {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(SampleRate)
			c.ChannelCount = prop.Int(Channels)
		},
	})
	if err != nil {
		return err
	}

	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return errNoAudioTrack
	}
	track := tracks[0].(*mediadevices.AudioTrack)
	reader := track.NewReader(false)

	h.stopCh = make(chan struct{})
	go h.pump(reader)
	return nil
}

func (h *HostCapture) pump(reader wave.AudioReader) {
	for {
		select {
		case <-h.stopCh:
			return
		default:
		}

		chunk, release, err := reader.Read()
		if err != nil {
			logx.Warnf("AUDIO: host capture read: %v", err)
			h.hub.PublishControl(ControlMessage{Type: "error", Message: err.Error()})
			return
		}
		h.hub.Ingest(encodePCM16(chunk))
		release()
	}
}

// Stop halts the capture goroutine: the reader loop exits the next time
// it checks the closed channel, after its current read returns. The
// media track itself is not closed. Safe to call more than once.
func (h *HostCapture) Stop() {
	if h.stopCh != nil {
		close(h.stopCh)
		h.stopCh = nil
	}
}

// encodePCM16 converts a wave.Audio chunk of arbitrary sample format into
// interleaved signed 16-bit little-endian PCM, matching the format every
// other capture backend emits. The sample format the microphone driver
// delivers varies by platform, so samples go through the normalized
// 64-bit accessor rather than a format-specific assertion.
func encodePCM16(chunk wave.Audio) []byte {
	info := chunk.ChunkInfo()
	out := make([]byte, 0, info.Len*info.Channels*2)
	for i := 0; i < info.Len; i++ {
		for ch := 0; ch < info.Channels; ch++ {
			v := int16(chunk.At(i, ch).Int() >> 48)
			out = append(out, byte(v), byte(v>>8))
		}
	}
	return out
}

type captureError string

func (e captureError) Error() string { return string(e) }

const errNoAudioTrack = captureError("no audio track available from host capture")
