// Package mirror optionally publishes tracked-input-state snapshots to
// other gateway instances over a libp2p gossip topic, so a second
// instance watching the same device family can mirror what the first
// believes the device is doing. It is entirely supplemental: nothing
// else in the gateway depends on a peer actually being present.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	multiaddr "github.com/multiformats/go-multiaddr"

	"github.com/m8gateway/m8gateway/internal/logx"
)

// defaultListenAddrs binds the mirror host to an ephemeral TCP port on
// every local interface, an explicit listen set in the same style as
// libp2p.ListenAddrStrings rather than relying on the library's
// built-in defaults.
var defaultListenAddrs = []string{
	"/ip4/0.0.0.0/tcp/0",
	"/ip6/::/tcp/0",
}

func init() {
	logging.SetLogLevel("swarm2", "error")
}

const topicName = "m8gateway/tracked-state/v1"

// StateMessage is the wire payload published on the topic.
type StateMessage struct {
	PeerID     string  `json:"peerId"`
	Screen     string  `json:"screen"`
	CursorRow  int     `json:"cursorRow"`
	CursorCol  int     `json:"cursorCol"`
	Selection  int     `json:"selection"`
	Confidence float64 `json:"confidence"`
}

// Mirror owns the libp2p host and pubsub topic used for tracked-state
// gossip.
type Mirror struct {
	host  host.Host
	topic *pubsub.Topic
	sub   *pubsub.Subscription

	cancel context.CancelFunc
}

// Start brings up a libp2p host, joins the tracked-state topic, and
// begins listening for peer updates (delivered to onPeerState).
func Start(onPeerState func(StateMessage)) (*Mirror, error) {
	ctx, cancel := context.WithCancel(context.Background())

	addrs := make([]multiaddr.Multiaddr, 0, len(defaultListenAddrs))
	for _, s := range defaultListenAddrs {
		a, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("mirror: parse listen addr %q: %w", s, err)
		}
		addrs = append(addrs, a)
	}

	h, err := libp2p.New(libp2p.ListenAddrs(addrs...))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("mirror: new host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		cancel()
		h.Close()
		return nil, fmt.Errorf("mirror: gossipsub: %w", err)
	}

	topic, err := ps.Join(topicName)
	if err != nil {
		cancel()
		h.Close()
		return nil, fmt.Errorf("mirror: join topic: %w", err)
	}

	sub, err := topic.Subscribe()
	if err != nil {
		cancel()
		h.Close()
		return nil, fmt.Errorf("mirror: subscribe: %w", err)
	}

	m := &Mirror{host: h, topic: topic, sub: sub, cancel: cancel}
	go m.readLoop(ctx, onPeerState)
	return m, nil
}

func (m *Mirror) readLoop(ctx context.Context, onPeerState func(StateMessage)) {
	self := m.host.ID()
	for {
		msg, err := m.sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == self {
			continue
		}
		var sm StateMessage
		if err := json.Unmarshal(msg.Data, &sm); err != nil {
			continue
		}
		if onPeerState != nil {
			onPeerState(sm)
		}
	}
}

// Publish gossips the local tracked-state snapshot to the topic.
func (m *Mirror) Publish(ctx context.Context, sm StateMessage) error {
	sm.PeerID = m.host.ID().String()
	data, err := json.Marshal(sm)
	if err != nil {
		return err
	}
	return m.topic.Publish(ctx, data)
}

// ID returns the local libp2p peer id string, surfaced by /api/mirror.
func (m *Mirror) ID() string {
	return m.host.ID().String()
}

// Peers returns the peer ids currently known to the tracked-state topic.
func (m *Mirror) Peers() []string {
	ids := m.topic.ListPeers()
	out := make([]string, len(ids))
	for i, p := range ids {
		out[i] = p.String()
	}
	return out
}

// Close tears down the topic subscription and the libp2p host.
func (m *Mirror) Close() error {
	m.sub.Cancel()
	if err := m.topic.Close(); err != nil {
		logx.Warnf("MIRROR: topic close: %v", err)
	}
	m.cancel()
	return m.host.Close()
}
