package network

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/diva-network/divachain/crypto"
	"github.com/diva-network/divachain/router"
)

// DefaultMaxPeers is the default limit on simultaneous peer connections.
const DefaultMaxPeers = 50

// EnvelopeHandler is invoked for each inbound envelope that passes
// signature verification and replay suppression.
type EnvelopeHandler func(env *router.Envelope)

// Node listens for incoming peers and manages outgoing connections, relaying
// signed router.Envelope frames. It implements consensus.Broadcaster.
type Node struct {
	self       string // own public key, to drop loopback deliveries
	listenAddr string
	tlsConfig  *tls.Config // nil → plain TCP
	maxPeers   int
	seqTracker *router.SeqTracker
	onEnvelope EnvelopeHandler
	log        zerolog.Logger

	mu    sync.RWMutex
	peers map[string]*Peer

	listener net.Listener
	stopCh   chan struct{}
}

// NewNode creates a Node that will listen on listenAddr and dispatch
// verified, deduplicated envelopes to onEnvelope. If tlsCfg is non-nil the
// listener and outgoing connections use mutual TLS; nil falls back to
// plain TCP.
func NewNode(self, listenAddr string, tlsCfg *tls.Config, seqTracker *router.SeqTracker, onEnvelope EnvelopeHandler, log zerolog.Logger) *Node {
	return &Node{
		self:       self,
		listenAddr: listenAddr,
		tlsConfig:  tlsCfg,
		maxPeers:   DefaultMaxPeers,
		seqTracker: seqTracker,
		onEnvelope: onEnvelope,
		log:        log.With().Str("component", "network").Logger(),
		peers:      make(map[string]*Peer),
		stopCh:     make(chan struct{}),
	}
}

// Start begins accepting connections.
func (n *Node) Start() error {
	var ln net.Listener
	var err error
	if n.tlsConfig != nil {
		ln, err = tls.Listen("tcp", n.listenAddr, n.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", n.listenAddr)
	}
	if err != nil {
		return fmt.Errorf("listen %s: %w", n.listenAddr, err)
	}
	n.listener = ln
	go n.acceptLoop()
	return nil
}

// Stop shuts down the node and every connected peer.
func (n *Node) Stop() {
	close(n.stopCh)
	if n.listener != nil {
		n.listener.Close()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.peers {
		p.Close()
	}
}

// AddPeer dials addr and registers the peer under pubKey.
func (n *Node) AddPeer(pubKey, addr string) error {
	peer, err := Connect(pubKey, addr, n.tlsConfig)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.peers[pubKey] = peer
	n.mu.Unlock()
	go n.readLoop(peer)
	return nil
}

// Peer returns the connected peer with the given public key, or nil.
func (n *Node) Peer(pubKey string) *Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.peers[pubKey]
}

// Broadcast sends e, marshaled, to every connected peer. It implements
// consensus.Broadcaster.
func (n *Node) Broadcast(e *router.Envelope) error {
	frame, err := router.MarshalEnvelope(e)
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", e.Ident, err)
	}
	n.mu.RLock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.RUnlock()
	for _, p := range peers {
		if err := p.Send(frame); err != nil {
			n.log.Warn().Err(err).Str("peer", p.PubKey).Msg("broadcast send failed")
		}
	}
	return nil
}

// SendTo sends e, marshaled, to the single peer identified by dest. It
// implements consensus.Broadcaster.
func (n *Node) SendTo(dest crypto.PublicKey, e *router.Envelope) error {
	peer := n.Peer(dest.String())
	if peer == nil {
		return fmt.Errorf("no connected peer for %s", dest.String())
	}
	frame, err := router.MarshalEnvelope(e)
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", e.Ident, err)
	}
	return peer.Send(frame)
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				n.log.Error().Err(err).Msg("accept error")
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		n.mu.RLock()
		peerCount := len(n.peers)
		n.mu.RUnlock()
		if peerCount >= n.maxPeers {
			n.log.Warn().Int("maxPeers", n.maxPeers).Str("remote", conn.RemoteAddr().String()).Msg("rejecting connection, at capacity")
			conn.Close()
			continue
		}
		peer := NewPeer(conn.RemoteAddr().String(), conn.RemoteAddr().String(), conn)
		n.mu.Lock()
		n.peers[peer.PubKey] = peer
		n.mu.Unlock()
		go n.readLoop(peer)
	}
}

func (n *Node) readLoop(peer *Peer) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error().Interface("panic", r).Str("peer", peer.PubKey).Msg("readLoop panic")
		}
		peer.Close()
		n.mu.Lock()
		delete(n.peers, peer.PubKey)
		n.mu.Unlock()
	}()
	for {
		frame, err := peer.Receive()
		if err != nil {
			return
		}
		n.ingest(frame)
	}
}

// ingest unmarshals, verifies, and deduplicates an inbound frame before
// handing it to onEnvelope. Registry membership and consensus-semantic
// checks happen downstream in the block factory, not here.
func (n *Node) ingest(frame []byte) {
	env, err := router.UnmarshalEnvelope(frame)
	if err != nil {
		n.log.Debug().Err(err).Msg("unmarshal envelope")
		return
	}
	if env.Origin.String() == n.self {
		return // our own broadcast looped back by a relaying peer
	}
	if err := env.Verify(); err != nil {
		n.log.Debug().Err(err).Str("ident", env.Ident).Msg("envelope verification failed")
		return
	}
	if !n.seqTracker.Admit(env.Origin.String(), env.Seq) {
		return // replay or reorder, drop silently
	}
	n.onEnvelope(env)
}
