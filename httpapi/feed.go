package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/diva-network/divachain/core"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Feed implements consensus.BlockFeed: it pushes the canonical JSON of
// every newly committed block to all currently-subscribed WebSocket
// clients. A slow or disconnected subscriber is dropped rather than
// allowed to block Publish, since Publish runs on the core executor.
type Feed struct {
	mu   sync.Mutex
	subs map[*feedSubscriber]struct{}
	log  zerolog.Logger
}

type feedSubscriber struct {
	conn *websocket.Conn
	out  chan []byte
}

// NewFeed creates an empty Feed.
func NewFeed(log zerolog.Logger) *Feed {
	return &Feed{subs: make(map[*feedSubscriber]struct{}), log: log.With().Str("component", "blockfeed").Logger()}
}

// Publish marshals block and fans it out to every subscriber without
// blocking: a subscriber whose outbound buffer is full is dropped.
func (f *Feed) Publish(block *core.Block) {
	data, err := core.MarshalBlock(block)
	if err != nil {
		f.log.Error().Err(err).Uint64("height", block.Height).Msg("marshal block for feed")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		select {
		case sub.out <- data:
		default:
			f.log.Warn().Msg("dropping slow block feed subscriber")
			delete(f.subs, sub)
			close(sub.out)
			_ = sub.conn.Close()
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket and streams every
// subsequently published block until the connection closes.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	sub := &feedSubscriber{conn: conn, out: make(chan []byte, 32)}

	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		if _, ok := f.subs[sub]; ok {
			delete(f.subs, sub)
			close(sub.out)
		}
		f.mu.Unlock()
		_ = conn.Close()
	}()

	go f.readLoop(conn)

	for data := range sub.out {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// readLoop discards inbound frames but detects client-initiated close, the
// conventional way to keep a gorilla/websocket connection's read side
// drained so pings/pongs and close frames are still processed.
func (f *Feed) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
