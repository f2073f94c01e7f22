// Package network defines the P2P broadcast surface (spec §6): the
// three wire topics and a Broadcaster interface, plus a thin
// websocket-framed listener stub sufficient to exercise it. Peer
// discovery, scoring and connection management are explicitly out of
// scope (spec §1) — this package is the seam `internal/node` drives,
// not a full gossip implementation.
//
// Grounded on the teacher's pkg/network/l1_p2p.go (L1P2PNetwork,
// NetworkMessage, Peer), trimmed from a full peer-table/priority-
// routing implementation down to the interface the spec calls for.
package network

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sjxcrypto/trv1-chain/pkg/chain"
)

// Topic identifies one of the three P2P message topics (spec §6).
type Topic string

const (
	TopicProposal Topic = "trv1/consensus/proposal"
	TopicVote     Topic = "trv1/consensus/vote"
	TopicTx       Topic = "trv1/tx"
)

// Broadcaster publishes canonical-encoded records to a topic and
// delivers records other peers publish. Transport is unspecified by
// the spec; this repo's Hub is one such transport.
type Broadcaster interface {
	Publish(topic Topic, payload []byte) error
	Subscribe(topic Topic) <-chan []byte
}

// Hub is an in-process Broadcaster fanning messages out to every
// subscriber of a topic, and the backing store for the websocket
// listener below. It has no peer discovery of its own: wiring it to
// other nodes is the `internal/node` task's job.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[Topic][]chan []byte
}

// NewHub constructs an empty broadcast hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[Topic][]chan []byte)}
}

// Publish fans payload out to every current subscriber of topic.
// Slow subscribers are dropped the message rather than blocking the
// publisher (bounded, non-blocking delivery).
func (h *Hub) Publish(topic Topic, payload []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subscribers[topic] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel receiving every future Publish to topic.
func (h *Hub) Subscribe(topic Topic) <-chan []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan []byte, 64)
	h.subscribers[topic] = append(h.subscribers[topic], ch)
	return ch
}

// EncodeProposal/EncodeVote/EncodeTx are the canonical wire payloads
// for their topics (spec §6: "Messages are canonical-encoded Proposal,
// Vote, or Tx records").
func EncodeProposal(p *chain.Proposal) []byte { return p.MarshalCanonical() }
func EncodeVote(v *chain.Vote) []byte         { return v.MarshalCanonical() }
func EncodeTx(t *chain.Tx) []byte             { return t.MarshalCanonical() }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Listener is a thin websocket-framed relay: every inbound frame on a
// connection is published to the hub under the topic named by the
// connection's query parameter, and every hub message for that topic
// is written back out. It exists to give the Broadcaster interface a
// runnable transport, not to implement peer scoring or discovery.
type Listener struct {
	hub    *Hub
	logger *log.Logger
}

// NewListener constructs a websocket listener fronting hub.
func NewListener(hub *Hub, logger *log.Logger) *Listener {
	return &Listener{hub: hub, logger: logger}
}

// ServeHTTP upgrades the connection and relays frames for the topic
// named by the `?topic=` query parameter.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topic := Topic(r.URL.Query().Get("topic"))
	if topic != TopicProposal && topic != TopicVote && topic != TopicTx {
		http.Error(w, fmt.Sprintf("network: unknown topic %q", topic), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Printf("network: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	incoming := l.hub.Subscribe(topic)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case payload := <-incoming:
				if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := l.hub.Publish(topic, payload); err != nil {
			l.logger.Printf("network: publish failed: %v", err)
		}
	}
}
