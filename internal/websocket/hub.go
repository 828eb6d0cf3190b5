// Package websocket fans rank updates out to browser clients subscribed to a board.
package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/arcade-scores/internal/domain"
)

// Message types
const (
	MessageTypeRankUpdate   = "rank_update"
	MessageTypeSubscribe    = "subscribe"
	MessageTypeUnsubscribe  = "unsubscribe"
	MessageTypeSubscribed   = "subscribed"
	MessageTypeUnsubscribed = "unsubscribed"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeError        = "error"
)

// maxSubscriptions caps the boards one connection may follow
const maxSubscriptions = 16

// Message is a server to client frame
type Message struct {
	Type      string      `json:"type"`
	Board     string      `json:"board,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func (h *Hub) encode(msg Message) []byte {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal message", "type", msg.Type, "error", err)
		return nil
	}
	return data
}

type opKind int

const (
	opRegister opKind = iota
	opUnregister
	opSubscribe
	opUnsubscribe
	opReply
)

type hubOp struct {
	kind   opKind
	client *Client
	board  domain.BoardKey
	msg    Message
}

// Hub owns the connection and subscription tables. All mutations run on the Run
// goroutine; the mutex only guards readers of the stats.
type Hub struct {
	mu    sync.RWMutex
	conns map[*Client]map[domain.BoardKey]struct{}
	subs  map[domain.BoardKey]map[*Client]struct{}

	ops     chan hubOp
	updates chan domain.RankUpdate
	done    chan struct{}
	stop    sync.Once

	logger *slog.Logger
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		conns:   make(map[*Client]map[domain.BoardKey]struct{}),
		subs:    make(map[domain.BoardKey]map[*Client]struct{}),
		ops:     make(chan hubOp, 64),
		updates: make(chan domain.RankUpdate, 256),
		done:    make(chan struct{}),
		logger:  logger,
	}
}

// Run processes connection changes and rank updates until Stop is called
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.done:
			h.logger.Info("WebSocket hub stopping")
			h.closeAll()
			return
		case op := <-h.ops:
			h.apply(op)
		case update := <-h.updates:
			h.fanOut(update)
		}
	}
}

// Stop shuts the hub down and disconnects every client
func (h *Hub) Stop() {
	h.stop.Do(func() { close(h.done) })
}

func (h *Hub) apply(op hubOp) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch op.kind {
	case opRegister:
		h.conns[op.client] = make(map[domain.BoardKey]struct{})
		h.logger.Debug("client registered", "client_id", op.client.id)

	case opUnregister:
		h.dropLocked(op.client)

	case opSubscribe:
		boards, ok := h.conns[op.client]
		if !ok {
			return
		}
		if _, dup := boards[op.board]; !dup && len(boards) >= maxSubscriptions {
			op.client.trySend(h.encode(Message{Type: MessageTypeError, Board: op.board.String(), Data: map[string]string{"error": "too many subscriptions"}}))
			return
		}
		boards[op.board] = struct{}{}
		if h.subs[op.board] == nil {
			h.subs[op.board] = make(map[*Client]struct{})
		}
		h.subs[op.board][op.client] = struct{}{}
		op.client.trySend(h.encode(Message{Type: MessageTypeSubscribed, Board: op.board.String()}))

	case opUnsubscribe:
		boards, ok := h.conns[op.client]
		if !ok {
			return
		}
		delete(boards, op.board)
		h.unlinkLocked(op.client, op.board)
		op.client.trySend(h.encode(Message{Type: MessageTypeUnsubscribed, Board: op.board.String()}))

	case opReply:
		if _, ok := h.conns[op.client]; ok {
			op.client.trySend(h.encode(op.msg))
		}
	}
}

// fanOut delivers an update to the board's subscribers. A subscriber whose buffer is
// full is disconnected rather than silently missing updates.
func (h *Hub) fanOut(update domain.RankUpdate) {
	frame := h.encode(Message{
		Type:      MessageTypeRankUpdate,
		Board:     update.Board.String(),
		Data:      update,
		Timestamp: update.Timestamp,
	})
	if frame == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.subs[update.Board] {
		if !client.trySend(frame) {
			h.logger.Warn("dropping slow websocket client", "client_id", client.id)
			h.dropLocked(client)
		}
	}
}

func (h *Hub) dropLocked(client *Client) {
	boards, ok := h.conns[client]
	if !ok {
		return
	}
	for board := range boards {
		h.unlinkLocked(client, board)
	}
	delete(h.conns, client)
	close(client.send)
	h.logger.Debug("client unregistered", "client_id", client.id)
}

func (h *Hub) unlinkLocked(client *Client, board domain.BoardKey) {
	clients := h.subs[board]
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.subs, board)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.conns {
		h.dropLocked(client)
	}
}

func (h *Hub) submit(op hubOp) {
	select {
	case h.ops <- op:
	case <-h.done:
	}
}

// BroadcastRankUpdate queues an improved entry for the board's subscribers.
// It never blocks the caller; updates are dropped when the queue is full.
func (h *Hub) BroadcastRankUpdate(update domain.RankUpdate) {
	select {
	case h.updates <- update:
	default:
		h.logger.Warn("rank update queue full, dropping update", "board", update.Board.String())
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.submit(hubOp{kind: opRegister, client: client})
}

// Unregister removes a client and all of its subscriptions
func (h *Hub) Unregister(client *Client) {
	h.submit(hubOp{kind: opUnregister, client: client})
}

// reply queues a direct response to one client
func (h *Hub) reply(client *Client, msg Message) {
	h.submit(hubOp{kind: opReply, client: client, msg: msg})
}

// Subscribe adds a client to a board's subscribers
func (h *Hub) Subscribe(client *Client, board domain.BoardKey) {
	h.submit(hubOp{kind: opSubscribe, client: client, board: board})
}

// Unsubscribe removes a client from a board's subscribers
func (h *Hub) Unsubscribe(client *Client, board domain.BoardKey) {
	h.submit(hubOp{kind: opUnsubscribe, client: client, board: board})
}

// SubscriberCount returns the number of subscribers for a board
func (h *Hub) SubscriberCount(board domain.BoardKey) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[board])
}

// TotalConnections returns the number of registered clients
func (h *Hub) TotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Stats returns connection and per-board subscriber counts
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	boards := make(map[string]int, len(h.subs))
	for board, clients := range h.subs {
		boards[board.String()] = len(clients)
	}
	return map[string]interface{}{
		"total_connections": len(h.conns),
		"subscriptions":     boards,
	}
}
