// Package bidding — WebSocket subscription registry and broadcaster.
// Clients join per-auction rooms and receive state-change events for exactly
// those auctions; bid submissions arrive on the same persistent channel.
package bidding

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/auctionhouse/bidding-engine/internal/auth"
	"github.com/auctionhouse/bidding-engine/internal/metrics"
)

// Outbound event types.
const (
	EventJoined          = "joined"
	EventRefresh         = "refresh"
	EventBidSuccess      = "bid_success"
	EventBidFailure      = "bid_failure"
	EventAuctionEnded    = "auction_ended"
	EventAuctionDelisted = "auction_delisted"
)

// Event is a JSON message pushed to subscribed clients. Events are
// idempotent snapshots, not deltas: duplicate delivery to a reconnecting
// client is harmless.
type Event struct {
	Type           string `json:"type"`
	AuctionID      string `json:"auction_id,omitempty"`
	BidAmount      string `json:"bid_amount,omitempty"`
	BidderID       string `json:"bidder_id,omitempty"`
	BidCount       int    `json:"bid_count,omitempty"`
	SequenceNumber int    `json:"sequence_number,omitempty"`
	EndTime        int64  `json:"end_time,omitempty"` // unix milliseconds
	WinnerID       string `json:"winner_id,omitempty"`
	FinalAmount    string `json:"final_amount,omitempty"`
	Message        string `json:"message,omitempty"`
}

// clientMessage is an inbound frame from a connection. The observed fields
// are advisory context from the client's countdown display and are never
// trusted for correctness.
type clientMessage struct {
	Action           string          `json:"action"` // "join", "leave", "bid"
	AuctionID        string          `json:"auction_id"`
	Token            string          `json:"token"`
	Amount           decimal.Decimal `json:"amount"`
	ObservedEndTime  int64           `json:"observed_end_time"`
	ObservedBidCount int             `json:"observed_bid_count"`
}

// client is one WebSocket connection with its subscription set.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.Mutex
	closed   bool            // set before send is closed; checked in enqueue
	auctions map[string]bool // auction ids this connection watches
}

// Hub tracks which connections watch which auctions and fans out events to
// exactly the subscriber-set snapshot at broadcast time. Subscribers joining
// after a broadcast do not retroactively receive it; they fetch current
// state on join instead.
type Hub struct {
	resolver auth.Resolver
	svc      *Service

	mu      sync.RWMutex
	clients map[*client]bool
	rooms   map[string]map[*client]bool

	register   chan *client
	unregister chan *client
}

// NewHub creates a hub. AttachService must be called before serving
// connections so inbound bids reach the processor.
func NewHub(resolver auth.Resolver) *Hub {
	return &Hub{
		resolver:   resolver,
		clients:    make(map[*client]bool),
		rooms:      make(map[string]map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// AttachService wires the bid processor. Separate from NewHub because the
// service broadcasts through the hub and the hub submits bids to the service.
func (h *Hub) AttachService(svc *Service) { h.svc = svc }

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			slog.Info("ws client connected", "total", total)

		case c := <-h.unregister:
			h.dropClient(c)
		}
	}
}

// dropClient removes the connection and all of its subscriptions. The
// closed flag and the channel close happen under the client's mutex, so a
// broadcaster holding a stale room snapshot can never send after the close.
func (h *Hub) dropClient(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
		c.conn.Close()
	}
	for auctionID, room := range h.rooms {
		if room[c] {
			delete(room, c)
			metrics.Subscriptions.Dec()
			if len(room) == 0 {
				delete(h.rooms, auctionID)
			}
		}
	}
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(total))
}

// subscribe adds the connection to an auction's room.
func (h *Hub) subscribe(c *client, auctionID string) {
	h.mu.Lock()
	room, ok := h.rooms[auctionID]
	if !ok {
		room = make(map[*client]bool)
		h.rooms[auctionID] = room
	}
	if !room[c] {
		room[c] = true
		metrics.Subscriptions.Inc()
	}
	h.mu.Unlock()

	c.mu.Lock()
	c.auctions[auctionID] = true
	c.mu.Unlock()
}

// unsubscribe removes the connection from an auction's room.
func (h *Hub) unsubscribe(c *client, auctionID string) {
	h.mu.Lock()
	if room, ok := h.rooms[auctionID]; ok && room[c] {
		delete(room, c)
		metrics.Subscriptions.Dec()
		if len(room) == 0 {
			delete(h.rooms, auctionID)
		}
	}
	h.mu.Unlock()

	c.mu.Lock()
	delete(c.auctions, auctionID)
	c.mu.Unlock()
}

// BroadcastToAuction delivers an event to the current subscribers of one
// auction. Slow consumers have the message dropped rather than blocking the
// engine; a reconnect refetches current state.
func (h *Hub) BroadcastToAuction(auctionID string, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	h.mu.RLock()
	room := h.rooms[auctionID]
	targets := make([]*client, 0, len(room))
	for c := range room {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(data)
	}
}

// enqueue is a non-blocking send into the client's write buffer. No-op once
// the client has been dropped: broadcasts snapshot rooms before sending, and
// a disconnect may land in between.
func (c *client) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		// Buffer full: drop rather than block bid processing.
	}
}

func (c *client) sendEvent(ev Event) {
	if data, err := json.Marshal(ev); err == nil {
		c.enqueue(data)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second

	// maxMessageSize bounds inbound frames; bid and join messages are small
	// JSON objects.
	maxMessageSize = 4096
)

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := &client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 64),
		auctions: make(map[string]bool),
	}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

// readPump consumes inbound frames until the connection drops, then cleanly
// tears down the client's subscriptions.
func (c *client) readPump() {
	defer func() { c.hub.unregister <- c }()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed frame: reject at the boundary, keep the connection.
			c.sendEvent(Event{Type: EventBidFailure, Message: "malformed message"})
			continue
		}
		c.handle(msg)
	}
}

func (c *client) handle(msg clientMessage) {
	switch msg.Action {
	case "join":
		c.hub.subscribe(c, msg.AuctionID)
		c.sendEvent(Event{Type: EventJoined, AuctionID: msg.AuctionID})

	case "leave":
		c.hub.unsubscribe(c, msg.AuctionID)

	case "bid":
		c.handleBid(msg)

	default:
		c.sendEvent(Event{Type: EventBidFailure, Message: "unknown action"})
	}
}

// handleBid resolves the credential, submits the proposal to the processor,
// and reports the outcome to this connection only. The accepted-bid refresh
// reaches the room through the service's broadcast.
//
// A background context, not the connection's: a disconnect mid-submission
// must not cancel a commit already past validation.
func (c *client) handleBid(msg clientMessage) {
	bidderID, err := c.hub.resolver.ResolveBidder(msg.Token)
	if err != nil {
		c.sendEvent(Event{
			Type:      EventBidFailure,
			AuctionID: msg.AuctionID,
			Message:   failureMessage(ErrAuthenticationRequired),
		})
		return
	}

	_, err = c.hub.svc.PlaceBid(context.Background(), msg.AuctionID, bidderID, msg.Amount)
	if err != nil {
		c.sendEvent(Event{
			Type:      EventBidFailure,
			AuctionID: msg.AuctionID,
			Message:   failureMessage(err),
		})
		return
	}

	c.sendEvent(Event{Type: EventBidSuccess, AuctionID: msg.AuctionID})
}

// failureMessage strips the package prefix for the client-facing reason.
func failureMessage(err error) string {
	return strings.TrimPrefix(err.Error(), "bidding: ")
}

// writePump drains the send buffer and keeps the connection alive through
// proxies with periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
