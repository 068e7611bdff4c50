package bidding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/auctionhouse/bidding-engine/internal/auth"
	"github.com/auctionhouse/bidding-engine/internal/store"
)

// newHubEnv wires a hub, service, and in-memory store behind a test server.
func newHubEnv(t *testing.T) (*Hub, *Service, *store.MemoryStore, string) {
	t.Helper()
	ms := store.NewMemoryStore()
	hub := NewHub(auth.StaticResolver{"tok1": "buyer1", "tok2": "buyer2"})
	svc := NewService(ms, hub)
	hub.AttachService(svc)
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return hub, svc, ms, wsURL
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readEvent reads one event with a deadline.
func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return ev
}

// expectSilence asserts no event arrives within the window.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Fatalf("unexpected event delivered: %s", data)
	}
}

func join(t *testing.T, conn *websocket.Conn, auctionID string) {
	t.Helper()
	sendJSON(t, conn, map[string]string{"action": "join", "auction_id": auctionID})
	if ev := readEvent(t, conn); ev.Type != EventJoined || ev.AuctionID != auctionID {
		t.Fatalf("join ack = %+v", ev)
	}
}

func TestHub_BroadcastReachesOnlySubscribers(t *testing.T) {
	_, svc, ms, wsURL := newHubEnv(t)
	seedAuction(t, ms, "a1", 100, 10)
	seedAuction(t, ms, "a2", 100, 10)

	watcher := dialWS(t, wsURL)
	other := dialWS(t, wsURL)
	join(t, watcher, "a1")
	join(t, other, "a2")

	if _, err := svc.PlaceBid(context.Background(), "a1", "buyer1", d(110)); err != nil {
		t.Fatalf("bid: %v", err)
	}

	ev := readEvent(t, watcher)
	if ev.Type != EventRefresh || ev.AuctionID != "a1" {
		t.Fatalf("watcher got %+v, want refresh for a1", ev)
	}
	if ev.BidAmount != "110" || ev.BidderID != "buyer1" || ev.BidCount != 1 {
		t.Errorf("refresh payload = %+v", ev)
	}
	if ev.EndTime == 0 {
		t.Error("refresh should carry the authoritative end time")
	}

	// A subscriber of a different auction hears nothing.
	expectSilence(t, other)
}

func TestHub_BidOverWebSocket(t *testing.T) {
	_, _, ms, wsURL := newHubEnv(t)
	seedAuction(t, ms, "a1", 100, 10)

	conn := dialWS(t, wsURL)
	join(t, conn, "a1")

	sendJSON(t, conn, map[string]interface{}{
		"action":     "bid",
		"auction_id": "a1",
		"token":      "tok1",
		"amount":     120,
		// Advisory fields the server must ignore for correctness.
		"observed_end_time":  1,
		"observed_bid_count": 99,
	})

	// The submitter receives both the room refresh and its private success.
	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		got[readEvent(t, conn).Type] = true
	}
	if !got[EventRefresh] || !got[EventBidSuccess] {
		t.Fatalf("events = %v, want refresh and bid_success", got)
	}

	a, _ := ms.GetAuction(context.Background(), "a1")
	if !a.HighestBid.Equal(d(120)) {
		t.Errorf("highest = %s, want 120", a.HighestBid)
	}
}

func TestHub_RejectionGoesOnlyToSubmitter(t *testing.T) {
	_, _, ms, wsURL := newHubEnv(t)
	seedAuction(t, ms, "a1", 100, 10)

	bidder := dialWS(t, wsURL)
	watcher := dialWS(t, wsURL)
	join(t, bidder, "a1")
	join(t, watcher, "a1")

	// Too low: increment under the minimum.
	sendJSON(t, bidder, map[string]interface{}{
		"action": "bid", "auction_id": "a1", "token": "tok1", "amount": 105,
	})

	ev := readEvent(t, bidder)
	if ev.Type != EventBidFailure {
		t.Fatalf("got %+v, want bid_failure", ev)
	}
	if !strings.Contains(ev.Message, "minimum increment") {
		t.Errorf("failure message = %q", ev.Message)
	}

	// The rejection is private; the room hears nothing.
	expectSilence(t, watcher)
}

func TestHub_UnauthenticatedBid(t *testing.T) {
	_, _, ms, wsURL := newHubEnv(t)
	seedAuction(t, ms, "a1", 100, 10)

	conn := dialWS(t, wsURL)
	join(t, conn, "a1")

	sendJSON(t, conn, map[string]interface{}{
		"action": "bid", "auction_id": "a1", "token": "bogus", "amount": 110,
	})

	ev := readEvent(t, conn)
	if ev.Type != EventBidFailure {
		t.Fatalf("got %+v, want bid_failure", ev)
	}
	if !strings.Contains(ev.Message, "sign in") {
		t.Errorf("failure message = %q", ev.Message)
	}

	// Nothing persisted.
	a, _ := ms.GetAuction(context.Background(), "a1")
	if a.BidCount != 0 {
		t.Errorf("bid count = %d, want 0", a.BidCount)
	}
}

func TestHub_MalformedFrameKeepsConnection(t *testing.T) {
	_, _, _, wsURL := newHubEnv(t)

	conn := dialWS(t, wsURL)
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	ev := readEvent(t, conn)
	if ev.Type != EventBidFailure || ev.Message != "malformed message" {
		t.Fatalf("got %+v, want malformed-message failure", ev)
	}

	// Connection still usable.
	join(t, conn, "a1")
}

func TestHub_LeaveStopsDelivery(t *testing.T) {
	_, svc, ms, wsURL := newHubEnv(t)
	seedAuction(t, ms, "a1", 100, 10)

	conn := dialWS(t, wsURL)
	join(t, conn, "a1")
	sendJSON(t, conn, map[string]string{"action": "leave", "auction_id": "a1"})

	// Leave has no ack; give the frame time to be processed.
	time.Sleep(100 * time.Millisecond)

	if _, err := svc.PlaceBid(context.Background(), "a1", "buyer1", d(110)); err != nil {
		t.Fatalf("bid: %v", err)
	}
	expectSilence(t, conn)
}

func TestHub_BroadcastAfterDropDoesNotPanic(t *testing.T) {
	// A broadcaster snapshots the room, then the subscriber disconnects
	// before the send lands. The stale snapshot must degrade to a dropped
	// message, never a send on a closed channel.
	hub, _, ms, wsURL := newHubEnv(t)
	seedAuction(t, ms, "a1", 100, 10)

	conn := dialWS(t, wsURL)
	join(t, conn, "a1")

	var c *client
	deadline := time.Now().Add(2 * time.Second)
	for c == nil {
		hub.mu.RLock()
		for member := range hub.rooms["a1"] {
			c = member
		}
		hub.mu.RUnlock()
		if time.Now().After(deadline) {
			t.Fatal("subscriber never appeared in the room")
		}
	}

	// The drop lands between the room snapshot and the send.
	hub.dropClient(c)

	c.enqueue([]byte(`{"type":"refresh"}`))
	hub.BroadcastToAuction("a1", Event{Type: EventRefresh, AuctionID: "a1"})
}

func TestHub_BroadcastDisconnectChurn(t *testing.T) {
	hub, _, ms, wsURL := newHubEnv(t)
	seedAuction(t, ms, "a1", 100, 10)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					hub.BroadcastToAuction("a1", Event{Type: EventRefresh, AuctionID: "a1"})
				}
			}
		}()
	}

	// Churn subscribers against the broadcasters. No frame assertions here:
	// under load the join ack interleaves with refreshes.
	for i := 0; i < 20; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		sendJSON(t, conn, map[string]string{"action": "join", "auction_id": "a1"})
		time.Sleep(5 * time.Millisecond)
		conn.Close()
	}

	close(stop)
	wg.Wait()
}

func TestHub_OversizedFrameClosesConnection(t *testing.T) {
	_, _, _, wsURL := newHubEnv(t)

	conn := dialWS(t, wsURL)
	big := make([]byte, maxMessageSize*16)
	for i := range big {
		big[i] = 'a'
	}
	if err := conn.WriteMessage(websocket.TextMessage, big); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("connection survived an oversized frame")
	}
}

func TestHub_DisconnectCleansSubscriptions(t *testing.T) {
	hub, _, ms, wsURL := newHubEnv(t)
	seedAuction(t, ms, "a1", 100, 10)

	conn := dialWS(t, wsURL)
	join(t, conn, "a1")
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.mu.RLock()
		clients, rooms := len(hub.clients), len(hub.rooms)
		hub.mu.RUnlock()
		if clients == 0 && rooms == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscriptions not cleaned up: clients=%d rooms=%d", clients, rooms)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
