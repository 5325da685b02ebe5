package market_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chipcast/market-engine/internal/market"
)

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func waitForClients(t *testing.T, hub *market.WSHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", n, hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWSHub_BroadcastReachesAllClients(t *testing.T) {
	hub := market.NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	c1 := dialWS(t, srv)
	defer c1.Close()
	c2 := dialWS(t, srv)
	defer c2.Close()
	waitForClients(t, hub, 2)

	hub.Broadcast(market.WSMessage{
		Type:     "bet_placed",
		MarketID: "m1",
		Status:   "open",
		YesPool:  "100",
		NoPool:   "40",
	})

	for _, conn := range []*websocket.Conn{c1, c2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		var msg market.WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if msg.Type != "bet_placed" || msg.MarketID != "m1" || msg.YesPool != "100" {
			t.Errorf("unexpected message: %+v", msg)
		}
	}
}

func TestWSHub_DisconnectedClientIsRemoved(t *testing.T) {
	hub := market.NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialWS(t, srv)
	waitForClients(t, hub, 1)

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client not removed after disconnect, count %d", hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
