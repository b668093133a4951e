package dashboard

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/lookout/internal/delivery"
	"github.com/linnemanlabs/lookout/internal/priority"
)

func newServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(log.Nop())
	r := chi.NewRouter()
	r.Get("/api/v1/recipients/{recipient}/stream", hub.ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, recipient string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/recipients/" + recipient + "/stream"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func waitConnected(t *testing.T, hub *Hub, recipient string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Connected(recipient) != n {
		if time.Now().After(deadline) {
			t.Fatalf("Connected(%q) = %d, want %d", recipient, hub.Connected(recipient), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, ws *websocket.Conn) Event {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := ws.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func TestNotify_FansOutToRecipientTabs(t *testing.T) {
	t.Parallel()

	hub, srv := newServer(t)
	tab1 := dial(t, srv, "acme")
	tab2 := dial(t, srv, "acme")
	other := dial(t, srv, "globex")
	waitConnected(t, hub, "acme", 2)
	waitConnected(t, hub, "globex", 1)

	d := &delivery.Delivery{ID: "d1", RecipientID: "acme", Status: delivery.StatusPending}
	if err := hub.Notify(context.Background(), "acme", d); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	for _, ws := range []*websocket.Conn{tab1, tab2} {
		ev := readEvent(t, ws)
		if ev.Kind != "alert" || ev.Delivery == nil || ev.Delivery.ID != "d1" {
			t.Errorf("event = %+v, want alert d1", ev)
		}
	}

	_ = other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Error("another recipient received the event")
	}
}

func TestNotifyCluster(t *testing.T) {
	t.Parallel()

	hub, srv := newServer(t)
	ws := dial(t, srv, "acme")
	waitConnected(t, hub, "acme", 1)

	cd := &delivery.ClusterDigest{
		RecipientID: "acme",
		Level:       priority.LevelHigh,
		Cluster:     priority.AlertCluster{ID: "c1", Category: priority.CategorySEO},
	}
	if err := hub.NotifyCluster(context.Background(), "acme", cd); err != nil {
		t.Fatalf("NotifyCluster: %v", err)
	}
	ev := readEvent(t, ws)
	if ev.Kind != "cluster" || ev.Cluster == nil || ev.Cluster.Cluster.ID != "c1" {
		t.Errorf("event = %+v, want cluster c1", ev)
	}
}

func TestNotify_NoConnectionsIsNotAnError(t *testing.T) {
	t.Parallel()

	hub := NewHub(log.Nop())
	if err := hub.Notify(context.Background(), "nobody", &delivery.Delivery{ID: "d1"}); err != nil {
		t.Errorf("Notify: %v", err)
	}
	if err := hub.Notify(context.Background(), "", &delivery.Delivery{ID: "d1"}); !errors.Is(err, delivery.ErrNoTarget) {
		t.Errorf("empty target err = %v, want ErrNoTarget", err)
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	t.Parallel()

	hub, srv := newServer(t)
	ws := dial(t, srv, "acme")
	waitConnected(t, hub, "acme", 1)

	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = ws.Close()
	waitConnected(t, hub, "acme", 0)
}

func TestClose_RefusesNewConnections(t *testing.T) {
	t.Parallel()

	hub, srv := newServer(t)
	ws := dial(t, srv, "acme")
	waitConnected(t, hub, "acme", 1)

	hub.Close()
	if hub.Connected("acme") != 0 {
		t.Errorf("Connected after Close = %d, want 0", hub.Connected("acme"))
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("expected the connection to be closed")
	}

	late := dial(t, srv, "acme")
	_ = late.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := late.ReadMessage(); err == nil {
		t.Error("expected a connection made after Close to be refused")
	}
}

func TestChannel(t *testing.T) {
	t.Parallel()

	if got := NewHub(nil).Channel(); got != priority.ChannelDashboard {
		t.Errorf("Channel() = %q", got)
	}
}
