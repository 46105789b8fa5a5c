package hub

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
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	h := New(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.Register(w, r, "u1"); err != nil {
			t.Errorf("register: %v", err)
		}
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return ev
}

func TestRegister_SendsStateSnapshotFirst(t *testing.T) {
	h, srv := startHub(t)
	h.RoundStarted(7)
	h.RoundTick(7, 1.42)

	conn := dial(t, srv)
	ev := readEvent(t, conn)
	if ev.Type != EventRoundState {
		t.Fatalf("first event %q, want round.state", ev.Type)
	}
	var state StatePayload
	if err := json.Unmarshal(ev.Data, &state); err != nil {
		t.Fatal(err)
	}
	if state.RoundID != 7 || state.Phase != "running" || state.Multiplier != 1.42 {
		t.Fatalf("unexpected snapshot %+v", state)
	}
}

func TestBroadcast_PreservesOrder(t *testing.T) {
	h, srv := startHub(t)
	conn := dial(t, srv)
	if ev := readEvent(t, conn); ev.Type != EventRoundState {
		t.Fatalf("first event %q, want round.state", ev.Type)
	}

	h.RoundWaiting(3, 5)
	h.RoundStarted(3)
	h.RoundTick(3, 1.05)
	h.RoundCrashed(3, 1.88)
	h.RoundHistory([]float64{1.88})

	want := []EventType{EventRoundWaiting, EventRoundStarted, EventRoundTick, EventRoundCrashed, EventRoundHistory}
	for _, wt := range want {
		ev := readEvent(t, conn)
		if ev.Type != wt {
			t.Fatalf("got event %q, want %q", ev.Type, wt)
		}
	}
}

func TestBroadcast_TickPayload(t *testing.T) {
	h, srv := startHub(t)
	conn := dial(t, srv)
	readEvent(t, conn) // snapshot

	h.RoundTick(1, 2.31)
	ev := readEvent(t, conn)
	if ev.Type != EventRoundTick {
		t.Fatalf("event %q, want round.tick", ev.Type)
	}
	var tick TickPayload
	if err := json.Unmarshal(ev.Data, &tick); err != nil {
		t.Fatal(err)
	}
	if tick.Multiplier != 2.31 {
		t.Fatalf("multiplier %v, want 2.31", tick.Multiplier)
	}
}

func TestWagerCount_Broadcast(t *testing.T) {
	h, srv := startHub(t)
	conn := dial(t, srv)
	readEvent(t, conn) // snapshot

	h.WagerCount(1, 4)
	ev := readEvent(t, conn)
	if ev.Type != EventWagerCount {
		t.Fatalf("event %q, want wager.count", ev.Type)
	}
	var count WagerCountPayload
	if err := json.Unmarshal(ev.Data, &count); err != nil {
		t.Fatal(err)
	}
	if count.ActiveWagerCount != 4 {
		t.Fatalf("count %d, want 4", count.ActiveWagerCount)
	}
}

func TestDisconnect_DuringBroadcastChurn(t *testing.T) {
	h, srv := startHub(t)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				h.RoundTick(1, 1.0+float64(i%100)/100)
			}
		}
	}()

	// Clients that connect and slam the door while the broadcast storm
	// is running. The hub must survive every one of them.
	for i := 0; i < 30; i++ {
		url := "ws" + strings.TrimPrefix(srv.URL, "http")
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		conn.Close()
	}

	// A fresh client still gets served while the storm runs: snapshot
	// first, then live broadcasts with no gap in between.
	conn := dial(t, srv)
	if ev := readEvent(t, conn); ev.Type != EventRoundState {
		t.Fatalf("first event %q, want round.state", ev.Type)
	}
	if ev := readEvent(t, conn); ev.Type != EventRoundTick {
		t.Fatalf("second event %q, want round.tick", ev.Type)
	}

	close(stop)
	wg.Wait()
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.SessionCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sessions not drained, count=%d", h.SessionCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFanOut_DropsSlowConsumer(t *testing.T) {
	h := New(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)

	// Plain upgrade endpoint: the hub side never registers, we only need
	// a live conn for the session under test.
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader.Upgrade(w, r, nil)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// A session whose pumps never run: the connect snapshot fills its
	// one-slot send buffer immediately.
	s := &Session{ID: "slow", UserID: "u-slow", conn: conn, send: make(chan []byte, 1), hub: h}
	h.registerCh <- s

	deadline := time.Now().Add(2 * time.Second)
	for h.SessionCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("session not registered, count=%d", h.SessionCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The buffer is full, so this broadcast cannot be queued and must
	// evict the session instead of blocking or panicking.
	h.RoundTick(1, 1.11)

	deadline = time.Now().Add(2 * time.Second)
	for h.SessionCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("slow session not dropped, count=%d", h.SessionCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, open := <-s.send; !open {
		t.Fatal("expected the buffered snapshot before close")
	}
	if _, open := <-s.send; open {
		t.Fatal("send channel still open after drop")
	}
}

func TestDisconnect_RemovesSession(t *testing.T) {
	h, srv := startHub(t)
	conn := dial(t, srv)
	readEvent(t, conn) // snapshot

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for h.SessionCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session still registered after disconnect, count=%d", h.SessionCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
