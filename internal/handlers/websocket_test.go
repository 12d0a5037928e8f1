package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/video-chat-relay/config"
	"github.com/mossy-p/video-chat-relay/internal/room"
	"github.com/pion/webrtc/v4"
)

const testJWTSecret = "handlers-test-secret"

func newTestServer(t *testing.T) (*httptest.Server, *room.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := room.NewHub(room.NewMemoryStore(), time.Minute)
	cfg := &config.Config{
		AllowedOrigins: []string{"http://allowed.example"},
		JWTSecret:      testJWTSecret,
		ICEServers:     []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}},
	}
	ts := httptest.NewServer(NewRouter(cfg, hub))
	t.Cleanup(ts.Close)
	return ts, hub
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func expect(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("invalid json %s: %v", raw, err)
	}
	return m
}

func expectNothing(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, raw, err := conn.ReadMessage(); err == nil {
		t.Fatalf("unexpected message %s", raw)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSignaling_Scenario(t *testing.T) {
	ts, hub := newTestServer(t)

	a := dial(t, ts, "/abc")
	send(t, a, `{"type":"joined"}`)
	ready := expect(t, a)
	if ready["type"] != "ready" || ready["ready"] != true {
		t.Fatalf("A ready = %#v", ready)
	}
	idA := ready["id"].(string)

	b := dial(t, ts, "/abc")
	send(t, b, `{"type":"joined"}`)
	readyB := expect(t, b)
	idB := readyB["id"].(string)
	if idA == idB {
		t.Fatal("identities must differ")
	}

	if got := expect(t, a); !reflect.DeepEqual(got, map[string]any{"type": "joined", "id": idB}) {
		t.Fatalf("A got %#v", got)
	}

	send(t, b, `{"type":"offer","data":{"type":"offer","sdp":"v=0"}}`)
	want := map[string]any{"type": "offer", "data": map[string]any{"type": "offer", "sdp": "v=0"}, "id": idB}
	if got := expect(t, a); !reflect.DeepEqual(got, want) {
		t.Fatalf("A got %#v", got)
	}

	send(t, a, `{"type":"answer","data":{"type":"answer","sdp":"v=0"}}`)
	want = map[string]any{"type": "answer", "data": map[string]any{"type": "answer", "sdp": "v=0"}, "id": idA}
	if got := expect(t, b); !reflect.DeepEqual(got, want) {
		t.Fatalf("B got %#v", got)
	}

	b.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	b.Close()
	if got := expect(t, a); !reflect.DeepEqual(got, map[string]any{"type": "left", "id": idB}) {
		t.Fatalf("A got %#v", got)
	}

	r, ok := hub.Lookup("abc")
	if !ok {
		t.Fatal("room not resident")
	}
	waitFor(t, func() bool { return r.Info().Members == 1 })
}

func TestSignaling_SilentPreJoinLeave(t *testing.T) {
	ts, hub := newTestServer(t)

	a := dial(t, ts, "/quiet")
	send(t, a, `{"type":"joined"}`)
	expect(t, a)

	b := dial(t, ts, "/quiet")
	r, _ := hub.Lookup("quiet")
	waitFor(t, func() bool { return r.Info().Members == 2 })
	b.Close()
	waitFor(t, func() bool { return r.Info().Members == 1 })

	expectNothing(t, a)
}

func TestSignaling_NestedRoomPath(t *testing.T) {
	ts, hub := newTestServer(t)

	a := dial(t, ts, "/team/standup/")
	send(t, a, `{"type":"joined"}`)
	expect(t, a)

	if _, ok := hub.Lookup("team/standup"); !ok {
		t.Fatalf("rooms = %#v", hub.Rooms())
	}
}

func TestDispatch_RequiresUpgrade(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestDispatch_RequiresRoomID(t *testing.T) {
	ts, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("resp = %#v", resp)
	}
}

func TestDispatch_RejectsForeignOrigin(t *testing.T) {
	ts, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/abc"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp = %#v", resp)
	}

	header = http.Header{"Origin": []string{"http://allowed.example"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	conn.Close()
}

func TestClient_SendAfterClose(t *testing.T) {
	c := &Client{handle: room.NewHandle(), send: make(chan []byte, 1)}

	if err := c.Send([]byte("a")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := c.Send([]byte("b")); err != room.ErrSendBufferFull {
		t.Fatalf("expected ErrSendBufferFull, got %v", err)
	}
	c.Close()
	c.Close()
	if err := c.Send([]byte("c")); err == nil {
		t.Fatal("expected error after close")
	}
}

func TestEvictClosesWebsockets(t *testing.T) {
	ts, hub := newTestServer(t)

	a := dial(t, ts, "/evict")
	send(t, a, `{"type":"joined"}`)
	expect(t, a)

	if !hub.Evict(context.Background(), "evict") {
		t.Fatal("Evict returned false")
	}

	a.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := a.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}

func TestEvictWithFramesInFlight(t *testing.T) {
	ts, hub := newTestServer(t)

	for i := 0; i < 20; i++ {
		roomID := fmt.Sprintf("busy-%d", i)
		a := dial(t, ts, "/"+roomID)
		send(t, a, `{"type":"joined"}`)
		expect(t, a)

		stop := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			frame := []byte(`{"type":"candidate","data":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host"}}`)
			for {
				select {
				case <-stop:
					return
				default:
				}
				if err := a.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}
		}()

		time.Sleep(5 * time.Millisecond)
		if !hub.Evict(context.Background(), roomID) {
			t.Fatalf("Evict(%s) returned false", roomID)
		}
		time.Sleep(5 * time.Millisecond)
		close(stop)
		<-done
	}

	// The server survived every eviction and still serves rooms.
	b := dial(t, ts, "/after-evictions")
	send(t, b, `{"type":"joined"}`)
	if got := expect(t, b); got["type"] != "ready" {
		t.Fatalf("got %#v", got)
	}
}

func TestSignaling_RelaysClientValuesUnchanged(t *testing.T) {
	ts, _ := newTestServer(t)

	a := dial(t, ts, "/opaque")
	send(t, a, `{"type":"joined"}`)
	expect(t, a)

	b := dial(t, ts, "/opaque")
	send(t, b, `{"type":"joined"}`)
	idB := expect(t, b)["id"].(string)
	expect(t, a)

	send(t, b, `{"type":"joined","ready":false,"nonce":7}`)
	want := map[string]any{"type": "joined", "ready": false, "nonce": float64(7), "id": idB}
	if got := expect(t, a); !reflect.DeepEqual(got, want) {
		t.Fatalf("A got %#v", got)
	}

	send(t, b, `{"type":5,"data":[1,"x"]}`)
	want = map[string]any{"type": float64(5), "data": []any{float64(1), "x"}, "id": idB}
	if got := expect(t, a); !reflect.DeepEqual(got, want) {
		t.Fatalf("A got %#v", got)
	}
}

func TestSignaling_RoomNamedLikeEndpoint(t *testing.T) {
	ts, hub := newTestServer(t)

	for _, path := range []string{"/health", "/turn.json", "/api/rooms"} {
		conn := dial(t, ts, path)
		send(t, conn, `{"type":"joined"}`)
		if got := expect(t, conn); got["type"] != "ready" {
			t.Fatalf("%s: got %#v", path, got)
		}
		if _, ok := hub.Lookup(strings.Trim(path, "/")); !ok {
			t.Fatalf("%s: room not resident", path)
		}
	}

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
}
