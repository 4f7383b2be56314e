package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BioHazard786/warpcall/internal/config"
	"github.com/BioHazard786/warpcall/internal/docstore"
	"github.com/BioHazard786/warpcall/internal/signaling"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func newServer(t *testing.T, rate float64, burst int) (*httptest.Server, *docstore.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := docstore.NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	cfg := &config.Config{ServerMode: gin.TestMode, RateLimit: rate, RateBurst: burst}
	srv := httptest.NewServer(NewRouter(cfg, hub, zerolog.Nop()))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, hub
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, srv *httptest.Server) *signaling.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := signaling.NewClient(wsURL(srv), zerolog.Nop())
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestHealth(t *testing.T) {
	srv, _ := newServer(t, 100, 100)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %s", resp.Status)
	}
}

func TestRoomsAPI(t *testing.T) {
	srv, hub := newServer(t, 100, 100)
	ctx := context.Background()

	resp, err := http.Get(srv.URL + "/api/rooms/ABC1")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing room status = %s", resp.Status)
	}

	if err := hub.Set(ctx, "ABC1", signaling.Fields{"participantCount": 1, "sdpOffer": "v=0"}); err != nil {
		t.Fatal(err)
	}

	resp, err = http.Get(srv.URL + "/api/rooms/ABC1")
	if err != nil {
		t.Fatal(err)
	}
	var doc signaling.Document
	err = json.NewDecoder(resp.Body).Decode(&doc)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if doc.RoomID != "ABC1" || doc.Version != 1 || doc.Fields["sdpOffer"] != "v=0" {
		t.Fatalf("doc = %+v", doc)
	}

	resp, err = http.Get(srv.URL + "/api/rooms")
	if err != nil {
		t.Fatal(err)
	}
	var list struct {
		Rooms []signaling.Document `json:"rooms"`
	}
	err = json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Rooms) != 1 || list.Rooms[0].RoomID != "ABC1" {
		t.Fatalf("rooms = %+v", list.Rooms)
	}
}

func TestClientRoundTrip(t *testing.T) {
	srv, _ := newServer(t, 100, 100)
	a := dial(t, srv)
	b := dial(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := a.Get(ctx, "ABC1"); !errors.Is(err, signaling.ErrNotFound) {
		t.Fatalf("Get of missing room = %v", err)
	}

	sub, err := b.Subscribe(ctx, "ABC1")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	if err := a.CompareAndSwap(ctx, "ABC1", 0, signaling.Fields{"participantCount": int64(1)}); err != nil {
		t.Fatal(err)
	}
	if err := a.CompareAndSwap(ctx, "ABC1", 0, signaling.Fields{"participantCount": int64(1)}); !errors.Is(err, signaling.ErrVersionConflict) {
		t.Fatalf("second create = %v", err)
	}
	candidates := []any{map[string]any{"candidate": "c1", "sdpMid": "0", "sdpMLineIndex": int64(0)}}
	if err := a.Merge(ctx, "ABC1", signaling.Fields{"iceOffer": candidates}); err != nil {
		t.Fatal(err)
	}

	var doc *signaling.Document
	deadline := time.After(5 * time.Second)
	for doc == nil || doc.Version < 2 {
		select {
		case d, ok := <-sub.Updates():
			if !ok {
				t.Fatal("subscription closed")
			}
			doc = d
		case <-deadline:
			t.Fatal("snapshot never arrived")
		}
	}
	if n, ok := signaling.Int(doc.Fields["participantCount"]); !ok || n != 1 {
		t.Fatalf("participantCount = %#v", doc.Fields["participantCount"])
	}
	list, ok := doc.Fields["iceOffer"].([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("iceOffer = %#v", doc.Fields["iceOffer"])
	}

	got, err := b.Get(ctx, "ABC1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 2 {
		t.Fatalf("version = %d", got.Version)
	}
	if err := b.CompareAndSwap(ctx, "ABC1", 2, signaling.Fields{"iceOffer": nil}); err != nil {
		t.Fatal(err)
	}
	got, _ = b.Get(ctx, "ABC1")
	if _, ok := got.Fields["iceOffer"]; ok {
		t.Fatal("clear did not delete iceOffer")
	}
}

func TestClientClosed(t *testing.T) {
	srv, _ := newServer(t, 100, 100)
	c := dial(t, srv)
	c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Merge(ctx, "ABC1", signaling.Fields{"x": 1}); !errors.Is(err, signaling.ErrUnavailable) {
		t.Fatalf("Merge after Close = %v", err)
	}
}

func TestRateLimitClosesConnection(t *testing.T) {
	srv, _ := newServer(t, 0.001, 2)
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	frame, err := signaling.EncodeFrame(&signaling.Frame{Type: signaling.FrameTypeGet, ID: "1", RoomID: "ABC1"})
	if err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if err := ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			break
		}
	}

	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
			t.Fatalf("read error = %v, want policy violation close", err)
		}
		return
	}
}

func TestBadFrame(t *testing.T) {
	srv, _ := newServer(t, 100, 100)
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	if err := ws.WriteMessage(websocket.BinaryMessage, []byte{0xc1}); err != nil {
		t.Fatal(err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	f, err := signaling.DecodeFrame(data)
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != signaling.FrameTypeError || f.Code != signaling.CodeBadRequest {
		t.Fatalf("reply = %+v", f)
	}
}
