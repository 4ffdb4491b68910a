package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func TestHub_BroadcastReachesClient(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()
	defer hub.Stop()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Broadcast(Event{Type: EventReviewCreated, ItemID: 9, StudentID: 3})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Event
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != EventReviewCreated || got.ItemID != 9 || got.StudentID != 3 {
		t.Errorf("unexpected event %+v", got)
	}
	if got.Timestamp == 0 {
		t.Error("timestamp should be filled in")
	}
}

func TestHub_TypeFilter(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()
	defer hub.Stop()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?types=" + EventUnrecognizedCreated
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Broadcast(Event{Type: EventAttendanceMarked, StudentID: 1})
	hub.Broadcast(Event{Type: EventUnrecognizedCreated, ItemID: 4})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Event
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != EventUnrecognizedCreated || got.ItemID != 4 {
		t.Errorf("filtered client received %+v", got)
	}
}

func TestParseTypes(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/ws?types=review.created,%20gallery.updated,,", nil)
	got := parseTypes(r)
	if len(got) != 2 || !got[EventReviewCreated] || !got[EventGalleryUpdated] {
		t.Errorf("parseTypes = %v", got)
	}
	if parseTypes(httptest.NewRequest(http.MethodGet, "/api/ws", nil)) != nil {
		t.Error("no filter should mean every event")
	}
}
