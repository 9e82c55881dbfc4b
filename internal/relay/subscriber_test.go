package relay

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	msg, ok := ParseMessage(data)
	if !ok {
		t.Fatalf("Invalid message %s", data)
	}
	return msg
}

func waitSubscribers(t *testing.T, s *State, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Subscribers() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d subscribers, got %d", n, s.Subscribers())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocketReplay(t *testing.T) {
	s := NewState(Options{Logger: testLogger()})
	srv := httptest.NewServer(s)
	defer srv.Close()
	defer s.Close()

	_ = s.Publish("data:image/jpeg;base64,LATEST")

	conn := dial(t, srv)
	defer conn.Close()

	if msg := readMessage(t, conn); msg.Type != TypeHello || msg.Message != "connected" {
		t.Errorf("Expected hello, got %+v", msg)
	}
	if msg := readMessage(t, conn); msg.Type != TypeFrame || msg.Image != "data:image/jpeg;base64,LATEST" {
		t.Errorf("Expected replayed frame, got %+v", msg)
	}
}

func TestWebSocketLiveFrameAndPing(t *testing.T) {
	s := NewState(Options{Logger: testLogger()})
	srv := httptest.NewServer(s)
	defer srv.Close()
	defer s.Close()

	conn := dial(t, srv)
	defer conn.Close()
	if msg := readMessage(t, conn); msg.Type != TypeHello {
		t.Fatalf("Expected hello, got %+v", msg)
	}
	waitSubscribers(t, s, 1)

	_ = s.Publish("live")
	if msg := readMessage(t, conn); msg.Type != TypeFrame || msg.Image != "live" {
		t.Errorf("Expected live frame, got %+v", msg)
	}

	// Malformed input is ignored and the connection stays usable.
	_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"unknown"}`))

	before := time.Now().UnixMilli()
	_ = conn.WriteJSON(Message{Type: TypePing})
	msg := readMessage(t, conn)
	if msg.Type != TypePong {
		t.Fatalf("Expected pong, got %+v", msg)
	}
	if msg.TS < before || msg.TS > time.Now().UnixMilli() {
		t.Errorf("Expected server timestamp near now, got %d", msg.TS)
	}
}

func TestWebSocketDisconnectRemovesSubscriber(t *testing.T) {
	s := NewState(Options{Logger: testLogger()})
	srv := httptest.NewServer(s)
	defer srv.Close()
	defer s.Close()

	a := dial(t, srv)
	b := dial(t, srv)
	defer b.Close()
	readMessage(t, a)
	readMessage(t, b)
	waitSubscribers(t, s, 2)

	_ = a.Close()
	waitSubscribers(t, s, 1)

	_ = s.Publish("after")
	if msg := readMessage(t, b); msg.Image != "after" {
		t.Errorf("Expected remaining subscriber to get the frame, got %+v", msg)
	}
}

func TestWebSocketCloseState(t *testing.T) {
	s := NewState(Options{Logger: testLogger()})
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	readMessage(t, conn)
	waitSubscribers(t, s, 1)

	_ = s.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("Expected normal close, got %v", err)
	}
}

func TestParseMessage(t *testing.T) {
	tests := []struct {
		in     string
		ok     bool
		wantTy string
	}{
		{`{"type":"ping"}`, true, TypePing},
		{`{"type":"frame","image":"x"}`, true, TypeFrame},
		{`garbage`, false, ""},
		{``, false, ""},
	}
	for _, tt := range tests {
		msg, ok := ParseMessage([]byte(tt.in))
		if ok != tt.ok || msg.Type != tt.wantTy {
			t.Errorf("ParseMessage(%q) = %+v, %v", tt.in, msg, ok)
		}
	}
}

func TestMessageWireFormat(t *testing.T) {
	if got := string(HelloMessage()); got != `{"type":"hello","message":"connected"}` {
		t.Errorf("Unexpected hello %s", got)
	}
	if got := string(FrameMessage("data:x")); got != `{"type":"frame","image":"data:x"}` {
		t.Errorf("Unexpected frame %s", got)
	}
	if got := string(PongMessage(time.UnixMilli(1700000000123))); got != `{"type":"pong","ts":1700000000123}` {
		t.Errorf("Unexpected pong %s", got)
	}
}

func TestWatchReceivesHelloFramePong(t *testing.T) {
	s := NewState(Options{Logger: testLogger()})
	srv := httptest.NewServer(s)
	defer srv.Close()
	defer s.Close()

	_ = s.Publish("data:image/jpeg;base64,QUJD")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	got := make(chan Message, 8)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, WatchOptions{
			URL:       "ws" + strings.TrimPrefix(srv.URL, "http"),
			OnMessage: func(m Message) { got <- m },
			Logger:    testLogger(),
		})
	}()

	want := []string{TypeHello, TypeFrame, TypePong}
	for _, ty := range want {
		select {
		case m := <-got:
			if m.Type != ty {
				t.Fatalf("Expected %s, got %+v", ty, m)
			}
		case <-ctx.Done():
			t.Fatalf("Timed out waiting for %s", ty)
		}
	}

	// Closing the relay ends the watch without an error.
	_ = s.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean exit, got %v", err)
		}
	case <-ctx.Done():
		t.Fatal("Watch did not return after relay close")
	}
}

func TestDecodeDataURL(t *testing.T) {
	tests := []struct {
		in       string
		wantType string
		wantData string
		wantErr  bool
	}{
		{"data:image/jpeg;base64,QUJD", "image/jpeg", "ABC", false},
		{"data:image/png;base64,", "image/png", "", false},
		{"image/jpeg;base64,QUJD", "", "", true},
		{"data:image/jpeg,QUJD", "", "", true},
		{"data:image/jpeg;base64", "", "", true},
		{"data:image/jpeg;base64,!!!", "", "", true},
	}
	for _, tt := range tests {
		mediaType, data, err := DecodeDataURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("DecodeDataURL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if mediaType != tt.wantType || string(data) != tt.wantData {
			t.Errorf("DecodeDataURL(%q) = %q, %q", tt.in, mediaType, data)
		}
	}
}

func TestSubscriberFullQueueKeepsNewestFrame(t *testing.T) {
	s := NewState(Options{Logger: testLogger()})
	sub := newSubscriber(nil, 2, time.Second, testLogger())
	if err := s.Join(sub, "test"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	for _, image := range []string{"data:a", "data:b", "data:c"} {
		if err := s.Publish(image); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	var queued []string
	for len(sub.send) > 0 {
		queued = append(queued, string(<-sub.send))
	}
	want := []string{string(FrameMessage("data:b")), string(FrameMessage("data:c"))}
	if strings.Join(queued, "|") != strings.Join(want, "|") {
		t.Errorf("Expected queue %v, got %v", want, queued)
	}
	if st := s.Stats(); st.Dropped != 2 {
		t.Errorf("Expected 2 dropped messages, got %d", st.Dropped)
	}
}

func TestSubscriberSendAfterClose(t *testing.T) {
	sub := newSubscriber(nil, 1, time.Second, testLogger())
	_ = sub.Close()
	if sub.Send(HelloMessage()) {
		t.Error("Expected Send on a closed subscriber to report false")
	}
	if len(sub.send) != 0 {
		t.Errorf("Expected nothing queued, got %d", len(sub.send))
	}
}
