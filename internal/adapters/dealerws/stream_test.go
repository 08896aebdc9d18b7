package dealerws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"propintel/internal/domain"
)

func TestParseFrame(t *testing.T) {
	cases := []struct {
		name string
		data string
		ok   bool
	}{
		{"valid", `{"type":"dealer_reply","id":"r-1","from":"dealer@corp.example","body":"yes"}`, true},
		{"data alias", `{"type":"dealer_reply","id":"r-2","data":"aliased body"}`, true},
		{"wrong type", `{"type":"heartbeat"}`, false},
		{"not json", `{{{`, false},
		{"empty", ``, false},
	}
	for _, c := range cases {
		reply, ok := parseFrame([]byte(c.data))
		if ok != c.ok {
			t.Errorf("%s: ok=%v, want %v", c.name, ok, c.ok)
			continue
		}
		if !ok {
			continue
		}
		if reply.Status != domain.EmailSent {
			t.Errorf("%s: status %q", c.name, reply.Status)
		}
		if reply.Body == "" {
			t.Errorf("%s: body not populated", c.name)
		}
	}
}

func TestParseFrame_Timestamp(t *testing.T) {
	reply, ok := parseFrame([]byte(`{"type":"dealer_reply","id":"r-3","body":"x","timestamp":"2026-08-28T09:15:00Z"}`))
	if !ok {
		t.Fatal("frame rejected")
	}
	want := time.Date(2026, 8, 28, 9, 15, 0, 0, time.UTC)
	if !reply.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v", reply.Timestamp)
	}
}

func TestWSURL(t *testing.T) {
	cases := map[string]string{
		"http://backend:8000":   "ws://backend:8000",
		"https://backend.test/": "wss://backend.test",
		"backend:8000":          "ws://backend:8000",
	}
	for in, want := range cases {
		if got := wsURL(in); got != want {
			t.Errorf("wsURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSubscriber_DeliversAndSurvivesGarbage(t *testing.T) {
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != replyPath {
			http.NotFound(w, r)
			return
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		frames := []string{
			`not even json`,
			`{"type":"heartbeat"}`,
			`{"type":"dealer_reply","id":"r-1","from":"dealer@corp.example","body":"first"}`,
			`{"type":"dealer_reply","id":"r-2","data":"second via alias"}`,
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	got := make(chan domain.EmailLog, 4)
	sub := New(srv.URL, func(l domain.EmailLog) { got <- l })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sub.Run(ctx)
		close(done)
	}()

	var replies []domain.EmailLog
	timeout := time.After(5 * time.Second)
	for len(replies) < 2 {
		select {
		case l := <-got:
			replies = append(replies, l)
		case <-timeout:
			t.Fatalf("only %d replies delivered", len(replies))
		}
	}
	if replies[0].ID != "r-1" || replies[0].Body != "first" {
		t.Fatalf("first reply: %+v", replies[0])
	}
	if replies[1].ID != "r-2" || replies[1].Body != "second via alias" {
		t.Fatalf("alias reply: %+v", replies[1])
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSubscriber_ReconnectsAfterDrop(t *testing.T) {
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conns := make(chan struct{}, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- struct{}{}
		// slam the connection shut; the subscriber should come back
		conn.Close()
	}))
	defer srv.Close()

	sub := New(srv.URL, func(domain.EmailLog) {})
	sub.backoff = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	for i := 0; i < 2; i++ {
		select {
		case <-conns:
		case <-time.After(5 * time.Second):
			t.Fatalf("connection %d never arrived", i+1)
		}
	}
}
