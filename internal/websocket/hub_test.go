package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

const testSecret = "ws-secret"

func token(t *testing.T, role string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "u-" + role,
		"role":    role,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestHubBroadcastsToAdmins(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(HandleWebSocket(hub, testSecret))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + token(t, "admin")

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

	hub.BroadcastToRole("officer", map[string]string{"type": "ignored"})
	hub.BroadcastToRole("admin", map[string]string{"type": "route_plan.solved"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(msg), "route_plan.solved") {
		t.Fatalf("unexpected message %s", msg)
	}
}

func TestHandleWebSocketRejectsNonAdmins(t *testing.T) {
	hub := NewHub()
	handler := HandleWebSocket(hub, testSecret)

	cases := map[string]int{
		"":                  http.StatusUnauthorized,
		"garbage":           http.StatusUnauthorized,
		token(t, "officer"): http.StatusForbidden,
	}
	for tok, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/ws?token="+tok, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("token %q: expected %d, got %d", tok, want, rec.Code)
		}
	}
}

func TestStoppedHubDoesNotBlockClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	client := NewClient("u-admin", "admin", nil, hub)
	done := make(chan bool, 1)
	go func() {
		registered := hub.Register(client)
		hub.Unregister(client)
		done <- registered
	}()

	select {
	case registered := <-done:
		if registered {
			t.Fatal("a stopped hub should refuse new clients")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("register/unregister blocked after the hub stopped")
	}
}
