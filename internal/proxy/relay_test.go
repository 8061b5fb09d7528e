package proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"agentgate/pkg/logger"
)

func TestRelayRewritesFramesAndCloseCodes(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	gotToken := make(chan string, 1)

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken <- r.URL.Query().Get("token")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("backend upgrade: %v", err)
			return
		}
		defer conn.Close()

		raw := `{"id":7,"error":{"message":"unauthorized: signer does not match gateway account"}}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Errorf("backend write: %v", err)
			return
		}
		// An unassigned close code that must never reach the client as-is.
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(2500, "backend bailed"), deadline)
	}))
	defer backend.Close()
	backendAddr := strings.TrimPrefix(backend.URL, "http://")

	edge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		relayWebSocket(w, r, backendAddr, "shared-secret", logger.Named("test"))
	}))
	defer edge.Close()

	wsURL := "ws" + strings.TrimPrefix(edge.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL+"/chat", nil)
	if err != nil {
		t.Fatalf("client dial: %v", err)
	}
	defer client.Close()

	if token := <-gotToken; token != "shared-secret" {
		t.Fatalf("backend dial carried token %q", token)
	}

	msgType, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Fatalf("unexpected message type %d", msgType)
	}
	if !strings.Contains(string(data), "/login") {
		t.Fatalf("error message not rewritten: %s", data)
	}

	_, _, err = client.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != websocket.CloseInternalServerErr {
		t.Fatalf("reserved close code leaked: got %d, want %d", closeErr.Code, websocket.CloseInternalServerErr)
	}
}
