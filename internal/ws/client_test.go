package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

func echoServer(t *testing.T, ctx context.Context, received chan<- map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept ws: %v", err)
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg map[string]any
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			select {
			case received <- msg:
			default:
			}
			if msg["op"] == "subscribe" {
				_ = conn.Write(ctx, websocket.MessageText, []byte(`{"topic":"tickers.BTCUSDT","data":{"markPrice":"50000"}}`))
			}
		}
	}))
}

func TestClientSendsConfiguredPing(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	received := make(chan map[string]any, 8)
	server := echoServer(t, ctx, received)
	defer server.Close()

	client := New(Options{
		URL:            "ws" + strings.TrimPrefix(server.URL, "http"),
		ReconnectDelay: 10 * time.Millisecond,
		PingInterval:   20 * time.Millisecond,
		PingMessage:    map[string]string{"op": "ping"},
	}, zap.NewNop())

	go func() {
		_ = client.Run(ctx, nil)
	}()

	for {
		select {
		case msg := <-received:
			if msg["op"] == "ping" {
				return
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for ping")
		}
	}
}

func TestClientReplaysSubscriptionAndDeliversFrames(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	received := make(chan map[string]any, 8)
	server := echoServer(t, ctx, received)
	defer server.Close()

	client := New(Options{URL: "ws" + strings.TrimPrefix(server.URL, "http")}, zap.NewNop())
	sub := map[string]any{"op": "subscribe", "args": []string{"tickers.BTCUSDT"}}
	if err := client.Subscribe(ctx, sub); err != nil {
		t.Fatalf("subscribe before connect: %v", err)
	}

	frames := make(chan json.RawMessage, 1)
	go func() {
		_ = client.Run(ctx, func(msg json.RawMessage) {
			select {
			case frames <- msg:
			default:
			}
		})
	}()

	select {
	case msg := <-frames:
		if !strings.Contains(string(msg), "tickers.BTCUSDT") {
			t.Fatalf("unexpected frame: %s", msg)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for ticker frame")
	}
}
