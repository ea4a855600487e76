package ws

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"sushiclicker.com/internal/host"
	"sushiclicker.com/internal/persistence/store"
	"sushiclicker.com/internal/protocol"
)

func newTestServer(t *testing.T) string {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	quiet := log.New(io.Discard, "", 0)
	m, err := host.NewManager(host.Config{Store: fs, Locker: fs, Logger: quiet})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	srv := httptest.NewServer(NewServer(m, quiet).Handler())
	t.Cleanup(func() {
		srv.Close()
		m.CloseAll()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, slot string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      "test",
		Slot:            slot,
	}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("hello: %v", err)
	}
	return conn
}

func read(t *testing.T, conn *websocket.Conn) (protocol.BaseMessage, []byte) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return base, msg
}

func readAck(t *testing.T, conn *websocket.Conn) protocol.AckMsg {
	t.Helper()
	for {
		base, msg := read(t, conn)
		if base.Type != protocol.TypeAck {
			continue
		}
		var ack protocol.AckMsg
		if err := json.Unmarshal(msg, &ack); err != nil {
			t.Fatalf("ack: %v", err)
		}
		if err := protocol.Validate(protocol.TypeAck, msg); err != nil {
			t.Fatalf("ack schema: %v", err)
		}
		return ack
	}
}

func TestHandshakeThenCommands(t *testing.T) {
	url := newTestServer(t)
	conn := dial(t, url, "main")

	base, msg := read(t, conn)
	if base.Type != protocol.TypeWelcome {
		t.Fatalf("first message %s", base.Type)
	}
	var welcome protocol.WelcomeMsg
	if err := json.Unmarshal(msg, &welcome); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	if welcome.Slot != "main" || welcome.SessionID == "" {
		t.Fatalf("welcome=%+v", welcome)
	}
	for i := 0; i < 4; i++ {
		if base, _ := read(t, conn); base.Type != protocol.TypeCatalog {
			t.Fatalf("message %d: %s, want CATALOG", i, base.Type)
		}
	}
	if base, _ := read(t, conn); base.Type != protocol.TypeState {
		t.Fatalf("got %s, want STATE", base.Type)
	}

	click := protocol.CmdMsg{Type: protocol.TypeCmd, ProtocolVersion: protocol.Version, ReqID: "r1", Kind: protocol.CmdClick}
	if err := conn.WriteJSON(click); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ack := readAck(t, conn); !ack.Accepted || ack.AckFor != "r1" {
		t.Fatalf("ack=%+v", ack)
	}

	bad := map[string]any{"type": "CMD", "protocol_version": protocol.Version, "req_id": "r2", "kind": "BUY_STAFF"}
	if err := conn.WriteJSON(bad); err != nil {
		t.Fatalf("write: %v", err)
	}
	ack := readAck(t, conn)
	if ack.Accepted || ack.Code != protocol.ErrProtoBadRequest || ack.AckFor != "r2" {
		t.Fatalf("ack=%+v", ack)
	}
}

func TestSecondClientOnSlotIsRefused(t *testing.T) {
	url := newTestServer(t)
	first := dial(t, url, "main")
	if base, _ := read(t, first); base.Type != protocol.TypeWelcome {
		t.Fatalf("first client got %s", base.Type)
	}

	second := dial(t, url, "main")
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := second.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		t.Fatalf("expected close, got %v", err)
	}
	if ce.Code != websocket.ClosePolicyViolation || ce.Text != protocol.ErrSlotBusy {
		t.Fatalf("close=%d %q", ce.Code, ce.Text)
	}
}

func TestHelloRequired(t *testing.T) {
	url := newTestServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.WriteJSON(map[string]any{"type": "CMD"})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Text != "expected HELLO" {
		t.Fatalf("got %v", err)
	}
}
