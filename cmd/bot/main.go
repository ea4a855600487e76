package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sushiclicker.com/internal/protocol"
)

func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name   = flag.String("name", "bot", "client name")
		slot   = flag.String("slot", "bot", "save slot")
		every  = flag.Duration("click_every", 250*time.Millisecond, "click interval")
		clicks = flag.Int("clicks", 4, "clicks per batch")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	b := &bot{conn: conn, log: logger}
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		Slot:            *slot,
	}
	if err := b.write(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.readLoop()
	}()

	t := time.NewTicker(*every)
	defer t.Stop()
	for {
		select {
		case <-stop:
			_ = b.cmd(protocol.CmdSave, "", 0)
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
			return
		case <-done:
			return
		case <-t.C:
			if err := b.cmd(protocol.CmdClick, "", *clicks); err != nil {
				logger.Printf("click: %v", err)
				return
			}
		}
	}
}

type bot struct {
	conn *websocket.Conn
	log  *log.Logger

	mu      sync.Mutex
	reqSeq  int
	pending string
}

func (b *bot) write(v any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn.WriteJSON(v)
}

func (b *bot) cmd(kind, id string, count int) error {
	b.mu.Lock()
	b.reqSeq++
	reqID := fmt.Sprintf("R%d", b.reqSeq)
	b.mu.Unlock()
	return b.write(protocol.CmdMsg{
		Type:            protocol.TypeCmd,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		Kind:            kind,
		ID:              id,
		Count:           count,
	})
}

func (b *bot) readLoop() {
	for {
		_, msg, err := b.conn.ReadMessage()
		if err != nil {
			b.log.Printf("read: %v", err)
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			b.log.Printf("WELCOME session=%s slot=%s tick_rate=%d", w.SessionID, w.Slot, w.Params.TickRateHz)
			if w.Offline != nil && w.Offline.Credited > 0 {
				b.log.Printf("offline: %.0fs away, credited %.2f", w.Offline.AwaySeconds, w.Offline.Credited)
			}
			if w.Warning != "" {
				b.log.Printf("warning: %s", w.Warning)
			}

		case protocol.TypeState:
			var st protocol.StateMsg
			if err := json.Unmarshal(msg, &st); err != nil {
				continue
			}
			for _, id := range st.NewAchievements {
				b.log.Printf("achievement %s", id)
			}
			b.mu.Lock()
			busy := b.pending != ""
			b.mu.Unlock()
			if busy {
				continue
			}
			if q, ok := pickPurchase(st.Available); ok {
				kind := protocol.CmdBuyUpgrade
				if q.Kind == "STAFF" {
					kind = protocol.CmdBuyStaff
				}
				b.mu.Lock()
				b.pending = q.ID
				b.mu.Unlock()
				if err := b.cmd(kind, q.ID, 0); err != nil {
					return
				}
			}

		case protocol.TypeAck:
			var a protocol.AckMsg
			if err := json.Unmarshal(msg, &a); err != nil {
				continue
			}
			if a.Fact != "" {
				b.log.Printf("%s", a.Fact)
			}
			if !a.Accepted && a.Code != "" && a.Code != "E_RATE_LIMIT" {
				b.log.Printf("rejected %s: %s %s", a.AckFor, a.Code, a.Message)
			}
			if a.Fact != "" || !a.Accepted {
				b.mu.Lock()
				b.pending = ""
				b.mu.Unlock()
			}
		}
	}
}

// pickPurchase returns the cheapest affordable quote. Staff wins a tie.
func pickPurchase(available []protocol.Quote) (protocol.Quote, bool) {
	var best protocol.Quote
	found := false
	for _, q := range available {
		if !q.Affordable || q.Capped || len(q.Missing) > 0 {
			continue
		}
		if !found || q.Cost < best.Cost || (q.Cost == best.Cost && q.Kind == "STAFF" && best.Kind != "STAFF") {
			best, found = q, true
		}
	}
	return best, found
}
