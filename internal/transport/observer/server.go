// Package observer serves read-only views of live sessions to local tools.
package observer

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"sushiclicker.com/internal/host"
	"sushiclicker.com/internal/protocol"
)

type Server struct {
	host *host.Manager
	log  *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(m *host.Manager, logger *log.Logger) *Server {
	return &Server{
		host: m,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// BootstrapResponse describes one slot as seen by the host.
type BootstrapResponse struct {
	ProtocolVersion string          `json:"protocol_version"`
	Slot            string          `json:"slot"`
	Live            bool            `json:"live"`
	SessionID       string          `json:"session_id,omitempty"`
	Client          string          `json:"client,omitempty"`
	State           json.RawMessage `json:"state,omitempty"`
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		slot := slotParam(r)
		resp := BootstrapResponse{ProtocolVersion: protocol.Version, Slot: slot}
		if sess, ok := s.host.Session(slot); ok {
			resp.Live = true
			resp.SessionID = sess.ID
			resp.Client = sess.Client
			resp.State = sess.LastState()
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

// WSHandler streams the STATE messages of the live session on ?slot= until
// either side closes. Anything the watcher sends is ignored.
func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		slot := slotParam(r)
		sess, ok := s.host.Session(slot)
		if !ok {
			http.Error(rw, "no live session on slot", http.StatusNotFound)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		states, stop := sess.Watch(16)
		defer stop()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case <-sess.Done():
					writeErr <- nil
					_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"), time.Now().Add(time.Second))
					return
				case b := <-states:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop only notices the close.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func slotParam(r *http.Request) string {
	slot := strings.TrimSpace(r.URL.Query().Get("slot"))
	if slot == "" {
		slot = host.DefaultSlot
	}
	return slot
}

func IsLoopbackRemote(remoteAddr string) bool {
	h := remoteAddr
	if hh, _, err := net.SplitHostPort(remoteAddr); err == nil {
		h = hh
	}
	h = strings.TrimPrefix(h, "[")
	h = strings.TrimSuffix(h, "]")
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
