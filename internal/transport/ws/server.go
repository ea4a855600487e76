package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
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
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		defer sess.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-sess.Done():
					cancel()
					return
				case b := <-sess.Out():
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeCmd {
				sess.Reject("", protocol.ErrProtoBadRequest, "expected CMD")
				continue
			}
			var cmd protocol.CmdMsg
			if err := json.Unmarshal(msg, &cmd); err != nil {
				sess.Reject("", protocol.ErrProtoBadRequest, err.Error())
				continue
			}
			if err := protocol.Validate(protocol.TypeCmd, msg); err != nil {
				sess.Reject(cmd.ReqID, protocol.ErrProtoBadRequest, err.Error())
				continue
			}
			if cmd.ProtocolVersion != protocol.Version {
				sess.Reject(cmd.ReqID, protocol.ErrProtoBadRequest, "bad protocol_version")
				continue
			}
			_ = sess.Submit(cmd)
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) *host.Session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return nil
	}
	if err := protocol.Validate(protocol.TypeHello, msg); err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, protocol.ErrProtoBadRequest)
		return nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return nil
	}
	if hello.ClientName == "" {
		hello.ClientName = "client"
	}

	sess, join, err := s.host.Open(context.Background(), hello)
	if err != nil {
		code := protocol.CodeFor(err)
		s.log.Printf("join slot=%q refused: %s: %v", hello.Slot, code, err)
		closeWith(conn, websocket.ClosePolicyViolation, code)
		return nil
	}

	// Send welcome + catalogs before any queued STATE.
	if err := writeJSON(conn, join.Welcome); err != nil {
		sess.Close()
		return nil
	}
	for _, c := range join.Catalogs {
		if err := writeJSON(conn, c); err != nil {
			sess.Close()
			return nil
		}
	}
	return sess
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
