package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"courier.ai/internal/arena"
	"courier.ai/internal/protocol"
)

// Server exposes an arena over websocket using the game frame format.
type Server struct {
	world *arena.World
	log   *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(w *arena.World, logger *log.Logger) *Server {
	s := &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// The local arena does not authenticate; the token only names the agent.
		name := strings.TrimSpace(r.URL.Query().Get("name"))
		if name == "" {
			name = strings.TrimSpace(r.Header.Get("x-token"))
		}

		out := make(chan []byte, 256)
		respCh := make(chan arena.JoinResponse, 1)
		s.world.Join() <- arena.JoinRequest{Name: name, Out: out, Resp: respCh}
		resp := <-respCh
		if resp.Err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, resp.Err.Error()), time.Now().Add(time.Second))
			return
		}
		agentID := resp.AgentID
		if s.log != nil {
			s.log.Printf("join agent=%s name=%s", agentID, name)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
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
			if err != nil {
				continue
			}
			env := arena.Envelope{AgentID: agentID}
			switch base.Type {
			case protocol.TypeMove, protocol.TypePickup, protocol.TypePutdown:
				var req protocol.ActionReq
				if err := json.Unmarshal(msg, &req); err != nil {
					continue
				}
				env.Action = &req
			case protocol.TypeSay, protocol.TypeShout:
				var req protocol.SayReq
				if err := json.Unmarshal(msg, &req); err != nil || !json.Valid(req.Msg) {
					continue
				}
				env.Chat = &req
			default:
				continue
			}
			s.world.Inbox() <- env
		}

		// Cleanup.
		s.world.Leave() <- agentID
	}
}
