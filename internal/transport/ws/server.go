// Package ws exposes the streamer to viewers over websocket: a HELLO/WELCOME
// handshake, VIEW position updates in, chunk events out.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chunkstream.dev/internal/chunk"
	"chunkstream.dev/internal/protocol"
	"chunkstream.dev/internal/stream"
)

const sessionQueue = 256

type Server struct {
	streamer *stream.Streamer
	params   protocol.WorldParams
	log      *log.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]chan []byte
}

func NewServer(st *stream.Streamer, params protocol.WorldParams, logger *log.Logger) *Server {
	return &Server{
		streamer: st,
		params:   params,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		sessions: map[string]chan []byte{},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		viewerID, out := s.handshake(conn)
		if viewerID == "" {
			return
		}

		s.mu.Lock()
		s.sessions[viewerID] = out
		s.mu.Unlock()

		done := make(chan struct{})

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-done:
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
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
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			if base.Type != protocol.TypeView {
				continue
			}
			var view protocol.ViewMsg
			if err := json.Unmarshal(msg, &view); err != nil {
				continue
			}
			if view.ProtocolVersion != protocol.Version {
				continue
			}
			s.streamer.SetView(viewerID, stream.Pos{X: view.Pos[0], Y: view.Pos[1], Z: view.Pos[2]})
		}

		// Cleanup.
		close(done)
		s.mu.Lock()
		delete(s.sessions, viewerID)
		s.mu.Unlock()
		s.streamer.RemoveView(viewerID)
	}
}

func (s *Server) handshake(conn *websocket.Conn) (viewerID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}

	viewerID = uuid.NewString()
	out = make(chan []byte, sessionQueue)

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ViewerID:        viewerID,
		WorldParams:     s.params,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", nil
	}
	s.log.Printf("viewer %s connected (%s)", viewerID, hello.ViewerName)
	return viewerID, out
}

// Broadcast queues a message on every session, dropping per-session when a
// slow client's queue is full.
func (s *Server) Broadcast(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, out := range s.sessions {
		select {
		case out <- b:
		default:
		}
	}
}

// Handlers returns streamer handlers that fan chunk events out to all
// connected viewers. Register them on the streamer at construction.
func (s *Server) Handlers() stream.Handlers {
	return stream.Handlers{
		ChunkLoaded: func(c chunk.Coord, p chunk.Payload) {
			s.broadcastEvent(protocol.ChunkEventMsg{
				Type:  protocol.TypeChunkEvent,
				Event: "loaded",
				Coord: [3]int{c.X, c.Y, c.Z},
				Size:  len(p.Data),
			})
		},
		ChunkUnloaded: func(c chunk.Coord) {
			s.broadcastEvent(protocol.ChunkEventMsg{
				Type:  protocol.TypeChunkEvent,
				Event: "unloaded",
				Coord: [3]int{c.X, c.Y, c.Z},
			})
		},
		ChunkSaved: func(c chunk.Coord, ok bool) {
			s.broadcastEvent(protocol.ChunkEventMsg{
				Type:  protocol.TypeChunkEvent,
				Event: "saved",
				Coord: [3]int{c.X, c.Y, c.Z},
				OK:    &ok,
			})
		},
		Error: func(msg string) {
			s.log.Printf("stream error: %s", msg)
		},
	}
}

func (s *Server) broadcastEvent(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.Broadcast(b)
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
