package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"oceandepths/internal/protocol"
)

// Server is the best-effort push channel. Clients subscribe per city; the
// REST surface remains the source of truth, so a dropped or unsent message
// is never compensated for.
type Server struct {
	log *log.Logger

	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{} // cityID -> connections
}

type subscriber struct {
	out chan []byte
}

func NewServer(logger *log.Logger) *Server {
	return &Server{
		log:  logger,
		subs: map[string]map[*subscriber]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Push fans a message out to every subscriber of the city. Slow consumers
// are skipped rather than waited on.
func (s *Server) Push(cityID string, msg protocol.PushMsg) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs[cityID] {
		select {
		case sub.out <- b:
		default:
		}
	}
}

// Subscribers reports the number of connected push subscribers.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, set := range s.subs {
		n += len(set)
	}
	return n
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		cityID, sub := s.handshake(conn)
		if sub == nil {
			return
		}
		defer s.unsubscribe(cityID, sub)

		done := make(chan struct{})

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-done:
					return
				case b, ok := <-sub.out:
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

		// Reader loop: the push channel carries no client commands beyond
		// HELLO, so this only detects disconnects.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				close(done)
				return
			}
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) (string, *subscriber) {
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		return "", nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil || hello.CityID == "" {
		return "", nil
	}

	sub := &subscriber{out: make(chan []byte, 64)}
	s.mu.Lock()
	if s.subs[hello.CityID] == nil {
		s.subs[hello.CityID] = map[*subscriber]struct{}{}
	}
	s.subs[hello.CityID][sub] = struct{}{}
	s.mu.Unlock()

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		CityID:          hello.CityID,
		ServerTime:      time.Now().UTC(),
	}
	if err := conn.WriteJSON(welcome); err != nil {
		s.unsubscribe(hello.CityID, sub)
		return "", nil
	}
	return hello.CityID, sub
}

func (s *Server) unsubscribe(cityID string, sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.subs[cityID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(s.subs, cityID)
		}
	}
}
