// Copyright 2024 The Votechain Authors
// This file is part of the Votechain library.
//
// The Votechain library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The Votechain library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the Votechain library. If not, see <http://www.gnu.org/licenses/>.

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/probeum/votechain/internal/xlog"
)

// Server exposes a Reader's view of a running peer over HTTP
// (GET /chain, /tally, /peers, /state) and a push websocket feed
// (GET /feed) that emits a FeedSnapshot whenever it is polled from the
// underlying peer.
type Server struct {
	reader       Reader
	log          *xlog.Logger
	pushInterval time.Duration
	httpServer   *http.Server

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// FeedSnapshot is the JSON payload pushed to every /feed subscriber.
type FeedSnapshot struct {
	Chain []BlockView    `json:"chain"`
	Tally map[string]int `json:"tally"`
	Peers []string       `json:"peers"`
	State string         `json:"state"`
}

// New builds a Server bound to addr (e.g. ":19000") that renders
// reader's state. The server does not start listening until
// ListenAndServe is called.
func New(addr string, reader Reader) *Server {
	s := &Server{
		reader:       reader,
		log:          xlog.With("api"),
		pushInterval: time.Second,
		clients:      make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	router := httprouter.New()
	router.GET("/chain", s.handleChain)
	router.GET("/tally", s.handleTally)
	router.GET("/peers", s.handlePeers)
	router.GET("/state", s.handleState)
	router.GET("/feed", s.handleFeed)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}).Handler(router)

	s.httpServer = &http.Server{Addr: addr, Handler: handler}
	return s
}

// ListenAndServe starts the HTTP server and the websocket push loop.
// It blocks until the server stops, mirroring net/http.Server's own
// contract; callers typically run it in its own goroutine.
func (s *Server) ListenAndServe(ctx context.Context) error {
	go s.pushLoop(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("http shutdown error", "err", err)
		}
	}()
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleChain(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, toBlockViews(s.reader.ChainSnapshot()))
}

func (s *Server) handleTally(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, s.reader.Tally())
}

func (s *Server) handlePeers(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, PeersView{Peers: s.reader.PeerList()})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, StateView{State: s.reader.State()})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	if err := conn.WriteJSON(s.snapshot()); err != nil {
		s.dropClient(conn)
		return
	}

	// Drain and discard inbound frames so the connection's read
	// deadline/pong handling stays serviced until the client disconnects.
	go func() {
		defer s.dropClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) pushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.snapshot()
			for _, conn := range s.connections() {
				if err := conn.WriteJSON(snap); err != nil {
					s.dropClient(conn)
				}
			}
		}
	}
}

func (s *Server) snapshot() FeedSnapshot {
	return FeedSnapshot{
		Chain: toBlockViews(s.reader.ChainSnapshot()),
		Tally: s.reader.Tally(),
		Peers: s.reader.PeerList(),
		State: s.reader.State(),
	}
}

func (s *Server) connections() []*websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		out = append(out, c)
	}
	return out
}

func (s *Server) dropClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
