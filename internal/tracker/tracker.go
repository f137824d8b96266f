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

// Package tracker implements the rendezvous service: peer membership,
// ballot distribution, and heartbeat-driven liveness eviction. The
// tracker never touches chain state or vote logic.
package tracker

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/probeum/votechain/internal/config"
	"github.com/probeum/votechain/internal/netio"
	"github.com/probeum/votechain/internal/wire"
	"github.com/probeum/votechain/internal/xlog"
)

// BallotProvider returns the ordered list of candidate identifiers for
// the current election. It is supplied by the caller (an external
// collaborator per the specification's non-goals) rather than owned by
// the tracker.
type BallotProvider func() []string

type registration struct {
	addr         *net.UDPAddr
	missedPokes  int
	registeredAt time.Time
}

// Tracker maintains the peer registry and answers REGISTER_PEER,
// LEAVE_PEER, and REQUEST_BALLOT, while a heartbeat loop POKEs every
// registered peer and evicts ones that stop answering.
type Tracker struct {
	cfg     config.Config
	ballots BallotProvider
	sock    *netio.Socket
	log     *xlog.Logger
	id      string

	// mu guards both the registry and the heartbeat counters together,
	// per §5's documented "registry + heartbeat counter, always taken
	// in the same order" locking pair — here they are simply the same
	// lock, which trivially satisfies the ordering requirement.
	mu       sync.Mutex
	registry map[string]*registration
}

// New constructs a Tracker bound to addr, using cfg's tunables and
// ballots to answer REQUEST_BALLOT.
func New(addr string, cfg config.Config, ballots BallotProvider) (*Tracker, error) {
	sock, err := netio.Listen(addr, cfg.ReceiveTimeout, cfg.SocketBufferBytes, rate.Limit(cfg.SendRateLimitPerSec), cfg.SendBurst)
	if err != nil {
		return nil, err
	}
	id := uuid.New().String()
	return &Tracker{
		cfg:      cfg,
		ballots:  ballots,
		sock:     sock,
		log:      xlog.With("tracker").With(id),
		id:       id,
		registry: make(map[string]*registration),
	}, nil
}

// Close releases the tracker's socket.
func (t *Tracker) Close() error {
	return t.sock.Close()
}

// Run drives the receive loop and heartbeat loop until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.receiveLoop(ctx) })
	g.Go(func() error { return t.heartbeatLoop(ctx) })
	return g.Wait()
}

func (t *Tracker) receiveLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		raw, from, timedOut, err := t.sock.ReadFrom()
		if err != nil {
			t.log.Warn("receive error", "err", err)
			continue
		}
		if timedOut {
			continue
		}
		env, err := wire.Decode(raw)
		if err != nil {
			t.log.Debug("dropping malformed datagram", "from", from, "err", err)
			continue
		}
		t.handle(ctx, env, from)
	}
}

func (t *Tracker) handle(ctx context.Context, env wire.Envelope, from *net.UDPAddr) {
	endpoint := netio.Endpoint(from)
	switch env.Type {
	case wire.RegisterPeer:
		t.mu.Lock()
		t.registry[endpoint] = &registration{addr: from, registeredAt: time.Now()}
		peerList := t.peerListLocked()
		t.mu.Unlock()
		t.log.Info("registered peer", "peer", endpoint)
		t.send(ctx, from, wire.Envelope{Type: wire.RegisterAck, PeerList: peerList})
		t.broadcastPeerList(ctx)

	case wire.LeavePeer:
		t.mu.Lock()
		_, existed := t.registry[endpoint]
		delete(t.registry, endpoint)
		t.mu.Unlock()
		if existed {
			t.log.Info("peer left", "peer", endpoint)
		} else {
			t.log.Debug("ignoring LEAVE_PEER from unknown peer", "peer", endpoint)
		}

	case wire.RequestBallot:
		t.mu.Lock()
		_, ok := t.registry[endpoint]
		t.mu.Unlock()
		if !ok {
			t.log.Debug("dropping REQUEST_BALLOT from unregistered peer", "peer", endpoint)
			return
		}
		var options []string
		if t.ballots != nil {
			options = t.ballots()
		}
		t.send(ctx, from, wire.Envelope{Type: wire.BallotOptions, VotingOptions: options})

	case wire.PokeAck:
		t.mu.Lock()
		if reg, ok := t.registry[endpoint]; ok {
			reg.missedPokes = 0
		}
		t.mu.Unlock()

	default:
		t.log.Debug("ignoring message in tracker context", "type", env.Type, "peer", endpoint)
	}
}

func (t *Tracker) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

func (t *Tracker) tick(ctx context.Context) {
	t.mu.Lock()
	targets := make([]*registration, 0, len(t.registry))
	for _, reg := range t.registry {
		targets = append(targets, reg)
	}
	t.mu.Unlock()

	var evicted bool
	for _, reg := range targets {
		t.send(ctx, reg.addr, wire.Envelope{Type: wire.Poke})

		t.mu.Lock()
		reg.missedPokes++
		if reg.missedPokes >= t.cfg.HeartbeatTimeoutCount {
			delete(t.registry, netio.Endpoint(reg.addr))
			evicted = true
			t.log.Warn("evicting unresponsive peer", "peer", netio.Endpoint(reg.addr))
		}
		t.mu.Unlock()
	}
	if evicted {
		t.broadcastPeerList(ctx)
	}
}

func (t *Tracker) broadcastPeerList(ctx context.Context) {
	t.mu.Lock()
	targets := make([]*net.UDPAddr, 0, len(t.registry))
	for _, reg := range t.registry {
		targets = append(targets, reg.addr)
	}
	peerList := t.peerListLocked()
	t.mu.Unlock()

	for _, addr := range targets {
		t.send(ctx, addr, wire.Envelope{Type: wire.UpdatePeers, PeerList: peerList})
	}
}

// peerListLocked must be called with t.mu held.
func (t *Tracker) peerListLocked() []string {
	out := make([]string, 0, len(t.registry))
	for ep := range t.registry {
		out = append(out, ep)
	}
	return out
}

func (t *Tracker) send(ctx context.Context, addr *net.UDPAddr, env wire.Envelope) {
	raw, err := wire.Encode(env)
	if err != nil {
		t.log.Error("encode failure", "err", err)
		return
	}
	if err := t.sock.SendTo(ctx, addr, raw); err != nil {
		t.log.Warn("send failure, continuing with next recipient", "to", addr, "err", err)
	}
}

// PeerCount reports the number of currently registered peers, for
// diagnostics and tests.
func (t *Tracker) PeerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.registry)
}
