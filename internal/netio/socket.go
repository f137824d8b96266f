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

// Package netio wraps the single UDP socket shared by a peer or
// tracker process: all sends are serialized under a mutex and paced by
// a token bucket, and reads use a short deadline so a receive loop can
// interleave retries and heartbeat ticks.
package netio

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Socket is a mutex-guarded, rate-limited wrapper around a single
// *net.UDPConn, matching the specification's "UDP socket is shared by
// all senders/receivers within a process and must be accessed under a
// mutex" requirement.
type Socket struct {
	conn           *net.UDPConn
	recvTimeout    time.Duration
	recvBufferSize int

	mu      sync.Mutex
	limiter *rate.Limiter
}

// Listen opens a UDP socket bound to addr. It is the only operation in
// this package that can fail fatally for the caller: per §7, a bind
// failure at start-up is the one condition that should abort the
// process.
func Listen(addr string, recvTimeout time.Duration, recvBufferSize int, sendRate rate.Limit, sendBurst int) (*Socket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return &Socket{
		conn:           conn,
		recvTimeout:    recvTimeout,
		recvBufferSize: recvBufferSize,
		limiter:        rate.NewLimiter(sendRate, sendBurst),
	}, nil
}

// LocalAddr returns the socket's bound local address.
func (s *Socket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Close releases the underlying socket.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// SendTo writes payload to addr. Sends are serialized across goroutines
// and paced by the configured rate limiter so a broadcast burst cannot
// starve other traffic sharing the socket (§5).
func (s *Socket) SendTo(ctx context.Context, addr *net.UDPAddr, payload []byte) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.WriteToUDP(payload, addr)
	return err
}

// ReadFrom blocks for up to recvTimeout waiting for one datagram. A
// timeout is reported via timedOut being true with a nil error,
// letting receive loops distinguish "nothing arrived, go service
// retries/heartbeats" from a genuine I/O error.
func (s *Socket) ReadFrom() (payload []byte, addr *net.UDPAddr, timedOut bool, err error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.recvTimeout)); err != nil {
		return nil, nil, false, err
	}
	buf := make([]byte, s.recvBufferSize)
	n, from, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil, true, nil
		}
		return nil, nil, false, err
	}
	return buf[:n], from, false, nil
}

// ResolveEndpoint parses an "ip:port" string into a *net.UDPAddr.
func ResolveEndpoint(endpoint string) (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", endpoint)
}

// Endpoint formats a *net.UDPAddr as the "ip:port" string used
// throughout the wire protocol's peer lists.
func Endpoint(addr *net.UDPAddr) string {
	return addr.String()
}
