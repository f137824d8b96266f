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

package tracker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/probeum/votechain/internal/config"
	"github.com/probeum/votechain/internal/wire"
)

func testTracker(t *testing.T, cfg config.Config, options []string) (*Tracker, func()) {
	t.Helper()
	tr, err := New("127.0.0.1:0", cfg, func() []string { return options })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = tr.Run(ctx)
		close(done)
	}()
	return tr, func() {
		cancel()
		<-done
		tr.Close()
	}
}

type testClient struct {
	conn *net.UDPConn
}

func newTestClient(t *testing.T) *testClient {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	require.NoError(t, err)
	conn, err := net.ListenUDP("udp", addr)
	require.NoError(t, err)
	return &testClient{conn: conn}
}

func (c *testClient) send(t *testing.T, to net.Addr, env wire.Envelope) {
	t.Helper()
	raw, err := wire.Encode(env)
	require.NoError(t, err)
	_, err = c.conn.WriteTo(raw, to)
	require.NoError(t, err)
}

func (c *testClient) recv(t *testing.T, timeout time.Duration) wire.Envelope {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(timeout)))
	buf := make([]byte, 64*1024)
	n, _, err := c.conn.ReadFrom(buf)
	require.NoError(t, err)
	env, err := wire.Decode(buf[:n])
	require.NoError(t, err)
	return env
}

func TestRegisterPeerAcksWithPeerList(t *testing.T) {
	cfg := config.Defaults()
	tr, stop := testTracker(t, cfg, []string{"A", "B"})
	defer stop()

	client := newTestClient(t)
	defer client.conn.Close()

	client.send(t, tr.sock.LocalAddr(), wire.Envelope{Type: wire.RegisterPeer})
	ack := client.recv(t, time.Second)
	require.Equal(t, wire.RegisterAck, ack.Type)
	require.Len(t, ack.PeerList, 1)

	require.Eventually(t, func() bool { return tr.PeerCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestRequestBallotRequiresRegistration(t *testing.T) {
	cfg := config.Defaults()
	tr, stop := testTracker(t, cfg, []string{"A", "B"})
	defer stop()

	client := newTestClient(t)
	defer client.conn.Close()

	client.send(t, tr.sock.LocalAddr(), wire.Envelope{Type: wire.RequestBallot})
	require.NoError(t, client.conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	buf := make([]byte, 1024)
	_, _, err := client.conn.ReadFrom(buf)
	require.Error(t, err) // nothing sent back: unregistered

	client.send(t, tr.sock.LocalAddr(), wire.Envelope{Type: wire.RegisterPeer})
	_ = client.recv(t, time.Second)
	// registering also fans UPDATE_PEERS out to every registered peer,
	// this client included
	_ = client.recv(t, time.Second)

	client.send(t, tr.sock.LocalAddr(), wire.Envelope{Type: wire.RequestBallot})
	options := client.recv(t, time.Second)
	require.Equal(t, wire.BallotOptions, options.Type)
	require.Equal(t, []string{"A", "B"}, options.VotingOptions)
}

func TestLeavePeerRemovesRegistration(t *testing.T) {
	cfg := config.Defaults()
	tr, stop := testTracker(t, cfg, nil)
	defer stop()

	client := newTestClient(t)
	defer client.conn.Close()

	client.send(t, tr.sock.LocalAddr(), wire.Envelope{Type: wire.RegisterPeer})
	_ = client.recv(t, time.Second)
	require.Equal(t, 1, tr.PeerCount())

	client.send(t, tr.sock.LocalAddr(), wire.Envelope{Type: wire.LeavePeer})
	require.Eventually(t, func() bool { return tr.PeerCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHeartbeatEvictsUnresponsivePeer(t *testing.T) {
	cfg := config.Defaults()
	cfg.HeartbeatInterval = 30 * time.Millisecond
	cfg.HeartbeatTimeoutCount = 2
	tr, stop := testTracker(t, cfg, nil)
	defer stop()

	unresponsive := newTestClient(t)
	defer unresponsive.conn.Close()
	survivor := newTestClient(t)
	defer survivor.conn.Close()

	unresponsive.send(t, tr.sock.LocalAddr(), wire.Envelope{Type: wire.RegisterPeer})
	_ = unresponsive.recv(t, time.Second)
	survivor.send(t, tr.sock.LocalAddr(), wire.Envelope{Type: wire.RegisterPeer})
	_ = survivor.recv(t, time.Second)
	// drain the UPDATE_PEERS fan-out that followed unresponsive's own
	// registration
	_ = unresponsive.recv(t, time.Second)

	// survivor answers every POKE; unresponsive never does. This goroutine
	// is survivor's only reader, so it also hands each UPDATE_PEERS it
	// sees to the test body.
	updates := make(chan wire.Envelope, 16)
	stopAcking := make(chan struct{})
	go func() {
		for {
			select {
			case <-stopAcking:
				return
			default:
			}
			require.NoError(t, survivor.conn.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
			buf := make([]byte, 64*1024)
			n, from, err := survivor.conn.ReadFrom(buf)
			if err != nil {
				continue
			}
			env, _ := wire.Decode(buf[:n])
			switch env.Type {
			case wire.Poke:
				survivor.send(t, from, wire.Envelope{Type: wire.PokeAck})
			case wire.UpdatePeers:
				select {
				case updates <- env:
				default:
				}
			}
		}
	}()
	defer close(stopAcking)

	require.Eventually(t, func() bool { return tr.PeerCount() == 1 }, 3*time.Second, 20*time.Millisecond)

	var sawUpdateWithoutUnresponsive bool
	deadline := time.After(2 * time.Second)
wait:
	for !sawUpdateWithoutUnresponsive {
		select {
		case env := <-updates:
			found := false
			for _, p := range env.PeerList {
				if p == unresponsive.conn.LocalAddr().String() {
					found = true
				}
			}
			sawUpdateWithoutUnresponsive = !found
		case <-deadline:
			break wait
		}
	}
	require.True(t, sawUpdateWithoutUnresponsive)
}
