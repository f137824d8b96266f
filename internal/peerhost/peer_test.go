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

package peerhost

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/probeum/votechain/internal/chain"
	"github.com/probeum/votechain/internal/config"
	"github.com/probeum/votechain/internal/wire"
)

func testPeer(t *testing.T, cfg config.Config) (*Peer, *net.UDPConn) {
	t.Helper()
	trackerConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)

	p, err := New("127.0.0.1:0", trackerConn.LocalAddr().String(), cfg)
	require.NoError(t, err)
	return p, trackerConn
}

func recvEnvelope(t *testing.T, conn *net.UDPConn, timeout time.Duration) (wire.Envelope, *net.UDPAddr) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	buf := make([]byte, 64*1024)
	n, from, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)
	env, err := wire.Decode(buf[:n])
	require.NoError(t, err)
	return env, from
}

func sendEnvelope(t *testing.T, conn *net.UDPConn, to *net.UDPAddr, env wire.Envelope) {
	t.Helper()
	raw, err := wire.Encode(env)
	require.NoError(t, err)
	_, err = conn.WriteToUDP(raw, to)
	require.NoError(t, err)
}

func TestConnectTransitionsOnRegisterAck(t *testing.T) {
	cfg := config.Defaults()
	cfg.RetryInterval = 20 * time.Millisecond
	p, tracker := testPeer(t, cfg)
	defer tracker.Close()
	defer p.sock.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	// Connect moves INIT -> REGISTERING and sends REGISTER_PEER, then
	// blocks until the REGISTER_ACK below is honored.
	connectCtx, connectCancel := context.WithTimeout(context.Background(), time.Second)
	defer connectCancel()
	connectErr := make(chan error, 1)
	go func() { connectErr <- p.Connect(connectCtx) }()

	_, from := recvEnvelope(t, tracker, time.Second)
	require.Equal(t, StateRegistering, p.state)

	sendEnvelope(t, tracker, from, wire.Envelope{Type: wire.RegisterAck, PeerList: []string{"10.0.0.1:9000"}})

	require.NoError(t, <-connectErr)
	require.Equal(t, "CONNECTED", p.State())
	require.Equal(t, []string{"10.0.0.1:9000"}, p.PeerList())
}

func TestRegisterAckIgnoredOutsideRegistering(t *testing.T) {
	cfg := config.Defaults()
	p, tracker := testPeer(t, cfg)
	defer tracker.Close()
	defer p.sock.Close()

	// Peer is still in INIT; a stray REGISTER_ACK must not move it.
	p.handle(context.Background(), wire.Envelope{Type: wire.RegisterAck, PeerList: []string{"x"}}, tracker.LocalAddr().(*net.UDPAddr))
	require.Equal(t, StateInit, p.state)
}

func TestBallotOptionsIgnoredOutsideRequestingBallot(t *testing.T) {
	cfg := config.Defaults()
	p, tracker := testPeer(t, cfg)
	defer tracker.Close()
	defer p.sock.Close()

	p.state = StateConnected
	p.handle(context.Background(), wire.Envelope{Type: wire.BallotOptions, VotingOptions: []string{"A"}}, tracker.LocalAddr().(*net.UDPAddr))
	require.Equal(t, StateConnected, p.state)
	require.Empty(t, p.BallotOptions())
}

func TestPeerListExcludesSelf(t *testing.T) {
	cfg := config.Defaults()
	p, tracker := testPeer(t, cfg)
	defer tracker.Close()
	defer p.sock.Close()

	p.mu.Lock()
	p.adoptPeerListLocked([]string{p.localEP, "9.9.9.9:1"})
	p.mu.Unlock()

	require.Equal(t, []string{"9.9.9.9:1"}, p.PeerList())
}

func TestHandleNewBlockDuplicateIsIgnored(t *testing.T) {
	cfg := config.Defaults()
	cfg.Difficulty = 0
	p, tracker := testPeer(t, cfg)
	defer tracker.Close()
	defer p.sock.Close()

	p.chain.AddPending(chain.NewTransaction("v1", "alice"))
	block, ok := p.chain.Mine(context.Background())
	require.True(t, ok)

	lenBefore := p.chain.Len()
	p.handleNewBlock(context.Background(), block)
	require.Equal(t, lenBefore, p.chain.Len())
}

func TestHandleNewBlockForkTriggersRequestChain(t *testing.T) {
	cfg := config.Defaults()
	cfg.Difficulty = 0
	p, tracker := testPeer(t, cfg)
	defer tracker.Close()
	defer p.sock.Close()

	p.chain.AddPending(chain.NewTransaction("v1", "alice"))
	block, ok := p.chain.Mine(context.Background())
	require.True(t, ok)

	conflicting := block
	conflicting.Hash = "not-the-real-hash-but-same-index"
	conflicting.PreviousHash = "also-different"

	other, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer other.Close()

	p.mu.Lock()
	p.peers.Add(other.LocalAddr().String())
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	p.handleNewBlock(ctx, conflicting)
	// The block at this index differs, so a fork was detected: a
	// REQUEST_CHAIN goes out to the known peer and the chain itself is
	// untouched.
	env, _ := recvEnvelope(t, other, time.Second)
	require.Equal(t, wire.RequestChain, env.Type)
	require.Equal(t, 2, p.chain.Len())
}

func TestSubmitVoteRequiresBallotState(t *testing.T) {
	cfg := config.Defaults()
	p, tracker := testPeer(t, cfg)
	defer tracker.Close()
	defer p.sock.Close()

	err := p.SubmitVote(context.Background(), chain.NewTransaction("v1", "alice"))
	require.Error(t, err)
}

func TestSubmitVoteMinesAndBroadcasts(t *testing.T) {
	cfg := config.Defaults()
	cfg.Difficulty = 0
	p, tracker := testPeer(t, cfg)
	defer tracker.Close()
	defer p.sock.Close()

	peerB, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer peerB.Close()

	p.mu.Lock()
	p.state = StateConnectedWithBallot
	p.peers.Add(peerB.LocalAddr().String())
	p.mu.Unlock()

	require.NoError(t, p.SubmitVote(context.Background(), chain.NewTransaction("v1", "alice")))

	env, _ := recvEnvelope(t, peerB, time.Second)
	require.Equal(t, wire.NewBlock, env.Type)
	require.NotNil(t, env.Block)
	require.Equal(t, uint64(1), env.Block.Index)
}

func TestFSMStateString(t *testing.T) {
	require.Equal(t, "INIT", StateInit.String())
	require.Equal(t, "CONNECTED_WITH_BALLOT", StateConnectedWithBallot.String())
	require.Equal(t, "UNKNOWN", State(99).String())
}
