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
	"errors"
	"net"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/probeum/votechain/internal/chain"
	"github.com/probeum/votechain/internal/config"
	"github.com/probeum/votechain/internal/netio"
	"github.com/probeum/votechain/internal/wire"
	"github.com/probeum/votechain/internal/xlog"
)

// ErrClosed is returned by blocking calls made after the peer has left
// the network.
var ErrClosed = errors.New("peerhost: peer is closed")

// Peer is a node's per-process state machine: registration, ballot
// fetch, vote submission, mining, broadcast, chain sync, fork recovery,
// and heartbeat response, per §4.3-4.6 of the specification.
type Peer struct {
	cfg         config.Config
	localEP     string
	trackerAddr *net.UDPAddr
	sock        *netio.Socket
	chain       *chain.Chain
	assembler   *wire.Assembler
	log         *xlog.Logger
	id          string

	mu           sync.Mutex
	cond         *sync.Cond
	state        State
	peers        mapset.Set
	ballot       []string
	seenBlocks   mapset.Set
	miningCancel context.CancelFunc
	miningTarget uint64

	cancel context.CancelFunc
	g      *errgroup.Group
}

// New constructs a Peer bound to localAddr that talks to the tracker at
// trackerAddr, with a dedicated Chain at cfg's difficulty.
func New(localAddr, trackerAddr string, cfg config.Config) (*Peer, error) {
	sock, err := netio.Listen(localAddr, cfg.ReceiveTimeout, cfg.SocketBufferBytes, rate.Limit(cfg.SendRateLimitPerSec), cfg.SendBurst)
	if err != nil {
		return nil, err
	}
	tAddr, err := netio.ResolveEndpoint(trackerAddr)
	if err != nil {
		sock.Close()
		return nil, err
	}
	id := uuid.New().String()
	p := &Peer{
		cfg:         cfg,
		localEP:     netio.Endpoint(sock.LocalAddr().(*net.UDPAddr)),
		trackerAddr: tAddr,
		sock:        sock,
		chain:       chain.New(cfg.Difficulty),
		assembler:   wire.NewAssembler(cfg.TransferAssemblyCacheSize),
		log:         xlog.With("peer").With(id),
		id:          id,
		state:       StateInit,
		peers:       mapset.NewSet(),
		seenBlocks:  mapset.NewSet(),
	}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

// LocalEndpoint returns this peer's own "ip:port" string, as it would
// appear in another peer's peer_list.
func (p *Peer) LocalEndpoint() string { return p.localEP }

// Start launches the receive loop and the registration/ballot retry
// loop in the background. It returns immediately; call Wait to block
// until both exit (normally only once the peer is closed or ctx is
// cancelled).
func (p *Peer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	p.g = g
	g.Go(func() error { return p.receiveLoop(ctx) })
	g.Go(func() error { return p.retryLoop(ctx) })
}

// Wait blocks until the peer's background loops exit.
func (p *Peer) Wait() error {
	if p.g == nil {
		return nil
	}
	return p.g.Wait()
}

// State reports the peer's current lifecycle state.
func (p *Peer) State() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.String()
}

// waitForState blocks until the peer reaches want, ctx is cancelled, or
// the peer is closed, per the "blocking-until-state-reached APIs...
// respect a cancellation channel" design note.
func (p *Peer) waitForState(ctx context.Context, want State) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		case <-stop:
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()
	for p.state != want {
		if p.state == StateClosed {
			return ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		p.cond.Wait()
	}
	return nil
}

// Connect registers with the tracker and blocks until REGISTER_ACK is
// honored (§4.3: INIT -> REGISTERING -> CONNECTED).
func (p *Peer) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateInit {
		p.mu.Unlock()
		return errors.New("peerhost: connect called outside INIT")
	}
	p.state = StateRegistering
	p.cond.Broadcast()
	p.mu.Unlock()

	p.sendToTracker(ctx, wire.Envelope{Type: wire.RegisterPeer})
	return p.waitForState(ctx, StateConnected)
}

// RequestBallotOptions asks the tracker for the ballot and blocks until
// BALLOT_OPTIONS arrives (§4.3: CONNECTED -> REQUESTING_BALLOT ->
// CONNECTED_WITH_BALLOT).
func (p *Peer) RequestBallotOptions(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateConnected {
		p.mu.Unlock()
		return errors.New("peerhost: request_ballot_options called outside CONNECTED")
	}
	p.state = StateRequestingBallot
	p.cond.Broadcast()
	p.mu.Unlock()

	p.sendToTracker(ctx, wire.Envelope{Type: wire.RequestBallot})
	return p.waitForState(ctx, StateConnectedWithBallot)
}

// BallotOptions returns the most recently delivered voting options.
func (p *Peer) BallotOptions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.ballot))
	copy(out, p.ballot)
	return out
}

// SubmitVote adds tx to the pending pool, mines a block (blocking the
// caller per §5), and broadcasts the result to every known peer. If
// mining yields nothing — an empty pool, or the attempt was cancelled
// because another peer's block arrived first — SubmitVote returns nil
// without broadcasting, matching Chain.Mine's own "false means nothing
// to do" contract.
func (p *Peer) SubmitVote(ctx context.Context, tx chain.Transaction) error {
	return p.submitVote(ctx, tx, p.chain.Mine)
}

// SubmitMaliciousVote behaves exactly like SubmitVote but seals the
// mined block with Chain.MineMalicious instead of Chain.Mine, so every
// receiving peer rejects it. It exists solely so --malicious can drive
// the adversarial test scenario from a running binary; nothing in the
// steady-state vote path calls it.
func (p *Peer) SubmitMaliciousVote(ctx context.Context, tx chain.Transaction) error {
	return p.submitVote(ctx, tx, p.chain.MineMalicious)
}

func (p *Peer) submitVote(ctx context.Context, tx chain.Transaction, mine func(context.Context) (chain.Block, bool)) error {
	p.mu.Lock()
	if p.state != StateConnectedWithBallot {
		p.mu.Unlock()
		return errors.New("peerhost: submit_vote called outside CONNECTED_WITH_BALLOT")
	}
	p.mu.Unlock()

	p.chain.AddPending(tx)

	mineCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.miningCancel = cancel
	p.miningTarget = p.chain.Last().Index + 1
	p.mu.Unlock()

	block, ok := mine(mineCtx)

	p.mu.Lock()
	p.miningCancel = nil
	p.mu.Unlock()
	cancel()

	if !ok {
		return nil
	}
	p.log.Info("mined block", "index", block.Index, "hash", block.Hash)
	p.broadcastBlock(ctx, block)
	return nil
}

// LeaveNetwork sends a best-effort LEAVE_PEER, transitions to CLOSED,
// and closes the socket regardless of whether the notification was
// delivered (§4.3, §5).
func (p *Peer) LeaveNetwork(ctx context.Context) {
	p.sendToTracker(ctx, wire.Envelope{Type: wire.LeavePeer})

	p.mu.Lock()
	p.state = StateClosed
	p.cond.Broadcast()
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.sock.Close()
}

// ChainSnapshot implements api.Reader.
func (p *Peer) ChainSnapshot() []chain.Block { return p.chain.Snapshot() }

// Tally implements api.Reader.
func (p *Peer) Tally() map[string]int { return p.chain.Tally() }

// PeerList implements api.Reader.
func (p *Peer) PeerList() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, p.peers.Cardinality())
	for v := range p.peers.Iter() {
		out = append(out, v.(string))
	}
	return out
}

func (p *Peer) retryLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.mu.Lock()
			s := p.state
			p.mu.Unlock()
			switch s {
			case StateRegistering:
				p.log.Debug("retrying registration")
				p.sendToTracker(ctx, wire.Envelope{Type: wire.RegisterPeer})
			case StateRequestingBallot:
				p.log.Debug("retrying ballot request")
				p.sendToTracker(ctx, wire.Envelope{Type: wire.RequestBallot})
			}
		}
	}
}

func (p *Peer) receiveLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		raw, from, timedOut, err := p.sock.ReadFrom()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.log.Warn("receive error", "err", err)
			continue
		}
		if timedOut {
			continue
		}
		env, err := wire.Decode(raw)
		if err != nil {
			p.log.Debug("dropping malformed datagram", "from", from, "err", err)
			continue
		}
		p.handle(ctx, env, from)
	}
}

func (p *Peer) handle(ctx context.Context, env wire.Envelope, from *net.UDPAddr) {
	switch env.Type {
	case wire.RegisterAck:
		p.mu.Lock()
		if p.state != StateRegistering {
			p.mu.Unlock()
			return
		}
		p.adoptPeerListLocked(env.PeerList)
		p.state = StateConnected
		p.cond.Broadcast()
		p.mu.Unlock()
		p.log.Info("registered with tracker")

	case wire.BallotOptions:
		p.mu.Lock()
		if p.state != StateRequestingBallot {
			p.mu.Unlock()
			return
		}
		p.ballot = append([]string(nil), env.VotingOptions...)
		p.state = StateConnectedWithBallot
		p.cond.Broadcast()
		p.mu.Unlock()
		p.log.Info("received ballot", "options", env.VotingOptions)

	case wire.UpdatePeers:
		p.mu.Lock()
		if !p.state.isLive() {
			p.mu.Unlock()
			return
		}
		p.adoptPeerListLocked(env.PeerList)
		p.mu.Unlock()

	case wire.Poke:
		p.send(ctx, from, wire.Envelope{Type: wire.PokeAck})

	case wire.NewBlock:
		if env.Block == nil {
			return
		}
		p.handleNewBlock(ctx, dictToBlock(*env.Block))

	case wire.RequestChain:
		p.sendChain(ctx, from)

	case wire.ChainResponse:
		candidate := make([]chain.Block, len(env.Chain))
		for i, d := range env.Chain {
			candidate[i] = dictToBlock(d)
		}
		p.applyCandidateChain(candidate)

	case wire.ChainBlock:
		if env.Block == nil {
			return
		}
		ordered, done := p.assembler.Add(netio.Endpoint(from), env.Index, env.TotalBlocks, *env.Block)
		if !done {
			return
		}
		candidate := make([]chain.Block, len(ordered))
		for i, d := range ordered {
			candidate[i] = dictToBlock(d)
		}
		p.applyCandidateChain(candidate)

	default:
		p.log.Debug("ignoring unrecognized message", "type", env.Type)
	}
}

// adoptPeerListLocked must be called with p.mu held. It replaces the
// cached peer list with list, excluding this peer's own endpoint so it
// never broadcasts to itself.
func (p *Peer) adoptPeerListLocked(list []string) {
	next := mapset.NewSet()
	for _, ep := range list {
		if ep == p.localEP {
			continue
		}
		next.Add(ep)
	}
	p.peers = next
}

// seenBlockCacheLimit bounds the recently-seen-block-hash set; it is
// reset wholesale on overflow rather than evicting individually since
// it only suppresses duplicate logging/REQUEST_CHAIN storms, never
// substitutes for AddBlock's own validation.
const seenBlockCacheLimit = 1024

// markSeen records hash in the recently-seen set and reports whether it
// was already present.
func (p *Peer) markSeen(hash string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seenBlocks.Contains(hash) {
		return true
	}
	if p.seenBlocks.Cardinality() >= seenBlockCacheLimit {
		p.seenBlocks.Clear()
	}
	p.seenBlocks.Add(hash)
	return false
}

// handleNewBlock implements the chain-update routine of §4.5.
func (p *Peer) handleNewBlock(ctx context.Context, b chain.Block) {
	if p.markSeen(b.Hash) {
		p.log.Debug("duplicate NEW_BLOCK gossip, ignoring", "hash", b.Hash)
		return
	}

	n := uint64(p.chain.Len())
	if b.Index < n {
		local, ok := p.chain.BlockAt(b.Index)
		if ok && local.Hash == b.Hash {
			p.log.Debug("duplicate block, ignoring", "index", b.Index)
			return
		}
		p.log.Warn("fork detected, requesting chain sync", "index", b.Index)
		p.broadcastRequestChain(ctx)
		return
	}

	if p.chain.AddBlock(b) {
		p.log.Info("accepted block", "index", b.Index, "hash", b.Hash)
		p.cancelMiningIfSuperseded(b.Index)
		return
	}
	p.log.Debug("rejected block, requesting chain sync", "index", b.Index)
	p.broadcastRequestChain(ctx)
}

func (p *Peer) applyCandidateChain(candidate []chain.Block) {
	if p.chain.ReplaceIfBetter(candidate) {
		p.log.Info("replaced chain from network", "length", len(candidate))
		if len(candidate) > 0 {
			p.cancelMiningIfSuperseded(candidate[len(candidate)-1].Index)
		}
	}
}

// cancelMiningIfSuperseded cancels an in-flight Mine call whose target
// height has already been reached by a block accepted from the network
// (§5's optional cancellation allowance).
func (p *Peer) cancelMiningIfSuperseded(acceptedIndex uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.miningCancel != nil && acceptedIndex >= p.miningTarget {
		p.miningCancel()
	}
}

func (p *Peer) broadcastBlock(ctx context.Context, b chain.Block) {
	dict := blockToDict(b)
	for _, ep := range p.PeerList() {
		addr, err := netio.ResolveEndpoint(ep)
		if err != nil {
			p.log.Warn("bad peer endpoint, skipping", "peer", ep, "err", err)
			continue
		}
		p.send(ctx, addr, wire.Envelope{Type: wire.NewBlock, Block: &dict})
	}
}

func (p *Peer) broadcastRequestChain(ctx context.Context) {
	for _, ep := range p.PeerList() {
		addr, err := netio.ResolveEndpoint(ep)
		if err != nil {
			continue
		}
		p.send(ctx, addr, wire.Envelope{Type: wire.RequestChain})
	}
}

// sendChain replies to a REQUEST_CHAIN, picking the single-datagram
// CHAIN_RESPONSE variant when it fits under the configured size budget
// and falling back to per-block CHAIN_BLOCK fragments otherwise (§4.6).
func (p *Peer) sendChain(ctx context.Context, to *net.UDPAddr) {
	snapshot := p.chain.Snapshot()
	dicts := make([]wire.BlockDict, len(snapshot))
	for i, b := range snapshot {
		dicts[i] = blockToDict(b)
	}

	full := wire.Envelope{Type: wire.ChainResponse, Chain: dicts}
	if raw, err := wire.Encode(full); err == nil && len(raw) <= p.cfg.MaxSingleDatagramChainBytes {
		p.send(ctx, to, full)
		return
	}

	for i, d := range dicts {
		block := d
		p.send(ctx, to, wire.Envelope{
			Type:        wire.ChainBlock,
			Index:       i,
			TotalBlocks: len(dicts),
			Block:       &block,
		})
	}
}

func (p *Peer) sendToTracker(ctx context.Context, env wire.Envelope) {
	p.send(ctx, p.trackerAddr, env)
}

func (p *Peer) send(ctx context.Context, addr *net.UDPAddr, env wire.Envelope) {
	raw, err := wire.Encode(env)
	if err != nil {
		p.log.Error("encode failure", "err", err)
		return
	}
	if err := p.sock.SendTo(ctx, addr, raw); err != nil {
		p.log.Warn("send failure, continuing", "to", addr, "err", err)
	}
}

func blockToDict(b chain.Block) wire.BlockDict {
	txs := make([]wire.TxDict, len(b.Transactions))
	for i, tx := range b.Transactions {
		txs[i] = wire.TxDict{VoterID: tx.VoterID, CandidateID: tx.CandidateID, Timestamp: tx.Timestamp}
	}
	return wire.BlockDict{
		Index:        b.Index,
		Timestamp:    b.Timestamp,
		PreviousHash: b.PreviousHash,
		Nonce:        b.Nonce,
		Hash:         b.Hash,
		Transactions: txs,
	}
}

func dictToBlock(d wire.BlockDict) chain.Block {
	txs := make([]chain.Transaction, len(d.Transactions))
	for i, tx := range d.Transactions {
		txs[i] = chain.Transaction{VoterID: tx.VoterID, CandidateID: tx.CandidateID, Timestamp: tx.Timestamp}
	}
	return chain.Block{
		Index:        d.Index,
		Timestamp:    d.Timestamp,
		PreviousHash: d.PreviousHash,
		Nonce:        d.Nonce,
		Hash:         d.Hash,
		Transactions: txs,
	}
}
