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

package chain

import (
	"context"
	"sync"
	"time"
)

// Chain is an ordered sequence of Blocks beginning with the canonical
// genesis, plus a scratch pool of unconfirmed transactions and a
// tunable proof-of-work difficulty. All mutations are serialized by mu;
// readers observe a consistent point-in-time view.
type Chain struct {
	mu         sync.Mutex
	blocks     []Block
	pending    []Transaction
	difficulty int
}

// New returns a Chain seeded with the canonical genesis block.
func New(difficulty int) *Chain {
	return &Chain{
		blocks:     []Block{Genesis()},
		difficulty: difficulty,
	}
}

// Difficulty returns the chain's configured proof-of-work difficulty.
func (c *Chain) Difficulty() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.difficulty
}

// Len returns the number of blocks in the chain, including genesis.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}

// Last returns the tail block.
func (c *Chain) Last() Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks[len(c.blocks)-1]
}

// BlockAt returns the block at index i and whether it exists.
func (c *Chain) BlockAt(i uint64) (Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= uint64(len(c.blocks)) {
		return Block{}, false
	}
	return c.blocks[i], true
}

// AddPending appends tx to the unconfirmed pool. No validation beyond
// the type system is performed; a transaction only becomes observable
// once it is mined into a block.
func (c *Chain) AddPending(tx Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, tx)
}

// PendingLen reports how many unconfirmed transactions are queued.
func (c *Chain) PendingLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Mine builds a candidate block from the pending pool and searches for a
// nonce that makes its hash valid at the chain's difficulty. If the pool
// is empty it returns the zero Block and false without mutating state.
// On success the block is appended, the pool is cleared, and the mined
// block is returned.
//
// ctx is checked between nonce attempts so an in-flight mine can be
// cancelled if its parent height is superseded before it finishes; this
// is purely an optimization (§5) since a stale block is simply rejected
// by AddBlock.
func (c *Chain) Mine(ctx context.Context) (Block, bool) {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return Block{}, false
	}
	last := c.blocks[len(c.blocks)-1]
	txs := make([]Transaction, len(c.pending))
	copy(txs, c.pending)
	difficulty := c.difficulty
	c.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	candidate := newCandidateBlock(last.Index+1, txs, time.Now().UTC().Format(TimeLayout), last.Hash)
	for !ValidAt(candidate.Hash, difficulty) {
		select {
		case <-ctx.Done():
			return Block{}, false
		default:
		}
		candidate.Nonce++
		candidate.Hash = candidate.ComputeHash()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// The tail may have moved while we were mining (another block was
	// accepted via AddBlock); re-check the link before committing.
	last = c.blocks[len(c.blocks)-1]
	if candidate.PreviousHash != last.Hash || candidate.Index != last.Index+1 {
		return Block{}, false
	}
	c.blocks = append(c.blocks, candidate)
	// Only the transactions that were part of the mined pool are
	// cleared; any added concurrently with mining stay queued.
	if len(c.pending) >= len(txs) {
		c.pending = c.pending[len(txs):]
	} else {
		c.pending = nil
	}
	return candidate, true
}

// MineMalicious mines exactly like Mine, but then overwrites the new
// tail's hash with a fixed sentinel so the chain self-describes as
// invalid. It exists solely to drive the adversarial test scenario in
// §8 and must never be reachable from the steady-state vote path.
func (c *Chain) MineMalicious(ctx context.Context) (Block, bool) {
	b, ok := c.Mine(ctx)
	if !ok {
		return b, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks[len(c.blocks)-1].Hash = "malicious_previous_hash"
	return c.blocks[len(c.blocks)-1], true
}

// AddBlock attempts to append an externally supplied block. It succeeds
// iff b.PreviousHash matches the current tail's hash, b's declared hash
// both equals its recomputed hash and is valid at the chain's
// difficulty, and b.Index is exactly one past the tail. Genesis blocks
// are never accepted through this path. On failure the chain is left
// unchanged.
func (c *Chain) AddBlock(b Block) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b.Index == 0 {
		return false
	}
	last := c.blocks[len(c.blocks)-1]
	if b.PreviousHash != last.Hash {
		return false
	}
	if b.Index != last.Index+1 {
		return false
	}
	if b.ComputeHash() != b.Hash {
		return false
	}
	if !ValidAt(b.Hash, c.difficulty) {
		return false
	}
	c.blocks = append(c.blocks, b)
	return true
}

// IsValidChain reports whether candidate is a well-formed chain: empty,
// or starting with the canonical genesis, with every subsequent block
// satisfying its declared proof-of-work and linking to its predecessor's
// hash. Validation is always performed against each block's own
// declared Hash field, never a silently-recomputed substitute, so any
// mutation of a block's contents after the fact invalidates the chain.
func (c *Chain) IsValidChain(candidate []Block) bool {
	if len(candidate) == 0 {
		return true
	}
	if !blocksEqual(candidate[0], Genesis()) {
		return false
	}
	difficulty := c.Difficulty()
	for i, b := range candidate {
		if b.ComputeHash() != b.Hash {
			return false
		}
		if i == 0 {
			continue
		}
		if !ValidAt(b.Hash, difficulty) {
			return false
		}
		if b.PreviousHash != candidate[i-1].Hash {
			return false
		}
		if b.Index != candidate[i-1].Index+1 {
			return false
		}
	}
	return true
}

// blocksEqual compares the identifying fields of two blocks. Block
// itself is not comparable with == because it embeds a slice.
func blocksEqual(a, b Block) bool {
	return a.Hash == b.Hash && a.Index == b.Index && a.PreviousHash == b.PreviousHash
}

// ReplaceIfBetter swaps the local chain for candidate iff candidate is
// longer than the local chain AND is a valid chain. It reports whether
// the swap happened.
func (c *Chain) ReplaceIfBetter(candidate []Block) bool {
	if !c.IsValidChain(candidate) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(candidate) <= len(c.blocks) {
		return false
	}
	c.blocks = append([]Block(nil), candidate...)
	return true
}

// Tally counts votes per candidate, skipping genesis and deduplicating
// by voter id: the first vote observed for a voter_id in chain order
// counts, later votes by the same voter are ignored. This is the only
// place voter deduplication happens; it is never applied at block
// admission, so the chain itself may carry redundant votes.
func (c *Chain) Tally() map[string]int {
	c.mu.Lock()
	blocks := append([]Block(nil), c.blocks...)
	c.mu.Unlock()

	tally := make(map[string]int)
	seen := make(map[string]bool)
	for i, b := range blocks {
		if i == 0 {
			continue
		}
		for _, tx := range b.Transactions {
			if tx.VoterID == "" {
				continue
			}
			if seen[tx.VoterID] {
				continue
			}
			seen[tx.VoterID] = true
			tally[tx.CandidateID]++
		}
	}
	return tally
}

// Snapshot returns a deep, immutable copy of the chain suitable for
// handing to a reader (UI, wire codec, chain-transfer assembler)
// without risking aliasing with the mutex-guarded internal slice.
func (c *Chain) Snapshot() []Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Block, len(c.blocks))
	for i, b := range c.blocks {
		txs := make([]Transaction, len(b.Transactions))
		copy(txs, b.Transactions)
		b.Transactions = txs
		out[i] = b
	}
	return out
}
