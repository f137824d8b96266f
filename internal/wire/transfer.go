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

package wire

import (
	lru "github.com/hashicorp/golang-lru"
)

// transfer is the partial state of one in-flight block-by-block chain
// transfer from a single sender.
type transfer struct {
	totalBlocks int
	blocks      map[int]BlockDict
}

// Assembler reassembles CHAIN_BLOCK fragments into a full candidate
// chain, keyed per sender endpoint. It is bounded by an LRU so a
// misbehaving or crashed sender cannot leak memory across repeated
// partial transfers (§4.6).
type Assembler struct {
	cache *lru.Cache
}

// NewAssembler returns an Assembler that buffers at most capacity
// concurrent partial transfers, evicting the least recently touched one
// on overflow.
func NewAssembler(capacity int) *Assembler {
	c, _ := lru.New(capacity)
	return &Assembler{cache: c}
}

// Add records one CHAIN_BLOCK fragment from sender. It returns the
// assembled, index-ordered chain and true once every index in
// [0, totalBlocks) has been observed for the current transfer from that
// sender. A new transfer from the same sender with a different
// totalBlocks discards whatever partial buffer existed for it, per
// §4.6's "pre-existing partial buffer is discarded" rule.
func (a *Assembler) Add(sender string, index, totalBlocks int, block BlockDict) ([]BlockDict, bool) {
	var t *transfer
	if v, ok := a.cache.Get(sender); ok {
		t = v.(*transfer)
		if t.totalBlocks != totalBlocks {
			t = nil
		}
	}
	if t == nil {
		t = &transfer{totalBlocks: totalBlocks, blocks: make(map[int]BlockDict, totalBlocks)}
	}
	t.blocks[index] = block
	a.cache.Add(sender, t)

	if len(t.blocks) < totalBlocks {
		return nil, false
	}
	ordered := make([]BlockDict, totalBlocks)
	for i := 0; i < totalBlocks; i++ {
		b, ok := t.blocks[i]
		if !ok {
			return nil, false
		}
		ordered[i] = b
	}
	a.cache.Remove(sender)
	return ordered, true
}

// Discard drops any partial transfer buffered for sender.
func (a *Assembler) Discard(sender string) {
	a.cache.Remove(sender)
}
