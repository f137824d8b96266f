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
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// GenesisTimestamp is the literal timestamp baked into the canonical
// genesis block. It must be bit-identical across every correct peer,
// so it is never derived from the wall clock.
const GenesisTimestamp = "2000-01-01 00:00:00"

// Block is a single entry of the chain: a header plus the transactions
// it carries. Hash is a pure function of every other field; mutating any
// field without recomputing Hash produces a block that fails its own
// proof-of-work check.
type Block struct {
	Index        uint64        `json:"index"`
	Transactions []Transaction `json:"transactions"`
	Timestamp    string        `json:"timestamp"`
	PreviousHash string        `json:"previous_hash"`
	Nonce        uint64        `json:"nonce"`
	Hash         string        `json:"hash"`
}

// canonicalTransaction mirrors Transaction with alphabetically ordered
// fields, for the same reason as the payload struct in computeHash.
type canonicalTransaction struct {
	CandidateID string `json:"candidate_id"`
	Timestamp   string `json:"timestamp"`
	VoterID     string `json:"voter_id"`
}

func canonicalize(txs []Transaction) []canonicalTransaction {
	out := make([]canonicalTransaction, len(txs))
	for i, tx := range txs {
		out[i] = canonicalTransaction{
			CandidateID: tx.CandidateID,
			Timestamp:   tx.Timestamp,
			VoterID:     tx.VoterID,
		}
	}
	return out
}

// computeHash returns the SHA-256 hex digest of the canonical
// serialization of every field of b except Hash itself, per §4.1.
func computeHash(index uint64, txs []Transaction, timestamp, previousHash string, nonce uint64) string {
	payload := struct {
		Index        uint64                  `json:"index"`
		Nonce        uint64                  `json:"nonce"`
		PreviousHash string                  `json:"previous_hash"`
		Timestamp    string                  `json:"timestamp"`
		Transactions []canonicalTransaction  `json:"transactions"`
	}{
		Index:        index,
		Nonce:        nonce,
		PreviousHash: previousHash,
		Timestamp:    timestamp,
		Transactions: canonicalize(txs),
	}
	// encoding/json emits struct fields in declaration order, which is
	// already alphabetical here, reproducing Python's sort_keys=True.
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
	sum := sha256.Sum256(bytes.TrimRight(buf.Bytes(), "\n"))
	return hex.EncodeToString(sum[:])
}

// ComputeHash recomputes the SHA-256 hash of b's header and transactions.
func (b Block) ComputeHash() string {
	return computeHash(b.Index, b.Transactions, b.Timestamp, b.PreviousHash, b.Nonce)
}

// ValidAt reports whether hash has at least d leading hex zero characters.
func ValidAt(hash string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if len(hash) < difficulty {
		return false
	}
	return strings.Count(hash[:difficulty], "0") == difficulty
}

// newCandidateBlock builds an unsealed block (nonce 0, hash computed but
// not yet checked against difficulty) extending prev with txs.
func newCandidateBlock(index uint64, txs []Transaction, timestamp, previousHash string) Block {
	b := Block{
		Index:        index,
		Transactions: txs,
		Timestamp:    timestamp,
		PreviousHash: previousHash,
		Nonce:        0,
	}
	b.Hash = b.ComputeHash()
	return b
}

// Genesis returns the canonical genesis block. It is identical across
// every correct peer: index 0, empty transactions, previous hash "0",
// the fixed GenesisTimestamp, and nonce 0.
func Genesis() Block {
	b := Block{
		Index:        0,
		Transactions: []Transaction{},
		Timestamp:    GenesisTimestamp,
		PreviousHash: "0",
		Nonce:        0,
	}
	b.Hash = b.ComputeHash()
	return b
}
