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

// Package wire implements the self-describing JSON message envelopes
// exchanged over UDP between peers and the tracker. Each datagram holds
// one JSON object tagged with a "type" discriminator; unknown or
// malformed envelopes are dropped by the caller rather than this
// package panicking or erroring loudly.
package wire

import "encoding/json"

// Type identifies the shape of a message's payload.
type Type string

const (
	RegisterPeer  Type = "REGISTER_PEER"
	RegisterAck   Type = "REGISTER_ACK"
	LeavePeer     Type = "LEAVE_PEER"
	RequestBallot Type = "REQUEST_BALLOT"
	BallotOptions Type = "BALLOT_OPTIONS"
	UpdatePeers   Type = "UPDATE_PEERS"
	Poke          Type = "POKE"
	PokeAck       Type = "POKE-ACK"
	NewBlock      Type = "NEW_BLOCK"
	RequestChain  Type = "REQUEST_CHAIN"
	ChainResponse Type = "CHAIN_RESPONSE"
	ChainBlock    Type = "CHAIN_BLOCK"
)

// BlockDict is the wire shape of a chain.Block, named to match §6 of the
// specification. It is defined independently of chain.Block so this
// package has no dependency on the chain package's internals.
type BlockDict struct {
	Index        uint64          `json:"index"`
	Timestamp    string          `json:"timestamp"`
	PreviousHash string          `json:"previous_hash"`
	Nonce        uint64          `json:"nonce"`
	Hash         string          `json:"hash"`
	Transactions []TxDict        `json:"transactions"`
}

// TxDict is the wire shape of a chain.Transaction.
type TxDict struct {
	VoterID     string `json:"voter_id"`
	CandidateID string `json:"candidate_id"`
	Timestamp   string `json:"timestamp"`
}

// Envelope is the tagged union of every message variant. Only the
// payload fields belonging to Type are populated (none for bare
// messages such as POKE; Index, TotalBlocks and Block together for
// CHAIN_BLOCK); this mirrors the
// reference specification's untyped {"type": ...} datagrams while still
// giving Go callers a typed per-variant payload, per the "replace
// dynamic dispatch / dict payloads with a tagged message variant"
// design note.
type Envelope struct {
	Type Type `json:"type"`

	PeerList      []string   `json:"peer_list,omitempty"`
	VotingOptions []string   `json:"voting_options,omitempty"`
	Block         *BlockDict `json:"block,omitempty"`
	Chain         []BlockDict `json:"chain,omitempty"`
	Index         int        `json:"index,omitempty"`
	TotalBlocks   int        `json:"total_blocks,omitempty"`
}

// Encode marshals e to the bytes of a single UDP datagram.
func Encode(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses raw datagram bytes into an Envelope. Decode itself never
// validates semantic correctness (e.g. that a CHAIN_BLOCK has a non-nil
// Block) — callers drop malformed or out-of-state messages per §7.
func Decode(raw []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(raw, &e)
	return e, err
}
