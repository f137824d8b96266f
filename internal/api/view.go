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

// Package api exposes a peer's chain, tally, peer list, and lifecycle
// state over HTTP and a push websocket feed, for external dashboards
// and tooling that should never touch peerhost internals directly.
package api

import "github.com/probeum/votechain/internal/chain"

// Reader is the read-only surface of a running peer that the HTTP
// server renders. *peerhost.Peer satisfies it without either package
// importing the other's internals.
type Reader interface {
	ChainSnapshot() []chain.Block
	Tally() map[string]int
	PeerList() []string
	State() string
}

// BlockView is the JSON shape of a block returned by GET /chain.
type BlockView struct {
	Index        uint64       `json:"index"`
	Timestamp    string       `json:"timestamp"`
	PreviousHash string       `json:"previous_hash"`
	Nonce        uint64       `json:"nonce"`
	Hash         string       `json:"hash"`
	Transactions []TxView     `json:"transactions"`
}

// TxView is the JSON shape of a transaction within a BlockView.
type TxView struct {
	VoterID     string `json:"voter_id"`
	CandidateID string `json:"candidate_id"`
	Timestamp   string `json:"timestamp"`
}

func toBlockViews(blocks []chain.Block) []BlockView {
	out := make([]BlockView, len(blocks))
	for i, b := range blocks {
		txs := make([]TxView, len(b.Transactions))
		for j, tx := range b.Transactions {
			txs[j] = TxView{VoterID: tx.VoterID, CandidateID: tx.CandidateID, Timestamp: tx.Timestamp}
		}
		out[i] = BlockView{
			Index:        b.Index,
			Timestamp:    b.Timestamp,
			PreviousHash: b.PreviousHash,
			Nonce:        b.Nonce,
			Hash:         b.Hash,
			Transactions: txs,
		}
	}
	return out
}

// StateView is the JSON shape of GET /state.
type StateView struct {
	State string `json:"state"`
}

// PeersView is the JSON shape of GET /peers.
type PeersView struct {
	Peers []string `json:"peers"`
}
