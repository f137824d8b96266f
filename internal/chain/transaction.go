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

// Package chain implements the append-only, proof-of-work-secured
// ledger of vote transactions: transactions, blocks, and the chain
// itself (mining, validation, fork handling, tallying).
package chain

import "time"

// TimeLayout is the fixed, UTC "YYYY-MM-DD HH:MM:SS" timestamp format
// used by every Transaction and Block in the system.
const TimeLayout = "2006-01-02 15:04:05"

// Transaction is an immutable vote record. Once constructed it is never
// mutated; a receiver reconstructs an equivalent value from wire data
// rather than referencing the sender's copy.
type Transaction struct {
	VoterID     string `json:"voter_id"`
	CandidateID string `json:"candidate_id"`
	Timestamp   string `json:"timestamp"`
}

// NewTransaction builds a Transaction stamped with the current UTC time.
func NewTransaction(voterID, candidateID string) Transaction {
	return Transaction{
		VoterID:     voterID,
		CandidateID: candidateID,
		Timestamp:   time.Now().UTC().Format(TimeLayout),
	}
}
