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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenesisIsDeterministic(t *testing.T) {
	a := Genesis()
	b := Genesis()
	assert.Equal(t, a.Hash, b.Hash)
	assert.Equal(t, uint64(0), a.Index)
	assert.Equal(t, "0", a.PreviousHash)
	assert.Empty(t, a.Transactions)
	assert.Equal(t, GenesisTimestamp, a.Timestamp)
	assert.Len(t, a.Hash, 64)
}

func TestComputeHashChangesWithAnyField(t *testing.T) {
	base := newCandidateBlock(1, []Transaction{{VoterID: "v1", CandidateID: "A", Timestamp: "2024-01-01 00:00:00"}}, "2024-01-01 00:00:01", Genesis().Hash)
	h := base.Hash

	mutated := base
	mutated.Nonce++
	assert.NotEqual(t, h, mutated.ComputeHash())

	mutated = base
	mutated.Transactions = []Transaction{{VoterID: "v1", CandidateID: "B", Timestamp: base.Transactions[0].Timestamp}}
	assert.NotEqual(t, h, mutated.ComputeHash())

	mutated = base
	mutated.PreviousHash = "deadbeef"
	assert.NotEqual(t, h, mutated.ComputeHash())
}

func TestValidAt(t *testing.T) {
	assert.True(t, ValidAt("00abc", 2))
	assert.True(t, ValidAt("0000", 0))
	assert.False(t, ValidAt("0abc", 2))
	assert.False(t, ValidAt("0", 2))
}

func TestBlockRoundTripPreservesHash(t *testing.T) {
	b := newCandidateBlock(1, []Transaction{{VoterID: "v1", CandidateID: "A", Timestamp: "2024-01-01 00:00:00"}}, "2024-01-01 00:00:01", Genesis().Hash)

	raw, err := json.Marshal(b)
	require.NoError(t, err)

	var decoded Block
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, b.Hash, decoded.Hash)
	assert.Equal(t, b.Hash, decoded.ComputeHash())
}
