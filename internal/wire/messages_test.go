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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	e := Envelope{Type: RegisterAck, PeerList: []string{"1.2.3.4:9000"}}
	raw, err := Encode(e)
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, RegisterAck, decoded.Type)
	assert.Equal(t, []string{"1.2.3.4:9000"}, decoded.PeerList)
}

func TestDecodeUnknownTypeDoesNotError(t *testing.T) {
	decoded, err := Decode([]byte(`{"type":"SOMETHING_ELSE"}`))
	require.NoError(t, err)
	assert.Equal(t, Type("SOMETHING_ELSE"), decoded.Type)
}

func TestDecodeMalformedJSONErrors(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestAssemblerReassemblesOutOfOrder(t *testing.T) {
	a := NewAssembler(4)
	blocks := []BlockDict{{Index: 0}, {Index: 1}, {Index: 2}}

	_, done := a.Add("peerA", 2, 3, blocks[2])
	assert.False(t, done)
	_, done = a.Add("peerA", 0, 3, blocks[0])
	assert.False(t, done)
	ordered, done := a.Add("peerA", 1, 3, blocks[1])
	require.True(t, done)
	require.Len(t, ordered, 3)
	assert.Equal(t, uint64(0), ordered[0].Index)
	assert.Equal(t, uint64(1), ordered[1].Index)
	assert.Equal(t, uint64(2), ordered[2].Index)
}

func TestAssemblerDiscardsStaleTransferOnNewTotal(t *testing.T) {
	a := NewAssembler(4)
	_, done := a.Add("peerA", 0, 3, BlockDict{Index: 0})
	assert.False(t, done)

	// A fresh transfer with a different total discards the old partial.
	_, done = a.Add("peerA", 0, 2, BlockDict{Index: 0})
	assert.False(t, done)
	_, done = a.Add("peerA", 1, 2, BlockDict{Index: 1})
	assert.True(t, done)
}
