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

// Package peerhost implements a node's per-process state machine:
// registration with the tracker, ballot fetch, mining, broadcast, chain
// sync, and fork recovery.
package peerhost

// State is one stage of a Peer's lifecycle, per §4.3 of the
// specification.
type State int

const (
	StateInit State = iota
	StateRegistering
	StateConnected
	StateRequestingBallot
	StateConnectedWithBallot
	StateLeaving
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRegistering:
		return "REGISTERING"
	case StateConnected:
		return "CONNECTED"
	case StateRequestingBallot:
		return "REQUESTING_BALLOT"
	case StateConnectedWithBallot:
		return "CONNECTED_WITH_BALLOT"
	case StateLeaving:
		return "LEAVING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// isLive reports whether s is any state in which the peer still
// participates in the network (i.e. everything except CLOSED).
func (s State) isLive() bool {
	return s != StateClosed
}
