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

// Package config holds the tunables shared by the tracker and peer
// binaries, with optional TOML overrides of the built-in defaults.
package config

import (
	"bufio"
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/naoina/toml"
)

// Config collects every tunable named by the specification.
type Config struct {
	// Difficulty is the number of leading hex zeros a block hash must
	// have to be considered valid proof of work.
	Difficulty int

	// HeartbeatInterval is how often the tracker POKEs each registered peer.
	HeartbeatInterval time.Duration

	// HeartbeatTimeoutCount is the number of consecutive missed POKEs
	// before a peer is evicted from the registry.
	HeartbeatTimeoutCount int

	// RetryInterval is the cadence at which a peer resends REGISTER_PEER
	// or REQUEST_BALLOT while waiting for the matching acknowledgement.
	RetryInterval time.Duration

	// ReceiveTimeout bounds each blocking read on the shared UDP socket,
	// so the receive loop periodically wakes to service retries/heartbeats.
	ReceiveTimeout time.Duration

	// SocketBufferBytes is the receive buffer size for UDP reads; must be
	// large enough for a single-datagram CHAIN_RESPONSE.
	SocketBufferBytes int

	// MaxSingleDatagramChainBytes is the serialized-chain size above
	// which a peer switches from CHAIN_RESPONSE to block-by-block
	// CHAIN_BLOCK fragments.
	MaxSingleDatagramChainBytes int

	// TransferAssemblyCacheSize bounds the number of concurrent
	// in-flight block-by-block chain transfers a peer buffers.
	TransferAssemblyCacheSize int

	// SendRateLimitPerSec and SendBurst bound outbound datagram rate on
	// the shared socket.
	SendRateLimitPerSec float64
	SendBurst           int

	// APIPortOffset is added to a peer's local port to derive its HTTP
	// read-interface listen port.
	APIPortOffset int
}

// Defaults returns the tunables documented by the specification.
func Defaults() Config {
	return Config{
		Difficulty:                  2,
		HeartbeatInterval:           time.Second,
		HeartbeatTimeoutCount:       3,
		RetryInterval:               500 * time.Millisecond,
		ReceiveTimeout:              200 * time.Millisecond,
		SocketBufferBytes:           64 * 1024,
		MaxSingleDatagramChainBytes: 64*1024 - 2*1024,
		TransferAssemblyCacheSize:   32,
		SendRateLimitPerSec:         200,
		SendBurst:                   400,
		APIPortOffset:               10000,
	}
}

// tomlSettings mirrors the reference repos' convention of keeping TOML
// keys identical to Go struct field names.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field %q is not defined in %s", field, rt.String())
	},
}

// LoadTOML reads path and overlays it onto Defaults(). Only fields
// present in the file are changed.
func LoadTOML(path string) (Config, error) {
	cfg := Defaults()
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	if err := tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg); err != nil {
		if _, ok := err.(*toml.LineError); ok {
			return cfg, fmt.Errorf("%s, %v", path, err)
		}
		return cfg, err
	}
	return cfg, nil
}
