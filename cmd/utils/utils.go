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

// Package utils collects the small pieces of command-line plumbing
// shared by cmd/tracker and cmd/peer.
package utils

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/urfave/cli.v1"

	"github.com/probeum/votechain/internal/config"
)

// Fatalf prints an error to stderr and exits with status 1, mirroring
// the reference CLI's top-level error handling.
func Fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "fatal: "+format+"\n", args...)
	os.Exit(1)
}

// ConfigFlag is the shared --config flag accepted by both binaries.
var ConfigFlag = cli.StringFlag{
	Name:  "config",
	Usage: "path to a TOML file overriding the built-in defaults",
}

// LoadConfig resolves the effective Config for a run: the built-in
// defaults, optionally overridden by the file named in --config.
func LoadConfig(ctx *cli.Context) config.Config {
	path := ctx.GlobalString(ConfigFlag.Name)
	if path == "" {
		return config.Defaults()
	}
	cfg, err := config.LoadTOML(path)
	if err != nil {
		Fatalf("loading config %s: %v", path, err)
	}
	return cfg
}

// Endpoint joins an address and a port into the "ip:port" string used
// throughout the wire protocol and the CLI's positional arguments.
func Endpoint(addr string, port int) string {
	return net.JoinHostPort(addr, strconv.Itoa(port))
}

// ParsePort parses a positional port argument, failing fatally with a
// usage-shaped message on a malformed value.
func ParsePort(raw, argName string) int {
	port, err := strconv.Atoi(raw)
	if err != nil {
		Fatalf("invalid %s %q: %v", argName, raw, err)
	}
	return port
}

// SplitBallot parses a comma-separated ballot option list, trimming
// whitespace and dropping empty entries.
func SplitBallot(raw string) []string {
	var out []string
	for _, opt := range strings.Split(raw, ",") {
		opt = strings.TrimSpace(opt)
		if opt != "" {
			out = append(out, opt)
		}
	}
	return out
}
