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

// cmd/tracker runs the rendezvous service: peer registration, ballot
// distribution, and heartbeat-driven eviction.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/urfave/cli.v1"

	"github.com/probeum/votechain/cmd/utils"
	"github.com/probeum/votechain/internal/tracker"
	"github.com/probeum/votechain/internal/xlog"
)

func main() {
	app := cli.NewApp()
	app.Name = "tracker"
	app.Usage = "votechain rendezvous tracker"
	app.ArgsUsage = "<listen_port> <bind_addr> <ballot_options>"
	app.Flags = []cli.Flag{utils.ConfigFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		utils.Fatalf("%v", err)
	}
}

func run(ctx *cli.Context) error {
	if ctx.NArg() != 3 {
		return fmt.Errorf("usage: %s", ctx.App.ArgsUsage)
	}
	port := utils.ParsePort(ctx.Args().Get(0), "listen_port")
	bindAddr := ctx.Args().Get(1)
	ballot := utils.SplitBallot(ctx.Args().Get(2))

	cfg := utils.LoadConfig(ctx)
	log := xlog.With("cmd")

	addr := utils.Endpoint(bindAddr, port)
	tr, err := tracker.New(addr, cfg, func() []string { return ballot })
	if err != nil {
		log.Crit("failed to start tracker", "addr", addr, "err", err)
	}
	defer tr.Close()

	log.Info("tracker listening", "addr", addr, "ballot", ballot)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	return tr.Run(runCtx)
}
