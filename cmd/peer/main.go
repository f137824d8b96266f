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

// cmd/peer runs one voting node: it registers with a tracker, fetches
// the ballot, mines votes into the chain, gossips blocks, and exposes
// an interactive console plus a read-only HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/peterh/liner"
	"gopkg.in/urfave/cli.v1"

	"github.com/probeum/votechain/cmd/utils"
	"github.com/probeum/votechain/internal/api"
	"github.com/probeum/votechain/internal/chain"
	"github.com/probeum/votechain/internal/peerhost"
	"github.com/probeum/votechain/internal/xlog"
)

var maliciousFlag = cli.BoolFlag{
	Name:  "malicious",
	Usage: "seal mined blocks with an invalid hash, for adversarial testing",
}

func main() {
	app := cli.NewApp()
	app.Name = "peer"
	app.Usage = "votechain voting node"
	app.ArgsUsage = "<local_port> <local_addr> <tracker_port> <tracker_addr>"
	app.Flags = []cli.Flag{utils.ConfigFlag, maliciousFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		utils.Fatalf("%v", err)
	}
}

func run(cliCtx *cli.Context) error {
	if cliCtx.NArg() != 4 {
		return fmt.Errorf("usage: %s", cliCtx.App.ArgsUsage)
	}
	localPort := utils.ParsePort(cliCtx.Args().Get(0), "local_port")
	localAddr := cliCtx.Args().Get(1)
	trackerPort := utils.ParsePort(cliCtx.Args().Get(2), "tracker_port")
	trackerAddr := cliCtx.Args().Get(3)
	malicious := cliCtx.Bool(maliciousFlag.Name)

	cfg := utils.LoadConfig(cliCtx)
	log := xlog.With("cmd")

	p, err := peerhost.New(utils.Endpoint(localAddr, localPort), utils.Endpoint(trackerAddr, trackerPort), cfg)
	if err != nil {
		log.Crit("failed to start peer", "err", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		p.LeaveNetwork(ctx)
		cancel()
	}()

	p.Start(ctx)

	apiAddr := utils.Endpoint("127.0.0.1", localPort+cfg.APIPortOffset)
	server := api.New(apiAddr, p)
	go func() {
		if err := server.ListenAndServe(ctx); err != nil {
			log.Warn("api server stopped", "err", err)
		}
	}()
	log.Info("read API listening", "addr", apiAddr)

	log.Info("connecting to tracker")
	if err := p.Connect(ctx); err != nil {
		log.Crit("failed to connect", "err", err)
	}
	log.Info("connected", "endpoint", p.LocalEndpoint())

	runREPL(ctx, p, malicious, log)
	return p.Wait()
}

func runREPL(ctx context.Context, p *peerhost.Peer, malicious bool, log *xlog.Logger) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Println("votechain peer console - type 'help' for commands")
	for {
		input, err := line.Prompt("votechain> ")
		if err != nil {
			break
		}
		line.AppendHistory(input)
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		fields := strings.Fields(input)
		switch fields[0] {
		case "help":
			printHelp()
		case "ballot":
			if err := p.RequestBallotOptions(ctx); err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("ballot:", strings.Join(p.BallotOptions(), ", "))
		case "vote":
			if len(fields) != 2 {
				fmt.Println("usage: vote <candidate_id>")
				continue
			}
			tx := chain.NewTransaction(p.LocalEndpoint(), fields[1])
			var err error
			if malicious {
				err = p.SubmitMaliciousVote(ctx, tx)
			} else {
				err = p.SubmitVote(ctx, tx)
			}
			if err != nil {
				fmt.Println("error:", err)
			}
		case "chain":
			printChain(p)
		case "tally":
			printTally(p)
		case "peers":
			for _, ep := range p.PeerList() {
				fmt.Println(ep)
			}
		case "status":
			printStatus(p)
		case "quit", "exit":
			p.LeaveNetwork(ctx)
			return
		default:
			fmt.Println("unknown command, type 'help'")
		}
	}
}

func printHelp() {
	fmt.Println(`commands:
  ballot           request the current ballot from the tracker
  vote <id>        cast a vote for candidate <id>
  chain            print the local chain
  tally            print the current vote tally
  peers            list known peer endpoints
  status           print connection state and chain length
  quit             leave the network and exit`)
}

func printChain(p *peerhost.Peer) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Index", "Hash", "Previous", "Nonce", "Votes"})
	for _, b := range p.ChainSnapshot() {
		table.Append([]string{
			strconv.FormatUint(b.Index, 10),
			short(b.Hash),
			short(b.PreviousHash),
			strconv.FormatUint(b.Nonce, 10),
			strconv.Itoa(len(b.Transactions)),
		})
	}
	table.Render()
}

func printTally(p *peerhost.Peer) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Candidate", "Votes"})
	for candidate, votes := range p.Tally() {
		table.Append([]string{candidate, strconv.Itoa(votes)})
	}
	table.Render()
}

func printStatus(p *peerhost.Peer) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Field", "Value"})
	table.Append([]string{"endpoint", p.LocalEndpoint()})
	table.Append([]string{"state", p.State()})
	table.Append([]string{"chain length", strconv.Itoa(len(p.ChainSnapshot()))})
	table.Append([]string{"peers", strconv.Itoa(len(p.PeerList()))})
	table.Render()
}

func short(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}
