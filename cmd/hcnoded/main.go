// Command hcnoded runs the headers-only network coordinator: it parses
// flags into a config.Config, resolves the selected chain's parameters,
// starts node.Coordinator, and blocks until an OS signal requests shutdown.
//
// github.com/urfave/cli/v2 is declared as a direct dependency in the
// teacher's go.mod but no call site survived in the retrieved copy of its
// source; this is its first real use in this module, built the way the
// library's own docs and the rest of the example pack's CLI entrypoints
// shape a flag set (a Flag for each of the chain, magic, listen, NAT and
// datadir fields of Config plus the log level, an Action closure that
// builds and runs the service). ConnectInterval, MaintenanceInterval,
// FeelerMaxDelayMultiplier and TestNonce have no flags and keep their
// config.Default values.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/chainwatch/hcd/config"
	"github.com/chainwatch/hcd/node"
	"github.com/chainwatch/hcd/ulogger"
)

func main() {
	app := &cli.App{
		Name:  "hcnoded",
		Usage: "headers-only chain sync node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "chain", Value: "mainnet", Usage: "mainnet, testnet or regtest"},
			&cli.UintFlag{Name: "magic", Usage: "override the chain's wire magic (0 uses the chain default)"},
			&cli.UintFlag{Name: "listen-port", Usage: "TCP port to listen on"},
			&cli.BoolFlag{Name: "listen", Value: true, Usage: "accept inbound connections"},
			&cli.BoolFlag{Name: "nat", Usage: "attempt NAT port mapping when listening"},
			&cli.StringFlag{Name: "datadir", Value: ".", Usage: "directory for peers.json, banlist.json, anchors.json, headers.json"},
			&cli.StringFlag{Name: "log-level", Value: "info"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func run(cctx *cli.Context) error {
	cfg := config.Default()
	cfg.ChainName = cctx.String("chain")
	cfg.NetworkMagic = uint32(cctx.Uint("magic"))
	cfg.ListenPort = uint16(cctx.Uint("listen-port"))
	cfg.ListenEnabled = cctx.Bool("listen")
	cfg.EnableNAT = cctx.Bool("nat")
	cfg.Datadir = cctx.String("datadir")

	params, err := cfg.Validate()
	if err != nil {
		return err
	}

	log := ulogger.New("hcnoded", cctx.String("log-level"))

	coord, err := node.New(node.Options{
		Config: &cfg,
		Params: params,
		Logger: log,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Infof("hcnoded: starting on %s (magic %#x)", params.Name, cfg.NetworkMagic)
	err = coord.Start(ctx)
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
