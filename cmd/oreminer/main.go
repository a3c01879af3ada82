// Package main implements oreminer, a command line miner for the ORE program.
// It registers signer identities, mines with local compute and claims rewards.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/urfave/cli"

	"github.com/bardlex/goore/internal/config"
	"github.com/bardlex/goore/internal/miner"
	"github.com/bardlex/goore/internal/ore"
	"github.com/bardlex/goore/pkg/log"
)

// set by the linker: go build -ldflags "-X main.version=M.N" ./...
var version = "dev"

// metadata is shared by every command through cli.App.Metadata.
type metadata struct {
	cfg    *config.Config
	logger *log.Logger
}

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	app := cli.NewApp()
	app.Name = "oreminer"
	app.Usage = "mine ORE with local compute"
	app.Version = version

	app.Writer = os.Stdout
	app.ErrWriter = os.Stderr

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rpc",
			Usage: " network address of your RPC provider `URL`",
		},
		cli.StringFlag{
			Name:  "keypair, k",
			Usage: " keypair file; numbered siblings are loaded too (key.json, key1.json, ...) `PATH`",
		},
		cli.Uint64Flag{
			Name:  "priority-fee",
			Usage: " microlamports per compute unit `PRICE`",
		},
		cli.StringFlag{
			Name:  "relay-auth",
			Usage: " block-engine credential; enables bundle delivery `TOKEN`",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: " log level [debug|info|warn|error]",
		},
	}
	app.Before = before

	beneficiary := cli.StringFlag{
		Name:  "beneficiary, b",
		Usage: " token account receiving rewards; defaults to the payer's `ADDRESS`",
	}

	app.Commands = []cli.Command{
		{
			Name:   "register",
			Usage:  "create proof accounts for every unregistered signer",
			Action: runRegister,
		},
		{
			Name:  "mine",
			Usage: "mine ORE until interrupted",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "threads, t",
					Usage: " search workers per signer `COUNT`",
				},
				cli.BoolFlag{
					Name:  "auto-claim, a",
					Usage: " claim rewards every --claim-every cycles",
				},
				cli.IntFlag{
					Name:  "claim-every",
					Usage: " auto-claim cadence in cycles `N`",
				},
				beneficiary,
			},
			Action: runMine,
		},
		{
			Name:   "claim",
			Usage:  "claim every signer's rewards in one transaction",
			Flags:  []cli.Flag{beneficiary},
			Action: runClaim,
		},
		{
			Name:  "events",
			Usage: "print miner events from ZMQ or Kafka",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "zmq",
					Usage: " ZMQ publisher to subscribe to `ENDPOINT`",
				},
				cli.StringFlag{
					Name:  "kafka-group",
					Value: "oreminer-events",
					Usage: " consumer group when reading Kafka `GROUP`",
				},
			},
			Action: runEvents,
		},
		{
			Name:  "stats",
			Usage: "summarize recorded submissions, claims and hashrate per signer",
			Flags: []cli.Flag{
				cli.DurationFlag{
					Name:  "since",
					Value: 24 * time.Hour,
					Usage: " count submissions over this `WINDOW`",
				},
				cli.IntFlag{
					Name:  "recent",
					Value: 10,
					Usage: " list this many recent submissions `N`",
				},
			},
			Action: runStats,
		},
	}
	return app
}

// before loads the environment and applies global flag overrides.
func before(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.GlobalIsSet("rpc") {
		cfg.RPCURL = c.GlobalString("rpc")
	}
	if c.GlobalIsSet("keypair") {
		cfg.Keypair = c.GlobalString("keypair")
	}
	if c.GlobalIsSet("priority-fee") {
		cfg.PriorityFee = c.GlobalUint64("priority-fee")
	}
	if c.GlobalIsSet("relay-auth") {
		cfg.RelayAuth = c.GlobalString("relay-auth")
	}
	if c.GlobalIsSet("log-level") {
		cfg.LogLevel = c.GlobalString("log-level")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.App.Metadata = map[string]interface{}{
		"meta": &metadata{
			cfg:    cfg,
			logger: log.New(cfg.ServiceName, version, cfg.LogLevel, cfg.LogFormat),
		},
	}
	return nil
}

func meta(c *cli.Context) *metadata {
	return c.App.Metadata["meta"].(*metadata)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// start loads the signers and wires the application.
func start(c *cli.Context) (*app, error) {
	m := meta(c)
	signers, err := loadSigners(m.cfg.Keypair)
	if err != nil {
		return nil, err
	}
	m.logger.Info("keypairs loaded", "count", len(signers))
	return newApp(m.cfg, signers, m.logger)
}

func runRegister(c *cli.Context) error {
	a, err := start(c)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	if err := a.miner.Register(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "all signers registered")
	return nil
}

func runMine(c *cli.Context) error {
	m := meta(c)
	if c.IsSet("threads") {
		m.cfg.Threads = c.Int("threads")
	}
	if c.IsSet("auto-claim") {
		m.cfg.AutoClaim = c.Bool("auto-claim")
	}
	if c.IsSet("claim-every") {
		m.cfg.ClaimEvery = c.Int("claim-every")
	}
	if c.IsSet("beneficiary") {
		m.cfg.Beneficiary = c.String("beneficiary")
	}
	if err := m.cfg.Validate(); err != nil {
		return err
	}

	a, err := start(c)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	err = a.miner.Mine(ctx, miner.MineOptions{
		Threads:     m.cfg.Threads,
		AutoClaim:   m.cfg.AutoClaim,
		ClaimEvery:  m.cfg.ClaimEvery,
		Beneficiary: m.cfg.BeneficiaryKey(),
	})
	if stderrors.Is(err, context.Canceled) {
		m.logger.Info("mining stopped")
		return nil
	}
	return err
}

func runClaim(c *cli.Context) error {
	m := meta(c)
	beneficiary := m.cfg.BeneficiaryKey()
	if c.IsSet("beneficiary") {
		key, err := solana.PublicKeyFromBase58(c.String("beneficiary"))
		if err != nil {
			return fmt.Errorf("invalid beneficiary: %w", err)
		}
		beneficiary = &key
	}

	a, err := start(c)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	result, err := a.miner.Claim(ctx, beneficiary)
	if err != nil {
		return err
	}
	printClaim(c.App.Writer, result)
	return nil
}

// printClaim renders the outcome of a claim.
func printClaim(w io.Writer, result *miner.ClaimResult) {
	if result.NothingToClaim {
		fmt.Fprintln(w, "no rewards to claim")
		return
	}
	for _, sc := range result.Claims {
		fmt.Fprintf(w, "  %s  %s ORE\n", sc.Signer, ore.FormatAmount(sc.Amount))
	}
	fmt.Fprintf(w, "claimed %s ORE to %s\n", result.TotalORE(), result.Beneficiary)
	fmt.Fprintf(w, "transaction: %s\n", result.Signature)
}
