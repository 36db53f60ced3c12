// Copyright 2025 The duesync Authors
// This file is part of the duesync library.
//
// The duesync library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The duesync library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the duesync library. If not, see <http://www.gnu.org/licenses/>.

// duesync mirrors Portal Único export declarations (DUEs) into Postgres:
// it discovers declarations for imported invoices, keeps stored ones
// current, and respects the portal's hourly request budget throughout.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/brasilcomex/duesync/auth"
	"github.com/brasilcomex/duesync/client"
	"github.com/brasilcomex/duesync/config"
	"github.com/brasilcomex/duesync/due"
	"github.com/brasilcomex/duesync/internal/log"
	"github.com/brasilcomex/duesync/rategate"
	"github.com/brasilcomex/duesync/store"
	"github.com/brasilcomex/duesync/syncer"
)

var (
	limitFlag = &cli.IntFlag{
		Name:  "limit",
		Usage: "cap the number of candidates this run processes (0 = configured default)",
	}
	workersFlag = &cli.IntFlag{
		Name:  "workers",
		Usage: "worker pool size (0 = derived from the request budget)",
	}
)

func main() {
	app := &cli.App{
		Name:  "duesync",
		Usage: "synchronize Portal Único export declarations into Postgres",
		Commands: []*cli.Command{
			{
				Name:  "discover-new",
				Usage: "resolve unlinked invoices and fetch their declarations",
				Flags: []cli.Flag{limitFlag, workersFlag},
				Action: func(c *cli.Context) error {
					return withSyncer(c, func(ctx context.Context, s *syncer.Syncer) error {
						_, err := s.DiscoverNew(ctx, c.Int("limit"), c.Int("workers"))
						return err
					})
				},
			},
			{
				Name:  "refresh-existing",
				Usage: "probe stored declarations and re-fetch the changed ones",
				Flags: []cli.Flag{limitFlag, workersFlag},
				Action: func(c *cli.Context) error {
					return withSyncer(c, func(ctx context.Context, s *syncer.Syncer) error {
						_, err := s.RefreshExisting(ctx, c.Int("limit"), c.Int("workers"))
						return err
					})
				},
			},
			{
				Name:  "full",
				Usage: "discover-new followed by refresh-existing",
				Flags: []cli.Flag{limitFlag, workersFlag},
				Action: func(c *cli.Context) error {
					return withSyncer(c, func(ctx context.Context, s *syncer.Syncer) error {
						if _, err := s.DiscoverNew(ctx, c.Int("limit"), c.Int("workers")); err != nil {
							return err
						}
						_, err := s.RefreshExisting(ctx, c.Int("limit"), c.Int("workers"))
						return err
					})
				},
			},
			{
				Name:      "refresh-one",
				Usage:     "force a full fetch of one declaration",
				ArgsUsage: "DUE",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("refresh-one requires exactly one declaration number", 2)
					}
					numero := c.Args().First()
					return withSyncer(c, func(ctx context.Context, s *syncer.Syncer) error {
						return s.RefreshOne(ctx, numero)
					})
				},
			},
			{
				Name:      "refresh-bonded-acts",
				Usage:     "re-fetch only the drawback concessionary acts for the given declarations",
				ArgsUsage: "DUE [DUE ...]",
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return cli.Exit("refresh-bonded-acts requires at least one declaration number", 2)
					}
					numbers := c.Args().Slice()
					return withSyncer(c, func(ctx context.Context, s *syncer.Syncer) error {
						_, err := s.RefreshBondedActs(ctx, numbers)
						return err
					})
				},
			},
			{
				Name:  "status",
				Usage: "print stored declaration and invoice counts",
				Action: func(c *cli.Context) error {
					return withSyncer(c, func(ctx context.Context, s *syncer.Syncer) error {
						counts, err := s.Status(ctx)
						if err != nil {
							return err
						}
						printStatus(counts)
						return nil
					})
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "duesync:", err)
		os.Exit(1)
	}
}

// withSyncer loads configuration, wires the process-wide collaborators and
// runs fn under signal-driven cancellation and the optional run deadline.
func withSyncer(c *cli.Context, fn func(ctx context.Context, s *syncer.Syncer) error) error {
	cfg, err := config.Load()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	logger := log.New(cfg.LogLevel, cfg.LogFile)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.RunDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RunDeadline)
		defer cancel()
	}

	gate := rategate.New(cfg.SafeRequestLimit, cfg.RateLimitHour, cfg.RateLimitBurst)

	var credStore auth.Store
	if cfg.RedisAddr != "" {
		rs := auth.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword)
		defer rs.Close()
		credStore = rs
	}
	httpc := &http.Client{Timeout: cfg.HTTPTimeout}
	authority := auth.New(auth.Config{
		URL:          cfg.AuthURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		MinInterval:  cfg.AuthInterval(),
		Validity:     cfg.TokenValidity(),
		SafetyMargin: cfg.TokenSafetyMargin(),
	}, httpc, credStore, logger)

	api := client.New(httpc, gate, authority, cfg.Location(), logger)

	st, err := store.Open(ctx, cfg.DSN(), logger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer st.Close()

	cache, err := store.NewLinkCache(ctx, st)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	s := syncer.New(cfg, api, st, cache, nil, logger)
	if err := fn(ctx, s); err != nil {
		logger.Errorw("Run failed", "err", err)
		return cli.Exit("", 1)
	}
	return nil
}

func printStatus(counts *store.Counts) {
	fmt.Printf("invoices imported:  %d\n", counts.Invoices)
	fmt.Printf("invoices linked:    %d\n", counts.Linked)
	total := 0
	situations := make([]string, 0, len(counts.BySituation))
	for s, n := range counts.BySituation {
		situations = append(situations, s)
		total += n
	}
	sort.Strings(situations)
	fmt.Printf("declarations:       %d\n", total)
	for _, s := range situations {
		fmt.Printf("  %-42s %d\n", s, counts.BySituation[s])
	}
	fmt.Println("rows per table:")
	for _, table := range due.AllTables {
		fmt.Printf("  %-42s %d\n", table, counts.ByTable[table])
	}
}
