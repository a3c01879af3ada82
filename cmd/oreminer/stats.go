package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli"

	"github.com/bardlex/goore/internal/database"
	"github.com/bardlex/goore/internal/miner"
)

// runStats prints what the ledger and status stores recorded for the
// configured signers.
func runStats(c *cli.Context) error {
	m := meta(c)

	signers, err := loadSigners(m.cfg.Keypair)
	if err != nil {
		return err
	}
	keys := miner.Session{Signers: signers}.PublicKeys()
	pubkeys := make([]string, len(keys))
	for i, key := range keys {
		pubkeys[i] = key.String()
	}

	dbCfg := databaseConfig(m.cfg)
	dbCfg.Influx = nil
	if !dbCfg.Enabled() {
		return fmt.Errorf("stats need POSTGRES_URL or REDIS_URL")
	}
	manager, err := database.NewManager(dbCfg, m.logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = manager.Close()
	}()

	ctx, stop := signalContext()
	defer stop()

	report, err := manager.Report(ctx, database.ReportOptions{
		Signers: pubkeys,
		Since:   time.Now().Add(-c.Duration("since")),
		Recent:  c.Int("recent"),
	})
	if err != nil {
		return err
	}
	printReport(c.App.Writer, report)
	return nil
}

func printReport(w io.Writer, r *database.Report) {
	if r.Submissions != nil {
		statuses := make([]string, 0, len(r.Submissions))
		for status := range r.Submissions {
			statuses = append(statuses, status)
		}
		sort.Strings(statuses)

		fmt.Fprintf(w, "submissions since %s:", r.Since.Format(time.RFC3339))
		if len(statuses) == 0 {
			fmt.Fprint(w, " none")
		}
		for _, status := range statuses {
			fmt.Fprintf(w, " %s=%d", status, r.Submissions[status])
		}
		fmt.Fprintln(w)
	}
	if r.LandedToday+r.FailedToday > 0 {
		fmt.Fprintf(w, "today: %d landed, %d failed\n", r.LandedToday, r.FailedToday)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SIGNER\tCLAIMED ORE\tHASHRATE\tLAST SOLUTION")
	for _, s := range r.Signers {
		last := "-"
		if s.LastSolution != nil {
			last = s.LastSolution.FoundAt.Format(time.RFC3339)
		} else if at := s.Status["last_solution_at"]; at != "" {
			last = at
		}
		fmt.Fprintf(tw, "%s\t%s\t%.0f H/s\t%s\n", s.Signer, s.Claimed.String(), s.Hashrate, last)
	}
	_ = tw.Flush()

	if len(r.Recent) > 0 {
		fmt.Fprintln(w, "recent submissions:")
		for _, sub := range r.Recent {
			line := fmt.Sprintf("  %s  %-6s %-8s %s", sub.SubmittedAt.Format(time.RFC3339), sub.Operation, sub.Status, sub.Strategy)
			if sub.Signature.Valid {
				line += "  " + sub.Signature.String
			}
			if sub.Error.Valid {
				line += "  " + sub.Error.String
			}
			fmt.Fprintln(w, line)
		}
	}
}
