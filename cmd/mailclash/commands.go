package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/beekhof/mailclash/internal/app"
	"github.com/beekhof/mailclash/internal/auth"
	"github.com/beekhof/mailclash/internal/metrics"
	"github.com/beekhof/mailclash/internal/model"
	"github.com/beekhof/mailclash/internal/storage/atomicfile"
	calsync "github.com/beekhof/mailclash/internal/sync"
)

const authorizationTimeout = 5 * time.Minute

func newLinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link",
		Short: "Link a Gmail account through the browser consent flow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := setup(cmd, true)
			if err != nil {
				return err
			}
			defer d.Close()

			out := cmd.OutOrStdout()
			if n := len(d.service.Accounts()); n >= d.cfg.MaxEmailAccounts {
				return fmt.Errorf("%w: maximum of %d email accounts reached", model.ErrAccountLimitExceeded, d.cfg.MaxEmailAccounts)
			}
			result := auth.Authorize(cmd.Context(), d.provider, out, authorizationTimeout)
			account, err := d.service.Link(cmd.Context(), result)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Linked %s\n", account.ID)
			return nil
		},
	}
}

func newAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List linked accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer d.Close()

			for _, id := range d.service.Accounts() {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func newUnlinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlink EMAIL",
		Short: "Unlink an account and drop its events and clashes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.service.Unlink(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unlinked %s\n", args[0])
			return nil
		},
	}
}

func newIngestCmd() *cobra.Command {
	var withSync bool
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch invitations from every linked account and detect clashes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := setup(cmd, true)
			if err != nil {
				return err
			}
			defer d.Close()

			report, err := d.service.Ingest(cmd.Context(), withSync)
			if err != nil {
				return err
			}
			printIngestReport(cmd, report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&withSync, "sync", false, "Also copy events to the destination calendar")
	return cmd
}

func printIngestReport(cmd *cobra.Command, report *app.IngestReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Events: %d (dropped %d messages)\n", report.Events, report.Dropped)
	for _, w := range report.Warnings {
		fmt.Fprintf(out, "Warning: %v\n", w)
	}
	fmt.Fprintf(out, "Clashes: %d (%d new)\n", len(report.Clashes), len(report.NewClashes))
	if report.Sync != nil {
		fmt.Fprintf(out, "Synced: %d inserted, %d already present, %d failed\n",
			report.Sync.Count(calsync.Inserted),
			report.Sync.Count(calsync.Skipped)+report.Sync.Count(calsync.Linked),
			report.Sync.Count(calsync.Failed))
		for _, f := range report.Sync.Failures() {
			fmt.Fprintf(out, "Sync failed for %s: %v\n", f.EventID, f.Err)
		}
	}
}

func newClashesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clashes",
		Short: "List active clashes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer d.Close()

			clashes := d.service.Clashes()
			if len(clashes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No clashes.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CLASH\tEVENT\tSTART\tEND\tTITLE")
			for _, c := range clashes {
				for _, e := range []model.Event{c.Event1, c.Event2} {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ID, e.ID,
						e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339), e.Title)
				}
			}
			return tw.Flush()
		},
	}
}

func newResolveCmd() *cobra.Command {
	var keep string
	cmd := &cobra.Command{
		Use:   "resolve CLASH_ID",
		Short: "Resolve a clash by keeping one of its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.service.Resolve(args[0], keep); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Kept %s; %d clash(es) remaining\n", keep, len(d.service.Clashes()))
			return nil
		},
	}
	cmd.Flags().StringVar(&keep, "keep", "", "Event id to keep (required)")
	_ = cmd.MarkFlagRequired("keep")
	return cmd
}

func newExportCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the unified event set as an iCalendar file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer d.Close()

			if outPath == "" || outPath == "-" {
				w := bufio.NewWriter(cmd.OutOrStdout())
				if err := d.service.Export(w); err != nil {
					return err
				}
				return w.Flush()
			}

			var buf bytes.Buffer
			if err := d.service.Export(&buf); err != nil {
				return err
			}
			if err := atomicfile.Write(outPath, buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", outPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file (default stdout)")
	return cmd
}

func newWatchCmd() *cobra.Command {
	var schedule, metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Ingest and sync on a schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := setup(cmd, true)
			if err != nil {
				return err
			}
			defer d.Close()

			if schedule == "" {
				schedule = d.cfg.WatchSchedule
			}
			if metricsAddr == "" {
				metricsAddr = d.cfg.MetricsAddr
			}
			return watch(cmd.Context(), d, schedule, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", "Cron schedule (default from watch_schedule)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

func watch(ctx context.Context, d *deps, schedule, metricsAddr string) error {
	log := d.log.With().Str("component", "watch").Logger()

	run := func() {
		report, err := d.service.Ingest(ctx, true)
		if err != nil {
			log.Error().Stack().Err(err).Msg("ingest run failed")
			return
		}
		for _, w := range report.Warnings {
			log.Warn().Str("account", w.AccountID).Err(w.Err).Msg("account skipped")
		}
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(&log))))
	if _, err := c.AddFunc(schedule, run); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	var srv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
		log.Info().Str("addr", metricsAddr).Msg("serving metrics")
	}

	log.Info().Str("schedule", schedule).Msg("watching")
	run()
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	log.Info().Msg("stopped")
	return nil
}
