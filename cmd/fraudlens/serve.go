package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/seenimoa/fraudlens/api"
	"github.com/seenimoa/fraudlens/internal/config"
	"github.com/seenimoa/fraudlens/internal/datasource"
	"github.com/seenimoa/fraudlens/internal/infra"
	"github.com/seenimoa/fraudlens/internal/screening"
	"github.com/seenimoa/fraudlens/internal/watch"
)

// --- Filings Command ---

func newFilingsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filings <cik>",
		Short: "List a company's recent filings from SEC EDGAR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			form, _ := cmd.Flags().GetString("form")
			if !cmd.Flags().Changed("form") {
				form = a.cfg.Filings.Form
			}

			filings, err := newFilingFeed(a.cfg).Recent(cmd.Context(), args[0], form)
			if err != nil {
				var httpErr *datasource.ErrHTTP
				if errors.As(err, &httpErr) && httpErr.StatusCode == 403 {
					return fmt.Errorf("%w (EDGAR requires a contact address in filings.user_agent)", err)
				}
				return err
			}

			out := cmd.OutOrStdout()
			if len(filings) == 0 {
				fmt.Fprintln(out, "No filings found.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "FILED\tFORM\tCOMPANY\tLINK")
			for _, f := range filings {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Filed.Format("2006-01-02"), f.Form, f.CompanyName, f.Link)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().String("form", "", "form type filter, e.g. 10-K (default from config; empty for all)")
	return cmd
}

func newFilingFeed(cfg *config.Config) *datasource.FilingFeed {
	return datasource.NewFilingFeed(
		datasource.WithBaseURL(cfg.Filings.BaseURL),
		datasource.WithUserAgent(cfg.Filings.UserAgent),
		datasource.WithCacheTTL(time.Duration(cfg.Filings.CacheTTL)*time.Second),
	)
}

// --- Serve Command ---

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API and WebSocket server",
		Long: `Start the HTTP API. Screening results and new filings from the watchlist
are pushed to WebSocket clients on /api/v1/ws.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if host, _ := cmd.Flags().GetString("host"); cmd.Flags().Changed("host") {
				cfg.API.Host = host
			}
			if port, _ := cmd.Flags().GetInt("port"); cmd.Flags().Changed("port") {
				cfg.API.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			engine, err := a.engine(cmd)
			if err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			metrics := infra.NewMetrics()
			hub := api.NewWSHub()
			feed := newFilingFeed(cfg)
			svc := a.service(engine, st,
				screening.WithNotifier(hub),
				screening.WithMetrics(metrics),
			)

			srv, err := api.NewServer(cfg, api.Deps{
				Service: svc,
				Store:   st,
				Filings: feed,
				Hub:     hub,
				Metrics: metrics,
				Logger:  a.logger,
				Version: version,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if len(cfg.Filings.Watchlist) > 0 {
				w, err := watch.New(feed, watch.Config{
					Watchlist: cfg.Filings.Watchlist,
					Form:      cfg.Filings.Form,
					Schedule:  cfg.Filings.PollCron,
				},
					watch.WithNotifier(hub),
					watch.WithMetrics(metrics),
					watch.WithLogger(a.logger),
				)
				if err != nil {
					return err
				}
				if err := w.Start(ctx); err != nil {
					return err
				}
				defer w.Stop()
			}

			a.logger.Info("starting fraudlens",
				"version", version,
				"addr", cfg.API.Addr(),
				"formula", engine.Formula(),
				"store", cfg.Store.Driver,
				"auth", cfg.API.AuthToken != "",
			)
			return srv.ListenAndServe(ctx, cfg.API.Addr())
		},
	}
	cmd.Flags().String("host", "", "listen host (default from config)")
	cmd.Flags().Int("port", 0, "listen port (default from config)")
	cmd.Flags().String("formula", "", "formula variant: compatible or canonical (default from config)")
	cmd.Flags().Bool("permissive", false, "return NaN/Inf ratios instead of failing on zero denominators")
	return cmd
}
