package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"followcast/internal/api"
	"followcast/internal/campaign"
	"followcast/internal/cmdlog"
	"followcast/internal/config"
	"followcast/internal/ingest"
	"followcast/internal/jobs"
	"followcast/internal/logging"
	"followcast/internal/metrics"
	"followcast/internal/model"
	"followcast/internal/query"
	"followcast/internal/theme"
	"followcast/internal/util"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// withApp loads config, wires the app under a signal-bound context and runs f.
func withApp(name string, f func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logging.Sync()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return cmdlog.Run(name, func() error {
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		return f(ctx, a)
	})
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// init

var initPath string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Save(initPath, config.Default()); err != nil {
			return err
		}
		abs, err := filepath.Abs(initPath)
		if err != nil {
			abs = initPath
		}
		theme.PrintBanner(cmd.OutOrStdout())
		fmt.Fprintln(cmd.OutOrStdout(), "Config written to:", abs)
		return nil
	},
}

// serve

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("serve", runServe)
	},
}

func runServe(ctx context.Context, a *app) error {
	var account string
	interval := a.cfg.Ingest.RefreshInterval()
	if interval > 0 {
		var err error
		if account, err = a.account(ctx); err != nil {
			return err
		}
	}
	srv := api.NewServer(a.svc, a.feed).HTTPServer(a.cfg.Server.Addr)
	msrv := metrics.NewServer(a.cfg.Metrics.Addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info("api_listen", map[string]any{"addr": a.cfg.Server.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	if msrv != nil {
		g.Go(func() error {
			logging.Info("metrics_listen", map[string]any{"addr": a.cfg.Metrics.Addr})
			if err := msrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	if interval > 0 {
		g.Go(func() error {
			err := jobs.RunRefreshLoop(gctx, interval, func(context.Context) error {
				_, err := a.svc.BuildCache(account, string(ingest.Resume))
				return err
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		if msrv != nil {
			err = errors.Join(err, msrv.Shutdown(sctx))
		}
		if !a.registry.Wait(shutdownTimeout) {
			logging.Warn("campaigns_still_running", nil)
		}
		a.jobs.Wait()
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}

// build

var buildMode string

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Crawl the follower graph into the cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := ingest.ParseMode(buildMode)
		if err != nil {
			return err
		}
		return withApp("build", func(ctx context.Context, a *app) error {
			account, err := a.account(ctx)
			if err != nil {
				return err
			}
			task, err := a.jobs.StartBuild(account, mode)
			if err != nil {
				return err
			}
			<-task.Done()
			st, serr := a.jobs.Status(context.Background(), account)
			if serr == nil {
				_ = printJSON(cmd, st)
			}
			return task.Err()
		})
	},
}

// status

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache build progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("status", func(ctx context.Context, a *app) error {
			account, err := a.account(ctx)
			if err != nil {
				return err
			}
			st, err := a.svc.GetCacheStatus(ctx, account)
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		})
	},
}

// query

var queryFlags struct {
	campaign         string
	tags             []string
	sort             string
	offset           int
	limit            int
	includeContacted bool
	rehearsal        bool
	json             bool
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "List cached followers by tag and order",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("query", func(ctx context.Context, a *app) error {
			account, err := a.account(ctx)
			if err != nil {
				return err
			}
			p := query.Params{
				Account:          account,
				CampaignID:       queryFlags.campaign,
				Tags:             queryFlags.tags,
				Sort:             model.SortMode(queryFlags.sort),
				IncludeContacted: queryFlags.includeContacted,
				Rehearsal:        queryFlags.rehearsal,
			}
			if cmd.Flags().Changed("offset") {
				p.Offset = &queryFlags.offset
			}
			if cmd.Flags().Changed("limit") {
				p.Limit = &queryFlags.limit
			}
			rows, err := a.svc.QueryFollowers(ctx, p)
			if err != nil {
				return err
			}
			if queryFlags.json {
				return printJSON(cmd, rows)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "AGE\tID\tUSERNAME\tNAME\tFOLLOWERS\tCONTACTED")
			for _, f := range rows {
				contacted := "-"
				if f.ContactedAt != nil {
					contacted = f.ContactedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%d\t%s\t@%s\t%s\t%d\t%s\n", f.Age, f.ID, f.Username, util.NormalizeWhitespace(f.Name), f.FollowersCount, contacted)
			}
			return tw.Flush()
		})
	},
}

// send

var sendFlags struct {
	message     string
	messageFile string
	id          string
	sort        string
	pacing      string
	dryRun      bool
	count       int
	tags        []string
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Run a direct-message campaign and wait for it to stop",
	RunE: func(cmd *cobra.Command, args []string) error {
		msg := sendFlags.message
		if sendFlags.messageFile != "" {
			b, err := os.ReadFile(sendFlags.messageFile)
			if err != nil {
				return err
			}
			msg = strings.TrimRight(string(b), "\n")
		}
		return withApp("send", func(ctx context.Context, a *app) error {
			account, err := a.account(ctx)
			if err != nil {
				return err
			}
			d := campaign.Descriptor{
				Account: account,
				Message: msg,
				ID:      sendFlags.id,
				Sort:    model.SortMode(sendFlags.sort),
				Pacing:  model.Pacing(sendFlags.pacing),
				DryRun:  sendFlags.dryRun,
				Tags:    sendFlags.tags,
			}
			if cmd.Flags().Changed("count") {
				d.Count = &sendFlags.count
			}
			ack, err := a.svc.RunCampaign(d)
			if err != nil {
				return err
			}
			logging.Info("campaign_submitted", map[string]any{"run_id": ack.RunID, "campaign_id": ack.CampaignID})
			run, ok := a.registry.Last(account)
			if !ok {
				return errors.New("campaign run not registered")
			}
			<-run.Done()
			snap := run.Snapshot()
			if err := printJSON(cmd, snap); err != nil {
				return err
			}
			if snap.State == campaign.StateAborted {
				return fmt.Errorf("campaign aborted: %s", snap.Error)
			}
			return nil
		})
	},
}

func init() {
	initCmd.Flags().StringVar(&initPath, "path", "./followcast.yaml", "path to write config")

	buildCmd.Flags().StringVar(&buildMode, "mode", string(ingest.Resume), "resume or rebuild")

	f := queryCmd.Flags()
	f.StringVar(&queryFlags.campaign, "campaign", "", "campaign id used for contacted filtering")
	f.StringSliceVar(&queryFlags.tags, "tags", nil, "bio tags, any match")
	f.StringVar(&queryFlags.sort, "sort", "", "influence or recent")
	f.IntVar(&queryFlags.offset, "offset", 0, "rows to skip")
	f.IntVar(&queryFlags.limit, "limit", 0, "maximum rows")
	f.BoolVar(&queryFlags.includeContacted, "include-contacted", false, "keep followers the campaign already messaged")
	f.BoolVar(&queryFlags.rehearsal, "rehearsal", false, "read contacted state from dry-run history")
	f.BoolVar(&queryFlags.json, "json", false, "print JSON")

	s := sendCmd.Flags()
	s.StringVar(&sendFlags.message, "message", "", "message text")
	s.StringVar(&sendFlags.messageFile, "message-file", "", "read the message from a file")
	s.StringVar(&sendFlags.id, "id", "", "campaign id (derived from the message when empty)")
	s.StringVar(&sendFlags.sort, "sort", "", "influence or recent")
	s.StringVar(&sendFlags.pacing, "pacing", "", "burst or spread")
	s.BoolVar(&sendFlags.dryRun, "dry-run", false, "record sends without messaging")
	s.IntVar(&sendFlags.count, "count", 0, "maximum sends in this run")
	s.StringSliceVar(&sendFlags.tags, "tags", nil, "bio tags, any match")
}
