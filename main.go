package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/baicai-1145/bilibili-short-video-blocker/internal/app"
)

var (
	configPath string
	dbPath     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bili-blocker",
		Short: "Decision engine for hiding short and low-value Bilibili feed cards",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "config file path")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides config)")

	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(decisionsCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(thresholdCmd())
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(followCmd())
	rootCmd.AddCommand(watchCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".bili-blocker", "config.toml")
}

type env struct {
	cfg     app.Config
	store   *app.SQLiteStore
	session *app.Session
	logger  *slog.Logger
}

func openEnv(ctx context.Context, withSession bool) (*env, func(), error) {
	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create db dir: %w", err)
	}
	logger := app.NewLogger(cfg.LogLevel, cfg.LogFormat)

	store, err := app.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}

	e := &env{cfg: cfg, store: store, logger: logger}
	if withSession {
		client := app.NewBiliClient(cfg.APIBaseURL, cfg.BiliCredentials(), cfg.RequestTimeout(), logger)
		e.session = app.NewSession(app.SessionOptions{
			Store:    store,
			Metadata: client,
			Follows:  client,
			Effector: app.NewStateEffector(),
			Logger:   logger,
		})
		e.session.Init(ctx)
	}
	cleanup := func() { store.Close() }
	return e, cleanup, nil
}

func evaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate <cards.json>",
		Short: "Evaluate card snapshots and print verdicts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, cleanup, err := openEnv(ctx, true)
			if err != nil {
				return err
			}
			defer cleanup()

			scanner := &app.Scanner{Session: e.session}
			report, err := scanner.ScanFile(ctx, args[0])
			if err != nil {
				return err
			}
			printReport(report)
			return nil
		},
	}
}

func printReport(report *app.ScanReport) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"ID", "Title", "Duration", "Verdict", "Reason"})
	appendRows := func(cards []app.CardSnapshot, verdict string) {
		for _, card := range cards {
			key := card.Identity().Key()
			duration := card.Duration
			if card.DurationSeconds != nil {
				duration = strconv.Itoa(*card.DurationSeconds) + "s"
			}
			reason := ""
			if v, ok := report.Verdicts[key]; ok {
				reason = string(v.Reason)
			}
			t.AppendRow(table.Row{key, truncate(card.Title, 40), duration, verdict, reason})
		}
	}
	appendRows(report.Blocked, "block")
	appendRows(report.Allowed, "allow")
	t.Render()
	if report.Skipped > 0 {
		fmt.Printf("%d card(s) skipped: no video identity\n", report.Skipped)
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

func decisionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "Inspect the decision log",
	}
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent decisions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, cleanup, err := openEnv(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup()

			records, err := app.NewStatsService(e.store).RecentDecisions(ctx, limit)
			if err != nil {
				return err
			}
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"When", "ID", "Title", "Author", "Result", "Reason"})
			for _, r := range records {
				when := time.UnixMilli(r.Timestamp).Format("2006-01-02 15:04:05")
				t.AppendRow(table.Row{when, r.ID, truncate(r.Title, 30), truncate(r.Author, 20), string(r.Result), r.Reason})
			}
			t.Render()
			return nil
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to show")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the decision log",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, cleanup, err := openEnv(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup()
			if err := e.store.ClearDecisionRecords(ctx); err != nil {
				return err
			}
			fmt.Println("decision log cleared")
			return nil
		},
	}

	cmd.AddCommand(listCmd, clearCmd)
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show decision log statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, cleanup, err := openEnv(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup()

			summary, err := app.NewStatsService(e.store).GetSummary(ctx)
			if err != nil {
				return err
			}
			encoded, err := json.MarshalIndent(summary, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(encoded))
			return nil
		},
	}
}

func thresholdCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threshold",
		Short: "Get or set the duration threshold",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the threshold in seconds",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, cleanup, err := openEnv(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup()
			fmt.Println(e.store.ReadThreshold(ctx))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <seconds>",
		Short: "Set the threshold in seconds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, cleanup, err := openEnv(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup()
			if err := e.store.SaveThreshold(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println(e.store.ReadThreshold(ctx))
			return nil
		},
	})
	return cmd
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect or replace the clip rule list",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the normalized clip rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, cleanup, err := openEnv(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup()
			encoded, err := json.MarshalIndent(e.store.ReadClipSettings(ctx), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(encoded))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <settings.json>",
		Short: "Replace the clip rule list from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, cleanup, err := openEnv(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup()
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var raw any
			if err := json.Unmarshal(data, &raw); err != nil {
				return fmt.Errorf("parse settings: %w", err)
			}
			if err := e.store.SaveClipSettings(ctx, raw); err != nil {
				return err
			}
			settings := e.store.ReadClipSettings(ctx)
			fmt.Printf("saved %d rule(s)\n", len(settings.Rules))
			return nil
		},
	})
	return cmd
}

func followCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "follow",
		Short: "Manage the follow whitelist",
	}
	var force bool
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Refresh the follow whitelist from the remote API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, cleanup, err := openEnv(ctx, true)
			if err != nil {
				return err
			}
			defer cleanup()
			settings := e.session.SyncFollows(ctx, force)
			fmt.Printf("follow whitelist: enabled=%v entries=%d\n", settings.Enabled, len(settings.Follows))
			return nil
		},
	}
	syncCmd.Flags().BoolVar(&force, "force", false, "ignore the refresh interval")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print the stored follow whitelist",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, cleanup, err := openEnv(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup()
			settings := e.store.ReadFollowSettings(ctx)
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Name", "UID"})
			for _, entry := range settings.Follows {
				uid := ""
				if entry.UID != nil {
					uid = strconv.FormatInt(*entry.UID, 10)
				}
				t.AppendRow(table.Row{entry.Name, uid})
			}
			t.Render()
			return nil
		},
	}

	cmd.AddCommand(syncCmd, listCmd)
	return cmd
}

func watchCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch <cards.json>",
		Short: "Re-evaluate a snapshot file on an interval and keep the whitelist fresh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e, cleanup, err := openEnv(ctx, true)
			if err != nil {
				return err
			}
			defer cleanup()

			scanner := &app.Scanner{Session: e.session}
			scan := func() {
				report, err := scanner.ScanFile(ctx, args[0])
				if err != nil {
					fmt.Fprintf(os.Stderr, "scan failed: %v\n", err)
					return
				}
				fmt.Printf("%s allowed=%d blocked=%d skipped=%d\n",
					time.Now().Format(time.RFC3339), len(report.Allowed), len(report.Blocked), report.Skipped)
			}
			scan()

			c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
			if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), scan); err != nil {
				return err
			}
			if _, err := c.AddFunc(fmt.Sprintf("@every %s", app.FollowRefreshInterval), func() {
				e.session.SyncFollows(ctx, false)
			}); err != nil {
				return err
			}
			c.Start()
			defer c.Stop()

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "rescan interval")
	return cmd
}
