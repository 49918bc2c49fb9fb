// Command minhos is the MDIC composition root: it wires the Symbol
// Registry, Bridge Transport, Tick Snapshot Ingestor, Time-Series Store,
// Gap Detector & Backfiller, Order Submission Bridge, Live Market Data
// Service, and Scheduler together per spec.md §6.7, exposing a small
// cobra command tree (start/status/gaps/backfill/test).
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/minhos/mdic/internal/archive"
	"github.com/minhos/mdic/internal/bridge"
	"github.com/minhos/mdic/internal/config"
	"github.com/minhos/mdic/internal/gapfill"
	"github.com/minhos/mdic/internal/livefeed"
	"github.com/minhos/mdic/internal/model"
	"github.com/minhos/mdic/internal/orders"
	"github.com/minhos/mdic/internal/scheduler"
	"github.com/minhos/mdic/internal/store"
	"github.com/minhos/mdic/internal/symbol"
)

const (
	exitOK           = 0
	exitConfigError  = 1
	exitRuntimeError = 2
	exitInterrupted  = 130
)

var configPath string

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	root := &cobra.Command{
		Use:   "minhos",
		Short: "MinhOS Market Data Integration Core",
		Long:  "minhos runs and inspects the market data integration core that bridges Sierra Chart's ACSIL export to MinhOS's storage and live feed layer.",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "mdic.yaml", "path to the MDIC configuration document")

	root.AddCommand(startCmd(), statusCmd(), gapsCmd(), backfillCmd(), testCmd())

	if err := root.Execute(); err != nil {
		os.Exit(exitRuntimeError)
	}
}

func loadConfigOrExit() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitConfigError)
	}
	return cfg
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()
	return ctx, cancel
}

// components bundles every wired piece start/status/gaps/backfill/test
// share, so each subcommand only does the parts of wiring it needs.
type components struct {
	cfg      *config.Config
	b        *bridge.Bridge
	registry *symbol.Registry
	st       *store.Store
	svc      *livefeed.Service
	detector *gapfill.Detector
	orderBr  *orders.Bridge
}

func wire(ctx context.Context, cfg *config.Config) (*components, error) {
	bridgeCfg := bridge.DefaultConfig(cfg.Bridge.BaseURL(), cfg.Bridge.AllowedPathPrefixes...)
	bridgeCfg.RequestTimeout = time.Duration(cfg.Bridge.TimeoutMs) * time.Millisecond
	b := bridge.New(bridgeCfg)

	registry, err := symbol.NewRegistry(cfg.Symbols.Roots)
	if err != nil {
		return nil, fmt.Errorf("building symbol registry: %w", err)
	}

	st, err := store.New(ctx, cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("connecting to store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close(context.Background())
		return nil, fmt.Errorf("migrating store: %w", err)
	}

	svc := livefeed.New(b, registry, st, livefeed.Config{
		PollInterval:     cfg.PollInterval(),
		SymbolOverride:   cfg.PollIntervalOverrides(),
		SnapshotPath:     func(contractSymbol string) string { return cfg.Ingestor.SnapshotDir + "/" + contractSymbol + ".json" },
		SubscriberBuffer: 256,
	})

	detector := gapfill.New(b, st,
		gapfill.DefaultGlobexHours(),
		gapfill.DefaultPathResolver(cfg.Bridge.AllowedPathPrefixes[0]),
		registry,
		gapfill.Config{
			Lookback:             time.Duration(cfg.Gapfiller.LookbackDays) * 24 * time.Hour,
			InitialLookback:      730 * 24 * time.Hour,
			RecentWindow:         7 * 24 * time.Hour,
			MaxConcurrentRepairs: cfg.Gapfiller.MaxConcurrent,
			UnrepairableCooldown: 24 * time.Hour,
			MaxIntradayFileBytes: 64 << 20,
		},
	)

	orderBr := orders.New(b, registry, orders.Config{
		PollInterval: time.Duration(cfg.Orders.PollIntervalMs) * time.Millisecond,
	})

	return &components{cfg: cfg, b: b, registry: registry, st: st, svc: svc, detector: detector, orderBr: orderBr}, nil
}

func (c *components) targets() []gapfill.Target {
	var targets []gapfill.Target
	for _, contract := range c.registry.AllActive() {
		targets = append(targets, gapfill.Target{
			Root:      contract.Root,
			Symbol:    contract.Canonical(),
			Timeframe: model.TimeframeDaily,
		})
	}
	return targets
}

// logCoverageSummary emits a structured log line per symbol/timeframe
// showing interval count and total days covered, driving Store.Coverage
// over every currently active contract (spec.md §4.10's coverage-summary
// task).
func (c *components) logCoverageSummary() {
	timeframes := []model.Timeframe{"", model.TimeframeDaily}
	for _, contract := range c.registry.AllActive() {
		symbol := contract.Canonical()
		for _, tf := range timeframes {
			cov := c.st.Coverage(symbol, tf)
			intervals := cov.Intervals()
			var totalDays float64
			for _, iv := range intervals {
				totalDays += iv.End.Sub(iv.Start).Hours() / 24
			}
			label := string(tf)
			if label == "" {
				label = "ticks"
			}
			log.Printf("coverage-summary: symbol=%s timeframe=%s intervals=%d total_days=%.2f",
				symbol, label, len(intervals), totalDays)
		}
	}
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "run all MDIC components",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfigOrExit()
			ctx, cancel := signalContext()
			defer cancel()

			c, err := wire(ctx, cfg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(exitRuntimeError)
			}
			defer c.st.Close(context.Background())

			sched := scheduler.New(log.Default())
			sched.Register(scheduler.Task{
				Name: "health-poll", Period: 30 * time.Second, JitterFrac: 0.1,
				Run: func(ctx context.Context) error { _, err := c.b.PollHealth(ctx); return err },
			})
			sched.Register(scheduler.Task{
				Name: "rollover-check", Period: time.Hour, JitterFrac: 0.05,
				Run: func(ctx context.Context) error {
					c.registry.Refresh()
					for _, a := range c.registry.PendingAlerts(time.Now()) {
						log.Printf("rollover-pending: contract=%s threshold=%d days_left=%d",
							a.Contract.Canonical(), a.Threshold, a.DaysLeft)
					}
					return nil
				},
			})
			sched.Register(scheduler.Task{
				Name: "coverage-summary", Period: 5 * time.Minute, JitterFrac: 0.1,
				Run: func(ctx context.Context) error {
					c.logCoverageSummary()
					return nil
				},
			})
			sched.Register(scheduler.Task{
				Name: "gap-scan", Period: 60 * time.Minute, JitterFrac: 0.1,
				Run: func(ctx context.Context) error {
					lookback := time.Duration(c.cfg.Gapfiller.LookbackDays) * 24 * time.Hour
					gaps := c.detector.Scan(c.targets(), time.Now(), lookback)
					if len(gaps) == 0 {
						return nil
					}
					return c.detector.RepairAll(ctx, gaps, time.Now())
				},
			})

			if c.cfg.Store.Backend == "mongo" {
				var s3Client archive.S3Uploader
				if c.cfg.Archive.S3Bucket != "" {
					awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.cfg.Archive.S3Region))
					if err != nil {
						fmt.Fprintf(os.Stderr, "error: loading AWS config for archive upload: %v\n", err)
						os.Exit(exitRuntimeError)
					}
					s3Client = s3.NewFromConfig(awsCfg)
				}
				archiver := archive.New(c.st.DB(), archive.Config{
					Dir:           c.cfg.Store.DataDir + "/archive",
					MaxLocalBytes: c.cfg.MaxLocalBytes(),
					Interval:      time.Duration(c.cfg.Gapfiller.IntervalS) * time.Second,
					MaxAge:        c.cfg.MaxAge(),
					S3Bucket:      c.cfg.Archive.S3Bucket,
					S3Prefix:      c.cfg.Archive.S3Prefix,
				}, s3Client)
				go archiver.Run(ctx)
			}

			go sched.Run(ctx)
			go c.svc.Run(ctx)

			mux := http.NewServeMux()
			rest := livefeed.NewRESTServer(c.svc)
			rest.Register(mux)

			addr := fmt.Sprintf("%s:%d", c.cfg.Server.Host, c.cfg.Server.Port)
			srv := &http.Server{Addr: addr, Handler: mux}

			go func() {
				<-ctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				srv.Shutdown(shutdownCtx)
			}()

			log.Printf("minhos listening on http://%s (status/live/ws)", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "error: server: %v\n", err)
				os.Exit(exitRuntimeError)
			}

			select {
			case <-ctx.Done():
				os.Exit(exitInterrupted)
			default:
			}
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print component health and coverage summary",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfigOrExit()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			c, err := wire(ctx, cfg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(exitRuntimeError)
			}
			defer c.st.Close(context.Background())

			health, err := c.b.PollHealth(ctx)
			if err != nil {
				fmt.Printf("bridge: unreachable (%v)\n", err)
			} else {
				fmt.Printf("bridge: status=%s last_data=%s degraded=%v\n",
					health.Status, health.LastDataTimestamp.Format(time.RFC3339), c.b.IsDegraded())
			}

			for _, contract := range c.registry.AllActive() {
				days, _ := c.registry.DaysUntilRollover(contract.Root, time.Now())
				cov := c.st.Coverage(contract.Canonical(), model.TimeframeDaily)
				fmt.Printf("root=%s current=%s days_until_rollover=%d coverage_intervals=%d\n",
					contract.Root, contract.Canonical(), days, len(cov.Intervals()))
			}
		},
	}
}

func gapsCmd() *cobra.Command {
	var symbolFlag string
	var days int
	cmd := &cobra.Command{
		Use:   "gaps",
		Short: "report missing coverage intervals for a symbol",
		Run: func(cmd *cobra.Command, args []string) {
			if symbolFlag == "" {
				fmt.Fprintln(os.Stderr, "error: --symbol is required")
				os.Exit(exitConfigError)
			}
			cfg := loadConfigOrExit()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			c, err := wire(ctx, cfg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(exitRuntimeError)
			}
			defer c.st.Close(context.Background())

			lookback := time.Duration(days) * 24 * time.Hour
			root := rootOf(symbolFlag)
			gaps := c.detector.Scan([]gapfill.Target{{Root: root, Symbol: symbolFlag, Timeframe: model.TimeframeDaily}}, time.Now(), lookback)
			if len(gaps) == 0 {
				fmt.Println("no gaps found")
				return
			}
			for _, g := range gaps {
				fmt.Printf("%s %s: %s -> %s\n", g.Symbol, g.Timeframe, g.Interval.Start.Format(time.RFC3339), g.Interval.End.Format(time.RFC3339))
			}
		},
	}
	cmd.Flags().StringVar(&symbolFlag, "symbol", "", "contract symbol to scan, e.g. NQZ27-CME")
	cmd.Flags().IntVar(&days, "days", 30, "lookback window in days")
	return cmd
}

func backfillCmd() *cobra.Command {
	var symbolFlag string
	var days int
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "scan for and repair missing coverage for a symbol",
		Run: func(cmd *cobra.Command, args []string) {
			if symbolFlag == "" {
				fmt.Fprintln(os.Stderr, "error: --symbol is required")
				os.Exit(exitConfigError)
			}
			cfg := loadConfigOrExit()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			c, err := wire(ctx, cfg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(exitRuntimeError)
			}
			defer c.st.Close(context.Background())

			lookback := time.Duration(days) * 24 * time.Hour
			root := rootOf(symbolFlag)
			gaps := c.detector.Scan([]gapfill.Target{{Root: root, Symbol: symbolFlag, Timeframe: model.TimeframeDaily}}, time.Now(), lookback)
			if len(gaps) == 0 {
				fmt.Println("no gaps to repair")
				return
			}
			if err := c.detector.RepairAll(ctx, gaps, time.Now()); err != nil {
				fmt.Fprintf(os.Stderr, "error: repair failed: %v\n", err)
				os.Exit(exitRuntimeError)
			}
			fmt.Printf("repaired %d gap(s)\n", len(gaps))
		},
	}
	cmd.Flags().StringVar(&symbolFlag, "symbol", "", "contract symbol to backfill, e.g. NQZ27-CME")
	cmd.Flags().IntVar(&days, "days", 30, "lookback window in days")
	return cmd
}

func testCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "check bridge connectivity",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfigOrExit()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			bridgeCfg := bridge.DefaultConfig(cfg.Bridge.BaseURL(), cfg.Bridge.AllowedPathPrefixes...)
			bridgeCfg.RequestTimeout = time.Duration(cfg.Bridge.TimeoutMs) * time.Millisecond
			b := bridge.New(bridgeCfg)

			health, err := b.PollHealth(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "connectivity check failed: %v\n", err)
				os.Exit(exitRuntimeError)
			}
			fmt.Printf("ok: status=%s last_data=%s\n", health.Status, health.LastDataTimestamp.Format(time.RFC3339))
		},
	}
}

// rootOf extracts the root from a canonical contract symbol, e.g.
// "NQZ27-CME" -> "NQ": everything before the single month-code letter that
// immediately precedes the two-digit year.
func rootOf(contractSymbol string) string {
	for i, r := range contractSymbol {
		if r >= '0' && r <= '9' && i >= 2 {
			return contractSymbol[:i-1]
		}
	}
	return contractSymbol
}
