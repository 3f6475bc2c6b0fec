package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clarin-eric/oai-harvest-manager-sub001/config"
	"github.com/clarin-eric/oai-harvest-manager-sub001/logger"
	"github.com/clarin-eric/oai-harvest-manager-sub001/metrics"
	"github.com/clarin-eric/oai-harvest-manager-sub001/oai"
	"github.com/clarin-eric/oai-harvest-manager-sub001/output"
	"github.com/clarin-eric/oai-harvest-manager-sub001/overview"
	"github.com/clarin-eric/oai-harvest-manager-sub001/registry"
	"github.com/clarin-eric/oai-harvest-manager-sub001/runner"
	"github.com/clarin-eric/oai-harvest-manager-sub001/scenario"
)

func newHarvestCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Run one harvest cycle over all endpoints",
		Long: `Harvest loads the overview, adds the endpoints of the endpoint list, harvests
every admitted endpoint and saves the overview. Interrupting the run lets
running requests finish and still saves the overview.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := c.load()
			if err != nil {
				return err
			}
			defer log.Sync()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return harvest(ctx, cmd, cfg, log)
		},
	}
	flags := cmd.Flags()
	flags.String("mode", "", "override mode: normal, retry or refresh")
	flags.String("refresh-from", "", "refresh date (2006-01-02) for refresh mode")
	flags.Int("workers", 0, "number of endpoints harvested in parallel")
	flags.String("policy", "", "when all workers are busy: block or skip")
	flags.Duration("timeout", 0, "timeout of a single request")
	flags.Int("max-attempts", 0, "attempts per request, including the first")
	flags.Int("backups", 0, "overview backups to keep")
	flags.StringP("endpoints", "e", "", "endpoint list file, - for stdin")
	flags.StringP("output", "o", "", "output directory, records are discarded if empty")
	flags.StringSlice("formats", nil, "format selectors, e.g. namespace:http://www.clarin.eu/cmd/,prefix:cmdi")
	flags.String("window", "", "split date ranges: weekly or monthly")
	flags.String("set", "", "restrict list requests to a set")
	flags.Float64("rate", 0, "requests per second per worker, 0 for no limit")
	flags.String("metrics-file", "", "write metrics to this node-exporter textfile")
	c.bind(flags, map[string]string{
		"mode":         "harvest.mode",
		"refresh-from": "harvest.refresh_from",
		"workers":      "harvest.workers",
		"policy":       "harvest.policy",
		"timeout":      "harvest.timeout",
		"max-attempts": "harvest.max_attempts",
		"backups":      "overview.backups",
		"endpoints":    "endpoints",
		"output":       "output.dir",
		"formats":      "harvest.formats",
		"window":       "harvest.window",
		"set":          "harvest.set",
		"rate":         "harvest.rate",
		"metrics-file": "metrics.file",
	})
	return cmd
}

func harvest(ctx context.Context, cmd *cobra.Command, cfg *config.Config, log logger.Logger) (err error) {
	store, err := overview.NewFileStore(cfg.Overview.Path, cfg.Overview.Backups)
	if err != nil {
		return err
	}
	out := output.Discard
	if cfg.Output.Dir != "" {
		sink, err := output.NewFileSink(cfg.Output.Dir, output.WithLogger(log))
		if err != nil {
			return err
		}
		out = sink
	}
	defer func() {
		if cerr := out.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	// Validated by config.Load.
	selectors, _ := cfg.Selectors()
	mode, _ := cfg.Mode()
	refreshFrom, _ := cfg.RefreshDate()
	policy, _ := runner.ParsePolicy(cfg.Harvest.Policy)
	window, _ := oai.ParseWindow(cfg.Harvest.Window)

	m := metrics.New()
	coordinator := scenario.NewCoordinator(selectors, out,
		scenario.WithWindow(window),
		scenario.WithSet(cfg.Harvest.Set),
		scenario.WithLogger(log),
		scenario.WithMetrics(m))

	harvesters := make([]*oai.Harvester, cfg.Harvest.Workers)
	for i := range harvesters {
		harvesters[i] = oai.NewHarvester(oai.NewClient(cfg.Harvest.Timeout),
			oai.WithMaxAttempts(cfg.Harvest.MaxAttempts),
			oai.WithTimeout(cfg.Harvest.Timeout),
			oai.WithBackoff(cfg.Harvest.InitialBackoff, cfg.Harvest.MaxBackoff),
			oai.WithMaxRequests(cfg.Harvest.MaxRequests),
			oai.WithRateLimit(cfg.Harvest.Rate, cfg.Harvest.Burst),
			oai.WithLogger(log),
			oai.WithMetrics(m))
	}

	opts := []runner.Option{
		runner.WithMode(mode),
		runner.WithRefreshFrom(refreshFrom),
		runner.WithPolicy(policy),
		runner.WithMetricsFile(cfg.Metrics.File),
		runner.WithLogger(log),
		runner.WithMetrics(m),
	}
	if cfg.Endpoints != "" {
		opts = append(opts, runner.WithSource(registry.ListFile{Path: cfg.Endpoints, Stdin: cmd.InOrStdin()}))
	}
	summary, err := runner.New(store, coordinator, harvesters, opts...).Run(ctx)
	if summary != nil {
		summary.Render(cmd.OutOrStdout())
	}
	return err
}
