package main

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/clarin-eric/oai-harvest-manager-sub001/logger"
	"github.com/clarin-eric/oai-harvest-manager-sub001/oai"
	"github.com/clarin-eric/oai-harvest-manager-sub001/registry"
)

func newIdentifyCommand(c *cli) *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "identify [endpoint...]",
		Short: "Print repository information as JSON, one line per endpoint",
		Long: `Identify asks every endpoint for Identify, ListMetadataFormats and ListSets.
Without arguments, endpoints are read from stdin, one per line.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := c.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			var entries []registry.Entry
			if len(args) == 0 {
				if entries, err = registry.Parse(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			for _, a := range args {
				entries = append(entries, registry.Entry{URI: strings.TrimSpace(a)})
			}

			h := oai.NewHarvester(oai.NewClient(cfg.Harvest.Timeout),
				oai.WithMaxAttempts(cfg.Harvest.MaxAttempts),
				oai.WithTimeout(cfg.Harvest.Timeout),
				oai.WithBackoff(cfg.Harvest.InitialBackoff, cfg.Harvest.MaxBackoff),
				oai.WithLogger(log))

			var (
				mu  sync.Mutex
				enc = json.NewEncoder(cmd.OutOrStdout())
				g   errgroup.Group
			)
			g.SetLimit(max(workers, 1))
			for _, e := range entries {
				g.Go(func() error {
					info, err := oai.AboutEndpoint(cmd.Context(), h, e.URI)
					if err != nil {
						return err
					}
					if len(info.Errors) > 0 {
						log.Warn("incomplete repository info", logger.String("endpoint", e.URI), logger.Strings("errors", info.Errors))
					}
					mu.Lock()
					defer mu.Unlock()
					return enc.Encode(info)
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 8, "requests in parallel")
	return cmd
}
