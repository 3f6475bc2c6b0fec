package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/clarin-eric/oai-harvest-manager-sub001/config"
	"github.com/clarin-eric/oai-harvest-manager-sub001/logger"
)

// cli carries the state shared by all commands.
type cli struct {
	v       *viper.Viper
	cfgFile string
}

func newRootCommand() *cobra.Command {
	c := &cli{v: config.NewViper()}
	root := &cobra.Command{
		Use:   "oaiharvest",
		Short: "Incremental OAI-PMH harvest manager",
		Long: `oaiharvest decides per endpoint whether to harvest fully, incrementally
or not at all, harvests on a pool of workers and records every outcome in an
overview file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env file is fine.
			_ = godotenv.Load()
			return nil
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (yaml)")
	flags.String("overview", "", "overview file (default overview.xml)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: json or console")
	c.bind(flags, map[string]string{
		"overview":   "overview.path",
		"log-level":  "log.level",
		"log-format": "log.format",
	})

	root.AddCommand(
		newHarvestCommand(c),
		newStatusCommand(c),
		newIdentifyCommand(c),
		newVersionCommand(),
	)
	return root
}

// bind maps flag names to configuration keys. Binding only fails for
// unknown flags, which is a programming error.
func (c *cli) bind(flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if err := c.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind %s: %v", name, err))
		}
	}
}

// load returns the validated configuration and a logger built from it.
func (c *cli) load() (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(c.v, c.cfgFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, log, nil
}
