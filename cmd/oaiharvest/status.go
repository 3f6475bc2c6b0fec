package main

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/clarin-eric/oai-harvest-manager-sub001/cycle"
	"github.com/clarin-eric/oai-harvest-manager-sub001/overview"
)

func newStatusCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of every endpoint in the overview",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := c.load()
			if err != nil {
				return err
			}
			store, err := overview.NewFileStore(cfg.Overview.Path, cfg.Overview.Backups)
			if err != nil {
				return err
			}
			o, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			renderStatus(cmd.OutOrStdout(), o)
			return nil
		},
	}
}

func renderStatus(w io.Writer, o *overview.Overview) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	title := "mode " + string(o.Settings.Mode)
	if !o.Settings.RefreshFrom.IsZero() {
		title += ", refresh from " + o.Settings.RefreshFrom.Format("2006-01-02")
	}
	t.SetTitle(title)
	t.AppendHeader(table.Row{"Endpoint", "Group", "State", "Flags", "Scenario", "Attempted", "Harvested", "Count", "Increment"})
	for _, s := range o.Endpoints() {
		t.AppendRow(table.Row{
			s.URI, s.Group, cycle.Status(&s), flags(s), s.Scenario,
			stamp(s.LastAttempted), stamp(s.LastSucceeded), s.RecordCount, s.RecordIncrement,
		})
	}
	t.AppendFooter(table.Row{o.Len(), "", "", "", "", "", "", "", ""})
	t.Render()
}

// flags abbreviates blocked, retry and incremental.
func flags(s overview.EndpointState) string {
	b := []byte("---")
	if s.Blocked {
		b[0] = 'b'
	}
	if s.AllowRetry {
		b[1] = 'r'
	}
	if s.AllowIncremental {
		b[2] = 'i'
	}
	return string(b)
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
