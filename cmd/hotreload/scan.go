package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/hotreload/internal/config"
	"github.com/vango-dev/hotreload/internal/scan"
	"github.com/vango-dev/hotreload/internal/walk"
)

func scanCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "scan [root]",
		Short: "Run one scan pass and list the tracked files",
		Long: `Walk the tree once, the way the scan strategy does, and print every
file that would be tracked.

Examples:
  hotreload scan ./app --ext php
  hotreload scan --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := splitArgs(cmd, args)
			cfg, err := loadConfig(cmd, root, nil)
			if err != nil {
				return err
			}
			return runScan(cmd.Context(), cfg, asJSON)
		},
	}

	addFilterFlags(cmd.Flags())
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")

	return cmd
}

type scanFile struct {
	Path     string    `json:"path"`
	Identity string    `json:"identity"`
	ModTime  time.Time `json:"modTime"`
}

type scanReport struct {
	Root     string     `json:"root"`
	Files    []scanFile `json:"files"`
	Total    int        `json:"total"`
	Skipped  int        `json:"skipped,omitempty"`
	Duration string     `json:"duration"`
}

func runScan(ctx context.Context, cfg *config.Config, asJSON bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	walker := walk.New(nil, cfg.RootPath(), cfg.Extensions)
	table := scan.NewTable(cfg.MaxTracked)
	comparator := scan.NewComparator(walker, table, nil, scan.WithLogger(slog.Default()))

	res, err := comparator.Pass(ctx)
	if err != nil {
		return err
	}

	report := scanReport{
		Root:     walker.Root(),
		Total:    res.Total,
		Skipped:  res.Skipped,
		Duration: res.Duration.String(),
	}
	for _, rec := range table.Snapshot() {
		report.Files = append(report.Files, scanFile{
			Path:     rec.Path,
			Identity: rec.Identity.String(),
			ModTime:  rec.ModTime,
		})
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	for _, f := range report.Files {
		info("%s  %s", f.ModTime.Format(scan.TimeLayout), f.Path)
	}
	fmt.Println()
	success("use: %.3fs total: %d files", res.Duration.Seconds(), res.Total)
	if res.Skipped > 0 {
		warn("%d files not tracked (maxTracked %d)", res.Skipped, table.Limit())
	}
	return nil
}
