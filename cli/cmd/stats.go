package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/pgnstream/cli/config"
	"github.com/justapithecus/pgnstream/cli/render"
	"github.com/justapithecus/pgnstream/lode"
	"github.com/justapithecus/pgnstream/runtime"
	"github.com/justapithecus/pgnstream/types"
)

// statsTimeout bounds the dataset scan.
const statsTimeout = 30 * time.Second

// StatsCommand returns the stats command.
// Stats reads the latest run metrics persisted to storage; it never downloads.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show persisted run metrics from storage",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Path to pgnstream.yaml"},
			&cli.StringFlag{Name: "storage-dataset", Usage: "Lode dataset ID", Value: lode.DefaultDataset},
			&cli.StringFlag{Name: "storage-backend", Usage: "Storage backend: fs or s3"},
			&cli.StringFlag{Name: "storage-path", Usage: "Storage path (fs: directory, s3: bucket/prefix)"},
			&cli.StringFlag{Name: "storage-region", Usage: "AWS region for S3 backend"},
			&cli.StringFlag{Name: "storage-endpoint", Usage: "Custom S3 endpoint"},
			&cli.BoolFlag{Name: "storage-s3-path-style", Usage: "Force path-style S3 addressing"},
			&cli.StringFlag{Name: "run-id", Usage: "Read metrics for a specific run ID"},
			&cli.StringFlag{Name: "archive", Usage: "Filter by archive month (YYYY-MM)"},
			&cli.StringFlag{Name: "variant", Usage: "Filter by archive variant"},
		}, OutputFlags()...),
		Action: statsAction,
	}
}

func statsAction(c *cli.Context) error {
	if err := rejectTUI(c, "stats"); err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	s := storageChoice{
		dataset:      resolveString(c, "storage-dataset", configVal(cfg, func(c *config.Config) string { return c.Storage.Dataset })),
		backend:      resolveString(c, "storage-backend", configVal(cfg, func(c *config.Config) string { return c.Storage.Backend })),
		path:         resolveString(c, "storage-path", configVal(cfg, func(c *config.Config) string { return c.Storage.Path })),
		region:       resolveString(c, "storage-region", configVal(cfg, func(c *config.Config) string { return c.Storage.Region })),
		endpoint:     resolveString(c, "storage-endpoint", configVal(cfg, func(c *config.Config) string { return c.Storage.Endpoint })),
		usePathStyle: resolveBool(c, "storage-s3-path-style", configVal(cfg, func(c *config.Config) bool { return c.Storage.S3PathStyle })),
	}
	if s.backend == "" || s.path == "" {
		return usageError("both --storage-backend and --storage-path are required")
	}

	filter := lode.MetricsFilter{
		RunID:   c.String("run-id"),
		Variant: c.String("variant"),
	}
	if key := c.String("archive"); key != "" {
		ref, err := types.ParseArchiveRef(key, filter.Variant)
		if err != nil {
			return usageError("invalid --archive: %v", err)
		}
		filter.Month = ref.Key()
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return usageError("%v", err)
	}

	ctx, cancel := context.WithTimeout(c.Context, statsTimeout)
	defer cancel()

	record, err := queryMetrics(ctx, s, filter)
	if errors.Is(err, lode.ErrNoMetricsFound) {
		return cli.Exit("no metrics found", runtime.ExitCodeResolve)
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to read metrics: %v", err), runtime.ExitCodeSink)
	}
	return r.Render(record)
}

func queryMetrics(ctx context.Context, s storageChoice, filter lode.MetricsFilter) (map[string]any, error) {
	ds, err := buildReadDataset(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage reader: %w", err)
	}
	return lode.QueryLatestMetrics(ctx, ds, filter)
}
