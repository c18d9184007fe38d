package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"github.com/justapithecus/pgnstream/cli/config"
	"github.com/justapithecus/pgnstream/cli/render"
	"github.com/justapithecus/pgnstream/fetch"
	"github.com/justapithecus/pgnstream/lode"
	"github.com/justapithecus/pgnstream/log"
	"github.com/justapithecus/pgnstream/policy"
	"github.com/justapithecus/pgnstream/runtime"
	"github.com/justapithecus/pgnstream/types"
)

// Default retry settings for archive requests.
const (
	defaultRetries       = 3
	defaultRetryInterval = 500 * time.Millisecond
)

// RunCommand returns the run command.
// This is the only command that downloads and writes data.
func RunCommand() *cli.Command {
	flags := append(archiveFlags(), runFlags()...)
	return &cli.Command{
		Name:   "run",
		Usage:  "Stream one monthly archive and write the filtered games",
		Flags:  append(flags, OutputFlags()...),
		Action: runAction,
	}
}

// archiveFlags select the archive; shared by run and probe.
func archiveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "Path to pgnstream.yaml",
		},
		&cli.StringFlag{
			Name:     "archive",
			Aliases:  []string{"a"},
			Usage:    "Archive month (YYYY-MM)",
			Category: "Source",
		},
		&cli.StringFlag{
			Name:     "variant",
			Usage:    "Archive variant",
			Value:    types.DefaultVariant,
			Category: "Source",
		},
		&cli.StringFlag{
			Name:     "base-url",
			Usage:    "Archive host",
			Value:    types.DefaultArchiveBaseURL,
			Category: "Source",
		},
		&cli.StringFlag{
			Name:     "url",
			Usage:    "Explicit archive URL (overrides --base-url and --variant)",
			Category: "Source",
		},
		&cli.DurationFlag{
			Name:     "probe-timeout",
			Usage:    "Metadata probe timeout (max 5s)",
			Value:    fetch.DefaultProbeTimeout,
			Category: "Fetch",
		},
	}
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		// Run identity
		&cli.StringFlag{
			Name:  "run-id",
			Usage: "Run ID (default: generated UUID)",
		},
		&cli.IntFlag{
			Name:  "attempt",
			Usage: "Attempt number (starts at 1)",
			Value: 1,
		},
		&cli.StringFlag{
			Name:  "parent-run-id",
			Usage: "Parent run ID (required for retries)",
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "Write logs to this file instead of stderr",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Minimum log level: debug, info, warn or error",
			Value: "info",
		},
		&cli.BoolFlag{
			Name:  "quiet",
			Usage: "Suppress result output",
		},
		// Fetch
		&cli.Int64Flag{
			Name:     "chunk-size",
			Usage:    "Range window in bytes",
			Value:    fetch.DefaultChunkSize,
			Category: "Fetch",
		},
		&cli.DurationFlag{
			Name:     "request-timeout",
			Usage:    "Timeout for one range request",
			Value:    fetch.DefaultRequestTimeout,
			Category: "Fetch",
		},
		&cli.IntFlag{
			Name:     "retries",
			Usage:    "Retry attempts per request on transport errors, 429 and 5xx",
			Value:    defaultRetries,
			Category: "Fetch",
		},
		&cli.DurationFlag{
			Name:     "retry-interval",
			Usage:    "Initial retry backoff",
			Value:    defaultRetryInterval,
			Category: "Fetch",
		},
		&cli.BoolFlag{
			Name:     "prefetch",
			Usage:    "Fetch the next window while the current one is processed",
			Category: "Fetch",
		},
		&cli.IntFlag{
			Name:     "max-record-bytes",
			Usage:    "Largest unterminated record the parser buffers (0: default)",
			Category: "Parse",
		},
		// Filter
		&cli.IntFlag{
			Name:     "max-rating",
			Usage:    "Rating ceiling applied to both players",
			Value:    types.DefaultFilterPolicy().MaxRating,
			Category: "Filter",
		},
		&cli.StringFlag{
			Name:     "event",
			Usage:    "Required Event substring, case-insensitive (empty: any)",
			Value:    types.DefaultFilterPolicy().EventSubstring,
			Category: "Filter",
		},
		&cli.StringSliceFlag{
			Name:     "result",
			Usage:    "Allowed result (repeatable): 1-0, 0-1, 1/2-1/2",
			Category: "Filter",
		},
		&cli.StringSliceFlag{
			Name:     "category",
			Usage:    "Allowed time-control category (repeatable)",
			Category: "Filter",
		},
		&cli.BoolFlag{
			Name:     "sample-ratings",
			Usage:    "Write both ratings of every event/result match",
			Value:    types.DefaultFilterPolicy().SampleRatings,
			Category: "Filter",
		},
		// Output
		&cli.StringFlag{
			Name:     "out-dir",
			Usage:    "Directory for default output names",
			Value:    ".",
			Category: "Output",
		},
		&cli.StringFlag{
			Name:     "transcripts",
			Usage:    "Transcript output path (default derived from archive)",
			Category: "Output",
		},
		&cli.StringFlag{
			Name:     "ratings",
			Usage:    "Ratings output path (default derived from archive)",
			Category: "Output",
		},
		&cli.BoolFlag{
			Name:     "skip-existing",
			Usage:    "Skip the run when output already exists or storage records a completed run",
			Category: "Output",
		},
		&cli.BoolFlag{
			Name:     "discard-partial",
			Usage:    "Remove output files when the run fails",
			Category: "Output",
		},
		&cli.StringFlag{
			Name:     "report",
			Usage:    "Write a JSON run report to this path (- for stderr)",
			Category: "Output",
		},
		// Policy
		&cli.StringFlag{
			Name:     "policy",
			Usage:    "Persistence policy: noop, strict, buffered, streaming (default: strict with storage, else noop)",
			Category: "Policy",
		},
		&cli.StringFlag{
			Name:     "flush-mode",
			Usage:    "Buffered flush mode: at_least_once, games_first",
			Value:    string(policy.FlushAtLeastOnce),
			Category: "Policy",
		},
		&cli.IntFlag{
			Name:     "buffer-games",
			Usage:    "Max buffered games (buffered policy)",
			Category: "Policy",
		},
		&cli.Int64Flag{
			Name:     "buffer-bytes",
			Usage:    "Max buffer size in bytes (buffered policy)",
			Category: "Policy",
		},
		&cli.IntFlag{
			Name:     "flush-count",
			Usage:    "Flush after N games (streaming policy)",
			Category: "Policy",
		},
		&cli.Int64Flag{
			Name:     "flush-bytes",
			Usage:    "Flush once pending rows reach N estimated bytes (streaming policy)",
			Category: "Policy",
		},
		&cli.DurationFlag{
			Name:     "flush-interval",
			Usage:    "Flush every interval (streaming policy)",
			Category: "Policy",
		},
		// Storage
		&cli.StringFlag{
			Name:     "storage-dataset",
			Usage:    "Lode dataset ID",
			Value:    lode.DefaultDataset,
			Category: "Storage",
		},
		&cli.StringFlag{
			Name:     "storage-backend",
			Usage:    "Storage backend: fs or s3",
			Category: "Storage",
		},
		&cli.StringFlag{
			Name:     "storage-path",
			Usage:    "Storage path (fs: directory, s3: bucket/prefix)",
			Category: "Storage",
		},
		&cli.StringFlag{
			Name:     "storage-region",
			Usage:    "AWS region for S3 backend",
			Category: "Storage",
		},
		&cli.StringFlag{
			Name:     "storage-endpoint",
			Usage:    "Custom S3 endpoint (R2, MinIO)",
			Category: "Storage",
		},
		&cli.BoolFlag{
			Name:     "storage-s3-path-style",
			Usage:    "Force path-style S3 addressing",
			Category: "Storage",
		},
		&cli.IntFlag{
			Name:     "storage-retries",
			Usage:    "Retry attempts per storage write on throttling, timeouts and network errors",
			Value:    2,
			Category: "Storage",
		},
		// Adapter
		&cli.StringFlag{
			Name:     "adapter",
			Usage:    "Completion notifier: webhook or redis",
			Category: "Adapter",
		},
		&cli.StringFlag{
			Name:     "adapter-url",
			Usage:    "Webhook URL or Redis URL",
			Category: "Adapter",
		},
		&cli.StringFlag{
			Name:     "adapter-channel",
			Usage:    "Redis channel",
			Category: "Adapter",
		},
		&cli.StringFlag{
			Name:     "adapter-stream",
			Usage:    "Redis stream that also records each event",
			Category: "Adapter",
		},
		&cli.StringSliceFlag{
			Name:     "adapter-header",
			Usage:    "Webhook header as key=value (repeatable)",
			Category: "Adapter",
		},
		&cli.DurationFlag{
			Name:     "adapter-timeout",
			Usage:    "Per-attempt publish timeout",
			Value:    10 * time.Second,
			Category: "Adapter",
		},
		&cli.IntFlag{
			Name:     "adapter-retries",
			Usage:    "Publish retry attempts",
			Value:    3,
			Category: "Adapter",
		},
		&cli.StringFlag{
			Name:     "adapter-encoding",
			Usage:    "Payload encoding: json or msgpack",
			Value:    "json",
			Category: "Adapter",
		},
	}
}

// archiveChoice is the resolved archive selection.
type archiveChoice struct {
	// ref is nil when only an explicit URL was given.
	ref   *types.ArchiveRef
	url   string
	label string
}

type fetchChoice struct {
	chunkSize      int64
	requestTimeout time.Duration
	probeTimeout   time.Duration
	retries        int
	retryInterval  time.Duration
	prefetch       bool
}

type outputChoice struct {
	transcripts    string
	ratings        string
	skipExisting   bool
	discardPartial bool
}

// policyChoice holds parsed policy configuration.
type policyChoice struct {
	name          string
	flushMode     string
	maxGames      int
	maxBytes      int64
	flushCount    int
	flushBytes    int64
	flushInterval time.Duration
}

// storageChoice holds parsed storage configuration.
type storageChoice struct {
	dataset      string
	backend      string // "fs" or "s3"
	path         string // fs: directory, s3: bucket/prefix
	region       string
	endpoint     string
	usePathStyle bool
	retries      int
}

func (s storageChoice) enabled() bool {
	return s.backend != ""
}

// runPlan is everything a run needs, resolved from flags and config.
type runPlan struct {
	archive        archiveChoice
	runMeta        *types.RunMeta
	fetch          fetchChoice
	maxRecordBytes int
	filter         types.FilterPolicy
	outputs        outputChoice
	policy         policyChoice
	storage        storageChoice
	adapter        *adapterChoice
	reportPath     string
	logFile        string
	logLevel       zapcore.Level
	tui            bool
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	plan, err := buildRunPlan(c, cfg)
	if err != nil {
		return usageError("%v", err)
	}

	var r *render.Renderer
	if !c.Bool("quiet") {
		if r, err = render.NewRenderer(c); err != nil {
			return usageError("%v", err)
		}
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := executePlan(ctx, plan)
	if err != nil {
		return err
	}

	if r != nil {
		var payload any = out.report
		if out.skipped != nil {
			payload = out.skipped
		}
		if err := r.Render(payload); err != nil {
			return fmt.Errorf("render result: %w", err)
		}
	}

	if out.exitCode != runtime.ExitCodeSuccess {
		return cli.Exit(out.report.Message, out.exitCode)
	}
	return nil
}

// buildRunPlan resolves flags over config. Errors are usage errors.
func buildRunPlan(c *cli.Context, cfg *config.Config) (*runPlan, error) {
	archive, err := resolveArchive(c, cfg)
	if err != nil {
		return nil, err
	}

	runMeta, err := resolveRunMeta(c)
	if err != nil {
		return nil, err
	}

	f := fetchChoice{
		chunkSize:      resolveInt64(c, "chunk-size", configVal(cfg, func(c *config.Config) int64 { return c.Fetch.ChunkSize })),
		requestTimeout: resolveDuration(c, "request-timeout", configVal(cfg, func(c *config.Config) time.Duration { return c.Fetch.RequestTimeout.Duration })),
		probeTimeout:   resolveDuration(c, "probe-timeout", configVal(cfg, func(c *config.Config) time.Duration { return c.Fetch.ProbeTimeout.Duration })),
		retries:        resolveIntPtr(c, "retries", configVal(cfg, func(c *config.Config) *int { return c.Fetch.Retries })),
		retryInterval:  resolveDuration(c, "retry-interval", configVal(cfg, func(c *config.Config) time.Duration { return c.Fetch.RetryInterval.Duration })),
		prefetch:       resolveBool(c, "prefetch", configVal(cfg, func(c *config.Config) bool { return c.Fetch.Prefetch })),
	}
	if f.chunkSize <= 0 {
		return nil, fmt.Errorf("--chunk-size must be positive, got %d", f.chunkSize)
	}
	if f.retries < 0 {
		return nil, fmt.Errorf("--retries must be >= 0, got %d", f.retries)
	}

	filter, err := resolveFilter(c, cfg)
	if err != nil {
		return nil, err
	}

	storage := storageChoice{
		dataset:      resolveString(c, "storage-dataset", configVal(cfg, func(c *config.Config) string { return c.Storage.Dataset })),
		backend:      resolveString(c, "storage-backend", configVal(cfg, func(c *config.Config) string { return c.Storage.Backend })),
		path:         resolveString(c, "storage-path", configVal(cfg, func(c *config.Config) string { return c.Storage.Path })),
		region:       resolveString(c, "storage-region", configVal(cfg, func(c *config.Config) string { return c.Storage.Region })),
		endpoint:     resolveString(c, "storage-endpoint", configVal(cfg, func(c *config.Config) string { return c.Storage.Endpoint })),
		usePathStyle: resolveBool(c, "storage-s3-path-style", configVal(cfg, func(c *config.Config) bool { return c.Storage.S3PathStyle })),
		retries:      resolveIntPtr(c, "storage-retries", configVal(cfg, func(c *config.Config) *int { return c.Storage.Retries })),
	}
	if err := validateStorageConfig(storage, archive); err != nil {
		return nil, err
	}

	pc := policyChoice{
		name:          resolveString(c, "policy", configVal(cfg, func(c *config.Config) string { return c.Policy.Name })),
		flushMode:     resolveString(c, "flush-mode", configVal(cfg, func(c *config.Config) string { return c.Policy.FlushMode })),
		maxGames:      resolveInt(c, "buffer-games", configVal(cfg, func(c *config.Config) int { return c.Policy.BufferGames })),
		maxBytes:      resolveInt64(c, "buffer-bytes", configVal(cfg, func(c *config.Config) int64 { return c.Policy.BufferBytes })),
		flushCount:    resolveInt(c, "flush-count", configVal(cfg, func(c *config.Config) int { return c.Policy.FlushCount })),
		flushBytes:    resolveInt64(c, "flush-bytes", configVal(cfg, func(c *config.Config) int64 { return c.Policy.FlushBytes })),
		flushInterval: resolveDuration(c, "flush-interval", configVal(cfg, func(c *config.Config) time.Duration { return c.Policy.FlushInterval.Duration })),
	}
	if pc.name == "" {
		pc.name = "noop"
		if storage.enabled() {
			pc.name = "strict"
		}
	}
	if err := validatePolicyConfig(pc, storage); err != nil {
		return nil, err
	}

	adapterType := resolveString(c, "adapter", configVal(cfg, func(c *config.Config) string { return c.Adapter.Type }))
	var ac *adapterChoice
	if adapterType != "" {
		if ac, err = parseAdapterConfigWithPrecedence(c, cfg, adapterType); err != nil {
			return nil, err
		}
	}

	outputs := outputChoice{
		transcripts:    resolveString(c, "transcripts", configVal(cfg, func(c *config.Config) string { return c.Output.Transcripts })),
		ratings:        resolveString(c, "ratings", configVal(cfg, func(c *config.Config) string { return c.Output.Ratings })),
		skipExisting:   resolveBool(c, "skip-existing", configVal(cfg, func(c *config.Config) bool { return c.Output.SkipExisting })),
		discardPartial: c.Bool("discard-partial"),
	}
	outDir := resolveString(c, "out-dir", configVal(cfg, func(c *config.Config) string { return c.Output.Dir }))
	transcripts, ratings := defaultOutputNames(archive, filter)
	if outputs.transcripts == "" {
		outputs.transcripts = filepath.Join(outDir, transcripts)
	}
	if outputs.ratings == "" {
		outputs.ratings = filepath.Join(outDir, ratings)
	}
	if outputs.transcripts == outputs.ratings {
		return nil, fmt.Errorf("--transcripts and --ratings must differ, both are %s", outputs.transcripts)
	}

	level, err := log.ParseLevel(c.String("log-level"))
	if err != nil {
		return nil, err
	}

	return &runPlan{
		archive:        archive,
		runMeta:        runMeta,
		fetch:          f,
		maxRecordBytes: resolveInt(c, "max-record-bytes", configVal(cfg, func(c *config.Config) int { return c.Parse.MaxRecordBytes })),
		filter:         filter,
		outputs:        outputs,
		policy:         pc,
		storage:        storage,
		adapter:        ac,
		reportPath:     c.String("report"),
		logFile:        c.String("log-file"),
		logLevel:       level,
		tui:            c.Bool("tui"),
	}, nil
}

// resolveArchive builds the archive selection. --url alone is accepted;
// with --archive it only overrides the locator.
func resolveArchive(c *cli.Context, cfg *config.Config) (archiveChoice, error) {
	key := resolveString(c, "archive", configVal(cfg, func(c *config.Config) string { return c.Source.Archive }))
	variant := resolveString(c, "variant", configVal(cfg, func(c *config.Config) string { return c.Source.Variant }))
	baseURL := resolveString(c, "base-url", configVal(cfg, func(c *config.Config) string { return c.Source.BaseURL }))
	explicit := resolveString(c, "url", configVal(cfg, func(c *config.Config) string { return c.Source.URL }))

	if key == "" && explicit == "" {
		return archiveChoice{}, errors.New("--archive (YYYY-MM) or --url is required")
	}

	var choice archiveChoice
	if key != "" {
		ref, err := types.ParseArchiveRef(key, variant)
		if err != nil {
			return archiveChoice{}, fmt.Errorf("invalid --archive: %w", err)
		}
		choice.ref = &ref
		choice.url = ref.URL(baseURL)
		choice.label = ref.String()
	}
	if explicit != "" {
		if !strings.HasPrefix(explicit, "http://") && !strings.HasPrefix(explicit, "https://") {
			return archiveChoice{}, fmt.Errorf("invalid --url %q: must be http(s)", explicit)
		}
		choice.url = explicit
		if choice.label == "" {
			choice.label = strings.TrimSuffix(path.Base(explicit), ".pgn.zst")
		}
	}
	return choice, nil
}

func resolveRunMeta(c *cli.Context) (*types.RunMeta, error) {
	meta := &types.RunMeta{
		RunID:   c.String("run-id"),
		Attempt: c.Int("attempt"),
	}
	if meta.RunID == "" {
		meta.RunID = uuid.NewString()
	}
	if parent := c.String("parent-run-id"); parent != "" {
		meta.ParentRunID = &parent
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run lineage: %w", err)
	}
	return meta, nil
}

// resolveFilter starts from the default policy, overlays config, then flags.
func resolveFilter(c *cli.Context, cfg *config.Config) (types.FilterPolicy, error) {
	p := types.DefaultFilterPolicy()
	if cfg != nil {
		if err := cfg.Filter.ApplyFilter(&p); err != nil {
			return p, fmt.Errorf("invalid filter config: %w", err)
		}
	}
	if c.IsSet("max-rating") {
		p.MaxRating = c.Int("max-rating")
	}
	if c.IsSet("event") {
		p.EventSubstring = c.String("event")
	}
	if c.IsSet("sample-ratings") {
		p.SampleRatings = c.Bool("sample-ratings")
	}
	if c.IsSet("result") {
		results, err := config.ParseResults(c.StringSlice("result"))
		if err != nil {
			return p, fmt.Errorf("invalid --result: %w", err)
		}
		p.AllowedResults = results
	}
	if c.IsSet("category") {
		cats, err := config.ParseCategories(c.StringSlice("category"))
		if err != nil {
			return p, fmt.Errorf("invalid --category: %w", err)
		}
		p.AllowedCategories = cats
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("invalid filter: %w", err)
	}
	return p, nil
}

// defaultOutputNames derives output file names from the archive and event
// filter, e.g. lichess_blitz_games_2013_01.pgn and blitz_ratings_2013_01.txt.
func defaultOutputNames(a archiveChoice, p types.FilterPolicy) (transcripts, ratings string) {
	tag := strings.ToLower(strings.Join(strings.Fields(p.EventSubstring), "_"))
	if tag == "" {
		tag = "all"
	}
	if a.ref == nil {
		return fmt.Sprintf("%s_%s_games.pgn", a.label, tag), fmt.Sprintf("%s_%s_ratings.txt", a.label, tag)
	}
	stamp := fmt.Sprintf("%04d_%02d", a.ref.Year, a.ref.Month)
	if a.ref.Variant != types.DefaultVariant {
		tag = a.ref.Variant + "_" + tag
	}
	return fmt.Sprintf("lichess_%s_games_%s.pgn", tag, stamp), fmt.Sprintf("%s_ratings_%s.txt", tag, stamp)
}

func validatePolicyConfig(choice policyChoice, storage storageChoice) error {
	switch choice.name {
	case "noop":
		return nil
	case "strict", "buffered", "streaming":
	default:
		return fmt.Errorf("invalid --policy %q (must be noop, strict, buffered or streaming)", choice.name)
	}

	if !storage.enabled() {
		return fmt.Errorf("--policy %s requires --storage-backend and --storage-path", choice.name)
	}

	switch choice.name {
	case "buffered":
		if choice.maxGames <= 0 && choice.maxBytes <= 0 {
			return errors.New("buffered policy requires buffer limits: set --buffer-games or --buffer-bytes")
		}
		switch policy.FlushMode(choice.flushMode) {
		case policy.FlushAtLeastOnce, policy.FlushGamesFirst:
		default:
			return fmt.Errorf("invalid --flush-mode %q (must be at_least_once or games_first)", choice.flushMode)
		}
	case "streaming":
		if choice.flushCount <= 0 && choice.flushBytes <= 0 && choice.flushInterval <= 0 {
			return errors.New("streaming policy requires a flush trigger: set --flush-count, --flush-bytes or --flush-interval")
		}
	}
	return nil
}

func validateStorageConfig(s storageChoice, a archiveChoice) error {
	if s.backend == "" {
		if s.path != "" {
			return errors.New("--storage-path requires --storage-backend")
		}
		return nil
	}
	switch s.backend {
	case "fs", "s3":
	default:
		return fmt.Errorf("invalid --storage-backend %q (must be fs or s3)", s.backend)
	}
	if s.path == "" {
		return fmt.Errorf("--storage-path is required for the %s backend", s.backend)
	}
	if s.dataset == "" {
		return errors.New("--storage-dataset must not be empty")
	}
	if s.retries < 0 {
		return fmt.Errorf("--storage-retries must be >= 0, got %d", s.retries)
	}
	if a.ref == nil {
		return errors.New("storage partitions by month: --archive is required with --storage-backend")
	}
	return nil
}
