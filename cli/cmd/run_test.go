package cmd

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/pgnstream/cli/config"
	"github.com/justapithecus/pgnstream/lode"
	"github.com/justapithecus/pgnstream/runtime"
	"github.com/justapithecus/pgnstream/types"
)

const blitzLow = `[Event "Rated Blitz game"]
[Site "https://lichess.org/aaaaaaaa"]
[Result "1-0"]
[WhiteElo "1100"]
[BlackElo "1150"]
[TimeControl "300+0"]

1. e4 e5 2. Qh5 Nc6 3. Bc4 Nf6 4. Qxf7# 1-0
`

const bulletLow = `[Event "Rated Bullet game"]
[Site "https://lichess.org/bbbbbbbb"]
[Result "0-1"]
[WhiteElo "900"]
[BlackElo "950"]
[TimeControl "60+0"]

1. f3 e5 2. g4 Qh4# 0-1
`

const blitzHigh = `[Event "Rated Blitz game"]
[Site "https://lichess.org/cccccccc"]
[Result "1/2-1/2"]
[WhiteElo "2000"]
[BlackElo "2100"]
[TimeControl "180+2"]

1. d4 d5 2. c4 e6 1/2-1/2
`

const threeGames = blitzLow + "\n" + bulletLow + "\n" + blitzHigh + "\n"

// entry is a game as the transcript file holds it, trailing newline trimmed.
func entry(game string) string {
	return strings.TrimRight(game, "\n")
}

func compress(t *testing.T, text string) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd.NewWriter failed: %v", err)
	}
	defer func() { _ = enc.Close() }()
	return enc.EncodeAll([]byte(text), nil)
}

// archiveServer serves data at every path and counts GET requests.
func archiveServer(t *testing.T, data []byte) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var gets atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		http.ServeContent(w, r, "archive.pgn.zst", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	return srv, &gets
}

// newTestApp creates a cli.App with all commands wired up and ExitErrHandler
// suppressed so errors are returned instead of calling os.Exit.
func newTestApp() *cli.App {
	app := cli.NewApp()
	app.Commands = []*cli.Command{RunCommand(), ProbeCommand(), StatsCommand(), VersionCommand("test")}
	app.ExitErrHandler = func(*cli.Context, error) {} // suppress os.Exit
	return app
}

// runArgs builds quiet run arguments against srv writing into dir.
func runArgs(srv *httptest.Server, dir string, extra ...string) []string {
	args := []string{"pgnstream", "run",
		"--archive", "2013-01",
		"--base-url", srv.URL,
		"--out-dir", dir,
		"--chunk-size", "64",
		"--retries", "0",
		"--log-file", filepath.Join(dir, "run.log"),
		"--quiet",
	}
	return append(args, extra...)
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return 0
	}
	var ec cli.ExitCoder
	if !errors.As(err, &ec) {
		t.Fatalf("error is not an ExitCoder: %v", err)
	}
	return ec.ExitCode()
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestRunAction_EndToEnd(t *testing.T) {
	srv, gets := archiveServer(t, compress(t, threeGames))
	dir := t.TempDir()

	err := newTestApp().Run(runArgs(srv, dir))
	if code := exitCode(t, err); code != 0 {
		t.Fatalf("exit code = %d, err = %v", code, err)
	}

	if got := readFile(t, filepath.Join(dir, "lichess_blitz_games_2013_01.pgn")); got != entry(blitzLow) {
		t.Errorf("transcripts:\ngot  %q\nwant %q", got, entry(blitzLow))
	}
	if got := readFile(t, filepath.Join(dir, "blitz_ratings_2013_01.txt")); got != "1100\n1150\n2000\n2100\n" {
		t.Errorf("ratings = %q", got)
	}
	if gets.Load() < 2 {
		t.Errorf("expected ranged GETs with 64-byte windows, got %d", gets.Load())
	}
}

func TestRunAction_ExplicitOutputsAndFilters(t *testing.T) {
	srv, _ := archiveServer(t, compress(t, threeGames))
	dir := t.TempDir()
	transcripts := filepath.Join(dir, "bullet.pgn")

	err := newTestApp().Run(runArgs(srv, dir,
		"--event", "bullet",
		"--result", "0-1",
		"--category", "bullet",
		"--sample-ratings=false",
		"--transcripts", transcripts,
		"--prefetch",
	))
	if code := exitCode(t, err); code != 0 {
		t.Fatalf("exit code = %d, err = %v", code, err)
	}
	if got := readFile(t, transcripts); got != entry(bulletLow) {
		t.Errorf("transcripts:\ngot  %q\nwant %q", got, entry(bulletLow))
	}
	if _, err := os.Stat(filepath.Join(dir, "bullet_ratings_2013_01.txt")); !os.IsNotExist(err) {
		t.Errorf("ratings file should not exist without sampling, stat err = %v", err)
	}
}

func TestRunAction_ReportFile(t *testing.T) {
	srv, _ := archiveServer(t, compress(t, threeGames))
	dir := t.TempDir()
	reportPath := filepath.Join(dir, "report.json")

	err := newTestApp().Run(runArgs(srv, dir, "--report", reportPath, "--run-id", "run-report"))
	if code := exitCode(t, err); code != 0 {
		t.Fatalf("exit code = %d, err = %v", code, err)
	}

	report := readFile(t, reportPath)
	for _, want := range []string{`"run_id": "run-report"`, `"outcome": "success"`, `"records": 3`, `"kept": 1`} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %s:\n%s", want, report)
		}
	}
}

func TestRunAction_PersistsToStorage(t *testing.T) {
	srv, _ := archiveServer(t, compress(t, threeGames))
	dir := t.TempDir()
	store := filepath.Join(dir, "lode")

	err := newTestApp().Run(runArgs(srv, dir,
		"--run-id", "run-store",
		"--storage-backend", "fs",
		"--storage-path", store,
	))
	if code := exitCode(t, err); code != 0 {
		t.Fatalf("exit code = %d, err = %v", code, err)
	}

	s := storageChoice{dataset: lode.DefaultDataset, backend: "fs", path: store}
	record, err := queryMetrics(t.Context(), s, lode.MetricsFilter{RunID: "run-store"})
	if err != nil {
		t.Fatalf("queryMetrics failed: %v", err)
	}
	if got := fmt.Sprint(record["records_kept_total"]); got != "1" {
		t.Errorf("records_kept_total = %s, want 1", got)
	}
	if got := fmt.Sprint(record["runs_completed_total"]); got != "1" {
		t.Errorf("runs_completed_total = %s, want 1", got)
	}
	// One kept game plus one sample row for each of the two blitz games.
	if got := fmt.Sprint(record["rows_persisted_total"]); got != "3" {
		t.Errorf("rows_persisted_total = %s, want 3", got)
	}
}

func TestRunAction_BufferedPolicy(t *testing.T) {
	srv, _ := archiveServer(t, compress(t, threeGames))
	dir := t.TempDir()

	err := newTestApp().Run(runArgs(srv, dir,
		"--storage-backend", "fs",
		"--storage-path", filepath.Join(dir, "lode"),
		"--policy", "buffered",
		"--buffer-games", "10",
	))
	if code := exitCode(t, err); code != 0 {
		t.Fatalf("exit code = %d, err = %v", code, err)
	}
}

func TestRunAction_SkipExistingOutput(t *testing.T) {
	srv, gets := archiveServer(t, compress(t, threeGames))
	dir := t.TempDir()

	if err := newTestApp().Run(runArgs(srv, dir)); exitCode(t, err) != 0 {
		t.Fatalf("first run failed: %v", err)
	}
	before := gets.Load()

	if err := newTestApp().Run(runArgs(srv, dir, "--skip-existing")); exitCode(t, err) != 0 {
		t.Fatalf("skipped run failed: %v", err)
	}
	if gets.Load() != before {
		t.Errorf("skipped run issued %d GETs", gets.Load()-before)
	}
}

func TestRunAction_SkipExistingFromStorage(t *testing.T) {
	srv, gets := archiveServer(t, compress(t, threeGames))
	store := filepath.Join(t.TempDir(), "lode")

	first := t.TempDir()
	if err := newTestApp().Run(runArgs(srv, first, "--storage-backend", "fs", "--storage-path", store)); exitCode(t, err) != 0 {
		t.Fatalf("first run failed: %v", err)
	}
	before := gets.Load()

	// A fresh output directory still skips because storage holds a completed run.
	second := t.TempDir()
	err := newTestApp().Run(runArgs(srv, second, "--storage-backend", "fs", "--storage-path", store, "--skip-existing"))
	if exitCode(t, err) != 0 {
		t.Fatalf("skipped run failed: %v", err)
	}
	if gets.Load() != before {
		t.Errorf("skipped run issued %d GETs", gets.Load()-before)
	}
}

func TestRunAction_SkipExistingFreshStorage(t *testing.T) {
	srv, gets := archiveServer(t, compress(t, threeGames))
	dir := t.TempDir()
	store := filepath.Join(dir, "not", "yet", "created")

	err := newTestApp().Run(runArgs(srv, dir, "--storage-backend", "fs", "--storage-path", store, "--skip-existing"))
	if code := exitCode(t, err); code != 0 {
		t.Fatalf("exit code = %d, err = %v", code, err)
	}
	if gets.Load() == 0 {
		t.Error("run was skipped against an empty store")
	}
	if _, err := os.Stat(store); err != nil {
		t.Errorf("storage root not created: %v", err)
	}
}

func TestRunAction_ResolveFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	dir := t.TempDir()

	err := newTestApp().Run(runArgs(srv, dir, "--discard-partial"))
	if code := exitCode(t, err); code != runtime.ExitCodeResolve {
		t.Fatalf("exit code = %d, want %d (err %v)", code, runtime.ExitCodeResolve, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "lichess_blitz_games_2013_01.pgn")); !os.IsNotExist(err) {
		t.Errorf("partial transcripts should be removed, stat err = %v", err)
	}
}

func TestRunAction_TruncatedArchive(t *testing.T) {
	data := compress(t, threeGames)
	srv, _ := archiveServer(t, data[:len(data)/2])
	dir := t.TempDir()

	err := newTestApp().Run(runArgs(srv, dir))
	if code := exitCode(t, err); code != runtime.ExitCodeDecode {
		t.Fatalf("exit code = %d, want %d (err %v)", code, runtime.ExitCodeDecode, err)
	}
	// Without --discard-partial the output stays for inspection.
	if _, err := os.Stat(filepath.Join(dir, "lichess_blitz_games_2013_01.pgn")); err != nil {
		t.Errorf("transcripts should remain: %v", err)
	}
}

func TestRunAction_UsageErrors(t *testing.T) {
	srv, _ := archiveServer(t, compress(t, threeGames))

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing archive", []string{"pgnstream", "run", "--quiet"}, "--archive (YYYY-MM) or --url is required"},
		{"bad archive", []string{"pgnstream", "run", "--archive", "2013-13"}, "invalid --archive"},
		{"bad url", []string{"pgnstream", "run", "--url", "ftp://x/y.pgn.zst"}, "must be http(s)"},
		{"policy without storage", append(runArgs(srv, t.TempDir()), "--policy", "strict"), "requires --storage-backend"},
		{"path without backend", append(runArgs(srv, t.TempDir()), "--storage-path", "/tmp/x"), "--storage-path requires --storage-backend"},
		{"buffered without limits", append(runArgs(srv, t.TempDir()), "--storage-backend", "fs", "--storage-path", t.TempDir(), "--policy", "buffered"), "buffer limits"},
		{"bad result", append(runArgs(srv, t.TempDir()), "--result", "2-0"), "invalid --result"},
		{"bad max rating", append(runArgs(srv, t.TempDir()), "--max-rating", "0"), "max rating must be positive"},
		{"retry lineage", append(runArgs(srv, t.TempDir()), "--attempt", "2"), "must have parent_run_id"},
		{"adapter without url", append(runArgs(srv, t.TempDir()), "--adapter", "webhook"), "--adapter-url is required"},
		{"missing config", append(runArgs(srv, t.TempDir()), "--config", "/nonexistent/pgnstream.yaml"), "config file not found"},
		{"bad log level", append(runArgs(srv, t.TempDir()), "--log-level", "verbose"), "unknown log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newTestApp().Run(tt.args)
			if code := exitCode(t, err); code != runtime.ExitCodeUsage {
				t.Fatalf("exit code = %d, want %d (err %v)", code, runtime.ExitCodeUsage, err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should contain %q", err, tt.want)
			}
		})
	}
}

func TestRunAction_ConfigProvidesSource(t *testing.T) {
	srv, _ := archiveServer(t, compress(t, threeGames))
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "pgnstream.yaml")
	yaml := fmt.Sprintf(`source:
  base_url: %s
  archive: 2013-01
filter:
  event_substring: bullet
output:
  dir: %s
`, srv.URL, dir)
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	err := newTestApp().Run([]string{"pgnstream", "run", "--config", cfgPath, "--quiet",
		"--log-file", filepath.Join(dir, "run.log")})
	if code := exitCode(t, err); code != 0 {
		t.Fatalf("exit code = %d, err = %v", code, err)
	}
	if got := readFile(t, filepath.Join(dir, "lichess_bullet_games_2013_01.pgn")); got != entry(bulletLow) {
		t.Errorf("transcripts:\ngot  %q\nwant %q", got, entry(bulletLow))
	}
}

// --- Config precedence ---

// newTestCLIContext builds a minimal *cli.Context with the given flags set.
// flagValues are registered and marked as explicitly set (c.IsSet returns
// true); defaultFlags are registered with defaults only.
func newTestCLIContext(t *testing.T, flagValues map[string]string, defaultFlags map[string]string) *cli.Context {
	t.Helper()
	app := cli.NewApp()

	allFlags := make(map[string]string)
	for k, v := range defaultFlags {
		allFlags[k] = v
	}
	for k, v := range flagValues {
		allFlags[k] = v
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	for name, val := range allFlags {
		app.Flags = append(app.Flags, &cli.StringFlag{Name: name, Value: val})
		fs.String(name, val, "")
	}
	for name, val := range flagValues {
		if err := fs.Set(name, val); err != nil {
			t.Fatalf("failed to set flag %s: %v", name, err)
		}
	}

	return cli.NewContext(app, fs, nil)
}

func TestResolveString_CLIWins(t *testing.T) {
	c := newTestCLIContext(t, map[string]string{"archive": "2014-02"}, nil)
	if got := resolveString(c, "archive", "2013-01"); got != "2014-02" {
		t.Errorf("expected CLI to win, got %q", got)
	}
}

func TestResolveString_ConfigFallback(t *testing.T) {
	c := newTestCLIContext(t, nil, map[string]string{"archive": ""})
	if got := resolveString(c, "archive", "2013-01"); got != "2013-01" {
		t.Errorf("expected config fallback, got %q", got)
	}
}

func TestResolveString_FlagDefault(t *testing.T) {
	c := newTestCLIContext(t, nil, map[string]string{"variant": "standard"})
	if got := resolveString(c, "variant", ""); got != "standard" {
		t.Errorf("expected flag default, got %q", got)
	}
}

func TestConfigVal(t *testing.T) {
	get := func(c *config.Config) string { return c.Source.Archive }
	if got := configVal(nil, get); got != "" {
		t.Errorf("expected empty for nil config, got %q", got)
	}
	cfg := &config.Config{Source: config.SourceConfig{Archive: "2013-01"}}
	if got := configVal(cfg, get); got != "2013-01" {
		t.Errorf("expected 2013-01, got %q", got)
	}
}

func intContext(t *testing.T, name, set string) *cli.Context {
	t.Helper()
	app := cli.NewApp()
	app.Flags = []cli.Flag{&cli.IntFlag{Name: name, Value: 3}}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Int(name, 3, "")
	if set != "" {
		if err := fs.Set(name, set); err != nil {
			t.Fatalf("set %s: %v", name, err)
		}
	}
	return cli.NewContext(app, fs, nil)
}

func TestResolveInt(t *testing.T) {
	if got := resolveInt(intContext(t, "buffer-games", "500"), "buffer-games", 1000); got != 500 {
		t.Errorf("expected CLI 500 to win, got %d", got)
	}
	if got := resolveInt(intContext(t, "buffer-games", ""), "buffer-games", 1000); got != 1000 {
		t.Errorf("expected config fallback 1000, got %d", got)
	}
}

func TestResolveIntPtr_ZeroFromConfig(t *testing.T) {
	zero := 0
	if got := resolveIntPtr(intContext(t, "retries", ""), "retries", &zero); got != 0 {
		t.Errorf("explicit config zero should win over flag default, got %d", got)
	}
	if got := resolveIntPtr(intContext(t, "retries", ""), "retries", nil); got != 3 {
		t.Errorf("absent config should use flag default 3, got %d", got)
	}
	if got := resolveIntPtr(intContext(t, "retries", "5"), "retries", &zero); got != 5 {
		t.Errorf("CLI should win, got %d", got)
	}
}

func TestResolveBool_CLIWins(t *testing.T) {
	app := cli.NewApp()
	app.Flags = []cli.Flag{&cli.BoolFlag{Name: "prefetch"}}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Bool("prefetch", false, "")
	_ = fs.Set("prefetch", "false")
	c := cli.NewContext(app, fs, nil)

	if resolveBool(c, "prefetch", true) {
		t.Error("explicit CLI false should win over config true")
	}
}

func TestResolveDuration(t *testing.T) {
	app := cli.NewApp()
	app.Flags = []cli.Flag{&cli.DurationFlag{Name: "request-timeout"}}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Duration("request-timeout", 0, "")
	c := cli.NewContext(app, fs, nil)

	if got := resolveDuration(c, "request-timeout", 10*time.Second); got != 10*time.Second {
		t.Errorf("expected config fallback 10s, got %v", got)
	}
	_ = fs.Set("request-timeout", "30s")
	if got := resolveDuration(c, "request-timeout", 10*time.Second); got != 30*time.Second {
		t.Errorf("expected CLI 30s to win, got %v", got)
	}
}

// --- Plan helpers ---

func TestDefaultOutputNames(t *testing.T) {
	ref := types.ArchiveRef{Variant: "standard", Year: 2013, Month: 1}
	atomic := types.ArchiveRef{Variant: "atomic", Year: 2020, Month: 11}

	tests := []struct {
		name            string
		archive         archiveChoice
		event           string
		wantTranscripts string
		wantRatings     string
	}{
		{"standard blitz", archiveChoice{ref: &ref}, "Blitz", "lichess_blitz_games_2013_01.pgn", "blitz_ratings_2013_01.txt"},
		{"multi-word event", archiveChoice{ref: &ref}, "Rated Bullet", "lichess_rated_bullet_games_2013_01.pgn", "rated_bullet_ratings_2013_01.txt"},
		{"any event", archiveChoice{ref: &ref}, "", "lichess_all_games_2013_01.pgn", "all_ratings_2013_01.txt"},
		{"variant", archiveChoice{ref: &atomic}, "Blitz", "lichess_atomic_blitz_games_2020_11.pgn", "atomic_blitz_ratings_2020_11.txt"},
		{"url only", archiveChoice{label: "sample"}, "Blitz", "sample_blitz_games.pgn", "sample_blitz_ratings.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := types.DefaultFilterPolicy()
			p.EventSubstring = tt.event
			gotT, gotR := defaultOutputNames(tt.archive, p)
			if gotT != tt.wantTranscripts || gotR != tt.wantRatings {
				t.Errorf("got (%q, %q), want (%q, %q)", gotT, gotR, tt.wantTranscripts, tt.wantRatings)
			}
		})
	}
}

func TestValidatePolicyConfig(t *testing.T) {
	fs := storageChoice{dataset: "pgnstream", backend: "fs", path: "/tmp/lode"}

	tests := []struct {
		name        string
		choice      policyChoice
		storage     storageChoice
		errContains string
	}{
		{"noop without storage", policyChoice{name: "noop"}, storageChoice{}, ""},
		{"strict", policyChoice{name: "strict"}, fs, ""},
		{"buffered games", policyChoice{name: "buffered", flushMode: "at_least_once", maxGames: 10}, fs, ""},
		{"buffered bytes games_first", policyChoice{name: "buffered", flushMode: "games_first", maxBytes: 1 << 20}, fs, ""},
		{"streaming count", policyChoice{name: "streaming", flushCount: 100}, fs, ""},
		{"streaming interval", policyChoice{name: "streaming", flushInterval: time.Second}, fs, ""},
		{"streaming bytes", policyChoice{name: "streaming", flushBytes: 1 << 16}, fs, ""},
		{"unknown", policyChoice{name: "eager"}, fs, "invalid --policy"},
		{"strict without storage", policyChoice{name: "strict"}, storageChoice{}, "requires --storage-backend"},
		{"buffered no limits", policyChoice{name: "buffered", flushMode: "at_least_once"}, fs, "buffer limits"},
		{"buffered bad mode", policyChoice{name: "buffered", flushMode: "two_phase", maxGames: 1}, fs, "invalid --flush-mode"},
		{"streaming no trigger", policyChoice{name: "streaming"}, fs, "flush trigger"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePolicyConfig(tt.choice, tt.storage)
			if tt.errContains == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errContains) {
				t.Fatalf("error = %v, want containing %q", err, tt.errContains)
			}
		})
	}
}

func TestValidateStorageConfig(t *testing.T) {
	ref := types.ArchiveRef{Variant: "standard", Year: 2013, Month: 1}
	withRef := archiveChoice{ref: &ref}

	tests := []struct {
		name        string
		storage     storageChoice
		archive     archiveChoice
		errContains string
	}{
		{"disabled", storageChoice{}, withRef, ""},
		{"fs", storageChoice{dataset: "d", backend: "fs", path: "/x"}, withRef, ""},
		{"s3", storageChoice{dataset: "d", backend: "s3", path: "bucket/prefix"}, withRef, ""},
		{"unknown backend", storageChoice{dataset: "d", backend: "gcs", path: "/x"}, withRef, "invalid --storage-backend"},
		{"missing path", storageChoice{dataset: "d", backend: "fs"}, withRef, "--storage-path is required"},
		{"empty dataset", storageChoice{backend: "fs", path: "/x"}, withRef, "--storage-dataset"},
		{"url only", storageChoice{dataset: "d", backend: "fs", path: "/x"}, archiveChoice{url: "https://x/y"}, "--archive is required"},
		{"negative retries", storageChoice{dataset: "d", backend: "fs", path: "/x", retries: -1}, withRef, "--storage-retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateStorageConfig(tt.storage, tt.archive)
			if tt.errContains == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errContains) {
				t.Fatalf("error = %v, want containing %q", err, tt.errContains)
			}
		})
	}
}

func TestBuildStoragePath(t *testing.T) {
	fsPath := buildStoragePath(storageChoice{backend: "fs", path: "/var/pgnstream"}, "pgnstream", "lichess", "standard", "2013-01", "run-001")
	if !strings.HasPrefix(fsPath, "file:///") {
		t.Errorf("fs path should start with file:///, got %q", fsPath)
	}
	for _, segment := range []string{"datasets/pgnstream/partitions", "source=lichess", "variant=standard", "month=2013-01", "run_id=run-001"} {
		if !strings.Contains(fsPath, segment) {
			t.Errorf("fs path should contain %q, got %q", segment, fsPath)
		}
	}

	tests := []struct {
		name    string
		storage storageChoice
		want    string
	}{
		{"s3 with prefix", storageChoice{backend: "s3", path: "bucket/data"},
			"s3://bucket/data/datasets/pgnstream/partitions/source=lichess/variant=standard/month=2013-01/run_id=run-x"},
		{"s3 bucket only", storageChoice{backend: "s3", path: "bucket"},
			"s3://bucket/datasets/pgnstream/partitions/source=lichess/variant=standard/month=2013-01/run_id=run-x"},
		{"unknown backend", storageChoice{backend: "gcs", path: "/tmp"},
			"datasets/pgnstream/partitions/source=lichess/variant=standard/month=2013-01/run_id=run-x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildStoragePath(tt.storage, "pgnstream", "lichess", "standard", "2013-01", "run-x")
			if got != tt.want {
				t.Errorf("got  %q\nwant %q", got, tt.want)
			}
		})
	}
}
