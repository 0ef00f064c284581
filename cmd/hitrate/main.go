// hitrate tracks hit/miss series in compressed history buffers and
// answers windowed ratio queries over them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/xtxerr/hitrate/internal/config"
	"github.com/xtxerr/hitrate/internal/export"
	"github.com/xtxerr/hitrate/internal/logging"
	"github.com/xtxerr/hitrate/internal/report"
	"github.com/xtxerr/hitrate/internal/sim"
	"github.com/xtxerr/hitrate/internal/snapshot"
	"github.com/xtxerr/hitrate/internal/tracker"
)

// Version is set at build time via ldflags
var Version = "dev"

const usageText = `Usage: hitrate [flags] [command]

Commands:
  shell              interactive shell (default)
  sim                measure window estimation accuracy
  export [snapshot]  export snapshot series to Parquet
  report <sub>       query Parquet exports (worst, scan, trend, sql)
  info <snapshot>    print snapshot metadata

Flags:
`

func main() {
	// CLI flags
	cfgPath := flag.String("config", "config.yaml", "config file path")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	logJSON := flag.Bool("log-json", false, "log as JSON (overrides config)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usageText)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("hitrate %s\n", Version)
		return
	}

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg = config.DefaultConfig()
		} else {
			fatalf("load config: %v", err)
		}
	}

	// CLI overrides
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logJSON {
		cfg.Log.JSON = true
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		fatalf("log level: %v", err)
	}
	logging.Init(level, cfg.Log.JSON)

	switch flag.Arg(0) {
	case "", "shell":
		runShell(cfg)
	case "sim":
		runSim(cfg, flag.Args()[1:])
	case "export":
		runExport(cfg, flag.Args()[1:])
	case "report":
		runReport(cfg, flag.Args()[1:])
	case "info":
		runInfo(flag.Args()[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", flag.Arg(0))
		flag.Usage()
		os.Exit(2)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "hitrate: "+format+"\n", args...)
	os.Exit(1)
}

// runSim replays synthetic hit streams and prints the windowed error
// quantiles. Config supplies defaults; sub-flags override per run.
func runSim(cfg *config.Config, args []string) {
	fset := flag.NewFlagSet("sim", flag.ExitOnError)
	stores := fset.Int("stores", cfg.Pool.StoreCount, "history levels per buffer")
	updates := fset.Int("updates", cfg.Sim.Updates, "stream length per run")
	runs := fset.Int("runs", cfg.Sim.Runs, "independent runs")
	hitProb := fset.Float64("p", cfg.Sim.HitProbability, "stationary hit probability")
	meanBurst := fset.Float64("burst", cfg.Sim.MeanBurst, "mean burst length")
	workers := fset.Int("workers", cfg.Sim.Workers, "concurrent runs (0 = unlimited)")
	seed := fset.Int64("seed", cfg.Sim.Seed, "random seed (0 = time-based)")
	fset.Parse(args)

	opts := sim.DefaultOptions()
	opts.Stores = *stores
	opts.Updates = *updates
	opts.Runs = *runs
	opts.HitProbability = *hitProb
	opts.MeanBurst = *meanBurst
	opts.Accuracy = cfg.Sim.Accuracy
	opts.Workers = *workers
	opts.Seed = *seed
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, err := sim.Run(ctx, opts)
	if err != nil {
		fatalf("sim: %v", err)
	}
	fmt.Print(rep.String())
}

// runExport loads a snapshot and writes its series to a timestamped
// Parquet file under the export directory.
func runExport(cfg *config.Config, args []string) {
	snapPath := cfg.SnapshotPath()
	if len(args) > 0 {
		snapPath = args[0]
	}

	pool, labels, err := snapshot.LoadLabeled(snapPath)
	if err != nil {
		fatalf("load snapshot %s: %v", snapPath, err)
	}
	tr, err := tracker.Restore(pool, labels)
	if err != nil {
		fatalf("restore tracker: %v", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		fatalf("%v", err)
	}
	out := filepath.Join(cfg.ExportDir(), fmt.Sprintf("series-%d.parquet", time.Now().UnixMilli()))
	n, err := export.WriteFile(out, tr, exportOptions(cfg))
	if err != nil {
		fatalf("export: %v", err)
	}
	fmt.Printf("exported %d series to %s\n", n, out)
}

func exportOptions(cfg *config.Config) export.Options {
	return export.Options{
		Compression:      export.ParseCompressionType(cfg.Export.Compression.Algorithm),
		CompressionLevel: cfg.Export.Compression.Level,
		Windows:          cfg.Export.Windows,
	}
}

// runReport queries the Parquet export directory through DuckDB.
func runReport(cfg *config.Config, args []string) {
	if len(args) == 0 {
		fatalf("report: subcommand required (worst, scan, trend, sql)")
	}

	svc, err := report.New(&cfg.Report, cfg.ExportDir())
	if err != nil {
		fatalf("report: %v", err)
	}
	defer svc.Close()

	ctx := context.Background()
	switch args[0] {
	case "worst":
		minUpdates := int64(64)
		limit := 20
		if len(args) > 1 {
			minUpdates = parseI64(args[1], "min-updates")
		}
		if len(args) > 2 {
			limit = int(parseI64(args[2], "limit"))
		}
		results, err := svc.WorstSeries(ctx, minUpdates, limit)
		if err != nil {
			fatalf("report worst: %v", err)
		}
		printSeries(results)
	case "scan":
		like := "%"
		limit := 100
		if len(args) > 1 {
			like = args[1]
		}
		if len(args) > 2 {
			limit = int(parseI64(args[2], "limit"))
		}
		results, err := svc.ScanSeries(ctx, like, limit)
		if err != nil {
			fatalf("report scan: %v", err)
		}
		printSeries(results)
	case "trend":
		if len(args) < 2 {
			fatalf("report trend: series key required")
		}
		results, err := svc.RatioOverTime(ctx, args[1])
		if err != nil {
			fatalf("report trend: %v", err)
		}
		printTrend(results)
	case "sql":
		if len(args) < 2 {
			fatalf("report sql: query required")
		}
		rows, err := svc.ExecuteSQL(ctx, strings.Join(args[1:], " "))
		if err != nil {
			fatalf("report sql: %v", err)
		}
		printSQL(rows)
	default:
		fatalf("report: unknown subcommand %q", args[0])
	}
}

// runInfo prints snapshot metadata without loading the buffers.
func runInfo(args []string) {
	if len(args) == 0 {
		fatalf("info: snapshot path required")
	}
	info, err := snapshot.ReadInfo(args[0])
	if err != nil {
		fatalf("info: %v", err)
	}
	fmt.Printf("stores:   %d\n", info.StoreCount)
	fmt.Printf("buffers:  %d\n", info.BufferCount)
	fmt.Printf("policy:   %s\n", info.Policy)
	fmt.Printf("created:  %s\n", time.UnixMilli(info.CreatedMs).Format(time.RFC3339))
}

func parseI64(s, what string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fatalf("%s: %v", what, err)
	}
	return v
}

func printSeries(results []report.SeriesResult) {
	fmt.Printf("%-40s %8s %12s %12s %8s\n", "series", "buffer", "updates", "hits", "ratio")
	for _, r := range results {
		fmt.Printf("%-40s %8d %12d %12.1f %8.4f\n",
			r.Series, r.Buffer, r.Updates, r.Hits, r.Ratio)
	}
	fmt.Printf("%d rows\n", len(results))
}

func printTrend(results []report.SeriesResult) {
	fmt.Printf("%-24s %12s %12s %8s\n", "exported", "updates", "hits", "ratio")
	for _, r := range results {
		fmt.Printf("%-24s %12d %12.1f %8.4f\n",
			time.UnixMilli(r.ExportedMs).Format(time.RFC3339), r.Updates, r.Hits, r.Ratio)
	}
	fmt.Printf("%d rows\n", len(results))
}

func printSQL(rows []map[string]interface{}) {
	for _, row := range rows {
		cols := make([]string, 0, len(row))
		for col := range row {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		parts := make([]string, 0, len(cols))
		for _, col := range cols {
			parts = append(parts, fmt.Sprintf("%s=%v", col, row[col]))
		}
		fmt.Println(strings.Join(parts, " "))
	}
	fmt.Printf("%d rows\n", len(rows))
}
