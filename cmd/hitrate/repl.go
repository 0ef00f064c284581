package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"golang.org/x/term"

	"github.com/xtxerr/hitrate/internal/config"
	"github.com/xtxerr/hitrate/internal/export"
	"github.com/xtxerr/hitrate/internal/history"
	"github.com/xtxerr/hitrate/internal/report"
	"github.com/xtxerr/hitrate/internal/snapshot"
	"github.com/xtxerr/hitrate/internal/tracker"
)

// shell is the interactive session state: one tracker over one pool,
// plus a lazily opened report service.
type shell struct {
	cfg       *config.Config
	tr        *tracker.Tracker
	reportSvc *report.Service
}

var shellCommands = []prompt.Suggest{
	{Text: "record", Description: "record <series> <1|0> [count]"},
	{Text: "totals", Description: "totals <series>"},
	{Text: "window", Description: "window <series> <length>"},
	{Text: "history", Description: "history <series> [length]"},
	{Text: "series", Description: "list registered series"},
	{Text: "drop", Description: "drop <series>"},
	{Text: "stats", Description: "tracker counters"},
	{Text: "save", Description: "save [path]"},
	{Text: "load", Description: "load [path]"},
	{Text: "export", Description: "export [path]"},
	{Text: "worst", Description: "worst [min-updates] [limit]"},
	{Text: "sql", Description: "sql <query>"},
	{Text: "help", Description: "list commands"},
	{Text: "quit", Description: "exit the shell"},
}

// runShell starts the interactive shell, resuming from the configured
// snapshot when one exists.
func runShell(cfg *config.Config) {
	s := &shell{cfg: cfg}

	snapPath := cfg.SnapshotPath()
	if pool, labels, err := snapshot.LoadLabeled(snapPath); err == nil {
		tr, err := tracker.Restore(pool, labels)
		if err != nil {
			fatalf("restore tracker: %v", err)
		}
		s.tr = tr
		fmt.Printf("resumed %d series from %s\n", tr.ActiveCount(), snapPath)
	} else {
		if !errors.Is(err, fs.ErrNotExist) {
			fatalf("load snapshot %s: %v", snapPath, err)
		}
		policy, perr := history.ParsePolicy(cfg.Pool.Policy)
		if perr != nil {
			fatalf("pool policy: %v", perr)
		}
		pool, perr := history.NewPoolWithPolicy(cfg.Pool.StoreCount, cfg.Pool.BufferCount, policy)
		if perr != nil {
			fatalf("create pool: %v", perr)
		}
		s.tr = tracker.New(pool)
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Printf("hitrate %s (%d levels x %d buffers), 'help' for commands\n",
			Version, s.tr.Pool().StoreCount(), s.tr.Pool().BufferCount())
		p := prompt.New(s.execute, s.complete,
			prompt.OptionTitle("hitrate"),
			prompt.OptionPrefix("hitrate> "),
		)
		p.Run()
		return
	}

	// Not a terminal: execute piped commands line by line.
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		s.execute(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		fatalf("read input: %v", err)
	}
}

func (s *shell) complete(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return nil
	}
	return prompt.FilterHasPrefix(shellCommands, d.GetWordBeforeCursor(), true)
}

func (s *shell) execute(line string) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return
	}

	var err error
	switch args[0] {
	case "record":
		err = s.cmdRecord(args[1:])
	case "totals":
		err = s.cmdTotals(args[1:])
	case "window":
		err = s.cmdWindow(args[1:])
	case "history":
		err = s.cmdHistory(args[1:])
	case "series":
		s.cmdSeries()
	case "drop":
		err = s.cmdDrop(args[1:])
	case "stats":
		s.cmdStats()
	case "save":
		err = s.cmdSave(args[1:])
	case "load":
		err = s.cmdLoad(args[1:])
	case "export":
		err = s.cmdExport(args[1:])
	case "worst":
		err = s.cmdWorst(args[1:])
	case "sql":
		err = s.cmdSQL(args[1:])
	case "help":
		for _, c := range shellCommands {
			fmt.Printf("  %-10s %s\n", c.Text, c.Description)
		}
	case "quit", "exit":
		if s.reportSvc != nil {
			s.reportSvc.Close()
		}
		os.Exit(0)
	default:
		err = fmt.Errorf("unknown command %q, 'help' for commands", args[0])
	}
	if err != nil {
		fmt.Printf("error: %v\n", err)
	}
}

func (s *shell) cmdRecord(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: record <series> <1|0> [count]")
	}
	var hit bool
	switch args[1] {
	case "1", "hit":
		hit = true
	case "0", "miss":
		hit = false
	default:
		return fmt.Errorf("bit must be 1 or 0, got %q", args[1])
	}
	count := 1
	if len(args) > 2 {
		n, err := strconv.Atoi(args[2])
		if err != nil || n < 1 {
			return fmt.Errorf("count must be a positive integer, got %q", args[2])
		}
		count = n
	}
	for k := 0; k < count; k++ {
		if err := s.tr.Record(args[0], hit); err != nil {
			return err
		}
	}
	return nil
}

func (s *shell) cmdTotals(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: totals <series>")
	}
	tot, err := s.tr.SeriesTotals(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("updates=%d hits=%.1f ratio=%.4f\n", tot.Updates, tot.Hits, tot.Ratio)
	return nil
}

func (s *shell) cmdWindow(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: window <series> <length>")
	}
	length, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("length: %v", err)
	}
	tot, err := s.tr.WindowTotals(args[0], length)
	if err != nil {
		return err
	}
	fmt.Printf("window=%d updates=%d hits=%.1f ratio=%.4f\n",
		length, tot.Updates, tot.Hits, tot.Ratio)
	return nil
}

func (s *shell) cmdHistory(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: history <series> [length]")
	}
	idx, ok := s.tr.Lookup(args[0])
	if !ok {
		return fmt.Errorf("%q: %w", args[0], tracker.ErrUnknownSeries)
	}
	length := 64
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("length: %v", err)
		}
		length = n
	}
	bits, err := s.tr.Pool().History(idx, length)
	if err != nil {
		return err
	}
	fmt.Println(history.FormatBits(bits))
	return nil
}

func (s *shell) cmdSeries() {
	stats := s.tr.AllStats()
	fmt.Printf("%-40s %8s %12s %8s\n", "series", "buffer", "updates", "ratio")
	for _, st := range stats {
		fmt.Printf("%-40s %8d %12d %8.4f\n",
			st.Key, st.Index, st.Totals.Updates, st.Totals.Ratio)
	}
	fmt.Printf("%d series\n", len(stats))
}

func (s *shell) cmdDrop(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: drop <series>")
	}
	return s.tr.Drop(args[0])
}

func (s *shell) cmdStats() {
	st := s.tr.Stats()
	fmt.Printf("active=%d observations=%d hits=%d created=%d dropped=%d\n",
		st.ActiveSeries, st.Observations, st.Hits, st.SeriesCreated, st.SeriesDropped)
}

func (s *shell) cmdSave(args []string) error {
	path := s.cfg.SnapshotPath()
	if len(args) > 0 {
		path = args[0]
	}
	if err := snapshot.SaveLabeled(path, s.tr.Pool(), s.tr.Labels()); err != nil {
		return err
	}
	fmt.Printf("saved %d series to %s\n", s.tr.ActiveCount(), path)
	return nil
}

func (s *shell) cmdLoad(args []string) error {
	path := s.cfg.SnapshotPath()
	if len(args) > 0 {
		path = args[0]
	}
	pool, labels, err := snapshot.LoadLabeled(path)
	if err != nil {
		return err
	}
	tr, err := tracker.Restore(pool, labels)
	if err != nil {
		return err
	}
	s.tr = tr
	fmt.Printf("loaded %d series from %s\n", tr.ActiveCount(), path)
	return nil
}

func (s *shell) cmdExport(args []string) error {
	path := filepath.Join(s.cfg.ExportDir(), fmt.Sprintf("series-%d.parquet", time.Now().UnixMilli()))
	if len(args) > 0 {
		path = args[0]
	}
	n, err := export.WriteFile(path, s.tr, exportOptions(s.cfg))
	if err != nil {
		return err
	}
	fmt.Printf("exported %d series to %s\n", n, path)
	return nil
}

func (s *shell) ensureReport() (*report.Service, error) {
	if s.reportSvc != nil {
		return s.reportSvc, nil
	}
	svc, err := report.New(&s.cfg.Report, s.cfg.ExportDir())
	if err != nil {
		return nil, err
	}
	s.reportSvc = svc
	return svc, nil
}

func (s *shell) cmdWorst(args []string) error {
	svc, err := s.ensureReport()
	if err != nil {
		return err
	}
	minUpdates := int64(64)
	limit := 20
	if len(args) > 0 {
		n, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("min-updates: %v", err)
		}
		minUpdates = n
	}
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("limit: %v", err)
		}
		limit = n
	}
	results, err := svc.WorstSeries(context.Background(), minUpdates, limit)
	if err != nil {
		return err
	}
	printSeries(results)
	return nil
}

func (s *shell) cmdSQL(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: sql <query>")
	}
	svc, err := s.ensureReport()
	if err != nil {
		return err
	}
	rows, err := svc.ExecuteSQL(context.Background(), strings.Join(args, " "))
	if err != nil {
		return err
	}
	printSQL(rows)
	return nil
}
