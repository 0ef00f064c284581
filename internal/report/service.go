// Package report answers analytical questions over exported series
// files. It uses DuckDB to scan Parquet exports directly, without
// loading them into the process.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/hitrate/internal/config"
)

// Service provides query capabilities over exported series files.
type Service struct {
	mu sync.RWMutex

	cfg *config.ReportConfig
	dir string
	db  *sql.DB

	stats Stats
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

// SeriesResult is one exported series row as the report sees it.
type SeriesResult struct {
	Series     string
	Buffer     int32
	Updates    int64
	Hits       float64
	Ratio      float64
	ExportedMs int64
}

// New creates a report service reading Parquet exports from dir.
func New(cfg *config.ReportConfig, dir string) (*Service, error) {
	if cfg == nil {
		defaults := config.DefaultConfig()
		cfg = &defaults.Report
	}

	// In-memory DuckDB; exports stay on disk and are scanned per query.
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if cfg.MemoryLimit != "" {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit='%s'", cfg.MemoryLimit)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	return &Service{
		cfg: cfg,
		dir: dir,
		db:  db,
	}, nil
}

// Close closes the report service.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Service) pattern() string {
	return filepath.Join(s.dir, "*.parquet")
}

func (s *Service) limit(requested int) int {
	limit := s.cfg.MaxRows
	if requested > 0 && requested < limit {
		limit = requested
	}
	return limit
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, s.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// WorstSeries returns up to limit series ordered by ascending lifetime
// hit ratio, keeping only series with at least minUpdates
// observations. Short-lived series would otherwise dominate the
// bottom of the list on noise.
func (s *Service) WorstSeries(ctx context.Context, minUpdates int64, limit int) ([]SeriesResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT series, buffer, updates, hits, ratio, exported_ms
		FROM read_parquet($1)
		WHERE updates >= $2
		ORDER BY ratio ASC, series
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, s.pattern(), minUpdates, s.limit(limit))
	if err != nil {
		s.stats.Errors++
		return nil, fmt.Errorf("query exports: %w", err)
	}
	defer rows.Close()

	return s.scanSeries(rows)
}

// ScanSeries returns the latest exported row per series whose key
// matches the SQL LIKE pattern, ordered by key.
func (s *Service) ScanSeries(ctx context.Context, like string, limit int) ([]SeriesResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if like == "" {
		like = "%"
	}

	query := `
		SELECT series, buffer, updates, hits, ratio, exported_ms
		FROM (
			SELECT *, row_number() OVER (PARTITION BY series ORDER BY exported_ms DESC) AS rn
			FROM read_parquet($1)
			WHERE series LIKE $2
		)
		WHERE rn = 1
		ORDER BY series
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, s.pattern(), like, s.limit(limit))
	if err != nil {
		s.stats.Errors++
		return nil, fmt.Errorf("query exports: %w", err)
	}
	defer rows.Close()

	return s.scanSeries(rows)
}

// RatioOverTime returns one row per export of a single series, oldest
// first, showing how its lifetime ratio evolved across exports.
func (s *Service) RatioOverTime(ctx context.Context, series string) ([]SeriesResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT series, buffer, updates, hits, ratio, exported_ms
		FROM read_parquet($1)
		WHERE series = $2
		ORDER BY exported_ms
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, s.pattern(), series, s.cfg.MaxRows)
	if err != nil {
		s.stats.Errors++
		return nil, fmt.Errorf("query exports: %w", err)
	}
	defer rows.Close()

	return s.scanSeries(rows)
}

// scanSeries scans rows into SeriesResult slice.
func (s *Service) scanSeries(rows *sql.Rows) ([]SeriesResult, error) {
	var results []SeriesResult

	for rows.Next() {
		var r SeriesResult
		if err := rows.Scan(&r.Series, &r.Buffer, &r.Updates, &r.Hits, &r.Ratio, &r.ExportedMs); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(results))
	return results, nil
}

// ExecuteSQL executes a raw SQL query. If the query references $1,
// the exports glob is bound to it so callers can read_parquet($1)
// without knowing the directory layout.
func (s *Service) ExecuteSQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var args []interface{}
	if strings.Contains(query, "$1") {
		args = append(args, s.pattern())
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.stats.Errors++
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(results))
	return results, nil
}

// Stats returns query statistics.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Dir returns the export directory the service scans.
func (s *Service) Dir() string { return s.dir }
