package persistence

import (
	"context"
	"database/sql"
	"evalboard/internal/core"
	"evalboard/internal/logger"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"           // Postgres driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLStore is the durable backend. It runs on PostgreSQL in production and
// on SQLite for single-node deployments and tests.
type SQLStore struct {
	db     *sql.DB
	driver string
	dsn    string

	// schemaMu guards ready; tables are created on the first reachable call.
	schemaMu sync.Mutex
	ready    bool
}

// NewSQLStore opens the durable store and tries to create its tables. An
// unreachable database is not an error: the connection pool is lazy, and the
// schema is created on the first call that reaches the database.
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "postgres", "sqlite3":
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == "postgres" {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	} else {
		// SQLite allows a single writer; one connection keeps transactions serialized.
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{db: db, driver: driver, dsn: dsn}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.ensureSchema(ctx); err != nil {
		logger.Get().Warn("Durable store not reachable yet, schema creation deferred",
			"driver", driver, "error", err)
	}

	return s, nil
}

// ensureSchema creates the tables once the database is reachable. Failed
// attempts are retried by the next call.
func (s *SQLStore) ensureSchema(ctx context.Context) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.ready {
		return nil
	}

	if s.driver == "sqlite3" {
		if dir := filepath.Dir(s.dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to reach database: %w", err)
	}
	if err := s.initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	s.ready = true
	return nil
}

// initialize creates the necessary tables
func (s *SQLStore) initialize(ctx context.Context) error {
	evaluationsTable := `
	CREATE TABLE IF NOT EXISTS evaluations (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		teaching INTEGER NOT NULL CHECK (teaching BETWEEN 1 AND 10),
		communication INTEGER NOT NULL CHECK (communication BETWEEN 1 AND 10),
		knowledge INTEGER NOT NULL CHECK (knowledge BETWEEN 1 AND 10),
		support INTEGER NOT NULL CHECK (support BETWEEN 1 AND 10),
		management INTEGER NOT NULL CHECK (management BETWEEN 1 AND 10),
		comments TEXT NOT NULL,
		narrative TEXT NOT NULL DEFAULT ''
	);`

	reportsTable := `
	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		student_count INTEGER NOT NULL UNIQUE,
		narrative TEXT NOT NULL
	);`

	// Single-row table holding the count at which the last report fired.
	stateTable := `
	CREATE TABLE IF NOT EXISTS report_state (
		id INTEGER PRIMARY KEY,
		last_report_count INTEGER NOT NULL
	);`

	seedState := `INSERT INTO report_state (id, last_report_count) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`

	for _, stmt := range []string{evaluationsTable, reportsTable, stateTable, seedState} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// rebind converts ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Name identifies the backend in logs.
func (s *SQLStore) Name() string { return s.driver }

// Ping checks database reachability and creates the schema on the first success.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// InsertEvaluation stores a new record.
func (s *SQLStore) InsertEvaluation(ctx context.Context, e core.Evaluation) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	query := s.rebind(`
	INSERT INTO evaluations
	(id, created_at, teaching, communication, knowledge, support, management, comments, narrative)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.Timestamp.UTC(),
		e.Criteria.Teaching,
		e.Criteria.Communication,
		e.Criteria.Knowledge,
		e.Criteria.Support,
		e.Criteria.Management,
		e.Comments,
		e.Narrative,
	)
	if err != nil {
		return fmt.Errorf("failed to insert evaluation: %w", err)
	}
	return nil
}

// ListEvaluations returns all records, newest first.
func (s *SQLStore) ListEvaluations(ctx context.Context) ([]core.Evaluation, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	query := `
	SELECT id, created_at, teaching, communication, knowledge, support, management, comments, narrative
	FROM evaluations
	ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query evaluations: %w", err)
	}
	defer rows.Close()

	evals := []core.Evaluation{}
	for rows.Next() {
		var e core.Evaluation
		if err := rows.Scan(
			&e.ID,
			&e.Timestamp,
			&e.Criteria.Teaching,
			&e.Criteria.Communication,
			&e.Criteria.Knowledge,
			&e.Criteria.Support,
			&e.Criteria.Management,
			&e.Comments,
			&e.Narrative,
		); err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		evals = append(evals, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate evaluations: %w", err)
	}
	return evals, nil
}

// CountEvaluations returns the number of records.
func (s *SQLStore) CountEvaluations(ctx context.Context) (int, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM evaluations").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count evaluations: %w", err)
	}
	return n, nil
}

// UpdateEvaluation applies patch to one row; the single UPDATE is atomic per record.
func (s *SQLStore) UpdateEvaluation(ctx context.Context, id string, patch EvaluationPatch) (bool, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return false, err
	}
	if patch.Narrative == nil {
		var exists int
		err := s.db.QueryRowContext(ctx, s.rebind("SELECT 1 FROM evaluations WHERE id = ?"), id).Scan(&exists)
		if err == sql.ErrNoRows {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to look up evaluation: %w", err)
		}
		return true, nil
	}

	res, err := s.db.ExecContext(ctx, s.rebind("UPDATE evaluations SET narrative = ? WHERE id = ?"), *patch.Narrative, id)
	if err != nil {
		return false, fmt.Errorf("failed to update evaluation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// DeleteEvaluation removes one record.
func (s *SQLStore) DeleteEvaluation(ctx context.Context, id string) (bool, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM evaluations WHERE id = ?"), id)
	if err != nil {
		return false, fmt.Errorf("failed to delete evaluation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// LoadReportHistory returns all reports ordered by student count, oldest first.
func (s *SQLStore) LoadReportHistory(ctx context.Context) (core.ReportHistory, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return core.ReportHistory{}, err
	}
	h := core.ReportHistory{Reports: []core.Report{}}

	if err := s.db.QueryRowContext(ctx, "SELECT last_report_count FROM report_state WHERE id = 1").Scan(&h.LastReportCount); err != nil {
		return h, fmt.Errorf("failed to read report state: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT id, created_at, student_count, narrative
	FROM reports
	ORDER BY student_count ASC`)
	if err != nil {
		return h, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r core.Report
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.StudentCount, &r.Narrative); err != nil {
			return h, fmt.Errorf("failed to scan report: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		h.Reports = append(h.Reports, r)
	}
	if err := rows.Err(); err != nil {
		return h, fmt.Errorf("failed to iterate reports: %w", err)
	}
	return h, nil
}

// AppendReport inserts report and advances last_report_count in one
// transaction, guarded by a compare-and-swap on the previous count.
func (s *SQLStore) AppendReport(ctx context.Context, report core.Report, expectedLast int) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		s.rebind("UPDATE report_state SET last_report_count = ? WHERE id = 1 AND (? < 0 OR last_report_count = ?) AND ? > last_report_count"),
		report.StudentCount, expectedLast, expectedLast, report.StudentCount)
	if err != nil {
		return fmt.Errorf("failed to advance report state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: expected last count %d, report count %d", core.ErrStaleReport, expectedLast, report.StudentCount)
	}

	_, err = tx.ExecContext(ctx,
		s.rebind("INSERT INTO reports (id, created_at, student_count, narrative) VALUES (?, ?, ?, ?)"),
		report.ID, report.Timestamp.UTC(), report.StudentCount, report.Narrative)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit report: %w", err)
	}
	return nil
}
