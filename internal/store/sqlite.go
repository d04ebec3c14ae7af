package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/seenimoa/fraudlens/pkg/models"
)

// SQLiteStore persists analyses in a SQLite database. Input and result are
// stored as JSON; the list-view fields are duplicated into indexed columns.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serializes writes
}

// NewSQLiteStore opens (or creates) the database at path and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: ":memory:" databases are per-connection, and writes are
	// serialized anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Debug("sqlite store opened", "path", path)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS analyses (
			id               TEXT PRIMARY KEY,
			created_at       INTEGER NOT NULL,
			company_name     TEXT NOT NULL,
			financial_year   INTEGER NOT NULL,
			source           TEXT NOT NULL,
			formula          TEXT NOT NULL,
			m_score          REAL NOT NULL,
			interpretation   TEXT NOT NULL,
			fraud_likelihood REAL NOT NULL,
			red_flag_count   INTEGER NOT NULL,
			input_json       TEXT NOT NULL,
			result_json      TEXT NOT NULL,
			confidence_json  TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_created ON analyses(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_company ON analyses(company_name)`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_interp ON analyses(interpretation)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, a *models.Analysis) error {
	if err := checkFinite(a); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM analyses WHERE id = ?`, a.ID).Scan(&exists)
	switch {
	case err == nil:
		return ErrExists
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check analysis %s: %w", a.ID, err)
	}

	input, err := json.Marshal(a.Input)
	if err != nil {
		return fmt.Errorf("encode input: %w", err)
	}
	result, err := json.Marshal(a.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	var confidence []byte
	if len(a.FieldConfidence) > 0 {
		if confidence, err = json.Marshal(a.FieldConfidence); err != nil {
			return fmt.Errorf("encode confidence: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO analyses (
		id, created_at, company_name, financial_year, source, formula,
		m_score, interpretation, fraud_likelihood, red_flag_count,
		input_json, result_json, confidence_json
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CreatedAt.UnixNano(), a.Input.CompanyName, a.Input.FinancialYear,
		string(a.Source), a.Result.Formula,
		a.Result.MScore, string(a.Result.Interpretation), a.Result.FraudLikelihood,
		len(a.Result.RedFlags),
		string(input), string(result), nullString(confidence),
	)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Analysis, error) {
	var (
		a             models.Analysis
		created       int64
		source        string
		input, result string
		confidence    sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, created_at, source, input_json, result_json, confidence_json
		FROM analyses WHERE id = ?`, id).Scan(&a.ID, &created, &source, &input, &result, &confidence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis %s: %w", id, err)
	}

	a.CreatedAt = time.Unix(0, created).UTC()
	a.Source = models.Source(source)
	if err := json.Unmarshal([]byte(input), &a.Input); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if err := json.Unmarshal([]byte(result), &a.Result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if confidence.Valid {
		if err := json.Unmarshal([]byte(confidence.String), &a.FieldConfidence); err != nil {
			return nil, fmt.Errorf("decode confidence: %w", err)
		}
	}
	return &a, nil
}

func (s *SQLiteStore) List(ctx context.Context, f ListFilter) ([]models.AnalysisSummary, error) {
	var (
		where []string
		args  []any
	)
	if f.Company != "" {
		where = append(where, `company_name LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(f.Company)+"%")
	}
	if f.Risk != "" {
		where = append(where, `interpretation = ?`)
		args = append(args, string(f.Risk))
	}

	q := `SELECT id, created_at, company_name, financial_year, m_score, interpretation,
		fraud_likelihood, red_flag_count FROM analyses`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, f.limit(), max(f.Offset, 0))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	out := []models.AnalysisSummary{}
	for rows.Next() {
		var (
			sum     models.AnalysisSummary
			created int64
			interp  string
		)
		if err := rows.Scan(&sum.ID, &created, &sum.CompanyName, &sum.FinancialYear, &sum.MScore,
			&interp, &sum.FraudLikelihood, &sum.RedFlagCount); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		sum.CreatedAt = time.Unix(0, created).UTC()
		sum.Interpretation = models.RiskLevel(interp)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM analyses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete analysis %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete analysis %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func nullString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
