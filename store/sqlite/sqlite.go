/*
Package sqlite provides a SQLite-backed implementation of the engine's persistence seams.

PURPOSE:
  Implements every interface of generic/store.go using SQLite, plus the
  write side the API and the fact importer need (subjects, expenses,
  postings).

INTERFACES IMPLEMENTED:
  generic.IntervalTxStore: Validity intervals with write groups
  generic.ExpenseSource:   Amortized expenses of a property
  generic.PostingSource:   Per-category posting totals
  generic.SubjectSource:   Tenancies / managed units of a property
  generic.GoverningBound:  Contract end of a subject

INSERT-ONLY TABLES:
  amortized_expenses and postings are never updated. A trigger rejects
  UPDATE on amortized_expenses; corrections are new records.

KEY TABLES:
  subjects:            Tenancies and managed units
  validity_intervals:  Soll history, values as ordered JSON
  amortized_expenses:  Repair expenses with spread and optional shares
  postings:            Ledger entries by category

WRITE GROUPS:
  WithTx runs fn on a *sql.Tx. Reads made inside fn go through the same
  transaction, so a write group sees its own writes and never waits on the
  store mutex it already holds.

SCHEMA:
  Versioned migrations in migrations/*.sql, embedded and applied with
  golang-migrate on New().

USAGE:
  store, err := sqlite.New("./data/rental.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  intervals := generic.NewIntervalStore(store, bus, logger)
  intervals.Bounds = store

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/mattn/go-sqlite3"
	"github.com/warp/rental-engine/generic"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const dateLayout = "2006-01-02"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// runMigrations applies the embedded migrations. The migrate instance is not
// closed: its sqlite3 driver would close db along with it.
func runMigrations(db *sql.DB) error {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}
	defer src.Close()

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// VALIDITY INTERVALS (generic.IntervalRepository)
// =============================================================================

// LoadIntervals returns all intervals of a subject ordered by valid_from.
func (s *Store) LoadIntervals(ctx context.Context, subjectID generic.SubjectID) ([]generic.ValidityInterval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadIntervals(ctx, s.db, subjectID)
}

// SaveInterval inserts or replaces an interval.
func (s *Store) SaveInterval(ctx context.Context, iv generic.ValidityInterval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveInterval(ctx, s.db, iv)
}

// DeleteInterval removes an interval.
func (s *Store) DeleteInterval(ctx context.Context, id generic.IntervalID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteInterval(ctx, s.db, id)
}

func loadIntervals(ctx context.Context, q querier, subjectID generic.SubjectID) ([]generic.ValidityInterval, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, subject_id, valid_from, valid_to, values_json, note
		FROM validity_intervals
		WHERE subject_id = ?
		ORDER BY valid_from ASC
	`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query intervals: %w", err)
	}
	defer rows.Close()

	intervals := []generic.ValidityInterval{}
	for rows.Next() {
		iv, err := scanInterval(rows)
		if err != nil {
			return nil, err
		}
		intervals = append(intervals, iv)
	}
	return intervals, rows.Err()
}

func scanInterval(rows *sql.Rows) (generic.ValidityInterval, error) {
	var (
		iv         generic.ValidityInterval
		validFrom  string
		validTo    sql.NullString
		valuesJSON string
	)
	if err := rows.Scan(&iv.ID, &iv.SubjectID, &validFrom, &validTo, &valuesJSON, &iv.Note); err != nil {
		return iv, fmt.Errorf("failed to scan interval: %w", err)
	}

	from, err := generic.ParseTimePoint(validFrom)
	if err != nil {
		return iv, fmt.Errorf("interval %s: %w", iv.ID, err)
	}
	iv.ValidFrom = from
	if iv.ValidTo, err = parseOptionalDate(validTo); err != nil {
		return iv, fmt.Errorf("interval %s: %w", iv.ID, err)
	}
	if err := json.Unmarshal([]byte(valuesJSON), &iv.Values); err != nil {
		return iv, fmt.Errorf("interval %s: decode values: %w", iv.ID, err)
	}
	return iv, nil
}

func saveInterval(ctx context.Context, q querier, iv generic.ValidityInterval) error {
	valuesJSON, err := json.Marshal(iv.Values)
	if err != nil {
		return fmt.Errorf("encode values: %w", err)
	}

	// The WHERE clause keeps an id from moving to another subject.
	res, err := q.ExecContext(ctx, `
		INSERT INTO validity_intervals (id, subject_id, valid_from, valid_to, values_json, note)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			valid_from  = excluded.valid_from,
			valid_to    = excluded.valid_to,
			values_json = excluded.values_json,
			note        = excluded.note
		WHERE validity_intervals.subject_id = excluded.subject_id
	`,
		iv.ID,
		iv.SubjectID,
		iv.ValidFrom.String(),
		formatOptionalDate(iv.ValidTo),
		string(valuesJSON),
		iv.Note,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("interval %s: %w", iv.ID, generic.ErrDuplicateID)
		}
		return fmt.Errorf("failed to save interval: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("interval %s belongs to another subject: %w", iv.ID, generic.ErrDuplicateID)
	}
	return nil
}

func deleteInterval(ctx context.Context, q querier, id generic.IntervalID) error {
	res, err := q.ExecContext(ctx, "DELETE FROM validity_intervals WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete interval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &generic.NotFoundError{What: "interval", ID: string(id)}
	}
	return nil
}

// =============================================================================
// WRITE GROUPS (generic.IntervalTxStore)
// =============================================================================

// WithTx executes fn within a database transaction. Any error from fn, a
// validation failure included, rolls back every write made through repo.
func (s *Store) WithTx(ctx context.Context, fn func(repo generic.IntervalRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) LoadIntervals(ctx context.Context, subjectID generic.SubjectID) ([]generic.ValidityInterval, error) {
	return loadIntervals(ctx, ts.tx, subjectID)
}

func (ts *txStore) SaveInterval(ctx context.Context, iv generic.ValidityInterval) error {
	return saveInterval(ctx, ts.tx, iv)
}

func (ts *txStore) DeleteInterval(ctx context.Context, id generic.IntervalID) error {
	return deleteInterval(ctx, ts.tx, id)
}

// =============================================================================
// SUBJECTS
// =============================================================================

// SaveSubject inserts or replaces a subject.
func (s *Store) SaveSubject(ctx context.Context, subj generic.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subjects (id, property_id, kind, name, governing_end, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			property_id   = excluded.property_id,
			kind          = excluded.kind,
			name          = excluded.name,
			governing_end = excluded.governing_end
	`,
		subj.ID,
		subj.PropertyID,
		subj.Kind,
		subj.Name,
		formatOptionalDate(subj.GoverningEnd),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save subject: %w", err)
	}
	return nil
}

// GetSubject returns a subject by id.
func (s *Store) GetSubject(ctx context.Context, id generic.SubjectID) (generic.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, property_id, kind, name, governing_end
		FROM subjects WHERE id = ?
	`, id)
	if err != nil {
		return generic.Subject{}, fmt.Errorf("failed to query subject: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return generic.Subject{}, err
		}
		return generic.Subject{}, &generic.NotFoundError{What: "subject", ID: string(id)}
	}
	return scanSubject(rows)
}

// SubjectsFor lists the subjects of a property ordered by id.
func (s *Store) SubjectsFor(ctx context.Context, propertyID generic.SubjectID) ([]generic.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, property_id, kind, name, governing_end
		FROM subjects WHERE property_id = ?
		ORDER BY id ASC
	`, propertyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subjects: %w", err)
	}
	defer rows.Close()

	var subjects []generic.Subject
	for rows.Next() {
		subj, err := scanSubject(rows)
		if err != nil {
			return nil, err
		}
		subjects = append(subjects, subj)
	}
	return subjects, rows.Err()
}

func scanSubject(rows *sql.Rows) (generic.Subject, error) {
	var (
		subj generic.Subject
		end  sql.NullString
	)
	if err := rows.Scan(&subj.ID, &subj.PropertyID, &subj.Kind, &subj.Name, &end); err != nil {
		return subj, fmt.Errorf("failed to scan subject: %w", err)
	}
	var err error
	subj.GoverningEnd, err = parseOptionalDate(end)
	return subj, err
}

// GoverningEnd returns the contract end of a subject, nil when it has none
// or the subject is unknown.
func (s *Store) GoverningEnd(ctx context.Context, subjectID generic.SubjectID) (*generic.TimePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var end sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT governing_end FROM subjects WHERE id = ?", subjectID,
	).Scan(&end)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query governing end: %w", err)
	}
	return parseOptionalDate(end)
}

// =============================================================================
// AMORTIZED EXPENSES (insert-only)
// =============================================================================

// SaveExpense inserts an expense. ErrDuplicateID if the id exists.
func (s *Store) SaveExpense(ctx context.Context, e generic.AmortizedExpense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sharesJSON sql.NullString
	if len(e.Shares) > 0 {
		b, err := json.Marshal(e.Shares)
		if err != nil {
			return fmt.Errorf("encode shares: %w", err)
		}
		sharesJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO amortized_expenses
		(id, property_id, origin_year, total, spread_years, shares_json, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.PropertyID,
		e.OriginYear,
		e.Total.Value.String(),
		e.SpreadYears,
		sharesJSON,
		e.Note,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("expense %s: %w", e.ID, generic.ErrDuplicateID)
		}
		return fmt.Errorf("failed to save expense: %w", err)
	}
	return nil
}

// LoadExpenses returns every expense of a property, oldest origin year first.
func (s *Store) LoadExpenses(ctx context.Context, propertyID generic.SubjectID) ([]generic.AmortizedExpense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, property_id, origin_year, total, spread_years, shares_json, note
		FROM amortized_expenses
		WHERE property_id = ?
		ORDER BY origin_year ASC, created_at ASC, id ASC
	`, propertyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query expenses: %w", err)
	}
	defer rows.Close()

	var expenses []generic.AmortizedExpense
	for rows.Next() {
		var (
			e          generic.AmortizedExpense
			total      string
			sharesJSON sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.PropertyID, &e.OriginYear, &total, &e.SpreadYears, &sharesJSON, &e.Note); err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		if e.Total, err = generic.ParseAmount(total); err != nil {
			return nil, fmt.Errorf("expense %s: %w", e.ID, err)
		}
		if sharesJSON.Valid && sharesJSON.String != "" {
			if err := json.Unmarshal([]byte(sharesJSON.String), &e.Shares); err != nil {
				return nil, fmt.Errorf("expense %s: decode shares: %w", e.ID, err)
			}
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// =============================================================================
// POSTINGS
// =============================================================================

// RecordPosting inserts a ledger posting.
func (s *Store) RecordPosting(ctx context.Context, p generic.Posting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO postings (id, property_id, booked_on, category, amount, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID,
		p.PropertyID,
		p.BookedOn.String(),
		p.Category,
		p.Amount.Value.String(),
		p.Note,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("posting %s: %w", p.ID, generic.ErrDuplicateID)
		}
		return fmt.Errorf("failed to record posting: %w", err)
	}
	return nil
}

// PostingTotal sums the postings of a property in one category during year.
// Amounts are added as decimals in Go; SQLite would sum them as floats.
func (s *Store) PostingTotal(ctx context.Context, propertyID generic.SubjectID, year int, category generic.Category) (generic.Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT amount FROM postings
		WHERE property_id = ? AND category = ?
		  AND booked_on >= ? AND booked_on <= ?
	`,
		propertyID,
		category,
		generic.StartOfYear(year).String(),
		generic.EndOfYear(year).String(),
	)
	if err != nil {
		return generic.Amount{}, fmt.Errorf("failed to query postings: %w", err)
	}
	defer rows.Close()

	total := generic.ZeroAmount()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return generic.Amount{}, fmt.Errorf("failed to scan posting: %w", err)
		}
		a, err := generic.ParseAmount(raw)
		if err != nil {
			return generic.Amount{}, fmt.Errorf("posting amount %q: %w", raw, err)
		}
		total = total.Add(a)
	}
	return total, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"postings", "amortized_expenses", "validity_intervals", "subjects"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

func formatOptionalDate(tp *generic.TimePoint) sql.NullString {
	if tp == nil || tp.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: tp.Time.Format(dateLayout), Valid: true}
}

func parseOptionalDate(ns sql.NullString) (*generic.TimePoint, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	tp, err := generic.ParseTimePoint(ns.String)
	if err != nil {
		return nil, err
	}
	return &tp, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code != sqlite3.ErrConstraint {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// Compile-time checks
var (
	_ generic.IntervalTxStore = (*Store)(nil)
	_ generic.ExpenseSource   = (*Store)(nil)
	_ generic.PostingSource   = (*Store)(nil)
	_ generic.SubjectSource   = (*Store)(nil)
	_ generic.GoverningBound  = (*Store)(nil)
)
