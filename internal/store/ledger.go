package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"
	"time"

	"featurevotes/internal/models"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Fixed-width so that MAX(recorded_at) over TEXT columns orders correctly.
const recordedAtLayout = "2006-01-02T15:04:05.000000Z07:00"

//go:embed migrations
var migrationsFS embed.FS

var ErrDBInvalidVote = errors.New("database: invalid vote entry")

type DBStore struct {
	DB     *sql.DB
	driver string
}

func NewDBStore(db *sql.DB, driver string) *DBStore {
	return &DBStore{DB: db, driver: driver}
}

func ConnectDB(driver, dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open(driver, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	switch driver {
	case DriverSQLite:
		// SQLite has a single writer.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		for _, pragma := range []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA busy_timeout = 5000",
		} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
			}
		}
	default:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	return db, nil
}

// MigrationsFor returns the embedded migrations for a driver.
func MigrationsFor(driver string) (fs.FS, error) {
	sub, err := fs.Sub(migrationsFS, "migrations/"+driver)
	if err != nil {
		return nil, fmt.Errorf("no migrations for driver %q: %w", driver, err)
	}
	return sub, nil
}

// RunMigrations applies every .sql file in lexical order. The files are
// written to be re-runnable, so this is called on every start.
func RunMigrations(db *sql.DB, migrations fs.FS) error {
	if migrations == nil {
		return fmt.Errorf("migrations not specified")
	}

	entries, err := fs.ReadDir(migrations, ".")
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrationFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			migrationFiles = append(migrationFiles, entry.Name())
		}
	}
	sort.Strings(migrationFiles)

	if len(migrationFiles) == 0 {
		return fmt.Errorf("no migration files found")
	}

	for _, fileName := range migrationFiles {
		content, err := fs.ReadFile(migrations, fileName)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", fileName, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", fileName, err)
		}
	}
	return nil
}

func (s *DBStore) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

func (s *DBStore) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

var placeholderRe = regexp.MustCompile(`\$\d+`)

// rebind rewrites $N placeholders for drivers that expect '?'.
func (s *DBStore) rebind(query string) string {
	if s.driver != DriverSQLite {
		return query
	}
	return placeholderRe.ReplaceAllString(query, "?")
}

func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(parts, ", ")
}

// InsertVote records a vote unless one already exists for the checkout.
// inserted is false on an idempotent replay; a conflict is never an error.
func (s *DBStore) InsertVote(ctx context.Context, entry *models.VoteLedgerEntry) (bool, error) {
	if entry.CheckoutID == "" || entry.ProductID == "" || entry.SettledSats <= 0 {
		return false, ErrDBInvalidVote
	}

	raw := entry.RawCheckout
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	recordedAt := entry.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	query := s.rebind(`
        INSERT INTO feature_vote_events (
            checkout_id, product_id, settled_sats, checkout_status, recorded_at, raw_checkout_json
        ) VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (checkout_id) DO NOTHING`)

	result, err := s.DB.ExecContext(ctx, query,
		entry.CheckoutID,
		entry.ProductID,
		entry.SettledSats,
		entry.CheckoutStatus,
		recordedAt.UTC().Format(recordedAtLayout),
		string(raw),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert vote for checkout %s: %w", entry.CheckoutID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows > 0, nil
}

// GetVote returns the ledger entry for a checkout, or nil if none exists.
func (s *DBStore) GetVote(ctx context.Context, checkoutID string) (*models.VoteLedgerEntry, error) {
	query := s.rebind(`
        SELECT checkout_id, product_id, settled_sats, checkout_status, recorded_at, raw_checkout_json
        FROM feature_vote_events
        WHERE checkout_id = $1`)

	var (
		entry      models.VoteLedgerEntry
		recordedAt sql.NullString
		raw        []byte
	)
	err := s.DB.QueryRowContext(ctx, query, checkoutID).Scan(
		&entry.CheckoutID,
		&entry.ProductID,
		&entry.SettledSats,
		&entry.CheckoutStatus,
		&recordedAt,
		&raw,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get vote: %w", err)
	}

	if t, ok := parseTimestamp(recordedAt); ok {
		entry.RecordedAt = t
	}
	entry.RawCheckout = json.RawMessage(raw)
	return &entry, nil
}

// RecordedCheckoutIDs reports which of the given checkouts already have a vote.
func (s *DBStore) RecordedCheckoutIDs(ctx context.Context, checkoutIDs []string) (map[string]bool, error) {
	recorded := make(map[string]bool)
	if len(checkoutIDs) == 0 {
		return recorded, nil
	}

	query := s.rebind(fmt.Sprintf(
		`SELECT checkout_id FROM feature_vote_events WHERE checkout_id IN (%s)`,
		placeholders(len(checkoutIDs))))

	rows, err := s.DB.QueryContext(ctx, query, stringArgs(checkoutIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recorded checkouts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan checkout id: %w", err)
		}
		recorded[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recorded checkouts: %w", err)
	}
	return recorded, nil
}

// VoteTotals aggregates the ledger for the given products. Products without
// votes are absent from the result.
func (s *DBStore) VoteTotals(ctx context.Context, productIDs []string) (map[string]models.VoteTotal, error) {
	totals := make(map[string]models.VoteTotal)
	if len(productIDs) == 0 {
		return totals, nil
	}

	query := s.rebind(fmt.Sprintf(`
        SELECT product_id, total_sats, vote_count, last_vote_at
        FROM feature_vote_totals
        WHERE product_id IN (%s)`, placeholders(len(productIDs))))

	rows, err := s.DB.QueryContext(ctx, query, stringArgs(productIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vote totals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			total      models.VoteTotal
			lastVoteAt sql.NullString
		)
		if err := rows.Scan(&total.ProductID, &total.TotalSats, &total.VoteCount, &lastVoteAt); err != nil {
			return nil, fmt.Errorf("failed to scan vote total: %w", err)
		}
		if t, ok := parseTimestamp(lastVoteAt); ok {
			total.LastVoteAt = &t
		}
		totals[total.ProductID] = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vote totals: %w", err)
	}
	return totals, nil
}

func stringArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func parseTimestamp(v sql.NullString) (time.Time, bool) {
	if !v.Valid || v.String == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
