package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on SQLite. Use ":memory:" for an ephemeral ledger.
type SQLiteStore struct {
	db   *sql.DB
	opts options
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens dsn and applies pending migrations.
func NewSQLiteStore(ctx context.Context, dsn string, opts ...Option) (*SQLiteStore, error) {
	db, err := openSQLite(dsn)
	if err != nil {
		return nil, err
	}
	if err := migrateUp(ctx, goose.DialectSQLite3, DriverSQLite, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, opts: buildOptions(opts)}, nil
}

// openSQLite uses a single connection: SQLite serializes writers anyway and
// ":memory:" databases are per connection.
func openSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure sqlite: %w", err)
		}
	}
	return db, nil
}

const sqliteBuildColumns = `id, delivery_id, repository_id, repository_full_name, installation_id, status,
	commit_sha, branch, author_name, commit_message, pr_url, logs, created_at, updated_at`

// Create inserts a pending build.
func (s *SQLiteStore) Create(ctx context.Context, nb NewBuild) (*BuildRecord, error) {
	if err := nb.Validate(); err != nil {
		return nil, err
	}
	now := s.opts.now().UTC().Truncate(time.Millisecond)
	rec := &BuildRecord{
		ID:                 uuid.NewString(),
		DeliveryID:         nb.DeliveryID,
		RepositoryID:       nb.RepositoryID,
		RepositoryFullName: nb.RepositoryFullName,
		InstallationID:     nb.InstallationID,
		Status:             StatusPending,
		CommitSHA:          nb.CommitSHA,
		Branch:             nb.Branch,
		AuthorName:         nb.AuthorName,
		CommitMessage:      nb.CommitMessage,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO builds (`+sqliteBuildColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?, ?)`,
		rec.ID, rec.DeliveryID, rec.RepositoryID, rec.RepositoryFullName, rec.InstallationID, string(rec.Status),
		rec.CommitSHA, rec.Branch, rec.AuthorName, rec.CommitMessage, now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		if nb.DeliveryID != "" && strings.Contains(err.Error(), "UNIQUE constraint failed") {
			existing, lookupErr := s.byDelivery(ctx, nb.DeliveryID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return existing, ErrDuplicateDelivery
		}
		return nil, fmt.Errorf("insert build: %w", err)
	}
	return rec, nil
}

// Transition moves a build to status to when its current status allows it.
func (s *SQLiteStore) Transition(ctx context.Context, id string, to Status, f TransitionFields) (*BuildRecord, error) {
	if err := checkFields(to, f); err != nil {
		return nil, err
	}
	from := predecessors[to]
	args := []any{string(to), nullString(f.PRURL), nullString(f.Logs), s.opts.now().UTC().UnixMilli(), id}
	args = append(args, statusStrings(from)...)

	res, err := s.db.ExecContext(ctx,
		`UPDATE builds SET status = ?, pr_url = COALESCE(?, pr_url), logs = COALESCE(?, logs), updated_at = ?
		 WHERE id = ? AND status IN (`+placeholders(len(from))+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("update build status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update build status: %w", err)
	}
	if n == 0 {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return cur, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, to)
	}
	return s.Get(ctx, id)
}

// Get loads a build by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*BuildRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteBuildColumns+` FROM builds WHERE id = ?`, id)
	return scanSQLiteBuild(row)
}

func (s *SQLiteStore) byDelivery(ctx context.Context, deliveryID string) (*BuildRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteBuildColumns+` FROM builds WHERE delivery_id = ?`, deliveryID)
	return scanSQLiteBuild(row)
}

// ListStale returns builds in status last updated before olderThan.
func (s *SQLiteStore) ListStale(ctx context.Context, status Status, olderThan time.Time) ([]BuildRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteBuildColumns+` FROM builds WHERE status = ? AND updated_at < ? ORDER BY updated_at, id`,
		string(status), olderThan.UTC().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("query stale builds: %w", err)
	}
	defer rows.Close()

	var out []BuildRecord
	for rows.Next() {
		rec, err := scanSQLiteBuild(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale builds: %w", err)
	}
	return out, nil
}

// AppendEvent records an audit event for a build.
func (s *SQLiteStore) AppendEvent(ctx context.Context, buildID string, typ EventType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO build_events (build_id, event_type, payload, created_at) VALUES (?, ?, ?, ?)`,
		buildID, string(typ), string(data), s.opts.now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert build event: %w", err)
	}
	return nil
}

// Events returns a build's audit trail in insertion order.
func (s *SQLiteStore) Events(ctx context.Context, buildID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, build_id, event_type, payload, created_at FROM build_events WHERE build_id = ? ORDER BY id`,
		buildID,
	)
	if err != nil {
		return nil, fmt.Errorf("query build events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			typ     string
			payload string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.BuildID, &typ, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan build event: %w", err)
		}
		e.Type = EventType(typ)
		e.Payload = json.RawMessage(payload)
		e.CreatedAt = time.UnixMilli(created).UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate build events: %w", err)
	}
	return events, nil
}

// Installation resolves the installation id recorded for a repository.
func (s *SQLiteStore) Installation(ctx context.Context, repositoryID int64) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT installation_id FROM repository_installations WHERE repository_id = ?`, repositoryID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query installation: %w", err)
	}
	return id, nil
}

// SaveInstallation upserts a repository to installation mapping.
func (s *SQLiteStore) SaveInstallation(ctx context.Context, in Installation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repository_installations (repository_id, repository_full_name, installation_id, user_id, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(repository_id) DO UPDATE SET
		   repository_full_name = excluded.repository_full_name,
		   installation_id = excluded.installation_id,
		   user_id = excluded.user_id,
		   updated_at = excluded.updated_at`,
		in.RepositoryID, in.RepositoryFullName, in.InstallationID, in.UserID, s.opts.now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save installation: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteBuild(row rowScanner) (*BuildRecord, error) {
	var (
		rec              BuildRecord
		status           string
		prURL, logs      sql.NullString
		created, updated int64
	)
	err := row.Scan(&rec.ID, &rec.DeliveryID, &rec.RepositoryID, &rec.RepositoryFullName, &rec.InstallationID, &status,
		&rec.CommitSHA, &rec.Branch, &rec.AuthorName, &rec.CommitMessage, &prURL, &logs, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan build: %w", err)
	}
	rec.Status = Status(status)
	rec.PRURL = prURL.String
	rec.Logs = logs.String
	rec.CreatedAt = time.UnixMilli(created).UTC()
	rec.UpdatedAt = time.UnixMilli(updated).UTC()
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
