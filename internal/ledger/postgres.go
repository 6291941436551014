package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const pgUniqueViolation = "23505"

// PostgresStore implements Store on PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   *sql.DB // database/sql view of pool for goose
	opts options
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn and applies pending migrations.
func NewPostgresStore(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PostgresStore{pool: pool, db: stdlib.OpenDBFromPool(pool), opts: buildOptions(opts)}
	if err := migrateUp(ctx, goose.DialectPostgres, DriverPostgres, s.db); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

const pgBuildColumns = `id, delivery_id, repository_id, repository_full_name, installation_id, status,
	commit_sha, branch, author_name, commit_message, pr_url, logs, created_at, updated_at`

// Create inserts a pending build.
func (s *PostgresStore) Create(ctx context.Context, nb NewBuild) (*BuildRecord, error) {
	if err := nb.Validate(); err != nil {
		return nil, err
	}
	now := s.opts.now().UTC().Truncate(time.Microsecond)
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
	_, err := s.pool.Exec(ctx,
		`INSERT INTO builds (`+pgBuildColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL, NULL, $11, $11)`,
		rec.ID, rec.DeliveryID, rec.RepositoryID, rec.RepositoryFullName, rec.InstallationID, string(rec.Status),
		rec.CommitSHA, rec.Branch, rec.AuthorName, rec.CommitMessage, now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if nb.DeliveryID != "" && errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			row := s.pool.QueryRow(ctx, `SELECT `+pgBuildColumns+` FROM builds WHERE delivery_id = $1`, nb.DeliveryID)
			existing, lookupErr := scanPostgresBuild(row)
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
func (s *PostgresStore) Transition(ctx context.Context, id string, to Status, f TransitionFields) (*BuildRecord, error) {
	if err := checkFields(to, f); err != nil {
		return nil, err
	}
	from := make([]string, 0, len(predecessors[to]))
	for _, p := range predecessors[to] {
		from = append(from, string(p))
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE builds SET status = $1, pr_url = COALESCE($2, pr_url), logs = COALESCE($3, logs), updated_at = $4
		 WHERE id = $5 AND status = ANY($6)
		 RETURNING `+pgBuildColumns,
		string(to), nullable(f.PRURL), nullable(f.Logs), s.opts.now().UTC(), id, from,
	)
	rec, err := scanPostgresBuild(row)
	if errors.Is(err, ErrNotFound) {
		cur, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return cur, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, to)
	}
	return rec, err
}

// Get loads a build by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*BuildRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgBuildColumns+` FROM builds WHERE id = $1`, id)
	return scanPostgresBuild(row)
}

// ListStale returns builds in status last updated before olderThan.
func (s *PostgresStore) ListStale(ctx context.Context, status Status, olderThan time.Time) ([]BuildRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgBuildColumns+` FROM builds WHERE status = $1 AND updated_at < $2 ORDER BY updated_at, id`,
		string(status), olderThan.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query stale builds: %w", err)
	}
	defer rows.Close()

	var out []BuildRecord
	for rows.Next() {
		rec, err := scanPostgresBuild(rows)
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
func (s *PostgresStore) AppendEvent(ctx context.Context, buildID string, typ EventType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO build_events (build_id, event_type, payload, created_at) VALUES ($1, $2, $3, $4)`,
		buildID, string(typ), data, s.opts.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert build event: %w", err)
	}
	return nil
}

// Events returns a build's audit trail in insertion order.
func (s *PostgresStore) Events(ctx context.Context, buildID string) ([]Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, build_id, event_type, payload, created_at FROM build_events WHERE build_id = $1 ORDER BY id`,
		buildID,
	)
	if err != nil {
		return nil, fmt.Errorf("query build events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e   Event
			typ string
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.BuildID, &typ, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan build event: %w", err)
		}
		e.Type = EventType(typ)
		e.Payload = json.RawMessage(raw)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate build events: %w", err)
	}
	return events, nil
}

// Installation resolves the installation id recorded for a repository.
func (s *PostgresStore) Installation(ctx context.Context, repositoryID int64) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT installation_id FROM repository_installations WHERE repository_id = $1`, repositoryID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query installation: %w", err)
	}
	return id, nil
}

// SaveInstallation upserts a repository to installation mapping.
func (s *PostgresStore) SaveInstallation(ctx context.Context, in Installation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO repository_installations (repository_id, repository_full_name, installation_id, user_id, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (repository_id) DO UPDATE SET
		   repository_full_name = EXCLUDED.repository_full_name,
		   installation_id = EXCLUDED.installation_id,
		   user_id = EXCLUDED.user_id,
		   updated_at = EXCLUDED.updated_at`,
		in.RepositoryID, in.RepositoryFullName, in.InstallationID, in.UserID, s.opts.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save installation: %w", err)
	}
	return nil
}

// Ping checks the pool.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	err := s.db.Close()
	s.pool.Close()
	return err
}

func scanPostgresBuild(row pgx.Row) (*BuildRecord, error) {
	var (
		rec         BuildRecord
		status      string
		prURL, logs *string
	)
	err := row.Scan(&rec.ID, &rec.DeliveryID, &rec.RepositoryID, &rec.RepositoryFullName, &rec.InstallationID, &status,
		&rec.CommitSHA, &rec.Branch, &rec.AuthorName, &rec.CommitMessage, &prURL, &logs, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan build: %w", err)
	}
	rec.Status = Status(status)
	if prURL != nil {
		rec.PRURL = *prURL
	}
	if logs != nil {
		rec.Logs = *logs
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
