package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"fstore-go/internal/database/migrations"
	"fstore-go/internal/fstore"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// PostgresMetadataStore implements fstore.MetadataStore on a pgx pool.
type PostgresMetadataStore struct {
	pool *pgxpool.Pool
}

// NewPostgresMetadataStore connects to dsn and verifies the connection.
func NewPostgresMetadataStore(ctx context.Context, dsn string) (*PostgresMetadataStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	return &PostgresMetadataStore{pool: pool}, nil
}

// Migrate brings the schema up to date.
func (s *PostgresMetadataStore) Migrate() error {
	return migrations.MigratePostgresUp(s.pool)
}

func (s *PostgresMetadataStore) CheckMigrations() error {
	return migrations.CheckPostgresMigrationStatus(s.pool)
}

func (s *PostgresMetadataStore) Close() error {
	s.pool.Close()
	return nil
}

const pgFileColumns = `id, owner_id, filename, visibility, content_type, size, digest, status, tags, uploaded_at`

func (s *PostgresMetadataStore) Insert(ctx context.Context, rec *fstore.FileRecord) error {
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO files (`+pgFileColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.OwnerID, rec.Filename, string(rec.Visibility), rec.ContentType,
		rec.Size, rec.Digest, string(rec.Status), tags, rec.UploadedAt.UTC())
	if err != nil {
		if exists := pgConflict(err, rec.Filename); exists != nil {
			return exists
		}
		return fmt.Errorf("inserting file: %w", err)
	}
	return nil
}

func (s *PostgresMetadataStore) Activate(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE files SET status = 'ACTIVE' WHERE id = $1 AND status = 'PENDING'`, id)
	if err != nil {
		return fmt.Errorf("activating file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no pending file with id %s", id)
	}
	return nil
}

func (s *PostgresMetadataStore) FindActive(ctx context.Context, id string) (*fstore.FileRecord, error) {
	return s.findOne(ctx, `WHERE id = $1 AND status = 'ACTIVE'`, id)
}

func (s *PostgresMetadataStore) FindActiveByOwnerAndFilename(ctx context.Context, ownerID, filename string) (*fstore.FileRecord, error) {
	return s.findOne(ctx, `WHERE owner_id = $1 AND filename = $2 AND status = 'ACTIVE'`, ownerID, filename)
}

func (s *PostgresMetadataStore) FindActiveByOwnerAndDigest(ctx context.Context, ownerID, digest string) (*fstore.FileRecord, error) {
	return s.findOne(ctx, `WHERE owner_id = $1 AND digest = $2 AND status = 'ACTIVE'`, ownerID, digest)
}

func (s *PostgresMetadataStore) Rename(ctx context.Context, id, filename string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE files SET filename = $1 WHERE id = $2 AND status = 'ACTIVE'`, filename, id)
	if err != nil {
		if exists := pgConflict(err, filename); exists != nil {
			return exists
		}
		return fmt.Errorf("renaming file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &fstore.NotFoundError{Code: fstore.CodeFileNotFound, ID: id}
	}
	return nil
}

func (s *PostgresMetadataStore) MarkDeleted(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE files SET status = 'DELETED' WHERE id = $1 AND status = 'ACTIVE'`, id)
	if err != nil {
		return false, fmt.Errorf("marking file deleted: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresMetadataStore) List(ctx context.Context, q fstore.ListQuery) ([]*fstore.FileRecord, error) {
	where, args := pgListFilter(q)
	return s.findMany(ctx, where+` ORDER BY uploaded_at DESC, id`, args...)
}

// pgListFilter builds the WHERE clause and arguments for q.
func pgListFilter(q fstore.ListQuery) (string, []any) {
	var (
		where string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.PublicOnly {
		where = `WHERE status = 'ACTIVE' AND visibility = 'PUBLIC'`
	} else {
		where = `WHERE status = 'ACTIVE' AND (owner_id = ` + arg(q.Requester) +
			` OR (` + arg(q.IncludePublic) + ` AND visibility = 'PUBLIC'))`
	}
	if q.Visibility != "" {
		where += ` AND visibility = ` + arg(string(q.Visibility))
	}
	if len(q.Tags) > 0 {
		where += ` AND tags && ` + arg(q.Tags) + `::text[]`
	}
	return where, args
}

func (s *PostgresMetadataStore) FindPending(ctx context.Context, cutoff time.Time) ([]*fstore.FileRecord, error) {
	return s.findMany(ctx, `WHERE status = 'PENDING' AND uploaded_at < $1 ORDER BY uploaded_at`, cutoff.UTC())
}

func (s *PostgresMetadataStore) findOne(ctx context.Context, where string, args ...any) (*fstore.FileRecord, error) {
	rec, err := scanPgFile(s.pool.QueryRow(ctx, `SELECT `+pgFileColumns+` FROM files `+where, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding file: %w", err)
	}
	return rec, nil
}

func (s *PostgresMetadataStore) findMany(ctx context.Context, where string, args ...any) ([]*fstore.FileRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgFileColumns+` FROM files `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying files: %w", err)
	}
	defer rows.Close()

	var recs []*fstore.FileRecord
	for rows.Next() {
		rec, err := scanPgFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating files: %w", err)
	}
	return recs, nil
}

func scanPgFile(row pgx.Row) (*fstore.FileRecord, error) {
	var (
		rec        fstore.FileRecord
		visibility string
		status     string
	)
	if err := row.Scan(&rec.ID, &rec.OwnerID, &rec.Filename, &visibility, &rec.ContentType,
		&rec.Size, &rec.Digest, &status, &rec.Tags, &rec.UploadedAt); err != nil {
		return nil, err
	}
	rec.Visibility = fstore.Visibility(visibility)
	rec.Status = fstore.Status(status)
	rec.UploadedAt = rec.UploadedAt.UTC()
	if len(rec.Tags) == 0 {
		rec.Tags = nil
	}
	return &rec, nil
}

// pgConflict maps a unique violation on one of the files indexes to an
// *fstore.AlreadyExistsError, or returns nil for any other error.
func pgConflict(err error, filename string) *fstore.AlreadyExistsError {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return nil
	}
	switch pgErr.ConstraintName {
	case "ux_files_owner_digest":
		return &fstore.AlreadyExistsError{Code: fstore.CodeContentExists}
	case "ux_files_owner_filename":
		return &fstore.AlreadyExistsError{Code: fstore.CodeFilenameExists, Filename: filename}
	}
	return nil
}

var _ fstore.MetadataStore = (*PostgresMetadataStore)(nil)
