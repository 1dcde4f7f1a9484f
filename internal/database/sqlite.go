package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"fstore-go/internal/database/migrations"
	"fstore-go/internal/fstore"
)

// SQLiteMetadataStore implements fstore.MetadataStore using SQLite.
type SQLiteMetadataStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteMetadataStore opens the database at path. It does not migrate;
// call Migrate or check CheckMigrations before use.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteMetadataStore(path string) (*SQLiteMetadataStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteMetadataStore{db: db, path: path}, nil
}

// NewSQLiteMetadataStoreFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteMetadataStoreFromDB(db *sql.DB) *SQLiteMetadataStore {
	return &SQLiteMetadataStore{db: db}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for an in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

// Migrate brings the schema up to date.
func (s *SQLiteMetadataStore) Migrate() error {
	return migrations.MigrateUp(s.db)
}

func (s *SQLiteMetadataStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

func (s *SQLiteMetadataStore) Close() error {
	return s.db.Close()
}

const fileColumns = `id, owner_id, filename, visibility, content_type, size, digest, status, uploaded_at`

func (s *SQLiteMetadataStore) Insert(ctx context.Context, rec *fstore.FileRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO files (`+fileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OwnerID, rec.Filename, string(rec.Visibility), rec.ContentType,
		rec.Size, rec.Digest, string(rec.Status), rec.UploadedAt.UTC().UnixNano())
	if err != nil {
		if exists := sqliteConflict(err, rec); exists != nil {
			return exists
		}
		return fmt.Errorf("inserting file: %w", err)
	}

	for i, tag := range rec.Tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO file_tags (file_id, position, tag) VALUES (?, ?, ?)`, rec.ID, i, tag); err != nil {
			return fmt.Errorf("inserting tag %q: %w", tag, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteMetadataStore) Activate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET status = 'ACTIVE' WHERE id = ? AND status = 'PENDING'`, id)
	if err != nil {
		return fmt.Errorf("activating file: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("activating file: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("no pending file with id %s", id)
	}
	return nil
}

func (s *SQLiteMetadataStore) FindActive(ctx context.Context, id string) (*fstore.FileRecord, error) {
	return s.findOne(ctx, `WHERE id = ? AND status = 'ACTIVE'`, id)
}

func (s *SQLiteMetadataStore) FindActiveByOwnerAndFilename(ctx context.Context, ownerID, filename string) (*fstore.FileRecord, error) {
	return s.findOne(ctx, `WHERE owner_id = ? AND filename = ? AND status = 'ACTIVE'`, ownerID, filename)
}

func (s *SQLiteMetadataStore) FindActiveByOwnerAndDigest(ctx context.Context, ownerID, digest string) (*fstore.FileRecord, error) {
	return s.findOne(ctx, `WHERE owner_id = ? AND digest = ? AND status = 'ACTIVE'`, ownerID, digest)
}

func (s *SQLiteMetadataStore) Rename(ctx context.Context, id, filename string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET filename = ? WHERE id = ? AND status = 'ACTIVE'`, filename, id)
	if err != nil {
		if exists := sqliteConflict(err, &fstore.FileRecord{Filename: filename}); exists != nil {
			return exists
		}
		return fmt.Errorf("renaming file: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("renaming file: %w", err)
	}
	if n == 0 {
		return &fstore.NotFoundError{Code: fstore.CodeFileNotFound, ID: id}
	}
	return nil
}

func (s *SQLiteMetadataStore) MarkDeleted(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET status = 'DELETED' WHERE id = ? AND status = 'ACTIVE'`, id)
	if err != nil {
		return false, fmt.Errorf("marking file deleted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("marking file deleted: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteMetadataStore) List(ctx context.Context, q fstore.ListQuery) ([]*fstore.FileRecord, error) {
	var (
		where string
		args  []any
	)
	if q.PublicOnly {
		where = `WHERE status = 'ACTIVE' AND visibility = 'PUBLIC'`
	} else {
		where = `WHERE status = 'ACTIVE' AND (owner_id = ? OR (? AND visibility = 'PUBLIC'))`
		args = append(args, q.Requester, q.IncludePublic)
	}
	if q.Visibility != "" {
		where += ` AND visibility = ?`
		args = append(args, string(q.Visibility))
	}
	if len(q.Tags) > 0 {
		where += ` AND EXISTS (SELECT 1 FROM file_tags t WHERE t.file_id = files.id AND t.tag IN (?` +
			strings.Repeat(", ?", len(q.Tags)-1) + `))`
		for _, tag := range q.Tags {
			args = append(args, tag)
		}
	}
	return s.findMany(ctx, where+` ORDER BY uploaded_at DESC, id`, args...)
}

func (s *SQLiteMetadataStore) FindPending(ctx context.Context, cutoff time.Time) ([]*fstore.FileRecord, error) {
	return s.findMany(ctx, `WHERE status = 'PENDING' AND uploaded_at < ? ORDER BY uploaded_at`,
		cutoff.UTC().UnixNano())
}

func (s *SQLiteMetadataStore) findOne(ctx context.Context, where string, args ...any) (*fstore.FileRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files `+where, args...)
	rec, err := scanFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding file: %w", err)
	}
	if err := s.loadTags(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteMetadataStore) findMany(ctx context.Context, where string, args ...any) ([]*fstore.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying files: %w", err)
	}

	var recs []*fstore.FileRecord
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		recs = append(recs, rec)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterating files: %w", err)
	}

	// Tags are loaded after rows is closed; an in-memory database has a
	// single connection.
	for _, rec := range recs {
		if err := s.loadTags(ctx, rec); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

func (s *SQLiteMetadataStore) loadTags(ctx context.Context, rec *fstore.FileRecord) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag FROM file_tags WHERE file_id = ? ORDER BY position`, rec.ID)
	if err != nil {
		return fmt.Errorf("loading tags for %s: %w", rec.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return fmt.Errorf("scanning tag: %w", err)
		}
		rec.Tags = append(rec.Tags, tag)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*fstore.FileRecord, error) {
	var (
		rec        fstore.FileRecord
		visibility string
		status     string
		uploadedAt int64
	)
	if err := row.Scan(&rec.ID, &rec.OwnerID, &rec.Filename, &visibility, &rec.ContentType,
		&rec.Size, &rec.Digest, &status, &uploadedAt); err != nil {
		return nil, err
	}
	rec.Visibility = fstore.Visibility(visibility)
	rec.Status = fstore.Status(status)
	rec.UploadedAt = time.Unix(0, uploadedAt).UTC()
	return &rec, nil
}

// sqliteConflict maps a unique-index violation on files to an
// *fstore.AlreadyExistsError, or returns nil for any other error.
func sqliteConflict(err error, rec *fstore.FileRecord) *fstore.AlreadyExistsError {
	var serr sqlite3.Error
	if !errors.As(err, &serr) || serr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return nil
	}
	// The message names the index columns, e.g.
	// "UNIQUE constraint failed: files.owner_id, files.digest".
	if strings.Contains(serr.Error(), "files.digest") {
		return &fstore.AlreadyExistsError{Code: fstore.CodeContentExists}
	}
	if strings.Contains(serr.Error(), "files.filename") {
		return &fstore.AlreadyExistsError{Code: fstore.CodeFilenameExists, Filename: rec.Filename}
	}
	return nil
}

var _ fstore.MetadataStore = (*SQLiteMetadataStore)(nil)
