package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"fstore-go/internal/config"
	"fstore-go/internal/content"
	"fstore-go/internal/database"
	"fstore-go/internal/encryption"
	"fstore-go/internal/fs"
	"fstore-go/internal/fstore"
	"fstore-go/internal/lock"
	"fstore-go/internal/metrics"
	"fstore-go/internal/quota"
	"fstore-go/internal/staging"
)

// FStoreApp is the application layer between the CLI and FileService.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw paths and strings, and releases resources on Close.
type FStoreApp struct {
	cfg     *config.Config
	meta    database.Store
	content fstore.ContentStore
	guard   *quota.Guard
	locker  fstore.Locker
	staging *staging.Area
	metrics *metrics.Metrics
	service *fstore.FileService
	op      *Operation
	logger  *slog.Logger
	logFile *os.File
}

type options struct {
	passphrase string
	console    io.Writer
	clock      fstore.Clock
	idgen      fstore.IDGenerator
}

// Option customizes NewFStoreApp.
type Option func(*options)

// WithPassphrase unlocks the private key so encrypted content can be read.
// Without it, uploads still work but downloads of encrypted content fail.
func WithPassphrase(p string) Option {
	return func(o *options) { o.passphrase = p }
}

// WithConsole sets where warnings are echoed besides the log file.
// A nil writer disables console logging. The default is stderr.
func WithConsole(w io.Writer) Option {
	return func(o *options) { o.console = w }
}

// WithClock overrides the upload timestamp source.
func WithClock(c fstore.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithIDGenerator overrides the blob identifier source.
func WithIDGenerator(g fstore.IDGenerator) Option {
	return func(o *options) { o.idgen = g }
}

// NewFStoreApp creates a fully wired FStoreApp from the given config.
// operation identifies the CLI command being run (e.g. "Upload", "Delete").
// The caller must call Close when done.
func NewFStoreApp(ctx context.Context, cfg *config.Config, operation string, opts ...Option) (*FStoreApp, error) {
	o := options{console: os.Stderr, clock: fstore.RealClock{}, idgen: fstore.UUIDGenerator{}}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	op := NewOperation(operation, "", time.Now())
	logger, logFile, err := newLogger(cfg.LogDir, op.ID(), cfg.LogLevel, o.console)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	a := &FStoreApp{cfg: cfg, op: op, logger: logger, logFile: logFile}
	if err := a.wire(ctx, o, log); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *FStoreApp) wire(ctx context.Context, o options, log fstore.Logger) error {
	cfg := a.cfg

	codec, err := newCodec(cfg, o.passphrase)
	if err != nil {
		return err
	}

	a.content, err = content.NewContentStoreFromConfig(ctx, cfg.Storage, codec)
	if err != nil {
		return fmt.Errorf("creating content store: %w", err)
	}

	a.guard, err = quota.NewGuardFromConfig(cfg.Quota, usageSource(cfg.Storage, a.content), log)
	if err != nil {
		return fmt.Errorf("creating quota guard: %w", err)
	}

	a.staging, err = staging.NewStagingAreaFromConfig(cfg.Staging)
	if err != nil {
		return fmt.Errorf("creating staging area: %w", err)
	}

	a.locker, err = lock.NewLockerFromConfig(cfg.Lock, log)
	if err != nil {
		return fmt.Errorf("creating locker: %w", err)
	}

	a.meta, err = database.NewMetadataStoreFromConfig(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("creating metadata store: %w", err)
	}
	if err := a.meta.CheckMigrations(); err != nil {
		return fmt.Errorf("database schema out of date: %w", err)
	}

	a.metrics = metrics.New()
	a.metrics.WatchQuota(a.guard, log)

	a.service = fstore.NewFileService(a.meta, a.content, a.guard, log, o.clock, o.idgen,
		fstore.WithLocker(a.locker),
		fstore.WithRecorder(a.metrics),
	)
	return nil
}

// newCodec builds the at-rest codec. The private key is only unlocked when
// a passphrase is supplied.
func newCodec(cfg *config.Config, passphrase string) (*content.Codec, error) {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	var dec fstore.DecryptionContext
	if enc != nil {
		if !enc.IsConfigured() {
			return nil, fmt.Errorf("encryption keys not found: run 'fstore keys init' first")
		}
		if passphrase != "" {
			dec, err = enc.Unlock(passphrase)
			if err != nil {
				return nil, fmt.Errorf("unlocking private key: %w", err)
			}
		}
	}

	codec, err := content.NewCodec(cfg.Storage.Compression, enc, dec)
	if err != nil {
		return nil, fmt.Errorf("creating codec: %w", err)
	}
	return codec, nil
}

// usageSource picks what the quota guard measures: the storage root for
// filesystem storage, otherwise the store's own accounting.
func usageSource(cfg config.StorageConfig, store fstore.ContentStore) quota.UsageSource {
	if cfg.Type == "filesystem" {
		return quota.DirUsage{Root: cfg.Root}
	}
	if src, ok := store.(quota.UsageSource); ok {
		return src
	}
	return zeroUsage{}
}

type zeroUsage struct{}

func (zeroUsage) Usage(context.Context) (int64, error) { return 0, nil }

// NeedsPassphrase reports whether reading content requires unlocking a key.
func NeedsPassphrase(cfg *config.Config) bool {
	return cfg.Encryption.Type == "age"
}

// UploadInput is the caller-facing part of an upload request.
type UploadInput struct {
	Owner      string
	Name       string
	Visibility string
	Tags       []string
}

func (in UploadInput) request(src fstore.UploadSource, defaultName string) (fstore.UploadRequest, error) {
	vis, err := fstore.ParseVisibility(in.Visibility)
	if err != nil {
		return fstore.UploadRequest{}, err
	}
	name := in.Name
	if name == "" {
		name = defaultName
	}
	return fstore.UploadRequest{
		Source:     src,
		OwnerID:    in.Owner,
		Filename:   name,
		Visibility: vis,
		Tags:       in.Tags,
	}, nil
}

// UploadFile spools the file at rawPath and uploads it. The stored name
// defaults to the file's base name.
func (a *FStoreApp) UploadFile(ctx context.Context, rawPath string, in UploadInput) (resp *fstore.UploadResponse, err error) {
	defer func() { a.op.Fail(err) }()
	a.op.Parameters = rawPath

	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	spooled, err := a.staging.StageFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("staging %s: %w", rawPath, err)
	}
	defer spooled.Release()

	req, err := in.request(spooled, filepath.Base(absPath))
	if err != nil {
		return nil, err
	}
	return a.service.Upload(ctx, req)
}

// UploadReader spools r and uploads it under in.Name, which is required
// since a stream has no name of its own.
func (a *FStoreApp) UploadReader(ctx context.Context, r io.Reader, in UploadInput) (resp *fstore.UploadResponse, err error) {
	defer func() { a.op.Fail(err) }()
	a.op.Parameters = in.Name

	spooled, err := a.staging.Stage(r)
	if err != nil {
		return nil, fmt.Errorf("staging input: %w", err)
	}
	defer spooled.Release()

	req, err := in.request(spooled, "")
	if err != nil {
		return nil, err
	}
	return a.service.Upload(ctx, req)
}

// ImportResult is the outcome for one file of a bulk import.
type ImportResult struct {
	Path     string
	Response *fstore.UploadResponse
	Err      error
}

// ImportDirectory uploads every file under rawPath that is not ignored,
// naming each by its slash-separated path relative to rawPath. A failed
// file does not stop the import; only discovery errors are returned.
func (a *FStoreApp) ImportDirectory(ctx context.Context, rawPath string, recursive bool, in UploadInput) (results []ImportResult, err error) {
	defer func() { a.op.Fail(err) }()
	a.op.Parameters = rawPath

	candidates, err := fs.FindFiles(rawPath, recursive, a.cfg.Import.Ignore)
	if err != nil {
		return nil, fmt.Errorf("finding files: %w", err)
	}

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := ImportResult{Path: c.RelativePath}
		src, err := fstore.NewFileSource(c.Path)
		if err == nil {
			fileIn := in
			fileIn.Name = c.RelativePath
			var req fstore.UploadRequest
			req, err = fileIn.request(src, "")
			if err == nil {
				res.Response, err = a.service.Upload(ctx, req)
			}
		}
		res.Err = err
		if err != nil {
			a.op.Fail(err)
		}
		results = append(results, res)
	}
	return results, nil
}

// Download streams the content of id to w and returns its metadata.
func (a *FStoreApp) Download(ctx context.Context, id, requester string, w io.Writer) (rec *fstore.FileRecord, err error) {
	defer func() { a.op.Fail(err) }()
	a.op.Parameters = id

	dl, err := a.service.Download(ctx, id, requester)
	if err != nil {
		return nil, err
	}
	defer dl.Content.Close()

	if _, err := io.Copy(w, dl.Content); err != nil {
		return nil, fmt.Errorf("copying content: %w", err)
	}
	return dl.Record, nil
}

// Delete removes id on behalf of requester.
func (a *FStoreApp) Delete(ctx context.Context, id, requester string) (removed bool, err error) {
	defer func() { a.op.Fail(err) }()
	a.op.Parameters = id
	return a.service.Delete(ctx, id, requester)
}

// Rename renames id on behalf of requester.
func (a *FStoreApp) Rename(ctx context.Context, id, newName, requester string) (rec *fstore.FileRecord, err error) {
	defer func() { a.op.Fail(err) }()
	a.op.Parameters = id
	return a.service.Rename(ctx, id, newName, requester)
}

// Info returns the metadata of id as seen by requester.
func (a *FStoreApp) Info(ctx context.Context, id, requester string) (*fstore.FileRecord, error) {
	return a.service.Get(ctx, id, requester)
}

// List returns files visible to requester.
func (a *FStoreApp) List(ctx context.Context, q fstore.ListQuery) ([]*fstore.FileRecord, error) {
	return a.service.List(ctx, q)
}

// Quota reports current storage usage.
func (a *FStoreApp) Quota(ctx context.Context) (fstore.QuotaSnapshot, error) {
	return a.service.QuotaStatus(ctx)
}

// Reconcile reports uploads stuck in PENDING for longer than grace.
func (a *FStoreApp) Reconcile(ctx context.Context, grace time.Duration) ([]fstore.Orphan, error) {
	return a.service.Reconcile(ctx, grace)
}

// MetricsHandler serves this process's metrics in the Prometheus format.
func (a *FStoreApp) MetricsHandler() http.Handler {
	return a.metrics.Handler()
}

// Close finalizes the operation and closes all resources.
func (a *FStoreApp) Close() error {
	a.logger.Debug("operation finished",
		"status", a.op.Status,
		"parameters", a.op.Parameters,
		"duration", time.Since(a.op.StartedAt).Truncate(time.Millisecond))
	return a.closeResources()
}

func (a *FStoreApp) closeResources() error {
	var errs []error
	if a.meta != nil {
		if err := a.meta.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing metadata store: %w", err))
		}
	}
	if c, ok := a.locker.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing locker: %w", err))
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return errors.Join(errs...)
}

// InitStorage prepares a fresh installation: it creates the storage root
// and applies the metadata schema.
func InitStorage(ctx context.Context, cfg *config.Config) error {
	if cfg.Storage.Type == "filesystem" {
		if err := os.MkdirAll(cfg.Storage.Root, 0755); err != nil {
			return fmt.Errorf("creating storage root: %w", err)
		}
	}

	store, err := database.NewMetadataStoreFromConfig(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening metadata store: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrating metadata store: %w", err)
	}
	return nil
}

// InitKeys generates the encryption key pair, sealing the private key
// with passphrase.
func InitKeys(cfg *config.Config, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if enc == nil {
		return fmt.Errorf("encryption is disabled in config (encryption.type = %q)", cfg.Encryption.Type)
	}
	return enc.Setup(passphrase)
}
