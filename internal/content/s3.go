package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"fstore-go/internal/fstore"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds the settings for NewS3Store.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // for S3-compatible services; enables path-style addressing
	AccessKey string
	SecretKey string
}

// S3Store keeps blobs in an S3 bucket using the same sharded layout as
// FileSystemStore, as object keys:
//
//	<prefix><id[0:2]>/<id[2:4]>/<id>
type S3Store struct {
	client   S3API
	uploader *manager.Uploader
	bucket   string
	prefix   string
	codec    *Codec
}

// NewS3Store loads AWS configuration from the environment, overridden by
// any values set in cfg.
func NewS3Store(ctx context.Context, cfg S3Config, codec *Codec) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 content store requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3StoreFromClient(client, cfg.Bucket, cfg.Prefix, codec), nil
}

// NewS3StoreFromClient wraps an existing client.
func NewS3StoreFromClient(client S3API, bucket, prefix string, codec *Codec) *S3Store {
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
		codec:    codec,
	}
}

func (s *S3Store) key(id string) (string, error) {
	k, err := fstore.ShardKey(id)
	if err != nil {
		return "", err
	}
	return s.prefix + k, nil
}

// Store streams r to the bucket. The plaintext is hashed and counted on
// its way into the encoder; the uploader reads the encoded side of a pipe.
func (s *S3Store) Store(ctx context.Context, id string, r io.Reader, declaredName string) (fstore.StorageOutcome, error) {
	key, err := s.key(id)
	if err != nil {
		return fstore.StorageOutcome{}, err
	}

	sample, body, err := PeekSample(r)
	if err != nil {
		return fstore.StorageOutcome{}, fmt.Errorf("failed to read sample: %w", err)
	}
	contentType := s.DetectType(sample, declaredName)

	pr, pw := io.Pipe()
	h := sha256.New()
	var written int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		w, err := s.codec.Encode(pw)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		written, err = io.Copy(io.MultiWriter(w, h), body)
		if err == nil {
			err = w.Close()
		}
		pw.CloseWithError(err)
	}()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        pr,
		ContentType: aws.String(contentType),
	})
	pr.CloseWithError(err)
	<-done
	if err != nil {
		return fstore.StorageOutcome{}, fmt.Errorf("uploading %s: %w", key, err)
	}

	return fstore.StorageOutcome{
		Digest:      hex.EncodeToString(h.Sum(nil)),
		Size:        written,
		ContentType: contentType,
	}, nil
}

func (s *S3Store) Retrieve(ctx context.Context, id string) (io.ReadCloser, error) {
	key, err := s.key(id)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", fstore.ErrContentNotFound, id)
		}
		return nil, fmt.Errorf("getting %s: %w", key, err)
	}

	plain, err := s.codec.Decode(out.Body)
	if err != nil {
		out.Body.Close()
		return nil, err
	}
	return &stackedReadCloser{Reader: plain, closers: []io.Closer{plain, out.Body}}, nil
}

// Remove checks for the object first so absence can be reported; S3
// deletes succeed whether or not the key exists.
func (s *S3Store) Remove(ctx context.Context, id string) (bool, error) {
	exists, err := s.Exists(ctx, id)
	if err != nil || !exists {
		return false, err
	}

	key, _ := s.key(id)
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return false, fmt.Errorf("deleting %s: %w", key, err)
	}
	return true, nil
}

func (s *S3Store) Exists(ctx context.Context, id string) (bool, error) {
	key, err := s.key(id)
	if err != nil {
		return false, err
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("head %s: %w", key, err)
	}
	return true, nil
}

func (s *S3Store) DetectType(sample []byte, declaredName string) string {
	return DetectType(sample, declaredName)
}

// Usage sums the size of every object under the store's prefix. It is the
// bucket counterpart of walking the storage root.
func (s *S3Store) Usage(ctx context.Context) (int64, error) {
	var total int64
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("listing %s: %w", path.Join(s.bucket, s.prefix), err)
		}
		for _, obj := range page.Contents {
			total += aws.ToInt64(obj.Size)
		}
	}
	return total, nil
}

var _ fstore.ContentStore = (*S3Store)(nil)
