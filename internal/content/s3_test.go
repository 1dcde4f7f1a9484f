package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"fstore-go/internal/fstore"
)

// fakeS3 keeps objects in a map. Multipart calls are unsupported; every
// test object fits in a single part.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.ListObjectsV2Output{}
	for k, v := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(v)))})
		}
	}
	return out, nil
}

var errMultipart = fmt.Errorf("multipart not supported by fake")

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errMultipart
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errMultipart
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errMultipart
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return nil, errMultipart
}

func TestS3Store_StoreRetrieveRemove(t *testing.T) {
	fake := newFakeS3()
	s := NewS3StoreFromClient(fake, "bucket", "blobs/", nil)
	ctx := context.Background()
	data := bytes.Repeat([]byte("s3 payload "), 1000)

	out, err := s.Store(ctx, testID, bytes.NewReader(data), "payload.txt")
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if out.Size != int64(len(data)) || out.Digest != sha256Hex(data) {
		t.Errorf("outcome = %+v, want size %d and matching digest", out, len(data))
	}

	key := "blobs/3f/2a/" + testID
	if _, ok := fake.objects[key]; !ok {
		t.Fatalf("object not stored under %s", key)
	}
	if fake.types[key] != out.ContentType {
		t.Errorf("object content type = %q, want %q", fake.types[key], out.ContentType)
	}

	rc, err := s.Retrieve(ctx, testID)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if got := readAll(t, rc); !bytes.Equal(got, data) {
		t.Errorf("Retrieve() returned %d bytes, want %d", len(got), len(data))
	}

	usage, err := s.Usage(ctx)
	if err != nil || usage != int64(len(data)) {
		t.Errorf("Usage() = %d, %v; want %d", usage, err, len(data))
	}

	removed, err := s.Remove(ctx, testID)
	if err != nil || !removed {
		t.Fatalf("Remove() = %v, %v; want true, nil", removed, err)
	}
	removed, err = s.Remove(ctx, testID)
	if err != nil || removed {
		t.Errorf("second Remove() = %v, %v; want false, nil", removed, err)
	}
	if _, err := s.Retrieve(ctx, testID); !errors.Is(err, fstore.ErrContentNotFound) {
		t.Errorf("Retrieve() after Remove error = %v, want ErrContentNotFound", err)
	}
}

func TestS3Store_CompressedRoundTrip(t *testing.T) {
	fake := newFakeS3()
	codec, err := NewCodec(CompressionZstd, nil, nil)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	s := NewS3StoreFromClient(fake, "bucket", "", codec)
	ctx := context.Background()
	data := bytes.Repeat([]byte("aaaaaaaaaaaaaaaa"), 4096)

	if _, err := s.Store(ctx, testID, bytes.NewReader(data), ""); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	stored := fake.objects["3f/2a/"+testID]
	if len(stored) >= len(data) {
		t.Errorf("stored %d bytes, want fewer than %d after compression", len(stored), len(data))
	}

	rc, err := s.Retrieve(ctx, testID)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if got := readAll(t, rc); !bytes.Equal(got, data) {
		t.Error("compressed round trip mismatch")
	}
}
