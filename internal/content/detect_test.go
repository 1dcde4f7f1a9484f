package content

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"fstore-go/internal/fstore"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestDetectType(t *testing.T) {
	tests := []struct {
		name         string
		sample       []byte
		declaredName string
		want         string
	}{
		{name: "png bytes win over extension", sample: pngHeader, declaredName: "report.pdf", want: "image/png"},
		{name: "pdf bytes", sample: []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n"), declaredName: "", want: "application/pdf"},
		{name: "text falls back to extension", sample: []byte(`{"a": 1}`), declaredName: "data.json", want: "application/json"},
		{name: "binary falls back to extension", sample: make([]byte, 64), declaredName: "photo.png", want: "image/png"},
		{name: "binary without extension", sample: make([]byte, 64), declaredName: "blob", want: "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectType(tt.sample, tt.declaredName); got != tt.want {
				t.Errorf("DetectType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectType_PlainTextWithoutHint(t *testing.T) {
	got := DetectType([]byte("just some words"), "README")
	if !strings.HasPrefix(got, "text/plain") {
		t.Errorf("DetectType() = %q, want text/plain", got)
	}
}

type countingReader struct {
	r    io.Reader
	read int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += n
	return n, err
}

func TestPeekSample_BoundedAndLossless(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 10000)
	src := &countingReader{r: bytes.NewReader(data)}

	sample, rest, err := PeekSample(src)
	if err != nil {
		t.Fatalf("PeekSample() error = %v", err)
	}
	if len(sample) != fstore.SniffSampleSize {
		t.Errorf("len(sample) = %d, want %d", len(sample), fstore.SniffSampleSize)
	}
	if src.read > fstore.SniffSampleSize {
		t.Errorf("consumed %d bytes from source, want at most %d", src.read, fstore.SniffSampleSize)
	}

	got, err := io.ReadAll(rest)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("remainder has %d bytes, want %d", len(got), len(data))
	}
}

func TestPeekSample_ShortStream(t *testing.T) {
	sample, rest, err := PeekSample(strings.NewReader("tiny"))
	if err != nil {
		t.Fatalf("PeekSample() error = %v", err)
	}
	if string(sample) != "tiny" {
		t.Errorf("sample = %q, want %q", sample, "tiny")
	}
	got, _ := io.ReadAll(rest)
	if string(got) != "tiny" {
		t.Errorf("remainder = %q, want %q", got, "tiny")
	}
}
