package content

import (
	"bufio"
	"errors"
	"io"
	"mime"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"fstore-go/internal/fstore"
)

const octetStream = "application/octet-stream"

func init() {
	mimetype.SetLimit(fstore.SniffSampleSize)
}

// DetectType sniffs sample and falls back to the extension of declaredName
// when the bytes only identify as generic text or binary.
func DetectType(sample []byte, declaredName string) string {
	sniffed := mimetype.Detect(sample)
	if !inconclusive(sniffed) {
		return sniffed.String()
	}
	if declaredName != "" {
		if byExt := mime.TypeByExtension(filepath.Ext(declaredName)); byExt != "" {
			return byExt
		}
	}
	if sniffed == nil {
		return octetStream
	}
	return sniffed.String()
}

func inconclusive(m *mimetype.MIME) bool {
	return m == nil || m.Is(octetStream) || m.Is("text/plain")
}

// PeekSample reads at most fstore.SniffSampleSize bytes from r for type
// detection. The returned reader yields the full stream, sample included.
// The sample is only valid until the returned reader is read.
func PeekSample(r io.Reader) ([]byte, io.Reader, error) {
	br := bufio.NewReaderSize(r, fstore.SniffSampleSize)
	sample, err := br.Peek(fstore.SniffSampleSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, nil, err
	}
	return sample, br, nil
}
