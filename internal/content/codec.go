package content

import (
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"

	"fstore-go/internal/fstore"
)

// Compression names accepted by NewCodec.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
)

// Codec transforms blob bytes between their plaintext and at-rest forms.
//
// At-rest format: plaintext -> zstd (optional) -> encryption (optional).
// Digests and sizes reported by stores always describe the plaintext.
type Codec struct {
	compress bool
	enc      fstore.Encryptor
	dec      fstore.DecryptionContext

	encoderPool sync.Pool
	decoderPool sync.Pool
}

// NewCodec builds a codec. enc may be nil for no encryption; dec may be nil
// when content only needs to be written, in which case reading encrypted
// content fails with fstore.ErrContentLocked.
func NewCodec(compression string, enc fstore.Encryptor, dec fstore.DecryptionContext) (*Codec, error) {
	c := &Codec{enc: enc, dec: dec}
	switch compression {
	case "", CompressionNone:
	case CompressionZstd:
		c.compress = true
	default:
		return nil, fmt.Errorf("unknown compression: %s", compression)
	}

	c.encoderPool = sync.Pool{
		New: func() any {
			enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
			return enc
		},
	}
	c.decoderPool = sync.Pool{
		New: func() any {
			dec, _ := zstd.NewReader(nil)
			return dec
		},
	}
	return c, nil
}

// Identity reports whether the codec stores plaintext unchanged.
func (c *Codec) Identity() bool {
	return c == nil || (!c.compress && c.enc == nil)
}

// Encode returns a writer that stores plaintext written to it into w.
// Close must be called to flush; it does not close w.
func (c *Codec) Encode(w io.Writer) (io.WriteCloser, error) {
	if c.Identity() {
		return nopWriteCloser{w}, nil
	}

	var closers []io.Closer
	out := w
	if c.enc != nil {
		ew, err := c.enc.EncryptWriter(out)
		if err != nil {
			return nil, fmt.Errorf("creating encrypted writer: %w", err)
		}
		out = ew
		closers = append(closers, ew)
	}
	if c.compress {
		zw := c.encoderPool.Get().(*zstd.Encoder)
		zw.Reset(out)
		out = zw
		closers = append(closers, &pooledEncoder{enc: zw, pool: &c.encoderPool})
	}
	return &chainWriter{w: out, closers: closers}, nil
}

// Decode returns a reader yielding the plaintext of the at-rest stream r.
// Closing the result releases codec resources but does not close r.
func (c *Codec) Decode(r io.Reader) (io.ReadCloser, error) {
	if c.Identity() {
		return io.NopCloser(r), nil
	}

	in := r
	if c.enc != nil {
		if c.dec == nil {
			return nil, fstore.ErrContentLocked
		}
		dr, err := c.dec.DecryptReader(in)
		if err != nil {
			return nil, fmt.Errorf("creating decrypted reader: %w", err)
		}
		in = dr
	}
	if !c.compress {
		return io.NopCloser(in), nil
	}

	zr := c.decoderPool.Get().(*zstd.Decoder)
	if err := zr.Reset(in); err != nil {
		c.decoderPool.Put(zr)
		return nil, fmt.Errorf("resetting zstd decoder: %w", err)
	}
	return &pooledDecoder{dec: zr, pool: &c.decoderPool}, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// chainWriter closes its layers innermost (last added) first so each
// layer flushes into the one below it.
type chainWriter struct {
	w       io.Writer
	closers []io.Closer
}

func (c *chainWriter) Write(p []byte) (int, error) { return c.w.Write(p) }

func (c *chainWriter) Close() error {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			return err
		}
	}
	return nil
}

type pooledEncoder struct {
	enc  *zstd.Encoder
	pool *sync.Pool
}

func (p *pooledEncoder) Close() error {
	err := p.enc.Close()
	p.enc.Reset(nil)
	p.pool.Put(p.enc)
	return err
}

type pooledDecoder struct {
	dec  *zstd.Decoder
	pool *sync.Pool
}

func (p *pooledDecoder) Read(b []byte) (int, error) { return p.dec.Read(b) }

func (p *pooledDecoder) Close() error {
	if p.dec == nil {
		return nil
	}
	p.dec.Reset(nil)
	p.pool.Put(p.dec)
	p.dec = nil
	return nil
}
