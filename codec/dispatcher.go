// Package codec holds the compression codecs used by the gzip and zip
// readers, the method-code dispatcher that selects between them, and the
// CRC-32 shared by both formats.
package codec

import (
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"
)

// Compression method codes, as numbered by the zip format. Gzip only uses
// Deflate.
const (
	MethodStore   uint16 = 0
	MethodDeflate uint16 = 8
	MethodBZip2   uint16 = 12
	MethodLZMA    uint16 = 14
	MethodZstd    uint16 = 93
	MethodXZ      uint16 = 95
)

// Dispatcher maps compression method codes to codecs. It is safe for
// concurrent use.
type Dispatcher struct {
	mu     sync.RWMutex
	codecs map[uint16]Codec
}

// NewDispatcher returns a Dispatcher with every built-in codec registered.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		codecs: map[uint16]Codec{
			MethodStore:   Store(),
			MethodDeflate: Deflate(flate.DefaultCompression),
			MethodBZip2:   BZip2(),
			MethodLZMA:    LZMA(),
			MethodZstd:    Zstd(),
			MethodXZ:      XZ(),
		},
	}
}

// Register installs c for method, replacing any previous codec.
func (d *Dispatcher) Register(method uint16, c Codec) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.codecs == nil {
		d.codecs = make(map[uint16]Codec)
	}
	d.codecs[method] = c
}

// Unregister removes the codec for method.
func (d *Dispatcher) Unregister(method uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.codecs, method)
}

// Lookup returns the codec registered for method.
func (d *Dispatcher) Lookup(method uint16) (Codec, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.codecs[method]
	return c, ok
}

// Supports reports whether a codec is registered for method.
func (d *Dispatcher) Supports(method uint16) bool {
	_, ok := d.Lookup(method)
	return ok
}

// Wrap replaces every registered codec c with fn(c).
func (d *Dispatcher) Wrap(fn func(Codec) Codec) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for m, c := range d.codecs {
		d.codecs[m] = fn(c)
	}
}

// Decode decompresses src with the codec for method. See Codec.Decode for
// the meaning of size and the returned count.
func (d *Dispatcher) Decode(method uint16, src []byte, size int64) ([]byte, int, error) {
	c, ok := d.Lookup(method)
	if !ok {
		return nil, 0, errors.Wrapf(ErrUnsupportedMethod, "method %d", method)
	}
	return c.Decode(src, size)
}

// Encode compresses src with the codec for method.
func (d *Dispatcher) Encode(method uint16, src []byte) ([]byte, error) {
	c, ok := d.Lookup(method)
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedMethod, "method %d", method)
	}
	return c.Encode(src)
}

// Limit wraps c so that decoding fails with ErrTooLarge once the payload
// passes max bytes. A declared size above max is rejected before any
// decompression happens. When c is a BoundedCodec decoding stops as soon as
// the bound is passed; other codecs are checked after decoding. The readers
// never apply a limit themselves.
func Limit(c Codec, max int64) Codec {
	return &limitCodec{c: c, max: max}
}

type limitCodec struct {
	c   Codec
	max int64
}

func (l *limitCodec) Decode(src []byte, size int64) ([]byte, int, error) {
	return l.DecodeBounded(src, size, l.max)
}

func (l *limitCodec) DecodeBounded(src []byte, size, limit int64) ([]byte, int, error) {
	if limit < 0 || limit > l.max {
		limit = l.max
	}
	if size > limit {
		return nil, 0, errors.Wrapf(ErrTooLarge, "declared %d bytes, limit %d", size, limit)
	}
	if bc, ok := l.c.(BoundedCodec); ok {
		return bc.DecodeBounded(src, size, limit)
	}
	out, n, err := l.c.Decode(src, size)
	if err != nil {
		return nil, 0, err
	}
	if int64(len(out)) > limit {
		return nil, 0, errors.Wrapf(ErrTooLarge, "decoded %d bytes, limit %d", len(out), limit)
	}
	return out, n, nil
}

func (l *limitCodec) Encode(src []byte) ([]byte, error) {
	return l.c.Encode(src)
}
