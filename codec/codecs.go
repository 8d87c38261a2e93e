package codec

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// maxPrealloc caps how much output space is reserved up front from a size
// taken out of an archive header.
const maxPrealloc = 1 << 20

// Codec converts between raw and compressed bytes for one compression method.
type Codec interface {
	// Decode decompresses src and returns the payload together with the
	// number of bytes of src that belonged to the compressed stream. size is
	// the expected payload length, or -1 when unknown.
	Decode(src []byte, size int64) ([]byte, int, error)
	// Encode compresses src.
	Encode(src []byte) ([]byte, error)
}

// BoundedCodec is a Codec that can stop decoding as soon as its output
// passes limit bytes, failing with ErrTooLarge. A negative limit means no
// bound.
type BoundedCodec interface {
	Codec
	DecodeBounded(src []byte, size, limit int64) ([]byte, int, error)
}

// readAll reads r to the end. With limit >= 0 it reads at most limit+1 bytes
// and fails with ErrTooLarge when there are more than limit.
func readAll(r io.Reader, size, limit int64) ([]byte, error) {
	if limit >= 0 {
		r = io.LimitReader(r, limit+1)
	}
	var buf bytes.Buffer
	if size > 0 {
		grow := min(size, maxPrealloc)
		if limit >= 0 {
			grow = min(grow, limit+1)
		}
		buf.Grow(int(grow))
	}
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	if limit >= 0 && int64(buf.Len()) > limit {
		return nil, errors.Wrapf(ErrTooLarge, "output passes %d bytes", limit)
	}
	if buf.Len() == 0 {
		return []byte{}, nil
	}
	return buf.Bytes(), nil
}

// srcReader hands src to a decoder and reports io.ErrUnexpectedEOF instead
// of io.EOF once src is used up, since a decoder still asking for input has
// not reached the end of its stream. pos counts the bytes handed out.
type srcReader struct {
	src []byte
	pos int
}

func (r *srcReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.src) {
		return 0, io.ErrUnexpectedEOF
	}
	n := copy(p, r.src[r.pos:])
	r.pos += n
	return n, nil
}

func (r *srcReader) ReadByte() (byte, error) {
	if r.pos >= len(r.src) {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.src[r.pos]
	r.pos++
	return b, nil
}

// Store returns the codec for method 0, which copies bytes unchanged.
func Store() Codec { return storeCodec{} }

type storeCodec struct{}

func (c storeCodec) Decode(src []byte, size int64) ([]byte, int, error) {
	return c.DecodeBounded(src, size, -1)
}

func (storeCodec) DecodeBounded(src []byte, size, limit int64) ([]byte, int, error) {
	n := int64(len(src))
	if size >= 0 {
		if size > n {
			return nil, 0, errors.Wrapf(ErrTruncated, "store: have %d bytes, want %d", n, size)
		}
		n = size
	}
	if limit >= 0 && n > limit {
		return nil, 0, errors.Wrapf(ErrTooLarge, "store: %d bytes, limit %d", n, limit)
	}
	out := make([]byte, n)
	copy(out, src)
	return out, int(n), nil
}

func (storeCodec) Encode(src []byte) ([]byte, error) {
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

// Deflate returns a raw DEFLATE (RFC 1951) codec. Decoding stops at the
// end of the final block, so the consumed count marks where a gzip trailer
// or the next member begins.
func Deflate(level int) Codec { return deflateCodec{level: level} }

type deflateCodec struct {
	level int
}

func (c deflateCodec) Decode(src []byte, size int64) ([]byte, int, error) {
	return c.DecodeBounded(src, size, -1)
}

func (deflateCodec) DecodeBounded(src []byte, size, limit int64) ([]byte, int, error) {
	// srcReader is an io.ByteReader, so the inflater reads no further than
	// the end-of-block code.
	sr := &srcReader{src: src}
	fr := flate.NewReader(sr)
	defer fr.Close()

	out, err := readAll(fr, size, limit)
	if err != nil {
		return nil, 0, classify("deflate", err)
	}
	return out, sr.pos, nil
}

func (c deflateCodec) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, c.level)
	if err != nil {
		return nil, errors.Wrap(err, "deflate")
	}
	if _, err := w.Write(src); err != nil {
		return nil, errors.Wrap(err, "deflate")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "deflate")
	}
	return buf.Bytes(), nil
}

// BZip2 returns a bzip2 codec.
func BZip2() Codec { return bzip2Codec{} }

type bzip2Codec struct{}

func (c bzip2Codec) Decode(src []byte, size int64) ([]byte, int, error) {
	return c.DecodeBounded(src, size, -1)
}

func (bzip2Codec) DecodeBounded(src []byte, size, limit int64) ([]byte, int, error) {
	r, err := bzip2.NewReader(bytes.NewReader(src), nil)
	if err != nil {
		return nil, 0, classify("bzip2", err)
	}
	defer r.Close()

	out, err := readAll(r, size, limit)
	if err != nil {
		return nil, 0, classify("bzip2", err)
	}
	return out, int(r.InputOffset), nil
}

func (bzip2Codec) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
	if err != nil {
		return nil, errors.Wrap(err, "bzip2")
	}
	if _, err := w.Write(src); err != nil {
		return nil, errors.Wrap(err, "bzip2")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "bzip2")
	}
	return buf.Bytes(), nil
}

// Zip stores LZMA data behind a four byte header (SDK version, properties
// length) followed by the five property bytes. The classic .lzma header has
// the same properties plus an eight byte size.
const (
	lzmaZipHeaderLen     = 4
	lzmaPropsLen         = 5
	lzmaClassicHeaderLen = lzmaPropsLen + 8
	lzmaSDKMajor         = 9
	lzmaSDKMinor         = 20
)

// LZMA returns the codec for zip method 14. The stream is written with an
// end-of-stream marker; decoding with size -1 relies on that marker.
func LZMA() Codec { return lzmaCodec{} }

type lzmaCodec struct{}

func (c lzmaCodec) Decode(src []byte, size int64) ([]byte, int, error) {
	return c.DecodeBounded(src, size, -1)
}

func (lzmaCodec) DecodeBounded(src []byte, size, limit int64) ([]byte, int, error) {
	if len(src) < lzmaZipHeaderLen {
		return nil, 0, errors.Wrap(ErrTruncated, "lzma: short header")
	}
	if n := binary.LittleEndian.Uint16(src[2:4]); n != lzmaPropsLen {
		return nil, 0, errors.Wrapf(ErrCorrupt, "lzma: properties length %d", n)
	}
	if len(src) < lzmaZipHeaderLen+lzmaPropsLen {
		return nil, 0, errors.Wrap(ErrTruncated, "lzma: short properties")
	}
	body := src[lzmaZipHeaderLen+lzmaPropsLen:]

	classic := make([]byte, lzmaClassicHeaderLen+len(body))
	copy(classic, src[lzmaZipHeaderLen:lzmaZipHeaderLen+lzmaPropsLen])
	declared := uint64(1<<64 - 1) // unknown, read up to the end marker
	if size >= 0 {
		declared = uint64(size)
	}
	binary.LittleEndian.PutUint64(classic[lzmaPropsLen:], declared)
	copy(classic[lzmaClassicHeaderLen:], body)

	br := bytes.NewReader(classic)
	r, err := lzma.NewReader(br)
	if err != nil {
		return nil, 0, classify("lzma", err)
	}
	out, err := readAll(r, size, limit)
	if err != nil {
		return nil, 0, classify("lzma", err)
	}
	consumed := lzmaZipHeaderLen + lzmaPropsLen + len(body) - br.Len()
	return out, consumed, nil
}

func (lzmaCodec) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	cfg := lzma.WriterConfig{EOSMarker: true, SizeInHeader: false}
	w, err := cfg.NewWriter(&buf)
	if err != nil {
		return nil, errors.Wrap(err, "lzma")
	}
	if _, err := w.Write(src); err != nil {
		return nil, errors.Wrap(err, "lzma")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "lzma")
	}
	classic := buf.Bytes()
	if len(classic) < lzmaClassicHeaderLen {
		return nil, errors.New("lzma: encoder produced no header")
	}

	out := make([]byte, 0, lzmaZipHeaderLen+len(classic)-8)
	out = append(out, lzmaSDKMajor, lzmaSDKMinor, lzmaPropsLen, 0)
	out = append(out, classic[:lzmaPropsLen]...)
	out = append(out, classic[lzmaClassicHeaderLen:]...)
	return out, nil
}

// XZ returns the codec for zip method 95.
func XZ() Codec { return xzCodec{} }

type xzCodec struct{}

func (c xzCodec) Decode(src []byte, size int64) ([]byte, int, error) {
	return c.DecodeBounded(src, size, -1)
}

func (xzCodec) DecodeBounded(src []byte, size, limit int64) ([]byte, int, error) {
	br := bytes.NewReader(src)
	r, err := xz.NewReader(br)
	if err != nil {
		return nil, 0, classify("xz", err)
	}
	out, err := readAll(r, size, limit)
	if err != nil {
		return nil, 0, classify("xz", err)
	}
	return out, len(src) - br.Len(), nil
}

func (xzCodec) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, errors.Wrap(err, "xz")
	}
	if _, err := w.Write(src); err != nil {
		return nil, errors.Wrap(err, "xz")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "xz")
	}
	return buf.Bytes(), nil
}

// Zstd returns the codec for zip method 93. The decoder and encoder are
// built on first use and shared afterwards.
func Zstd() Codec { return &zstdCodec{} }

type zstdCodec struct {
	once sync.Once
	dec  *zstd.Decoder
	enc  *zstd.Encoder
	err  error
}

func (c *zstdCodec) init() error {
	c.once.Do(func() {
		if c.dec, c.err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1)); c.err != nil {
			return
		}
		c.enc, c.err = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	})
	return errors.Wrap(c.err, "zstd")
}

func (c *zstdCodec) Decode(src []byte, size int64) ([]byte, int, error) {
	return c.DecodeBounded(src, size, -1)
}

func (c *zstdCodec) DecodeBounded(src []byte, size, limit int64) ([]byte, int, error) {
	if limit >= 0 {
		// DecodeAll materializes whole frames, so a bounded decode streams
		// through its own reader instead.
		r, err := zstd.NewReader(bytes.NewReader(src), zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, 0, classify("zstd", err)
		}
		defer r.Close()
		out, err := readAll(r, size, limit)
		if err != nil {
			return nil, 0, classify("zstd", err)
		}
		return out, len(src), nil
	}

	if err := c.init(); err != nil {
		return nil, 0, err
	}
	var dst []byte
	if size > 0 {
		dst = make([]byte, 0, min(size, maxPrealloc))
	}
	out, err := c.dec.DecodeAll(src, dst)
	if err != nil {
		return nil, 0, classify("zstd", err)
	}
	if out == nil {
		out = []byte{}
	}
	return out, len(src), nil
}

func (c *zstdCodec) Encode(src []byte) ([]byte, error) {
	if err := c.init(); err != nil {
		return nil, err
	}
	return c.enc.EncodeAll(src, nil), nil
}
