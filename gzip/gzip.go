package gzip

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"time"

	"github.com/abe-nagisa/arcparse/codec"
	"github.com/pkg/errors"
	"golang.org/x/text/encoding/charmap"
)

// Options describe the header written by Archive.
type Options struct {
	// Name and Comment must be representable in ISO 8859-1 and contain no
	// NUL. Empty means absent.
	Name    string
	Comment string
	// ModTime is written with one second precision. The zero time, and any
	// time MTIME cannot hold, is written as 0.
	ModTime time.Time
	// OS is written as given; the zero value is OSFAT.
	OS OS
	// IsText sets FTEXT.
	IsText bool
	// WriteHeaderCRC appends the header CRC-16 (FHCRC).
	WriteHeaderCRC bool
	// Extra is written as the FEXTRA field when non-nil.
	Extra []byte
}

// Archive compresses data into a single gzip member.
func Archive(data []byte, o Options, opts ...Option) ([]byte, error) {
	c := newConfig(opts)

	var flags Flags
	if o.IsText {
		flags |= FlagText
	}
	if o.WriteHeaderCRC {
		flags |= FlagHeaderCRC
	}
	if o.Extra != nil {
		if len(o.Extra) > math.MaxUint16 {
			return nil, errors.Wrapf(ErrFormat, "extra field of %d bytes", len(o.Extra))
		}
		flags |= FlagExtra
	}
	name, err := encodeString(o.Name)
	if err != nil {
		return nil, errors.Wrap(err, "file name")
	}
	if name != nil {
		flags |= FlagName
	}
	comment, err := encodeString(o.Comment)
	if err != nil {
		return nil, errors.Wrap(err, "comment")
	}
	if comment != nil {
		flags |= FlagComment
	}

	var buf bytes.Buffer
	var fixed [headerLen]byte
	fixed[0], fixed[1], fixed[2], fixed[3] = gzipID1, gzipID2, byte(Deflate), byte(flags)
	binary.LittleEndian.PutUint32(fixed[4:8], mtime(o.ModTime))
	fixed[9] = byte(o.OS)
	buf.Write(fixed[:])

	if o.Extra != nil {
		var n [2]byte
		binary.LittleEndian.PutUint16(n[:], uint16(len(o.Extra)))
		buf.Write(n[:])
		buf.Write(o.Extra)
	}
	if name != nil {
		buf.Write(name)
		buf.WriteByte(0)
	}
	if comment != nil {
		buf.Write(comment)
		buf.WriteByte(0)
	}
	if o.WriteHeaderCRC {
		var crc [2]byte
		binary.LittleEndian.PutUint16(crc[:], uint16(codec.Checksum(buf.Bytes())))
		buf.Write(crc[:])
	}

	compressed, err := c.dispatcher.Encode(uint16(Deflate), data)
	if err != nil {
		return nil, err
	}
	buf.Write(compressed)

	var trailer [trailerLen]byte
	binary.LittleEndian.PutUint32(trailer[0:4], codec.Checksum(data))
	binary.LittleEndian.PutUint32(trailer[4:8], uint32(len(data)))
	buf.Write(trailer[:])
	return buf.Bytes(), nil
}

func mtime(t time.Time) uint32 {
	if t.IsZero() {
		return 0
	}
	sec := t.Unix()
	if sec <= 0 || sec > math.MaxUint32 {
		return 0
	}
	return uint32(sec)
}

// encodeString returns s in ISO 8859-1, or nil when s is empty.
func encodeString(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if strings.IndexByte(s, 0) >= 0 {
		return nil, errors.Wrap(ErrFormat, "contains NUL")
	}
	b, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, errors.Wrapf(ErrFormat, "not representable in ISO 8859-1: %v", err)
	}
	return b, nil
}
