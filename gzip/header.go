package gzip

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/abe-nagisa/arcparse/codec"
	"github.com/pkg/errors"
	"golang.org/x/text/encoding/charmap"
)

const (
	gzipID1    = 0x1f
	gzipID2    = 0x8b
	headerLen  = 10 // fixed part: magic, CM, FLG, MTIME, XFL, OS
	trailerLen = 8  // CRC-32, ISIZE
)

// Method is the compression method byte of a gzip header.
type Method uint8

// Deflate is the only compression method gzip defines.
const Deflate Method = 8

// Flags is the FLG byte of a gzip header.
type Flags uint8

const (
	FlagText      Flags = 1 << 0
	FlagHeaderCRC Flags = 1 << 1
	FlagExtra     Flags = 1 << 2
	FlagName      Flags = 1 << 3
	FlagComment   Flags = 1 << 4

	flagReserved Flags = 0xe0
)

// OS identifies the file system a member was written on.
type OS uint8

const (
	OSFAT         OS = 0
	OSAmiga       OS = 1
	OSVMS         OS = 2
	OSUnix        OS = 3
	OSVMCMS       OS = 4
	OSAtariTOS    OS = 5
	OSHPFS        OS = 6
	OSMacintosh   OS = 7
	OSZSystem     OS = 8
	OSCPM         OS = 9
	OSTOPS20      OS = 10
	OSNTFS        OS = 11
	OSQDOS        OS = 12
	OSAcornRISCOS OS = 13
	OSUnknown     OS = 255
)

var osNames = map[OS]string{
	OSFAT:         "FAT",
	OSAmiga:       "Amiga",
	OSVMS:         "VMS",
	OSUnix:        "Unix",
	OSVMCMS:       "VM/CMS",
	OSAtariTOS:    "Atari TOS",
	OSHPFS:        "HPFS",
	OSMacintosh:   "Macintosh",
	OSZSystem:     "Z-System",
	OSCPM:         "CP/M",
	OSTOPS20:      "TOPS-20",
	OSNTFS:        "NTFS",
	OSQDOS:        "QDOS",
	OSAcornRISCOS: "Acorn RISCOS",
	OSUnknown:     "unknown",
}

func (o OS) String() string {
	if name, ok := osNames[o]; ok {
		return name
	}
	return "unknown"
}

func osFromByte(b byte) OS {
	if _, ok := osNames[OS(b)]; ok {
		return OS(b)
	}
	return OSUnknown
}

// Header is the metadata preceding a member's compressed payload.
type Header struct {
	Method Method
	// ModTime is the zero time when the stored MTIME is 0.
	ModTime time.Time
	// ExtraFlags is the XFL byte, a hint about the compression level used.
	ExtraFlags byte
	OS         OS
	// Name and Comment are empty when absent.
	Name    string
	Comment string
	// Extra is nil when FEXTRA is not set.
	Extra []byte
	Flags Flags
	// HeaderCRC is meaningful only when Flags has FlagHeaderCRC.
	HeaderCRC uint16
}

// IsText reports whether the writer marked the payload as probably text.
func (h *Header) IsText() bool {
	return h.Flags&FlagText != 0
}

// ParseHeader parses the header of the gzip member at the start of data.
func ParseHeader(data []byte) (*Header, error) {
	h, _, err := readHeader(data)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// readHeader parses a member header and returns the offset of the first
// byte of the compressed payload.
func readHeader(data []byte) (Header, int, error) {
	var h Header
	if len(data) < headerLen {
		return h, 0, errors.Wrapf(ErrFormat, "header needs %d bytes, have %d", headerLen, len(data))
	}
	if data[0] != gzipID1 || data[1] != gzipID2 {
		return h, 0, errors.Wrapf(ErrFormat, "bad magic %02x %02x", data[0], data[1])
	}
	if Method(data[2]) != Deflate {
		return h, 0, errors.Wrapf(ErrFormat, "unknown compression method %d", data[2])
	}
	h.Method = Deflate
	h.Flags = Flags(data[3])
	if h.Flags&flagReserved != 0 {
		return h, 0, errors.Wrapf(ErrFormat, "reserved flag bits set in %08b", data[3])
	}
	if mtime := binary.LittleEndian.Uint32(data[4:8]); mtime != 0 {
		h.ModTime = time.Unix(int64(mtime), 0)
	}
	h.ExtraFlags = data[8]
	h.OS = osFromByte(data[9])

	pos := headerLen
	if h.Flags&FlagExtra != 0 {
		if len(data) < pos+2 {
			return h, 0, errors.Wrap(ErrFormat, "extra field length truncated")
		}
		n := int(binary.LittleEndian.Uint16(data[pos:]))
		pos += 2
		if len(data) < pos+n {
			return h, 0, errors.Wrapf(ErrFormat, "extra field declares %d bytes, have %d", n, len(data)-pos)
		}
		h.Extra = append([]byte{}, data[pos:pos+n]...)
		pos += n
	}
	if h.Flags&FlagName != 0 {
		s, n, err := readString(data[pos:])
		if err != nil {
			return h, 0, errors.Wrap(err, "file name")
		}
		h.Name = s
		pos += n
	}
	if h.Flags&FlagComment != 0 {
		s, n, err := readString(data[pos:])
		if err != nil {
			return h, 0, errors.Wrap(err, "comment")
		}
		h.Comment = s
		pos += n
	}
	if h.Flags&FlagHeaderCRC != 0 {
		if len(data) < pos+2 {
			return h, 0, errors.Wrap(ErrFormat, "header crc truncated")
		}
		h.HeaderCRC = binary.LittleEndian.Uint16(data[pos:])
		if got := uint16(codec.Checksum(data[:pos])); got != h.HeaderCRC {
			return h, 0, errors.Wrapf(ErrFormat, "header crc is %04x, want %04x", got, h.HeaderCRC)
		}
		pos += 2
	}
	return h, pos, nil
}

// readString reads a NUL-terminated ISO 8859-1 string and returns it along
// with the number of bytes used, terminator included.
func readString(b []byte) (string, int, error) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return "", 0, errors.Wrap(ErrFormat, "missing NUL terminator")
	}
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(b[:i])
	if err != nil {
		return "", 0, errors.Wrap(ErrFormat, err.Error())
	}
	return string(s), i + 1, nil
}
