package zip

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/charmap"
)

// directoryEnd is the end of central directory record as stored, with the
// Zip64 record's values substituted when one is present.
type directoryEnd struct {
	diskNbr            uint32
	dirDiskNbr         uint32
	dirRecordsThisDisk uint64
	directoryRecords   uint64
	directorySize      uint64
	directoryOffset    uint64 // relative to file
	commentLen         uint16
	comment            string
	zip64              bool
}

// header is a central directory file header before Zip64 values and extra
// fields are applied.
type header struct {
	name    string
	comment string
	nonUTF8 bool

	creatorVersion uint16
	readerVersion  uint16
	flags          uint16
	method         uint16
	modifiedTime   uint16
	modifiedDate   uint16

	crc32            uint32
	compressedSize   uint64
	uncompressedSize uint64
	diskStart        uint32
	internalAttrs    uint16
	externalAttrs    uint32
	headerOffset     uint64
	extra            []byte
}

func readDirectoryEnd(data []byte) (*directoryEnd, error) {
	start := findSignatureInBlock(data)
	if start < 0 {
		return nil, errors.Wrap(ErrFormat, "end of central directory not found")
	}

	b := readBuf(data[start+4:]) // skip signature
	d := &directoryEnd{
		diskNbr:            uint32(b.uint16()),
		dirDiskNbr:         uint32(b.uint16()),
		dirRecordsThisDisk: uint64(b.uint16()),
		directoryRecords:   uint64(b.uint16()),
		directorySize:      uint64(b.uint32()),
		directoryOffset:    uint64(b.uint32()),
		commentLen:         b.uint16(),
	}
	l := int(d.commentLen)
	if l > len(b) {
		return nil, errors.Wrap(ErrFormat, "invalid comment length")
	}
	d.comment = decodeText(b[:l], false)

	if d.directoryRecords == uint16max || d.directorySize == uint32max || d.directoryOffset == uint32max {
		p, err := findDirectory64End(data, int64(start))
		if err != nil {
			return nil, err
		}
		if p >= 0 {
			if err := readDirectory64End(data, p, d); err != nil {
				return nil, err
			}
		}
	}

	if d.diskNbr != d.dirDiskNbr || d.dirRecordsThisDisk != d.directoryRecords {
		return nil, errors.Wrap(ErrFormat, "multi-disk archives are not supported")
	}
	if d.directoryOffset > uint64(len(data)) || d.directorySize > uint64(len(data))-d.directoryOffset {
		return nil, errors.Wrapf(ErrFormat, "central directory at %d+%d lies outside %d byte archive",
			d.directoryOffset, d.directorySize, len(data))
	}
	if d.directoryRecords > uint64(len(data))/directoryHeaderLen {
		return nil, errors.Wrapf(ErrFormat, "TOC declares impossible %d files in %d byte zip", d.directoryRecords, len(data))
	}
	return d, nil
}

// findDirectory64End returns the offset of the Zip64 end record named by a
// locator sitting right before the end record at directoryEndOffset, or -1
// when there is no usable locator.
func findDirectory64End(data []byte, directoryEndOffset int64) (int64, error) {
	locOffset := directoryEndOffset - directory64LocLen
	if locOffset < 0 {
		return -1, nil // no need to look for a header outside the file
	}
	b := readBuf(data[locOffset:directoryEndOffset])
	if sig := b.uint32(); sig != directory64LocSignature {
		return -1, nil
	}
	if b.uint32() != 0 { // number of the disk with the start of the zip64 end of central directory
		return -1, nil // the file is not a valid zip64-file
	}
	p := b.uint64()      // relative offset of the zip64 end of central directory record
	if b.uint32() != 1 { // total number of disks
		return -1, nil // the file is not a valid zip64-file
	}
	if p > uint64(locOffset) {
		return 0, errors.Wrapf(ErrFormat, "zip64 end record offset %d past its locator", p)
	}
	return int64(p), nil
}

func readDirectory64End(data []byte, offset int64, d *directoryEnd) error {
	if offset+directory64EndLen > int64(len(data)) {
		return errors.Wrap(ErrFormat, "zip64 end record truncated")
	}
	b := readBuf(data[offset : offset+directory64EndLen])
	if sig := b.uint32(); sig != directory64EndSignature {
		return errors.Wrap(ErrFormat, "bad zip64 end record signature")
	}

	b = b[12:]                        // skip dir size, version and version needed (uint64 + 2x uint16)
	d.diskNbr = b.uint32()            // number of this disk
	d.dirDiskNbr = b.uint32()         // number of the disk with the start of the central directory
	d.dirRecordsThisDisk = b.uint64() // total number of entries in the central directory on this disk
	d.directoryRecords = b.uint64()   // total number of entries in the central directory
	d.directorySize = b.uint64()      // size of the central directory
	d.directoryOffset = b.uint64()    // offset of start of central directory with respect to the starting disk number
	d.zip64 = true

	return nil
}

// findSignatureInBlock returns the offset of the last end of central
// directory signature whose comment fits in b, looking no further back than
// the longest possible comment. It returns -1 when there is none.
func findSignatureInBlock(b []byte) int {
	lowest := max(len(b)-directoryEndLen-uint16max, 0)
	for i := len(b) - directoryEndLen; i >= lowest; i-- {
		// defined from directoryEndSignature in struct.go
		if b[i] == 'P' && b[i+1] == 'K' && b[i+2] == 0x05 && b[i+3] == 0x06 {
			// n is length of comment
			n := int(b[i+directoryEndLen-2]) | int(b[i+directoryEndLen-1])<<8
			if n+directoryEndLen+i <= len(b) {
				return i
			}
		}
	}
	return -1
}

// readDirectoryHeader parses the central directory header at data[offset:]
// and returns it with the offset of the next header.
func readDirectoryHeader(data []byte, offset uint64) (*header, uint64, error) {
	if offset > uint64(len(data)) || uint64(len(data))-offset < directoryHeaderLen {
		return nil, 0, errors.Wrapf(ErrFormat, "central directory header at %d truncated", offset)
	}
	b := readBuf(data[offset : offset+directoryHeaderLen])
	if sig := b.uint32(); sig != directoryHeaderSignature {
		return nil, 0, errors.Wrapf(ErrFormat, "bad central directory signature %08x at %d", sig, offset)
	}

	f := &header{}
	f.creatorVersion = b.uint16()
	f.readerVersion = b.uint16()
	f.flags = b.uint16()
	f.method = b.uint16()
	f.modifiedTime = b.uint16()
	f.modifiedDate = b.uint16()
	f.crc32 = b.uint32()
	f.compressedSize = uint64(b.uint32())
	f.uncompressedSize = uint64(b.uint32())
	filenameLen := int(b.uint16())
	extraLen := int(b.uint16())
	commentLen := int(b.uint16())
	f.diskStart = uint32(b.uint16())
	f.internalAttrs = b.uint16()
	f.externalAttrs = b.uint32()
	f.headerOffset = uint64(b.uint32())

	next := offset + directoryHeaderLen + uint64(filenameLen+extraLen+commentLen)
	if next > uint64(len(data)) {
		return nil, 0, errors.Wrapf(ErrFormat, "central directory header at %d overruns archive", offset)
	}
	d := readBuf(data[offset+directoryHeaderLen : next])
	name := d.sub(filenameLen)
	f.extra = append([]byte{}, d.sub(extraLen)...)
	comment := d.sub(commentLen)

	// Determine the character encoding.
	utf8Valid1, utf8Require1 := detectUTF8(name)
	utf8Valid2, utf8Require2 := detectUTF8(comment)
	switch {
	case !utf8Valid1 || !utf8Valid2:
		// Name and Comment definitely not UTF-8.
		f.nonUTF8 = true
	case !utf8Require1 && !utf8Require2:
		// Name and Comment use only single-byte runes that overlap with UTF-8.
		f.nonUTF8 = false
	default:
		// Might be UTF-8, might be some other encoding; preserve existing flag.
		// Some ZIP writers use UTF-8 encoding without setting the UTF-8 flag.
		// Since it is impossible to always distinguish valid UTF-8 from some
		// other encoding (e.g., GBK or Shift-JIS), we trust the flag.
		f.nonUTF8 = f.flags&flagUTF8 == 0
	}
	utf8Flag := f.flags&flagUTF8 != 0
	f.name = decodeText(name, utf8Flag)
	f.comment = decodeText(comment, utf8Flag)

	return f, next, nil
}

// decodeText returns b as a string, reading it as CP437 when it is not
// flagged as UTF-8 and is not valid UTF-8 either.
func decodeText(b []byte, utf8Flag bool) string {
	if utf8Flag || utf8.Valid(b) {
		return string(b)
	}
	s, err := charmap.CodePage437.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}

func detectUTF8(b []byte) (valid, require bool) {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		i += size
		// Officially, ZIP uses CP-437, but many readers use the system's
		// local character encoding. Most encoding are compatible with a large
		// subset of CP-437, which itself is ASCII-like.
		//
		// Forbid 0x7e and 0x5c since EUC-KR and Shift-JIS replace those
		// characters with localized currency and overline characters.
		if r < 0x20 || r > 0x7d || r == 0x5c {
			if !utf8.ValidRune(r) || (r == utf8.RuneError && size == 1) {
				return false, false
			}
			require = true
		}
	}
	return true, require
}

type readBuf []byte

func (b *readBuf) uint8() uint8 {
	v := (*b)[0]
	*b = (*b)[1:]
	return v
}

func (b *readBuf) uint16() uint16 {
	v := binary.LittleEndian.Uint16(*b)
	*b = (*b)[2:]
	return v
}

func (b *readBuf) uint32() uint32 {
	v := binary.LittleEndian.Uint32(*b)
	*b = (*b)[4:]
	return v
}

func (b *readBuf) uint64() uint64 {
	v := binary.LittleEndian.Uint64(*b)
	*b = (*b)[8:]
	return v
}

func (b *readBuf) sub(n int) readBuf {
	b2 := (*b)[:n]
	*b = (*b)[n:]
	return b2
}
