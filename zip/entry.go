package zip

import (
	"encoding/binary"
	"io/fs"
	"strings"
	"time"

	"github.com/abe-nagisa/arcparse/codec"
	"github.com/pkg/errors"
)

// File is one entry of a Reader: its resolved metadata and where its data
// lives in the archive.
type File struct {
	EntryInfo

	headerOffset uint64
	dataOffset   uint64
	zip64        bool
}

// localHeader is the part of a local file header the reader relies on.
type localHeader struct {
	flags      uint16
	method     uint16
	crc32      uint32
	dataOffset uint64
	fields     []ExtraField
	zip64      bool
}

// readLocalHeader parses the local file header at offset and returns it
// with the offset of the compressed data that follows it.
func readLocalHeader(data []byte, offset uint64, reg *ExtraFieldRegistry) (*localHeader, error) {
	if offset > uint64(len(data)) || uint64(len(data))-offset < fileHeaderLen {
		return nil, errors.Wrapf(ErrFormat, "local header at %d truncated", offset)
	}
	b := readBuf(data[offset : offset+fileHeaderLen])
	if sig := b.uint32(); sig != fileHeaderSignature {
		return nil, errors.Wrapf(ErrFormat, "bad local header signature %08x at %d", sig, offset)
	}
	h := &localHeader{}
	b = b[2:] // version needed to extract
	h.flags = b.uint16()
	h.method = b.uint16()
	b = b[4:] // modification time and date, taken from the central directory
	h.crc32 = b.uint32()
	b = b[8:] // sizes, taken from the central directory
	filenameLen := uint64(b.uint16())
	extraLen := uint64(b.uint16())

	h.dataOffset = offset + fileHeaderLen + filenameLen + extraLen
	if h.dataOffset > uint64(len(data)) {
		return nil, errors.Wrapf(ErrFormat, "local header at %d overruns archive", offset)
	}
	extra := data[offset+fileHeaderLen+filenameLen : h.dataOffset]
	fields, err := reg.parse(extra, LocalHeader)
	if err != nil {
		return nil, err
	}
	h.fields = fields
	for _, f := range fields {
		if _, ok := f.(*Zip64Field); ok {
			h.zip64 = true
		}
	}
	return h, nil
}

// descriptor is a data descriptor record.
type descriptor struct {
	crc32            uint32
	compressedSize   uint64
	uncompressedSize uint64
}

// readDataDescriptor reads the data descriptor at offset. The signature is
// optional: the first four bytes are taken as the signature only when they
// match it and cannot be the CRC-32 the central directory expects.
func readDataDescriptor(data []byte, offset uint64, zip64 bool, wantCRC uint32) (*descriptor, error) {
	n := uint64(dataDescriptorLen)
	if zip64 {
		n = dataDescriptor64Len
	}
	if offset > uint64(len(data)) || uint64(len(data))-offset < n {
		return nil, errors.Wrapf(ErrFormat, "data descriptor at %d truncated", offset)
	}
	b := readBuf(data[offset:])
	if sig := binary.LittleEndian.Uint32(b); sig == dataDescriptorSignature && wantCRC != dataDescriptorSignature {
		if uint64(len(data))-offset < n+4 {
			return nil, errors.Wrapf(ErrFormat, "data descriptor at %d truncated", offset)
		}
		b = b[4:]
	}
	d := &descriptor{crc32: b.uint32()}
	if zip64 {
		d.compressedSize = b.uint64()
		d.uncompressedSize = b.uint64()
	} else {
		d.compressedSize = uint64(b.uint32())
		d.uncompressedSize = uint64(b.uint32())
	}
	return d, nil
}

// newFile resolves a central directory header into a File: Zip64 values,
// local header, data descriptor and extra fields.
func newFile(data []byte, h *header, reg *ExtraFieldRegistry) (*File, error) {
	cdFields, err := reg.parse(h.extra, CentralDirectory)
	if err != nil {
		return nil, err
	}
	f := &File{}
	for _, ef := range cdFields {
		if z, ok := ef.(*Zip64Field); ok {
			f.zip64 = true
			if err := z.resolve(&h.uncompressedSize, &h.compressedSize, &h.headerOffset, &h.diskStart); err != nil {
				return nil, err
			}
		}
	}
	if h.uncompressedSize == uint32max || h.compressedSize == uint32max || h.headerOffset == uint32max {
		if !f.zip64 {
			return nil, errors.Wrapf(ErrFormat, "%s: escaped size or offset without zip64 extra field", h.name)
		}
	}

	lh, err := readLocalHeader(data, h.headerOffset, reg)
	if err != nil {
		return nil, errors.Wrap(err, h.name)
	}
	if lh.dataOffset+h.compressedSize > uint64(len(data)) || lh.dataOffset+h.compressedSize < lh.dataOffset {
		return nil, errors.Wrapf(ErrFormat, "%s: %d bytes of data at %d overrun archive", h.name, h.compressedSize, lh.dataOffset)
	}
	f.headerOffset = h.headerOffset
	f.dataOffset = lh.dataOffset
	f.zip64 = f.zip64 || lh.zip64

	if h.flags&flagDataDescriptor != 0 {
		d, err := readDataDescriptor(data, lh.dataOffset+h.compressedSize, f.zip64, h.crc32)
		if err != nil {
			return nil, errors.Wrap(err, h.name)
		}
		if d.compressedSize != h.compressedSize || d.uncompressedSize != h.uncompressedSize || d.crc32 != h.crc32 {
			return nil, errors.Wrapf(ErrFormat, "%s: data descriptor disagrees with central directory", h.name)
		}
		h.crc32 = d.crc32
		h.compressedSize = d.compressedSize
		h.uncompressedSize = d.uncompressedSize
	} else if lh.crc32 != h.crc32 {
		return nil, errors.Wrapf(ErrFormat, "%s: local header crc32 %08x, central directory %08x", h.name, lh.crc32, h.crc32)
	}

	f.EntryInfo = EntryInfo{
		Name:           h.name,
		Comment:        h.comment,
		NonUTF8:        h.nonUTF8,
		Size:           h.uncompressedSize,
		CompressedSize: h.compressedSize,
		Method:         Method(h.method),
		Flags:          h.flags,
		CRC32:          h.crc32,
		ModTime:        msDosTimeToTime(h.modifiedDate, h.modifiedTime),
		FileSystem:     fileSystemOf(h.creatorVersion),
		IsText:         h.internalAttrs&1 != 0,
		ExtraFields:    append(cdFields, lh.fields...),
	}
	f.resolveAttributes(h.externalAttrs)
	f.resolveExtraFields()
	return f, nil
}

func (f *File) resolveAttributes(externalAttrs uint32) {
	switch f.FileSystem {
	case FileSystemUnix:
		mode := externalAttrs >> 16
		f.Permissions = fs.FileMode(mode & 0o777)
		switch mode & sIFMT {
		case sIFDIR:
			f.Type = TypeDirectory
		case sIFLNK:
			f.Type = TypeSymlink
		}
	case FileSystemFAT, FileSystemNTFS:
		attrs := DOSAttributes(externalAttrs)
		f.DOSAttributes = &attrs
		if attrs.Has(DOSDirectory) {
			f.Type = TypeDirectory
		}
	}
	if strings.HasSuffix(f.Name, "/") {
		f.Type = TypeDirectory
	}
}

// resolveExtraFields applies times and ownership from the extra fields.
// Extended timestamps win over NTFS times, which win over the DOS time.
func (f *File) resolveExtraFields() {
	var ext, ntfs struct{ mod, access, create time.Time }
	for _, ef := range f.ExtraFields {
		switch v := ef.(type) {
		case *ExtendedTimestampField:
			setIfZero(&ext.mod, v.ModTime)
			setIfZero(&ext.access, v.AccessTime)
			setIfZero(&ext.create, v.CreationTime)
		case *NTFSField:
			setIfZero(&ntfs.mod, v.ModTime)
			setIfZero(&ntfs.access, v.AccessTime)
			setIfZero(&ntfs.create, v.CreationTime)
		case *InfoZipNewUnixField:
			uid, gid := v.OwnerID, v.GroupID
			f.OwnerID, f.GroupID = &uid, &gid
		}
	}
	if f.OwnerID == nil {
		for _, ef := range f.ExtraFields {
			if v, ok := ef.(*InfoZipUnixField); ok && v.OwnerID != nil {
				f.OwnerID, f.GroupID = v.OwnerID, v.GroupID
			}
		}
	}
	for _, t := range []time.Time{ext.mod, ntfs.mod} {
		if !t.IsZero() {
			f.ModTime = t
			break
		}
	}
	setIfZero(&f.AccessTime, ext.access)
	setIfZero(&f.AccessTime, ntfs.access)
	setIfZero(&f.CreationTime, ext.create)
	setIfZero(&f.CreationTime, ntfs.create)
}

func setIfZero(dst *time.Time, v time.Time) {
	if dst.IsZero() && !v.IsZero() {
		*dst = v
	}
}

// msDosTimeToTime converts an MS-DOS date and time into a time.Time.
// The resolution is 2s.
// See: https://msdn.microsoft.com/en-us/library/ms724247(v=VS.85).aspx
func msDosTimeToTime(dosDate, dosTime uint16) time.Time {
	if dosDate == 0 && dosTime == 0 {
		return time.Time{}
	}
	return time.Date(
		// date bits 0-4: day of month; 5-8: month; 9-15: years since 1980
		int(dosDate>>9+1980),
		time.Month(dosDate>>5&0xf),
		int(dosDate&0x1f),

		// time bits 0-4: second/2; 5-10: minute; 11-15: hour
		int(dosTime>>11),
		int(dosTime>>5&0x3f),
		int(dosTime&0x1f*2),
		0, // nanoseconds

		time.UTC,
	)
}

// extract decodes the entry's data and checks it against the recorded
// CRC-32 and size. Directories yield nil.
func (f *File) extract(data []byte, d *codec.Dispatcher) ([]byte, error) {
	if f.Type == TypeDirectory {
		return nil, nil
	}
	if f.Flags&flagEncrypted != 0 {
		return nil, errors.Wrap(ErrEncrypted, f.Name)
	}
	compressed := data[f.dataOffset : f.dataOffset+f.CompressedSize]
	size := int64(f.Size)
	if f.Method == LZMA && f.Flags&flagLZMAEndMarker != 0 {
		size = -1
	}
	out, _, err := d.Decode(uint16(f.Method), compressed, size)
	if err != nil {
		return nil, errors.Wrap(err, f.Name)
	}
	if uint64(len(out)) != f.Size {
		return nil, errors.Wrapf(ErrChecksum, "%s: decoded %d bytes, want %d", f.Name, len(out), f.Size)
	}
	crc := codec.NewCRC32()
	crc.Write(out)
	if err := crc.Verify(f.CRC32); err != nil {
		return nil, errors.Wrapf(ErrChecksum, "%s: %v", f.Name, err)
	}
	return out, nil
}
