package zip

import (
	"io/fs"
	"time"

	"github.com/abe-nagisa/arcparse/codec"
)

// Method is the compression method of an entry.
type Method uint16

// Compression methods.
const (
	Store   = Method(codec.MethodStore)   // no compression
	Deflate = Method(codec.MethodDeflate) // DEFLATE compressed
	BZip2   = Method(codec.MethodBZip2)
	LZMA    = Method(codec.MethodLZMA)
	Zstd    = Method(codec.MethodZstd)
	XZ      = Method(codec.MethodXZ)
)

var methodNames = map[Method]string{
	Store:   "store",
	Deflate: "deflate",
	BZip2:   "bzip2",
	LZMA:    "lzma",
	Zstd:    "zstd",
	XZ:      "xz",
}

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return "unknown"
}

const (
	fileHeaderSignature      = 0x04034b50
	directoryHeaderSignature = 0x02014b50
	directoryEndSignature    = 0x06054b50
	directory64LocSignature  = 0x07064b50
	directory64EndSignature  = 0x06064b50
	dataDescriptorSignature  = 0x08074b50 // de-facto standard; required by OS X Finder
	fileHeaderLen            = 30         // + filename + extra
	directoryHeaderLen       = 46         // + filename + extra + comment
	directoryEndLen          = 22         // + comment
	dataDescriptorLen        = 12         // crc32, compressed size, size; signature optional
	dataDescriptor64Len      = 20         // descriptor with 8 byte sizes
	directory64LocLen        = 20         //
	directory64EndLen        = 56         // + extra

	// Constants for the first byte in CreatorVersion.
	creatorFAT    = 0
	creatorUnix   = 3
	creatorMac    = 7
	creatorNTFS   = 10
	creatorNTFS2  = 11 // Info-ZIP numbering
	creatorVFAT   = 14
	creatorMacOSX = 19

	// Limits for non zip64 files.
	uint16max = (1 << 16) - 1
	uint32max = (1 << 32) - 1

	// General purpose flag bits.
	flagEncrypted      = 0x1
	flagLZMAEndMarker  = 0x2
	flagDataDescriptor = 0x8
	flagUTF8           = 0x800

	// Unix file type bits of the high half of ExternalAttrs.
	sIFMT  = 0o170000
	sIFDIR = 0o040000
	sIFLNK = 0o120000
)

// FileSystem is the host system an entry was written on, as far as it
// affects how attributes are read.
type FileSystem uint8

const (
	FileSystemOther FileSystem = iota
	FileSystemFAT
	FileSystemUnix
	FileSystemNTFS
	FileSystemMacintosh
)

func (s FileSystem) String() string {
	switch s {
	case FileSystemFAT:
		return "fat"
	case FileSystemUnix:
		return "unix"
	case FileSystemNTFS:
		return "ntfs"
	case FileSystemMacintosh:
		return "macintosh"
	default:
		return "other"
	}
}

func fileSystemOf(creatorVersion uint16) FileSystem {
	switch creatorVersion >> 8 {
	case creatorFAT, creatorVFAT:
		return FileSystemFAT
	case creatorUnix, creatorMacOSX:
		return FileSystemUnix
	case creatorNTFS, creatorNTFS2:
		return FileSystemNTFS
	case creatorMac:
		return FileSystemMacintosh
	default:
		return FileSystemOther
	}
}

// EntryType is the kind of file an entry describes.
type EntryType uint8

const (
	TypeRegular EntryType = iota
	TypeDirectory
	TypeSymlink
)

func (t EntryType) String() string {
	switch t {
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	default:
		return "regular"
	}
}

// DOSAttributes is the MS-DOS attribute byte of an entry.
type DOSAttributes uint8

const (
	DOSReadOnly  DOSAttributes = 0x01
	DOSHidden    DOSAttributes = 0x02
	DOSSystem    DOSAttributes = 0x04
	DOSVolume    DOSAttributes = 0x08
	DOSDirectory DOSAttributes = 0x10
	DOSArchive   DOSAttributes = 0x20
)

// Has reports whether every bit of attr is set.
func (a DOSAttributes) Has(attr DOSAttributes) bool {
	return a&attr == attr
}

// EntryInfo is the resolved metadata of one entry: central directory
// fields with Zip64 values, data descriptor values and extra fields applied.
type EntryInfo struct {
	Name    string
	Comment string
	// NonUTF8 is set when Name and Comment were not recognized as UTF-8.
	NonUTF8 bool

	Size           uint64
	CompressedSize uint64
	Method         Method
	Flags          uint16
	CRC32          uint32

	// Times are zero when the archive does not record them.
	ModTime      time.Time
	AccessTime   time.Time
	CreationTime time.Time

	FileSystem    FileSystem
	Type          EntryType
	Permissions   fs.FileMode
	OwnerID       *int
	GroupID       *int
	DOSAttributes *DOSAttributes
	IsText        bool

	// ExtraFields holds every recognized extra field, central directory
	// copies first, then local header copies.
	ExtraFields []ExtraField
}

// ExtraFieldsByID returns the extra fields with the given id from both
// locations.
func (e *EntryInfo) ExtraFieldsByID(id uint16) []ExtraField {
	var out []ExtraField
	for _, f := range e.ExtraFields {
		if f.ID() == id {
			out = append(out, f)
		}
	}
	return out
}

// CustomExtraFields returns the fields decoded by application-registered
// decoders.
func (e *EntryInfo) CustomExtraFields() []ExtraField {
	var out []ExtraField
	for _, f := range e.ExtraFields {
		if !isReservedExtraID(f.ID()) {
			out = append(out, f)
		}
	}
	return out
}

// Entry is an entry's metadata together with its data. Data is nil for
// directories and an empty non-nil slice for empty regular files.
type Entry struct {
	Info EntryInfo
	Data []byte
}

// DirectoryEnd is the resolved end of central directory record.
type DirectoryEnd struct {
	Records uint64
	Size    uint64
	Offset  uint64 // relative to file
	Comment string
	// Zip64 is set when the values came from a Zip64 end record.
	Zip64 bool
}
