package zip

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Extra header IDs.
//
// IDs 0..31 are reserved for official use by PKWARE.
// IDs above that range are defined by third-party vendors.
// Since ZIP lacked high precision timestamps (nor a official specification
// of the timezone used for the date fields), many competing extra fields
// have been invented. Pervasive use effectively makes them "official".
//
// See http://mdfs.net/Docs/Comp/Archiving/Zip/ExtraField
const (
	zip64ExtraID          = 0x0001 // Zip64 extended information
	ntfsExtraID           = 0x000a // NTFS
	extTimeExtraID        = 0x5455 // Extended timestamp
	infoZipUnixExtraID    = 0x5855 // Info-ZIP Unix extension
	infoZipNewUnixExtraID = 0x7875 // Info-ZIP Unix extension, uid/gid of any size
)

// Location says which header an extra field was read from. The same id can
// carry different payloads in each.
type Location uint8

const (
	LocalHeader Location = iota
	CentralDirectory
)

func (l Location) String() string {
	if l == LocalHeader {
		return "local header"
	}
	return "central directory"
}

// ExtraField is a decoded (id, size, payload) block from a local or central
// directory header.
type ExtraField interface {
	ID() uint16
	// Size is the payload length in bytes.
	Size() int
	Location() Location
}

// ExtraFieldDecoder builds an ExtraField from a payload.
type ExtraFieldDecoder func(payload []byte, loc Location) (ExtraField, error)

var builtinExtraFields = map[uint16]ExtraFieldDecoder{
	zip64ExtraID:          decodeZip64Field,
	ntfsExtraID:           decodeNTFSField,
	extTimeExtraID:        decodeExtendedTimestampField,
	infoZipUnixExtraID:    decodeInfoZipUnixField,
	infoZipNewUnixExtraID: decodeInfoZipNewUnixField,
}

func isReservedExtraID(id uint16) bool {
	_, ok := builtinExtraFields[id]
	return ok
}

// ExtraFieldRegistry maps extra field ids to application decoders. The
// built-in fields are always recognized and their ids cannot be taken over.
// A nil *ExtraFieldRegistry recognizes the built-ins only and cannot take
// registrations.
type ExtraFieldRegistry struct {
	mu       sync.RWMutex
	decoders map[uint16]ExtraFieldDecoder
}

// NewExtraFieldRegistry returns an empty registry.
func NewExtraFieldRegistry() *ExtraFieldRegistry {
	return &ExtraFieldRegistry{decoders: make(map[uint16]ExtraFieldDecoder)}
}

// Register installs dec for id. It fails with ErrReservedExtraField when
// id belongs to a built-in field.
func (r *ExtraFieldRegistry) Register(id uint16, dec ExtraFieldDecoder) error {
	if isReservedExtraID(id) {
		return errors.Wrapf(ErrReservedExtraField, "id %#04x", id)
	}
	if dec == nil {
		return errors.New("zip: nil extra field decoder")
	}
	if r == nil {
		return errors.New("zip: register on nil extra field registry")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.decoders == nil {
		r.decoders = make(map[uint16]ExtraFieldDecoder)
	}
	r.decoders[id] = dec
	return nil
}

// Unregister removes the decoder for id.
func (r *ExtraFieldRegistry) Unregister(id uint16) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.decoders, id)
}

// Lookup returns the decoder used for id, built-ins first.
func (r *ExtraFieldRegistry) Lookup(id uint16) (ExtraFieldDecoder, bool) {
	if dec, ok := builtinExtraFields[id]; ok {
		return dec, true
	}
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	dec, ok := r.decoders[id]
	return dec, ok
}

// parse splits extra into (id, size, payload) blocks and decodes the ones
// with a known id. A block whose size runs past the end ends the walk.
func (r *ExtraFieldRegistry) parse(extra []byte, loc Location) ([]ExtraField, error) {
	var fields []ExtraField
	for b := readBuf(extra); len(b) >= 4; {
		id := b.uint16()
		size := int(b.uint16())
		if len(b) < size {
			break
		}
		payload := b.sub(size)
		dec, ok := r.Lookup(id)
		if !ok {
			continue
		}
		f, err := dec(append([]byte{}, payload...), loc)
		if err != nil {
			return nil, errors.Wrapf(err, "extra field %#04x in %v", id, loc)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

type fieldHeader struct {
	size int
	loc  Location
}

func (h fieldHeader) Size() int          { return h.size }
func (h fieldHeader) Location() Location { return h.loc }

// Zip64Field holds the 64-bit values that replace escaped header fields.
// Which fields it carries depends on which ones the header escaped, so its
// values are read in order when the header is resolved.
type Zip64Field struct {
	fieldHeader
	payload []byte
}

func (*Zip64Field) ID() uint16 { return zip64ExtraID }

func decodeZip64Field(payload []byte, loc Location) (ExtraField, error) {
	return &Zip64Field{fieldHeader{len(payload), loc}, payload}, nil
}

// resolve replaces every field holding the escape value with the next
// value of the record, in the order uncompressed size, compressed size,
// header offset, disk number.
func (z *Zip64Field) resolve(usize, csize, offset *uint64, disk *uint32) error {
	b := readBuf(z.payload)
	for _, v := range []*uint64{usize, csize, offset} {
		if v == nil || *v != uint32max {
			continue
		}
		if len(b) < 8 {
			return errors.Wrap(ErrFormat, "zip64 extra field too short")
		}
		*v = b.uint64()
	}
	if disk != nil && *disk == uint16max {
		if len(b) < 4 {
			return errors.Wrap(ErrFormat, "zip64 extra field too short")
		}
		*disk = b.uint32()
	}
	return nil
}

// NTFSField carries Windows file times.
type NTFSField struct {
	fieldHeader
	ModTime      time.Time
	AccessTime   time.Time
	CreationTime time.Time
}

func (*NTFSField) ID() uint16 { return ntfsExtraID }

func decodeNTFSField(payload []byte, loc Location) (ExtraField, error) {
	f := &NTFSField{fieldHeader: fieldHeader{len(payload), loc}}
	if len(payload) < 4 {
		return nil, errors.Wrap(ErrFormat, "ntfs extra field too short")
	}
	b := readBuf(payload[4:]) // reserved
	for len(b) >= 4 {
		tag := b.uint16()
		size := int(b.uint16())
		if len(b) < size {
			break
		}
		attr := b.sub(size)
		if tag != 1 || size != 24 {
			continue // ignore irrelevant attributes
		}
		f.ModTime = ntfsTime(attr.uint64())
		f.AccessTime = ntfsTime(attr.uint64())
		f.CreationTime = ntfsTime(attr.uint64())
	}
	return f, nil
}

// ntfsTime converts 100ns intervals since 1601-01-01 to a time.
func ntfsTime(ts uint64) time.Time {
	const ticksPerSecond = 1e7      // Windows timestamp resolution
	const epochOffset = 11644473600 // seconds between 1601 and 1970
	secs := int64(ts/ticksPerSecond) - epochOffset
	nsecs := int64(ts%ticksPerSecond) * 100
	return time.Unix(secs, nsecs).UTC()
}

// ExtendedTimestampField carries Unix times in seconds. The central
// directory copy only ever holds ModTime.
type ExtendedTimestampField struct {
	fieldHeader
	ModTime      time.Time
	AccessTime   time.Time
	CreationTime time.Time
}

func (*ExtendedTimestampField) ID() uint16 { return extTimeExtraID }

func decodeExtendedTimestampField(payload []byte, loc Location) (ExtraField, error) {
	f := &ExtendedTimestampField{fieldHeader: fieldHeader{len(payload), loc}}
	if len(payload) < 1 {
		return nil, errors.Wrap(ErrFormat, "extended timestamp field empty")
	}
	b := readBuf(payload)
	flags := b.uint8()
	for i, t := range []*time.Time{&f.ModTime, &f.AccessTime, &f.CreationTime} {
		if flags&(1<<i) == 0 || len(b) < 4 {
			continue
		}
		*t = time.Unix(int64(int32(b.uint32())), 0).UTC()
	}
	return f, nil
}

// InfoZipUnixField is the older Info-ZIP Unix field. Only the local header
// copy carries the owner and group.
type InfoZipUnixField struct {
	fieldHeader
	AccessTime time.Time
	ModTime    time.Time
	OwnerID    *int
	GroupID    *int
}

func (*InfoZipUnixField) ID() uint16 { return infoZipUnixExtraID }

func decodeInfoZipUnixField(payload []byte, loc Location) (ExtraField, error) {
	f := &InfoZipUnixField{fieldHeader: fieldHeader{len(payload), loc}}
	if len(payload) < 8 {
		return nil, errors.Wrap(ErrFormat, "info-zip unix field too short")
	}
	b := readBuf(payload)
	f.AccessTime = time.Unix(int64(int32(b.uint32())), 0).UTC()
	f.ModTime = time.Unix(int64(int32(b.uint32())), 0).UTC()
	if len(b) >= 4 {
		uid, gid := int(b.uint16()), int(b.uint16())
		f.OwnerID, f.GroupID = &uid, &gid
	}
	return f, nil
}

// InfoZipNewUnixField carries the owner and group with variable width ids.
type InfoZipNewUnixField struct {
	fieldHeader
	OwnerID int
	GroupID int
}

func (*InfoZipNewUnixField) ID() uint16 { return infoZipNewUnixExtraID }

func decodeInfoZipNewUnixField(payload []byte, loc Location) (ExtraField, error) {
	f := &InfoZipNewUnixField{fieldHeader: fieldHeader{len(payload), loc}}
	b := readBuf(payload)
	if len(b) < 1 || b.uint8() != 1 {
		return nil, errors.Wrap(ErrFormat, "info-zip new unix field: unknown version")
	}
	var err error
	if f.OwnerID, err = readVarID(&b); err != nil {
		return nil, err
	}
	if f.GroupID, err = readVarID(&b); err != nil {
		return nil, err
	}
	return f, nil
}

func readVarID(b *readBuf) (int, error) {
	if len(*b) < 1 {
		return 0, errors.Wrap(ErrFormat, "info-zip new unix field truncated")
	}
	n := int(b.uint8())
	if n > 8 || len(*b) < n {
		return 0, errors.Wrapf(ErrFormat, "info-zip new unix field: id of %d bytes", n)
	}
	var buf [8]byte
	copy(buf[:], b.sub(n))
	return int(binary.LittleEndian.Uint64(buf[:])), nil
}
