package zip

import (
	"bytes"
	"encoding/binary"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/abe-nagisa/arcparse/codec"
	"github.com/pkg/errors"
)

type le struct{ bytes.Buffer }

func (b *le) u16(v uint16) { b.Write(binary.LittleEndian.AppendUint16(nil, v)) }
func (b *le) u32(v uint32) { b.Write(binary.LittleEndian.AppendUint32(nil, v)) }
func (b *le) u64(v uint64) { b.Write(binary.LittleEndian.AppendUint64(nil, v)) }

func extraField(id uint16, payload []byte) []byte {
	var b le
	b.u16(id)
	b.u16(uint16(len(payload)))
	b.Write(payload)
	return b.Bytes()
}

const (
	noDescriptor = iota
	descriptorNoSig
	descriptorSig
)

type testEntry struct {
	name       string
	method     uint16
	data       []byte
	raw        []byte // written as the compressed data instead of encoding data
	flags      uint16
	creator    uint8
	external   uint32
	internal   uint16
	cdExtra    []byte
	localExtra []byte
	descriptor int
	zip64      bool
	dosTime    uint16
	dosDate    uint16
	badCRC     bool
}

type archiveOptions struct {
	comment  string
	zip64End bool
}

func buildZip(t *testing.T, entries []testEntry, o archiveOptions) []byte {
	t.Helper()
	d := codec.NewDispatcher()
	var out, cd le
	for _, e := range entries {
		body := e.raw
		if body == nil {
			var err error
			if body, err = d.Encode(e.method, e.data); err != nil {
				t.Fatalf("encode %s: %v", e.name, err)
			}
		}
		crc := codec.Checksum(e.data)
		if e.badCRC {
			crc ^= 0xffffffff
		}
		flags := e.flags
		if e.descriptor != noDescriptor {
			flags |= flagDataDescriptor
		}
		offset := uint64(out.Len())
		usize, csize := uint64(len(e.data)), uint64(len(body))

		localExtra, cdExtra := e.localExtra, e.cdExtra
		lcrc, lcsize, lusize := crc, uint32(csize), uint32(usize)
		ccsize, cusize, coffset := uint32(csize), uint32(usize), uint32(offset)
		if e.zip64 {
			var l, c le
			if e.descriptor == noDescriptor {
				l.u64(usize)
				l.u64(csize)
			} else {
				l.u64(0)
				l.u64(0)
			}
			c.u64(usize)
			c.u64(csize)
			c.u64(offset)
			localExtra = append(extraField(zip64ExtraID, l.Bytes()), localExtra...)
			cdExtra = append(extraField(zip64ExtraID, c.Bytes()), cdExtra...)
			lcsize, lusize = uint32max, uint32max
			ccsize, cusize, coffset = uint32max, uint32max, uint32max
		}
		if e.descriptor != noDescriptor {
			lcrc = 0
			if !e.zip64 {
				lcsize, lusize = 0, 0
			}
		}

		out.u32(fileHeaderSignature)
		out.u16(20)
		out.u16(flags)
		out.u16(e.method)
		out.u16(e.dosTime)
		out.u16(e.dosDate)
		out.u32(lcrc)
		out.u32(lcsize)
		out.u32(lusize)
		out.u16(uint16(len(e.name)))
		out.u16(uint16(len(localExtra)))
		out.WriteString(e.name)
		out.Write(localExtra)
		out.Write(body)
		if e.descriptor != noDescriptor {
			if e.descriptor == descriptorSig {
				out.u32(dataDescriptorSignature)
			}
			out.u32(crc)
			if e.zip64 {
				out.u64(csize)
				out.u64(usize)
			} else {
				out.u32(uint32(csize))
				out.u32(uint32(usize))
			}
		}

		cd.u32(directoryHeaderSignature)
		cd.u16(uint16(e.creator)<<8 | 20)
		cd.u16(20)
		cd.u16(flags)
		cd.u16(e.method)
		cd.u16(e.dosTime)
		cd.u16(e.dosDate)
		cd.u32(crc)
		cd.u32(ccsize)
		cd.u32(cusize)
		cd.u16(uint16(len(e.name)))
		cd.u16(uint16(len(cdExtra)))
		cd.u16(0) // comment length
		cd.u16(0) // disk number start
		cd.u16(e.internal)
		cd.u32(e.external)
		cd.u32(coffset)
		cd.WriteString(e.name)
		cd.Write(cdExtra)
	}

	cdOffset, cdSize, n := uint64(out.Len()), uint64(cd.Len()), uint64(len(entries))
	out.Write(cd.Bytes())
	if o.zip64End {
		end64 := uint64(out.Len())
		out.u32(directory64EndSignature)
		out.u64(directory64EndLen - 12)
		out.u16(45)
		out.u16(45)
		out.u32(0)
		out.u32(0)
		out.u64(n)
		out.u64(n)
		out.u64(cdSize)
		out.u64(cdOffset)

		out.u32(directory64LocSignature)
		out.u32(0)
		out.u64(end64)
		out.u32(1)
	}
	out.u32(directoryEndSignature)
	out.u16(0)
	out.u16(0)
	if o.zip64End {
		out.u16(uint16max)
		out.u16(uint16max)
		out.u32(uint32max)
		out.u32(uint32max)
	} else {
		out.u16(uint16(n))
		out.u16(uint16(n))
		out.u32(uint32(cdSize))
		out.u32(uint32(cdOffset))
	}
	out.u16(uint16(len(o.comment)))
	out.WriteString(o.comment)
	return out.Bytes()
}

func text(n int) []byte {
	return []byte(strings.Repeat("central directory entry data ", n/29+1)[:n])
}

func TestOpen(t *testing.T) {
	data := buildZip(t, []testEntry{
		{name: "a.txt", method: codec.MethodStore, data: []byte("hello, world")},
		{name: "b.txt", method: codec.MethodDeflate, data: text(4000)},
		{name: "dir/", method: codec.MethodStore, data: nil},
		{name: "dir/empty", method: codec.MethodStore, data: nil},
	}, archiveOptions{comment: "archive comment"})

	entries, err := Open(data)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(entries))
	}

	if got := string(entries[0].Data); got != "hello, world" {
		t.Errorf("a.txt = %q", got)
	}
	if !bytes.Equal(entries[1].Data, text(4000)) {
		t.Errorf("b.txt: got %d bytes, want the 4000 byte text", len(entries[1].Data))
	}
	if m := entries[1].Info.Method; m != Deflate {
		t.Errorf("b.txt method = %v, want deflate", m)
	}
	if e := entries[1].Info; e.Size != 4000 || e.CompressedSize >= e.Size {
		t.Errorf("b.txt sizes = %d/%d", e.CompressedSize, e.Size)
	}

	dir := entries[2]
	if dir.Info.Type != TypeDirectory || dir.Data != nil {
		t.Errorf("dir/: type %v data %v, want directory with nil data", dir.Info.Type, dir.Data)
	}
	empty := entries[3]
	if empty.Info.Type != TypeRegular || empty.Data == nil || len(empty.Data) != 0 {
		t.Errorf("dir/empty: type %v data %#v, want regular file with empty data", empty.Info.Type, empty.Data)
	}

	z, err := NewReader(data)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if z.End.Comment != "archive comment" || z.End.Records != 4 || z.End.Zip64 {
		t.Errorf("End = %+v", z.End)
	}
	b, err := z.Extract(z.File[0])
	if err != nil || string(b) != "hello, world" {
		t.Errorf("Extract = %q, %v", b, err)
	}
}

func TestMethods(t *testing.T) {
	payload := text(20000)
	tests := []struct {
		name   string
		method uint16
		flags  uint16
	}{
		{"store", codec.MethodStore, 0},
		{"deflate", codec.MethodDeflate, 0},
		{"bzip2", codec.MethodBZip2, 0},
		{"lzma", codec.MethodLZMA, 0},
		{"lzma end marker", codec.MethodLZMA, flagLZMAEndMarker},
		{"zstd", codec.MethodZstd, 0},
		{"xz", codec.MethodXZ, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := buildZip(t, []testEntry{
				{name: "payload", method: tt.method, flags: tt.flags, data: payload},
			}, archiveOptions{})
			entries, err := Open(data)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if !bytes.Equal(entries[0].Data, payload) {
				t.Fatalf("got %d bytes, want %d identical bytes", len(entries[0].Data), len(payload))
			}
			if got := entries[0].Info.Method; got != Method(tt.method) {
				t.Errorf("Method = %v, want %v", got, Method(tt.method))
			}
		})
	}
}

func TestZip64(t *testing.T) {
	for _, zip64End := range []bool{false, true} {
		data := buildZip(t, []testEntry{
			{name: "big", method: codec.MethodDeflate, data: text(5000), zip64: true},
			{name: "small", method: codec.MethodStore, data: []byte("x"), zip64: true},
		}, archiveOptions{zip64End: zip64End})

		z, err := NewReader(data)
		if err != nil {
			t.Fatalf("zip64End=%v: NewReader: %v", zip64End, err)
		}
		if z.End.Zip64 != zip64End || z.End.Records != 2 {
			t.Errorf("zip64End=%v: End = %+v", zip64End, z.End)
		}
		for i, want := range [][]byte{text(5000), []byte("x")} {
			f := z.File[i]
			if f.Size != uint64(len(want)) {
				t.Errorf("%s: Size = %d, want %d", f.Name, f.Size, len(want))
			}
			if n := len(f.ExtraFieldsByID(zip64ExtraID)); n != 2 {
				t.Errorf("%s: %d zip64 fields, want 2", f.Name, n)
			}
			b, err := z.Extract(f)
			if err != nil {
				t.Fatalf("%s: Extract: %v", f.Name, err)
			}
			if !bytes.Equal(b, want) {
				t.Errorf("%s: data mismatch", f.Name)
			}
		}
	}
}

func TestEscapedWithoutZip64(t *testing.T) {
	data := buildZip(t, []testEntry{
		{name: "a", method: codec.MethodStore, data: []byte("abc"), zip64: true},
	}, archiveOptions{})
	// Rename the central directory zip64 field so the escaped values have
	// nothing to resolve from.
	cd := bytes.LastIndex(data, []byte{0x50, 0x4b, 0x01, 0x02})
	extra := cd + directoryHeaderLen + 1
	binary.LittleEndian.PutUint16(data[extra:], 0xcafe)
	if _, err := Info(data); !errors.Is(err, ErrFormat) {
		t.Fatalf("Info = %v, want ErrFormat", err)
	}
}

func TestDataDescriptor(t *testing.T) {
	tests := []struct {
		name       string
		descriptor int
		zip64      bool
	}{
		{"no signature", descriptorNoSig, false},
		{"signature", descriptorSig, false},
		{"zip64 no signature", descriptorNoSig, true},
		{"zip64 signature", descriptorSig, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := buildZip(t, []testEntry{
				{name: "first", method: codec.MethodDeflate, data: text(3000), descriptor: tt.descriptor, zip64: tt.zip64},
				{name: "second", method: codec.MethodStore, data: []byte("after the descriptor"), descriptor: tt.descriptor, zip64: tt.zip64},
			}, archiveOptions{})
			entries, err := Open(data)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if !bytes.Equal(entries[0].Data, text(3000)) || string(entries[1].Data) != "after the descriptor" {
				t.Fatalf("data mismatch")
			}
			for _, e := range entries {
				if e.Info.Flags&flagDataDescriptor == 0 {
					t.Errorf("%s: descriptor flag not set", e.Info.Name)
				}
				if e.Info.CRC32 != codec.Checksum(e.Data) {
					t.Errorf("%s: CRC32 = %08x", e.Info.Name, e.Info.CRC32)
				}
			}
		})
	}
}

func TestDataDescriptorMismatch(t *testing.T) {
	body := []byte("stored body")
	data := buildZip(t, []testEntry{
		{name: "a", method: codec.MethodStore, data: body, descriptor: descriptorNoSig},
	}, archiveOptions{})
	binary.LittleEndian.PutUint32(data[fileHeaderLen+1+len(body):], 0x12345678)
	if _, err := Info(data); !errors.Is(err, ErrFormat) {
		t.Fatalf("Info = %v, want ErrFormat", err)
	}
}

type tagField struct {
	size    int
	loc     Location
	payload []byte
}

func (*tagField) ID() uint16           { return 0x0646 }
func (f *tagField) Size() int          { return f.size }
func (f *tagField) Location() Location { return f.loc }

func decodeTagField(payload []byte, loc Location) (ExtraField, error) {
	return &tagField{size: len(payload), loc: loc, payload: payload}, nil
}

func TestCustomExtraField(t *testing.T) {
	data := buildZip(t, []testEntry{{
		name:       "tagged",
		method:     codec.MethodStore,
		data:       []byte("payload"),
		cdExtra:    extraField(0x0646, bytes.Repeat([]byte{'c'}, 13)),
		localExtra: extraField(0x0646, bytes.Repeat([]byte{'l'}, 20)),
	}}, archiveOptions{})

	reg := NewExtraFieldRegistry()
	infos, err := Info(data, WithExtraFields(reg))
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if n := len(infos[0].CustomExtraFields()); n != 0 {
		t.Fatalf("%d custom fields before registering, want 0", n)
	}

	if err := reg.Register(0x0646, decodeTagField); err != nil {
		t.Fatalf("Register: %v", err)
	}
	infos, err = Info(data, WithExtraFields(reg))
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	custom := infos[0].CustomExtraFields()
	if len(custom) != 2 {
		t.Fatalf("%d custom fields, want 2", len(custom))
	}
	want := []struct {
		loc  Location
		size int
		fill byte
	}{{CentralDirectory, 13, 'c'}, {LocalHeader, 20, 'l'}}
	for i, w := range want {
		f, ok := custom[i].(*tagField)
		if !ok {
			t.Fatalf("field %d is %T, want *tagField", i, custom[i])
		}
		if f.Location() != w.loc || f.Size() != w.size || !bytes.Equal(f.payload, bytes.Repeat([]byte{w.fill}, w.size)) {
			t.Errorf("field %d = %v/%d/%q, want %v/%d", i, f.Location(), f.Size(), f.payload, w.loc, w.size)
		}
	}
	if n := len(infos[0].ExtraFieldsByID(0x0646)); n != 2 {
		t.Errorf("ExtraFieldsByID = %d fields, want 2", n)
	}

	reg.Unregister(0x0646)
	infos, err = Info(data, WithExtraFields(reg))
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if n := len(infos[0].ExtraFieldsByID(0x0646)); n != 0 {
		t.Errorf("%d fields after Unregister, want 0", n)
	}
}

func TestRegisterReserved(t *testing.T) {
	reg := NewExtraFieldRegistry()
	for _, id := range []uint16{zip64ExtraID, ntfsExtraID, extTimeExtraID, infoZipUnixExtraID, infoZipNewUnixExtraID} {
		if err := reg.Register(id, decodeTagField); !errors.Is(err, ErrReservedExtraField) {
			t.Errorf("Register(%#04x) = %v, want ErrReservedExtraField", id, err)
		}
	}
	if err := reg.Register(0x0646, nil); err == nil {
		t.Error("Register with nil decoder succeeded")
	}
	var nilReg *ExtraFieldRegistry
	if _, ok := nilReg.Lookup(ntfsExtraID); !ok {
		t.Error("nil registry does not know built-in fields")
	}
	if _, ok := nilReg.Lookup(0x0646); ok {
		t.Error("nil registry knows an unregistered id")
	}
	if err := nilReg.Register(0x0646, decodeTagField); err == nil {
		t.Error("Register on a nil registry succeeded")
	}
	nilReg.Unregister(0x0646)
}

func TestRegistryConcurrentUse(t *testing.T) {
	data := buildZip(t, []testEntry{{
		name:    "tagged",
		method:  codec.MethodStore,
		data:    []byte("x"),
		cdExtra: extraField(0x0646, []byte("abc")),
	}}, archiveOptions{})
	reg := NewExtraFieldRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := Info(data, WithExtraFields(reg)); err != nil {
					t.Errorf("Info: %v", err)
					return
				}
			}
		}()
	}
	for j := 0; j < 50; j++ {
		if err := reg.Register(0x0646, decodeTagField); err != nil {
			t.Fatalf("Register: %v", err)
		}
		reg.Unregister(0x0646)
	}
	wg.Wait()
}

func TestUnsupportedMethod(t *testing.T) {
	data := buildZip(t, []testEntry{
		{name: "ppmd", method: 98, raw: []byte{1, 2, 3, 4}, data: []byte("unknown")},
	}, archiveOptions{})
	infos, err := Info(data)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if infos[0].Method != 98 || infos[0].Method.String() != "unknown" {
		t.Errorf("Method = %d (%v)", infos[0].Method, infos[0].Method)
	}
	if _, err := Open(data); !errors.Is(err, ErrAlgorithm) {
		t.Fatalf("Open = %v, want ErrAlgorithm", err)
	}
}

func TestEncrypted(t *testing.T) {
	data := buildZip(t, []testEntry{
		{name: "secret", method: codec.MethodStore, data: []byte("ciphertext"), flags: flagEncrypted},
	}, archiveOptions{})
	if _, err := Info(data); err != nil {
		t.Fatalf("Info: %v", err)
	}
	if _, err := Open(data); !errors.Is(err, ErrEncrypted) {
		t.Fatalf("Open = %v, want ErrEncrypted", err)
	}
}

func TestChecksumMismatch(t *testing.T) {
	data := buildZip(t, []testEntry{
		{name: "good", method: codec.MethodDeflate, data: text(1000)},
		{name: "bad", method: codec.MethodDeflate, data: text(2000), badCRC: true},
		{name: "never", method: codec.MethodStore, data: []byte("x")},
	}, archiveOptions{})
	_, err := Open(data)
	if !errors.Is(err, ErrChecksum) {
		t.Fatalf("Open = %v, want ErrChecksum", err)
	}
	var ce *ChecksumError
	if !errors.As(err, &ce) {
		t.Fatalf("Open error %T is not a *ChecksumError", err)
	}
	if ce.Name != "bad" || len(ce.Entries) != 1 || ce.Entries[0].Info.Name != "good" {
		t.Errorf("ChecksumError = %q with %d entries", ce.Name, len(ce.Entries))
	}
	if !bytes.Equal(ce.Entries[0].Data, text(1000)) {
		t.Error("recovered entry data mismatch")
	}
}

func TestEmpty(t *testing.T) {
	for _, in := range [][]byte{nil, {}} {
		if _, err := Open(in); !errors.Is(err, ErrFormat) {
			t.Errorf("Open(%v) = %v, want ErrFormat", in, err)
		}
		if _, err := Info(in); !errors.Is(err, ErrFormat) {
			t.Errorf("Info(%v) = %v, want ErrFormat", in, err)
		}
	}

	entries, err := Open(buildZip(t, nil, archiveOptions{}))
	if err != nil {
		t.Fatalf("Open empty archive: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("empty archive has %d entries", len(entries))
	}
}

func TestMalformed(t *testing.T) {
	valid := func() []byte {
		return buildZip(t, []testEntry{
			{name: "a.txt", method: codec.MethodStore, data: []byte("content")},
		}, archiveOptions{})
	}
	eocd := func(b []byte) int { return len(b) - directoryEndLen }

	tests := []struct {
		name  string
		input func() []byte
	}{
		{"no end record", func() []byte { return []byte(strings.Repeat("not a zip archive ", 10)) }},
		{"comment overruns", func() []byte {
			b := valid()
			binary.LittleEndian.PutUint16(b[eocd(b)+20:], 10)
			return b
		}},
		{"directory outside archive", func() []byte {
			b := valid()
			binary.LittleEndian.PutUint32(b[eocd(b)+16:], 1<<20)
			return b
		}},
		{"impossible record count", func() []byte {
			b := valid()
			binary.LittleEndian.PutUint16(b[eocd(b)+8:], 0xfff0)
			binary.LittleEndian.PutUint16(b[eocd(b)+10:], 0xfff0)
			return b
		}},
		{"multi-disk", func() []byte {
			b := valid()
			binary.LittleEndian.PutUint16(b[eocd(b)+4:], 1)
			return b
		}},
		{"bad local signature", func() []byte {
			b := valid()
			copy(b, []byte{0, 0, 0, 0})
			return b
		}},
		{"bad directory signature", func() []byte {
			b := valid()
			cd := binary.LittleEndian.Uint32(b[eocd(b)+16:])
			b[cd] = 0
			return b
		}},
		{"escaped size without zip64", func() []byte {
			b := valid()
			cd := binary.LittleEndian.Uint32(b[eocd(b)+16:])
			binary.LittleEndian.PutUint32(b[cd+20:], uint32max)
			return b
		}},
		{"data outside archive", func() []byte {
			b := valid()
			cd := binary.LittleEndian.Uint32(b[eocd(b)+16:])
			binary.LittleEndian.PutUint32(b[cd+20:], 1<<20)
			return b
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(tt.input()); !errors.Is(err, ErrFormat) {
				t.Fatalf("Open = %v, want ErrFormat", err)
			}
		})
	}
}

func TestCP437Name(t *testing.T) {
	data := buildZip(t, []testEntry{
		{name: "caf\x82.txt", method: codec.MethodStore, data: []byte("x")},
		{name: "plain.txt", method: codec.MethodStore, data: []byte("y")},
		{name: "café.txt", method: codec.MethodStore, data: []byte("z"), flags: flagUTF8},
	}, archiveOptions{})
	infos, err := Info(data)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	want := []struct {
		name    string
		nonUTF8 bool
	}{
		{"café.txt", true},
		{"plain.txt", false},
		{"café.txt", false},
	}
	for i, w := range want {
		if infos[i].Name != w.name || infos[i].NonUTF8 != w.nonUTF8 {
			t.Errorf("entry %d = %q (NonUTF8 %v), want %q (%v)", i, infos[i].Name, infos[i].NonUTF8, w.name, w.nonUTF8)
		}
	}
}

func TestUnixAttributes(t *testing.T) {
	var owner le
	owner.WriteByte(1)
	owner.WriteByte(4)
	owner.u32(1000)
	owner.WriteByte(4)
	owner.u32(100)

	var oldUnix le
	oldUnix.u32(0)
	oldUnix.u32(0)
	oldUnix.u16(501)
	oldUnix.u16(20)

	data := buildZip(t, []testEntry{
		{name: "script.sh", method: codec.MethodStore, data: []byte("#!/bin/sh\n"), creator: creatorUnix,
			external: 0o100755 << 16, localExtra: extraField(infoZipNewUnixExtraID, owner.Bytes())},
		{name: "link", method: codec.MethodStore, data: []byte("script.sh"), creator: creatorUnix,
			external: 0o120777 << 16, localExtra: extraField(infoZipUnixExtraID, oldUnix.Bytes())},
		{name: "bin", method: codec.MethodStore, creator: creatorUnix, external: 0o040755 << 16},
	}, archiveOptions{})
	entries, err := Open(data)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	script := entries[0].Info
	if script.FileSystem != FileSystemUnix || script.Type != TypeRegular || script.Permissions != 0o755 {
		t.Errorf("script.sh: %v %v %v", script.FileSystem, script.Type, script.Permissions)
	}
	if script.OwnerID == nil || *script.OwnerID != 1000 || *script.GroupID != 100 {
		t.Errorf("script.sh owner = %v/%v, want 1000/100", script.OwnerID, script.GroupID)
	}
	if script.DOSAttributes != nil {
		t.Error("unix entry has DOS attributes")
	}

	link := entries[1]
	if link.Info.Type != TypeSymlink || string(link.Data) != "script.sh" {
		t.Errorf("link: type %v target %q", link.Info.Type, link.Data)
	}
	if link.Info.OwnerID == nil || *link.Info.OwnerID != 501 || *link.Info.GroupID != 20 {
		t.Errorf("link owner = %v/%v, want 501/20", link.Info.OwnerID, link.Info.GroupID)
	}

	if dir := entries[2]; dir.Info.Type != TypeDirectory || dir.Data != nil {
		t.Errorf("bin: type %v data %v", dir.Info.Type, dir.Data)
	}
}

func TestDOSAttributes(t *testing.T) {
	data := buildZip(t, []testEntry{
		{name: "README.TXT", method: codec.MethodStore, data: []byte("x"), creator: creatorFAT,
			external: uint32(DOSReadOnly | DOSArchive), internal: 1},
		{name: "DOCS", method: codec.MethodStore, creator: creatorNTFS, external: uint32(DOSDirectory)},
	}, archiveOptions{})
	infos, err := Info(data)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}

	readme := infos[0]
	if readme.FileSystem != FileSystemFAT || readme.DOSAttributes == nil {
		t.Fatalf("README.TXT: %v attributes %v", readme.FileSystem, readme.DOSAttributes)
	}
	if a := *readme.DOSAttributes; !a.Has(DOSReadOnly) || !a.Has(DOSArchive) || a.Has(DOSHidden) {
		t.Errorf("README.TXT attributes = %#x", a)
	}
	if !readme.IsText {
		t.Error("README.TXT is not marked as text")
	}

	docs := infos[1]
	if docs.FileSystem != FileSystemNTFS || docs.Type != TypeDirectory || docs.IsText {
		t.Errorf("DOCS: %v %v text=%v", docs.FileSystem, docs.Type, docs.IsText)
	}
}

func TestModTime(t *testing.T) {
	dos := time.Date(2020, 5, 17, 10, 30, 44, 0, time.UTC)
	dosDate := uint16(40<<9 | 5<<5 | 17)
	dosTime := uint16(10<<11 | 30<<5 | 22)

	ntfsMod := time.Date(2021, 1, 2, 3, 4, 5, 600, time.UTC)
	ntfsAccess := time.Date(2021, 2, 3, 4, 5, 6, 0, time.UTC)
	ticks := func(t time.Time) uint64 {
		return uint64(t.Unix()+11644473600)*1e7 + uint64(t.Nanosecond()/100)
	}
	var ntfs le
	ntfs.u32(0)
	ntfs.u16(1)
	ntfs.u16(24)
	ntfs.u64(ticks(ntfsMod))
	ntfs.u64(ticks(ntfsAccess))
	ntfs.u64(ticks(ntfsMod))

	extMod := time.Date(2022, 6, 7, 8, 9, 10, 0, time.UTC)
	var ext le
	ext.WriteByte(1)
	ext.u32(uint32(extMod.Unix()))

	tests := []struct {
		name       string
		extra      []byte
		wantMod    time.Time
		wantAccess time.Time
	}{
		{"dos", nil, dos, time.Time{}},
		{"ntfs", extraField(ntfsExtraID, ntfs.Bytes()), ntfsMod, ntfsAccess},
		{"extended timestamp", append(extraField(ntfsExtraID, ntfs.Bytes()), extraField(extTimeExtraID, ext.Bytes())...), extMod, ntfsAccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := buildZip(t, []testEntry{
				{name: "f", method: codec.MethodStore, data: []byte("x"), dosDate: dosDate, dosTime: dosTime, cdExtra: tt.extra},
			}, archiveOptions{})
			infos, err := Info(data)
			if err != nil {
				t.Fatalf("Info: %v", err)
			}
			if !infos[0].ModTime.Equal(tt.wantMod) {
				t.Errorf("ModTime = %v, want %v", infos[0].ModTime, tt.wantMod)
			}
			if !infos[0].AccessTime.Equal(tt.wantAccess) {
				t.Errorf("AccessTime = %v, want %v", infos[0].AccessTime, tt.wantAccess)
			}
		})
	}

	data := buildZip(t, []testEntry{{name: "f", method: codec.MethodStore, data: []byte("x")}}, archiveOptions{})
	infos, err := Info(data)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if !infos[0].ModTime.IsZero() {
		t.Errorf("ModTime = %v for zero DOS date and time, want zero", infos[0].ModTime)
	}
}

func TestWithDispatcherLimit(t *testing.T) {
	data := buildZip(t, []testEntry{
		{name: "big", method: codec.MethodDeflate, data: text(5000)},
	}, archiveOptions{})
	d := codec.NewDispatcher()
	d.Wrap(func(c codec.Codec) codec.Codec { return codec.Limit(c, 1000) })
	if _, err := Open(data, WithDispatcher(d)); !errors.Is(err, codec.ErrTooLarge) {
		t.Fatalf("Open = %v, want ErrTooLarge", err)
	}
}
