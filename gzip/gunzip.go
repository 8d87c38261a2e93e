// Package gzip reads and writes gzip (RFC 1952) streams held in memory,
// including streams made of several concatenated members.
package gzip

import (
	"encoding/binary"

	"github.com/abe-nagisa/arcparse/codec"
	"github.com/pkg/errors"
)

// Member is one header, payload and trailer unit of a gzip stream.
type Member struct {
	Header Header
	Data   []byte
	// CRC32 and Size are the values stored in the trailer.
	CRC32 uint32
	Size  uint32
}

// verify checks the member against its trailer using crc, which is reset
// first.
func (m *Member) verify(crc *codec.CRC32) error {
	crc.Reset()
	crc.Write(m.Data)
	if err := crc.Verify(m.CRC32); err != nil {
		return err
	}
	if got := uint32(crc.Len()); got != m.Size {
		return errors.Errorf("size mod 2^32 is %d, trailer says %d", got, m.Size)
	}
	return nil
}

// Option configures decoding and encoding.
type Option func(*config)

type config struct {
	dispatcher *codec.Dispatcher
}

// WithDispatcher makes the stream use d for deflate instead of a fresh
// default dispatcher. It is how callers install limits such as codec.Limit.
func WithDispatcher(d *codec.Dispatcher) Option {
	return func(c *config) {
		c.dispatcher = d
	}
}

func newConfig(opts []Option) *config {
	c := &config{}
	for _, opt := range opts {
		opt(c)
	}
	if c.dispatcher == nil {
		c.dispatcher = codec.NewDispatcher()
	}
	return c
}

// Unarchive decodes the first member of data and returns its payload. Bytes
// after that member are ignored.
func Unarchive(data []byte, opts ...Option) ([]byte, error) {
	m, err := UnarchiveMember(data, opts...)
	if err != nil {
		return nil, err
	}
	return m.Data, nil
}

// UnarchiveMember decodes and verifies the first member of data.
func UnarchiveMember(data []byte, opts ...Option) (*Member, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(ErrFormat, "empty input")
	}
	c := newConfig(opts)
	m, _, err := readMember(data, c.dispatcher)
	if err != nil {
		return nil, err
	}
	if err := m.verify(codec.NewCRC32()); err != nil {
		return nil, &ChecksumError{Failed: m, Err: err}
	}
	return &m, nil
}

// MultiUnarchive decodes every member of data in stream order. Decoding
// stops at the first member that fails. A checksum failure is returned as a
// *ChecksumError and any other failure as a *MemberError; both carry the
// members verified before it.
func MultiUnarchive(data []byte, opts ...Option) ([]Member, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(ErrFormat, "empty input")
	}
	c := newConfig(opts)
	crc := codec.NewCRC32()

	var members []Member
	for pos := 0; pos < len(data); {
		m, n, err := readMember(data[pos:], c.dispatcher)
		if err != nil {
			return nil, &MemberError{Members: members, Offset: pos, Err: err}
		}
		if err := m.verify(crc); err != nil {
			return nil, &ChecksumError{Members: members, Failed: m, Err: err}
		}
		members = append(members, m)
		pos += n
	}
	return members, nil
}

// readMember parses the member at the start of data without verifying it
// and returns the number of bytes it occupies.
func readMember(data []byte, d *codec.Dispatcher) (Member, int, error) {
	h, pos, err := readHeader(data)
	if err != nil {
		return Member{}, 0, err
	}
	payload, n, err := d.Decode(uint16(h.Method), data[pos:], -1)
	if err != nil {
		return Member{}, 0, err
	}
	pos += n
	if rest := len(data) - pos; rest < trailerLen {
		return Member{}, 0, errors.Wrapf(codec.ErrTruncated, "gzip: trailer has %d of %d bytes", rest, trailerLen)
	}
	m := Member{
		Header: h,
		Data:   payload,
		CRC32:  binary.LittleEndian.Uint32(data[pos:]),
		Size:   binary.LittleEndian.Uint32(data[pos+4:]),
	}
	return m, pos + trailerLen, nil
}
