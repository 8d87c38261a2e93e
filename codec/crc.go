package codec

import (
	"hash"
	"hash/crc32"

	"github.com/pkg/errors"
)

// CRC32 is an incremental IEEE CRC-32 (reflected polynomial 0xEDB88320)
// shared by the gzip and zip readers.
type CRC32 struct {
	h hash.Hash32
	n uint64
}

// NewCRC32 returns a CRC32 with nothing written.
func NewCRC32() *CRC32 {
	return &CRC32{h: crc32.NewIEEE()}
}

// Write adds p to the running checksum. It never fails.
func (c *CRC32) Write(p []byte) (int, error) {
	c.n += uint64(len(p))
	return c.h.Write(p)
}

// Sum32 returns the checksum of everything written so far.
func (c *CRC32) Sum32() uint32 {
	return c.h.Sum32()
}

// Len returns the number of bytes written so far.
func (c *CRC32) Len() uint64 {
	return c.n
}

// Reset clears the running checksum.
func (c *CRC32) Reset() {
	c.h.Reset()
	c.n = 0
}

// Verify reports ErrChecksum when the running checksum differs from want.
func (c *CRC32) Verify(want uint32) error {
	if got := c.Sum32(); got != want {
		return errors.Wrapf(ErrChecksum, "crc32 is %08x, want %08x", got, want)
	}
	return nil
}

// Checksum returns the CRC-32 of b.
func Checksum(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}
