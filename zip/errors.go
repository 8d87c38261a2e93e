package zip

import (
	"fmt"

	"github.com/abe-nagisa/arcparse/codec"
	"github.com/pkg/errors"
)

var (
	ErrFormat    = errors.New("zip: not a valid zip file")
	ErrAlgorithm = codec.ErrUnsupportedMethod
	ErrChecksum  = errors.New("zip: checksum error")
	ErrEncrypted = errors.New("zip: encrypted entries are not supported")

	// ErrReservedExtraField is returned when registering a decoder for an
	// extra field id the reader handles itself.
	ErrReservedExtraField = errors.New("zip: extra field id is reserved")
)

// ChecksumError reports an entry whose data did not match its recorded
// CRC-32 or size. Entries holds the entries extracted before it.
type ChecksumError struct {
	Entries []Entry
	Name    string
	Err     error
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("zip: entry %d (%s): %v", len(e.Entries), e.Name, e.Err)
}

// Is reports whether target is ErrChecksum.
func (e *ChecksumError) Is(target error) bool {
	return target == ErrChecksum
}

func (e *ChecksumError) Unwrap() error {
	return e.Err
}
