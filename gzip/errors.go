package gzip

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrFormat is returned for input that is not a well-formed gzip stream.
	ErrFormat = errors.New("gzip: invalid format")
	// ErrChecksum is matched by every ChecksumError.
	ErrChecksum = errors.New("gzip: invalid checksum")
)

// ChecksumError reports a member whose payload decoded but did not match its
// trailer. Members holds the members verified before the failing one, in
// stream order, so callers can keep what was recovered. Failed is the member
// that did not verify; its data must not be trusted.
type ChecksumError struct {
	Members []Member
	Failed  Member
	Err     error
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("gzip: member %d: %v", len(e.Members), e.Err)
}

// Is reports whether target is ErrChecksum.
func (e *ChecksumError) Is(target error) bool {
	return target == ErrChecksum
}

func (e *ChecksumError) Unwrap() error {
	return e.Err
}

// MemberError reports a member that could not be parsed or decoded, such as
// a bad header or truncated data. Members holds the members verified before
// it and Offset is where the failing member starts.
type MemberError struct {
	Members []Member
	Offset  int
	Err     error
}

func (e *MemberError) Error() string {
	return fmt.Sprintf("gzip: member %d at offset %d: %v", len(e.Members), e.Offset, e.Err)
}

func (e *MemberError) Unwrap() error {
	return e.Err
}
