package codec

import (
	"io"

	"github.com/pkg/errors"
)

var (
	// ErrTruncated is returned when a codec runs out of input before the end
	// of its stream.
	ErrTruncated = errors.New("codec: truncated input")
	// ErrCorrupt is returned when a codec finds malformed data.
	ErrCorrupt = errors.New("codec: corrupt input")
	// ErrUnsupportedMethod is returned when no codec is registered for a
	// compression method.
	ErrUnsupportedMethod = errors.New("codec: unsupported compression method")
	// ErrTooLarge is returned by a Limit codec when decoded output would
	// exceed its bound.
	ErrTooLarge = errors.New("codec: decoded output exceeds limit")
	// ErrChecksum is returned when a CRC-32 does not match the stored value.
	ErrChecksum = errors.New("codec: checksum mismatch")
)

// classify maps an error from a third-party decoder onto the package's
// error kinds, keeping the original message.
func classify(name string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrTruncated), errors.Is(err, ErrCorrupt), errors.Is(err, ErrTooLarge):
		return err
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return errors.Wrapf(ErrTruncated, "%s: %v", name, err)
	default:
		return errors.Wrapf(ErrCorrupt, "%s: %v", name, err)
	}
}
