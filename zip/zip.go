// Package zip reads zip archives held in memory: the central directory,
// Zip64 records, data descriptors and extra fields, with entry data decoded
// through a codec.Dispatcher.
package zip

import (
	"github.com/abe-nagisa/arcparse/codec"
	"github.com/pkg/errors"
)

// Reader is an opened archive.
type Reader struct {
	End  DirectoryEnd
	File []*File

	data       []byte
	dispatcher *codec.Dispatcher
}

// Option configures a Reader.
type Option func(*config)

type config struct {
	extraFields *ExtraFieldRegistry
	dispatcher  *codec.Dispatcher
}

// WithExtraFields makes the reader decode the extra fields registered in r
// in addition to the built-in ones.
func WithExtraFields(r *ExtraFieldRegistry) Option {
	return func(c *config) {
		c.extraFields = r
	}
}

// WithDispatcher makes the reader decode entry data with d instead of a
// fresh default dispatcher.
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

// NewReader parses the central directory of data. Entry data is not decoded
// until Extract is called. The Reader keeps a reference to data.
func NewReader(data []byte, opts ...Option) (*Reader, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(ErrFormat, "empty input")
	}
	c := newConfig(opts)
	end, err := readDirectoryEnd(data)
	if err != nil {
		return nil, err
	}
	z := &Reader{
		End: DirectoryEnd{
			Records: end.directoryRecords,
			Size:    end.directorySize,
			Offset:  end.directoryOffset,
			Comment: end.comment,
			Zip64:   end.zip64,
		},
		File:       make([]*File, 0, end.directoryRecords),
		data:       data,
		dispatcher: c.dispatcher,
	}
	limit := end.directoryOffset + end.directorySize
	offset := end.directoryOffset
	for i := uint64(0); i < end.directoryRecords; i++ {
		h, next, err := readDirectoryHeader(data[:limit], offset)
		if err != nil {
			return nil, errors.Wrapf(err, "entry %d", i)
		}
		f, err := newFile(data, h, c.extraFields)
		if err != nil {
			return nil, errors.Wrapf(err, "entry %d", i)
		}
		z.File = append(z.File, f)
		offset = next
	}
	return z, nil
}

// Extract decodes and verifies the data of f, which must belong to z.
func (z *Reader) Extract(f *File) ([]byte, error) {
	return f.extract(z.data, z.dispatcher)
}

// Info lists the entries of data without decoding any entry data.
func Info(data []byte, opts ...Option) ([]EntryInfo, error) {
	z, err := NewReader(data, opts...)
	if err != nil {
		return nil, err
	}
	infos := make([]EntryInfo, len(z.File))
	for i, f := range z.File {
		infos[i] = f.EntryInfo
	}
	return infos, nil
}

// Open lists and extracts every entry of data in central directory order.
// A checksum failure is returned as a *ChecksumError holding the entries
// extracted before it.
func Open(data []byte, opts ...Option) ([]Entry, error) {
	z, err := NewReader(data, opts...)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(z.File))
	for _, f := range z.File {
		b, err := z.Extract(f)
		if errors.Is(err, ErrChecksum) {
			return nil, &ChecksumError{Entries: entries, Name: f.Name, Err: err}
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Info: f.EntryInfo, Data: b})
	}
	return entries, nil
}
