// Package blockio provides the byte-source abstraction the codec packages
// parse from. Every read takes an explicit absolute offset and length; no
// codec ever depends on a shared cursor position, so independent readers can
// work on the same source concurrently.
package blockio

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/open-board-tools/board-image-composer/internal/utils/compression"
	"github.com/open-board-tools/board-image-composer/internal/utils/logger"
)

var log = logger.Logger()

// Reader is a random-access byte source of known size.
type Reader interface {
	io.ReaderAt
	Size() int64
}

// ReadExact reads exactly length bytes at the absolute offset. A short source
// yields io.ErrUnexpectedEOF, which codecs translate into their own truncated
// input errors.
func ReadExact(r io.ReaderAt, offset int64, length int64) ([]byte, error) {
	buf := make([]byte, length)
	n, err := r.ReadAt(buf, offset)
	if int64(n) == length {
		return buf, nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return nil, errors.Wrapf(err, "read %d bytes at offset %d", length, offset)
}

// Buffer is an in-memory Reader.
type Buffer struct {
	*bytes.Reader
}

// NewBuffer wraps b as a Reader.
func NewBuffer(b []byte) *Buffer {
	return &Buffer{Reader: bytes.NewReader(b)}
}

// Size returns the buffer length.
func (b *Buffer) Size() int64 { return b.Reader.Size() }

// Source is a file-backed Reader. When the opened image was compressed, the
// decompressed copy lives in a temporary file that Close removes.
type Source struct {
	f        *os.File
	size     int64
	tempPath string
}

// Open opens a raw image file as a Source.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Source{f: f, size: fi.Size()}, nil
}

// OpenImage opens path, transparently decompressing gzip/xz wrapped images
// into a temporary file first.
func OpenImage(path string) (*Source, error) {
	fmt_, err := compression.Detect(path)
	if err != nil {
		return nil, err
	}
	if fmt_ == compression.FormatRaw {
		return Open(path)
	}

	log.Infof("Image %s is %s compressed, decompressing for random access", path, fmt_)
	tmp, err := compression.DecompressToTemp(path, "", fmt_)
	if err != nil {
		return nil, err
	}
	src, err := Open(tmp)
	if err != nil {
		os.Remove(tmp)
		return nil, err
	}
	src.tempPath = tmp
	return src, nil
}

// ReadAt implements io.ReaderAt.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

// Size returns the byte size of the source.
func (s *Source) Size() int64 { return s.size }

// Close releases the file handle and any temporary decompressed copy. It is
// safe to call on all exit paths, including after a failed parse.
func (s *Source) Close() error {
	err := s.f.Close()
	if s.tempPath != "" {
		if rmErr := os.Remove(s.tempPath); rmErr != nil && err == nil {
			err = rmErr
		}
		s.tempPath = ""
	}
	return err
}
