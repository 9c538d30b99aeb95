// Package compression detects and unwraps compressed disk images. Only
// stream formats that can prefix a raw image are handled here; converting
// qcow2/vhd style container formats is out of scope.
package compression

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

// Format identifies a compression wrapper around a raw image.
type Format string

// Supported formats.
const (
	FormatRaw  Format = "raw"
	FormatGzip Format = "gzip"
	FormatXz   Format = "xz"
)

var (
	gzipMagic = []byte{0x1F, 0x8B}
	xzMagic   = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}
)

// Detect sniffs the leading bytes of the file at path.
func Detect(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatRaw, err
	}
	defer f.Close()

	magic := make([]byte, 6)
	n, err := io.ReadFull(f, magic)
	if err != nil && err != io.ErrUnexpectedEOF {
		return FormatRaw, fmt.Errorf("sniff %s: %w", path, err)
	}
	magic = magic[:n]

	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		return FormatGzip, nil
	case bytes.HasPrefix(magic, xzMagic):
		return FormatXz, nil
	default:
		return FormatRaw, nil
	}
}

// NewReader wraps r with the decompressor for the given format. FormatRaw
// returns r unchanged.
func NewReader(r io.Reader, format Format) (io.Reader, error) {
	switch format {
	case FormatRaw:
		return r, nil
	case FormatGzip:
		return gzip.NewReader(r)
	case FormatXz:
		return xz.NewReader(r)
	default:
		return nil, fmt.Errorf("unsupported compression format %q", format)
	}
}

// DecompressToTemp streams the decompressed content of path into a temporary
// file in dir and returns its name. The caller removes the file when done.
func DecompressToTemp(path string, dir string, format Format) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()

	r, err := NewReader(in, format)
	if err != nil {
		return "", fmt.Errorf("open %s stream: %w", format, err)
	}

	tmp, err := os.CreateTemp(dir, "image-*.raw")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("decompress %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}
