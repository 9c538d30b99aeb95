// Package segments holds the codecs for the standalone regions a board image
// is assembled from: raw blobs, U-Boot environment blocks and U-Boot legacy
// image wrappers. Each segment type registers a builder keyed by the type
// name used in image descriptions.
package segments

import (
	"fmt"
	"io"
	"sort"

	"github.com/pkg/errors"
)

// Spec describes one segment of an image description.
type Spec struct {
	// Name identifies the segment in logs and summaries.
	Name string `yaml:"name"`
	// Type selects the registered builder.
	Type string `yaml:"type"`
	// Offset is the absolute byte position in the assembled image.
	Offset int64 `yaml:"offset"`
	// Size fixes the exported length; zero means the natural payload length.
	Size int64 `yaml:"size"`
	// Source is the payload file path, resolved by the caller.
	Source string `yaml:"source,omitempty"`
	// Params carries type-specific settings.
	Params map[string]string `yaml:"params,omitempty"`
}

// Segment is one exportable region of the output image.
type Segment interface {
	Name() string
	Offset() int64
	// Size returns the exported byte length.
	Size() int64
	// WriteTo streams the segment content.
	WriteTo(w io.Writer) (int64, error)
}

// Builder constructs a segment from its spec and the loaded payload bytes.
type Builder func(spec Spec, payload []byte) (Segment, error)

var builders = map[string]Builder{}

// Register adds a builder for a segment type name.
func Register(typeName string, b Builder) {
	builders[typeName] = b
}

// Build dispatches a spec to its registered builder.
func Build(spec Spec, payload []byte) (Segment, error) {
	b, ok := builders[spec.Type]
	if !ok {
		return nil, errors.Errorf("segment %s: unknown type %q (known: %v)",
			spec.Name, spec.Type, Types())
	}
	return b(spec, payload)
}

// Types returns the registered type names, sorted.
func Types() []string {
	out := make([]string, 0, len(builders))
	for t := range builders {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// padTo pads data with zeros to size. A payload longer than a fixed size is
// a hard error, never silent truncation.
func padTo(name string, data []byte, size int64) ([]byte, error) {
	if size == 0 {
		return data, nil
	}
	if int64(len(data)) > size {
		return nil, errors.Errorf("segment %s: payload is %d bytes, fixed size is %d",
			name, len(data), size)
	}
	out := make([]byte, size)
	copy(out, data)
	return out, nil
}

func writeAll(w io.Writer, data []byte) (int64, error) {
	n, err := w.Write(data)
	if err != nil {
		return int64(n), errors.Wrap(err, "write segment")
	}
	if n != len(data) {
		return int64(n), fmt.Errorf("short write: %d of %d bytes", n, len(data))
	}
	return int64(n), nil
}
