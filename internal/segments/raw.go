package segments

import "io"

func init() {
	Register("raw", buildRaw)
}

// Raw is a verbatim payload, optionally zero-padded to a fixed size.
type Raw struct {
	name   string
	offset int64
	data   []byte
}

func buildRaw(spec Spec, payload []byte) (Segment, error) {
	data, err := padTo(spec.Name, payload, spec.Size)
	if err != nil {
		return nil, err
	}
	return &Raw{name: spec.Name, offset: spec.Offset, data: data}, nil
}

// NewRaw builds a raw segment outside the registry path.
func NewRaw(name string, offset int64, data []byte) *Raw {
	return &Raw{name: name, offset: offset, data: data}
}

// Name identifies the segment.
func (r *Raw) Name() string { return r.name }

// Offset returns the absolute byte position in the image.
func (r *Raw) Offset() int64 { return r.offset }

// Size returns the exported byte length.
func (r *Raw) Size() int64 { return int64(len(r.data)) }

// WriteTo streams the payload.
func (r *Raw) WriteTo(w io.Writer) (int64, error) {
	return writeAll(w, r.data)
}
