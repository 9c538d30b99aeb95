package segments

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/open-board-tools/board-image-composer/internal/format"
)

func init() {
	Register("uboot-env", buildEnv)
}

// envCRCSize is the little-endian CRC32 prefix of an environment block. The
// checksum covers everything after it, padding included.
const envCRCSize = 4

// Env is a U-Boot environment block: a CRC32 prefix followed by
// NUL-terminated key=value records and a terminating empty record.
type Env struct {
	name   string
	offset int64
	size   int64
	vars   map[string]string
}

func buildEnv(spec Spec, payload []byte) (Segment, error) {
	if spec.Size < envCRCSize+2 {
		return nil, errors.Errorf("segment %s: uboot-env needs a fixed size, got %d", spec.Name, spec.Size)
	}
	env := NewEnv(spec.Name, spec.Offset, spec.Size)
	if len(payload) > 0 {
		if err := env.SetFromText(string(payload)); err != nil {
			return nil, err
		}
	}
	for k, v := range spec.Params {
		env.Set(k, v)
	}
	return env, nil
}

// NewEnv builds an empty environment block of the given fixed size.
func NewEnv(name string, offset, size int64) *Env {
	return &Env{name: name, offset: offset, size: size, vars: make(map[string]string)}
}

// ParseEnv decodes an environment block and verifies its checksum.
func ParseEnv(data []byte) (*Env, error) {
	if len(data) < envCRCSize+2 {
		return nil, format.Errorf(format.LayerUBootEnv, 0, format.TruncatedInput,
			"need at least %d bytes, have %d", envCRCSize+2, len(data))
	}
	stored := binary.LittleEndian.Uint32(data)
	body := data[envCRCSize:]
	if computed := crc32.ChecksumIEEE(body); computed != stored {
		return nil, format.Errorf(format.LayerUBootEnv, 0, format.IntegrityViolation,
			"environment CRC 0x%08X, stored 0x%08X", computed, stored)
	}

	env := &Env{size: int64(len(data)), vars: make(map[string]string)}
	for len(body) > 0 {
		end := bytes.IndexByte(body, 0)
		if end <= 0 {
			break // empty record terminates the environment
		}
		record := string(body[:end])
		body = body[end+1:]
		k, v, ok := strings.Cut(record, "=")
		if !ok {
			return nil, format.Errorf(format.LayerUBootEnv, int64(len(data)-len(body)),
				format.UnsupportedLayout, "record %q has no '='", record)
		}
		env.vars[k] = v
	}
	return env, nil
}

// Set stores a variable.
func (e *Env) Set(key, value string) { e.vars[key] = value }

// Get reads a variable.
func (e *Env) Get(key string) (string, bool) {
	v, ok := e.vars[key]
	return v, ok
}

// Delete removes a variable.
func (e *Env) Delete(key string) { delete(e.vars, key) }

// Keys returns the variable names, sorted.
func (e *Env) Keys() []string {
	out := make([]string, 0, len(e.vars))
	for k := range e.vars {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SetFromText loads key=value lines; blank lines and #-comments are skipped.
func (e *Env) SetFromText(text string) error {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return errors.Errorf("environment line %q has no '='", line)
		}
		e.vars[strings.TrimSpace(k)] = v
	}
	return nil
}

// Export serializes the block to its fixed size with a fresh checksum.
// Records are emitted in sorted key order so exports are reproducible.
func (e *Env) Export() ([]byte, error) {
	var body bytes.Buffer
	for _, k := range e.Keys() {
		body.WriteString(k)
		body.WriteByte('=')
		body.WriteString(e.vars[k])
		body.WriteByte(0)
	}
	body.WriteByte(0)

	if int64(body.Len())+envCRCSize > e.size {
		return nil, errors.Errorf("environment needs %d bytes, fixed size is %d",
			body.Len()+envCRCSize, e.size)
	}
	out := make([]byte, e.size)
	copy(out[envCRCSize:], body.Bytes())
	binary.LittleEndian.PutUint32(out, crc32.ChecksumIEEE(out[envCRCSize:]))
	return out, nil
}

// Name identifies the segment.
func (e *Env) Name() string { return e.name }

// Offset returns the absolute byte position in the image.
func (e *Env) Offset() int64 { return e.offset }

// Size returns the fixed block size.
func (e *Env) Size() int64 { return e.size }

// WriteTo streams the serialized block.
func (e *Env) WriteTo(w io.Writer) (int64, error) {
	data, err := e.Export()
	if err != nil {
		return 0, err
	}
	return writeAll(w, data)
}
