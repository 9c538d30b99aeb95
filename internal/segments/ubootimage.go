package segments

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
	"strconv"
	"time"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/open-board-tools/board-image-composer/internal/format"
)

func init() {
	Register("uboot-image", buildUImage)
}

// U-Boot legacy image constants. The header is big-endian regardless of the
// target architecture.
const (
	UImageMagic      = 0x27051956
	UImageHeaderSize = 64

	uimageNameSize = 32
)

// Selected os/arch/type/compression codes from U-Boot's image.h.
const (
	UImageOSLinux    = 5
	UImageArchARM    = 2
	UImageArchARM64  = 22
	UImageTypeKernel = 2
	UImageTypeScript = 6
	UImageCompNone   = 0
	UImageCompGzip   = 1
)

type rawUImageHeader struct {
	Magic     uint32   `struc:"uint32,big"`
	HeaderCRC uint32   `struc:"uint32,big"`
	Timestamp uint32   `struc:"uint32,big"`
	DataSize  uint32   `struc:"uint32,big"`
	LoadAddr  uint32   `struc:"uint32,big"`
	EntryAddr uint32   `struc:"uint32,big"`
	DataCRC   uint32   `struc:"uint32,big"`
	OS        uint8    `struc:"uint8"`
	Arch      uint8    `struc:"uint8"`
	Type      uint8    `struc:"uint8"`
	Comp      uint8    `struc:"uint8"`
	ImageName [32]byte `struc:"[32]byte"`
}

// UImageHeader is the decoded 64-byte legacy image header.
type UImageHeader struct {
	HeaderCRC uint32
	Timestamp time.Time
	DataSize  uint32
	LoadAddr  uint32
	EntryAddr uint32
	DataCRC   uint32
	OS        uint8
	Arch      uint8
	Type      uint8
	Comp      uint8
	ImageName string
}

// ParseUImage decodes a legacy image header and verifies the magic, the
// header CRC and the payload CRC when the payload follows the header.
func ParseUImage(data []byte) (*UImageHeader, []byte, error) {
	if len(data) < UImageHeaderSize {
		return nil, nil, format.Errorf(format.LayerUBootImage, 0, format.TruncatedInput,
			"need %d header bytes, have %d", UImageHeaderSize, len(data))
	}
	var raw rawUImageHeader
	if err := struc.Unpack(bytes.NewReader(data[:UImageHeaderSize]), &raw); err != nil {
		return nil, nil, format.Wrap(format.LayerUBootImage, 0, format.TruncatedInput, err, "unpack header")
	}
	if raw.Magic != UImageMagic {
		return nil, nil, format.Errorf(format.LayerUBootImage, 0, format.BadSignature,
			"magic 0x%08X, want 0x%08X", raw.Magic, UImageMagic)
	}

	stored := raw.HeaderCRC
	raw.HeaderCRC = 0
	headerBytes, err := packUImageHeader(&raw)
	if err != nil {
		return nil, nil, err
	}
	if computed := crc32.ChecksumIEEE(headerBytes); computed != stored {
		return nil, nil, format.Errorf(format.LayerUBootImage, 4, format.IntegrityViolation,
			"header CRC 0x%08X, stored 0x%08X", computed, stored)
	}

	h := &UImageHeader{
		HeaderCRC: stored,
		Timestamp: time.Unix(int64(raw.Timestamp), 0).UTC(),
		DataSize:  raw.DataSize,
		LoadAddr:  raw.LoadAddr,
		EntryAddr: raw.EntryAddr,
		DataCRC:   raw.DataCRC,
		OS:        raw.OS,
		Arch:      raw.Arch,
		Type:      raw.Type,
		Comp:      raw.Comp,
		ImageName: trimName(raw.ImageName[:]),
	}

	payload := data[UImageHeaderSize:]
	if int64(len(payload)) < int64(h.DataSize) {
		return nil, nil, format.Errorf(format.LayerUBootImage, UImageHeaderSize, format.TruncatedInput,
			"header claims %d payload bytes, %d available", h.DataSize, len(payload))
	}
	payload = payload[:h.DataSize]
	if computed := crc32.ChecksumIEEE(payload); computed != h.DataCRC {
		return nil, nil, format.Errorf(format.LayerUBootImage, UImageHeaderSize, format.IntegrityViolation,
			"payload CRC 0x%08X, stored 0x%08X", computed, h.DataCRC)
	}
	return h, payload, nil
}

// UImage is a payload wrapped in a legacy image header.
type UImage struct {
	name   string
	offset int64
	size   int64

	Header  UImageHeader
	payload []byte
}

func buildUImage(spec Spec, payload []byte) (Segment, error) {
	h := UImageHeader{
		OS:        UImageOSLinux,
		Arch:      UImageArchARM,
		Type:      UImageTypeKernel,
		Comp:      UImageCompNone,
		ImageName: spec.Name,
	}
	var err error
	if v, ok := spec.Params["load"]; ok {
		if h.LoadAddr, err = parseAddr(v); err != nil {
			return nil, errors.Wrapf(err, "segment %s: load address", spec.Name)
		}
	}
	if v, ok := spec.Params["entry"]; ok {
		if h.EntryAddr, err = parseAddr(v); err != nil {
			return nil, errors.Wrapf(err, "segment %s: entry address", spec.Name)
		}
	}
	if v, ok := spec.Params["name"]; ok {
		h.ImageName = v
	}
	return WrapUImage(spec.Name, spec.Offset, spec.Size, h, payload)
}

// WrapUImage builds the segment, computing both CRCs.
func WrapUImage(name string, offset, size int64, h UImageHeader, payload []byte) (*UImage, error) {
	if size != 0 && size < UImageHeaderSize+int64(len(payload)) {
		return nil, errors.Errorf("segment %s: %d payload bytes plus header exceed fixed size %d",
			name, len(payload), size)
	}
	h.DataSize = uint32(len(payload))
	h.DataCRC = crc32.ChecksumIEEE(payload)
	return &UImage{name: name, offset: offset, size: size, Header: h, payload: payload}, nil
}

// Export serializes the header and payload, zero-padded to any fixed size.
func (u *UImage) Export() ([]byte, error) {
	raw := rawUImageHeader{
		Magic:     UImageMagic,
		Timestamp: uint32(u.Header.Timestamp.Unix()),
		DataSize:  u.Header.DataSize,
		LoadAddr:  u.Header.LoadAddr,
		EntryAddr: u.Header.EntryAddr,
		DataCRC:   u.Header.DataCRC,
		OS:        u.Header.OS,
		Arch:      u.Header.Arch,
		Type:      u.Header.Type,
		Comp:      u.Header.Comp,
	}
	if u.Header.Timestamp.IsZero() {
		raw.Timestamp = 0
	}
	copy(raw.ImageName[:], u.Header.ImageName)

	headerBytes, err := packUImageHeader(&raw)
	if err != nil {
		return nil, err
	}
	raw.HeaderCRC = crc32.ChecksumIEEE(headerBytes)
	if headerBytes, err = packUImageHeader(&raw); err != nil {
		return nil, err
	}

	out := append(headerBytes, u.payload...)
	return padTo(u.name, out, u.size)
}

// Name identifies the segment.
func (u *UImage) Name() string { return u.name }

// Offset returns the absolute byte position in the image.
func (u *UImage) Offset() int64 { return u.offset }

// Size returns the exported byte length.
func (u *UImage) Size() int64 {
	if u.size != 0 {
		return u.size
	}
	return UImageHeaderSize + int64(len(u.payload))
}

// WriteTo streams the serialized segment.
func (u *UImage) WriteTo(w io.Writer) (int64, error) {
	data, err := u.Export()
	if err != nil {
		return 0, err
	}
	return writeAll(w, data)
}

// Info returns a one-line header summary.
func (h UImageHeader) Info() string {
	return fmt.Sprintf("uImage %q: %d bytes, load 0x%08X, entry 0x%08X, built %s",
		h.ImageName, h.DataSize, h.LoadAddr, h.EntryAddr,
		h.Timestamp.Format("2006-01-02 15:04:05"))
}

func packUImageHeader(raw *rawUImageHeader) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(UImageHeaderSize)
	if err := struc.Pack(&buf, raw); err != nil {
		return nil, errors.Wrap(err, "pack uImage header")
	}
	return buf.Bytes(), nil
}

func parseAddr(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	return uint32(v), err
}

func trimName(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
