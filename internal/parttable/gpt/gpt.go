// Package gpt implements the GUID Partition Table codec: the checksummed
// header at LBA 1 and the fixed-size partition-entry array that follows it.
// The header CRC is self-referential (computed over a copy of the header with
// the CRC field zeroed), and both CRCs are recomputed on every export so a
// mutated table can never serialize stale checksums.
package gpt

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/google/uuid"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/open-board-tools/board-image-composer/internal/blockio"
	"github.com/open-board-tools/board-image-composer/internal/format"
)

// Layout constants.
const (
	HeaderSize    = 92
	EntrySize     = 128
	MaxPartitions = 128
	nameSize      = 72
)

var signature = [8]byte{'E', 'F', 'I', ' ', 'P', 'A', 'R', 'T'}

// DefaultRevision is GPT revision 1.0.
var DefaultRevision = [4]byte{0x00, 0x00, 0x01, 0x00}

// rawHeader is the 92-byte on-disk header. All multi-byte fields are
// little-endian.
type rawHeader struct {
	Signature                [8]byte  `struc:"[8]byte"`
	Revision                 [4]byte  `struc:"[4]byte"`
	HeaderSize               uint32   `struc:"uint32,little"`
	HeaderCRC32              uint32   `struc:"uint32,little"`
	Reserved                 uint32   `struc:"uint32,little"`
	CurrentLBA               uint64   `struc:"uint64,little"`
	BackupLBA                uint64   `struc:"uint64,little"`
	FirstUsableLBA           uint64   `struc:"uint64,little"`
	LastUsableLBA            uint64   `struc:"uint64,little"`
	DiskGUID                 [16]byte `struc:"[16]byte"`
	PartitionEntryLBA        uint64   `struc:"uint64,little"`
	NumberOfPartitionEntries uint32   `struc:"uint32,little"`
	SizeOfPartitionEntry     uint32   `struc:"uint32,little"`
	PartitionEntryArrayCRC32 uint32   `struc:"uint32,little"`
}

// rawEntry is the 128-byte on-disk partition entry.
type rawEntry struct {
	TypeGUID      [16]byte       `struc:"[16]byte"`
	PartitionGUID [16]byte       `struc:"[16]byte"`
	FirstLBA      uint64         `struc:"uint64,little"`
	LastLBA       uint64         `struc:"uint64,little"`
	Attributes    uint64         `struc:"uint64,little"`
	Name          [nameSize]byte `struc:"[72]byte"`
}

// Header is the decoded GPT header.
type Header struct {
	Revision                 [4]byte
	HeaderCRC32              uint32
	CurrentLBA               uint64
	BackupLBA                uint64
	FirstUsableLBA           uint64
	LastUsableLBA            uint64
	DiskGUID                 uuid.UUID
	PartitionEntryLBA        uint64
	NumberOfPartitionEntries uint32
	SizeOfPartitionEntry     uint32
	PartitionEntryArrayCRC32 uint32
}

// NewHeader returns a header with the defaults a freshly built table uses.
func NewHeader() Header {
	return Header{
		Revision:                 DefaultRevision,
		DiskGUID:                 uuid.New(),
		NumberOfPartitionEntries: MaxPartitions,
		SizeOfPartitionEntry:     EntrySize,
	}
}

func (h Header) toRaw() rawHeader {
	return rawHeader{
		Signature:                signature,
		Revision:                 h.Revision,
		HeaderSize:               HeaderSize,
		HeaderCRC32:              h.HeaderCRC32,
		CurrentLBA:               h.CurrentLBA,
		BackupLBA:                h.BackupLBA,
		FirstUsableLBA:           h.FirstUsableLBA,
		LastUsableLBA:            h.LastUsableLBA,
		DiskGUID:                 guidToLE(h.DiskGUID),
		PartitionEntryLBA:        h.PartitionEntryLBA,
		NumberOfPartitionEntries: h.NumberOfPartitionEntries,
		SizeOfPartitionEntry:     h.SizeOfPartitionEntry,
		PartitionEntryArrayCRC32: h.PartitionEntryArrayCRC32,
	}
}

// computeCRC packs the header with a zeroed CRC field and checksums the
// result.
func (h Header) computeCRC() (uint32, error) {
	raw := h.toRaw()
	raw.HeaderCRC32 = 0
	var buf bytes.Buffer
	if err := struc.Pack(&buf, &raw); err != nil {
		return 0, errors.Wrap(err, "pack gpt header")
	}
	return crc32.ChecksumIEEE(buf.Bytes()), nil
}

// Info renders the header in the multi-line format used by inspect output.
func (h Header) Info() string {
	var b strings.Builder
	fmt.Fprintf(&b, " Revision:         %d.%d\n", h.Revision[2], h.Revision[3])
	fmt.Fprintf(&b, " Current LBA:      %d\n", h.CurrentLBA)
	fmt.Fprintf(&b, " Backup LBA:       %d\n", h.BackupLBA)
	fmt.Fprintf(&b, " First Usable LBA: %d\n", h.FirstUsableLBA)
	fmt.Fprintf(&b, " Last Usable LBA:  %d\n", h.LastUsableLBA)
	fmt.Fprintf(&b, " Disk GUID:        %s\n", strings.ToUpper(h.DiskGUID.String()))
	fmt.Fprintf(&b, " Entries Count:    %d\n", h.NumberOfPartitionEntries)
	fmt.Fprintf(&b, " Part. Entry LBA:  %d\n", h.PartitionEntryLBA)
	fmt.Fprintf(&b, " Part. Entry Size: %d\n", h.SizeOfPartitionEntry)
	fmt.Fprintf(&b, " Part. Entry CRC:  0x%X\n", h.PartitionEntryArrayCRC32)
	return b.String()
}

// PartitionEntry is the decoded view of one slot in the entry array.
type PartitionEntry struct {
	TypeGUID      uuid.UUID
	PartitionGUID uuid.UUID
	FirstLBA      uint64
	LastLBA       uint64
	Attributes    uint64
	Name          string
}

// IsUnused reports whether both LBA bounds are zero, the on-disk marker for
// an unused slot.
func (e PartitionEntry) IsUnused() bool {
	return e.FirstLBA == 0 && e.LastLBA == 0
}

// ByteOffset returns the absolute byte offset of the partition start.
func (e PartitionEntry) ByteOffset(sectorSize int64) int64 {
	return int64(e.FirstLBA) * sectorSize
}

// ByteSize returns the partition size in bytes (LBA bounds are inclusive).
func (e PartitionEntry) ByteSize(sectorSize int64) int64 {
	return int64(e.LastLBA-e.FirstLBA+1) * sectorSize
}

func decodeEntry(raw rawEntry) PartitionEntry {
	return PartitionEntry{
		TypeGUID:      guidFromLE(raw.TypeGUID),
		PartitionGUID: guidFromLE(raw.PartitionGUID),
		FirstLBA:      raw.FirstLBA,
		LastLBA:       raw.LastLBA,
		Attributes:    raw.Attributes,
		Name:          decodeName(raw.Name[:]),
	}
}

func (e PartitionEntry) encode() rawEntry {
	raw := rawEntry{
		TypeGUID:      guidToLE(e.TypeGUID),
		PartitionGUID: guidToLE(e.PartitionGUID),
		FirstLBA:      e.FirstLBA,
		LastLBA:       e.LastLBA,
		Attributes:    e.Attributes,
	}
	encodeName(e.Name, raw.Name[:])
	return raw
}

// decodeName decodes the zero-terminated UTF-16LE partition name.
func decodeName(b []byte) string {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		u := uint16(b[i]) | uint16(b[i+1])<<8
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

// encodeName writes the name as UTF-16LE into dst, truncating to capacity
// and zero-filling the rest.
func encodeName(name string, dst []byte) {
	units := utf16.Encode([]rune(name))
	if len(units) > len(dst)/2 {
		units = units[:len(dst)/2]
	}
	for i := range dst {
		dst[i] = 0
	}
	for i, u := range units {
		dst[2*i] = byte(u)
		dst[2*i+1] = byte(u >> 8)
	}
}

// Info renders the entry in the multi-line format used by inspect output.
func (e PartitionEntry) Info() string {
	var b strings.Builder
	fmt.Fprintf(&b, " Part. Name:   %s\n", e.Name)
	fmt.Fprintf(&b, " Part. Type:   %s\n", TypeDescription(e.TypeGUID))
	fmt.Fprintf(&b, " Part. GUID:   %s\n", strings.ToUpper(e.PartitionGUID.String()))
	fmt.Fprintf(&b, " First LBA:    %d\n", e.FirstLBA)
	fmt.Fprintf(&b, " Last  LBA:    %d\n", e.LastLBA)
	fmt.Fprintf(&b, " Attr. Flags:  0x%X\n", e.Attributes)
	return b.String()
}

// GPT is the decoded table: header plus a sparse map of populated entry
// slots, keyed by slot index.
type GPT struct {
	Header     Header
	SectorSize int

	partitions map[int]PartitionEntry
}

// New builds an empty table around the given header.
func New(header Header, sectorSize int) *GPT {
	if sectorSize <= 0 {
		sectorSize = 512
	}
	return &GPT{
		Header:     header,
		SectorSize: sectorSize,
		partitions: make(map[int]PartitionEntry),
	}
}

// Parse decodes a table whose header starts at offset within data. The entry
// array is expected sectorSize bytes past the header, as written by Export.
func Parse(data []byte, offset int64, sectorSize int) (*GPT, error) {
	if sectorSize <= 0 {
		sectorSize = 512
	}
	if int64(len(data)) < offset+int64(sectorSize) {
		return nil, format.Errorf(format.LayerGPT, offset, format.TruncatedInput,
			"need %d header bytes, have %d", sectorSize, int64(len(data))-offset)
	}

	header, err := parseHeader(data[offset:offset+HeaderSize], offset)
	if err != nil {
		return nil, err
	}

	g := New(header, sectorSize)
	entryBase := offset + int64(sectorSize)
	entrySize := int64(header.SizeOfPartitionEntry)
	if entrySize == 0 {
		entrySize = EntrySize
	}
	for i := 0; i < int(header.NumberOfPartitionEntries) && i < MaxPartitions; i++ {
		entryOff := entryBase + int64(i)*entrySize
		if int64(len(data)) < entryOff+EntrySize {
			return nil, format.Errorf(format.LayerGPT, entryOff, format.TruncatedInput,
				"partition entry %d extends past input", i)
		}
		var raw rawEntry
		if err := struc.Unpack(bytes.NewReader(data[entryOff:entryOff+EntrySize]), &raw); err != nil {
			return nil, format.Wrap(format.LayerGPT, entryOff, format.TruncatedInput, err, "unpack partition entry")
		}
		entry := decodeEntry(raw)
		if !entry.IsUnused() {
			g.partitions[i] = entry
		}
	}
	return g, nil
}

func parseHeader(data []byte, offset int64) (Header, error) {
	var raw rawHeader
	if err := struc.Unpack(bytes.NewReader(data), &raw); err != nil {
		return Header{}, format.Wrap(format.LayerGPT, offset, format.TruncatedInput, err, "unpack header")
	}
	if raw.Signature != signature {
		return Header{}, format.Errorf(format.LayerGPT, offset, format.BadSignature,
			"header signature %q, want %q", raw.Signature[:], signature[:])
	}
	if raw.HeaderSize != HeaderSize {
		return Header{}, format.Errorf(format.LayerGPT, offset, format.UnsupportedLayout,
			"header size %d, want %d", raw.HeaderSize, HeaderSize)
	}

	h := Header{
		Revision:                 raw.Revision,
		HeaderCRC32:              raw.HeaderCRC32,
		CurrentLBA:               raw.CurrentLBA,
		BackupLBA:                raw.BackupLBA,
		FirstUsableLBA:           raw.FirstUsableLBA,
		LastUsableLBA:            raw.LastUsableLBA,
		DiskGUID:                 guidFromLE(raw.DiskGUID),
		PartitionEntryLBA:        raw.PartitionEntryLBA,
		NumberOfPartitionEntries: raw.NumberOfPartitionEntries,
		SizeOfPartitionEntry:     raw.SizeOfPartitionEntry,
		PartitionEntryArrayCRC32: raw.PartitionEntryArrayCRC32,
	}
	want, err := h.computeCRC()
	if err != nil {
		return Header{}, err
	}
	if raw.HeaderCRC32 != want {
		return Header{}, format.Errorf(format.LayerGPT, offset, format.IntegrityViolation,
			"header crc 0x%08X, computed 0x%08X", raw.HeaderCRC32, want)
	}
	return h, nil
}

// Read decodes a table whose header sector starts at the absolute offset of
// r, with the entry array at Header.NumberOfPartitionEntries slots.
func Read(r io.ReaderAt, offset int64, sectorSize int) (*GPT, error) {
	if sectorSize <= 0 {
		sectorSize = 512
	}
	arraySize := MaxPartitions * EntrySize
	data, err := blockio.ReadExact(r, offset, int64(sectorSize+arraySize))
	if err != nil {
		return nil, format.Wrap(format.LayerGPT, offset, format.TruncatedInput, err, "")
	}
	g, err := Parse(data, 0, sectorSize)
	if err != nil {
		if fe, ok := err.(*format.Error); ok {
			fe.Offset += offset
		}
		return nil, err
	}
	return g, nil
}

// Entry returns the partition in the given slot, if present.
func (g *GPT) Entry(slot int) (PartitionEntry, bool) {
	e, ok := g.partitions[slot]
	return e, ok
}

// SetEntry stores a partition in the given slot. Storing an unused entry
// clears the slot.
func (g *GPT) SetEntry(slot int, e PartitionEntry) error {
	if slot < 0 || slot >= MaxPartitions {
		return errors.Errorf("partition slot %d out of range 0..%d", slot, MaxPartitions-1)
	}
	if e.IsUnused() {
		delete(g.partitions, slot)
		return nil
	}
	g.partitions[slot] = e
	return nil
}

// Delete removes the partition in the given slot.
func (g *GPT) Delete(slot int) {
	delete(g.partitions, slot)
}

// Len returns the number of populated slots.
func (g *GPT) Len() int { return len(g.partitions) }

// Slots returns the populated slot indices in ascending order.
func (g *GPT) Slots() []int {
	slots := make([]int, 0, len(g.partitions))
	for i := range g.partitions {
		slots = append(slots, i)
	}
	sort.Ints(slots)
	return slots
}

// exportEntryArray serializes the full entry array, zero-filled for absent
// slots.
func (g *GPT) exportEntryArray() ([]byte, error) {
	count := int(g.Header.NumberOfPartitionEntries)
	if count == 0 || count > MaxPartitions {
		count = MaxPartitions
	}
	var buf bytes.Buffer
	buf.Grow(count * EntrySize)
	for i := 0; i < count; i++ {
		e, ok := g.partitions[i]
		if !ok {
			buf.Write(make([]byte, EntrySize))
			continue
		}
		raw := e.encode()
		if err := struc.Pack(&buf, &raw); err != nil {
			return nil, errors.Wrapf(err, "pack partition entry %d", i)
		}
	}
	return buf.Bytes(), nil
}

// Export serializes the header sector plus the entry array. Both the entry
// array CRC and the header CRC are recomputed from the current in-memory
// state; the stored values are never trusted.
func (g *GPT) Export() ([]byte, error) {
	array, err := g.exportEntryArray()
	if err != nil {
		return nil, err
	}
	g.Header.NumberOfPartitionEntries = uint32(len(array) / EntrySize)
	g.Header.SizeOfPartitionEntry = EntrySize
	g.Header.PartitionEntryArrayCRC32 = crc32.ChecksumIEEE(array)

	crc, err := g.Header.computeCRC()
	if err != nil {
		return nil, err
	}
	g.Header.HeaderCRC32 = crc

	raw := g.Header.toRaw()
	var buf bytes.Buffer
	buf.Grow(g.SectorSize + len(array))
	if err := struc.Pack(&buf, &raw); err != nil {
		return nil, errors.Wrap(err, "pack gpt header")
	}
	buf.Write(make([]byte, g.SectorSize-HeaderSize))
	buf.Write(array)
	return buf.Bytes(), nil
}

// Info renders the table in the format used by the inspect output.
func (g *GPT) Info() string {
	var b strings.Builder
	b.WriteString(" < GPT Header > " + strings.Repeat("-", 45) + "\n")
	b.WriteString(g.Header.Info())
	b.WriteString(" " + strings.Repeat("-", 60) + "\n\n")
	for _, i := range g.Slots() {
		e := g.partitions[i]
		fmt.Fprintf(&b, " < GPT Partition %3d > %s\n", i, strings.Repeat("-", 38))
		b.WriteString(e.Info())
		b.WriteString(" " + strings.Repeat("-", 60) + "\n\n")
	}
	return b.String()
}
