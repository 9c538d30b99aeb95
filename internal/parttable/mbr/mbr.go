// Package mbr implements the Master Boot Record codec: a 512-byte sector
// holding 446 bytes of bootstrap code, four 16-byte partition entries and the
// 0xAA55 boot signature. See
// https://en.wikipedia.org/wiki/Master_boot_record.
package mbr

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/open-board-tools/board-image-composer/internal/blockio"
	"github.com/open-board-tools/board-image-composer/internal/format"
)

// Layout constants.
const (
	Size          = 512
	BootstrapSize = 446
	MaxPartitions = 4
	EntrySize     = 16
	Signature     = 0xAA55
)

// rawEntry is the 16-byte on-disk partition entry. All multi-byte fields are
// little-endian.
type rawEntry struct {
	Status        byte
	StartHead     byte
	StartSector   byte
	StartCylinder byte
	Type          byte
	EndHead       byte
	EndSector     byte
	EndCylinder   byte
	LBAStart      uint32 `struc:"uint32,little"`
	NumSectors    uint32 `struc:"uint32,little"`
}

// rawMBR is the full 512-byte on-disk sector.
type rawMBR struct {
	Bootstrap [BootstrapSize]byte `struc:"[446]byte"`
	Entries   [MaxPartitions]rawEntry
	Signature uint16 `struc:"uint16,little"`
}

// PartitionEntry is the decoded view of one partition slot.
type PartitionEntry struct {
	Bootable      bool
	Start         CHS
	PartitionType PartitionType
	End           CHS
	LBAStart      uint32
	NumSectors    uint32
}

const bootableFlag = 0x80

// IsEmpty reports whether the slot carries no partition.
func (e PartitionEntry) IsEmpty() bool {
	return e.PartitionType == TypeEmpty
}

// IsProtectiveGPT reports whether the entry is the 0xEE marker that signals a
// GUID partition table follows.
func (e PartitionEntry) IsProtectiveGPT() bool {
	return e.PartitionType == TypeProtectiveGPT
}

// ByteOffset returns the absolute byte offset of the partition start for the
// given sector size.
func (e PartitionEntry) ByteOffset(sectorSize int64) int64 {
	return int64(e.LBAStart) * sectorSize
}

// ByteSize returns the partition size in bytes for the given sector size.
func (e PartitionEntry) ByteSize(sectorSize int64) int64 {
	return int64(e.NumSectors) * sectorSize
}

func decodeEntry(raw rawEntry) PartitionEntry {
	return PartitionEntry{
		Bootable:      raw.Status&bootableFlag != 0,
		Start:         decodeCHS(raw.StartHead, raw.StartSector, raw.StartCylinder),
		PartitionType: PartitionType(raw.Type),
		End:           decodeCHS(raw.EndHead, raw.EndSector, raw.EndCylinder),
		LBAStart:      raw.LBAStart,
		NumSectors:    raw.NumSectors,
	}
}

func (e PartitionEntry) encode() rawEntry {
	raw := rawEntry{
		Type:       byte(e.PartitionType),
		LBAStart:   e.LBAStart,
		NumSectors: e.NumSectors,
	}
	if e.Bootable {
		raw.Status = bootableFlag
	}
	raw.StartHead, raw.StartSector, raw.StartCylinder = e.Start.encode()
	raw.EndHead, raw.EndSector, raw.EndCylinder = e.End.encode()
	return raw
}

// Info renders the entry in the multi-line format used by the inspect output.
func (e PartitionEntry) Info() string {
	var b strings.Builder
	fmt.Fprintf(&b, " Bootable:       %v\n", e.Bootable)
	fmt.Fprintf(&b, " Partition Type: %s (0x%02X)\n", e.PartitionType.Description(), byte(e.PartitionType))
	fmt.Fprintf(&b, " CHS Start:      Head: %d, Sector: %d, Cylinder: %d\n", e.Start.Head, e.Start.Sector, e.Start.Cylinder)
	fmt.Fprintf(&b, " CHS End:        Head: %d, Sector: %d, Cylinder: %d\n", e.End.Head, e.End.Sector, e.End.Cylinder)
	fmt.Fprintf(&b, " LBA Start:      %d\n", e.LBAStart)
	fmt.Fprintf(&b, " Sectors Count:  %d\n", e.NumSectors)
	return b.String()
}

// MBR is the decoded master boot record. Partition slots are sparse: empty
// slots (type 0x00) read back as absent, not as zero-valued entries.
type MBR struct {
	Bootstrap [BootstrapSize]byte

	partitions map[int]PartitionEntry
}

// New builds an empty MBR around the given bootstrap code blob.
func New(bootstrap []byte) *MBR {
	m := &MBR{partitions: make(map[int]PartitionEntry)}
	copy(m.Bootstrap[:], bootstrap)
	return m
}

// Parse decodes the 512-byte record at the start of data.
func Parse(data []byte) (*MBR, error) {
	if len(data) < Size {
		return nil, format.Errorf(format.LayerMBR, 0, format.TruncatedInput,
			"need %d bytes, have %d", Size, len(data))
	}

	var raw rawMBR
	if err := struc.Unpack(bytes.NewReader(data[:Size]), &raw); err != nil {
		return nil, format.Wrap(format.LayerMBR, 0, format.TruncatedInput, err, "unpack sector")
	}
	if raw.Signature != Signature {
		return nil, format.Errorf(format.LayerMBR, Size-2, format.BadSignature,
			"boot signature 0x%04X, want 0x%04X", raw.Signature, Signature)
	}

	m := New(raw.Bootstrap[:])
	for i, re := range raw.Entries {
		if re.Type == byte(TypeEmpty) {
			continue
		}
		m.partitions[i] = decodeEntry(re)
	}
	return m, nil
}

// Read decodes the record at the absolute offset of r.
func Read(r io.ReaderAt, offset int64) (*MBR, error) {
	data, err := blockio.ReadExact(r, offset, Size)
	if err != nil {
		return nil, format.Wrap(format.LayerMBR, offset, format.TruncatedInput, err, "")
	}
	m, err := Parse(data)
	if err != nil {
		return nil, shiftOffset(err, offset)
	}
	return m, nil
}

// shiftOffset rebases a format error onto the absolute image offset.
func shiftOffset(err error, base int64) error {
	if fe, ok := err.(*format.Error); ok {
		fe.Offset += base
		return fe
	}
	return err
}

// Entry returns the partition in the given slot, if present.
func (m *MBR) Entry(slot int) (PartitionEntry, bool) {
	e, ok := m.partitions[slot]
	return e, ok
}

// SetEntry stores a partition in the given slot. Storing an empty entry
// clears the slot.
func (m *MBR) SetEntry(slot int, e PartitionEntry) error {
	if slot < 0 || slot >= MaxPartitions {
		return errors.Errorf("partition slot %d out of range 0..%d", slot, MaxPartitions-1)
	}
	if e.IsEmpty() {
		delete(m.partitions, slot)
		return nil
	}
	m.partitions[slot] = e
	return nil
}

// Delete removes the partition in the given slot.
func (m *MBR) Delete(slot int) {
	delete(m.partitions, slot)
}

// Len returns the number of populated slots.
func (m *MBR) Len() int { return len(m.partitions) }

// Slots returns the populated slot indices in ascending order.
func (m *MBR) Slots() []int {
	slots := make([]int, 0, len(m.partitions))
	for i := range m.partitions {
		slots = append(slots, i)
	}
	sort.Ints(slots)
	return slots
}

// Export serializes the record back to its canonical 512 bytes. All four
// slots are always emitted, zero-filled where absent.
func (m *MBR) Export() ([]byte, error) {
	raw := rawMBR{Bootstrap: m.Bootstrap, Signature: Signature}
	for i, e := range m.partitions {
		raw.Entries[i] = e.encode()
	}

	var buf bytes.Buffer
	buf.Grow(Size)
	if err := struc.Pack(&buf, &raw); err != nil {
		return nil, errors.Wrap(err, "pack mbr sector")
	}
	return buf.Bytes(), nil
}

// Info renders all populated slots in the format used by the inspect output.
func (m *MBR) Info() string {
	var b strings.Builder
	for _, i := range m.Slots() {
		e := m.partitions[i]
		fmt.Fprintf(&b, " Partition %d\n", i)
		b.WriteString(" " + strings.Repeat("-", 50) + "\n")
		b.WriteString(e.Info())
		b.WriteString(" " + strings.Repeat("-", 50) + "\n")
	}
	return b.String()
}
