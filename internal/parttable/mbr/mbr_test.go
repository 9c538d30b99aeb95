package mbr

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/open-board-tools/board-image-composer/internal/format"
)

func require(t *testing.T, cond bool, msg string, args ...interface{}) {
	t.Helper()
	if !cond {
		t.Fatalf(msg, args...)
	}
}

// protectiveMBRSector builds a 512-byte MBR with a single protective-GPT
// entry in slot 0 (lba 1, 27262975 sectors).
func protectiveMBRSector() []byte {
	buf := make([]byte, Size)
	for i := 0; i < BootstrapSize; i++ {
		buf[i] = byte(i % 251)
	}
	entry := []byte{
		0x00,             // non-bootable
		0x00, 0x01, 0x00, // CHS start: head 0, sector 1, cylinder 0
		0xEE,             // protective GPT
		0xFF, 0xFF, 0xFF, // CHS end: head 255, sector 63, cylinder 1023
		0x01, 0x00, 0x00, 0x00, // lba start 1
		0xFF, 0xFF, 0x9F, 0x01, // 27262975 sectors
	}
	copy(buf[BootstrapSize:], entry)
	buf[510] = 0x55
	buf[511] = 0xAA
	return buf
}

func TestParseProtectiveMBR(t *testing.T) {
	data := protectiveMBRSector()

	m, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	require(t, m.Len() == 1, "Len()=%d want 1", m.Len())

	e, ok := m.Entry(0)
	require(t, ok, "slot 0 missing")
	require(t, !e.Bootable, "entry marked bootable")
	require(t, e.PartitionType == TypeProtectiveGPT, "type=0x%02X want 0xEE", byte(e.PartitionType))
	require(t, e.Start.Head == 0 && e.Start.Sector == 1 && e.Start.Cylinder == 0,
		"start CHS=%+v", e.Start)
	require(t, e.End.Head == 255 && e.End.Sector == 63 && e.End.Cylinder == 1023,
		"end CHS=%+v", e.End)
	require(t, e.LBAStart == 1, "LBAStart=%d want 1", e.LBAStart)
	require(t, e.NumSectors == 27262975, "NumSectors=%d want 27262975", e.NumSectors)
}

func TestExportReproducesOriginalBytes(t *testing.T) {
	data := protectiveMBRSector()

	m, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out, err := m.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("export diverges from original sector")
	}
}

func TestRoundTripFieldwise(t *testing.T) {
	m := New(make([]byte, BootstrapSize))
	want := PartitionEntry{
		Bootable:      true,
		Start:         CHS{Head: 1, Sector: 2, Cylinder: 3},
		PartitionType: TypeLinux,
		End:           CHS{Head: 254, Sector: 63, Cylinder: 1023},
		LBAStart:      2048,
		NumSectors:    1048576,
	}
	if err := m.SetEntry(2, want); err != nil {
		t.Fatal(err)
	}

	out, err := m.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	parsed, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse(Export()): %v", err)
	}

	require(t, parsed.Len() == 1, "Len()=%d want 1", parsed.Len())
	got, ok := parsed.Entry(2)
	require(t, ok, "slot 2 missing after round trip")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("entry mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRejectsBadSignature(t *testing.T) {
	data := protectiveMBRSector()
	data[510] = 0x12
	data[511] = 0x34

	_, err := Parse(data)
	require(t, err != nil, "expected error")
	require(t, errors.Is(err, format.ErrBadSignature), "err=%v want bad signature", err)
}

func TestParseRejectsTruncatedInput(t *testing.T) {
	_, err := Parse(make([]byte, Size-1))
	require(t, err != nil, "expected error")
	require(t, errors.Is(err, format.ErrTruncated), "err=%v want truncated input", err)
}

func TestEmptySlotsReadBackAbsent(t *testing.T) {
	data := protectiveMBRSector()

	m, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for slot := 1; slot < MaxPartitions; slot++ {
		if _, ok := m.Entry(slot); ok {
			t.Fatalf("slot %d populated, want absent", slot)
		}
	}
}

func TestSetEntryRejectsOutOfRangeSlot(t *testing.T) {
	m := New(nil)
	err := m.SetEntry(MaxPartitions, PartitionEntry{PartitionType: TypeLinux})
	require(t, err != nil, "expected range error")
}

func TestReadUsesAbsoluteOffset(t *testing.T) {
	pad := make([]byte, 1024)
	sector := protectiveMBRSector()
	img := append(append([]byte{}, pad...), sector...)

	m, err := Read(bytes.NewReader(img), 1024)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	require(t, m.Len() == 1, "Len()=%d want 1", m.Len())
}

func TestUnknownTypeDescriptionCarriesCode(t *testing.T) {
	got := PartitionType(0x7F).Description()
	require(t, got == "Unknown (0x7F)", "Description() = %q", got)
	require(t, TypeLinux.Description() == "Linux", "known type = %q", TypeLinux.Description())
}
