package gpt

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/open-board-tools/board-image-composer/internal/format"
)

func require(t *testing.T, cond bool, msg string, args ...interface{}) {
	t.Helper()
	if !cond {
		t.Fatalf(msg, args...)
	}
}

var (
	efiSystemGUID = uuid.MustParse("c12a7328-f81f-11d2-ba4b-00a0c93ec93b")
	linuxDataGUID = uuid.MustParse("0fc63daf-8483-4772-8e79-3d69d8477de4")
)

func sampleTable(t *testing.T) *GPT {
	t.Helper()
	h := NewHeader()
	h.DiskGUID = uuid.MustParse("11111111-2222-3333-4455-667788990011")
	h.CurrentLBA = 1
	h.BackupLBA = 27262975
	h.FirstUsableLBA = 34
	h.LastUsableLBA = 27262942
	h.PartitionEntryLBA = 2

	g := New(h, 512)
	if err := g.SetEntry(0, PartitionEntry{
		TypeGUID:      efiSystemGUID,
		PartitionGUID: uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeffff0000"),
		FirstLBA:      2048,
		LastLBA:       18431,
		Attributes:    0x1,
		Name:          "boot",
	}); err != nil {
		t.Fatal(err)
	}
	if err := g.SetEntry(1, PartitionEntry{
		TypeGUID:      linuxDataGUID,
		PartitionGUID: uuid.MustParse("99999999-8888-7777-6655-443322110000"),
		FirstLBA:      18432,
		LastLBA:       27262942,
		Name:          "rootfs",
	}); err != nil {
		t.Fatal(err)
	}
	return g
}

func TestExportParseRoundTrip(t *testing.T) {
	g := sampleTable(t)

	out, err := g.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	require(t, len(out) == 512+MaxPartitions*EntrySize, "export size=%d", len(out))

	parsed, err := Parse(out, 0, 512)
	if err != nil {
		t.Fatalf("Parse(Export()): %v", err)
	}
	require(t, parsed.Len() == 2, "Len()=%d want 2", parsed.Len())

	// Export computed both CRCs; parse must accept and retain them.
	require(t, parsed.Header.HeaderCRC32 == g.Header.HeaderCRC32,
		"header crc 0x%08X want 0x%08X", parsed.Header.HeaderCRC32, g.Header.HeaderCRC32)
	require(t, parsed.Header.PartitionEntryArrayCRC32 == g.Header.PartitionEntryArrayCRC32,
		"array crc mismatch")

	for _, slot := range g.Slots() {
		want, _ := g.Entry(slot)
		got, ok := parsed.Entry(slot)
		require(t, ok, "slot %d missing", slot)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("slot %d mismatch (-want +got):\n%s", slot, diff)
		}
	}
}

func TestExportRecomputesCRCAfterMutation(t *testing.T) {
	g := sampleTable(t)
	first, err := g.Export()
	if err != nil {
		t.Fatal(err)
	}

	// Mutating an entry after parse must never export a stale CRC.
	e, _ := g.Entry(1)
	e.Name = "datafs"
	if err := g.SetEntry(1, e); err != nil {
		t.Fatal(err)
	}
	second, err := g.Export()
	if err != nil {
		t.Fatal(err)
	}
	require(t, !bytes.Equal(first, second), "export unchanged after mutation")

	if _, err := Parse(second, 0, 512); err != nil {
		t.Fatalf("re-parse after mutation: %v", err)
	}
}

func TestParseRejectsBadSignature(t *testing.T) {
	g := sampleTable(t)
	out, err := g.Export()
	if err != nil {
		t.Fatal(err)
	}
	copy(out[0:8], []byte("NOT PART"))

	_, err = Parse(out, 0, 512)
	require(t, err != nil, "expected error")
	require(t, errors.Is(err, format.ErrBadSignature), "err=%v want bad signature", err)
}

func TestParseRejectsCorruptedHeader(t *testing.T) {
	g := sampleTable(t)
	out, err := g.Export()
	if err != nil {
		t.Fatal(err)
	}

	// Flip one bit in every header byte outside the CRC field (offset 16-19)
	// and require an integrity failure each time.
	for off := 24; off < HeaderSize; off++ {
		corrupted := append([]byte(nil), out...)
		corrupted[off] ^= 0x01
		_, err := Parse(corrupted, 0, 512)
		require(t, err != nil, "bit flip at %d accepted", off)
		require(t, errors.Is(err, format.ErrIntegrityViolation),
			"bit flip at %d: err=%v want integrity violation", off, err)
	}
}

func TestParseSkipsUnusedEntries(t *testing.T) {
	g := sampleTable(t)
	out, err := g.Export()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := Parse(out, 0, 512)
	if err != nil {
		t.Fatal(err)
	}
	for slot := 2; slot < MaxPartitions; slot++ {
		if _, ok := parsed.Entry(slot); ok {
			t.Fatalf("slot %d populated, want absent", slot)
		}
	}
}

func TestParseRejectsTruncatedInput(t *testing.T) {
	_, err := Parse(make([]byte, 100), 0, 512)
	require(t, err != nil, "expected error")
	require(t, errors.Is(err, format.ErrTruncated), "err=%v want truncated input", err)
}

func TestGUIDMixedEndianness(t *testing.T) {
	// EFI System Partition GUID in its on-disk little-endian form.
	le := [16]byte{
		0x28, 0x73, 0x2A, 0xC1, 0x1F, 0xF8, 0xD2, 0x11,
		0xBA, 0x4B, 0x00, 0xA0, 0xC9, 0x3E, 0xC9, 0x3B,
	}
	got := guidFromLE(le)
	require(t, got == efiSystemGUID, "guidFromLE=%s want %s", got, efiSystemGUID)
	require(t, guidToLE(got) == le, "guidToLE round trip failed")
}

func TestPartitionNameUTF16RoundTrip(t *testing.T) {
	var raw [nameSize]byte
	encodeName("Среда", raw[:])
	got := decodeName(raw[:])
	require(t, got == "Среда", "name=%q", got)

	encodeName("", raw[:])
	require(t, decodeName(raw[:]) == "", "empty name round trip failed")
}

func TestTypeDescriptionLookup(t *testing.T) {
	require(t, TypeDescription(efiSystemGUID) == "EFI System Partition",
		"desc=%q", TypeDescription(efiSystemGUID))
	unknown := uuid.MustParse("12345678-0000-0000-0000-000000000000")
	require(t, TypeDescription(unknown) == unknown.String(), "unknown GUID should echo itself")
}
