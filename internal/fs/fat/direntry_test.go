package fat

import (
	"testing"
	"time"
)

func TestShortNameChecksum(t *testing.T) {
	// Reference value computed with the rotate-right-add fold.
	name := []byte("LONGCO~1YAM")
	sum := shortNameChecksum(name)
	var want byte
	for _, c := range name {
		want = (want&1)<<7 + want>>1 + c
	}
	if sum != want {
		t.Fatalf("checksum = %#02x, want %#02x", sum, want)
	}
	if shortNameChecksum([]byte("HELLO   TXT")) == sum {
		t.Fatal("distinct names produced the same checksum")
	}
}

func TestTimestampCodec(t *testing.T) {
	ts := time.Date(2024, time.March, 15, 13, 37, 42, 0, time.UTC)
	date, tim := encodeTimestamp(ts)
	got := decodeTimestamp(date, tim)
	if got != ts {
		t.Fatalf("round trip %v -> %v", ts, got)
	}

	// Seconds are stored halved; odd seconds round down.
	_, oddTim := encodeTimestamp(time.Date(2024, 3, 15, 13, 37, 43, 0, time.UTC))
	if decodeTimestamp(date, oddTim).Second() != 42 {
		t.Fatal("odd second did not round down")
	}

	if !decodeTimestamp(0, 0).IsZero() {
		t.Fatal("zero date should decode to the zero time")
	}
}

func TestEncodeDecodeDirectoryWithLFN(t *testing.T) {
	mod := time.Date(2023, time.July, 4, 8, 30, 0, 0, time.UTC)
	dir := &Directory{
		VolumeLabel: "BOOTDATA",
		Files: []FileEntry{
			{Name: "HELLO.TXT", Attr: AttrArchive, FirstCluster: 2, Size: 600, Modified: mod},
			{Name: "long config name.yaml", Attr: AttrArchive, FirstCluster: 4, Size: 20, Modified: mod},
		},
	}

	raw, err := EncodeDirectory(dir, 512)
	if err != nil {
		t.Fatalf("EncodeDirectory: %v", err)
	}
	if len(raw) != 512 {
		t.Fatalf("encoded size = %d, want 512", len(raw))
	}

	got, err := DecodeDirectory(raw)
	if err != nil {
		t.Fatalf("DecodeDirectory: %v", err)
	}
	if got.VolumeLabel != "BOOTDATA" {
		t.Fatalf("label = %q", got.VolumeLabel)
	}
	if len(got.Files) != 2 {
		t.Fatalf("files = %d, want 2", len(got.Files))
	}

	plain, ok := got.Lookup("HELLO.TXT")
	if !ok || plain.ShortName != "HELLO.TXT" || plain.Size != 600 {
		t.Fatalf("plain entry = %+v", plain)
	}
	if plain.Modified != mod {
		t.Fatalf("modified = %v, want %v", plain.Modified, mod)
	}

	long, ok := got.Lookup("long config name.yaml")
	if !ok {
		t.Fatal("long name missing")
	}
	if long.ShortName != "LONGCO~1.YAM" {
		t.Fatalf("short alias = %q, want LONGCO~1.YAM", long.ShortName)
	}
	if long.FirstCluster != 4 || long.Size != 20 {
		t.Fatalf("long entry = %+v", long)
	}
}

func TestLFNChecksumMismatchFallsBackToShortName(t *testing.T) {
	dir := &Directory{Files: []FileEntry{
		{Name: "long config name.yaml", Attr: AttrArchive, FirstCluster: 4, Size: 20},
	}}
	raw, err := EncodeDirectory(dir, 0)
	if err != nil {
		t.Fatal(err)
	}

	// Corrupt the checksum byte of the first long-name record. The decode
	// must drop the long name and keep the 8.3 alias without failing.
	if Attributes(raw[11])&AttrLongName != AttrLongName {
		t.Fatal("fixture does not start with a long-name record")
	}
	raw[13] ^= 0xFF

	got, err := DecodeDirectory(raw)
	if err != nil {
		t.Fatalf("DecodeDirectory: %v", err)
	}
	if len(got.Files) != 1 {
		t.Fatalf("files = %d, want 1", len(got.Files))
	}
	if got.Files[0].Name != "LONGCO~1.YAM" {
		t.Fatalf("name = %q, want the 8.3 fallback", got.Files[0].Name)
	}
}

func TestLFNPaddingTerminatorThenFill(t *testing.T) {
	// "config.yaml" is 11 units: inside one 13-unit record the name is
	// followed by one 0x0000 terminator and 0xFFFF fill.
	raw := encodeLFNChain("config.yaml", 0x42)
	if len(raw) != dirEntrySize {
		t.Fatalf("chain length = %d, want one record", len(raw))
	}
	frag := decodeLFNEntry(raw)
	if frag.units[11] != 0x0000 {
		t.Fatalf("unit 11 = %#04x, want 0x0000 terminator", frag.units[11])
	}
	if frag.units[12] != 0xFFFF {
		t.Fatalf("unit 12 = %#04x, want 0xFFFF fill", frag.units[12])
	}
}

func TestDecodeDirectorySkipsDeletedEntries(t *testing.T) {
	dir := &Directory{Files: []FileEntry{
		{Name: "A.TXT", Attr: AttrArchive, FirstCluster: 2, Size: 1},
		{Name: "B.TXT", Attr: AttrArchive, FirstCluster: 3, Size: 1},
	}}
	raw, err := EncodeDirectory(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	raw[0] = deletedMarker

	got, err := DecodeDirectory(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Files) != 1 || got.Files[0].Name != "B.TXT" {
		t.Fatalf("files = %+v, want only B.TXT", got.Files)
	}
}

func TestShortAliasCollisionNumbering(t *testing.T) {
	taken := make(map[[11]byte]bool)
	first := shortNameFor("long config name.yaml", taken)
	second := shortNameFor("long config name two.yaml", taken)
	if first == second {
		t.Fatalf("aliases collide: %q", first)
	}
	if string(second[:8]) != "LONGCO~2" {
		t.Fatalf("second alias = %q, want LONGCO~2", second[:8])
	}
}
