package image

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/open-board-tools/board-image-composer/internal/config"
	"github.com/open-board-tools/board-image-composer/internal/fs/fat"
)

func require(t *testing.T, cond bool, msg string, args ...interface{}) {
	t.Helper()
	if !cond {
		t.Fatalf(msg, args...)
	}
}

// fat12Volume builds a 12-sector FAT12 volume with BOOT.SCR in cluster 2.
func fat12Volume(t *testing.T) []byte {
	t.Helper()
	boot := &fat.BootSector{
		OEMName:           "BOARDIMG",
		BytesPerSector:    512,
		SectorsPerCluster: 1,
		ReservedSectors:   1,
		FATCopies:         2,
		MaxRootEntries:    16,
		TotalSectors:      12,
		MediaDescriptor:   0xF8,
		SectorsPerFAT:     1,
		VolumeLabel:       "BOOTDATA",
		FilesystemType:    "FAT12",
	}
	bootSector, err := boot.Export()
	if err != nil {
		t.Fatal(err)
	}
	table := make([]byte, 512)
	copy(table, []byte{0xF8, 0xFF, 0xFF, 0xFF, 0x0F, 0x00})
	root, err := fat.EncodeDirectory(&fat.Directory{
		VolumeLabel: "BOOTDATA",
		Files: []fat.FileEntry{
			{Name: "BOOT.SCR", Attr: fat.AttrArchive, FirstCluster: 2, Size: 5},
		},
	}, 512)
	if err != nil {
		t.Fatal(err)
	}
	vol := make([]byte, 12*512)
	copy(vol[0:], bootSector)
	copy(vol[512:], table)
	copy(vol[1024:], table)
	copy(vol[1536:], root)
	copy(vol[2048:], "setup")
	return vol
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuildAndInspectRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "u-boot.bin", []byte{0xAA, 0xBB, 0xCC, 0xDD})
	writeFile(t, dir, "boot.vfat", fat12Volume(t))

	desc, err := config.Parse([]byte(`
head:
  name: demo
data:
  - name: bootloader
    type: raw
    offset: "0x400"
    source: u-boot.bin
body:
  partitions:
    - slot: 0
      type: fat12
      bootable: true
      start_lba: 4
      sectors: 12
      content: boot.vfat
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	output := filepath.Join(dir, "demo.img")
	if err := Build(desc, BuildOptions{Output: output, BaseDir: dir}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	// The raw segment lands at its absolute offset.
	img, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	require(t, len(img) == 16*512, "image size = %d", len(img))
	require(t, bytes.Equal(img[0x400:0x404], []byte{0xAA, 0xBB, 0xCC, 0xDD}),
		"segment bytes = % X", img[0x400:0x404])

	s, err := Inspect(output, InspectOptions{ListFiles: true, WithChecksum: true})
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	require(t, s.PartitionTable == "mbr", "table = %s", s.PartitionTable)
	require(t, s.SHA256 != "", "missing checksum")
	require(t, len(s.Partitions) == 1, "partitions = %d", len(s.Partitions))

	p := s.Partitions[0]
	require(t, p.Slot == 0 && p.Offset == 4*512, "partition = %+v", p)
	require(t, p.Filesystem != nil, "no filesystem summary")
	require(t, p.Filesystem.Type == "fat12", "fs type = %s", p.Filesystem.Type)
	require(t, p.Filesystem.Label == "BOOTDATA", "label = %s", p.Filesystem.Label)
	require(t, len(p.Filesystem.Files) == 1 && p.Filesystem.Files[0].Name == "BOOT.SCR",
		"files = %+v", p.Filesystem.Files)
}

func TestBuildRejectsOversizedPartitionContent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "big.bin", make([]byte, 3*512))

	desc, err := config.Parse([]byte(`
head:
  name: demo
body:
  partitions:
    - {slot: 0, type: fat12, start_lba: 4, sectors: 2, content: big.bin}
`))
	if err != nil {
		t.Fatal(err)
	}
	err = Build(desc, BuildOptions{Output: filepath.Join(dir, "demo.img"), BaseDir: dir})
	require(t, err != nil, "oversized content accepted")
}

func TestBuildRejectsSegmentOverMBR(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "blob.bin", []byte{1})

	desc, err := config.Parse([]byte(`
head:
  name: demo
data:
  - {name: blob, type: raw, offset: 0, source: blob.bin}
body:
  partitions:
    - {slot: 0, type: fat12, start_lba: 4, sectors: 2}
`))
	if err != nil {
		t.Fatal(err)
	}
	err = Build(desc, BuildOptions{Output: filepath.Join(dir, "demo.img"), BaseDir: dir})
	require(t, err != nil, "segment over the table sector accepted")
}

func TestBuildHonorsStatedImageSize(t *testing.T) {
	dir := t.TempDir()
	desc, err := config.Parse([]byte(`
head:
  name: demo
  image_size: "0x4000"
body:
  partitions:
    - {slot: 0, type: fat12, start_lba: 4, sectors: 2}
`))
	if err != nil {
		t.Fatal(err)
	}
	output := filepath.Join(dir, "demo.img")
	if err := Build(desc, BuildOptions{Output: output, BaseDir: dir}); err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(output)
	if err != nil {
		t.Fatal(err)
	}
	require(t, fi.Size() == 0x4000, "image size = %d", fi.Size())
}

func TestRenderFormats(t *testing.T) {
	s := &Summary{
		File:           "demo.img",
		SizeBytes:      8192,
		PartitionTable: "mbr",
		Partitions: []PartitionSummary{
			{Slot: 0, Type: "FAT12", Offset: 2048, SizeBytes: 6144,
				Filesystem: &FilesystemSummary{Type: "fat12", Label: "BOOTDATA"}},
		},
	}

	var jsonBuf bytes.Buffer
	if err := Render(&jsonBuf, s, "json"); err != nil {
		t.Fatal(err)
	}
	var back Summary
	if err := json.Unmarshal(jsonBuf.Bytes(), &back); err != nil {
		t.Fatalf("json output does not parse: %v", err)
	}
	require(t, back.Partitions[0].Filesystem.Label == "BOOTDATA", "json round trip = %+v", back)

	var yamlBuf bytes.Buffer
	if err := Render(&yamlBuf, s, "yaml"); err != nil {
		t.Fatal(err)
	}
	require(t, bytes.Contains(yamlBuf.Bytes(), []byte("partitionTable: mbr")), "yaml = %s", yamlBuf.String())

	var textBuf bytes.Buffer
	if err := Render(&textBuf, s, "text"); err != nil {
		t.Fatal(err)
	}
	require(t, bytes.Contains(textBuf.Bytes(), []byte("Partition 0")), "text = %s", textBuf.String())

	if err := Render(&textBuf, s, "xml"); err == nil {
		t.Fatal("unknown format accepted")
	}
}
