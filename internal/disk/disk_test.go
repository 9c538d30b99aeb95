package disk

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/open-board-tools/board-image-composer/internal/blockio"
	"github.com/open-board-tools/board-image-composer/internal/fs/ext"
	"github.com/open-board-tools/board-image-composer/internal/fs/fat"
	"github.com/open-board-tools/board-image-composer/internal/parttable/gpt"
	"github.com/open-board-tools/board-image-composer/internal/parttable/mbr"
)

func require(t *testing.T, cond bool, msg string, args ...interface{}) {
	t.Helper()
	if !cond {
		t.Fatalf(msg, args...)
	}
}

// fat12Volume builds a 12-sector FAT12 volume with one file in cluster 2.
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
	copy(table, []byte{0xF8, 0xFF, 0xFF, 0xFF, 0x0F, 0x00}) // cluster 2 -> EOF
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

// extVolume builds a 4 KiB region with a valid ext superblock at +1024.
func extVolume(t *testing.T) []byte {
	t.Helper()
	vol := make([]byte, 4096)
	sb := vol[1024:]
	binary.LittleEndian.PutUint32(sb[4:], 4)
	binary.LittleEndian.PutUint16(sb[56:], 0xEF53)
	copy(sb[120:], "rootfs")
	return vol
}

func TestDispatchMBR(t *testing.T) {
	table := mbr.New(nil)
	require(t, table.SetEntry(0, mbr.PartitionEntry{
		Bootable: true, PartitionType: mbr.TypeFAT12, LBAStart: 4, NumSectors: 12,
	}) == nil, "SetEntry 0")
	require(t, table.SetEntry(1, mbr.PartitionEntry{
		PartitionType: mbr.TypeLinux, LBAStart: 20, NumSectors: 8,
	}) == nil, "SetEntry 1")
	sector, err := table.Export()
	if err != nil {
		t.Fatal(err)
	}

	img := make([]byte, 28*512)
	copy(img[0:], sector)
	copy(img[4*512:], fat12Volume(t))
	copy(img[20*512:], extVolume(t))

	d, err := FromReader(blockio.NewBuffer(img))
	if err != nil {
		t.Fatalf("FromReader: %v", err)
	}
	defer d.Close()

	require(t, d.GPT == nil, "unexpected GPT promotion")
	require(t, len(d.Partitions) == 2, "partitions = %d", len(d.Partitions))

	p0, ok := d.Partition(0)
	require(t, ok && p0.OpenErr == nil, "slot 0: %+v", p0)
	fatFS, ok := p0.FS.(*fat.Filesystem)
	require(t, ok, "slot 0 FS type %T", p0.FS)
	require(t, fatFS.Bits == 12, "slot 0 bits = %d", fatFS.Bits)
	entry, ok := fatFS.Root.Lookup("BOOT.SCR")
	require(t, ok, "BOOT.SCR missing")
	content, err := fatFS.ReadFile(entry)
	require(t, err == nil && string(content) == "setup", "content = %q, %v", content, err)

	p1, ok := d.Partition(1)
	require(t, ok && p1.OpenErr == nil, "slot 1: %+v", p1)
	extFS, ok := p1.FS.(*ext.Partition)
	require(t, ok, "slot 1 FS type %T", p1.FS)
	require(t, extFS.Label == "rootfs", "ext label = %q", extFS.Label)

	primary, ok := d.PrimaryFS()
	require(t, ok && primary.Slot == 0, "primary = %+v", primary)
}

func TestDispatchGPTPromotion(t *testing.T) {
	h := gpt.NewHeader()
	h.DiskGUID = uuid.New()
	h.CurrentLBA = 1
	h.BackupLBA = 51
	h.FirstUsableLBA = 34
	h.LastUsableLBA = 51
	h.PartitionEntryLBA = 2

	g := gpt.New(h, 512)
	err := g.SetEntry(0, gpt.PartitionEntry{
		TypeGUID:      uuid.MustParse("c12a7328-f81f-11d2-ba4b-00a0c93ec93b"),
		PartitionGUID: uuid.New(),
		FirstLBA:      40,
		LastLBA:       51,
		Name:          "boot",
	})
	require(t, err == nil, "SetEntry: %v", err)
	gptBytes, err := g.Export()
	if err != nil {
		t.Fatal(err)
	}

	table := mbr.New(nil)
	require(t, table.SetEntry(0, mbr.PartitionEntry{
		PartitionType: mbr.TypeProtectiveGPT, LBAStart: 1, NumSectors: 51,
	}) == nil, "SetEntry")
	sector, err := table.Export()
	if err != nil {
		t.Fatal(err)
	}

	img := make([]byte, 52*512)
	copy(img[0:], sector)
	copy(img[512:], gptBytes)
	copy(img[40*512:], fat12Volume(t))

	d, err := FromReader(blockio.NewBuffer(img))
	if err != nil {
		t.Fatalf("FromReader: %v", err)
	}
	defer d.Close()

	require(t, d.GPT != nil, "GPT not promoted")
	require(t, len(d.Partitions) == 1, "partitions = %d", len(d.Partitions))
	p := d.Partitions[0]
	require(t, p.Name == "boot", "name = %q", p.Name)
	require(t, p.OpenErr == nil, "open err: %v", p.OpenErr)
	fatFS, ok := p.FS.(*fat.Filesystem)
	require(t, ok && fatFS.Bits == 12, "FS = %T", p.FS)
}

func TestOpenFailureIsRecordedPerPartition(t *testing.T) {
	table := mbr.New(nil)
	require(t, table.SetEntry(0, mbr.PartitionEntry{
		PartitionType: mbr.TypeFAT32, LBAStart: 4, NumSectors: 8,
	}) == nil, "SetEntry")
	sector, err := table.Export()
	if err != nil {
		t.Fatal(err)
	}

	// The claimed FAT32 partition holds zeros: the open fails, the disk
	// dispatch does not.
	img := make([]byte, 12*512)
	copy(img[0:], sector)

	d, err := FromReader(blockio.NewBuffer(img))
	if err != nil {
		t.Fatalf("FromReader: %v", err)
	}
	p := d.Partitions[0]
	require(t, p.FS == nil, "FS = %v", p.FS)
	require(t, p.OpenErr != nil, "expected recorded open error")

	if _, ok := d.PrimaryFS(); ok {
		t.Fatal("PrimaryFS found a filesystem on an unreadable disk")
	}
	// Info must render the broken partition, not dereference it.
	require(t, strings.Contains(d.Info(), "unreadable:"), "info = %q", d.Info())
}

func TestGPTOpenFailureIsRecordedPerEntry(t *testing.T) {
	table := mbr.New(nil)
	require(t, table.SetEntry(0, mbr.PartitionEntry{
		PartitionType: mbr.TypeProtectiveGPT, LBAStart: 1, NumSectors: 51,
	}) == nil, "SetEntry")
	sector, err := table.Export()
	if err != nil {
		t.Fatal(err)
	}

	h := gpt.NewHeader()
	h.DiskGUID = uuid.New()
	h.CurrentLBA = 1
	h.BackupLBA = 51
	h.FirstUsableLBA = 34
	h.LastUsableLBA = 51
	h.PartitionEntryLBA = 2

	g := gpt.New(h, 512)
	require(t, g.SetEntry(0, gpt.PartitionEntry{
		TypeGUID:      uuid.MustParse("c12a7328-f81f-11d2-ba4b-00a0c93ec93b"),
		PartitionGUID: uuid.New(),
		FirstLBA:      40,
		LastLBA:       47,
		Name:          "boot",
	}) == nil, "SetEntry")
	gptBytes, err := g.Export()
	if err != nil {
		t.Fatal(err)
	}

	// The EFI System entry points at zeros: no FAT volume to open.
	img := make([]byte, 52*512)
	copy(img[0:], sector)
	copy(img[512:], gptBytes)

	d, err := FromReader(blockio.NewBuffer(img))
	if err != nil {
		t.Fatalf("FromReader: %v", err)
	}
	p := d.Partitions[0]
	require(t, p.FS == nil, "FS = %v", p.FS)
	require(t, p.OpenErr != nil, "expected recorded open error")
	require(t, strings.Contains(d.Info(), "unreadable:"), "info = %q", d.Info())
}

func TestUnknownTypeStaysRaw(t *testing.T) {
	table := mbr.New(nil)
	require(t, table.SetEntry(0, mbr.PartitionEntry{
		PartitionType: mbr.TypeLinuxSwap, LBAStart: 4, NumSectors: 8,
	}) == nil, "SetEntry")
	sector, err := table.Export()
	if err != nil {
		t.Fatal(err)
	}
	img := make([]byte, 12*512)
	copy(img[0:], sector)

	d, err := FromReader(blockio.NewBuffer(img))
	if err != nil {
		t.Fatal(err)
	}
	p := d.Partitions[0]
	require(t, p.FS == nil && p.OpenErr == nil, "swap partition should stay raw: %+v", p)
}
