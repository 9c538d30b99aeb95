// Package disk ties the partition-table codecs to the filesystem accessors.
// It parses the MBR at offset zero, promotes a protective entry to a full
// GPT parse, and dispatches each partition to a registered filesystem opener
// by partition type.
package disk

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/open-board-tools/board-image-composer/internal/blockio"
	"github.com/open-board-tools/board-image-composer/internal/fs/ext"
	"github.com/open-board-tools/board-image-composer/internal/fs/fat"
	"github.com/open-board-tools/board-image-composer/internal/parttable/gpt"
	"github.com/open-board-tools/board-image-composer/internal/parttable/mbr"
	"github.com/open-board-tools/board-image-composer/internal/utils/logger"
)

var log = logger.Logger()

// SectorSize is the logical sector size assumed for LBA arithmetic.
const SectorSize = 512

// Filesystem is the common surface of the per-format accessors.
type Filesystem interface {
	Info() string
}

// Opener constructs a filesystem accessor for the partition carved at the
// given absolute offset and size.
type Opener func(r io.ReaderAt, offset, size int64) (Filesystem, error)

// openers maps MBR partition types to their filesystem openers. The zero
// value of the map never changes at runtime; Register exists for boards
// carrying vendor-specific types.
var openers = map[mbr.PartitionType]Opener{
	mbr.TypeFAT12:     fatOpener(12),
	mbr.TypeFAT16_32M: fatOpener(16),
	mbr.TypeFAT16_2G:  fatOpener(16),
	mbr.TypeFAT16X:    fatOpener(16),
	mbr.TypeFAT32:     fatOpener(32),
	mbr.TypeFAT32X:    fatOpener(32),
	mbr.TypeLinux:     extOpener,
}

func fatOpener(bits int) Opener {
	return func(r io.ReaderAt, offset, size int64) (Filesystem, error) {
		fs, err := fat.Open(r, offset, size, bits)
		if err != nil {
			// A typed nil pointer in the interface would read as non-nil.
			return nil, err
		}
		return fs, nil
	}
}

func extOpener(r io.ReaderAt, offset, size int64) (Filesystem, error) {
	p, err := ext.Open(r, offset, size)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Register adds or replaces the opener for a partition type.
func Register(t mbr.PartitionType, fn Opener) {
	openers[t] = fn
}

// Partition is one dispatched slot of the disk.
type Partition struct {
	// Slot is the MBR slot or GPT entry index.
	Slot int
	// Type describes the partition: the MBR type or the GPT type GUID name.
	Type string
	// Name is the GPT partition label; empty for MBR disks.
	Name   string
	Offset int64
	Size   int64

	// FS is the opened filesystem accessor, nil when no opener matched.
	FS Filesystem
	// OpenErr records a failed filesystem open. The partition stays listed
	// so the raw bytes remain reachable.
	OpenErr error
}

// Disk is a fully dispatched image: the partition tables plus one accessor
// per recognized partition.
type Disk struct {
	r      blockio.Reader
	closer io.Closer

	MBR        *mbr.MBR
	GPT        *gpt.GPT
	Partitions []Partition
}

// Open opens an image file, decompressing transparently, and dispatches it.
// The returned disk owns the stream; a parse failure closes it before
// returning.
func Open(path string) (*Disk, error) {
	src, err := blockio.OpenImage(path)
	if err != nil {
		return nil, err
	}
	d, err := FromReader(src)
	if err != nil {
		src.Close()
		return nil, err
	}
	d.closer = src
	return d, nil
}

// FromReader dispatches an already opened source. The caller keeps ownership
// of the stream.
func FromReader(r blockio.Reader) (*Disk, error) {
	table, err := mbr.Read(r, 0)
	if err != nil {
		return nil, err
	}
	d := &Disk{r: r, MBR: table}

	for _, slot := range table.Slots() {
		entry, _ := table.Entry(slot)
		if entry.IsProtectiveGPT() {
			return d.promoteGPT(slot)
		}
	}

	for _, slot := range table.Slots() {
		entry, _ := table.Entry(slot)
		p := Partition{
			Slot:   slot,
			Type:   entry.PartitionType.Description(),
			Offset: entry.ByteOffset(SectorSize),
			Size:   entry.ByteSize(SectorSize),
		}
		if opener, ok := openers[entry.PartitionType]; ok {
			fs, err := opener(r, p.Offset, p.Size)
			if err != nil {
				p.OpenErr = err
				log.Warnf("Partition %d (%s): %v", slot, p.Type, err)
			} else {
				p.FS = fs
			}
		}
		d.Partitions = append(d.Partitions, p)
	}
	return d, nil
}

// promoteGPT parses the GPT a protective MBR entry points at and dispatches
// its entries. Type dispatch uses the GPT type GUID: FAT for EFI System and
// Basic Data entries, ext for Linux filesystem entries.
func (d *Disk) promoteGPT(slot int) (*Disk, error) {
	entry, _ := d.MBR.Entry(slot)
	table, err := gpt.Read(d.r, entry.ByteOffset(SectorSize), SectorSize)
	if err != nil {
		return nil, err
	}
	d.GPT = table

	for _, idx := range table.Slots() {
		ge, _ := table.Entry(idx)
		p := Partition{
			Slot:   idx,
			Type:   gpt.TypeDescription(ge.TypeGUID),
			Name:   ge.Name,
			Offset: ge.ByteOffset(SectorSize),
			Size:   ge.ByteSize(SectorSize),
		}
		var opener Opener
		switch {
		case strings.Contains(p.Type, "EFI System") || strings.Contains(p.Type, "Basic Data"):
			opener = fatOpener(0)
		case strings.Contains(p.Type, "Linux"):
			opener = extOpener
		}
		if opener != nil {
			fs, err := opener(d.r, p.Offset, p.Size)
			if err != nil {
				p.OpenErr = err
				log.Warnf("GPT entry %d (%s): %v", idx, p.Type, err)
			} else {
				p.FS = fs
			}
		}
		d.Partitions = append(d.Partitions, p)
	}
	return d, nil
}

// PrimaryFS returns the first partition that opened a filesystem accessor.
func (d *Disk) PrimaryFS() (Partition, bool) {
	for _, p := range d.Partitions {
		if p.FS != nil {
			return p, true
		}
	}
	return Partition{}, false
}

// Partition returns the partition in the given slot.
func (d *Disk) Partition(slot int) (Partition, bool) {
	for _, p := range d.Partitions {
		if p.Slot == slot {
			return p, true
		}
	}
	return Partition{}, false
}

// Reader exposes the underlying byte source for raw region access.
func (d *Disk) Reader() blockio.Reader { return d.r }

// Close releases the underlying stream when the disk owns it.
func (d *Disk) Close() error {
	if d.closer == nil {
		return nil
	}
	err := d.closer.Close()
	d.closer = nil
	return err
}

// Info renders a per-partition summary of the whole disk.
func (d *Disk) Info() string {
	var b strings.Builder
	if d.GPT != nil {
		b.WriteString(d.GPT.Header.Info())
	} else {
		b.WriteString(d.MBR.Info())
	}

	parts := append([]Partition(nil), d.Partitions...)
	sort.Slice(parts, func(i, j int) bool { return parts[i].Slot < parts[j].Slot })
	for _, p := range parts {
		name := p.Type
		if p.Name != "" {
			name = fmt.Sprintf("%s (%s)", p.Name, p.Type)
		}
		fmt.Fprintf(&b, "\npartition %d: %s, %s at offset %d\n",
			p.Slot, name, humanize.IBytes(uint64(p.Size)), p.Offset)
		switch {
		case p.FS != nil:
			for _, line := range strings.Split(strings.TrimRight(p.FS.Info(), "\n"), "\n") {
				b.WriteString("  " + line + "\n")
			}
		case p.OpenErr != nil:
			fmt.Fprintf(&b, "  unreadable: %v\n", p.OpenErr)
		default:
			b.WriteString("  raw partition, no filesystem accessor\n")
		}
	}
	return b.String()
}
