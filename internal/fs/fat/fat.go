package fat

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/open-board-tools/board-image-composer/internal/blockio"
	"github.com/open-board-tools/board-image-composer/internal/format"
	"github.com/open-board-tools/board-image-composer/internal/utils/logger"
)

var log = logger.Logger()

// Filesystem is a parsed FAT volume carved out of a larger image. All reads
// go through the shared io.ReaderAt at absolute offsets; the filesystem
// never owns or seeks the underlying stream.
type Filesystem struct {
	r      io.ReaderAt
	offset int64
	size   int64

	// Bits is the FAT width: 12, 16 or 32.
	Bits int

	// Boot16 is set for FAT12/16 volumes, Boot32 and FsInfo for FAT32.
	Boot16 *BootSector
	Boot32 *BootSector32
	FsInfo *FsInfo32

	Table *Table
	Root  *Directory

	geo Geometry
}

// Open parses the FAT volume at the given absolute byte offset. bits selects
// the FAT width; pass 0 to infer it, which tries the FAT32 BPB shape first
// and falls back to the FAT12/16 layout.
func Open(r io.ReaderAt, offset, size int64, bits int) (*Filesystem, error) {
	sector, err := readSector(r, offset)
	if err != nil {
		return nil, err
	}

	fs := &Filesystem{r: r, offset: offset, size: size}
	switch bits {
	case 32:
		fs.Boot32, err = ParseBootSector32(sector)
		if err != nil {
			return nil, shiftOffset(err, offset)
		}
	case 12, 16:
		fs.Boot16, err = ParseBootSector(sector)
		if err != nil {
			return nil, shiftOffset(err, offset)
		}
	case 0:
		if fs.Boot32, err = ParseBootSector32(sector); err != nil {
			log.Debugf("not a FAT32 boot sector (%v), trying FAT12/16", err)
			fs.Boot32 = nil
			if fs.Boot16, err = ParseBootSector(sector); err != nil {
				return nil, shiftOffset(err, offset)
			}
		}
	default:
		return nil, format.Errorf(format.LayerFATBoot, offset, format.UnsupportedLayout,
			"unsupported FAT width %d", bits)
	}

	if fs.Boot32 != nil {
		fs.Bits = 32
		fs.geo = fs.Boot32
		if err := fs.checkFAT32BootRegion(); err != nil {
			return nil, err
		}
	} else {
		fs.geo = fs.Boot16
		fs.Bits = bits
		if fs.Bits == 0 {
			fs.Bits = inferWidth(fs.Boot16)
		}
	}

	if fs.Table, err = readTable(r, offset, fs.geo, fs.Bits); err != nil {
		return nil, err
	}
	if fs.Root, err = fs.readRoot(); err != nil {
		return nil, err
	}
	log.Debugf("opened FAT%d volume at %d: label %q, %d root entries",
		fs.Bits, offset, fs.Label(), len(fs.Root.Files))
	return fs, nil
}

// inferWidth picks FAT12 or FAT16 from the BPB label when it names one,
// otherwise from the cluster count (below 4085 clusters means FAT12).
func inferWidth(b *BootSector) int {
	switch {
	case strings.HasPrefix(b.FilesystemType, "FAT12"):
		return 12
	case strings.HasPrefix(b.FilesystemType, "FAT16"):
		return 16
	case b.TotalClusters() < 4085:
		return 12
	default:
		return 16
	}
}

// checkFAT32BootRegion validates the FS-info sector and, when the BPB names
// a backup boot sector, requires it to decode to the same values as the
// primary. A divergent backup is fatal.
func (fs *Filesystem) checkFAT32BootRegion() error {
	b := fs.Boot32
	bps := int64(b.BytesPerSector)

	if b.FsInfoSector != 0 && b.FsInfoSector != 0xFFFF {
		fsiOffset := fs.offset + int64(b.FsInfoSector)*bps
		sector, err := readSector(fs.r, fsiOffset)
		if err != nil {
			return err
		}
		info, err := ParseFsInfo(sector)
		if err != nil {
			return shiftOffset(err, fsiOffset)
		}
		fs.FsInfo = info
	}

	if b.BootCopySector != 0 && b.BootCopySector != 0xFFFF {
		copyOffset := fs.offset + int64(b.BootCopySector)*bps
		sector, err := readSector(fs.r, copyOffset)
		if err != nil {
			return err
		}
		backup, err := ParseBootSector32(sector)
		if err != nil {
			return shiftOffset(err, copyOffset)
		}
		if *backup != *b {
			return format.Errorf(format.LayerFATBoot, copyOffset, format.IntegrityViolation,
				"backup boot sector differs from the primary")
		}
	}
	return nil
}

// readRoot loads and decodes the root directory: the fixed region after the
// FAT copies on FAT12/16, the cluster chain named by the BPB on FAT32.
func (fs *Filesystem) readRoot() (*Directory, error) {
	var raw []byte
	var err error
	if fs.Boot16 != nil {
		rootOffset := fs.offset + fs.Boot16.RootOffset()
		raw, err = blockio.ReadExact(fs.r, rootOffset, fs.Boot16.RootSize())
		if err != nil {
			return nil, format.Wrap(format.LayerFATDir, rootOffset, format.TruncatedInput, err, "")
		}
	} else {
		raw, err = fs.readChain(fs.Boot32.RootCluster)
		if err != nil {
			return nil, err
		}
	}
	dir, err := DecodeDirectory(raw)
	if err != nil {
		return nil, err
	}
	return dir, nil
}

// clusterOffset returns the absolute byte offset of a data cluster.
func (fs *Filesystem) clusterOffset(cluster uint32) int64 {
	return fs.offset + fs.geo.DataOffset() + int64(cluster-2)*fs.geo.ClusterSize()
}

// readChain reads every cluster of a chain into one buffer.
func (fs *Filesystem) readChain(first uint32) ([]byte, error) {
	chain, err := fs.Table.Chain(first)
	if err != nil {
		return nil, err
	}
	clusterSize := fs.geo.ClusterSize()
	out := make([]byte, 0, int64(len(chain))*clusterSize)
	for _, cluster := range chain {
		data, err := blockio.ReadExact(fs.r, fs.clusterOffset(cluster), clusterSize)
		if err != nil {
			return nil, format.Wrap(format.LayerFATTable, fs.clusterOffset(cluster),
				format.TruncatedInput, err, "")
		}
		out = append(out, data...)
	}
	return out, nil
}

// Label returns the volume label, preferring the root-directory record over
// the BPB field.
func (fs *Filesystem) Label() string {
	if fs.Root != nil && fs.Root.VolumeLabel != "" {
		return fs.Root.VolumeLabel
	}
	if fs.Boot32 != nil {
		return fs.Boot32.VolumeLabel
	}
	return fs.Boot16.VolumeLabel
}

// Geometry returns the derived volume layout.
func (fs *Filesystem) Geometry() Geometry { return fs.geo }

// Files returns the root-directory entries in on-disk order.
func (fs *Filesystem) Files() []FileEntry {
	if fs.Root == nil {
		return nil
	}
	return fs.Root.Files
}

// ReadDir decodes the subdirectory a directory entry points to.
func (fs *Filesystem) ReadDir(entry FileEntry) (*Directory, error) {
	if !entry.Attr.IsDir() {
		return nil, format.Errorf(format.LayerFATDir, 0, format.UnsupportedLayout,
			"%s is not a directory", entry.Name)
	}
	raw, err := fs.readChain(entry.FirstCluster)
	if err != nil {
		return nil, err
	}
	return DecodeDirectory(raw)
}

// ReadFile returns the full content of a file entry. The final cluster is
// truncated to the recorded file size; a chain shorter than the size is a
// fatal integrity failure.
func (fs *Filesystem) ReadFile(entry FileEntry) ([]byte, error) {
	if entry.Attr.IsDir() {
		return nil, format.Errorf(format.LayerFATDir, 0, format.UnsupportedLayout,
			"%s is a directory", entry.Name)
	}
	if entry.Size == 0 {
		return nil, nil
	}
	data, err := fs.readChain(entry.FirstCluster)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) < int64(entry.Size) {
		return nil, format.Errorf(format.LayerFATTable, fs.clusterOffset(entry.FirstCluster),
			format.IntegrityViolation, "chain of %s holds %d bytes, directory records %d",
			entry.Name, len(data), entry.Size)
	}
	return data[:entry.Size], nil
}

// ExportFile streams a file entry to w one cluster at a time and returns
// the number of bytes written.
func (fs *Filesystem) ExportFile(entry FileEntry, w io.Writer) (int64, error) {
	if entry.Attr.IsDir() {
		return 0, format.Errorf(format.LayerFATDir, 0, format.UnsupportedLayout,
			"%s is a directory", entry.Name)
	}
	// Empty files carry no cluster chain; FirstCluster is 0 on disk.
	if entry.Size == 0 {
		return 0, nil
	}
	chain, err := fs.Table.Chain(entry.FirstCluster)
	if err != nil {
		return 0, err
	}
	clusterSize := fs.geo.ClusterSize()
	remaining := int64(entry.Size)
	var written int64
	for _, cluster := range chain {
		if remaining <= 0 {
			break
		}
		n := clusterSize
		if remaining < n {
			n = remaining
		}
		data, err := blockio.ReadExact(fs.r, fs.clusterOffset(cluster), n)
		if err != nil {
			return written, format.Wrap(format.LayerFATTable, fs.clusterOffset(cluster),
				format.TruncatedInput, err, "")
		}
		m, err := w.Write(data)
		written += int64(m)
		if err != nil {
			return written, err
		}
		remaining -= n
	}
	if remaining > 0 {
		return written, format.Errorf(format.LayerFATTable, fs.clusterOffset(entry.FirstCluster),
			format.IntegrityViolation, "chain of %s ended %d bytes early", entry.Name, remaining)
	}
	return written, nil
}

// ImportFile would add a file to the volume. The write path is not built.
func (fs *Filesystem) ImportFile(name string, content []byte) error {
	return format.Errorf(format.LayerFATDir, fs.offset, format.Unimplemented,
		"FAT write support")
}

// RemoveFile would delete a file from the volume. The write path is not built.
func (fs *Filesystem) RemoveFile(name string) error {
	return format.Errorf(format.LayerFATDir, fs.offset, format.Unimplemented,
		"FAT write support")
}

// Info returns a multi-line summary of the volume.
func (fs *Filesystem) Info() string {
	var b strings.Builder
	fmt.Fprintf(&b, "FAT%d volume %q\n", fs.Bits, fs.Label())
	fmt.Fprintf(&b, "  cluster size:  %s\n", humanize.IBytes(uint64(fs.geo.ClusterSize())))
	fmt.Fprintf(&b, "  FAT copies:    %d x %s at %d\n",
		fs.geo.Copies(), humanize.IBytes(uint64(fs.geo.FATSize())), fs.geo.FATOffset())
	fmt.Fprintf(&b, "  data offset:   %d\n", fs.geo.DataOffset())
	fmt.Fprintf(&b, "  clusters:      %d\n", fs.geo.TotalClusters())
	if fs.FsInfo != nil {
		fmt.Fprintf(&b, "  free clusters: %d (next free hint %d)\n",
			fs.FsInfo.FreeClusters, fs.FsInfo.NextFreeCluster)
	}
	fmt.Fprintf(&b, "  root entries:  %d\n", len(fs.Files()))
	return b.String()
}

// shiftOffset rebases a format error onto the absolute image offset.
func shiftOffset(err error, base int64) error {
	if fe, ok := err.(*format.Error); ok {
		fe.Offset += base
		return fe
	}
	return err
}
