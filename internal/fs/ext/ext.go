// Package ext provides raw access to ext2/3/4 partitions. The filesystem
// itself is not decoded; the partition is carved out of the image by offset
// and size, with just enough superblock probing to report the volume label,
// UUID and block geometry.
package ext

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/lunixbochs/struc"

	"github.com/open-board-tools/board-image-composer/internal/blockio"
	"github.com/open-board-tools/board-image-composer/internal/format"
)

const (
	// The superblock sits 1024 bytes into the partition.
	superblockOffset = 1024
	superblockSize   = 1024

	superblockMagic = 0xEF53

	// Export streams in fixed chunks to keep memory flat on large partitions.
	exportChunkSize = 1 << 20
)

// rawSuperblock covers the leading fields of the ext superblock, enough for
// identity and geometry reporting.
type rawSuperblock struct {
	InodesCount      uint32   `struc:"uint32,little"`
	BlocksCount      uint32   `struc:"uint32,little"`
	RBlocksCount     uint32   `struc:"uint32,little"`
	FreeBlocks       uint32   `struc:"uint32,little"`
	FreeInodes       uint32   `struc:"uint32,little"`
	FirstDataBlock   uint32   `struc:"uint32,little"`
	LogBlockSize     uint32   `struc:"uint32,little"`
	LogClusterSize   uint32   `struc:"uint32,little"`
	BlocksPerGroup   uint32   `struc:"uint32,little"`
	ClustersPerGroup uint32   `struc:"uint32,little"`
	InodesPerGroup   uint32   `struc:"uint32,little"`
	MountTime        uint32   `struc:"uint32,little"`
	WriteTime        uint32   `struc:"uint32,little"`
	MountCount       uint16   `struc:"uint16,little"`
	MaxMountCount    uint16   `struc:"uint16,little"`
	Magic            uint16   `struc:"uint16,little"`
	State            uint16   `struc:"uint16,little"`
	Errors           uint16   `struc:"uint16,little"`
	MinorRevision    uint16   `struc:"uint16,little"`
	LastCheck        uint32   `struc:"uint32,little"`
	CheckInterval    uint32   `struc:"uint32,little"`
	CreatorOS        uint32   `struc:"uint32,little"`
	Revision         uint32   `struc:"uint32,little"`
	DefaultResUID    uint16   `struc:"uint16,little"`
	DefaultResGID    uint16   `struc:"uint16,little"`
	FirstInode       uint32   `struc:"uint32,little"`
	InodeSize        uint16   `struc:"uint16,little"`
	BlockGroupNr     uint16   `struc:"uint16,little"`
	FeatureCompat    uint32   `struc:"uint32,little"`
	FeatureIncompat  uint32   `struc:"uint32,little"`
	FeatureROCompat  uint32   `struc:"uint32,little"`
	UUID             [16]byte `struc:"[16]byte"`
	VolumeName       [16]byte `struc:"[16]byte"`
}

// Partition is a raw ext partition carved out of a larger image.
type Partition struct {
	r      io.ReaderAt
	offset int64
	size   int64

	// Identity read from the superblock.
	Label       string
	UUID        uuid.UUID
	BlockSize   int64
	BlocksCount uint32
	InodesCount uint32
	FreeBlocks  uint32
	Revision    uint32
}

// Open carves the partition at the given absolute offset and probes the
// superblock. A missing 0xEF53 magic fails: the caller asked for an ext
// partition and the bytes do not hold one.
func Open(r io.ReaderAt, offset, size int64) (*Partition, error) {
	data, err := blockio.ReadExact(r, offset+superblockOffset, superblockSize)
	if err != nil {
		return nil, format.Wrap(format.LayerExt, offset+superblockOffset, format.TruncatedInput, err, "")
	}
	var raw rawSuperblock
	if err := struc.Unpack(bytes.NewReader(data), &raw); err != nil {
		return nil, format.Wrap(format.LayerExt, offset+superblockOffset, format.TruncatedInput, err, "unpack superblock")
	}
	if raw.Magic != superblockMagic {
		return nil, format.Errorf(format.LayerExt, offset+superblockOffset+56, format.BadSignature,
			"superblock magic 0x%04X, want 0x%04X", raw.Magic, superblockMagic)
	}

	var id uuid.UUID
	copy(id[:], raw.UUID[:])
	return &Partition{
		r:           r,
		offset:      offset,
		size:        size,
		Label:       trimLabel(raw.VolumeName[:]),
		UUID:        id,
		BlockSize:   1024 << raw.LogBlockSize,
		BlocksCount: raw.BlocksCount,
		InodesCount: raw.InodesCount,
		FreeBlocks:  raw.FreeBlocks,
		Revision:    raw.Revision,
	}, nil
}

// Size returns the carved partition size in bytes.
func (p *Partition) Size() int64 { return p.size }

// ReadAt reads from the partition at a partition-relative offset.
func (p *Partition) ReadAt(b []byte, off int64) (int, error) {
	if off >= p.size {
		return 0, io.EOF
	}
	if max := p.size - off; int64(len(b)) > max {
		b = b[:max]
		n, err := p.r.ReadAt(b, p.offset+off)
		if err == nil {
			err = io.EOF
		}
		return n, err
	}
	return p.r.ReadAt(b, p.offset+off)
}

// Export streams the whole partition to w in fixed-size chunks and returns
// the number of bytes written.
func (p *Partition) Export(w io.Writer) (int64, error) {
	var written int64
	buf := make([]byte, exportChunkSize)
	for written < p.size {
		n := int64(len(buf))
		if rest := p.size - written; rest < n {
			n = rest
		}
		if _, err := io.ReadFull(io.NewSectionReader(p.r, p.offset+written, n), buf[:n]); err != nil {
			return written, format.Wrap(format.LayerExt, p.offset+written, format.TruncatedInput, err, "")
		}
		m, err := w.Write(buf[:n])
		written += int64(m)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// Info returns a multi-line summary of the partition.
func (p *Partition) Info() string {
	label := p.Label
	if label == "" {
		label = "(none)"
	}
	return fmt.Sprintf("ext filesystem %s\n  label:       %s\n  block size:  %s\n  blocks:      %d (%d free)\n  inodes:      %d\n  carved size: %s\n",
		p.UUID, label, humanize.IBytes(uint64(p.BlockSize)),
		p.BlocksCount, p.FreeBlocks, p.InodesCount, humanize.IBytes(uint64(p.size)))
}

func trimLabel(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
