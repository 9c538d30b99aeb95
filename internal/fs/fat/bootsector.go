// Package fat implements the FAT12/16/32 on-disk codec: boot region, FS-info
// sector, the file allocation table with its cluster-chain walker, and the
// short/long directory-entry codec. The package reads from an io.ReaderAt at
// explicit absolute offsets and never keeps cursor state on the stream.
package fat

import (
	"bytes"
	"io"
	"strings"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/open-board-tools/board-image-composer/internal/blockio"
	"github.com/open-board-tools/board-image-composer/internal/format"
)

// Sector-level constants.
const (
	SectorSize    = 512
	bootSignature = 0xAA55
)

// FAT32 boot sectors start with a short jump over the BPB: EB 3C 90.
var jumpMagic = [3]byte{0xEB, 0x3C, 0x90}

// Geometry is the derived layout both boot-sector variants expose. All
// offsets are relative to the partition start.
type Geometry interface {
	// ClusterSize returns bytes per cluster.
	ClusterSize() int64
	// FATOffset returns the byte offset of the first FAT copy.
	FATOffset() int64
	// FATSize returns the byte length of one FAT copy.
	FATSize() int64
	// Copies returns the number of FAT copies.
	Copies() int
	// DataOffset returns the byte offset of the data region (cluster 2).
	DataOffset() int64
	// TotalClusters returns the number of addressable data clusters.
	TotalClusters() int64
}

// rawBootSector is the 512-byte FAT12/16 boot sector.
type rawBootSector struct {
	Jump              [3]byte  `struc:"[3]byte"`
	OEMName           [8]byte  `struc:"[8]byte"`
	BytesPerSector    uint16   `struc:"uint16,little"`
	SectorsPerCluster uint8    `struc:"uint8"`
	ReservedSectors   uint16   `struc:"uint16,little"`
	FATCopies         uint8    `struc:"uint8"`
	MaxRootEntries    uint16   `struc:"uint16,little"`
	TotalSectors16    uint16   `struc:"uint16,little"`
	MediaDescriptor   byte     `struc:"uint8"`
	SectorsPerFAT     uint16   `struc:"uint16,little"`
	SectorsPerTrack   uint16   `struc:"uint16,little"`
	Heads             uint16   `struc:"uint16,little"`
	HiddenSectors     uint32   `struc:"uint32,little"`
	TotalSectors32    uint32   `struc:"uint32,little"`
	DriveNumber       byte     `struc:"uint8"`
	Reserved          byte     `struc:"uint8"`
	ExtBootSignature  byte     `struc:"uint8"`
	VolumeID          uint32   `struc:"uint32,little"`
	VolumeLabel       [11]byte `struc:"[11]byte"`
	FilesystemType    [8]byte  `struc:"[8]byte"`
	Bootstrap         [448]byte `struc:"[448]byte"`
	Signature         uint16   `struc:"uint16,little"`
}

// rawBootSector32 is the 512-byte FAT32 boot sector.
type rawBootSector32 struct {
	Jump              [3]byte  `struc:"[3]byte"`
	OEMName           [8]byte  `struc:"[8]byte"`
	BytesPerSector    uint16   `struc:"uint16,little"`
	SectorsPerCluster uint8    `struc:"uint8"`
	ReservedSectors   uint16   `struc:"uint16,little"`
	FATCopies         uint8    `struc:"uint8"`
	MaxRootEntries    uint16   `struc:"uint16,little"`
	TotalSectors16    uint16   `struc:"uint16,little"`
	MediaDescriptor   byte     `struc:"uint8"`
	SectorsPerFAT16   uint16   `struc:"uint16,little"`
	SectorsPerTrack   uint16   `struc:"uint16,little"`
	Heads             uint16   `struc:"uint16,little"`
	HiddenSectors     uint32   `struc:"uint32,little"`
	TotalSectors32    uint32   `struc:"uint32,little"`
	SectorsPerFAT     uint32   `struc:"uint32,little"`
	Flags             uint16   `struc:"uint16,little"`
	Version           uint16   `struc:"uint16,little"`
	RootCluster       uint32   `struc:"uint32,little"`
	FsInfoSector      uint16   `struc:"uint16,little"`
	BootCopySector    uint16   `struc:"uint16,little"`
	Reserved          [12]byte `struc:"[12]byte"`
	DriveNumber       byte     `struc:"uint8"`
	Reserved1         byte     `struc:"uint8"`
	ExtBootSignature  byte     `struc:"uint8"`
	VolumeID          uint32   `struc:"uint32,little"`
	VolumeLabel       [11]byte `struc:"[11]byte"`
	FilesystemType    [8]byte  `struc:"[8]byte"`
	Bootstrap         [420]byte `struc:"[420]byte"`
	Signature         uint16   `struc:"uint16,little"`
}

// BootSector is the decoded FAT12/16 boot sector.
type BootSector struct {
	Jump              [3]byte
	OEMName           string
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	FATCopies         uint8
	MaxRootEntries    uint16
	TotalSectors      uint32
	MediaDescriptor   byte
	SectorsPerFAT     uint16
	SectorsPerTrack   uint16
	Heads             uint16
	HiddenSectors     uint32
	DriveNumber       byte
	ExtBootSignature  byte
	VolumeID          uint32
	VolumeLabel       string
	FilesystemType    string
	Bootstrap         [448]byte
}

// ClusterSize returns bytes per cluster.
func (b *BootSector) ClusterSize() int64 {
	return int64(b.BytesPerSector) * int64(b.SectorsPerCluster)
}

// FATOffset returns the byte offset of the first FAT copy.
func (b *BootSector) FATOffset() int64 {
	return int64(b.BytesPerSector) * int64(b.ReservedSectors)
}

// FATSize returns the byte length of one FAT copy.
func (b *BootSector) FATSize() int64 {
	return int64(b.SectorsPerFAT) * int64(b.BytesPerSector)
}

// Copies returns the number of FAT copies.
func (b *BootSector) Copies() int { return int(b.FATCopies) }

// RootOffset returns the byte offset of the fixed root-directory region.
func (b *BootSector) RootOffset() int64 {
	return b.FATOffset() + int64(b.FATCopies)*b.FATSize()
}

// RootSize returns the byte length of the fixed root-directory region.
func (b *BootSector) RootSize() int64 {
	return int64(b.MaxRootEntries) * dirEntrySize
}

// DataOffset returns the byte offset of the data region.
func (b *BootSector) DataOffset() int64 {
	return b.RootOffset() + b.RootSize()
}

// TotalClusters returns the number of addressable data clusters.
func (b *BootSector) TotalClusters() int64 {
	dataBytes := int64(b.TotalSectors)*int64(b.BytesPerSector) - b.DataOffset()
	if dataBytes < 0 {
		return 0
	}
	return dataBytes / b.ClusterSize()
}

// ParseBootSector decodes a FAT12/16 boot sector.
func ParseBootSector(data []byte) (*BootSector, error) {
	var raw rawBootSector
	if err := unpackSector(data, &raw); err != nil {
		return nil, err
	}
	if raw.Signature != bootSignature {
		return nil, format.Errorf(format.LayerFATBoot, SectorSize-2, format.BadSignature,
			"boot signature 0x%04X, want 0x%04X", raw.Signature, bootSignature)
	}
	if raw.BytesPerSector == 0 || raw.SectorsPerCluster == 0 || raw.FATCopies == 0 {
		return nil, format.Errorf(format.LayerFATBoot, 0, format.UnsupportedLayout,
			"zero-valued geometry field (bytes/sector=%d, sectors/cluster=%d, fat copies=%d)",
			raw.BytesPerSector, raw.SectorsPerCluster, raw.FATCopies)
	}
	if raw.SectorsPerFAT == 0 {
		return nil, format.Errorf(format.LayerFATBoot, 22, format.UnsupportedLayout,
			"sectors per FAT is zero; not a FAT12/16 layout")
	}

	b := &BootSector{
		Jump:              raw.Jump,
		OEMName:           trimPadding(raw.OEMName[:]),
		BytesPerSector:    raw.BytesPerSector,
		SectorsPerCluster: raw.SectorsPerCluster,
		ReservedSectors:   raw.ReservedSectors,
		FATCopies:         raw.FATCopies,
		MaxRootEntries:    raw.MaxRootEntries,
		TotalSectors:      uint32(raw.TotalSectors16),
		MediaDescriptor:   raw.MediaDescriptor,
		SectorsPerFAT:     raw.SectorsPerFAT,
		SectorsPerTrack:   raw.SectorsPerTrack,
		Heads:             raw.Heads,
		HiddenSectors:     raw.HiddenSectors,
		DriveNumber:       raw.DriveNumber,
		ExtBootSignature:  raw.ExtBootSignature,
		VolumeID:          raw.VolumeID,
		VolumeLabel:       trimPadding(raw.VolumeLabel[:]),
		FilesystemType:    trimPadding(raw.FilesystemType[:]),
		Bootstrap:         raw.Bootstrap,
	}
	if b.TotalSectors == 0 {
		b.TotalSectors = raw.TotalSectors32
	}
	return b, nil
}

// Export serializes the boot sector back to its 512 bytes.
func (b *BootSector) Export() ([]byte, error) {
	raw := rawBootSector{
		Jump:              b.Jump,
		BytesPerSector:    b.BytesPerSector,
		SectorsPerCluster: b.SectorsPerCluster,
		ReservedSectors:   b.ReservedSectors,
		FATCopies:         b.FATCopies,
		MaxRootEntries:    b.MaxRootEntries,
		MediaDescriptor:   b.MediaDescriptor,
		SectorsPerFAT:     b.SectorsPerFAT,
		SectorsPerTrack:   b.SectorsPerTrack,
		Heads:             b.Heads,
		HiddenSectors:     b.HiddenSectors,
		DriveNumber:       b.DriveNumber,
		ExtBootSignature:  b.ExtBootSignature,
		VolumeID:          b.VolumeID,
		Bootstrap:         b.Bootstrap,
		Signature:         bootSignature,
	}
	if b.TotalSectors > 0xFFFF {
		raw.TotalSectors32 = b.TotalSectors
	} else {
		raw.TotalSectors16 = uint16(b.TotalSectors)
	}
	setPadded(raw.OEMName[:], b.OEMName)
	setPadded(raw.VolumeLabel[:], b.VolumeLabel)
	setPadded(raw.FilesystemType[:], b.FilesystemType)
	return packSector(&raw)
}

// BootSector32 is the decoded FAT32 boot sector.
type BootSector32 struct {
	Jump              [3]byte
	OEMName           string
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	FATCopies         uint8
	TotalSectors      uint32
	MediaDescriptor   byte
	SectorsPerFAT     uint32
	SectorsPerTrack   uint16
	Heads             uint16
	HiddenSectors     uint32
	Flags             uint16
	Version           uint16
	RootCluster       uint32
	FsInfoSector      uint16
	BootCopySector    uint16
	DriveNumber       byte
	ExtBootSignature  byte
	VolumeID          uint32
	VolumeLabel       string
	FilesystemType    string
	Bootstrap         [420]byte
}

// ClusterSize returns bytes per cluster.
func (b *BootSector32) ClusterSize() int64 {
	return int64(b.BytesPerSector) * int64(b.SectorsPerCluster)
}

// FATOffset returns the byte offset of the first FAT copy.
func (b *BootSector32) FATOffset() int64 {
	return int64(b.BytesPerSector) * int64(b.ReservedSectors)
}

// FATSize returns the byte length of one FAT copy.
func (b *BootSector32) FATSize() int64 {
	return int64(b.SectorsPerFAT) * int64(b.BytesPerSector)
}

// Copies returns the number of FAT copies.
func (b *BootSector32) Copies() int { return int(b.FATCopies) }

// DataOffset returns the byte offset of the data region. FAT32 has no fixed
// root-directory region; the root directory is a cluster chain.
func (b *BootSector32) DataOffset() int64 {
	return b.FATOffset() + int64(b.FATCopies)*b.FATSize()
}

// TotalClusters returns the number of addressable data clusters.
func (b *BootSector32) TotalClusters() int64 {
	dataBytes := int64(b.TotalSectors)*int64(b.BytesPerSector) - b.DataOffset()
	if dataBytes < 0 {
		return 0
	}
	return dataBytes / b.ClusterSize()
}

// ParseBootSector32 decodes a FAT32 boot sector. Input with a FAT12/16
// shaped BPB fails with an unsupported-layout error, which the inference
// path in Open uses to fall back to the 16-bit layout.
func ParseBootSector32(data []byte) (*BootSector32, error) {
	var raw rawBootSector32
	if err := unpackSector(data, &raw); err != nil {
		return nil, err
	}
	if raw.Signature != bootSignature {
		return nil, format.Errorf(format.LayerFATBoot, SectorSize-2, format.BadSignature,
			"boot signature 0x%04X, want 0x%04X", raw.Signature, bootSignature)
	}
	if raw.Jump != jumpMagic {
		return nil, format.Errorf(format.LayerFATBoot, 0, format.BadSignature,
			"jump instruction % X, want % X", raw.Jump[:], jumpMagic[:])
	}
	if raw.BytesPerSector == 0 || raw.SectorsPerCluster == 0 || raw.FATCopies == 0 {
		return nil, format.Errorf(format.LayerFATBoot, 0, format.UnsupportedLayout,
			"zero-valued geometry field (bytes/sector=%d, sectors/cluster=%d, fat copies=%d)",
			raw.BytesPerSector, raw.SectorsPerCluster, raw.FATCopies)
	}
	// The canonical FAT32 discriminant: no fixed root region, no 16-bit FAT
	// size, a 32-bit FAT size present.
	if raw.MaxRootEntries != 0 || raw.SectorsPerFAT16 != 0 || raw.SectorsPerFAT == 0 {
		return nil, format.Errorf(format.LayerFATBoot, 36, format.UnsupportedLayout,
			"not a FAT32 BPB (root entries=%d, fat16 size=%d, fat32 size=%d)",
			raw.MaxRootEntries, raw.SectorsPerFAT16, raw.SectorsPerFAT)
	}

	b := &BootSector32{
		Jump:              raw.Jump,
		OEMName:           trimPadding(raw.OEMName[:]),
		BytesPerSector:    raw.BytesPerSector,
		SectorsPerCluster: raw.SectorsPerCluster,
		ReservedSectors:   raw.ReservedSectors,
		FATCopies:         raw.FATCopies,
		TotalSectors:      raw.TotalSectors32,
		MediaDescriptor:   raw.MediaDescriptor,
		SectorsPerFAT:     raw.SectorsPerFAT,
		SectorsPerTrack:   raw.SectorsPerTrack,
		Heads:             raw.Heads,
		HiddenSectors:     raw.HiddenSectors,
		Flags:             raw.Flags,
		Version:           raw.Version,
		RootCluster:       raw.RootCluster,
		FsInfoSector:      raw.FsInfoSector,
		BootCopySector:    raw.BootCopySector,
		DriveNumber:       raw.DriveNumber,
		ExtBootSignature:  raw.ExtBootSignature,
		VolumeID:          raw.VolumeID,
		VolumeLabel:       trimPadding(raw.VolumeLabel[:]),
		FilesystemType:    trimPadding(raw.FilesystemType[:]),
		Bootstrap:         raw.Bootstrap,
	}
	if b.TotalSectors == 0 {
		b.TotalSectors = uint32(raw.TotalSectors16)
	}
	return b, nil
}

// Export serializes the boot sector back to its 512 bytes.
func (b *BootSector32) Export() ([]byte, error) {
	raw := rawBootSector32{
		Jump:              jumpMagic,
		BytesPerSector:    b.BytesPerSector,
		SectorsPerCluster: b.SectorsPerCluster,
		ReservedSectors:   b.ReservedSectors,
		FATCopies:         b.FATCopies,
		TotalSectors32:    b.TotalSectors,
		MediaDescriptor:   b.MediaDescriptor,
		SectorsPerFAT:     b.SectorsPerFAT,
		SectorsPerTrack:   b.SectorsPerTrack,
		Heads:             b.Heads,
		HiddenSectors:     b.HiddenSectors,
		Flags:             b.Flags,
		Version:           b.Version,
		RootCluster:       b.RootCluster,
		FsInfoSector:      b.FsInfoSector,
		BootCopySector:    b.BootCopySector,
		DriveNumber:       b.DriveNumber,
		ExtBootSignature:  b.ExtBootSignature,
		VolumeID:          b.VolumeID,
		Bootstrap:         b.Bootstrap,
		Signature:         bootSignature,
	}
	setPadded(raw.OEMName[:], b.OEMName)
	setPadded(raw.VolumeLabel[:], b.VolumeLabel)
	setPadded(raw.FilesystemType[:], b.FilesystemType)
	return packSector(&raw)
}

// FsInfo32 signatures.
const (
	fsInfoLeadSignature   = 0x41615252
	fsInfoStructSignature = 0x61417272
	fsInfoTrailSignature  = 0xAA550000
)

// rawFsInfo is the 512-byte FAT32 FS-info sector.
type rawFsInfo struct {
	LeadSignature   uint32    `struc:"uint32,little"`
	Reserved1       [480]byte `struc:"[480]byte"`
	StructSignature uint32    `struc:"uint32,little"`
	FreeClusters    uint32    `struc:"uint32,little"`
	NextFreeCluster uint32    `struc:"uint32,little"`
	Reserved2       [12]byte  `struc:"[12]byte"`
	TrailSignature  uint32    `struc:"uint32,little"`
}

// FsInfo32 is the decoded FAT32 FS-info sector: the cached free-cluster
// count and the next-free allocation hint.
type FsInfo32 struct {
	FreeClusters    uint32
	NextFreeCluster uint32
}

// ParseFsInfo decodes the FS-info sector, requiring all of its signature
// fields to match.
func ParseFsInfo(data []byte) (*FsInfo32, error) {
	var raw rawFsInfo
	if err := unpackSector(data, &raw); err != nil {
		return nil, err
	}
	if raw.LeadSignature != fsInfoLeadSignature {
		return nil, format.Errorf(format.LayerFATFsInfo, 0, format.BadSignature,
			"lead signature 0x%08X, want 0x%08X", raw.LeadSignature, fsInfoLeadSignature)
	}
	if raw.StructSignature != fsInfoStructSignature {
		return nil, format.Errorf(format.LayerFATFsInfo, 484, format.BadSignature,
			"struct signature 0x%08X, want 0x%08X", raw.StructSignature, fsInfoStructSignature)
	}
	if raw.TrailSignature != fsInfoTrailSignature {
		return nil, format.Errorf(format.LayerFATFsInfo, 508, format.BadSignature,
			"trail signature 0x%08X, want 0x%08X", raw.TrailSignature, fsInfoTrailSignature)
	}
	return &FsInfo32{
		FreeClusters:    raw.FreeClusters,
		NextFreeCluster: raw.NextFreeCluster,
	}, nil
}

// Export serializes the FS-info sector back to its 512 bytes.
func (f *FsInfo32) Export() ([]byte, error) {
	raw := rawFsInfo{
		LeadSignature:   fsInfoLeadSignature,
		StructSignature: fsInfoStructSignature,
		FreeClusters:    f.FreeClusters,
		NextFreeCluster: f.NextFreeCluster,
		TrailSignature:  fsInfoTrailSignature,
	}
	return packSector(&raw)
}

// unpackSector decodes a fixed 512-byte record from the start of data.
func unpackSector(data []byte, v interface{}) error {
	if len(data) < SectorSize {
		return format.Errorf(format.LayerFATBoot, 0, format.TruncatedInput,
			"need %d bytes, have %d", SectorSize, len(data))
	}
	if err := struc.Unpack(bytes.NewReader(data[:SectorSize]), v); err != nil {
		return format.Wrap(format.LayerFATBoot, 0, format.TruncatedInput, err, "unpack sector")
	}
	return nil
}

// packSector serializes a fixed 512-byte record.
func packSector(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(SectorSize)
	if err := struc.Pack(&buf, v); err != nil {
		return nil, errors.Wrap(err, "pack sector")
	}
	return buf.Bytes(), nil
}

// readSector reads one 512-byte sector at the absolute offset of r.
func readSector(r io.ReaderAt, offset int64) ([]byte, error) {
	data, err := blockio.ReadExact(r, offset, SectorSize)
	if err != nil {
		return nil, format.Wrap(format.LayerFATBoot, offset, format.TruncatedInput, err, "")
	}
	return data, nil
}

// trimPadding strips the space padding FAT uses in fixed-width text fields.
func trimPadding(b []byte) string {
	return strings.TrimRight(string(b), " \x00")
}

// setPadded writes s into dst, space-padded to the field width.
func setPadded(dst []byte, s string) {
	for i := range dst {
		dst[i] = ' '
	}
	copy(dst, s)
}
