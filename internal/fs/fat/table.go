package fat

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/open-board-tools/board-image-composer/internal/blockio"
	"github.com/open-board-tools/board-image-composer/internal/format"
)

// End-of-chain thresholds per FAT width. Any entry at or above the
// threshold terminates a cluster chain.
const (
	eofThreshold12 = 0x0FF8
	eofThreshold16 = 0xFFF8
	eofThreshold32 = 0x0FFFFFF8

	// FAT32 entries are 28-bit; the top nibble is reserved and masked off.
	mask32 = 0x0FFFFFFF
)

// Table holds one in-memory copy of the file allocation table.
type Table struct {
	// Bits is the entry width: 12, 16 or 32.
	Bits int

	data     []byte
	clusters int64
}

// readTable loads the first FAT copy at the given absolute offset and
// verifies every further copy is byte-identical to it. Divergent copies
// are a fatal integrity failure.
func readTable(r io.ReaderAt, offset int64, geo Geometry, bits int) (*Table, error) {
	size := geo.FATSize()
	primary, err := blockio.ReadExact(r, offset+geo.FATOffset(), size)
	if err != nil {
		return nil, format.Wrap(format.LayerFATTable, offset+geo.FATOffset(), format.TruncatedInput, err, "")
	}
	for copyIdx := 1; copyIdx < geo.Copies(); copyIdx++ {
		copyOffset := offset + geo.FATOffset() + int64(copyIdx)*size
		mirror, err := blockio.ReadExact(r, copyOffset, size)
		if err != nil {
			return nil, format.Wrap(format.LayerFATTable, copyOffset, format.TruncatedInput, err, "")
		}
		if !bytes.Equal(primary, mirror) {
			return nil, format.Errorf(format.LayerFATTable, copyOffset, format.IntegrityViolation,
				"FAT copy %d differs from the primary copy", copyIdx)
		}
	}
	return &Table{Bits: bits, data: primary, clusters: geo.TotalClusters()}, nil
}

// Entry returns the table entry for the given cluster number.
func (t *Table) Entry(cluster uint32) (uint32, error) {
	switch t.Bits {
	case 12:
		// Entries are packed three bytes per pair: the byte offset is
		// cluster*3/2 and the parity of the cluster picks the nibble.
		pos := int(cluster) * 3 / 2
		if pos+1 >= len(t.data) {
			return 0, format.Errorf(format.LayerFATTable, int64(pos), format.TruncatedInput,
				"cluster %d beyond table end", cluster)
		}
		v := uint32(t.data[pos]) | uint32(t.data[pos+1])<<8
		if cluster%2 == 0 {
			return v & 0x0FFF, nil
		}
		return v >> 4, nil
	case 16:
		pos := int(cluster) * 2
		if pos+2 > len(t.data) {
			return 0, format.Errorf(format.LayerFATTable, int64(pos), format.TruncatedInput,
				"cluster %d beyond table end", cluster)
		}
		return uint32(binary.LittleEndian.Uint16(t.data[pos:])), nil
	case 32:
		pos := int(cluster) * 4
		if pos+4 > len(t.data) {
			return 0, format.Errorf(format.LayerFATTable, int64(pos), format.TruncatedInput,
				"cluster %d beyond table end", cluster)
		}
		return binary.LittleEndian.Uint32(t.data[pos:]) & mask32, nil
	default:
		return 0, format.Errorf(format.LayerFATTable, 0, format.UnsupportedLayout,
			"unsupported FAT width %d", t.Bits)
	}
}

// eof reports whether a table entry terminates a chain.
func (t *Table) eof(entry uint32) bool {
	switch t.Bits {
	case 12:
		return entry >= eofThreshold12
	case 16:
		return entry >= eofThreshold16
	default:
		return entry >= eofThreshold32
	}
}

// Chain walks the cluster chain starting at first and returns every cluster
// in order, the start cluster included. A chain longer than the total
// cluster count means the table links back on itself and fails as corrupt.
func (t *Table) Chain(first uint32) ([]uint32, error) {
	var chain []uint32
	cluster := first
	for {
		if cluster < 2 {
			return nil, format.Errorf(format.LayerFATTable, 0, format.IntegrityViolation,
				"chain reaches reserved cluster %d", cluster)
		}
		chain = append(chain, cluster)
		if t.clusters > 0 && int64(len(chain)) > t.clusters {
			return nil, format.Errorf(format.LayerFATTable, 0, format.IntegrityViolation,
				"chain from cluster %d exceeds %d clusters; table contains a cycle", first, t.clusters)
		}
		next, err := t.Entry(cluster)
		if err != nil {
			return nil, err
		}
		if t.eof(next) {
			return chain, nil
		}
		cluster = next
	}
}
