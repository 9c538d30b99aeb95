package fat

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/open-board-tools/board-image-composer/internal/format"
)

// Directory entry attribute flags.
const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrVolumeID  = 0x08
	AttrDirectory = 0x10
	AttrArchive   = 0x20
	AttrLongName  = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID
)

const (
	dirEntrySize = 32

	// Each long-name entry carries 13 UTF-16 units split over three fields.
	lfnUnitsPerEntry = 13

	// Sequence byte markers.
	lfnLastEntry   = 0x40
	deletedMarker  = 0xE5
	endOfDirMarker = 0x00
)

// Attributes is the directory-entry attribute byte.
type Attributes byte

// IsDir reports whether the entry describes a subdirectory.
func (a Attributes) IsDir() bool { return a&AttrDirectory != 0 }

// IsVolumeLabel reports whether the entry is the volume-label record.
func (a Attributes) IsVolumeLabel() bool {
	return a&AttrVolumeID != 0 && byte(a)&AttrLongName != AttrLongName
}

func (a Attributes) String() string {
	flags := []struct {
		bit byte
		ch  byte
	}{
		{AttrReadOnly, 'r'}, {AttrHidden, 'h'}, {AttrSystem, 's'},
		{AttrVolumeID, 'v'}, {AttrDirectory, 'd'}, {AttrArchive, 'a'},
	}
	out := make([]byte, len(flags))
	for i, f := range flags {
		out[i] = '-'
		if byte(a)&f.bit != 0 {
			out[i] = f.ch
		}
	}
	return string(out)
}

// FileEntry is one decoded directory record.
type FileEntry struct {
	// Name is the long name when present, the 8.3 name otherwise.
	Name string
	// ShortName is always the 8.3 rendering.
	ShortName    string
	Attr         Attributes
	FirstCluster uint32
	Size         uint32
	Created      time.Time
	Modified     time.Time
	Accessed     time.Time
}

// Info returns a one-line summary.
func (f FileEntry) Info() string {
	return fmt.Sprintf("%s %10d %s %s", f.Attr, f.Size,
		f.Modified.Format("2006-01-02 15:04:05"), f.Name)
}

// Directory is a decoded directory table: the volume label (root only) and
// the file entries in on-disk order.
type Directory struct {
	VolumeLabel string
	Files       []FileEntry
}

// Lookup finds an entry by name, matching the long name exactly or the 8.3
// name case-insensitively.
func (d *Directory) Lookup(name string) (FileEntry, bool) {
	for _, f := range d.Files {
		if f.Name == name || strings.EqualFold(f.ShortName, name) {
			return f, true
		}
	}
	return FileEntry{}, false
}

// shortNameChecksum folds the 11 bytes of an 8.3 name into the single-byte
// checksum long-name entries carry: rotate right one bit, then add.
func shortNameChecksum(name []byte) byte {
	var sum byte
	for _, c := range name {
		sum = (sum&1)<<7 + sum>>1 + c
	}
	return sum
}

// decode83Name renders the 11-byte short-name field as NAME.EXT.
func decode83Name(raw []byte) string {
	base := strings.TrimRight(string(raw[:8]), " ")
	ext := strings.TrimRight(string(raw[8:11]), " ")
	if len(base) > 0 && base[0] == 0x05 {
		// 0x05 substitutes for a leading 0xE5 so the name is not read as deleted.
		base = string(byte(0xE5)) + base[1:]
	}
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// encode83Name packs NAME.EXT into the 11-byte short-name field.
func encode83Name(name string) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	base, ext := name, ""
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		base, ext = name[:i], name[i+1:]
	}
	copy(out[:8], strings.ToUpper(base))
	copy(out[8:], strings.ToUpper(ext))
	if out[0] == 0xE5 {
		out[0] = 0x05
	}
	return out
}

// FAT timestamps: date is year-1980<<9 | month<<5 | day, time is
// hour<<11 | minute<<5 | seconds/2.

func decodeTimestamp(date, tim uint16) time.Time {
	if date == 0 {
		return time.Time{}
	}
	year := int(date>>9) + 1980
	month := time.Month(date >> 5 & 0x0F)
	day := int(date & 0x1F)
	hour := int(tim >> 11)
	minute := int(tim >> 5 & 0x3F)
	second := int(tim&0x1F) * 2
	return time.Date(year, month, day, hour, minute, second, 0, time.UTC)
}

func encodeTimestamp(t time.Time) (date, tim uint16) {
	if t.IsZero() {
		return 0, 0
	}
	t = t.UTC()
	date = uint16(t.Year()-1980)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
	tim = uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	return date, tim
}

// lfnFragment is one long-name entry before assembly.
type lfnFragment struct {
	seq      int
	checksum byte
	units    []uint16
}

// lfnUnitOffsets lists the byte positions of the 13 UTF-16 units inside a
// 32-byte long-name entry: five at offset 1, six at 14, two at 28.
var lfnUnitOffsets = [lfnUnitsPerEntry]int{
	1, 3, 5, 7, 9,
	14, 16, 18, 20, 22, 24,
	28, 30,
}

func decodeLFNEntry(rec []byte) lfnFragment {
	frag := lfnFragment{
		seq:      int(rec[0] &^ lfnLastEntry),
		checksum: rec[13],
		units:    make([]uint16, 0, lfnUnitsPerEntry),
	}
	for _, off := range lfnUnitOffsets {
		frag.units = append(frag.units, binary.LittleEndian.Uint16(rec[off:]))
	}
	return frag
}

// assembleLFN joins the collected fragments in ascending sequence order and
// decodes up to the 0x0000 terminator.
func assembleLFN(frags []lfnFragment) string {
	sort.Slice(frags, func(i, j int) bool { return frags[i].seq < frags[j].seq })
	var units []uint16
	for _, f := range frags {
		units = append(units, f.units...)
	}
	for i, u := range units {
		if u == 0x0000 {
			units = units[:i]
			break
		}
	}
	return string(utf16.Decode(units))
}

// DecodeDirectory decodes a raw directory table. Long-name fragments are
// collected until their 8.3 record arrives; a checksum mismatch between the
// fragments and the 8.3 record drops the long name and keeps the short one,
// it is never fatal.
func DecodeDirectory(data []byte) (*Directory, error) {
	dir := &Directory{}
	var pending []lfnFragment

	for pos := 0; pos+dirEntrySize <= len(data); pos += dirEntrySize {
		rec := data[pos : pos+dirEntrySize]
		switch rec[0] {
		case endOfDirMarker:
			return dir, nil
		case deletedMarker:
			pending = nil
			continue
		}

		attr := Attributes(rec[11])
		if byte(attr)&AttrLongName == AttrLongName {
			pending = append(pending, decodeLFNEntry(rec))
			continue
		}
		if attr.IsVolumeLabel() {
			dir.VolumeLabel = strings.TrimRight(string(rec[:11]), " ")
			pending = nil
			continue
		}

		entry := FileEntry{
			ShortName:    decode83Name(rec[:11]),
			Attr:         attr,
			FirstCluster: uint32(binary.LittleEndian.Uint16(rec[26:])) | uint32(binary.LittleEndian.Uint16(rec[20:]))<<16,
			Size:         binary.LittleEndian.Uint32(rec[28:]),
			Created:      decodeTimestamp(binary.LittleEndian.Uint16(rec[16:]), binary.LittleEndian.Uint16(rec[14:])),
			Accessed:     decodeTimestamp(binary.LittleEndian.Uint16(rec[18:]), 0),
			Modified:     decodeTimestamp(binary.LittleEndian.Uint16(rec[24:]), binary.LittleEndian.Uint16(rec[22:])),
		}
		entry.Name = entry.ShortName

		if len(pending) > 0 {
			sum := shortNameChecksum(rec[:11])
			ok := true
			for _, f := range pending {
				if f.checksum != sum {
					ok = false
					break
				}
			}
			if ok {
				entry.Name = assembleLFN(pending)
			}
			pending = nil
		}
		dir.Files = append(dir.Files, entry)
	}
	if len(data)%dirEntrySize != 0 {
		return nil, format.Errorf(format.LayerFATDir, int64(len(data)/dirEntrySize*dirEntrySize),
			format.TruncatedInput, "directory table truncated mid-record")
	}
	return dir, nil
}

// encodeLFNChain emits the long-name entries for name in descending
// sequence order, the way they precede their 8.3 record on disk. The final
// fragment is terminated with a single 0x0000 unit and the remainder is
// filled with 0xFFFF.
func encodeLFNChain(name string, checksum byte) []byte {
	units := utf16.Encode([]rune(name))
	count := (len(units) + lfnUnitsPerEntry - 1) / lfnUnitsPerEntry

	padded := make([]uint16, count*lfnUnitsPerEntry)
	copy(padded, units)
	if len(units) < len(padded) {
		padded[len(units)] = 0x0000
		for i := len(units) + 1; i < len(padded); i++ {
			padded[i] = 0xFFFF
		}
	}

	out := make([]byte, 0, count*dirEntrySize)
	for seq := count; seq >= 1; seq-- {
		rec := make([]byte, dirEntrySize)
		rec[0] = byte(seq)
		if seq == count {
			rec[0] |= lfnLastEntry
		}
		rec[11] = AttrLongName
		rec[13] = checksum
		chunk := padded[(seq-1)*lfnUnitsPerEntry : seq*lfnUnitsPerEntry]
		for i, off := range lfnUnitOffsets {
			binary.LittleEndian.PutUint16(rec[off:], chunk[i])
		}
		out = append(out, rec...)
	}
	return out
}

// needsLFN reports whether name cannot be stored as a plain 8.3 record.
func needsLFN(name string) bool {
	base, ext := name, ""
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		base, ext = name[:i], name[i+1:]
	}
	if len(base) > 8 || len(ext) > 3 || strings.Contains(base, ".") {
		return true
	}
	for _, r := range name {
		if r > 0x7F || (r >= 'a' && r <= 'z') || r == ' ' {
			return true
		}
	}
	return false
}

// shortNameFor derives an 8.3 alias for a long name, appending a ~N tail
// when the plain truncation collides with a name already in the directory.
func shortNameFor(name string, taken map[[11]byte]bool) [11]byte {
	base, ext := name, ""
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		base, ext = name[:i], name[i+1:]
	}
	clean := func(s string) string {
		var b strings.Builder
		for _, r := range strings.ToUpper(s) {
			if r >= 0x21 && r <= 0x7E && !strings.ContainsRune(`."/\[]:;=,`, r) {
				b.WriteRune(r)
			}
		}
		return b.String()
	}
	base, ext = clean(base), clean(ext)
	if len(ext) > 3 {
		ext = ext[:3]
	}

	try := func(b string) [11]byte {
		var out [11]byte
		for i := range out {
			out[i] = ' '
		}
		copy(out[:8], b)
		copy(out[8:], ext)
		return out
	}

	if len(base) <= 8 {
		if sn := try(base); !taken[sn] {
			taken[sn] = true
			return sn
		}
	}
	for n := 1; ; n++ {
		tail := fmt.Sprintf("~%d", n)
		head := base
		if len(head) > 8-len(tail) {
			head = head[:8-len(tail)]
		}
		if sn := try(head + tail); !taken[sn] {
			taken[sn] = true
			return sn
		}
	}
}

// EncodeDirectory serializes a directory back to its raw table, padded with
// zero records to size bytes. Names that fit the 8.3 form are stored
// without a long-name chain.
func EncodeDirectory(dir *Directory, size int) ([]byte, error) {
	var out []byte
	if dir.VolumeLabel != "" {
		rec := make([]byte, dirEntrySize)
		copy(rec[:11], "           ")
		copy(rec[:11], dir.VolumeLabel)
		rec[11] = AttrVolumeID
		out = append(out, rec...)
	}

	taken := make(map[[11]byte]bool)
	for _, f := range dir.Files {
		var short [11]byte
		if needsLFN(f.Name) {
			short = shortNameFor(f.Name, taken)
			out = append(out, encodeLFNChain(f.Name, shortNameChecksum(short[:]))...)
		} else {
			short = encode83Name(f.Name)
			taken[short] = true
		}

		rec := make([]byte, dirEntrySize)
		copy(rec[:11], short[:])
		rec[11] = byte(f.Attr)
		cd, ct := encodeTimestamp(f.Created)
		ad, _ := encodeTimestamp(f.Accessed)
		md, mt := encodeTimestamp(f.Modified)
		binary.LittleEndian.PutUint16(rec[14:], ct)
		binary.LittleEndian.PutUint16(rec[16:], cd)
		binary.LittleEndian.PutUint16(rec[18:], ad)
		binary.LittleEndian.PutUint16(rec[20:], uint16(f.FirstCluster>>16))
		binary.LittleEndian.PutUint16(rec[22:], mt)
		binary.LittleEndian.PutUint16(rec[24:], md)
		binary.LittleEndian.PutUint16(rec[26:], uint16(f.FirstCluster&0xFFFF))
		binary.LittleEndian.PutUint32(rec[28:], f.Size)
		out = append(out, rec...)
	}

	if size > 0 {
		if len(out)+dirEntrySize > size {
			return nil, format.Errorf(format.LayerFATDir, 0, format.UnsupportedLayout,
				"directory needs %d bytes plus terminator, region is %d", len(out), size)
		}
		padded := make([]byte, size)
		copy(padded, out)
		return padded, nil
	}
	// No fixed region: terminate with a single zero record.
	return append(out, make([]byte, dirEntrySize)...), nil
}
