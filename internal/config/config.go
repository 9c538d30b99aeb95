// Package config loads and validates YAML image descriptions. A description
// has three parts: head (identity and global geometry), data (standalone
// segments placed at absolute offsets) and body (the MBR partition layout).
// Shape errors are caught by a JSON schema before the semantic checks run.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/open-board-tools/board-image-composer/internal/parttable/mbr"
	"github.com/open-board-tools/board-image-composer/internal/segments"
)

// ByteCount is an int64 that also unmarshals from 0x-prefixed strings, so
// descriptions can state offsets the way board manuals print them.
type ByteCount int64

// UnmarshalYAML accepts integers and decimal/hex strings.
func (b *ByteCount) UnmarshalYAML(node *yaml.Node) error {
	var i int64
	if err := node.Decode(&i); err == nil {
		*b = ByteCount(i)
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return errors.Wrapf(err, "byte count %q", s)
	}
	*b = ByteCount(v)
	return nil
}

// Head carries the image identity and global geometry.
type Head struct {
	Name        string    `yaml:"name"`
	Board       string    `yaml:"board,omitempty"`
	Description string    `yaml:"description,omitempty"`
	SectorSize  int64     `yaml:"sector_size,omitempty"`
	ImageSize   ByteCount `yaml:"image_size,omitempty"`
}

// SegmentSpec is one data segment of the description.
type SegmentSpec struct {
	Name   string            `yaml:"name"`
	Type   string            `yaml:"type"`
	Offset ByteCount         `yaml:"offset,omitempty"`
	Size   ByteCount         `yaml:"size,omitempty"`
	Source string            `yaml:"source,omitempty"`
	Params map[string]string `yaml:"params,omitempty"`
}

// Segment converts the spec to the segment-builder form.
func (s SegmentSpec) Segment() segments.Spec {
	return segments.Spec{
		Name:   s.Name,
		Type:   s.Type,
		Offset: int64(s.Offset),
		Size:   int64(s.Size),
		Source: s.Source,
		Params: s.Params,
	}
}

// Partition is one slot of the body partition layout.
type Partition struct {
	Slot     int       `yaml:"slot"`
	Type     string    `yaml:"type"`
	Bootable bool      `yaml:"bootable,omitempty"`
	StartLBA ByteCount `yaml:"start_lba"`
	Sectors  ByteCount `yaml:"sectors"`
	Content  string    `yaml:"content,omitempty"`
}

// PartitionType resolves the type field: a well-known name or a numeric
// (usually 0x-prefixed) type byte.
func (p Partition) PartitionType() (mbr.PartitionType, error) {
	if t, ok := typeNames[strings.ToLower(p.Type)]; ok {
		return t, nil
	}
	v, err := strconv.ParseUint(p.Type, 0, 8)
	if err != nil {
		return 0, errors.Errorf("partition %d: unknown type %q", p.Slot, p.Type)
	}
	return mbr.PartitionType(v), nil
}

// Entry converts the partition to an MBR entry.
func (p Partition) Entry() (mbr.PartitionEntry, error) {
	t, err := p.PartitionType()
	if err != nil {
		return mbr.PartitionEntry{}, err
	}
	return mbr.PartitionEntry{
		Bootable:      p.Bootable,
		PartitionType: t,
		LBAStart:      uint32(p.StartLBA),
		NumSectors:    uint32(p.Sectors),
	}, nil
}

var typeNames = map[string]mbr.PartitionType{
	"fat12":     mbr.TypeFAT12,
	"fat16":     mbr.TypeFAT16_2G,
	"fat16-lba": mbr.TypeFAT16X,
	"fat32":     mbr.TypeFAT32,
	"fat32-lba": mbr.TypeFAT32X,
	"linux":     mbr.TypeLinux,
	"ext4":      mbr.TypeLinux,
	"swap":      mbr.TypeLinuxSwap,
	"gpt":       mbr.TypeProtectiveGPT,
}

// Body is the partition layout.
type Body struct {
	Partitions []Partition `yaml:"partitions,omitempty"`
}

// Description is a complete image description.
type Description struct {
	Head Head          `yaml:"head"`
	Data []SegmentSpec `yaml:"data,omitempty"`
	Body Body          `yaml:"body,omitempty"`
}

var compiledSchema = jsonschema.MustCompileString("description.schema.json", descriptionSchema)

// Parse validates and decodes a YAML description.
func Parse(data []byte) (*Description, error) {
	// Schema validation runs on a JSON-shaped copy of the document.
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "parse image description")
	}
	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "normalize image description")
	}
	var jsonDoc interface{}
	if err := json.Unmarshal(jsonBytes, &jsonDoc); err != nil {
		return nil, errors.Wrap(err, "normalize image description")
	}
	if err := compiledSchema.Validate(jsonDoc); err != nil {
		return nil, errors.Wrap(err, "image description rejected by schema")
	}

	var d Description
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, errors.Wrap(err, "decode image description")
	}
	if d.Head.SectorSize == 0 {
		d.Head.SectorSize = 512
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Load reads and parses a description file.
func Load(path string) (*Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return d, nil
}

// validate runs the semantic checks the schema cannot express.
func (d *Description) validate() error {
	names := make(map[string]bool)
	for _, s := range d.Data {
		if names[s.Name] {
			return errors.Errorf("duplicate segment name %q", s.Name)
		}
		names[s.Name] = true
	}

	slots := make(map[int]bool)
	type span struct {
		start, end int64
		slot       int
	}
	var spans []span
	for _, p := range d.Body.Partitions {
		if slots[p.Slot] {
			return errors.Errorf("duplicate partition slot %d", p.Slot)
		}
		slots[p.Slot] = true
		if _, err := p.PartitionType(); err != nil {
			return err
		}
		if p.Sectors == 0 {
			return errors.Errorf("partition %d has zero sectors", p.Slot)
		}
		spans = append(spans, span{start: int64(p.StartLBA), end: int64(p.StartLBA) + int64(p.Sectors), slot: p.Slot})
	}
	for i, a := range spans {
		for _, b := range spans[i+1:] {
			if a.start < b.end && b.start < a.end {
				return errors.Errorf("partitions %d and %d overlap", a.slot, b.slot)
			}
		}
	}
	return nil
}
