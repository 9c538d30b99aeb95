package image

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/open-board-tools/board-image-composer/internal/config"
	"github.com/open-board-tools/board-image-composer/internal/parttable/mbr"
	"github.com/open-board-tools/board-image-composer/internal/segments"
)

// BuildOptions tunes the build flow.
type BuildOptions struct {
	// Output is the image file to create. An existing file is truncated.
	Output string
	// BaseDir resolves relative payload paths; defaults to the description's
	// directory as passed by the CLI.
	BaseDir string
	// Bootstrap is an optional path to the 446-byte MBR bootstrap blob.
	Bootstrap string
}

// Build assembles an output image from a validated description: the MBR
// first, then the data segments at their absolute offsets, then the
// partition content files.
func Build(desc *config.Description, opts BuildOptions) error {
	sectorSize := desc.Head.SectorSize

	built := make([]segments.Segment, 0, len(desc.Data))
	for _, spec := range desc.Data {
		var payload []byte
		if spec.Source != "" {
			var err error
			if payload, err = os.ReadFile(resolvePath(opts.BaseDir, spec.Source)); err != nil {
				return errors.Wrapf(err, "segment %s", spec.Name)
			}
		}
		seg, err := segments.Build(spec.Segment(), payload)
		if err != nil {
			return err
		}
		if len(desc.Body.Partitions) > 0 && seg.Offset() < mbr.Size {
			return errors.Errorf("segment %s at offset %d overlaps the partition table sector",
				seg.Name(), seg.Offset())
		}
		built = append(built, seg)
	}

	size, err := imageSize(desc, built, sectorSize)
	if err != nil {
		return err
	}

	out, err := os.Create(opts.Output)
	if err != nil {
		return errors.Wrapf(err, "create %s", opts.Output)
	}
	defer out.Close()
	if err := out.Truncate(size); err != nil {
		return errors.Wrapf(err, "size %s to %d bytes", opts.Output, size)
	}
	log.Infof("Building %s: %s", opts.Output, humanize.IBytes(uint64(size)))

	if len(desc.Body.Partitions) > 0 {
		if err := writePartitionTable(out, desc, opts); err != nil {
			return err
		}
	}

	for _, seg := range built {
		var buf bytes.Buffer
		if _, err := seg.WriteTo(&buf); err != nil {
			return err
		}
		if seg.Offset()+int64(buf.Len()) > size {
			return errors.Errorf("segment %s ends at %d, beyond the %d-byte image",
				seg.Name(), seg.Offset()+int64(buf.Len()), size)
		}
		if _, err := out.WriteAt(buf.Bytes(), seg.Offset()); err != nil {
			return errors.Wrapf(err, "write segment %s", seg.Name())
		}
		log.Infof("  segment %-12s %8s at offset %d", seg.Name(),
			humanize.IBytes(uint64(buf.Len())), seg.Offset())
	}

	for _, p := range desc.Body.Partitions {
		if p.Content == "" {
			continue
		}
		if err := writePartitionContent(out, p, sectorSize, opts.BaseDir); err != nil {
			return err
		}
	}
	return out.Sync()
}

func writePartitionTable(out *os.File, desc *config.Description, opts BuildOptions) error {
	var bootstrap []byte
	if opts.Bootstrap != "" {
		var err error
		if bootstrap, err = os.ReadFile(resolvePath(opts.BaseDir, opts.Bootstrap)); err != nil {
			return errors.Wrap(err, "bootstrap blob")
		}
		if len(bootstrap) > mbr.BootstrapSize {
			return errors.Errorf("bootstrap blob is %d bytes, at most %d fit", len(bootstrap), mbr.BootstrapSize)
		}
	}

	table := mbr.New(bootstrap)
	for _, p := range desc.Body.Partitions {
		entry, err := p.Entry()
		if err != nil {
			return err
		}
		if err := table.SetEntry(p.Slot, entry); err != nil {
			return err
		}
	}
	sector, err := table.Export()
	if err != nil {
		return err
	}
	if _, err := out.WriteAt(sector, 0); err != nil {
		return errors.Wrap(err, "write partition table")
	}
	log.Infof("  MBR with %d partitions", table.Len())
	return nil
}

func writePartitionContent(out *os.File, p config.Partition, sectorSize int64, baseDir string) error {
	src, err := os.Open(resolvePath(baseDir, p.Content))
	if err != nil {
		return errors.Wrapf(err, "partition %d content", p.Slot)
	}
	defer src.Close()

	fi, err := src.Stat()
	if err != nil {
		return errors.Wrapf(err, "partition %d content", p.Slot)
	}
	capacity := int64(p.Sectors) * sectorSize
	if fi.Size() > capacity {
		return errors.Errorf("partition %d content is %s, partition holds %s",
			p.Slot, humanize.IBytes(uint64(fi.Size())), humanize.IBytes(uint64(capacity)))
	}

	offset := int64(p.StartLBA) * sectorSize
	if _, err := io.Copy(&sectionWriter{f: out, offset: offset}, src); err != nil {
		return errors.Wrapf(err, "write partition %d content", p.Slot)
	}
	log.Infof("  partition %d: %s of content at offset %d", p.Slot,
		humanize.IBytes(uint64(fi.Size())), offset)
	return nil
}

// imageSize picks the stated size or the furthest extent of any segment or
// partition, rounded up to a whole sector.
func imageSize(desc *config.Description, built []segments.Segment, sectorSize int64) (int64, error) {
	size := int64(desc.Head.ImageSize)
	var extent int64
	if len(desc.Body.Partitions) > 0 {
		extent = mbr.Size
	}
	for _, seg := range built {
		if end := seg.Offset() + seg.Size(); end > extent {
			extent = end
		}
	}
	for _, p := range desc.Body.Partitions {
		if end := (int64(p.StartLBA) + int64(p.Sectors)) * sectorSize; end > extent {
			extent = end
		}
	}
	if size == 0 {
		size = extent
	}
	if extent > size {
		return 0, errors.Errorf("image content extends to %d bytes, stated image size is %d", extent, size)
	}
	if size == 0 {
		return 0, errors.New("image description produces an empty image")
	}
	if rem := size % sectorSize; rem != 0 {
		size += sectorSize - rem
	}
	return size, nil
}

// sectionWriter appends sequential writes starting at a fixed offset.
type sectionWriter struct {
	f      *os.File
	offset int64
}

func (s *sectionWriter) Write(p []byte) (int, error) {
	n, err := s.f.WriteAt(p, s.offset)
	s.offset += int64(n)
	return n, err
}

func resolvePath(baseDir, path string) string {
	if baseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
