// Package image orchestrates the build and inspect flows: it turns a
// validated image description into an output file, and an existing image
// into a structured summary.
package image

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/open-board-tools/board-image-composer/internal/disk"
	"github.com/open-board-tools/board-image-composer/internal/fs/ext"
	"github.com/open-board-tools/board-image-composer/internal/fs/fat"
	"github.com/open-board-tools/board-image-composer/internal/utils/logger"
)

var log = logger.Logger()

// Summary holds everything inspect learned about a disk image.
type Summary struct {
	File           string             `json:"file" yaml:"file"`
	SHA256         string             `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	SizeBytes      int64              `json:"sizeBytes" yaml:"sizeBytes"`
	PartitionTable string             `json:"partitionTable" yaml:"partitionTable"`
	DiskGUID       string             `json:"diskGuid,omitempty" yaml:"diskGuid,omitempty"`
	Partitions     []PartitionSummary `json:"partitions" yaml:"partitions"`
}

// PartitionSummary describes one partition of the image.
type PartitionSummary struct {
	Slot      int    `json:"slot" yaml:"slot"`
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
	Type      string `json:"type" yaml:"type"`
	Offset    int64  `json:"offset" yaml:"offset"`
	SizeBytes int64  `json:"sizeBytes" yaml:"sizeBytes"`

	Filesystem *FilesystemSummary `json:"filesystem,omitempty" yaml:"filesystem,omitempty"`
	Error      string             `json:"error,omitempty" yaml:"error,omitempty"`
}

// FilesystemSummary describes the filesystem found on a partition.
type FilesystemSummary struct {
	Type  string `json:"type" yaml:"type"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
	UUID  string `json:"uuid,omitempty" yaml:"uuid,omitempty"`

	// FAT-specific
	ClusterSize  int64 `json:"clusterSize,omitempty" yaml:"clusterSize,omitempty"`
	ClusterCount int64 `json:"clusterCount,omitempty" yaml:"clusterCount,omitempty"`
	FreeClusters int64 `json:"freeClusters,omitempty" yaml:"freeClusters,omitempty"`

	// ext-specific
	BlockSize   int64  `json:"blockSize,omitempty" yaml:"blockSize,omitempty"`
	BlocksCount uint32 `json:"blocksCount,omitempty" yaml:"blocksCount,omitempty"`

	Files []FileSummary `json:"files,omitempty" yaml:"files,omitempty"`
}

// FileSummary is one root-directory entry of a FAT partition.
type FileSummary struct {
	Name      string `json:"name" yaml:"name"`
	SizeBytes int64  `json:"sizeBytes" yaml:"sizeBytes"`
	Modified  string `json:"modified,omitempty" yaml:"modified,omitempty"`
	Dir       bool   `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// InspectOptions tunes the inspect flow.
type InspectOptions struct {
	// WithChecksum hashes the whole image file; skipped by default because it
	// reads the image end to end.
	WithChecksum bool
	// ListFiles includes FAT root-directory listings.
	ListFiles bool
}

// Inspect opens, dispatches and summarizes an image file. The underlying
// stream is closed before returning, on every path.
func Inspect(path string, opts InspectOptions) (*Summary, error) {
	d, err := disk.Open(path)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	s := &Summary{
		File:           path,
		SizeBytes:      d.Reader().Size(),
		PartitionTable: "mbr",
	}
	if d.GPT != nil {
		s.PartitionTable = "gpt"
		s.DiskGUID = d.GPT.Header.DiskGUID.String()
	}
	if opts.WithChecksum {
		if s.SHA256, err = fileSHA256(path); err != nil {
			return nil, err
		}
	}

	for _, p := range d.Partitions {
		ps := PartitionSummary{
			Slot:      p.Slot,
			Name:      p.Name,
			Type:      p.Type,
			Offset:    p.Offset,
			SizeBytes: p.Size,
		}
		if p.OpenErr != nil {
			ps.Error = p.OpenErr.Error()
		}
		ps.Filesystem = summarizeFS(p.FS, opts.ListFiles)
		s.Partitions = append(s.Partitions, ps)
	}
	log.Debugf("inspected %s: %s table, %d partitions", path, s.PartitionTable, len(s.Partitions))
	return s, nil
}

func summarizeFS(fsys disk.Filesystem, listFiles bool) *FilesystemSummary {
	switch v := fsys.(type) {
	case *fat.Filesystem:
		out := &FilesystemSummary{
			Type:         fmt.Sprintf("fat%d", v.Bits),
			Label:        v.Label(),
			ClusterSize:  v.Geometry().ClusterSize(),
			ClusterCount: v.Geometry().TotalClusters(),
		}
		if v.FsInfo != nil {
			out.FreeClusters = int64(v.FsInfo.FreeClusters)
		}
		if listFiles {
			for _, f := range v.Files() {
				fs := FileSummary{Name: f.Name, SizeBytes: int64(f.Size), Dir: f.Attr.IsDir()}
				if !f.Modified.IsZero() {
					fs.Modified = f.Modified.Format("2006-01-02 15:04:05")
				}
				out.Files = append(out.Files, fs)
			}
		}
		return out
	case *ext.Partition:
		return &FilesystemSummary{
			Type:        "ext",
			Label:       v.Label,
			UUID:        v.UUID.String(),
			BlockSize:   v.BlockSize,
			BlocksCount: v.BlocksCount,
		}
	default:
		return nil
	}
}

// Render writes the summary as text, json or yaml.
func Render(w io.Writer, s *Summary, outputFormat string) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "yaml":
		return yaml.NewEncoder(w).Encode(s)
	case "", "text":
		renderText(w, s)
		return nil
	default:
		return errors.Errorf("unknown output format %q (want text, json or yaml)", outputFormat)
	}
}

func renderText(w io.Writer, s *Summary) {
	fmt.Fprintf(w, "Image:           %s\n", s.File)
	fmt.Fprintf(w, "Size:            %s (%d bytes)\n", humanize.IBytes(uint64(s.SizeBytes)), s.SizeBytes)
	if s.SHA256 != "" {
		fmt.Fprintf(w, "SHA256:          %s\n", s.SHA256)
	}
	fmt.Fprintf(w, "Partition table: %s\n", strings.ToUpper(s.PartitionTable))
	if s.DiskGUID != "" {
		fmt.Fprintf(w, "Disk GUID:       %s\n", s.DiskGUID)
	}

	for _, p := range s.Partitions {
		name := p.Type
		if p.Name != "" {
			name = fmt.Sprintf("%s (%s)", p.Name, p.Type)
		}
		fmt.Fprintf(w, "\nPartition %d: %s\n", p.Slot, name)
		fmt.Fprintf(w, "  offset %d, size %s\n", p.Offset, humanize.IBytes(uint64(p.SizeBytes)))
		switch {
		case p.Filesystem != nil:
			fs := p.Filesystem
			fmt.Fprintf(w, "  filesystem %s", fs.Type)
			if fs.Label != "" {
				fmt.Fprintf(w, ", label %q", fs.Label)
			}
			if fs.UUID != "" {
				fmt.Fprintf(w, ", uuid %s", fs.UUID)
			}
			fmt.Fprintln(w)
			if fs.ClusterSize > 0 {
				fmt.Fprintf(w, "  %d clusters of %s", fs.ClusterCount, humanize.IBytes(uint64(fs.ClusterSize)))
				if fs.FreeClusters > 0 {
					fmt.Fprintf(w, ", %d free", fs.FreeClusters)
				}
				fmt.Fprintln(w)
			}
			if fs.BlockSize > 0 {
				fmt.Fprintf(w, "  %d blocks of %s\n", fs.BlocksCount, humanize.IBytes(uint64(fs.BlockSize)))
			}
			for _, f := range fs.Files {
				marker := " "
				if f.Dir {
					marker = "d"
				}
				fmt.Fprintf(w, "  %s %10d  %s  %s\n", marker, f.SizeBytes, f.Modified, f.Name)
			}
		case p.Error != "":
			fmt.Fprintf(w, "  unreadable: %s\n", p.Error)
		default:
			fmt.Fprintf(w, "  raw partition\n")
		}
	}
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
