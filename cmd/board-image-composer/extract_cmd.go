package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/open-board-tools/board-image-composer/internal/disk"
	"github.com/open-board-tools/board-image-composer/internal/fs/ext"
	"github.com/open-board-tools/board-image-composer/internal/fs/fat"
	"github.com/open-board-tools/board-image-composer/internal/utils/logger"
)

var (
	extractPartition int
	extractOutput    string
)

// createExtractCommand creates the extract subcommand.
func createExtractCommand() *cobra.Command {
	extractCmd := &cobra.Command{
		Use:   "extract [flags] IMAGE_FILE [FILE_PATH]",
		Short: "Extract a file or a whole partition from an image",
		Long: `Extract copies content out of a board image. With a FILE_PATH argument
it reads that file from the FAT partition; without one it dumps the whole
partition, ext partitions included. The partition defaults to the first one
carrying a recognized filesystem.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: executeExtract,
	}

	extractCmd.Flags().IntVarP(&extractPartition, "partition", "p", -1,
		"Partition slot to extract from (default: first with a filesystem)")
	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", "",
		"Output path (default: the file's base name, or PARTITION_N.bin)")

	return extractCmd
}

func executeExtract(cmd *cobra.Command, args []string) error {
	d, err := disk.Open(args[0])
	if err != nil {
		return err
	}
	defer d.Close()

	part, err := pickPartition(d)
	if err != nil {
		return err
	}

	if len(args) == 2 {
		return extractFile(part, args[1])
	}
	return extractPartitionContent(d, part)
}

func pickPartition(d *disk.Disk) (disk.Partition, error) {
	if extractPartition >= 0 {
		part, ok := d.Partition(extractPartition)
		if !ok {
			return disk.Partition{}, errors.Errorf("no partition in slot %d", extractPartition)
		}
		return part, nil
	}
	part, ok := d.PrimaryFS()
	if !ok {
		return disk.Partition{}, errors.New("no partition with a recognized filesystem; pick one with --partition")
	}
	return part, nil
}

// extractFile copies one file out of a FAT partition.
func extractFile(part disk.Partition, path string) error {
	log := logger.Logger()
	fatFS, ok := part.FS.(*fat.Filesystem)
	if !ok {
		return errors.Errorf("partition %d holds no FAT filesystem", part.Slot)
	}

	src, err := fat.NewAferoFs(fatFS).Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	fi, err := src.Stat()
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return errors.Errorf("%s is a directory", path)
	}

	output := extractOutput
	if output == "" {
		output = filepath.Base(path)
	}
	out, err := os.Create(output)
	if err != nil {
		return err
	}
	defer out.Close()

	bar := progressbar.DefaultBytes(fi.Size(), filepath.Base(path))
	if _, err := io.Copy(io.MultiWriter(out, bar), src); err != nil {
		return err
	}
	log.Infof("Extracted %s (%d bytes) to %s", path, fi.Size(), output)
	return nil
}

// extractPartitionContent dumps the whole partition to a file.
func extractPartitionContent(d *disk.Disk, part disk.Partition) error {
	log := logger.Logger()
	output := extractOutput
	if output == "" {
		output = fmt.Sprintf("PARTITION_%d.bin", part.Slot)
	}
	out, err := os.Create(output)
	if err != nil {
		return err
	}
	defer out.Close()

	bar := progressbar.DefaultBytes(part.Size, output)
	w := io.MultiWriter(out, bar)

	if extFS, ok := part.FS.(*ext.Partition); ok {
		if _, err := extFS.Export(w); err != nil {
			return err
		}
	} else {
		section := io.NewSectionReader(d.Reader(), part.Offset, part.Size)
		if _, err := io.Copy(w, section); err != nil {
			return err
		}
	}
	log.Infof("Extracted partition %d (%d bytes) to %s", part.Slot, part.Size, output)
	return nil
}
