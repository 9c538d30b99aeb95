package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/open-board-tools/board-image-composer/internal/image"
	"github.com/open-board-tools/board-image-composer/internal/utils/logger"
)

var (
	inspectFormat   string
	inspectFiles    bool
	inspectChecksum bool
)

// createInspectCommand creates the inspect subcommand.
func createInspectCommand() *cobra.Command {
	inspectCmd := &cobra.Command{
		Use:   "inspect [flags] IMAGE_FILE",
		Short: "Inspect a board image file",
		Long: `Inspect parses the partition table of a RAW (optionally gzip/xz
compressed) image, opens every recognized FAT or ext partition and prints a
summary of the layout, filesystem identity and geometry.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			switch inspectFormat {
			case "text", "json", "yaml":
				return nil
			default:
				return fmt.Errorf("unsupported --format %q (supported: text, json, yaml)", inspectFormat)
			}
		},
		RunE: executeInspect,
	}

	inspectCmd.Flags().StringVar(&inspectFormat, "format", "text",
		"Output format: text, json or yaml")
	inspectCmd.Flags().BoolVar(&inspectFiles, "files", false,
		"List the root directory of FAT partitions")
	inspectCmd.Flags().BoolVar(&inspectChecksum, "checksum", false,
		"Compute the SHA256 of the whole image file")

	return inspectCmd
}

func executeInspect(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	imageFile := args[0]
	log.Infof("Inspecting image file: %s", imageFile)

	summary, err := image.Inspect(imageFile, image.InspectOptions{
		ListFiles:    inspectFiles,
		WithChecksum: inspectChecksum,
	})
	if err != nil {
		return err
	}
	return image.Render(cmd.OutOrStdout(), summary, inspectFormat)
}
