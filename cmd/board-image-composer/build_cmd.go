package main

import (
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/open-board-tools/board-image-composer/internal/config"
	"github.com/open-board-tools/board-image-composer/internal/image"
	"github.com/open-board-tools/board-image-composer/internal/utils/logger"
)

var (
	buildOutput    string
	buildBootstrap string
)

// createBuildCommand creates the build subcommand.
func createBuildCommand() *cobra.Command {
	buildCmd := &cobra.Command{
		Use:   "build [flags] DESCRIPTION_FILE",
		Short: "Build a board image from a YAML description",
		Long: `Build assembles an image from a validated YAML description: the MBR
partition table, the standalone data segments (raw blobs, U-Boot environment
blocks, U-Boot image wrappers) and the partition content files. Relative
payload paths resolve against the description's directory.`,
		Args: cobra.ExactArgs(1),
		RunE: executeBuild,
	}

	buildCmd.Flags().StringVarP(&buildOutput, "output", "o", "",
		"Output image path (default: description name + .img)")
	buildCmd.Flags().StringVar(&buildBootstrap, "bootstrap", "",
		"Optional 446-byte MBR bootstrap code blob")

	return buildCmd
}

func executeBuild(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	descFile := args[0]

	desc, err := config.Load(descFile)
	if err != nil {
		return err
	}

	output := buildOutput
	if output == "" {
		output = strings.TrimSuffix(filepath.Base(descFile), filepath.Ext(descFile)) + ".img"
	}

	if err := image.Build(desc, image.BuildOptions{
		Output:    output,
		BaseDir:   filepath.Dir(descFile),
		Bootstrap: buildBootstrap,
	}); err != nil {
		return err
	}
	log.Infof("Image written to %s", output)
	return nil
}
