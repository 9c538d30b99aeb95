// board-image-composer builds bootable board images from YAML descriptions
// and inspects existing ones: partition tables, FAT/ext payload filesystems,
// U-Boot environment blocks and wrapped U-Boot images.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/open-board-tools/board-image-composer/internal/utils/logger"
)

var verbose bool

func main() {
	rootCmd := &cobra.Command{
		Use:   "board-image-composer",
		Short: "Compose and inspect bootable board images",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.SetVerbose(verbose)
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")

	rootCmd.AddCommand(
		createInspectCommand(),
		createBuildCommand(),
		createExtractCommand(),
		createEnvCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
