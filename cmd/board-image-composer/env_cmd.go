package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/open-board-tools/board-image-composer/internal/blockio"
	"github.com/open-board-tools/board-image-composer/internal/segments"
	"github.com/open-board-tools/board-image-composer/internal/utils/logger"
)

var (
	envImage  string
	envOffset string
	envSize   int64
	envOutput string
)

// createEnvCommand creates the env subcommand group.
func createEnvCommand() *cobra.Command {
	envCmd := &cobra.Command{
		Use:   "env",
		Short: "Work with U-Boot environment blocks",
	}
	envCmd.AddCommand(createEnvPrintCommand(), createEnvMakeCommand())
	return envCmd
}

func createEnvPrintCommand() *cobra.Command {
	printCmd := &cobra.Command{
		Use:   "print [flags] [ENV_BLOB_FILE]",
		Short: "Verify and print an environment block",
		Long: `Print decodes a U-Boot environment block, verifies its CRC32 and
prints the variables in sorted order. The block comes from a standalone file,
or from inside an image with --image and --offset.`,
		Args: cobra.MaximumNArgs(1),
		RunE: executeEnvPrint,
	}
	printCmd.Flags().StringVar(&envImage, "image", "", "Read the block out of this image file")
	printCmd.Flags().StringVar(&envOffset, "offset", "0", "Byte offset of the block inside --image")
	printCmd.Flags().Int64Var(&envSize, "size", 0x2000, "Block size in bytes")
	return printCmd
}

func executeEnvPrint(cmd *cobra.Command, args []string) error {
	var data []byte
	switch {
	case envImage != "":
		offset, err := strconv.ParseInt(envOffset, 0, 64)
		if err != nil {
			return errors.Wrap(err, "--offset")
		}
		src, err := blockio.OpenImage(envImage)
		if err != nil {
			return err
		}
		defer src.Close()
		if data, err = blockio.ReadExact(src, offset, envSize); err != nil {
			return err
		}
	case len(args) == 1:
		var err error
		if data, err = os.ReadFile(args[0]); err != nil {
			return err
		}
	default:
		return errors.New("pass an environment blob file or --image with --offset")
	}

	env, err := segments.ParseEnv(data)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, k := range env.Keys() {
		v, _ := env.Get(k)
		fmt.Fprintf(out, "%s=%s\n", k, v)
	}
	return nil
}

func createEnvMakeCommand() *cobra.Command {
	makeCmd := &cobra.Command{
		Use:   "make [flags] VARS_FILE",
		Short: "Build an environment block from key=value lines",
		Args:  cobra.ExactArgs(1),
		RunE:  executeEnvMake,
	}
	makeCmd.Flags().Int64Var(&envSize, "size", 0x2000, "Block size in bytes")
	makeCmd.Flags().StringVarP(&envOutput, "output", "o", "env.bin", "Output blob path")
	return makeCmd
}

func executeEnvMake(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	text, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	env := segments.NewEnv("env", 0, envSize)
	if err := env.SetFromText(string(text)); err != nil {
		return err
	}
	data, err := env.Export()
	if err != nil {
		return err
	}
	if err := os.WriteFile(envOutput, data, 0o644); err != nil {
		return err
	}
	log.Infof("Wrote %d-byte environment block with %d variables to %s",
		len(data), len(env.Keys()), envOutput)
	return nil
}
