package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ewatercycle/ewatercycle-go/internal/container"
)

func (a *app) imageCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "image", Short: "Convert and fetch model container images."}

	convert := &cobra.Command{
		Use:   "convert <image>",
		Short: "Print the Apptainer filename of a Docker image, or the reverse.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img := container.Image(args[0])
			var (
				out string
				err error
			)
			if img.IsApptainer() {
				out, err = img.DockerURL()
			} else {
				out, err = img.ApptainerFilename()
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	var (
		force     bool
		plainHTTP bool
	)
	pull := &cobra.Command{
		Use:   "pull <oras reference>",
		Short: "Download a .sif image published as an OCI artifact into the apptainer_dir.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := &container.SIFPuller{Dir: a.store.Get().ApptainerDir, PlainHTTP: plainHTTP, Logger: a.logger}
			path, err := p.Pull(cmd.Context(), args[0], force)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	pull.Flags().BoolVar(&force, "force", false, "replace an existing file")
	pull.Flags().BoolVar(&plainHTTP, "plain-http", false, "talk to the registry without TLS")

	cmd.AddCommand(convert, pull)
	return cmd
}
