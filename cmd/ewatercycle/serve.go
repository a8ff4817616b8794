package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ewatercycle/ewatercycle-go/internal/bmi"
	"github.com/ewatercycle/ewatercycle-go/internal/model"
	"github.com/ewatercycle/ewatercycle-go/internal/plugins"
)

func (a *app) bmiServerCommand() *cobra.Command {
	var (
		addr    string
		useHTTP bool
	)
	cmd := &cobra.Command{
		Use:   "bmi-server <model>",
		Short: "Serve the BMI of an in-process model over grpc4bmi until interrupted.",
		Long: `The server answers the same calls as a model container, so the model can be
driven by any grpc4bmi client. With --http the JSON protocol is served instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := plugins.Registry().Lookup(args[0])
			if err != nil {
				return err
			}
			local, ok := p.(model.LocalPlugin)
			if !ok {
				return fmt.Errorf("model %s runs in a container and cannot be served in process", p.Name())
			}
			b := local.NewBmi()
			if useHTTP {
				return bmi.Serve(cmd.Context(), a.logger, addr, b)
			}
			return bmi.ServeGRPC(cmd.Context(), a.logger, addr, b)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:55555", "listen address")
	cmd.Flags().BoolVar(&useHTTP, "http", false, "serve the JSON over HTTP protocol")
	return cmd
}
