package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ewatercycle/ewatercycle-go/internal/config"
	"github.com/ewatercycle/ewatercycle-go/internal/parameterset"
	"github.com/ewatercycle/ewatercycle-go/internal/platform/objectstore"
)

func (a *app) parameterSetsCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "parameter-sets", Short: "List and download parameter sets."}

	var target string
	list := &cobra.Command{
		Use:   "list",
		Short: "List the parameter sets of the configuration that are present on disk.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.store.Get()
			names, err := parameterset.Available(cfg, target)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTARGET MODEL\tVERSIONS\tDIRECTORY")
			for _, name := range names {
				ps, err := parameterset.Get(cfg, name)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ps.Name, ps.TargetModel, strings.Join(ps.SupportedModelVersions, ","), ps.Directory)
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&target, "model", "", "only list parameter sets for this model")

	var (
		force     bool
		fromS3    string
		name      string
		psConfig  string
		psModel   string
		psVersion []string
	)
	download := &cobra.Command{
		Use:   "download [name...]",
		Short: "Download the example parameter sets, or one set from the object store.",
		Long: `Without --from-s3 the named example parameter sets are downloaded, all of
them when no name is given. With --from-s3 bucket/prefix the objects below
the prefix become the parameter set --name.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sets, err := a.downloadSets(cmd.Context(), args, fromS3, name, psConfig, psModel, psVersion)
			if err != nil {
				return err
			}
			path, err := parameterset.DownloadExamples(cmd.Context(), a.store, sets, force, a.logger)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	download.Flags().BoolVar(&force, "force", false, "download even when the files exist")
	download.Flags().StringVar(&fromS3, "from-s3", "", "bucket/prefix holding a parameter set")
	download.Flags().StringVar(&name, "name", "", "name of the parameter set downloaded with --from-s3")
	download.Flags().StringVar(&psConfig, "config-file", "", "model config file inside the parameter set, with --from-s3")
	download.Flags().StringVar(&psModel, "target-model", "", "model of the parameter set, with --from-s3")
	download.Flags().StringSliceVar(&psVersion, "versions", nil, "supported model versions, with --from-s3")

	cmd.AddCommand(list, download)
	return cmd
}

func (a *app) downloadSets(ctx context.Context, names []string, fromS3, name, cfgFile, model string, versions []string) ([]parameterset.ParameterSet, error) {
	if fromS3 == "" {
		if len(names) == 0 {
			return parameterset.Examples(), nil
		}
		sets := make([]parameterset.ParameterSet, 0, len(names))
		for _, n := range names {
			ps, ok := parameterset.Example(n)
			if !ok {
				return nil, fmt.Errorf("%w: no example parameter set named %s", parameterset.ErrNotFound, n)
			}
			sets = append(sets, ps)
		}
		return sets, nil
	}

	if name == "" || cfgFile == "" || model == "" {
		return nil, fmt.Errorf("--from-s3 needs --name, --config-file and --target-model")
	}
	bucket, prefix, _ := strings.Cut(strings.TrimPrefix(fromS3, "s3://"), "/")
	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if bucket == "" {
		bucket = storeCfg.Bucket
	}
	storeCfg.Bucket = bucket
	client, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		return nil, err
	}
	if err := objectstore.CheckBucket(ctx, client, storeCfg); err != nil {
		return nil, err
	}
	ps := parameterset.FromConfig(name, config.ParameterSetEntry{
		Directory:              name,
		Config:                 cfgFile,
		TargetModel:            model,
		SupportedModelVersions: versions,
	})
	ps.Downloader = parameterset.ObjectStoreDownloader{Client: client, Bucket: bucket, Prefix: prefix}
	return []parameterset.ParameterSet{ps}, nil
}
