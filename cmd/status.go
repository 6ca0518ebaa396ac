package cmd

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"
)

func statusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <cluster-id>",
		Short: "Print the recorded progress of a cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, root, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errNoDatabase
			}
			ctx := context.Background()
			s, err := openStores(ctx, root.WithField("cluster", args[0]), cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			st, err := s.reporter.Read(ctx, args[0])
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(st)
		},
	}
}
