package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ahura-cloud/kube-provisioner/pkg/cluster"
	"github.com/ahura-cloud/kube-provisioner/pkg/util"
)

func provisionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "provision <payload.json>",
		Short: "Provision a single cluster from a job payload, without the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, root, err := opts.load(cmd)
			if err != nil {
				return err
			}
			data, err := util.LoadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to load payload: %w", err)
			}
			job, err := cluster.ParseJob(data, cfg.JobDefaults())
			if err != nil {
				return err
			}
			logger := root.WithField("cluster", job.Spec.ID)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := openStores(ctx, logger, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := newOrchestrator(logger, cfg, s, newMetrics()).Run(ctx, job)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}
