package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ahura-cloud/kube-provisioner/pkg/cluster"
	"github.com/ahura-cloud/kube-provisioner/pkg/queue"
	"github.com/ahura-cloud/kube-provisioner/pkg/util"
)

func submitCmd(opts *options) *cobra.Command {
	var (
		allocate int
		sizing   cluster.Sizing
	)

	cmd := &cobra.Command{
		Use:   "submit <payload.json>",
		Short: "Validate a job payload and put it on the queue",
		Long: `Validate a job payload and put it on the queue.

With --allocate N, one control plane and N workers are reserved from the
inventory in the payload's location, and nodes without a host get the
reserved addresses.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, root, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if cfg.RedisURL == "" {
				return errors.New("set REDIS_URL or --redis-url to submit jobs")
			}
			data, err := util.LoadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to load payload: %w", err)
			}
			payload, err := cluster.DecodePayload(data)
			if err != nil {
				return err
			}
			logger := root.WithField("cluster", payload.ClusterID)
			ctx := context.Background()

			if allocate >= 0 {
				if cfg.DatabaseURL == "" {
					return errNoDatabase
				}
				s, err := openStores(ctx, logger, cfg)
				if err != nil {
					return err
				}
				defer s.Close()

				addresses, err := s.allocator.Reserve(ctx, payload.Cluster.Location, sizing, allocate+1)
				if err != nil {
					return err
				}
				logger.Infof("reserved %v", addresses)
				payload.Addresses = addresses
				if len(payload.Nodes) == 0 {
					payload.Nodes = map[string]cluster.NodeSpec{}
					for i, key := range cluster.NodeKeys(allocate) {
						role := cluster.RoleWorker
						if i == 0 {
							role = cluster.RoleControlPlane
						}
						payload.Nodes[key] = cluster.NodeSpec{Role: role, CPU: sizing.CPU, MemoryMB: sizing.MemoryMB}
					}
				}
			}

			job, err := payload.Job(cfg.JobDefaults())
			if err != nil {
				return err
			}
			client, err := queue.Connect(ctx, cfg.RedisURL)
			if err != nil {
				return err
			}
			defer client.Close()

			id, err := queue.Enqueue(ctx, client, cfg.QueueName, job)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().IntVar(&allocate, "allocate", -1, "reserve a control plane and this many workers from the inventory")
	cmd.Flags().IntVar(&sizing.CPU, "cpu", 0, "minimum vCPUs of reserved machines")
	cmd.Flags().IntVar(&sizing.MemoryMB, "ram", 0, "minimum memory of reserved machines, in MB")
	cmd.Flags().IntVar(&sizing.StorageGB, "storage", 0, "minimum storage of reserved machines, in GB")
	return cmd
}
