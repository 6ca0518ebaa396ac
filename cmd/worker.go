package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahura-cloud/kube-provisioner/pkg/queue"
	"github.com/ahura-cloud/kube-provisioner/pkg/server"
)

func workerCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume provisioning jobs from the queue, one at a time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, root, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if cfg.RedisURL == "" {
				return errors.New("the worker needs a queue, set REDIS_URL or --redis-url")
			}
			logger := root.WithField("consumer", cfg.ConsumerName)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := queue.Connect(ctx, cfg.RedisURL)
			if err != nil {
				return err
			}
			defer client.Close()

			s, err := openStores(ctx, logger, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			m := newMetrics()
			if cfg.MetricsAddr != "" {
				checks := s.checks()
				if checks == nil {
					checks = map[string]server.Check{}
				}
				checks["queue"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
				srv := server.New(cfg.MetricsAddr, logger, m, checks)
				go func() {
					if err := srv.Serve(); err != nil {
						logger.Errorf("metrics server failed: %v", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
			}

			orchestrator := newOrchestrator(logger, cfg, s, m)
			dispatcher := queue.NewDispatcher(logger, client, orchestrator, m, cfg)
			err = dispatcher.Run(ctx)
			logger.Info("worker stopped")
			return err
		},
	}
}
