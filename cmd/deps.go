package cmd

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/ahura-cloud/kube-provisioner/pkg/bootstrap"
	"github.com/ahura-cloud/kube-provisioner/pkg/config"
	"github.com/ahura-cloud/kube-provisioner/pkg/inventory"
	"github.com/ahura-cloud/kube-provisioner/pkg/kube"
	"github.com/ahura-cloud/kube-provisioner/pkg/metrics"
	"github.com/ahura-cloud/kube-provisioner/pkg/remote"
	"github.com/ahura-cloud/kube-provisioner/pkg/server"
	"github.com/ahura-cloud/kube-provisioner/pkg/status"
	"github.com/ahura-cloud/kube-provisioner/pkg/store"
)

var errNoDatabase = errors.New("a database is required, set DATABASE_URL or --database-url")

// stores are the status and inventory backends of a command
type stores struct {
	db        *store.DB
	reporter  status.Reporter
	allocator inventory.Allocator
}

// openStores connects to PostgreSQL when a database is configured and falls
// back to in-process stores otherwise
func openStores(ctx context.Context, logger *log.Entry, cfg *config.Config) (*stores, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("no database configured, status and inventory are kept in memory")
		return &stores{
			reporter:  status.NewMemoryReporter(),
			allocator: inventory.NewMemoryAllocator(),
		}, nil
	}
	db, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &stores{
		db:        db,
		reporter:  status.NewPostgresReporter(db.Pool),
		allocator: inventory.NewPostgresAllocator(db.Pool),
	}, nil
}

func (s *stores) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *stores) checks() map[string]server.Check {
	if s.db == nil {
		return nil
	}
	return map[string]server.Check{"database": s.db.Healthy}
}

// newOrchestrator wires the SSH executor, prober and node labeler
func newOrchestrator(logger *log.Entry, cfg *config.Config, s *stores, m *metrics.Metrics) *bootstrap.Orchestrator {
	executor := remote.NewSSHExecutor(logger, m, cfg.SSHPort, cfg.SSHDialTimeout)
	prober := remote.NewSSHProber(logger, executor, cfg.SSHPort)
	labeler := kube.NewNodeLabeler(logger)
	return bootstrap.New(logger, executor, prober, s.reporter, s.allocator, labeler, m, cfg)
}

func newMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}
