package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ahura-cloud/kube-provisioner/pkg/config"
	logpkg "github.com/ahura-cloud/kube-provisioner/pkg/log"
)

// options are the flags shared by every subcommand
type options struct {
	verbose    int
	jsonLogs   bool
	configPath string
	flags      *config.Flags
}

// load builds the configuration and the root logger for a subcommand
func (o *options) load(cmd *cobra.Command) (*config.Config, *log.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	o.flags.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := logpkg.New(o.verbose, o.jsonLogs, cmd.ErrOrStderr())
	return cfg, logger, nil
}

func rootCmd() (*cobra.Command, error) {
	opts := &options{}

	cmd := &cobra.Command{
		Use:          "kube-provisioner",
		Short:        "Provision kubeadm clusters on existing machines over SSH",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().CountVarP(&opts.verbose, "verbose", "v", "increase log verbosity, repeat for trace")
	cmd.PersistentFlags().BoolVar(&opts.jsonLogs, "log-json", false, "log as JSON")
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	opts.flags = config.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		workerCmd(opts),
		provisionCmd(opts),
		submitCmd(opts),
		statusCmd(opts),
	)
	return cmd, nil
}

// Execute primary function for cobra
func Execute() {
	rootCmd, err := rootCmd()
	if err != nil {
		log.Fatal(err)
	}
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
