// Command server runs one VoteCast coordination-fleet node: it joins the
// discovery multicast group, participates in Hirschberg-Sinclair leader
// election, and — while leader — serves client REGISTER/group/vote
// requests and drives FIFO reliable multicast of VOTE messages.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/votecast/coordinator-service/internal/config"
	"github.com/votecast/coordinator-service/internal/node"
	"github.com/votecast/coordinator-service/internal/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		mcastGroup string
		mcastPort  int
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "server <port>",
		Short: "Run one node of the VoteCast coordination fleet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", args[0], err)
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if mcastGroup != "" {
				cfg.MulticastGroup = mcastGroup
			}
			if mcastPort != 0 {
				cfg.MulticastPort = mcastPort
			}

			logger, err := newLogger(debug)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			return run(logger, cfg, port)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a fleet config YAML file (optional)")
	cmd.Flags().StringVar(&mcastGroup, "mcast-group", "", "override the discovery multicast group")
	cmd.Flags().IntVar(&mcastPort, "mcast-port", 0, "override the discovery multicast port")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable verbose development logging")

	return cmd
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(logger *zap.Logger, cfg config.Config, port int) error {
	host, err := transport.LocalIP()
	if err != nil {
		return fmt.Errorf("discover local ip: %w", err)
	}

	t, err := transport.New(logger, host, port, cfg.MulticastAddr())
	if err != nil {
		return err
	}

	id := t.LocalAddr()
	logger.Info("starting VoteCast server", zap.String("id", id))

	n := node.New(id, logger, cfg, t)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	n.Run(ctx)

	logger.Info("server stopped cleanly", zap.String("id", id))
	return nil
}
