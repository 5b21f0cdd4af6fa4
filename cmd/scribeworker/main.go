// Command scribeworker is the process entrypoint for one scribe partition
// worker: it loads configuration, joins ZooKeeper membership, dials the
// document repository and producer, and exposes the admin HTTP surface.
// Collaborators are constructed top to bottom, the process runs until
// Ctrl+C via signal.NotifyContext, and shutdown happens in reverse order.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/scribelake/scribe/internal/admin"
	"github.com/scribelake/scribe/internal/config"
	"github.com/scribelake/scribe/pkg/membership"
	"github.com/scribelake/scribe/pkg/producer"
	"github.com/scribelake/scribe/pkg/repo"
	"github.com/scribelake/scribe/pkg/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scribeworker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var partitionOverride string

	flagSet := pflag.NewFlagSet("scribeworker", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the worker's YAML config file")
	flagSet.StringVar(&partitionOverride, "partition", "", "override node.partition_id from the config file")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if partitionOverride != "" {
		cfg.Node.PartitionID = partitionOverride
	}

	log := slog.Default()
	log.Info("scribeworker starting", "partition", cfg.Node.PartitionID)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mem, err := membership.Connect(cfg.Node.ZKServers, cfg.Node.ZKRoot, cfg.Node.PartitionID)
	if err != nil {
		return fmt.Errorf("connect membership: %w", err)
	}
	defer mem.Close()

	repoClient, err := repo.Dial(cfg.Networking.RepoAddr)
	if err != nil {
		return fmt.Errorf("dial repo: %w", err)
	}
	defer repoClient.Close()

	producerClient, err := producer.Dial(cfg.Networking.ProducerAddr)
	if err != nil {
		return fmt.Errorf("dial producer: %w", err)
	}
	defer producerClient.Close()

	sup := newSupervisor(cfg, mem, repoClient, producerClient, log)

	adminServer := admin.New(sup, cfg.Networking.AdminAddr, log)
	if err := adminServer.Start(); err != nil {
		return fmt.Errorf("start admin server: %w", err)
	}

	log.Info("scribeworker ready", "admin_addr", cfg.Networking.AdminAddr)

	<-ctx.Done()
	log.Info("scribeworker shutting down")

	sup.CloseAll(types.CloseShutdown)
	if err := adminServer.Stop(); err != nil {
		log.Warn("admin server shutdown error", "error", err)
	}

	return nil
}
