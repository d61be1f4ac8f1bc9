package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ZentaChain/talkrelay/pkg/api"
	"github.com/ZentaChain/talkrelay/pkg/config"
	"github.com/ZentaChain/talkrelay/pkg/logging"
	"github.com/ZentaChain/talkrelay/pkg/network"
	"github.com/ZentaChain/talkrelay/pkg/storage"
)

// exitCommand typed on stdin stops the relay
const exitCommand = "Exit"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "relay",
		Short:         "Run the chat relay server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			if err := run(cmd.Context(), cfg, os.Stdin); err != nil {
				log.WithError(err).Error("Relay exited with error")
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a config file (yaml, toml or json)")
	return cmd
}

func run(ctx context.Context, cfg config.Config, stdin io.Reader) error {
	if err := logging.Setup(logging.Config{
		Level:        cfg.Log.Level,
		Format:       cfg.Log.Format,
		ReportCaller: cfg.Log.ReportCaller,
	}); err != nil {
		return err
	}

	printBanner()

	creds, err := storage.Open(cfg.Credentials.Backend, cfg.Credentials.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := creds.Close(); err != nil {
			log.WithError(err).Warn("Closing credential store failed")
		}
	}()
	log.WithFields(log.Fields{
		"backend": cfg.Credentials.Backend,
		"path":    cfg.Credentials.Path,
	}).Info("Credential store opened")

	relay := network.NewRelayServer(network.RelayConfig{
		ListenAddress:    cfg.ListenAddress,
		WebSocketAddress: cfg.WebSocketAddress,
		SendBuffer:       cfg.SendBuffer,
	}, creds)
	if err := relay.Start(); err != nil {
		return err
	}

	var admin *api.Server
	if cfg.AdminAddress != "" {
		apiCfg := api.DefaultConfig()
		apiCfg.Address = cfg.AdminAddress
		admin = api.NewServer(relay, apiCfg)
		if err := admin.Start(); err != nil {
			stopRelay(relay, cfg.ShutdownGracePeriod)
			return err
		}
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go heartbeatLoop(hbCtx, relay, cfg.HeartbeatInterval)

	log.Info("Type Exit or press Ctrl+C to stop")
	waitForShutdown(ctx, stdin)

	log.Info("Shutting down gracefully...")
	stopHeartbeat()

	if admin != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		if err := admin.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Admin API shutdown failed")
		}
		cancel()
	}

	return stopRelay(relay, cfg.ShutdownGracePeriod)
}

func stopRelay(relay *network.RelayServer, grace time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return relay.Stop(ctx)
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════════╗")
	fmt.Println("║               TalkRelay Chat Server               ║")
	fmt.Println("╚═══════════════════════════════════════════════════╝")
	fmt.Println()
}

func heartbeatLoop(ctx context.Context, relay *network.RelayServer, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		relay.Heartbeat()
		stats := relay.GetStats()
		log.WithFields(log.Fields{
			"online":   stats["online_sessions"],
			"routed":   stats["envelopes_routed"],
			"pending":  stats["pending_binaries"],
			"uptime_s": stats["uptime_seconds"],
		}).Info("Heartbeat")
	}
}

// waitForShutdown blocks until a termination signal, ctx ends, or the
// operator types Exit
func waitForShutdown(ctx context.Context, stdin io.Reader) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.WithField("signal", sig).Info("Received signal")
	case <-watchOperatorInput(stdin):
		log.Info("Operator requested exit")
	case <-ctx.Done():
	}
}

// watchOperatorInput returns a channel closed once a line equal to Exit is
// read. EOF on stdin does not close it.
func watchOperatorInput(r io.Reader) <-chan struct{} {
	done := make(chan struct{})
	if r == nil {
		return done
	}
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			if strings.TrimSpace(scanner.Text()) == exitCommand {
				close(done)
				return
			}
		}
	}()
	return done
}
