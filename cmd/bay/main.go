package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/bay/internal/allocator"
	"github.com/cuemby/bay/internal/api"
	"github.com/cuemby/bay/internal/config"
	"github.com/cuemby/bay/internal/containerdriver"
	"github.com/cuemby/bay/internal/scheduler"
	"github.com/cuemby/bay/internal/store"
	"github.com/cuemby/bay/pkg/forwarder"
	baylog "github.com/cuemby/bay/pkg/log"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "bay",
	Short:   "Bay orchestrates short-lived container sandboxes",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("bay version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("containerd-socket", "", "containerd socket path (defaults to /run/containerd/containerd.sock)")
	rootCmd.PersistentFlags().String("containerd-namespace", "", "containerd namespace Ships live in (defaults to \"bay\")")
	rootCmd.PersistentFlags().Bool("publish-ports", false, "Additionally publish each Ship's worker port on a host port")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")

	baylog.Init(baylog.Config{
		Level:      baylog.Level(level),
		JSONOutput: jsonOutput,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Bay control plane",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		log := baylog.WithComponent("main")

		socketPath, _ := cmd.Flags().GetString("containerd-socket")
		namespace, _ := cmd.Flags().GetString("containerd-namespace")
		publishPorts, _ := cmd.Flags().GetBool("publish-ports")

		dataDir := filepath.Dir(cfg.DatabaseURL)
		if dataDir == "" {
			dataDir = "."
		}
		st, err := store.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		drv, err := containerdriver.NewContainerdDriver(containerdriver.Config{
			SocketPath:   socketPath,
			Namespace:    namespace,
			Image:        cfg.ContainerImage,
			Network:      cfg.ContainerNetwork,
			PublishPorts: publishPorts,
		})
		if err != nil {
			return fmt.Errorf("connect to containerd: %w", err)
		}
		defer drv.Close()

		sched := scheduler.New(st, drv)
		defer sched.Stop()

		fwd := forwarder.New(containerdriver.ShipWorkerPort)
		alloc := allocator.New(st, drv, fwd, sched, cfg)

		srv := api.New(alloc, cfg)

		addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("addr", addr).Msg("bay listening")
			if err := srv.ListenAndServe(addr); err != nil {
				errCh <- err
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			log.Info().Msg("shutting down")
		case err := <-errCh:
			return fmt.Errorf("api server error: %w", err)
		}

		return nil
	},
}
