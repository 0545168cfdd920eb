package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/alpinekube/pkg/agent"
	"github.com/cuemby/alpinekube/pkg/api"
	"github.com/cuemby/alpinekube/pkg/client"
	"github.com/cuemby/alpinekube/pkg/config"
	"github.com/cuemby/alpinekube/pkg/health"
	"github.com/cuemby/alpinekube/pkg/log"
	"github.com/cuemby/alpinekube/pkg/manager"
	"github.com/cuemby/alpinekube/pkg/metrics"
	"github.com/cuemby/alpinekube/pkg/runtime"
	"github.com/cuemby/alpinekube/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "alpinekube",
	Short: "alpinekube - a minimal CPU-based pod scheduler",
	Long: `alpinekube keeps a ledger of nodes and their CPU, places pods on them
with best fit, completes pods when their duration elapses and moves pods
off nodes that stop sending heartbeats.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"alpinekube version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("addr", "127.0.0.1:7070", "Control plane API address")
	rootCmd.PersistentFlags().Duration("timeout", 10*time.Second, "Timeout for API calls")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(podCmd)
	rootCmd.AddCommand(waitlistCmd)
	rootCmd.AddCommand(eventsCmd)
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the control plane",
	Long: `Run the control plane: the gRPC API, the health and metrics endpoints
and the sweep loop that demotes, restarts and removes silent nodes.

Flags override values read from --config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadServerConfig(cmd)
		if err != nil {
			return err
		}

		log.Init(log.Config{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
		logger := log.WithComponent("server")
		metrics.SetVersion(Version)

		rt, err := runtime.New(cfg.RuntimeDriver())
		if err != nil {
			return fmt.Errorf("failed to initialize runtime: %w", err)
		}

		var journal *storage.BoltJournal
		if cfg.Journal.Path != "" {
			journal, err = storage.NewBoltJournal(cfg.Journal.Path)
			if err != nil {
				rt.Close()
				return err
			}
		}

		mgr := manager.NewManager(manager.Config{
			Health:        cfg.Health(),
			SweepInterval: cfg.SweepInterval,
			Image:         cfg.Runtime.Image,
			MemoryPerCPU:  cfg.MemoryBytes(1),
		}, rt, journal)
		mgr.Start()

		errCh := make(chan error, 3)

		apiServer := api.NewServer(mgr)
		go func() {
			if err := apiServer.Start(cfg.APIAddr); err != nil {
				errCh <- fmt.Errorf("API server error: %w", err)
			}
		}()

		var socketServer *api.Server
		if cfg.APISocket != "" {
			socketServer = api.NewReadOnlyServer(mgr)
			go func() {
				if err := socketServer.StartUnix(cfg.APISocket); err != nil {
					errCh <- fmt.Errorf("read-only socket error: %w", err)
				}
			}()
		}

		var healthServer *api.HealthServer
		if cfg.HealthAddr != "" {
			healthServer = api.NewHealthServer(cfg.HealthAddr, metrics.DefaultHealthChecker())
			go func() {
				if err := healthServer.Start(); err != nil {
					errCh <- fmt.Errorf("health server error: %w", err)
				}
			}()
		}
		metrics.UpdateComponent(metrics.ComponentAPI, true, cfg.APIAddr)

		logger.Info().
			Str("api_addr", cfg.APIAddr).
			Str("api_socket", cfg.APISocket).
			Str("health_addr", cfg.HealthAddr).
			Str("runtime", rt.Name()).
			Str("version", Version).
			Msg("alpinekube is running")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		var runErr error
		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		case runErr = <-errCh:
			logger.Error().Err(runErr).Msg("Shutting down after server failure")
		}

		metrics.UpdateComponent(metrics.ComponentAPI, false, "shutting down")
		apiServer.Stop()
		if socketServer != nil {
			socketServer.Stop()
		}
		if healthServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := healthServer.Shutdown(ctx); err != nil {
				logger.Warn().Err(err).Msg("Failed to stop health server")
			}
			cancel()
		}
		if err := mgr.Stop(); err != nil {
			return fmt.Errorf("failed to shutdown: %w", err)
		}
		return runErr
	},
}

func init() {
	serverFlags(serverCmd)
}

// serverFlags declares the flags that override the configuration file
func serverFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Path to a YAML configuration file")
	cmd.Flags().String("api-addr", "", "Address for the gRPC API")
	cmd.Flags().String("api-socket", "", "Unix socket for the read-only API")
	cmd.Flags().String("health-addr", "", "Address for /health, /ready and /metrics")
	cmd.Flags().String("runtime", "", "Runtime driver: simulated, containerd or docker")
	cmd.Flags().String("image", "", "Image started for each node")
	cmd.Flags().String("journal", "", "Path of the event journal (disabled when empty)")
	cmd.Flags().Duration("sweep-interval", 0, "Period of the health and waitlist sweep")
	cmd.Flags().Duration("unhealthy-after", 0, "Heartbeat silence before a node is unhealthy")
	cmd.Flags().Duration("remove-after", 0, "Heartbeat silence before a node is removed")
	cmd.Flags().String("log-level", "", "Log level: debug, info, warn or error")
	cmd.Flags().Bool("log-json", false, "Log in JSON")
}

// loadServerConfig reads --config and applies the flags that were set
func loadServerConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("api-addr") {
		cfg.APIAddr, _ = flags.GetString("api-addr")
	}
	if flags.Changed("api-socket") {
		cfg.APISocket, _ = flags.GetString("api-socket")
	}
	if flags.Changed("health-addr") {
		cfg.HealthAddr, _ = flags.GetString("health-addr")
	}
	if flags.Changed("runtime") {
		cfg.Runtime.Driver, _ = flags.GetString("runtime")
	}
	if flags.Changed("image") {
		cfg.Runtime.Image, _ = flags.GetString("image")
	}
	if flags.Changed("journal") {
		cfg.Journal.Path, _ = flags.GetString("journal")
	}
	if flags.Changed("sweep-interval") {
		cfg.SweepInterval, _ = flags.GetDuration("sweep-interval")
	}
	if flags.Changed("unhealthy-after") {
		cfg.UnhealthyAfter, _ = flags.GetDuration("unhealthy-after")
	}
	if flags.Changed("remove-after") {
		cfg.RemoveAfter, _ = flags.GetDuration("remove-after")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON, _ = flags.GetBool("log-json")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var agentCmd = &cobra.Command{
	Use:   "agent NODE_ID",
	Short: "Send heartbeats for a node",
	Long: `Send a heartbeat for NODE_ID every --interval. With --cpu the node is
registered first. With --probe (http://, https:// or tcp://host:port) the
agent withholds heartbeats while the local workload fails the probe.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cpu, _ := cmd.Flags().GetInt("cpu")
		interval, _ := cmd.Flags().GetDuration("interval")
		target, _ := cmd.Flags().GetString("probe")
		retries, _ := cmd.Flags().GetInt("probe-retries")
		level, _ := cmd.Flags().GetString("log-level")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		log.Init(log.Config{Level: level})

		cfg := agent.Config{
			NodeID:       args[0],
			CPU:          cpu,
			Interval:     interval,
			Timeout:      timeout,
			ProbeRetries: retries,
		}
		if target != "" {
			probe, err := health.ParseProbe(target)
			if err != nil {
				return err
			}
			cfg.Probe = probe
		}

		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		a, err := agent.NewAgent(c, cfg)
		if err != nil {
			return err
		}
		if err := a.Start(cmd.Context()); err != nil {
			return err
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		a.Stop()
		return nil
	},
}

func init() {
	agentCmd.Flags().Int("cpu", 0, "Register the node with this many CPUs before the first heartbeat")
	agentCmd.Flags().Duration("interval", agent.DefaultInterval, "Heartbeat period")
	agentCmd.Flags().String("probe", "", "Local health probe target")
	agentCmd.Flags().Int("probe-retries", agent.DefaultProbeRetries, "Consecutive probe failures before heartbeats stop")
	agentCmd.Flags().String("log-level", "info", "Log level: debug, info, warn or error")
}

// dial connects to the API address given by --addr
func dial(cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("addr")
	c, err := client.NewClient(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return c, nil
}

// callContext bounds a single API call by --timeout
func callContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return context.WithTimeout(cmd.Context(), timeout)
}
