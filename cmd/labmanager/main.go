package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/redmage123/course-creator-sub023/internal/audit"
	"github.com/redmage123/course-creator-sub023/internal/config"
	"github.com/redmage123/course-creator-sub023/internal/lab"
	"github.com/redmage123/course-creator-sub023/internal/ports"
	"github.com/redmage123/course-creator-sub023/internal/runtime"
	"github.com/redmage123/course-creator-sub023/internal/web"
	"github.com/redmage123/course-creator-sub023/internal/workspace"
)

var (
	// Version is set during build
	Version = "dev"
	// BuildTime is set during build
	BuildTime = "unknown"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	var envFile string

	rootCmd := &cobra.Command{
		Use:   "labmanager",
		Short: "Student Lab Environment Manager",
		Long: `labmanager provisions and tracks one containerized lab environment
per student and course, exposing browser IDE surfaces over allocated host ports.`,
		Run: func(cmd *cobra.Command, args []string) {
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil {
					log.Warnf("Could not load env file %s: %v", envFile, err)
				}
			} else {
				// Best effort, a missing .env is fine
				_ = godotenv.Load()
			}

			log.Infof("Starting labmanager %s (built at %s)", Version, BuildTime)
			runServer(log)
		},
	}

	rootCmd.Flags().StringVar(&envFile, "env-file", "", "Path to an env file with LAB_* settings")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("labmanager %s (built at %s)\n", Version, BuildTime)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Failed to execute command: %v", err)
	}
}

func runServer(log *logrus.Logger) {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	if err := os.MkdirAll(cfg.WorkspaceRoot, 0755); err != nil {
		log.Fatalf("Failed to create workspace root: %v", err)
	}

	dockerRuntime, err := runtime.NewDockerRuntime(cfg.Runtime.CallTimeout, log)
	if err != nil {
		log.Fatalf("Failed to connect to container engine: %v", err)
	}

	allocator, err := ports.NewAllocator(cfg.PortRangeLow, cfg.PortRangeHigh, log)
	if err != nil {
		log.Fatalf("Failed to create port allocator: %v", err)
	}

	auditLog, err := audit.Open(cfg.DataDir, log)
	if err != nil {
		log.Fatalf("Failed to open audit log: %v", err)
	}

	manager := lab.NewManager(cfg, dockerRuntime, allocator, auditLog, log)
	gateway := workspace.NewGateway(manager, log)

	healthMonitor := lab.NewHealthMonitor(manager, cfg.Lifecycle.HealthInterval, log)
	idleReaper := lab.NewIdleReaper(manager, cfg.Lifecycle.ReapInterval, cfg.Lifecycle.IdleTimeout, log)
	go healthMonitor.Run(ctx)
	go idleReaper.Run(ctx)

	server := web.NewServer(manager, gateway, log, cfg.HTTP.Host, cfg.HTTP.Port)
	if err := server.Start(); err != nil {
		log.Fatalf("Failed to start API server: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info("Lab manager is running. Press Ctrl+C to stop.")

	sig := <-sigCh
	log.Infof("Received signal %v, shutting down...", sig)

	// Stop the background loops before draining, so the reaper does not race
	// the teardown of labs it is about to sweep
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Errorf("Failed to stop API server: %v", err)
	}

	manager.Shutdown(shutdownCtx)

	if err := auditLog.Close(); err != nil {
		log.Errorf("Failed to close audit log: %v", err)
	}
	if err := dockerRuntime.Close(); err != nil {
		log.Errorf("Failed to close container engine client: %v", err)
	}

	log.Info("Shutdown complete")
}
