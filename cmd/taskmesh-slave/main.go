// Command taskmesh-slave runs the remote-execution daemon: it
// advertises its host's execution methods (docker/venv/native),
// captures its own build identity for version-parity checks, and
// serves shell_exec commands dispatched by an orchestrator's slave
// manager over authenticated HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/observability/tracing"
	"github.com/taskmesh/taskmesh/internal/slave/capability"
	"github.com/taskmesh/taskmesh/internal/slave/executor"
	"github.com/taskmesh/taskmesh/internal/slave/server"
	"github.com/taskmesh/taskmesh/internal/slave/versioninfo"
)

var buildVersion = ""

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	rootCmd := &cobra.Command{
		Use:   "taskmesh-slave",
		Short: "Remote shell execution daemon",
		Long: `taskmesh-slave advertises its host's execution capabilities and
serves shell_exec commands dispatched by an orchestrator's slave
manager, refusing execution when its own commit doesn't match the
master's.`,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			v, err := versioninfo.Capture(buildVersion)
			if err != nil {
				fmt.Printf("taskmesh-slave (version unknown: %v)\n", err)
				return
			}
			fmt.Printf("taskmesh-slave %s (%s@%s)\n", v.Version, v.Branch, v.Commit)
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the remote execution daemon",
		RunE:  runServe,
	}
	serveCmd.Flags().String("config", "", "Path to config file")
	serveCmd.Flags().Int("port", 0, "HTTP port to listen on (overrides config)")
	serveCmd.Flags().String("token", "", "Bearer token required of the master (overrides config)")
	serveCmd.Flags().String("work-dir", "", "Root directory shell_exec commands run under (overrides config)")
	serveCmd.Flags().String("docker-image", "", "Docker image used for the docker execution method, if any (overrides config)")
	serveCmd.Flags().String("venv-path", "", "Python virtualenv to advertise as an execution method (overrides config)")
	serveCmd.Flags().String("tracing-endpoint", "", "OTLP HTTP endpoint; leaving it empty keeps tracing disabled")

	rootCmd.AddCommand(versionCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	port, _ := cmd.Flags().GetInt("port")
	token, _ := cmd.Flags().GetString("token")
	workDir, _ := cmd.Flags().GetString("work-dir")
	dockerImage, _ := cmd.Flags().GetString("docker-image")
	venvPath, _ := cmd.Flags().GetString("venv-path")
	tracingEndpoint, _ := cmd.Flags().GetString("tracing-endpoint")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port != 0 {
		cfg.Slave.Port = port
	}
	if token != "" {
		cfg.Slave.Token = token
	}
	if workDir != "" {
		cfg.Slave.WorkDir = workDir
	}
	if dockerImage != "" {
		cfg.Slave.DockerImage = dockerImage
	}
	if venvPath != "" {
		cfg.Slave.VenvPath = venvPath
	}
	if err := os.MkdirAll(cfg.Slave.WorkDir, 0755); err != nil {
		return fmt.Errorf("create work dir %s: %w", cfg.Slave.WorkDir, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracingCfg := tracing.SlaveConfig()
	if tracingEndpoint != "" {
		tracingCfg.Enable = true
		tracingCfg.Endpoint = tracingEndpoint
	}
	tp, err := tracing.Init(ctx, tracingCfg)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	if tp != nil {
		defer tp.Shutdown(context.Background())
	}

	version, err := versioninfo.Capture(buildVersion)
	if err != nil {
		log.Warn().Err(err).Msg("failed to capture VCS version; the master will always see a version mismatch for this slave")
	}

	caps := capability.Detect(cfg.Slave.VenvPath)
	log.Info().
		Str("hostname", caps.Hostname).
		Str("os", caps.OS).
		Int("cpu_cores", caps.CPUCores).
		Bool("docker_available", caps.DockerAvailable).
		Strs("execution_methods", caps.ExecutionMethods).
		Msg("capabilities detected")

	var dockerExec *executor.DockerExecutor
	if caps.DockerAvailable && cfg.Slave.DockerImage != "" {
		dockerExec, err = executor.NewDockerExecutor(cfg.Slave.DockerImage)
		if err != nil {
			log.Warn().Err(err).Msg("docker executor unavailable, falling back to native/venv")
		}
	}
	var venvExec *executor.VenvExecutor
	if cfg.Slave.VenvPath != "" {
		venvExec = executor.NewVenvExecutor(cfg.Slave.VenvPath)
	}
	execMgr := executor.NewManager(dockerExec, venvExec)

	srvCfg := server.DefaultConfig()
	srvCfg.Port = cfg.Slave.Port
	srvCfg.Token = cfg.Slave.Token
	srvCfg.WorkDir = cfg.Slave.WorkDir
	srvCfg.ExecuteTimeout = cfg.Slave.ExecuteTimeout
	srvCfg.MaxOutputBytes = cfg.Slave.MaxOutputBytes
	srvCfg.TLSCertFile = cfg.Slave.TLSCert
	srvCfg.TLSKeyFile = cfg.Slave.TLSKey

	srv := server.New(srvCfg, execMgr, caps, version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- fmt.Errorf("slave http server: %w", err)
		}
	}()

	log.Info().Int("port", cfg.Slave.Port).Str("commit", version.Commit).Msg("taskmesh-slave started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
