package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/embeddenator/embeddenator/internal/daemon"
	"github.com/embeddenator/embeddenator/internal/logging"
	"github.com/embeddenator/embeddenator/internal/output"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run or control the background daemon serializing writers to one engram",
		Long: `The daemon keeps one engram's codebook and retrieval index
resident in memory, so repeated ingest/query/update/compact
invocations against the same engram path talk to it over a Unix
socket instead of reloading and re-indexing the engram every time.

Commands:
  start   Start the daemon (runs in background by default)
  stop    Stop the running daemon
  status  Show daemon status`,
	}

	cmd.AddCommand(newServeStartCmd())
	cmd.AddCommand(newServeStopCmd())
	cmd.AddCommand(newServeStatusCmd())

	return cmd
}

func newServeStartCmd() *cobra.Command {
	var foreground bool
	var engramFlag string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon against an engram path",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runServeStart(cmd, engramFlag, foreground)
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (don't daemonize)")
	cmd.Flags().StringVar(&engramFlag, "engram", "", "Path to the .engram file this daemon owns (required)")
	_ = cmd.MarkFlagRequired("engram")

	return cmd
}

func newServeStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runServeStop(cmd)
		},
	}
}

func newServeStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runServeStatus(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runServeStart(cmd *cobra.Command, engramPath string, foreground bool) error {
	out := output.New(cmd.OutOrStdout())
	cfg := daemon.DefaultConfig()
	cfg.EngramPath = engramPath

	client := daemon.NewClient(cfg)
	if client.IsRunning() {
		out.Status("", "daemon is already running")
		return nil
	}

	if foreground {
		cleanup, err := logging.SetupDaemonMode()
		if err == nil {
			defer cleanup()
		}

		out.Status("", "starting daemon in foreground...")
		out.Status("", fmt.Sprintf("socket: %s", cfg.SocketPath))
		out.Status("", fmt.Sprintf("engram: %s", cfg.EngramPath))
		out.Status("", "press Ctrl+C to stop")

		slog.Info("daemon starting in foreground mode",
			slog.String("socket", cfg.SocketPath),
			slog.String("engram", cfg.EngramPath))

		d, err := daemon.NewDaemon(cfg)
		if err != nil {
			return fmt.Errorf("failed to create daemon: %w", err)
		}
		return d.Start(cmd.Context())
	}

	out.Status("", "starting daemon in background...")

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	bgCmd := exec.Command(execPath, "serve", "start", "--foreground", "--engram", engramPath)
	bgCmd.Stdout = nil
	bgCmd.Stderr = nil
	bgCmd.Stdin = nil
	bgCmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := bgCmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- bgCmd.Wait() }()

	for i := 0; i < 20; i++ {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("daemon process exited unexpectedly: %w", err)
			}
			return fmt.Errorf("daemon process exited unexpectedly with code 0")
		default:
		}

		time.Sleep(100 * time.Millisecond)
		if client.IsRunning() {
			out.Success(fmt.Sprintf("daemon started (pid: %d)", bgCmd.Process.Pid))
			return nil
		}
	}

	return fmt.Errorf("daemon failed to start within timeout")
}

func runServeStop(cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())
	cfg := daemon.DefaultConfig()

	pidFile := daemon.NewPIDFile(cfg.PIDPath)
	if !pidFile.IsRunning() {
		out.Status("", "daemon is not running")
		return nil
	}

	pid, err := pidFile.Read()
	if err != nil {
		return fmt.Errorf("failed to read PID: %w", err)
	}

	if err := pidFile.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if !pidFile.IsRunning() {
			out.Success(fmt.Sprintf("daemon stopped (was pid: %d)", pid))
			return nil
		}
	}

	out.Status("", "daemon not responding, sending SIGKILL...")
	if err := pidFile.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill daemon: %w", err)
	}
	out.Success("daemon killed")
	return nil
}

func runServeStatus(cmd *cobra.Command, jsonOutput bool) error {
	cfg := daemon.DefaultConfig()
	client := daemon.NewClient(cfg)

	if !client.IsRunning() {
		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(daemon.StatusResult{Running: false})
		}
		out := output.New(cmd.OutOrStdout())
		out.Status("", "daemon is not running")
		out.Status("", "run 'embeddenator serve start --engram <path>' to start it")
		return nil
	}

	status, err := client.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	out := output.New(cmd.OutOrStdout())
	out.Status("", "daemon is running")
	out.Status("", fmt.Sprintf("  PID:     %d", status.PID))
	out.Status("", fmt.Sprintf("  Uptime:  %s", status.Uptime))
	out.Status("", fmt.Sprintf("  Engram:  %s", status.EngramPath))
	out.Status("", fmt.Sprintf("  Files:   %d", status.FileCount))
	out.Status("", fmt.Sprintf("  Chunks:  %d", status.ChunkCount))
	out.Status("", fmt.Sprintf("  Socket:  %s", cfg.SocketPath))

	return nil
}
