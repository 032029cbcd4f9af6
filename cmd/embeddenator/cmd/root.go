// Package cmd provides the CLI commands for Embeddenator.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/embeddenator/embeddenator/internal/errorsx"
	"github.com/embeddenator/embeddenator/internal/logging"
	"github.com/embeddenator/embeddenator/internal/profiling"
	"github.com/embeddenator/embeddenator/pkg/version"
)

// Profiling flags
var (
	profileCPU   string
	profileMem   string
	profileTrace string
	profiler     = profiling.NewProfiler()
	cpuCleanup   func()
	traceCleanup func()
)

// Debug logging flag
var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the embeddenator CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embeddenator",
		Short: "Content-addressable holographic engram store",
		Long: `Embeddenator stores a directory tree as a single engram: a
sparse ternary VSA root vector bundled from every chunk's id-vector,
backed by an append-only codebook that guarantees bit-exact
reconstruction of every stored byte.

Run 'embeddenator ingest <path>' to build an engram, then
'embeddenator query' to search it approximately or 'embeddenator
extract' to reconstruct a file exactly.`,
		Version:       version.Version,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("embeddenator version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.embeddenator/logs/")
	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newExtractCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newBundleHierCmd())
	cmd.AddCommand(newUpdateCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging enables debug file logging if --debug was
// passed, then starts CPU and trace profiling if their respective
// flags were given. Order matters: logging comes up first so that
// profiling start/stop is itself visible in the debug log.
func startProfilingAndLogging(cmd *cobra.Command, args []string) error {
	if err := startLogging(cmd, args); err != nil {
		return err
	}

	if profileCPU != "" {
		cleanup, err := profiler.StartCPU(profileCPU)
		if err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
		cpuCleanup = cleanup
		slog.Debug("CPU profiling started", slog.String("path", profileCPU))
	}

	if profileTrace != "" {
		cleanup, err := profiler.StartTrace(profileTrace)
		if err != nil {
			if cpuCleanup != nil {
				cpuCleanup()
				cpuCleanup = nil
			}
			return fmt.Errorf("failed to start execution trace: %w", err)
		}
		traceCleanup = cleanup
		slog.Debug("execution trace started", slog.String("path", profileTrace))
	}

	return nil
}

// stopProfilingAndLogging stops any profiling started by
// startProfilingAndLogging, writes the heap profile if requested,
// and finally closes the debug log.
func stopProfilingAndLogging(cmd *cobra.Command, args []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}
	if traceCleanup != nil {
		traceCleanup()
		traceCleanup = nil
	}

	if profileMem != "" {
		if err := profiler.WriteHeap(profileMem); err != nil {
			slog.Warn("failed to write heap profile", slog.String("path", profileMem), slog.Any("error", err))
		} else {
			slog.Debug("heap profile written", slog.String("path", profileMem))
		}
	}

	return stopLogging(cmd, args)
}

// startLogging enables debug file logging if --debug was passed.
func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}

	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))

	return nil
}

// stopLogging flushes and closes the debug log file, if one was opened.
func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command and returns the process exit code:
// 0 on success, 2 for a usage error (cobra has already printed
// usage), otherwise the exit code §6's error-kind table maps the
// failure's Kind to (1 for anything not explicitly listed, 3 for an
// integrity or manifest-version failure).
func Execute() int {
	root := NewRootCmd()

	cmd, err := root.ExecuteC()
	if err == nil {
		return 0
	}

	var ue *usageError
	if !cmd.SilenceUsage || errors.As(err, &ue) {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	var ae *errorsx.Error
	if errors.As(err, &ae) {
		fmt.Fprint(os.Stderr, errorsx.FormatForCLI(ae))
		return errorsx.ExitCode(ae.Kind)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}
