package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/embeddenator/embeddenator/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements and engram health",
		Long: `Run diagnostics to ensure embeddenator can operate correctly.

Checks:
  - Disk space (100MB minimum)
  - Memory availability (1GB minimum)
  - Write permissions
  - File descriptor limits (1024 minimum)
  - Any .engram file in the current directory loads cleanly
  - Codebook tombstone ratio (suggests compaction when high)`,
		Example: `  # Run diagnostics
  embeddenator doctor

  # Verbose output with details
  embeddenator doctor --verbose

  # JSON output for scripting
  embeddenator doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			return runDoctor(cmd, verbose, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runDoctor(cmd *cobra.Command, verbose, jsonOutput bool) error {
	root, err := os.Getwd()
	if err != nil {
		root = "."
	}

	checker := preflight.New(
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
	)

	results := checker.RunAll(cmd.Context(), root)

	if jsonOutput {
		return outputDoctorJSON(cmd, checker, results)
	}

	checker.PrintResults(results)

	if checker.HasCriticalFailures(results) {
		return &doctorError{message: "system check failed"}
	}

	return nil
}

// doctorError signals a critical preflight failure; Execute maps it to
// exit code 1 since it carries no errorsx.Kind.
type doctorError struct {
	message string
}

func (e *doctorError) Error() string {
	return e.message
}

type doctorJSONOutput struct {
	Status string             `json:"status"`
	Checks []doctorJSONResult `json:"checks"`
}

type doctorJSONResult struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Required bool   `json:"required"`
	Details  string `json:"details,omitempty"`
}

func outputDoctorJSON(cmd *cobra.Command, checker *preflight.Checker, results []preflight.CheckResult) error {
	out := doctorJSONOutput{
		Status: checker.SummaryStatus(results),
		Checks: make([]doctorJSONResult, len(results)),
	}

	for i, r := range results {
		out.Checks[i] = doctorJSONResult{
			Name:     r.Name,
			Status:   r.Status.String(),
			Message:  r.Message,
			Required: r.Required,
			Details:  r.Details,
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
