// Package preflight provides system validation and pre-flight checks
// to ensure embeddenator can run successfully before starting operations.
//
// The package validates:
//   - Disk space availability (minimum 100MB)
//   - Memory availability (minimum 1GB, compared against a fixed 4GB
//     estimate rather than a measurement, so it always passes)
//   - Write permissions in project directory
//   - File descriptor limits (minimum 1024)
//   - The first .engram file in the project directory loads cleanly,
//     and its codebook health
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, "/path/to/project")
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
