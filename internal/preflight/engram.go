package preflight

import (
	"fmt"
	"path/filepath"

	"github.com/embeddenator/embeddenator/internal/config"
	"github.com/embeddenator/embeddenator/internal/engram"
)

// CheckEngramFiles looks for .engram files under projectPath and loads
// the first one found to confirm its footer checksum and manifest
// round-trip cleanly.
func (c *Checker) CheckEngramFiles(projectPath string) CheckResult {
	result := CheckResult{
		Name:     "engram_files",
		Required: false,
	}

	matches, err := filepath.Glob(filepath.Join(projectPath, "*.engram"))
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("cannot scan for engram files: %v", err)
		return result
	}
	if len(matches) == 0 {
		result.Status = StatusWarn
		result.Message = "no .engram file in this directory yet"
		result.Details = "run 'embeddenator ingest' to create one"
		return result
	}

	cfg, err := config.Load(projectPath)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("cannot load config: %v", err)
		return result
	}

	e, err := engram.Load(matches[0], cfg.VSA.Dimension, cfg.VSA.TargetNonzero, cfg.Performance.CacheSize)
	if err != nil {
		result.Status = StatusFail
		result.Required = true
		result.Message = fmt.Sprintf("failed to load %s: %v", filepath.Base(matches[0]), err)
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d engram(s) found, %s loads cleanly (dimension=%d)", len(matches), filepath.Base(matches[0]), e.Dimension)
	return result
}

// CheckCodebookHealth reports the fraction of tombstoned entries in the
// first loadable engram under projectPath, suggesting compaction once
// the dead fraction grows large.
func (c *Checker) CheckCodebookHealth(projectPath string) CheckResult {
	result := CheckResult{
		Name:     "codebook_health",
		Required: false,
	}

	matches, err := filepath.Glob(filepath.Join(projectPath, "*.engram"))
	if err != nil || len(matches) == 0 {
		result.Status = StatusWarn
		result.Message = "skipped (no engram to inspect)"
		return result
	}

	cfg, err := config.Load(projectPath)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("skipped: %v", err)
		return result
	}

	e, err := engram.Load(matches[0], cfg.VSA.Dimension, cfg.VSA.TargetNonzero, cfg.Performance.CacheSize)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("skipped: %v", err)
		return result
	}

	total := e.Codebook.Len()
	if total == 0 {
		result.Status = StatusPass
		result.Message = "codebook empty"
		return result
	}
	active := e.Codebook.ActiveCount()
	deadFraction := float64(total-active) / float64(total)

	if deadFraction > 0.3 {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%.0f%% of chunks tombstoned, consider 'embeddenator update compact'", deadFraction*100)
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d/%d chunks active", active, total)
	return result
}
