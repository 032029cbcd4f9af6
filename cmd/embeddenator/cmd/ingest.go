package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/embeddenator/embeddenator/internal/config"
	"github.com/embeddenator/embeddenator/internal/daemon"
	"github.com/embeddenator/embeddenator/internal/engram"
	"github.com/embeddenator/embeddenator/internal/errorsx"
	"github.com/embeddenator/embeddenator/internal/ingest"
	"github.com/embeddenator/embeddenator/internal/output"
	"github.com/embeddenator/embeddenator/internal/ui"
)

func newIngestCmd() *cobra.Command {
	var dir string
	var name string
	var excludeFlag string
	var includeFlag string
	var plain bool

	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Build a flat engram from one or more input paths",
		Long: `ingest scans each input path (honoring .gitignore), splits every
file into fixed-size chunks, derives an id-vector and a content-vector
for each chunk, inserts the chunks into a fresh codebook, and bundles
every id-vector into the engram's root vector.

Two or more inputs each get a namespace prefix derived from their
basename so that a later query can tell which input a match came
from; a single input is not prefixed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runIngest(cmd, args, dir, name, excludeFlag, includeFlag, plain)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Working directory for engram artifacts (default: current directory)")
	cmd.Flags().StringVar(&name, "name", "", "Engram basename (default: derived from the first input)")
	cmd.Flags().StringVar(&excludeFlag, "exclude", "", "Comma-separated extra exclude globs")
	cmd.Flags().StringVar(&includeFlag, "include", "", "Comma-separated include globs")
	cmd.Flags().BoolVar(&plain, "plain", false, "Force plain text progress output")

	return cmd
}

func runIngest(cmd *cobra.Command, inputs []string, dir, name, excludeFlag, includeFlag string, plain bool) error {
	ctx := cmd.Context()
	out := output.New(cmd.OutOrStdout())

	workDir := dir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return errorsx.IoError("failed to determine working directory", err)
		}
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}
	cfg.Paths.Exclude = append(cfg.Paths.Exclude, splitFlagList(excludeFlag)...)
	cfg.Paths.Include = append(cfg.Paths.Include, splitFlagList(includeFlag)...)

	if name == "" {
		name = engramName(inputs)
	}
	engramPath, manifestPath, _ := engramPaths(workDir, name)

	lock := daemon.NewEngramLock(engramPath)
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(), ui.WithForcePlain(plain), ui.WithProjectDir(workDir)))
	if err := renderer.Start(ctx); err != nil {
		return errorsx.InternalError("failed to start progress renderer", err)
	}

	start := time.Now()
	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageScanning, Message: fmt.Sprintf("scanning %d input(s)", len(inputs))})

	result, err := ingest.Paths(ctx, inputs, ingest.Config{
		Dimension:     cfg.VSA.Dimension,
		TargetNonzero: cfg.VSA.TargetNonzero,
		ChunkSize:     cfg.Chunking.ChunkSize,
		Workers:       cfg.Performance.IndexWorkers,
		CacheSize:     cfg.Performance.CacheSize,
		ScanOptions:   scanOptionsFrom(cfg),
	})
	if err != nil {
		renderer.Stop()
		return err
	}

	manifestBytes, err := result.Manifest.MarshalSorted()
	if err != nil {
		renderer.Stop()
		return err
	}

	e := &engram.Engram{
		Dimension:     cfg.VSA.Dimension,
		TargetNonzero: cfg.VSA.TargetNonzero,
		Root:          result.Root,
		Codebook:      result.Codebook,
		ManifestKind:  engram.ManifestKindFlat,
		ManifestBytes: manifestBytes,
	}
	if err := e.Save(engramPath); err != nil {
		renderer.Stop()
		return err
	}
	if err := os.WriteFile(manifestPath, manifestBytes, 0o644); err != nil {
		renderer.Stop()
		return errorsx.IoError("failed to write manifest file", err)
	}

	chunkCount := 0
	for _, f := range result.Manifest.Files {
		chunkCount += len(f.ChunkIDs)
	}

	renderer.Complete(ui.CompletionStats{
		Files:    len(result.Manifest.Files),
		Chunks:   chunkCount,
		Duration: time.Since(start),
		Engram:   ui.EngramInfo{Dimension: e.Dimension, TargetNonzero: e.TargetNonzero},
	})
	renderer.Stop()

	out.Success(fmt.Sprintf("ingested %d file(s) into %s", len(result.Manifest.Files), engramPath))
	return nil
}
