package cmd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/embeddenator/embeddenator/internal/codebook"
	"github.com/embeddenator/embeddenator/internal/config"
	"github.com/embeddenator/embeddenator/internal/daemon"
	"github.com/embeddenator/embeddenator/internal/engram"
	"github.com/embeddenator/embeddenator/internal/errorsx"
	"github.com/embeddenator/embeddenator/internal/hierarchy"
	"github.com/embeddenator/embeddenator/internal/manifest"
	"github.com/embeddenator/embeddenator/internal/output"
)

func newBundleHierCmd() *cobra.Command {
	var engramFlag string
	var name string
	var maxChunksPerNode int

	cmd := &cobra.Command{
		Use:   "bundle-hier",
		Short: "Rebuild a flat engram into a hierarchical one",
		Long: `bundle-hier groups an existing flat engram's chunks by
containing directory, bundles each directory into a node (splitting
oversized directories into zero-padded router/shard sub-engrams), and
bundles every directory node into a new root vector.

The result is written alongside the input as <name>.engram (now
carrying a hierarchical manifest) plus a <name>.artifacts/ directory
holding one sub-engram per router shard.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runBundleHier(cmd, engramFlag, name, maxChunksPerNode)
		},
	}

	cmd.Flags().StringVar(&engramFlag, "engram", "", "Path to the input flat .engram file (required)")
	cmd.Flags().StringVar(&name, "name", "", "Output basename (default: derived from --engram)")
	cmd.Flags().IntVar(&maxChunksPerNode, "max-chunks-per-node", 0, "Override hierarchy.max_chunks_per_node (0: use config)")
	_ = cmd.MarkFlagRequired("engram")

	return cmd
}

func runBundleHier(cmd *cobra.Command, engramPath, name string, maxChunksPerNode int) error {
	out := output.New(cmd.OutOrStdout())
	workDir, err := os.Getwd()
	if err != nil {
		return errorsx.IoError("failed to determine working directory", err)
	}
	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if maxChunksPerNode <= 0 {
		maxChunksPerNode = cfg.EffectiveMaxChunksPerNode()
	}

	e, err := engram.Load(engramPath, cfg.VSA.Dimension, cfg.VSA.TargetNonzero, cfg.Performance.CacheSize)
	if err != nil {
		return err
	}
	if e.ManifestKind != engram.ManifestKindFlat {
		return errorsx.New(errorsx.KindInvalidManifestVersion, "bundle-hier requires a flat input engram", nil)
	}
	flat, err := manifest.UnmarshalFlat(e.ManifestBytes)
	if err != nil {
		return err
	}

	result, err := hierarchy.Build(flat, e.Codebook, hierarchy.Config{
		Dimension:        e.Dimension,
		TargetNonzero:    e.TargetNonzero,
		MaxChunksPerNode: maxChunksPerNode,
		RootPath:         workDir,
	})
	if err != nil {
		return err
	}

	if name == "" {
		name = engramName([]string{engramPath})
	}
	outPath, manifestPath, artifactsDir := engramPaths(workDir, name)

	lock := daemon.NewEngramLock(outPath)
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	shardCount := 0
	for _, node := range result.Nodes {
		if !node.IsRouter {
			continue
		}
		if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
			return errorsx.IoError("failed to create artifacts directory", err)
		}
		for _, shard := range node.Shards {
			shardPath := filepath.Join(artifactsDir, shard.Name+".engram")
			hash, err := writeShardEngram(shardPath, shard, e.Codebook, e.Dimension, e.TargetNonzero, cfg.Performance.CacheSize)
			if err != nil {
				return err
			}
			result.Manifest.AddSubEngram(node.DirPath+"/"+shard.Name, manifest.SubEngramRef{
				ArtifactFile: shard.Name + ".engram",
				Hash:         hash,
			})
			shardCount++
		}
	}

	manifestBytes, err := result.Manifest.MarshalSorted()
	if err != nil {
		return err
	}

	hierEngram := &engram.Engram{
		Dimension:     e.Dimension,
		TargetNonzero: e.TargetNonzero,
		Root:          result.Root,
		Codebook:      e.Codebook,
		ManifestKind:  engram.ManifestKindHierarchical,
		ManifestBytes: manifestBytes,
	}
	if err := hierEngram.Save(outPath); err != nil {
		return err
	}
	if err := os.WriteFile(manifestPath, manifestBytes, 0o644); err != nil {
		return errorsx.IoError("failed to write manifest file", err)
	}

	out.Success(fmt.Sprintf("bundled %d node(s), %d shard(s) into %s", len(result.Nodes), shardCount, outPath))
	return nil
}

// writeShardEngram materializes one router shard as a standalone flat
// engram: a fresh codebook holding only the shard's chunk bytes (so
// chunk-ids are local to the shard, as internal/retrieval's
// SubEngramLoader expects) and a flat manifest grouping the shard's
// members back under their owning file paths.
func writeShardEngram(path string, shard hierarchy.Shard, src *codebook.Store, dim, targetNonzero, cacheSize int) (string, error) {
	sub, err := codebook.New(codebook.Config{Dimension: dim, TargetNonzero: targetNonzero, CacheSize: cacheSize})
	if err != nil {
		return "", err
	}

	order := make([]string, 0)
	chunksByFile := make(map[string][]uint64)

	for _, mem := range shard.Members {
		raw, err := src.Lookup(mem.ChunkID)
		if err != nil {
			return "", err
		}
		localID, err := sub.Insert(raw)
		if err != nil {
			return "", err
		}
		if _, seen := chunksByFile[mem.FilePath]; !seen {
			order = append(order, mem.FilePath)
		}
		chunksByFile[mem.FilePath] = append(chunksByFile[mem.FilePath], localID)
	}

	subManifest := manifest.NewFlat()
	for _, filePath := range order {
		subManifest.AddFile(manifest.FileEntry{Path: filePath, ChunkIDs: chunksByFile[filePath]})
	}
	manifestBytes, err := subManifest.MarshalSorted()
	if err != nil {
		return "", err
	}

	subEngram := &engram.Engram{
		Dimension:     dim,
		TargetNonzero: targetNonzero,
		Root:          shard.Vector,
		Codebook:      sub,
		ManifestKind:  engram.ManifestKindFlat,
		ManifestBytes: manifestBytes,
	}
	if err := subEngram.Save(path); err != nil {
		return "", err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", errorsx.IoError("failed to read back shard engram for hashing", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
