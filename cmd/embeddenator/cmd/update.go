package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"strings"

	"github.com/embeddenator/embeddenator/internal/config"
	"github.com/embeddenator/embeddenator/internal/daemon"
	"github.com/embeddenator/embeddenator/internal/engram"
	"github.com/embeddenator/embeddenator/internal/errorsx"
	"github.com/embeddenator/embeddenator/internal/manifest"
	"github.com/embeddenator/embeddenator/internal/output"
	updatepkg "github.com/embeddenator/embeddenator/internal/update"
)

func newUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Apply an incremental mutation to an existing engram",
	}

	cmd.AddCommand(newUpdateAddCmd())
	cmd.AddCommand(newUpdateRemoveCmd())
	cmd.AddCommand(newUpdateModifyCmd())
	cmd.AddCommand(newUpdateCompactCmd())

	return cmd
}

func newUpdateAddCmd() *cobra.Command {
	var engramFlag string
	cmd := &cobra.Command{
		Use:   "add <path> <file>",
		Short: "Chunk and bundle a new file's bytes into the engram",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runUpdateMutate(cmd, engramFlag, daemon.UpdateOpAdd, args[0], args[1])
		},
	}
	cmd.Flags().StringVar(&engramFlag, "engram", "", "Path to the .engram file (required)")
	_ = cmd.MarkFlagRequired("engram")
	return cmd
}

func newUpdateRemoveCmd() *cobra.Command {
	var engramFlag string
	cmd := &cobra.Command{
		Use:   "remove <path>",
		Short: "Soft-delete a file's manifest entry without touching the codebook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runUpdateMutate(cmd, engramFlag, daemon.UpdateOpRemove, args[0], "")
		},
	}
	cmd.Flags().StringVar(&engramFlag, "engram", "", "Path to the .engram file (required)")
	_ = cmd.MarkFlagRequired("engram")
	return cmd
}

func newUpdateModifyCmd() *cobra.Command {
	var engramFlag string
	cmd := &cobra.Command{
		Use:   "modify <path> <file>",
		Short: "Replace a file entry's chunks in place with new content",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runUpdateMutate(cmd, engramFlag, daemon.UpdateOpModify, args[0], args[1])
		},
	}
	cmd.Flags().StringVar(&engramFlag, "engram", "", "Path to the .engram file (required)")
	_ = cmd.MarkFlagRequired("engram")
	return cmd
}

func newUpdateCompactCmd() *cobra.Command {
	var engramFlag string
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Reclaim tombstoned codebook entries into a fresh engram",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runUpdateCompact(cmd, engramFlag)
		},
	}
	cmd.Flags().StringVar(&engramFlag, "engram", "", "Path to the .engram file (required)")
	_ = cmd.MarkFlagRequired("engram")
	return cmd
}

func runUpdateMutate(cmd *cobra.Command, engramPath string, op daemon.UpdateOp, path, contentFile string) error {
	out := output.New(cmd.OutOrStdout())

	var content []byte
	if contentFile != "" {
		b, err := os.ReadFile(contentFile)
		if err != nil {
			return errorsx.IoError("failed to read content file", err)
		}
		content = b
	}

	if client := daemon.NewClient(daemon.DefaultConfig()); client.IsRunning() {
		result, err := client.Update(cmd.Context(), daemon.UpdateParams{
			EngramPath: engramPath,
			Op:         op,
			Path:       path,
			Content:    content,
		})
		if err != nil {
			return err
		}
		out.Success(fmt.Sprintf("%s %s (mutated=%v)", op, path, result.Mutated))
		return nil
	}

	return runUpdateMutateDirect(cmd.Context(), out, engramPath, op, path, content)
}

func runUpdateMutateDirect(ctx context.Context, out *output.Writer, engramPath string, op daemon.UpdateOp, path string, content []byte) error {
	workDir, err := os.Getwd()
	if err != nil {
		return errorsx.IoError("failed to determine working directory", err)
	}
	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}

	lock := daemon.NewEngramLock(engramPath)
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	handle, e, err := openUpdateHandle(engramPath, cfg)
	if err != nil {
		return err
	}

	switch op {
	case daemon.UpdateOpAdd:
		err = handle.AddFile(path, content)
	case daemon.UpdateOpRemove:
		err = handle.RemoveFile(path)
	case daemon.UpdateOpModify:
		err = handle.ModifyFile(path, content)
	default:
		return errUsage("unknown update op %q", op)
	}
	if err != nil {
		return err
	}

	if err := persistHandle(handle, e, engramPath, workDir); err != nil {
		return err
	}

	out.Success(fmt.Sprintf("%s %s", op, path))
	return nil
}

func runUpdateCompact(cmd *cobra.Command, engramPath string) error {
	out := output.New(cmd.OutOrStdout())

	if client := daemon.NewClient(daemon.DefaultConfig()); client.IsRunning() {
		result, err := client.Compact(cmd.Context(), daemon.CompactParams{EngramPath: engramPath})
		if err != nil {
			return err
		}
		out.Success(fmt.Sprintf("compacted %s (%d chunk(s) reclaimed)", engramPath, result.ChunksReclaimed))
		return nil
	}

	workDir, err := os.Getwd()
	if err != nil {
		return errorsx.IoError("failed to determine working directory", err)
	}
	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}

	lock := daemon.NewEngramLock(engramPath)
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	handle, e, err := openUpdateHandle(engramPath, cfg)
	if err != nil {
		return err
	}

	before := handle.Codebook.Len()
	compacted, err := handle.Compact(cmd.Context())
	if err != nil {
		return err
	}
	reclaimed := before - compacted.Codebook.Len()

	if err := persistHandle(compacted, e, engramPath, workDir); err != nil {
		return err
	}

	out.Success(fmt.Sprintf("compacted %s (%d chunk(s) reclaimed)", engramPath, reclaimed))
	return nil
}

// openUpdateHandle loads engramPath and wraps its root/codebook/
// manifest triple for incremental mutation.
func openUpdateHandle(engramPath string, cfg *config.Config) (*updatepkg.Handle, *engram.Engram, error) {
	e, err := engram.Load(engramPath, cfg.VSA.Dimension, cfg.VSA.TargetNonzero, cfg.Performance.CacheSize)
	if err != nil {
		return nil, nil, err
	}
	if e.ManifestKind != engram.ManifestKindFlat {
		return nil, nil, errorsx.New(errorsx.KindInvalidManifestVersion, "update requires a flat engram", nil)
	}
	m, err := manifest.UnmarshalFlat(e.ManifestBytes)
	if err != nil {
		return nil, nil, err
	}

	handle := updatepkg.Open(updatepkg.Config{
		Dimension:     e.Dimension,
		TargetNonzero: e.TargetNonzero,
		ChunkSize:     cfg.Chunking.ChunkSize,
		CacheSize:     cfg.Performance.CacheSize,
	}, e.Root, e.Codebook, m)

	return handle, e, nil
}

// persistHandle writes handle's current state back to engramPath and
// its sibling manifest file.
func persistHandle(handle *updatepkg.Handle, e *engram.Engram, engramPath, _ string) error {
	manifestBytes, err := handle.Manifest.MarshalSorted()
	if err != nil {
		return err
	}

	out := &engram.Engram{
		Dimension:     e.Dimension,
		TargetNonzero: e.TargetNonzero,
		Root:          handle.Root,
		Codebook:      handle.Codebook,
		ManifestKind:  engram.ManifestKindFlat,
		ManifestBytes: manifestBytes,
	}
	if err := out.Save(engramPath); err != nil {
		return err
	}

	manifestPath := strings.TrimSuffix(engramPath, ".engram") + "-manifest.json"
	return os.WriteFile(manifestPath, manifestBytes, 0o644)
}
