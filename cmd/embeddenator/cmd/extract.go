package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/embeddenator/embeddenator/internal/config"
	"github.com/embeddenator/embeddenator/internal/engram"
	"github.com/embeddenator/embeddenator/internal/errorsx"
	"github.com/embeddenator/embeddenator/internal/manifest"
)

func newExtractCmd() *cobra.Command {
	var engramFlag string
	var out string
	var outDir string

	cmd := &cobra.Command{
		Use:   "extract [path]",
		Short: "Reconstruct stored file(s), bit-exact, from an engram",
		Long: `extract concatenates the raw bytes of every chunk belonging to
path, in chunk order, and reproduces the file exactly as it was
ingested. path is the logical manifest path (namespace-prefixed, if
ingest assigned one), not a filesystem path relative to cwd.

With --out-dir instead of a path argument, extract reconstructs every
live (non-deleted) file named in the engram's manifest into outDir,
recreating the manifest's directory tree underneath it — the bulk
engram+manifest+output-directory → files operation (spec.md §6).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if outDir != "" {
				if len(args) != 0 {
					return errUsage("a path argument and --out-dir are mutually exclusive")
				}
				return runExtractAll(cmd, engramFlag, outDir)
			}
			if len(args) != 1 {
				return errUsage("extract requires either a path argument or --out-dir")
			}
			return runExtract(cmd, args[0], engramFlag, out)
		},
	}

	cmd.Flags().StringVar(&engramFlag, "engram", "", "Path to the .engram file (required)")
	cmd.Flags().StringVar(&out, "out", "", "Write reconstructed bytes to this file instead of stdout")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "Reconstruct every live file into this directory instead of a single path")
	_ = cmd.MarkFlagRequired("engram")

	return cmd
}

func runExtract(cmd *cobra.Command, logicalPath, engramPath, out string) error {
	e, err := loadEngramForExtract(engramPath)
	if err != nil {
		return err
	}

	entry, err := findEntry(e, logicalPath)
	if err != nil {
		return err
	}
	if entry.Deleted {
		return errorsx.New(errorsx.KindNotFound, "path has been deleted from this engram", nil).
			WithDetail("path", logicalPath)
	}

	data, err := reconstructEntry(e, entry)
	if err != nil {
		return err
	}

	if out == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return errorsx.IoError("failed to write reconstructed file", err)
	}
	return nil
}

// runExtractAll reconstructs every live entry in e's flat manifest
// into outDir, recreating the path each entry names underneath it
// (spec.md §6's bulk extract operation). Hierarchical engrams aren't
// supported here for the same reason single-path extract rejects
// them: a hierarchical node's manifest entry aggregates a whole
// directory's chunks, not one file's, so there's no per-file
// boundary to reconstruct from it directly.
func runExtractAll(cmd *cobra.Command, engramPath, outDir string) error {
	e, err := loadEngramForExtract(engramPath)
	if err != nil {
		return err
	}
	if e.ManifestKind != engram.ManifestKindFlat {
		return errorsx.New(errorsx.KindInvalidManifestVersion,
			"extract --out-dir only supports flat manifests; bundle-hier output has no per-file chunk boundary to extract", nil)
	}

	m, err := manifest.UnmarshalFlat(e.ManifestBytes)
	if err != nil {
		return err
	}

	written := 0
	for _, entry := range m.Files {
		if entry.Deleted {
			continue
		}
		data, err := reconstructEntry(e, &entry)
		if err != nil {
			return err
		}

		dest := filepath.Join(outDir, filepath.FromSlash(entry.Path))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return errorsx.IoError("failed to create output directory", err).WithDetail("path", entry.Path)
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return errorsx.IoError("failed to write reconstructed file", err).WithDetail("path", entry.Path)
		}
		written++
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "extracted %d file(s) to %s\n", written, outDir)
	return err
}

func loadEngramForExtract(engramPath string) (*engram.Engram, error) {
	workDir, err := os.Getwd()
	if err != nil {
		return nil, errorsx.IoError("failed to determine working directory", err)
	}
	cfg, err := config.Load(workDir)
	if err != nil {
		return nil, err
	}
	return engram.Load(engramPath, cfg.VSA.Dimension, cfg.VSA.TargetNonzero, cfg.Performance.CacheSize)
}

// reconstructEntry concatenates entry's chunks in order and verifies
// the result's length against the manifest's recorded size.
func reconstructEntry(e *engram.Engram, entry *manifest.FileEntry) ([]byte, error) {
	data := make([]byte, 0, entry.Size)
	for _, chunkID := range entry.ChunkIDs {
		b, err := e.Codebook.Lookup(chunkID)
		if err != nil {
			return nil, errorsx.Wrap(errorsx.KindChunkNotFound, err).WithDetail("path", entry.Path)
		}
		data = append(data, b...)
	}

	if int64(len(data)) != entry.Size {
		return nil, errorsx.New(errorsx.KindIntegrityCheckFailed, "reconstructed size does not match manifest size", nil).
			WithDetail("path", entry.Path).
			WithDetail("expected", fmt.Sprintf("%d", entry.Size)).
			WithDetail("got", fmt.Sprintf("%d", len(data)))
	}
	return data, nil
}

// findEntry loads the flat manifest embedded in e and locates
// logicalPath. Any other manifest kind is rejected with
// KindInvalidManifestVersion; hierarchical containers are not searched.
func findEntry(e *engram.Engram, logicalPath string) (*manifest.FileEntry, error) {
	switch e.ManifestKind {
	case engram.ManifestKindFlat:
		m, err := manifest.UnmarshalFlat(e.ManifestBytes)
		if err != nil {
			return nil, err
		}
		entry := m.Find(logicalPath)
		if entry == nil {
			return nil, errorsx.New(errorsx.KindChunkNotFound, "path not found in manifest", nil).
				WithDetail("path", logicalPath)
		}
		return entry, nil
	default:
		return nil, errorsx.New(errorsx.KindInvalidManifestVersion,
			"extract only supports flat manifests directly; extract from the owning sub-engram for hierarchical outputs", nil)
	}
}
