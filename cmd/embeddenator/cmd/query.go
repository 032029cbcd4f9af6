package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/embeddenator/embeddenator/internal/config"
	"github.com/embeddenator/embeddenator/internal/daemon"
	"github.com/embeddenator/embeddenator/internal/engram"
	"github.com/embeddenator/embeddenator/internal/errorsx"
	"github.com/embeddenator/embeddenator/internal/manifest"
	"github.com/embeddenator/embeddenator/internal/retrieval"
	"github.com/embeddenator/embeddenator/internal/vsa"
)

func newQueryCmd() *cobra.Command {
	var engramFlag string
	var text string
	var file string
	var topK int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Find the chunks closest to a text or file query",
		Long: `query derives a content-vector from --text or the bytes of
--file the same way ingest derives one for every stored chunk, then
runs the inverted index's bucket-shift sweep against the engram's
codebook and reranks the survivors by exact cosine similarity.

If embeddenator serve is running against this engram, the query is
routed through the daemon so the index is not rebuilt on every
invocation; otherwise a fresh index is built in-process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runQuery(cmd, engramFlag, text, file, topK, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&engramFlag, "engram", "", "Path to the .engram file (required)")
	cmd.Flags().StringVar(&text, "text", "", "Query text")
	cmd.Flags().StringVar(&file, "file", "", "Query using this file's bytes instead of --text")
	cmd.Flags().IntVar(&topK, "top-k", 10, "Number of results to return")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	_ = cmd.MarkFlagRequired("engram")

	return cmd
}

func runQuery(cmd *cobra.Command, engramPath, text, file string, topK int, jsonOutput bool) error {
	if text == "" && file == "" {
		return errUsage("one of --text or --file is required")
	}

	var content []byte
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return errorsx.IoError("failed to read query file", err)
		}
		content = b
	} else {
		content = []byte(text)
	}

	// Route plain text queries through a running daemon when available,
	// so repeated CLI queries against the same engram reuse its
	// resident index instead of paying an O(codebook) rebuild each time.
	if file == "" {
		if matches, ok, err := tryDaemonQuery(cmd, engramPath, text, topK); err != nil {
			return err
		} else if ok {
			return renderQueryMatches(cmd, matches, jsonOutput)
		}
	}

	return runDirectQuery(cmd, engramPath, content, topK, jsonOutput)
}

func tryDaemonQuery(cmd *cobra.Command, engramPath, text string, topK int) ([]daemon.QueryMatch, bool, error) {
	client := daemon.NewClient(daemon.DefaultConfig())
	if !client.IsRunning() {
		return nil, false, nil
	}

	result, err := client.Query(cmd.Context(), daemon.QueryParams{
		EngramPath: engramPath,
		QueryText:  text,
		TopK:       topK,
	})
	if err != nil {
		return nil, false, err
	}
	return result.Matches, true, nil
}

func runDirectQuery(cmd *cobra.Command, engramPath string, content []byte, topK int, jsonOutput bool) error {
	workDir, err := os.Getwd()
	if err != nil {
		return errorsx.IoError("failed to determine working directory", err)
	}
	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}

	e, err := engram.Load(engramPath, cfg.VSA.Dimension, cfg.VSA.TargetNonzero, cfg.Performance.CacheSize)
	if err != nil {
		return err
	}
	if e.ManifestKind != engram.ManifestKindFlat {
		return errorsx.New(errorsx.KindInvalidManifestVersion,
			"query only supports flat engrams directly; hierarchical engrams query through QueryHierarchical", nil)
	}
	m, err := manifest.UnmarshalFlat(e.ManifestBytes)
	if err != nil {
		return err
	}

	idx, err := retrieval.BuildIndex(e.Codebook, e.Dimension, retrieval.Config{
		ShiftWidth:        cfg.Retrieval.ShiftWidth,
		CandidatePoolSize: cfg.Retrieval.CandidatePoolSize,
	})
	if err != nil {
		return err
	}

	if topK <= 0 {
		topK = cfg.Retrieval.DefaultTopK
	}
	query := vsa.EncodeContent(content, e.Dimension, e.TargetNonzero)
	results, err := retrieval.Query(idx, query, e.Codebook, topK)
	if err != nil {
		return err
	}

	matches := make([]daemon.QueryMatch, 0, len(results))
	for _, r := range results {
		path, _ := filePathForChunk(m, r.ChunkID)
		matches = append(matches, daemon.QueryMatch{
			Path:    path,
			ChunkID: fmt.Sprintf("%d", r.ChunkID),
			Score:   r.Score,
		})
	}

	return renderQueryMatches(cmd, matches, jsonOutput)
}

// filePathForChunk linear-scans m for the file entry owning chunkID,
// mirroring the daemon's own resolution (internal/daemon pairs chunk
// ids with paths the same way; the manifest carries no reverse
// index since lookups are infrequent relative to ingest's build cost).
func filePathForChunk(m *manifest.FlatManifest, chunkID uint64) (string, bool) {
	for _, f := range m.Files {
		for _, id := range f.ChunkIDs {
			if id == chunkID {
				return f.Path, true
			}
		}
	}
	return "", false
}

func renderQueryMatches(cmd *cobra.Command, matches []daemon.QueryMatch, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(matches)
	}

	w := cmd.OutOrStdout()
	if len(matches) == 0 {
		fmt.Fprintln(w, "no matches")
		return nil
	}
	for i, m := range matches {
		fmt.Fprintf(w, "%2d. %.4f  %s (chunk %s)\n", i+1, m.Score, m.Path, m.ChunkID)
	}
	return nil
}
